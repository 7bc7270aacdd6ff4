// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openherd/relay/cmd/relay/cmd"
)

func TestStartCmd_invalidOptions(t *testing.T) {
	peersFile := filepath.Join(t.TempDir(), "peers.yaml")
	if err := os.WriteFile(peersFile, []byte("peers:\n  - ftp://peer.example\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "verbosity",
			args:    []string{"--verbosity", "loud"},
			wantErr: "unknown verbosity level",
		},
		{
			name:    "store backend",
			args:    []string{"--verbosity", "0", "--store-backend", "bolt"},
			wantErr: "bolt",
		},
		{
			name:    "peer",
			args:    []string{"--verbosity", "0", "--peer", "peer.example"},
			wantErr: "peer.example",
		},
		{
			name:    "peers file",
			args:    []string{"--verbosity", "0", "--peers-file", peersFile},
			wantErr: "ftp://peer.example",
		},
		{
			name:    "missing peers file",
			args:    []string{"--verbosity", "0", "--peers-file", peersFile + ".missing"},
			wantErr: "peers.yaml.missing",
		},
		{
			name:    "max inbox size",
			args:    []string{"--verbosity", "0", "--max-inbox-size", "0"},
			wantErr: "max-inbox-size",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var outputBuf bytes.Buffer
			args := append([]string{"start", "--data-dir", t.TempDir()}, tc.args...)
			err := newCommand(t,
				cmd.WithArgs(args...),
				cmd.WithOutput(&outputBuf),
				cmd.WithErrorOutput(&outputBuf),
			).Execute()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("got error %q, want it to contain %q", err, tc.wantErr)
			}
		})
	}
}
