// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package addressbook

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// peersFile is the layout of a static peers file:
//
//	peers:
//	  - https://relay.example.org
//	  - http://192.168.1.20:7070
type peersFile struct {
	Peers []string `yaml:"peers"`
}

// LoadPeersFile reads the peer base URLs listed in a YAML file.
func LoadPeersFile(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read peers file: %w", err)
	}

	var f peersFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse peers file %s: %w", path, err)
	}
	return f.Peers, nil
}
