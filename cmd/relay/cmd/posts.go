// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/node"
	"github.com/openherd/relay/pkg/post"
	"github.com/openherd/relay/pkg/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func (c *command) initPostsCmd() {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Inspect and transfer stored posts",
	}
	cmd.PersistentFlags().String(optionNameDataDir, c.defaultDataDir(), "data directory")
	cmd.PersistentFlags().String(optionNameStoreBackend, string(storage.BackendFile), "post storage backend, file or leveldb")

	bind := func(cmd *cobra.Command, args []string) error {
		return c.config.BindPFlags(cmd.Flags())
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "count",
		Short:   "Print the number of stored posts",
		Args:    cobra.NoArgs,
		PreRunE: bind,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			return c.withStore(cmd, func(s storage.Store) error {
				n, err := s.Count()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "export",
		Short:   "Write all stored posts as a JSON array",
		Args:    cobra.NoArgs,
		PreRunE: bind,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			return c.withStore(cmd, func(s storage.Store) error {
				return exportPosts(cmd, s)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "import <file>",
		Short:   "Store posts from a file with a JSON array, - reads standard input",
		Args:    cobra.ExactArgs(1),
		PreRunE: bind,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			data, err := readImport(cmd, args[0])
			if err != nil {
				return err
			}
			var elements []json.RawMessage
			if err := json.Unmarshal(data, &elements); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return c.withStore(cmd, func(s storage.Store) error {
				var imported, skipped int
				for i, raw := range elements {
					p, err := post.Parse(raw)
					if err == nil {
						err = s.Save(cmd.Context(), p)
					}
					if err != nil {
						cmd.PrintErrf("element %d: %v\n", i, err)
						skipped++
						continue
					}
					imported++
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", imported, skipped)
				return err
			})
		},
	})

	c.root.AddCommand(cmd)
}

func (c *command) withStore(cmd *cobra.Command, f func(s storage.Store) error) (err error) {
	dataDir := c.config.GetString(optionNameDataDir)
	if dataDir == "" {
		return errors.New("data directory is required")
	}
	backend, err := storage.ParseBackend(c.config.GetString(optionNameStoreBackend))
	if err != nil {
		return err
	}
	logger := logging.New(cmd.ErrOrStderr(), logrus.ErrorLevel)

	s, err := node.OpenStore(logger, dataDir, backend)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return f(s)
}

func exportPosts(cmd *cobra.Command, s storage.Store) error {
	w := bufio.NewWriter(cmd.OutOrStdout())
	if _, err := w.WriteString("["); err != nil {
		return err
	}
	var n int
	if err := s.Iterate(0, -1, func(p post.Post) (bool, error) {
		if n > 0 {
			if err := w.WriteByte(','); err != nil {
				return true, err
			}
		}
		n++
		_, err := w.Write(p.Data)
		return false, err
	}); err != nil {
		return err
	}
	if _, err := w.WriteString("]\n"); err != nil {
		return err
	}
	return w.Flush()
}

func readImport(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return afero.ReadFile(afero.NewOsFs(), name)
}
