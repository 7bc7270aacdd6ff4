// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filestore implements storage.Store by keeping every post in its
// own file, named by the post identifier, inside a single directory.
//
// Writes go to a temporary file in the same directory which is renamed onto
// the final name once it is complete, so readers never see partial posts.
// Enumeration is a directory listing read in small chunks; there is no index.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/post"
	"github.com/openherd/relay/pkg/storage"
)

const (
	tmpPrefix    = ".tmp-"
	readDirChunk = 64
)

var _ storage.Store = (*Store)(nil)

// Store is a file per post storage.Store.
type Store struct {
	fs      afero.Fs
	dir     string
	logger  logging.Logger
	metrics metrics
}

// New returns a Store keeping posts in the dir directory of the provided
// filesystem. The directory is created if it does not exist and leftovers of
// interrupted writes are removed.
func New(fs afero.Fs, dir string, logger logging.Logger) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create posts directory: %w", err)
	}

	s := &Store{
		fs:      fs,
		dir:     dir,
		logger:  logger,
		metrics: newMetrics(),
	}

	if err := s.removeTemporary(); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes the post to a temporary file and renames it onto the post
// identifier, replacing any previous post with the same identifier.
func (s *Store) Save(ctx context.Context, p post.Post) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidatePost(p); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			s.metrics.SaveErrors.Inc()
		}
	}()

	f, err := afero.TempFile(s.fs, s.dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = s.fs.Remove(tmp)
		}
	}()

	if _, err = f.Write(p.Data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write post %s: %w", p.ID, err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync post %s: %w", p.ID, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close post %s: %w", p.ID, err)
	}
	if err = s.fs.Rename(tmp, filepath.Join(s.dir, p.ID)); err != nil {
		return fmt.Errorf("rename post %s: %w", p.ID, err)
	}

	s.metrics.SavedPosts.Inc()
	return nil
}

// Iterate lists the posts directory in chunks and reads the files one by
// one, up to the end of the requested window.
func (s *Store) Iterate(offset, limit int, fn storage.IterateFunc) error {
	if limit == 0 {
		return nil
	}
	if offset < 0 {
		offset = 0
	}

	d, err := s.fs.Open(s.dir)
	if err != nil {
		return fmt.Errorf("open posts directory: %w", err)
	}
	defer d.Close()

	var skipped, visited int
	for {
		names, err := d.Readdirnames(readDirChunk)
		for _, name := range names {
			if isTemporary(name) {
				continue
			}

			// unreadable entries are not part of the offset window
			p, ok := s.read(name)
			if !ok {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}

			stop, err := fn(p)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}

			visited++
			if limit > 0 && visited >= limit {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read posts directory: %w", err)
		}
		if len(names) == 0 {
			return nil
		}
	}
}

// Count returns the number of readable post files. Every file is read, so
// the count agrees with what Iterate lists.
func (s *Store) Count() (count int, err error) {
	err = s.walkNames(func(name string) error {
		if isTemporary(name) {
			return nil
		}
		if _, err := s.load(name); err == nil {
			count++
		}
		return nil
	})
	return count, err
}

// Close is a no-op, files are closed after every operation.
func (s *Store) Close() error {
	return nil
}

// read loads a single post, logging and skipping entries that can not be
// read or do not hold a json object.
func (s *Store) read(name string) (post.Post, bool) {
	data, err := s.load(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.metrics.ReadErrors.Inc()
			s.logger.Warningf("filestore: skip post %s: %v", name, err)
		}
		return post.Post{}, false
	}
	return post.Post{ID: name, Data: data}, true
}

func (s *Store) load(name string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	if err := storage.CheckData(data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) walkNames(fn func(name string) error) error {
	d, err := s.fs.Open(s.dir)
	if err != nil {
		return fmt.Errorf("open posts directory: %w", err)
	}
	defer d.Close()

	for {
		names, err := d.Readdirnames(readDirChunk)
		for _, name := range names {
			if err := fn(name); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read posts directory: %w", err)
		}
		if len(names) == 0 {
			return nil
		}
	}
}

func (s *Store) removeTemporary() error {
	var stale []string
	if err := s.walkNames(func(name string) error {
		if isTemporary(name) {
			stale = append(stale, name)
		}
		return nil
	}); err != nil {
		return err
	}
	for _, name := range stale {
		if err := s.fs.Remove(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("remove stale temporary file: %w", err)
		}
		s.logger.Debugf("filestore: removed stale temporary file %s", name)
	}
	return nil
}

func isTemporary(name string) bool {
	return strings.HasPrefix(name, ".")
}
