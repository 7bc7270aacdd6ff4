// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage provides implementation contracts and notions
// used across storage-aware components of the relay.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openherd/relay/pkg/post"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrInvalidPost = errors.New("storage: invalid post")
)

// Backend names a Store implementation.
type Backend string

const (
	// BackendFile stores every post in its own file named by the post id.
	BackendFile Backend = "file"
	// BackendLevelDB stores posts in an embedded key-value database.
	BackendLevelDB Backend = "leveldb"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case BackendFile, BackendLevelDB:
		return b, nil
	}
	return "", fmt.Errorf("unknown storage backend %q", s)
}

// Store is a mapping from post identifier to post. Writing an existing
// identifier overwrites the stored post. Implementations must guarantee that
// a concurrent reader never observes a partially written post.
type Store interface {
	// Save persists the post under its identifier.
	Save(ctx context.Context, p post.Post) error
	// Iterate calls fn for stored posts in a stable order, skipping the
	// first offset posts and stopping after limit posts. A negative limit
	// means no limit. Posts are read one at a time and entries that can not
	// be read are skipped.
	Iterate(offset, limit int, fn IterateFunc) error
	// Count returns the number of stored posts.
	Count() (int, error)
	io.Closer
}

// IterateFunc is called for every post visited by Store.Iterate. Returning
// true stops the iteration.
type IterateFunc func(p post.Post) (stop bool, err error)

// ValidatePost checks that the post can be stored.
func ValidatePost(p post.Post) error {
	if err := post.ValidateID(p.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPost, err)
	}
	return CheckData(p.Data)
}

// CheckData reports whether stored bytes hold a complete JSON object.
// Entries that fail the check are skipped when reading.
func CheckData(data []byte) error {
	b := bytes.TrimLeft(data, " \t\r\n")
	if len(b) == 0 {
		return fmt.Errorf("%w: empty data", ErrInvalidPost)
	}
	if b[0] != '{' || !json.Valid(b) {
		return fmt.Errorf("%w: not a json object", ErrInvalidPost)
	}
	return nil
}

// List returns a window of stored posts. It is a convenience for callers
// that need the posts in memory, such as small pages and tests.
func List(s Store, offset, limit int) (posts []post.Post, err error) {
	err = s.Iterate(offset, limit, func(p post.Post) (bool, error) {
		posts = append(posts, p)
		return false, nil
	})
	return posts, err
}
