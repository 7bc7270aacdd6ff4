// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package leveldbstore implements storage.Store on top of an embedded
// LevelDB database. It can replace the file per post store without changes
// to the API or the syncer.
package leveldbstore

import (
	"context"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldberr "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	ldbs "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/post"
	"github.com/openherd/relay/pkg/storage"
)

const keyPrefix = "post/"

var _ storage.Store = (*Store)(nil)

// Store uses LevelDB to store posts.
type Store struct {
	db     *leveldb.DB
	logger logging.Logger
}

// NewInMemoryStore returns a Store that keeps the database in memory.
func NewInMemoryStore(l logging.Logger) (*Store, error) {
	ldb, err := leveldb.Open(ldbs.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:     ldb,
		logger: l,
	}, nil
}

// New opens or creates a persistent post database at path. A corrupted
// database is recovered.
func New(path string, o *opt.Options, l logging.Logger) (*Store, error) {
	db, err := leveldb.OpenFile(path, o)
	if err != nil {
		if !ldberr.IsCorrupted(err) {
			return nil, err
		}

		l.Warningf("post store open failed, attempting recovery: %v", err)
		db, err = leveldb.RecoverFile(path, o)
		if err != nil {
			return nil, fmt.Errorf("post store recovery: %w", err)
		}
		l.Warning("post store recovery done")
	}

	return &Store{
		db:     db,
		logger: l,
	}, nil
}

// Save writes the post in a single Put, replacing any previous value.
func (s *Store) Save(ctx context.Context, p post.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidatePost(p); err != nil {
		return err
	}
	if err := s.db.Put(key(p.ID), p.Data, nil); err != nil {
		return fmt.Errorf("put post %s: %w", p.ID, err)
	}
	return nil
}

// Iterate walks posts in key order.
func (s *Store) Iterate(offset, limit int, fn storage.IterateFunc) error {
	if limit == 0 {
		return nil
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	var skipped, visited int
	for iter.Next() {
		id := string(iter.Key()[len(keyPrefix):])
		value := iter.Value()
		if err := storage.CheckData(value); err != nil {
			s.logger.Warningf("leveldbstore: skip post %s: %v", id, err)
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}

		stop, err := fn(post.Post{
			ID:   id,
			Data: append([]byte(nil), value...),
		})
		if err != nil {
			return err
		}
		if stop {
			break
		}

		visited++
		if limit > 0 && visited >= limit {
			break
		}
	}
	return iter.Error()
}

// Count returns the number of stored posts.
func (s *Store) Count() (count int, err error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer iter.Release()

	for iter.Next() {
		if storage.CheckData(iter.Value()) == nil {
			count++
		}
	}
	return count, iter.Error()
}

// Close releases the resources used by the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}
