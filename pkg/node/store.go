// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/openherd/relay/pkg/logging"
	"github.com/openherd/relay/pkg/statestore/leveldb"
	"github.com/openherd/relay/pkg/storage"
	"github.com/openherd/relay/pkg/storage/filestore"
	"github.com/openherd/relay/pkg/storage/leveldbstore"
)

const (
	postsDir        = "posts"
	postsLevelDBDir = "posts-leveldb"
	stateStoreDir   = "statestore"
)

// OpenStore opens the post store of the selected backend in dataDir. An empty
// dataDir keeps the posts in memory.
func OpenStore(logger logging.Logger, dataDir string, backend storage.Backend) (storage.Store, error) {
	switch backend {
	case storage.BackendFile, "":
		fs := afero.NewOsFs()
		if dataDir == "" {
			fs = afero.NewMemMapFs()
		}
		s, err := filestore.New(fs, filepath.Join(dataDir, postsDir), logger)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		return s, nil
	case storage.BackendLevelDB:
		if dataDir == "" {
			return leveldbstore.NewInMemoryStore(logger)
		}
		s, err := leveldbstore.New(filepath.Join(dataDir, postsLevelDBDir), &opt.Options{
			OpenFilesCacheCapacity: 64,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("leveldb store: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}

func openStateStore(logger logging.Logger, dataDir string) (storage.StateStorer, error) {
	if dataDir == "" {
		logger.Warning("using in-memory state store, peer reports will not be persisted")
		return leveldb.NewInMemoryStateStore(logger)
	}
	return leveldb.NewStateStore(filepath.Join(dataDir, stateStoreDir), logger)
}
