// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package leveldbstore

// PutRaw stores data without validation.
func (s *Store) PutRaw(id string, data []byte) error {
	return s.db.Put(key(id), data, nil)
}
