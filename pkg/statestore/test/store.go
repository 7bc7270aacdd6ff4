// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package test

import (
	"errors"
	"strings"
	"testing"

	"github.com/openherd/relay/pkg/storage"
)

const (
	key1 = "key1" // stores the serialized type
	key2 = "key2" // stores a json array
)

var (
	value1 = &Serializing{value: "value1"}
	value2 = []string{"a", "b", "c"}
)

type Serializing struct {
	value           string
	marshalCalled   bool
	unmarshalCalled bool
}

func (st *Serializing) MarshalBinary() (data []byte, err error) {
	d := []byte(st.value)
	st.marshalCalled = true

	return d, nil
}

func (st *Serializing) UnmarshalBinary(data []byte) (err error) {
	st.value = string(data)
	st.unmarshalCalled = true
	return nil
}

// Run tests if the store returned by f satisfies storage.StateStorer.
func Run(t *testing.T, f func(t *testing.T) storage.StateStorer) {
	t.Helper()

	t.Run("put get", func(t *testing.T) { testPutGet(t, f(t)) })
	t.Run("iterator", func(t *testing.T) { testIterator(t, f(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, f(t)) })
}

// RunPersist tests if the store persists values between reopenings.
func RunPersist(t *testing.T, f func(t *testing.T, dir string) storage.StateStorer) {
	t.Helper()

	dir := t.TempDir()

	store := f(t, dir)
	insertValues(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	store = f(t, dir)
	defer store.Close()
	testPersistedValues(t, store)
}

func testPutGet(t *testing.T, store storage.StateStorer) {
	insertValues(t, store)
	testPersistedValues(t, store)

	if err := store.Get("missing", new(string)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got error %v, want %v", err, storage.ErrNotFound)
	}
}

func testIterator(t *testing.T, store storage.StateStorer) {
	insertValues(t, store)

	for _, k := range []string{"other_a", "other_b"} {
		if err := store.Put(k, k); err != nil {
			t.Fatal(err)
		}
	}

	var keys []string
	if err := store.Iterate("key", func(k, _ []byte) (bool, error) {
		keys = append(keys, string(k))
		return false, nil
	}); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(keys, ","); got != "key1,key2" {
		t.Errorf("got keys %s, want key1,key2", got)
	}

	var visited int
	if err := store.Iterate("", func(k, _ []byte) (bool, error) {
		visited++
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	if visited != 1 {
		t.Errorf("visited %d entries after stop, want 1", visited)
	}
}

func testDelete(t *testing.T, store storage.StateStorer) {
	insertValues(t, store)

	if err := store.Delete(key2); err != nil {
		t.Fatal(err)
	}

	var s []string
	if err := store.Get(key2, &s); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got error %v, want %v", err, storage.ErrNotFound)
	}
}

func insertValues(t *testing.T, store storage.StateStorer) {
	t.Helper()

	value1.marshalCalled = false
	if err := store.Put(key1, value1); err != nil {
		t.Fatal(err)
	}

	if !value1.marshalCalled {
		t.Fatal("binaryMarshaller not called on serialized type")
	}

	if err := store.Put(key2, value2); err != nil {
		t.Fatal(err)
	}
}

func testPersistedValues(t *testing.T, store storage.StateStorer) {
	t.Helper()

	v := &Serializing{}
	if err := store.Get(key1, v); err != nil {
		t.Fatal(err)
	}

	if !v.unmarshalCalled {
		t.Fatal("unmarshaler not called")
	}

	if v.value != value1.value {
		t.Fatalf("expected persisted to be %s but got %s", value1.value, v.value)
	}

	s := []string{}
	if err := store.Get(key2, &s); err != nil {
		t.Fatal(err)
	}

	for i, ss := range value2 {
		if s[i] != ss {
			t.Fatalf("deserialized data mismatch. expected %s but got %s", ss, s[i])
		}
	}
}
