// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storetest provides a test suite that every storage.Store
// implementation is expected to pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openherd/relay/pkg/post"
	"github.com/openherd/relay/pkg/storage"
)

// Run executes the suite. newStore must return an empty store; closing it is
// the responsibility of newStore (for example with t.Cleanup).
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("save and iterate", func(t *testing.T) { testSaveIterate(t, newStore(t)) })
	t.Run("overwrite", func(t *testing.T) { testOverwrite(t, newStore(t)) })
	t.Run("anonymous dedup", func(t *testing.T) { testAnonymous(t, newStore(t)) })
	t.Run("pagination", func(t *testing.T) { testPagination(t, newStore(t)) })
	t.Run("stop", func(t *testing.T) { testStop(t, newStore(t)) })
	t.Run("invalid post", func(t *testing.T) { testInvalid(t, newStore(t)) })
	t.Run("concurrent", func(t *testing.T) { testConcurrent(t, newStore(t)) })
}

// Posts returns n distinct posts with explicit identifiers.
func Posts(n int) []post.Post {
	posts := make([]post.Post, n)
	for i := range posts {
		posts[i] = post.MustParse(fmt.Sprintf(`{"id":"post-%03d","text":"message %d"}`, i, i))
	}
	return posts
}

// Save stores all posts, failing the test on the first error.
func Save(t *testing.T, s storage.Store, posts ...post.Post) {
	t.Helper()

	for _, p := range posts {
		if err := s.Save(context.Background(), p); err != nil {
			t.Fatalf("save %s: %v", p.ID, err)
		}
	}
}

// All returns every stored post keyed by identifier.
func All(t *testing.T, s storage.Store) map[string]string {
	t.Helper()

	got := make(map[string]string)
	if err := s.Iterate(0, -1, func(p post.Post) (bool, error) {
		if _, ok := got[p.ID]; ok {
			t.Errorf("post %s visited twice", p.ID)
		}
		got[p.ID] = string(p.Data)
		return false, nil
	}); err != nil {
		t.Fatal(err)
	}
	return got
}

func testSaveIterate(t *testing.T, s storage.Store) {
	posts := Posts(5)
	Save(t, s, posts...)

	want := make(map[string]string)
	for _, p := range posts {
		want[p.ID] = string(p.Data)
	}
	if diff := cmp.Diff(want, All(t, s)); diff != "" {
		t.Errorf("stored posts mismatch (-want +got):\n%s", diff)
	}

	testCount(t, s, len(posts))
}

func testOverwrite(t *testing.T, s storage.Store) {
	first := post.MustParse(`{"id":"a","text":"first"}`)
	second := post.MustParse(`{"id":"a","text":"second"}`)
	Save(t, s, first, second)

	want := map[string]string{"a": `{"id":"a","text":"second"}`}
	if diff := cmp.Diff(want, All(t, s)); diff != "" {
		t.Errorf("stored posts mismatch (-want +got):\n%s", diff)
	}

	testCount(t, s, 1)
}

func testAnonymous(t *testing.T, s storage.Store) {
	a := post.MustParse(`{"text":"hi","lang":"en"}`)
	b := post.MustParse(`{"lang":"en","text":"hi"}`)
	Save(t, s, a, b)

	if a.ID != b.ID {
		t.Fatalf("got ids %s and %s, want equal", a.ID, b.ID)
	}

	testCount(t, s, 1)
}

func testPagination(t *testing.T, s storage.Store) {
	const n = 23
	Save(t, s, Posts(n)...)

	all, err := storage.List(s, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != n {
		t.Fatalf("got %d posts, want %d", len(all), n)
	}

	for _, tc := range []struct {
		offset, limit int
	}{
		{0, 10}, {10, 10}, {20, 10}, {22, 1}, {23, 5}, {40, 5}, {5, -1}, {0, 0}, {-3, 2}, {0, n},
	} {
		t.Run(fmt.Sprintf("offset %d limit %d", tc.offset, tc.limit), func(t *testing.T) {
			got, err := storage.List(s, tc.offset, tc.limit)
			if err != nil {
				t.Fatal(err)
			}

			offset := tc.offset
			if offset < 0 {
				offset = 0
			}
			start := min(offset, n)
			end := n
			if tc.limit >= 0 {
				end = min(start+tc.limit, n)
			}
			want := all[start:end]

			if len(got) != len(want) {
				t.Fatalf("got %d posts, want %d", len(got), len(want))
			}
			for i := range want {
				if !got[i].Equal(want[i]) {
					t.Errorf("post %d: got %s, want %s", i, got[i].ID, want[i].ID)
				}
			}
		})
	}
}

func testStop(t *testing.T, s storage.Store) {
	Save(t, s, Posts(5)...)

	var visited int
	if err := s.Iterate(0, -1, func(p post.Post) (bool, error) {
		visited++
		return visited == 2, nil
	}); err != nil {
		t.Fatal(err)
	}
	if visited != 2 {
		t.Errorf("visited %d posts, want 2", visited)
	}

	errTest := errors.New("test error")
	err := s.Iterate(0, -1, func(p post.Post) (bool, error) {
		return false, errTest
	})
	if !errors.Is(err, errTest) {
		t.Errorf("got error %v, want %v", err, errTest)
	}
}

func testInvalid(t *testing.T, s storage.Store) {
	for _, p := range []post.Post{
		{ID: "", Data: []byte(`{}`)},
		{ID: "../escape", Data: []byte(`{}`)},
		{ID: "no-data"},
		{ID: "truncated", Data: []byte(`{"id":"truncated","te`)},
		{ID: "array", Data: []byte(`[1]`)},
	} {
		if err := s.Save(context.Background(), p); !errors.Is(err, storage.ErrInvalidPost) {
			t.Errorf("save %q: got error %v, want %v", p.ID, err, storage.ErrInvalidPost)
		}
	}

	testCount(t, s, 0)
}

// testConcurrent writes the same identifiers while listing them and checks
// that no reader ever sees a partially written post.
func testConcurrent(t *testing.T, s storage.Store) {
	const (
		writers = 4
		rounds  = 25
	)

	valid := make(map[string]bool)
	var versions [][]post.Post
	for w := 0; w < writers; w++ {
		var ps []post.Post
		for i := 0; i < 5; i++ {
			p := post.MustParse(fmt.Sprintf(`{"id":"shared-%d","writer":%d,"padding":"%0512d"}`, i, w, w))
			valid[string(p.Data)] = true
			ps = append(ps, p)
		}
		versions = append(versions, ps)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var readErr error
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for ctx.Err() == nil {
			if err := s.Iterate(0, -1, func(p post.Post) (bool, error) {
				if !valid[string(p.Data)] {
					return true, fmt.Errorf("partial post %s: %q", p.ID, p.Data)
				}
				return false, nil
			}); err != nil {
				readErr = err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	writeErrC := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(ps []post.Post) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				for _, p := range ps {
					if err := s.Save(context.Background(), p); err != nil {
						writeErrC <- err
						return
					}
				}
			}
		}(versions[w])
	}

	wg.Wait()
	cancel()
	<-readDone
	close(writeErrC)

	for err := range writeErrC {
		t.Error(err)
	}
	if readErr != nil {
		t.Error(readErr)
	}

	testCount(t, s, 5)
}

func testCount(t *testing.T, s storage.Store, want int) {
	t.Helper()

	got, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("got count %d, want %d", got, want)
	}
}
