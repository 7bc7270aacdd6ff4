// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package addressbook holds the peers a relay synchronizes with. The peer
// list is fixed when the book is created; only the per-peer sync reports
// change, and they are kept in the state store.
package addressbook

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/openherd/relay/pkg/storage"
)

const keyPrefix = "peer_report_"

var (
	ErrNotFound    = errors.New("addressbook: not found")
	ErrInvalidPeer = errors.New("addressbook: invalid peer address")
)

// Report describes the outcome of the last sync with a peer.
type Report struct {
	LastAttempt time.Time `json:"lastAttempt"`
	LastSuccess time.Time `json:"lastSuccess"`
	Pushed      int       `json:"pushed"`
	Pulled      int       `json:"pulled"`
	Error       string    `json:"error,omitempty"`
}

// Entry is a peer with its last report, if any.
type Entry struct {
	Address string  `json:"address"`
	Report  *Report `json:"report,omitempty"`
}

type Interface interface {
	// Peers returns the peer base URLs.
	Peers() []string
	// Report returns the last sync report of a peer.
	Report(peer string) (Report, error)
	// PutReport saves the last sync report of a peer.
	PutReport(peer string, r Report) error
}

var _ Interface = (*Book)(nil)

// Book is the static peer list backed by a state store for reports.
type Book struct {
	peers []string
	known map[string]struct{}
	store storage.StateStorer
}

// New validates and normalizes the peer base URLs. Duplicates are removed
// while preserving the order of first appearance.
func New(peers []string, store storage.StateStorer) (*Book, error) {
	b := &Book{
		known: make(map[string]struct{}, len(peers)),
		store: store,
	}
	for _, p := range peers {
		n, err := NormalizePeer(p)
		if err != nil {
			return nil, err
		}
		if _, ok := b.known[n]; ok {
			continue
		}
		b.known[n] = struct{}{}
		b.peers = append(b.peers, n)
	}
	return b, nil
}

// NormalizePeer checks that s is an absolute http or https URL without query
// or fragment and removes trailing slashes.
func NormalizePeer(s string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidPeer, s, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w %q: scheme must be http or https", ErrInvalidPeer, s)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w %q: missing host", ErrInvalidPeer, s)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("%w %q: query and fragment are not allowed", ErrInvalidPeer, s)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

func (b *Book) Peers() []string {
	peers := make([]string, len(b.peers))
	copy(peers, b.peers)
	return peers
}

func (b *Book) Report(peer string) (r Report, err error) {
	if _, ok := b.known[peer]; !ok {
		return Report{}, ErrNotFound
	}
	if err := b.store.Get(keyPrefix+peer, &r); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Report{}, ErrNotFound
		}
		return Report{}, err
	}
	return r, nil
}

func (b *Book) PutReport(peer string, r Report) error {
	if _, ok := b.known[peer]; !ok {
		return ErrNotFound
	}
	return b.store.Put(keyPrefix+peer, r)
}

// Entries returns every peer together with its last report.
func (b *Book) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, len(b.peers))
	for _, p := range b.peers {
		e := Entry{Address: p}
		r, err := b.Report(p)
		switch {
		case err == nil:
			e.Report = &r
		case errors.Is(err, ErrNotFound):
		default:
			return nil, fmt.Errorf("report %s: %w", p, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
