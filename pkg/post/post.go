// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package post defines the unit of data exchanged between relays: an opaque
// JSON object with an optional reserved "id" field, together with the rules
// for deriving its identifier.
package post

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// IDField is the only field of a post the relay interprets.
const IDField = "id"

// MaxIDLength is the maximal length of an explicit identifier in bytes.
const MaxIDLength = 255

var (
	ErrNotObject = errors.New("post: not a json object")
	ErrInvalidID = errors.New("post: invalid id")
)

// Post is a JSON object stored and exchanged by relays. Data holds the
// canonical serialization of the object and is never interpreted beyond the
// "id" field.
type Post struct {
	ID   string
	Data []byte
}

// Parse validates that raw is a JSON object and returns the post with its
// identifier. An explicit string "id" is used verbatim, otherwise the
// identifier is the hex-encoded SHA-256 hash of the canonical form.
func Parse(raw []byte) (Post, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Post{}, ErrNotObject
		}
		return Post{}, fmt.Errorf("decode post: %w", err)
	}
	if obj == nil {
		return Post{}, ErrNotObject
	}
	if dec.More() {
		return Post{}, fmt.Errorf("decode post: %w", errors.New("trailing data"))
	}

	data, err := canonical(obj)
	if err != nil {
		return Post{}, err
	}

	id, err := explicitID(obj)
	if err != nil {
		return Post{}, err
	}
	if id == "" {
		id = ComputeID(data)
	}

	return Post{ID: id, Data: data}, nil
}

// MustParse is like Parse but panics on error. It is intended for tests.
func MustParse(raw string) Post {
	p, err := Parse([]byte(raw))
	if err != nil {
		panic(err)
	}
	return p
}

// ComputeID returns the content derived identifier of canonical post data.
func ComputeID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateID checks that the identifier can be safely used as a file name.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, MaxIDLength)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: leading dot", ErrInvalidID)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: contains a path separator or null byte", ErrInvalidID)
	}
	return nil
}

// MarshalJSON returns the canonical post data.
func (p Post) MarshalJSON() ([]byte, error) {
	if len(p.Data) == 0 {
		return []byte("{}"), nil
	}
	return p.Data, nil
}

// Equal reports whether two posts have the same identifier and data.
func (p Post) Equal(q Post) bool {
	return p.ID == q.ID && bytes.Equal(p.Data, q.Data)
}

func (p Post) String() string {
	return p.ID
}

func explicitID(obj map[string]any) (string, error) {
	v, ok := obj[IDField]
	if !ok || v == nil {
		return "", nil
	}
	id, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: not a string", ErrInvalidID)
	}
	if id == "" {
		return "", nil
	}
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

// canonical encodes the object compactly with sorted keys and without HTML
// escaping, so that equal objects always produce equal bytes.
func canonical(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(obj); err != nil {
		return nil, fmt.Errorf("encode post: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
