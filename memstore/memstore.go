// Package memstore keeps a message log in memory. It implements both
// ssb.Store and ssb.BlobStore and is used by tests and by import dry runs.
package memstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ssbc/ssb-viewer/ssb"
)

// Store is an in-memory message log.
type Store struct {
	mu    sync.RWMutex
	msgs  []ssb.Message
	byKey map[string]int
	links []ssb.Link
	seqs  map[string]int64
	blobs map[string][]byte
	clock float64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byKey: make(map[string]int),
		seqs:  make(map[string]int64),
		blobs: make(map[string][]byte),
		clock: 1500000000000,
	}
}

// FeedID derives a well formed feed id from a short name.
func FeedID(name string) string {
	sum := sha256.Sum256([]byte("feed:" + name))
	return "@" + base64.StdEncoding.EncodeToString(sum[:]) + ".ed25519"
}

// Add appends messages in receive order. Messages already present are
// ignored.
func (s *Store) Add(msgs ...ssb.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		if _, ok := s.byKey[msg.Key]; ok {
			continue
		}
		if msg.Value.Content == nil {
			msg.Value.Content = ssb.DecodeContent(msg.Value.RawContent)
		}
		if msg.Value.Sequence > s.seqs[msg.Value.Author] {
			s.seqs[msg.Value.Author] = msg.Value.Sequence
		}
		s.byKey[msg.Key] = len(s.msgs)
		s.msgs = append(s.msgs, msg)
		for _, l := range ssb.ExtractLinks(msg.Value.RawContent) {
			l.Source = msg.Key
			s.links = append(s.links, l)
		}
	}
}

// Publish builds a message by author with the next sequence number and a
// strictly increasing timestamp, then adds it.
func (s *Store) Publish(author string, content any) ssb.Message {
	raw, err := json.Marshal(content)
	if err != nil {
		panic(fmt.Sprintf("memstore: marshal content: %v", err))
	}

	s.mu.Lock()
	s.clock += 1000
	value := ssb.Value{
		Author:     author,
		Sequence:   s.seqs[author] + 1,
		Timestamp:  s.clock,
		Hash:       "sha256",
		RawContent: raw,
	}
	s.mu.Unlock()

	encoded, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("memstore: marshal value: %v", err))
	}
	value.Content = ssb.DecodeContent(raw)
	msg := ssb.Message{
		Key:       ssb.MsgID(encoded),
		Value:     value,
		Timestamp: value.Timestamp,
	}
	s.Add(msg)
	return msg
}

// PutBlob stores data and returns its id.
func (s *Store) PutBlob(data []byte) string {
	id := ssb.BlobID(data)
	s.mu.Lock()
	s.blobs[id] = bytes.Clone(data)
	s.mu.Unlock()
	return id
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Get returns the message with the given key.
func (s *Store) Get(ctx context.Context, id string) (ssb.Message, error) {
	if err := ctx.Err(); err != nil {
		return ssb.Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byKey[id]
	if !ok {
		return ssb.Message{}, fmt.Errorf("get %s: %w", id, ssb.ErrNotFound)
	}
	return s.msgs[i], nil
}

// Links streams links pointing at q.Dest in receive order.
func (s *Store) Links(ctx context.Context, q ssb.LinkQuery, fn func(ssb.Link) error) error {
	s.mu.RLock()
	var matched []ssb.Link
	for _, l := range s.links {
		if l.Dest != q.Dest || (q.Rel != "" && l.Rel != q.Rel) {
			continue
		}
		if q.Values {
			msg := s.msgs[s.byKey[l.Source]]
			l.Message = &msg
		}
		matched = append(matched, l)
	}
	s.mu.RUnlock()

	for _, l := range matched {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

// UserStream streams the messages of one feed in sequence order.
func (s *Store) UserStream(ctx context.Context, feed string, q ssb.StreamQuery, fn func(ssb.Message) error) error {
	return s.stream(ctx, q, func(m ssb.Message) bool { return m.Value.Author == feed }, fn)
}

// LogStream streams every message in receive order.
func (s *Store) LogStream(ctx context.Context, q ssb.StreamQuery, fn func(ssb.Message) error) error {
	return s.stream(ctx, q, func(ssb.Message) bool { return true }, fn)
}

func (s *Store) stream(ctx context.Context, q ssb.StreamQuery, keep func(ssb.Message) bool, fn func(ssb.Message) error) error {
	s.mu.RLock()
	var selected []ssb.Message
	for _, m := range s.msgs {
		if keep(m) {
			selected = append(selected, m)
		}
	}
	s.mu.RUnlock()

	if q.Reverse {
		for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
			selected[i], selected[j] = selected[j], selected[i]
		}
	}
	if q.Limit > 0 && len(selected) > q.Limit {
		selected = selected[:q.Limit]
	}
	for _, m := range selected {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}

// HasBlob reports whether the blob is stored.
func (s *Store) HasBlob(ctx context.Context, id string) (bool, error) {
	if !ssb.IsBlob(id) {
		return false, fmt.Errorf("has blob %q: %w", id, ssb.ErrInvalidID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[id]
	return ok, ctx.Err()
}

// GetBlob returns a reader over the blob contents.
func (s *Store) GetBlob(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ssb.IsBlob(id) {
		return nil, fmt.Errorf("get blob %q: %w", id, ssb.ErrInvalidID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("get blob %s: %w", id, ssb.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
