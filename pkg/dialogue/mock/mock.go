// Package mock provides recording test doubles for [dialogue.LexicalStore]
// and [dialogue.VectorStore].
//
// Use these when a test needs to inject store failures or assert which
// queries were issued. For behavioural tests over real data prefer
// package memstore.
//
// Example:
//
//	lex := &mock.LexicalStore{FindErr: errors.New("down")}
//	_, _, err := lex.FindByCharacterAndMessage(ctx, "joker", "hi")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// FindCall records a single invocation of FindByCharacterAndMessage.
type FindCall struct {
	Character string
	Pattern   string
}

// LexicalStore is a mock implementation of [dialogue.LexicalStore].
type LexicalStore struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// FindRecord and FindOK are returned by FindByCharacterAndMessage.
	FindRecord dialogue.Record
	FindOK     bool

	// FindErr, if non-nil, is returned by FindByCharacterAndMessage.
	FindErr error

	// InsertErr, if non-nil, is returned by Insert and InsertMany.
	InsertErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// --- Call records ---

	FindCalls []FindCall
	Inserted  []dialogue.Record
}

// FindByCharacterAndMessage records the call and returns the configured result.
func (s *LexicalStore) FindByCharacterAndMessage(_ context.Context, character, pattern string) (dialogue.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FindCalls = append(s.FindCalls, FindCall{Character: character, Pattern: pattern})
	if s.FindErr != nil {
		return dialogue.Record{}, false, s.FindErr
	}
	return s.FindRecord, s.FindOK, nil
}

// Insert records rec unless InsertErr is set.
func (s *LexicalStore) Insert(ctx context.Context, rec dialogue.Record) error {
	return s.InsertMany(ctx, []dialogue.Record{rec})
}

// InsertMany records recs unless InsertErr is set.
func (s *LexicalStore) InsertMany(_ context.Context, recs []dialogue.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.Inserted = append(s.Inserted, recs...)
	return nil
}

// Ping returns PingErr.
func (s *LexicalStore) Ping(context.Context) error { return s.PingErr }

// InsertedRecords returns a copy of all records accepted so far. Thread-safe.
func (s *LexicalStore) InsertedRecords() []dialogue.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dialogue.Record, len(s.Inserted))
	copy(out, s.Inserted)
	return out
}

// SearchCall records a single invocation of SearchSimilar.
type SearchCall struct {
	Character   string
	Embedding   []float32
	Limit       int
	MaxDistance float64
}

// VectorStore is a mock implementation of [dialogue.VectorStore].
type VectorStore struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SearchResult is returned by SearchSimilar. Nil becomes an empty slice.
	SearchResult []dialogue.Match

	// SearchErr, if non-nil, is returned by SearchSimilar.
	SearchErr error

	// UpsertErr, if non-nil, is returned by Upsert.
	UpsertErr error

	// PingErr, if non-nil, is returned by Ping.
	PingErr error

	// --- Call records ---

	SearchCalls []SearchCall
	Upserted    []dialogue.Record
}

// SearchSimilar records the call and returns SearchResult, SearchErr.
func (s *VectorStore) SearchSimilar(_ context.Context, character string, embedding []float32, limit int, maxDistance float64) ([]dialogue.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = append(s.SearchCalls, SearchCall{
		Character:   character,
		Embedding:   embedding,
		Limit:       limit,
		MaxDistance: maxDistance,
	})
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if s.SearchResult == nil {
		return []dialogue.Match{}, nil
	}
	return s.SearchResult, nil
}

// Upsert records rec unless UpsertErr is set.
func (s *VectorStore) Upsert(_ context.Context, rec dialogue.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	s.Upserted = append(s.Upserted, rec)
	return nil
}

// Ping returns PingErr.
func (s *VectorStore) Ping(context.Context) error { return s.PingErr }

// UpsertedRecords returns a copy of all records accepted so far. Thread-safe.
func (s *VectorStore) UpsertedRecords() []dialogue.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dialogue.Record, len(s.Upserted))
	copy(out, s.Upserted)
	return out
}

var (
	_ dialogue.LexicalStore = (*LexicalStore)(nil)
	_ dialogue.VectorStore  = (*VectorStore)(nil)
)
