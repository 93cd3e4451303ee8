// Package memstore provides in-memory implementations of
// [dialogue.LexicalStore] and [dialogue.VectorStore].
//
// Both stores keep records in insertion order, which makes lookups
// deterministic for a given dataset. They are suitable for tests, local
// development, and single-process deployments without a database.
package memstore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

var (
	_ dialogue.LexicalStore = (*Lexical)(nil)
	_ dialogue.VectorStore  = (*Vector)(nil)
)

var errMissingEmbedding = errors.New("record has no embedding or user message")

// Lexical is a thread-safe in-memory [dialogue.LexicalStore].
// The zero value is ready to use.
type Lexical struct {
	mu      sync.RWMutex
	records []dialogue.Record
}

// NewLexical returns an empty [Lexical] store.
func NewLexical() *Lexical {
	return &Lexical{}
}

// FindByCharacterAndMessage implements [dialogue.LexicalStore].
func (s *Lexical) FindByCharacterAndMessage(ctx context.Context, character, pattern string) (dialogue.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return dialogue.Record{}, false, dialogue.Wrap(dialogue.ErrStoreQuery, "memstore: lexical find", err)
	}
	char := dialogue.NormalizeCharacter(character)
	needle := strings.ToLower(pattern)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.Character != char || !r.HasTrigger() {
			continue
		}
		if strings.Contains(strings.ToLower(r.UserMessage), needle) {
			return r, true, nil
		}
	}
	return dialogue.Record{}, false, nil
}

// Insert implements [dialogue.LexicalStore].
func (s *Lexical) Insert(ctx context.Context, rec dialogue.Record) error {
	return s.InsertMany(ctx, []dialogue.Record{rec})
}

// InsertMany implements [dialogue.LexicalStore].
func (s *Lexical) InsertMany(ctx context.Context, recs []dialogue.Record) error {
	if err := ctx.Err(); err != nil {
		return dialogue.Wrap(dialogue.ErrWrite, "memstore: lexical insert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		r.Character = dialogue.NormalizeCharacter(r.Character)
		r.Embedding = nil
		s.records = append(s.records, r)
	}
	return nil
}

// Ping implements [dialogue.LexicalStore]. It always succeeds.
func (s *Lexical) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *Lexical) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Vector is a thread-safe in-memory [dialogue.VectorStore] using exhaustive
// cosine-distance search. The zero value is ready to use.
type Vector struct {
	mu      sync.RWMutex
	order   []string
	records map[string]dialogue.Record
}

// NewVector returns an empty [Vector] store.
func NewVector() *Vector {
	return &Vector{records: make(map[string]dialogue.Record)}
}

// SearchSimilar implements [dialogue.VectorStore].
func (s *Vector) SearchSimilar(ctx context.Context, character string, embedding []float32, limit int, maxDistance float64) ([]dialogue.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, dialogue.Wrap(dialogue.ErrStoreQuery, "memstore: vector search", err)
	}
	char := dialogue.NormalizeCharacter(character)

	s.mu.RLock()
	matches := make([]dialogue.Match, 0)
	for _, id := range s.order {
		r := s.records[id]
		if r.Character != char {
			continue
		}
		d := dialogue.CosineDistance(embedding, r.Embedding)
		if d > maxDistance {
			continue
		}
		matches = append(matches, dialogue.Match{Record: r, Distance: d})
	}
	s.mu.RUnlock()

	// Stable so equal distances keep insertion order.
	slices.SortStableFunc(matches, func(a, b dialogue.Match) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Upsert implements [dialogue.VectorStore].
func (s *Vector) Upsert(ctx context.Context, rec dialogue.Record) error {
	if err := ctx.Err(); err != nil {
		return dialogue.Wrap(dialogue.ErrWrite, "memstore: vector upsert", err)
	}
	if len(rec.Embedding) == 0 || !rec.HasTrigger() {
		return dialogue.Wrap(dialogue.ErrWrite, "memstore: vector upsert",
			dialogue.Wrap(dialogue.ErrValidation, "record", errMissingEmbedding))
	}
	rec.Character = dialogue.NormalizeCharacter(rec.Character)
	rec.Embedding = slices.Clone(rec.Embedding)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]dialogue.Record)
	}
	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// Ping implements [dialogue.VectorStore]. It always succeeds.
func (s *Vector) Ping(context.Context) error { return nil }

// Len returns the number of indexed records.
func (s *Vector) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
