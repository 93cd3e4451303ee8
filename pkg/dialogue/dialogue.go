// Package dialogue defines the records, error taxonomy, and store interfaces
// shared by every part of the Parrot dialogue cache.
//
// A [Record] is one line spoken by a character, optionally together with the
// user utterance that triggered it. Records are immutable once written: a
// second answer to the same utterance is a second record, never an update.
//
// Two independent stores hold records:
//
//   - a [LexicalStore] answers literal, case-insensitive substring lookups on
//     the stored trigger text, scoped to one character;
//   - a [VectorStore] answers nearest-neighbour queries over embeddings of the
//     trigger text, scoped to one character and bounded by a cosine distance.
//
// There is no transactional link between the two stores; they may diverge.
package dialogue

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageRunes is the longest user message accepted by the chat API.
const MaxMessageRunes = 500

// MaxDialogueRunes bounds generated and user-triggered dialogue text.
const MaxDialogueRunes = 500

// Source tags where a chat reply came from.
type Source string

const (
	// SourceExact is a lexical hit on a previously stored trigger phrase.
	SourceExact Source = "exact"

	// SourceCache is a vector-similarity hit that survived candidate filtering.
	SourceCache Source = "cache"

	// SourceAI is a freshly generated reply.
	SourceAI Source = "ai"
)

// IsValid reports whether s is one of the known sources.
func (s Source) IsValid() bool {
	switch s {
	case SourceExact, SourceCache, SourceAI:
		return true
	}
	return false
}

// Record is the unit of storage and retrieval.
type Record struct {
	// ID uniquely identifies the record in both stores.
	ID string

	// Character is the normalised (case-folded) persona identifier.
	Character string

	// UserMessage is the triggering utterance. Empty for records that came
	// from corpus scraping rather than a live exchange.
	UserMessage string

	// Dialogue is the character's line.
	Dialogue string

	// Embedding is the vector of UserMessage. Nil for scraped records.
	Embedding []float32

	// CreatedAt is the insertion time. Lexical ties resolve oldest first.
	CreatedAt time.Time
}

// HasTrigger reports whether the record carries a user message.
func (r Record) HasTrigger() bool {
	return r.UserMessage != ""
}

// Match is a vector-store candidate together with its cosine distance to the
// query vector. Lower distance is closer.
type Match struct {
	Record   Record
	Distance float64
}

// NormalizeCharacter returns the canonical store key for a character name:
// surrounding whitespace removed, internal runs of whitespace collapsed to a
// single space, and the result lower-cased.
func NormalizeCharacter(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// NewRecord builds a validated record with a fresh ID and a normalised
// character. userMessage may be empty for corpus records.
func NewRecord(character, userMessage, text string, embedding []float32) (Record, error) {
	rec := Record{
		ID:          uuid.NewString(),
		Character:   NormalizeCharacter(character),
		UserMessage: strings.TrimSpace(userMessage),
		Dialogue:    strings.TrimSpace(text),
		Embedding:   embedding,
		CreatedAt:   time.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Validate checks the record invariants: a non-empty character and dialogue,
// and a bounded dialogue length when the record was triggered by a user.
func (r Record) Validate() error {
	if r.Character == "" {
		return &Error{Kind: ErrValidation, Op: "record", Err: fmt.Errorf("character is required")}
	}
	if r.Dialogue == "" {
		return &Error{Kind: ErrValidation, Op: "record", Err: fmt.Errorf("dialogue is required")}
	}
	if r.HasTrigger() && utf8.RuneCountInString(r.Dialogue) > MaxDialogueRunes {
		return &Error{Kind: ErrValidation, Op: "record", Err: fmt.Errorf("dialogue exceeds %d characters", MaxDialogueRunes)}
	}
	if len(r.Embedding) > 0 && !r.HasTrigger() {
		return &Error{Kind: ErrValidation, Op: "record", Err: fmt.Errorf("embedding without user message")}
	}
	return nil
}
