package dialogue

import "context"

// LexicalStore is a keyed document collection supporting literal lookups by
// character and trigger text.
//
// Implementations must be safe for concurrent use. Character arguments are
// normalised by the store on write and on read.
type LexicalStore interface {
	// FindByCharacterAndMessage returns the oldest record for character whose
	// stored user message contains pattern, compared case-insensitively.
	// pattern is a literal, never a regular expression. ok is false when no
	// record matches.
	FindByCharacterAndMessage(ctx context.Context, character, pattern string) (rec Record, ok bool, err error)

	// Insert stores a single record. The embedding, if any, is not persisted.
	Insert(ctx context.Context, rec Record) error

	// InsertMany stores records in bulk. Used by corpus ingestion, where
	// records carry no user message and no embedding.
	InsertMany(ctx context.Context, recs []Record) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

// VectorStore is a similarity index over embeddings of trigger text.
//
// The similarity metric is cosine distance in [0, 2]; lower is closer. There
// is no certainty-style threshold anywhere in the system.
//
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// SearchSimilar returns at most limit matches for character whose
	// distance to embedding is <= maxDistance, nearest first. The result is
	// empty, never nil, when nothing passes the bound.
	SearchSimilar(ctx context.Context, character string, embedding []float32, limit int, maxDistance float64) ([]Match, error)

	// Upsert stores rec keyed by its ID. rec must carry an embedding and a
	// user message; writing the same ID twice is idempotent.
	Upsert(ctx context.Context, rec Record) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
