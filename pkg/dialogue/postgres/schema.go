// Package postgres provides PostgreSQL-backed implementations of the two
// Parrot dialogue stores:
//
//   - [Store.Lexical] returns a [LexicalStore] over the dialogue_lines table
//     (case-insensitive, escaped ILIKE lookups);
//   - [Store.Vectors] returns a [VectorStore] over the dialogue_vectors table
//     with a pgvector HNSW index using cosine distance.
//
// The two tables are deliberately independent: no foreign key or transaction
// spans them, mirroring the contract of [dialogue.LexicalStore] and
// [dialogue.VectorStore]. Both share a single [pgxpool.Pool].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, postgres.WithMigrate(1536))
//	if err != nil { … }
//	defer store.Close()
//
//	rec, ok, _ := store.Lexical().FindByCharacterAndMessage(ctx, "joker", "tell me a joke")
//	matches, _ := store.Vectors().SearchSimilar(ctx, "joker", vec, 5, 0.35)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const ddlLines = `
CREATE TABLE IF NOT EXISTS dialogue_lines (
    seq           BIGSERIAL    PRIMARY KEY,
    id            TEXT         NOT NULL UNIQUE,
    character     TEXT         NOT NULL,
    user_message  TEXT,
    dialogue      TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dialogue_lines_character
    ON dialogue_lines (character, seq);
`

// ddlVectors returns the vector table DDL with the embedding dimension baked
// into the column type.
func ddlVectors(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS dialogue_vectors (
    id            TEXT         PRIMARY KEY,
    character     TEXT         NOT NULL,
    user_message  TEXT         NOT NULL,
    dialogue      TEXT         NOT NULL,
    embedding     vector(%d)   NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dialogue_vectors_character
    ON dialogue_vectors (character);

CREATE INDEX IF NOT EXISTS idx_dialogue_vectors_embedding
    ON dialogue_vectors USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Execer is satisfied by *pgx.Conn, *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Migrate creates the dialogue tables and indexes. It is idempotent. Schema
// provisioning is an administrative step and is never run on the request
// path.
//
// With embeddingDimensions > 0 the pgvector extension and the vector table
// are created too; the value must match the embedding model (e.g. 1536 for
// OpenAI text-embedding-3-small, 384 for all-MiniLM-L6-v2) and changing it
// after the first migration requires a manual schema change. Zero migrates
// only the lexical table, for setups that keep vectors elsewhere.
func Migrate(ctx context.Context, db Execer, embeddingDimensions int) error {
	if embeddingDimensions < 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must not be negative, got %d", embeddingDimensions)
	}
	stmts := []string{ddlLines}
	if embeddingDimensions > 0 {
		stmts = append(stmts, ddlVectors(embeddingDimensions))
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
