package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// VectorStore implements [dialogue.VectorStore] over the dialogue_vectors
// table. Obtain one via [Store.Vectors].
type VectorStore struct {
	pool *pgxpool.Pool
}

// SearchSimilar implements [dialogue.VectorStore]. Results are ordered by
// ascending cosine distance; ties resolve by insertion time.
func (s *VectorStore) SearchSimilar(ctx context.Context, character string, embedding []float32, limit int, maxDistance float64) ([]dialogue.Match, error) {
	if limit <= 0 {
		limit = 1
	}
	const q = `
		SELECT id, character, user_message, dialogue, embedding, created_at, distance
		FROM (
		    SELECT id, character, user_message, dialogue, embedding, created_at,
		           embedding <=> $1 AS distance
		    FROM   dialogue_vectors
		    WHERE  character = $2
		) candidates
		WHERE  distance <= $3
		ORDER  BY distance, created_at
		LIMIT  $4`

	rows, err := s.pool.Query(ctx, q,
		pgvector.NewVector(embedding),
		dialogue.NormalizeCharacter(character),
		maxDistance,
		limit,
	)
	if err != nil {
		return nil, dialogue.Wrap(dialogue.ErrStoreQuery, "postgres: vector search", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (dialogue.Match, error) {
		var (
			m   dialogue.Match
			vec pgvector.Vector
		)
		if err := row.Scan(
			&m.Record.ID,
			&m.Record.Character,
			&m.Record.UserMessage,
			&m.Record.Dialogue,
			&vec,
			&m.Record.CreatedAt,
			&m.Distance,
		); err != nil {
			return dialogue.Match{}, err
		}
		m.Record.Embedding = vec.Slice()
		return m, nil
	})
	if err != nil {
		return nil, dialogue.Wrap(dialogue.ErrStoreQuery, "postgres: vector scan", err)
	}
	if matches == nil {
		matches = []dialogue.Match{}
	}
	return matches, nil
}

// Upsert implements [dialogue.VectorStore]. Writing an existing ID leaves
// the stored row untouched, since records are immutable.
func (s *VectorStore) Upsert(ctx context.Context, rec dialogue.Record) error {
	if len(rec.Embedding) == 0 || !rec.HasTrigger() {
		return dialogue.Wrap(dialogue.ErrWrite, "postgres: vector upsert",
			dialogue.Wrap(dialogue.ErrValidation, "record", fmt.Errorf("record %q has no embedding or user message", rec.ID)))
	}
	const q = `
		INSERT INTO dialogue_vectors (id, character, user_message, dialogue, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		rec.ID,
		dialogue.NormalizeCharacter(rec.Character),
		rec.UserMessage,
		rec.Dialogue,
		pgvector.NewVector(rec.Embedding),
		rec.CreatedAt,
	)
	if err != nil {
		return dialogue.Wrap(dialogue.ErrWrite, "postgres: vector upsert", err)
	}
	return nil
}

// Ping implements [dialogue.VectorStore].
func (s *VectorStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
