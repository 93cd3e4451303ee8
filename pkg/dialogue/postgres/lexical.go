package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// LexicalStore implements [dialogue.LexicalStore] over the dialogue_lines
// table. Obtain one via [Store.Lexical].
type LexicalStore struct {
	pool *pgxpool.Pool
}

// FindByCharacterAndMessage implements [dialogue.LexicalStore]. LIKE
// wildcards in pattern are escaped so the lookup is a literal substring
// match. Ties resolve by insertion sequence.
func (s *LexicalStore) FindByCharacterAndMessage(ctx context.Context, character, pattern string) (dialogue.Record, bool, error) {
	const q = `
		SELECT id, character, user_message, dialogue, created_at
		FROM   dialogue_lines
		WHERE  character = $1
		  AND  user_message IS NOT NULL
		  AND  user_message ILIKE '%' || $2 || '%' ESCAPE '\'
		ORDER  BY seq
		LIMIT  1`

	var (
		rec dialogue.Record
		msg *string
	)
	err := s.pool.QueryRow(ctx, q, dialogue.NormalizeCharacter(character), escapeLike(pattern)).
		Scan(&rec.ID, &rec.Character, &msg, &rec.Dialogue, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return dialogue.Record{}, false, nil
	}
	if err != nil {
		return dialogue.Record{}, false, dialogue.Wrap(dialogue.ErrStoreQuery, "postgres: lexical find", err)
	}
	if msg != nil {
		rec.UserMessage = *msg
	}
	return rec, true, nil
}

// Insert implements [dialogue.LexicalStore]. Re-inserting an existing ID is
// a no-op.
func (s *LexicalStore) Insert(ctx context.Context, rec dialogue.Record) error {
	return s.InsertMany(ctx, []dialogue.Record{rec})
}

// InsertMany implements [dialogue.LexicalStore]. Records are sent as a
// single pipelined batch in slice order.
func (s *LexicalStore) InsertMany(ctx context.Context, recs []dialogue.Record) error {
	if len(recs) == 0 {
		return nil
	}
	const q = `
		INSERT INTO dialogue_lines (id, character, user_message, dialogue, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, r := range recs {
		var msg *string
		if r.HasTrigger() {
			m := r.UserMessage
			msg = &m
		}
		batch.Queue(q, r.ID, dialogue.NormalizeCharacter(r.Character), msg, r.Dialogue, r.CreatedAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return dialogue.Wrap(dialogue.ErrWrite, "postgres: lexical insert", fmt.Errorf("record %d: %w", i, err))
		}
	}
	return nil
}

// Ping implements [dialogue.LexicalStore].
func (s *LexicalStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// escapeLike escapes the LIKE metacharacters %, _ and the escape character
// itself so that s matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
