package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

var (
	_ dialogue.LexicalStore = (*LexicalStore)(nil)
	_ dialogue.VectorStore  = (*VectorStore)(nil)
)

// Store owns the connection pool shared by the lexical and vector stores.
// All operations are safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	lexical *LexicalStore
	vectors *VectorStore
}

// Option configures [NewStore].
type Option func(*options)

type options struct {
	migrate bool
	dims    int
}

// WithMigrate runs [Migrate] with the given embedding dimension before the
// pool is established. Zero migrates only the lexical table. Without this
// option the schema must already exist.
func WithMigrate(embeddingDimensions int) Option {
	return func(o *options) {
		o.migrate = true
		o.dims = embeddingDimensions
	}
}

// NewStore connects to the PostgreSQL database at dsn. pgvector types are
// registered on every connection once the extension exists; a database
// without it still serves the lexical store.
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// The extension has to exist before any pooled connection looks up the
	// vector type, so migrations run on a dedicated connection first.
	if o.migrate {
		if err := migrateOnce(ctx, cfg.ConnConfig, o.dims); err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
	}

	cfg.AfterConnect = registerVectorTypes

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	return &Store{
		pool:    pool,
		lexical: &LexicalStore{pool: pool},
		vectors: &VectorStore{pool: pool},
	}, nil
}

func migrateOnce(ctx context.Context, cc *pgx.ConnConfig, dims int) error {
	conn, err := pgx.ConnectConfig(ctx, cc.Copy())
	if err != nil {
		return fmt.Errorf("connect for migration: %w", err)
	}
	defer conn.Close(context.Background())
	return Migrate(ctx, conn, dims)
}

// registerVectorTypes registers pgvector codecs when the extension is
// installed and is a no-op otherwise.
func registerVectorTypes(ctx context.Context, conn *pgx.Conn) error {
	var installed bool
	if err := conn.QueryRow(ctx, "SELECT to_regtype('vector') IS NOT NULL").Scan(&installed); err != nil {
		return fmt.Errorf("look up vector type: %w", err)
	}
	if !installed {
		return nil
	}
	return pgxvec.RegisterTypes(ctx, conn)
}

// Lexical returns the [dialogue.LexicalStore] view of the store.
func (s *Store) Lexical() *LexicalStore { return s.lexical }

// Vectors returns the [dialogue.VectorStore] view of the store.
func (s *Store) Vectors() *VectorStore { return s.vectors }

// Ping checks connectivity of the shared pool.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
