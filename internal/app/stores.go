package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parrot/internal/config"
	"github.com/MrWong99/parrot/internal/resilience"
	"github.com/MrWong99/parrot/pkg/dialogue"
	"github.com/MrWong99/parrot/pkg/dialogue/memstore"
	"github.com/MrWong99/parrot/pkg/dialogue/mongo"
	"github.com/MrWong99/parrot/pkg/dialogue/postgres"
)

// Stores holds the opened dialogue stores.
type Stores struct {
	Lexical dialogue.LexicalStore
	Vectors dialogue.VectorStore

	closers []func() error
}

// Close releases every connection opened by [OpenStores]. Injected stores
// are left alone.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// OpenStores connects the backends selected in sc. lexical and vectors, when
// non-nil, are used as-is. A postgres pool is shared when both stores live in
// postgres. Each connection is retried sc.ConnectAttempts times with a pause
// of sc.ConnectDelay, since databases in a fresh compose stack often come up
// after the server.
func OpenStores(ctx context.Context, sc config.StoresConfig, lexical dialogue.LexicalStore, vectors dialogue.VectorStore) (*Stores, error) {
	s := &Stores{Lexical: lexical, Vectors: vectors}

	var pg *postgres.Store
	openPostgres := func() (*postgres.Store, error) {
		if pg != nil {
			return pg, nil
		}
		var opts []postgres.Option
		if sc.AutoMigrate {
			opts = append(opts, postgres.WithMigrate(MigrateDimensions(sc)))
		}
		err := connect(ctx, sc, "postgres", func(ctx context.Context) error {
			var err error
			pg, err = postgres.NewStore(ctx, sc.PostgresDSN, opts...)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error {
			pg.Close()
			return nil
		})
		return pg, nil
	}

	if s.Lexical == nil {
		switch sc.Lexical {
		case config.BackendPostgres:
			p, err := openPostgres()
			if err != nil {
				return nil, errors.Join(err, s.Close())
			}
			s.Lexical = p.Lexical()
		case config.BackendMongo:
			var ms *mongo.Store
			err := connect(ctx, sc, "mongo", func(ctx context.Context) error {
				var err error
				ms, err = mongo.NewStore(ctx, sc.MongoURI, sc.MongoDatabase)
				return err
			})
			if err != nil {
				return nil, errors.Join(err, s.Close())
			}
			s.Lexical = ms
			s.closers = append(s.closers, func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return ms.Close(ctx)
			})
		default:
			s.Lexical = memstore.NewLexical()
		}
	}

	if s.Vectors == nil {
		switch sc.Vector {
		case config.BackendPostgres:
			p, err := openPostgres()
			if err != nil {
				return nil, errors.Join(err, s.Close())
			}
			s.Vectors = p.Vectors()
		default:
			s.Vectors = memstore.NewVector()
		}
	}

	slog.Info("dialogue stores ready", "lexical", sc.Lexical, "vector", sc.Vector)
	return s, nil
}

// MigrateDimensions is the vector width to migrate for sc: the configured
// embedding dimensions when vectors live in postgres, zero (lexical table
// only) otherwise.
func MigrateDimensions(sc config.StoresConfig) int {
	if sc.Vector != config.BackendPostgres {
		return 0
	}
	return sc.EmbeddingDimensions
}

func connect(ctx context.Context, sc config.StoresConfig, name string, fn func(ctx context.Context) error) error {
	err := resilience.Retry(ctx, resilience.RetryPolicy{
		Name:           "connect " + name,
		MaxAttempts:    sc.ConnectAttempts,
		InitialBackoff: sc.ConnectDelay,
		MaxBackoff:     sc.ConnectDelay,
	}, fn)
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	return nil
}
