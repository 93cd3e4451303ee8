// Package mongo provides a MongoDB-backed [dialogue.LexicalStore].
//
// Records live in a single collection. Lookups use a case-insensitive
// $regex built from the quoted (literal) user pattern, sorted by insertion
// time so repeated queries over the same dataset return the same record.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/MrWong99/parrot/pkg/dialogue"
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "parrot"

// CollectionDialogues is the collection holding dialogue records.
const CollectionDialogues = "dialogues"

var _ dialogue.LexicalStore = (*Store)(nil)

// document is the BSON shape of a stored record.
type document struct {
	ID          string    `bson:"_id"`
	Character   string    `bson:"character"`
	UserMessage *string   `bson:"user_message"`
	Dialogue    string    `bson:"dialogue"`
	CreatedAt   time.Time `bson:"created_at"`
}

// Store implements [dialogue.LexicalStore] on a MongoDB collection.
// It is safe for concurrent use.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewStore connects to uri, verifies the connection, and ensures the lookup
// index exists. database defaults to [DefaultDatabase].
func NewStore(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		database = DefaultDatabase
	}

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo store: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo store: ping: %w", err)
	}

	s := &Store{
		client: client,
		coll:   client.Database(database).Collection(CollectionDialogues),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "character", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo store: create index: %w", err)
	}
	return nil
}

// FindByCharacterAndMessage implements [dialogue.LexicalStore].
func (s *Store) FindByCharacterAndMessage(ctx context.Context, character, pattern string) (dialogue.Record, bool, error) {
	filter := bson.M{
		"character":    dialogue.NormalizeCharacter(character),
		"user_message": primitive.Regex{Pattern: regexp.QuoteMeta(pattern), Options: "i"},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	var doc document
	err := s.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return dialogue.Record{}, false, nil
	}
	if err != nil {
		return dialogue.Record{}, false, dialogue.Wrap(dialogue.ErrStoreQuery, "mongo: lexical find", err)
	}
	return fromDocument(doc), true, nil
}

// Insert implements [dialogue.LexicalStore]. Re-inserting an existing ID is
// a no-op.
func (s *Store) Insert(ctx context.Context, rec dialogue.Record) error {
	_, err := s.coll.InsertOne(ctx, toDocument(rec))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return dialogue.Wrap(dialogue.ErrWrite, "mongo: lexical insert", err)
	}
	return nil
}

// InsertMany implements [dialogue.LexicalStore]. Documents are written in
// order; duplicates of existing IDs are skipped.
func (s *Store) InsertMany(ctx context.Context, recs []dialogue.Record) error {
	if len(recs) == 0 {
		return nil
	}
	docs := make([]any, len(recs))
	for i, r := range recs {
		docs[i] = toDocument(r)
	}
	_, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return dialogue.Wrap(dialogue.ErrWrite, "mongo: lexical insert many", err)
	}
	return nil
}

// Ping implements [dialogue.LexicalStore].
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toDocument(r dialogue.Record) document {
	doc := document{
		ID:        r.ID,
		Character: dialogue.NormalizeCharacter(r.Character),
		Dialogue:  r.Dialogue,
		CreatedAt: r.CreatedAt,
	}
	if r.HasTrigger() {
		msg := r.UserMessage
		doc.UserMessage = &msg
	}
	return doc
}

func fromDocument(d document) dialogue.Record {
	rec := dialogue.Record{
		ID:        d.ID,
		Character: d.Character,
		Dialogue:  d.Dialogue,
		CreatedAt: d.CreatedAt,
	}
	if d.UserMessage != nil {
		rec.UserMessage = *d.UserMessage
	}
	return rec
}
