package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// mongoEntry is the document layout of a ledger entry. Timestamps are kept
// as epoch nanoseconds because BSON dates only hold milliseconds, which
// would break hash recomputation.
type mongoEntry struct {
	Seq          int64  `bson:"seq"`
	PreviousHash string `bson:"previousHash"`
	PayloadHash  string `bson:"payloadHash"`
	EntryHash    string `bson:"entryHash"`
	TsUnixNano   int64  `bson:"tsUnixNano"`
	SignerID     string `bson:"signerId"`
	Action       string `bson:"action"`
	Payload      string `bson:"payload"`
}

func toMongo(e *Entry) mongoEntry {
	return mongoEntry{
		Seq:          e.Sequence,
		PreviousHash: e.PreviousHash,
		PayloadHash:  e.PayloadHash,
		EntryHash:    e.Hash,
		TsUnixNano:   e.Timestamp.UnixNano(),
		SignerID:     e.SignerID,
		Action:       string(e.Action),
		Payload:      string(e.Payload),
	}
}

func (m mongoEntry) entry() *Entry {
	return &Entry{
		Sequence:     m.Seq,
		PreviousHash: m.PreviousHash,
		PayloadHash:  m.PayloadHash,
		Hash:         m.EntryHash,
		Timestamp:    time.Unix(0, m.TsUnixNano).UTC(),
		SignerID:     m.SignerID,
		Action:       Action(m.Action),
		Payload:      []byte(m.Payload),
	}
}

// MongoStore persists the chain in a MongoDB collection. A unique index on
// seq makes the insert the commit point: of two writers racing for the same
// sequence exactly one insert succeeds. The predecessor check before the
// insert is safe without a transaction because committed entries never
// change.
type MongoStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoStore returns a MongoStore on db's ledger_entries collection and
// ensures its indexes.
func NewMongoStore(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*MongoStore, error) {
	s := &MongoStore{coll: db.Collection("ledger_entries"), logger: logger}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("seq_unique"),
		},
		{
			Keys:    bson.D{{Key: "entryHash", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("entry_hash_unique"),
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create ledger indexes: %w", err)
	}
	return nil
}

// Tail implements Store.
func (s *MongoStore) Tail(ctx context.Context) (*Entry, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	e, err := s.findOne(ctx, bson.D{}, opts)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}
	return e, nil
}

// Append implements Store.
func (s *MongoStore) Append(ctx context.Context, e *Entry) error {
	if e.Sequence == 0 {
		if e.PreviousHash != GenesisHash {
			return ErrChainConflict
		}
	} else {
		_, err := s.findOne(ctx, bson.D{
			{Key: "seq", Value: e.Sequence - 1},
			{Key: "entryHash", Value: e.PreviousHash},
		})
		if errors.Is(err, ErrNotFound) {
			return ErrChainConflict
		}
		if err != nil {
			return fmt.Errorf("check ledger predecessor: %w", err)
		}
	}

	if _, err := s.coll.InsertOne(ctx, toMongo(e)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Debug("ledger insert lost sequence race", zap.Int64("seq", e.Sequence))
			return ErrChainConflict
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// ByHash implements Store.
func (s *MongoStore) ByHash(ctx context.Context, hash string) (*Entry, error) {
	return s.findOne(ctx, bson.D{{Key: "entryHash", Value: hash}})
}

// BySequence implements Store.
func (s *MongoStore) BySequence(ctx context.Context, seq int64) (*Entry, error) {
	return s.findOne(ctx, bson.D{{Key: "seq", Value: seq}})
}

// Range implements Store.
func (s *MongoStore) Range(ctx context.Context, from, to int64, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	filter := bson.D{{Key: "seq", Value: bson.D{
		{Key: "$gte", Value: from},
		{Key: "$lte", Value: to},
	}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query ledger range: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Entry
	for cur.Next(ctx) {
		var doc mongoEntry
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode ledger entry: %w", err)
		}
		out = append(out, doc.entry())
	}
	return out, cur.Err()
}

// Count implements Store.
func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D, opts ...*options.FindOneOptions) (*Entry, error) {
	var doc mongoEntry
	if err := s.coll.FindOne(ctx, filter, opts...).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.entry(), nil
}
