package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoEntry is the stored document. expires_at carries a TTL index so
// the server also reaps entries on its own.
type mongoEntry struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	StoredAt  time.Time `bson:"stored_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Mongo is a Store backed by a MongoDB collection, for sharing one cache
// between several instances.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// NewMongo connects to uri and prepares the cache collection.
func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cache: mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("cache: mongo ping: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := coll.Indexes().CreateOne(ctx, indexModel); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("cache: mongo ttl index: %w", err)
	}

	slog.Info("mongo cache connected", "database", database, "collection", collection)
	return &Mongo{client: client, coll: coll, now: time.Now}, nil
}

func (m *Mongo) Get(ctx context.Context, key string) (*Entry, bool) {
	var doc mongoEntry
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if !errors.Is(err, mongo.ErrNoDocuments) {
			slog.Warn("mongo cache get failed", "error", err)
		}
		return nil, false
	}
	e := &Entry{
		Value:    doc.Value,
		StoredAt: doc.StoredAt,
		TTL:      doc.ExpiresAt.Sub(doc.StoredAt),
	}
	// The TTL monitor runs about once a minute, so expiry is checked here too.
	if e.Expired(m.now()) {
		return nil, false
	}
	return e, true
}

func (m *Mongo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := m.now()
	doc := mongoEntry{
		Key:       key,
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return fmt.Errorf("cache: mongo set: %w", err)
	}
	return nil
}

func (m *Mongo) Sweep(ctx context.Context) int {
	res, err := m.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": m.now()}})
	if err != nil {
		slog.Warn("mongo cache sweep failed", "error", err)
		return 0
	}
	return int(res.DeletedCount)
}

func (m *Mongo) Len(ctx context.Context) int {
	n, err := m.coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0
	}
	return int(n)
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
