package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Mongo implements KV on MongoDB. Expiry uses a TTL index on expires_at
// with expireAfterSeconds 0, so each document carries its own deadline.
// Documents without an expires_at field never expire. Reads still filter
// out documents past their deadline because the TTL monitor only sweeps
// periodically.
type Mongo struct {
	client *mongo.Client
	items  *mongo.Collection
	lists  *mongo.Collection
}

type mongoItem struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

type mongoListEntry struct {
	Key       string     `bson:"key"`
	Seq       int64      `bson:"seq"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// NewMongo connects to MongoDB, verifies the connection and ensures the
// TTL and lookup indexes exist.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(database)
	m := &Mongo{
		client: client,
		items:  db.Collection("kv"),
		lists:  db.Collection("kv_lists"),
	}
	if err := m.createIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mongo) createIndexes(ctx context.Context) error {
	ttlIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := m.items.Indexes().CreateOne(ctx, ttlIndex); err != nil {
		return fmt.Errorf("failed to create kv TTL index: %w", err)
	}

	listIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	}
	if _, err := m.lists.Indexes().CreateMany(ctx, listIndexes); err != nil {
		return fmt.Errorf("failed to create kv_lists indexes: %w", err)
	}
	return nil
}

func deadline(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := time.Now().Add(ttl)
	return &t
}

func (m *Mongo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := mongoItem{Key: key, Value: value, ExpiresAt: deadline(ttl)}
	_, err := m.items.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

func (m *Mongo) Get(ctx context.Context, key string) ([]byte, error) {
	var doc mongoItem
	err := m.items.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doc.ExpiresAt != nil && !time.Now().Before(*doc.ExpiresAt) {
		return nil, ErrNotFound
	}
	return doc.Value, nil
}

func (m *Mongo) Delete(ctx context.Context, key string) error {
	_, err := m.items.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (m *Mongo) ListAppend(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := mongoListEntry{
		Key:       key,
		Seq:       time.Now().UnixNano(),
		Value:     value,
		ExpiresAt: deadline(ttl),
	}
	if _, err := m.lists.InsertOne(ctx, entry); err != nil {
		return err
	}
	// Refresh expiry on the whole list so the index survives as long as
	// the conversation is active.
	if entry.ExpiresAt != nil {
		_, err := m.lists.UpdateMany(ctx,
			bson.M{"key": key},
			bson.M{"$set": bson.M{"expires_at": *entry.ExpiresAt}})
		return err
	}
	return nil
}

func (m *Mongo) ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	cursor, err := m.lists.Find(ctx, bson.M{"key": key}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []mongoListEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}

	now := time.Now()
	values := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if e.ExpiresAt != nil && !now.Before(*e.ExpiresAt) {
			continue
		}
		values = append(values, e.Value)
	}

	n := int64(len(values))
	if start < 0 {
		start += n
		if start < 0 {
			start = 0
		}
	}
	if stop < 0 {
		stop += n
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return values[start : stop+1], nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
