// Package mongo provides the MongoDB-backed catalog store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aegntic/cldcde-search/internal/catalog"
)

// Backend implements catalog.Store on top of MongoDB. Each entity family maps
// to its own collection.
type Backend struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewBackend connects to MongoDB and verifies the connection with a ping.
func NewBackend(ctx context.Context, uri, dbName string) (*Backend, error) {
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Backend{
		client: client,
		db:     client.Database(dbName),
	}, nil
}

// collection maps a family tag to its MongoDB collection name. Hyphens are
// not valid in collection names across all tooling, so they are flattened.
func (b *Backend) collection(family catalog.Family) *mongo.Collection {
	name := strings.ReplaceAll(string(family), "-", "_")
	return b.db.Collection(name)
}

// FetchEntity retrieves the current snapshot of an entity by id.
func (b *Backend) FetchEntity(ctx context.Context, family catalog.Family, id string) (*catalog.Entity, error) {
	var entity catalog.Entity
	err := b.collection(family).FindOne(ctx, bson.M{"_id": id}).Decode(&entity)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch %s/%s: %w", family, id, err)
	}

	entity.Family = family
	return &entity, nil
}

// Close disconnects from MongoDB.
func (b *Backend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}
