package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/freieslabor/prepaid-mate/internal/models"
)

// EventCollection holds archived ledger events.
const EventCollection = "ledger_events"

// MongoDB archives committed ledger events for auditing.
type MongoDB struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// creates a new MongoDB instance
func NewMongoDB(uri, dbName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping Mongodb: %w", err)
	}

	collection := client.Database(dbName).Collection(EventCollection)

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "timestamp", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoDB{
		client:     client,
		collection: collection,
	}, nil
}

// closes the mongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// InsertEvent archives e. Redelivered events hit the _id or seq unique index
// and are reported as archived=false without an error.
func (m *MongoDB) InsertEvent(ctx context.Context, e *models.LedgerEvent) (archived bool, err error) {
	if _, err := m.collection.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert event: %w", err)
	}
	return true, nil
}
