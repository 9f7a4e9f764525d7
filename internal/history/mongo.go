package history

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoRecorder implements Recorder on a MongoDB collection.
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoRecorder connects to uri and verifies the connection.
func NewMongoRecorder(ctx context.Context, uri, database, collection string) (*MongoRecorder, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "started_at", Value: -1}},
		Options: options.Index().SetName("started_at_desc"),
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("creating history index: %w", err)
	}

	return &MongoRecorder{client: client, collection: coll}, nil
}

// Record inserts one run document.
func (m *MongoRecorder) Record(ctx context.Context, e Entry) error {
	if _, err := m.collection.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("recording run %s: %w", e.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (m *MongoRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := m.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	var out []Entry
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding run history: %w", err)
	}
	return out, nil
}

// Close disconnects the client.
func (m *MongoRecorder) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
