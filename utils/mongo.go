package utils

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/raushankrgupta/photo-restorer/models"
)

// AttemptsCollection holds one document per resolved restoration.
const AttemptsCollection = "attempts"

// ConnectMongo opens and pings a MongoDB connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	Logger.Info("Connected to MongoDB!")
	return client, nil
}

// DocumentInserter is the subset of *mongo.Collection the ledger writes through.
type DocumentInserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoLedger records restoration attempts.
type MongoLedger struct {
	Collection DocumentInserter
}

// NewMongoLedger returns a ledger writing to the attempts collection of databaseName.
func NewMongoLedger(client *mongo.Client, databaseName string) *MongoLedger {
	return &MongoLedger{Collection: client.Database(databaseName).Collection(AttemptsCollection)}
}

// Record inserts one attempt.
func (l *MongoLedger) Record(ctx context.Context, attempt *models.Attempt) error {
	if _, err := l.Collection.InsertOne(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}
