package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"coderoom/internal/models"
)

// MongoStore keeps documents in a collection with a unique roomId index.
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
}

// OpenMongo connects to uri and ensures the roomId index.
func OpenMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	s := NewMongoStore(client.Database(database).Collection(collection))
	s.client = client
	if _, err := s.col.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create roomId index: %w", err)
	}
	return s, nil
}

func NewMongoStore(col *mongo.Collection) *MongoStore {
	return &MongoStore{col: col}
}

func (s *MongoStore) FindByRoom(ctx context.Context, roomID string) (*models.Document, error) {
	var doc models.Document
	err := s.col.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MongoStore) FindOrCreate(ctx context.Context, roomID, defaultContent string) (*models.Document, error) {
	update := bson.M{"$setOnInsert": bson.M{
		"content":   defaultContent,
		"updatedAt": time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc models.Document
	err := s.col.FindOneAndUpdate(ctx, bson.M{"roomId": roomID}, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// a concurrent first join inserted the row between our match and insert
		return s.FindByRoom(ctx, roomID)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *MongoStore) Upsert(ctx context.Context, roomID, content string, updatedAt time.Time) error {
	update := bson.M{"$set": bson.M{
		"content":   content,
		"updatedAt": updatedAt.UTC(),
	}}
	_, err := s.col.UpdateOne(ctx, bson.M{"roomId": roomID}, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
