package db

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"papers-crawler/pkg/domain"
)

// Client wraps the MongoDB client and the collection records are mirrored to.
type Client struct {
	mongoClient *mongo.Client
	database    *mongo.Database
	collection  *mongo.Collection
}

// NewClient creates a new database client
func NewClient(connectionString, databaseName, collectionName string) *Client {
	clientOptions := options.Client().ApplyURI(connectionString)
	mongoClient, err := mongo.Connect(context.Background(), clientOptions)
	if err != nil {
		// Return client with nil - error will be caught during Connect()
		return &Client{}
	}

	database := mongoClient.Database(databaseName)
	collection := database.Collection(collectionName)

	return &Client{
		mongoClient: mongoClient,
		database:    database,
		collection:  collection,
	}
}

// Connect establishes connection to MongoDB
func (c *Client) Connect(ctx context.Context) error {
	if c.mongoClient == nil {
		return fmt.Errorf("mongo client not initialized")
	}
	return c.mongoClient.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (c *Client) Close(ctx context.Context) error {
	if c.mongoClient == nil {
		return nil
	}
	return c.mongoClient.Disconnect(ctx)
}

// SaveRecord upserts the record keyed by external id.
func (c *Client) SaveRecord(ctx context.Context, entry domain.Persisted, rec *domain.ExtractedRecord) error {
	if c.collection == nil {
		return fmt.Errorf("collection not initialized")
	}

	row := NewArticleRow(entry, rec)
	doc := bson.D{
		{Key: "external_id", Value: row.ExternalID},
		{Key: "target", Value: row.Target},
		{Key: "title", Value: row.Title},
		{Key: "url", Value: row.URL},
		{Key: "path", Value: row.Path},
		{Key: "published_on", Value: row.PublishedOn},
		{Key: "fields", Value: fieldsDoc(row.Fields)},
		{Key: "saved_at", Value: row.SavedAt},
	}

	filter := bson.M{"external_id": row.ExternalID}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)

	_, err := c.collection.UpdateOne(ctx, filter, update, opts)
	return err
}

// fieldsDoc keeps the record's key order in the stored document.
func fieldsDoc(f *domain.Fields) bson.D {
	if f == nil {
		return bson.D{}
	}
	doc := make(bson.D, 0, f.Len())
	for _, it := range f.Items() {
		doc = append(doc, bson.E{Key: it.Key, Value: it.Value})
	}
	return doc
}

// KnownIDs fetches every stored external id.
func (c *Client) KnownIDs(ctx context.Context) ([]string, error) {
	if c.collection == nil {
		return nil, fmt.Errorf("collection not initialized")
	}

	cursor, err := c.collection.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"external_id": 1, "_id": 0}))
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var result struct {
			ExternalID string `bson:"external_id"`
		}
		if err := cursor.Decode(&result); err != nil {
			continue // Skip invalid documents
		}
		if result.ExternalID != "" {
			ids = append(ids, result.ExternalID)
		}
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}

	return ids, nil
}
