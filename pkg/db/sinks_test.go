package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests talk to real services and only run when pointed at one.

func TestMongoSinkRoundTrip(t *testing.T) {
	uri := os.Getenv("PAPERS_TEST_MONGO_URI")
	if uri == "" || testing.Short() {
		t.Skip("PAPERS_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := NewClient(uri, "papers_crawler_test", "articles_"+time.Now().Format("150405"))
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	entry, rec := sampleRecord("mongo-1")
	require.NoError(t, client.SaveRecord(ctx, entry, rec))
	require.NoError(t, client.SaveRecord(ctx, entry, rec))

	ids, err := client.KnownIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mongo-1"}, ids)

	require.NoError(t, client.collection.Drop(ctx))
}

func TestPostgresSinkRoundTrip(t *testing.T) {
	dsn := os.Getenv("PAPERS_TEST_POSTGRES_DSN")
	if dsn == "" || testing.Short() {
		t.Skip("PAPERS_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := NewPostgresClient(PostgresConfig{DSN: dsn})
	require.NoError(t, client.Connect(ctx))
	defer client.Close()

	table := "papers_articles_test_" + time.Now().Format("150405")
	sink, err := NewSQLSink(client, table)
	require.NoError(t, err)
	require.NoError(t, sink.EnsureSchema(ctx))
	defer client.DB().ExecContext(ctx, "DROP TABLE "+table)

	entry, rec := sampleRecord("pg-1")
	require.NoError(t, sink.SaveRecord(ctx, entry, rec))
	require.NoError(t, sink.SaveRecord(ctx, entry, rec))

	ids, err := sink.KnownIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pg-1"}, ids)
}
