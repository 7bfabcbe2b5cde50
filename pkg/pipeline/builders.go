package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"papers-crawler/pkg/config"
	"papers-crawler/pkg/db"
	"papers-crawler/pkg/fetcher"
	"papers-crawler/pkg/httpclient"
	"papers-crawler/pkg/logger"
)

const (
	defaultMongoDatabase   = "papers"
	defaultMongoCollection = "articles"
)

// BuildOpener returns a browser opener when the browser is enabled and a
// plain HTTP opener otherwise.
func BuildOpener(cfg *config.Config, l *log.Logger) fetcher.Opener {
	if cfg.Browser.Enabled {
		return fetcher.NewBrowser(fetcher.BrowserOptionsFromConfig(cfg), l)
	}

	client := httpclient.NewClient(
		httpclient.BrowserClient,
		httpclient.WithTimeout(cfg.Retry.GetTimeout()),
		httpclient.WithUserAgent(cfg.Browser.UserAgent),
	)
	return fetcher.NewHTTP(client, cfg.Retry, l)
}

// Storage holds the resume index and the optional record sinks of a run.
type Storage struct {
	Index   *db.Index
	Sinks   []db.RecordSink
	Seeders []db.Seeder

	closers []func() error
}

// OpenStorage opens every store the config names. The index is required when
// configured; remote sinks that cannot be reached are skipped with a warning.
func OpenStorage(ctx context.Context, cfg *config.Config, l *log.Logger) (*Storage, error) {
	l = logger.Component(l, "storage")
	s := &Storage{}

	if path := cfg.Storage.IndexPath; path != "" {
		idx, err := db.OpenIndex(path)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		s.Index = idx
		s.closers = append(s.closers, idx.Close)
	}

	if mc := cfg.Storage.Mongo; mc.URI != "" {
		database := mc.Database
		if database == "" {
			database = defaultMongoDatabase
		}
		collection := mc.Collection
		if collection == "" {
			collection = defaultMongoCollection
		}
		client := db.NewClient(mc.URI, database, collection)
		if err := client.Connect(ctx); err != nil {
			l.Warn("mongo sink unavailable", "err", err)
			_ = client.Close(context.WithoutCancel(ctx))
		} else {
			s.add(client, func() error { return client.Close(context.WithoutCancel(ctx)) })
			l.Info("mongo sink enabled", "database", database, "collection", collection)
		}
	}

	if dsn := cfg.Storage.Postgres.DSN; dsn != "" {
		pg := db.NewPostgresClient(db.PostgresConfig{DSN: dsn})
		if sink, err := sqlSink(ctx, pg, pg.Connect); err != nil {
			l.Warn("postgres sink unavailable", "err", err)
			_ = pg.Close()
		} else {
			s.add(sink, pg.Close)
			l.Info("postgres sink enabled", "table", db.DefaultArticlesTable)
		}
	}

	if sc := cfg.Storage.Supabase; sc.URL != "" || sc.ConnectionString != "" {
		sb := db.NewSupabaseClient(db.SupabaseConfig{
			ConnectionString: sc.ConnectionString,
			URL:              sc.URL,
			Key:              sc.Key,
			Password:         sc.Password,
		})
		if sink, err := supabaseSink(ctx, sb); err != nil {
			l.Warn("supabase sink unavailable", "err", err)
			_ = sb.Close()
		} else {
			s.add(sink, sb.Close)
			l.Info("supabase sink enabled", "direct_db", sb.HasDirectDB())
		}
	}

	return s, nil
}

type remoteSink interface {
	db.RecordSink
	db.Seeder
}

func (s *Storage) add(sink remoteSink, closer func() error) {
	s.Sinks = append(s.Sinks, sink)
	s.Seeders = append(s.Seeders, sink)
	s.closers = append(s.closers, closer)
}

func sqlSink(ctx context.Context, provider db.DBProvider, connect func(context.Context) error) (*db.SQLSink, error) {
	if err := connect(ctx); err != nil {
		return nil, err
	}
	sink, err := db.NewSQLSink(provider, db.DefaultArticlesTable)
	if err != nil {
		return nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func supabaseSink(ctx context.Context, client *db.SupabaseClient) (*db.SupabaseSink, error) {
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	sink, err := db.NewSupabaseSink(client, db.DefaultArticlesTable)
	if err != nil {
		return nil, err
	}
	if err := sink.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

// Close releases every store, in reverse order of opening.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
