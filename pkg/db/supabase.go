package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	supabase "github.com/supabase-community/supabase-go"

	"papers-crawler/pkg/domain"
)

var errNoDirectDB = errors.New("supabase: no connection string or database password")

// SupabaseConfig locates a Supabase project. Records go through the project
// database when ConnectionString or Password is set, and through the REST
// API with Key otherwise.
type SupabaseConfig struct {
	// URL is the project URL, e.g. https://<ref>.supabase.co.
	URL string
	// Key is the service role key used by the REST API.
	Key string
	// Password is the database password, not the API key.
	Password         string
	ConnectionString string
}

// poolerParams keep pgx off prepared statements, which the Supabase pooler
// does not share between sessions.
var poolerParams = map[string]string{
	"sslmode":                  "require",
	"statement_cache_capacity": "0",
	"default_query_exec_mode":  "simple_protocol",
}

// SupabaseClient holds whichever of the two routes to the project could be
// opened.
type SupabaseClient struct {
	db   *sql.DB
	rest *supabase.Client
	cfg  SupabaseConfig
}

func NewSupabaseClient(cfg SupabaseConfig) *SupabaseClient {
	return &SupabaseClient{cfg: cfg}
}

// Connect prefers the project database and keeps the REST client as the
// fallback when the database cannot be reached.
func (c *SupabaseClient) Connect(ctx context.Context) error {
	if c.cfg.URL != "" && c.cfg.Key != "" {
		rest, err := supabase.NewClient(c.cfg.URL, c.cfg.Key, nil)
		if err != nil {
			return fmt.Errorf("supabase rest client: %w", err)
		}
		c.rest = rest
	}

	dsn, err := supabaseDSN(c.cfg)
	if err != nil {
		if c.rest != nil && errors.Is(err, errNoDirectDB) {
			return nil
		}
		return err
	}

	handle, err := openArticlePool(ctx, dsn, 0)
	if err != nil {
		if c.rest != nil {
			return nil
		}
		return fmt.Errorf("supabase database: %w", err)
	}
	c.db = handle
	return nil
}

func (c *SupabaseClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB implements DBProvider. It is nil in REST mode.
func (c *SupabaseClient) DB() *sql.DB {
	return c.db
}

// HasDirectDB reports whether records go through the project database.
func (c *SupabaseClient) HasDirectDB() bool {
	return c.db != nil
}

// supabaseDSN returns the pooler-ready connection string for cfg.
func supabaseDSN(cfg SupabaseConfig) (string, error) {
	dsn := cfg.ConnectionString
	if dsn == "" {
		if cfg.Password == "" || cfg.URL == "" {
			return "", errNoDirectDB
		}
		project, err := url.Parse(cfg.URL)
		if err != nil {
			return "", fmt.Errorf("supabase URL: %w", err)
		}
		ref, _, ok := strings.Cut(project.Hostname(), ".")
		if !ok || ref == "" {
			return "", fmt.Errorf("supabase URL %q is not <ref>.supabase.co", cfg.URL)
		}
		dsn = (&url.URL{
			Scheme: "postgresql",
			User:   url.UserPassword("postgres", cfg.Password),
			Host:   "db." + ref + ".supabase.co:5432",
			Path:   "/postgres",
		}).String()
	}

	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return "", fmt.Errorf("supabase connection string must be a postgres:// URL")
	}
	q := u.Query()
	for k, v := range poolerParams {
		if !q.Has(k) {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SupabaseSink writes the articles table over the project database when it
// is reachable and over the REST API otherwise.
type SupabaseSink struct {
	client *SupabaseClient
	sql    *SQLSink
}

func NewSupabaseSink(client *SupabaseClient, table string) (*SupabaseSink, error) {
	sqlSink, err := NewSQLSink(client, table)
	if err != nil {
		return nil, err
	}
	return &SupabaseSink{client: client, sql: sqlSink}, nil
}

// EnsureSchema creates the table over the database. In REST mode the table
// must already exist.
func (s *SupabaseSink) EnsureSchema(ctx context.Context) error {
	if !s.client.HasDirectDB() {
		return nil
	}
	return s.sql.EnsureSchema(ctx)
}

func (s *SupabaseSink) SaveRecord(ctx context.Context, entry domain.Persisted, rec *domain.ExtractedRecord) error {
	if s.client.HasDirectDB() {
		return s.sql.SaveRecord(ctx, entry, rec)
	}
	if s.client.rest == nil {
		return fmt.Errorf("supabase client not connected")
	}

	row := NewArticleRow(entry, rec)
	_, _, err := s.client.rest.From(s.sql.table).Upsert(row, "external_id", "minimal", "").Execute()
	if err != nil {
		return fmt.Errorf("supabase upsert %s: %w", row.ExternalID, err)
	}
	return nil
}

func (s *SupabaseSink) KnownIDs(ctx context.Context) ([]string, error) {
	if s.client.HasDirectDB() {
		return s.sql.KnownIDs(ctx)
	}
	if s.client.rest == nil {
		return nil, fmt.Errorf("supabase client not connected")
	}

	var rows []struct {
		ExternalID string `json:"external_id"`
	}
	if _, err := s.client.rest.From(s.sql.table).Select("external_id", "", false).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("supabase select ids: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ExternalID)
	}
	return ids, nil
}
