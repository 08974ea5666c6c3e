package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newsloom/crawler/internal/crawler"
)

// SourceStoreConfig controls the Postgres connection pool for crawl sources.
type SourceStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// SourceStore persists crawl sources and their run counters.
type SourceStore struct {
	pool  dbPool
	table string
}

// NewSourceStore creates a Postgres-backed SourceStore using the provided config.
func NewSourceStore(ctx context.Context, cfg SourceStoreConfig) (*SourceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_sources"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &SourceStore{pool: pool, table: table}, nil
}

// NewSourceStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSourceStoreWithPool(pool dbPool, table string) (*SourceStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_sources"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SourceStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *SourceStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts the source. A source with the same URL is refreshed
// instead, so config reloads stay idempotent.
func (s *SourceStore) Create(ctx context.Context, source crawler.CrawlSource) (crawler.CrawlSource, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (name, url, enabled, interval_minutes, selector, category)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (url) DO UPDATE SET
	name = EXCLUDED.name,
	enabled = EXCLUDED.enabled,
	interval_minutes = EXCLUDED.interval_minutes,
	selector = EXCLUDED.selector,
	category = EXCLUDED.category,
	updated_at = now()
RETURNING id, last_crawled, article_count, success_count, failure_count, created_at, updated_at`, s.table)

	var lastCrawled *time.Time
	err := s.pool.QueryRow(ctx, query,
		source.Name, source.URL, source.Enabled, source.Interval, source.Selector, source.Category,
	).Scan(
		&source.ID,
		&lastCrawled,
		&source.ArticleCount,
		&source.SuccessCount,
		&source.FailureCount,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return crawler.CrawlSource{}, fmt.Errorf("create source: %w", err)
	}
	if lastCrawled != nil {
		source.LastCrawled = *lastCrawled
	}
	return source, nil
}

const sourceColumns = `id, name, url, enabled, interval_minutes, selector, category,
	last_crawled, article_count, success_count, failure_count, created_at, updated_at`

// Get fetches one source by ID.
func (s *SourceStore) Get(ctx context.Context, id int64) (crawler.CrawlSource, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sourceColumns, s.table)
	source, err := scanSource(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlSource{}, crawler.ErrNotFound
		}
		return crawler.CrawlSource{}, err
	}
	return source, nil
}

// List returns sources ordered by name, optionally enabled only.
func (s *SourceStore) List(ctx context.Context, enabledOnly bool) ([]crawler.CrawlSource, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE ($1 = false OR enabled = true)
ORDER BY name`, sourceColumns, s.table)

	rows, err := s.pool.Query(ctx, query, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []crawler.CrawlSource
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

// RecordRun adds the deltas to the run counters. A zero lastCrawled
// leaves the stored timestamp unchanged.
func (s *SourceStore) RecordRun(ctx context.Context, id int64, lastCrawled time.Time, successDelta, failureDelta, articleDelta int64) error {
	var query string
	var args []any
	if lastCrawled.IsZero() {
		query = fmt.Sprintf(`
UPDATE %s SET
	success_count = success_count + $1,
	failure_count = failure_count + $2,
	article_count = article_count + $3,
	updated_at = now()
WHERE id = $4`, s.table)
		args = []any{successDelta, failureDelta, articleDelta, id}
	} else {
		query = fmt.Sprintf(`
UPDATE %s SET
	last_crawled = $1,
	success_count = success_count + $2,
	failure_count = failure_count + $3,
	article_count = article_count + $4,
	updated_at = now()
WHERE id = $5`, s.table)
		args = []any{lastCrawled, successDelta, failureDelta, articleDelta, id}
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func scanSource(row pgx.Row) (crawler.CrawlSource, error) {
	var source crawler.CrawlSource
	var lastCrawled *time.Time
	err := row.Scan(
		&source.ID,
		&source.Name,
		&source.URL,
		&source.Enabled,
		&source.Interval,
		&source.Selector,
		&source.Category,
		&lastCrawled,
		&source.ArticleCount,
		&source.SuccessCount,
		&source.FailureCount,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.CrawlSource{}, err
		}
		return crawler.CrawlSource{}, fmt.Errorf("scan source row: %w", err)
	}
	if lastCrawled != nil {
		source.LastCrawled = *lastCrawled
	}
	return source, nil
}
