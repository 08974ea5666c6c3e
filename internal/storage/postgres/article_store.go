// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/newsloom/crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultListLimit = 50

// dbPool is the subset of pgxpool.Pool the stores use, kept narrow so
// tests can substitute pgxmock.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// ArticleStoreConfig controls the Postgres connection pool for articles.
type ArticleStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// ArticleStore persists articles in Postgres with URL-keyed upserts.
type ArticleStore struct {
	pool  dbPool
	table string
}

// NewArticleStore creates a Postgres-backed ArticleStore using the provided config.
func NewArticleStore(ctx context.Context, cfg ArticleStoreConfig) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "articles"
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
	return &ArticleStore{pool: pool, table: table}, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(pool dbPool, table string) (*ArticleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "articles"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ArticleStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts the article or refreshes the row with the same URL.
// The existing row keeps its id and crawl_time; everything else is
// replaced and update_time is bumped.
func (s *ArticleStore) Upsert(ctx context.Context, article crawler.Article) (crawler.Article, bool, error) {
	if article.URL == "" {
		return crawler.Article{}, false, fmt.Errorf("article url is required for upsert")
	}
	metadataJSON, err := json.Marshal(article.Metadata)
	if err != nil {
		return crawler.Article{}, false, fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	url, title, content, author, publish_date, source, source_domain,
	archive_uri, category, tags, level, sentiment, keywords, summary,
	source_id, metadata, crawl_time, update_time
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17
)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	author = EXCLUDED.author,
	publish_date = EXCLUDED.publish_date,
	source = EXCLUDED.source,
	source_domain = EXCLUDED.source_domain,
	archive_uri = EXCLUDED.archive_uri,
	category = EXCLUDED.category,
	tags = EXCLUDED.tags,
	level = EXCLUDED.level,
	sentiment = EXCLUDED.sentiment,
	keywords = EXCLUDED.keywords,
	summary = EXCLUDED.summary,
	source_id = EXCLUDED.source_id,
	metadata = EXCLUDED.metadata,
	update_time = EXCLUDED.update_time
RETURNING id, crawl_time, update_time, (xmax = 0)`, s.table)

	args := []any{
		article.URL,
		article.Title,
		article.Content,
		article.Author,
		nullTime(article.PublishDate),
		article.Source,
		article.SourceDomain,
		article.ArchiveURI,
		article.Category,
		article.Tags,
		article.Level,
		article.Sentiment,
		article.Keywords,
		article.Summary,
		article.SourceID,
		metadataJSON,
		article.CrawlTime,
	}

	var created bool
	var crawlTime, updateTime time.Time
	err = s.pool.QueryRow(ctx, query, args...).Scan(&article.ID, &crawlTime, &updateTime, &created)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost a concurrent insert race on the unique index.
			// The winner's row is authoritative.
			existing, getErr := s.GetByURL(ctx, article.URL)
			if getErr != nil {
				return crawler.Article{}, false, fmt.Errorf("upsert article: %w", err)
			}
			return existing, false, nil
		}
		return crawler.Article{}, false, fmt.Errorf("upsert article: %w", err)
	}
	article.CrawlTime = crawlTime
	article.UpdateTime = updateTime
	return article, created, nil
}

// Insert stores a URL-less article without any uniqueness check.
func (s *ArticleStore) Insert(ctx context.Context, article crawler.Article) (crawler.Article, error) {
	metadataJSON, err := json.Marshal(article.Metadata)
	if err != nil {
		return crawler.Article{}, fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	url, title, content, author, publish_date, source, source_domain,
	archive_uri, category, tags, level, sentiment, keywords, summary,
	source_id, metadata, crawl_time, update_time
) VALUES (
	NULLIF($1, ''),$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17
)
RETURNING id, crawl_time, update_time`, s.table)

	args := []any{
		article.URL,
		article.Title,
		article.Content,
		article.Author,
		nullTime(article.PublishDate),
		article.Source,
		article.SourceDomain,
		article.ArchiveURI,
		article.Category,
		article.Tags,
		article.Level,
		article.Sentiment,
		article.Keywords,
		article.Summary,
		article.SourceID,
		metadataJSON,
		article.CrawlTime,
	}
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&article.ID, &article.CrawlTime, &article.UpdateTime); err != nil {
		return crawler.Article{}, fmt.Errorf("insert article: %w", err)
	}
	return article, nil
}

const articleColumns = `id, COALESCE(url, ''), title, content, author, publish_date, source,
	source_domain, archive_uri, category, tags, level, sentiment, keywords,
	summary, source_id, metadata, crawl_time, update_time`

// GetByURL fetches the article with the given URL.
func (s *ArticleStore) GetByURL(ctx context.Context, url string) (crawler.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE url = $1`, articleColumns, s.table)
	return s.scanOne(s.pool.QueryRow(ctx, query, url))
}

// Get fetches an article by ID.
func (s *ArticleStore) Get(ctx context.Context, id int64) (crawler.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, articleColumns, s.table)
	return s.scanOne(s.pool.QueryRow(ctx, query, id))
}

// List returns articles newest first, filtered by category and source
// domain when set.
func (s *ArticleStore) List(ctx context.Context, filter crawler.ArticleFilter) ([]crawler.Article, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE ($1 = '' OR category = $1)
  AND ($2 = '' OR source_domain = $2)
ORDER BY crawl_time DESC
LIMIT $3 OFFSET $4`, articleColumns, s.table)

	rows, err := s.pool.Query(ctx, query, filter.Category, filter.SourceDomain, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var articles []crawler.Article
	for rows.Next() {
		article, err := s.scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return articles, nil
}

func (s *ArticleStore) scanOne(row pgx.Row) (crawler.Article, error) {
	article, err := s.scanArticle(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Article{}, crawler.ErrNotFound
		}
		return crawler.Article{}, err
	}
	return article, nil
}

func (s *ArticleStore) scanArticle(row pgx.Row) (crawler.Article, error) {
	var article crawler.Article
	var publishDate *time.Time
	var metadataJSON []byte
	err := row.Scan(
		&article.ID,
		&article.URL,
		&article.Title,
		&article.Content,
		&article.Author,
		&publishDate,
		&article.Source,
		&article.SourceDomain,
		&article.ArchiveURI,
		&article.Category,
		&article.Tags,
		&article.Level,
		&article.Sentiment,
		&article.Keywords,
		&article.Summary,
		&article.SourceID,
		&metadataJSON,
		&article.CrawlTime,
		&article.UpdateTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Article{}, err
		}
		return crawler.Article{}, fmt.Errorf("scan article row: %w", err)
	}
	if publishDate != nil {
		article.PublishDate = *publishDate
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &article.Metadata); err != nil {
			return crawler.Article{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return article, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
