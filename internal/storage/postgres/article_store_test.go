package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/newsloom/crawler/internal/crawler"
)

func testArticle(now time.Time) crawler.Article {
	return crawler.Article{
		URL:          "https://example.com/story",
		Title:        "Story",
		Content:      "Body text long enough to be plausible.",
		Author:       "Jane Reporter",
		Source:       "Example News",
		SourceDomain: "example.com",
		Category:     "technology",
		Tags:         []string{"go"},
		Level:        3,
		Sentiment:    0.25,
		Keywords:     []string{"go", "crawler"},
		Summary:      "Body text",
		SourceID:     7,
		CrawlTime:    now,
	}
}

func expectUpsert(mock pgxmock.PgxPoolIface, article crawler.Article) *pgxmock.ExpectedQuery {
	return mock.ExpectQuery("INSERT INTO articles").
		WithArgs(
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
			[]byte(`{}`),
			article.CrawlTime,
		)
}

func TestUpsertCreatesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "articles")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	article := testArticle(now)

	expectUpsert(mock, article).WillReturnRows(
		pgxmock.NewRows([]string{"id", "crawl_time", "update_time", "created"}).
			AddRow(int64(42), now, now, true),
	)

	stored, created, err := store.Upsert(context.Background(), article)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(42), stored.ID)
	require.Equal(t, now, stored.CrawlTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "articles")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	firstCrawl := now.Add(-24 * time.Hour)
	article := testArticle(now)

	// xmax != 0 marks the conflict-update path; the original crawl_time
	// comes back from the existing row.
	expectUpsert(mock, article).WillReturnRows(
		pgxmock.NewRows([]string{"id", "crawl_time", "update_time", "created"}).
			AddRow(int64(42), firstCrawl, now, false),
	)

	stored, created, err := store.Upsert(context.Background(), article)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, firstCrawl, stored.CrawlTime)
	require.Equal(t, now, stored.UpdateTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFallsBackOnInsertRace(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "articles")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	article := testArticle(now)

	expectUpsert(mock, article).WillReturnError(&pgconn.PgError{Code: "23505"})

	mock.ExpectQuery("FROM articles WHERE url").
		WithArgs(article.URL).
		WillReturnRows(articleRows(int64(7), article, now))

	stored, created, err := store.Upsert(context.Background(), article)
	require.NoError(t, err)
	require.False(t, created, "race loser adopts the winner's row")
	require.Equal(t, int64(7), stored.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "articles")
	require.NoError(t, err)

	_, _, err = store.Upsert(context.Background(), crawler.Article{Title: "no url"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStoresURLLessArticle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "articles")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	article := crawler.Article{Title: "Manual", Content: "pasted in", CrawlTime: now}

	mock.ExpectQuery("INSERT INTO articles").
		WithArgs(
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
			[]byte(`{}`),
			article.CrawlTime,
		).
		WillReturnRows(
			pgxmock.NewRows([]string{"id", "crawl_time", "update_time"}).
				AddRow(int64(9), now, now),
		)

	stored, err := store.Insert(context.Background(), article)
	require.NoError(t, err)
	require.Equal(t, int64(9), stored.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByURLNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "articles")
	require.NoError(t, err)

	mock.ExpectQuery("FROM articles WHERE url").
		WithArgs("https://example.com/none").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetByURL(context.Background(), "https://example.com/none")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPassesFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewArticleStoreWithPool(mock, "articles")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	article := testArticle(now)

	mock.ExpectQuery("ORDER BY crawl_time DESC").
		WithArgs("technology", "example.com", 10, 20).
		WillReturnRows(articleRows(int64(1), article, now))

	articles, err := store.List(context.Background(), crawler.ArticleFilter{
		Category:     "technology",
		SourceDomain: "example.com",
		Limit:        10,
		Offset:       20,
	})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	require.Equal(t, article.URL, articles[0].URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewArticleStoreWithPool(mock, "articles; DROP TABLE articles")
	require.Error(t, err)
}

func articleRows(id int64, article crawler.Article, now time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "url", "title", "content", "author", "publish_date", "source",
		"source_domain", "archive_uri", "category", "tags", "level", "sentiment",
		"keywords", "summary", "source_id", "metadata", "crawl_time", "update_time",
	}).AddRow(
		id, article.URL, article.Title, article.Content, article.Author,
		nullTime(article.PublishDate), article.Source, article.SourceDomain,
		article.ArchiveURI, article.Category, article.Tags, article.Level,
		article.Sentiment, article.Keywords, article.Summary, article.SourceID,
		[]byte(`{}`), now, now,
	)
}
