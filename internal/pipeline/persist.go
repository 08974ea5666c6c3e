package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/crawler"
)

// PersistResult records what the persist stage did with the last item
// that reached it. The worker reads it after a successful run.
type PersistResult struct {
	Article crawler.Article
	Created bool
}

// PersistStage writes the item through the article store, optionally
// archiving the raw HTML first and publishing a stored-article event
// after. Archive and publish failures degrade to warnings; only the
// store write can fail the stage.
type PersistStage struct {
	store     crawler.ArticleStore
	archive   crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	topic     string
	logger    *zap.Logger

	last PersistResult
}

// NewPersistStage builds the stage. archive and publisher may be nil to
// disable those steps.
func NewPersistStage(store crawler.ArticleStore, archive crawler.BlobStore, publisher crawler.Publisher, hasher crawler.Hasher, topic string, logger *zap.Logger) *PersistStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistStage{
		store:     store,
		archive:   archive,
		publisher: publisher,
		hasher:    hasher,
		topic:     topic,
		logger:    logger,
	}
}

// Name identifies the stage in logs and metrics.
func (s *PersistStage) Name() string { return "persist" }

// Last returns the outcome of the most recent Process call. Valid only
// when the pipeline run succeeded; runners are used by one worker at a
// time.
func (s *PersistStage) Last() PersistResult { return s.last }

// Process upserts the article keyed on its normalized URL.
func (s *PersistStage) Process(ctx context.Context, item *crawler.ExtractedItem) error {
	article := crawler.ArticleFromItem(*item)

	if s.archive != nil && article.RawHTML != "" {
		uri, err := s.archiveRawHTML(ctx, article)
		if err != nil {
			s.logger.Warn("raw html archive failed",
				zap.String("url", article.URL),
				zap.Error(err),
			)
		} else {
			article.ArchiveURI = uri
		}
	}

	stored, created, err := s.store.Upsert(ctx, article)
	if err != nil {
		return fmt.Errorf("upsert article: %w", err)
	}
	s.last = PersistResult{Article: stored, Created: created}

	if s.publisher != nil {
		if _, err := s.publisher.Publish(ctx, s.topic, storedArticleEvent(stored, created)); err != nil {
			s.logger.Warn("stored-article event publish failed",
				zap.String("url", stored.URL),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("article persisted",
		zap.String("url", stored.URL),
		zap.Int64("id", stored.ID),
		zap.Bool("created", created),
	)
	return nil
}

// archiveRawHTML stores the page body under a content-addressed path so
// re-crawls of unchanged pages overwrite the same object.
func (s *PersistStage) archiveRawHTML(ctx context.Context, article crawler.Article) (string, error) {
	hash, err := s.hasher.Hash([]byte(article.RawHTML))
	if err != nil {
		return "", fmt.Errorf("hash raw html: %w", err)
	}
	path := fmt.Sprintf("raw/%s/%s.html", article.SourceDomain, hash)
	return s.archive.PutObject(ctx, path, "text/html; charset=utf-8", []byte(article.RawHTML))
}

func storedArticleEvent(article crawler.Article, created bool) map[string]any {
	return map[string]any{
		"id":            article.ID,
		"url":           article.URL,
		"title":         article.Title,
		"category":      article.Category,
		"source_domain": article.SourceDomain,
		"created":       created,
		"crawl_time":    article.CrawlTime,
	}
}
