// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newsloom/crawler/internal/crawler"
)

// ArticleStore keeps articles in memory with the same upsert semantics
// as the Postgres store.
type ArticleStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]crawler.Article
	byURL  map[string]int64
}

// NewArticleStore constructs an empty ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		nextID: 1,
		byID:   make(map[int64]crawler.Article),
		byURL:  make(map[string]int64),
	}
}

// Upsert inserts the article or refreshes the row with the same URL,
// preserving the original id and crawl_time.
func (s *ArticleStore) Upsert(_ context.Context, article crawler.Article) (crawler.Article, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if id, exists := s.byURL[article.URL]; exists {
		existing := s.byID[id]
		article.ID = existing.ID
		article.CrawlTime = existing.CrawlTime
		article.UpdateTime = now
		s.byID[id] = article
		return article, false, nil
	}

	article.ID = s.nextID
	s.nextID++
	if article.CrawlTime.IsZero() {
		article.CrawlTime = now
	}
	article.UpdateTime = article.CrawlTime
	s.byID[article.ID] = article
	s.byURL[article.URL] = article.ID
	return article, true, nil
}

// Insert stores a URL-less article without any uniqueness check.
func (s *ArticleStore) Insert(_ context.Context, article crawler.Article) (crawler.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	article.ID = s.nextID
	s.nextID++
	if article.CrawlTime.IsZero() {
		article.CrawlTime = time.Now().UTC()
	}
	article.UpdateTime = article.CrawlTime
	s.byID[article.ID] = article
	return article, nil
}

// GetByURL fetches the article with the given URL.
func (s *ArticleStore) GetByURL(_ context.Context, url string) (crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return crawler.Article{}, crawler.ErrNotFound
	}
	return s.byID[id], nil
}

// Get fetches an article by ID.
func (s *ArticleStore) Get(_ context.Context, id int64) (crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.byID[id]
	if !ok {
		return crawler.Article{}, crawler.ErrNotFound
	}
	return article, nil
}

// List returns articles newest first, filtered by category and source
// domain when set.
func (s *ArticleStore) List(_ context.Context, filter crawler.ArticleFilter) ([]crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var articles []crawler.Article
	for _, article := range s.byID {
		if filter.Category != "" && article.Category != filter.Category {
			continue
		}
		if filter.SourceDomain != "" && article.SourceDomain != filter.SourceDomain {
			continue
		}
		articles = append(articles, article)
	}
	sort.Slice(articles, func(i, j int) bool {
		if articles[i].CrawlTime.Equal(articles[j].CrawlTime) {
			return articles[i].ID > articles[j].ID
		}
		return articles[i].CrawlTime.After(articles[j].CrawlTime)
	})

	offset := filter.Offset
	if offset > len(articles) {
		offset = len(articles)
	}
	articles = articles[offset:]
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(articles) > limit {
		articles = articles[:limit]
	}
	return articles, nil
}
