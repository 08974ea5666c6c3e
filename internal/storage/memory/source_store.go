package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newsloom/crawler/internal/crawler"
)

// SourceStore keeps crawl sources in memory.
type SourceStore struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]crawler.CrawlSource
	byURL  map[string]int64
}

// NewSourceStore constructs an empty SourceStore.
func NewSourceStore() *SourceStore {
	return &SourceStore{
		nextID: 1,
		byID:   make(map[int64]crawler.CrawlSource),
		byURL:  make(map[string]int64),
	}
}

// Create inserts the source. A source with the same URL is refreshed
// instead, keeping its id and counters.
func (s *SourceStore) Create(_ context.Context, source crawler.CrawlSource) (crawler.CrawlSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if id, exists := s.byURL[source.URL]; exists {
		existing := s.byID[id]
		existing.Name = source.Name
		existing.Enabled = source.Enabled
		existing.Interval = source.Interval
		existing.Selector = source.Selector
		existing.Category = source.Category
		existing.UpdatedAt = now
		s.byID[id] = existing
		return existing, nil
	}

	source.ID = s.nextID
	s.nextID++
	source.CreatedAt = now
	source.UpdatedAt = now
	s.byID[source.ID] = source
	s.byURL[source.URL] = source.ID
	return source, nil
}

// Get fetches one source by ID.
func (s *SourceStore) Get(_ context.Context, id int64) (crawler.CrawlSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	source, ok := s.byID[id]
	if !ok {
		return crawler.CrawlSource{}, crawler.ErrNotFound
	}
	return source, nil
}

// List returns sources ordered by name, optionally enabled only.
func (s *SourceStore) List(_ context.Context, enabledOnly bool) ([]crawler.CrawlSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sources []crawler.CrawlSource
	for _, source := range s.byID {
		if enabledOnly && !source.Enabled {
			continue
		}
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, nil
}

// RecordRun adds the deltas to the run counters. A zero lastCrawled
// leaves the stored timestamp unchanged.
func (s *SourceStore) RecordRun(_ context.Context, id int64, lastCrawled time.Time, successDelta, failureDelta, articleDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.byID[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if !lastCrawled.IsZero() {
		source.LastCrawled = lastCrawled
	}
	source.SuccessCount += successDelta
	source.FailureCount += failureDelta
	source.ArticleCount += articleDelta
	source.UpdatedAt = time.Now().UTC()
	s.byID[id] = source
	return nil
}
