package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/newsloom/crawler/internal/crawler"
)

// Session holds the per-crawl-run seen sets. It is the only state
// shared between concurrent pipeline runs, so all access goes through
// its mutex. Cross-session duplicates are the persistence layer's
// problem, not this one's.
type Session struct {
	mu            sync.Mutex
	seenURLs      map[string]struct{}
	contentHashes map[string]struct{}
}

// NewSession creates an empty dedup session.
func NewSession() *Session {
	return &Session{
		seenURLs:      make(map[string]struct{}),
		contentHashes: make(map[string]struct{}),
	}
}

// MarkURL registers the URL, returning false if it was already seen.
func (s *Session) MarkURL(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seenURLs[url]; dup {
		return false
	}
	s.seenURLs[url] = struct{}{}
	return true
}

// MarkContent registers the content hash, returning false on a duplicate.
func (s *Session) MarkContent(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.contentHashes[hash]; dup {
		return false
	}
	s.contentHashes[hash] = struct{}{}
	return true
}

// Reset clears both sets for the next crawl run.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenURLs = make(map[string]struct{})
	s.contentHashes = make(map[string]struct{})
}

// DedupStage drops items whose URL or content hash was already seen in
// the current session. URL and content are registered atomically with
// the check, so two racing pipelines cannot both pass.
type DedupStage struct {
	session *Session
	hasher  crawler.Hasher
}

// NewDedupStage builds the stage around an injected session.
func NewDedupStage(session *Session, hasher crawler.Hasher) *DedupStage {
	return &DedupStage{session: session, hasher: hasher}
}

// Name identifies the stage in logs and metrics.
func (s *DedupStage) Name() string { return "dedup" }

// Process checks the URL first, then the whitespace-normalized content
// hash.
func (s *DedupStage) Process(_ context.Context, item *crawler.ExtractedItem) error {
	if !s.session.MarkURL(item.URL) {
		return crawler.Dropf(crawler.DropDuplicateURL, "%s", item.URL)
	}

	normalized := strings.Join(strings.Fields(item.Content), " ")
	hash, err := s.hasher.Hash([]byte(normalized))
	if err != nil {
		return fmt.Errorf("hash content: %w", err)
	}
	if !s.session.MarkContent(hash) {
		return crawler.Dropf(crawler.DropDuplicateContent, "%s", item.URL)
	}
	return nil
}
