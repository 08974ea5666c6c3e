package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a single URL and returns the raw document. It must
// not mutate shared state; politeness bookkeeping lives elsewhere.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (RawDocument, error)
}

// Extractor turns a raw document into an item using the source's
// selector hint as the first strategy in the fallback chain.
type Extractor interface {
	Extract(doc RawDocument, selectorHint string) (ExtractedItem, error)
}

// Analyzer is the NLP capability attached at the enrichment stage.
type Analyzer interface {
	Analyze(ctx context.Context, title, content string) (Enrichment, error)
}

// ArticleStore persists articles with upsert semantics keyed on URL.
type ArticleStore interface {
	// Upsert inserts the article or refreshes the existing row with
	// the same URL. Returns the stored article and whether a new row
	// was created.
	Upsert(ctx context.Context, article Article) (Article, bool, error)
	// Insert stores a URL-less article without any uniqueness check.
	Insert(ctx context.Context, article Article) (Article, error)
	GetByURL(ctx context.Context, url string) (Article, error)
	Get(ctx context.Context, id int64) (Article, error)
	List(ctx context.Context, filter ArticleFilter) ([]Article, error)
}

// SourceStore persists crawl sources and their runtime counters.
type SourceStore interface {
	Create(ctx context.Context, source CrawlSource) (CrawlSource, error)
	Get(ctx context.Context, id int64) (CrawlSource, error)
	List(ctx context.Context, enabledOnly bool) ([]CrawlSource, error)
	// RecordRun updates last_crawled and the counters after a crawl
	// run. Deltas are added to the stored values.
	RecordRun(ctx context.Context, id int64, lastCrawled time.Time, successDelta, failureDelta, articleDelta int64) error
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes stored-article events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job CrawlJob) error
	Dequeue(ctx context.Context) (CrawlJob, error)
}

// Hasher computes digests for content deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
