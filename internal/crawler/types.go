// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobState represents the lifecycle state of a crawl job.
type JobState string

// Internal job lifecycle states. The API layer maps these onto its
// reported vocabulary at the boundary.
const (
	JobStatePending   JobState = "pending"
	JobStateFetching  JobState = "fetching"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateExhausted JobState = "exhausted"
	JobStateCanceled  JobState = "canceled"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateExhausted, JobStateCanceled:
		return true
	default:
		return false
	}
}

// CrawlSource is a configured origin crawled on an interval.
// The scheduler mutates only the runtime counters and LastCrawled;
// identity fields come from configuration or admin actions.
type CrawlSource struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Enabled      bool      `json:"enabled"`
	Interval     int       `json:"interval_minutes"`
	Selector     string    `json:"selector"`
	Category     string    `json:"category"`
	LastCrawled  time.Time `json:"last_crawled,omitempty"`
	ArticleCount int64     `json:"article_count"`
	SuccessCount int64     `json:"success_count"`
	FailureCount int64     `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Due reports whether the source should be crawled at the given time.
func (s CrawlSource) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastCrawled.IsZero() {
		return true
	}
	return now.Sub(s.LastCrawled) >= time.Duration(s.Interval)*time.Minute
}

// CrawlJob is the ephemeral unit of work handed to the worker pool.
// SourceID is zero for ad-hoc jobs submitted through the task API.
type CrawlJob struct {
	ID          string    `json:"id"`
	SourceID    int64     `json:"source_id,omitempty"`
	SourceName  string    `json:"source_name,omitempty"`
	URL         string    `json:"url"`
	Selector    string    `json:"selector,omitempty"`
	Category    string    `json:"category,omitempty"`
	Depth       int       `json:"depth"`
	Attempt     int       `json:"attempt"`
	ScheduledAt time.Time `json:"scheduled_at"`
	State       JobState  `json:"state"`
	Reason      string    `json:"reason,omitempty"`
}

// RawDocument is the output of a single fetch, consumed by the extractor
// and discarded afterwards.
type RawDocument struct {
	URL        string
	FinalURL   string
	StatusCode int
	Body       []byte
	Encoding   string
	Headers    http.Header
	FetchedAt  time.Time
	Duration   time.Duration
}

// Enrichment holds the NLP-derived fields attached to an item.
type Enrichment struct {
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Level     int      `json:"level"`
	Sentiment float64  `json:"sentiment"`
	Keywords  []string `json:"keywords"`
	Summary   string   `json:"summary"`
}

// ItemMetadata captures fetch context persisted alongside the article.
type ItemMetadata struct {
	StatusCode int                 `json:"status_code,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	CrawlDepth int                 `json:"crawl_depth,omitempty"`
}

// ExtractedItem flows through the pipeline stages by value. Stages add
// fields; once validation passes, URL, Title and Content are non-empty.
type ExtractedItem struct {
	URL          string
	Title        string
	Content      string
	Author       string
	PublishDate  time.Time
	Source       string
	SourceDomain string
	RawHTML      string

	Enrichment Enrichment
	Metadata   ItemMetadata

	SourceID  int64
	CrawlTime time.Time

	// Links holds same-site URLs discovered on the page, for
	// depth-limited follow-up scheduling. Not persisted.
	Links []string
}

// Article is the persisted superset of ExtractedItem. URL is the
// uniqueness key when present; manually created articles may omit it
// and sit outside the crawl pipeline's consistency guarantees.
type Article struct {
	ID           int64        `json:"id"`
	URL          string       `json:"url,omitempty"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	Author       string       `json:"author,omitempty"`
	PublishDate  time.Time    `json:"publish_date,omitempty"`
	Source       string       `json:"source,omitempty"`
	SourceDomain string       `json:"source_domain,omitempty"`
	RawHTML      string       `json:"-"`
	ArchiveURI   string       `json:"archive_uri,omitempty"`
	Category     string       `json:"category,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Level        int          `json:"level"`
	Sentiment    float64      `json:"sentiment"`
	Keywords     []string     `json:"keywords,omitempty"`
	Summary      string       `json:"summary,omitempty"`
	SourceID     int64        `json:"source_id,omitempty"`
	Metadata     ItemMetadata `json:"metadata,omitempty"`
	CrawlTime    time.Time    `json:"crawl_time"`
	UpdateTime   time.Time    `json:"update_time"`
}

// ArticleFromItem maps a pipeline item onto the persisted form.
func ArticleFromItem(item ExtractedItem) Article {
	return Article{
		URL:          item.URL,
		Title:        item.Title,
		Content:      item.Content,
		Author:       item.Author,
		PublishDate:  item.PublishDate,
		Source:       item.Source,
		SourceDomain: item.SourceDomain,
		RawHTML:      item.RawHTML,
		Category:     item.Enrichment.Category,
		Tags:         item.Enrichment.Tags,
		Level:        item.Enrichment.Level,
		Sentiment:    item.Enrichment.Sentiment,
		Keywords:     item.Enrichment.Keywords,
		Summary:      item.Enrichment.Summary,
		SourceID:     item.SourceID,
		Metadata:     item.Metadata,
		CrawlTime:    item.CrawlTime,
	}
}

// ArticleFilter narrows read-only article queries.
type ArticleFilter struct {
	Category     string
	SourceDomain string
	Limit        int
	Offset       int
}

// JobOutcome summarizes a finished pipeline run for the scheduler.
type JobOutcome struct {
	Job      CrawlJob
	State    JobState
	Stored   bool
	Dropped  bool
	Reason   string
	Links    []string
	Duration time.Duration
}
