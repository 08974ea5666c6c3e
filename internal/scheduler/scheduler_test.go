package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/crawler"
	"github.com/newsloom/crawler/internal/metrics"
	"github.com/newsloom/crawler/internal/pipeline"
	queuememory "github.com/newsloom/crawler/internal/queue/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("job-%d", g.next), nil
}

type recordedRun struct {
	id          int64
	lastCrawled time.Time
	success     int64
	failure     int64
	articles    int64
}

// fakeSourceStore serves a fixed source list and records RecordRun calls.
type fakeSourceStore struct {
	mu      sync.Mutex
	sources []crawler.CrawlSource
	runs    []recordedRun
}

func (s *fakeSourceStore) Create(_ context.Context, source crawler.CrawlSource) (crawler.CrawlSource, error) {
	return source, nil
}

func (s *fakeSourceStore) Get(_ context.Context, id int64) (crawler.CrawlSource, error) {
	for _, source := range s.sources {
		if source.ID == id {
			return source, nil
		}
	}
	return crawler.CrawlSource{}, crawler.ErrNotFound
}

func (s *fakeSourceStore) List(_ context.Context, enabledOnly bool) ([]crawler.CrawlSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []crawler.CrawlSource
	for _, source := range s.sources {
		if enabledOnly && !source.Enabled {
			continue
		}
		out = append(out, source)
	}
	return out, nil
}

func (s *fakeSourceStore) RecordRun(_ context.Context, id int64, lastCrawled time.Time, successDelta, failureDelta, articleDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, recordedRun{id, lastCrawled, successDelta, failureDelta, articleDelta})
	return nil
}

func (s *fakeSourceStore) recordedRuns() []recordedRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedRun, len(s.runs))
	copy(out, s.runs)
	return out
}

func newTestScheduler(t *testing.T, store *fakeSourceStore) (*Scheduler, *queuememory.Queue) {
	t.Helper()
	queue := queuememory.NewQueue(32)
	clock := fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	sched := New(store, queue, crawler.NewVisitTracker(), nil, clock, &sequenceIDs{},
		Config{TickInterval: time.Minute, MaxDepth: 2}, zap.NewNop())
	return sched, queue
}

func TestTickEnqueuesDueSources(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeSourceStore{sources: []crawler.CrawlSource{
		{ID: 1, Name: "due", URL: "https://due.example/news", Enabled: true, Interval: 30},
		{ID: 2, Name: "fresh", URL: "https://fresh.example/news", Enabled: true, Interval: 30,
			LastCrawled: now.Add(-5 * time.Minute)},
		{ID: 3, Name: "disabled", URL: "https://off.example/news", Enabled: false, Interval: 30},
	}}
	sched, queue := newTestScheduler(t, store)

	sched.Tick(context.Background(), now)

	require.Equal(t, 1, queue.Depth())
	job, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), job.SourceID)
	require.Equal(t, "https://due.example/news", job.URL)
	require.Equal(t, crawler.JobStatePending, job.State)

	// Scheduling stamps last_crawled with zero counter deltas.
	runs := store.recordedRuns()
	require.Len(t, runs, 1)
	require.Equal(t, int64(1), runs[0].id)
	require.Equal(t, now, runs[0].lastCrawled)
	require.Zero(t, runs[0].success)
}

func TestTickSkipsInFlightSource(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeSourceStore{sources: []crawler.CrawlSource{
		{ID: 1, Name: "due", URL: "https://due.example/news", Enabled: true, Interval: 30},
	}}
	sched, queue := newTestScheduler(t, store)

	sched.Tick(context.Background(), now)
	sched.Tick(context.Background(), now.Add(time.Hour))

	require.Equal(t, 1, queue.Depth(), "in-flight source is not enqueued twice")
}

func TestTickResetsDedupSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := pipeline.NewSession()
	queue := queuememory.NewQueue(32)
	sched := New(&fakeSourceStore{}, queue, crawler.NewVisitTracker(), session,
		fixedClock{now: now}, &sequenceIDs{},
		Config{TickInterval: time.Minute, MaxDepth: 2}, zap.NewNop())

	// A URL crawled during the previous sweep is marked in the session.
	require.True(t, session.MarkURL("https://example.com/story"))
	require.False(t, session.MarkURL("https://example.com/story"))

	sched.Tick(context.Background(), now.Add(time.Hour))

	// The next sweep sees it fresh, so an interval re-crawl reaches
	// persistence as an update instead of dropping as a duplicate.
	require.True(t, session.MarkURL("https://example.com/story"))
}

func TestTickEvictsFinishedJobs(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sched, _ := newTestScheduler(t, &fakeSourceStore{})

	finished, err := sched.Submit(context.Background(), "https://example.com/done", "", "")
	require.NoError(t, err)
	sched.HandleOutcome(context.Background(), crawler.JobOutcome{
		Job: finished, State: crawler.JobStateSucceeded, Stored: true,
	})
	queued, err := sched.Submit(context.Background(), "https://example.com/queued", "", "")
	require.NoError(t, err)

	// Inside the retention window the finished job stays queryable.
	sched.Tick(context.Background(), now.Add(time.Minute))
	_, err = sched.Job(finished.ID)
	require.NoError(t, err)

	// Past the window it is evicted; the queued job is untouched.
	sched.Tick(context.Background(), now.Add(2*time.Hour))
	_, err = sched.Job(finished.ID)
	require.ErrorIs(t, err, ErrJobNotFound)
	_, err = sched.Job(queued.ID)
	require.NoError(t, err)
}

func TestSubmitJoinsInFlightJob(t *testing.T) {
	t.Parallel()

	sched, queue := newTestScheduler(t, &fakeSourceStore{})

	first, err := sched.Submit(context.Background(), "https://example.com/story", "", "")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatePending, first.State)

	// Same URL, different surface form: normalization joins the job.
	second, err := sched.Submit(context.Background(), "HTTPS://EXAMPLE.COM/story#top", "", "")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, queue.Depth())
}

func TestSubmitRejectsBadURL(t *testing.T) {
	t.Parallel()

	sched, _ := newTestScheduler(t, &fakeSourceStore{})
	_, err := sched.Submit(context.Background(), "not a url", "", "")
	require.Error(t, err)
}

func TestSubmitBatchValidatesBeforeEnqueue(t *testing.T) {
	t.Parallel()

	sched, queue := newTestScheduler(t, &fakeSourceStore{})

	_, err := sched.SubmitBatch(context.Background(),
		[]string{"https://example.com/ok", "::broken::"}, "", "")
	require.Error(t, err)
	require.Zero(t, queue.Depth(), "a bad URL fails the batch before anything is enqueued")

	jobs, err := sched.SubmitBatch(context.Background(),
		[]string{"https://example.com/one", "https://example.com/two"}, "", "technology")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "technology", jobs[0].Category)
	require.Equal(t, 2, queue.Depth())
}

func TestJobLookupAndCancel(t *testing.T) {
	t.Parallel()

	sched, _ := newTestScheduler(t, &fakeSourceStore{})

	_, err := sched.Job("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	_, err = sched.Cancel("missing")
	require.ErrorIs(t, err, ErrJobNotFound)

	job, err := sched.Submit(context.Background(), "https://example.com/story", "", "")
	require.NoError(t, err)

	canceled, err := sched.Cancel(job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStateCanceled, canceled.State)
	require.True(t, sched.Canceled(job.ID))

	// Canceling frees the URL for resubmission.
	resubmitted, err := sched.Submit(context.Background(), "https://example.com/story", "", "")
	require.NoError(t, err)
	require.NotEqual(t, job.ID, resubmitted.ID)

	// Cancel of a terminal job is a no-op.
	again, err := sched.Cancel(job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStateCanceled, again.State)
}

func TestHandleOutcomeUpdatesCounters(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		outcome crawler.JobOutcome
		want    recordedRun
	}{
		{
			"stored article",
			crawler.JobOutcome{State: crawler.JobStateSucceeded, Stored: true},
			recordedRun{id: 1, success: 1, articles: 1},
		},
		{
			"dropped item still counts the run",
			crawler.JobOutcome{State: crawler.JobStateSucceeded, Dropped: true},
			recordedRun{id: 1, success: 1},
		},
		{
			"exhausted retries",
			crawler.JobOutcome{State: crawler.JobStateExhausted},
			recordedRun{id: 1, failure: 1},
		},
		{
			"hard failure",
			crawler.JobOutcome{State: crawler.JobStateFailed},
			recordedRun{id: 1, failure: 1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := &fakeSourceStore{}
			sched, _ := newTestScheduler(t, store)

			outcome := tc.outcome
			outcome.Job = crawler.CrawlJob{ID: "job-x", SourceID: 1, URL: "https://example.com/story"}
			sched.HandleOutcome(context.Background(), outcome)

			runs := store.recordedRuns()
			require.Len(t, runs, 1)
			require.Equal(t, tc.want, runs[0])
			require.True(t, runs[0].lastCrawled.IsZero(),
				"outcome counters never move last_crawled")
		})
	}
}

func TestHandleOutcomeSkipsAdHocAndCanceled(t *testing.T) {
	t.Parallel()

	store := &fakeSourceStore{}
	sched, _ := newTestScheduler(t, store)

	sched.HandleOutcome(context.Background(), crawler.JobOutcome{
		Job:    crawler.CrawlJob{ID: "adhoc", URL: "https://example.com/a"},
		State:  crawler.JobStateSucceeded,
		Stored: true,
	})
	sched.HandleOutcome(context.Background(), crawler.JobOutcome{
		Job:   crawler.CrawlJob{ID: "c", SourceID: 3, URL: "https://example.com/b"},
		State: crawler.JobStateCanceled,
	})

	require.Empty(t, store.recordedRuns())
}

func TestHandleOutcomeFollowsLinksWithinDepth(t *testing.T) {
	t.Parallel()

	store := &fakeSourceStore{}
	sched, queue := newTestScheduler(t, store)

	job := crawler.CrawlJob{
		ID: "root", SourceID: 1, SourceName: "example",
		URL: "https://example.com/news", Selector: "div.body", Category: "technology",
		Depth: 0,
	}
	links := []string{"https://example.com/a", "https://example.com/b"}

	sched.HandleOutcome(context.Background(), crawler.JobOutcome{
		Job: job, State: crawler.JobStateSucceeded, Stored: true, Links: links,
	})
	require.Equal(t, 2, queue.Depth())

	child, err := queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, child.Depth)
	require.Equal(t, int64(1), child.SourceID, "children inherit the source")
	require.Equal(t, "div.body", child.Selector)

	// The same links reported again stay deduplicated for the session.
	sched.HandleOutcome(context.Background(), crawler.JobOutcome{
		Job: job, State: crawler.JobStateSucceeded, Stored: true, Links: links,
	})
	require.Equal(t, 1, queue.Depth())
}

func TestHandleOutcomeStopsAtMaxDepth(t *testing.T) {
	t.Parallel()

	store := &fakeSourceStore{}
	sched, queue := newTestScheduler(t, store)

	sched.HandleOutcome(context.Background(), crawler.JobOutcome{
		Job: crawler.CrawlJob{
			ID: "leaf", SourceID: 1, URL: "https://example.com/a", Depth: 1,
		},
		State: crawler.JobStateSucceeded,
		Links: []string{"https://example.com/deeper"},
	})
	require.Zero(t, queue.Depth(), "links at the depth limit are not followed")
}
