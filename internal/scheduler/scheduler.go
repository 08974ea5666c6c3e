// Package scheduler turns configured crawl sources and ad-hoc
// submissions into queue jobs, tracks job lifecycles, and folds worker
// outcomes back into source counters.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/crawler"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Config controls Scheduler behavior.
type Config struct {
	TickInterval time.Duration
	MaxDepth     int
	// JobRetention bounds how long finished jobs stay queryable
	// through the status interface before eviction.
	JobRetention time.Duration
}

// Resetter clears per-sweep crawl state. The pipeline dedup session
// satisfies it, so each sweep sees previously crawled URLs as fresh
// and interval re-crawls reach the persistence layer as updates.
type Resetter interface {
	Reset()
}

// jobRecord pairs a tracked job with the time it reached a terminal
// state, for retention-based eviction.
type jobRecord struct {
	job    crawler.CrawlJob
	doneAt time.Time
}

// Scheduler owns the crawl loop bookkeeping: which sources are due,
// which URLs are in flight, and what each job's current state is.
type Scheduler struct {
	sources crawler.SourceStore
	queue   crawler.Queue
	tracker *crawler.VisitTracker
	session Resetter
	clock   crawler.Clock
	ids     crawler.IDGenerator
	cfg     Config
	logger  *zap.Logger

	mu       sync.Mutex
	jobs     map[string]jobRecord
	inFlight map[string]string

	cron *cron.Cron
}

// New constructs a Scheduler. session may be nil when no dedup state
// needs clearing between sweeps.
func New(
	sources crawler.SourceStore,
	queue crawler.Queue,
	tracker *crawler.VisitTracker,
	session Resetter,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.JobRetention <= 0 {
		cfg.JobRetention = time.Hour
	}
	return &Scheduler{
		sources:  sources,
		queue:    queue,
		tracker:  tracker,
		session:  session,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
		jobs:     make(map[string]jobRecord),
		inFlight: make(map[string]string),
	}
}

// Run ticks on the configured interval until the context ends. The
// first tick fires immediately so enabled sources are crawled at boot.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Tick(ctx, s.clock.Now())

	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	spec := fmt.Sprintf("@every %s", s.cfg.TickInterval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.Tick(ctx, s.clock.Now())
	}); err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	s.cron.Start()

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return nil
}

// Tick starts a sweep: it clears the dedup session, evicts finished
// jobs past their retention, and enqueues one job per due source. A
// source whose URL is still in flight from a previous run is skipped,
// never double-crawled.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if s.session != nil {
		s.session.Reset()
	}
	s.evictFinished(now)

	sources, err := s.sources.List(ctx, true)
	if err != nil {
		s.logger.Error("list sources failed", zap.Error(err))
		return
	}

	for _, source := range sources {
		if !source.Due(now) {
			continue
		}
		job, created, err := s.enqueueSource(ctx, source, now)
		if err != nil {
			s.logger.Error("enqueue source failed",
				zap.String("source", source.Name),
				zap.Error(err),
			)
			continue
		}
		if !created {
			s.logger.Debug("source crawl already in flight",
				zap.String("source", source.Name),
				zap.String("job_id", job.ID),
			)
			continue
		}
		// Stamp last_crawled at scheduling time so the next tick
		// does not re-trigger the same source.
		if err := s.sources.RecordRun(ctx, source.ID, now, 0, 0, 0); err != nil {
			s.logger.Error("record run start failed",
				zap.String("source", source.Name),
				zap.Error(err),
			)
		}
		s.logger.Info("source crawl scheduled",
			zap.String("source", source.Name),
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
		)
	}
}

func (s *Scheduler) enqueueSource(ctx context.Context, source crawler.CrawlSource, now time.Time) (crawler.CrawlJob, bool, error) {
	normalized, err := crawler.NormalizeURL(source.URL)
	if err != nil {
		return crawler.CrawlJob{}, false, fmt.Errorf("source url: %w", err)
	}
	return s.schedule(ctx, crawler.CrawlJob{
		SourceID:    source.ID,
		SourceName:  source.Name,
		URL:         normalized,
		Selector:    source.Selector,
		Category:    source.Category,
		Depth:       0,
		ScheduledAt: now,
	})
}

// Submit enqueues an ad-hoc crawl for one URL. If the same normalized
// URL is already pending or fetching, the existing job is returned
// instead of creating a duplicate.
func (s *Scheduler) Submit(ctx context.Context, rawURL, selector, category string) (crawler.CrawlJob, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("submit url: %w", err)
	}
	job, _, err := s.schedule(ctx, crawler.CrawlJob{
		URL:         normalized,
		Selector:    selector,
		Category:    category,
		Depth:       0,
		ScheduledAt: s.clock.Now(),
	})
	return job, err
}

// SubmitBatch enqueues several URLs, returning one job per URL. A bad
// URL fails the whole batch before anything is enqueued.
func (s *Scheduler) SubmitBatch(ctx context.Context, rawURLs []string, selector, category string) ([]crawler.CrawlJob, error) {
	normalized := make([]string, 0, len(rawURLs))
	for _, raw := range rawURLs {
		u, err := crawler.NormalizeURL(raw)
		if err != nil {
			return nil, fmt.Errorf("submit url %q: %w", raw, err)
		}
		normalized = append(normalized, u)
	}

	jobs := make([]crawler.CrawlJob, 0, len(normalized))
	for _, u := range normalized {
		job, _, err := s.schedule(ctx, crawler.CrawlJob{
			URL:         u,
			Selector:    selector,
			Category:    category,
			Depth:       0,
			ScheduledAt: s.clock.Now(),
		})
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// schedule registers and enqueues the job unless its URL is already in
// flight, in which case the existing job is returned with created=false.
func (s *Scheduler) schedule(ctx context.Context, job crawler.CrawlJob) (crawler.CrawlJob, bool, error) {
	s.mu.Lock()
	if existingID, inFlight := s.inFlight[job.URL]; inFlight {
		existing := s.jobs[existingID].job
		s.mu.Unlock()
		return existing, false, nil
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.mu.Unlock()
		return crawler.CrawlJob{}, false, fmt.Errorf("new job id: %w", err)
	}
	job.ID = id
	job.State = crawler.JobStatePending
	s.jobs[id] = jobRecord{job: job}
	s.inFlight[job.URL] = id
	s.mu.Unlock()

	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.mu.Lock()
		delete(s.jobs, id)
		delete(s.inFlight, job.URL)
		s.mu.Unlock()
		return crawler.CrawlJob{}, false, fmt.Errorf("enqueue job: %w", err)
	}
	return job, true, nil
}

// Job returns the tracked state of a job.
func (s *Scheduler) Job(id string) (crawler.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return crawler.CrawlJob{}, ErrJobNotFound
	}
	return rec.job, nil
}

// Cancel marks a non-terminal job canceled. Queued jobs are skipped at
// dequeue; a job already fetching finishes its current attempt.
func (s *Scheduler) Cancel(id string) (crawler.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return crawler.CrawlJob{}, ErrJobNotFound
	}
	if rec.job.State.Terminal() {
		return rec.job, nil
	}
	rec.job.State = crawler.JobStateCanceled
	rec.job.Reason = "canceled by request"
	rec.doneAt = s.clock.Now()
	s.jobs[id] = rec
	delete(s.inFlight, rec.job.URL)
	return rec.job, nil
}

// Canceled reports whether the job was canceled while queued. Wired
// into the worker as its skip check.
func (s *Scheduler) Canceled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	return ok && rec.job.State == crawler.JobStateCanceled
}

// evictFinished drops terminal jobs older than the retention window so
// the registry cannot grow without bound across sweeps. Running and
// queued jobs are never touched.
func (s *Scheduler) evictFinished(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.jobs {
		if !rec.job.State.Terminal() || rec.doneAt.IsZero() {
			continue
		}
		if now.Sub(rec.doneAt) >= s.cfg.JobRetention {
			delete(s.jobs, id)
		}
	}
}

// HandleOutcome is the worker callback. It finalizes job state, updates
// source counters, and schedules same-site follow-up links while the
// depth limit allows.
func (s *Scheduler) HandleOutcome(ctx context.Context, outcome crawler.JobOutcome) {
	s.mu.Lock()
	rec, tracked := s.jobs[outcome.Job.ID]
	if tracked && !rec.job.State.Terminal() {
		rec.job.State = outcome.State
		rec.job.Reason = outcome.Reason
		if outcome.State.Terminal() {
			rec.doneAt = s.clock.Now()
		}
		s.jobs[outcome.Job.ID] = rec
	}
	delete(s.inFlight, outcome.Job.URL)
	s.mu.Unlock()

	if outcome.Job.SourceID != 0 && outcome.State != crawler.JobStateCanceled {
		var success, failure, articles int64
		switch outcome.State {
		case crawler.JobStateSucceeded:
			success = 1
			if outcome.Stored {
				articles = 1
			}
		default:
			failure = 1
		}
		if err := s.sources.RecordRun(ctx, outcome.Job.SourceID, time.Time{}, success, failure, articles); err != nil {
			s.logger.Error("record run failed",
				zap.Int64("source_id", outcome.Job.SourceID),
				zap.Error(err),
			)
		}
	}

	s.followLinks(ctx, outcome)
}

// followLinks enqueues discovered links one level deeper, capped by
// MaxDepth and deduplicated for the process lifetime.
func (s *Scheduler) followLinks(ctx context.Context, outcome crawler.JobOutcome) {
	depth := outcome.Job.Depth + 1
	if depth >= s.cfg.MaxDepth || len(outcome.Links) == 0 {
		return
	}
	for _, link := range outcome.Links {
		if !s.tracker.MarkIfNew(link) {
			continue
		}
		job, created, err := s.schedule(ctx, crawler.CrawlJob{
			SourceID:    outcome.Job.SourceID,
			SourceName:  outcome.Job.SourceName,
			URL:         link,
			Selector:    outcome.Job.Selector,
			Category:    outcome.Job.Category,
			Depth:       depth,
			ScheduledAt: s.clock.Now(),
		})
		if err != nil {
			s.logger.Warn("follow link enqueue failed",
				zap.String("url", link),
				zap.Error(err),
			)
			continue
		}
		if created {
			s.logger.Debug("follow link scheduled",
				zap.String("job_id", job.ID),
				zap.String("url", link),
				zap.Int("depth", depth),
			)
		}
	}
}
