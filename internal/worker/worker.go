// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/crawler"
	"github.com/newsloom/crawler/internal/metrics"
	"github.com/newsloom/crawler/internal/pipeline"
)

// OutcomeFunc receives the result of every processed job. The scheduler
// uses it for source counters and follow-up link scheduling.
type OutcomeFunc func(ctx context.Context, outcome crawler.JobOutcome)

// SkipFunc lets the job owner veto a dequeued job before any work
// happens, which is how cancellation of queued jobs takes effect.
type SkipFunc func(jobID string) bool

// Worker consumes crawl jobs and executes fetch, extract and the item
// pipeline. Each worker owns its own pipeline runner so persist-stage
// results are never shared.
type Worker struct {
	queue     crawler.Queue
	limiter   *crawler.DomainLimiter
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	runner    *pipeline.Runner
	persist   *pipeline.PersistStage
	retry     crawler.RetryPolicy
	clock     crawler.Clock
	outcome   OutcomeFunc
	skip      SkipFunc
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	limiter *crawler.DomainLimiter,
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	runner *pipeline.Runner,
	persist *pipeline.PersistStage,
	retry crawler.RetryPolicy,
	clock crawler.Clock,
	outcome OutcomeFunc,
	skip SkipFunc,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if outcome == nil {
		outcome = func(context.Context, crawler.JobOutcome) {}
	}
	if skip == nil {
		skip = func(string) bool { return false }
	}
	return &Worker{
		queue:     queue,
		limiter:   limiter,
		fetcher:   fetcher,
		extractor: extractor,
		runner:    runner,
		persist:   persist,
		retry:     retry,
		clock:     clock,
		outcome:   outcome,
		skip:      skip,
		logger:    logger,
	}
}

// Run blocks, consuming jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID), zap.String("url", job.URL))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job crawler.CrawlJob) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	started := w.clock.Now()
	if w.skip(job.ID) {
		w.finish(ctx, crawler.JobOutcome{
			Job:    job,
			State:  crawler.JobStateCanceled,
			Reason: "canceled before fetch",
		})
		return
	}
	job.State = crawler.JobStateFetching

	doc, err := w.fetchPolitely(ctx, job)
	if err != nil {
		state := crawler.JobStateFailed
		var fetchErr *crawler.FetchError
		if errors.As(err, &fetchErr) && fetchErr.Retryable() {
			state = crawler.JobStateExhausted
		}
		w.logger.Warn("fetch failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(err),
		)
		w.finish(ctx, crawler.JobOutcome{
			Job:      job,
			State:    state,
			Reason:   err.Error(),
			Duration: w.clock.Now().Sub(started),
		})
		return
	}

	item, err := w.extractor.Extract(doc, job.Selector)
	if err != nil {
		w.finishExtractFailure(ctx, job, started, err)
		return
	}
	item.SourceID = job.SourceID
	item.Metadata.CrawlDepth = job.Depth

	processed, err := w.runner.Run(ctx, item)
	if err != nil {
		if drop, ok := crawler.AsDrop(err); ok {
			w.finish(ctx, crawler.JobOutcome{
				Job:      job,
				State:    crawler.JobStateSucceeded,
				Dropped:  true,
				Reason:   string(drop.Reason),
				Links:    processed.Links,
				Duration: w.clock.Now().Sub(started),
			})
			return
		}
		w.logger.Error("pipeline failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(err),
		)
		w.finish(ctx, crawler.JobOutcome{
			Job:      job,
			State:    crawler.JobStateFailed,
			Reason:   err.Error(),
			Duration: w.clock.Now().Sub(started),
		})
		return
	}

	result := w.persist.Last()
	metrics.ObserveArticle(result.Created)
	w.finish(ctx, crawler.JobOutcome{
		Job:      job,
		State:    crawler.JobStateSucceeded,
		Stored:   true,
		Links:    processed.Links,
		Duration: w.clock.Now().Sub(started),
	})
}

// fetchPolitely waits for the domain slot and rate limit, then runs the
// attempt loop under the retry policy.
func (w *Worker) fetchPolitely(ctx context.Context, job crawler.CrawlJob) (crawler.RawDocument, error) {
	waitStart := w.clock.Now()
	release, err := w.limiter.Acquire(ctx, job.URL)
	if err != nil {
		return crawler.RawDocument{}, fmt.Errorf("acquire domain slot: %w", err)
	}
	defer release()
	metrics.ObserveRateLimitDelay(crawler.Domain(job.URL), w.clock.Now().Sub(waitStart))

	var lastErr error
	for attempt := 1; ; attempt++ {
		doc, err := w.fetcher.Fetch(ctx, job.URL)
		if err == nil {
			metrics.ObserveFetch(job.URL, strconv.Itoa(doc.StatusCode), len(doc.Body), doc.Duration)
			return doc, nil
		}
		lastErr = err
		metrics.ObserveFetch(job.URL, fetchErrorStatus(err), 0, 0)

		if !w.retry.ShouldRetry(err, attempt) {
			return crawler.RawDocument{}, lastErr
		}
		metrics.ObserveRetry(job.URL)
		backoff := w.retry.Backoff(attempt)
		w.logger.Debug("retrying fetch",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return crawler.RawDocument{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

func (w *Worker) finishExtractFailure(ctx context.Context, job crawler.CrawlJob, started time.Time, err error) {
	if drop, ok := crawler.AsDrop(err); ok {
		metrics.ObserveDrop("extract", string(drop.Reason))
		w.finish(ctx, crawler.JobOutcome{
			Job:      job,
			State:    crawler.JobStateSucceeded,
			Dropped:  true,
			Reason:   string(drop.Reason),
			Duration: w.clock.Now().Sub(started),
		})
		return
	}
	w.logger.Error("extract failed",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Error(err),
	)
	w.finish(ctx, crawler.JobOutcome{
		Job:      job,
		State:    crawler.JobStateFailed,
		Reason:   err.Error(),
		Duration: w.clock.Now().Sub(started),
	})
}

func (w *Worker) finish(ctx context.Context, outcome crawler.JobOutcome) {
	outcome.Job.State = outcome.State
	metrics.ObserveJob(string(outcome.State))
	w.outcome(ctx, outcome)
}

func fetchErrorStatus(err error) string {
	var fetchErr *crawler.FetchError
	if errors.As(err, &fetchErr) {
		if fetchErr.StatusCode > 0 {
			return strconv.Itoa(fetchErr.StatusCode)
		}
		return string(fetchErr.Kind)
	}
	return "error"
}
