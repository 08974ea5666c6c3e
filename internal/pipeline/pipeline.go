// Package pipeline composes the item processing stages: validation,
// deduplication, enrichment and persistence. Stages are applied in
// order; any stage may drop the item with a tagged reason.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/newsloom/crawler/internal/crawler"
	"github.com/newsloom/crawler/internal/metrics"
)

// Stage transforms an item in place or rejects it. Rejections are
// *crawler.DropError values; any other error is a stage failure.
type Stage interface {
	Name() string
	Process(ctx context.Context, item *crawler.ExtractedItem) error
}

// Runner applies stages sequentially to each item.
type Runner struct {
	stages []Stage
	logger *zap.Logger
}

// NewRunner builds a Runner over the given stage order.
func NewRunner(logger *zap.Logger, stages ...Stage) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{stages: stages, logger: logger}
}

// Run pushes one item through the chain. A nil error means the item
// survived every stage; a *crawler.DropError identifies the stage that
// discarded it. Drops are logged and counted, never escalated.
func (r *Runner) Run(ctx context.Context, item crawler.ExtractedItem) (crawler.ExtractedItem, error) {
	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return item, fmt.Errorf("pipeline canceled before %s: %w", stage.Name(), err)
		}
		if err := stage.Process(ctx, &item); err != nil {
			if drop, ok := crawler.AsDrop(err); ok {
				metrics.ObserveDrop(stage.Name(), string(drop.Reason))
				r.logger.Debug("item dropped",
					zap.String("stage", stage.Name()),
					zap.String("reason", string(drop.Reason)),
					zap.String("url", item.URL),
				)
				return item, err
			}
			return item, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return item, nil
}
