package main

import (
	"context"
	"fmt"

	"github.com/fluxcapacitor2/siteindex/app/config"
	"github.com/fluxcapacitor2/siteindex/app/index"
	"github.com/fluxcapacitor2/siteindex/app/ingest"
	"github.com/go-co-op/gocron/v2"
	slogctx "github.com/veqryn/slog-context"
)

// Rebuild the index after the configured interval and switch the retriever over to the new one
func startRefreshJob(ctx context.Context, cfg config.Refresh, pipeline *ingest.Pipeline, retriever *index.Retriever) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	_, err = scheduler.NewJob(gocron.DurationJob(cfg.Interval), gocron.NewTask(func() {
		ctx := slogctx.Append(ctx, "job", "refresh")
		if err := refresh(ctx, pipeline, retriever); err != nil {
			slogctx.Error(ctx, "Error refreshing index", "error", err)
		}
	}), gocron.WithSingletonMode(gocron.LimitModeReschedule))
	if err != nil {
		scheduler.Shutdown()
		return nil, fmt.Errorf("failed to create gocron job: %w", err)
	}

	scheduler.Start()
	slogctx.Info(ctx, "Scheduled index refresh", "interval", cfg.Interval)
	return scheduler, nil
}

func refresh(ctx context.Context, pipeline *ingest.Pipeline, retriever *index.Retriever) error {
	if _, err := pipeline.Run(ctx); err != nil {
		// The previous index is still on disk and still served
		return err
	}
	return retriever.Reload()
}
