// Package recovery implements the Recovery Subsystem (spec §4.I): a
// one-shot startup scan that re-enqueues sessions stuck mid-pipeline or
// parsed-but-never-summarized into the Transcript Pipeline.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/fuel-code/server/pkg/eventstore"
)

// TranscriptEnqueuer is the narrow Transcript Pipeline contract the
// Recovery Subsystem depends on, satisfied by *transcript.Pipeline.
type TranscriptEnqueuer interface {
	Enqueue(sessionID string)
}

// Config holds the subsystem's tunables, sourced from config.PipelineConfig.
type Config struct {
	StartupDelay  time.Duration
	StuckCooldown time.Duration
}

// Run waits StartupDelay (spec: "avoids competing with legitimate in-flight
// work"), then runs both scans once and returns. Callers typically invoke
// this in its own goroutine at boot; it blocks for the delay plus scan time.
func Run(ctx context.Context, store *eventstore.Store, pipeline TranscriptEnqueuer, cfg Config) {
	delay := cfg.StartupDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	log := slog.With("component", "recovery")
	scanStuck(ctx, log, store, pipeline, cfg)
	scanUnsummarized(ctx, log, store, pipeline)
}

func scanStuck(ctx context.Context, log *slog.Logger, store *eventstore.Store, pipeline TranscriptEnqueuer, cfg Config) {
	cooldown := cfg.StuckCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	sessions, err := store.Sessions.StuckSessions(ctx, store.Pool, cooldown)
	if err != nil {
		log.Error("scanning for stuck sessions failed", "error", err)
		return
	}
	for _, s := range sessions {
		pipeline.Enqueue(s.ID)
	}
	log.Info("recovery scan: stuck sessions", "count", len(sessions))
}

func scanUnsummarized(ctx context.Context, log *slog.Logger, store *eventstore.Store, pipeline TranscriptEnqueuer) {
	sessions, err := store.Sessions.UnsummarizedSessions(ctx, store.Pool)
	if err != nil {
		log.Error("scanning for unsummarized sessions failed", "error", err)
		return
	}
	for _, s := range sessions {
		pipeline.Enqueue(s.ID)
	}
	log.Info("recovery scan: unsummarized sessions", "count", len(sessions))
}
