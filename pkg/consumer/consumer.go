// Package consumer implements the Consumer Loop (spec §4.E): the process
// that drains the Stream Queue's consumer group, hands each entry to the
// Handler Registry, and acks or dead-letters it based on the outcome.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/processor"
	"github.com/fuel-code/server/pkg/streamqueue"
)

// Config holds the Consumer Loop's tunables, sourced from config.QueueConfig.
type Config struct {
	ConsumerName string
	BlockMs      int
	ReadCount    int64
	ClaimIdle    time.Duration
	ClaimCount   int64
	MaxRetries   int
	StatsEvery   time.Duration
}

// DeadLetterer records an entry that exhausted its retry budget (spec §4.E,
// "3rd failure: log at error level, ack anyway"). The default logs only;
// tests or a future admin surface can supply a richer implementation.
type DeadLetterer interface {
	DeadLetter(entryID string, payload []byte, err error)
}

type logDeadLetterer struct{}

func (logDeadLetterer) DeadLetter(entryID string, payload []byte, err error) {
	slog.Error("dead-lettering event after exhausting retries", "entry_id", entryID, "error", err)
}

// Consumer drains one Stream Queue consumer group and dispatches entries to
// a Handler Registry, following tarsy's Worker start/stop/health shape
// (pkg/queue/worker.go) adapted from session-claiming to stream consumption.
type Consumer struct {
	queue    *streamqueue.Queue
	registry *processor.Registry
	cfg      Config
	deadLtr  DeadLetterer

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu       sync.Mutex
	failures map[string]int

	stats Stats
}

// Stats is a snapshot of the loop's lifetime counters, logged periodically
// and returned by Consumer.Stats.
type Stats struct {
	Processed   int64
	Duplicates  int64
	NoHandler   int64
	DeadLettred int64
	Errors      int64
	LastReadAt  time.Time
}

// New builds a Consumer bound to queue and registry. deadLtr may be nil, in
// which case dead-lettered entries are simply logged.
func New(queue *streamqueue.Queue, registry *processor.Registry, cfg Config, deadLtr DeadLetterer) *Consumer {
	if deadLtr == nil {
		deadLtr = logDeadLetterer{}
	}
	return &Consumer{
		queue:    queue,
		registry: registry,
		cfg:      cfg,
		deadLtr:  deadLtr,
		stopCh:   make(chan struct{}),
		failures: make(map[string]int),
	}
}

// Start runs the consume loop in a goroutine until Stop is called or ctx is
// cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the loop to drain in-flight work and return. Safe to call
// more than once.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Stats returns a snapshot of the loop's lifetime counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	log := slog.With("consumer", c.cfg.ConsumerName)
	log.Info("consumer loop starting")

	if err := c.queue.EnsureGroup(ctx); err != nil {
		log.Error("failed to ensure consumer group on startup", "error", err)
	}
	c.reclaimStale(ctx, log)

	statsTicker := time.NewTicker(c.statsInterval())
	defer statsTicker.Stop()
	claimTicker := time.NewTicker(c.claimIdle())
	defer claimTicker.Stop()

	for {
		select {
		case <-c.stopCh:
			log.Info("consumer loop stopping")
			return
		case <-ctx.Done():
			log.Info("context cancelled, consumer loop stopping")
			return
		case <-statsTicker.C:
			c.logStats(log)
		case <-claimTicker.C:
			c.reclaimStale(ctx, log)
		default:
			c.tick(ctx, log)
		}
	}
}

// tick reads one batch and dispatches it, recovering from a deleted
// consumer group by recreating it and retrying once (spec §4.E).
func (c *Consumer) tick(ctx context.Context, log *slog.Logger) {
	entries, err := c.queue.Read(ctx, c.cfg.ConsumerName, c.readCount(), c.cfg.BlockMs)
	if err != nil {
		if streamqueue.IsNoGroup(err) {
			log.Warn("consumer group missing, recreating")
			if gerr := c.queue.EnsureGroup(ctx); gerr != nil {
				log.Error("failed to recreate consumer group", "error", gerr)
			}
			return
		}
		c.mu.Lock()
		c.stats.Errors++
		c.mu.Unlock()
		log.Error("queue read failed, backing off", "error", err)
		c.sleep(5 * time.Second)
		return
	}

	c.mu.Lock()
	c.stats.LastReadAt = time.Now()
	c.mu.Unlock()

	for _, entry := range entries {
		c.handle(ctx, log, entry)
	}
}

func (c *Consumer) handle(ctx context.Context, log *slog.Logger, entry streamqueue.Entry) {
	var e domain.Event
	if err := json.Unmarshal(entry.Payload, &e); err != nil {
		log.Error("discarding unparseable entry", "entry_id", entry.ID, "error", err)
		c.deadLtr.DeadLetter(entry.ID, entry.Payload, err)
		c.ack(ctx, log, entry.ID)
		c.bumpDeadLettered()
		return
	}

	outcome, err := c.registry.Process(ctx, &e)
	if err != nil {
		c.onFailure(ctx, log, entry, err)
		return
	}

	switch outcome {
	case processor.OutcomeProcessed:
		c.mu.Lock()
		c.stats.Processed++
		c.mu.Unlock()
	case processor.OutcomeDuplicate:
		c.mu.Lock()
		c.stats.Duplicates++
		c.mu.Unlock()
	case processor.OutcomeNoHandler:
		c.mu.Lock()
		c.stats.NoHandler++
		c.mu.Unlock()
	}
	c.clearFailures(entry.ID)
	c.ack(ctx, log, entry.ID)
}

// onFailure applies the "<3 leave un-acked, >=3 dead-letter+ack" retry rule
// from spec §4.E. Leaving an entry un-acked means it stays in the group's
// pending list and is picked up again by reclaimStale once it has been idle
// for claimIdle.
func (c *Consumer) onFailure(ctx context.Context, log *slog.Logger, entry streamqueue.Entry, err error) {
	c.mu.Lock()
	c.stats.Errors++
	c.failures[entry.ID]++
	attempts := c.failures[entry.ID]
	c.mu.Unlock()

	log.Error("handler failed", "entry_id", entry.ID, "attempt", attempts, "error", err)

	if attempts < c.maxRetries() {
		return
	}

	c.deadLtr.DeadLetter(entry.ID, entry.Payload, err)
	c.bumpDeadLettered()
	c.clearFailures(entry.ID)
	c.ack(ctx, log, entry.ID)
}

// reclaimStale claims entries left pending by a crashed consumer or by a
// failed delivery and handles them. run calls it once before it starts
// reading fresh entries (spec §4.E "Reclaim on startup") and again every
// claimIdle.
func (c *Consumer) reclaimStale(ctx context.Context, log *slog.Logger) {
	entries, err := c.queue.Claim(ctx, c.cfg.ConsumerName, c.claimIdle(), c.claimCount())
	if err != nil {
		log.Warn("reclaim failed", "error", err)
		return
	}
	if len(entries) > 0 {
		log.Info("reclaimed stale pending entries", "count", len(entries))
	}
	for _, entry := range entries {
		c.handle(ctx, log, entry)
	}
}

func (c *Consumer) ack(ctx context.Context, log *slog.Logger, entryID string) {
	if err := c.queue.Ack(ctx, entryID); err != nil {
		log.Error("ack failed", "entry_id", entryID, "error", err)
	}
}

func (c *Consumer) clearFailures(entryID string) {
	c.mu.Lock()
	delete(c.failures, entryID)
	c.mu.Unlock()
}

func (c *Consumer) bumpDeadLettered() {
	c.mu.Lock()
	c.stats.DeadLettred++
	c.mu.Unlock()
}

func (c *Consumer) logStats(log *slog.Logger) {
	s := c.Stats()
	log.Info("consumer stats",
		"processed", s.Processed,
		"duplicates", s.Duplicates,
		"no_handler", s.NoHandler,
		"dead_lettered", s.DeadLettred,
		"errors", s.Errors,
		"last_read_at", s.LastReadAt,
	)
}

// sleep waits for d or until Stop is called, whichever comes first.
func (c *Consumer) sleep(d time.Duration) {
	select {
	case <-c.stopCh:
	case <-time.After(d):
	}
}

func (c *Consumer) readCount() int64 {
	if c.cfg.ReadCount > 0 {
		return c.cfg.ReadCount
	}
	return 10
}

func (c *Consumer) claimIdle() time.Duration {
	if c.cfg.ClaimIdle > 0 {
		return c.cfg.ClaimIdle
	}
	return 60 * time.Second
}

func (c *Consumer) claimCount() int64 {
	if c.cfg.ClaimCount > 0 {
		return c.cfg.ClaimCount
	}
	return 100
}

func (c *Consumer) maxRetries() int {
	if c.cfg.MaxRetries > 0 {
		return c.cfg.MaxRetries
	}
	return 3
}

func (c *Consumer) statsInterval() time.Duration {
	if c.cfg.StatsEvery > 0 {
		return c.cfg.StatsEvery
	}
	return 60 * time.Second
}
