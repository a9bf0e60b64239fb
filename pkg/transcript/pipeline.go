// Package transcript implements the Transcript Pipeline (spec §4.G): a
// bounded worker pool that downloads, parses, persists, and optionally
// summarizes a session's transcript once it has ended.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fuel-code/server/pkg/domain"
	"github.com/fuel-code/server/pkg/eventstore"
	"github.com/fuel-code/server/pkg/objectstore"
)

// summaryInputLimit bounds how much transcript text is sent to the
// summarizer collaborator (a truncated, redacted view, per spec §4.G stage 5).
const summaryInputLimit = 20_000

// summaryMaxBlocks caps how many persisted content blocks are read back for
// that view, so an unusually long session doesn't force a large query before
// truncation even runs.
const summaryMaxBlocks = 500

// SessionUpdate is what Broadcast hands the WebSocket Hub after a stage
// completes (spec §4.G stage 6: "lifecycle, summary (if any), compact stats").
type SessionUpdate struct {
	SessionID   string
	WorkspaceID string
	Lifecycle   domain.Lifecycle
	Summary     *string
	Stats       *domain.TranscriptStats
}

// Broadcaster is the narrow WebSocket Hub contract the pipeline depends on.
// Named distinctly from processor.Broadcaster's BroadcastSessionUpdate since
// the two take different SessionUpdate types and a single implementing type
// (the Hub) must satisfy both.
type Broadcaster interface {
	BroadcastTranscriptUpdate(u SessionUpdate)
}

// Summarizer is the external LLM collaborator used by the optional
// Summarize stage (spec §4.G stage 5).
type Summarizer interface {
	Summarize(ctx context.Context, sessionID, transcript string) (string, error)
}

// Config holds the pool's tunables, sourced from config.PipelineConfig.
type Config struct {
	PoolSize        int
	PendingMax      int
	DownloadRetries int
	StageTimeout    time.Duration
	SummaryEnabled  bool
}

// Pipeline is the bounded worker pool described in spec §4.G.
type Pipeline struct {
	store       *eventstore.Store
	objects     objectstore.Store
	broadcaster Broadcaster
	summarizer  Summarizer
	pricing     Table
	cfg         Config

	queue    chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
}

// New builds a Pipeline. broadcaster and summarizer may be nil (no hub
// wired yet / summarization disabled).
func New(store *eventstore.Store, objects objectstore.Store, broadcaster Broadcaster, summarizer Summarizer, pricing Table, cfg Config) *Pipeline {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 6
	}
	if cfg.PendingMax < 1 {
		cfg.PendingMax = 50
	}
	if cfg.DownloadRetries < 1 {
		cfg.DownloadRetries = 3
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}
	return &Pipeline{
		store:       store,
		objects:     objects,
		broadcaster: broadcaster,
		summarizer:  summarizer,
		pricing:     pricing,
		cfg:         cfg,
		queue:       make(chan string, cfg.PendingMax),
		stopCh:      make(chan struct{}),
		pending:     make(map[string]struct{}),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.PoolSize; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop closes the inbound side and waits for in-flight work to finish, up
// to timeout (spec §4.G: "graceful drain ... a hard timeout forces exit").
func (p *Pipeline) Stop(timeout time.Duration) {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("transcript pipeline shutdown timed out, forcing exit", "timeout", timeout)
	}
}

// Enqueue adds sessionID to the pending set (satisfies processor.TranscriptEnqueuer
// and recovery.TranscriptEnqueuer). Enqueuing an already-pending session,
// enqueuing past the bounded pending-set size, or enqueuing after Stop is a
// no-op (spec §4.G).
func (p *Pipeline) Enqueue(sessionID string) {
	select {
	case <-p.stopCh:
		return
	default:
	}
	p.mu.Lock()
	if _, already := p.pending[sessionID]; already {
		p.mu.Unlock()
		return
	}
	if len(p.pending) >= p.cfg.PendingMax {
		p.mu.Unlock()
		slog.Warn("transcript pipeline pending set full, dropping enqueue", "session_id", sessionID, "max", p.cfg.PendingMax)
		return
	}
	p.pending[sessionID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- sessionID:
	default:
		// Should not happen: the channel is sized to PendingMax and the
		// pending-set check above already enforces the same bound.
		p.clearPending(sessionID)
		slog.Warn("transcript pipeline queue full despite pending-set check, dropping", "session_id", sessionID)
	}
}

func (p *Pipeline) clearPending(sessionID string) {
	p.mu.Lock()
	delete(p.pending, sessionID)
	p.mu.Unlock()
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := slog.With("pipeline_worker", id)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case sessionID, ok := <-p.queue:
			if !ok {
				return
			}
			p.processSession(ctx, log, sessionID)
			p.clearPending(sessionID)
		}
	}
}

func (p *Pipeline) cancelled(ctx context.Context) bool {
	select {
	case <-p.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// processSession runs the per-session pipeline stages described in spec
// §4.G. It never returns an error to the caller: every failure is either a
// checkpointed parse_status/lifecycle update or a logged, swallowed error,
// since a worker crash must not take down the pool.
func (p *Pipeline) processSession(ctx context.Context, log *slog.Logger, sessionID string) {
	log = log.With("session_id", sessionID)
	stageCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	// Stage 1: Load.
	sess, err := p.store.Sessions.Get(stageCtx, p.store.Pool, sessionID)
	if err != nil {
		log.Error("loading session failed", "error", err)
		return
	}
	if sess.Lifecycle.Ordinal() < domain.LifecycleEnded.Ordinal() || sess.TranscriptKey == nil {
		// Not ready yet; not an error (spec §4.G stage 1).
		return
	}

	if sess.ParseStatus != domain.ParseStatusCompleted {
		if !p.parseAndPersist(stageCtx, log, sess) {
			return
		}
		reloaded, err := p.store.Sessions.Get(stageCtx, p.store.Pool, sessionID)
		if err != nil {
			log.Error("reloading session after persist failed", "error", err)
			return
		}
		sess = reloaded
	}

	if p.cancelled(ctx) {
		return
	}

	if p.cfg.SummaryEnabled && p.summarizer != nil && sess.Summary == nil && sess.Lifecycle == domain.LifecycleParsed {
		p.summarize(stageCtx, log, sess)
	}
}

// parseAndPersist runs stages 2-4 (Download, Parse, Persist). Returns false
// if a later stage should not run (download/persist failure already
// checkpointed the session as failed).
func (p *Pipeline) parseAndPersist(ctx context.Context, log *slog.Logger, sess *domain.Session) bool {
	if err := p.store.Sessions.SetParseStatus(ctx, p.store.Pool, sess.ID, domain.ParseStatusInProgress); err != nil {
		log.Error("checkpointing parse_status=in_progress failed", "error", err)
		return false
	}

	rc, err := p.downloadWithRetry(ctx, *sess.TranscriptKey)
	if err != nil {
		log.Error("downloading transcript failed after retries", "error", err)
		if ferr := p.store.Sessions.MarkFailed(ctx, p.store.Pool, sess.ID, fmt.Sprintf("download failed: %v", err)); ferr != nil {
			log.Error("marking session failed failed", "error", ferr)
		}
		return false
	}
	defer rc.Close()

	blobPrefix := fmt.Sprintf("transcripts/%s/%s", sess.WorkspaceID, sess.ID)
	result, err := Parse(ctx, rc, blobPrefix, p.objects, p.pricing)
	if err != nil {
		log.Error("parsing transcript failed", "error", err)
		if ferr := p.store.Sessions.MarkFailed(ctx, p.store.Pool, sess.ID, fmt.Sprintf("parse failed: %v", err)); ferr != nil {
			log.Error("marking session failed failed", "error", ferr)
		}
		return false
	}
	if len(result.Stats.ParseErrors) > 0 {
		log.Warn("transcript had unparseable lines", "count", len(result.Stats.ParseErrors))
	}

	if p.cancelled(ctx) {
		return false
	}

	err = p.store.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.store.Transcripts.ReplaceAll(ctx, tx, sess.ID, result.Messages, result.Blocks); err != nil {
			return err
		}
		if err := p.store.Sessions.ApplyStats(ctx, tx, sess.ID, result.Stats); err != nil {
			return err
		}
		if _, err := p.store.Sessions.TransitionLifecycle(ctx, tx, sess.ID, domain.LifecycleParsed); err != nil {
			return err
		}
		return p.store.Sessions.SetParseStatus(ctx, tx, sess.ID, domain.ParseStatusCompleted)
	})
	if err != nil {
		log.Error("persisting parsed transcript failed", "error", err)
		if ferr := p.store.Sessions.MarkFailed(ctx, p.store.Pool, sess.ID, fmt.Sprintf("persist failed: %v", err)); ferr != nil {
			log.Error("marking session failed failed", "error", ferr)
		}
		return false
	}

	p.broadcast(SessionUpdate{
		SessionID:   sess.ID,
		WorkspaceID: sess.WorkspaceID,
		Lifecycle:   domain.LifecycleParsed,
		Stats:       &result.Stats,
	})
	return true
}

func (p *Pipeline) summarize(ctx context.Context, log *slog.Logger, sess *domain.Session) {
	messages, err := p.store.Transcripts.CountMessages(ctx, p.store.Pool, sess.ID)
	if err != nil {
		log.Error("loading message count for summarize stage failed", "error", err)
		return
	}
	if messages == 0 {
		return
	}

	lines, err := p.store.Transcripts.ListForSummary(ctx, p.store.Pool, sess.ID, summaryMaxBlocks)
	if err != nil {
		log.Error("loading transcript for summarize stage failed", "error", err)
		return
	}

	input := buildSummaryInput(sess, lines)
	summary, err := p.summarizer.Summarize(ctx, sess.ID, input)
	if err != nil {
		// Stays at lifecycle=parsed; Recovery Subsystem retries on next boot
		// (spec §4.G stage 5: "retry is not bounded to 3 attempts").
		log.Warn("summarize stage failed, will retry on recovery scan", "error", err)
		return
	}

	if err := p.store.Sessions.SetSummary(ctx, p.store.Pool, sess.ID, summary); err != nil {
		log.Error("writing summary failed", "error", err)
		return
	}

	p.broadcast(SessionUpdate{
		SessionID:   sess.ID,
		WorkspaceID: sess.WorkspaceID,
		Lifecycle:   domain.LifecycleSummarized,
		Summary:     &summary,
	})
}

// buildSummaryInput assembles a truncated, redacted view of the session for
// the summarizer (spec §4.G stage 5): session header and aggregate stats,
// followed by the transcript's text/thinking blocks in order. tool_result
// bodies are already dropped by ListForSummary; tool_use blocks are kept as
// a bare "used tool X" marker so the summary can still narrate what the
// session did without inlining arbitrary tool output.
func buildSummaryInput(sess *domain.Session, lines []eventstore.TranscriptLine) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "session %s in workspace %s\n", sess.ID, sess.WorkspaceID)
	fmt.Fprintf(&sb, "messages=%d tools=%d commits=%d\n", sess.MessageCount, sess.ToolUseCount, sess.CommitCount)
	if sess.InitialPrompt != nil {
		sb.WriteString("initial prompt: ")
		sb.WriteString(*sess.InitialPrompt)
		sb.WriteByte('\n')
	}

	for _, l := range lines {
		switch l.Type {
		case domain.ContentBlockText:
			if l.Text == "" {
				continue
			}
			fmt.Fprintf(&sb, "%s: %s\n", l.Role, l.Text)
		case domain.ContentBlockThinking:
			if l.Text == "" {
				continue
			}
			fmt.Fprintf(&sb, "%s (thinking): %s\n", l.Role, l.Text)
		case domain.ContentBlockToolUse:
			fmt.Fprintf(&sb, "%s: used tool %s\n", l.Role, l.ToolName)
		}
		if sb.Len() > summaryInputLimit {
			break
		}
	}

	out := sb.String()
	if len(out) > summaryInputLimit {
		out = out[:summaryInputLimit]
	}
	return out
}

func (p *Pipeline) broadcast(u SessionUpdate) {
	if p.broadcaster != nil {
		p.broadcaster.BroadcastTranscriptUpdate(u)
	}
}

// downloadWithRetry implements spec §4.G stage 2's exponential backoff
// (base 1s, x2, cap 30s, max 3 tries).
func (p *Pipeline) downloadWithRetry(ctx context.Context, key string) (io.ReadCloser, error) {
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= p.cfg.DownloadRetries; attempt++ {
		rc, err := p.objects.Get(ctx, key)
		if err == nil {
			return rc, nil
		}
		lastErr = err
		if attempt == p.cfg.DownloadRetries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.stopCh:
			return nil, errors.New("pipeline shutting down")
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
	return nil, lastErr
}
