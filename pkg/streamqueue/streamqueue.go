// Package streamqueue implements the Stream Queue collaborator (spec §4.C)
// on top of Redis Streams: an at-least-once, consumer-group-backed log of
// pending events between the Ingest Endpoint and the Consumer Loop.
package streamqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// payloadField is the single field name every entry is stored under; the
// full event JSON is carried as its value (spec §6, "Stream Queue wire format").
const payloadField = "payload"

// Entry is one delivered queue entry: an opaque, queue-assigned id plus the
// event payload it carries.
type Entry struct {
	ID      string
	Payload []byte
}

// Queue wraps a Redis client bound to one stream + consumer group.
//
// Per spec §9 ("Single Redis-driver connection per blocking call"), the
// Consumer's blocking XREADGROUP call should run against a client configured
// with its own connection pool, distinct from the client used for short
// commands (health PING, ingest XADD) issued by other components — callers
// construct two *redis.Client values from the same QUEUE_URL and pass the
// dedicated one to New for the consumer side.
type Queue struct {
	rdb    *redis.Client
	stream string
	group  string
}

// New binds a Queue to an existing Redis client, stream key, and consumer
// group name. It does not itself create the consumer group — call
// EnsureGroup once at startup.
func New(rdb *redis.Client, stream, group string) *Queue {
	return &Queue{rdb: rdb, stream: stream, group: group}
}

// EnsureGroup creates the consumer group if it does not already exist,
// idempotently (spec §4.E, "Ensure consumer group exists; swallow 'group
// already exists'"). MKSTREAM creates the stream itself on first use.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group %s on %s: %w", q.group, q.stream, err)
	}
	return nil
}

// Ping checks connectivity to the underlying Redis client, for the health
// endpoint's queue check.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Append publishes an event payload, returning the queue-assigned entry id.
func (q *Queue) Append(ctx context.Context, eventID string, payload []byte) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{payloadField: payload, "event_id": eventID},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("appending to stream %s: %w", q.stream, err)
	}
	return id, nil
}

// IsNoGroup reports whether err is Redis's NOGROUP error, signaling the
// consumer group was deleted out from under a running consumer and must be
// recreated before the next read (spec §4.E).
func IsNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

// Read delivers up to count undelivered entries to consumer, blocking up to
// blockMs if none are immediately available.
func (q *Queue) Read(ctx context.Context, consumer string, count int64, blockMs int) ([]Entry, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    count,
		Block:    time.Duration(blockMs) * time.Millisecond,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading from stream %s: %w", q.stream, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return toEntries(res[0].Messages), nil
}

// Ack removes entryID from the group's pending entries list.
func (q *Queue) Ack(ctx context.Context, entryID string) error {
	if err := q.rdb.XAck(ctx, q.stream, q.group, entryID).Err(); err != nil {
		return fmt.Errorf("acking %s on stream %s: %w", entryID, q.stream, err)
	}
	return nil
}

// Claim atomically reassigns up to count PEL entries idle at least minIdle
// to consumer, tolerating crashed consumers (spec §4.C "Reclaim").
func (q *Queue) Claim(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claiming on stream %s: %w", q.stream, err)
	}
	return toEntries(msgs), nil
}

func toEntries(msgs []redis.XMessage) []Entry {
	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values[payloadField]
		if !ok {
			continue
		}
		var payload []byte
		switch v := raw.(type) {
		case string:
			payload = []byte(v)
		case []byte:
			payload = v
		default:
			continue
		}
		entries = append(entries, Entry{ID: m.ID, Payload: payload})
	}
	return entries
}
