// Package eventbus fans session records out to Redis so other processes can
// follow a run live. Each record goes to a Pub/Sub channel and a history
// list; completion is announced on a separate channel.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freema/desktop-assist/internal/agent"
	"github.com/freema/desktop-assist/internal/redisclient"
	"github.com/freema/desktop-assist/internal/session"
)

// DefaultHistoryTTL applies when no TTL is configured.
const DefaultHistoryTTL = 24 * time.Hour

// Message is the envelope published for every session record.
type Message struct {
	SessionID string         `json:"session_id"`
	Event     session.Kind   `json:"event"`
	Record    session.Record `json:"record"`
	TS        string         `json:"ts"`
}

// Completion is published on the done channel.
type Completion struct {
	SessionID string        `json:"session_id"`
	Outcome   agent.Outcome `json:"outcome"`
	Result    string        `json:"result"`
	Steps     int           `json:"steps"`
	ElapsedS  float64       `json:"elapsed_s"`
	TraceID   string        `json:"trace_id,omitempty"`
}

// Keys are the Redis keys of one run.
type Keys struct {
	Stream  string
	History string
	Done    string
}

// Bus publishes run events. It implements agent.EventSink.
type Bus struct {
	redis      *redisclient.Client
	historyTTL time.Duration
	now        func() time.Time
}

// New creates a bus on top of a Redis client.
func New(rc *redisclient.Client, historyTTL time.Duration) *Bus {
	if historyTTL <= 0 {
		historyTTL = DefaultHistoryTTL
	}
	return &Bus{redis: rc, historyTTL: historyTTL, now: time.Now}
}

// KeysFor returns the keys used for a session.
func (b *Bus) KeysFor(sessionID string) Keys {
	return Keys{
		Stream:  b.redis.Key("run", sessionID, "stream"),
		History: b.redis.Key("run", sessionID, "history"),
		Done:    b.redis.Key("run", sessionID, "done"),
	}
}

// Publish sends rec to live subscribers and appends it to the run history.
func (b *Bus) Publish(ctx context.Context, sessionID string, rec session.Record) error {
	msg, err := encodeMessage(sessionID, rec, b.now())
	if err != nil {
		return err
	}
	keys := b.KeysFor(sessionID)

	pipe := b.redis.Unwrap().Pipeline()
	pipe.Publish(ctx, keys.Stream, msg)
	pipe.RPush(ctx, keys.History, msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing %s event: %w", rec.Event, err)
	}
	return nil
}

// Complete announces the end of a run and starts the history TTL.
func (b *Bus) Complete(ctx context.Context, summary agent.RunSummary) error {
	data, err := json.Marshal(completionOf(summary))
	if err != nil {
		return fmt.Errorf("encoding completion: %w", err)
	}
	keys := b.KeysFor(summary.SessionID)

	pipe := b.redis.Unwrap().Pipeline()
	pipe.Publish(ctx, keys.Done, string(data))
	pipe.Expire(ctx, keys.History, b.historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publishing completion: %w", err)
	}
	return nil
}

// History returns the stored messages of a session, oldest first.
func (b *Bus) History(ctx context.Context, sessionID string) ([]string, error) {
	return b.redis.Unwrap().LRange(ctx, b.KeysFor(sessionID).History, 0, -1).Result()
}

// Subscribe follows the live and done channels of a session.
func (b *Bus) Subscribe(ctx context.Context, sessionID string) *redis.PubSub {
	keys := b.KeysFor(sessionID)
	return b.redis.Unwrap().Subscribe(ctx, keys.Stream, keys.Done)
}

func encodeMessage(sessionID string, rec session.Record, now time.Time) (string, error) {
	data, err := json.Marshal(Message{
		SessionID: sessionID,
		Event:     rec.Event,
		Record:    rec,
		TS:        now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("encoding %s event: %w", rec.Event, err)
	}
	return string(data), nil
}

func completionOf(s agent.RunSummary) Completion {
	return Completion{
		SessionID: s.SessionID,
		Outcome:   s.Outcome,
		Result:    s.Result,
		Steps:     s.Steps,
		ElapsedS:  float64(s.Elapsed.Milliseconds()) / 1000,
		TraceID:   s.TraceID,
	}
}
