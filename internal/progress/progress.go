// Package progress implements the Progress Bus (C12): a thread-safe,
// append-only per-job event log with an optional redis pub/sub
// fan-out for live subscribers.
package progress

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Phase names the pipeline stage an Event describes.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseDiscovery  Phase = "discovery"
	PhaseSelection  Phase = "selection"
	PhaseExtraction Phase = "extraction"
	PhaseAggregation Phase = "aggregation"
	PhaseSocial     Phase = "social"
	PhaseEmbedding  Phase = "embedding"
	PhaseDone       Phase = "done"
	PhaseBatch      Phase = "batch"
)

// Status is the per-event outcome tag.
type Status string

const (
	StatusStarted Status = "started"
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusInfo    Status = "info"
)

// Event is one observable occurrence in a job's lifecycle.
type Event struct {
	JobID    string         `json:"job_id"`
	Phase    Phase          `json:"phase"`
	Status   Status         `json:"status"`
	Time     time.Time      `json:"ts"`
	Message  string         `json:"message,omitempty"`
	Counters map[string]int `json:"counters,omitempty"`
}

// Bus is the Progress Bus: an in-memory append-only log keyed by job
// id, with an optional redis publisher for live fan-out. A nil redis
// client disables the publish step without disabling the log.
type Bus struct {
	mu     sync.RWMutex
	events map[string][]Event

	rdb     *redis.Client
	channel string
}

// New constructs a Bus. rdb may be nil to disable pub/sub fan-out.
func New(rdb *redis.Client, channel string) *Bus {
	return &Bus{
		events:  make(map[string][]Event),
		rdb:     rdb,
		channel: channel,
	}
}

// Emit appends ev to the job's log and, if a redis client is
// configured, publishes it best-effort to the configured channel. A
// publish failure never surfaces as an error: the in-memory log is the
// source of truth, pub/sub is an observability convenience.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	b.events[ev.JobID] = append(b.events[ev.JobID], ev)
	b.mu.Unlock()

	if b.rdb == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = b.rdb.Publish(ctx, b.channel, payload).Err()
}

// Events returns the append-only log for jobID, in emission order. The
// returned slice is a copy and safe to range over without holding the
// Bus lock.
func (b *Bus) Events(jobID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.events[jobID]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}

// Clear discards the in-memory log for jobID. Callers typically invoke
// this once a job's terminal event has been emitted and consumers have
// had a chance to read it, to bound memory for long-running batch
// supervisors.
func (b *Bus) Clear(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, jobID)
}

// Subscribe returns a redis channel of raw event payloads for live
// consumption. Returns nil if no redis client is configured.
func (b *Bus) Subscribe(ctx context.Context) *redis.PubSub {
	if b.rdb == nil {
		return nil
	}
	return b.rdb.Subscribe(ctx, b.channel)
}
