// Package events delivers domain events after state changes commit.
//
// Publishers never fail the operation that produced the event: delivery
// errors are logged and dropped.
//   - Log writes each event as a structured log line.
//   - Redis publishes CBOR-encoded events on a pub/sub channel.
//   - Buffer keeps the most recent events in memory for the HTTP API.
//   - Fanout forwards to several publishers.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/zerolock-network/zerolock/internal/domain"
)

var (
	_ domain.EventPublisher = (*Log)(nil)
	_ domain.EventPublisher = (*Buffer)(nil)
	_ domain.EventPublisher = Fanout(nil)
)

// ─── Log ────────────────────────────────────────────────────────────────────

// Log publishes events to a structured logger.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a log publisher.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "events")}
}

// Publish logs evt at Info.
func (l *Log) Publish(ctx context.Context, evt domain.Event) {
	l.logger.InfoContext(ctx, "event",
		"kind", evt.Kind,
		"challenge_id", evt.ChallengeID,
		"actor", evt.Actor,
		"amount", evt.Amount,
		"asset", evt.Asset,
		"detail", evt.Detail,
	)
}

// ─── Buffer ─────────────────────────────────────────────────────────────────

// Buffer is a fixed-capacity ring of recent events; the oldest is dropped
// when full.
type Buffer struct {
	mu     sync.Mutex
	events []domain.Event
	next   int
	full   bool
}

// NewBuffer creates a ring holding up to capacity events.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffer{events: make([]domain.Event, capacity)}
}

// Publish appends evt, evicting the oldest event when full.
func (b *Buffer) Publish(_ context.Context, evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[b.next] = evt
	b.next = (b.next + 1) % len(b.events)
	if b.next == 0 {
		b.full = true
	}
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (b *Buffer) Recent(n int) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := b.next
	if b.full {
		size = len(b.events)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]domain.Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (b.next - i + len(b.events)) % len(b.events)
		out = append(out, b.events[idx])
	}
	return out
}

// ─── Fanout ─────────────────────────────────────────────────────────────────

// Fanout publishes to every publisher in order.
type Fanout []domain.EventPublisher

// Publish forwards evt to each publisher.
func (f Fanout) Publish(ctx context.Context, evt domain.Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(ctx, evt)
		}
	}
}
