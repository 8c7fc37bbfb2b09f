package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/FinSight/internal/adapter/ws"
	"github.com/Strob0t/FinSight/internal/domain/event"
	"github.com/Strob0t/FinSight/internal/port/broadcast"
	"github.com/Strob0t/FinSight/internal/port/messagequeue"
	"github.com/Strob0t/FinSight/internal/resilience"
)

// MirroredBroadcaster decorates a Broadcaster with a best-effort copy of
// every event onto the message queue, for consumers outside this process.
// Mirroring never delays or fails delivery to live viewers: publishing
// happens on a single worker goroutine (preserving per-session order) and
// is guarded by a circuit breaker so a dead queue is not hammered.
type MirroredBroadcaster struct {
	inner   broadcast.Broadcaster
	queue   messagequeue.Queue
	breaker *resilience.Breaker
	ch      chan event.Event
	done    chan struct{}
}

// NewMirroredBroadcaster wraps inner and starts the mirror worker.
func NewMirroredBroadcaster(inner broadcast.Broadcaster, queue messagequeue.Queue, breaker *resilience.Breaker) *MirroredBroadcaster {
	m := &MirroredBroadcaster{
		inner:   inner,
		queue:   queue,
		breaker: breaker,
		ch:      make(chan event.Event, 1024),
		done:    make(chan struct{}),
	}
	go m.drain()
	return m
}

// Broadcast delivers to viewers first, then enqueues the mirror copy.
// A full mirror queue drops the copy; viewers are unaffected.
func (m *MirroredBroadcaster) Broadcast(ctx context.Context, ev event.Event) {
	m.inner.Broadcast(ctx, ev)

	select {
	case m.ch <- ev:
	default:
		slog.Debug("event mirror queue full, dropping", "session", ev.SessionToken(), "type", ev.EventType())
	}
}

// Close stops the mirror worker after draining buffered events.
func (m *MirroredBroadcaster) Close() {
	close(m.ch)
	<-m.done
}

func (m *MirroredBroadcaster) drain() {
	defer close(m.done)
	for ev := range m.ch {
		m.publish(ev)
	}
}

func (m *MirroredBroadcaster) publish(ev event.Event) {
	frame, err := ws.EncodeEvent(ev)
	if err != nil {
		slog.Error("mirror encode", "type", ev.EventType(), "error", err)
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("mirror marshal", "type", ev.EventType(), "error", err)
		return
	}

	subject := messagequeue.SubjectPrefix + "." + ev.SessionToken() + "." + string(ev.EventType())
	err = m.breaker.Execute(func() error {
		return m.queue.Publish(context.Background(), subject, data)
	})
	if err != nil {
		slog.Warn("event mirror publish failed", "subject", subject, "error", err)
	}
}
