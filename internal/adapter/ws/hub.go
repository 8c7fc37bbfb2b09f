// Package ws implements the WebSocket adapter: the broadcast hub, the
// per-session message batcher, bounded event history and liveness tracking.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Strob0t/FinSight/internal/adapter/otel"
	"github.com/Strob0t/FinSight/internal/domain/analysis"
	"github.com/Strob0t/FinSight/internal/domain/event"
)

// SnapshotSource provides the current session state for the attach snapshot.
// Implemented by the session registry.
type SnapshotSource interface {
	GetSession(token string) (*analysis.Session, error)
}

// Config holds the hub's delivery tunables.
type Config struct {
	BatchSize         int           // events per outgoing batch
	BatchInterval     time.Duration // max delay before a partial batch flushes
	SendBuffer        int           // per-connection outbound queue length
	HeartbeatInterval time.Duration // liveness probe interval
	WriteTimeout      time.Duration // per-frame network write deadline
	HistoryCapacity   int           // events retained per session
	MaxSessions       int           // sessions retained in the history store
}

func (c *Config) applyDefaults() {
	if c.BatchSize < 1 {
		c.BatchSize = 10
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 500 * time.Millisecond
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 256
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HistoryCapacity < 1 {
		c.HistoryCapacity = 1000
	}
	if c.MaxSessions < 1 {
		c.MaxSessions = 100
	}
}

// conn wraps a single WebSocket connection. Network writes happen only on
// the connection's writer goroutine; everything else just enqueues.
type conn struct {
	id          string
	token       string
	sock        *websocket.Conn
	send        chan []byte
	cancel      context.CancelFunc
	connectedAt time.Time
	lastSeen    atomic.Int64 // unix nanos of the last inbound frame
	dead        atomic.Bool
}

func (c *conn) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// group is the per-session membership set plus the pending outgoing batch.
// One mutex per group; the hub never holds its own lock and a group lock at
// the same time.
type group struct {
	token   string
	mu      sync.Mutex
	members map[*conn]struct{}
	pending []Frame
	timer   *time.Timer
}

// Hub owns all live connections, grouped by session, and fans events out
// to them. No lock is ever held across a network send.
type Hub struct {
	cfg       Config
	snapshots SnapshotSource
	metrics   *otel.Metrics
	history   *historyStore

	mu     sync.RWMutex
	conns  map[string]*conn
	groups map[string]*group

	startedAt      time.Time
	messagesSent   atomic.Int64
	deliveryErrors atomic.Int64
	droppedFrames  atomic.Int64
	sendNanos      atomic.Int64
}

// NewHub creates a hub backed by the given snapshot source.
func NewHub(snapshots SnapshotSource, cfg Config, metrics *otel.Metrics) *Hub {
	cfg.applyDefaults()
	return &Hub{
		cfg:       cfg,
		snapshots: snapshots,
		metrics:   metrics,
		history:   newHistoryStore(cfg.HistoryCapacity, cfg.MaxSessions),
		conns:     make(map[string]*conn),
		groups:    make(map[string]*group),
		startedAt: time.Now(),
	}
}

// Attach registers a connection as a viewer of the session. The new viewer
// receives, in order: a connection acknowledgment carrying the full session
// snapshot, the session's buffered history, then all subsequent live
// events. Registration and the history copy happen under the same group
// lock as broadcasts, so the replay/live boundary has no duplicate and no
// gap.
func (h *Hub) Attach(sock *websocket.Conn, token string) (string, error) {
	snapshot, err := h.snapshots.GetSession(token)
	if err != nil {
		return "", fmt.Errorf("attach: %w", err)
	}

	writeCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		id:          uuid.NewString(),
		token:       token,
		sock:        sock,
		send:        make(chan []byte, h.cfg.SendBuffer),
		cancel:      cancel,
		connectedAt: time.Now().UTC(),
	}
	c.touch()

	ack, err := ackFrame(c.id, snapshot)
	if err != nil {
		cancel()
		return "", err
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	g := h.group(token)
	g.mu.Lock()
	h.flushLocked(g) // drain any pending batch so history is complete
	h.enqueueFrame(c, ack)
	for _, f := range h.history.Events(token) {
		h.enqueueFrame(c, f)
	}
	g.members[c] = struct{}{}
	g.mu.Unlock()

	go h.writeLoop(writeCtx, c)

	slog.Info("viewer attached", "session", token, "connection", c.id)
	return c.id, nil
}

// Broadcast appends the event to the session's bounded history and hands it
// to the batcher for every attached connection. Never blocks the caller on
// delivery.
func (h *Hub) Broadcast(_ context.Context, ev event.Event) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		slog.Error("encode event", "type", ev.EventType(), "error", err)
		return
	}

	g := h.group(ev.SessionToken())
	g.mu.Lock()
	defer g.mu.Unlock()

	h.history.Append(g.token, frame)
	g.pending = append(g.pending, frame)

	if len(g.pending) >= h.cfg.BatchSize {
		h.flushLocked(g)
		return
	}
	if g.timer == nil {
		g.timer = time.AfterFunc(h.cfg.BatchInterval, func() {
			g.mu.Lock()
			h.flushLocked(g)
			g.mu.Unlock()
		})
	}
}

// Detach removes a connection. The session and its computation are
// unaffected; detachment never cancels the run.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	g := h.group(c.token)
	g.mu.Lock()
	delete(g.members, c)
	g.mu.Unlock()

	c.dead.Store(true)
	c.cancel()
	_ = c.sock.Close(websocket.StatusNormalClosure, "")
	slog.Info("viewer detached", "session", c.token, "connection", connID)
}

// SendDirect enqueues a frame to a single connection, used for heartbeat
// probes. Returns false when the connection is unknown or already dead.
func (h *Hub) SendDirect(connID string, f Frame) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok || c.dead.Load() {
		return false
	}
	h.enqueueFrame(c, f)
	return true
}

// CloseSession detaches every viewer of the session and drops its history.
// Used when a session is deleted or evicted.
func (h *Hub) CloseSession(token string) {
	h.mu.RLock()
	var ids []string
	for id, c := range h.conns {
		if c.token == token {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.Detach(id)
	}

	h.mu.Lock()
	delete(h.groups, token)
	h.mu.Unlock()
	h.history.Remove(token)
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SessionConnectionCount returns the number of viewers of one session.
func (h *Hub) SessionConnectionCount(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.conns {
		if c.token == token {
			n++
		}
	}
	return n
}

// PerfStats are the coarse delivery counters for the operational endpoints.
type PerfStats struct {
	MessagesSent      int64   `json:"messages_sent"`
	DeliveryErrors    int64   `json:"delivery_errors"`
	DroppedFrames     int64   `json:"dropped_frames"`
	MessagesPerSecond float64 `json:"messages_per_second"`
	AvgSendLatencyMs  float64 `json:"avg_send_latency_ms"`
}

// Stats returns a snapshot of the delivery counters.
func (h *Hub) Stats() PerfStats {
	sent := h.messagesSent.Load()
	elapsed := time.Since(h.startedAt).Seconds()

	s := PerfStats{
		MessagesSent:   sent,
		DeliveryErrors: h.deliveryErrors.Load(),
		DroppedFrames:  h.droppedFrames.Load(),
	}
	if elapsed > 0 {
		s.MessagesPerSecond = float64(sent) / elapsed
	}
	if sent > 0 {
		s.AvgSendLatencyMs = float64(h.sendNanos.Load()) / float64(sent) / 1e6
	}
	return s
}

// StartHeartbeat launches the liveness sweep: every interval, connections
// that produced no inbound frame for two intervals are declared dead and
// detached; the rest receive a heartbeat probe. Returns a stop function.
func (h *Hub) StartHeartbeat() func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(h.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.sweep()
			}
		}
	}()
	return cancel
}

func (h *Hub) sweep() {
	deadline := time.Now().Add(-2 * h.cfg.HeartbeatInterval).UnixNano()

	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if c.lastSeen.Load() < deadline {
			slog.Warn("heartbeat timeout", "session", c.token, "connection", c.id)
			h.deliveryErrors.Add(1)
			h.metrics.DeliveryError(context.Background())
			h.Detach(c.id)
			continue
		}
		h.SendDirect(c.id, heartbeatFrame(c.token))
	}
}

// group returns the session's group, creating it if needed.
func (h *Hub) group(token string) *group {
	h.mu.RLock()
	g, ok := h.groups[token]
	h.mu.RUnlock()
	if ok {
		return g
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if g, ok = h.groups[token]; ok {
		return g
	}
	g = &group{token: token, members: make(map[*conn]struct{})}
	h.groups[token] = g
	return g
}

// flushLocked sends the pending batch to every member. Caller holds g.mu.
// A batch of one is sent as the bare event frame.
func (h *Hub) flushLocked(g *group) {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if len(g.pending) == 0 {
		return
	}

	out := g.pending[0]
	if len(g.pending) > 1 {
		var err error
		out, err = batchFrame(g.token, g.pending)
		if err != nil {
			slog.Error("encode batch", "session", g.token, "error", err)
			g.pending = nil
			return
		}
	}
	g.pending = nil

	data, err := json.Marshal(out)
	if err != nil {
		slog.Error("marshal frame", "session", g.token, "error", err)
		return
	}
	for c := range g.members {
		h.enqueueBytes(c, data)
	}
}

func (h *Hub) enqueueFrame(c *conn, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Error("marshal frame", "connection", c.id, "error", err)
		return
	}
	h.enqueueBytes(c, data)
}

// enqueueBytes hands a marshaled frame to the connection's writer without
// ever blocking the producer: when the queue is full, the oldest
// undelivered frame for that slow consumer is dropped.
func (h *Hub) enqueueBytes(c *conn, data []byte) {
	if c.dead.Load() {
		return
	}
	for {
		select {
		case c.send <- data:
			return
		default:
		}
		select {
		case <-c.send:
			h.droppedFrames.Add(1)
		default:
		}
	}
}

// writeLoop is the only place this connection's socket is written to.
func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			start := time.Now()
			wctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := c.sock.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				// A failed send is isolated to this connection; the
				// broadcast to others and the computation continue.
				slog.Debug("websocket write failed", "connection", c.id, "error", err)
				h.deliveryErrors.Add(1)
				h.metrics.DeliveryError(context.Background())
				h.Detach(c.id)
				return
			}
			h.messagesSent.Add(1)
			h.sendNanos.Add(time.Since(start).Nanoseconds())
			h.metrics.MessageSent(context.Background())
			h.metrics.SendLatency(context.Background(), time.Since(start))
		}
	}
}
