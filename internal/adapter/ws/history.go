package ws

import (
	"sync"
	"time"
)

// sessionHistory is a fixed-capacity ring of the most recent frames for one
// session, oldest evicted first.
type sessionHistory struct {
	frames     []Frame
	head       int // index of the oldest frame
	count      int
	lastActive time.Time
}

func (sh *sessionHistory) append(f Frame, now time.Time) {
	capacity := cap(sh.frames)
	if sh.count < capacity {
		sh.frames = sh.frames[:sh.count+1]
		sh.frames[(sh.head+sh.count)%capacity] = f
		sh.count++
	} else {
		sh.frames[sh.head] = f
		sh.head = (sh.head + 1) % capacity
	}
	sh.lastActive = now
}

func (sh *sessionHistory) snapshot() []Frame {
	out := make([]Frame, sh.count)
	capacity := cap(sh.frames)
	for i := 0; i < sh.count; i++ {
		out[i] = sh.frames[(sh.head+i)%capacity]
	}
	return out
}

// historyStore keeps bounded per-session event history. The number of
// tracked sessions is itself capped; the least-recently-active session is
// evicted when a new one would exceed the cap.
type historyStore struct {
	mu          sync.Mutex
	perSession  int
	maxSessions int
	sessions    map[string]*sessionHistory
}

func newHistoryStore(perSession, maxSessions int) *historyStore {
	if perSession < 1 {
		perSession = 1
	}
	if maxSessions < 1 {
		maxSessions = 1
	}
	return &historyStore{
		perSession:  perSession,
		maxSessions: maxSessions,
		sessions:    make(map[string]*sessionHistory),
	}
}

// Append records a frame for the session, creating its ring on first use.
func (h *historyStore) Append(token string, f Frame) {
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	sh, ok := h.sessions[token]
	if !ok {
		if len(h.sessions) >= h.maxSessions {
			h.evictOldestLocked()
		}
		sh = &sessionHistory{frames: make([]Frame, 0, h.perSession)}
		h.sessions[token] = sh
	}
	sh.append(f, now)
}

// Events returns the retained frames for the session in insertion order.
func (h *historyStore) Events(token string) []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()

	sh, ok := h.sessions[token]
	if !ok {
		return nil
	}
	return sh.snapshot()
}

// Remove drops a session's history entirely.
func (h *historyStore) Remove(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, token)
}

// SessionCount reports how many sessions currently have history.
func (h *historyStore) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *historyStore) evictOldestLocked() {
	var oldestToken string
	var oldest time.Time
	for token, sh := range h.sessions {
		if oldestToken == "" || sh.lastActive.Before(oldest) {
			oldestToken = token
			oldest = sh.lastActive
		}
	}
	if oldestToken != "" {
		delete(h.sessions, oldestToken)
	}
}
