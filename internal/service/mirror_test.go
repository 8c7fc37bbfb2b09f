package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/FinSight/internal/domain/event"
	"github.com/Strob0t/FinSight/internal/port/messagequeue"
	"github.com/Strob0t/FinSight/internal/resilience"
)

// fakeQueue records publishes and can be told to fail.
type fakeQueue struct {
	mu       sync.Mutex
	subjects []string
	fail     bool
}

func (q *fakeQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return errors.New("queue down")
	}
	q.subjects = append(q.subjects, subject)
	return nil
}

func (q *fakeQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

func (q *fakeQueue) published() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.subjects...)
}

func TestMirrorPublishesAfterViewerDelivery(t *testing.T) {
	inner := &captureHub{}
	queue := &fakeQueue{}
	m := NewMirroredBroadcaster(inner, queue, resilience.NewBreaker(5, time.Second))

	ev := event.Message{Token: "tok", At: time.Now().UTC(), Agent: "market_analyst", Content: "hi"}
	m.Broadcast(context.Background(), ev)

	// Viewer delivery is synchronous.
	if len(inner.list()) != 1 {
		t.Fatalf("expected inner broadcast, got %d", len(inner.list()))
	}

	m.Close()
	subjects := queue.published()
	if len(subjects) != 1 {
		t.Fatalf("expected 1 mirror publish, got %d", len(subjects))
	}
	want := messagequeue.SubjectPrefix + ".tok.message_update"
	if subjects[0] != want {
		t.Fatalf("expected subject %s, got %s", want, subjects[0])
	}
}

func TestMirrorFailureDoesNotAffectViewers(t *testing.T) {
	inner := &captureHub{}
	queue := &fakeQueue{fail: true}
	m := NewMirroredBroadcaster(inner, queue, resilience.NewBreaker(5, time.Second))

	for i := 0; i < 10; i++ {
		m.Broadcast(context.Background(), event.Heartbeat{Token: "tok", At: time.Now()})
	}
	m.Close()

	if got := len(inner.list()); got != 10 {
		t.Fatalf("viewers must receive all events regardless of the mirror, got %d", got)
	}
}

func TestMirrorOrderPreserved(t *testing.T) {
	queue := &fakeQueue{}
	m := NewMirroredBroadcaster(&captureHub{}, queue, resilience.NewBreaker(5, time.Second))

	m.Broadcast(context.Background(), event.Message{Token: "tok", At: time.Now()})
	m.Broadcast(context.Background(), event.Report{Token: "tok", At: time.Now(), Section: "s"})
	m.Broadcast(context.Background(), event.Complete{Token: "tok", At: time.Now()})
	m.Close()

	subjects := queue.published()
	if len(subjects) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(subjects))
	}
	for i, suffix := range []string{"message_update", "report_update", "analysis_complete"} {
		if !strings.HasSuffix(subjects[i], suffix) {
			t.Fatalf("publish %d: expected %s, got %s", i, suffix, subjects[i])
		}
	}
}
