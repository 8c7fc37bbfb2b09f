//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/FinSight/internal/domain/event"
)

// frame mirrors the wire envelope; tests decode only what they assert on.
type frame struct {
	Type      event.Type      `json:"type"`
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

func TestLiveStreamDeliversRunToCompletion(t *testing.T) {
	token := startAnalysis(t, "NVDA", []string{"market_analyst"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/api/v1/analyses/" + token + "/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// First frame is always the connection ack with the snapshot.
	var first frame
	if err := readInto(ctx, t, conn, &first); err != nil {
		t.Fatal(err)
	}
	if first.Type != event.TypeConnectionAck {
		t.Fatalf("expected connection_ack first, got %s", first.Type)
	}

	// Then events flow until the terminal analysis_complete.
	sawMessage := false
	for {
		var f frame
		if err := readInto(ctx, t, conn, &f); err != nil {
			t.Fatalf("stream ended early: %v", err)
		}
		if f.SessionID != token {
			t.Fatalf("received frame for session %s", f.SessionID)
		}
		switch f.Type {
		case event.TypeMessage:
			sawMessage = true
		case event.TypeComplete:
			if !sawMessage {
				t.Fatal("completed without any message events")
			}
			return
		case event.TypeError:
			t.Fatalf("unexpected analysis_error: %s", f.Payload)
		}
	}
}

func TestStreamAttachUnknownSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(testServer.URL, "http") + "/api/v1/analyses/no-such-token/stream"
	_, resp, err := websocket.Dial(ctx, wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail for unknown session")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404 rejection, got %+v", resp)
	}
}

func readInto(ctx context.Context, t *testing.T, conn *websocket.Conn, f *frame) error {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, f)
}
