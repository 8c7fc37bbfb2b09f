package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/FinSight/internal/domain/analysis"
	"github.com/Strob0t/FinSight/internal/domain/event"
)

// Frame is the envelope for all server-to-client WebSocket messages.
type Frame struct {
	Type      event.Type      `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type agentStatusPayload struct {
	Agent        string  `json:"agent"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	CurrentStage string  `json:"current_stage,omitempty"`
	Error        string  `json:"error,omitempty"`
}

type messagePayload struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

type reportPayload struct {
	Section string `json:"section"`
	Content string `json:"content"`
}

type completePayload struct {
	Result string `json:"result,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type ackPayload struct {
	ConnectionID string            `json:"connection_id"`
	Snapshot     *analysis.Session `json:"snapshot"`
}

type batchPayload struct {
	Count  int     `json:"count"`
	Events []Frame `json:"events"`
}

// EncodeEvent converts a domain event into its wire frame. The type switch
// is exhaustive over the sealed event set; an unknown event is a bug.
func EncodeEvent(ev event.Event) (Frame, error) {
	var payload any

	switch e := ev.(type) {
	case event.AgentStatus:
		payload = agentStatusPayload{
			Agent:        e.Agent,
			Status:       e.Status,
			Progress:     e.Progress,
			CurrentStage: e.CurrentStage,
			Error:        e.Error,
		}
	case event.Message:
		payload = messagePayload{Agent: e.Agent, Content: e.Content}
	case event.Report:
		payload = reportPayload{Section: e.Section, Content: e.Content}
	case event.Complete:
		payload = completePayload{Result: e.Result}
	case event.Error:
		payload = errorPayload{Message: e.Message}
	case event.Heartbeat:
		payload = nil
	default:
		return Frame{}, fmt.Errorf("unknown event type %T", ev)
	}

	frame := Frame{
		Type:      ev.EventType(),
		Timestamp: ev.OccurredAt(),
		SessionID: ev.SessionToken(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal %s payload: %w", ev.EventType(), err)
		}
		frame.Payload = data
	}
	return frame, nil
}

// ackFrame builds the connection acknowledgment carrying the full session
// snapshot, so a late joiner is never missing context.
func ackFrame(connID string, snapshot *analysis.Session) (Frame, error) {
	data, err := json.Marshal(ackPayload{ConnectionID: connID, Snapshot: snapshot})
	if err != nil {
		return Frame{}, fmt.Errorf("marshal ack payload: %w", err)
	}
	return Frame{
		Type:      event.TypeConnectionAck,
		Timestamp: time.Now().UTC(),
		SessionID: snapshot.Token,
		Payload:   data,
	}, nil
}

// batchFrame wraps two or more frames into a single message_batch frame.
func batchFrame(sessionID string, frames []Frame) (Frame, error) {
	data, err := json.Marshal(batchPayload{Count: len(frames), Events: frames})
	if err != nil {
		return Frame{}, fmt.Errorf("marshal batch payload: %w", err)
	}
	return Frame{
		Type:      event.TypeBatch,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
		Payload:   data,
	}, nil
}

// heartbeatFrame builds the liveness probe for a connection's session.
func heartbeatFrame(sessionID string) Frame {
	return Frame{
		Type:      event.TypeHeartbeat,
		Timestamp: time.Now().UTC(),
		SessionID: sessionID,
	}
}
