// Package event defines the closed set of facts broadcast to session viewers.
//
// Every event derived from an analysis step is one of the concrete types
// below. The set is sealed: constructing or consuming an event is an
// exhaustive type switch, so adding a kind is a compile-time-checked change.
package event

import "time"

// Type is the wire discriminator carried in every frame.
type Type string

const (
	TypeAgentStatus Type = "agent_status_update"
	TypeMessage     Type = "message_update"
	TypeReport      Type = "report_update"
	TypeComplete    Type = "analysis_complete"
	TypeError       Type = "analysis_error"
	TypeHeartbeat   Type = "heartbeat"

	// Frame-only discriminators. These never originate from a computation
	// step; the WebSocket adapter builds them directly.
	TypeConnectionAck Type = "connection_ack"
	TypeBatch         Type = "message_batch"
)

// Event is an immutable, typed, timestamped fact about one session.
// The interface is sealed; only types in this package implement it.
type Event interface {
	EventType() Type
	SessionToken() string
	OccurredAt() time.Time

	sealed()
}

// AgentStatus reports a stage status transition.
type AgentStatus struct {
	Token        string
	At           time.Time
	Agent        string
	Status       string
	Progress     float64
	CurrentStage string
	Error        string
}

// Message carries a free-text fragment attributed to a stage.
// Attribution is best-effort; consumers must not treat it as authoritative.
type Message struct {
	Token   string
	At      time.Time
	Agent   string
	Content string
}

// Report carries replacement content for a named report section.
type Report struct {
	Token   string
	At      time.Time
	Section string
	Content string
}

// Complete marks the normal end of a run.
type Complete struct {
	Token  string
	At     time.Time
	Result string
}

// Error marks the failed end of a run.
type Error struct {
	Token   string
	At      time.Time
	Message string
}

// Heartbeat is the liveness probe sent to each connection.
type Heartbeat struct {
	Token string
	At    time.Time
}

func (e AgentStatus) EventType() Type { return TypeAgentStatus }
func (e Message) EventType() Type     { return TypeMessage }
func (e Report) EventType() Type      { return TypeReport }
func (e Complete) EventType() Type    { return TypeComplete }
func (e Error) EventType() Type       { return TypeError }
func (e Heartbeat) EventType() Type   { return TypeHeartbeat }

func (e AgentStatus) SessionToken() string { return e.Token }
func (e Message) SessionToken() string     { return e.Token }
func (e Report) SessionToken() string      { return e.Token }
func (e Complete) SessionToken() string    { return e.Token }
func (e Error) SessionToken() string       { return e.Token }
func (e Heartbeat) SessionToken() string   { return e.Token }

func (e AgentStatus) OccurredAt() time.Time { return e.At }
func (e Message) OccurredAt() time.Time     { return e.At }
func (e Report) OccurredAt() time.Time      { return e.At }
func (e Complete) OccurredAt() time.Time    { return e.At }
func (e Error) OccurredAt() time.Time       { return e.At }
func (e Heartbeat) OccurredAt() time.Time   { return e.At }

func (AgentStatus) sealed() {}
func (Message) sealed()     {}
func (Report) sealed()      {}
func (Complete) sealed()    {}
func (Error) sealed()       {}
func (Heartbeat) sealed()   {}
