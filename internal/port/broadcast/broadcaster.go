// Package broadcast defines the port for delivering real-time events to the
// viewers of a session.
package broadcast

import (
	"context"

	"github.com/Strob0t/FinSight/internal/domain/event"
)

// Broadcaster fans an event out to every connection attached to the event's
// session. Implementations must not block the caller on delivery.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev event.Event)
}
