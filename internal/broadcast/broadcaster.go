package broadcast

import (
	"context"

	"github.com/spec-kit/helpdesk-engine/internal/events"
)

// Rooms partition event delivery: one room per analyst for personal ticket
// lists, one per department for dashboard aggregates.

// AnalystRoom names the room receiving one analyst's personal updates.
func AnalystRoom(analystID string) string {
	return "analyst:" + analystID
}

// DepartmentRoom names the room receiving department-wide updates.
func DepartmentRoom(department string) string {
	return "department:" + department
}

// Broadcaster publishes ticket lifecycle events to subscribed client
// sessions. Delivery is best-effort, at-most-once per session; it is never a
// correctness dependency of the engine.
type Broadcaster interface {
	Publish(ctx context.Context, room string, event events.Event) error
}
