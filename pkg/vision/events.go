package vision

// Event represents a launcher lifecycle event.
// Minimal and stable: name + port and optional fields via key/values.
type Event struct {
	Name   string
	Port   int
	Fields map[string]any
}

// Event names.
const (
	EventSpawnStart   = "spawn_start"
	EventPortConflict = "port_conflict"
	EventSpawnReady   = "spawn_ready"
	EventSpawnExit    = "spawn_exit"
	EventStop         = "stop"
)

// EventPublisher receives events from an Instance. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
