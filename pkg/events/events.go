// Package events defines the telemetry event contract shared by every producer
// and by the live dashboard feed. Producers build events with New and the
// typed constructors below; the bus never looks inside Data.
package events

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies what happened. The set is closed.
type Kind string

const (
	// Container lifecycle
	ContainerSpawnedKind   Kind = "container-spawned"
	ContainerCompletedKind Kind = "container-completed"

	// Agent lifecycle
	AgentActivityKind Kind = "agent-activity"

	// Message flow
	MessageReceivedKind Kind = "message-received"
	MessageSentKind     Kind = "message-sent"
)

var validKinds = map[Kind]bool{
	ContainerSpawnedKind:   true,
	ContainerCompletedKind: true,
	AgentActivityKind:      true,
	MessageReceivedKind:    true,
	MessageSentKind:        true,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return validKinds[k] }

// Kinds returns every known kind.
func Kinds() []Kind {
	return []Kind{
		ContainerSpawnedKind,
		ContainerCompletedKind,
		AgentActivityKind,
		MessageReceivedKind,
		MessageSentKind,
	}
}

// --- Event Envelope ---

// Event is the envelope for one telemetry record. Treat it as immutable once
// published.
type Event struct {
	// Type identifies the event kind.
	Type Kind `json:"type"`

	// Timestamp is producer-supplied. It is not comparable across producers.
	Timestamp string `json:"timestamp"`

	// GroupFolder names the workspace the event belongs to, if any.
	GroupFolder string `json:"groupFolder,omitempty"`

	// ChatJID is the cross-network chat address, e.g. "12345@telegram".
	ChatJID string `json:"chatJid,omitempty"`

	// Data is the opaque payload. Snapshots share it with the bus, so it must
	// not be mutated after Publish: use value types such as the payload
	// structs below, or json.RawMessage, which the bus copies on snapshot.
	Data interface{} `json:"data"`
}

var (
	ErrMissingType      = errors.New("event type required")
	ErrMissingTimestamp = errors.New("event timestamp required")
	ErrUnknownKind      = errors.New("unknown event type")
)

// New creates an event stamped with the current UTC time.
func New(kind Kind, data interface{}) Event {
	return Event{
		Type:      kind,
		Timestamp: Now(),
		Data:      data,
	}
}

// Now formats the current time the way producers in this repo stamp events.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// WithGroup returns a copy of e with GroupFolder set.
func (e Event) WithGroup(folder string) Event {
	e.GroupFolder = folder
	return e
}

// WithChat returns a copy of e with ChatJID set.
func (e Event) WithChat(jid string) Event {
	e.ChatJID = jid
	return e
}

// Validate checks the required envelope fields. The payload is not inspected.
func (e Event) Validate() error {
	if e.Type == "" {
		return ErrMissingType
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Type)
	}
	if e.Timestamp == "" {
		return ErrMissingTimestamp
	}
	return nil
}

// --- Typed Payloads ---

// ContainerData is the payload for container lifecycle events.
type ContainerData struct {
	ContainerID string `json:"container_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Image       string `json:"image,omitempty"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

// AgentActivityData is the payload for agent activity events.
type AgentActivityData struct {
	AgentID  string `json:"agent_id,omitempty"`
	Action   string `json:"action"`
	ToolName string `json:"tool_name,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// MessageData is the payload for message flow events.
type MessageData struct {
	MessageID  string `json:"message_id,omitempty"`
	Channel    string `json:"channel"`
	From       string `json:"from,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Preview    string `json:"preview"` // truncated content
}

// PreviewLen is the maximum number of runes kept in MessageData.Preview.
const PreviewLen = 200

// ContainerSpawned builds a container-spawned event.
func ContainerSpawned(groupFolder string, data ContainerData) Event {
	return New(ContainerSpawnedKind, data).WithGroup(groupFolder)
}

// ContainerCompleted builds a container-completed event.
func ContainerCompleted(groupFolder string, data ContainerData) Event {
	return New(ContainerCompletedKind, data).WithGroup(groupFolder)
}

// AgentActivity builds an agent-activity event.
func AgentActivity(groupFolder string, data AgentActivityData) Event {
	return New(AgentActivityKind, data).WithGroup(groupFolder)
}

// MessageReceived builds a message-received event for chatJID.
func MessageReceived(chatJID string, data MessageData) Event {
	data.Preview = Truncate(data.Preview, PreviewLen)
	return New(MessageReceivedKind, data).WithChat(chatJID)
}

// MessageSent builds a message-sent event for chatJID.
func MessageSent(chatJID string, data MessageData) Event {
	data.Preview = Truncate(data.Preview, PreviewLen)
	return New(MessageSentKind, data).WithChat(chatJID)
}

// Truncate shortens s to at most maxLen runes, marking the cut with an ellipsis.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "…"
}
