package gamestate

import "encoding/json"

// MessageKind classifies recorded side-effect messages.
type MessageKind uint8

const (
	MessageKindUnknown MessageKind = iota
	MessageKindConfigChange
	MessageKindLeaveVisibility
	MessageKindGenericEvent
)

// String returns a human-readable kind.
func (k MessageKind) String() string {
	switch k {
	case MessageKindConfigChange:
		return "cvar"
	case MessageKindLeaveVisibility:
		return "leave"
	case MessageKindGenericEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is anything recorded that is not part of core state. The set of
// implementations is closed: ConfigChange, LeaveVisibility and GenericEvent.
type Message interface {
	Kind() MessageKind
	isMessage()
}

// ConfigChange records replicated configuration values and the time base
// they were sent with.
type ConfigChange struct {
	Cvars    map[string]any `json:"cvars"`
	TimeBase TimeBase       `json:"timeBase"`
}

// LeaveVisibility records entities leaving the recording perspective's view
// at Tick.
type LeaveVisibility struct {
	Tick     Tick        `json:"tick"`
	Entities []NetEntity `json:"entities"`
}

// GenericEvent is an application-level event identified by Kind.
type GenericEvent struct {
	Type    string          `json:"kind"`
	Entity  NetEntity       `json:"entity,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (ConfigChange) Kind() MessageKind    { return MessageKindConfigChange }
func (LeaveVisibility) Kind() MessageKind { return MessageKindLeaveVisibility }
func (GenericEvent) Kind() MessageKind    { return MessageKindGenericEvent }

func (ConfigChange) isMessage()    {}
func (LeaveVisibility) isMessage() {}
func (GenericEvent) isMessage()    {}
