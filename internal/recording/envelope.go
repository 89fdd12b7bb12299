package recording

import (
	"encoding/json"
	"fmt"

	"tick-replay/internal/gamestate"
)

// Envelope types.
const (
	envelopeCvar  = "cvar"
	envelopeLeave = "leave"
	envelopeEvent = "event"
)

// envelope is the tagged on-disk form of a message.
type envelope struct {
	Type     string                `json:"type"`
	Cvars    map[string]any        `json:"cvars,omitempty"`
	TimeBase *gamestate.TimeBase   `json:"timeBase,omitempty"`
	Tick     gamestate.Tick        `json:"tick,omitempty"`
	Entities []gamestate.NetEntity `json:"entities,omitempty"`
	Kind     string                `json:"kind,omitempty"`
	Entity   gamestate.NetEntity   `json:"entity,omitempty"`
	Payload  json.RawMessage       `json:"payload,omitempty"`
}

func encodeMessage(msg gamestate.Message) (envelope, error) {
	switch m := msg.(type) {
	case gamestate.ConfigChange:
		tb := m.TimeBase
		return envelope{Type: envelopeCvar, Cvars: m.Cvars, TimeBase: &tb}, nil
	case gamestate.LeaveVisibility:
		return envelope{Type: envelopeLeave, Tick: m.Tick, Entities: m.Entities}, nil
	case gamestate.GenericEvent:
		return envelope{Type: envelopeEvent, Kind: m.Type, Entity: m.Entity, Payload: m.Payload}, nil
	default:
		return envelope{}, fmt.Errorf("%w: unsupported message %T", ErrFormat, msg)
	}
}

// decodeMessage maps unknown envelope types to a generic event of that type
// so playback can report and skip them.
func decodeMessage(raw json.RawMessage) (gamestate.Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: message: %w", ErrFormat, err)
	}
	switch env.Type {
	case envelopeCvar:
		m := gamestate.ConfigChange{Cvars: env.Cvars}
		if env.TimeBase != nil {
			m.TimeBase = *env.TimeBase
		}
		return m, nil
	case envelopeLeave:
		return gamestate.LeaveVisibility{Tick: env.Tick, Entities: env.Entities}, nil
	case envelopeEvent:
		return gamestate.GenericEvent{Type: env.Kind, Entity: env.Entity, Payload: env.Payload}, nil
	case "":
		return nil, fmt.Errorf("%w: message without type", ErrFormat)
	default:
		return gamestate.GenericEvent{Type: env.Type, Entity: env.Entity, Payload: raw}, nil
	}
}

func encodeMessages(msgs []gamestate.Message) ([]envelope, error) {
	out := make([]envelope, 0, len(msgs))
	for _, m := range msgs {
		env, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

func decodeMessages(raws []json.RawMessage) ([]gamestate.Message, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	out := make([]gamestate.Message, 0, len(raws))
	for _, raw := range raws {
		m, err := decodeMessage(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
