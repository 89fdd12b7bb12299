// Package gamestate defines the recorded per-tick state model shared by the
// replay core, the checkpoint generator and the simulation.
package gamestate

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Tick identifies one simulation step.
type Tick uint32

// NetEntity is the network identity an entity was recorded with.
type NetEntity int32

// EntityUID is the local identity the simulation assigns to an entity.
type EntityUID uint32

const (
	// MetaDataNetID is the component id carrying entity metadata.
	MetaDataNetID uint16 = 0
	// PrototypeField is the metadata field holding the prototype id.
	PrototypeField = "prototype"
)

// TimeBase anchors wall-clock time to a tick. Time of any tick is
// Time + (tick - Tick) * tick period.
type TimeBase struct {
	Time time.Duration `json:"time"`
	Tick Tick          `json:"tick"`
}

// TimeOf returns the wall-clock time of tick for the given tick rate.
func (tb TimeBase) TimeOf(tick Tick, tickRate int) time.Duration {
	if tickRate <= 0 {
		return tb.Time
	}
	// Multiply before dividing so whole seconds stay exact at any rate.
	delta := time.Duration(int64(tick) - int64(tb.Tick))
	return tb.Time + delta*time.Second/time.Duration(tickRate)
}

// ComponentState is the data of one component. A full state replaces the
// component, a delta only overlays the listed fields.
type ComponentState struct {
	Delta  bool                       `json:"delta,omitempty"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Merge folds s onto existing and returns the resulting full state.
func (s ComponentState) Merge(existing ComponentState) ComponentState {
	if !s.Delta {
		return s.Clone()
	}
	merged := existing.Clone()
	merged.Delta = false
	if merged.Fields == nil {
		merged.Fields = make(map[string]json.RawMessage, len(s.Fields))
	}
	for k, v := range s.Fields {
		merged.Fields[k] = slices.Clone(v)
	}
	return merged
}

// Clone returns a deep copy.
func (s ComponentState) Clone() ComponentState {
	out := ComponentState{Delta: s.Delta}
	if s.Fields != nil {
		out.Fields = make(map[string]json.RawMessage, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = slices.Clone(v)
		}
	}
	return out
}

// ComponentChange is one component update of an entity.
type ComponentChange struct {
	NetID        uint16         `json:"netId"`
	State        ComponentState `json:"state"`
	LastModified Tick           `json:"lastModified"`
}

// EntityState is the recorded update of a single entity.
// A nil NetComponents means the component set did not change; otherwise it is
// the complete set and any component not listed was removed.
type EntityState struct {
	NetEntity     NetEntity         `json:"netEntity"`
	Components    []ComponentChange `json:"components,omitempty"`
	LastModified  Tick              `json:"lastModified"`
	NetComponents []uint16          `json:"netComponents,omitempty"`
}

// Component returns the change for netID, if present.
func (es EntityState) Component(netID uint16) (ComponentChange, bool) {
	for _, c := range es.Components {
		if c.NetID == netID {
			return c, true
		}
	}
	return ComponentChange{}, false
}

// Prototype returns the prototype id carried by the metadata component.
func (es EntityState) Prototype() (string, bool) {
	meta, ok := es.Component(MetaDataNetID)
	if !ok || meta.State.Delta {
		return "", false
	}
	raw, ok := meta.State.Fields[PrototypeField]
	if !ok {
		return "", false
	}
	var proto string
	if err := json.Unmarshal(raw, &proto); err != nil || proto == "" {
		return "", false
	}
	return proto, true
}

// Clone returns a deep copy.
func (es EntityState) Clone() EntityState {
	out := EntityState{
		NetEntity:     es.NetEntity,
		LastModified:  es.LastModified,
		NetComponents: slices.Clone(es.NetComponents),
	}
	if es.Components != nil {
		out.Components = make([]ComponentChange, len(es.Components))
		for i, c := range es.Components {
			out.Components[i] = ComponentChange{NetID: c.NetID, State: c.State.Clone(), LastModified: c.LastModified}
		}
	}
	return out
}

// GameState spans the ticks (FromSequence, ToSequence]. A full state has
// FromSequence == 0 and lists every entity; deletions are implicit.
type GameState struct {
	FromSequence    Tick          `json:"fromSequence"`
	ToSequence      Tick          `json:"toSequence"`
	EntityStates    []EntityState `json:"entityStates,omitempty"`
	EntityDeletions []NetEntity   `json:"entityDeletions,omitempty"`
}

// IsFull reports whether the state is a self-sufficient snapshot.
func (gs GameState) IsFull() bool {
	return gs.FromSequence == 0
}

// FullEntityState merges an update into the previous full state of an entity.
func FullEntityState(update EntityState, previous EntityState) EntityState {
	byID := make(map[uint16]ComponentChange, len(previous.Components))
	order := make([]uint16, 0, len(previous.Components)+len(update.Components))
	for _, c := range previous.Components {
		byID[c.NetID] = c
		order = append(order, c.NetID)
	}

	netComps := previous.NetComponents
	if update.NetComponents != nil {
		keep := make(map[uint16]struct{}, len(update.NetComponents))
		for _, id := range update.NetComponents {
			keep[id] = struct{}{}
		}
		for id := range byID {
			if _, ok := keep[id]; !ok {
				delete(byID, id)
			}
		}
		netComps = update.NetComponents
	}

	for _, c := range update.Components {
		existing, ok := byID[c.NetID]
		if !ok {
			order = append(order, c.NetID)
			byID[c.NetID] = ComponentChange{NetID: c.NetID, State: c.State.Merge(ComponentState{}), LastModified: c.LastModified}
			continue
		}
		byID[c.NetID] = ComponentChange{NetID: c.NetID, State: c.State.Merge(existing.State), LastModified: c.LastModified}
	}

	out := EntityState{
		NetEntity:     update.NetEntity,
		LastModified:  update.LastModified,
		NetComponents: slices.Clone(netComps),
		Components:    make([]ComponentChange, 0, len(byID)),
	}
	seen := make(map[uint16]struct{}, len(byID))
	for _, id := range order {
		c, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out.Components = append(out.Components, c)
	}
	slices.SortFunc(out.Components, func(a, b ComponentChange) int { return int(a.NetID) - int(b.NetID) })
	return out
}

// CloneCvars copies a cvar map.
func CloneCvars(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	return maps.Clone(in)
}
