// Package synth generates deterministic recordings with spawns, deltas,
// deletions, visibility changes, config changes and events.
package synth

import (
	"encoding/json"
	"math/rand/v2"
	"slices"
	"strconv"

	"tick-replay/internal/gamestate"
)

// Options shapes a generated recording.
type Options struct {
	Ticks           int
	Seed            uint64
	InitialEntities int
	// ClientSide recordings include leave notifications.
	ClientSide bool
	// UnknownEvents adds events of a kind nothing handles.
	UnknownEvents bool
}

// Recording is a generated session.
type Recording struct {
	InitMessages []gamestate.Message
	States       []gamestate.GameState
	Messages     [][]gamestate.Message
	ClientSide   bool
}

var prototypes = []string{"Crate", "Player", "Turret", "Barrel"}

const (
	transformID uint16 = 1
	healthID    uint16 = 2
)

type gen struct {
	rng      *rand.Rand
	nextNet  gamestate.NetEntity
	attached []gamestate.NetEntity
	detached []gamestate.NetEntity
}

// Generate builds a recording. Tick of index i is i+1.
func Generate(opts Options) Recording {
	if opts.Ticks <= 0 {
		opts.Ticks = 1
	}
	g := &gen{rng: rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))}
	rec := Recording{
		States:     make([]gamestate.GameState, opts.Ticks),
		Messages:   make([][]gamestate.Message, opts.Ticks),
		ClientSide: opts.ClientSide,
		InitMessages: []gamestate.Message{
			gamestate.ConfigChange{Cvars: map[string]any{gamestate.TickRateCvar: 30}},
		},
	}

	state0 := gamestate.GameState{ToSequence: 1}
	for range opts.InitialEntities {
		state0.EntityStates = append(state0.EntityStates, g.spawn())
	}
	rec.States[0] = state0
	rec.Messages[0] = []gamestate.Message{
		gamestate.ConfigChange{
			Cvars:    map[string]any{gamestate.TickRateCvar: 30},
			TimeBase: gamestate.TimeBase{Tick: 1},
		},
	}

	for i := 1; i < opts.Ticks; i++ {
		tick := gamestate.Tick(i + 1)
		st := gamestate.GameState{FromSequence: tick - 1, ToSequence: tick}
		var msgs []gamestate.Message
		touched := make(map[gamestate.NetEntity]bool)

		for _, net := range g.attached {
			if g.rng.IntN(4) == 0 {
				st.EntityStates = append(st.EntityStates, g.move(net))
				touched[net] = true
			}
		}
		if len(g.detached) > 0 && g.rng.IntN(12) == 0 {
			net := g.detached[g.rng.IntN(len(g.detached))]
			st.EntityStates = append(st.EntityStates, g.move(net))
			touched[net] = true
			g.detached = remove(g.detached, net)
			g.attached = append(g.attached, net)
		}
		if g.rng.IntN(6) == 0 {
			es := g.spawn()
			st.EntityStates = append(st.EntityStates, es)
			touched[es.NetEntity] = true
		}
		if len(g.attached) > 2 && g.rng.IntN(9) == 0 {
			net := g.attached[g.rng.IntN(len(g.attached))]
			if !touched[net] {
				st.EntityDeletions = append(st.EntityDeletions, net)
				g.attached = remove(g.attached, net)
			}
		}
		if opts.ClientSide && len(g.attached) > 2 && g.rng.IntN(7) == 0 {
			net := g.attached[g.rng.IntN(len(g.attached))]
			if !touched[net] && !slices.Contains(st.EntityDeletions, net) {
				msgs = append(msgs, gamestate.LeaveVisibility{Tick: tick, Entities: []gamestate.NetEntity{net}})
				g.attached = remove(g.attached, net)
				g.detached = append(g.detached, net)
			}
		}
		if g.rng.IntN(40) == 0 {
			msgs = append(msgs, gamestate.ConfigChange{
				Cvars:    map[string]any{"sv.gravity": g.rng.IntN(20)},
				TimeBase: gamestate.TimeBase{Tick: 1},
			})
		}
		msgs = append(msgs, g.events(opts.UnknownEvents)...)

		rec.States[i] = st
		rec.Messages[i] = msgs
	}
	return rec
}

func (g *gen) spawn() gamestate.EntityState {
	g.nextNet++
	net := g.nextNet
	g.attached = append(g.attached, net)
	proto := prototypes[g.rng.IntN(len(prototypes))]
	return gamestate.EntityState{
		NetEntity:     net,
		NetComponents: []uint16{gamestate.MetaDataNetID, transformID, healthID},
		Components: []gamestate.ComponentChange{
			{NetID: gamestate.MetaDataNetID, State: state(gamestate.PrototypeField, strconv.Quote(proto))},
			{NetID: transformID, State: state("x", g.coord(), "y", g.coord())},
			{NetID: healthID, State: state("hp", "100")},
		},
	}
}

func (g *gen) move(net gamestate.NetEntity) gamestate.EntityState {
	st := state("x", g.coord())
	st.Delta = true
	return gamestate.EntityState{
		NetEntity:  net,
		Components: []gamestate.ComponentChange{{NetID: transformID, State: st}},
	}
}

func (g *gen) events(unknown bool) []gamestate.Message {
	var out []gamestate.Message
	if g.rng.IntN(3) == 0 {
		out = append(out, gamestate.GenericEvent{Type: "sound"})
	}
	if g.rng.IntN(5) == 0 {
		out = append(out, gamestate.GenericEvent{Type: "particles"})
	}
	if len(g.attached) > 0 && g.rng.IntN(8) == 0 {
		out = append(out, gamestate.GenericEvent{
			Type:    "damage",
			Entity:  g.attached[g.rng.IntN(len(g.attached))],
			Payload: json.RawMessage(`{"amount":` + strconv.Itoa(g.rng.IntN(30)) + `}`),
		})
	}
	if unknown && g.rng.IntN(10) == 0 {
		out = append(out, gamestate.GenericEvent{Type: "mystery"})
	}
	return out
}

func (g *gen) coord() string {
	return strconv.Itoa(g.rng.IntN(1000))
}

func state(kv ...string) gamestate.ComponentState {
	fields := make(map[string]json.RawMessage, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = json.RawMessage(kv[i+1])
	}
	return gamestate.ComponentState{Fields: fields}
}

func remove(s []gamestate.NetEntity, net gamestate.NetEntity) []gamestate.NetEntity {
	i := slices.Index(s, net)
	if i < 0 {
		return s
	}
	return slices.Delete(s, i, i+1)
}
