package replay

import (
	"maps"
	"slices"

	"github.com/sirupsen/logrus"

	"tick-replay/internal/assert"
	"tick-replay/internal/gamestate"
)

// MessageReplayer replays recorded side-effect messages in order. Config
// changes and leave notifications are always applied; skipEffects only
// reaches generic event dispatch.
type MessageReplayer struct {
	sim       Simulation
	handler   EventHandler
	log       logrus.FieldLogger
	telemetry Telemetry

	clientSide bool
	// warned holds event kinds already reported as unhandled this session.
	warned map[string]struct{}
}

// NewMessageReplayer returns a replayer driving sim.
func NewMessageReplayer(sim Simulation, log logrus.FieldLogger, telemetry Telemetry) *MessageReplayer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if telemetry == nil {
		telemetry = noopTelemetry{}
	}
	return &MessageReplayer{
		sim:       sim,
		log:       log,
		telemetry: telemetry,
		warned:    make(map[string]struct{}),
	}
}

// SetHandler installs h to see generic events before default dispatch.
func (r *MessageReplayer) SetHandler(h EventHandler) {
	r.handler = h
}

// Begin starts a new session and forgets previously warned kinds.
func (r *MessageReplayer) Begin(clientSide bool) {
	r.clientSide = clientSide
	r.warned = make(map[string]struct{})
}

// Replay applies msgs recorded at tick. Leave notifications are queued for
// the detach pipeline unless detachImmediately is set. Failures of single
// messages are logged and do not stop the rest.
func (r *MessageReplayer) Replay(tick gamestate.Tick, msgs []gamestate.Message, skipEffects, detachImmediately bool) {
	for _, msg := range msgs {
		switch m := msg.(type) {
		case gamestate.ConfigChange:
			r.applyConfig(m)
		case gamestate.LeaveVisibility:
			if !r.clientSide {
				continue
			}
			if detachImmediately {
				r.sim.DetachImmediate(m.Entities)
			} else {
				r.sim.QueueDetach(m.Tick, m.Entities)
			}
		case gamestate.GenericEvent:
			r.dispatch(tick, m, skipEffects)
		default:
			assert.IsTrue(false, "unknown message variant %T", msg)
			r.warnOnce(tick, "unknown")
		}
	}
}

func (r *MessageReplayer) applyConfig(m gamestate.ConfigChange) {
	for _, name := range slices.Sorted(maps.Keys(m.Cvars)) {
		if err := r.sim.SetConfigValue(name, m.Cvars[name], true); err != nil {
			r.log.WithError(err).WithField("cvar", name).Warn("failed to restore config value")
		}
	}
	r.sim.SetTimeBase(m.TimeBase)
}

func (r *MessageReplayer) dispatch(tick gamestate.Tick, ev gamestate.GenericEvent, skipEffects bool) {
	if r.handler != nil && r.handler(ev, skipEffects) {
		return
	}
	if !r.sim.HandlesEvent(ev.Type) {
		r.warnOnce(tick, ev.Type)
		return
	}
	if err := r.sim.DispatchEvent(ev, skipEffects); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"tick": tick,
			"kind": ev.Type,
		}).Warn("failed to replay event")
	}
}

func (r *MessageReplayer) warnOnce(tick gamestate.Tick, kind string) {
	if _, ok := r.warned[kind]; ok {
		return
	}
	r.warned[kind] = struct{}{}
	r.telemetry.RecordUnhandledMessage(kind)
	r.log.WithFields(logrus.Fields{
		"tick": tick,
		"kind": kind,
	}).Warn("unhandled replay message type")
}
