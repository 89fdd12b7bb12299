// Package checkpoint builds the sparse checkpoint table of a recording from
// its per-tick delta states.
package checkpoint

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/sirupsen/logrus"

	"tick-replay/internal/assert"
	"tick-replay/internal/gamestate"
	"tick-replay/internal/replay"
)

// Settings decides how densely checkpoints are generated.
type Settings struct {
	// Interval forces a checkpoint after this many ticks.
	Interval int
	// MinInterval is the least number of ticks between checkpoints.
	MinInterval int
	// SpawnThreshold forces a checkpoint after this many entity spawns.
	SpawnThreshold int
	// StateThreshold forces a checkpoint after this many entity updates.
	StateThreshold int
	// IgnoreErrors logs and skips malformed entity states instead of failing.
	IgnoreErrors bool
}

// DefaultSettings returns the default checkpoint density.
func DefaultSettings() Settings {
	return Settings{
		Interval:       500,
		MinInterval:    60,
		SpawnThreshold: 100,
		StateThreshold: 10000,
	}
}

// Key identifies settings that produce identical checkpoints.
func (s Settings) Key() string {
	return fmt.Sprintf("interval=%d,min=%d,spawn=%d,state=%d", s.Interval, s.MinInterval, s.SpawnThreshold, s.StateThreshold)
}

// Stats counts why checkpoints were created.
type Stats struct {
	DueTicks   int
	DueSpawned int
	DueState   int
}

// Generator builds checkpoints.
type Generator struct {
	settings Settings
	log      logrus.FieldLogger
}

// NewGenerator returns a generator using settings.
func NewGenerator(settings Settings, log logrus.FieldLogger) *Generator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{settings: settings, log: log}
}

// Settings returns the generator's settings.
func (g *Generator) Settings() Settings {
	return g.settings
}

type build struct {
	settings Settings
	log      logrus.FieldLogger

	cvars    map[string]any
	timeBase gamestate.TimeBase
	entities map[gamestate.NetEntity]gamestate.EntityState
	detached map[gamestate.NetEntity]struct{}
	queue    *orderedmap.OrderedMap[gamestate.Tick, []gamestate.NetEntity]

	// cvarNames lists every cvar the recording sets, so checkpoints taken
	// before a cvar's first change can unset it.
	cvarNames []string

	// clientSide enables leave notifications.
	clientSide bool

	spawned int
	changed int
}

// Generate folds states into checkpoints and computes the replay time of
// every index. initMessages are applied before the first tick. Leave
// notifications only count when clientSide is set.
func (g *Generator) Generate(initMessages []gamestate.Message, states []gamestate.GameState, messages [][]gamestate.Message, clientSide bool) ([]replay.Checkpoint, []time.Duration, error) {
	if len(states) == 0 {
		return nil, nil, fmt.Errorf("%w: no recorded ticks", replay.ErrInvalidLog)
	}
	if len(messages) != len(states) {
		return nil, nil, fmt.Errorf("%w: %d message lists for %d ticks", replay.ErrInvalidLog, len(messages), len(states))
	}

	started := time.Now()
	b := &build{
		settings:   g.settings,
		log:        g.log,
		cvars:      make(map[string]any),
		entities:   make(map[gamestate.NetEntity]gamestate.EntityState),
		detached:   make(map[gamestate.NetEntity]struct{}),
		queue:      orderedmap.NewOrderedMap[gamestate.Tick, []gamestate.NetEntity](),
		clientSide: clientSide,
		cvarNames:  recordedCvars(initMessages, messages),
	}

	b.applyMessages(initMessages)
	b.applyMessages(messages[0])
	state0 := states[0]
	if err := b.applyEntities(state0.EntityStates); err != nil {
		return nil, nil, fmt.Errorf("index 0: %w", err)
	}
	b.processQueue(state0.ToSequence)
	b.applyDeletions(state0.EntityDeletions)

	checkpoints := make([]replay.Checkpoint, 0, 1+len(states)/max(1, g.settings.Interval))
	checkpoints = append(checkpoints, b.checkpoint(0, state0.ToSequence))
	b.spawned, b.changed = 0, 0

	times := make([]time.Duration, len(states))
	initial := b.timeOf(state0.ToSequence)

	var stats Stats
	sinceLast := 0
	for i := 1; i < len(states); i++ {
		cur := states[i]
		assert.IsTrue(cur.FromSequence <= states[i-1].ToSequence, "state %d starts after its predecessor", i)

		if err := b.applyEntities(cur.EntityStates); err != nil {
			return nil, nil, fmt.Errorf("index %d: %w", i, err)
		}
		b.applyMessages(messages[i])
		b.processQueue(cur.ToSequence)
		b.applyDeletions(cur.EntityDeletions)
		times[i] = b.timeOf(cur.ToSequence) - initial
		sinceLast++

		if sinceLast < g.settings.MinInterval {
			continue
		}
		switch {
		case sinceLast >= g.settings.Interval:
			stats.DueTicks++
		case b.spawned >= g.settings.SpawnThreshold:
			stats.DueSpawned++
		case b.changed >= g.settings.StateThreshold:
			stats.DueState++
		default:
			continue
		}

		sinceLast, b.spawned, b.changed = 0, 0, 0
		checkpoints = append(checkpoints, b.checkpoint(i, cur.ToSequence))
	}

	g.log.WithFields(logrus.Fields{
		"checkpoints": len(checkpoints),
		"ticks":       len(states),
		"dueTicks":    stats.DueTicks,
		"dueSpawned":  stats.DueSpawned,
		"dueState":    stats.DueState,
		"took":        time.Since(started),
	}).Info("generated checkpoints")
	return checkpoints, times, nil
}

func (b *build) applyEntities(states []gamestate.EntityState) error {
	for _, es := range states {
		delete(b.detached, es.NetEntity)
		prev, ok := b.entities[es.NetEntity]
		if ok {
			b.entities[es.NetEntity] = gamestate.FullEntityState(es, prev)
			b.changed++
			continue
		}

		full := gamestate.FullEntityState(es, gamestate.EntityState{NetEntity: es.NetEntity})
		if _, ok := full.Prototype(); !ok {
			err := fmt.Errorf("%w: new entity %d has no prototype", replay.ErrMissingMetadata, es.NetEntity)
			if !b.settings.IgnoreErrors {
				return err
			}
			b.log.WithError(err).Error("skipping entity state")
			continue
		}
		b.entities[es.NetEntity] = full
		b.spawned++
	}
	return nil
}

func (b *build) applyMessages(msgs []gamestate.Message) {
	for _, msg := range msgs {
		switch m := msg.(type) {
		case gamestate.ConfigChange:
			maps.Copy(b.cvars, m.Cvars)
			b.timeBase = m.TimeBase
		case gamestate.LeaveVisibility:
			if !b.clientSide || len(m.Entities) == 0 {
				continue
			}
			pending, _ := b.queue.Get(m.Tick)
			b.queue.Set(m.Tick, append(slices.Clone(pending), m.Entities...))
		}
	}
}

func (b *build) processQueue(upTo gamestate.Tick) {
	var due []gamestate.Tick
	for el := b.queue.Front(); el != nil; el = el.Next() {
		if el.Key <= upTo {
			due = append(due, el.Key)
		}
	}
	slices.Sort(due)
	for _, tick := range due {
		entities, _ := b.queue.Get(tick)
		b.queue.Delete(tick)
		for _, net := range entities {
			if _, ok := b.entities[net]; !ok {
				b.log.WithField("entity", net).Debug("detach before the entity was received")
				continue
			}
			b.detached[net] = struct{}{}
		}
	}
}

func (b *build) applyDeletions(deletions []gamestate.NetEntity) {
	for _, net := range deletions {
		delete(b.entities, net)
		delete(b.detached, net)
	}
}

func (b *build) timeOf(tick gamestate.Tick) time.Duration {
	return b.timeBase.TimeOf(tick, gamestate.TickRateOf(b.cvars))
}

func (b *build) checkpoint(index int, tick gamestate.Tick) replay.Checkpoint {
	cp := replay.Checkpoint{
		Index:     index,
		Tick:      tick,
		TimeBase:  b.timeBase,
		FullState: gamestate.GameState{FromSequence: 0, ToSequence: tick},
		Cvars:     gamestate.CloneCvars(b.cvars),
	}
	for _, name := range b.cvarNames {
		if _, ok := cp.Cvars[name]; !ok {
			cp.Cvars[name] = nil
		}
	}
	for _, net := range slices.Sorted(maps.Keys(b.entities)) {
		es := b.entities[net].Clone()
		if _, ok := b.detached[net]; ok {
			cp.Detached = append(cp.Detached, net)
			cp.DetachedStates = append(cp.DetachedStates, es)
			continue
		}
		cp.FullState.EntityStates = append(cp.FullState.EntityStates, es)
	}
	for el := b.queue.Front(); el != nil; el = el.Next() {
		cp.PendingDetach = append(cp.PendingDetach, gamestate.LeaveVisibility{Tick: el.Key, Entities: slices.Clone(el.Value)})
	}
	slices.SortFunc(cp.PendingDetach, func(a, b gamestate.LeaveVisibility) int { return int(a.Tick) - int(b.Tick) })
	return cp
}

func recordedCvars(initMessages []gamestate.Message, messages [][]gamestate.Message) []string {
	names := make(map[string]struct{})
	collect := func(msgs []gamestate.Message) {
		for _, msg := range msgs {
			if m, ok := msg.(gamestate.ConfigChange); ok {
				for name := range m.Cvars {
					names[name] = struct{}{}
				}
			}
		}
	}
	collect(initMessages)
	for _, msgs := range messages {
		collect(msgs)
	}
	return slices.Sorted(maps.Keys(names))
}
