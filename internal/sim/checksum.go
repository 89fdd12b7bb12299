package sim

import (
	"encoding/binary"
	"encoding/json"
	"maps"
	"slices"

	"github.com/zeebo/xxh3"
)

// Checksum digests the replicated world state: entities with their
// prototype, components, lifecycle stage and detached flag, the cvars, the
// clock and the pending detach queue. Local uids and derived caches are
// excluded so independently built worlds compare equal.
func (w *World) Checksum() uint64 {
	h := xxh3.New()
	var buf [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	writeString := func(s string) {
		writeUint(uint64(len(s)))
		_, _ = h.Write([]byte(s))
	}

	for _, net := range w.NetEntities() {
		e, _ := w.Lookup(net)
		writeUint(uint64(uint32(net)))
		writeString(e.Prototype)
		writeUint(uint64(e.Stage))
		if e.Detached {
			writeUint(1)
		} else {
			writeUint(0)
		}
		for _, id := range slices.Sorted(maps.Keys(e.Components)) {
			writeUint(uint64(id))
			fields := e.Components[id].Fields
			for _, name := range slices.Sorted(maps.Keys(fields)) {
				writeString(name)
				writeString(string(fields[name]))
			}
		}
	}

	values := w.cvars.Snapshot()
	for _, name := range slices.Sorted(maps.Keys(values)) {
		writeString(name)
		raw, err := json.Marshal(values[name])
		if err != nil {
			w.log.WithError(err).WithField("cvar", name).Debug("cvar not hashable")
		}
		writeString(string(raw))
	}

	writeUint(uint64(w.curTick))
	writeUint(uint64(w.timeBase.Tick))
	writeUint(uint64(w.timeBase.Time))

	for _, leave := range w.PendingDetach() {
		writeUint(uint64(leave.Tick))
		for _, net := range leave.Entities {
			writeUint(uint64(uint32(net)))
		}
	}
	return h.Sum64()
}
