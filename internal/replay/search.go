package replay

import (
	"cmp"
	"slices"
)

// CheckpointIndex is the checkpoint table sorted ascending by Index.
type CheckpointIndex []Checkpoint

// searchByKey binary searches items sorted ascending by key and returns the
// position where target is, or would be inserted.
func searchByKey[T any, K cmp.Ordered](items []T, target K, key func(*T) K) (int, bool) {
	return slices.BinarySearchFunc(items, target, func(item T, t K) int {
		return cmp.Compare(key(&item), t)
	})
}

func checkpointIndex(cp *Checkpoint) int { return cp.Index }

// NearestAtOrBefore returns the checkpoint with the largest Index <= index,
// clamped to the first checkpoint. It returns nil for an empty table.
func (ci CheckpointIndex) NearestAtOrBefore(index int) *Checkpoint {
	if len(ci) == 0 {
		return nil
	}
	pos, found := searchByKey([]Checkpoint(ci), index, checkpointIndex)
	if !found {
		pos--
	}
	if pos < 0 {
		pos = 0
	}
	return &ci[pos]
}

// NearestAtOrAfter returns the checkpoint with the smallest Index >= index,
// clamped to the last checkpoint. It returns nil for an empty table.
func (ci CheckpointIndex) NearestAtOrAfter(index int) *Checkpoint {
	if len(ci) == 0 {
		return nil
	}
	pos, _ := searchByKey([]Checkpoint(ci), index, checkpointIndex)
	if pos >= len(ci) {
		pos = len(ci) - 1
	}
	return &ci[pos]
}
