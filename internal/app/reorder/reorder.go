// Package reorder computes queue orders from drag gestures.
package reorder

import "slices"

// Move returns ids with sourceID moved into targetID's former position.
// The relative order of every other ID is preserved. When the IDs are equal
// or either one is missing, ids is returned unchanged.
func Move(ids []string, sourceID, targetID string) []string {
	if sourceID == targetID {
		return ids
	}
	from := slices.Index(ids, sourceID)
	to := slices.Index(ids, targetID)
	if from < 0 || to < 0 {
		return ids
	}
	return MoveByIndex(ids, from, to)
}

// MoveByIndex returns ids with the element at from moved to index to.
// Out-of-range indices return ids unchanged.
func MoveByIndex(ids []string, from, to int) []string {
	if from == to || from < 0 || to < 0 || from >= len(ids) || to >= len(ids) {
		return ids
	}

	out := make([]string, 0, len(ids))
	out = append(out, ids[:from]...)
	out = append(out, ids[from+1:]...)
	return slices.Insert(out, to, ids[from])
}
