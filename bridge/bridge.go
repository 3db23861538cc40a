// Package bridge maintains the row-id/label bijection of a vector index.
//
// The forward direction (label -> row id) is a dense slice sized to the
// highest label ever recorded; unused and deleted slots hold
// model.TombstoneRowID. The reverse direction (row id -> label) covers
// only currently-live rows.
//
// The bridge performs no locking. Structural mutations run under the
// host's index-maintenance lock (single-writer discipline).
package bridge

import (
	"github.com/hupe1980/annbridge/model"
)

// Bridge is the in-memory row-id/label mapping with tombstone state.
type Bridge struct {
	forward []model.RowID
	reverse map[model.RowID]model.Label
}

// New creates an empty bridge.
func New() *Bridge {
	return &Bridge{
		reverse: make(map[model.RowID]model.Label),
	}
}

// FromForward reconstructs a bridge from a persisted forward snapshot.
// The reverse mapping is rebuilt by scanning the snapshot and skipping
// tombstoned slots.
func FromForward(forward []model.RowID) *Bridge {
	b := &Bridge{
		forward: forward,
		reverse: make(map[model.RowID]model.Label, len(forward)),
	}
	for label, rowID := range forward {
		if rowID != model.TombstoneRowID {
			b.reverse[rowID] = model.Label(label)
		}
	}
	return b
}

// Record associates a row id with a backend label. The forward slice
// grows as needed, filling any gap with tombstone slots. The caller
// guarantees label >= 0.
func (b *Bridge) Record(rowID model.RowID, label model.Label) {
	if int(label) >= len(b.forward) {
		grown := make([]model.RowID, label+1)
		copy(grown, b.forward)
		for i := len(b.forward); i < len(grown); i++ {
			grown[i] = model.TombstoneRowID
		}
		b.forward = grown
	}
	b.forward[label] = rowID
	b.reverse[rowID] = label
}

// Tombstone removes a row from the bridge and returns its label.
// Deleting an absent row is a tolerated no-op, not an error.
func (b *Bridge) Tombstone(rowID model.RowID) (model.Label, bool) {
	label, ok := b.reverse[rowID]
	if !ok {
		return 0, false
	}
	delete(b.reverse, rowID)
	if label >= 0 && int(label) < len(b.forward) {
		b.forward[label] = model.TombstoneRowID
	}
	return label, true
}

// Resolve returns the row id currently associated with a label.
// Out-of-range and tombstoned labels resolve to nothing.
func (b *Bridge) Resolve(label model.Label) (model.RowID, bool) {
	if label < 0 || int(label) >= len(b.forward) {
		return 0, false
	}
	rowID := b.forward[label]
	if rowID == model.TombstoneRowID {
		return 0, false
	}
	return rowID, true
}

// Lookup returns the label currently associated with a live row id.
func (b *Bridge) Lookup(rowID model.RowID) (model.Label, bool) {
	label, ok := b.reverse[rowID]
	return label, ok
}

// Rebuild atomically replaces the bridge contents from an authoritative
// live set, as reported by the backend after compaction or merge.
// labels and rowIDs are parallel slices.
func (b *Bridge) Rebuild(labels []model.Label, rowIDs []model.RowID) {
	var maxLabel model.Label = -1
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}
	forward := make([]model.RowID, maxLabel+1)
	for i := range forward {
		forward[i] = model.TombstoneRowID
	}
	reverse := make(map[model.RowID]model.Label, len(labels))
	for i, l := range labels {
		forward[l] = rowIDs[i]
		reverse[rowIDs[i]] = l
	}
	b.forward = forward
	b.reverse = reverse
}

// Live returns the number of currently-live rows.
func (b *Bridge) Live() int {
	return len(b.reverse)
}

// Len returns the forward-mapping length, i.e. one past the highest
// label ever recorded.
func (b *Bridge) Len() int {
	return len(b.forward)
}

// Forward returns the forward mapping for serialization. The slice is
// the bridge's own backing array; callers must not mutate it.
func (b *Bridge) Forward() []model.RowID {
	return b.forward
}

// LiveSet returns the live labels and their row ids as parallel slices,
// in ascending label order.
func (b *Bridge) LiveSet() ([]model.Label, []model.RowID) {
	labels := make([]model.Label, 0, len(b.reverse))
	rowIDs := make([]model.RowID, 0, len(b.reverse))
	for label, rowID := range b.forward {
		if rowID != model.TombstoneRowID {
			labels = append(labels, model.Label(label))
			rowIDs = append(rowIDs, rowID)
		}
	}
	return labels, rowIDs
}
