package bridge

import (
	"testing"

	"github.com/hupe1980/annbridge/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeRecordResolve(t *testing.T) {
	b := New()

	b.Record(100, 0)
	b.Record(101, 2) // gap at label 1

	rowID, ok := b.Resolve(0)
	assert.True(t, ok)
	assert.Equal(t, model.RowID(100), rowID)

	// Gap slot is tombstoned, not zero.
	_, ok = b.Resolve(1)
	assert.False(t, ok)

	rowID, ok = b.Resolve(2)
	assert.True(t, ok)
	assert.Equal(t, model.RowID(101), rowID)

	// Out of range.
	_, ok = b.Resolve(3)
	assert.False(t, ok)
	_, ok = b.Resolve(-1)
	assert.False(t, ok)

	assert.Equal(t, 2, b.Live())
	assert.Equal(t, 3, b.Len())
}

func TestBridgeTombstone(t *testing.T) {
	b := New()
	b.Record(100, 0)
	b.Record(101, 1)

	label, ok := b.Tombstone(100)
	require.True(t, ok)
	assert.Equal(t, model.Label(0), label)

	_, ok = b.Resolve(0)
	assert.False(t, ok)
	assert.Equal(t, 1, b.Live())

	// Forward length never shrinks on tombstoning.
	assert.Equal(t, 2, b.Len())
}

func TestBridgeTombstoneAbsentIsNoop(t *testing.T) {
	b := New()
	b.Record(100, 0)

	before := b.Len()
	_, ok := b.Tombstone(999)
	assert.False(t, ok)
	assert.Equal(t, before, b.Len())
	assert.Equal(t, 1, b.Live())

	// Double delete.
	_, ok = b.Tombstone(100)
	require.True(t, ok)
	_, ok = b.Tombstone(100)
	assert.False(t, ok)
}

func TestBridgeRecordReassociates(t *testing.T) {
	b := New()
	b.Record(100, 0)
	b.Tombstone(100)
	b.Record(100, 5)

	rowID, ok := b.Resolve(5)
	require.True(t, ok)
	assert.Equal(t, model.RowID(100), rowID)

	label, ok := b.Lookup(100)
	require.True(t, ok)
	assert.Equal(t, model.Label(5), label)
}

func TestBridgeRebuild(t *testing.T) {
	b := New()
	b.Record(100, 0)
	b.Record(101, 1)
	b.Record(102, 7)

	b.Rebuild([]model.Label{0, 1, 2}, []model.RowID{102, 100, 101})

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Live())

	rowID, ok := b.Resolve(0)
	require.True(t, ok)
	assert.Equal(t, model.RowID(102), rowID)

	label, ok := b.Lookup(101)
	require.True(t, ok)
	assert.Equal(t, model.Label(2), label)
}

func TestBridgeFromForward(t *testing.T) {
	forward := []model.RowID{100, model.TombstoneRowID, 101}
	b := FromForward(forward)

	assert.Equal(t, 2, b.Live())

	label, ok := b.Lookup(100)
	require.True(t, ok)
	assert.Equal(t, model.Label(0), label)

	_, ok = b.Resolve(1)
	assert.False(t, ok)

	labels, rowIDs := b.LiveSet()
	assert.Equal(t, []model.Label{0, 2}, labels)
	assert.Equal(t, []model.RowID{100, 101}, rowIDs)
}
