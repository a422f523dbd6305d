package sorted

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSource backs the list with a plain map of ratios.
type mapSource struct {
	ratios map[uuid.UUID]*big.Int
}

func newMapSource() *mapSource {
	return &mapSource{ratios: make(map[uuid.UUID]*big.Int)}
}

func (m *mapSource) ListNICR(id uuid.UUID) *big.Int { return m.ratios[id] }

func (m *mapSource) set(id uuid.UUID, r int64) {
	m.ratios[id] = big.NewInt(r)
}

func ids(n int) []uuid.UUID {
	out := make([]uuid.UUID, n)
	for i := range out {
		out[i] = uuid.New()
	}
	return out
}

// order walks head to tail and returns the sequence of ids.
func order(l *List) []uuid.UUID {
	var out []uuid.UUID
	for id := l.First(); id != uuid.Nil; id = l.Next(id) {
		out = append(out, id)
	}
	return out
}

func TestInsertMaintainsDescendingOrder(t *testing.T) {
	src := newMapSource()
	l, err := NewList(src, 10)
	require.NoError(t, err)

	tr := ids(4)
	ratios := []int64{150, 300, 200, 250}
	for i, id := range tr {
		src.set(id, ratios[i])
		require.NoError(t, l.Insert(id, big.NewInt(ratios[i]), uuid.Nil, uuid.Nil))
	}

	assert.Equal(t, []uuid.UUID{tr[1], tr[3], tr[2], tr[0]}, order(l))
	assert.Equal(t, tr[1], l.First())
	assert.Equal(t, tr[0], l.Last())
}

func TestInsertWithGoodHintsAndStaleHints(t *testing.T) {
	src := newMapSource()
	l, err := NewList(src, 10)
	require.NoError(t, err)

	tr := ids(3)
	src.set(tr[0], 300)
	src.set(tr[1], 100)
	require.NoError(t, l.Insert(tr[0], big.NewInt(300), uuid.Nil, uuid.Nil))
	require.NoError(t, l.Insert(tr[1], big.NewInt(100), uuid.Nil, uuid.Nil))

	// exact hints
	src.set(tr[2], 200)
	require.NoError(t, l.Insert(tr[2], big.NewInt(200), tr[0], tr[1]))
	assert.Equal(t, []uuid.UUID{tr[0], tr[2], tr[1]}, order(l))

	// stale hints pointing at the wrong end still land correctly
	require.NoError(t, l.Remove(tr[2]))
	require.NoError(t, l.Insert(tr[2], big.NewInt(200), tr[1], tr[0]))
	assert.Equal(t, []uuid.UUID{tr[0], tr[2], tr[1]}, order(l))

	// hints naming absent troves fall back to a full search
	require.NoError(t, l.Remove(tr[2]))
	require.NoError(t, l.Insert(tr[2], big.NewInt(200), uuid.New(), uuid.New()))
	assert.Equal(t, []uuid.UUID{tr[0], tr[2], tr[1]}, order(l))
}

func TestEqualRatiosInsertAfterExisting(t *testing.T) {
	src := newMapSource()
	l, err := NewList(src, 10)
	require.NoError(t, err)

	tr := ids(2)
	src.set(tr[0], 200)
	require.NoError(t, l.Insert(tr[0], big.NewInt(200), uuid.Nil, uuid.Nil))
	src.set(tr[1], 200)
	require.NoError(t, l.Insert(tr[1], big.NewInt(200), uuid.Nil, uuid.Nil))

	assert.Equal(t, []uuid.UUID{tr[0], tr[1]}, order(l))
}

func TestRemoveRelinksNeighbors(t *testing.T) {
	src := newMapSource()
	l, err := NewList(src, 10)
	require.NoError(t, err)

	tr := ids(3)
	for i, r := range []int64{300, 200, 100} {
		src.set(tr[i], r)
		require.NoError(t, l.Insert(tr[i], big.NewInt(r), uuid.Nil, uuid.Nil))
	}

	require.NoError(t, l.Remove(tr[1]))
	assert.Equal(t, []uuid.UUID{tr[0], tr[2]}, order(l))
	assert.Equal(t, tr[2], l.Next(tr[0]))
	assert.Equal(t, tr[0], l.Prev(tr[2]))

	require.NoError(t, l.Remove(tr[0]))
	require.NoError(t, l.Remove(tr[2]))
	assert.True(t, l.IsEmpty())
	assert.Equal(t, uuid.Nil, l.First())
	assert.Equal(t, uuid.Nil, l.Last())

	assert.ErrorIs(t, l.Remove(tr[0]), ErrUnknownID)
}

func TestReInsertMovesTrove(t *testing.T) {
	src := newMapSource()
	l, err := NewList(src, 10)
	require.NoError(t, err)

	tr := ids(3)
	for i, r := range []int64{300, 200, 100} {
		src.set(tr[i], r)
		require.NoError(t, l.Insert(tr[i], big.NewInt(r), uuid.Nil, uuid.Nil))
	}

	// the riskiest trove tops up and becomes the safest
	src.set(tr[2], 400)
	require.NoError(t, l.ReInsert(tr[2], big.NewInt(400), uuid.Nil, uuid.Nil))
	assert.Equal(t, []uuid.UUID{tr[2], tr[0], tr[1]}, order(l))
}

func TestCapacityAndDuplicates(t *testing.T) {
	src := newMapSource()
	l, err := NewList(src, 2)
	require.NoError(t, err)

	tr := ids(3)
	src.set(tr[0], 300)
	src.set(tr[1], 200)
	require.NoError(t, l.Insert(tr[0], big.NewInt(300), uuid.Nil, uuid.Nil))
	require.NoError(t, l.Insert(tr[1], big.NewInt(200), uuid.Nil, uuid.Nil))

	assert.True(t, l.IsFull())
	assert.ErrorIs(t, l.Insert(tr[2], big.NewInt(100), uuid.Nil, uuid.Nil), ErrListFull)

	require.NoError(t, l.Remove(tr[1]))
	assert.ErrorIs(t, l.Insert(tr[0], big.NewInt(300), uuid.Nil, uuid.Nil), ErrDuplicateID)

	_, err = NewList(src, 0)
	assert.ErrorIs(t, err, ErrBadCapacity)
}

func TestFindInsertPositionBrackets(t *testing.T) {
	src := newMapSource()
	l, err := NewList(src, 10)
	require.NoError(t, err)

	tr := ids(3)
	for i, r := range []int64{300, 200, 100} {
		src.set(tr[i], r)
		require.NoError(t, l.Insert(tr[i], big.NewInt(r), uuid.Nil, uuid.Nil))
	}

	prev, next := l.FindInsertPosition(big.NewInt(250), uuid.Nil, uuid.Nil)
	assert.Equal(t, tr[0], prev)
	assert.Equal(t, tr[1], next)

	prev, next = l.FindInsertPosition(big.NewInt(50), uuid.Nil, uuid.Nil)
	assert.Equal(t, tr[2], prev)
	assert.Equal(t, uuid.Nil, next)

	prev, next = l.FindInsertPosition(big.NewInt(500), uuid.Nil, uuid.Nil)
	assert.Equal(t, uuid.Nil, prev)
	assert.Equal(t, tr[0], next)
}
