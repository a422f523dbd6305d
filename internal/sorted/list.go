// Package sorted maintains the per-asset trove ordering used by the
// liquidation and redemption walks. Troves are kept in descending
// order of nominal collateral ratio (NICR), head = safest.
//
// The list stores only linkage; ratios are read through a NICRSource
// at insertion time. Because redistribution scales every trove's
// implied collateral and pending debt by the same stake proportion,
// relative order is preserved without re-sorting.
package sorted

import (
	"errors"
	"math/big"

	"github.com/google/uuid"
)

var (
	ErrListFull     = errors.New("sorted list: at capacity")
	ErrDuplicateID  = errors.New("sorted list: id already present")
	ErrUnknownID    = errors.New("sorted list: id not present")
	ErrNilID        = errors.New("sorted list: nil id")
	ErrNilRatio     = errors.New("sorted list: nil ratio")
	ErrBadCapacity  = errors.New("sorted list: capacity must be positive")
	ErrMissingRatio = errors.New("sorted list: ratio source returned nil")
)

// NICRSource supplies the current nominal collateral ratio of a
// listed trove. Implemented by the trove ledger.
type NICRSource interface {
	ListNICR(id uuid.UUID) *big.Int
}

type node struct {
	prev uuid.UUID
	next uuid.UUID
}

// List is a doubly linked list over an arena of nodes keyed by
// borrower ID. Not safe for concurrent use; the deterministic core is
// the single writer.
type List struct {
	src     NICRSource
	maxSize int
	head    uuid.UUID
	tail    uuid.UUID
	nodes   map[uuid.UUID]*node
}

func NewList(src NICRSource, maxSize int) (*List, error) {
	if maxSize <= 0 {
		return nil, ErrBadCapacity
	}
	return &List{
		src:     src,
		maxSize: maxSize,
		nodes:   make(map[uuid.UUID]*node),
	}, nil
}

func (l *List) Size() int          { return len(l.nodes) }
func (l *List) MaxSize() int       { return l.maxSize }
func (l *List) IsEmpty() bool      { return len(l.nodes) == 0 }
func (l *List) IsFull() bool       { return len(l.nodes) >= l.maxSize }
func (l *List) First() uuid.UUID   { return l.head }
func (l *List) Last() uuid.UUID    { return l.tail }
func (l *List) Contains(id uuid.UUID) bool {
	_, ok := l.nodes[id]
	return ok
}

// Next returns the neighbor closer to the tail (riskier), or uuid.Nil.
func (l *List) Next(id uuid.UUID) uuid.UUID {
	if n, ok := l.nodes[id]; ok {
		return n.next
	}
	return uuid.Nil
}

// Prev returns the neighbor closer to the head (safer), or uuid.Nil.
func (l *List) Prev(id uuid.UUID) uuid.UUID {
	if n, ok := l.nodes[id]; ok {
		return n.prev
	}
	return uuid.Nil
}

// Insert places id at the position implied by nicr, starting the
// search from the supplied hints. Hints that are stale or absent fall
// back to a full descend from the head.
func (l *List) Insert(id uuid.UUID, nicr *big.Int, prevHint, nextHint uuid.UUID) error {
	switch {
	case id == uuid.Nil:
		return ErrNilID
	case nicr == nil:
		return ErrNilRatio
	case l.IsFull():
		return ErrListFull
	case l.Contains(id):
		return ErrDuplicateID
	}

	prev, next := prevHint, nextHint
	if !l.validInsertPosition(nicr, prev, next) {
		prev, next = l.FindInsertPosition(nicr, prev, next)
	}
	l.link(id, prev, next)
	return nil
}

// Remove unlinks id from the list.
func (l *List) Remove(id uuid.UUID) error {
	n, ok := l.nodes[id]
	if !ok {
		return ErrUnknownID
	}
	if n.prev != uuid.Nil {
		l.nodes[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != uuid.Nil {
		l.nodes[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}
	delete(l.nodes, id)
	return nil
}

// ReInsert moves id to the position implied by its new NICR.
func (l *List) ReInsert(id uuid.UUID, newNICR *big.Int, prevHint, nextHint uuid.UUID) error {
	if !l.Contains(id) {
		return ErrUnknownID
	}
	if newNICR == nil {
		return ErrNilRatio
	}
	if err := l.Remove(id); err != nil {
		return err
	}
	return l.Insert(id, newNICR, prevHint, nextHint)
}

// FindInsertPosition locates the (prev, next) pair bracketing nicr.
// Usable hints narrow the walk; the worst case is a full descend from
// the head.
func (l *List) FindInsertPosition(nicr *big.Int, prevHint, nextHint uuid.UUID) (uuid.UUID, uuid.UUID) {
	prev, next := prevHint, nextHint

	if prev != uuid.Nil {
		if !l.Contains(prev) || nicr.Cmp(l.ratio(prev)) > 0 {
			prev = uuid.Nil
		}
	}
	if next != uuid.Nil {
		if !l.Contains(next) || nicr.Cmp(l.ratio(next)) < 0 {
			next = uuid.Nil
		}
	}

	switch {
	case prev == uuid.Nil && next == uuid.Nil:
		return l.descend(nicr, l.head)
	case prev == uuid.Nil:
		return l.ascend(nicr, next)
	default:
		return l.descend(nicr, prev)
	}
}

// validInsertPosition reports whether (prev, next) is a correct slot
// for nicr under descending order. Equal ratios insert after the
// existing entry.
func (l *List) validInsertPosition(nicr *big.Int, prev, next uuid.UUID) bool {
	if prev == uuid.Nil && next == uuid.Nil {
		return l.IsEmpty()
	}
	if prev == uuid.Nil {
		return l.head == next && l.Contains(next) && nicr.Cmp(l.ratio(next)) >= 0
	}
	if next == uuid.Nil {
		return l.tail == prev && l.Contains(prev) && nicr.Cmp(l.ratio(prev)) <= 0
	}
	if !l.Contains(prev) || l.nodes[prev].next != next {
		return false
	}
	return l.ratio(prev).Cmp(nicr) >= 0 && nicr.Cmp(l.ratio(next)) >= 0
}

func (l *List) descend(nicr *big.Int, start uuid.UUID) (uuid.UUID, uuid.UUID) {
	if start == uuid.Nil {
		return uuid.Nil, uuid.Nil
	}
	// Strict: an equal ratio walks past the head so it lands after
	// the existing entry.
	if start == l.head && nicr.Cmp(l.ratio(start)) > 0 {
		return uuid.Nil, start
	}
	prev := start
	next := l.nodes[prev].next
	for prev != uuid.Nil && !l.validInsertPosition(nicr, prev, next) {
		prev = l.nodes[prev].next
		if prev == uuid.Nil {
			break
		}
		next = l.nodes[prev].next
	}
	return prev, next
}

func (l *List) ascend(nicr *big.Int, start uuid.UUID) (uuid.UUID, uuid.UUID) {
	if start == uuid.Nil {
		return uuid.Nil, uuid.Nil
	}
	if start == l.tail && nicr.Cmp(l.ratio(start)) <= 0 {
		return start, uuid.Nil
	}
	next := start
	prev := l.nodes[next].prev
	for next != uuid.Nil && !l.validInsertPosition(nicr, prev, next) {
		next = l.nodes[next].prev
		if next == uuid.Nil {
			break
		}
		prev = l.nodes[next].prev
	}
	return prev, next
}

func (l *List) link(id, prev, next uuid.UUID) {
	l.nodes[id] = &node{prev: prev, next: next}
	if prev != uuid.Nil {
		l.nodes[prev].next = id
	} else {
		l.head = id
	}
	if next != uuid.Nil {
		l.nodes[next].prev = id
	} else {
		l.tail = id
	}
}

func (l *List) ratio(id uuid.UUID) *big.Int {
	r := l.src.ListNICR(id)
	if r == nil {
		// A listed trove must always have a ratio; a nil here means
		// ledger and list disagree about membership.
		panic(ErrMissingRatio)
	}
	return r
}
