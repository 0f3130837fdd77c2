package oplog

import (
	"github.com/manpreetbhatti/easel/internal/protocol"
)

const (
	DefaultCapacity      = 10000
	DefaultEvictionBlock = 100
)

// Log is the append-only record of finalized drawing operations for one
// room. Entries are soft-deleted through their Undone flag, which only the
// log mutates. It is not safe for concurrent use; the relay owns it from a
// single goroutine.
type Log struct {
	entries  []*protocol.DrawOp
	byID     map[string]*protocol.DrawOp
	capacity int
	block    int
}

// Counters describing a log
type Stats struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Undone int `json:"undone"`
}

// Creates a log with the default eviction block
func New(capacity int) *Log {
	return NewWithBlock(capacity, DefaultEvictionBlock)
}

func NewWithBlock(capacity, block int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if block <= 0 {
		block = DefaultEvictionBlock
	}
	if block > capacity {
		block = capacity
	}
	return &Log{
		entries:  make([]*protocol.DrawOp, 0),
		byID:     make(map[string]*protocol.DrawOp),
		capacity: capacity,
		block:    block,
	}
}

// Appends a finalized operation. The log keeps its own copy.
// Returns the number of entries evicted to stay under capacity.
func (l *Log) Append(op *protocol.DrawOp) int {
	entry := op.Clone()
	if entry.Stroke != nil {
		entry.Stroke.Undone = entry.Undone
	}
	l.entries = append(l.entries, entry)
	if entry.ID != "" {
		l.byID[entry.ID] = entry
	}

	evicted := 0
	for len(l.entries) > l.capacity {
		n := l.block
		if n > len(l.entries) {
			n = len(l.entries)
		}
		for _, old := range l.entries[:n] {
			if l.byID[old.ID] == old {
				delete(l.byID, old.ID)
			}
		}
		l.entries = append(l.entries[:0:0], l.entries[n:]...)
		evicted += n
	}
	return evicted
}

// Looks up an entry by operation id
func (l *Log) FindByID(id string) (*protocol.DrawOp, bool) {
	op, ok := l.byID[id]
	if !ok {
		return nil, false
	}
	return op.Clone(), true
}

// Marks the most recent active entry of userID as undone
func (l *Log) UndoLast(userID string) (*protocol.DrawOp, bool) {
	return l.flip(false, func(op *protocol.DrawOp) bool { return op.UserID == userID })
}

// Restores the most recent undone entry of userID
func (l *Log) RedoLast(userID string) (*protocol.DrawOp, bool) {
	return l.flip(true, func(op *protocol.DrawOp) bool { return op.UserID == userID })
}

// Marks the most recent active entry in the room as undone, whoever owns it
func (l *Log) UndoLastGlobal() (*protocol.DrawOp, bool) {
	return l.flip(false, func(*protocol.DrawOp) bool { return true })
}

// Restores the most recent undone entry in the room
func (l *Log) RedoLastGlobal() (*protocol.DrawOp, bool) {
	return l.flip(true, func(*protocol.DrawOp) bool { return true })
}

// Scans backward for the newest entry whose flag equals from and that
// matches, then inverts the flag.
func (l *Log) flip(from bool, match func(*protocol.DrawOp) bool) (*protocol.DrawOp, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		op := l.entries[i]
		if op.Undone == from && match(op) {
			op.Undone = !from
			if op.Stroke != nil {
				op.Stroke.Undone = op.Undone
			}
			return op.Clone(), true
		}
	}
	return nil, false
}

// Soft-deletes every entry of userID and returns how many changed.
// History stays replayable.
func (l *Log) ClearUser(userID string) int {
	n := 0
	for _, op := range l.entries {
		if op.UserID == userID && !op.Undone {
			op.Undone = true
			if op.Stroke != nil {
				op.Stroke.Undone = true
			}
			n++
		}
	}
	return n
}

// Copies of all entries in insertion order
func (l *Log) ListAll() []*protocol.DrawOp {
	return l.filter(func(*protocol.DrawOp) bool { return true })
}

// Copies of entries that are not undone
func (l *Log) ListActive() []*protocol.DrawOp {
	return l.filter(func(op *protocol.DrawOp) bool { return !op.Undone })
}

func (l *Log) ListUndone() []*protocol.DrawOp {
	return l.filter(func(op *protocol.DrawOp) bool { return op.Undone })
}

func (l *Log) filter(keep func(*protocol.DrawOp) bool) []*protocol.DrawOp {
	out := make([]*protocol.DrawOp, 0, len(l.entries))
	for _, op := range l.entries {
		if keep(op) {
			out = append(out, op.Clone())
		}
	}
	return out
}

func (l *Log) Len() int {
	return len(l.entries)
}

func (l *Log) Capacity() int {
	return l.capacity
}

func (l *Log) Stats() Stats {
	s := Stats{Total: len(l.entries)}
	for _, op := range l.entries {
		if op.Undone {
			s.Undone++
		} else {
			s.Active++
		}
	}
	return s
}
