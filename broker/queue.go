// Package broker implements the node table, queue terminus, and
// transaction coordinator that sit behind the protocol engine in package
// amqp (spec §4.7–§4.9).
package broker

// entry is one queued item. The original engine lets a Source observe the
// tail for release notifications via a cyclic reference; this
// reimplementation instead stamps every entry with a monotonically
// increasing id, which Queue.HeadID() and a cursor's rewindTo work in terms
// of (spec §9's generation-counter re-architecture).
type entry struct {
	id       uint64
	tag      []byte
	payload  []byte
	format   *uint32
	next     *entry
	acquired bool
	garbage  bool
}

// Queue is the spec §4.7 terminus storage: a singly-linked list with a
// tail sentinel, an optional capacity threshold, and an optional ring
// limit.
type Queue struct {
	head, tail *entry
	nextID     uint64
	size       int

	// Threshold: Put refuses once size reaches Threshold. Zero means
	// unbounded.
	Threshold int
	// Ring: once size exceeds Ring, the oldest entry is dropped. Zero
	// means no ring eviction.
	Ring int

	dropped uint64
}

// NewQueue creates an empty queue with a tail sentinel, mirroring
// queue.py's Queue.__init__ (self.tail = self.head = Entry(...)).
func NewQueue() *Queue {
	sentinel := &entry{garbage: true}
	return &Queue{head: sentinel, tail: sentinel}
}

// ErrNoCapacity is returned by Put when Threshold is reached.
type ErrNoCapacity struct{}

func (ErrNoCapacity) Error() string { return "queue: no capacity" }

// Put appends payload as a new tail entry, then, if Ring is set, evicts the
// oldest live entries while the size exceeds Ring.
func (q *Queue) Put(tag []byte, payload []byte, format *uint32) error {
	if q.Threshold > 0 && q.size >= q.Threshold {
		return ErrNoCapacity{}
	}
	q.nextID++
	e := &entry{id: q.nextID, tag: tag, payload: payload, format: format}
	q.tail.next = e
	q.tail = e
	q.size++

	if q.Ring > 0 {
		for q.size > q.Ring {
			q.evictOldest()
		}
	}
	return nil
}

// evictOldest drops the oldest live (non-garbage) entry, advancing the
// queue's head generation past it.
func (q *Queue) evictOldest() {
	e := q.head
	for e.next != nil {
		e = e.next
		if !e.garbage {
			e.garbage = true
			q.size--
			q.dropped++
			q.gc()
			return
		}
	}
}

// gc collapses runs of garbage entries out of the linked list, matching
// queue.py's gc(): it never removes the current head, only entries after
// it.
func (q *Queue) gc() {
	e := q.head
	for e.next != nil && e.next.next != nil {
		if e.next.garbage {
			e.next = e.next.next
		} else {
			e = e.next
		}
	}
}

// HeadID returns the id of the newest entry the queue has dropped or
// consumed from its own head, i.e. the generation watermark a cursor
// compares its own position against (spec §9).
func (q *Queue) HeadID() uint64 {
	for e := q.head.next; e != nil; e = e.next {
		if !e.garbage {
			return e.id - 1
		}
	}
	return q.nextID
}

// Len returns the count of live (non-garbage) entries.
func (q *Queue) Len() int {
	return q.size
}

// Dropped returns how many entries Ring eviction has discarded.
func (q *Queue) Dropped() uint64 {
	return q.dropped
}

// cursorMode selects whether Get acquires (destructive) or merely observes
// (non-destructive) the entries it returns.
type cursorMode uint8

const (
	cursorNonDestructive cursorMode = iota
	cursorDestructive
)

// cursor walks a Queue from a remembered position, skipping entries
// already acquired by someone else or already garbage-collected.
type cursor struct {
	q    *Queue
	mode cursorMode
	at   *entry // last entry visited; starts at the head sentinel
}

func (q *Queue) newCursor(mode cursorMode) *cursor {
	return &cursor{q: q, mode: mode, at: q.head}
}

// get advances the cursor to the next eligible entry and returns it. In
// destructive mode the entry is marked acquired so no other cursor can
// also claim it.
func (c *cursor) get() *entry {
	e := c.at
	for e.next != nil {
		e = e.next
		if e.garbage || e.acquired {
			continue
		}
		if c.mode == cursorDestructive {
			e.acquired = true
		}
		c.at = e
		return e
	}
	c.at = e
	return nil
}

// rewindTo repositions the cursor to just before the entry with id target,
// or to the head if target is older than anything still live — used by
// Resume to replay entries the peer still considers unsettled.
func (c *cursor) rewindTo(target uint64) {
	if target == 0 {
		c.at = c.q.head
		return
	}
	e := c.q.head
	for e.next != nil {
		if e.next.id >= target {
			c.at = e
			return
		}
		e = e.next
	}
	c.at = e
}
