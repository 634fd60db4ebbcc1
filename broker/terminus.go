package broker

import (
	"sync"

	"github.com/rhs/amqp/internal/encoding"

	"github.com/rhs/amqp"
)

// queueSource is the spec §4.7 Source interface backed by a Queue: it
// hands out entries via a cursor, tracks what it has delivered but not
// yet heard settlement for, and honors the acquire/dequeue queue policy.
type queueSource struct {
	q       *Queue
	cur     *cursor
	acquire bool
	dequeue bool

	mu      sync.Mutex
	unacked map[string]*entry
}

func newQueueSource(q *Queue, acquire, dequeue bool) *queueSource {
	mode := cursorNonDestructive
	if acquire {
		mode = cursorDestructive
	}
	return &queueSource{
		q:       q,
		cur:     q.newCursor(mode),
		acquire: acquire,
		dequeue: dequeue,
		unacked: make(map[string]*entry),
	}
}

func (s *queueSource) Get() (tag []byte, d amqp.Delivery, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		e := s.cur.get()
		if e == nil {
			return nil, amqp.Delivery{}, false
		}
		key := string(e.tag)
		if _, already := s.unacked[key]; already {
			continue
		}
		s.unacked[key] = e
		return e.tag, amqp.Delivery{Tag: e.tag, Payload: e.payload, Format: e.format}, true
	}
}

func (s *queueSource) Resume(unsettled map[string]encoding.DeliveryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tag := range s.unacked {
		if _, stillLive := unsettled[tag]; !stillLive {
			delete(s.unacked, tag)
		}
	}
	var oldest uint64
	for _, e := range s.unacked {
		if oldest == 0 || e.id < oldest {
			oldest = e.id
		}
	}
	s.cur.rewindTo(oldest)
}

func (s *queueSource) Settle(tag []byte, state encoding.DeliveryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(tag)
	e, ok := s.unacked[key]
	if !ok {
		return
	}
	delete(s.unacked, key)
	if state == nil {
		e.acquired = false // released: eligible for redelivery
		return
	}
	if s.dequeue {
		e.garbage = true
		s.q.size--
		s.q.gc()
	} else {
		e.acquired = false
	}
}

func (s *queueSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.unacked {
		e.acquired = false
	}
	s.unacked = make(map[string]*entry)
}

// queueTarget is the spec §4.7 Target interface backed by a Queue.
type queueTarget struct {
	q       *Queue
	durable bool

	mu     sync.Mutex
	unsettled map[string]*entry
}

func newQueueTarget(q *Queue, durable bool) *queueTarget {
	return &queueTarget{q: q, durable: durable, unsettled: make(map[string]*entry)}
}

func (t *queueTarget) Capacity() int {
	if t.q.Threshold == 0 {
		return int(^uint(0) >> 1)
	}
	return t.q.Threshold - t.q.Len()
}

func (t *queueTarget) Put(tag []byte, d amqp.Delivery, owner interface{}) error {
	if err := t.q.Put(tag, d.Payload, d.Format); err != nil {
		return err
	}
	t.mu.Lock()
	t.unsettled[string(tag)] = t.q.tail
	t.mu.Unlock()
	return nil
}

func (t *queueTarget) Resume(unsettled map[string]encoding.DeliveryState) {
	// The target's own durable storage is authoritative; nothing to
	// reconcile beyond forgetting tags the peer no longer lists.
	t.mu.Lock()
	defer t.mu.Unlock()
	for tag := range t.unsettled {
		if _, ok := unsettled[tag]; !ok {
			delete(t.unsettled, tag)
		}
	}
}

func (t *queueTarget) Settle(tag []byte, state encoding.DeliveryState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.unsettled, string(tag))
}

func (t *queueTarget) Close() {}

func (t *queueTarget) Durable() bool { return t.durable }

// Orphaned is a no-op: entries already accepted into the queue survive the
// sending link's detach regardless, per spec §4.9's "orphan surviving
// terminus holders" — for a Target there is nothing left to release, since
// Put already committed the entry.
func (t *queueTarget) Orphaned() {}
