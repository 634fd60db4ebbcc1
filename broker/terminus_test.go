package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhs/amqp"
	"github.com/rhs/amqp/internal/encoding"
)

func TestQueueSourceGetThenSettleDequeuesFromDequeueBackedQueue(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Put([]byte("t1"), []byte("hello"), nil))

	src := newQueueSource(q, true, true)
	tag, d, ok := src.Get()
	require.True(t, ok)
	require.Equal(t, []byte("t1"), tag)
	require.Equal(t, []byte("hello"), d.Payload)
	require.Equal(t, 1, q.Len(), "an acquired-but-unsettled entry is still live in the queue")

	_, _, ok = src.Get()
	require.False(t, ok, "the cursor has nothing left after the queue's only entry")

	src.Settle(tag, &encoding.Accepted{})
	require.Equal(t, 0, q.Len(), "an accepted settlement with dequeue=true removes the entry")
}

func TestQueueSourceBrowseOnlyLeavesEntryForRedelivery(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Put([]byte("t1"), []byte("hello"), nil))

	// acquire=false, dequeue=false: a pure browsing source.
	src := newQueueSource(q, false, false)
	tag, _, ok := src.Get()
	require.True(t, ok)

	src.Settle(tag, &encoding.Accepted{})
	require.Equal(t, 1, q.Len(), "a non-dequeuing source's settlement never removes the entry")
}

func TestQueueSourceReleaseThenResumeReplaysFromHead(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Put([]byte("t1"), []byte("hello"), nil))

	src := newQueueSource(q, true, true)
	tag, _, ok := src.Get()
	require.True(t, ok)

	// A nil state models a Released outcome: the entry becomes eligible
	// for reacquisition again, but this cursor has already moved past it
	// — only a Resume (as on link reattach) rewinds far enough to see it.
	src.Settle(tag, nil)
	_, _, ok = src.Get()
	require.False(t, ok, "the cursor has already moved past the released entry")

	src.Resume(map[string]encoding.DeliveryState{})
	tag2, _, ok := src.Get()
	require.True(t, ok, "resuming with no still-outstanding tags rewinds to replay the released entry")
	require.Equal(t, tag, tag2)
}

func TestQueueSourceCloseReleasesAllUnacked(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Put([]byte("t1"), []byte("one"), nil))
	require.NoError(t, q.Put([]byte("t2"), []byte("two"), nil))

	src := newQueueSource(q, true, true)
	_, _, ok := src.Get()
	require.True(t, ok)
	_, _, ok = src.Get()
	require.True(t, ok)

	src.Close()

	fresh := q.newCursor(cursorDestructive)
	require.Equal(t, "one", string(fresh.get().payload), "closing the source must release every entry it had acquired")
	require.Equal(t, "two", string(fresh.get().payload))
}

func TestQueueTargetPutAppendsAndCapacityReflectsThreshold(t *testing.T) {
	q := NewQueue()
	q.Threshold = 2
	tgt := newQueueTarget(q, false)

	require.Equal(t, 2, tgt.Capacity())
	require.NoError(t, tgt.Put([]byte("t1"), amqp.Delivery{Payload: []byte("payload")}, nil))
	require.Equal(t, 1, tgt.Capacity())
	require.Equal(t, 1, q.Len())
}

func TestQueueTargetSettleForgetsTag(t *testing.T) {
	q := NewQueue()
	tgt := newQueueTarget(q, true)
	require.NoError(t, tgt.Put([]byte("t1"), amqp.Delivery{Payload: []byte("payload")}, nil))
	require.Len(t, tgt.unsettled, 1)

	tgt.Settle([]byte("t1"), &encoding.Accepted{})
	require.Empty(t, tgt.unsettled)
	require.True(t, tgt.Durable())
}
