package amqp

import (
	"github.com/rhs/amqp/internal/encoding"
	"github.com/rhs/amqp/internal/frames"
)

// Delivery is a reassembled unit of work carried by a link: a tag and a
// payload. Transfer fragmentation (spec §4.6) is invisible above the link
// layer; only whole deliveries cross this boundary.
type Delivery struct {
	Tag     []byte
	Payload []byte
	Format  *uint32
}

// Source is the broker-side terminus a sending link pulls deliveries from
// (spec §4.7). Implementations are owned by a queue or the transaction
// coordinator.
type Source interface {
	// Get returns the next deliverable entry, or ok=false if nothing is
	// ready. It skips entries already acquired by another source or
	// already in this source's unacked set.
	Get() (tag []byte, d Delivery, ok bool)
	// Resume aligns the local unacked set with what the peer reports on
	// reattach and rewinds the source to the oldest unacked entry.
	Resume(unsettled map[string]encoding.DeliveryState)
	// Settle disposes of tag per the terminus's dequeue policy; a nil
	// state releases the entry for re-delivery.
	Settle(tag []byte, state encoding.DeliveryState)
	// Close releases every entry currently held by this source.
	Close()
}

// Target is the broker-side terminus a receiving link deposits deliveries
// into (spec §4.7).
type Target interface {
	Capacity() int
	Put(tag []byte, d Delivery, owner interface{}) error
	Resume(unsettled map[string]encoding.DeliveryState)
	Settle(tag []byte, state encoding.DeliveryState)
	Close()
	Durable() bool
	// Orphaned is called when the link that owned entries acquired but
	// never settled detaches; the terminus must release or retain them
	// per its own policy (spec §4.9 step 4).
	Orphaned()
}

// OutcomeTarget is an optional Target extension for a terminus that
// decides a delivery's disposition outcome synchronously inside Put,
// instead of the link's default immediate Accepted — the transaction
// coordinator's Declare/Discharge control messages answer with
// Declared/Accepted/Rejected rather than a plain Accepted (spec §4.8).
type OutcomeTarget interface {
	Target
	Outcome(tag []byte) (encoding.DeliveryState, bool)
}

// TxnResolver lets a link wrap a settlement/put in the enclosing
// transaction's do/undo work list instead of applying it immediately
// (spec §4.8). A non-transactional session never calls it.
type TxnResolver interface {
	// Enlist registers do/undo closures against txnID, returning an error
	// if txnID is unknown (surfaced as Rejected, not connection-fatal).
	Enlist(txnID []byte, do, undo func()) error
}

// describedDefaultOutcome returns the Source's default-outcome field, or
// Released if unset, matching the teacher's and original engine's
// fallback for deliveries the sender never hears back about.
func describedDefaultOutcome(src *frames.Source) encoding.DeliveryState {
	if src == nil || src.DefaultOutcome == nil {
		return &encoding.Released{}
	}
	if ds, ok := src.DefaultOutcome.(encoding.DeliveryState); ok {
		return ds
	}
	return &encoding.Released{}
}
