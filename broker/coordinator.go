package broker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rhs/amqp/internal/encoding"

	"github.com/rhs/amqp"
)

// transaction accumulates do/undo closures for every delivery enlisted
// under it and runs one side or the other at discharge time (spec §4.8).
type transaction struct {
	id   []byte
	work []work
}

type work struct {
	do, undo func()
}

func (t *transaction) discharge(fail bool) {
	for _, w := range t.work {
		if fail {
			w.undo()
		} else {
			w.do()
		}
	}
}

// TxnCoordinator is the broker's transaction coordinator: a map of live
// transactions keyed by a uuid-generated txn-id, grounded on
// brokerlib.py's TxnCoordinator.
type TxnCoordinator struct {
	mu    sync.Mutex
	txns  map[string]*transaction
}

// NewTxnCoordinator creates an empty coordinator.
func NewTxnCoordinator() *TxnCoordinator {
	return &TxnCoordinator{txns: make(map[string]*transaction)}
}

// Declare allocates a fresh txn-id and returns it as the raw bytes carried
// in Declared.TxnID.
func (c *TxnCoordinator) Declare() []byte {
	id := uuid.New()
	b := id[:]
	c.mu.Lock()
	c.txns[string(b)] = &transaction{id: b}
	c.mu.Unlock()
	return b
}

// Enlist implements amqp.TxnResolver: it registers do/undo against the
// named transaction, or reports an unknown id.
func (c *TxnCoordinator) Enlist(txnID []byte, do, undo func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.txns[string(txnID)]
	if !ok {
		return &unknownTxnError{}
	}
	t.work = append(t.work, work{do: do, undo: undo})
	return nil
}

// Discharge commits (fail=false) or rolls back (fail=true) the named
// transaction and forgets it. An unknown id returns an unknown-transaction
// error, which the coordinator target's Put turns into a Rejected outcome
// for the caller.
func (c *TxnCoordinator) Discharge(txnID []byte, fail bool) error {
	c.mu.Lock()
	t, ok := c.txns[string(txnID)]
	if ok {
		delete(c.txns, string(txnID))
	}
	c.mu.Unlock()
	if !ok {
		return &unknownTxnError{}
	}
	t.discharge(fail)
	return nil
}

// DischargeAll force-discharges every live transaction as fail=true,
// matching spec §4.8's "a close on a TxnTarget discharges every live txn
// as fail=true".
func (c *TxnCoordinator) DischargeAll() {
	c.mu.Lock()
	txns := make([]*transaction, 0, len(c.txns))
	for k, t := range c.txns {
		txns = append(txns, t)
		delete(c.txns, k)
	}
	c.mu.Unlock()
	for _, t := range txns {
		t.discharge(true)
	}
}

type unknownTxnError struct{}

func (*unknownTxnError) Error() string { return "amqp: transaction:unknown-id" }

// txnTarget is the Coordinator-terminus target a link attaches to in order
// to declare/discharge transactions (spec §4.8). Its Put dispatches on the
// decoded message body rather than storing payload, grounded on
// brokerlib.py's TxnTarget.
type txnTarget struct {
	coord *TxnCoordinator

	mu        sync.Mutex
	unsettled map[string]encoding.DeliveryState
}

func newTxnTarget(coord *TxnCoordinator) *txnTarget {
	return &txnTarget{coord: coord, unsettled: make(map[string]encoding.DeliveryState)}
}

func (t *txnTarget) Capacity() int { return int(^uint(0) >> 1) }

func (t *txnTarget) Put(tag []byte, d amqp.Delivery, owner interface{}) error {
	msg, err := decodeTxnControl(d.Payload)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch m := msg.(type) {
	case *encoding.Declare:
		_ = m
		id := t.coord.Declare()
		t.unsettled[string(tag)] = &encoding.Declared{TxnID: id}
	case *encoding.Discharge:
		if err := t.coord.Discharge(m.TxnID, m.Fail); err != nil {
			t.unsettled[string(tag)] = &encoding.Rejected{
				Error: &encoding.Error{Condition: amqp.ErrCondTransactionUnknownID},
			}
			return nil
		}
		t.unsettled[string(tag)] = &encoding.Accepted{}
	}
	return nil
}

func (t *txnTarget) Resume(map[string]encoding.DeliveryState) {}

func (t *txnTarget) Settle(tag []byte, state encoding.DeliveryState) {
	t.mu.Lock()
	delete(t.unsettled, string(tag))
	t.mu.Unlock()
}

func (t *txnTarget) Close() {
	t.coord.DischargeAll()
}

func (t *txnTarget) Durable() bool { return false }

func (t *txnTarget) Orphaned() {}

// Outcome implements amqp.OutcomeTarget: it returns the outcome Put
// decided for tag, if any, so the link layer uses it as the delivery's
// disposition instead of the default Accepted.
func (t *txnTarget) Outcome(tag []byte) (encoding.DeliveryState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.unsettled[string(tag)]
	return s, ok
}

// decodeTxnControl decodes a Declare or Discharge composite carried as a
// Transfer's opaque payload. The engine's codec works on already-framed
// buffers; txn control messages ride the same described-list encoding as
// any other composite, so this mirrors internal/frames.ParseBody's
// descriptor-peek approach without importing internal/frames (transaction
// control bodies are registered against internal/encoding directly).
func decodeTxnControl(payload []byte) (interface{}, error) {
	return encoding.DecodeDescribed(payload)
}
