package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhs/amqp"
	"github.com/rhs/amqp/internal/buffer"
	"github.com/rhs/amqp/internal/encoding"
)

func TestTxnCoordinatorCommitRunsDoNotUndo(t *testing.T) {
	c := NewTxnCoordinator()
	id := c.Declare()

	var ran []string
	require.NoError(t, c.Enlist(id, func() { ran = append(ran, "do-1") }, func() { ran = append(ran, "undo-1") }))
	require.NoError(t, c.Enlist(id, func() { ran = append(ran, "do-2") }, func() { ran = append(ran, "undo-2") }))

	require.NoError(t, c.Discharge(id, false))
	require.Equal(t, []string{"do-1", "do-2"}, ran)

	// The transaction is forgotten once discharged.
	require.Error(t, c.Discharge(id, false))
}

func TestTxnCoordinatorRollbackRunsUndoNotDo(t *testing.T) {
	c := NewTxnCoordinator()
	id := c.Declare()

	var ran []string
	require.NoError(t, c.Enlist(id, func() { ran = append(ran, "do") }, func() { ran = append(ran, "undo") }))

	require.NoError(t, c.Discharge(id, true))
	require.Equal(t, []string{"undo"}, ran)
}

func TestTxnCoordinatorEnlistUnknownIDFails(t *testing.T) {
	c := NewTxnCoordinator()
	err := c.Enlist([]byte("not-a-real-txn"), func() {}, func() {})
	require.Error(t, err)
}

func TestTxnCoordinatorDischargeAllRollsBackEveryLiveTxn(t *testing.T) {
	c := NewTxnCoordinator()
	id1 := c.Declare()
	id2 := c.Declare()

	var ran []string
	require.NoError(t, c.Enlist(id1, func() { ran = append(ran, "do-1") }, func() { ran = append(ran, "undo-1") }))
	require.NoError(t, c.Enlist(id2, func() { ran = append(ran, "do-2") }, func() { ran = append(ran, "undo-2") }))

	c.DischargeAll()
	require.ElementsMatch(t, []string{"undo-1", "undo-2"}, ran)

	require.Error(t, c.Discharge(id1, false), "DischargeAll must forget every transaction it rolled back")
}

// marshalDescribed marshals a composite control message the same way a
// client would before shipping it as a Transfer's opaque payload.
func marshalDescribed(t *testing.T, m encoding.Marshaler) []byte {
	t.Helper()
	wr := buffer.New(nil)
	require.NoError(t, m.Marshal(wr))
	return wr.Bytes()
}

func deliveryOf(payload []byte) amqp.Delivery {
	return amqp.Delivery{Payload: payload}
}

func TestTxnTargetDeclareThenDischargeViaPutProducesDeclaredThenAccepted(t *testing.T) {
	coord := NewTxnCoordinator()
	tgt := newTxnTarget(coord)

	require.NoError(t, tgt.Put([]byte("tag-1"), deliveryOf(marshalDescribed(t, &encoding.Declare{})), nil))

	outcome, ok := tgt.Outcome([]byte("tag-1"))
	require.True(t, ok)
	declared, ok := outcome.(*encoding.Declared)
	require.True(t, ok)
	require.NotEmpty(t, declared.TxnID)

	var committed bool
	require.NoError(t, coord.Enlist(declared.TxnID, func() { committed = true }, func() {}))

	require.NoError(t, tgt.Put([]byte("tag-2"), deliveryOf(marshalDescribed(t, &encoding.Discharge{TxnID: declared.TxnID})), nil))

	outcome2, ok := tgt.Outcome([]byte("tag-2"))
	require.True(t, ok)
	require.IsType(t, &encoding.Accepted{}, outcome2)
	require.True(t, committed)
}

func TestTxnTargetDischargeUnknownIDRejects(t *testing.T) {
	coord := NewTxnCoordinator()
	tgt := newTxnTarget(coord)

	require.NoError(t, tgt.Put([]byte("tag-1"), deliveryOf(marshalDescribed(t, &encoding.Discharge{TxnID: []byte("bogus")})), nil))

	outcome, ok := tgt.Outcome([]byte("tag-1"))
	require.True(t, ok)
	require.IsType(t, &encoding.Rejected{}, outcome)
}

func TestTxnTargetCloseDischargesOutstandingTransactions(t *testing.T) {
	coord := NewTxnCoordinator()
	tgt := newTxnTarget(coord)
	id := coord.Declare()

	var undone bool
	require.NoError(t, coord.Enlist(id, func() {}, func() { undone = true }))

	tgt.Close()
	require.True(t, undone, "closing the coordinator terminus must roll back every live transaction")
}
