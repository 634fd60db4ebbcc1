package encoding

import "github.com/rhs/amqp/internal/buffer"

// This file gives each described delivery-state and transaction-control
// value its wire encoding. Their decode side is registered with
// RegisterConstructor in registry.go so that a Disposition's or Transfer's
// polymorphic State field can be read back without the codec needing a
// type switch over every possible outcome.

func (a *Accepted) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeAccepted, nil)
}

func (r *Released) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeReleased, nil)
}

func (r *Rejected) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeRejected, []MarshalField{
		{Value: r.Error, Omit: r.Error == nil},
	})
}

func (m *Modified) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeModified, []MarshalField{
		{Value: m.DeliveryFailed, Omit: !m.DeliveryFailed},
		{Value: m.UndeliverableHere, Omit: !m.UndeliverableHere},
		{Value: m.MessageAnnotations, Omit: len(m.MessageAnnotations) == 0},
	})
}

func (d *Declared) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeDeclared, []MarshalField{
		{Value: d.TxnID},
	})
}

func (t *TransactionalState) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeTransactionalState, []MarshalField{
		{Value: t.TxnID},
		{Value: t.Outcome, Omit: t.Outcome == nil},
	})
}

func (d *Declare) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeDeclare, nil)
}

func (d *Discharge) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeDischarge, []MarshalField{
		{Value: d.TxnID},
		{Value: d.Fail, Omit: !d.Fail},
	})
}

func (e *Error) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, CodeError, []MarshalField{
		{Value: e.Condition},
		{Value: e.Description, Omit: e.Description == ""},
		{Value: e.Info, Omit: len(e.Info) == 0},
	})
}
