package frames

import (
	"github.com/rhs/amqp/internal/buffer"
	"github.com/rhs/amqp/internal/encoding"
)

func (*PerformOpen) frameBody()        {}
func (*PerformBegin) frameBody()       {}
func (*PerformAttach) frameBody()      {}
func (*PerformFlow) frameBody()        {}
func (*PerformTransfer) frameBody()    {}
func (*PerformDisposition) frameBody() {}
func (*PerformDetach) frameBody()      {}
func (*PerformEnd) frameBody()         {}
func (*PerformClose) frameBody()       {}
func (*SASLMechanisms) frameBody()     {}
func (*SASLInit) frameBody()           {}
func (*SASLChallenge) frameBody()      {}
func (*SASLResponse) frameBody()       {}
func (*SASLOutcome) frameBody()        {}

// PerformOpen is the first frame sent on a new connection, negotiating the
// peer's identity and the transport-level limits it will honor.
type PerformOpen struct {
	ContainerID         string
	Hostname            string
	MaxFrameSize        uint32
	ChannelMax          uint16
	IdleTimeout         encoding.Milliseconds
	OutgoingLocales     encoding.MultiSymbol
	IncomingLocales     encoding.MultiSymbol
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          encoding.Fields
}

func (o *PerformOpen) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeOpen, []encoding.MarshalField{
		{Value: o.ContainerID},
		{Value: o.Hostname, Omit: o.Hostname == ""},
		{Value: o.MaxFrameSize, Omit: o.MaxFrameSize == 0},
		{Value: o.ChannelMax, Omit: o.ChannelMax == 0},
		{Value: o.IdleTimeout, Omit: o.IdleTimeout == 0},
		{Value: o.OutgoingLocales, Omit: len(o.OutgoingLocales) == 0},
		{Value: o.IncomingLocales, Omit: len(o.IncomingLocales) == 0},
		{Value: o.OfferedCapabilities, Omit: len(o.OfferedCapabilities) == 0},
		{Value: o.DesiredCapabilities, Omit: len(o.DesiredCapabilities) == 0},
		{Value: o.Properties, Omit: len(o.Properties) == 0},
	})
}

func (o *PerformOpen) Unmarshal(r *buffer.Buffer) error {
	o.MaxFrameSize = 4294967295
	o.ChannelMax = 65535
	return encoding.UnmarshalComposite(r, encoding.CodeOpen,
		encoding.UnmarshalField{Field: &o.ContainerID},
		encoding.UnmarshalField{Field: &o.Hostname},
		encoding.UnmarshalField{Field: &o.MaxFrameSize},
		encoding.UnmarshalField{Field: &o.ChannelMax},
		encoding.UnmarshalField{Field: &o.IdleTimeout},
		encoding.UnmarshalField{Field: &o.OutgoingLocales},
		encoding.UnmarshalField{Field: &o.IncomingLocales},
		encoding.UnmarshalField{Field: &o.OfferedCapabilities},
		encoding.UnmarshalField{Field: &o.DesiredCapabilities},
		encoding.UnmarshalField{Field: &o.Properties},
	)
}

// PerformBegin establishes a session on a channel, carrying the initial
// transfer-id window that the session's delivery bookkeeping is seeded
// from.
type PerformBegin struct {
	RemoteChannel       *uint16
	NextOutgoingID      uint32
	IncomingWindow      uint32
	OutgoingWindow      uint32
	HandleMax           uint32
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          encoding.Fields
}

func (b *PerformBegin) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeBegin, []encoding.MarshalField{
		{Value: b.RemoteChannel, Omit: b.RemoteChannel == nil},
		{Value: b.NextOutgoingID},
		{Value: b.IncomingWindow},
		{Value: b.OutgoingWindow},
		{Value: b.HandleMax, Omit: b.HandleMax == 0},
		{Value: b.OfferedCapabilities, Omit: len(b.OfferedCapabilities) == 0},
		{Value: b.DesiredCapabilities, Omit: len(b.DesiredCapabilities) == 0},
		{Value: b.Properties, Omit: len(b.Properties) == 0},
	})
}

func (b *PerformBegin) Unmarshal(r *buffer.Buffer) error {
	b.HandleMax = 4294967295
	return encoding.UnmarshalComposite(r, encoding.CodeBegin,
		encoding.UnmarshalField{Field: &b.RemoteChannel},
		encoding.UnmarshalField{Field: &b.NextOutgoingID},
		encoding.UnmarshalField{Field: &b.IncomingWindow},
		encoding.UnmarshalField{Field: &b.OutgoingWindow},
		encoding.UnmarshalField{Field: &b.HandleMax},
		encoding.UnmarshalField{Field: &b.OfferedCapabilities},
		encoding.UnmarshalField{Field: &b.DesiredCapabilities},
		encoding.UnmarshalField{Field: &b.Properties},
	)
}

// Source describes a link's origin terminus: the node an attaching
// receiver reads from, or that a sender's messages are said to come from.
type Source struct {
	Address      string
	Durable      encoding.Durability
	ExpiryPolicy encoding.ExpiryPolicy
	Timeout      encoding.Milliseconds
	Dynamic      bool
	DynamicNodeProperties encoding.Fields
	DistributionMode encoding.Symbol
	Filter       encoding.Filter
	DefaultOutcome interface{}
	Outcomes     encoding.MultiSymbol
	Capabilities encoding.MultiSymbol
}

func (s *Source) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeSource, []encoding.MarshalField{
		{Value: s.Address, Omit: s.Address == ""},
		{Value: s.Durable, Omit: s.Durable == 0},
		{Value: s.ExpiryPolicy, Omit: s.ExpiryPolicy == "" || s.ExpiryPolicy == encoding.ExpirySessionEnd},
		{Value: s.Timeout, Omit: s.Timeout == 0},
		{Value: s.Dynamic, Omit: !s.Dynamic},
		{Value: s.DynamicNodeProperties, Omit: len(s.DynamicNodeProperties) == 0},
		{Value: s.DistributionMode, Omit: s.DistributionMode == ""},
		{Value: s.Filter, Omit: len(s.Filter) == 0},
		{Value: s.DefaultOutcome, Omit: s.DefaultOutcome == nil},
		{Value: s.Outcomes, Omit: len(s.Outcomes) == 0},
		{Value: s.Capabilities, Omit: len(s.Capabilities) == 0},
	})
}

func (s *Source) Unmarshal(r *buffer.Buffer) error {
	s.ExpiryPolicy = encoding.ExpirySessionEnd
	return encoding.UnmarshalComposite(r, encoding.CodeSource,
		encoding.UnmarshalField{Field: &s.Address},
		encoding.UnmarshalField{Field: &s.Durable},
		encoding.UnmarshalField{Field: &s.ExpiryPolicy},
		encoding.UnmarshalField{Field: &s.Timeout},
		encoding.UnmarshalField{Field: &s.Dynamic},
		encoding.UnmarshalField{Field: &s.DynamicNodeProperties},
		encoding.UnmarshalField{Field: &s.DistributionMode},
		encoding.UnmarshalField{Field: &s.Filter},
		encoding.UnmarshalField{Field: &s.DefaultOutcome},
		encoding.UnmarshalField{Field: &s.Outcomes},
		encoding.UnmarshalField{Field: &s.Capabilities},
	)
}

// Target describes a link's destination terminus: the node a sender
// writes to, or a receiver's messages are said to be addressed to. A
// coordinator target (see Coordinator below) is encoded in its place when
// the link is a transaction-controller link.
type Target struct {
	Address      string
	Durable      encoding.Durability
	ExpiryPolicy encoding.ExpiryPolicy
	Timeout      encoding.Milliseconds
	Dynamic      bool
	DynamicNodeProperties encoding.Fields
	Capabilities encoding.MultiSymbol
}

func (t *Target) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeTarget, []encoding.MarshalField{
		{Value: t.Address, Omit: t.Address == ""},
		{Value: t.Durable, Omit: t.Durable == 0},
		{Value: t.ExpiryPolicy, Omit: t.ExpiryPolicy == "" || t.ExpiryPolicy == encoding.ExpirySessionEnd},
		{Value: t.Timeout, Omit: t.Timeout == 0},
		{Value: t.Dynamic, Omit: !t.Dynamic},
		{Value: t.DynamicNodeProperties, Omit: len(t.DynamicNodeProperties) == 0},
		{Value: t.Capabilities, Omit: len(t.Capabilities) == 0},
	})
}

func (t *Target) Unmarshal(r *buffer.Buffer) error {
	t.ExpiryPolicy = encoding.ExpirySessionEnd
	return encoding.UnmarshalComposite(r, encoding.CodeTarget,
		encoding.UnmarshalField{Field: &t.Address},
		encoding.UnmarshalField{Field: &t.Durable},
		encoding.UnmarshalField{Field: &t.ExpiryPolicy},
		encoding.UnmarshalField{Field: &t.Timeout},
		encoding.UnmarshalField{Field: &t.Dynamic},
		encoding.UnmarshalField{Field: &t.DynamicNodeProperties},
		encoding.UnmarshalField{Field: &t.Capabilities},
	)
}

// Coordinator is the target of a transaction-controller link: a link whose
// sole purpose is declaring and discharging transactions rather than
// moving application messages.
type Coordinator struct {
	Capabilities encoding.MultiSymbol
}

func (c *Coordinator) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeCoordinator, []encoding.MarshalField{
		{Value: c.Capabilities, Omit: len(c.Capabilities) == 0},
	})
}

func (c *Coordinator) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeCoordinator,
		encoding.UnmarshalField{Field: &c.Capabilities},
	)
}

// PerformAttach establishes a link on a session, binding a handle to a
// name and pairing the attaching role's Source/Target with the peer's.
type PerformAttach struct {
	Name               string
	Handle             uint32
	Role               encoding.Role
	SenderSettleMode   encoding.SenderSettleMode
	ReceiverSettleMode encoding.ReceiverSettleMode
	Source             *Source
	Target             *Target
	Coordinator        *Coordinator
	Unsettled          map[string]encoding.DeliveryState
	IncompleteUnsettled bool
	InitialDeliveryCount uint32
	MaxMessageSize     uint64
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          encoding.Fields
}

func (a *PerformAttach) Marshal(wr *buffer.Buffer) error {
	var target interface{}
	if a.Coordinator != nil {
		target = a.Coordinator
	} else if a.Target != nil {
		target = a.Target
	}
	var unsettled interface{}
	if len(a.Unsettled) > 0 {
		unsettled = a.Unsettled
	}
	return encoding.MarshalComposite(wr, encoding.CodeAttach, []encoding.MarshalField{
		{Value: a.Name},
		{Value: a.Handle},
		{Value: a.Role},
		{Value: a.SenderSettleMode, Omit: a.SenderSettleMode == encoding.SenderSettleModeMixed},
		{Value: a.ReceiverSettleMode, Omit: a.ReceiverSettleMode == encoding.ReceiverSettleModeFirst},
		{Value: a.Source, Omit: a.Source == nil},
		{Value: target, Omit: target == nil},
		{Value: unsettled, Omit: unsettled == nil},
		{Value: a.IncompleteUnsettled, Omit: !a.IncompleteUnsettled},
		{Value: a.InitialDeliveryCount, Omit: a.Role == encoding.RoleReceiver},
		{Value: a.MaxMessageSize, Omit: a.MaxMessageSize == 0},
		{Value: a.OfferedCapabilities, Omit: len(a.OfferedCapabilities) == 0},
		{Value: a.DesiredCapabilities, Omit: len(a.DesiredCapabilities) == 0},
		{Value: a.Properties, Omit: len(a.Properties) == 0},
	})
}

func (a *PerformAttach) Unmarshal(r *buffer.Buffer) error {
	a.SenderSettleMode = encoding.SenderSettleModeMixed
	var target interface{}
	err := encoding.UnmarshalComposite(r, encoding.CodeAttach,
		encoding.UnmarshalField{Field: &a.Name},
		encoding.UnmarshalField{Field: &a.Handle},
		encoding.UnmarshalField{Field: &a.Role},
		encoding.UnmarshalField{Field: &a.SenderSettleMode},
		encoding.UnmarshalField{Field: &a.ReceiverSettleMode},
		encoding.UnmarshalField{Field: &a.Source},
		encoding.UnmarshalField{Field: &target},
		encoding.UnmarshalField{Field: &a.Unsettled},
		encoding.UnmarshalField{Field: &a.IncompleteUnsettled},
		encoding.UnmarshalField{Field: &a.InitialDeliveryCount},
		encoding.UnmarshalField{Field: &a.MaxMessageSize},
		encoding.UnmarshalField{Field: &a.OfferedCapabilities},
		encoding.UnmarshalField{Field: &a.DesiredCapabilities},
		encoding.UnmarshalField{Field: &a.Properties},
	)
	if err != nil {
		return err
	}
	switch t := target.(type) {
	case *Target:
		a.Target = t
	case *Coordinator:
		a.Coordinator = t
	}
	return nil
}

// PerformFlow updates (and, if Echo is set, requests) the sender/receiver
// credit window for one or all links on a session.
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     encoding.Fields
}

func (f *PerformFlow) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeFlow, []encoding.MarshalField{
		{Value: f.NextIncomingID, Omit: f.NextIncomingID == nil},
		{Value: f.IncomingWindow},
		{Value: f.NextOutgoingID},
		{Value: f.OutgoingWindow},
		{Value: f.Handle, Omit: f.Handle == nil},
		{Value: f.DeliveryCount, Omit: f.DeliveryCount == nil},
		{Value: f.LinkCredit, Omit: f.LinkCredit == nil},
		{Value: f.Available, Omit: f.Available == nil},
		{Value: f.Drain, Omit: !f.Drain},
		{Value: f.Echo, Omit: !f.Echo},
		{Value: f.Properties, Omit: len(f.Properties) == 0},
	})
}

func (f *PerformFlow) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeFlow,
		encoding.UnmarshalField{Field: &f.NextIncomingID},
		encoding.UnmarshalField{Field: &f.IncomingWindow},
		encoding.UnmarshalField{Field: &f.NextOutgoingID},
		encoding.UnmarshalField{Field: &f.OutgoingWindow},
		encoding.UnmarshalField{Field: &f.Handle},
		encoding.UnmarshalField{Field: &f.DeliveryCount},
		encoding.UnmarshalField{Field: &f.LinkCredit},
		encoding.UnmarshalField{Field: &f.Available},
		encoding.UnmarshalField{Field: &f.Drain},
		encoding.UnmarshalField{Field: &f.Echo},
		encoding.UnmarshalField{Field: &f.Properties},
	)
}

// PerformTransfer carries one message, or one fragment of a multi-frame
// message when More is set. Payload holds the application-data section
// bytes verbatim; the engine never decodes them.
type PerformTransfer struct {
	Handle           uint32
	DeliveryID       *uint32
	DeliveryTag      []byte
	MessageFormat    *uint32
	Settled          bool
	More             bool
	ReceiverSettleMode *encoding.ReceiverSettleMode
	State            encoding.DeliveryState
	Resume           bool
	Aborted          bool
	Batchable        bool
	Payload          []byte
}

func (t *PerformTransfer) Marshal(wr *buffer.Buffer) error {
	err := encoding.MarshalComposite(wr, encoding.CodeTransfer, []encoding.MarshalField{
		{Value: t.Handle},
		{Value: t.DeliveryID, Omit: t.DeliveryID == nil},
		{Value: t.DeliveryTag, Omit: t.DeliveryTag == nil},
		{Value: t.MessageFormat, Omit: t.MessageFormat == nil},
		{Value: t.Settled, Omit: !t.Settled},
		{Value: t.More, Omit: !t.More},
		{Value: t.ReceiverSettleMode, Omit: t.ReceiverSettleMode == nil},
		{Value: t.State, Omit: t.State == nil},
		{Value: t.Resume, Omit: !t.Resume},
		{Value: t.Aborted, Omit: !t.Aborted},
		{Value: t.Batchable, Omit: !t.Batchable},
	})
	if err != nil {
		return err
	}
	wr.Append(t.Payload)
	return nil
}

func (t *PerformTransfer) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeTransfer,
		encoding.UnmarshalField{Field: &t.Handle},
		encoding.UnmarshalField{Field: &t.DeliveryID},
		encoding.UnmarshalField{Field: &t.DeliveryTag},
		encoding.UnmarshalField{Field: &t.MessageFormat},
		encoding.UnmarshalField{Field: &t.Settled},
		encoding.UnmarshalField{Field: &t.More},
		encoding.UnmarshalField{Field: &t.ReceiverSettleMode},
		encoding.UnmarshalField{Field: &t.State},
		encoding.UnmarshalField{Field: &t.Resume},
		encoding.UnmarshalField{Field: &t.Aborted},
		encoding.UnmarshalField{Field: &t.Batchable},
	)
}

// PerformDisposition communicates the outcome of one or a contiguous range
// of deliveries, identified by delivery-id rather than handle since a
// single disposition can span deliveries on different links.
type PerformDisposition struct {
	Role     encoding.Role
	First    uint32
	Last     *uint32
	Settled  bool
	State    encoding.DeliveryState
	Batchable bool
}

func (d *PerformDisposition) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeDisposition, []encoding.MarshalField{
		{Value: d.Role},
		{Value: d.First},
		{Value: d.Last, Omit: d.Last == nil},
		{Value: d.Settled, Omit: !d.Settled},
		{Value: d.State, Omit: d.State == nil},
		{Value: d.Batchable, Omit: !d.Batchable},
	})
}

func (d *PerformDisposition) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeDisposition,
		encoding.UnmarshalField{Field: &d.Role},
		encoding.UnmarshalField{Field: &d.First},
		encoding.UnmarshalField{Field: &d.Last},
		encoding.UnmarshalField{Field: &d.Settled},
		encoding.UnmarshalField{Field: &d.State},
		encoding.UnmarshalField{Field: &d.Batchable},
	)
}

// PerformDetach removes a link from a session without affecting the
// session itself.
type PerformDetach struct {
	Handle uint32
	Closed bool
	Error  *encoding.Error
}

func (d *PerformDetach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeDetach, []encoding.MarshalField{
		{Value: d.Handle},
		{Value: d.Closed, Omit: !d.Closed},
		{Value: d.Error, Omit: d.Error == nil},
	})
}

func (d *PerformDetach) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeDetach,
		encoding.UnmarshalField{Field: &d.Handle},
		encoding.UnmarshalField{Field: &d.Closed},
		encoding.UnmarshalField{Field: &d.Error},
	)
}

// PerformEnd terminates a session, along with every link still attached
// to it.
type PerformEnd struct {
	Error *encoding.Error
}

func (e *PerformEnd) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeEnd, []encoding.MarshalField{
		{Value: e.Error, Omit: e.Error == nil},
	})
}

func (e *PerformEnd) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeEnd,
		encoding.UnmarshalField{Field: &e.Error},
	)
}

// PerformClose terminates a connection, along with every session still
// begun on it.
type PerformClose struct {
	Error *encoding.Error
}

func (c *PerformClose) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeClose, []encoding.MarshalField{
		{Value: c.Error, Omit: c.Error == nil},
	})
}

func (c *PerformClose) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeClose,
		encoding.UnmarshalField{Field: &c.Error},
	)
}

// SASLMechanisms is sent by the server on a new connection's security
// layer, listing the mechanisms it will accept.
type SASLMechanisms struct {
	Mechanisms encoding.MultiSymbol
}

func (s *SASLMechanisms) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeSASLMechs, []encoding.MarshalField{
		{Value: s.Mechanisms},
	})
}

func (s *SASLMechanisms) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeSASLMechs,
		encoding.UnmarshalField{Field: &s.Mechanisms},
	)
}

// SASLInit begins the chosen mechanism's exchange.
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (s *SASLInit) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeSASLInit, []encoding.MarshalField{
		{Value: s.Mechanism},
		{Value: s.InitialResponse, Omit: s.InitialResponse == nil},
		{Value: s.Hostname, Omit: s.Hostname == ""},
	})
}

func (s *SASLInit) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeSASLInit,
		encoding.UnmarshalField{Field: &s.Mechanism},
		encoding.UnmarshalField{Field: &s.InitialResponse},
		encoding.UnmarshalField{Field: &s.Hostname},
	)
}

// SASLChallenge carries one round of server-issued challenge data.
type SASLChallenge struct {
	Challenge []byte
}

func (s *SASLChallenge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeSASLChal, []encoding.MarshalField{
		{Value: s.Challenge},
	})
}

func (s *SASLChallenge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeSASLChal,
		encoding.UnmarshalField{Field: &s.Challenge},
	)
}

// SASLResponse answers a SASLChallenge.
type SASLResponse struct {
	Response []byte
}

func (s *SASLResponse) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeSASLResp, []encoding.MarshalField{
		{Value: s.Response},
	})
}

func (s *SASLResponse) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, encoding.CodeSASLResp,
		encoding.UnmarshalField{Field: &s.Response},
	)
}

// SASLCode is the outcome of a SASL negotiation.
type SASLCode uint8

const (
	SASLCodeOK      SASLCode = 0
	SASLCodeAuth    SASLCode = 1
	SASLCodeSys     SASLCode = 2
	SASLCodeSysPerm SASLCode = 3
	SASLCodeSysTemp SASLCode = 4
)

// SASLOutcome ends the security layer, after which the AMQP protocol
// header is re-sent and normal connection negotiation begins.
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (s *SASLOutcome) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.CodeSASLOutcome, []encoding.MarshalField{
		{Value: uint8(s.Code)},
		{Value: s.AdditionalData, Omit: s.AdditionalData == nil},
	})
}

func (s *SASLOutcome) Unmarshal(r *buffer.Buffer) error {
	var code uint8
	err := encoding.UnmarshalComposite(r, encoding.CodeSASLOutcome,
		encoding.UnmarshalField{Field: &code},
		encoding.UnmarshalField{Field: &s.AdditionalData},
	)
	s.Code = SASLCode(code)
	return err
}
