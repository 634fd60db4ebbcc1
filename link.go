package amqp

import (
	"strconv"

	"github.com/rhs/amqp/internal/encoding"
	"github.com/rhs/amqp/internal/frames"
)

type linkState uint8

const (
	linkStateInit linkState = iota
	linkStateAttachSent
	linkStateAttachRcvd
	linkStateAttached
	linkStateDetachSent
	linkStateDetachRcvd
	linkStateDetached
)

const (
	defaultInitialCredit  uint32 = 20
	defaultLowWaterRefill uint32 = 10
)

// unsettledEntry tracks one delivery this side has not yet heard a final
// settlement for, keyed by delivery-tag (spec §4.6).
type unsettledEntry struct {
	id      uint32
	local   encoding.DeliveryState
	remote  encoding.DeliveryState
	modified bool
	resumed bool
}

// pendingInbound accumulates a fragmented incoming delivery until more=false
// (spec §4.6 "Fragmentation").
type pendingInbound struct {
	tag     []byte
	format  *uint32
	payload []byte
}

// Link is the per-endpoint link state machine of spec §4.6. role==false is
// a sender (credit lives here and it produces transfers); role==true is a
// receiver (it grants credit and consumes transfers).
type Link struct {
	session *Session
	name    string
	role    encoding.Role
	handle  uint32 // local
	remoteHandle uint32
	state   linkState

	remoteSource *frames.Source
	remoteTarget *frames.Target
	isCoordinator bool

	source Source // sender role
	target Target // receiver role
	txn    TxnResolver

	// credit model, spec §4.6.
	deliveryCount uint32 // this side's own count
	linkCredit    uint32
	drain         bool

	in *pendingInbound

	unsettled   map[string]*unsettledEntry
	idToTag     map[uint32][]byte

	err error
}

// Name returns the link's name, as carried on Attach.
func (l *Link) Name() string { return l.name }

// IsCoordinator reports whether the remote Attach this link answered
// declared a Coordinator terminus rather than an ordinary Target.
func (l *Link) IsCoordinator() bool { return l.isCoordinator }

func newLink(s *Session, name string, role encoding.Role) *Link {
	return &Link{
		session:   s,
		name:      name,
		role:      role,
		state:     linkStateInit,
		unsettled: make(map[string]*unsettledEntry),
		idToTag:   make(map[uint32][]byte),
	}
}

// Attach begins a locally-initiated link attach. source is non-nil for a
// receiver, target for a sender (mirroring AMQP's convention that the
// initiating Attach only carries the terminus it supplies).
func (l *Link) Attach(remoteSource *frames.Source, remoteTarget *frames.Target) error {
	a := &frames.PerformAttach{
		Name:                 l.name,
		Handle:               l.handle,
		Role:                 l.role,
		SenderSettleMode:     encoding.SenderSettleModeMixed,
		ReceiverSettleMode:   encoding.ReceiverSettleModeFirst,
		Source:               remoteSource,
		Target:               remoteTarget,
		InitialDeliveryCount: l.deliveryCount,
		Unsettled:            l.unsettledMap(),
	}
	if err := l.session.conn.postFrame(l.session.channel, a); err != nil {
		return err
	}
	l.state = linkStateAttachSent
	return nil
}

func (l *Link) handleAttach(a *frames.PerformAttach) error {
	l.remoteSource = a.Source
	l.remoteTarget = a.Target
	l.isCoordinator = a.Coordinator != nil

	if l.session.handler != nil {
		if l.role == encoding.RoleSender {
			src, reply, err := l.session.handler.ResolveSource(l, a.Source)
			if err != nil {
				return l.rejectAttach(err)
			}
			l.source = src
			l.remoteSource = reply
			if len(a.Unsettled) > 0 {
				l.foldResumed(a.Unsettled)
				src.Resume(a.Unsettled)
			}
		} else {
			tgt, reply, err := l.session.handler.ResolveTarget(l, a.Target)
			if err != nil {
				return l.rejectAttach(err)
			}
			l.target = tgt
			l.remoteTarget = reply
			if len(a.Unsettled) > 0 {
				l.foldResumed(a.Unsettled)
				tgt.Resume(a.Unsettled)
			}
			if !l.isCoordinator {
				l.txn = l.session.handler.Txn()
			}
		}
	}

	reply := &frames.PerformAttach{
		Name:                 l.name,
		Handle:               l.handle,
		Role:                 l.role,
		SenderSettleMode:     a.SenderSettleMode,
		ReceiverSettleMode:   a.ReceiverSettleMode,
		Source:               l.remoteSource,
		Target:               l.remoteTarget,
		InitialDeliveryCount: l.deliveryCount,
		Unsettled:            l.unsettledMap(),
	}
	if l.isCoordinator {
		reply.Coordinator = a.Coordinator
		reply.Target = nil
	}
	if err := l.session.conn.postFrame(l.session.channel, reply); err != nil {
		return err
	}
	l.state = linkStateAttached

	// Receiver issues its initial Flow per spec §4.6.
	if l.role == encoding.RoleReceiver {
		l.linkCredit = defaultInitialCredit
		return l.sendFlow()
	}
	return nil
}

func (l *Link) rejectAttach(cause error) error {
	return newLinkError(ErrCondNotFound, "resolve terminus: %v", cause)
}

func (l *Link) sendFlow() error {
	dc := l.deliveryCount
	credit := l.linkCredit
	flow := &frames.PerformFlow{
		NextIncomingID: u32ptr(l.session.incomingLWM),
		IncomingWindow: l.session.incomingWindow,
		NextOutgoingID: l.session.nextOutgoingID,
		OutgoingWindow: defaultIncomingWindow,
		Handle:         u32ptr(l.remoteHandle),
		DeliveryCount:  u32ptr(dc),
		LinkCredit:     u32ptr(credit),
		Drain:          l.drain,
	}
	l.session.enqueue(flow)
	return nil
}

// handleFlow applies spec §4.6's credit formulas depending on local role.
func (l *Link) handleFlow(f *frames.PerformFlow) error {
	if f.Drain {
		l.drain = true
	}
	if l.role == encoding.RoleSender {
		if f.DeliveryCount != nil && f.LinkCredit != nil {
			l.linkCredit = *f.DeliveryCount + *f.LinkCredit - l.deliveryCount
		}
		if f.Echo {
			return l.sendFlow()
		}
		if l.drain {
			return l.drainCredit()
		}
		return nil
	}
	// receiver role: mirror the peer's view of our own deliveryCount.
	if f.DeliveryCount != nil {
		if *f.DeliveryCount > l.deliveryCount {
			delta := *f.DeliveryCount - l.deliveryCount
			if l.linkCredit > delta {
				l.linkCredit -= delta
			} else {
				l.linkCredit = 0
			}
			l.deliveryCount = *f.DeliveryCount
		}
	}
	if f.Echo {
		return l.sendFlow()
	}
	return nil
}

// drainCredit advances delivery-count by all remaining credit, zeroes
// credit, and echoes a Flow — spec §4.6's drain contract.
func (l *Link) drainCredit() error {
	l.deliveryCount += l.linkCredit
	l.linkCredit = 0
	l.drain = false
	return l.sendFlow()
}

// Send emits payload as one delivery, fragmenting it across transfer
// frames if it exceeds the connection's negotiated max-frame-size (spec
// §4.6 "Fragmentation"). tag defaults to the stringified delivery-count
// when nil, matching the broker's "assigns tag 0" behavior in spec §8
// scenario 1.
func (l *Link) Send(tag []byte, payload []byte) error {
	if l.linkCredit == 0 {
		return newLinkError(ErrCondTransferLimitExceeded, "no credit available")
	}
	if l.session.outgoingWindow() == 0 {
		return newSessionError(ErrCondWindowViolation, "outgoing window exhausted")
	}
	if tag == nil {
		tag = []byte(strconv.Itoa(int(l.deliveryCount)))
	}
	id := l.session.assignOutgoingID()
	l.session.bindDelivery(id, l)
	l.idToTag[id] = tag
	l.unsettled[string(tag)] = &unsettledEntry{id: id}

	maxFrame := int(l.session.conn.maxFrameSize)
	if maxFrame <= 0 {
		maxFrame = int(defaultMaxFrameSize)
	}
	// Budget conservatively for the non-payload part of a Transfer frame.
	const overhead = 64
	chunk := maxFrame - overhead
	if chunk <= 0 {
		chunk = len(payload)
	}
	if chunk <= 0 {
		chunk = 1
	}

	remaining := payload
	first := true
	for {
		n := len(remaining)
		more := false
		if n > chunk {
			n = chunk
			more = true
		}
		t := &frames.PerformTransfer{
			Handle:      l.remoteHandle,
			DeliveryTag: tag,
			Settled:     false,
			More:        more,
			Payload:     remaining[:n],
		}
		if first {
			t.DeliveryID = u32ptr(id)
			if l.unsettled[string(tag)].resumed {
				t.Resume = true
			}
		}
		l.session.enqueue(t)
		remaining = remaining[n:]
		first = false
		if !more {
			break
		}
	}

	l.deliveryCount++
	l.linkCredit--
	return nil
}

func (l *Link) handleTransfer(t *frames.PerformTransfer) error {
	if l.in == nil {
		tag := t.DeliveryTag
		if len(tag) == 0 {
			// Peer sent no delivery-tag; assign one the way a sender's own
			// Send would, per spec §8 scenario 1.
			tag = []byte(strconv.Itoa(int(l.deliveryCount)))
		}
		l.in = &pendingInbound{tag: tag, format: t.MessageFormat}
	}
	l.in.payload = append(l.in.payload, t.Payload...)

	if t.DeliveryID != nil {
		l.session.bindDelivery(*t.DeliveryID, l)
		l.idToTag[*t.DeliveryID] = l.in.tag
		if _, ok := l.unsettled[string(l.in.tag)]; !ok {
			l.unsettled[string(l.in.tag)] = &unsettledEntry{id: *t.DeliveryID}
		}
	}

	if t.More {
		return nil
	}

	d := Delivery{Tag: l.in.tag, Payload: l.in.payload, Format: l.in.format}
	l.in = nil
	l.deliveryCount++
	if l.linkCredit > 0 {
		l.linkCredit--
	}
	defer l.maybeRefillCredit()

	if l.target == nil {
		return nil
	}
	var owner interface{}
	if err := l.target.Put(d.Tag, d, owner); err != nil {
		return err
	}

	if ot, ok := l.target.(OutcomeTarget); ok {
		if outcome, ok := ot.Outcome(d.Tag); ok {
			l.disposition(d.Tag, true, outcome)
			return nil
		}
	}

	if t.State != nil {
		// Transactional branch settlement is deferred by the enclosing
		// txn's do/undo work list, per spec §4.8.
		if txState, ok := t.State.(*encoding.TransactionalState); ok && l.txn != nil {
			tag := append([]byte(nil), d.Tag...)
			if err := l.txn.Enlist(txState.TxnID,
				func() { l.disposition(tag, true, txState.Outcome) },
				func() {},
			); err != nil {
				l.disposition(tag, true, &encoding.Rejected{
					Error: &Error{Condition: ErrCondTransactionUnknownID},
				})
			}
			return nil
		}
	}

	// default settlement policy: accept immediately (mixed settle mode).
	l.disposition(d.Tag, true, &encoding.Accepted{})
	return nil
}

// maybeRefillCredit implements the manual-credit-issuance policy adapted
// from the teacher's manualCreditor.go: once granted credit drops to the
// low-water mark, top it back up to the default window — but only if the
// terminus has room, so a backpressured target pauses issuance instead of
// accepting transfers it cannot hold.
func (l *Link) maybeRefillCredit() {
	if l.role != encoding.RoleReceiver || l.drain {
		return
	}
	if l.linkCredit > defaultLowWaterRefill {
		return
	}
	if l.target != nil && l.target.Capacity() <= 0 {
		return
	}
	l.linkCredit = defaultInitialCredit
	_ = l.sendFlow()
}

// unsettledMap builds the Unsettled field for an outgoing Attach, advertising
// this side's surviving deliveries and their last known state so the peer
// can fold them in on resumption (spec §4.6).
func (l *Link) unsettledMap() map[string]encoding.DeliveryState {
	if len(l.unsettled) == 0 {
		return nil
	}
	m := make(map[string]encoding.DeliveryState, len(l.unsettled))
	for tag, e := range l.unsettled {
		m[tag] = e.local
	}
	return m
}

// foldResumed marks this side's own unsettled entries matching a tag the
// peer also reported as unsettled, so a later re-Send of that tag carries
// Resume rather than re-delivering it as a fresh transfer (spec §4.6).
func (l *Link) foldResumed(peerUnsettled map[string]encoding.DeliveryState) {
	for tag := range peerUnsettled {
		if e, ok := l.unsettled[tag]; ok {
			e.resumed = true
		}
	}
}

// disposition mutates a delivery's local state. An unsettled update is
// marked modified so the next tick coalesces it into a Disposition frame
// (spec §4.6); a settled update queues its own Disposition frame here,
// since settling removes the entry before the next tick runs.
func (l *Link) disposition(tag []byte, settled bool, state encoding.DeliveryState) {
	e, ok := l.unsettled[string(tag)]
	if !ok {
		return // spec §8: settlement with no unsettled entry is a no-op
	}
	e.local = state
	e.modified = true
	if settled {
		l.session.enqueue(&frames.PerformDisposition{
			Role:    l.role,
			First:   e.id,
			Settled: true,
			State:   state,
		})
		l.settleLocal(tag, e)
	}
}

func (l *Link) settleLocal(tag []byte, e *unsettledEntry) {
	if l.target != nil {
		l.target.Settle(tag, e.local)
	}
	if l.source != nil {
		l.source.Settle(tag, e.local)
	}
	delete(l.unsettled, string(tag))
	delete(l.idToTag, e.id)
	l.session.unbindDelivery(e.id)
}

// handleDisposition applies a peer-reported state/settled update to the
// delivery bound to session-scoped id.
func (l *Link) handleDisposition(id uint32, settled bool, state encoding.DeliveryState) {
	tag, ok := l.idToTag[id]
	if !ok {
		return
	}
	e, ok := l.unsettled[string(tag)]
	if !ok {
		return
	}
	e.remote = state
	if settled {
		l.settleLocal(tag, e)
	}
}

// tick coalesces modified, still-unsettled entries by state into
// contiguous id ranges and emits one Disposition per group, per spec §4.6;
// settled updates have already queued their own Disposition in
// disposition().
// A sending link also pulls from its source here, draining it while credit
// allows (spec §5's connection-tick step "for each sender link: pull
// transfers from the source while credit allows").
func (l *Link) tick() error {
	if l.state != linkStateAttached {
		return nil
	}

	if l.role == encoding.RoleSender && l.source != nil {
		for l.linkCredit > 0 && l.session.outgoingWindow() > 0 {
			tag, d, ok := l.source.Get()
			if !ok {
				break
			}
			if err := l.Send(tag, d.Payload); err != nil {
				return err
			}
		}
	}

	type group struct {
		settled bool
		state   encoding.DeliveryState
		ids     []uint32
	}
	var groups []*group
	for tag, e := range l.unsettled {
		if !e.modified {
			continue
		}
		e.modified = false
		var g *group
		for _, candidate := range groups {
			if candidate.settled == false && sameOutcome(candidate.state, e.local) {
				g = candidate
				break
			}
		}
		if g == nil {
			g = &group{state: e.local}
			groups = append(groups, g)
		}
		g.ids = append(g.ids, e.id)
		_ = tag
	}

	for _, g := range groups {
		if len(g.ids) == 0 {
			continue
		}
		lo, hi := rangeOf(g.ids)
		d := &frames.PerformDisposition{
			Role:    l.role,
			First:   lo,
			Last:    u32ptr(hi),
			Settled: g.settled,
			State:   g.state,
		}
		l.session.enqueue(d)
	}

	if l.drain && l.role == encoding.RoleSender && l.linkCredit > 0 {
		return l.drainCredit()
	}
	return nil
}

func sameOutcome(a, b encoding.DeliveryState) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return describeOutcome(a) == describeOutcome(b)
}

func describeOutcome(s encoding.DeliveryState) string {
	switch s.(type) {
	case *encoding.Accepted:
		return "accepted"
	case *encoding.Released:
		return "released"
	case *encoding.Rejected:
		return "rejected"
	case *encoding.Modified:
		return "modified"
	case *encoding.Declared:
		return "declared"
	case *encoding.TransactionalState:
		return "transactional"
	default:
		return "other"
	}
}

func rangeOf(ids []uint32) (lo, hi uint32) {
	lo, hi = ids[0], ids[0]
	for _, id := range ids[1:] {
		if id < lo {
			lo = id
		}
		if id > hi {
			hi = id
		}
	}
	return lo, hi
}

// Detach sends the local Detach performative.
func (l *Link) Detach(err *Error, closed bool) error {
	switch l.state {
	case linkStateDetachSent, linkStateDetached:
		return nil
	}
	if e := l.session.conn.postFrame(l.session.channel, &frames.PerformDetach{
		Handle: l.remoteHandle,
		Closed: closed,
		Error:  err,
	}); e != nil {
		return e
	}
	if l.state == linkStateDetachRcvd {
		l.state = linkStateDetached
		l.orphan()
	} else {
		l.state = linkStateDetachSent
	}
	return nil
}

func (l *Link) handleDetach(d *frames.PerformDetach) error {
	switch l.state {
	case linkStateDetachSent:
		l.state = linkStateDetached
		l.orphan()
		delete(l.session.linksByRem, d.Handle)
		delete(l.session.links, l.handle)
		return nil
	default:
		l.state = linkStateDetachRcvd
		return l.Detach(nil, d.Closed)
	}
}

// orphan releases any terminus entries this link still holds, per spec
// §4.9 step 4 ("orphan surviving terminus holders per orphaned()").
func (l *Link) orphan() {
	if l.source != nil {
		l.source.Close()
	}
	if l.target != nil {
		l.target.Orphaned()
	}
}

func u32ptr(v uint32) *uint32 { return &v }
