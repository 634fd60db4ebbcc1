package amqp

import (
	"github.com/pkg/errors"

	"github.com/rhs/amqp/internal/frames"
	"github.com/rhs/amqp/internal/queue"
)

type sessionState uint8

const (
	sessionStateUnmapped sessionState = iota
	sessionStateBeginSent
	sessionStateBeginRcvd
	sessionStateMapped
	sessionStateEndSent
	sessionStateEndRcvd
	sessionStateEnded
)

const defaultIncomingWindow uint32 = 65536

// windowPolicy is the session's incoming-window refill strategy (spec §4.5).
type windowPolicy uint8

const (
	windowSliding windowPolicy = iota
	windowFixed
)

// Session is the session state machine of spec §4.5: channel<->session and
// handle<->link dispatch, delivery-id assignment, and window accounting.
type Session struct {
	conn    *Conn
	channel uint16 // local (outgoing) channel
	remCh   uint16 // remote (incoming) channel
	state   sessionState

	handler ConnHandler

	links      map[uint32]*Link // by local handle
	linksByRem map[uint32]*Link // by remote handle
	nextHandle uint32

	// outgoing delivery-id window
	nextOutgoingID uint32
	remoteIncoming uint32 // peer's advertised incoming-window, as of Begin or the last Flow carrying next-incoming-id
	remoteNextIn   uint32 // peer's next-incoming-id: our next-outgoing-id at Begin, then as of the last Flow carrying it

	// incoming delivery-id window
	incomingLWM    uint32 // next-incoming-id: the transfer-id expected on the next incoming transfer frame
	incomingWindow uint32
	windowPolicy   windowPolicy

	out *queue.Queue[frames.FrameBody]

	// deliveryLinks maps a session-scoped delivery-id (shared by both
	// peers for the same delivery, regardless of which side assigned it)
	// to the link that owns it, so a Disposition referencing that id can
	// be routed without scanning every link.
	deliveryLinks map[uint32]*Link

	err error
}

func newSession(c *Conn, channel uint16, handler ConnHandler) *Session {
	return &Session{
		conn:           c,
		channel:        channel,
		handler:        handler,
		links:          make(map[uint32]*Link),
		linksByRem:     make(map[uint32]*Link),
		incomingWindow: defaultIncomingWindow,
		out:            queue.New[frames.FrameBody](16),
		deliveryLinks:  make(map[uint32]*Link),
	}
}

func (s *Session) sendBegin() {
	s.state = sessionStateBeginSent
	_ = s.conn.postFrame(s.channel, &frames.PerformBegin{
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: defaultIncomingWindow,
	})
}

func (s *Session) handleBegin(remoteChannel uint16, b *frames.PerformBegin) error {
	s.remCh = remoteChannel
	s.remoteNextIn = s.nextOutgoingID
	s.remoteIncoming = b.IncomingWindow
	s.incomingLWM = b.NextOutgoingID

	switch s.state {
	case sessionStateBeginSent:
		s.state = sessionStateMapped
	case sessionStateUnmapped:
		s.state = sessionStateBeginRcvd
		reply := &frames.PerformBegin{
			RemoteChannel:  &remoteChannel,
			NextOutgoingID: s.nextOutgoingID,
			IncomingWindow: s.incomingWindow,
			OutgoingWindow: defaultIncomingWindow,
		}
		if err := s.conn.postFrame(s.channel, reply); err != nil {
			return err
		}
		s.state = sessionStateMapped
	default:
		return newConnectionError(ErrCondIllegalState, "unexpected begin on channel %d", remoteChannel)
	}
	return nil
}

// End sends the local End performative.
func (s *Session) End(err *Error) error {
	if s.state == sessionStateEnded || s.state == sessionStateEndSent {
		return nil
	}
	if e := s.conn.postFrame(s.channel, &frames.PerformEnd{Error: err}); e != nil {
		return e
	}
	if s.state == sessionStateEndRcvd {
		s.state = sessionStateEnded
	} else {
		s.state = sessionStateEndSent
	}
	return nil
}

// dispatch routes a frame body addressed to this session: Begin is handled
// by the connection before reaching here, so only End/Attach/Flow/Transfer/
// Disposition/Detach arrive.
func (s *Session) dispatch(body frames.FrameBody) error {
	switch b := body.(type) {
	case *frames.PerformEnd:
		return s.handleEnd(b)
	case *frames.PerformAttach:
		return s.handleAttach(b)
	case *frames.PerformFlow:
		return s.handleFlow(b)
	case *frames.PerformTransfer:
		return s.handleTransfer(b)
	case *frames.PerformDisposition:
		return s.handleDisposition(b)
	case *frames.PerformDetach:
		return s.handleDetach(b)
	default:
		return newSessionError(ErrCondNotAllowed, "unexpected frame on session")
	}
}

func (s *Session) handleEnd(e *frames.PerformEnd) error {
	switch s.state {
	case sessionStateEndSent:
		s.state = sessionStateEnded
		delete(s.conn.byRemoteCh, s.remCh)
		delete(s.conn.sessions, s.channel)
		return nil
	default:
		s.state = sessionStateEndRcvd
		return s.End(nil)
	}
}

func (s *Session) handleAttach(a *frames.PerformAttach) error {
	if existing, ok := s.linksByRem[a.Handle]; ok && existing.state != linkStateDetached {
		return newSessionError(ErrCondHandleInUse, "handle %d already attached", a.Handle)
	}

	// A reply to our own locally-initiated Attach correlates by link name,
	// not handle (AMQP carries no back-reference): find it among links
	// still waiting for their counterpart before assuming this is a fresh
	// remote-initiated attach.
	l := s.findPendingAttach(a.Name)
	if l == nil {
		// a.Role is the remote's own declared role; this side's link plays
		// the opposite part.
		l = newLink(s, a.Name, !a.Role)
		l.handle = s.nextHandle
		s.nextHandle++
		s.links[l.handle] = l
	}
	l.remoteHandle = a.Handle
	s.linksByRem[a.Handle] = l

	err := l.handleAttach(a)
	var le *LinkError
	if errors.As(err, &le) {
		// Fatal only to this link (spec §7): detach it rather than letting
		// the error propagate up as if the whole session had failed.
		delete(s.links, l.handle)
		delete(s.linksByRem, a.Handle)
		return s.conn.postFrame(s.channel, &frames.PerformDetach{
			Handle: a.Handle,
			Closed: true,
			Error:  le.asWireError(),
		})
	}
	return err
}

// findPendingAttach returns a link this side attached and is still waiting
// to hear back from, matched by name per spec §4.6's reattach contract
// (scenario 6: "client reattaches the same link name").
func (s *Session) findPendingAttach(name string) *Link {
	for _, l := range s.links {
		if l.name == name && l.state == linkStateAttachSent {
			return l
		}
	}
	return nil
}

func (s *Session) handleFlow(f *frames.PerformFlow) error {
	if f.NextIncomingID != nil {
		s.remoteNextIn = *f.NextIncomingID
		s.remoteIncoming = f.IncomingWindow
	}
	if f.Handle == nil {
		return nil
	}
	l, ok := s.linksByRem[*f.Handle]
	if !ok {
		return nil // flow for a handle we no longer track; not fatal
	}
	return l.handleFlow(f)
}

func (s *Session) handleTransfer(t *frames.PerformTransfer) error {
	l, ok := s.linksByRem[t.Handle]
	if !ok {
		return newSessionError(ErrCondUnattachedHandle, "transfer on unattached handle %d", t.Handle)
	}
	s.incomingLWM++
	if s.windowPolicy == windowSliding {
		s.incomingWindow++
	}
	return l.handleTransfer(t)
}

func (s *Session) handleDisposition(d *frames.PerformDisposition) error {
	last := d.First
	if d.Last != nil {
		last = *d.Last
	}
	for id := d.First; id <= last; id++ {
		l, ok := s.deliveryLinks[id]
		if !ok {
			continue
		}
		l.handleDisposition(id, d.Settled, d.State)
	}
	return nil
}

// bindDelivery records that session-scoped delivery-id id belongs to link
// l, so a later Disposition referencing id can be routed directly. Called
// by a sender link when it assigns an outgoing id, and by a receiver link
// when it observes an incoming transfer's delivery-id.
func (s *Session) bindDelivery(id uint32, l *Link) {
	s.deliveryLinks[id] = l
}

// unbindDelivery forgets id once its delivery is fully settled, matching
// spec §8's "no delivery is removed while it remains in any alias map".
func (s *Session) unbindDelivery(id uint32) {
	delete(s.deliveryLinks, id)
}

func (s *Session) handleDetach(d *frames.PerformDetach) error {
	l, ok := s.linksByRem[d.Handle]
	if !ok {
		return newSessionError(ErrCondUnattachedHandle, "detach on unattached handle %d", d.Handle)
	}
	return l.handleDetach(d)
}

// assignOutgoingID hands out the next strictly-monotonic outgoing
// delivery-id, per spec §5's ordering guarantee.
func (s *Session) assignOutgoingID() uint32 {
	id := s.nextOutgoingID
	s.nextOutgoingID++
	return id
}

// outgoingWindow reports how many more transfers this session may send
// before exceeding the peer's advertised incoming window (spec §4.5):
// remote's incoming window minus transfers we have sent but the peer
// hasn't yet acknowledged as past its low-water mark.
func (s *Session) outgoingWindow() uint32 {
	limit := s.remoteNextIn + s.remoteIncoming
	if limit < s.nextOutgoingID {
		return 0
	}
	return limit - s.nextOutgoingID
}

// tick ticks every attached link, then drains this session's outbound
// frame queue onto the connection, per spec §4.4's outer tick loop.
func (s *Session) tick() error {
	if s.state != sessionStateMapped {
		return nil
	}
	for _, l := range s.links {
		if err := l.tick(); err != nil {
			return err
		}
	}
	for {
		body := s.out.Dequeue()
		if body == nil {
			break
		}
		if err := s.conn.postFrame(s.channel, *body); err != nil {
			return err
		}
	}
	return nil
}

// enqueue queues a frame for this session to flush on the next tick,
// implementing spec §9's explicit per-level outbound queue in place of the
// teacher's parent-pointer post_frame chain.
func (s *Session) enqueue(body frames.FrameBody) {
	s.out.Enqueue(body)
}

func derefU32(p *uint32, def uint32) uint32 {
	if p == nil {
		return def
	}
	return *p
}
