package amqp

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/rhs/amqp/internal/debug"
	"github.com/rhs/amqp/internal/encoding"
	"github.com/rhs/amqp/internal/frames"
)

// connState is the connection's half of spec §4.4's transition table.
type connState uint8

const (
	connStateInit connState = iota
	connStateOpenSent
	connStateOpenRcvd
	connStateOpened
	connStateCloseSent
	connStateCloseRcvd
	connStateClosed
)

const (
	defaultChannelMax   uint16 = 65535
	defaultMaxFrameSize uint32 = math.MaxUint32
)

// Conn is the connection state machine of spec §4.4. It is single-threaded
// and cooperative per §5: every method either completes or records
// modifications for the next tick(); nothing here blocks or reads a clock.
type Conn struct {
	containerID string
	disp        *dispatcher

	state connState
	err   error

	localMaxFrameSize  uint32
	remoteMaxFrameSize uint32
	maxFrameSize       uint32 // negotiated: min(local, remote)
	remoteContainerID  string

	sessions    map[uint16]*Session // keyed by local (outgoing) channel
	byRemoteCh  map[uint16]*Session // keyed by remote (incoming) channel
	nextChannel uint16

	idleTimeout uint32 // milliseconds advertised on Open; 0 disables

	// handler is invoked once per accepted attach to resolve source/target
	// termini against the broker's node table. Nil in pure-engine tests.
	handler ConnHandler
}

// ConnHandler resolves link termini against broker state. A broker glue
// layer (spec §4.9) implements this; the engine itself has no notion of
// nodes.
type ConnHandler interface {
	ResolveSource(l *Link, remote *frames.Source) (Source, *frames.Source, error)
	ResolveTarget(l *Link, remote *frames.Target) (Target, *frames.Target, error)
	// Txn returns the shared transaction coordinator a non-Coordinator
	// receiving link consults to enlist transactionally-stated transfers
	// (spec §4.8). May return nil if the broker offers no coordinator.
	Txn() TxnResolver
}

// NewConn creates a connection engine. traceSpec is the space-separated
// AMQP_TRACE category list (spec §6); containerID is advertised on Open.
func NewConn(containerID string, handler ConnHandler, traceSpec string) *Conn {
	return NewConnWithLimits(containerID, handler, traceSpec, 0, 0)
}

// NewConnWithLimits is NewConn plus the CLI-configurable --max-frame-size
// and --idle-timeout overrides (spec §6); zero values keep the defaults.
func NewConnWithLimits(containerID string, handler ConnHandler, traceSpec string, maxFrameSize uint32, idleTimeout time.Duration) *Conn {
	localMax := defaultMaxFrameSize
	if maxFrameSize != 0 {
		localMax = maxFrameSize
	}
	c := &Conn{
		containerID:       containerID,
		state:             connStateInit,
		localMaxFrameSize: localMax,
		sessions:          make(map[uint16]*Session),
		byRemoteCh:        make(map[uint16]*Session),
		idleTimeout:       uint32(idleTimeout / time.Millisecond),
		handler:           handler,
	}
	c.disp = newDispatcher(protoIDAMQP, frames.FrameTypeAMQP, c, parseTraceSet(traceSpec))
	return c
}

// Write feeds bytes read from the socket into the engine.
func (c *Conn) Write(b []byte) error {
	if err := c.disp.write(b); err != nil {
		c.fail(err)
		return err
	}
	return c.err
}

// Pending returns bytes ready to be written to the socket. Callers should
// call Tick first if they want pending work flushed.
func (c *Conn) Pending() []byte {
	return c.disp.pending()
}

// Open sends the local Open performative, starting the handshake.
func (c *Conn) Open() error {
	if c.state != connStateInit && c.state != connStateOpenRcvd {
		return newConnectionError(ErrCondIllegalState, "double open")
	}
	err := c.disp.postFrame(0, &frames.PerformOpen{
		ContainerID:  c.containerID,
		MaxFrameSize: c.localMaxFrameSize,
		ChannelMax:   defaultChannelMax,
		IdleTimeout:  encoding.Milliseconds(c.idleTimeout),
	})
	if err != nil {
		return err
	}
	if c.state == connStateOpenRcvd {
		c.state = connStateOpened
	} else {
		c.state = connStateOpenSent
	}
	return nil
}

// Close sends the local Close performative.
func (c *Conn) Close(err *Error) error {
	switch c.state {
	case connStateCloseSent, connStateClosed:
		return nil
	}
	if e := c.disp.postFrame(0, &frames.PerformClose{Error: err}); e != nil {
		return e
	}
	if c.state == connStateCloseRcvd {
		c.state = connStateClosed
	} else {
		c.state = connStateCloseSent
	}
	return nil
}

// dispatch implements frameSink: Open/Close are handled here on channel 0,
// Begin/End on any channel create/tear-down a session, everything else is
// forwarded to the owning session.
func (c *Conn) dispatch(channel uint16, body frames.FrameBody) error {
	switch b := body.(type) {
	case *frames.PerformOpen:
		return c.handleOpen(b)
	case *frames.PerformClose:
		return c.handleClose(b)
	case *frames.PerformBegin:
		return c.handleBegin(channel, b)
	default:
		s, ok := c.byRemoteCh[channel]
		if !ok {
			return newConnectionError(ErrCondNotAllowed, "frame on unknown channel %d", channel)
		}
		err := s.dispatch(body)
		var se *SessionError
		if errors.As(err, &se) {
			// Fatal only to this session (spec §7): end it rather than
			// letting the error propagate up as connection-fatal.
			delete(c.byRemoteCh, channel)
			delete(c.sessions, s.channel)
			return s.End(se.asWireError())
		}
		return err
	}
}

func (c *Conn) handleOpen(o *frames.PerformOpen) error {
	if c.state != connStateInit && c.state != connStateOpenSent {
		return c.fatal(newConnectionError(ErrCondIllegalState, "double open"))
	}
	c.remoteContainerID = o.ContainerID
	c.remoteMaxFrameSize = o.MaxFrameSize
	c.maxFrameSize = c.localMaxFrameSize
	if c.remoteMaxFrameSize < c.maxFrameSize {
		c.maxFrameSize = c.remoteMaxFrameSize
	}
	if c.state == connStateOpenSent {
		c.state = connStateOpened
		return nil
	}
	c.state = connStateOpenRcvd
	// Server-side behavior: reply immediately rather than waiting for a
	// caller to notice Open-rcvd and call Open() itself.
	return c.Open()
}

func (c *Conn) handleClose(cl *frames.PerformClose) error {
	if cl.Error != nil {
		debug.Log(context.Background(), slog.LevelWarn, "amqp: peer closed with error",
			"condition", cl.Error.Condition, "description", cl.Error.Description)
	}
	switch c.state {
	case connStateCloseSent:
		c.state = connStateClosed
		return nil
	default:
		c.state = connStateCloseRcvd
		return c.Close(nil)
	}
}

func (c *Conn) handleBegin(channel uint16, b *frames.PerformBegin) error {
	if _, exists := c.byRemoteCh[channel]; exists {
		return c.fatal(newConnectionError(ErrCondIllegalState, "double begin on channel %d", channel))
	}
	var s *Session
	if b.RemoteChannel != nil {
		// reply to a locally-initiated Begin
		var ok bool
		s, ok = c.sessions[*b.RemoteChannel]
		if !ok {
			return c.fatal(newConnectionError(ErrCondNotAllowed, "begin reply references unknown channel %d", *b.RemoteChannel))
		}
	} else {
		s = newSession(c, c.nextChannel, c.handler)
		c.sessions[c.nextChannel] = s
		c.nextChannel++
	}
	c.byRemoteCh[channel] = s
	return s.handleBegin(channel, b)
}

// BeginSession creates and begins a new locally-initiated session.
func (c *Conn) BeginSession() *Session {
	s := newSession(c, c.nextChannel, c.handler)
	c.sessions[c.nextChannel] = s
	c.nextChannel++
	s.sendBegin()
	return s
}

// postFrame lets sessions/links emit frames through the connection's wire.
func (c *Conn) postFrame(channel uint16, body frames.FrameBody) error {
	return c.disp.postFrame(channel, body)
}

// Tick drives spec §4.4's outer loop: each session ticks its links, then
// the connection drains each session's queued outbound frames.
func (c *Conn) Tick() error {
	if c.state == connStateClosed {
		return c.err
	}
	for _, s := range c.sessions {
		if err := s.tick(); err != nil {
			c.fail(err)
			return c.err
		}
	}
	return c.err
}

func (c *Conn) fatal(err error) error {
	c.fail(err)
	return err
}

// fail records the terminal error and, unless already past it, posts a
// Close carrying the error's wire representation.
func (c *Conn) fail(err error) {
	if c.err != nil || err == nil {
		return
	}
	c.err = err
	var wire *Error
	switch e := err.(type) {
	case *ConnectionError:
		wire = e.asWireError()
	default:
		wire = &Error{Condition: ErrCondInternalError, Description: err.Error()}
	}
	if c.state != connStateCloseSent && c.state != connStateClosed {
		_ = c.Close(wire)
	}
}

// Err returns the connection's terminal error, if any.
func (c *Conn) Err() error {
	return c.err
}
