package amqp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhs/amqp/internal/buffer"
	"github.com/rhs/amqp/internal/encoding"
	"github.com/rhs/amqp/internal/frames"
)

// pump exchanges pending bytes between two engines until neither side has
// anything queued, standing in for the socket read/write loop a real
// Listener supplies. Used for the Open/Begin exchanges, which correlate
// correctly regardless of which side initiated.
func pump(t *testing.T, a, b *Conn) {
	t.Helper()
	for i := 0; i < 50; i++ {
		pa, pb := a.Pending(), b.Pending()
		if len(pa) == 0 && len(pb) == 0 {
			return
		}
		if len(pa) > 0 {
			require.NoError(t, b.Write(pa))
		}
		if len(pb) > 0 {
			require.NoError(t, a.Write(pb))
		}
	}
	t.Fatal("pump: engines never quiesced")
}

// fakeTarget is a minimal in-memory Target for driving attach/transfer
// tests without pulling in the broker package's queue machinery.
type fakeTarget struct {
	capacity int
	puts     []Delivery
	settled  map[string]encoding.DeliveryState
	orphaned bool
}

func newFakeTarget(capacity int) *fakeTarget {
	return &fakeTarget{capacity: capacity, settled: make(map[string]encoding.DeliveryState)}
}

func (f *fakeTarget) Capacity() int { return f.capacity }
func (f *fakeTarget) Put(tag []byte, d Delivery, owner interface{}) error {
	f.puts = append(f.puts, d)
	return nil
}
func (f *fakeTarget) Resume(map[string]encoding.DeliveryState) {}
func (f *fakeTarget) Settle(tag []byte, state encoding.DeliveryState) {
	f.settled[string(tag)] = state
}
func (f *fakeTarget) Close()        {}
func (f *fakeTarget) Durable() bool { return false }
func (f *fakeTarget) Orphaned()     { f.orphaned = true }

// fakeSource is a minimal in-memory Source backed by a plain slice of
// payloads, handed out in order.
type fakeSource struct {
	items [][]byte
	pos   int
}

func newFakeSource(items ...string) *fakeSource {
	s := &fakeSource{}
	for _, it := range items {
		s.items = append(s.items, []byte(it))
	}
	return s
}

func (f *fakeSource) Get() (tag []byte, d Delivery, ok bool) {
	if f.pos >= len(f.items) {
		return nil, Delivery{}, false
	}
	payload := f.items[f.pos]
	tag = []byte{byte('a' + f.pos)}
	f.pos++
	return tag, Delivery{Tag: tag, Payload: payload}, true
}
func (f *fakeSource) Resume(map[string]encoding.DeliveryState)        {}
func (f *fakeSource) Settle(tag []byte, state encoding.DeliveryState) {}
func (f *fakeSource) Close()                                         {}

// fakeHandler is a ConnHandler that resolves every attach against whatever
// termini the test wired up, optionally forcing a resolution failure to
// exercise the link-rejection path.
type fakeHandler struct {
	source Source
	target Target
	txn    TxnResolver
	srcErr error
	tgtErr error
}

func (h *fakeHandler) ResolveSource(l *Link, remote *frames.Source) (Source, *frames.Source, error) {
	if h.srcErr != nil {
		return nil, nil, h.srcErr
	}
	return h.source, remote, nil
}

func (h *fakeHandler) ResolveTarget(l *Link, remote *frames.Target) (Target, *frames.Target, error) {
	if h.tgtErr != nil {
		return nil, nil, h.tgtErr
	}
	return h.target, remote, nil
}

func (h *fakeHandler) Txn() TxnResolver { return h.txn }

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

// wireClient is a byte-level stand-in for a remote peer: it marshals
// frames directly rather than running a second Conn, since the shipped
// broker only ever answers remote-initiated Begin/Attach/Transfer frames
// and never originates its own — exactly the path these tests exercise.
type wireClient struct {
	t      *testing.T
	server *Conn
}

func newWireClient(t *testing.T, server *Conn) *wireClient {
	t.Helper()
	wc := &wireClient{t: t, server: server}
	require.NoError(t, server.Write([]byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}))
	wc.send(0, &frames.PerformOpen{ContainerID: "client"})
	wc.drainServer()
	return wc
}

// send marshals and feeds one frame to the server on the given channel.
func (wc *wireClient) send(channel uint16, body frames.FrameBody) {
	wc.t.Helper()
	payload := buffer.New(nil)
	require.NoError(wc.t, body.Marshal(payload))
	hdr := frames.Header{
		Size:       uint32(frames.HeaderSize) + uint32(payload.Len()),
		DataOffset: 2,
		FrameType:  frames.FrameTypeAMQP,
		Channel:    channel,
	}
	out := buffer.New(nil)
	require.NoError(wc.t, hdr.Marshal(out))
	out.Append(payload.Bytes())
	require.NoError(wc.t, wc.server.Write(out.Bytes()))
}

// drainServer discards whatever the server queued in reply; tests assert
// on the server's internal state directly rather than decoding replies.
func (wc *wireClient) drainServer() {
	_ = wc.server.Pending()
}

// recvFrames pulls whatever the server queued in reply and decodes it into
// individual frames, for tests that need to inspect the wire-level output
// itself (fragmentation boundaries, disposition ranges) rather than just the
// server's internal state.
func (wc *wireClient) recvFrames() []frames.Frame {
	wc.t.Helper()
	return parseFrames(wc.t, wc.server.Pending())
}

func parseFrames(t *testing.T, raw []byte) []frames.Frame {
	t.Helper()
	var out []frames.Frame
	for len(raw) > 0 {
		hdr, err := frames.ParseHeader(buffer.New(raw))
		require.NoError(t, err)
		bodyLen := int(hdr.Size) - frames.HeaderSize
		bodyBytes := raw[frames.HeaderSize : frames.HeaderSize+bodyLen]
		raw = raw[hdr.Size:]
		body, err := frames.ParseBody(buffer.New(bodyBytes))
		require.NoError(t, err)
		out = append(out, frames.Frame{Header: hdr, Body: body})
	}
	return out
}

func TestConnOpenHandshake(t *testing.T) {
	client := NewConn("client", nil, "")
	server := NewConn("broker", &fakeHandler{}, "")
	require.NoError(t, client.Open())
	pump(t, client, server)
	require.Equal(t, connStateOpened, client.state)
	require.Equal(t, connStateOpened, server.state)
	require.Equal(t, "broker", client.remoteContainerID)
	require.Equal(t, "client", server.remoteContainerID)
}

func TestSessionBeginHandshake(t *testing.T) {
	client := NewConn("client", nil, "")
	server := NewConn("broker", &fakeHandler{}, "")
	require.NoError(t, client.Open())
	pump(t, client, server)

	cs := client.BeginSession()
	pump(t, client, server)
	require.Equal(t, sessionStateMapped, cs.state)
	require.Len(t, server.sessions, 1)
}

func serverSessionOf(t *testing.T, server *Conn) *Session {
	t.Helper()
	for _, s := range server.sessions {
		return s
	}
	t.Fatal("server has no session")
	return nil
}

func TestAttachReceiverResolvesSourceAndSenderLinkPullsFromIt(t *testing.T) {
	src := newFakeSource("m1")
	server := NewConn("broker", &fakeHandler{source: src}, "")
	wc := newWireClient(t, server)
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 100, OutgoingWindow: 100})
	wc.drainServer()

	// Client attaches as receiver against source "q"; per the AMQP
	// convention the attaching side fills its own Source when declaring
	// itself the receiver, so the broker's link must play sender and pull
	// from the resolved queue source.
	wc.send(0, &frames.PerformAttach{
		Name:   "link-1",
		Handle: 7,
		Role:   encoding.RoleReceiver,
		Source: &frames.Source{Address: "q"},
	})
	wc.drainServer()

	s := serverSessionOf(t, server)
	l, ok := s.linksByRem[7]
	require.True(t, ok)
	require.Equal(t, encoding.RoleSender, l.role, "broker plays sender opposite a receiving client")
	require.Equal(t, linkStateAttached, l.state)
	require.Same(t, src, l.source.(*fakeSource))
	require.Zero(t, l.linkCredit, "broker must not send until the receiver grants credit")

	// Receiver side of a real client issues its initial Flow after attach;
	// our wire stand-in does that explicitly here.
	deliveryCount := uint32(0)
	linkCredit := uint32(5)
	wc.send(0, &frames.PerformFlow{Handle: &[]uint32{7}[0], DeliveryCount: &deliveryCount, LinkCredit: &linkCredit})
	wc.drainServer()
	require.EqualValues(t, 5, l.linkCredit)

	require.NoError(t, s.tick())
	require.Equal(t, 1, src.pos, "tick must pull the queued delivery out of the source")
	require.Len(t, l.unsettled, 1, "the pulled delivery is now outstanding, awaiting the client's disposition")
}

func TestAttachSenderResolvesTargetAndTransferDefaultsTag(t *testing.T) {
	tgt := newFakeTarget(10)
	server := NewConn("broker", &fakeHandler{target: tgt}, "")
	wc := newWireClient(t, server)
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 100, OutgoingWindow: 100})
	wc.drainServer()

	wc.send(0, &frames.PerformAttach{
		Name:   "link-2",
		Handle: 3,
		Role:   encoding.RoleSender,
		Target: &frames.Target{Address: "q"},
	})
	wc.drainServer()

	s := serverSessionOf(t, server)
	l, ok := s.linksByRem[3]
	require.True(t, ok)
	require.Equal(t, encoding.RoleReceiver, l.role, "broker plays receiver opposite a sending client")
	require.Same(t, tgt, l.target.(*fakeTarget))

	deliveryID := uint32(0)
	wc.send(0, &frames.PerformTransfer{
		Handle:     3,
		DeliveryID: &deliveryID,
		Payload:    []byte("m1"),
	})
	wc.drainServer()

	require.Len(t, tgt.puts, 1)
	require.Equal(t, []byte("m1"), tgt.puts[0].Payload)
	require.Equal(t, "0", string(tgt.puts[0].Tag), "an empty delivery-tag defaults to the stringified delivery-count")
}

func TestReceiverCreditDepletesAndRefills(t *testing.T) {
	tgt := newFakeTarget(100)
	server := NewConn("broker", &fakeHandler{target: tgt}, "")
	wc := newWireClient(t, server)
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 1000, OutgoingWindow: 1000})
	wc.drainServer()
	wc.send(0, &frames.PerformAttach{Name: "l", Handle: 1, Role: encoding.RoleSender, Target: &frames.Target{Address: "q"}})
	wc.drainServer()

	s := serverSessionOf(t, server)
	l := s.linksByRem[1]
	require.Equal(t, defaultInitialCredit, l.linkCredit)

	// Bring credit down to one above the low-water mark without crossing
	// it; no refill should have fired yet.
	upTo := defaultInitialCredit - defaultLowWaterRefill - 1
	for i := uint32(0); i < upTo; i++ {
		id := i
		wc.send(0, &frames.PerformTransfer{Handle: 1, DeliveryID: &id, DeliveryTag: []byte{byte(i)}, Payload: []byte("x")})
	}
	wc.drainServer()
	require.Equal(t, defaultLowWaterRefill+1, l.linkCredit, "credit should sit one above the low-water mark")

	// The next delivery crosses the mark; maybeRefillCredit must top the
	// window back up to the initial grant in the same call.
	lastID := upTo
	wc.send(0, &frames.PerformTransfer{Handle: 1, DeliveryID: &lastID, DeliveryTag: []byte{byte(lastID)}, Payload: []byte("x")})
	wc.drainServer()
	require.Equal(t, defaultInitialCredit, l.linkCredit, "crossing the low-water mark must refill to the initial window")
}

func TestDoubleAttachOnSameHandleIsSessionFatalNotConnectionFatal(t *testing.T) {
	tgt := newFakeTarget(10)
	server := NewConn("broker", &fakeHandler{target: tgt}, "")
	wc := newWireClient(t, server)
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 100, OutgoingWindow: 100})
	wc.drainServer()
	wc.send(0, &frames.PerformAttach{Name: "dup", Handle: 9, Role: encoding.RoleSender, Target: &frames.Target{Address: "q"}})
	wc.drainServer()
	require.Nil(t, server.Err())

	// Re-attaching the same handle without a detach must end only the
	// session, never the whole connection (spec §7).
	wc.send(0, &frames.PerformAttach{Name: "dup", Handle: 9, Role: encoding.RoleSender, Target: &frames.Target{Address: "q"}})
	wc.drainServer()

	require.Nil(t, server.Err(), "a session-scoped error must not fail the whole connection")
	require.Empty(t, server.sessions, "the offending session should have been ended")
}

func TestRejectedAttachDetachesOnlyThatLinkNotTheSession(t *testing.T) {
	server := NewConn("broker", &fakeHandler{tgtErr: fakeErr("no such target")}, "")
	wc := newWireClient(t, server)
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 100, OutgoingWindow: 100})
	wc.drainServer()

	wc.send(0, &frames.PerformAttach{Name: "bad", Handle: 5, Role: encoding.RoleSender, Target: &frames.Target{Address: "missing"}})
	wc.drainServer()

	require.Nil(t, server.Err())
	s := serverSessionOf(t, server)
	require.Equal(t, sessionStateMapped, s.state, "the session survives a single link's rejected attach")
	require.NotContains(t, s.linksByRem, uint32(5))
}

func TestSendFragmentsAcrossMaxFrameSize(t *testing.T) {
	big := make([]byte, 100)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	src := &fakeSource{items: [][]byte{big}}
	server := NewConnWithLimits("broker", &fakeHandler{source: src}, "", 100, 0)

	wc := &wireClient{t: t, server: server}
	require.NoError(t, server.Write([]byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}))
	wc.send(0, &frames.PerformOpen{ContainerID: "client", MaxFrameSize: 4096})
	wc.drainServer()
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 100, OutgoingWindow: 100})
	wc.drainServer()
	wc.send(0, &frames.PerformAttach{Name: "big", Handle: 1, Role: encoding.RoleReceiver, Source: &frames.Source{Address: "q"}})
	wc.drainServer()

	s := serverSessionOf(t, server)
	l := s.linksByRem[1]
	require.EqualValues(t, 100, server.maxFrameSize, "negotiated max-frame-size is the smaller of the two advertised")

	deliveryCount := uint32(0)
	linkCredit := uint32(5)
	wc.send(0, &frames.PerformFlow{Handle: &[]uint32{1}[0], DeliveryCount: &deliveryCount, LinkCredit: &linkCredit})
	wc.drainServer()

	require.NoError(t, s.tick())
	fs := wc.recvFrames()

	var transfers []*frames.PerformTransfer
	for _, f := range fs {
		if tr, ok := f.Body.(*frames.PerformTransfer); ok {
			transfers = append(transfers, tr)
		}
	}
	require.Greater(t, len(transfers), 1, "a 100 byte payload must not fit in a single max-100 byte frame")

	var reassembled []byte
	for i, tr := range transfers {
		reassembled = append(reassembled, tr.Payload...)
		if i == 0 {
			require.NotNil(t, tr.DeliveryID, "only the first transfer of a delivery carries the delivery-id")
		} else {
			require.Nil(t, tr.DeliveryID)
		}
		require.Equal(t, transfers[0].DeliveryTag, tr.DeliveryTag, "every fragment of one delivery shares its tag")
		if i < len(transfers)-1 {
			require.True(t, tr.More, "every fragment but the last sets more=true")
		} else {
			require.False(t, tr.More, "the final fragment sets more=false")
		}
	}
	require.Equal(t, big, reassembled)
	require.Len(t, l.unsettled, 1, "the fragmented delivery is one outstanding unsettled entry, not one per fragment")
}

func TestOutgoingWindowStopsSenderPullOnceExhausted(t *testing.T) {
	src := &fakeSource{items: [][]byte{[]byte("m1"), []byte("m2"), []byte("m3")}}
	server := NewConn("broker", &fakeHandler{source: src}, "")
	wc := newWireClient(t, server)

	// IncomingWindow: 1 caps the peer's advertised room for our outgoing
	// transfers at one in flight, regardless of how much link-credit the
	// receiver grants.
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 1, OutgoingWindow: 100})
	wc.drainServer()
	wc.send(0, &frames.PerformAttach{Name: "windowed", Handle: 1, Role: encoding.RoleReceiver, Source: &frames.Source{Address: "q"}})
	wc.drainServer()

	s := serverSessionOf(t, server)
	l := s.linksByRem[1]
	require.EqualValues(t, 1, s.outgoingWindow())

	deliveryCount := uint32(0)
	linkCredit := uint32(5)
	wc.send(0, &frames.PerformFlow{Handle: &[]uint32{1}[0], DeliveryCount: &deliveryCount, LinkCredit: &linkCredit})
	wc.drainServer()

	require.NoError(t, s.tick())
	require.Equal(t, 1, src.pos, "the session's outgoing window caps pulls at one, even with ample link-credit")
	require.EqualValues(t, 0, s.outgoingWindow())
	require.EqualValues(t, 4, l.linkCredit, "credit granted but unused by the stalled pull is untouched")

	// A Flow advancing the peer's next-incoming-id and window reopens room
	// to send, and the stalled pull resumes.
	nextIncomingID := uint32(1)
	wc.send(0, &frames.PerformFlow{NextIncomingID: &nextIncomingID, IncomingWindow: 1, OutgoingWindow: 100})
	wc.drainServer()
	require.EqualValues(t, 1, s.outgoingWindow())

	require.NoError(t, s.tick())
	require.Equal(t, 2, src.pos, "reopening the window lets the next queued message go out")
}

func TestLocalAttachAdvertisesUnsettledAndFoldsPeerResumeMarkers(t *testing.T) {
	server := NewConn("broker", &fakeHandler{source: newFakeSource()}, "")
	wc := newWireClient(t, server)
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 100, OutgoingWindow: 100})
	wc.drainServer()

	s := serverSessionOf(t, server)

	// This side attaches locally as a sender, with one delivery already
	// outstanding from before this link existed (e.g. survived from a link
	// this one replaces) — exactly what Unsettled exists to advertise.
	l := newLink(s, "resume-me", encoding.RoleSender)
	l.handle = s.nextHandle
	s.nextHandle++
	s.links[l.handle] = l
	l.unsettled["tag-1"] = &unsettledEntry{id: 5, local: &encoding.Accepted{}}

	require.NoError(t, l.Attach(nil, &frames.Target{Address: "q"}))
	require.Equal(t, linkStateAttachSent, l.state)

	fs := wc.recvFrames()
	var sent *frames.PerformAttach
	for _, f := range fs {
		if a, ok := f.Body.(*frames.PerformAttach); ok {
			sent = a
		}
	}
	require.NotNil(t, sent)
	require.Contains(t, sent.Unsettled, "tag-1", "this side advertises its own surviving unsettled tag on attach")

	// The peer's reply, correlated by link name (spec §4.6 scenario 6),
	// reports the same tag as still unsettled on its own side too.
	wc.send(0, &frames.PerformAttach{
		Name:      "resume-me",
		Handle:    42,
		Role:      encoding.RoleReceiver,
		Source:    &frames.Source{Address: "q"},
		Unsettled: map[string]encoding.DeliveryState{"tag-1": &encoding.Accepted{}},
	})
	wc.drainServer()

	require.Same(t, l, s.linksByRem[42], "the reply is correlated to the pending link by name, not minted fresh")
	require.True(t, l.unsettled["tag-1"].resumed, "a tag the peer also reports unsettled is folded in as resumed")
}

func TestSenderSettlesOnDispositionAndClearsUnsettled(t *testing.T) {
	tgt := newFakeTarget(10)
	server := NewConn("broker", &fakeHandler{target: tgt}, "")
	wc := newWireClient(t, server)
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 100, OutgoingWindow: 100})
	wc.drainServer()
	wc.send(0, &frames.PerformAttach{Name: "l", Handle: 1, Role: encoding.RoleSender, Target: &frames.Target{Address: "q"}})
	wc.drainServer()

	s := serverSessionOf(t, server)
	l := s.linksByRem[1]

	deliveryID := uint32(0)
	wc.send(0, &frames.PerformTransfer{Handle: 1, DeliveryID: &deliveryID, Payload: []byte("hello")})
	wc.drainServer()

	// handleTransfer's default settlement policy already accepted and
	// settled locally, so this receiving link's entry is gone with no
	// disposition from the remote; the second connection below covers the
	// sending side, where the remote's settling disposition clears it.
	require.Empty(t, l.unsettled, "mixed settle-mode already cleared this side's own unsettled entry")

	server2 := NewConn("broker", &fakeHandler{source: newFakeSource("payload")}, "")
	wc2 := newWireClient(t, server2)
	wc2.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 100, OutgoingWindow: 100})
	wc2.drainServer()
	wc2.send(0, &frames.PerformAttach{Name: "l2", Handle: 2, Role: encoding.RoleReceiver, Source: &frames.Source{Address: "q"}})
	wc2.drainServer()

	s2 := serverSessionOf(t, server2)
	l2 := s2.linksByRem[2]
	deliveryCount := uint32(0)
	linkCredit := uint32(5)
	wc2.send(0, &frames.PerformFlow{Handle: &[]uint32{2}[0], DeliveryCount: &deliveryCount, LinkCredit: &linkCredit})
	wc2.drainServer()
	require.NoError(t, s2.tick())
	require.Len(t, l2.unsettled, 1, "the broker's sending link has an outstanding delivery awaiting the client's disposition")

	var sentID uint32
	for id := range l2.idToTag {
		sentID = id
	}
	wc2.send(0, &frames.PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   sentID,
		Settled: true,
		State:   &encoding.Accepted{},
	})
	wc2.drainServer()

	require.Empty(t, l2.unsettled, "the client's settling disposition must clear the sender's unsettled entry")
}
