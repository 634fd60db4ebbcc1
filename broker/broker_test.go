package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rhs/amqp/internal/buffer"
	"github.com/rhs/amqp/internal/frames"

	"github.com/rhs/amqp"
	"github.com/rhs/amqp/internal/encoding"
)

// wireClient is a byte-level stand-in for a remote peer, mirroring the
// engine package's own test harness: it marshals frames directly against a
// real amqp.Conn driven by a Broker, exercising the full attach/transfer/
// disposition path without a second full engine.
type wireClient struct {
	t      *testing.T
	server *amqp.Conn
}

func newWireClient(t *testing.T, server *amqp.Conn) *wireClient {
	t.Helper()
	wc := &wireClient{t: t, server: server}
	require.NoError(t, server.Write([]byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}))
	wc.send(0, &frames.PerformOpen{ContainerID: "client", MaxFrameSize: 4096})
	wc.drain()
	return wc
}

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

func (wc *wireClient) drain() {
	_ = wc.server.Pending()
}

func (wc *wireClient) recv() []frames.Frame {
	wc.t.Helper()
	raw := wc.server.Pending()
	var out []frames.Frame
	for len(raw) > 0 {
		hdr, err := frames.ParseHeader(buffer.New(raw))
		require.NoError(wc.t, err)
		bodyLen := int(hdr.Size) - frames.HeaderSize
		body, err := frames.ParseBody(buffer.New(raw[frames.HeaderSize : frames.HeaderSize+bodyLen]))
		require.NoError(wc.t, err)
		raw = raw[hdr.Size:]
		out = append(out, frames.Frame{Header: hdr, Body: body})
	}
	return out
}

func (wc *wireClient) begin() {
	wc.send(0, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 1000, OutgoingWindow: 1000})
	wc.drain()
}

func TestResolveNodeCreatesDynamicQueueWithUniqueAddress(t *testing.T) {
	b := NewBroker("broker")
	b.RingQueueSize = 7

	n1, addr1, err := b.resolveNode("", true)
	require.NoError(t, err)
	n2, addr2, err := b.resolveNode("", true)
	require.NoError(t, err)

	require.NotEqual(t, addr1, addr2, "each dynamic node gets a unique address")
	require.Equal(t, 7, n1.Queue.Ring)
	require.Equal(t, 7, n2.Queue.Ring)
}

func TestResolveNodeRejectsUnknownStaticAddress(t *testing.T) {
	b := NewBroker("broker")
	_, _, err := b.resolveNode("no-such-queue", false)
	require.Error(t, err)
}

func TestResolveSourceReusesSameLinkNameAcrossSessions(t *testing.T) {
	b := NewBroker("broker")
	b.DeclareQueue("q", 0, 0)
	server := amqp.NewConn("broker", b, "")
	wc := newWireClient(t, server)

	wc.begin()
	wc.send(0, &frames.PerformAttach{Name: "resume", Handle: 10, Role: encoding.RoleReceiver, Source: &frames.Source{Address: "q"}})
	wc.drain()
	require.Len(t, b.sources, 1)

	// A second session attaching under the same link name (modeling a
	// reattach after a brief disconnect) must bind to the same source
	// rather than allocating a fresh one, per spec §4.9's key-survives-
	// resume contract.
	wc.send(1, &frames.PerformBegin{NextOutgoingID: 0, IncomingWindow: 1000, OutgoingWindow: 1000})
	wc.drain()
	wc.send(1, &frames.PerformAttach{Name: "resume", Handle: 11, Role: encoding.RoleReceiver, Source: &frames.Source{Address: "q"}})
	wc.drain()

	require.Len(t, b.sources, 1, "the same link name must reuse the existing source entry, not create a second")
}

func TestTxnReturnsSharedCoordinator(t *testing.T) {
	b := NewBroker("broker")
	require.NotNil(t, b.Txn())
	require.Same(t, b.coord, b.Txn())
}

func TestHelloWorldDeliveryEndToEnd(t *testing.T) {
	b := NewBroker("broker")
	b.DeclareQueue("q", 0, 0)

	// Producer and consumer are two independent connections sharing the
	// same broker and its node table, as two real client sockets would.
	senderConn := amqp.NewConn("broker", b, "")
	sender := newWireClient(t, senderConn)
	sender.begin()
	sender.send(0, &frames.PerformAttach{
		Name:   "producer",
		Handle: 1,
		Role:   encoding.RoleSender,
		Target: &frames.Target{Address: "q"},
	})
	sender.drain()

	deliveryID := uint32(0)
	sender.send(0, &frames.PerformTransfer{Handle: 1, DeliveryID: &deliveryID, Payload: []byte("hello")})
	require.NoError(t, senderConn.Tick())
	frames1 := sender.recv()
	var accepted bool
	for _, f := range frames1 {
		if d, ok := f.Body.(*frames.PerformDisposition); ok {
			require.True(t, d.Settled)
			require.IsType(t, &encoding.Accepted{}, d.State)
			accepted = true
		}
	}
	require.True(t, accepted, "the broker must settle the sender's transfer immediately once queued")

	receiverConn := amqp.NewConn("broker", b, "")
	receiver := newWireClient(t, receiverConn)
	receiver.begin()
	receiver.send(0, &frames.PerformAttach{
		Name:   "consumer",
		Handle: 2,
		Role:   encoding.RoleReceiver,
		Source: &frames.Source{Address: "q"},
	})
	receiver.drain()

	deliveryCount := uint32(0)
	linkCredit := uint32(5)
	handle := uint32(2)
	receiver.send(0, &frames.PerformFlow{Handle: &handle, DeliveryCount: &deliveryCount, LinkCredit: &linkCredit})
	receiver.drain()

	require.NoError(t, receiverConn.Tick())

	out := receiver.recv()
	var got *frames.PerformTransfer
	for _, f := range out {
		if tr, ok := f.Body.(*frames.PerformTransfer); ok {
			got = tr
		}
	}
	require.NotNil(t, got, "the queued hello message must reach the waiting receiver")
	require.Equal(t, []byte("hello"), got.Payload)
}

func TestRingQueueEvictsOldestUnderSustainedProduction(t *testing.T) {
	b := NewBroker("broker")
	b.DeclareQueue("ring", 3, 0)
	server := amqp.NewConn("broker", b, "")

	sender := newWireClient(t, server)
	sender.begin()
	sender.send(0, &frames.PerformAttach{Name: "producer", Handle: 1, Role: encoding.RoleSender, Target: &frames.Target{Address: "ring"}})
	sender.drain()

	for i := uint32(0); i < 10; i++ {
		id := i
		sender.send(0, &frames.PerformTransfer{Handle: 1, DeliveryID: &id, Payload: []byte{byte('0' + i)}})
		sender.drain()
	}

	node := b.nodes["ring"]
	require.Equal(t, 3, node.Queue.Len(), "a ring-limited queue never grows past its configured size")
	require.EqualValues(t, 7, node.Queue.Dropped())
}
