package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/rhs/amqp"
	"github.com/rhs/amqp/internal/frames"
)

// Node is an addressable destination a link can attach to — in this
// implementation, always a queue. Grounded on brokerlib.py's nodes table,
// which maps an address to an object exposing source()/target().
type Node struct {
	Address string
	Queue   *Queue
}

// Broker holds the node table and the per-link-name source/target
// registries of spec §4.9, plus the shared transaction coordinator.
// Grounded on brokerlib.py's Broker class; one Broker is shared by every
// accepted Conn.
type Broker struct {
	ContainerID string

	// RingQueueSize bounds newly auto-created queues' Ring policy
	// (SPEC_FULL's --ring-queue-size; zero disables ring eviction).
	RingQueueSize int

	// MaxFrameSize and IdleTimeout override the engine's defaults for
	// every accepted connection (SPEC_FULL's --max-frame-size and
	// --idle-timeout); zero keeps the engine's own default.
	MaxFrameSize uint32
	IdleTimeout  time.Duration

	mu      sync.Mutex
	nodes   map[string]*Node
	sources map[linkKey]*queueSource
	targets map[linkKey]*queueTarget
	coord   *TxnCoordinator
	dynSeq  int
}

// linkKey identifies a link by container-id and link name, so a reattach
// under the same name finds its earlier terminus (spec §4.9, "Lookup by
// key survives brief disconnect/resume"). The broker fills containerID with
// its own ContainerID, so same-named links on any connection share one
// entry.
type linkKey struct {
	containerID string
	linkName    string
}

// NewBroker creates an empty broker. DeclareQueue is called to pre-create a
// well-known node (e.g. from CLI flags); dynamic nodes are created lazily.
func NewBroker(containerID string) *Broker {
	return &Broker{
		ContainerID: containerID,
		nodes:       make(map[string]*Node),
		sources:     make(map[linkKey]*queueSource),
		targets:     make(map[linkKey]*queueTarget),
		coord:       NewTxnCoordinator(),
	}
}

// DeclareQueue registers a well-known, statically-addressed queue.
func (b *Broker) DeclareQueue(address string, ring, threshold int) *Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := NewQueue()
	q.Ring = ring
	q.Threshold = threshold
	n := &Node{Address: address, Queue: q}
	b.nodes[address] = n
	return n
}

// ResolveSource implements amqp.ConnHandler for a sending link: resolve the
// node the remote source names (or reuse one bound to this link name from
// a prior attach), per spec §4.9 step "Otherwise resolve remote-source...".
func (b *Broker) ResolveSource(l *amqp.Link, remote *frames.Source) (amqp.Source, *frames.Source, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := linkKey{containerID: b.ContainerID, linkName: l.Name()}
	if src, ok := b.sources[key]; ok {
		return src, remote, nil
	}
	if remote == nil {
		return nil, nil, errors.New("amqp: sender attach missing source")
	}
	node, reply, err := b.resolveNode(remote.Address, remote.Dynamic)
	if err != nil {
		return nil, nil, err
	}
	src := newQueueSource(node.Queue, true, true)
	b.sources[key] = src
	out := *remote
	out.Address = reply
	return src, &out, nil
}

// ResolveTarget implements amqp.ConnHandler for a receiving link. A
// Coordinator terminus always resolves to the shared transaction
// coordinator (spec §4.9).
func (b *Broker) ResolveTarget(l *amqp.Link, remote *frames.Target) (amqp.Target, *frames.Target, error) {
	if l.IsCoordinator() {
		return newTxnTarget(b.coord), remote, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := linkKey{containerID: b.ContainerID, linkName: l.Name()}
	if tgt, ok := b.targets[key]; ok {
		return tgt, remote, nil
	}
	if remote == nil {
		return nil, nil, errors.New("amqp: receiver attach missing target")
	}
	node, reply, err := b.resolveNode(remote.Address, remote.Dynamic)
	if err != nil {
		return nil, nil, err
	}
	tgt := newQueueTarget(node.Queue, true)
	b.targets[key] = tgt
	out := *remote
	out.Address = reply
	return tgt, &out, nil
}

// Txn implements amqp.ConnHandler, handing every non-Coordinator receiving
// link the broker's shared transaction coordinator.
func (b *Broker) Txn() amqp.TxnResolver {
	return b.coord
}

// resolveNode looks up address in the node table, or — if dynamic is set
// and no node matches a non-empty address — allocates a fresh
// "dynamic-N-<uuid>" queue (spec §4.9
// "Dynamic nodes"), using a uuid suffix so addresses stay unique across
// broker restarts rather than a plain incrementing counter.
func (b *Broker) resolveNode(address string, dynamic bool) (*Node, string, error) {
	if n, ok := b.nodes[address]; ok && address != "" {
		return n, address, nil
	}
	if dynamic {
		b.dynSeq++
		addr := fmt.Sprintf("dynamic-%d-%s", b.dynSeq, uuid.NewString())
		q := NewQueue()
		q.Ring = b.RingQueueSize
		n := &Node{Address: addr, Queue: q}
		b.nodes[addr] = n
		return n, addr, nil
	}
	return nil, "", fmt.Errorf("amqp: no such node %q", address)
}
