package broker

import (
	"context"
	"io"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/rhs/amqp"
)

// Listener accepts connections and runs one protocol engine per socket.
// The accept loop and every per-connection goroutine are supervised by an
// errgroup so Close waits for all of them to unwind, rather than leaking a
// raw sync.WaitGroup (SPEC_FULL's DOMAIN STACK).
type Listener struct {
	broker *Broker
	ln     net.Listener
	trace  string

	group  *errgroup.Group
	cancel context.CancelFunc
}

// Listen binds addr and returns a Listener ready to Serve.
func Listen(addr string, b *Broker, trace string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{broker: b, ln: ln, trace: trace}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until ctx is cancelled or Close is called. It
// returns the first fatal accept error, or nil on clean shutdown.
func (l *Listener) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	l.group = g

	g.Go(func() error {
		<-gctx.Done()
		return l.ln.Close()
	})

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-gctx.Done():
				return l.group.Wait()
			default:
				return err
			}
		}
		g.Go(func() error {
			serveConn(gctx, conn, l.broker, l.trace)
			return nil
		})
	}
}

// Close stops accepting new connections and waits for in-flight engines
// to exit.
func (l *Listener) Close() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.group != nil {
		return l.group.Wait()
	}
	return l.ln.Close()
}

// serveConn drives one Conn engine end to end: read bytes, feed the
// engine, tick, flush pending output, until the socket or the engine
// closes. The engine itself never blocks (spec §5); this loop is the I/O
// boundary that supplies the suspension points.
func serveConn(ctx context.Context, conn net.Conn, b *Broker, trace string) {
	defer conn.Close()

	c := amqp.NewConnWithLimits(b.ContainerID, b, trace, b.MaxFrameSize, b.IdleTimeout)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := c.Write(buf[:n]); werr != nil {
				slog.Warn("amqp: connection engine error", "err", werr)
				flush(conn, c)
				return
			}
		}
		if ferr := c.Tick(); ferr != nil {
			flush(conn, c)
			return
		}
		flush(conn, c)
		if err != nil {
			if err != io.EOF {
				slog.Debug("amqp: connection read error", "err", err)
			}
			return
		}
		if c.Err() != nil {
			return
		}
	}
}

func flush(conn net.Conn, c *amqp.Conn) {
	if b := c.Pending(); len(b) > 0 {
		_, _ = conn.Write(b)
	}
}
