// Command amqp-broker runs a standalone AMQP 1.0 broker: it accepts
// connections, resolves sender/receiver links against an in-memory queue
// table, and supports transaction semantics via the coordinator
// terminus (spec §6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhs/amqp/broker"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	host          string
	port          int
	auth          string
	mechanisms    []string
	passwordsFile string
	maxFrameSize  uint32
	idleTimeout   time.Duration
	trace         string
	ringQueueSize int
	queues        []string
	containerID   string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "amqp-broker",
		Short: "Run an AMQP 1.0 message broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.host, "host", "0.0.0.0", "address to bind")
	flags.IntVar(&f.port, "port", 5672, "port to listen on")
	flags.StringVar(&f.auth, "auth", "anonymous", "SASL auth mode (anonymous, plain)")
	flags.StringSliceVar(&f.mechanisms, "mechanisms", []string{"ANONYMOUS"}, "advertised SASL mechanisms")
	flags.StringVar(&f.passwordsFile, "passwords-file", "", "path to a PLAIN credentials file (user:password per line)")
	flags.Uint32Var(&f.maxFrameSize, "max-frame-size", 0, "locally imposed max-frame-size (0 = unlimited)")
	flags.DurationVar(&f.idleTimeout, "idle-timeout", 0, "idle timeout advertised on Open (0 = disabled)")
	flags.StringVar(&f.trace, "trace", os.Getenv("AMQP_TRACE"), "space-separated AMQP_TRACE categories (raw frm ops err)")
	flags.IntVar(&f.ringQueueSize, "ring-queue-size", 0, "ring-eviction limit for dynamically created and --queue pre-declared queues (0 = unbounded)")
	flags.StringSliceVar(&f.queues, "queue", nil, "pre-declare a well-known queue address (repeatable)")
	flags.StringVar(&f.containerID, "container-id", "amqp-broker", "container-id advertised on Open")

	return cmd
}

// SASL itself is treated as an opaque pre-handshake the engine never
// implements (spec §1); these flags are accepted and logged so a deployment
// can record what a front-end SASL proxy was configured with, but
// --auth=plain without --passwords-file is rejected early rather than
// silently accepting unauthenticated connections under a misleading flag.
func validateAuth(f *rootFlags) error {
	if f.auth == "plain" && f.passwordsFile == "" {
		return fmt.Errorf("amqp-broker: --auth=plain requires --passwords-file")
	}
	return nil
}

func run(ctx context.Context, f *rootFlags) error {
	if err := validateAuth(f); err != nil {
		return err
	}
	slog.Info("amqp-broker: auth configured", "mode", f.auth, "mechanisms", f.mechanisms)

	b := broker.NewBroker(f.containerID)
	b.RingQueueSize = f.ringQueueSize
	b.MaxFrameSize = f.maxFrameSize
	b.IdleTimeout = f.idleTimeout
	for _, addr := range f.queues {
		b.DeclareQueue(addr, f.ringQueueSize, 0)
	}

	addr := fmt.Sprintf("%s:%d", f.host, f.port)
	ln, err := broker.Listen(addr, b, f.trace)
	if err != nil {
		return fmt.Errorf("amqp-broker: listen %s: %w", addr, err)
	}
	slog.Info("amqp-broker: listening", "addr", ln.Addr().String(), "container-id", f.containerID)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- ln.Serve(ctx) }()

	select {
	case <-ctx.Done():
		slog.Info("amqp-broker: shutting down")
		return ln.Close()
	case err := <-errc:
		return err
	}
}
