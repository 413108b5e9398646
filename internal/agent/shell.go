// Package agent holds the runtime shell every agent is built on, and the
// monitor and incentives agents themselves.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/bus"
	"github.com/dayuer/agentbus/internal/mcp"
)

// Requester is the slice of the protocol client the agents depend on.
type Requester interface {
	Request(ctx context.Context, payload mcp.Request, timeout time.Duration) (mcp.Response, error)
}

// Shell binds an agent name to its mailbox on the bus.
type Shell struct {
	name string
	bus  *bus.Bus
	log  zerolog.Logger
}

// ShellOption configures a Shell.
type ShellOption func(*Shell)

// WithShellLogger sets the logger; the agent name is added to every entry.
func WithShellLogger(log zerolog.Logger) ShellOption {
	return func(s *Shell) { s.log = log }
}

// NewShell registers name's mailbox before returning, so the agent can be
// addressed as soon as the shell exists.
func NewShell(name string, b *bus.Bus, opts ...ShellOption) *Shell {
	s := &Shell{name: name, bus: b, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("agent", name).Logger()
	b.Register(name)
	return s
}

// Name returns the agent's mailbox name.
func (s *Shell) Name() string { return s.name }

// Logger returns the agent-scoped logger.
func (s *Shell) Logger() zerolog.Logger { return s.log }

// Send delivers env through the bus.
func (s *Shell) Send(env bus.Envelope) error {
	return s.bus.Send(env)
}

// Receive waits up to timeout for the next envelope addressed to this agent.
func (s *Shell) Receive(ctx context.Context, timeout time.Duration) (bus.Envelope, bool, error) {
	return s.bus.Recv(ctx, s.name, timeout)
}

// Envelope builds an envelope from this agent.
func (s *Shell) Envelope(to, msgType string, payload any) bus.Envelope {
	return bus.NewEnvelope(s.name, to, msgType, payload)
}

// Runner is an agent with a blocking main loop.
type Runner interface {
	Name() string
	Run(ctx context.Context) error
}

// RunAll runs every runner on its own goroutine. When any runner returns,
// the others are cancelled; RunAll waits for all of them and joins their
// errors, ignoring cancellation.
func RunAll(ctx context.Context, runners ...Runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, r := range runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			defer cancel()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				errs = append(errs, &RunError{Agent: r.Name(), Err: err})
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// RunError attributes a runner failure to its agent.
type RunError struct {
	Agent string
	Err   error
}

func (e *RunError) Error() string { return "agent " + e.Agent + ": " + e.Err.Error() }

func (e *RunError) Unwrap() error { return e.Err }
