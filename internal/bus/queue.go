package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/logging"
	"github.com/dayuer/agentbus/internal/metrics"
)

var (
	// ErrRecipientNotFound is returned by Send when the envelope's To name
	// has no registered mailbox.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrUnknownRecipient is returned by Recv for a name that was never registered.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrMailboxFull is returned by Send when a bounded mailbox is at capacity.
	ErrMailboxFull = errors.New("mailbox full")
)

// Bus routes envelopes to named mailboxes. Every agent owns exactly one
// mailbox, created by Register.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox

	subMu       sync.RWMutex
	subscribers []func(Envelope)

	capacity int
	log      zerolog.Logger

	sent     atomic.Int64
	rejected atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity bounds every mailbox to n pending envelopes. Zero (the
// default) leaves mailboxes unbounded.
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Bus) {
		b.log = logging.Component(log, "bus")
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		mailboxes: make(map[string]*mailbox),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register creates the mailbox for name. Registering a name twice is a
// no-op and keeps any envelopes already queued.
func (b *Bus) Register(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.mailboxes[name]; ok {
		return
	}
	b.mailboxes[name] = newMailbox(b.capacity)
	b.log.Debug().Str("name", name).Msg("mailbox registered")
}

// Registered reports whether name has a mailbox.
func (b *Bus) Registered(name string) bool {
	return b.lookup(name) != nil
}

// Send appends env to the recipient's mailbox and wakes one waiting
// receiver. It never blocks.
func (b *Bus) Send(env Envelope) error {
	mb := b.lookup(env.To)
	if mb == nil {
		b.rejected.Add(1)
		metrics.EnvelopesRejected.WithLabelValues("recipient_not_found").Inc()
		return fmt.Errorf("send %s from %q: %w: %q", env.Type, env.From, ErrRecipientNotFound, env.To)
	}
	if err := mb.push(env); err != nil {
		b.rejected.Add(1)
		metrics.EnvelopesRejected.WithLabelValues("mailbox_full").Inc()
		b.log.Warn().Str("to", env.To).Str("type", env.Type).Int("capacity", b.capacity).Msg("mailbox full, envelope rejected")
		return fmt.Errorf("send %s to %q: %w", env.Type, env.To, err)
	}

	b.sent.Add(1)
	metrics.EnvelopesSent.WithLabelValues(env.Type).Inc()

	b.subMu.RLock()
	subs := b.subscribers
	b.subMu.RUnlock()
	for _, fn := range subs {
		fn(env)
	}
	return nil
}

// Recv returns the oldest envelope in name's mailbox, waiting up to
// timeout for one to arrive. ok is false when the timeout elapses with
// nothing delivered. A non-positive timeout polls once without waiting.
func (b *Bus) Recv(ctx context.Context, name string, timeout time.Duration) (env Envelope, ok bool, err error) {
	mb := b.lookup(name)
	if mb == nil {
		return Envelope{}, false, fmt.Errorf("recv: %w: %q", ErrUnknownRecipient, name)
	}

	if env, ok := mb.pop(); ok {
		return env, true, nil
	}
	if timeout <= 0 {
		metrics.ReceiveTimeouts.Inc()
		return Envelope{}, false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-mb.wake:
			if env, ok := mb.pop(); ok {
				return env, true, nil
			}
		case <-timer.C:
			if env, ok := mb.pop(); ok {
				return env, true, nil
			}
			metrics.ReceiveTimeouts.Inc()
			return Envelope{}, false, nil
		case <-ctx.Done():
			return Envelope{}, false, ctx.Err()
		}
	}
}

// Subscribe registers an observer called after every successful Send.
// Observers run on the sender's goroutine and must not block.
func (b *Bus) Subscribe(fn func(Envelope)) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	subs := make([]func(Envelope), len(b.subscribers), len(b.subscribers)+1)
	copy(subs, b.subscribers)
	b.subscribers = append(subs, fn)
}

// Pending returns the number of envelopes waiting in name's mailbox, or
// -1 when the name is not registered.
func (b *Bus) Pending(name string) int {
	mb := b.lookup(name)
	if mb == nil {
		return -1
	}
	return mb.len()
}

// Stats is a point-in-time view of the bus.
type Stats struct {
	Mailboxes map[string]int `json:"mailboxes"`
	Names     []string       `json:"names"`
	Sent      int64          `json:"sent"`
	Rejected  int64          `json:"rejected"`
	Capacity  int            `json:"capacity"`
}

// Stats returns pending counts per mailbox and delivery totals.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	boxes := make(map[string]*mailbox, len(b.mailboxes))
	for name, mb := range b.mailboxes {
		boxes[name] = mb
	}
	b.mu.RUnlock()

	st := Stats{
		Mailboxes: make(map[string]int, len(boxes)),
		Names:     make([]string, 0, len(boxes)),
		Sent:      b.sent.Load(),
		Rejected:  b.rejected.Load(),
		Capacity:  b.capacity,
	}
	for name, mb := range boxes {
		st.Mailboxes[name] = mb.len()
		st.Names = append(st.Names, name)
	}
	sort.Strings(st.Names)
	return st
}

func (b *Bus) lookup(name string) *mailbox {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mailboxes[name]
}
