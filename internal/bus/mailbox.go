package bus

import "sync"

// mailbox is a FIFO of envelopes with a one-slot wake channel. A sender
// leaves a token in wake after every push; a receiver that pops and still
// sees envelopes queued passes the token on, so waiters are never lost.
type mailbox struct {
	mu       sync.Mutex
	queue    []Envelope
	capacity int
	wake     chan struct{}
}

func newMailbox(capacity int) *mailbox {
	return &mailbox{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

func (m *mailbox) push(env Envelope) error {
	m.mu.Lock()
	if m.capacity > 0 && len(m.queue) >= m.capacity {
		m.mu.Unlock()
		return ErrMailboxFull
	}
	m.queue = append(m.queue, env)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *mailbox) pop() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Envelope{}, false
	}
	env := m.queue[0]
	m.queue[0] = Envelope{}
	m.queue = m.queue[1:]
	if len(m.queue) > 0 {
		m.signal()
	}
	return env, true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *mailbox) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
