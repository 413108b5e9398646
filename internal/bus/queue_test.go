package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	b := New()
	assert.NotNil(t, b)
	st := b.Stats()
	assert.Empty(t, st.Names)
	assert.Equal(t, int64(0), st.Sent)
}

func TestBus_SendRecv_Scenario(t *testing.T) {
	b := New()
	b.Register("monitor")
	b.Register("incentives")

	env := NewEnvelope("monitor", "incentives", "state_update", map[string]any{"n": 5})
	require.NoError(t, b.Send(env))

	got, ok, err := b.Recv(context.Background(), "incentives", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env, got)

	start := time.Now()
	_, ok, err = b.Recv(context.Background(), "incentives", 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestBus_FIFO(t *testing.T) {
	b := New()
	b.Register("sink")

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Send(NewEnvelope("src", "sink", "seq", i)))
	}
	for i := 0; i < 50; i++ {
		env, ok, err := b.Recv(context.Background(), "sink", time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i, env.Payload)
	}
}

func TestBus_SendUnregistered(t *testing.T) {
	b := New()
	err := b.Send(NewEnvelope("a", "nobody", "t", nil))
	assert.ErrorIs(t, err, ErrRecipientNotFound)
	assert.Contains(t, err.Error(), "nobody")
	assert.Equal(t, int64(1), b.Stats().Rejected)
}

func TestBus_RecvUnregistered(t *testing.T) {
	b := New()
	_, ok, err := b.Recv(context.Background(), "nobody", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrUnknownRecipient)
	assert.False(t, ok)
}

func TestBus_RegisterIdempotent(t *testing.T) {
	b := New()
	b.Register("a")
	require.NoError(t, b.Send(NewEnvelope("x", "a", "t", 1)))
	b.Register("a")

	assert.Len(t, b.Stats().Names, 1)
	assert.Equal(t, 1, b.Pending("a"))

	env, ok, err := b.Recv(context.Background(), "a", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, env.Payload)
}

func TestBus_RecvWakesOnSend(t *testing.T) {
	b := New()
	b.Register("a")

	go func() {
		time.Sleep(30 * time.Millisecond)
		b.Send(NewEnvelope("x", "a", "late", nil))
	}()

	start := time.Now()
	env, ok, err := b.Recv(context.Background(), "a", 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "late", env.Type)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBus_RecvZeroTimeoutPolls(t *testing.T) {
	b := New()
	b.Register("a")
	_, ok, err := b.Recv(context.Background(), "a", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBus_RecvContextCancelled(t *testing.T) {
	b := New()
	b.Register("a")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, ok, err := b.Recv(ctx, "a", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestBus_BoundedMailbox(t *testing.T) {
	b := New(WithCapacity(2))
	b.Register("a")

	require.NoError(t, b.Send(NewEnvelope("x", "a", "t", 1)))
	require.NoError(t, b.Send(NewEnvelope("x", "a", "t", 2)))
	err := b.Send(NewEnvelope("x", "a", "t", 3))
	assert.ErrorIs(t, err, ErrMailboxFull)

	_, _, _ = b.Recv(context.Background(), "a", 0)
	assert.NoError(t, b.Send(NewEnvelope("x", "a", "t", 4)))
}

func TestBus_Subscribe(t *testing.T) {
	b := New()
	b.Register("a")

	var mu sync.Mutex
	var seen []string
	b.Subscribe(func(env Envelope) {
		mu.Lock()
		seen = append(seen, env.Type)
		mu.Unlock()
	})

	require.NoError(t, b.Send(NewEnvelope("x", "a", "one", nil)))
	_ = b.Send(NewEnvelope("x", "missing", "two", nil))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one"}, seen)
}

func TestBus_ConcurrentSendersAndReceivers(t *testing.T) {
	b := New()
	b.Register("sink")

	const senders, perSender = 8, 100
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				assert.NoError(t, b.Send(NewEnvelope(fmt.Sprintf("s%d", s), "sink", "seq", i)))
			}
		}(s)
	}

	results := make(chan Envelope, senders*perSender)
	var rwg sync.WaitGroup
	for r := 0; r < 4; r++ {
		rwg.Add(1)
		go func() {
			defer rwg.Done()
			for {
				env, ok, err := b.Recv(context.Background(), "sink", 200*time.Millisecond)
				if err != nil || !ok {
					return
				}
				results <- env
			}
		}()
	}

	wg.Wait()
	rwg.Wait()
	close(results)

	ids := make(map[string]bool)
	for env := range results {
		assert.False(t, ids[env.MsgID])
		ids[env.MsgID] = true
	}
	assert.Len(t, ids, senders*perSender)
}

func TestBus_PerSenderOrderSingleReceiver(t *testing.T) {
	b := New()
	b.Register("sink")

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Send(NewEnvelope(fmt.Sprintf("s%d", s), "sink", "seq", i))
			}
		}(s)
	}
	wg.Wait()

	last := map[string]int{}
	for {
		env, ok, err := b.Recv(context.Background(), "sink", 0)
		require.NoError(t, err)
		if !ok {
			break
		}
		prev, seen := last[env.From]
		if seen {
			assert.Greater(t, env.Payload.(int), prev)
		}
		last[env.From] = env.Payload.(int)
	}
	assert.Len(t, last, 4)
}

func TestBus_Stats(t *testing.T) {
	b := New(WithCapacity(10))
	b.Register("b")
	b.Register("a")
	b.Send(NewEnvelope("x", "a", "t", nil))

	st := b.Stats()
	assert.Equal(t, []string{"a", "b"}, st.Names)
	assert.Equal(t, 1, st.Mailboxes["a"])
	assert.Equal(t, 0, st.Mailboxes["b"])
	assert.Equal(t, int64(1), st.Sent)
	assert.Equal(t, 10, st.Capacity)
	assert.Equal(t, -1, b.Pending("zzz"))
}
