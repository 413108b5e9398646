package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/agentbus/internal/bus"
	"github.com/dayuer/agentbus/internal/ctxstore"
	"github.com/dayuer/agentbus/internal/dataservice"
	"github.com/dayuer/agentbus/internal/mcp"
)

// fakeData answers get_consumer_summary from a fixed list.
type fakeData struct {
	mu      sync.Mutex
	summary []dataservice.Summary
	err     error
	calls   int
}

func (f *fakeData) Request(_ context.Context, payload mcp.Request, _ time.Duration) (mcp.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if payload.Cmd() != dataservice.CmdConsumerSummary {
		return mcp.Failure(mcp.CodeUnknownCmd), nil
	}
	data := make([]any, 0, len(f.summary))
	for _, s := range f.summary {
		data = append(data, map[string]any{
			"consumer_id":              s.ConsumerID,
			"avg_kwh":                  s.AvgKwh,
			"uses_efficient_equipment": s.UsesEfficientEquipment,
			"produces_solar":           s.ProducesSolar,
		})
	}
	return mcp.Success(map[string]any{"data": data}), nil
}

func sampleSummary() []dataservice.Summary {
	return []dataservice.Summary{
		{ConsumerID: "c1", AvgKwh: 3.2, UsesEfficientEquipment: true, ProducesSolar: true},
		{ConsumerID: "c2", AvgKwh: 2.4, UsesEfficientEquipment: true, ProducesSolar: true},
		{ConsumerID: "c3", AvgKwh: 3.0, UsesEfficientEquipment: true},
		{ConsumerID: "c4", AvgKwh: 9.5},
		{ConsumerID: "c5", AvgKwh: 6.0, UsesEfficientEquipment: true, ProducesSolar: true},
		{ConsumerID: "c6", AvgKwh: 4.9, UsesEfficientEquipment: true, ProducesSolar: true},
	}
}

// --- Runtime shell ---

func TestShell_RegistersBeforeReturning(t *testing.T) {
	b := bus.New()
	s := NewShell("monitor", b)
	assert.True(t, b.Registered("monitor"))
	assert.Equal(t, "monitor", s.Name())

	env := s.Envelope("monitor", "ping", nil)
	assert.Equal(t, "monitor", env.From)
	assert.NotEmpty(t, env.MsgID)
	require.NoError(t, s.Send(env))

	got, ok, err := s.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, env.MsgID, got.MsgID)
}

type funcRunner struct {
	name string
	run  func(ctx context.Context) error
}

func (f funcRunner) Name() string                  { return f.name }
func (f funcRunner) Run(ctx context.Context) error { return f.run(ctx) }

func TestRunAll_OneReturnStopsTheRest(t *testing.T) {
	blocker := funcRunner{name: "blocker", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	quick := funcRunner{name: "quick", run: func(context.Context) error { return nil }}

	done := make(chan error, 1)
	go func() { done <- RunAll(context.Background(), blocker, quick) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunAll did not return")
	}
}

func TestRunAll_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := funcRunner{name: "failing", run: func(context.Context) error { return boom }}

	err := RunAll(context.Background(), failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "failing", runErr.Agent)
}

// --- Monitor ---

func TestDeriveState(t *testing.T) {
	state := DeriveState([]dataservice.Summary{{AvgKwh: 4}, {AvgKwh: 6}})
	assert.Equal(t, 10.0, state["total_load_kw"])
	assert.InDelta(t, 2.0, state["total_gen_kw"], 1e-9) // 2*1.5 - 10/10
	assert.Equal(t, 0.0, state["surplus_kw"])

	empty := DeriveState(nil)
	assert.Equal(t, 0.0, empty["total_load_kw"])
	assert.Equal(t, 0.0, empty["total_gen_kw"])
}

func TestMonitor_TickSendsStateUpdate(t *testing.T) {
	b := bus.New()
	store := ctxstore.New()
	inbox := NewShell("incentives", b)
	m := NewMonitor(NewShell("monitor", b), &fakeData{summary: sampleSummary()}, store,
		MonitorConfig{Target: "incentives", Interval: time.Hour})

	id, err := m.Tick(context.Background())
	require.NoError(t, err)

	env, ok, err := inbox.Receive(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TypeStateUpdate, env.Type)
	assert.Equal(t, "monitor", env.From)
	assert.Equal(t, id, env.ContextID)
	assert.Equal(t, map[string]any{"summary_count": 6}, env.Payload)

	bundle, ok := store.Get(id)
	require.True(t, ok)
	assert.Len(t, bundle.EntityProfiles, 6)
	assert.Equal(t, true, bundle.EntityProfiles["c1"]["produces_solar"])
	assert.Contains(t, bundle.State, "surplus_kw")
}

func TestMonitor_TickErrors(t *testing.T) {
	b := bus.New()
	store := ctxstore.New()
	m := NewMonitor(NewShell("monitor", b), &fakeData{err: mcp.ErrTimeout}, store,
		MonitorConfig{Target: "incentives"})

	_, err := m.Tick(context.Background())
	assert.ErrorIs(t, err, mcp.ErrTimeout)
	assert.Equal(t, 0, store.Len())

	// data ok, but nobody is listening
	m = NewMonitor(NewShell("monitor", b), &fakeData{}, store, MonitorConfig{Target: "nobody"})
	_, err = m.Tick(context.Background())
	assert.ErrorIs(t, err, bus.ErrRecipientNotFound)
}

func TestMonitor_RunRetriesAfterFailure(t *testing.T) {
	b := bus.New()
	data := &fakeData{err: mcp.ErrTimeout}
	m := NewMonitor(NewShell("monitor", b), data, ctxstore.New(), MonitorConfig{Target: "incentives", Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, m.Run(ctx))

	data.mu.Lock()
	defer data.mu.Unlock()
	assert.Greater(t, data.calls, 2)
}

// --- Incentives ---

func TestEvaluate(t *testing.T) {
	results, recs := Evaluate(sampleSummary(), DefaultIncentivesConfig())

	require.Len(t, results, 3)
	assert.Equal(t, Result{ConsumerID: "c2", AvgKwh: 2.4, Discount: 0.15}, results[0])
	assert.Equal(t, Result{ConsumerID: "c1", AvgKwh: 3.2, Discount: 0.10}, results[1])
	assert.Equal(t, Result{ConsumerID: "c6", AvgKwh: 4.9, Discount: 0.10}, results[2])

	require.Len(t, recs, 3)
	assert.Equal(t, "c3", recs[0].ConsumerID)
	assert.Equal(t, []string{ActionSolar}, recs[0].Actions)
	assert.Equal(t, []string{ActionEfficiency, ActionSolar, ActionLoadShifting}, recs[1].Actions)
	assert.Equal(t, "c5", recs[2].ConsumerID)
	assert.Empty(t, recs[2].Actions)
}

func TestEvaluate_CapsRecommendations(t *testing.T) {
	var data []dataservice.Summary
	for i := 0; i < 12; i++ {
		data = append(data, dataservice.Summary{ConsumerID: string(rune('a' + i)), AvgKwh: 10})
	}
	results, recs := Evaluate(data, DefaultIncentivesConfig())
	assert.Empty(t, results)
	assert.Len(t, recs, 5)
	assert.Equal(t, "a", recs[0].ConsumerID)
}

func TestIncentives_MissingContextStillEvaluates(t *testing.T) {
	b := bus.New()
	a := NewIncentives(NewShell("incentives", b), &fakeData{summary: sampleSummary()}, ctxstore.New(), DefaultIncentivesConfig(), nil)

	env := bus.NewEnvelope("monitor", "incentives", TypeStateUpdate, nil).WithContext("missing")
	ev, err := a.Handle(context.Background(), env)
	require.NoError(t, err)
	assert.Nil(t, ev.State)
	assert.Len(t, ev.Results, 3)
	assert.Equal(t, 6, ev.Consumers)
}

func TestMonitorToIncentives_Scenario(t *testing.T) {
	b := bus.New()
	store := ctxstore.New()
	data := &fakeData{summary: sampleSummary()}

	var reports []Evaluation
	var mu sync.Mutex
	cfg := DefaultIncentivesConfig()
	cfg.Once = true
	cfg.PollTimeout = 20 * time.Millisecond

	incentives := NewIncentives(NewShell("incentives", b), data, store, cfg, func(ev Evaluation) {
		mu.Lock()
		reports = append(reports, ev)
		mu.Unlock()
	})
	monitor := NewMonitor(NewShell("monitor", b), data, store, MonitorConfig{Target: "incentives", Interval: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, RunAll(ctx, monitor, incentives))
	require.NoError(t, ctx.Err(), "once mode should end the run before the deadline")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 1)
	ev := reports[0]
	assert.Equal(t, "monitor", ev.From)
	assert.NotEmpty(t, ev.ContextID)
	require.NotNil(t, ev.State)
	assert.InDelta(t, 29.0, ev.State["total_load_kw"], 1e-9)
	assert.InDelta(t, 6.1, ev.State["total_gen_kw"], 1e-9)
	assert.Equal(t, "c2", ev.Results[0].ConsumerID)
}

func TestIncentives_IgnoresOtherTypes(t *testing.T) {
	b := bus.New()
	data := &fakeData{summary: sampleSummary()}
	cfg := DefaultIncentivesConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	a := NewIncentives(NewShell("incentives", b), data, ctxstore.New(), cfg, nil)

	require.NoError(t, b.Send(bus.NewEnvelope("x", "incentives", "chatter", nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Run(ctx))
	assert.Equal(t, 0, data.calls)
	assert.Equal(t, 0, b.Pending("incentives"))
}
