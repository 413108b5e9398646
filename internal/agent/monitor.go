package agent

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dayuer/agentbus/internal/ctxstore"
	"github.com/dayuer/agentbus/internal/dataservice"
)

// Per-household generation estimate used to derive the neighbourhood state.
const genPerConsumerKw = 1.5

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Name           string
	Target         string // recipient of state_update
	Interval       time.Duration
	RequestTimeout time.Duration
}

// Monitor snapshots consumption through the data service, stores the
// snapshot as a context bundle, and notifies the target agent.
type Monitor struct {
	*Shell
	data  Requester
	store *ctxstore.Store
	cfg   MonitorConfig
	ticks int
}

// NewMonitor builds a monitor on shell.
func NewMonitor(shell *Shell, data Requester, store *ctxstore.Store, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Monitor{Shell: shell, data: data, store: store, cfg: cfg}
}

// DeriveState computes the neighbourhood totals from a summary.
func DeriveState(data []dataservice.Summary) map[string]any {
	var load float64
	for _, d := range data {
		load += d.AvgKwh
	}
	gen := math.Max(0, float64(len(data))*genPerConsumerKw-load/10)
	return map[string]any{
		"total_load_kw": load,
		"total_gen_kw":  gen,
		"surplus_kw":    math.Max(0, gen-load),
	}
}

// Profiles extracts each household's equipment flags.
func Profiles(data []dataservice.Summary) map[string]map[string]any {
	out := make(map[string]map[string]any, len(data))
	for _, d := range data {
		out[d.ConsumerID] = map[string]any{
			"uses_efficient_equipment": d.UsesEfficientEquipment,
			"produces_solar":           d.ProducesSolar,
		}
	}
	return out
}

// Tick takes one snapshot and sends it to the target. It returns the new
// context id.
func (m *Monitor) Tick(ctx context.Context) (string, error) {
	data, err := fetchSummary(ctx, m.data, m.cfg.RequestTimeout)
	if err != nil {
		return "", fmt.Errorf("fetch summary: %w", err)
	}
	m.ticks++

	id := m.store.Create(
		DeriveState(data),
		Profiles(data),
		map[string]any{"stage": "monitoring", "tick": m.ticks},
		map[string]any{"commands": []any{dataservice.CmdConsumerSummary, dataservice.CmdRecentRecords}},
	)
	env := m.Envelope(m.cfg.Target, TypeStateUpdate, map[string]any{"summary_count": len(data)}).WithContext(id)
	if err := m.Send(env); err != nil {
		return id, err
	}
	m.log.Info().Str("context_id", id).Int("consumers", len(data)).Msg("state update sent")
	return id, nil
}

// Run ticks immediately and then every interval until ctx is done.
// Failed ticks are logged and retried on the next interval.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.cfg.Interval).Str("target", m.cfg.Target).Msg("monitor started")
	for {
		if _, err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Warn().Err(err).Msg("snapshot failed")
		}
		select {
		case <-ctx.Done():
			m.log.Info().Msg("monitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}
