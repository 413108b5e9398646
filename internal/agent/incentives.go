package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dayuer/agentbus/internal/bus"
	"github.com/dayuer/agentbus/internal/ctxstore"
	"github.com/dayuer/agentbus/internal/dataservice"
)

// Recommendation actions.
const (
	ActionEfficiency   = "adopt energy-efficient appliances"
	ActionSolar        = "consider rooftop/community solar"
	ActionLoadShifting = "participate in load-shifting programs"
)

// IncentivesConfig configures an Incentives agent.
type IncentivesConfig struct {
	MaxAvgKwh          float64 // eligibility ceiling on average daily usage
	HighUsageKwh       float64 // above this, suggest load shifting
	TopDiscount        float64 // lowest user
	BaseDiscount       float64 // every other eligible household
	MaxRecommendations int
	RequestTimeout     time.Duration
	PollTimeout        time.Duration // mailbox wait per loop iteration
	Once               bool          // stop after the first report
}

// DefaultIncentivesConfig returns the standard programme thresholds.
func DefaultIncentivesConfig() IncentivesConfig {
	return IncentivesConfig{
		MaxAvgKwh:          5.0,
		HighUsageKwh:       8.0,
		TopDiscount:        0.15,
		BaseDiscount:       0.10,
		MaxRecommendations: 5,
		PollTimeout:        500 * time.Millisecond,
	}
}

// Result is a discount granted to one eligible household.
type Result struct {
	ConsumerID string  `json:"consumer_id"`
	AvgKwh     float64 `json:"avg_kwh"`
	Discount   float64 `json:"discount"`
}

// Recommendation lists suggested actions for a household that missed out.
type Recommendation struct {
	ConsumerID string   `json:"consumer_id"`
	AvgKwh     float64  `json:"avg_kwh"`
	Actions    []string `json:"actions"`
}

// Evaluation is the outcome of one state_update.
type Evaluation struct {
	ContextID       string           `json:"context_id,omitempty"`
	From            string           `json:"from"`
	Consumers       int              `json:"consumers"`
	State           map[string]any   `json:"state,omitempty"`
	Results         []Result         `json:"results"`
	Recommendations []Recommendation `json:"recommendations"`
	At              time.Time        `json:"at"`
}

// Evaluate grants discounts to low-usage households that have both
// efficient equipment and solar, lowest usage first, and suggests actions
// for up to MaxRecommendations of the rest in summary order.
func Evaluate(data []dataservice.Summary, cfg IncentivesConfig) ([]Result, []Recommendation) {
	var eligible, rest []dataservice.Summary
	for _, d := range data {
		if d.AvgKwh < cfg.MaxAvgKwh && d.UsesEfficientEquipment && d.ProducesSolar {
			eligible = append(eligible, d)
		} else {
			rest = append(rest, d)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].AvgKwh < eligible[j].AvgKwh })

	results := make([]Result, 0, len(eligible))
	for i, d := range eligible {
		discount := cfg.BaseDiscount
		if i == 0 {
			discount = cfg.TopDiscount
		}
		results = append(results, Result{ConsumerID: d.ConsumerID, AvgKwh: d.AvgKwh, Discount: discount})
	}

	if n := max(cfg.MaxRecommendations, 0); len(rest) > n {
		rest = rest[:n]
	}
	recs := make([]Recommendation, 0, len(rest))
	for _, d := range rest {
		actions := []string{}
		if !d.UsesEfficientEquipment {
			actions = append(actions, ActionEfficiency)
		}
		if !d.ProducesSolar {
			actions = append(actions, ActionSolar)
		}
		if d.AvgKwh > cfg.HighUsageKwh {
			actions = append(actions, ActionLoadShifting)
		}
		recs = append(recs, Recommendation{ConsumerID: d.ConsumerID, AvgKwh: d.AvgKwh, Actions: actions})
	}
	return results, recs
}

// Incentives turns state updates into discount decisions.
type Incentives struct {
	*Shell
	data     Requester
	store    *ctxstore.Store
	cfg      IncentivesConfig
	onReport func(Evaluation)
}

// NewIncentives builds an incentives agent on shell. onReport receives each
// evaluation and may be nil.
func NewIncentives(shell *Shell, data Requester, store *ctxstore.Store, cfg IncentivesConfig, onReport func(Evaluation)) *Incentives {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 500 * time.Millisecond
	}
	return &Incentives{Shell: shell, data: data, store: store, cfg: cfg, onReport: onReport}
}

// Handle evaluates one state_update. A missing context bundle is logged and
// the evaluation proceeds without state.
func (a *Incentives) Handle(ctx context.Context, env bus.Envelope) (Evaluation, error) {
	ev := Evaluation{ContextID: env.ContextID, From: env.From, At: time.Now()}

	if env.HasContext() {
		if bundle, ok := a.store.Get(env.ContextID); ok {
			ev.State = bundle.State
		} else {
			a.log.Warn().Str("context_id", env.ContextID).Msg("context not found")
		}
	}

	data, err := fetchSummary(ctx, a.data, a.cfg.RequestTimeout)
	if err != nil {
		return ev, fmt.Errorf("fetch summary: %w", err)
	}
	ev.Consumers = len(data)
	ev.Results, ev.Recommendations = Evaluate(data, a.cfg)

	a.log.Info().Str("context_id", env.ContextID).Int("eligible", len(ev.Results)).Int("consumers", ev.Consumers).Msg("incentives evaluated")
	if a.onReport != nil {
		a.onReport(ev)
	}
	return ev, nil
}

// Run processes the mailbox until ctx is done, or until the first
// successful evaluation when Once is set.
func (a *Incentives) Run(ctx context.Context) error {
	a.log.Info().Bool("once", a.cfg.Once).Msg("incentives started")
	for {
		env, ok, err := a.Receive(ctx, a.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				a.log.Info().Msg("incentives stopped")
				return nil
			}
			return err
		}
		if !ok {
			continue
		}

		switch env.Type {
		case TypeStateUpdate:
			if _, err := a.Handle(ctx, env); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.log.Warn().Err(err).Msg("evaluation failed")
				continue
			}
			if a.cfg.Once {
				a.log.Info().Msg("first report done, stopping")
				return nil
			}
		default:
			a.log.Debug().Str("type", env.Type).Str("from", env.From).Msg("ignoring envelope")
		}
	}
}
