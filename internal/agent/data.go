package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/dayuer/agentbus/internal/dataservice"
	"github.com/dayuer/agentbus/internal/mcp"
)

// Message types exchanged between the agents.
const (
	TypeStateUpdate = "state_update"
)

// fetchSummary asks the data service for the per-household summary.
func fetchSummary(ctx context.Context, data Requester, timeout time.Duration) ([]dataservice.Summary, error) {
	resp, err := data.Request(ctx, mcp.Request{"cmd": dataservice.CmdConsumerSummary}, timeout)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var out []dataservice.Summary
	if err := resp.Decode("data", &out); err != nil {
		return nil, fmt.Errorf("summary payload: %w", err)
	}
	return out, nil
}
