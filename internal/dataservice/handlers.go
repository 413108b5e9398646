package dataservice

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/logging"
	"github.com/dayuer/agentbus/internal/mcp"
	"github.com/dayuer/agentbus/internal/redis"
)

// Commands served by the data service.
const (
	CmdConsumerSummary = "get_consumer_summary"
	CmdRecentRecords   = "get_recent_records"
	CmdPing            = "ping"
)

// DefaultRecentRecords is the page size when a request omits "n".
const DefaultRecentRecords = 100

// Service binds the store to protocol commands.
type Service struct {
	store *Store
	cache *redis.Cache // nil disables caching
	log   zerolog.Logger
}

// NewService creates a service over store. cache may be nil.
func NewService(store *Store, cache *redis.Cache, log zerolog.Logger) *Service {
	return &Service{
		store: store,
		cache: cache,
		log:   logging.Component(log, "dataservice"),
	}
}

// Register installs the service's commands on srv.
func (s *Service) Register(srv *mcp.Server) {
	srv.Handle(CmdConsumerSummary, s.handleSummary)
	srv.Handle(CmdRecentRecords, s.handleRecent)
	srv.Handle(CmdPing, func(context.Context, mcp.Request) (mcp.Response, error) {
		return mcp.Success(map[string]any{"pong": true}), nil
	})
}

func (s *Service) handleSummary(ctx context.Context, _ mcp.Request) (mcp.Response, error) {
	key := redis.SummaryKey(s.store.Path())

	var cached []Summary
	if s.cache.GetJSON(ctx, key, &cached) {
		s.log.Debug().Int("consumers", len(cached)).Msg("summary served from cache")
		return mcp.Success(map[string]any{"data": cached}), nil
	}

	data, err := s.store.ConsumerSummary(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, data)
	return mcp.Success(map[string]any{"data": data}), nil
}

func (s *Service) handleRecent(ctx context.Context, req mcp.Request) (mcp.Response, error) {
	n := req.Int("n", DefaultRecentRecords)
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive, got %d", n)
	}
	key := redis.RecordsKey(s.store.Path(), n)

	var cached []Record
	if s.cache.GetJSON(ctx, key, &cached) {
		s.log.Debug().Int("n", n).Msg("records served from cache")
		return mcp.Success(map[string]any{"data": cached}), nil
	}

	data, err := s.store.RecentRecords(ctx, n)
	if err != nil {
		return nil, err
	}
	s.cache.SetJSON(ctx, key, data)
	return mcp.Success(map[string]any{"data": data}), nil
}
