// Package ctxstore keeps shared context bundles that agents reference by
// id instead of copying large state into every envelope.
//
// A bundle is a snapshot: Create stores a deep copy of its inputs and Get
// hands out a deep copy, so no caller can change what another one reads.
// Ids are only meaningful inside the process that created them.
package ctxstore

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/dayuer/agentbus/internal/logging"
	"github.com/dayuer/agentbus/internal/metrics"
)

// Bundle is one immutable snapshot of shared world state.
type Bundle struct {
	State          map[string]any            `json:"state"`
	EntityProfiles map[string]map[string]any `json:"entity_profiles"`
	TaskState      map[string]any            `json:"task_state"`
	Capabilities   map[string]any            `json:"capabilities"`
	CreatedAt      time.Time                 `json:"created_at"`
}

// Store maps context ids to bundles. The zero TTL default never evicts.
type Store struct {
	mu      sync.Mutex
	bundles map[string]Bundle

	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL makes Sweep remove bundles older than ttl.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used by the sweeper.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = logging.Component(log, "ctxstore") }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		bundles: make(map[string]Bundle),
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a snapshot of the given state and returns its fresh id.
// Nil slots are stored as empty maps.
func (s *Store) Create(state map[string]any, profiles map[string]map[string]any, taskState, capabilities map[string]any) string {
	b := Bundle{
		State:          cloneMap(state),
		EntityProfiles: cloneProfiles(profiles),
		TaskState:      cloneMap(taskState),
		Capabilities:   cloneMap(capabilities),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b.CreatedAt = s.now()
	id := ulid.Make().String()
	s.bundles[id] = b
	metrics.ContextsCreated.Inc()
	return id
}

// Get returns a copy of the bundle for id. ok is false when the id is
// unknown to this store.
func (s *Store) Get(id string) (Bundle, bool) {
	s.mu.Lock()
	b, ok := s.bundles[id]
	s.mu.Unlock()
	if !ok {
		return Bundle{}, false
	}
	return b.clone(), true
}

// Len returns the number of stored bundles.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bundles)
}

// Sweep removes bundles older than the configured TTL and returns how
// many were removed. It does nothing when no TTL is set.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, b := range s.bundles {
		if b.CreatedAt.Before(cutoff) {
			delete(s.bundles, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.ContextsEvicted.Add(float64(removed))
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Debug().Int("removed", n).Dur("ttl", s.ttl).Msg("swept stale context bundles")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b Bundle) clone() Bundle {
	return Bundle{
		State:          cloneMap(b.State),
		EntityProfiles: cloneProfiles(b.EntityProfiles),
		TaskState:      cloneMap(b.TaskState),
		Capabilities:   cloneMap(b.Capabilities),
		CreatedAt:      b.CreatedAt,
	}
}

func cloneProfiles(in map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(in))
	for id, attrs := range in {
		out[id] = cloneMap(attrs)
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies maps, slices, arrays, pointers and the exported
// fields of structs, whatever their element types. Channels and funcs are
// shared. Cyclic pointer graphs are not supported.
func cloneValue(v any) any {
	if v == nil {
		return nil
	}
	return deepCopy(reflect.ValueOf(v)).Interface()
}

func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(deepCopy(v.Index(i)))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(deepCopy(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(deepCopy(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if f := out.Field(i); f.CanSet() {
				f.Set(deepCopy(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}
