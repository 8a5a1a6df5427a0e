package events

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"goldsynth/internal/domain"
)

// Event names external consumers (indexers, the DCA trigger loop) depend on.
const (
	TypeMint                  = "Mint"
	TypeRedeem                = "Redeem"
	TypeFeesUpdated           = "FeesUpdated"
	TypeEmergencyActivated    = "EmergencyModeActivated"
	TypeEmergencyDeactivated  = "EmergencyModeDeactivated"
	TypeOracleUpdated         = "OracleAggregatorUpdated"
	TypeDCAPlanCreated        = "DCAPlanCreated"
	TypeDCAPlanUpdated        = "DCAPlanUpdated"
	TypeDCAPlanPaused         = "DCAPlanPaused"
	TypeDCAPlanResumed        = "DCAPlanResumed"
	TypeDCAPlanCancelled      = "DCAPlanCancelled"
	TypeDCAExecuted           = "DCAExecuted"
	TypeExecutionFeeUpdated   = "ExecutionFeeUpdated"
	TypeFeeRecipientUpdated   = "FeeRecipientUpdated"
	TypeCircuitBreakerTripped = "CircuitBreakerTripped"
	TypePriceSampled          = "PriceSampled"
)

// Event is one emitted platform event. Fields carry the event-specific
// payload with decimal amounts rendered as strings.
type Event struct {
	ID     uuid.UUID         `json:"id"`
	Type   string            `json:"type"`
	User   domain.Address    `json:"user,omitempty"`
	At     time.Time         `json:"at"`
	Fields map[string]string `json:"fields,omitempty"`
}

// New builds an event with a fresh ID.
func New(eventType string, user domain.Address, at time.Time, fields map[string]string) Event {
	return Event{ID: uuid.New(), Type: eventType, User: user, At: at, Fields: fields}
}

// Emitter receives emitted events. Emission happens strictly after state
// mutation and must never fail the originating operation; implementations
// handle their own errors.
type Emitter interface {
	Emit(ev Event)
}

// Multi fans one event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ev Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ev)
		}
	}
}

// LogEmitter writes events to the structured log.
type LogEmitter struct {
	logger zerolog.Logger
}

// NewLogEmitter builds a log-backed emitter.
func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.With().Str("component", "events").Logger()}
}

func (l *LogEmitter) Emit(ev Event) {
	entry := l.logger.Info().
		Str("event", ev.Type).
		Str("event_id", ev.ID.String()).
		Time("at", ev.At)
	if ev.User != domain.ZeroAddress {
		entry = entry.Str("user", string(ev.User))
	}
	for k, v := range ev.Fields {
		entry = entry.Str(k, v)
	}
	entry.Msg("event emitted")
}

// Registry tracks every user seen in plan events. The core exposes no
// "list all users" operation, so the off-chain executor discovers users
// by indexing emitted events, same as the original trigger script.
type Registry struct {
	mu    sync.RWMutex
	users map[domain.Address]struct{}
}

// NewRegistry builds an empty user registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[domain.Address]struct{})}
}

func (r *Registry) Emit(ev Event) {
	if ev.Type != TypeDCAPlanCreated || ev.User == domain.ZeroAddress {
		return
	}
	r.mu.Lock()
	r.users[ev.User] = struct{}{}
	r.mu.Unlock()
}

// Users returns the known users in stable order.
func (r *Registry) Users() []domain.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Address, 0, len(r.users))
	for u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var (
	_ Emitter = (Multi)(nil)
	_ Emitter = (*LogEmitter)(nil)
	_ Emitter = (*Registry)(nil)
)
