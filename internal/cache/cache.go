package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"goldsynth/internal/domain"
)

// ErrNoPrice indicates the cache holds no usable price.
var ErrNoPrice = errors.New("cache: no price available")

// PriceCache stores the latest aggregated price for cheap reads by the API
// and CLI without touching the oracle path.
type PriceCache interface {
	SetLatest(ctx context.Context, point domain.PricePoint) error
	Latest(ctx context.Context) (domain.PricePoint, error)
	Close() error
}

// Memory is an in-process PriceCache with TTL expiry.
type Memory struct {
	mu     sync.RWMutex
	point  domain.PricePoint
	setAt  time.Time
	ttl    time.Duration
	loaded bool
	clock  domain.Clock
}

// NewMemory builds an in-memory cache. A zero TTL keeps entries forever.
func NewMemory(ttl time.Duration, clock domain.Clock) *Memory {
	return &Memory{ttl: ttl, clock: domain.OrSystem(clock)}
}

func (m *Memory) SetLatest(_ context.Context, point domain.PricePoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.point = point
	m.setAt = m.clock()
	m.loaded = true
	return nil
}

func (m *Memory) Latest(_ context.Context) (domain.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loaded {
		return domain.PricePoint{}, ErrNoPrice
	}
	if m.ttl > 0 && m.clock().Sub(m.setAt) > m.ttl {
		return domain.PricePoint{}, ErrNoPrice
	}
	return m.point, nil
}

func (m *Memory) Close() error { return nil }

var (
	_ PriceCache = (*Memory)(nil)
)

// helper shared by redis and memory implementations
type cachedPrice struct {
	Price string    `json:"price"`
	At    time.Time `json:"at"`
}

func encodePoint(p domain.PricePoint) cachedPrice {
	return cachedPrice{Price: p.Price.String(), At: p.At}
}

func (c cachedPrice) decode() (domain.PricePoint, error) {
	price, err := decimal.NewFromString(c.Price)
	if err != nil {
		return domain.PricePoint{}, err
	}
	return domain.PricePoint{Price: price, At: c.At}, nil
}
