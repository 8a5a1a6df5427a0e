package feeds

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Static reports a fixed price. Used for local development and simulations.
type Static struct {
	id    string
	price decimal.Decimal
}

// NewStatic builds a fixed price feed.
func NewStatic(id string, price decimal.Decimal) *Static {
	return &Static{id: id, price: price}
}

func (s *Static) ID() string { return s.id }

func (s *Static) FetchPrice(_ context.Context) (decimal.Decimal, time.Time, error) {
	if !s.price.IsPositive() {
		return decimal.Decimal{}, time.Time{}, errors.New("static price must be positive")
	}
	return s.price, time.Now(), nil
}

var _ Feed = (*Static)(nil)
