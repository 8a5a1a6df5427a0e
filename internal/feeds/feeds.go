package feeds

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Feed retrieves one external gold price observation in USD per troy ounce.
type Feed interface {
	ID() string
	FetchPrice(ctx context.Context) (decimal.Decimal, time.Time, error)
}
