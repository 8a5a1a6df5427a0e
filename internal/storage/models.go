package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"goldsynth/internal/domain"
)

// PriceSample represents one persisted executor observation window.
type PriceSample struct {
	Bucket           time.Time
	Price            decimal.Decimal
	DeviationBps     decimal.Decimal
	FreshSources     int
	BreakerTriggered bool
	Status           string
	Error            *string
	CreatedAt        time.Time
}

// ExecutionRecord captures one DCA plan execution for auditing.
type ExecutionRecord struct {
	ID             int64
	User           domain.Address
	PlanID         int
	UsdAmount      decimal.Decimal
	TokensReceived decimal.Decimal
	Fee            decimal.Decimal
	ExecutedAt     time.Time
	CreatedAt      time.Time
}

// EventRecord is one journaled platform event.
type EventRecord struct {
	ID        string
	Type      string
	User      domain.Address
	At        time.Time
	Payload   []byte
	CreatedAt time.Time
}
