package dca

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/authz"
	"goldsynth/internal/domain"
	"goldsynth/internal/events"
)

// PlanStatus is the explicit three-state plan lifecycle. Cancelled is
// terminal; no transition leaves it.
type PlanStatus string

const (
	StatusActive    PlanStatus = "active"
	StatusPaused    PlanStatus = "paused"
	StatusCancelled PlanStatus = "cancelled"
)

// Plan is one recurring purchase schedule. Plans are identified by
// (owner, index) in an append-only per-owner sequence; cancellation keeps
// the slot so historical plan IDs stay addressable.
type Plan struct {
	Owner               domain.Address
	AmountUsd           decimal.Decimal
	FrequencySeconds    int64
	Status              PlanStatus
	CreatedAt           time.Time
	LastExecutionAt     time.Time
	NextExecutionAt     time.Time
	TotalInvestedUsd    decimal.Decimal
	TotalTokensReceived decimal.Decimal
	ExecutionsCount     int64
}

// Minter is the token surface the scheduler drives.
type Minter interface {
	Mint(caller domain.Address, usdAmount, minTokensOut decimal.Decimal) (decimal.Decimal, decimal.Decimal, error)
	Transfer(from, to domain.Address, amount decimal.Decimal) error
}

// Result reports one plan execution attempt inside a batch.
type Result struct {
	PlanID         int
	TokensReceived decimal.Decimal
	Fee            decimal.Decimal
	Err            error
}

// Scheduler owns every user's DCA plans and executes due ones against the
// token on an authorized operator's trigger. All mutation happens under one
// lock; a plan's next-execution time advances in the same critical section
// as the mint effect, so a retried trigger for the same period observes
// ExecutionNotDue (at-most-once per due period).
type Scheduler struct {
	mu sync.Mutex

	plans           map[domain.Address][]*Plan
	executionFeeBps int64
	feeRecipient    domain.Address

	minter  Minter
	auth    *authz.Authorizer
	emitter events.Emitter
	clock   domain.Clock
	logger  zerolog.Logger
}

// New builds the scheduler. A zero fee falls back to the 10 bps default.
func New(minter Minter, auth *authz.Authorizer, feeRecipient domain.Address, executionFeeBps int64, emitter events.Emitter, clock domain.Clock, logger zerolog.Logger) *Scheduler {
	if executionFeeBps == 0 {
		executionFeeBps = domain.DefaultExecutionFeeBps
	}
	return &Scheduler{
		plans:           make(map[domain.Address][]*Plan),
		executionFeeBps: executionFeeBps,
		feeRecipient:    feeRecipient,
		minter:          minter,
		auth:            auth,
		emitter:         emitter,
		clock:           domain.OrSystem(clock),
		logger:          logger.With().Str("component", "dca").Logger(),
	}
}

// CreatePlan registers a new recurring purchase for the caller and returns
// its plan index. The first execution becomes due one full period from now.
func (s *Scheduler) CreatePlan(caller domain.Address, amountUsd decimal.Decimal, frequencySeconds int64) (int, error) {
	if !domain.AmountInBounds(amountUsd) {
		return 0, fmt.Errorf("%w: usd amount %s outside bounds", domain.ErrInvalidAmount, amountUsd)
	}
	if !domain.FrequencyInBounds(frequencySeconds) {
		return 0, fmt.Errorf("%w: %d seconds outside bounds", domain.ErrInvalidFrequency, frequencySeconds)
	}

	s.mu.Lock()
	now := s.clock()
	plan := &Plan{
		Owner:            caller,
		AmountUsd:        amountUsd,
		FrequencySeconds: frequencySeconds,
		Status:           StatusActive,
		CreatedAt:        now,
		NextExecutionAt:  now.Add(time.Duration(frequencySeconds) * time.Second),
	}
	s.plans[caller] = append(s.plans[caller], plan)
	planID := len(s.plans[caller]) - 1
	ev := events.New(events.TypeDCAPlanCreated, caller, now, map[string]string{
		"plan_id":   fmt.Sprintf("%d", planID),
		"amount":    amountUsd.String(),
		"frequency": fmt.Sprintf("%d", frequencySeconds),
	})
	s.mu.Unlock()

	s.emit(ev)
	return planID, nil
}

// UpdatePlan changes a plan's amount and frequency. Owner only. The next
// execution time is deliberately left untouched.
func (s *Scheduler) UpdatePlan(caller, owner domain.Address, planID int, amountUsd decimal.Decimal, frequencySeconds int64) error {
	if !domain.AmountInBounds(amountUsd) {
		return fmt.Errorf("%w: usd amount %s outside bounds", domain.ErrInvalidAmount, amountUsd)
	}
	if !domain.FrequencyInBounds(frequencySeconds) {
		return fmt.Errorf("%w: %d seconds outside bounds", domain.ErrInvalidFrequency, frequencySeconds)
	}

	s.mu.Lock()
	plan, err := s.planLocked(caller, owner, planID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	plan.AmountUsd = amountUsd
	plan.FrequencySeconds = frequencySeconds
	ev := events.New(events.TypeDCAPlanUpdated, owner, s.clock(), map[string]string{
		"plan_id":   fmt.Sprintf("%d", planID),
		"amount":    amountUsd.String(),
		"frequency": fmt.Sprintf("%d", frequencySeconds),
	})
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// PausePlan suspends an active plan. Owner only. Idempotent for an already
// paused plan; fails on a cancelled one.
func (s *Scheduler) PausePlan(caller, owner domain.Address, planID int) error {
	return s.transition(caller, owner, planID, StatusPaused, events.TypeDCAPlanPaused)
}

// ResumePlan reactivates a paused plan. Owner only. The next execution time
// is not recomputed: a plan paused past its due time is immediately eligible.
func (s *Scheduler) ResumePlan(caller, owner domain.Address, planID int) error {
	return s.transition(caller, owner, planID, StatusActive, events.TypeDCAPlanResumed)
}

// CancelPlan permanently retires a plan. Owner only. The slot is kept for
// history; no transition out of Cancelled is possible.
func (s *Scheduler) CancelPlan(caller, owner domain.Address, planID int) error {
	return s.transition(caller, owner, planID, StatusCancelled, events.TypeDCAPlanCancelled)
}

func (s *Scheduler) transition(caller, owner domain.Address, planID int, to PlanStatus, eventType string) error {
	s.mu.Lock()
	plan, err := s.planLocked(caller, owner, planID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if plan.Status == StatusCancelled {
		s.mu.Unlock()
		return fmt.Errorf("%w: plan %d is cancelled", domain.ErrPlanNotActive, planID)
	}
	if plan.Status == to {
		s.mu.Unlock()
		return nil
	}
	plan.Status = to
	ev := events.New(eventType, owner, s.clock(), map[string]string{"plan_id": fmt.Sprintf("%d", planID)})
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// Execute runs one due plan: mints the plan amount for the owner, collects
// the scheduler-level execution fee in tokens, and advances the schedule.
// Operator role only.
func (s *Scheduler) Execute(caller, user domain.Address, planID int) (Result, error) {
	if err := s.auth.Require(caller, authz.RoleOperator); err != nil {
		return Result{PlanID: planID}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeLocked(user, planID)
}

func (s *Scheduler) executeLocked(user domain.Address, planID int) (Result, error) {
	res := Result{PlanID: planID}

	userPlans := s.plans[user]
	if planID < 0 || planID >= len(userPlans) {
		return res, fmt.Errorf("%w: plan %d for %s", domain.ErrPlanNotFound, planID, user)
	}
	plan := userPlans[planID]

	if plan.Status != StatusActive {
		return res, fmt.Errorf("%w: plan %d is %s", domain.ErrPlanNotActive, planID, plan.Status)
	}
	now := s.clock()
	if now.Before(plan.NextExecutionAt) {
		return res, fmt.Errorf("%w: due at %s", domain.ErrExecutionNotDue, plan.NextExecutionAt.UTC().Format(time.RFC3339))
	}

	minted, _, err := s.minter.Mint(user, plan.AmountUsd, decimal.Zero)
	if err != nil {
		// Nothing mutated yet: the failed period stays due and the external
		// executor retries on its next cycle.
		return res, fmt.Errorf("mint for plan %d: %w", planID, err)
	}

	fee := domain.BpsFee(minted, s.executionFeeBps)
	if fee.IsPositive() {
		if err := s.minter.Transfer(user, s.feeRecipient, fee); err != nil {
			// Mint already landed; waive the fee rather than leave the plan
			// half-executed.
			s.logger.Error().Err(err).Str("user", string(user)).Int("plan", planID).Msg("execution fee transfer failed; fee waived")
			fee = decimal.Zero
		}
	}
	received := minted.Sub(fee)

	plan.TotalInvestedUsd = plan.TotalInvestedUsd.Add(plan.AmountUsd)
	plan.TotalTokensReceived = plan.TotalTokensReceived.Add(received)
	plan.ExecutionsCount++
	plan.LastExecutionAt = now
	plan.NextExecutionAt = now.Add(time.Duration(plan.FrequencySeconds) * time.Second)

	res.TokensReceived = received
	res.Fee = fee

	ev := events.New(events.TypeDCAExecuted, user, now, map[string]string{
		"plan_id":         fmt.Sprintf("%d", planID),
		"usd_amount":      plan.AmountUsd.String(),
		"tokens_received": received.String(),
		"fee":             fee.String(),
	})
	s.emit(ev)
	return res, nil
}

// ExecuteAll runs every currently eligible plan of one user. A failing plan
// never aborts the rest; per-plan outcomes are returned for the caller to
// inspect. Operator role only.
func (s *Scheduler) ExecuteAll(caller, user domain.Address) ([]Result, error) {
	if err := s.auth.Require(caller, authz.RoleOperator); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	results := make([]Result, 0)
	for id, plan := range s.plans[user] {
		if plan.Status != StatusActive || now.Before(plan.NextExecutionAt) {
			continue
		}
		res, err := s.executeLocked(user, id)
		if err != nil {
			res.Err = err
			s.logger.Warn().Err(err).Str("user", string(user)).Int("plan", id).Msg("batch execution item failed")
		}
		results = append(results, res)
	}
	return results, nil
}

// EligiblePlans returns the indices of plans that are active and due.
// Pure view: identical results for identical state.
func (s *Scheduler) EligiblePlans(user domain.Address) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	eligible := make([]int, 0)
	for id, plan := range s.plans[user] {
		if plan.Status == StatusActive && !now.Before(plan.NextExecutionAt) {
			eligible = append(eligible, id)
		}
	}
	return eligible
}

// Plan returns a copy of one plan.
func (s *Scheduler) Plan(owner domain.Address, planID int) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userPlans := s.plans[owner]
	if planID < 0 || planID >= len(userPlans) {
		return Plan{}, fmt.Errorf("%w: plan %d for %s", domain.ErrPlanNotFound, planID, owner)
	}
	return *userPlans[planID], nil
}

// UserPlans returns copies of all plans of one owner in creation order.
func (s *Scheduler) UserPlans(owner domain.Address) []Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Plan, 0, len(s.plans[owner]))
	for _, p := range s.plans[owner] {
		out = append(out, *p)
	}
	return out
}

// UserPlanCount returns how many plan slots an owner holds.
func (s *Scheduler) UserPlanCount(owner domain.Address) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans[owner])
}

// ExecutionFee returns the scheduler-level fee in bps.
func (s *Scheduler) ExecutionFee() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executionFeeBps
}

// UpdateExecutionFee changes the scheduler fee. Admin only; 1000 bps ceiling.
func (s *Scheduler) UpdateExecutionFee(caller domain.Address, bps int64) error {
	if err := s.auth.Require(caller, authz.RoleAdmin); err != nil {
		return err
	}
	if bps < 0 || bps > domain.FeeCeilingBps {
		return fmt.Errorf("%w: %d bps", domain.ErrFeeTooHigh, bps)
	}
	s.mu.Lock()
	s.executionFeeBps = bps
	ev := events.New(events.TypeExecutionFeeUpdated, caller, s.clock(), map[string]string{"fee_bps": fmt.Sprintf("%d", bps)})
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

// UpdateFeeRecipient changes where execution fees accrue. Admin only.
func (s *Scheduler) UpdateFeeRecipient(caller, recipient domain.Address) error {
	if err := s.auth.Require(caller, authz.RoleAdmin); err != nil {
		return err
	}
	s.mu.Lock()
	s.feeRecipient = recipient
	ev := events.New(events.TypeFeeRecipientUpdated, caller, s.clock(), map[string]string{"recipient": string(recipient)})
	s.mu.Unlock()

	s.emit(ev)
	return nil
}

func (s *Scheduler) planLocked(caller, owner domain.Address, planID int) (*Plan, error) {
	userPlans := s.plans[owner]
	if planID < 0 || planID >= len(userPlans) {
		return nil, fmt.Errorf("%w: plan %d for %s", domain.ErrPlanNotFound, planID, owner)
	}
	if caller != owner {
		return nil, fmt.Errorf("%w: %s does not own plan %d", domain.ErrUnauthorized, caller, planID)
	}
	return userPlans[planID], nil
}

func (s *Scheduler) emit(ev events.Event) {
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}
