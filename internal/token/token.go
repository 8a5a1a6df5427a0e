package token

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

// PriceOracle supplies the trusted aggregated gold price.
type PriceOracle interface {
	LatestPrice() (decimal.Decimal, time.Time, error)
}

// PriceGate is the circuit breaker surface the token consults on every
// price-dependent operation.
type PriceGate interface {
	CheckPrice(price decimal.Decimal) bool
	TimeUntilReset() time.Duration
}

// Settlement moves the USD-equivalent leg of a redeem. It is an external
// collaborator (stable-asset transfer, bank rail, ...) and is invoked only
// after all ledger state is finalized.
type Settlement interface {
	PayOut(user domain.Address, usdAmount decimal.Decimal) error
}

// Token is the synthetic gold token (PGAUx): a balance ledger whose mint and
// redeem price tracks the oracle, gated by the circuit breaker. Every public
// operation validates all preconditions before mutating, so a returned error
// implies no state change.
type Token struct {
	mu sync.Mutex

	name   string
	symbol string

	balances    map[domain.Address]decimal.Decimal
	totalSupply decimal.Decimal

	mintFeeBps   int64
	redeemFeeBps int64
	feeRecipient domain.Address

	paused          bool
	emergency       bool
	emergencyReason string

	oracle  PriceOracle
	gate    PriceGate
	auth    *authz.Authorizer
	emitter events.Emitter
	settle  Settlement
	clock   domain.Clock
	logger  zerolog.Logger
}

// Options parameterise the token.
type Options struct {
	Name         string
	Symbol       string
	MintFeeBps   int64
	RedeemFeeBps int64
	FeeRecipient domain.Address
	Settlement   Settlement
}

// New builds the token. Zero fees fall back to the 50 bps defaults.
func New(opts Options, oracle PriceOracle, gate PriceGate, auth *authz.Authorizer, emitter events.Emitter, clock domain.Clock, logger zerolog.Logger) *Token {
	if opts.Name == "" {
		opts.Name = "PentaGold"
	}
	if opts.Symbol == "" {
		opts.Symbol = "PGAUx"
	}
	if opts.MintFeeBps == 0 {
		opts.MintFeeBps = domain.DefaultMintFeeBps
	}
	if opts.RedeemFeeBps == 0 {
		opts.RedeemFeeBps = domain.DefaultRedeemFeeBps
	}
	return &Token{
		name:         opts.Name,
		symbol:       opts.Symbol,
		balances:     make(map[domain.Address]decimal.Decimal),
		mintFeeBps:   opts.MintFeeBps,
		redeemFeeBps: opts.RedeemFeeBps,
		feeRecipient: opts.FeeRecipient,
		oracle:       oracle,
		gate:         gate,
		auth:         auth,
		emitter:      emitter,
		settle:       opts.Settlement,
		clock:        domain.OrSystem(clock),
		logger:       logger.With().Str("component", "token").Logger(),
	}
}

// Name returns the token name.
func (t *Token) Name() string { return t.name }

// Symbol returns the token symbol.
func (t *Token) Symbol() string { return t.symbol }

// Mint exchanges usdAmount for freshly minted tokens at the current oracle
// price. minTokensOut is the caller's slippage floor on the net amount.
// It returns the net tokens credited and the fee taken in tokens.
func (t *Token) Mint(caller domain.Address, usdAmount, minTokensOut decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	t.mu.Lock()

	if !domain.AmountInBounds(usdAmount) {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: usd amount %s outside bounds", domain.ErrInvalidAmount, usdAmount)
	}
	if t.emergency {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, domain.ErrEmergencyMode
	}
	if t.paused {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, domain.ErrPaused
	}

	price, _, err := t.oracle.LatestPrice()
	if err != nil {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("fetch oracle price: %w", err)
	}
	if t.gate.CheckPrice(price) {
		reset := t.gate.TimeUntilReset()
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: resets in %s", domain.ErrCircuitBreakerActive, reset)
	}

	gross := domain.DivFloor(usdAmount, price)
	fee := domain.BpsFee(gross, t.mintFeeBps)
	net := gross.Sub(fee)
	if net.LessThan(minTokensOut) {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: net tokens %s below minimum %s", domain.ErrInvalidAmount, net, minTokensOut)
	}

	t.credit(caller, net)
	t.credit(t.feeRecipient, fee)
	t.totalSupply = t.totalSupply.Add(gross)

	ev := events.New(events.TypeMint, caller, t.clock(), map[string]string{
		"usd_amount": usdAmount.String(),
		"tokens":     net.String(),
		"fee":        fee.String(),
		"price":      price.String(),
	})
	t.mu.Unlock()

	t.emit(ev)
	return net, fee, nil
}

// Redeem burns tokenAmount and pays out its USD value at the current oracle
// price, minus the redeem fee taken in USD terms. minUsdOut is the caller's
// slippage floor. The settlement leg runs strictly after the burn.
func (t *Token) Redeem(caller domain.Address, tokenAmount, minUsdOut decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	t.mu.Lock()

	if !tokenAmount.IsPositive() {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: token amount must be positive", domain.ErrInvalidAmount)
	}
	if t.emergency {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, domain.ErrEmergencyMode
	}
	if t.paused {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, domain.ErrPaused
	}
	if t.balances[caller].LessThan(tokenAmount) {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: balance %s below %s", domain.ErrInsufficientBalance, t.balances[caller], tokenAmount)
	}

	price, _, err := t.oracle.LatestPrice()
	if err != nil {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("fetch oracle price: %w", err)
	}
	if t.gate.CheckPrice(price) {
		reset := t.gate.TimeUntilReset()
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: resets in %s", domain.ErrCircuitBreakerActive, reset)
	}

	grossUsd := domain.Floor18(tokenAmount.Mul(price))
	feeUsd := domain.BpsFee(grossUsd, t.redeemFeeBps)
	usdOut := grossUsd.Sub(feeUsd)
	if usdOut.LessThan(minUsdOut) {
		t.mu.Unlock()
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: usd out %s below minimum %s", domain.ErrInvalidAmount, usdOut, minUsdOut)
	}

	t.balances[caller] = t.balances[caller].Sub(tokenAmount)
	t.totalSupply = t.totalSupply.Sub(tokenAmount)

	ev := events.New(events.TypeRedeem, caller, t.clock(), map[string]string{
		"tokens":     tokenAmount.String(),
		"usd_amount": usdOut.String(),
		"fee":        feeUsd.String(),
		"price":      price.String(),
	})
	t.mu.Unlock()

	t.emit(ev)

	// External value transfer only after the ledger is final
	// (checks-effects-interactions).
	if t.settle != nil {
		if err := t.settle.PayOut(caller, usdOut); err != nil {
			t.logger.Error().Err(err).Str("user", string(caller)).Str("usd", usdOut.String()).Msg("settlement payout failed; ledger already burned")
		}
	}

	return usdOut, feeUsd, nil
}

// Transfer moves tokens between holders, conserving total supply.
func (t *Token) Transfer(from, to domain.Address, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !amount.IsPositive() {
		return fmt.Errorf("%w: transfer amount must be positive", domain.ErrInvalidAmount)
	}
	if t.paused || t.emergency {
		if t.emergency {
			return domain.ErrEmergencyMode
		}
		return domain.ErrPaused
	}
	if t.balances[from].LessThan(amount) {
		return fmt.Errorf("%w: balance %s below %s", domain.ErrInsufficientBalance, t.balances[from], amount)
	}
	t.balances[from] = t.balances[from].Sub(amount)
	t.credit(to, amount)
	return nil
}

// BalanceOf returns a holder's balance.
func (t *Token) BalanceOf(addr domain.Address) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[addr]
}

// TotalSupply returns the circulating supply.
func (t *Token) TotalSupply() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalSupply
}

// CurrentPrice exposes the oracle price the token would trade at.
func (t *Token) CurrentPrice() (decimal.Decimal, time.Time, error) {
	return t.oracle.LatestPrice()
}

// Paused reports the plain pause flag.
func (t *Token) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// EmergencyMode reports emergency state and its reason.
func (t *Token) EmergencyMode() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emergency, t.emergencyReason
}

// Fees returns the current mint and redeem fees in bps.
func (t *Token) Fees() (int64, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mintFeeBps, t.redeemFeeBps
}

// Pause halts mint/redeem/transfer. Pauser role.
func (t *Token) Pause(caller domain.Address) error {
	if err := t.auth.Require(caller, authz.RolePauser); err != nil {
		return err
	}
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
	t.logger.Warn().Str("by", string(caller)).Msg("token paused")
	return nil
}

// Unpause lifts the plain pause. Pauser role. A standing emergency keeps the
// pause flag set.
func (t *Token) Unpause(caller domain.Address) error {
	if err := t.auth.Require(caller, authz.RolePauser); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.emergency {
		return domain.ErrEmergencyMode
	}
	t.paused = false
	t.logger.Info().Str("by", string(caller)).Msg("token unpaused")
	return nil
}

// EmergencyPause activates emergency mode, which also forces the pause flag.
// Pauser role.
func (t *Token) EmergencyPause(caller domain.Address, reason string) error {
	if err := t.auth.Require(caller, authz.RolePauser); err != nil {
		return err
	}
	t.mu.Lock()
	t.emergency = true
	t.paused = true
	t.emergencyReason = reason
	ev := events.New(events.TypeEmergencyActivated, caller, t.clock(), map[string]string{"reason": reason})
	t.mu.Unlock()

	t.emit(ev)
	return nil
}

// DeactivateEmergency clears emergency mode and the forced pause. Admin role.
func (t *Token) DeactivateEmergency(caller domain.Address) error {
	if err := t.auth.Require(caller, authz.RoleAdmin); err != nil {
		return err
	}
	t.mu.Lock()
	t.emergency = false
	t.paused = false
	t.emergencyReason = ""
	ev := events.New(events.TypeEmergencyDeactivated, caller, t.clock(), nil)
	t.mu.Unlock()

	t.emit(ev)
	return nil
}

// UpdateFees changes the mint/redeem fees. Admin role; 1000 bps ceiling.
func (t *Token) UpdateFees(caller domain.Address, mintBps, redeemBps int64) error {
	if err := t.auth.Require(caller, authz.RoleAdmin); err != nil {
		return err
	}
	if mintBps < 0 || redeemBps < 0 || mintBps > domain.FeeCeilingBps || redeemBps > domain.FeeCeilingBps {
		return fmt.Errorf("%w: mint %d redeem %d bps", domain.ErrFeeTooHigh, mintBps, redeemBps)
	}
	t.mu.Lock()
	t.mintFeeBps = mintBps
	t.redeemFeeBps = redeemBps
	ev := events.New(events.TypeFeesUpdated, caller, t.clock(), map[string]string{
		"mint_fee_bps":   fmt.Sprintf("%d", mintBps),
		"redeem_fee_bps": fmt.Sprintf("%d", redeemBps),
	})
	t.mu.Unlock()

	t.emit(ev)
	return nil
}

// UpdateFeeRecipient changes where fees accrue. Admin role.
func (t *Token) UpdateFeeRecipient(caller, recipient domain.Address) error {
	if err := t.auth.Require(caller, authz.RoleAdmin); err != nil {
		return err
	}
	t.mu.Lock()
	t.feeRecipient = recipient
	ev := events.New(events.TypeFeeRecipientUpdated, caller, t.clock(), map[string]string{"recipient": string(recipient)})
	t.mu.Unlock()

	t.emit(ev)
	return nil
}

// UpdateOracle swaps the price oracle. Admin role.
func (t *Token) UpdateOracle(caller domain.Address, oracle PriceOracle) error {
	if err := t.auth.Require(caller, authz.RoleAdmin); err != nil {
		return err
	}
	t.mu.Lock()
	t.oracle = oracle
	ev := events.New(events.TypeOracleUpdated, caller, t.clock(), nil)
	t.mu.Unlock()

	t.emit(ev)
	return nil
}

func (t *Token) credit(addr domain.Address, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	t.balances[addr] = t.balances[addr].Add(amount)
}

func (t *Token) emit(ev events.Event) {
	if t.emitter != nil {
		t.emitter.Emit(ev)
	}
}
