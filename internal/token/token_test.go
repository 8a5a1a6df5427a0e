package token

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/authz"
	"goldsynth/internal/domain"
)

const (
	admin        = domain.Address("admin")
	user         = domain.Address("user1")
	feeRecipient = domain.Address("treasury")
)

type stubOracle struct {
	price decimal.Decimal
	ts    time.Time
	err   error
}

func (s *stubOracle) LatestPrice() (decimal.Decimal, time.Time, error) {
	return s.price, s.ts, s.err
}

type stubGate struct {
	triggered bool
}

func (s *stubGate) CheckPrice(decimal.Decimal) bool { return s.triggered }
func (s *stubGate) TimeUntilReset() time.Duration   { return time.Hour }

type recordingSettlement struct {
	user   domain.Address
	amount decimal.Decimal
	calls  int
}

func (r *recordingSettlement) PayOut(user domain.Address, usd decimal.Decimal) error {
	r.user = user
	r.amount = usd
	r.calls++
	return nil
}

func newTestToken(price string, gate *stubGate, settle Settlement) *Token {
	auth := authz.New(admin)
	oracle := &stubOracle{price: decimal.RequireFromString(price), ts: time.Unix(1_700_000_000, 0)}
	return New(Options{FeeRecipient: feeRecipient, Settlement: settle}, oracle, gate, auth, nil, nil, zerolog.Nop())
}

func TestMintMath(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)

	usd := decimal.NewFromInt(1000)
	net, fee, err := tok.Mint(user, usd, decimal.Zero)
	if err != nil {
		t.Fatalf("mint 不应失败: %v", err)
	}

	wantGross := decimal.RequireFromString("0.298507462686567164")
	wantFee := decimal.RequireFromString("0.001492537313432835")
	wantNet := wantGross.Sub(wantFee)

	if !net.Equal(wantNet) {
		t.Fatalf("净铸造量错误: 期望 %s, 实际 %s", wantNet, net)
	}
	if !fee.Equal(wantFee) {
		t.Fatalf("手续费错误: 期望 %s, 实际 %s", wantFee, fee)
	}
	if !tok.BalanceOf(user).Equal(wantNet) {
		t.Fatalf("用户余额应恰好增加 netTokens, 实际 %s", tok.BalanceOf(user))
	}
	if !tok.BalanceOf(feeRecipient).Equal(wantFee) {
		t.Fatalf("手续费接收方余额应恰好增加 fee, 实际 %s", tok.BalanceOf(feeRecipient))
	}
	if !tok.TotalSupply().Equal(wantGross) {
		t.Fatalf("总供应量应增加 grossTokens, 实际 %s", tok.TotalSupply())
	}
}

func TestMintTruncationFavoursProtocol(t *testing.T) {
	tok := newTestToken("3", &stubGate{}, nil)

	// 1/3 has no finite decimal expansion: both gross and fee must truncate.
	net, fee, err := tok.Mint(user, decimal.NewFromInt(1), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := fee.String(), "0.001666666666666666"; got != want {
		t.Fatalf("fee 应向下截断: 期望 %s, 实际 %s", want, got)
	}
	if got, want := net.String(), "0.331666666666666667"; got != want {
		t.Fatalf("net 错误: 期望 %s, 实际 %s", want, got)
	}
	if !net.Add(fee).Equal(decimal.RequireFromString("0.333333333333333333")) {
		t.Fatal("net + fee 应等于截断后的 gross")
	}
}

func TestMintBounds(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)

	if _, _, err := tok.Mint(user, decimal.RequireFromString("0.005"), decimal.Zero); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("低于下限应返回 ErrInvalidAmount, 实际 %v", err)
	}
	if _, _, err := tok.Mint(user, decimal.NewFromInt(15000), decimal.Zero); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("高于上限应返回 ErrInvalidAmount, 实际 %v", err)
	}
}

func TestMintSlippageProtection(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)

	if _, _, err := tok.Mint(user, decimal.NewFromInt(1000), decimal.NewFromInt(1000)); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("minTokensOut 过高应返回 ErrInvalidAmount, 实际 %v", err)
	}
	if !tok.BalanceOf(user).IsZero() {
		t.Fatal("失败的 mint 不应改变余额")
	}
}

func TestMintCircuitBreakerGate(t *testing.T) {
	tok := newTestToken("3350", &stubGate{triggered: true}, nil)

	if _, _, err := tok.Mint(user, decimal.NewFromInt(100), decimal.Zero); !errors.Is(err, domain.ErrCircuitBreakerActive) {
		t.Fatalf("熔断触发时应返回 ErrCircuitBreakerActive, 实际 %v", err)
	}
}

func TestMintNoFreshSources(t *testing.T) {
	auth := authz.New(admin)
	oracle := &stubOracle{err: domain.ErrNoFreshSources}
	tok := New(Options{FeeRecipient: feeRecipient}, oracle, &stubGate{}, auth, nil, nil, zerolog.Nop())

	if _, _, err := tok.Mint(user, decimal.NewFromInt(100), decimal.Zero); !errors.Is(err, domain.ErrNoFreshSources) {
		t.Fatalf("预言机无新鲜源时应透传 ErrNoFreshSources, 实际 %v", err)
	}
}

func TestRedeemMathAndSettlement(t *testing.T) {
	settle := &recordingSettlement{}
	tok := newTestToken("3350", &stubGate{}, settle)

	if _, _, err := tok.Mint(user, decimal.NewFromInt(1000), decimal.Zero); err != nil {
		t.Fatal(err)
	}
	before := tok.BalanceOf(user)

	amount := decimal.RequireFromString("0.1")
	usdOut, fee, err := tok.Redeem(user, amount, decimal.Zero)
	if err != nil {
		t.Fatalf("redeem 不应失败: %v", err)
	}

	// 0.1 * 3350 = 335; fee 0.5% = 1.675
	if !usdOut.Equal(decimal.RequireFromString("333.325")) {
		t.Fatalf("usdOut 错误: %s", usdOut)
	}
	if !fee.Equal(decimal.RequireFromString("1.675")) {
		t.Fatalf("fee 错误: %s", fee)
	}
	if !tok.BalanceOf(user).Equal(before.Sub(amount)) {
		t.Fatal("redeem 应恰好销毁 tokenAmount")
	}
	if settle.calls != 1 || settle.user != user || !settle.amount.Equal(usdOut) {
		t.Fatalf("结算应在状态落账后调用一次: %+v", settle)
	}
}

func TestRedeemInsufficientBalance(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)

	if _, _, err := tok.Redeem(user, decimal.NewFromInt(1), decimal.Zero); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("超过余额应返回 ErrInsufficientBalance, 实际 %v", err)
	}
}

func TestRedeemSlippageProtection(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)
	if _, _, err := tok.Mint(user, decimal.NewFromInt(1000), decimal.Zero); err != nil {
		t.Fatal(err)
	}

	_, _, err := tok.Redeem(user, decimal.RequireFromString("0.1"), decimal.NewFromInt(1000))
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("minUsdOut 过高应返回 ErrInvalidAmount, 实际 %v", err)
	}
}

func TestEmergencyMode(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)

	if err := tok.EmergencyPause(admin, "oracle compromise"); err != nil {
		t.Fatal(err)
	}
	active, reason := tok.EmergencyMode()
	if !active || reason != "oracle compromise" {
		t.Fatalf("emergency 状态错误: %v %q", active, reason)
	}
	if !tok.Paused() {
		t.Fatal("emergency 应强制 pause")
	}

	if _, _, err := tok.Mint(user, decimal.NewFromInt(100), decimal.Zero); !errors.Is(err, domain.ErrEmergencyMode) {
		t.Fatalf("emergency 下 mint 应失败, 实际 %v", err)
	}
	if err := tok.Unpause(admin); !errors.Is(err, domain.ErrEmergencyMode) {
		t.Fatalf("emergency 生效时不允许普通 unpause, 实际 %v", err)
	}

	if err := tok.DeactivateEmergency(admin); err != nil {
		t.Fatal(err)
	}
	if tok.Paused() {
		t.Fatal("解除 emergency 后 pause 应一并解除")
	}
	if _, _, err := tok.Mint(user, decimal.NewFromInt(100), decimal.Zero); err != nil {
		t.Fatalf("恢复后 mint 应成功: %v", err)
	}
}

func TestPause(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)

	if err := tok.Pause(admin); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tok.Mint(user, decimal.NewFromInt(100), decimal.Zero); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("paused 下 mint 应失败, 实际 %v", err)
	}
	if err := tok.Pause(user); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("非 pauser 不应能 pause, 实际 %v", err)
	}
}

func TestUpdateFees(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)

	if err := tok.UpdateFees(user, 100, 100); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("非管理员更新费用应失败, 实际 %v", err)
	}
	if err := tok.UpdateFees(admin, 1001, 100); !errors.Is(err, domain.ErrFeeTooHigh) {
		t.Fatalf("超过上限应返回 ErrFeeTooHigh, 实际 %v", err)
	}
	if err := tok.UpdateFees(admin, 100, 100); err != nil {
		t.Fatal(err)
	}
	mintBps, redeemBps := tok.Fees()
	if mintBps != 100 || redeemBps != 100 {
		t.Fatalf("费用未更新: %d/%d", mintBps, redeemBps)
	}
}

func TestSupplyConservation(t *testing.T) {
	tok := newTestToken("3350", &stubGate{}, nil)

	users := []domain.Address{"u1", "u2", "u3"}
	for i, u := range users {
		amount := decimal.NewFromInt(int64(100 * (i + 1)))
		if _, _, err := tok.Mint(u, amount, decimal.Zero); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := tok.Redeem("u2", decimal.RequireFromString("0.01"), decimal.Zero); err != nil {
		t.Fatal(err)
	}
	if err := tok.Transfer("u1", "u3", decimal.RequireFromString("0.005")); err != nil {
		t.Fatal(err)
	}

	sum := tok.BalanceOf(feeRecipient)
	for _, u := range users {
		sum = sum.Add(tok.BalanceOf(u))
	}
	if !sum.Equal(tok.TotalSupply()) {
		t.Fatalf("余额之和应等于总供应量: %s != %s", sum, tok.TotalSupply())
	}
}
