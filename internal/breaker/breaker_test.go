package breaker

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newTestBreaker(now *time.Time) *Breaker {
	return New(Options{
		DeviationThresholdBps: 500,
		WindowSeconds:         300,
		CooldownSeconds:       3600,
	}, func() time.Time { return *now }, zerolog.Nop())
}

func TestSmallDeviationDoesNotTrigger(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := newTestBreaker(&now)

	b.CheckPrice(decimal.NewFromInt(3350))
	now = now.Add(30 * time.Second)
	if b.CheckPrice(decimal.RequireFromString("3360")) {
		t.Fatal("0.3% 波动不应触发熔断")
	}
	if b.IsTriggered() {
		t.Fatal("IsTriggered 应为 false")
	}
}

func TestLargeDeviationTriggersAndHolds(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := newTestBreaker(&now)

	b.CheckPrice(decimal.NewFromInt(3350))
	now = now.Add(time.Minute)
	if !b.CheckPrice(decimal.NewFromInt(3550)) { // ~5.97%
		t.Fatal(">5% 波动应触发熔断")
	}
	if !b.IsTriggered() {
		t.Fatal("触发后 IsTriggered 应为 true")
	}

	// Cooldown holds even while prices normalise.
	now = now.Add(30 * time.Minute)
	b.CheckPrice(decimal.NewFromInt(3350))
	if !b.IsTriggered() {
		t.Fatal("冷却期内应保持触发状态")
	}
	if b.TimeUntilReset() <= 0 {
		t.Fatal("冷却期内 TimeUntilReset 应大于 0")
	}
}

func TestExactThresholdTriggers(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := newTestBreaker(&now)

	b.CheckPrice(decimal.NewFromInt(1000))
	now = now.Add(time.Second)
	if !b.CheckPrice(decimal.NewFromInt(1050)) { // exactly 5%
		t.Fatal("恰好达到阈值应触发 (deviation >= threshold)")
	}
}

func TestRetriggerDoesNotExtendCooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := newTestBreaker(&now)

	b.CheckPrice(decimal.NewFromInt(3350))
	now = now.Add(time.Second)
	b.CheckPrice(decimal.NewFromInt(3600))
	first := b.TimeUntilReset()

	now = now.Add(10 * time.Minute)
	b.CheckPrice(decimal.NewFromInt(4000)) // still wild, same episode
	second := b.TimeUntilReset()

	if second >= first {
		t.Fatalf("再次触发不应重置冷却计时: first=%s second=%s", first, second)
	}
}

func TestLazyResetAfterCooldown(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := newTestBreaker(&now)

	b.CheckPrice(decimal.NewFromInt(3350))
	now = now.Add(time.Second)
	b.CheckPrice(decimal.NewFromInt(3600))
	if !b.IsTriggered() {
		t.Fatal("应已触发")
	}

	now = now.Add(time.Hour + time.Second)
	if b.IsTriggered() {
		t.Fatal("冷却结束后读取应自动复位")
	}
	if b.TimeUntilReset() != 0 {
		t.Fatal("复位后 TimeUntilReset 应为 0")
	}
}

func TestWindowEviction(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b := newTestBreaker(&now)

	b.CheckPrice(decimal.NewFromInt(3000))
	// Reference sample falls out of the 300s window before the jump arrives.
	now = now.Add(10 * time.Minute)
	b.CheckPrice(decimal.NewFromInt(3350))
	now = now.Add(time.Second)
	if b.CheckPrice(decimal.NewFromInt(3360)) {
		t.Fatal("窗口外的旧样本不应作为参考触发熔断")
	}
}
