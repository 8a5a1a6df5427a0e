package oracle

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/authz"
	"goldsynth/internal/domain"
)

const admin = domain.Address("admin")

func newTestAggregator(now *time.Time) *Aggregator {
	auth := authz.New(admin)
	return New(auth, func() time.Time { return *now }, zerolog.Nop())
}

func TestAddSourceWeightLimit(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newTestAggregator(&now)

	if err := agg.AddSource(admin, "chainlink", 6000, 120); err != nil {
		t.Fatalf("注册第一个源不应失败: %v", err)
	}
	if err := agg.AddSource(admin, "bandprotocol", 5000, 120); !errors.Is(err, domain.ErrInvalidWeight) {
		t.Fatalf("总权重超过 10000 应返回 ErrInvalidWeight, 实际 %v", err)
	}
	if err := agg.AddSource(admin, "bandprotocol", 4000, 120); err != nil {
		t.Fatalf("权重恰好填满不应失败: %v", err)
	}
}

func TestAddSourceUnauthorized(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newTestAggregator(&now)
	if err := agg.AddSource("mallory", "x", 100, 60); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("应返回 ErrUnauthorized, 实际 %v", err)
	}
}

func TestUpdatePriceUnknownSource(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newTestAggregator(&now)
	err := agg.UpdatePrice(admin, "ghost", decimal.NewFromInt(3350), now)
	if !errors.Is(err, domain.ErrUnknownSource) {
		t.Fatalf("应返回 ErrUnknownSource, 实际 %v", err)
	}
}

func TestLatestPriceWeightedAverage(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newTestAggregator(&now)

	mustAdd := func(id string, w int64) {
		t.Helper()
		if err := agg.AddSource(admin, id, w, 300); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	mustAdd("a", 6000)
	mustAdd("b", 4000)

	if err := agg.UpdatePrice(admin, "a", decimal.NewFromInt(3300), now); err != nil {
		t.Fatal(err)
	}
	if err := agg.UpdatePrice(admin, "b", decimal.NewFromInt(3400), now.Add(10*time.Second)); err != nil {
		t.Fatal(err)
	}

	price, ts, err := agg.LatestPrice()
	if err != nil {
		t.Fatalf("聚合不应失败: %v", err)
	}
	// 3300*0.6 + 3400*0.4 = 3340
	if !price.Equal(decimal.NewFromInt(3340)) {
		t.Fatalf("期望加权均价 3340, 实际 %s", price)
	}
	if !ts.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("时间戳应为最新报价时间, 实际 %s", ts)
	}
}

func TestLatestPriceRenormalizesOverLiveWeight(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newTestAggregator(&now)

	if err := agg.AddSource(admin, "fresh", 3000, 600); err != nil {
		t.Fatal(err)
	}
	if err := agg.AddSource(admin, "stale", 7000, 60); err != nil {
		t.Fatal(err)
	}
	if err := agg.UpdatePrice(admin, "fresh", decimal.NewFromInt(3350), now); err != nil {
		t.Fatal(err)
	}
	if err := agg.UpdatePrice(admin, "stale", decimal.NewFromInt(9999), now); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute) // "stale" drops out, "fresh" remains

	price, _, err := agg.LatestPrice()
	if err != nil {
		t.Fatalf("仍有新鲜源时不应失败: %v", err)
	}
	if !price.Equal(decimal.NewFromInt(3350)) {
		t.Fatalf("剩余权重应重新归一化, 期望 3350, 实际 %s", price)
	}
}

func TestLatestPriceAllStale(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newTestAggregator(&now)

	if err := agg.AddSource(admin, "only", 10000, 60); err != nil {
		t.Fatal(err)
	}
	if err := agg.UpdatePrice(admin, "only", decimal.NewFromInt(3350), now); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)

	if _, _, err := agg.LatestPrice(); !errors.Is(err, domain.ErrNoFreshSources) {
		t.Fatalf("唯一源过期后应返回 ErrNoFreshSources, 实际 %v", err)
	}
}

func TestLatestPriceNeverReported(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newTestAggregator(&now)

	if err := agg.AddSource(admin, "silent", 10000, 60); err != nil {
		t.Fatal(err)
	}
	if _, _, err := agg.LatestPrice(); !errors.Is(err, domain.ErrNoFreshSources) {
		t.Fatalf("从未报价的源不应参与聚合, 实际 %v", err)
	}
}

func TestLatestPriceDeterministic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := newTestAggregator(&now)

	for _, s := range []struct {
		id string
		w  int64
		p  int64
	}{{"c", 3000, 3341}, {"a", 3000, 3352}, {"b", 4000, 3347}} {
		if err := agg.AddSource(admin, s.id, s.w, 600); err != nil {
			t.Fatal(err)
		}
		if err := agg.UpdatePrice(admin, s.id, decimal.NewFromInt(s.p), now); err != nil {
			t.Fatal(err)
		}
	}

	first, _, err := agg.LatestPrice()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, _, err := agg.LatestPrice()
		if err != nil {
			t.Fatal(err)
		}
		if !again.Equal(first) {
			t.Fatalf("同一状态下聚合结果应确定: %s != %s", again, first)
		}
	}
}
