package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/authz"
	"goldsynth/internal/breaker"
	"goldsynth/internal/cache"
	"goldsynth/internal/config"
	"goldsynth/internal/dca"
	"goldsynth/internal/domain"
	"goldsynth/internal/oracle"
	"goldsynth/internal/token"
)

const admin = domain.Address("admin")

func newTestServer(t *testing.T) (*httptest.Server, *cache.Memory) {
	t.Helper()

	logger := zerolog.Nop()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	auth := authz.New(admin)
	agg := oracle.New(auth, clock, logger)
	if err := agg.AddSource(admin, "spot", domain.BpsDenominator, 600); err != nil {
		t.Fatal(err)
	}
	if err := agg.UpdatePrice(admin, "spot", decimal.NewFromInt(3350), now); err != nil {
		t.Fatal(err)
	}

	brk := breaker.New(breaker.Options{}, clock, logger)
	tok := token.New(token.Options{FeeRecipient: "treasury"}, agg, brk, auth, nil, clock, logger)
	plans := dca.New(tok, auth, "treasury", 0, nil, clock, logger)
	mem := cache.NewMemory(0, clock)

	srv := NewServer(config.APIConfig{AllowedOrigins: []string{"*"}}, mem, brk, tok, plans, logger)
	return httptest.NewServer(srv.Handler()), mem
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
}

func TestCreateAndListPlans(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	body := `{"amount_usd":"100","frequency_seconds":604800}`
	resp, err := http.Post(ts.URL+"/api/v1/users/user1/plans", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("创建计划应返回 201, 实际 %d", resp.StatusCode)
	}
	var created struct {
		PlanID int `json:"plan_id"`
	}
	decodeBody(t, resp, &created)
	if created.PlanID != 0 {
		t.Fatalf("首个计划 ID 应为 0, 实际 %d", created.PlanID)
	}

	resp, err = http.Get(ts.URL + "/api/v1/users/user1/plans")
	if err != nil {
		t.Fatal(err)
	}
	var listed struct {
		Plans []struct {
			AmountUsd string `json:"amount_usd"`
			Status    string `json:"status"`
		} `json:"plans"`
	}
	decodeBody(t, resp, &listed)
	if len(listed.Plans) != 1 || listed.Plans[0].AmountUsd != "100" || listed.Plans[0].Status != "active" {
		t.Fatalf("计划列表不正确: %+v", listed)
	}
}

func TestCreatePlanValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	body := `{"amount_usd":"0.001","frequency_seconds":604800}`
	resp, err := http.Post(ts.URL+"/api/v1/users/user1/plans", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("金额越界应返回 400, 实际 %d", resp.StatusCode)
	}
}

func TestPlanTransitions(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	body := `{"amount_usd":"100","frequency_seconds":604800}`
	resp, _ := http.Post(ts.URL+"/api/v1/users/user1/plans", "application/json", strings.NewReader(body))
	resp.Body.Close()

	resp, err := http.Post(ts.URL+"/api/v1/users/user1/plans/0/pause", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("暂停应返回 200, 实际 %d", resp.StatusCode)
	}

	resp, _ = http.Post(ts.URL+"/api/v1/users/user1/plans/0/cancel", "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("取消应返回 200, 实际 %d", resp.StatusCode)
	}

	// 已取消的计划不可恢复
	resp, _ = http.Post(ts.URL+"/api/v1/users/user1/plans/0/resume", "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("恢复已取消计划应返回 409, 实际 %d", resp.StatusCode)
	}

	// 不存在的计划
	resp, _ = http.Post(ts.URL+"/api/v1/users/user1/plans/9/pause", "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("不存在的计划应返回 404, 实际 %d", resp.StatusCode)
	}
}

func TestGetPriceFromCache(t *testing.T) {
	ts, mem := newTestServer(t)
	defer ts.Close()

	point := domain.PricePoint{Price: decimal.RequireFromString("3350.25"), At: time.Unix(1_700_000_000, 0)}
	if err := mem.SetLatest(context.Background(), point); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/price")
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Price  string `json:"price"`
		Source string `json:"source"`
	}
	decodeBody(t, resp, &got)
	if got.Price != "3350.25" || got.Source != "cache" {
		t.Fatalf("价格响应不正确: %+v", got)
	}
}

func TestGetTokenStats(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/token")
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Symbol     string `json:"symbol"`
		MintFeeBps int64  `json:"mint_fee_bps"`
		Paused     bool   `json:"paused"`
	}
	decodeBody(t, resp, &got)
	if got.Symbol != "PGAUx" || got.MintFeeBps != 50 || got.Paused {
		t.Fatalf("token 状态不正确: %+v", got)
	}
}
