package feeds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestHTTPFetchMissingEndpoint(t *testing.T) {
	f := NewHTTP(HTTPOptions{ID: "spot"}, noopLogger())
	if _, _, err := f.FetchPrice(context.Background()); err == nil {
		t.Fatal("缺少 endpoint 时应返回错误")
	}
}

func TestHTTPFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"errorType": "bad"})
	}))
	defer srv.Close()

	f := NewHTTP(HTTPOptions{ID: "spot", Endpoint: srv.URL, Timeout: time.Second}, noopLogger())
	if _, _, err := f.FetchPrice(context.Background()); err == nil {
		t.Fatal("HTTP 400 应返回错误")
	}
}

func TestHTTPFetchSuccess(t *testing.T) {
	reported := int64(1_700_000_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"price":     "3350.25",
			"currency":  "USD",
			"timestamp": reported,
		})
	}))
	defer srv.Close()

	f := NewHTTP(HTTPOptions{ID: "spot", Endpoint: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	price, at, err := f.FetchPrice(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("3350.25")) {
		t.Fatalf("期望价格 3350.25, 实际 %s", price)
	}
	if at.Unix() != reported {
		t.Fatalf("应使用响应中的时间戳, 实际 %v", at)
	}
}

func TestHTTPFetchNonPositivePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"price": "0"})
	}))
	defer srv.Close()

	f := NewHTTP(HTTPOptions{ID: "spot", Endpoint: srv.URL, Timeout: time.Second}, noopLogger())
	if _, _, err := f.FetchPrice(context.Background()); err == nil {
		t.Fatal("非正价格应返回错误")
	}
}

func TestChainlinkMissingConfig(t *testing.T) {
	f := NewChainlink(ChainlinkOptions{ID: "xau_usd"}, noopLogger())
	if _, _, err := f.FetchPrice(context.Background()); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}

	f = NewChainlink(ChainlinkOptions{ID: "xau_usd", RPCURL: "http://localhost"}, noopLogger())
	if _, _, err := f.FetchPrice(context.Background()); err == nil {
		t.Fatal("缺少合约地址应报错")
	}
}

func TestStaticFeed(t *testing.T) {
	f := NewStatic("fallback", decimal.NewFromInt(3300))
	price, _, err := f.FetchPrice(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !price.Equal(decimal.NewFromInt(3300)) {
		t.Fatalf("静态价格错误: %s", price)
	}
}
