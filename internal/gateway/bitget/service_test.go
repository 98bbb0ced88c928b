package bitget

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"smartvol/internal/config"
)

func newTestService(t *testing.T, handler http.Handler, allowed []string) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s, err := NewService(config.BitgetProfile{
		BaseURL: srv.URL, Key: "k", Secret: "s", Passphrase: "p",
		ProductType: "umcbl", MarginCoin: "USDT",
	}, allowed)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func contractsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/mix/v1/market/contracts" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"code":"00000","msg":"success","data":[
			{"symbol":"BTCUSDT_UMCBL","volumePlace":"3","pricePlace":"1",
			 "sizeMultiplier":"0.001","minTradeNum":"0.001","maxMarketOrderQty":"100"}
		]}`))
	})
}

func TestIsAllowed(t *testing.T) {
	s := newTestService(t, http.NotFoundHandler(), []string{"BTC_USDT", "eth"})
	if !s.IsAllowed("BTCUSDT_UMCBL") || !s.IsAllowed("ETHUSDT_UMCBL") {
		t.Error("白名单符号应放行")
	}
	if s.IsAllowed("SOLUSDT_UMCBL") {
		t.Error("白名单外符号应拒绝")
	}

	open := newTestService(t, http.NotFoundHandler(), nil)
	if !open.IsAllowed("ANYUSDT_UMCBL") {
		t.Error("空白名单应放行所有符号")
	}
}

func TestCalcSizeFromUsd(t *testing.T) {
	s := newTestService(t, contractsHandler(), nil)
	ctx := context.Background()

	cases := []struct {
		usd, price string
		want       string
	}{
		{"200", "50000", "0.004"}, // 整除
		{"200", "60000", "0.003"}, // 按步长向下取整
		{"10", "50000", "0.001"},  // 低于最小下单量时抬到 minTradeNum
		{"10000000", "50000", "100.000"}, // 夹到 maxMarketOrderQty
	}
	for _, c := range cases {
		got, err := s.CalcSizeFromUsd(ctx, "BTCUSDT_UMCBL",
			decimal.RequireFromString(c.price), decimal.RequireFromString(c.usd))
		if err != nil {
			t.Errorf("CalcSizeFromUsd(%s/%s): %v", c.usd, c.price, err)
			continue
		}
		if got != c.want {
			t.Errorf("CalcSizeFromUsd(%s/%s) = %s, want %s", c.usd, c.price, got, c.want)
		}
	}

	if _, err := s.CalcSizeFromUsd(ctx, "BTCUSDT_UMCBL", decimal.Zero, decimal.RequireFromString("200")); err == nil {
		t.Error("价格为 0 应报错")
	}
	if _, err := s.CalcSizeFromUsd(ctx, "NOPEUSDT_UMCBL",
		decimal.RequireFromString("1"), decimal.RequireFromString("200")); err == nil {
		t.Error("未知合约应报错")
	}
}

func TestEnsureLeverageCached(t *testing.T) {
	calls := 0
	s := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"code":"00000","msg":"success"}`))
	}), nil)
	ctx := context.Background()

	if err := s.EnsureLeverage(ctx, "BTCUSDT_UMCBL", "10"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureLeverage(ctx, "BTCUSDT_UMCBL", "10"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("同参数杠杆应只下发一次, got %d", calls)
	}
	// 参数变化重新下发
	if err := s.EnsureLeverage(ctx, "BTCUSDT_UMCBL", "20"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("杠杆变化应重新下发, got %d", calls)
	}
}

func TestPlaceMarketHedgeRetry(t *testing.T) {
	var sides []string
	s := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		sides = append(sides, body["side"])
		if body["side"] == "sell" {
			w.Write([]byte(`{"code":"400172","msg":"side mismatch"}`))
			return
		}
		w.Write([]byte(`{"code":"00000","msg":"success"}`))
	}), nil)

	if err := s.PlaceMarket(context.Background(), "BTCUSDT_UMCBL", "sell", "0.004", "oid-1"); err != nil {
		t.Fatal(err)
	}
	if len(sides) != 2 || sides[0] != "sell" || sides[1] != "open_short" {
		t.Errorf("side mismatch 应改双向重试: %v", sides)
	}
}

func TestPlaceMarketOtherErrorNoRetry(t *testing.T) {
	calls := 0
	s := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"code":"40001","msg":"param error"}`))
	}), nil)

	if err := s.PlaceMarket(context.Background(), "BTCUSDT_UMCBL", "buy", "0.004", ""); err == nil {
		t.Fatal("业务错误应上抛")
	}
	if calls != 1 {
		t.Errorf("非 side mismatch 不应重试: %d", calls)
	}
}

func TestFlashCloseIdempotent(t *testing.T) {
	s := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"22002","msg":"No position to close"}`))
	}), nil)

	noop, err := s.FlashClose(context.Background(), "BTCUSDT", "long")
	if err != nil {
		t.Fatalf("无仓位应视为幂等成功: %v", err)
	}
	if !noop {
		t.Error("应返回 noop=true")
	}
}

func TestFlashCloseSuccess(t *testing.T) {
	var gotBody map[string]string
	s := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"code":"00000","msg":"success"}`))
	}), nil)

	noop, err := s.FlashClose(context.Background(), "OP_USDT", "short")
	if err != nil || noop {
		t.Fatalf("noop=%v err=%v", noop, err)
	}
	if gotBody["symbol"] != "OPUSDT" || gotBody["productType"] != "USDT-FUTURES" || gotBody["holdSide"] != "short" {
		t.Errorf("v2 请求体异常: %v", gotBody)
	}
}

func TestIsNoPositionErr(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{Code: "22002"}, true},
		{&APIError{Code: "40001", Message: "No position to close"}, true},
		{&APIError{Code: "40001", Message: "Position not found"}, true},
		{&APIError{Code: "40001", Message: "param error"}, false},
		{errors.New("position not found"), true},
		{errors.New("boom"), false},
	}
	for i, c := range cases {
		if got := IsNoPositionErr(c.err); got != c.want {
			t.Errorf("用例 %d: IsNoPositionErr(%v) = %v, want %v", i, c.err, got, c.want)
		}
	}
}

func TestV2ProductType(t *testing.T) {
	cases := map[string]string{
		"umcbl": "USDT-FUTURES",
		"dmcbl": "COIN-FUTURES",
		"cmcbl": "USDC-FUTURES",
	}
	for pt, want := range cases {
		s := &Service{productType: pt}
		if got := s.v2ProductType(); got != want {
			t.Errorf("v2ProductType(%s) = %s, want %s", pt, got, want)
		}
	}
}
