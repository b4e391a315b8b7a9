package market

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func TestKalshiFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/KXFED-25JUN" {
			t.Fatalf("路径不正确: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("缺少鉴权头: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"market": map[string]any{
				"ticker":          "KXFED-25JUN",
				"yes_bid_dollars": "0.40",
				"yes_ask_dollars": 0.42,
			},
		})
	}))
	defer srv.Close()

	k := NewKalshi(KalshiOptions{BaseURL: srv.URL, APIKey: "key", UserAgent: "test"}, noopLogger())
	q, err := k.Fetch(context.Background(), "KXFED-25JUN")
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if !q.Bid.Equal(dec("0.40")) || !q.Ask.Equal(dec("0.42")) {
		t.Fatalf("期望 0.40/0.42, 实际 %s/%s", q.Bid, q.Ask)
	}
	if q.Venue != VenueKalshi || q.Instrument != "KXFED-25JUN" {
		t.Fatalf("quote identity: %+v", q)
	}
	if q.LocalTimestamp.IsZero() || q.RemoteTimestamp.IsZero() {
		t.Fatal("both timestamps must be stamped")
	}
}

func TestKalshiFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	k := NewKalshi(KalshiOptions{BaseURL: srv.URL}, noopLogger())
	_, err := k.Fetch(context.Background(), "T")
	if err == nil {
		t.Fatal("429 应返回错误")
	}
	if !IsRateLimited(err) {
		t.Fatalf("429 必须分类为 RateLimited: %v", err)
	}
	te, _ := AsTransport(err)
	if te.Status != http.StatusTooManyRequests {
		t.Fatalf("status: %d", te.Status)
	}
}

func TestKalshiFetchAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	k := NewKalshi(KalshiOptions{BaseURL: srv.URL}, noopLogger())
	_, err := k.Fetch(context.Background(), "T")
	te, ok := AsTransport(err)
	if !ok || te.Kind != ErrAuthN {
		t.Fatalf("401 must classify as AuthN: %v", err)
	}
}

func TestKalshiFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	k := NewKalshi(KalshiOptions{BaseURL: srv.URL}, noopLogger())
	_, err := k.Fetch(context.Background(), "T")
	te, ok := AsTransport(err)
	if !ok || te.Kind != ErrHTTP {
		t.Fatalf("500 must classify as Http: %v", err)
	}
}

func TestKalshiFetchDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	k := NewKalshi(KalshiOptions{BaseURL: srv.URL}, noopLogger())
	_, err := k.Fetch(context.Background(), "T")
	te, ok := AsTransport(err)
	if !ok || te.Kind != ErrDecode {
		t.Fatalf("garbage body must classify as Decode: %v", err)
	}
}

func TestKalshiFetchMissingPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"market": map[string]any{"ticker": "T"}})
	}))
	defer srv.Close()

	k := NewKalshi(KalshiOptions{BaseURL: srv.URL}, noopLogger())
	_, err := k.Fetch(context.Background(), "T")
	te, ok := AsTransport(err)
	if !ok || te.Kind != ErrDecode {
		t.Fatalf("missing prices must classify as Decode: %v", err)
	}
}
