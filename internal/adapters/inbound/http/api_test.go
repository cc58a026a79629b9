package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/inbound"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

type mockComparer struct {
	mu        sync.Mutex
	LatestFn  func() *inbound.ComparisonSnapshot
	PricesFn  func(ctx context.Context, tokens []string) ([]entity.PriceFeedResult, error)
	refreshes int
	subs      map[uuid.UUID]chan *inbound.ComparisonSnapshot
}

func (m *mockComparer) Latest() *inbound.ComparisonSnapshot {
	if m.LatestFn != nil {
		return m.LatestFn()
	}
	return nil
}

func (m *mockComparer) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
}

func (m *mockComparer) Subscribe() (uuid.UUID, <-chan *inbound.ComparisonSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = make(map[uuid.UUID]chan *inbound.ComparisonSnapshot)
	}
	id := uuid.New()
	ch := make(chan *inbound.ComparisonSnapshot, 4)
	if latest := m.Latest(); latest != nil {
		ch <- latest
	}
	m.subs[id] = ch
	return id, ch
}

func (m *mockComparer) Unsubscribe(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
}

func (m *mockComparer) publish(s *inbound.ComparisonSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		ch <- s
	}
}

func (m *mockComparer) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *mockComparer) Prices(ctx context.Context, tokens []string) ([]entity.PriceFeedResult, error) {
	if m.PricesFn != nil {
		return m.PricesFn(ctx, tokens)
	}
	return nil, errors.New("Prices not mocked")
}

type mockCalculator struct {
	CalculateFn      func(ctx context.Context, req inbound.CollateralRequest) (*inbound.CollateralResponse, error)
	TrackFn          func(ctx context.Context, req inbound.CollateralRequest) (*inbound.CollateralResponse, error)
	LatestFn         func() (*inbound.CollateralResponse, error)
	AutoFillAmountFn func() (string, error)
}

func (m *mockCalculator) Calculate(ctx context.Context, req inbound.CollateralRequest) (*inbound.CollateralResponse, error) {
	return m.CalculateFn(ctx, req)
}

func (m *mockCalculator) Track(ctx context.Context, req inbound.CollateralRequest) (*inbound.CollateralResponse, error) {
	return m.TrackFn(ctx, req)
}

func (m *mockCalculator) Latest() (*inbound.CollateralResponse, error) {
	return m.LatestFn()
}

func (m *mockCalculator) AutoFillAmount() (string, error) {
	return m.AutoFillAmountFn()
}

type mockStats struct {
	ProtocolStatsFn func(ctx context.Context) (*outbound.ProtocolStats, error)
}

func (m *mockStats) ProtocolStats(ctx context.Context) (*outbound.ProtocolStats, error) {
	return m.ProtocolStatsFn(ctx)
}

func view(id string, status entity.LoanStatus, health entity.Health) entity.EnrichedLoanView {
	return entity.EnrichedLoanView{
		LoanSnapshot: entity.LoanSnapshot{
			ID:               id,
			Amount:           big.NewInt(1),
			CollateralAmount: big.NewInt(1),
			Status:           status,
		},
		CurrentLoanValueUSD: "1000.00",
		Health:              health,
	}
}

func snapshot() *inbound.ComparisonSnapshot {
	return &inbound.ComparisonSnapshot{
		Loans: []entity.EnrichedLoanView{
			view("1", entity.LoanStatusActive, entity.HealthHealthy),
			view("2", entity.LoanStatusRepaid, entity.HealthUnknown),
			view("3", entity.LoanStatusActive, entity.HealthUnhealthy),
		},
		Stats:     entity.ComparisonStats{Total: 3},
		UpdatedAt: 1_700_000_000,
	}
}

func newTestAPI(t *testing.T, comparer *mockComparer, calc *mockCalculator, stats inbound.StatsReader) http.Handler {
	t.Helper()
	if calc == nil {
		calc = &mockCalculator{}
	}
	api, err := NewAPI(APIConfig{
		Stream: StreamConfig{WriteTimeout: time.Second, PingInterval: 50 * time.Millisecond},
	}, comparer, calc, stats)
	if err != nil {
		t.Fatalf("NewAPI() error = %v", err)
	}
	return api.Routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewAPI_Validation(t *testing.T) {
	if _, err := NewAPI(APIConfig{}, nil, &mockCalculator{}, nil); err == nil {
		t.Error("expected error for nil comparer")
	}
	if _, err := NewAPI(APIConfig{}, &mockComparer{}, nil, nil); err == nil {
		t.Error("expected error for nil calculator")
	}
}

func TestListLoans(t *testing.T) {
	comparer := &mockComparer{}
	h := newTestAPI(t, comparer, nil, nil)

	if w := do(t, h, http.MethodGet, "/api/v1/loans", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("before first cycle: status = %d, want 503", w.Code)
	}

	comparer.LatestFn = snapshot

	w := do(t, h, http.MethodGet, "/api/v1/loans", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var all inbound.ComparisonSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatal(err)
	}
	if len(all.Loans) != 3 || all.UpdatedAt != 1_700_000_000 {
		t.Errorf("loans = %d, updatedAt = %d", len(all.Loans), all.UpdatedAt)
	}

	w = do(t, h, http.MethodGet, "/api/v1/loans?status=active", "")
	var active inbound.ComparisonSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &active); err != nil {
		t.Fatal(err)
	}
	if len(active.Loans) != 2 || active.Stats.Total != 2 || active.Stats.UnhealthyPositions != 1 {
		t.Errorf("filtered = %d loans, stats = %+v", len(active.Loans), active.Stats)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/loans?status=liquidated", ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown status: code = %d, want 400", w.Code)
	}
}

func TestRefreshLoans(t *testing.T) {
	comparer := &mockComparer{}
	h := newTestAPI(t, comparer, nil, nil)

	w := do(t, h, http.MethodPost, "/api/v1/loans/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if comparer.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", comparer.refreshes)
	}
}

func TestCalculateCollateral(t *testing.T) {
	calc := &mockCalculator{
		CalculateFn: func(_ context.Context, req inbound.CollateralRequest) (*inbound.CollateralResponse, error) {
			if req.MinRatioBPS <= 0 {
				return nil, fmt.Errorf("%w: minRatioBPS must be positive", inbound.ErrInvalidRequest)
			}
			if req.LoanToken == "0xdead" {
				return nil, errors.New("rpc unavailable")
			}
			return &inbound.CollateralResponse{
				CollateralCalculation: entity.CollateralCalculation{
					MinRatioBPS:         req.MinRatioBPS,
					MinCollateralAmount: "3000",
					Health:              entity.HealthUnknown,
				},
				SuggestedCollateralAmount: "3003",
			}, nil
		},
	}
	h := newTestAPI(t, &mockComparer{}, calc, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantField  string
	}{
		{"ok", `{"loanToken":"0x1","loanAmount":"1000","collateralToken":"0x2","minRatioBPS":15000}`, http.StatusOK, "3003"},
		{"invalid request", `{"loanToken":"0x1","loanAmount":"1000","collateralToken":"0x2","minRatioBPS":0}`, http.StatusBadRequest, ""},
		{"malformed json", `{"loanToken":`, http.StatusBadRequest, ""},
		{"unknown field", `{"loanToken":"0x1","ratio":1}`, http.StatusBadRequest, ""},
		{"upstream failure", `{"loanToken":"0xdead","loanAmount":"1","collateralToken":"0x2","minRatioBPS":1}`, http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/collateral/calculate", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body)
			}
			if tt.wantField == "" {
				return
			}
			var resp inbound.CollateralResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.SuggestedCollateralAmount != tt.wantField || resp.MinCollateralAmount != "3000" {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestTrackedCollateral(t *testing.T) {
	var tracked *inbound.CollateralRequest
	calc := &mockCalculator{
		TrackFn: func(_ context.Context, req inbound.CollateralRequest) (*inbound.CollateralResponse, error) {
			if req.MinRatioBPS <= 0 {
				return nil, fmt.Errorf("%w: minRatioBPS must be positive", inbound.ErrInvalidRequest)
			}
			tracked = &req
			return &inbound.CollateralResponse{SuggestedCollateralAmount: "3003"}, nil
		},
		LatestFn: func() (*inbound.CollateralResponse, error) {
			if tracked == nil {
				return nil, inbound.ErrNoPair
			}
			return &inbound.CollateralResponse{SuggestedCollateralAmount: "3003"}, nil
		},
		AutoFillAmountFn: func() (string, error) {
			switch {
			case tracked == nil:
				return "", inbound.ErrNoPair
			case tracked.LoanToken == "0xdead":
				return "", fmt.Errorf("tracked pair: %w", inbound.ErrPricesUnavailable)
			}
			return "3003", nil
		},
	}
	h := newTestAPI(t, &mockComparer{}, calc, nil)

	steps := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"latest before tracking", http.MethodGet, "/api/v1/collateral", "", http.StatusNotFound, ""},
		{"autofill before tracking", http.MethodGet, "/api/v1/collateral/autofill", "", http.StatusNotFound, ""},
		{"track invalid pair", http.MethodPut, "/api/v1/collateral/track", `{"loanToken":"0x1","loanAmount":"1","collateralToken":"0x2","minRatioBPS":0}`, http.StatusBadRequest, ""},
		{"track malformed body", http.MethodPut, "/api/v1/collateral/track", `{"loanToken":`, http.StatusBadRequest, ""},
		{"track pair", http.MethodPut, "/api/v1/collateral/track", `{"loanToken":"0x1","loanAmount":"1000","collateralToken":"0x2","minRatioBPS":15000}`, http.StatusOK, `"suggestedCollateralAmount":"3003"`},
		{"latest after tracking", http.MethodGet, "/api/v1/collateral", "", http.StatusOK, `"suggestedCollateralAmount":"3003"`},
		{"autofill after tracking", http.MethodGet, "/api/v1/collateral/autofill", "", http.StatusOK, `"collateralAmount":"3003"`},
		{"track unpriced pair", http.MethodPut, "/api/v1/collateral/track", `{"loanToken":"0xdead","loanAmount":"1","collateralToken":"0x2","minRatioBPS":15000}`, http.StatusOK, ""},
		{"autofill without prices", http.MethodGet, "/api/v1/collateral/autofill", "", http.StatusServiceUnavailable, ""},
	}
	for _, step := range steps {
		w := do(t, h, step.method, step.target, step.body)
		if w.Code != step.wantStatus {
			t.Fatalf("%s: status = %d, want %d (body %s)", step.name, w.Code, step.wantStatus, w.Body)
		}
		if step.wantBody != "" && !strings.Contains(w.Body.String(), step.wantBody) {
			t.Errorf("%s: body = %s, want it to contain %s", step.name, w.Body, step.wantBody)
		}
	}
	if tracked == nil || tracked.LoanToken != "0xdead" {
		t.Errorf("tracked = %+v, want last tracked pair", tracked)
	}
}

func TestPrices(t *testing.T) {
	var got []string
	comparer := &mockComparer{
		PricesFn: func(_ context.Context, tokens []string) ([]entity.PriceFeedResult, error) {
			got = tokens
			out := make([]entity.PriceFeedResult, len(tokens))
			for i, tok := range tokens {
				if !entity.IsWellFormedAddress(tok) {
					return nil, fmt.Errorf("%w: bad token", inbound.ErrInvalidRequest)
				}
				out[i] = entity.PriceFeedResult{TokenAddress: common.HexToAddress(tok), Success: true, FormattedPrice: "1.0000"}
			}
			return out, nil
		},
	}
	h := newTestAPI(t, comparer, nil, nil)

	a := "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	b := "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	w := do(t, h, http.MethodGet, "/api/v1/prices?token="+a+","+b, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("tokens = %v", got)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/prices", ""); w.Code != http.StatusBadRequest {
		t.Errorf("no tokens: status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/prices?token=nope", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad token: status = %d, want 400", w.Code)
	}
}

func TestProtocolStats(t *testing.T) {
	if w := do(t, newTestAPI(t, &mockComparer{}, nil, nil), http.MethodGet, "/api/v1/stats", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("without source: status = %d, want 501", w.Code)
	}

	stats := &mockStats{ProtocolStatsFn: func(context.Context) (*outbound.ProtocolStats, error) {
		return &outbound.ProtocolStats{TotalLoans: 7, TotalVolumeUSD: "10.00"}, nil
	}}
	w := do(t, newTestAPI(t, &mockComparer{}, nil, stats), http.MethodGet, "/api/v1/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got outbound.ProtocolStats
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.TotalLoans != 7 {
		t.Errorf("stats = %+v", got)
	}
}

func TestStreamLoans(t *testing.T) {
	comparer := &mockComparer{LatestFn: snapshot}
	srv := httptest.NewServer(newTestAPI(t, comparer, nil, nil))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/loans"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first inbound.ComparisonSnapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if len(first.Loans) != 3 {
		t.Errorf("first snapshot loans = %d, want 3", len(first.Loans))
	}

	comparer.publish(&inbound.ComparisonSnapshot{Error: "rpc down", UpdatedAt: 1_700_000_120})
	var second inbound.ComparisonSnapshot
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read second snapshot: %v", err)
	}
	if second.Error != "rpc down" {
		t.Errorf("second.Error = %q", second.Error)
	}

	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for comparer.subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := comparer.subscribers(); n != 0 {
		t.Errorf("subscribers after close = %d, want 0", n)
	}
}

func TestStreamLoans_RejectsForeignOrigin(t *testing.T) {
	srv := httptest.NewServer(newTestAPI(t, &mockComparer{}, nil, nil))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/loans"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("handshake response = %v, want 403", resp)
	}
}
