package collateral_calculator

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/blockchain"
	"github.com/archon-research/lendview/internal/ports/inbound"
	"github.com/archon-research/lendview/internal/testutil"
)

var (
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	gov      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	usdcFeed = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	govFeed  = common.HexToAddress("0x00000000000000000000000000000000000000f2")
)

func newTestService(t *testing.T) (*Service, *testutil.FeedMulticaller) {
	t.Helper()
	now := time.Now().Unix()
	mc := testutil.NewFeedMulticaller(t, map[common.Address]testutil.FeedAnswer{
		usdcFeed: {Answer: big.NewInt(100_000_000), Decimals: 8, UpdatedAt: now},
		govFeed:  {Answer: big.NewInt(50_000_000), Decimals: 8, UpdatedAt: now},
	})
	reader, err := blockchain.NewFeedReader(mc, blockchain.FeedReaderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	registry := testutil.NewMockTokenRegistry().
		AddToken(usdc, "USDC", 6, usdcFeed).
		AddToken(gov, "GOV", 18, govFeed)

	svc, err := NewService(Config{RefreshInterval: time.Hour}, reader, registry)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Stop() })
	return svc, mc
}

func baseRequest() inbound.CollateralRequest {
	return inbound.CollateralRequest{
		LoanToken:       usdc.Hex(),
		LoanAmount:      "1000",
		CollateralToken: gov.Hex(),
		MinRatioBPS:     15_000,
	}
}

func TestNewService_Defaults(t *testing.T) {
	reader, err := blockchain.NewFeedReader(testutil.NewMockMulticaller(), blockchain.FeedReaderConfig{})
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewService(Config{}, reader, testutil.NewMockTokenRegistry())
	if err != nil {
		t.Fatal(err)
	}
	if svc.config.RefreshInterval != 30*time.Second {
		t.Errorf("RefreshInterval = %v, want 30s", svc.config.RefreshInterval)
	}
	if _, err := NewService(Config{}, nil, testutil.NewMockTokenRegistry()); err == nil {
		t.Error("expected error for nil reader")
	}
}

func TestCalculate_MinimumWithBuffer(t *testing.T) {
	svc, mc := newTestService(t)

	resp, err := svc.Calculate(context.Background(), baseRequest())
	if err != nil {
		t.Fatal(err)
	}
	if mc.Count() != 1 {
		t.Errorf("dispatches = %d, want 1", mc.Count())
	}
	if resp.MinCollateralAmount != "3000" {
		t.Errorf("MinCollateralAmount = %q, want 3000", resp.MinCollateralAmount)
	}
	if resp.SuggestedCollateralAmount != "3003" {
		t.Errorf("SuggestedCollateralAmount = %q, want 3003", resp.SuggestedCollateralAmount)
	}
	if resp.Health != entity.HealthUnknown {
		t.Errorf("Health = %v, want unknown without user amount", resp.Health)
	}
}

func TestCalculate_HealthWithUserAmount(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		amount string
		want   entity.Health
	}{
		{"2500", entity.HealthUnhealthy},
		{"3000", entity.HealthHealthy},
		{"0", entity.HealthUnknown},
	}
	for _, tt := range tests {
		req := baseRequest()
		req.CollateralAmount = tt.amount
		resp, err := svc.Calculate(context.Background(), req)
		if err != nil {
			t.Fatal(err)
		}
		if resp.Health != tt.want {
			t.Errorf("amount %s: Health = %v, want %v", tt.amount, resp.Health, tt.want)
		}
	}
}

func TestCalculate_InvalidRequests(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name   string
		mutate func(*inbound.CollateralRequest)
	}{
		{"bad loan token", func(r *inbound.CollateralRequest) { r.LoanToken = "0x12" }},
		{"bad collateral token", func(r *inbound.CollateralRequest) { r.CollateralToken = "usdc" }},
		{"zero ratio", func(r *inbound.CollateralRequest) { r.MinRatioBPS = 0 }},
		{"unparsable amount", func(r *inbound.CollateralRequest) { r.LoanAmount = "lots" }},
		{"negative collateral", func(r *inbound.CollateralRequest) { r.CollateralAmount = "-1" }},
		{"exponent loan amount", func(r *inbound.CollateralRequest) { r.LoanAmount = "1e50000000" }},
		{"oversized collateral", func(r *inbound.CollateralRequest) { r.CollateralAmount = strings.Repeat("9", 79) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest()
			tt.mutate(&req)
			if _, err := svc.Calculate(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestCalculate_PriceFailureFailsClosed(t *testing.T) {
	svc, mc := newTestService(t)
	mc.SetFeed(govFeed, testutil.FeedAnswer{Revert: true})

	req := baseRequest()
	req.CollateralAmount = "1000000"
	resp, err := svc.Calculate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.HasPriceErrors || resp.Health != entity.HealthUnhealthy {
		t.Errorf("errors=%v health=%v, want true/unhealthy", resp.HasPriceErrors, resp.Health)
	}
	if resp.SuggestedCollateralAmount != "0" {
		t.Errorf("SuggestedCollateralAmount = %q, want 0", resp.SuggestedCollateralAmount)
	}
}

func TestTrackAndAutoFill(t *testing.T) {
	svc, mc := newTestService(t)

	if _, err := svc.AutoFillAmount(); !errors.Is(err, ErrNoPair) {
		t.Errorf("err = %v, want ErrNoPair", err)
	}

	if _, err := svc.Track(context.Background(), baseRequest()); err != nil {
		t.Fatal(err)
	}
	amount, err := svc.AutoFillAmount()
	if err != nil || amount != "3003" {
		t.Fatalf("AutoFillAmount = %q/%v, want 3003", amount, err)
	}

	// Collateral price doubles; the scheduled refresh picks it up.
	mc.SetFeed(govFeed, testutil.FeedAnswer{Answer: big.NewInt(100_000_000), Decimals: 8, UpdatedAt: time.Now().Unix()})
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		amount, err = svc.AutoFillAmount()
		if err == nil && amount == "1501.5" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("AutoFillAmount = %q/%v, want 1501.5 after refresh", amount, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTrack_InvalidRequestKeepsPreviousPair(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Track(context.Background(), baseRequest()); err != nil {
		t.Fatal(err)
	}
	bad := baseRequest()
	bad.MinRatioBPS = -1
	if _, err := svc.Track(context.Background(), bad); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if amount, err := svc.AutoFillAmount(); err != nil || amount != "3003" {
		t.Errorf("AutoFillAmount = %q/%v, want previous 3003", amount, err)
	}
}

func TestAutoFillAmount_PricesUnavailable(t *testing.T) {
	svc, mc := newTestService(t)
	mc.SetFeed(govFeed, testutil.FeedAnswer{Revert: true})

	if _, err := svc.Track(context.Background(), baseRequest()); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AutoFillAmount(); !errors.Is(err, inbound.ErrPricesUnavailable) {
		t.Errorf("err = %v, want ErrPricesUnavailable", err)
	}
	if _, err := svc.Latest(); err != nil {
		t.Errorf("Latest() error = %v, want the degraded calculation", err)
	}
}
