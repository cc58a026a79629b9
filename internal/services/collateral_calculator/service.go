// Package collateral_calculator evaluates collateral requirements for a single
// loan/collateral token pair, keeping the result current while a pair is tracked.
package collateral_calculator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/blockchain"
	"github.com/archon-research/lendview/internal/pkg/scheduler"
	"github.com/archon-research/lendview/internal/pkg/units"
	"github.com/archon-research/lendview/internal/pkg/valuation"
	"github.com/archon-research/lendview/internal/ports/inbound"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

var _ inbound.CollateralCalculator = (*Service)(nil)

// ErrInvalidRequest wraps every request validation failure.
var ErrInvalidRequest = inbound.ErrInvalidRequest

// ErrNoPair is returned by Latest and AutoFillAmount before a pair is tracked.
var ErrNoPair = inbound.ErrNoPair

// Config holds configuration for the calculator.
type Config struct {
	RefreshInterval time.Duration
	StaleThreshold  time.Duration
	Logger          *slog.Logger
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		RefreshInterval: 30 * time.Second,
		StaleThreshold:  blockchain.DefaultStaleThreshold,
		Logger:          slog.Default(),
	}
}

// Service is the single-pair collateral calculator.
type Service struct {
	config   Config
	reader   *blockchain.FeedReader
	registry outbound.TokenRegistry
	logger   *slog.Logger

	mu      sync.RWMutex
	tracked *inbound.CollateralRequest
	latest  *inbound.CollateralResponse
	lastErr error

	sched *scheduler.Scheduler
}

// NewService creates a new collateral calculator.
func NewService(config Config, reader *blockchain.FeedReader, registry outbound.TokenRegistry) (*Service, error) {
	if reader == nil {
		return nil, fmt.Errorf("feed reader cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	defaults := ConfigDefaults()
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaults.RefreshInterval
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = defaults.StaleThreshold
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	s := &Service{
		config:   config,
		reader:   reader.WithStaleThreshold(config.StaleThreshold),
		registry: registry,
		logger:   config.Logger.With("component", "collateral-calculator"),
	}

	sched, err := scheduler.New(config.RefreshInterval, s.refreshTracked, s.logger)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	s.sched = sched
	return s, nil
}

type pair struct {
	loanToken, collToken       common.Address
	loanDecimals, collDecimals int
	loanAmount, collAmount     *big.Int
}

func (s *Service) parse(req inbound.CollateralRequest) (*pair, error) {
	var errs []error
	if !entity.IsWellFormedAddress(req.LoanToken) {
		errs = append(errs, fmt.Errorf("loanToken %q is not a valid address", req.LoanToken))
	}
	if !entity.IsWellFormedAddress(req.CollateralToken) {
		errs = append(errs, fmt.Errorf("collateralToken %q is not a valid address", req.CollateralToken))
	}
	if req.MinRatioBPS <= 0 {
		errs = append(errs, fmt.Errorf("minRatioBPS must be positive, got %d", req.MinRatioBPS))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	p := &pair{
		loanToken: common.HexToAddress(req.LoanToken),
		collToken: common.HexToAddress(req.CollateralToken),
	}
	p.loanDecimals = s.decimalsFor(p.loanToken)
	p.collDecimals = s.decimalsFor(p.collToken)

	loanAmount, err := parseAmount("loanAmount", req.LoanAmount, p.loanDecimals)
	if err != nil {
		return nil, err
	}
	p.loanAmount = loanAmount

	if req.CollateralAmount != "" {
		collAmount, err := parseAmount("collateralAmount", req.CollateralAmount, p.collDecimals)
		if err != nil {
			return nil, err
		}
		p.collAmount = collAmount
	}
	return p, nil
}

func parseAmount(field, value string, decimals int) (*big.Int, error) {
	amount, err := units.ParseUnits(value, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, field, err)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", ErrInvalidRequest, field)
	}
	return amount, nil
}

func (s *Service) decimalsFor(token common.Address) int {
	desc, ok := s.registry.Token(token)
	if !ok {
		return units.DecimalsOrDefault(0, false)
	}
	return units.DecimalsOrDefault(desc.Decimals, true)
}

// Calculate reads both prices in one batch and evaluates req.
func (s *Service) Calculate(ctx context.Context, req inbound.CollateralRequest) (*inbound.CollateralResponse, error) {
	p, err := s.parse(req)
	if err != nil {
		return nil, err
	}

	requests, tokenFeeds := blockchain.UniquePriceFeeds([]common.Address{p.loanToken, p.collToken}, s.registry)
	var results []entity.PriceFeedResult
	if len(requests) > 0 {
		results = s.reader.FetchPrices(ctx, requests)
	}
	lookup := blockchain.NewPriceLookup(results, tokenFeeds)

	calc := valuation.EvaluateCollateral(valuation.CollateralInput{
		LoanAmount:              p.loanAmount,
		LoanDecimals:            p.loanDecimals,
		LoanPrice:               priceFor(lookup, p.loanToken),
		CollateralAmount:        p.collAmount,
		CollateralDecimals:      p.collDecimals,
		CollateralPrice:         priceFor(lookup, p.collToken),
		MinRatioBPS:             req.MinRatioBPS,
		LiquidationThresholdBPS: req.LiquidationThresholdBPS,
	})

	suggested := "0"
	if !calc.HasPriceErrors {
		suggested = units.FormatUnits(valuation.ApplySafetyBuffer(calc.MinCollateralAmountRaw), p.collDecimals)
	}
	return &inbound.CollateralResponse{
		CollateralCalculation:     calc,
		SuggestedCollateralAmount: suggested,
	}, nil
}

func priceFor(lookup *blockchain.PriceLookup, token common.Address) entity.PriceFeedResult {
	if p, ok := lookup.Get(token); ok {
		return p
	}
	return blockchain.FailedPrice(blockchain.FeedRequest{TokenAddress: token})
}

// Track makes req the tracked pair and evaluates it immediately.
func (s *Service) Track(ctx context.Context, req inbound.CollateralRequest) (*inbound.CollateralResponse, error) {
	if _, err := s.parse(req); err != nil {
		return nil, err
	}
	resp, err := s.Calculate(ctx, req)

	s.mu.Lock()
	s.tracked = &req
	if err == nil {
		s.latest = resp
	}
	s.lastErr = err
	s.mu.Unlock()

	s.sched.Refresh()
	return resp, err
}

// Start keeps the tracked pair's calculation current.
func (s *Service) Start(ctx context.Context) error {
	if err := s.sched.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("collateral calculator started", "refreshInterval", s.config.RefreshInterval)
	return nil
}

// Stop halts refreshing.
func (s *Service) Stop() error {
	s.sched.Stop()
	return nil
}

// Latest returns the last evaluation of the tracked pair.
func (s *Service) Latest() (*inbound.CollateralResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil && s.lastErr == nil {
		return nil, ErrNoPair
	}
	return s.latest, s.lastErr
}

// AutoFillAmount returns the buffered minimum collateral of the tracked pair,
// which is what an auto-fill action writes into the amount field.
func (s *Service) AutoFillAmount() (string, error) {
	latest, err := s.Latest()
	if err != nil {
		return "", err
	}
	if latest.HasPriceErrors {
		return "", fmt.Errorf("tracked pair: %w", inbound.ErrPricesUnavailable)
	}
	return latest.SuggestedCollateralAmount, nil
}

func (s *Service) refreshTracked(ctx context.Context) {
	s.mu.RLock()
	tracked := s.tracked
	s.mu.RUnlock()
	if tracked == nil {
		return
	}

	resp, err := s.Calculate(ctx, *tracked)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.logger.Warn("collateral refresh failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The pair may have changed while prices were being read.
	if s.tracked != tracked {
		return
	}
	if err == nil {
		s.latest = resp
	}
	s.lastErr = err
}
