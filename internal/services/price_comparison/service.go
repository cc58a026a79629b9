// Package price_comparison joins loan snapshots with live oracle prices.
//
// One comparison cycle resolves every loan and collateral token to its price
// feed, reads all distinct feeds in one batched dispatch and enriches each loan
// from the shared, immutable price lookup. The service re-runs the cycle on a
// single-shot timer and publishes each result to subscribers.
package price_comparison

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/blockchain"
	"github.com/archon-research/lendview/internal/pkg/scheduler"
	"github.com/archon-research/lendview/internal/pkg/units"
	"github.com/archon-research/lendview/internal/pkg/valuation"
	"github.com/archon-research/lendview/internal/ports/inbound"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/lendview/internal/services/price_comparison"

var _ inbound.LoanComparer = (*Service)(nil)

// Result is one published comparison.
type Result = inbound.ComparisonSnapshot

// LoansFunc supplies the loans compared on every cycle.
type LoansFunc func(ctx context.Context) ([]*entity.LoanSnapshot, error)

// Options tune one comparison.
type Options struct {
	RefreshInterval      time.Duration
	StaleThreshold       time.Duration
	SignificantChangePct float64
}

// DefaultOptions returns the loan listing defaults.
func DefaultOptions() Options {
	return Options{
		RefreshInterval:      120 * time.Second,
		StaleThreshold:       blockchain.DefaultStaleThreshold,
		SignificantChangePct: valuation.DefaultSignificantChangePct,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = d.RefreshInterval
	}
	if o.StaleThreshold <= 0 {
		o.StaleThreshold = d.StaleThreshold
	}
	if o.SignificantChangePct <= 0 {
		o.SignificantChangePct = d.SignificantChangePct
	}
	return o
}

// Config holds configuration for the service.
type Config struct {
	Options

	// SubscriberBuffer is the channel capacity per subscriber. A subscriber
	// that falls behind misses snapshots rather than blocking publication.
	SubscriberBuffer int

	Metrics outbound.PriceMetricsRecorder
	Logger  *slog.Logger
	Now     func() time.Time
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		Options:          DefaultOptions(),
		SubscriberBuffer: 4,
		Logger:           slog.Default(),
		Now:              time.Now,
	}
}

// Service is the live price comparison aggregator.
type Service struct {
	config   Config
	reader   *blockchain.FeedReader
	registry outbound.TokenRegistry
	logger   *slog.Logger

	mu          sync.RWMutex
	latest      *Result
	lastSuccess time.Time

	subsMu sync.Mutex
	subs   map[uuid.UUID]chan *Result

	schedMu sync.Mutex
	sched   *scheduler.Scheduler
}

// NewService creates a new price comparison service.
func NewService(config Config, reader *blockchain.FeedReader, registry outbound.TokenRegistry) (*Service, error) {
	if reader == nil {
		return nil, fmt.Errorf("feed reader cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	defaults := ConfigDefaults()
	config.Options = config.Options.withDefaults()
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = defaults.SubscriberBuffer
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &Service{
		config:   config,
		reader:   reader,
		registry: registry,
		logger:   config.Logger.With("component", "price-comparison"),
		subs:     make(map[uuid.UUID]chan *Result),
	}, nil
}

// Compare enriches loans with current prices. Per-feed and per-loan failures
// degrade the affected views; an error is returned only when the cycle itself
// breaks. Compare never panics.
func (s *Service) Compare(ctx context.Context, loans []*entity.LoanSnapshot, opts Options) (result *Result, err error) {
	opts = opts.withDefaults()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "price_comparison.Compare",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("loans.count", len(loans))),
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("price comparison panicked: %v", r)
			result = nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "comparison failed")
		}
		span.End()
	}()

	requests, tokenFeeds := blockchain.UniquePriceFeeds(collectTokens(loans), s.registry)
	span.SetAttributes(attribute.Int("feeds.count", len(requests)))

	var results []entity.PriceFeedResult
	if len(requests) == 0 {
		s.logger.Debug("no price feeds configured for any loan token, skipping fetch", "loans", len(loans))
	} else {
		results = s.reader.WithStaleThreshold(opts.StaleThreshold).FetchPrices(ctx, requests)
		s.recordFeedResults(ctx, results)
	}
	lookup := blockchain.NewPriceLookup(results, tokenFeeds)

	now := s.config.Now()
	views := make([]entity.EnrichedLoanView, 0, len(loans))
	for _, loan := range loans {
		if loan == nil {
			continue
		}
		views = append(views, s.enrich(loan, lookup, opts, now))
	}

	return &Result{
		Loans:     views,
		Stats:     valuation.Summarize(views),
		Prices:    results,
		UpdatedAt: now.Unix(),
	}, nil
}

func (s *Service) enrich(loan *entity.LoanSnapshot, lookup *blockchain.PriceLookup, opts Options, now time.Time) entity.EnrichedLoanView {
	tokenPrice := s.priceFor(lookup, loan.TokenAddress)
	collPrice := s.priceFor(lookup, loan.CollateralAddress)
	tokenDecimals := s.decimalsFor(loan.TokenAddress)
	collDecimals := s.decimalsFor(loan.CollateralAddress)

	view := entity.EnrichedLoanView{
		LoanSnapshot:              *loan,
		CurrentTokenPrice:         tokenPrice.FormattedPrice,
		CurrentCollateralPrice:    collPrice.FormattedPrice,
		CurrentLoanValueUSD:       valuation.USDValue(loan.Amount, tokenDecimals, tokenPrice),
		CurrentCollateralValueUSD: valuation.USDValue(loan.CollateralAmount, collDecimals, collPrice),
		HasPriceErrors:            !tokenPrice.Valid() || !collPrice.Valid(),
		IsStalePrice:              tokenPrice.IsStale || collPrice.IsStale,
	}

	// A loan may tolerate less staleness than the global threshold.
	if maxAge := loan.MaxPriceStaleness; maxAge > 0 {
		limit := stalenessLimit(maxAge)
		if blockchain.IsStale(tokenPrice.UpdatedAt, now, limit) || blockchain.IsStale(collPrice.UpdatedAt, now, limit) {
			view.IsStalePrice = true
		}
	}

	calc := valuation.EvaluateCollateral(valuation.CollateralInput{
		LoanAmount:              loan.Amount,
		LoanDecimals:            tokenDecimals,
		LoanPrice:               tokenPrice,
		CollateralAmount:        loan.CollateralAmount,
		CollateralDecimals:      collDecimals,
		CollateralPrice:         collPrice,
		MinRatioBPS:             loan.MinCollateralRatioBPS,
		LiquidationThresholdBPS: loan.LiquidationThresholdBPS,
	})
	view.CollateralRatioBPS = calc.CurrentRatioBPS
	view.Health = calc.Health

	if tokenPrice.Valid() {
		switch {
		case loan.HasHistoricalPrice():
			current := units.FormatUnits(tokenPrice.RawPrice, tokenPrice.FeedDecimals)
			view.PriceChange = valuation.PriceChangeFrom(loan.HistoricalTokenPriceUSD, current, opts.SignificantChangePct)
		case loan.HistoricalLoanValueUSD != "":
			view.PriceChange = valuation.PriceChangeFrom(loan.HistoricalLoanValueUSD, view.CurrentLoanValueUSD, opts.SignificantChangePct)
		}
	}

	return view
}

// stalenessLimit converts a bound in seconds to a duration, saturating
// instead of wrapping for bounds beyond time.Duration's range.
func stalenessLimit(seconds int64) time.Duration {
	if seconds > maxStalenessSeconds {
		return math.MaxInt64
	}
	return time.Duration(seconds) * time.Second
}

const maxStalenessSeconds = math.MaxInt64 / int64(time.Second)

func (s *Service) priceFor(lookup *blockchain.PriceLookup, token common.Address) entity.PriceFeedResult {
	if p, ok := lookup.Get(token); ok {
		return p
	}
	return blockchain.FailedPrice(blockchain.FeedRequest{TokenAddress: token})
}

func (s *Service) decimalsFor(token common.Address) int {
	desc, ok := s.registry.Token(token)
	if !ok {
		return units.DecimalsOrDefault(0, false)
	}
	return units.DecimalsOrDefault(desc.Decimals, true)
}

func (s *Service) recordFeedResults(ctx context.Context, results []entity.PriceFeedResult) {
	if s.config.Metrics == nil {
		return
	}
	var ok, failed, stale int
	for _, r := range results {
		switch {
		case !r.Success:
			failed++
		case r.IsStale:
			ok++
			stale++
		default:
			ok++
		}
	}
	s.config.Metrics.RecordFeedResults(ctx, ok, failed, stale)
}

// Prices reads the current price of each token address in one batch.
func (s *Service) Prices(ctx context.Context, tokens []string) ([]entity.PriceFeedResult, error) {
	addrs := make([]common.Address, 0, len(tokens))
	var errs []error
	for _, t := range tokens {
		if !entity.IsWellFormedAddress(t) {
			errs = append(errs, fmt.Errorf("invalid token address %q", t))
			continue
		}
		addrs = append(addrs, common.HexToAddress(t))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", inbound.ErrInvalidRequest, err)
	}

	requests, tokenFeeds := blockchain.UniquePriceFeeds(addrs, s.registry)
	var results []entity.PriceFeedResult
	if len(requests) > 0 {
		results = s.reader.WithStaleThreshold(s.config.StaleThreshold).FetchPrices(ctx, requests)
	}
	lookup := blockchain.NewPriceLookup(results, tokenFeeds)

	out := make([]entity.PriceFeedResult, len(addrs))
	for i, a := range addrs {
		out[i] = s.priceFor(lookup, a)
	}
	return out, nil
}

func collectTokens(loans []*entity.LoanSnapshot) []common.Address {
	seen := make(map[common.Address]bool, len(loans)*2)
	out := make([]common.Address, 0, len(loans)*2)
	for _, l := range loans {
		if l == nil {
			continue
		}
		for _, a := range [2]common.Address{l.TokenAddress, l.CollateralAddress} {
			if a == (common.Address{}) || seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}
