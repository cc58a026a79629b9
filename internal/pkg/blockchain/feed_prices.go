package blockchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/blockchain/abis"
	"github.com/archon-research/lendview/internal/pkg/units"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

const (
	// DefaultStaleThreshold is the age after which a feed answer is flagged stale.
	DefaultStaleThreshold = time.Hour

	// PriceDisplayPlaces is the number of decimals in PriceFeedResult.FormattedPrice.
	PriceDisplayPlaces = 4

	callsPerFeed = 2 // latestRoundData + decimals
)

// FeedRequest asks for the latest answer of one price feed.
type FeedRequest struct {
	TokenAddress common.Address
	FeedAddress  common.Address
}

// FeedReaderConfig holds configuration for FeedReader.
type FeedReaderConfig struct {
	// StaleThreshold is the maximum answer age before IsStale is set. Default 1h.
	StaleThreshold time.Duration

	// BatchSize is the number of feeds packed into one multicall. Default 100.
	BatchSize int

	// MaxConcurrency caps the number of batches in flight. Default 8.
	MaxConcurrency int

	Logger *slog.Logger

	// Now is the clock used for staleness. Default time.Now.
	Now func() time.Time
}

// FeedReaderConfigDefaults returns the default configuration.
func FeedReaderConfigDefaults() FeedReaderConfig {
	return FeedReaderConfig{
		StaleThreshold: DefaultStaleThreshold,
		BatchSize:      100,
		MaxConcurrency: 8,
		Logger:         slog.Default(),
		Now:            time.Now,
	}
}

// FeedReader reads AggregatorV3 price feeds through a Multicaller.
type FeedReader struct {
	config      FeedReaderConfig
	multicaller outbound.Multicaller
	feedABI     *abi.ABI
	roundData   []byte
	decimals    []byte
	logger      *slog.Logger
}

// NewFeedReader creates a FeedReader.
func NewFeedReader(multicaller outbound.Multicaller, config FeedReaderConfig) (*FeedReader, error) {
	if multicaller == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}

	defaults := FeedReaderConfigDefaults()
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = defaults.StaleThreshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	feedABI, err := abis.GetAggregatorV3ABI()
	if err != nil {
		return nil, fmt.Errorf("loading AggregatorV3 ABI: %w", err)
	}
	roundData, err := feedABI.Pack("latestRoundData")
	if err != nil {
		return nil, fmt.Errorf("packing latestRoundData: %w", err)
	}
	decimals, err := feedABI.Pack("decimals")
	if err != nil {
		return nil, fmt.Errorf("packing decimals: %w", err)
	}

	return &FeedReader{
		config:      config,
		multicaller: multicaller,
		feedABI:     feedABI,
		roundData:   roundData,
		decimals:    decimals,
		logger:      config.Logger.With("component", "feed-reader"),
	}, nil
}

// WithStaleThreshold returns a reader sharing r's multicaller but flagging
// answers older than threshold as stale. A non-positive threshold returns r.
func (r *FeedReader) WithStaleThreshold(threshold time.Duration) *FeedReader {
	if threshold <= 0 || threshold == r.config.StaleThreshold {
		return r
	}
	clone := *r
	clone.config.StaleThreshold = threshold
	return &clone
}

// StaleThreshold returns the configured staleness threshold.
func (r *FeedReader) StaleThreshold() time.Duration {
	return r.config.StaleThreshold
}

// FetchPrices reads latestRoundData() and decimals() for every feed.
//
// All batches are dispatched before any is awaited, and FetchPrices returns
// only once every batch has settled. It always returns exactly one result per
// request, in request order. A failed call, a non-positive answer or a zero
// updatedAt degrades only the affected feed; a failed batch degrades only the
// feeds it carried.
func (r *FeedReader) FetchPrices(ctx context.Context, feeds []FeedRequest) []entity.PriceFeedResult {
	if len(feeds) == 0 {
		return nil
	}

	out := make([]entity.PriceFeedResult, len(feeds))
	now := r.config.Now()

	var g errgroup.Group
	g.SetLimit(r.config.MaxConcurrency)

	for start := 0; start < len(feeds); start += r.config.BatchSize {
		end := min(start+r.config.BatchSize, len(feeds))
		batch := feeds[start:end]
		dst := out[start:end]
		g.Go(func() error {
			r.fetchBatch(ctx, batch, dst, now)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (r *FeedReader) fetchBatch(ctx context.Context, feeds []FeedRequest, dst []entity.PriceFeedResult, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("feed batch panicked", "feeds", len(feeds), "panic", rec)
			for i, f := range feeds {
				dst[i] = FailedPrice(f)
			}
		}
	}()

	calls := make([]outbound.Call, 0, len(feeds)*callsPerFeed)
	for _, f := range feeds {
		calls = append(calls,
			outbound.Call{Target: f.FeedAddress, AllowFailure: true, CallData: r.roundData},
			outbound.Call{Target: f.FeedAddress, AllowFailure: true, CallData: r.decimals},
		)
	}

	results, err := r.multicaller.Execute(ctx, calls, nil)
	if err == nil && len(results) != len(calls) {
		err = fmt.Errorf("expected %d multicall results, got %d", len(calls), len(results))
	}
	if err != nil {
		r.logger.Warn("price feed batch failed", "feeds", len(feeds), "error", err)
		for i, f := range feeds {
			dst[i] = FailedPrice(f)
		}
		return
	}

	for i, f := range feeds {
		dst[i] = r.decodeFeed(f, results[i*callsPerFeed], results[i*callsPerFeed+1], now)
	}
}

func (r *FeedReader) decodeFeed(f FeedRequest, round, dec outbound.Result, now time.Time) entity.PriceFeedResult {
	if !round.Success || !dec.Success {
		r.logger.Debug("feed call reverted", "feed", f.FeedAddress.Hex(), "token", f.TokenAddress.Hex())
		return FailedPrice(f)
	}

	answer, updatedAt, err := unpackLatestRoundData(r.feedABI, round.ReturnData)
	if err != nil {
		r.logger.Warn("undecodable latestRoundData", "feed", f.FeedAddress.Hex(), "error", err)
		return FailedPrice(f)
	}
	decimals, err := unpackDecimals(r.feedABI, dec.ReturnData)
	if err != nil {
		r.logger.Warn("undecodable decimals", "feed", f.FeedAddress.Hex(), "error", err)
		return FailedPrice(f)
	}

	if answer.Sign() <= 0 {
		r.logger.Warn("feed returned non-positive answer", "feed", f.FeedAddress.Hex(), "answer", answer)
		return FailedPrice(f)
	}
	if updatedAt.Sign() == 0 {
		r.logger.Warn("feed round not complete", "feed", f.FeedAddress.Hex())
		return FailedPrice(f)
	}
	if !updatedAt.IsInt64() {
		r.logger.Warn("feed updatedAt out of range", "feed", f.FeedAddress.Hex(), "updatedAt", updatedAt)
		return FailedPrice(f)
	}

	ts := updatedAt.Int64()
	return entity.PriceFeedResult{
		TokenAddress:   f.TokenAddress,
		FeedAddress:    f.FeedAddress,
		RawPrice:       answer,
		FeedDecimals:   int(decimals),
		UpdatedAt:      ts,
		IsStale:        IsStale(ts, now, r.config.StaleThreshold),
		Success:        true,
		FormattedPrice: units.Format(answer, int(decimals), PriceDisplayPlaces),
	}
}

// IsStale reports whether an answer updated at updatedAt (unix seconds) is
// older than threshold at now. An age equal to the threshold is still fresh.
func IsStale(updatedAt int64, now time.Time, threshold time.Duration) bool {
	age := now.Unix() - updatedAt
	return age > int64(threshold/time.Second)
}

// FailedPrice is the placeholder result for a feed that could not be read.
func FailedPrice(f FeedRequest) entity.PriceFeedResult {
	return entity.PriceFeedResult{
		TokenAddress:   f.TokenAddress,
		FeedAddress:    f.FeedAddress,
		RawPrice:       new(big.Int),
		FeedDecimals:   units.DefaultFeedDecimals,
		IsStale:        true,
		Success:        false,
		FormattedPrice: units.Format(nil, units.DefaultFeedDecimals, PriceDisplayPlaces),
	}
}

// latestRoundData returns: (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound)
func unpackLatestRoundData(feedABI *abi.ABI, data []byte) (*big.Int, *big.Int, error) {
	unpacked, err := feedABI.Unpack("latestRoundData", data)
	if err != nil {
		return nil, nil, err
	}
	if len(unpacked) != 5 {
		return nil, nil, fmt.Errorf("expected 5 return values, got %d", len(unpacked))
	}
	answer, ok := unpacked[1].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected answer type %T", unpacked[1])
	}
	updatedAt, ok := unpacked[3].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected updatedAt type %T", unpacked[3])
	}
	return answer, updatedAt, nil
}

func unpackDecimals(feedABI *abi.ABI, data []byte) (uint8, error) {
	unpacked, err := feedABI.Unpack("decimals", data)
	if err != nil {
		return 0, err
	}
	d, ok := unpacked[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T", unpacked[0])
	}
	return d, nil
}
