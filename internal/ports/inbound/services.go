// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

// HealthChecker reports readiness and liveness for deployment probes.
type HealthChecker interface {
	// IsReady returns true once the first price comparison has been published.
	IsReady() bool

	// IsHealthy returns true while refresh cycles keep completing on schedule.
	IsHealthy() bool
}

// ComparisonSnapshot is one published state of the loan price comparison.
type ComparisonSnapshot struct {
	Loans  []entity.EnrichedLoanView `json:"loans"`
	Stats  entity.ComparisonStats    `json:"stats"`
	Prices []entity.PriceFeedResult  `json:"prices"`

	// Error is set when the last cycle failed; Loans then still holds the
	// previous cycle's views.
	Error     string `json:"error,omitempty"`
	UpdatedAt int64  `json:"updatedAt"` // unix seconds
}

// LoanComparer serves enriched loan listings.
type LoanComparer interface {
	// Latest returns the most recently published snapshot, or nil before the first cycle.
	Latest() *ComparisonSnapshot

	// Refresh runs a cycle now and re-arms the refresh timer.
	Refresh()

	// Subscribe delivers every published snapshot until Unsubscribe is called.
	Subscribe() (uuid.UUID, <-chan *ComparisonSnapshot)
	Unsubscribe(id uuid.UUID)

	// Prices reads the current prices of tokens in one batch.
	Prices(ctx context.Context, tokens []string) ([]entity.PriceFeedResult, error)
}

// ErrInvalidRequest marks errors caused by caller input rather than by the service.
var ErrInvalidRequest = errors.New("invalid request")

// CollateralRequest is a single-pair collateral calculation in human units.
type CollateralRequest struct {
	LoanToken        string `json:"loanToken"`
	LoanAmount       string `json:"loanAmount"`
	CollateralToken  string `json:"collateralToken"`
	CollateralAmount string `json:"collateralAmount,omitempty"`
	MinRatioBPS      int64  `json:"minRatioBPS"`

	LiquidationThresholdBPS int64 `json:"liquidationThresholdBPS,omitempty"`
}

// CollateralResponse is the calculation plus the buffered amount auto-fill would write.
type CollateralResponse struct {
	entity.CollateralCalculation
	SuggestedCollateralAmount string `json:"suggestedCollateralAmount"`
}

var (
	// ErrNoPair is returned before any collateral pair has been tracked.
	ErrNoPair = errors.New("no collateral pair tracked")

	// ErrPricesUnavailable is returned when an answer depends on prices that could not be read.
	ErrPricesUnavailable = errors.New("prices unavailable")
)

// CollateralCalculator evaluates collateral requirements.
type CollateralCalculator interface {
	// Calculate evaluates req once.
	Calculate(ctx context.Context, req CollateralRequest) (*CollateralResponse, error)

	// Track makes req the pair kept current by the refresh loop.
	Track(ctx context.Context, req CollateralRequest) (*CollateralResponse, error)

	// Latest returns the last evaluation of the tracked pair, or ErrNoPair.
	Latest() (*CollateralResponse, error)

	// AutoFillAmount returns the buffered minimum collateral of the tracked pair.
	AutoFillAmount() (string, error)
}

// StatsReader serves protocol-wide statistics.
type StatsReader interface {
	ProtocolStats(ctx context.Context) (*outbound.ProtocolStats, error)
}
