package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

//go:embed migrations/001_loans.sql
var loanSchema string

var (
	_ outbound.LoanSource  = (*LoanRepository)(nil)
	_ outbound.StatsSource = (*LoanRepository)(nil)
)

const loanColumns = `
	id, lender, borrower, token, amount::text, interest_rate_bps, duration_seconds,
	collateral_token, collateral_amount::text, status, min_collateral_ratio_bps,
	liquidation_threshold_bps, max_price_staleness,
	COALESCE(historical_token_price::text, ''), COALESCE(historical_loan_value_usd::text, ''),
	created_at`

// LoanRepository is a PostgreSQL implementation of the LoanSource and StatsSource ports.
type LoanRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewLoanRepository creates a new loan repository.
func NewLoanRepository(pool *pgxpool.Pool, logger *slog.Logger) (*LoanRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoanRepository{pool: pool, logger: logger.With("component", "loan-repository")}, nil
}

// Migrate creates the loan table if it does not exist.
func (r *LoanRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, loanSchema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// ListLoans returns loans matching filter, ordered by id.
func (r *LoanRepository) ListLoans(ctx context.Context, filter outbound.LoanFilter) ([]*entity.LoanSnapshot, error) {
	where, args, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + loanColumns + " FROM loan" + where + " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying loans: %w", err)
	}
	defer rows.Close()

	var loans []*entity.LoanSnapshot
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			r.logger.Warn("skipping malformed loan row", "error", err)
			continue
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating loans: %w", err)
	}
	return loans, nil
}

// GetLoan returns a single loan or outbound.ErrLoanNotFound.
func (r *LoanRepository) GetLoan(ctx context.Context, id string) (*entity.LoanSnapshot, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+loanColumns+" FROM loan WHERE id = $1", id)
	loan, err := scanLoan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", outbound.ErrLoanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying loan %s: %w", id, err)
	}
	return loan, nil
}

// GetProtocolStats aggregates protocol-wide statistics from the loan table.
func (r *LoanRepository) GetProtocolStats(ctx context.Context) (*outbound.ProtocolStats, error) {
	var stats outbound.ProtocolStats
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $1),
		       COUNT(*) FILTER (WHERE status = $2),
		       COALESCE(ROUND(SUM(historical_loan_value_usd), 2), 0)::text,
		       COUNT(DISTINCT borrower),
		       COUNT(DISTINCT lender),
		       COALESCE(MAX(block_number), 0)
		FROM loan
	`, int16(entity.LoanStatusActive), int16(entity.LoanStatusDefaulted)).Scan(
		&stats.TotalLoans, &stats.ActiveLoans, &stats.DefaultedLoans, &stats.TotalVolumeUSD,
		&stats.TotalBorrowers, &stats.TotalLenders, &stats.LastIndexedBlock,
	)
	if err != nil {
		return nil, fmt.Errorf("querying protocol stats: %w", err)
	}
	return &stats, nil
}

// UpsertLoans writes loan snapshots in a single batch. It is used by seeding
// tools and tests; the indexer owns the table in production.
func (r *LoanRepository) UpsertLoans(ctx context.Context, blockNumber int64, loans []*entity.LoanSnapshot) error {
	if len(loans) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range loans {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("invalid loan: %w", err)
		}
		var createdAt *time.Time
		if !l.CreatedAt.IsZero() {
			createdAt = &l.CreatedAt
		}
		batch.Queue(`
			INSERT INTO loan (id, lender, borrower, token, amount, interest_rate_bps, duration_seconds,
			                  collateral_token, collateral_amount, status, min_collateral_ratio_bps,
			                  liquidation_threshold_bps, max_price_staleness, historical_token_price,
			                  historical_loan_value_usd, block_number, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8, $9::text::numeric, $10, $11, $12, $13,
			        NULLIF($14::text, '')::numeric, NULLIF($15::text, '')::numeric, $16, $17, NOW())
			ON CONFLICT (id) DO UPDATE SET
				amount = EXCLUDED.amount,
				collateral_amount = EXCLUDED.collateral_amount,
				status = EXCLUDED.status,
				block_number = EXCLUDED.block_number,
				updated_at = NOW()`,
			l.ID, l.Lender.Bytes(), l.Borrower.Bytes(), l.TokenAddress.Bytes(), l.Amount.String(),
			l.InterestRateBPS, l.Duration, l.CollateralAddress.Bytes(), l.CollateralAmount.String(),
			int16(l.Status), l.MinCollateralRatioBPS, l.LiquidationThresholdBPS, l.MaxPriceStaleness,
			l.HistoricalTokenPriceUSD, l.HistoricalLoanValueUSD, blockNumber, createdAt,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d loans: %w", len(loans), err)
	}
	return nil
}

func buildFilter(filter outbound.LoanFilter) (string, []any, error) {
	var clauses []string
	var args []any

	if len(filter.Statuses) > 0 {
		statuses := make([]int16, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = int16(s)
		}
		args = append(args, statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Borrower != "" {
		addr, err := entity.ParseAddress(filter.Borrower)
		if err != nil {
			return "", nil, fmt.Errorf("borrower filter: %w", err)
		}
		args = append(args, addr.Bytes())
		clauses = append(clauses, fmt.Sprintf("borrower = $%d", len(args)))
	}
	if filter.Lender != "" {
		addr, err := entity.ParseAddress(filter.Lender)
		if err != nil {
			return "", nil, fmt.Errorf("lender filter: %w", err)
		}
		args = append(args, addr.Bytes())
		clauses = append(clauses, fmt.Sprintf("lender = $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func scanLoan(row pgx.Row) (*entity.LoanSnapshot, error) {
	var (
		l                                 entity.LoanSnapshot
		lender, borrower, token, collAddr []byte
		amount, collAmount                string
		status                            int16
		createdAt                         *time.Time
	)
	if err := row.Scan(
		&l.ID, &lender, &borrower, &token, &amount, &l.InterestRateBPS, &l.Duration,
		&collAddr, &collAmount, &status, &l.MinCollateralRatioBPS,
		&l.LiquidationThresholdBPS, &l.MaxPriceStaleness,
		&l.HistoricalTokenPriceUSD, &l.HistoricalLoanValueUSD, &createdAt,
	); err != nil {
		return nil, err
	}

	l.Lender = common.BytesToAddress(lender)
	l.Borrower = common.BytesToAddress(borrower)
	l.TokenAddress = common.BytesToAddress(token)
	l.CollateralAddress = common.BytesToAddress(collAddr)
	l.Status = entity.LoanStatus(status)
	if createdAt != nil {
		l.CreatedAt = createdAt.UTC()
	}

	var ok bool
	if l.Amount, ok = new(big.Int).SetString(amount, 10); !ok {
		return nil, fmt.Errorf("loan %s: invalid amount %q", l.ID, amount)
	}
	if l.CollateralAmount, ok = new(big.Int).SetString(collAmount, 10); !ok {
		return nil, fmt.Errorf("loan %s: invalid collateral amount %q", l.ID, collAmount)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}
