// Package indexer reads loans and protocol statistics from the indexing
// service's REST API.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/httpclient"
	"github.com/archon-research/lendview/internal/ports/outbound"
)

var (
	_ outbound.LoanSource  = (*Client)(nil)
	_ outbound.StatsSource = (*Client)(nil)
)

// Config holds configuration for the indexer client.
type Config struct {
	BaseURL string
	HTTP    httpclient.Config
	Logger  *slog.Logger
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		BaseURL: "http://localhost:4000",
		HTTP:    httpclient.DefaultConfig(),
		Logger:  slog.Default(),
	}
}

// Client is an indexer-backed LoanSource and StatsSource.
type Client struct {
	baseURL *url.URL
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a new indexer client.
func NewClient(config Config) (*Client, error) {
	defaults := ConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.HTTP == (httpclient.Config{}) {
		config.HTTP = defaults.HTTP
	}

	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid indexer base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid indexer base URL %q: scheme must be http or https", config.BaseURL)
	}

	logger := config.Logger.With("component", "indexer-client")
	return &Client{
		baseURL: base,
		http:    httpclient.NewClient(config.HTTP, logger),
		logger:  logger,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// ListLoans returns loans matching filter. Records the indexer returns in a
// malformed state are skipped and logged.
func (c *Client) ListLoans(ctx context.Context, filter outbound.LoanFilter) ([]*entity.LoanSnapshot, error) {
	query := url.Values{}
	for _, s := range filter.Statuses {
		query.Add("status", strings.ToLower(s.String()))
	}
	if filter.Borrower != "" {
		query.Set("borrower", filter.Borrower)
	}
	if filter.Lender != "" {
		query.Set("lender", filter.Lender)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var resp loansResponse
	if err := c.http.GetJSON(ctx, c.endpoint("/loans", query), &resp); err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}

	loans := make([]*entity.LoanSnapshot, 0, len(resp.Loans))
	for _, dto := range resp.Loans {
		loan, err := dto.toEntity()
		if err != nil {
			c.logger.Warn("skipping malformed loan record", "id", dto.ID, "error", err)
			continue
		}
		// The indexer may ignore unknown filters; apply them again locally.
		if !filter.Matches(loan) {
			continue
		}
		loans = append(loans, loan)
		if filter.Limit > 0 && len(loans) == filter.Limit {
			break
		}
	}
	return loans, nil
}

// GetLoan returns a single loan or outbound.ErrLoanNotFound.
func (c *Client) GetLoan(ctx context.Context, id string) (*entity.LoanSnapshot, error) {
	var dto loanDTO
	if err := c.http.GetJSON(ctx, c.endpoint("/loans/"+url.PathEscape(id), nil), &dto); err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", outbound.ErrLoanNotFound, id)
		}
		return nil, fmt.Errorf("failed to get loan %s: %w", id, err)
	}
	loan, err := dto.toEntity()
	if err != nil {
		return nil, fmt.Errorf("malformed loan %s: %w", id, err)
	}
	return loan, nil
}

// GetProtocolStats returns the indexer's protocol-wide aggregates.
func (c *Client) GetProtocolStats(ctx context.Context) (*outbound.ProtocolStats, error) {
	var stats outbound.ProtocolStats
	if err := c.http.GetJSON(ctx, c.endpoint("/stats", nil), &stats); err != nil {
		return nil, fmt.Errorf("failed to get protocol stats: %w", err)
	}
	return &stats, nil
}
