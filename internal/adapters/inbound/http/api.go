package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/archon-research/lendview/internal/domain/entity"
	"github.com/archon-research/lendview/internal/pkg/valuation"
	"github.com/archon-research/lendview/internal/ports/inbound"
)

const maxRequestBody = 1 << 20 // 1 MiB

// APIConfig holds configuration for the JSON API.
type APIConfig struct {
	// RequestTimeout bounds the handling of non-streaming requests.
	RequestTimeout time.Duration

	// AllowedOrigins lists the origins accepted for websocket upgrades.
	// Empty allows same-origin requests only; "*" allows any origin.
	AllowedOrigins []string

	Stream StreamConfig
	Logger *slog.Logger
}

// APIConfigDefaults returns a config with default values.
func APIConfigDefaults() APIConfig {
	return APIConfig{
		RequestTimeout: 30 * time.Second,
		Stream:         StreamConfigDefaults(),
		Logger:         slog.Default(),
	}
}

// API serves the loan listing, collateral calculator, prices and protocol stats.
type API struct {
	config     APIConfig
	comparer   inbound.LoanComparer
	calculator inbound.CollateralCalculator
	stats      inbound.StatsReader
	logger     *slog.Logger
}

// NewAPI creates the API. stats may be nil when the loan source reports none.
func NewAPI(config APIConfig, comparer inbound.LoanComparer, calculator inbound.CollateralCalculator, stats inbound.StatsReader) (*API, error) {
	if comparer == nil {
		return nil, fmt.Errorf("loan comparer cannot be nil")
	}
	if calculator == nil {
		return nil, fmt.Errorf("collateral calculator cannot be nil")
	}

	defaults := APIConfigDefaults()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	config.Stream = config.Stream.withDefaults()

	return &API{
		config:     config,
		comparer:   comparer,
		calculator: calculator,
		stats:      stats,
		logger:     config.Logger.With("component", "http-api"),
	}, nil
}

// Routes returns the API router.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(a.config.RequestTimeout))
		r.Get("/loans", a.listLoans)
		r.Post("/loans/refresh", a.refreshLoans)
		r.Post("/collateral/calculate", a.calculateCollateral)
		r.Put("/collateral/track", a.trackCollateral)
		r.Get("/collateral", a.latestCollateral)
		r.Get("/collateral/autofill", a.autoFillCollateral)
		r.Get("/prices", a.prices)
		r.Get("/stats", a.protocolStats)
	})
	r.Get("/ws/loans", a.streamLoans)
	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}

// listLoans returns the latest published comparison, optionally narrowed by
// ?status=active,defaulted. Stats are recomputed over the narrowed set.
func (a *API) listLoans(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatuses(r.URL.Query()["status"])
	if err != nil {
		respondError(a.logger, w, http.StatusBadRequest, err)
		return
	}

	latest := a.comparer.Latest()
	if latest == nil {
		respondError(a.logger, w, http.StatusServiceUnavailable, errors.New("loan prices are not loaded yet"))
		return
	}
	if len(statuses) == 0 {
		respondJSON(a.logger, w, http.StatusOK, latest)
		return
	}

	filtered := *latest
	filtered.Loans = make([]entity.EnrichedLoanView, 0, len(latest.Loans))
	for _, l := range latest.Loans {
		if slices.Contains(statuses, l.Status) {
			filtered.Loans = append(filtered.Loans, l)
		}
	}
	filtered.Stats = valuation.Summarize(filtered.Loans)
	respondJSON(a.logger, w, http.StatusOK, &filtered)
}

func (a *API) refreshLoans(w http.ResponseWriter, r *http.Request) {
	a.comparer.Refresh()
	respondJSON(a.logger, w, http.StatusAccepted, map[string]string{"status": "refresh_scheduled"})
}

func (a *API) calculateCollateral(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeCollateralRequest(w, r)
	if !ok {
		return
	}
	resp, err := a.calculator.Calculate(r.Context(), req)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(a.logger, w, http.StatusOK, resp)
}

// trackCollateral replaces the pair kept current by the calculator's refresh loop.
func (a *API) trackCollateral(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeCollateralRequest(w, r)
	if !ok {
		return
	}
	resp, err := a.calculator.Track(r.Context(), req)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(a.logger, w, http.StatusOK, resp)
}

func (a *API) latestCollateral(w http.ResponseWriter, r *http.Request) {
	resp, err := a.calculator.Latest()
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(a.logger, w, http.StatusOK, resp)
}

func (a *API) autoFillCollateral(w http.ResponseWriter, r *http.Request) {
	amount, err := a.calculator.AutoFillAmount()
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(a.logger, w, http.StatusOK, map[string]string{"collateralAmount": amount})
}

func (a *API) decodeCollateralRequest(w http.ResponseWriter, r *http.Request) (inbound.CollateralRequest, bool) {
	var req inbound.CollateralRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(a.logger, w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return req, false
	}
	return req, true
}

// prices accepts ?token=0x..&token=0x.. or a comma-separated list.
func (a *API) prices(w http.ResponseWriter, r *http.Request) {
	var tokens []string
	for _, v := range r.URL.Query()["token"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	if len(tokens) == 0 {
		respondError(a.logger, w, http.StatusBadRequest, errors.New("at least one token is required"))
		return
	}

	prices, err := a.comparer.Prices(r.Context(), tokens)
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(a.logger, w, http.StatusOK, map[string]any{"prices": prices})
}

func (a *API) protocolStats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		respondError(a.logger, w, http.StatusNotImplemented, errors.New("protocol stats are not available"))
		return
	}
	stats, err := a.stats.ProtocolStats(r.Context())
	if err != nil {
		a.respondServiceError(w, err)
		return
	}
	respondJSON(a.logger, w, http.StatusOK, stats)
}

func (a *API) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inbound.ErrInvalidRequest):
		respondError(a.logger, w, http.StatusBadRequest, err)
		return
	case errors.Is(err, inbound.ErrNoPair):
		respondError(a.logger, w, http.StatusNotFound, err)
		return
	case errors.Is(err, inbound.ErrPricesUnavailable):
		respondError(a.logger, w, http.StatusServiceUnavailable, err)
		return
	}
	a.logger.Error("request failed", "error", err)
	respondError(a.logger, w, http.StatusBadGateway, errors.New("upstream unavailable"))
}

func parseStatuses(values []string) ([]entity.LoanStatus, error) {
	var out []entity.LoanStatus
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			s, err := entity.ParseLoanStatus(name)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}
