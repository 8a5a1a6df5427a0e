package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldsynth/internal/breaker"
	"goldsynth/internal/cache"
	"goldsynth/internal/config"
	"goldsynth/internal/dca"
	"goldsynth/internal/domain"
	"goldsynth/internal/token"
)

// Error codes returned in JSON error envelopes.
const (
	errCodeInvalidInput = "INVALID_INPUT"
	errCodeUnauthorized = "UNAUTHORIZED"
	errCodeNotFound     = "NOT_FOUND"
	errCodeConflict     = "CONFLICT"
	errCodeUnavailable  = "PRICE_UNAVAILABLE"
	errCodeInternal     = "INTERNAL_ERROR"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server exposes the read and plan-management surface over HTTP.
type Server struct {
	router *mux.Router
	cfg    config.APIConfig
	cache  cache.PriceCache
	brk    *breaker.Breaker
	tok    *token.Token
	plans  *dca.Scheduler
	logger zerolog.Logger
}

// NewServer wires the HTTP surface. The cache may be nil; price reads then
// fall back to the token's oracle path.
func NewServer(cfg config.APIConfig, priceCache cache.PriceCache, brk *breaker.Breaker, tok *token.Token, plans *dca.Scheduler, logger zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		cfg:    cfg,
		cache:  priceCache,
		brk:    brk,
		tok:    tok,
		plans:  plans,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	v1.HandleFunc("/price", s.handleGetPrice()).Methods(http.MethodGet)
	v1.HandleFunc("/breaker", s.handleGetBreaker()).Methods(http.MethodGet)
	v1.HandleFunc("/token", s.handleGetToken()).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user}/plans", s.handleListPlans()).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user}/plans", s.handleCreatePlan()).Methods(http.MethodPost)
	v1.HandleFunc("/users/{user}/plans/eligible", s.handleEligiblePlans()).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user}/plans/{id}/pause", s.handlePlanTransition((*dca.Scheduler).PausePlan)).Methods(http.MethodPost)
	v1.HandleFunc("/users/{user}/plans/{id}/resume", s.handlePlanTransition((*dca.Scheduler).ResumePlan)).Methods(http.MethodPost)
	v1.HandleFunc("/users/{user}/plans/{id}/cancel", s.handlePlanTransition((*dca.Scheduler).CancelPlan)).Methods(http.MethodPost)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

func (s *Server) handleGetPrice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cache != nil {
			if point, err := s.cache.Latest(r.Context()); err == nil {
				writeJSON(w, http.StatusOK, map[string]any{
					"price":     point.Price.String(),
					"at":        point.At.UTC().Format(time.RFC3339),
					"source":    "cache",
					"triggered": s.brk.IsTriggered(),
				})
				return
			}
		}

		price, at, err := s.tok.CurrentPrice()
		if err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, errCodeUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"price":     price.String(),
			"at":        at.UTC().Format(time.RFC3339),
			"source":    "oracle",
			"triggered": s.brk.IsTriggered(),
		})
	}
}

func (s *Server) handleGetBreaker() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"triggered": s.brk.IsTriggered(),
			"reset_in":  s.brk.TimeUntilReset().String(),
		})
	}
}

func (s *Server) handleGetToken() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mintBps, redeemBps := s.tok.Fees()
		emergency, reason := s.tok.EmergencyMode()
		writeJSON(w, http.StatusOK, map[string]any{
			"name":             s.tok.Name(),
			"symbol":           s.tok.Symbol(),
			"total_supply":     s.tok.TotalSupply().String(),
			"mint_fee_bps":     mintBps,
			"redeem_fee_bps":   redeemBps,
			"paused":           s.tok.Paused(),
			"emergency":        emergency,
			"emergency_reason": reason,
		})
	}
}

type planView struct {
	ID                  int    `json:"id"`
	AmountUsd           string `json:"amount_usd"`
	FrequencySeconds    int64  `json:"frequency_seconds"`
	Status              string `json:"status"`
	NextExecutionAt     string `json:"next_execution_at"`
	LastExecutionAt     string `json:"last_execution_at,omitempty"`
	TotalInvestedUsd    string `json:"total_invested_usd"`
	TotalTokensReceived string `json:"total_tokens_received"`
	ExecutionsCount     int64  `json:"executions_count"`
}

func (s *Server) handleListPlans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := domain.Address(mux.Vars(r)["user"])
		plans := s.plans.UserPlans(user)

		out := make([]planView, 0, len(plans))
		for i, p := range plans {
			view := planView{
				ID:                  i,
				AmountUsd:           p.AmountUsd.String(),
				FrequencySeconds:    p.FrequencySeconds,
				Status:              string(p.Status),
				NextExecutionAt:     p.NextExecutionAt.UTC().Format(time.RFC3339),
				TotalInvestedUsd:    p.TotalInvestedUsd.String(),
				TotalTokensReceived: p.TotalTokensReceived.String(),
				ExecutionsCount:     p.ExecutionsCount,
			}
			if !p.LastExecutionAt.IsZero() {
				view.LastExecutionAt = p.LastExecutionAt.UTC().Format(time.RFC3339)
			}
			out = append(out, view)
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user, "plans": out})
	}
}

type createPlanRequest struct {
	AmountUsd        string `json:"amount_usd"`
	FrequencySeconds int64  `json:"frequency_seconds"`
}

func (s *Server) handleCreatePlan() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := domain.Address(mux.Vars(r)["user"])

		var req createPlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, errCodeInvalidInput, "malformed request body")
			return
		}
		amount, err := decimal.NewFromString(req.AmountUsd)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, errCodeInvalidInput, "amount_usd must be a decimal string")
			return
		}

		id, err := s.plans.CreatePlan(user, amount, req.FrequencySeconds)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user, "plan_id": id})
	}
}

func (s *Server) handleEligiblePlans() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := domain.Address(mux.Vars(r)["user"])
		writeJSON(w, http.StatusOK, map[string]any{
			"user":     user,
			"eligible": s.plans.EligiblePlans(user),
		})
	}
}

func (s *Server) handlePlanTransition(op func(*dca.Scheduler, domain.Address, domain.Address, int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		user := domain.Address(vars["user"])
		id, err := strconv.Atoi(vars["id"])
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, errCodeInvalidInput, "plan id must be an integer")
			return
		}

		// The HTTP surface acts on behalf of the plan owner.
		if err := op(s.plans, user, user, id); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": user, "plan_id": id, "status": "ok"})
	}
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidFrequency):
		writeJSONError(w, http.StatusBadRequest, errCodeInvalidInput, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSONError(w, http.StatusForbidden, errCodeUnauthorized, err.Error())
	case errors.Is(err, domain.ErrPlanNotFound):
		writeJSONError(w, http.StatusNotFound, errCodeNotFound, err.Error())
	case errors.Is(err, domain.ErrPlanNotActive), errors.Is(err, domain.ErrExecutionNotDue):
		writeJSONError(w, http.StatusConflict, errCodeConflict, err.Error())
	case errors.Is(err, domain.ErrNoFreshSources), errors.Is(err, domain.ErrCircuitBreakerActive):
		writeJSONError(w, http.StatusServiceUnavailable, errCodeUnavailable, err.Error())
	default:
		s.logger.Error().Err(err).Msg("unhandled API error")
		writeJSONError(w, http.StatusInternalServerError, errCodeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}
