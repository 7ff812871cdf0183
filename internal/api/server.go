package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/heavensprominence/credparity/internal/approval"
	"github.com/heavensprominence/credparity/internal/parity"
	"github.com/heavensprominence/credparity/internal/storage"
)

// Workflow is the slice of the approval engine the API drives.
type Workflow interface {
	Submit(ctx context.Context, req approval.SubmitRequest) (storage.Transaction, error)
	Decide(ctx context.Context, id string, decision approval.Decision, actor approval.Actor) (storage.Transaction, error)
	List(ctx context.Context, filter storage.TransactionFilter) ([]storage.Transaction, error)
	Get(ctx context.Context, id string) (storage.Transaction, error)
}

// ParityService is the slice of the parity controller the API drives.
type ParityService interface {
	Evaluate(ctx context.Context, currency string, tick time.Time) (storage.MonetaryAction, error)
	Manual(ctx context.Context, req parity.ManualRequest) (storage.MonetaryAction, error)
	Ingest(ctx context.Context, currency string, marketRate decimal.Decimal, observedAt time.Time, source string) (storage.RateSnapshot, error)
}

// Server is the admin HTTP surface: parity configuration, rate ingestion,
// monetary actions, and the transaction approval workflow.
type Server struct {
	workflow Workflow
	parity   ParityService
	configs  storage.ConfigStore
	rates    storage.RateStore
	actions  storage.ActionStore
	wallets  storage.WalletStore
	logger   zerolog.Logger
	now      func() time.Time
	router   chi.Router
}

// NewServer wires the routes.
func NewServer(workflow Workflow, parityService ParityService, configs storage.ConfigStore, rates storage.RateStore, actions storage.ActionStore, wallets storage.WalletStore, logger zerolog.Logger) *Server {
	s := &Server{
		workflow: workflow,
		parity:   parityService,
		configs:  configs,
		rates:    rates,
		actions:  actions,
		wallets:  wallets,
		logger:   logger.With().Str("component", "api").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/parity", s.handleListParityConfigs)
		r.Get("/parity/{currency}", s.handleGetParityConfig)
		r.Put("/parity/{currency}", s.handlePutParityConfig)

		r.Get("/rates", s.handleLatestRates)
		r.Post("/rates", s.handleIngestRate)
		r.Get("/rates/{currency}/history", s.handleRateHistory)

		r.Get("/actions", s.handleListActions)
		r.Post("/actions", s.handleManualAction)

		r.Post("/transactions", s.handleSubmitTransaction)
		r.Get("/transactions", s.handleListTransactions)
		r.Get("/transactions/{id}", s.handleGetTransaction)
		r.Post("/transactions/{id}/decision", s.handleDecideTransaction)

		r.Get("/wallets/{id}/balance", s.handleWalletBalance)

		r.Post("/evaluate/{currency}", s.handleEvaluate)
	})

	s.router = r
	return s
}

// WithClock overrides the server's time source. Test hook.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Handler exposes the routed handler for mounting into an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
