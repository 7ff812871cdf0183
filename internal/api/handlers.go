package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/heavensprominence/credparity/internal/approval"
	"github.com/heavensprominence/credparity/internal/parity"
	"github.com/heavensprominence/credparity/internal/storage"
)

// Actor identity travels in headers; the demo platform has no session layer.
const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
)

type parityConfigBody struct {
	Currency              string          `json:"currency"`
	AutoEnabled           bool            `json:"auto_enabled"`
	TargetRate            decimal.Decimal `json:"target_rate"`
	DeviationThresholdPct decimal.Decimal `json:"deviation_threshold_pct"`
	MaxDailyMint          decimal.Decimal `json:"max_daily_mint"`
	MaxDailyBurn          decimal.Decimal `json:"max_daily_burn"`
	CooldownMinutes       int             `json:"cooldown_minutes"`
	LastActionAt          *time.Time      `json:"last_action_at,omitempty"`
	UpdatedAt             time.Time       `json:"updated_at,omitempty"`
}

type rateSnapshotBody struct {
	Currency     string          `json:"currency"`
	TargetRate   decimal.Decimal `json:"target_rate"`
	CurrentRate  decimal.Decimal `json:"current_rate"`
	MarketRate   decimal.Decimal `json:"market_rate"`
	DeviationPct decimal.Decimal `json:"deviation_pct"`
	FeedSource   string          `json:"feed_source,omitempty"`
	ObservedAt   time.Time       `json:"observed_at"`
}

type monetaryActionBody struct {
	ID                 int64           `json:"id"`
	Currency           string          `json:"currency"`
	ActionType         string          `json:"action_type"`
	Amount             decimal.Decimal `json:"amount"`
	TriggerRate        decimal.Decimal `json:"trigger_rate"`
	TargetRate         decimal.Decimal `json:"target_rate"`
	ThresholdAtTrigger decimal.Decimal `json:"threshold_at_trigger"`
	Reason             string          `json:"reason"`
	TransactionID      string          `json:"transaction_id"`
	ExecutedAt         time.Time       `json:"executed_at"`
}

type transactionBody struct {
	ID            string          `json:"id"`
	Hash          string          `json:"hash"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	ApprovalLevel string          `json:"approval_level"`
	FromWallet    *string         `json:"from_wallet,omitempty"`
	ToWallet      *string         `json:"to_wallet,omitempty"`
	DecidedBy     *string         `json:"decided_by,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func renderConfig(cfg storage.ParityConfig) parityConfigBody {
	return parityConfigBody{
		Currency:              cfg.Currency,
		AutoEnabled:           cfg.AutoEnabled,
		TargetRate:            cfg.TargetRate,
		DeviationThresholdPct: cfg.DeviationThresholdPct,
		MaxDailyMint:          cfg.MaxDailyMint,
		MaxDailyBurn:          cfg.MaxDailyBurn,
		CooldownMinutes:       cfg.CooldownMinutes,
		LastActionAt:          cfg.LastActionAt,
		UpdatedAt:             cfg.UpdatedAt,
	}
}

func renderSnapshot(snap storage.RateSnapshot) rateSnapshotBody {
	return rateSnapshotBody{
		Currency:     snap.Currency,
		TargetRate:   snap.TargetRate,
		CurrentRate:  snap.CurrentRate,
		MarketRate:   snap.MarketRate,
		DeviationPct: snap.DeviationPct,
		FeedSource:   snap.FeedSource,
		ObservedAt:   snap.ObservedAt,
	}
}

func renderAction(action storage.MonetaryAction) monetaryActionBody {
	return monetaryActionBody{
		ID:                 action.ID,
		Currency:           action.Currency,
		ActionType:         string(action.ActionType),
		Amount:             action.Amount,
		TriggerRate:        action.TriggerRate,
		TargetRate:         action.TargetRate,
		ThresholdAtTrigger: action.ThresholdAtTrigger,
		Reason:             action.Reason,
		TransactionID:      action.TransactionID,
		ExecutedAt:         action.ExecutedAt,
	}
}

func renderTransaction(tx storage.Transaction) transactionBody {
	return transactionBody{
		ID:            tx.ID,
		Hash:          tx.Hash,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Type:          string(tx.Type),
		Status:        string(tx.Status),
		ApprovalLevel: string(tx.ApprovalLevel),
		FromWallet:    tx.FromWallet,
		ToWallet:      tx.ToWallet,
		DecidedBy:     tx.DecidedBy,
		FailureReason: tx.FailureReason,
		CreatedAt:     tx.CreatedAt,
		CompletedAt:   tx.CompletedAt,
	}
}

func (s *Server) handleListParityConfigs(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.configs.ListParityConfigs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]parityConfigBody, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, renderConfig(cfg))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetParityConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.GetParityConfig(r.Context(), chi.URLParam(r, "currency"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderConfig(cfg))
}

func (s *Server) handlePutParityConfig(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireActor(r, storage.RoleAdmin); err != nil {
		s.writeError(w, err)
		return
	}

	var body parityConfigBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("decode body: %v: %w", err, approval.ErrValidation))
		return
	}

	cfg := storage.ParityConfig{
		Currency:              chi.URLParam(r, "currency"),
		AutoEnabled:           body.AutoEnabled,
		TargetRate:            body.TargetRate,
		DeviationThresholdPct: body.DeviationThresholdPct,
		MaxDailyMint:          body.MaxDailyMint,
		MaxDailyBurn:          body.MaxDailyBurn,
		CooldownMinutes:       body.CooldownMinutes,
	}
	if err := validateParityConfig(cfg); err != nil {
		s.writeError(w, err)
		return
	}

	stored, err := s.configs.UpsertParityConfig(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderConfig(stored))
}

func validateParityConfig(cfg storage.ParityConfig) error {
	if cfg.Currency == "" {
		return fmt.Errorf("currency required: %w", approval.ErrValidation)
	}
	if !cfg.TargetRate.IsPositive() {
		return fmt.Errorf("target_rate must be positive: %w", approval.ErrValidation)
	}
	if !cfg.DeviationThresholdPct.IsPositive() {
		return fmt.Errorf("deviation_threshold_pct must be positive: %w", approval.ErrValidation)
	}
	if cfg.MaxDailyMint.IsNegative() || cfg.MaxDailyBurn.IsNegative() {
		return fmt.Errorf("daily caps cannot be negative: %w", approval.ErrValidation)
	}
	if cfg.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes cannot be negative: %w", approval.ErrValidation)
	}
	return nil
}

func (s *Server) handleLatestRates(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.rates.LatestSnapshots(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]rateSnapshotBody, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, renderSnapshot(snap))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRateHistory(w http.ResponseWriter, r *http.Request) {
	to := s.now()
	from := to.Add(-24 * time.Hour)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("from must be RFC3339: %w", approval.ErrValidation))
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, fmt.Errorf("to must be RFC3339: %w", approval.ErrValidation))
			return
		}
		to = parsed
	}

	snaps, err := s.rates.ListSnapshotsBetween(r.Context(), chi.URLParam(r, "currency"), from, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]rateSnapshotBody, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, renderSnapshot(snap))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleIngestRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Currency   string          `json:"currency"`
		MarketRate decimal.Decimal `json:"market_rate"`
		ObservedAt *time.Time      `json:"observed_at"`
		Source     string          `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("decode body: %v: %w", err, approval.ErrValidation))
		return
	}
	if body.Currency == "" {
		s.writeError(w, fmt.Errorf("currency required: %w", approval.ErrValidation))
		return
	}

	observedAt := s.now()
	if body.ObservedAt != nil {
		observedAt = *body.ObservedAt
	}

	snap, err := s.parity.Ingest(r.Context(), body.Currency, body.MarketRate, observedAt, body.Source)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, renderSnapshot(snap))
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, fmt.Errorf("limit must be a positive integer: %w", approval.ErrValidation))
			return
		}
		limit = parsed
	}

	actions, err := s.actions.ListRecentActions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]monetaryActionBody, 0, len(actions))
	for _, action := range actions {
		out = append(out, renderAction(action))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleManualAction(w http.ResponseWriter, r *http.Request) {
	actor, err := s.requireActor(r, storage.RoleUser)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body struct {
		Currency   string          `json:"currency"`
		ActionType string          `json:"action_type"`
		Amount     decimal.Decimal `json:"amount"`
		Reason     string          `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("decode body: %v: %w", err, approval.ErrValidation))
		return
	}

	action, err := s.parity.Manual(r.Context(), parity.ManualRequest{
		Currency:   body.Currency,
		ActionType: storage.ActionType(body.ActionType),
		Amount:     body.Amount,
		Reason:     body.Reason,
		Actor:      actor,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, renderAction(action))
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount     decimal.Decimal `json:"amount"`
		Currency   string          `json:"currency"`
		Type       string          `json:"type"`
		FromWallet *string         `json:"from_wallet"`
		ToWallet   *string         `json:"to_wallet"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("decode body: %v: %w", err, approval.ErrValidation))
		return
	}

	tx, err := s.workflow.Submit(r.Context(), approval.SubmitRequest{
		Amount:     body.Amount,
		Currency:   body.Currency,
		Type:       storage.TransactionType(body.Type),
		FromWallet: body.FromWallet,
		ToWallet:   body.ToWallet,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, renderTransaction(tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := storage.TransactionFilter{
		Status: storage.TransactionStatus(r.URL.Query().Get("status")),
		Type:   storage.TransactionType(r.URL.Query().Get("type")),
		Limit:  100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, fmt.Errorf("limit must be a positive integer: %w", approval.ErrValidation))
			return
		}
		filter.Limit = parsed
	}

	txs, err := s.workflow.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]transactionBody, 0, len(txs))
	for _, tx := range txs {
		out = append(out, renderTransaction(tx))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.workflow.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderTransaction(tx))
}

func (s *Server) handleDecideTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := s.requireActor(r, storage.RoleUser)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body struct {
		Decision string `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("decode body: %v: %w", err, approval.ErrValidation))
		return
	}

	tx, err := s.workflow.Decide(r.Context(), chi.URLParam(r, "id"), approval.Decision(body.Decision), actor)
	if err != nil {
		// A lost race or a retry still carries the transaction's current
		// state; surface it with the conflict.
		if errors.Is(err, approval.ErrAlreadyDecided) {
			s.writeJSON(w, http.StatusConflict, renderTransaction(tx))
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, renderTransaction(tx))
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireActor(r, storage.RoleAdmin); err != nil {
		s.writeError(w, err)
		return
	}

	action, err := s.parity.Evaluate(r.Context(), chi.URLParam(r, "currency"), s.now())
	if err != nil {
		if parity.IsSkip(err) {
			s.writeJSON(w, http.StatusOK, map[string]any{
				"evaluated": true,
				"acted":     false,
				"reason":    err.Error(),
			})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"evaluated": true,
		"acted":     true,
		"action":    renderAction(action),
	})
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		s.writeError(w, fmt.Errorf("currency query parameter required: %w", approval.ErrValidation))
		return
	}

	walletID := chi.URLParam(r, "id")
	balance, err := s.wallets.GetBalance(r.Context(), walletID, currency)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"wallet_id": walletID,
		"currency":  currency,
		"balance":   balance,
	})
}

// requireActor reads the actor headers and enforces a minimum role.
func (s *Server) requireActor(r *http.Request, min storage.Role) (approval.Actor, error) {
	id := r.Header.Get(headerActorID)
	role := storage.Role(r.Header.Get(headerActorRole))
	if id == "" || !role.Valid() {
		return approval.Actor{}, fmt.Errorf("%s and a valid %s header required: %w",
			headerActorID, headerActorRole, approval.ErrValidation)
	}
	if !approval.AtLeast(role, min) {
		return approval.Actor{}, fmt.Errorf("role %s below required %s: %w", role, min, approval.ErrInsufficientAuthority)
	}
	return approval.Actor{ID: id, Role: role}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, approval.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, approval.ErrInsufficientAuthority):
		status = http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrNotConfigured):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInsufficientFunds),
		errors.Is(err, storage.ErrDailyCapExceeded),
		errors.Is(err, parity.ErrDailyCapReached):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrInvalidState):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}
