/*
handlers.go - HTTP handlers for the royalty investment API

PURPOSE:
  Translates HTTP requests into engine and store calls and domain
  results back into DTOs. Handlers do request decoding, identity
  checks and status mapping; all accounting semantics live in the
  royalty package.

ERROR MAPPING:
  royalty.IsNotFound      -> 404
  royalty.IsClientError   -> 400 (409 for duplicate title / has investors)
  gateway.ErrInvalidSignature -> 400, body not acted on
  gateway.ErrEventIgnored     -> 200, acknowledged and dropped
  anything else           -> 500

SEE ALSO:
  - server.go: Route wiring
  - dto.go:    Request/response shapes
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tunevest/royalty-engine/gateway"
	"github.com/tunevest/royalty-engine/royalty"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// minInvestment is the checkout floor in dollars.
var minInvestment = decimal.NewFromInt(1)

// Handler holds the dependencies for all API endpoints.
type Handler struct {
	Store    royalty.TxStore
	Engine   *royalty.Engine
	Gateway  *gateway.Client
	Verifier *gateway.Verifier
	Logger   *zap.Logger

	// Checkout redirect targets.
	SuccessURL string
	CancelURL  string
}

// NewHandler creates a handler. logger may be nil.
func NewHandler(store royalty.TxStore, engine *royalty.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Engine: engine, Logger: logger}
}

// =============================================================================
// SONGS
// =============================================================================

// ListSongs returns all active songs with their investment summaries.
// GET /api/songs
func (h *Handler) ListSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := h.Store.ListSongs(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list songs", err)
		return
	}

	dtos := make([]SongDTO, 0, len(songs))
	for _, song := range songs {
		investments, err := h.Store.ListInvestments(r.Context(), song.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load investments", err)
			return
		}
		dtos = append(dtos, toSongDTO(song, investments, false))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSong returns one song with its full investor breakdown.
// GET /api/songs/{songID}
func (h *Handler) GetSong(w http.ResponseWriter, r *http.Request) {
	songID := royalty.SongID(chi.URLParam(r, "songID"))

	song, err := h.Store.GetSong(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load song", err)
		return
	}
	if song == nil {
		writeError(w, http.StatusNotFound, "song not found", royalty.ErrSongNotFound)
		return
	}

	investments, err := h.Store.ListInvestments(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load investments", err)
		return
	}
	writeJSON(w, http.StatusOK, toSongDTO(*song, investments, true))
}

// CreateSong lists a new song for the authenticated artist.
// POST /api/songs
func (h *Handler) CreateSong(w http.ResponseWriter, r *http.Request) {
	artistID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	var req CreateSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required", nil)
		return
	}

	pool, err := decimal.NewFromString(strings.TrimSpace(req.TotalRoyaltyPool))
	if err != nil || pool.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "total_royalty_pool must be a non-negative decimal", err)
		return
	}
	revenue := decimal.Zero
	if raw := strings.TrimSpace(req.MonthlyRevenue); raw != "" {
		revenue, err = decimal.NewFromString(raw)
		if err != nil || revenue.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "monthly_revenue must be a non-negative decimal", err)
			return
		}
	}

	artistName := strings.TrimSpace(req.ArtistName)
	if artistName == "" {
		artistName = userNameFromContext(r.Context())
	}

	// Titles are unique per artist among active listings.
	existing, err := h.Store.ListSongsByArtist(r.Context(), artistID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check existing songs", err)
		return
	}
	for _, s := range existing {
		if s.Active && strings.EqualFold(s.Title, req.Title) {
			writeError(w, http.StatusConflict, "a song with this title already exists", royalty.ErrDuplicateTitle)
			return
		}
	}

	now := time.Now().UTC()
	song := royalty.Song{
		ID:               royalty.SongID(uuid.NewString()),
		Title:            req.Title,
		ArtistID:         artistID,
		ArtistName:       artistName,
		TotalRoyaltyPool: pool,
		MonthlyRevenue:   revenue,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.Store.SaveSong(r.Context(), song); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save song", err)
		return
	}

	h.Logger.Info("song listed",
		zap.String("song_id", string(song.ID)),
		zap.String("artist_id", string(artistID)),
		zap.String("pool", pool.String()))
	writeJSON(w, http.StatusCreated, toSongDTO(song, nil, false))
}

// UpdateSong edits a song's metadata. Only the listing artist may edit,
// and the pool itself is never editable here.
// PATCH /api/songs/{songID}
func (h *Handler) UpdateSong(w http.ResponseWriter, r *http.Request) {
	artistID, _ := UserFromContext(r.Context())
	songID := royalty.SongID(chi.URLParam(r, "songID"))

	song, err := h.Store.GetSong(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load song", err)
		return
	}
	if song == nil {
		writeError(w, http.StatusNotFound, "song not found", royalty.ErrSongNotFound)
		return
	}
	if song.ArtistID != artistID {
		writeError(w, http.StatusForbidden, "only the listing artist can edit this song", nil)
		return
	}

	var req UpdateSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		song.Title = title
	}
	if name := strings.TrimSpace(req.ArtistName); name != "" {
		song.ArtistName = name
	}
	if raw := strings.TrimSpace(req.MonthlyRevenue); raw != "" {
		revenue, err := decimal.NewFromString(raw)
		if err != nil || revenue.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "monthly_revenue must be a non-negative decimal", err)
			return
		}
		song.MonthlyRevenue = revenue
	}
	song.UpdatedAt = time.Now().UTC()

	if err := h.Store.SaveSong(r.Context(), *song); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save song", err)
		return
	}

	investments, err := h.Store.ListInvestments(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load investments", err)
		return
	}
	writeJSON(w, http.StatusOK, toSongDTO(*song, investments, false))
}

// DeleteSong delists a song. Songs with live investor money cannot be
// delisted; the soft delete just hides them from browsing.
// DELETE /api/songs/{songID}
func (h *Handler) DeleteSong(w http.ResponseWriter, r *http.Request) {
	artistID, _ := UserFromContext(r.Context())
	songID := royalty.SongID(chi.URLParam(r, "songID"))

	song, err := h.Store.GetSong(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load song", err)
		return
	}
	if song == nil {
		writeError(w, http.StatusNotFound, "song not found", royalty.ErrSongNotFound)
		return
	}
	if song.ArtistID != artistID {
		writeError(w, http.StatusForbidden, "only the listing artist can delist this song", nil)
		return
	}

	investments, err := h.Store.ListInvestments(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load investments", err)
		return
	}
	for _, inv := range investments {
		if inv.AmountInvested.Sign() > 0 {
			writeError(w, http.StatusConflict, "song has active investors and cannot be delisted", royalty.ErrSongHasInvestors)
			return
		}
	}

	song.Active = false
	song.UpdatedAt = time.Now().UTC()
	if err := h.Store.SaveSong(r.Context(), *song); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save song", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MySongs returns the authenticated artist's listings, active or not.
// GET /api/songs/mine
func (h *Handler) MySongs(w http.ResponseWriter, r *http.Request) {
	artistID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	songs, err := h.Store.ListSongsByArtist(r.Context(), artistID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list songs", err)
		return
	}

	dtos := make([]SongDTO, 0, len(songs))
	for _, song := range songs {
		investments, err := h.Store.ListInvestments(r.Context(), song.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load investments", err)
			return
		}
		dtos = append(dtos, toSongDTO(song, investments, true))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Preview estimates ownership for a proposed amount. Display-only; the
// post-payment settlement computes the real percentage.
// GET /api/songs/{songID}/preview?amount=250
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	songID := royalty.SongID(chi.URLParam(r, "songID"))

	amount, err := decimal.NewFromString(strings.TrimSpace(r.URL.Query().Get("amount")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal", err)
		return
	}

	song, err := h.Store.GetSong(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load song", err)
		return
	}
	if song == nil {
		writeError(w, http.StatusNotFound, "song not found", royalty.ErrSongNotFound)
		return
	}

	investments, err := h.Store.ListInvestments(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load investments", err)
		return
	}

	available := royalty.AvailableToInvest(*song, investments)
	estimate, err := royalty.PreviewShare(available, amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	writeJSON(w, http.StatusOK, PreviewDTO{
		SongID:              string(songID),
		Amount:              amount.String(),
		AvailableToInvest:   available.String(),
		EstimatedPercentage: estimate.StringFixed(4),
	})
}

// ListSongPayouts returns a song's payout history across all periods.
// GET /api/songs/{songID}/payouts?period=2026-08
func (h *Handler) ListSongPayouts(w http.ResponseWriter, r *http.Request) {
	songID := royalty.SongID(chi.URLParam(r, "songID"))

	song, err := h.Store.GetSong(r.Context(), songID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load song", err)
		return
	}
	if song == nil {
		writeError(w, http.StatusNotFound, "song not found", royalty.ErrSongNotFound)
		return
	}

	rawPeriod := strings.TrimSpace(r.URL.Query().Get("period"))
	if rawPeriod == "" {
		rawPeriod = string(royalty.PeriodOf(time.Now().UTC()))
	}
	period, err := royalty.ParsePeriod(rawPeriod)
	if err != nil {
		writeError(w, http.StatusBadRequest, "period must be YYYY-MM", err)
		return
	}

	payouts, err := h.Store.ListPayoutsForPeriod(r.Context(), songID, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load payouts", err)
		return
	}

	dtos := make([]PayoutDTO, 0, len(payouts))
	for _, p := range payouts {
		dtos = append(dtos, toPayoutDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// INVESTMENTS
// =============================================================================

// ListMyInvestments returns the caller's portfolio with song context
// and recent payouts.
// GET /api/investments
func (h *Handler) ListMyInvestments(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}

	investments, err := h.Store.ListInvestmentsByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list investments", err)
		return
	}

	limit := 6
	if raw := strings.TrimSpace(r.URL.Query().Get("payouts")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			limit = n
		}
	}

	dtos := make([]InvestmentDTO, 0, len(investments))
	for _, inv := range investments {
		dto := toInvestmentDTO(inv)

		if song, err := h.Store.GetSong(r.Context(), inv.SongID); err == nil && song != nil {
			songDTO := toSongDTO(*song, nil, false)
			dto.Song = &songDTO
		}
		if limit > 0 {
			payouts, err := h.Store.ListPayoutsForInvestment(r.Context(), inv.ID, limit)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to load payouts", err)
				return
			}
			for _, p := range payouts {
				dto.RecentPayouts = append(dto.RecentPayouts, toPayoutDTO(p))
			}
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateInvestment opens a hosted checkout for the caller's
// contribution. Nothing touches the ledger until the payment provider
// confirms via webhook.
// POST /api/investments
func (h *Handler) CreateInvestment(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", nil)
		return
	}
	if h.Gateway == nil {
		writeError(w, http.StatusServiceUnavailable, "payment gateway not configured", nil)
		return
	}

	var req CreateInvestmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal", err)
		return
	}
	if amount.LessThan(minInvestment) {
		writeError(w, http.StatusBadRequest, "minimum investment is $1",
			&royalty.InvalidAmountError{Amount: amount.String(), Reason: "below minimum"})
		return
	}

	song, err := h.Store.GetSong(r.Context(), royalty.SongID(req.SongID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load song", err)
		return
	}
	if song == nil || !song.Active {
		writeError(w, http.StatusNotFound, "song not found", royalty.ErrSongNotFound)
		return
	}

	session, err := h.Gateway.CreateCheckoutSession(r.Context(), gateway.CheckoutParams{
		SongID:     song.ID,
		UserID:     userID,
		Amount:     amount,
		SongTitle:  song.Title,
		ArtistName: song.ArtistName,
		SuccessURL: h.SuccessURL,
		CancelURL:  h.CancelURL,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to create checkout session", err)
		return
	}

	h.Logger.Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.String("song_id", string(song.ID)),
		zap.String("user_id", string(userID)),
		zap.String("amount", amount.String()))
	writeJSON(w, http.StatusCreated, CheckoutResponse{CheckoutURL: session.URL, SessionID: session.ID})
}

// =============================================================================
// WEBHOOKS
// =============================================================================

// PaymentWebhook receives payment-provider events. The signature is
// verified against the raw body before anything is decoded; settlement
// is idempotent by event ID, so redeliveries are acknowledged no-ops.
// POST /api/webhooks/payment
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if h.Verifier == nil {
		writeError(w, http.StatusServiceUnavailable, "webhook verification not configured", nil)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", err)
		return
	}

	if err := h.Verifier.Verify(payload, r.Header.Get(gateway.SignatureHeader)); err != nil {
		h.Logger.Warn("webhook rejected: bad signature")
		writeError(w, http.StatusBadRequest, "invalid signature", err)
		return
	}

	settlement, err := gateway.ParseEvent(payload)
	if err != nil {
		if errors.Is(err, gateway.ErrEventIgnored) {
			writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Status: "ignored"})
			return
		}
		writeError(w, http.StatusBadRequest, "invalid event payload", err)
		return
	}

	result, err := h.Engine.Settle(r.Context(), *settlement)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case royalty.IsNotFound(err):
			// The song is gone; retrying won't help, so acknowledge
			// with a client error rather than triggering redelivery
			// storms.
			status = http.StatusBadRequest
		case royalty.IsClientError(err):
			status = http.StatusBadRequest
		case royalty.IsRetryable(err) || errors.Is(err, royalty.ErrTransientFailure):
			// 5xx asks the provider to redeliver.
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "settlement failed", err)
		return
	}

	status := "applied"
	if !result.Applied {
		status = "duplicate"
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Applied: result.Applied, Status: status})
}

// =============================================================================
// DISTRIBUTIONS (admin)
// =============================================================================

// Distribute runs one distribution round for a song and period.
// POST /api/admin/distributions
func (h *Handler) Distribute(w http.ResponseWriter, r *http.Request) {
	var req DistributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	period, err := royalty.ParsePeriod(strings.TrimSpace(req.Period))
	if err != nil {
		writeError(w, http.StatusBadRequest, "period must be YYYY-MM", err)
		return
	}

	songID := royalty.SongID(strings.TrimSpace(req.SongID))
	revenue := decimal.Zero
	if raw := strings.TrimSpace(req.MonthlyRevenue); raw != "" {
		revenue, err = decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "monthly_revenue must be a decimal", err)
			return
		}
	} else {
		song, err := h.Store.GetSong(r.Context(), songID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load song", err)
			return
		}
		if song == nil {
			writeError(w, http.StatusNotFound, "song not found", royalty.ErrSongNotFound)
			return
		}
		revenue = song.MonthlyRevenue
	}

	result, err := h.Engine.Distribute(r.Context(), songID, period, revenue)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case royalty.IsNotFound(err):
			status = http.StatusNotFound
		case royalty.IsClientError(err):
			status = http.StatusBadRequest
		}
		writeError(w, status, "distribution failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toDistributionDTO(result))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
