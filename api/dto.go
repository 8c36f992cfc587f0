/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external API contract.
  Monetary fields are serialized as decimal strings, never floats.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/tunevest/royalty-engine/royalty"
)

// =============================================================================
// SONGS
// =============================================================================

// SongDTO represents a song in API responses, with the derived
// investment summary the browse and detail views need.
type SongDTO struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	ArtistID          string          `json:"artist_id"`
	ArtistName        string          `json:"artist_name"`
	TotalRoyaltyPool  string          `json:"total_royalty_pool"`
	MonthlyRevenue    string          `json:"monthly_revenue"`
	Active            bool            `json:"active"`
	TotalInvested     string          `json:"total_invested"`
	AvailableToInvest string          `json:"available_to_invest"`
	InvestorCount     int             `json:"investor_count"`
	Investments       []InvestmentDTO `json:"investments,omitempty"`
	CreatedAt         string          `json:"created_at"`
}

// CreateSongRequest is the request to list a song.
type CreateSongRequest struct {
	Title            string `json:"title"`
	ArtistName       string `json:"artist_name"`
	TotalRoyaltyPool string `json:"total_royalty_pool"`
	MonthlyRevenue   string `json:"monthly_revenue,omitempty"`
}

// UpdateSongRequest updates a song's editable fields. The pool is not
// editable; it only moves through settlements.
type UpdateSongRequest struct {
	Title          string `json:"title,omitempty"`
	ArtistName     string `json:"artist_name,omitempty"`
	MonthlyRevenue string `json:"monthly_revenue,omitempty"`
}

// PreviewDTO is the advisory pre-payment ownership estimate.
type PreviewDTO struct {
	SongID              string `json:"song_id"`
	Amount              string `json:"amount"`
	AvailableToInvest   string `json:"available_to_invest"`
	EstimatedPercentage string `json:"estimated_percentage"`
}

// =============================================================================
// INVESTMENTS
// =============================================================================

// InvestmentDTO represents an investor's position in a song.
type InvestmentDTO struct {
	ID                string      `json:"id"`
	SongID            string      `json:"song_id"`
	UserID            string      `json:"user_id"`
	AmountInvested    string      `json:"amount_invested"`
	RoyaltyPercentage string      `json:"royalty_percentage"`
	Song              *SongDTO    `json:"song,omitempty"`
	RecentPayouts     []PayoutDTO `json:"recent_payouts,omitempty"`
	CreatedAt         string      `json:"created_at"`
}

// CreateInvestmentRequest initiates a checkout; it does not mutate the
// ledger.
type CreateInvestmentRequest struct {
	SongID string `json:"song_id"`
	Amount string `json:"amount"`
}

// CheckoutResponse carries the hosted-checkout redirect.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// =============================================================================
// DISTRIBUTIONS / PAYOUTS
// =============================================================================

// PayoutDTO represents one distribution record.
type PayoutDTO struct {
	ID            string `json:"id"`
	InvestmentID  string `json:"investment_id"`
	SongID        string `json:"song_id"`
	Period        string `json:"period"`
	Amount        string `json:"amount"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
	PaidAt        string `json:"paid_at"`
}

// DistributeRequest triggers a distribution round for one song.
type DistributeRequest struct {
	SongID         string `json:"song_id"`
	Period         string `json:"period"`
	MonthlyRevenue string `json:"monthly_revenue"`
}

// DistributionDTO reports the outcome of a distribution round.
type DistributionDTO struct {
	SongID             string      `json:"song_id"`
	Period             string      `json:"period"`
	Revenue            string      `json:"revenue"`
	AlreadyDistributed bool        `json:"already_distributed"`
	TotalPaid          string      `json:"total_paid"`
	Residual           string      `json:"residual"`
	Failed             int         `json:"failed"`
	Payouts            []PayoutDTO `json:"payouts"`
}

// =============================================================================
// WEBHOOK / ERRORS
// =============================================================================

// WebhookResponse acknowledges a payment event delivery.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Applied  bool   `json:"applied"`
	Status   string `json:"status,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toSongDTO(song royalty.Song, investments []royalty.Investment, includeInvestments bool) SongDTO {
	dto := SongDTO{
		ID:               string(song.ID),
		Title:            song.Title,
		ArtistID:         string(song.ArtistID),
		ArtistName:       song.ArtistName,
		TotalRoyaltyPool: song.TotalRoyaltyPool.String(),
		MonthlyRevenue:   song.MonthlyRevenue.String(),
		Active:           song.Active,
		InvestorCount:    len(investments),
		CreatedAt:        song.CreatedAt.Format(time.RFC3339),
	}

	invested := royalty.MustMoney("0")
	for _, inv := range investments {
		invested = invested.Add(inv.AmountInvested)
	}
	dto.TotalInvested = invested.String()
	dto.AvailableToInvest = royalty.AvailableToInvest(song, investments).String()

	if includeInvestments {
		for _, inv := range investments {
			dto.Investments = append(dto.Investments, toInvestmentDTO(inv))
		}
	}
	return dto
}

func toInvestmentDTO(inv royalty.Investment) InvestmentDTO {
	return InvestmentDTO{
		ID:                string(inv.ID),
		SongID:            string(inv.SongID),
		UserID:            string(inv.UserID),
		AmountInvested:    inv.AmountInvested.String(),
		RoyaltyPercentage: inv.RoyaltyPercentage.String(),
		CreatedAt:         inv.CreatedAt.Format(time.RFC3339),
	}
}

func toPayoutDTO(p royalty.Payout) PayoutDTO {
	return PayoutDTO{
		ID:            string(p.ID),
		InvestmentID:  string(p.InvestmentID),
		SongID:        string(p.SongID),
		Period:        string(p.Period),
		Amount:        p.Amount.String(),
		Status:        string(p.Status),
		FailureReason: p.FailureReason,
		PaidAt:        p.PaidAt.Format(time.RFC3339),
	}
}

func toDistributionDTO(result *royalty.DistributionResult) DistributionDTO {
	dto := DistributionDTO{
		SongID:             string(result.SongID),
		Period:             string(result.Period),
		Revenue:            result.Revenue.String(),
		AlreadyDistributed: result.AlreadyDistributed,
		TotalPaid:          result.TotalPaid.String(),
		Residual:           result.Residual.String(),
		Failed:             result.Failed,
	}
	for _, p := range result.Payouts {
		dto.Payouts = append(dto.Payouts, toPayoutDTO(p))
	}
	return dto
}
