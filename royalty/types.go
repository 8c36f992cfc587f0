/*
Package royalty provides the core royalty-pool accounting engine.

PURPOSE:
  This package contains the domain types and algorithms for fractional
  song-royalty investment: applying confirmed contributions to a song's
  royalty pool, keeping every investor's ownership percentage consistent
  with the pool, and distributing periodic revenue pro-rata.

KEY CONCEPTS IN THIS FILE (types.go):
  - Song: the aggregate root; its TotalRoyaltyPool is the denominator
    for all percentage math
  - Investment: one row per (song, investor) pair, cumulative
  - Payout: one immutable record per (investment, period)
  - Settlement: a confirmed payment waiting to be applied to the ledger
  - Period: a year-month label for distribution rounds

DESIGN PRINCIPLES:
  1. Precision: all money and percentages use decimal.Decimal; no
     float64 money anywhere
  2. Derived percentages: RoyaltyPercentage is always recomputed from
     amountInvested / totalRoyaltyPool, never incremented independently
  3. Type Safety: strong typing for IDs prevents mixing song/user IDs
  4. Idempotence: settlements carry the provider event ID so replays
     are detectable

SEE ALSO:
  - engine.go: Settlement, preview and distribution algorithms
  - store.go: Persistence interface
  - errors.go: Error taxonomy
*/
package royalty

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SongID string
type UserID string
type InvestmentID string
type PayoutID string

// =============================================================================
// MONEY HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// RoundCents rounds a monetary value to the smallest currency unit
// (2 decimal places, half away from zero).
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MustMoney parses a decimal string and panics on failure. Test helper.
func MustMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("bad money literal %q: %v", s, err))
	}
	return d
}

// =============================================================================
// SONG - The aggregate root
// =============================================================================

// Song is a listed track whose future revenue is fractionally owned.
//
// INVARIANTS:
//   - TotalRoyaltyPool >= 0, and it only grows: each settled
//     contribution increments it by the contributed amount.
//   - TotalRoyaltyPool is the denominator for every investment's
//     RoyaltyPercentage. It is NOT the sum invested; sum(invested)
//     can be anywhere in [0, TotalRoyaltyPool].
type Song struct {
	ID         SongID
	Title      string
	ArtistID   UserID
	ArtistName string

	// TotalRoyaltyPool is the total dollar value the royalty stream is
	// deemed worth. Only the accounting engine writes it.
	TotalRoyaltyPool decimal.Decimal

	// MonthlyRevenue is externally supplied (administrative input).
	MonthlyRevenue decimal.Decimal

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// INVESTMENT - Cumulative position of one investor in one song
// =============================================================================

// Investment holds an investor's cumulative position in a song.
// There is at most one row per (song, investor) pair; subsequent
// contributions increment AmountInvested on the existing row.
type Investment struct {
	ID     InvestmentID
	SongID SongID
	UserID UserID

	// AmountInvested is cumulative across all of this investor's
	// contributions to the song.
	AmountInvested decimal.Decimal

	// RoyaltyPercentage is derived: AmountInvested / TotalRoyaltyPool * 100.
	// Recomputed from scratch on every settlement for the song.
	RoyaltyPercentage decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// PAYOUT - One distribution record per (investment, period)
// =============================================================================

type PayoutStatus string

const (
	PayoutPaid   PayoutStatus = "paid"   // recorded and transferred
	PayoutFailed PayoutStatus = "failed" // downstream transfer failed; flagged for retry
)

// Payout is an immutable record of one investor's share of a period's
// revenue. Unique per (investment, period).
type Payout struct {
	ID            PayoutID
	InvestmentID  InvestmentID
	SongID        SongID
	Period        Period
	Amount        decimal.Decimal
	Status        PayoutStatus
	FailureReason string
	PaidAt        time.Time
	CreatedAt     time.Time
}

// =============================================================================
// PERIOD - Year-month label for distribution rounds
// =============================================================================

// Period is a year-month label such as "2026-08".
type Period string

const periodLayout = "2006-01"

// ParsePeriod validates a year-month label.
func ParsePeriod(s string) (Period, error) {
	if _, err := time.Parse(periodLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period(s), nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period(t.Format(periodLayout))
}

// PreviousPeriod returns the period of the month before t.
func PreviousPeriod(t time.Time) Period {
	return PeriodOf(t.AddDate(0, -1, -t.Day()+1))
}

// =============================================================================
// SETTLEMENT - A confirmed payment waiting to be applied
// =============================================================================

// Settlement is the inbound confirmed-payment trigger for the engine.
// EventID is the payment provider's event identifier and is the
// idempotency key: a redelivered event must not double-credit.
type Settlement struct {
	EventID string
	SongID  SongID
	UserID  UserID
	Amount  decimal.Decimal
}

// PaymentEvent is a processed settlement trigger, recorded for dedup.
type PaymentEvent struct {
	ID          string
	SongID      SongID
	UserID      UserID
	Amount      decimal.Decimal
	ProcessedAt time.Time
}
