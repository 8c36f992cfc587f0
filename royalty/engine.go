/*
engine.go - Royalty-pool accounting engine

PURPOSE:
  Implements the three core operations on a song's royalty pool:

  1. Settle:     apply a confirmed contribution - grow the pool, upsert
                 the contributor's investment, recompute EVERY
                 investor's percentage from current truth
  2. Distribute: split one period's revenue across investors pro-rata,
                 one immutable payout per investment, idempotent per
                 (song, period)
  3. Preview:    advisory pre-payment estimate, a separate formula that
                 must never feed the settlement path

CRITICAL INVARIANTS:
  1. Percentages are recomputed from scratch on every settlement:
     pct_i = amountInvested_i / totalRoyaltyPool * 100. Incremental
     delta updates would accumulate drift; full recomputation makes the
     sum-to-pool invariant hold regardless of ordering.
  2. All writes for one settlement happen inside one WithSongTx
     callback: two settlements for the same song never interleave their
     read-modify-write cycles, so pool increments cannot be lost.
  3. Settlement is idempotent by payment event ID. Redelivered webhook
     events do not double-credit.
  4. Payouts are rounded half-up to cents independently; the residual
     versus monthlyRevenue is accepted, logged and reported, not
     reallocated.

SEE ALSO:
  - store.go: The WithSongTx boundary the invariants lean on
  - preview.go-style note: PreviewShare lives here but shares no code
    with settlement percentage math
*/
package royalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds the settlement retry loop when the store
// reports optimistic-concurrency conflicts.
const DefaultMaxRetries = 3

// TransferService moves a payout to the investor's downstream account
// (e.g. a payment-provider payout). Failures are isolated per investor:
// the payout row is recorded as failed and the batch continues.
type TransferService interface {
	Transfer(ctx context.Context, inv Investment, amount decimal.Decimal, period Period) error
}

// Engine orchestrates settlements and distributions against a TxStore.
type Engine struct {
	Store  TxStore
	Logger *zap.Logger

	// Transfers is optional; when nil, payouts are recorded as paid
	// without a downstream transfer.
	Transfers TransferService

	// MaxRetries bounds retries on ErrConcurrentConflict; zero means
	// DefaultMaxRetries.
	MaxRetries int
}

// NewEngine creates an engine. logger may be nil.
func NewEngine(store TxStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Store: store, Logger: logger, MaxRetries: DefaultMaxRetries}
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// SettlementResult reports the post-settlement state of the song.
type SettlementResult struct {
	// Applied is false when the event was a redelivery and nothing
	// changed.
	Applied bool

	Song        Song
	Investment  Investment   // the contributor's row after the upsert
	Investments []Investment // all rows after the recomputation pass
}

// Settle applies a confirmed contribution to a song's pool.
//
// Sequence (all inside one per-song transaction):
//  1. reject non-positive amounts (defensive re-validation)
//  2. skip if the event ID was already processed (idempotent replay)
//  3. newTotalPool = totalRoyaltyPool + amount
//  4. upsert the (song, investor) row with the contributor's new
//     percentage: newAmountInvested / newTotalPool * 100
//  5. persist newTotalPool on the song
//  6. recompute every investment's percentage from newTotalPool
//     (including the row just upserted, for idempotence of the pass)
//  7. record the payment event for dedup
//
// First investment into a pool of 0 yields exactly 100%.
func (e *Engine) Settle(ctx context.Context, s Settlement) (*SettlementResult, error) {
	if err := validateAmount(s.Amount); err != nil {
		return nil, err
	}

	maxRetries := e.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result := &SettlementResult{}
		err := e.Store.WithSongTx(ctx, s.SongID, func(tx Store) error {
			return e.settleInTx(ctx, tx, s, result)
		})
		if err == nil {
			e.logSettlement(s, result)
			return result, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, &TransientFailureError{SongID: s.SongID, Attempts: maxRetries + 1, Last: lastErr}
}

func (e *Engine) settleInTx(ctx context.Context, tx Store, s Settlement, result *SettlementResult) error {
	if s.EventID != "" {
		seen, err := tx.SeenEvent(ctx, s.EventID)
		if err != nil {
			return err
		}
		if seen {
			// Redelivery: leave Applied false and write nothing.
			return nil
		}
	}

	song, err := tx.GetSong(ctx, s.SongID)
	if err != nil {
		return err
	}
	if song == nil {
		return fmt.Errorf("settle event %s: %w", s.EventID, ErrSongNotFound)
	}

	newTotalPool := song.TotalRoyaltyPool.Add(s.Amount)

	existing, err := tx.GetInvestment(ctx, s.SongID, s.UserID)
	if err != nil {
		return err
	}
	newAmountInvested := s.Amount
	if existing != nil {
		newAmountInvested = existing.AmountInvested.Add(s.Amount)
	}

	inv, err := tx.UpsertInvestment(ctx, s.SongID, s.UserID, s.Amount, sharePercent(newAmountInvested, newTotalPool))
	if err != nil {
		return err
	}

	if err := tx.UpdateSongPool(ctx, s.SongID, newTotalPool); err != nil {
		return err
	}

	// Full recomputation pass: every percentage from current truth.
	all, err := tx.ListInvestments(ctx, s.SongID)
	if err != nil {
		return err
	}
	for i := range all {
		pct := sharePercent(all[i].AmountInvested, newTotalPool)
		if err := tx.UpdateRoyaltyPercentage(ctx, all[i].ID, pct); err != nil {
			return err
		}
		all[i].RoyaltyPercentage = pct
		if all[i].ID == inv.ID {
			inv.RoyaltyPercentage = pct
		}
	}

	if s.EventID != "" {
		event := PaymentEvent{
			ID:          s.EventID,
			SongID:      s.SongID,
			UserID:      s.UserID,
			Amount:      s.Amount,
			ProcessedAt: time.Now().UTC(),
		}
		if err := tx.RecordEvent(ctx, event); err != nil {
			return err
		}
	}

	song.TotalRoyaltyPool = newTotalPool
	result.Applied = true
	result.Song = *song
	result.Investment = *inv
	result.Investments = all
	return nil
}

func (e *Engine) logSettlement(s Settlement, result *SettlementResult) {
	if !result.Applied {
		e.Logger.Info("settlement replayed, no-op",
			zap.String("event_id", s.EventID),
			zap.String("song_id", string(s.SongID)))
		return
	}
	e.Logger.Info("settlement applied",
		zap.String("event_id", s.EventID),
		zap.String("song_id", string(s.SongID)),
		zap.String("user_id", string(s.UserID)),
		zap.String("amount", s.Amount.String()),
		zap.String("total_pool", result.Song.TotalRoyaltyPool.String()),
		zap.Int("investors", len(result.Investments)))
}

// sharePercent is the authoritative ownership formula:
// amountInvested / totalRoyaltyPool * 100.
func sharePercent(amount, pool decimal.Decimal) decimal.Decimal {
	if pool.Sign() <= 0 {
		return decimal.Zero
	}
	return amount.Div(pool).Mul(hundred)
}

func validateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return &InvalidAmountError{Amount: amount.String(), Reason: "must be positive"}
	}
	return nil
}

// =============================================================================
// OWNERSHIP PREVIEW - advisory, display-only
// =============================================================================

// PreviewShare estimates the resulting ownership percentage for a
// proposed contribution: a / (available + a) * 100.
//
// This is the simplified pre-payment approximation shown to investors
// before checkout. It is intentionally a separate formula from the
// settlement computation (which divides by true totalRoyaltyPool) and
// must never be used on the settlement path.
func PreviewShare(available, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	if available.Sign() < 0 {
		available = decimal.Zero
	}
	return amount.Div(available.Add(amount)).Mul(hundred), nil
}

// AvailableToInvest is the song's remaining headroom:
// totalRoyaltyPool - sum(amountInvested), floored at zero.
func AvailableToInvest(song Song, investments []Investment) decimal.Decimal {
	invested := decimal.Zero
	for _, inv := range investments {
		invested = invested.Add(inv.AmountInvested)
	}
	available := song.TotalRoyaltyPool.Sub(invested)
	if available.Sign() < 0 {
		return decimal.Zero
	}
	return available
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// DistributionResult reports one distribution round.
type DistributionResult struct {
	SongID  SongID
	Period  Period
	Revenue decimal.Decimal

	// AlreadyDistributed is true when payouts for (song, period)
	// already existed; the run was a no-op.
	AlreadyDistributed bool

	Payouts   []Payout
	TotalPaid decimal.Decimal // sum of rounded payout amounts
	Failed    int             // payouts whose downstream transfer failed

	// Residual = revenue * sum(pct)/100 - TotalPaid. Per-payout
	// rounding can leave up to a cent per investor unaccounted for;
	// the residual is accepted, not reallocated.
	Residual decimal.Decimal
}

// Distribute splits one period's revenue across a song's investors.
//
// For each investment with RoyaltyPercentage > 0, the payout is
// revenue * pct / 100 rounded half-up to cents. Re-running an
// already-distributed period is a no-op, never a duplicate payout.
// A failed downstream transfer marks that payout failed and continues
// with the rest of the batch.
func (e *Engine) Distribute(ctx context.Context, songID SongID, period Period, revenue decimal.Decimal) (*DistributionResult, error) {
	if _, err := ParsePeriod(string(period)); err != nil {
		return nil, err
	}
	if err := validateAmount(revenue); err != nil {
		return nil, err
	}

	result := &DistributionResult{SongID: songID, Period: period, Revenue: revenue}
	err := e.Store.WithSongTx(ctx, songID, func(tx Store) error {
		return e.distributeInTx(ctx, tx, revenue, result)
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyDistributed {
		e.Logger.Info("distribution already done, no-op",
			zap.String("song_id", string(songID)),
			zap.String("period", string(period)))
		return result, nil
	}
	e.Logger.Info("distribution complete",
		zap.String("song_id", string(songID)),
		zap.String("period", string(period)),
		zap.String("revenue", revenue.String()),
		zap.String("total_paid", result.TotalPaid.String()),
		zap.String("residual", result.Residual.String()),
		zap.Int("payouts", len(result.Payouts)),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (e *Engine) distributeInTx(ctx context.Context, tx Store, revenue decimal.Decimal, result *DistributionResult) error {
	song, err := tx.GetSong(ctx, result.SongID)
	if err != nil {
		return err
	}
	if song == nil {
		return fmt.Errorf("distribute %s for %s: %w", result.Period, result.SongID, ErrSongNotFound)
	}

	existing, err := tx.ListPayoutsForPeriod(ctx, result.SongID, result.Period)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		result.AlreadyDistributed = true
		result.Payouts = existing
		return nil
	}

	investments, err := tx.ListInvestments(ctx, result.SongID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	totalPct := decimal.Zero
	result.TotalPaid = decimal.Zero
	for _, inv := range investments {
		if inv.RoyaltyPercentage.Sign() <= 0 {
			continue
		}
		totalPct = totalPct.Add(inv.RoyaltyPercentage)

		payout := Payout{
			ID:           PayoutID(uuid.NewString()),
			InvestmentID: inv.ID,
			SongID:       result.SongID,
			Period:       result.Period,
			Amount:       RoundCents(revenue.Mul(inv.RoyaltyPercentage).Div(hundred)),
			Status:       PayoutPaid,
			PaidAt:       now,
			CreatedAt:    now,
		}

		if e.Transfers != nil {
			if terr := e.Transfers.Transfer(ctx, inv, payout.Amount, result.Period); terr != nil {
				payout.Status = PayoutFailed
				payout.FailureReason = terr.Error()
				result.Failed++
				e.Logger.Warn("payout transfer failed, flagged for retry",
					zap.String("investment_id", string(inv.ID)),
					zap.String("period", string(result.Period)),
					zap.Error(terr))
			}
		}

		if err := tx.CreatePayout(ctx, payout); err != nil {
			return err
		}
		result.Payouts = append(result.Payouts, payout)
		result.TotalPaid = result.TotalPaid.Add(payout.Amount)
	}

	result.Residual = revenue.Mul(totalPct).Div(hundred).Sub(result.TotalPaid)
	return nil
}
