package royalty_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tunevest/royalty-engine/royalty"
	"github.com/tunevest/royalty-engine/royalty/store"
)

// =============================================================================
// DISTRIBUTION TEST HELPERS
// =============================================================================

// seedInvestors settles one contribution per (user, amount) pair so the
// percentages come out of the real settlement path.
func seedInvestors(t *testing.T, engine *royalty.Engine, songID string, amounts map[string]string) {
	t.Helper()
	i := 0
	for user, amount := range amounts {
		i++
		settle(t, engine, fmt.Sprintf("seed-%s-%d", user, i), songID, user, amount)
	}
}

func payoutFor(t *testing.T, result *royalty.DistributionResult, mem *store.Memory, songID, userID string) royalty.Payout {
	t.Helper()
	inv, err := mem.GetInvestment(context.Background(), royalty.SongID(songID), royalty.UserID(userID))
	if err != nil || inv == nil {
		t.Fatalf("investment %s/%s: %v", songID, userID, err)
	}
	for _, p := range result.Payouts {
		if p.InvestmentID == inv.ID {
			return p
		}
	}
	t.Fatalf("no payout for %s in period %s", userID, result.Period)
	return royalty.Payout{}
}

// =============================================================================
// DISTRIBUTION TESTS
// =============================================================================

func TestDistributeProRata(t *testing.T) {
	// GIVEN a fully-subscribed pool: 60% / 25% / 15%
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")
	seedInvestors(t, engine, "song-1", map[string]string{
		"user-a": "600",
		"user-b": "250",
		"user-c": "150",
	})

	// WHEN $100 of monthly revenue is distributed
	result, err := engine.Distribute(context.Background(), "song-1", "2026-08", money("100"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	// THEN each payout is revenue * pct / 100, rounded to cents
	if got := payoutFor(t, result, mem, "song-1", "user-a").Amount; !got.Equal(money("60")) {
		t.Errorf("user-a payout = %s, want 60", got)
	}
	if got := payoutFor(t, result, mem, "song-1", "user-b").Amount; !got.Equal(money("25")) {
		t.Errorf("user-b payout = %s, want 25", got)
	}
	if got := payoutFor(t, result, mem, "song-1", "user-c").Amount; !got.Equal(money("15")) {
		t.Errorf("user-c payout = %s, want 15", got)
	}
	if !result.TotalPaid.Equal(money("100")) {
		t.Errorf("total paid = %s, want 100", result.TotalPaid)
	}
	if !result.Residual.IsZero() {
		t.Errorf("residual = %s, want 0", result.Residual)
	}
}

func TestDistributeRoundsToCentsAndReportsResidual(t *testing.T) {
	// GIVEN three equal investors (33.33...% each)
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")
	seedInvestors(t, engine, "song-1", map[string]string{
		"user-a": "100",
		"user-b": "100",
		"user-c": "100",
	})

	// WHEN $100 is distributed
	result, err := engine.Distribute(context.Background(), "song-1", "2026-08", money("100"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	// THEN each payout rounds to 33.33 and the extra cent is reported
	// as residual, not reallocated
	for _, user := range []string{"user-a", "user-b", "user-c"} {
		if got := payoutFor(t, result, mem, "song-1", user).Amount; !got.Equal(money("33.33")) {
			t.Errorf("%s payout = %s, want 33.33", user, got)
		}
	}
	if !result.TotalPaid.Equal(money("99.99")) {
		t.Errorf("total paid = %s, want 99.99", result.TotalPaid)
	}
	if !approxEqual(result.Residual, money("0.01")) {
		t.Errorf("residual = %s, want ~0.01", result.Residual)
	}
}

func TestDistributeIdempotentPerPeriod(t *testing.T) {
	// GIVEN a period that has already been distributed
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")
	seedInvestors(t, engine, "song-1", map[string]string{"user-a": "100"})

	first, err := engine.Distribute(context.Background(), "song-1", "2026-08", money("50"))
	if err != nil {
		t.Fatalf("first distribute: %v", err)
	}
	if first.AlreadyDistributed {
		t.Fatal("first run should not be marked already distributed")
	}

	// WHEN the same period is distributed again
	second, err := engine.Distribute(context.Background(), "song-1", "2026-08", money("50"))
	if err != nil {
		t.Fatalf("second distribute: %v", err)
	}

	// THEN it is a no-op, not a duplicate payout
	if !second.AlreadyDistributed {
		t.Error("rerun should be marked already distributed")
	}
	inv, _ := mem.GetInvestment(context.Background(), "song-1", "user-a")
	payouts, _ := mem.ListPayoutsForInvestment(context.Background(), inv.ID, 0)
	if len(payouts) != 1 {
		t.Errorf("payout rows = %d, want 1", len(payouts))
	}

	// A different period distributes normally.
	next, err := engine.Distribute(context.Background(), "song-1", "2026-09", money("50"))
	if err != nil {
		t.Fatalf("next period distribute: %v", err)
	}
	if next.AlreadyDistributed {
		t.Error("new period should distribute")
	}
}

func TestDistributeSkipsZeroPercentInvestments(t *testing.T) {
	// GIVEN an investment forced to zero percent
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")
	seedInvestors(t, engine, "song-1", map[string]string{"user-a": "100"})
	inv, _ := mem.GetInvestment(context.Background(), "song-1", "user-a")
	if err := mem.UpdateRoyaltyPercentage(context.Background(), inv.ID, decimal.Zero); err != nil {
		t.Fatal(err)
	}

	// WHEN distributing
	result, err := engine.Distribute(context.Background(), "song-1", "2026-08", money("50"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	// THEN no payout rows are created
	if len(result.Payouts) != 0 {
		t.Errorf("payouts = %d, want 0", len(result.Payouts))
	}
}

func TestDistributeValidation(t *testing.T) {
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")

	if _, err := engine.Distribute(context.Background(), "song-1", "August 2026", money("50")); !errors.Is(err, royalty.ErrInvalidPeriod) {
		t.Errorf("bad period err = %v, want ErrInvalidPeriod", err)
	}
	if _, err := engine.Distribute(context.Background(), "song-1", "2026-08", money("0")); !errors.Is(err, royalty.ErrInvalidAmount) {
		t.Errorf("zero revenue err = %v, want ErrInvalidAmount", err)
	}
	if _, err := engine.Distribute(context.Background(), "missing", "2026-08", money("50")); !royalty.IsNotFound(err) {
		t.Errorf("missing song err = %v, want not found", err)
	}
}

// =============================================================================
// TRANSFER FAILURE ISOLATION
// =============================================================================

type flakyTransfers struct {
	failFor royalty.UserID
}

func (f *flakyTransfers) Transfer(_ context.Context, inv royalty.Investment, _ decimal.Decimal, _ royalty.Period) error {
	if inv.UserID == f.failFor {
		return errors.New("downstream account frozen")
	}
	return nil
}

func TestDistributeIsolatesTransferFailures(t *testing.T) {
	// GIVEN two investors, one with a broken downstream account
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")
	seedInvestors(t, engine, "song-1", map[string]string{
		"user-a": "100",
		"user-b": "100",
	})
	engine.Transfers = &flakyTransfers{failFor: "user-b"}

	// WHEN distributing
	result, err := engine.Distribute(context.Background(), "song-1", "2026-08", money("100"))
	if err != nil {
		t.Fatalf("distribute: %v", err)
	}

	// THEN the healthy payout succeeds and the broken one is recorded
	// as failed with a reason, without aborting the batch
	if result.Failed != 1 {
		t.Fatalf("failed = %d, want 1", result.Failed)
	}
	good := payoutFor(t, result, mem, "song-1", "user-a")
	if good.Status != royalty.PayoutPaid {
		t.Errorf("user-a status = %s, want paid", good.Status)
	}
	bad := payoutFor(t, result, mem, "song-1", "user-b")
	if bad.Status != royalty.PayoutFailed {
		t.Errorf("user-b status = %s, want failed", bad.Status)
	}
	if bad.FailureReason == "" {
		t.Error("failed payout should carry a reason")
	}
}
