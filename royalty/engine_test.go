package royalty_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tunevest/royalty-engine/royalty"
	"github.com/tunevest/royalty-engine/royalty/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestEngine() (*royalty.Engine, *store.Memory) {
	mem := store.NewMemory()
	return royalty.NewEngine(mem, nil), mem
}

func money(s string) decimal.Decimal {
	return royalty.MustMoney(s)
}

func seedSong(t *testing.T, mem *store.Memory, id string, pool string) royalty.Song {
	t.Helper()
	song := royalty.Song{
		ID:               royalty.SongID(id),
		Title:            "Midnight Drive",
		ArtistID:         "artist-1",
		ArtistName:       "Nova Reyes",
		TotalRoyaltyPool: money(pool),
		MonthlyRevenue:   money("0"),
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := mem.SaveSong(context.Background(), song); err != nil {
		t.Fatalf("seed song: %v", err)
	}
	return song
}

// approxEqual compares decimals within a small epsilon; percentage
// recomputation is exact rational math but test expectations are
// written to 2 decimal places.
func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(money("0.005"))
}

func settle(t *testing.T, e *royalty.Engine, eventID, songID, userID, amount string) *royalty.SettlementResult {
	t.Helper()
	result, err := e.Settle(context.Background(), royalty.Settlement{
		EventID: eventID,
		SongID:  royalty.SongID(songID),
		UserID:  royalty.UserID(userID),
		Amount:  money(amount),
	})
	if err != nil {
		t.Fatalf("settle %s: %v", eventID, err)
	}
	return result
}

func percentageOf(t *testing.T, mem *store.Memory, songID, userID string) decimal.Decimal {
	t.Helper()
	inv, err := mem.GetInvestment(context.Background(), royalty.SongID(songID), royalty.UserID(userID))
	if err != nil {
		t.Fatalf("get investment: %v", err)
	}
	if inv == nil {
		t.Fatalf("investment %s/%s not found", songID, userID)
	}
	return inv.RoyaltyPercentage
}

// =============================================================================
// SETTLEMENT TESTS
// =============================================================================

func TestSettleFirstInvestorIntoEmptyPool(t *testing.T) {
	// GIVEN a song with an empty royalty pool
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")

	// WHEN the first contribution settles
	result := settle(t, engine, "evt-1", "song-1", "user-a", "100")

	// THEN the pool equals the contribution and the investor owns 100%
	if !result.Applied {
		t.Fatal("expected settlement to apply")
	}
	if !result.Song.TotalRoyaltyPool.Equal(money("100")) {
		t.Errorf("pool = %s, want 100", result.Song.TotalRoyaltyPool)
	}
	if !result.Investment.RoyaltyPercentage.Equal(money("100")) {
		t.Errorf("percentage = %s, want 100", result.Investment.RoyaltyPercentage)
	}
}

func TestSettleRecomputesAllPercentages(t *testing.T) {
	// GIVEN a $1000 pool where user-a holds $200 (20%)
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "1000")
	settle(t, engine, "evt-1", "song-1", "user-a", "200")
	if pct := percentageOf(t, mem, "song-1", "user-a"); !approxEqual(pct, money("16.67")) {
		// 200 / 1200 * 100
		t.Fatalf("after first settle pct = %s, want ~16.67", pct)
	}

	// WHEN user-b contributes $300
	settle(t, engine, "evt-2", "song-1", "user-b", "300")

	// THEN both percentages are recomputed against the grown pool (1500)
	if pct := percentageOf(t, mem, "song-1", "user-a"); !approxEqual(pct, money("13.33")) {
		t.Errorf("user-a pct = %s, want ~13.33", pct)
	}
	if pct := percentageOf(t, mem, "song-1", "user-b"); !approxEqual(pct, money("20")) {
		t.Errorf("user-b pct = %s, want ~20", pct)
	}
}

func TestSettleRepeatContributionAccumulates(t *testing.T) {
	// GIVEN an investor with an existing position
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")
	settle(t, engine, "evt-1", "song-1", "user-a", "100")

	// WHEN the same investor contributes again
	result := settle(t, engine, "evt-2", "song-1", "user-a", "50")

	// THEN the single row accumulates; no second row appears
	if !result.Investment.AmountInvested.Equal(money("150")) {
		t.Errorf("amount invested = %s, want 150", result.Investment.AmountInvested)
	}
	if len(result.Investments) != 1 {
		t.Errorf("investment rows = %d, want 1", len(result.Investments))
	}
	if !result.Investment.RoyaltyPercentage.Equal(money("100")) {
		t.Errorf("percentage = %s, want 100", result.Investment.RoyaltyPercentage)
	}
}

func TestSettlePercentagesSumToInvestedShare(t *testing.T) {
	// GIVEN four investors filling a pool from zero
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")
	settle(t, engine, "evt-1", "song-1", "user-a", "100")
	settle(t, engine, "evt-2", "song-1", "user-b", "200")
	settle(t, engine, "evt-3", "song-1", "user-c", "300")
	settle(t, engine, "evt-4", "song-1", "user-d", "400")

	// THEN each share reflects amount / 1000 and the shares sum to 100
	wants := map[string]string{
		"user-a": "10", "user-b": "20", "user-c": "30", "user-d": "40",
	}
	sum := decimal.Zero
	for user, want := range wants {
		pct := percentageOf(t, mem, "song-1", user)
		if !approxEqual(pct, money(want)) {
			t.Errorf("%s pct = %s, want %s", user, pct, want)
		}
		sum = sum.Add(pct)
	}
	if !approxEqual(sum, money("100")) {
		t.Errorf("sum of percentages = %s, want 100", sum)
	}
}

func TestSettleIdempotentReplay(t *testing.T) {
	// GIVEN a settled payment event
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")
	settle(t, engine, "evt-1", "song-1", "user-a", "100")

	// WHEN the provider redelivers the same event
	replay := settle(t, engine, "evt-1", "song-1", "user-a", "100")

	// THEN nothing changes
	if replay.Applied {
		t.Error("expected replay to be a no-op")
	}
	song, err := mem.GetSong(context.Background(), "song-1")
	if err != nil || song == nil {
		t.Fatalf("get song: %v", err)
	}
	if !song.TotalRoyaltyPool.Equal(money("100")) {
		t.Errorf("pool after replay = %s, want 100", song.TotalRoyaltyPool)
	}
	inv, _ := mem.GetInvestment(context.Background(), "song-1", "user-a")
	if !inv.AmountInvested.Equal(money("100")) {
		t.Errorf("amount invested after replay = %s, want 100", inv.AmountInvested)
	}
}

func TestSettleRejectsNonPositiveAmounts(t *testing.T) {
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "100")

	for _, amount := range []string{"0", "-25"} {
		_, err := engine.Settle(context.Background(), royalty.Settlement{
			EventID: "evt-bad",
			SongID:  "song-1",
			UserID:  "user-a",
			Amount:  money(amount),
		})
		if !errors.Is(err, royalty.ErrInvalidAmount) {
			t.Errorf("amount %s: err = %v, want ErrInvalidAmount", amount, err)
		}
	}

	// Rejected before any store interaction: no phantom investment row.
	inv, _ := mem.GetInvestment(context.Background(), "song-1", "user-a")
	if inv != nil {
		t.Error("expected no investment row after rejected settlements")
	}
}

func TestSettleUnknownSong(t *testing.T) {
	engine, _ := newTestEngine()

	_, err := engine.Settle(context.Background(), royalty.Settlement{
		EventID: "evt-1",
		SongID:  "missing",
		UserID:  "user-a",
		Amount:  money("100"),
	})
	if !royalty.IsNotFound(err) {
		t.Fatalf("err = %v, want song not found", err)
	}
}

func TestSettleConcurrentContributions(t *testing.T) {
	// GIVEN two $100 contributions racing into an empty pool
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "0")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"evt-1", "evt-2"} {
		wg.Add(1)
		go func(i int, eventID, user string) {
			defer wg.Done()
			_, errs[i] = engine.Settle(context.Background(), royalty.Settlement{
				EventID: eventID,
				SongID:  "song-1",
				UserID:  royalty.UserID(user),
				Amount:  money("100"),
			})
		}(i, id, "user-"+id)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("settlement %d: %v", i, err)
		}
	}

	// THEN no increment is lost and both investors hold 50%
	song, _ := mem.GetSong(context.Background(), "song-1")
	if !song.TotalRoyaltyPool.Equal(money("200")) {
		t.Fatalf("pool = %s, want 200", song.TotalRoyaltyPool)
	}
	for _, user := range []string{"user-evt-1", "user-evt-2"} {
		if pct := percentageOf(t, mem, "song-1", user); !pct.Equal(money("50")) {
			t.Errorf("%s pct = %s, want 50", user, pct)
		}
	}
}

// =============================================================================
// PREVIEW TESTS
// =============================================================================

func TestPreviewShareFormula(t *testing.T) {
	// a / (available + a) * 100
	cases := []struct {
		available, amount, want string
	}{
		{"900", "100", "10"},
		{"0", "100", "100"},
		{"100", "100", "50"},
		{"750", "250", "25"},
	}
	for _, tc := range cases {
		got, err := royalty.PreviewShare(money(tc.available), money(tc.amount))
		if err != nil {
			t.Fatalf("preview(%s, %s): %v", tc.available, tc.amount, err)
		}
		if !approxEqual(got, money(tc.want)) {
			t.Errorf("preview(%s, %s) = %s, want %s", tc.available, tc.amount, got, tc.want)
		}
	}
}

func TestPreviewShareDivergesFromSettlement(t *testing.T) {
	// GIVEN a $1000 pool with $200 already invested
	engine, mem := newTestEngine()
	seedSong(t, mem, "song-1", "1000")
	settle(t, engine, "evt-1", "song-1", "user-a", "200")

	song, _ := mem.GetSong(context.Background(), "song-1")
	invs, _ := mem.ListInvestments(context.Background(), "song-1")
	available := royalty.AvailableToInvest(*song, invs) // 1200 - 200 = 1000

	// WHEN previewing vs actually settling $300
	preview, err := royalty.PreviewShare(available, money("300"))
	if err != nil {
		t.Fatal(err)
	}
	settled := settle(t, engine, "evt-2", "song-1", "user-b", "300")

	// THEN the advisory estimate (300/1300) and the authoritative share
	// (300/1500) are different numbers, as designed
	if !approxEqual(preview, money("23.08")) {
		t.Errorf("preview = %s, want ~23.08", preview)
	}
	if !approxEqual(settled.Investment.RoyaltyPercentage, money("20")) {
		t.Errorf("settled pct = %s, want ~20", settled.Investment.RoyaltyPercentage)
	}
	if preview.Equal(settled.Investment.RoyaltyPercentage) {
		t.Error("preview and settlement formulas should not agree here")
	}
}

func TestPreviewShareRejectsInvalidAmount(t *testing.T) {
	if _, err := royalty.PreviewShare(money("100"), money("0")); !errors.Is(err, royalty.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestAvailableToInvestFloorsAtZero(t *testing.T) {
	song := royalty.Song{TotalRoyaltyPool: money("100")}
	invs := []royalty.Investment{
		{AmountInvested: money("80")},
		{AmountInvested: money("40")},
	}
	if got := royalty.AvailableToInvest(song, invs); !got.Equal(decimal.Zero) {
		t.Errorf("available = %s, want 0", got)
	}
}
