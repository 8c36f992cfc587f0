package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunevest/royalty-engine/royalty"
	"github.com/tunevest/royalty-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func money(s string) decimal.Decimal {
	return royalty.MustMoney(s)
}

func testSong(id string) royalty.Song {
	return royalty.Song{
		ID:               royalty.SongID(id),
		Title:            "Neon Skyline",
		ArtistID:         "artist-1",
		ArtistName:       "Iris Vane",
		TotalRoyaltyPool: money("1000"),
		MonthlyRevenue:   money("120"),
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
}

// =============================================================================
// SONG TESTS
// =============================================================================

func TestSongRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSong(ctx, testSong("song-1")))

	got, err := store.GetSong(ctx, "song-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Neon Skyline", got.Title)
	assert.True(t, got.TotalRoyaltyPool.Equal(money("1000")))
	assert.True(t, got.MonthlyRevenue.Equal(money("120")))
	assert.True(t, got.Active)
}

func TestGetSongMissingReturnsNilNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetSong(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveSongUpdateDoesNotTouchPool(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	song := testSong("song-1")
	require.NoError(t, store.SaveSong(ctx, song))
	require.NoError(t, store.UpdateSongPool(ctx, song.ID, money("1500")))

	// Re-saving the song (e.g. a metadata edit) must not clobber the
	// pool the engine wrote.
	song.Title = "Neon Skyline (Remix)"
	song.TotalRoyaltyPool = money("1000") // stale value on the caller's copy
	require.NoError(t, store.SaveSong(ctx, song))

	got, err := store.GetSong(ctx, song.ID)
	require.NoError(t, err)
	assert.Equal(t, "Neon Skyline (Remix)", got.Title)
	assert.True(t, got.TotalRoyaltyPool.Equal(money("1500")),
		"pool = %s, want 1500", got.TotalRoyaltyPool)
}

func TestListSongsActiveFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := testSong("song-1")
	require.NoError(t, store.SaveSong(ctx, active))

	inactive := testSong("song-2")
	inactive.Active = false
	require.NoError(t, store.SaveSong(ctx, inactive))

	all, err := store.ListSongs(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyActive, err := store.ListSongs(ctx, true)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, royalty.SongID("song-1"), onlyActive[0].ID)
}

func TestListSongsByArtist(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mine := testSong("song-1")
	require.NoError(t, store.SaveSong(ctx, mine))

	other := testSong("song-2")
	other.ArtistID = "artist-2"
	require.NoError(t, store.SaveSong(ctx, other))

	songs, err := store.ListSongsByArtist(ctx, "artist-1")
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, royalty.SongID("song-1"), songs[0].ID)
}

func TestUpdateSongPoolMissingSong(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSongPool(context.Background(), "nope", money("10"))
	assert.ErrorIs(t, err, royalty.ErrSongNotFound)
}

// =============================================================================
// INVESTMENT TESTS
// =============================================================================

func TestUpsertInvestmentCreatesThenIncrements(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSong(ctx, testSong("song-1")))

	first, err := store.UpsertInvestment(ctx, "song-1", "user-a", money("100"), money("10"))
	require.NoError(t, err)
	assert.True(t, first.AmountInvested.Equal(money("100")))
	assert.True(t, first.RoyaltyPercentage.Equal(money("10")))

	second, err := store.UpsertInvestment(ctx, "song-1", "user-a", money("50"), money("12.5"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeat contribution must hit the same row")
	assert.True(t, second.AmountInvested.Equal(money("150")))
	assert.True(t, second.RoyaltyPercentage.Equal(money("12.5")))

	invs, err := store.ListInvestments(ctx, "song-1")
	require.NoError(t, err)
	assert.Len(t, invs, 1)
}

func TestGetInvestmentMissingReturnsNilNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetInvestment(context.Background(), "song-1", "user-a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateRoyaltyPercentage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSong(ctx, testSong("song-1")))

	inv, err := store.UpsertInvestment(ctx, "song-1", "user-a", money("100"), money("100"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateRoyaltyPercentage(ctx, inv.ID, money("33.333")))

	got, err := store.GetInvestment(ctx, "song-1", "user-a")
	require.NoError(t, err)
	assert.True(t, got.RoyaltyPercentage.Equal(money("33.333")))

	err = store.UpdateRoyaltyPercentage(ctx, "missing", money("1"))
	assert.ErrorIs(t, err, royalty.ErrInvestmentNotFound)
}

func TestListInvestmentsByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSong(ctx, testSong("song-1")))
	require.NoError(t, store.SaveSong(ctx, testSong("song-2")))

	_, err := store.UpsertInvestment(ctx, "song-1", "user-a", money("100"), money("10"))
	require.NoError(t, err)
	_, err = store.UpsertInvestment(ctx, "song-2", "user-a", money("200"), money("20"))
	require.NoError(t, err)
	_, err = store.UpsertInvestment(ctx, "song-1", "user-b", money("300"), money("30"))
	require.NoError(t, err)

	invs, err := store.ListInvestmentsByUser(ctx, "user-a")
	require.NoError(t, err)
	assert.Len(t, invs, 2)
}

// =============================================================================
// PAYOUT TESTS
// =============================================================================

func testPayout(id, invID, period string) royalty.Payout {
	now := time.Now().UTC()
	return royalty.Payout{
		ID:           royalty.PayoutID(id),
		InvestmentID: royalty.InvestmentID(invID),
		SongID:       "song-1",
		Period:       royalty.Period(period),
		Amount:       money("12.34"),
		Status:       royalty.PayoutPaid,
		PaidAt:       now,
		CreatedAt:    now,
	}
}

func TestCreatePayoutDuplicatePeriodRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePayout(ctx, testPayout("p1", "inv-1", "2026-08")))

	err := store.CreatePayout(ctx, testPayout("p2", "inv-1", "2026-08"))
	assert.ErrorIs(t, err, royalty.ErrDuplicatePayout)

	// A different period for the same investment is fine.
	require.NoError(t, store.CreatePayout(ctx, testPayout("p3", "inv-1", "2026-09")))
}

func TestListPayoutsForPeriod(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePayout(ctx, testPayout("p1", "inv-1", "2026-08")))
	require.NoError(t, store.CreatePayout(ctx, testPayout("p2", "inv-2", "2026-08")))
	require.NoError(t, store.CreatePayout(ctx, testPayout("p3", "inv-1", "2026-09")))

	payouts, err := store.ListPayoutsForPeriod(ctx, "song-1", "2026-08")
	require.NoError(t, err)
	assert.Len(t, payouts, 2)
}

func TestListPayoutsForInvestmentLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, period := range []string{"2026-06", "2026-07", "2026-08"} {
		p := testPayout(string(rune('a'+i)), "inv-1", period)
		p.PaidAt = time.Date(2026, time.Month(6+i), 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, store.CreatePayout(ctx, p))
	}

	limited, err := store.ListPayoutsForInvestment(ctx, "inv-1", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, royalty.Period("2026-08"), limited[0].Period, "newest first")

	all, err := store.ListPayoutsForInvestment(ctx, "inv-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPayoutFailureReasonRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := testPayout("p1", "inv-1", "2026-08")
	p.Status = royalty.PayoutFailed
	p.FailureReason = "downstream account frozen"
	require.NoError(t, store.CreatePayout(ctx, p))

	payouts, err := store.ListPayoutsForPeriod(ctx, "song-1", "2026-08")
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, royalty.PayoutFailed, payouts[0].Status)
	assert.Equal(t, "downstream account frozen", payouts[0].FailureReason)
}

// =============================================================================
// PAYMENT EVENT TESTS
// =============================================================================

func TestEventDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seen, err := store.SeenEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	event := royalty.PaymentEvent{
		ID:          "evt-1",
		SongID:      "song-1",
		UserID:      "user-a",
		Amount:      money("100"),
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, store.RecordEvent(ctx, event))

	seen, err = store.SeenEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	err = store.RecordEvent(ctx, event)
	assert.ErrorIs(t, err, royalty.ErrDuplicateEvent)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestWithSongTxCommits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSong(ctx, testSong("song-1")))

	err := store.WithSongTx(ctx, "song-1", func(tx royalty.Store) error {
		if _, err := tx.UpsertInvestment(ctx, "song-1", "user-a", money("100"), money("9.09")); err != nil {
			return err
		}
		return tx.UpdateSongPool(ctx, "song-1", money("1100"))
	})
	require.NoError(t, err)

	song, err := store.GetSong(ctx, "song-1")
	require.NoError(t, err)
	assert.True(t, song.TotalRoyaltyPool.Equal(money("1100")))
	inv, err := store.GetInvestment(ctx, "song-1", "user-a")
	require.NoError(t, err)
	require.NotNil(t, inv)
}

func TestWithSongTxRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveSong(ctx, testSong("song-1")))

	boom := errors.New("boom")
	err := store.WithSongTx(ctx, "song-1", func(tx royalty.Store) error {
		if _, err := tx.UpsertInvestment(ctx, "song-1", "user-a", money("100"), money("9.09")); err != nil {
			return err
		}
		if err := tx.UpdateSongPool(ctx, "song-1", money("1100")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing from the failed callback is visible.
	song, err := store.GetSong(ctx, "song-1")
	require.NoError(t, err)
	assert.True(t, song.TotalRoyaltyPool.Equal(money("1000")),
		"pool = %s, want untouched 1000", song.TotalRoyaltyPool)
	inv, err := store.GetInvestment(ctx, "song-1", "user-a")
	require.NoError(t, err)
	assert.Nil(t, inv)
}
