/*
store.go - Persistence interface for the accounting engine

PURPOSE:
  Defines the storage contract the engine depends on. The store is a
  passive persistence layer: no triggers, no derived columns, no
  business logic. The engine is the sole writer of TotalRoyaltyPool,
  RoyaltyPercentage and Payout rows.

ATOMIC BOUNDARY:
  TxStore.WithSongTx is the per-song transactional boundary required by
  the settlement routine. Everything inside the callback commits or
  rolls back as one unit, and two callbacks for the same song never
  interleave. Callbacks for different songs may run fully in parallel.

IMPLEMENTATIONS:
  store/sqlite:        production store (mattn/go-sqlite3)
  royalty/store:       in-memory store for tests

SEE ALSO:
  - engine.go: The only consumer with write intent
*/
package royalty

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract for songs, investments, payouts
// and processed payment events.
//
// Missing-row convention: Get* methods return (nil, nil) when the row
// does not exist; the engine maps that to the NotFound errors.
type Store interface {
	// Songs
	GetSong(ctx context.Context, id SongID) (*Song, error)
	ListSongs(ctx context.Context, activeOnly bool) ([]Song, error)
	ListSongsByArtist(ctx context.Context, artistID UserID) ([]Song, error)
	SaveSong(ctx context.Context, song Song) error
	UpdateSongPool(ctx context.Context, id SongID, newTotal decimal.Decimal) error

	// Investments
	GetInvestment(ctx context.Context, songID SongID, userID UserID) (*Investment, error)
	ListInvestments(ctx context.Context, songID SongID) ([]Investment, error)
	ListInvestmentsByUser(ctx context.Context, userID UserID) ([]Investment, error)

	// UpsertInvestment atomically creates the (song, investor) row or
	// increments its AmountInvested by delta, setting the contributor's
	// percentage in the same statement. Returns the resulting row.
	UpsertInvestment(ctx context.Context, songID SongID, userID UserID, delta, percentage decimal.Decimal) (*Investment, error)

	// UpdateRoyaltyPercentage overwrites one investment's derived
	// percentage during the recomputation pass.
	UpdateRoyaltyPercentage(ctx context.Context, id InvestmentID, percentage decimal.Decimal) error

	// Payouts
	CreatePayout(ctx context.Context, payout Payout) error
	ListPayoutsForPeriod(ctx context.Context, songID SongID, period Period) ([]Payout, error)
	ListPayoutsForInvestment(ctx context.Context, id InvestmentID, limit int) ([]Payout, error)

	// Payment-event dedup
	SeenEvent(ctx context.Context, eventID string) (bool, error)
	RecordEvent(ctx context.Context, event PaymentEvent) error
}

// TxStore extends Store with the per-song atomic boundary.
type TxStore interface {
	Store

	// WithSongTx runs fn inside a transaction serialized per song.
	// All writes in fn commit together or not at all. Implementations
	// that use optimistic concurrency return ErrConcurrentConflict,
	// which the engine retries from a fresh read.
	WithSongTx(ctx context.Context, songID SongID, fn func(Store) error) error
}
