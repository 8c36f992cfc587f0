/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements royalty.Store and royalty.TxStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

KEY TABLES:
  songs:           Listed songs with their royalty pool
  investments:     One row per (song, investor), cumulative
  payouts:         Immutable distribution records
  payment_events:  Processed webhook event IDs (settlement dedup)

UNIQUE CONSTRAINTS AS INVARIANT ENFORCEMENT:
  - idx_investments_song_user: at most one investment row per
    (song, investor); contributions increment the existing row
  - idx_payouts_investment_period: no investment paid twice for the
    same period
  - payment_events primary key: a redelivered payment event cannot be
    recorded (and therefore credited) twice

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus WithSongTx for the per-song
  read-modify-write boundary. SQLite is a single-writer database, so
  the store-wide write lock costs nothing extra; with PostgreSQL the
  equivalent is SELECT ... FOR UPDATE on the song row.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't
  block during settlements.

USAGE:
  store, err := sqlite.New("./data/royalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := royalty.NewEngine(store, logger)

SEE ALSO:
  - royalty/store.go: Interface definitions
  - royalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/tunevest/royalty-engine/royalty"
)

// Store implements royalty.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS songs (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		artist_id TEXT NOT NULL,
		artist_name TEXT NOT NULL,
		total_royalty_pool TEXT NOT NULL,
		monthly_revenue TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_songs_artist ON songs(artist_id);
	CREATE INDEX IF NOT EXISTS idx_songs_active ON songs(active);

	CREATE TABLE IF NOT EXISTS investments (
		id TEXT PRIMARY KEY,
		song_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		amount_invested TEXT NOT NULL,
		royalty_percentage TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one investment row per (song, investor).
	-- Subsequent contributions increment this row via upsert.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_investments_song_user
		ON investments(song_id, user_id);
	CREATE INDEX IF NOT EXISTS idx_investments_user ON investments(user_id);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		investment_id TEXT NOT NULL,
		song_id TEXT NOT NULL,
		period TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT,
		paid_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: no investment is paid twice for the same period.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_investment_period
		ON payouts(investment_id, period);
	CREATE INDEX IF NOT EXISTS idx_payouts_song_period
		ON payouts(song_id, period);

	CREATE TABLE IF NOT EXISTS payment_events (
		id TEXT PRIMARY KEY,
		song_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		processed_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer abstracts *sql.DB and *sql.Tx so every query method works
// both standalone and inside WithSongTx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// SONGS
// =============================================================================

const songColumns = `id, title, artist_id, artist_name, total_royalty_pool, monthly_revenue, active, created_at, updated_at`

// GetSong retrieves a song by ID. Returns (nil, nil) when missing.
func (s *Store) GetSong(ctx context.Context, id royalty.SongID) (*royalty.Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSong(ctx, s.db, id)
}

func getSong(ctx context.Context, db execer, id royalty.SongID) (*royalty.Song, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+songColumns+` FROM songs WHERE id = ?`, id)
	song, err := scanSong(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return song, nil
}

// ListSongs returns songs, newest first.
func (s *Store) ListSongs(ctx context.Context, activeOnly bool) ([]royalty.Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSongs(ctx, s.db, activeOnly)
}

func listSongs(ctx context.Context, db execer, activeOnly bool) ([]royalty.Song, error) {
	query := `SELECT ` + songColumns + ` FROM songs ORDER BY created_at DESC, id`
	if activeOnly {
		query = `SELECT ` + songColumns + ` FROM songs WHERE active ORDER BY created_at DESC, id`
	}
	return querySongs(ctx, db, query)
}

// ListSongsByArtist returns all of one artist's songs, newest first.
func (s *Store) ListSongsByArtist(ctx context.Context, artistID royalty.UserID) ([]royalty.Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSongsByArtist(ctx, s.db, artistID)
}

func listSongsByArtist(ctx context.Context, db execer, artistID royalty.UserID) ([]royalty.Song, error) {
	return querySongs(ctx, db,
		`SELECT `+songColumns+` FROM songs WHERE artist_id = ? ORDER BY created_at DESC, id`,
		artistID)
}

// SaveSong inserts or updates a song. The pool column is only written
// on insert; updates to it go through UpdateSongPool exclusively.
func (s *Store) SaveSong(ctx context.Context, song royalty.Song) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSong(ctx, s.db, song)
}

func saveSong(ctx context.Context, db execer, song royalty.Song) error {
	now := time.Now().UTC()
	if song.CreatedAt.IsZero() {
		song.CreatedAt = now
	}

	query := `
		INSERT INTO songs (` + songColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist_name = excluded.artist_name,
			monthly_revenue = excluded.monthly_revenue,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		song.ID, song.Title, song.ArtistID, song.ArtistName,
		song.TotalRoyaltyPool.String(), song.MonthlyRevenue.String(),
		song.Active,
		song.CreatedAt.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	return err
}

// UpdateSongPool persists the new pool total after a settlement.
func (s *Store) UpdateSongPool(ctx context.Context, id royalty.SongID, newTotal decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSongPool(ctx, s.db, id, newTotal)
}

func updateSongPool(ctx context.Context, db execer, id royalty.SongID, newTotal decimal.Decimal) error {
	res, err := db.ExecContext(ctx,
		`UPDATE songs SET total_royalty_pool = ?, updated_at = ? WHERE id = ?`,
		newTotal.String(), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return royalty.ErrSongNotFound
	}
	return nil
}

// =============================================================================
// INVESTMENTS
// =============================================================================

const investmentColumns = `id, song_id, user_id, amount_invested, royalty_percentage, created_at, updated_at`

// GetInvestment retrieves the (song, investor) row. Returns (nil, nil)
// when missing.
func (s *Store) GetInvestment(ctx context.Context, songID royalty.SongID, userID royalty.UserID) (*royalty.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInvestment(ctx, s.db, songID, userID)
}

func getInvestment(ctx context.Context, db execer, songID royalty.SongID, userID royalty.UserID) (*royalty.Investment, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+investmentColumns+` FROM investments WHERE song_id = ? AND user_id = ?`,
		songID, userID)
	inv, err := scanInvestment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvestments returns all investments for a song, oldest first.
func (s *Store) ListInvestments(ctx context.Context, songID royalty.SongID) ([]royalty.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvestments(ctx, s.db, songID)
}

func listInvestments(ctx context.Context, db execer, songID royalty.SongID) ([]royalty.Investment, error) {
	return queryInvestments(ctx, db,
		`SELECT `+investmentColumns+` FROM investments WHERE song_id = ? ORDER BY created_at ASC, id`,
		songID)
}

// ListInvestmentsByUser returns one investor's positions, newest first.
func (s *Store) ListInvestmentsByUser(ctx context.Context, userID royalty.UserID) ([]royalty.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInvestmentsByUser(ctx, s.db, userID)
}

func listInvestmentsByUser(ctx context.Context, db execer, userID royalty.UserID) ([]royalty.Investment, error) {
	return queryInvestments(ctx, db,
		`SELECT `+investmentColumns+` FROM investments WHERE user_id = ? ORDER BY created_at DESC, id`,
		userID)
}

// UpsertInvestment atomically creates or increments the (song, investor)
// row and sets the contributor's percentage.
func (s *Store) UpsertInvestment(ctx context.Context, songID royalty.SongID, userID royalty.UserID, delta, percentage decimal.Decimal) (*royalty.Investment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertInvestment(ctx, s.db, songID, userID, delta, percentage)
}

func upsertInvestment(ctx context.Context, db execer, songID royalty.SongID, userID royalty.UserID, delta, percentage decimal.Decimal) (*royalty.Investment, error) {
	// Amounts are decimal TEXT columns, so the increment is computed
	// here rather than in SQL. Callers hold the per-song boundary
	// (WithSongTx or the store lock), so read-then-upsert cannot race.
	existing, err := getInvestment(ctx, db, songID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	amount := delta
	id := royalty.InvestmentID(uuid.NewString())
	createdAt := now
	if existing != nil {
		amount = existing.AmountInvested.Add(delta)
		id = existing.ID
		createdAt = existing.CreatedAt
	}

	query := `
		INSERT INTO investments (` + investmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(song_id, user_id) DO UPDATE SET
			amount_invested = excluded.amount_invested,
			royalty_percentage = excluded.royalty_percentage,
			updated_at = excluded.updated_at
	`

	_, err = db.ExecContext(ctx, query,
		id, songID, userID,
		amount.String(), percentage.String(),
		createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert investment: %w", err)
	}

	return &royalty.Investment{
		ID:                id,
		SongID:            songID,
		UserID:            userID,
		AmountInvested:    amount,
		RoyaltyPercentage: percentage,
		CreatedAt:         createdAt,
		UpdatedAt:         now,
	}, nil
}

// UpdateRoyaltyPercentage overwrites one investment's derived percentage.
func (s *Store) UpdateRoyaltyPercentage(ctx context.Context, id royalty.InvestmentID, percentage decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateRoyaltyPercentage(ctx, s.db, id, percentage)
}

func updateRoyaltyPercentage(ctx context.Context, db execer, id royalty.InvestmentID, percentage decimal.Decimal) error {
	res, err := db.ExecContext(ctx,
		`UPDATE investments SET royalty_percentage = ?, updated_at = ? WHERE id = ?`,
		percentage.String(), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return royalty.ErrInvestmentNotFound
	}
	return nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

const payoutColumns = `id, investment_id, song_id, period, amount, status, failure_reason, paid_at, created_at`

// CreatePayout inserts an immutable payout record.
func (s *Store) CreatePayout(ctx context.Context, payout royalty.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createPayout(ctx, s.db, payout)
}

func createPayout(ctx context.Context, db execer, payout royalty.Payout) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO payouts (`+payoutColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payout.ID, payout.InvestmentID, payout.SongID, payout.Period,
		payout.Amount.String(), payout.Status, nullString(payout.FailureReason),
		payout.PaidAt.Format(time.RFC3339), payout.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return royalty.ErrDuplicatePayout
		}
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

// ListPayoutsForPeriod returns a song's payouts for one period.
func (s *Store) ListPayoutsForPeriod(ctx context.Context, songID royalty.SongID, period royalty.Period) ([]royalty.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayoutsForPeriod(ctx, s.db, songID, period)
}

func listPayoutsForPeriod(ctx context.Context, db execer, songID royalty.SongID, period royalty.Period) ([]royalty.Payout, error) {
	return queryPayouts(ctx, db,
		`SELECT `+payoutColumns+` FROM payouts WHERE song_id = ? AND period = ? ORDER BY created_at ASC, id`,
		songID, period)
}

// ListPayoutsForInvestment returns an investment's payouts, newest first.
func (s *Store) ListPayoutsForInvestment(ctx context.Context, id royalty.InvestmentID, limit int) ([]royalty.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayoutsForInvestment(ctx, s.db, id, limit)
}

func listPayoutsForInvestment(ctx context.Context, db execer, id royalty.InvestmentID, limit int) ([]royalty.Payout, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unlimited
	}
	return queryPayouts(ctx, db,
		`SELECT `+payoutColumns+` FROM payouts WHERE investment_id = ? ORDER BY paid_at DESC, id LIMIT ?`,
		id, limit)
}

// =============================================================================
// PAYMENT EVENTS
// =============================================================================

// SeenEvent checks whether a payment event ID was already processed.
func (s *Store) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return seenEvent(ctx, s.db, eventID)
}

func seenEvent(ctx context.Context, db execer, eventID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_events WHERE id = ?`, eventID).Scan(&count)
	return count > 0, err
}

// RecordEvent records a processed payment event for dedup.
func (s *Store) RecordEvent(ctx context.Context, event royalty.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recordEvent(ctx, s.db, event)
}

func recordEvent(ctx context.Context, db execer, event royalty.PaymentEvent) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO payment_events (id, song_id, user_id, amount, processed_at) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.SongID, event.UserID, event.Amount.String(),
		event.ProcessedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return royalty.ErrDuplicateEvent
		}
		return fmt.Errorf("failed to record payment event: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (royalty.TxStore interface)
// =============================================================================

// WithSongTx executes fn within a database transaction. The store-wide
// write lock doubles as the per-song serialization (SQLite allows only
// one writer anyway), so two settlements for the same song can never
// interleave their read-modify-write cycles.
func (s *Store) WithSongTx(ctx context.Context, _ royalty.SongID, fn func(royalty.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore runs every Store method against the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetSong(ctx context.Context, id royalty.SongID) (*royalty.Song, error) {
	return getSong(ctx, ts.tx, id)
}

func (ts *txStore) ListSongs(ctx context.Context, activeOnly bool) ([]royalty.Song, error) {
	return listSongs(ctx, ts.tx, activeOnly)
}

func (ts *txStore) ListSongsByArtist(ctx context.Context, artistID royalty.UserID) ([]royalty.Song, error) {
	return listSongsByArtist(ctx, ts.tx, artistID)
}

func (ts *txStore) SaveSong(ctx context.Context, song royalty.Song) error {
	return saveSong(ctx, ts.tx, song)
}

func (ts *txStore) UpdateSongPool(ctx context.Context, id royalty.SongID, newTotal decimal.Decimal) error {
	return updateSongPool(ctx, ts.tx, id, newTotal)
}

func (ts *txStore) GetInvestment(ctx context.Context, songID royalty.SongID, userID royalty.UserID) (*royalty.Investment, error) {
	return getInvestment(ctx, ts.tx, songID, userID)
}

func (ts *txStore) ListInvestments(ctx context.Context, songID royalty.SongID) ([]royalty.Investment, error) {
	return listInvestments(ctx, ts.tx, songID)
}

func (ts *txStore) ListInvestmentsByUser(ctx context.Context, userID royalty.UserID) ([]royalty.Investment, error) {
	return listInvestmentsByUser(ctx, ts.tx, userID)
}

func (ts *txStore) UpsertInvestment(ctx context.Context, songID royalty.SongID, userID royalty.UserID, delta, percentage decimal.Decimal) (*royalty.Investment, error) {
	return upsertInvestment(ctx, ts.tx, songID, userID, delta, percentage)
}

func (ts *txStore) UpdateRoyaltyPercentage(ctx context.Context, id royalty.InvestmentID, percentage decimal.Decimal) error {
	return updateRoyaltyPercentage(ctx, ts.tx, id, percentage)
}

func (ts *txStore) CreatePayout(ctx context.Context, payout royalty.Payout) error {
	return createPayout(ctx, ts.tx, payout)
}

func (ts *txStore) ListPayoutsForPeriod(ctx context.Context, songID royalty.SongID, period royalty.Period) ([]royalty.Payout, error) {
	return listPayoutsForPeriod(ctx, ts.tx, songID, period)
}

func (ts *txStore) ListPayoutsForInvestment(ctx context.Context, id royalty.InvestmentID, limit int) ([]royalty.Payout, error) {
	return listPayoutsForInvestment(ctx, ts.tx, id, limit)
}

func (ts *txStore) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	return seenEvent(ctx, ts.tx, eventID)
}

func (ts *txStore) RecordEvent(ctx context.Context, event royalty.PaymentEvent) error {
	return recordEvent(ctx, ts.tx, event)
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSong(row rowScanner) (*royalty.Song, error) {
	var (
		song      royalty.Song
		pool      string
		revenue   string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&song.ID, &song.Title, &song.ArtistID, &song.ArtistName,
		&pool, &revenue, &song.Active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	song.TotalRoyaltyPool = mustDecimal(pool)
	song.MonthlyRevenue = mustDecimal(revenue)
	song.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	song.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &song, nil
}

func querySongs(ctx context.Context, db execer, query string, args ...any) ([]royalty.Song, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	var songs []royalty.Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, *song)
	}
	return songs, rows.Err()
}

func scanInvestment(row rowScanner) (*royalty.Investment, error) {
	var (
		inv        royalty.Investment
		amount     string
		percentage string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&inv.ID, &inv.SongID, &inv.UserID, &amount, &percentage, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	inv.AmountInvested = mustDecimal(amount)
	inv.RoyaltyPercentage = mustDecimal(percentage)
	inv.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	inv.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &inv, nil
}

func queryInvestments(ctx context.Context, db execer, query string, args ...any) ([]royalty.Investment, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query investments: %w", err)
	}
	defer rows.Close()

	var investments []royalty.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		investments = append(investments, *inv)
	}
	return investments, rows.Err()
}

func queryPayouts(ctx context.Context, db execer, query string, args ...any) ([]royalty.Payout, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []royalty.Payout
	for rows.Next() {
		var (
			p             royalty.Payout
			amount        string
			failureReason sql.NullString
			paidAt        string
			createdAt     string
		)
		if err := rows.Scan(&p.ID, &p.InvestmentID, &p.SongID, &p.Period,
			&amount, &p.Status, &failureReason, &paidAt, &createdAt); err != nil {
			return nil, err
		}
		p.Amount = mustDecimal(amount)
		p.FailureReason = failureReason.String
		p.PaidAt, _ = time.Parse(time.RFC3339, paidAt)
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
