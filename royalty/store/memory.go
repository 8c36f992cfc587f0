// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tunevest/royalty-engine/royalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	songs       map[royalty.SongID]royalty.Song
	investments map[royalty.InvestmentID]royalty.Investment
	payouts     []royalty.Payout
	events      map[string]royalty.PaymentEvent
}

func NewMemory() *Memory {
	return &Memory{
		songs:       make(map[royalty.SongID]royalty.Song),
		investments: make(map[royalty.InvestmentID]royalty.Investment),
		events:      make(map[string]royalty.PaymentEvent),
	}
}

// =============================================================================
// SONGS
// =============================================================================

func (m *Memory) GetSong(_ context.Context, id royalty.SongID) (*royalty.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSongLocked(id)
}

func (m *Memory) getSongLocked(id royalty.SongID) (*royalty.Song, error) {
	song, ok := m.songs[id]
	if !ok {
		return nil, nil
	}
	return &song, nil
}

func (m *Memory) ListSongs(_ context.Context, activeOnly bool) ([]royalty.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []royalty.Song
	for _, song := range m.songs {
		if activeOnly && !song.Active {
			continue
		}
		result = append(result, song)
	}
	sortSongs(result)
	return result, nil
}

func (m *Memory) ListSongsByArtist(_ context.Context, artistID royalty.UserID) ([]royalty.Song, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []royalty.Song
	for _, song := range m.songs {
		if song.ArtistID == artistID {
			result = append(result, song)
		}
	}
	sortSongs(result)
	return result, nil
}

func (m *Memory) SaveSong(_ context.Context, song royalty.Song) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSongLocked(song)
}

func (m *Memory) saveSongLocked(song royalty.Song) error {
	song.UpdatedAt = time.Now().UTC()
	if song.CreatedAt.IsZero() {
		song.CreatedAt = song.UpdatedAt
	}
	m.songs[song.ID] = song
	return nil
}

func (m *Memory) UpdateSongPool(_ context.Context, id royalty.SongID, newTotal decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSongPoolLocked(id, newTotal)
}

func (m *Memory) updateSongPoolLocked(id royalty.SongID, newTotal decimal.Decimal) error {
	song, ok := m.songs[id]
	if !ok {
		return royalty.ErrSongNotFound
	}
	song.TotalRoyaltyPool = newTotal
	song.UpdatedAt = time.Now().UTC()
	m.songs[id] = song
	return nil
}

// =============================================================================
// INVESTMENTS
// =============================================================================

func (m *Memory) GetInvestment(_ context.Context, songID royalty.SongID, userID royalty.UserID) (*royalty.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvestmentLocked(songID, userID)
}

func (m *Memory) getInvestmentLocked(songID royalty.SongID, userID royalty.UserID) (*royalty.Investment, error) {
	for _, inv := range m.investments {
		if inv.SongID == songID && inv.UserID == userID {
			inv := inv
			return &inv, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListInvestments(_ context.Context, songID royalty.SongID) ([]royalty.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInvestmentsLocked(songID)
}

func (m *Memory) listInvestmentsLocked(songID royalty.SongID) ([]royalty.Investment, error) {
	var result []royalty.Investment
	for _, inv := range m.investments {
		if inv.SongID == songID {
			result = append(result, inv)
		}
	}
	sortInvestments(result)
	return result, nil
}

func (m *Memory) ListInvestmentsByUser(_ context.Context, userID royalty.UserID) ([]royalty.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []royalty.Investment
	for _, inv := range m.investments {
		if inv.UserID == userID {
			result = append(result, inv)
		}
	}
	sortInvestments(result)
	return result, nil
}

func (m *Memory) UpsertInvestment(_ context.Context, songID royalty.SongID, userID royalty.UserID, delta, percentage decimal.Decimal) (*royalty.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertInvestmentLocked(songID, userID, delta, percentage)
}

func (m *Memory) upsertInvestmentLocked(songID royalty.SongID, userID royalty.UserID, delta, percentage decimal.Decimal) (*royalty.Investment, error) {
	now := time.Now().UTC()
	existing, _ := m.getInvestmentLocked(songID, userID)
	if existing != nil {
		existing.AmountInvested = existing.AmountInvested.Add(delta)
		existing.RoyaltyPercentage = percentage
		existing.UpdatedAt = now
		m.investments[existing.ID] = *existing
		return existing, nil
	}

	inv := royalty.Investment{
		ID:                royalty.InvestmentID(uuid.NewString()),
		SongID:            songID,
		UserID:            userID,
		AmountInvested:    delta,
		RoyaltyPercentage: percentage,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.investments[inv.ID] = inv
	return &inv, nil
}

func (m *Memory) UpdateRoyaltyPercentage(_ context.Context, id royalty.InvestmentID, percentage decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePercentageLocked(id, percentage)
}

func (m *Memory) updatePercentageLocked(id royalty.InvestmentID, percentage decimal.Decimal) error {
	inv, ok := m.investments[id]
	if !ok {
		return royalty.ErrInvestmentNotFound
	}
	inv.RoyaltyPercentage = percentage
	inv.UpdatedAt = time.Now().UTC()
	m.investments[id] = inv
	return nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

func (m *Memory) CreatePayout(_ context.Context, payout royalty.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPayoutLocked(payout)
}

func (m *Memory) createPayoutLocked(payout royalty.Payout) error {
	for _, p := range m.payouts {
		if p.InvestmentID == payout.InvestmentID && p.Period == payout.Period {
			return royalty.ErrDuplicatePayout
		}
	}
	m.payouts = append(m.payouts, payout)
	return nil
}

func (m *Memory) ListPayoutsForPeriod(_ context.Context, songID royalty.SongID, period royalty.Period) ([]royalty.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPayoutsForPeriodLocked(songID, period)
}

func (m *Memory) listPayoutsForPeriodLocked(songID royalty.SongID, period royalty.Period) ([]royalty.Payout, error) {
	var result []royalty.Payout
	for _, p := range m.payouts {
		if p.SongID == songID && p.Period == period {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *Memory) ListPayoutsForInvestment(_ context.Context, id royalty.InvestmentID, limit int) ([]royalty.Payout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []royalty.Payout
	for _, p := range m.payouts {
		if p.InvestmentID == id {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PaidAt.After(result[j].PaidAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// =============================================================================
// PAYMENT EVENTS
// =============================================================================

func (m *Memory) SeenEvent(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *Memory) RecordEvent(_ context.Context, event royalty.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordEventLocked(event)
}

func (m *Memory) recordEventLocked(event royalty.PaymentEvent) error {
	if _, ok := m.events[event.ID]; ok {
		return royalty.ErrDuplicateEvent
	}
	m.events[event.ID] = event
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithSongTx executes fn within a transaction. For the memory store the
// per-song boundary is simulated with one big lock plus snapshot +
// rollback on error; that over-serializes across songs but keeps the
// semantics the engine relies on exact.
func (m *Memory) WithSongTx(_ context.Context, _ royalty.SongID, fn func(royalty.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	view := &txMemoryView{parent: m}

	if err := fn(view); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	songs       map[royalty.SongID]royalty.Song
	investments map[royalty.InvestmentID]royalty.Investment
	payouts     []royalty.Payout
	events      map[string]royalty.PaymentEvent
}

func (m *Memory) snapshot() memorySnapshot {
	songs := make(map[royalty.SongID]royalty.Song, len(m.songs))
	for k, v := range m.songs {
		songs[k] = v
	}
	investments := make(map[royalty.InvestmentID]royalty.Investment, len(m.investments))
	for k, v := range m.investments {
		investments[k] = v
	}
	events := make(map[string]royalty.PaymentEvent, len(m.events))
	for k, v := range m.events {
		events[k] = v
	}
	return memorySnapshot{
		songs:       songs,
		investments: investments,
		payouts:     append([]royalty.Payout{}, m.payouts...),
		events:      events,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.songs = s.songs
	m.investments = s.investments
	m.payouts = s.payouts
	m.events = s.events
}

// txMemoryView runs against the already-locked parent.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) GetSong(_ context.Context, id royalty.SongID) (*royalty.Song, error) {
	return tv.parent.getSongLocked(id)
}

func (tv *txMemoryView) ListSongs(_ context.Context, activeOnly bool) ([]royalty.Song, error) {
	var result []royalty.Song
	for _, song := range tv.parent.songs {
		if activeOnly && !song.Active {
			continue
		}
		result = append(result, song)
	}
	sortSongs(result)
	return result, nil
}

func (tv *txMemoryView) ListSongsByArtist(_ context.Context, artistID royalty.UserID) ([]royalty.Song, error) {
	var result []royalty.Song
	for _, song := range tv.parent.songs {
		if song.ArtistID == artistID {
			result = append(result, song)
		}
	}
	sortSongs(result)
	return result, nil
}

func (tv *txMemoryView) SaveSong(_ context.Context, song royalty.Song) error {
	return tv.parent.saveSongLocked(song)
}

func (tv *txMemoryView) UpdateSongPool(_ context.Context, id royalty.SongID, newTotal decimal.Decimal) error {
	return tv.parent.updateSongPoolLocked(id, newTotal)
}

func (tv *txMemoryView) GetInvestment(_ context.Context, songID royalty.SongID, userID royalty.UserID) (*royalty.Investment, error) {
	return tv.parent.getInvestmentLocked(songID, userID)
}

func (tv *txMemoryView) ListInvestments(_ context.Context, songID royalty.SongID) ([]royalty.Investment, error) {
	return tv.parent.listInvestmentsLocked(songID)
}

func (tv *txMemoryView) ListInvestmentsByUser(_ context.Context, userID royalty.UserID) ([]royalty.Investment, error) {
	var result []royalty.Investment
	for _, inv := range tv.parent.investments {
		if inv.UserID == userID {
			result = append(result, inv)
		}
	}
	sortInvestments(result)
	return result, nil
}

func (tv *txMemoryView) UpsertInvestment(_ context.Context, songID royalty.SongID, userID royalty.UserID, delta, percentage decimal.Decimal) (*royalty.Investment, error) {
	return tv.parent.upsertInvestmentLocked(songID, userID, delta, percentage)
}

func (tv *txMemoryView) UpdateRoyaltyPercentage(_ context.Context, id royalty.InvestmentID, percentage decimal.Decimal) error {
	return tv.parent.updatePercentageLocked(id, percentage)
}

func (tv *txMemoryView) CreatePayout(_ context.Context, payout royalty.Payout) error {
	return tv.parent.createPayoutLocked(payout)
}

func (tv *txMemoryView) ListPayoutsForPeriod(_ context.Context, songID royalty.SongID, period royalty.Period) ([]royalty.Payout, error) {
	return tv.parent.listPayoutsForPeriodLocked(songID, period)
}

func (tv *txMemoryView) ListPayoutsForInvestment(ctx context.Context, id royalty.InvestmentID, limit int) ([]royalty.Payout, error) {
	var result []royalty.Payout
	for _, p := range tv.parent.payouts {
		if p.InvestmentID == id {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PaidAt.After(result[j].PaidAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (tv *txMemoryView) SeenEvent(_ context.Context, eventID string) (bool, error) {
	_, ok := tv.parent.events[eventID]
	return ok, nil
}

func (tv *txMemoryView) RecordEvent(_ context.Context, event royalty.PaymentEvent) error {
	return tv.parent.recordEventLocked(event)
}

// =============================================================================
// HELPERS
// =============================================================================

func sortSongs(songs []royalty.Song) {
	sort.Slice(songs, func(i, j int) bool {
		if songs[i].CreatedAt.Equal(songs[j].CreatedAt) {
			return songs[i].ID < songs[j].ID
		}
		return songs[i].CreatedAt.After(songs[j].CreatedAt)
	})
}

func sortInvestments(investments []royalty.Investment) {
	sort.Slice(investments, func(i, j int) bool {
		if investments[i].CreatedAt.Equal(investments[j].CreatedAt) {
			return investments[i].ID < investments[j].ID
		}
		return investments[i].CreatedAt.Before(investments[j].CreatedAt)
	})
}
