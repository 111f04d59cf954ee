package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"mentalia/pkg/domain"
)

// ErrClosed is returned by MemoryStore after Close.
var ErrClosed = errors.New("store closed")

// MemoryStore is an in-memory EntryStore for tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[int64]domain.EncryptedEntry
	settings map[string]domain.EncryptedSetting
	backups  []domain.BackupRecord
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[int64]domain.EncryptedEntry),
		settings: make(map[string]domain.EncryptedSetting),
	}
}

func (s *MemoryStore) Migrate(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) UpsertEntry(_ context.Context, e domain.EncryptedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries[e.ID] = e
	return nil
}

func (s *MemoryStore) ListEntries(ctx context.Context) ([]domain.EncryptedEntry, error) {
	return s.ListEntriesBetween(ctx, time.Time{}, time.Time{})
}

func (s *MemoryStore) ListEntriesBetween(_ context.Context, from, to time.Time) ([]domain.EncryptedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	res := make([]domain.EncryptedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Timestamp.Before(to) {
			continue
		}
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return lessNewestFirst(res[i], res[j]) })
	return res, nil
}

func (s *MemoryStore) DeleteEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) DeleteAllEntries(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries = make(map[int64]domain.EncryptedEntry)
	return nil
}

func (s *MemoryStore) UpsertSetting(_ context.Context, st domain.EncryptedSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	s.settings[st.Key] = st
	return nil
}

func (s *MemoryStore) GetSetting(_ context.Context, key string) (domain.EncryptedSetting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return domain.EncryptedSetting{}, false, ErrClosed
	}
	st, ok := s.settings[key]
	return st, ok, nil
}

func (s *MemoryStore) ListSettings(context.Context) ([]domain.EncryptedSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	res := make([]domain.EncryptedSetting, 0, len(s.settings))
	for _, st := range s.settings {
		res = append(res, st)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Key < res[j].Key })
	return res, nil
}

func (s *MemoryStore) DeleteAllSettings(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.settings = make(map[string]domain.EncryptedSetting)
	return nil
}

func (s *MemoryStore) SaveBackup(_ context.Context, b domain.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.backups = append(s.backups, b)
	return nil
}

func (s *MemoryStore) ListBackups(context.Context) ([]domain.BackupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	res := append([]domain.BackupRecord(nil), s.backups...)
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (s *MemoryStore) DeleteAllBackups(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.backups = nil
	return nil
}

func (s *MemoryStore) ReplaceAll(_ context.Context, entries []domain.EncryptedEntry, settings []domain.EncryptedSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries = make(map[int64]domain.EncryptedEntry, len(entries))
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	s.settings = make(map[string]domain.EncryptedSetting, len(settings))
	for _, st := range settings {
		s.settings[st.Key] = st
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
