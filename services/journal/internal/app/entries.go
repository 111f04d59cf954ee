package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mentalia/pkg/domain"
	"mentalia/pkg/stats"
)

// SkippedRecord names a stored record that could not be decrypted.
type SkippedRecord struct {
	ID  int64
	Err error
}

// ListResult holds the readable entries, newest first, plus whatever had to
// be left out.
type ListResult struct {
	Entries []domain.MoodEntry
	Skipped []SkippedRecord
}

// Save validates, encrypts and persists an entry, returning the stored
// plaintext. Missing id, timestamp and version are filled in.
func (a *App) Save(ctx context.Context, entry domain.MoodEntry) (domain.MoodEntry, error) {
	if err := validateEntry(entry); err != nil {
		return domain.MoodEntry{}, err
	}
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return domain.MoodEntry{}, err
	}

	now := a.now()
	if entry.ID == 0 {
		entry.ID = a.nextID(now)
	} else {
		a.observeID(entry.ID)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	entry = a.normalizeEntry(entry, now)

	rec, err := a.sealEntry(h, entry)
	if err != nil {
		return domain.MoodEntry{}, err
	}
	if err := h.store.UpsertEntry(ctx, rec); err != nil {
		return domain.MoodEntry{}, fmt.Errorf("save entry: %w", err)
	}
	a.logger.Debug("entry saved", "id", entry.ID, "date", entry.Date)
	domain.Emit(a.cfg.Events, domain.EntrySaved{ID: entry.ID})
	return entry, nil
}

func validateEntry(entry domain.MoodEntry) error {
	if !domain.ValidMood(entry.Mood) {
		return fmt.Errorf("%w: mood must be between %.0f and %.0f, got %v", ErrValidation, domain.MinMood, domain.MaxMood, entry.Mood)
	}
	for i, f := range entry.Feelings {
		if strings.TrimSpace(f.Value) == "" {
			return fmt.Errorf("%w: feeling %d has no value", ErrValidation, i)
		}
	}
	return nil
}

// normalizeEntry fills the derived fields of an entry that already has an
// id and a timestamp.
func (a *App) normalizeEntry(entry domain.MoodEntry, now time.Time) domain.MoodEntry {
	entry.Timestamp = entry.Timestamp.UTC()
	entry.Date = domain.DayKey(entry.Timestamp, a.loc)
	entry.Diary = strings.TrimSpace(entry.Diary)
	if entry.Version == "" {
		entry.Version = domain.SchemaVersion
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	if entry.Feelings == nil {
		entry.Feelings = []domain.Feeling{}
	}
	return entry
}

func (a *App) sealEntry(h handle, entry domain.MoodEntry) (domain.EncryptedEntry, error) {
	payload, err := h.cipher.Seal(entry)
	if err != nil {
		return domain.EncryptedEntry{}, fmt.Errorf("encrypt entry: %w", err)
	}
	return domain.EncryptedEntry{
		ID:        entry.ID,
		Timestamp: entry.Timestamp,
		Date:      entry.Date,
		Mood:      entry.Mood,
		Version:   entry.Version,
		Payload:   payload,
	}, nil
}

// List decrypts every stored entry. Records that fail to decrypt are
// reported in Skipped instead of failing the whole read.
func (a *App) List(ctx context.Context) (ListResult, error) {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return ListResult{}, err
	}
	recs, err := h.store.ListEntries(ctx)
	if err != nil {
		return ListResult{}, fmt.Errorf("list entries: %w", err)
	}
	return a.decryptAll(ctx, h, recs)
}

// ListBetween returns entries with timestamp in [from, to).
func (a *App) ListBetween(ctx context.Context, from, to time.Time) (ListResult, error) {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return ListResult{}, err
	}
	recs, err := h.store.ListEntriesBetween(ctx, from, to)
	if err != nil {
		return ListResult{}, fmt.Errorf("list entries: %w", err)
	}
	return a.decryptAll(ctx, h, recs)
}

func (a *App) decryptAll(ctx context.Context, h handle, recs []domain.EncryptedEntry) (ListResult, error) {
	decoded := make([]*domain.MoodEntry, len(recs))
	var (
		mu      sync.Mutex
		skipped []SkippedRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, rec := range recs {
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var e domain.MoodEntry
			if err := h.cipher.Open(rec.Payload, &e); err != nil {
				mu.Lock()
				skipped = append(skipped, SkippedRecord{ID: rec.ID, Err: err})
				mu.Unlock()
				return nil
			}
			decoded[i] = &e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ListResult{}, err
	}

	res := ListResult{Entries: make([]domain.MoodEntry, 0, len(recs))}
	for _, e := range decoded {
		if e != nil {
			res.Entries = append(res.Entries, *e)
		}
	}
	sort.SliceStable(res.Entries, func(i, j int) bool {
		ei, ej := res.Entries[i], res.Entries[j]
		if !ei.Timestamp.Equal(ej.Timestamp) {
			return ei.Timestamp.After(ej.Timestamp)
		}
		return ei.ID > ej.ID
	})
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].ID > skipped[j].ID })
	for _, s := range skipped {
		a.logger.Warn("skipping unreadable entry", "id", s.ID, "err", s.Err)
		domain.Emit(a.cfg.Events, domain.RecordSkipped{ID: s.ID, Err: s.Err})
	}
	res.Skipped = skipped
	return res, nil
}

// Stats aggregates every readable entry.
func (a *App) Stats(ctx context.Context) (domain.Stats, error) {
	res, err := a.List(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	return stats.Compute(res.Entries, a.now(), a.loc), nil
}

func (a *App) Delete(ctx context.Context, id int64) error {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return err
	}
	if err := h.store.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (a *App) DeleteAll(ctx context.Context) error {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return err
	}
	if err := h.store.DeleteAllEntries(ctx); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	return nil
}

// ClearAllData removes entries, settings and backup manifests. Uploaded
// backup objects are left in place.
func (a *App) ClearAllData(ctx context.Context) error {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return err
	}
	if err := h.store.DeleteAllEntries(ctx); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	if err := h.store.DeleteAllSettings(ctx); err != nil {
		return fmt.Errorf("delete settings: %w", err)
	}
	if err := h.store.DeleteAllBackups(ctx); err != nil {
		return fmt.Errorf("delete backups: %w", err)
	}
	a.logger.Info("all journal data cleared")
	return nil
}
