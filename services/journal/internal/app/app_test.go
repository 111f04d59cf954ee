package app

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mentalia/pkg/domain"
	"mentalia/pkg/store"
	"mentalia/pkg/vault"
)

var testNow = time.Date(2024, 6, 15, 18, 0, 0, 0, time.UTC)

type testOptions struct {
	store  store.EntryStore
	events chan domain.Event
	retry  RetryPolicy
}

func newTestApp(t *testing.T, opts testOptions) *App {
	t.Helper()
	s := opts.store
	if s == nil {
		s = store.NewMemoryStore()
	}
	cfg := Config{
		Store:    s,
		KeyFile:  filepath.Join(t.TempDir(), "keys", "journal.key"),
		Location: time.UTC,
		Retry:    opts.retry,
		Now:      func() time.Time { return testNow },
	}
	if opts.events != nil {
		cfg.Events = opts.events
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// flakyStore fails Migrate a fixed number of times.
type flakyStore struct {
	*store.MemoryStore
	failures int32
	calls    atomic.Int32
}

func (f *flakyStore) Migrate(ctx context.Context) error {
	n := f.calls.Add(1)
	if f.failures < 0 || n <= f.failures {
		return errors.New("database is locked")
	}
	return f.MemoryStore.Migrate(ctx)
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, Multiplier: 2, MaxInterval: 5 * time.Millisecond, MaxAttempts: attempts}
}

func TestSaveValidatesMood(t *testing.T) {
	a := newTestApp(t, testOptions{})
	ctx := context.Background()
	for _, mood := range []float64{0, 0.99, 5.01, 10, math.NaN(), math.Inf(1)} {
		if _, err := a.Save(ctx, domain.MoodEntry{Mood: mood}); !errors.Is(err, ErrValidation) {
			t.Fatalf("mood %v: expected ErrValidation, got %v", mood, err)
		}
	}
	for _, mood := range []float64{1, 5, 3.3} {
		if _, err := a.Save(ctx, domain.MoodEntry{Mood: mood}); err != nil {
			t.Fatalf("mood %v: %v", mood, err)
		}
	}
	if _, err := a.Save(ctx, domain.MoodEntry{Mood: 3, Feelings: []domain.Feeling{{Value: " "}}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty feeling, got %v", err)
	}
}

func TestSaveFillsDefaultsAndIncreasingIDs(t *testing.T) {
	events := make(chan domain.Event, 8)
	a := newTestApp(t, testOptions{events: events})
	ctx := context.Background()

	first, err := a.Save(ctx, domain.MoodEntry{Mood: 4, Diary: "  walked by the sea \n"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := a.Save(ctx, domain.MoodEntry{Mood: 2})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.ID != testNow.UnixMilli() || second.ID != first.ID+1 {
		t.Fatalf("ids not strictly increasing: %d then %d", first.ID, second.ID)
	}
	if first.Diary != "walked by the sea" || first.Version != "3.0" || first.Date != "2024-06-15" {
		t.Fatalf("defaults not applied: %+v", first)
	}
	if !first.Timestamp.Equal(testNow) || first.CreatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", first)
	}
	if ev := <-events; ev.(domain.EntrySaved).ID != first.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSaveListRoundTripOnSQLite(t *testing.T) {
	gs, err := store.NewGormStore(filepath.Join(t.TempDir(), "mentalia.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	a := newTestApp(t, testOptions{store: gs})
	ctx := context.Background()

	older := domain.MoodEntry{
		Mood:      2.5,
		Feelings:  []domain.Feeling{{Value: "ansioso", Emoji: "😰"}},
		Diary:     "exam week",
		Timestamp: testNow.Add(-48 * time.Hour),
	}
	newer := domain.MoodEntry{Mood: 4.5, Timestamp: testNow.Add(-time.Hour)}
	for _, e := range []domain.MoodEntry{older, newer} {
		if _, err := a.Save(ctx, e); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	res, err := a.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Entries) != 2 || len(res.Skipped) != 0 {
		t.Fatalf("unexpected list result: %+v", res)
	}
	if res.Entries[0].Mood != 4.5 || res.Entries[1].Diary != "exam week" {
		t.Fatalf("wrong order or content: %+v", res.Entries)
	}
	if res.Entries[1].Feelings[0].Emoji != "😰" {
		t.Fatalf("feelings not preserved: %+v", res.Entries[1].Feelings)
	}

	recs, err := gs.ListEntries(ctx)
	if err != nil {
		t.Fatalf("raw list: %v", err)
	}
	for i, rec := range recs {
		if rec.Mood != res.Entries[i].Mood {
			t.Fatalf("plaintext mood %v differs from payload %v", rec.Mood, res.Entries[i].Mood)
		}
		if rec.Payload == "" || rec.Payload == "exam week" {
			t.Fatalf("payload not encrypted: %q", rec.Payload)
		}
	}

	between, err := a.ListBetween(ctx, testNow.Add(-72*time.Hour), testNow.Add(-24*time.Hour))
	if err != nil || len(between.Entries) != 1 || between.Entries[0].Diary != "exam week" {
		t.Fatalf("list between = %+v, %v", between, err)
	}
}

func TestListSkipsUnreadableRecords(t *testing.T) {
	mem := store.NewMemoryStore()
	events := make(chan domain.Event, 8)
	a := newTestApp(t, testOptions{store: mem, events: events})
	ctx := context.Background()

	if _, err := a.Save(ctx, domain.MoodEntry{Mood: 3, Timestamp: testNow.Add(-time.Hour)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	<-events
	bad := domain.EncryptedEntry{ID: 42, Timestamp: testNow, Date: "2024-06-15", Mood: 5, Payload: "bm90IGVuY3J5cHRlZA=="}
	if err := mem.UpsertEntry(ctx, bad); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}

	res, err := a.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Mood != 3 {
		t.Fatalf("unexpected entries: %+v", res.Entries)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].ID != 42 || !errors.Is(res.Skipped[0].Err, vault.ErrDecryption) {
		t.Fatalf("unexpected skipped: %+v", res.Skipped)
	}
	ev, ok := (<-events).(domain.RecordSkipped)
	if !ok || ev.ID != 42 {
		t.Fatalf("expected RecordSkipped event, got %+v", ev)
	}
}

func TestStatsEmptyAndPopulated(t *testing.T) {
	a := newTestApp(t, testOptions{})
	ctx := context.Background()
	st, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalEntries != 0 || st.AverageMood != 0 || st.Streak != 0 || st.Trend != domain.TrendNeutral {
		t.Fatalf("unexpected empty stats: %+v", st)
	}
	for i, mood := range []float64{4, 2} {
		if _, err := a.Save(ctx, domain.MoodEntry{Mood: mood, Timestamp: testNow.Add(-time.Duration(i) * 24 * time.Hour)}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	st, err = a.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalEntries != 2 || st.AverageMood != 3 || st.Streak != 2 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestDeleteAndClearAllData(t *testing.T) {
	a := newTestApp(t, testOptions{})
	ctx := context.Background()
	saved, err := a.Save(ctx, domain.MoodEntry{Mood: 3})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := a.Save(ctx, domain.MoodEntry{Mood: 4}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := a.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	res, _ := a.List(ctx)
	if len(res.Entries) != 1 || res.Entries[0].Mood != 4 {
		t.Fatalf("unexpected entries after delete: %+v", res.Entries)
	}
	if err := a.SaveSetting(ctx, SettingClaudeAPIKey, "sk"); err != nil {
		t.Fatalf("save setting: %v", err)
	}
	if err := a.ClearAllData(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	res, _ = a.List(ctx)
	settings, _ := a.Settings(ctx)
	if len(res.Entries) != 0 || len(settings) != 0 {
		t.Fatalf("data left after clear: %d entries, %d settings", len(res.Entries), len(settings))
	}
}

func TestSettingsFallBackToDefault(t *testing.T) {
	mem := store.NewMemoryStore()
	a := newTestApp(t, testOptions{store: mem})
	ctx := context.Background()

	if v, err := a.Setting(ctx, SettingGeminiAPIKey, "none"); err != nil || v != "none" {
		t.Fatalf("missing setting = %q, %v", v, err)
	}
	if err := a.SaveSetting(ctx, SettingGeminiAPIKey, "g-key"); err != nil {
		t.Fatalf("save setting: %v", err)
	}
	if v, _ := a.Setting(ctx, SettingGeminiAPIKey, "none"); v != "g-key" {
		t.Fatalf("setting = %q", v)
	}
	raw, _, _ := mem.GetSetting(ctx, SettingGeminiAPIKey)
	if raw.Value == "g-key" {
		t.Fatalf("setting stored in plaintext")
	}
	if err := mem.UpsertSetting(ctx, domain.EncryptedSetting{Key: "broken", Value: "garbage"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if v, err := a.Setting(ctx, "broken", "fallback"); err != nil || v != "fallback" {
		t.Fatalf("unreadable setting = %q, %v", v, err)
	}
	all, err := a.Settings(ctx)
	if err != nil || len(all) != 1 || all[SettingGeminiAPIKey] != "g-key" {
		t.Fatalf("settings = %+v, %v", all, err)
	}
}

func TestConcurrentOpenInitializesOnce(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	a := newTestApp(t, testOptions{store: fs})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				errs <- a.Open(ctx)
				return
			}
			_, err := a.Save(ctx, domain.MoodEntry{Mood: 3})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent call: %v", err)
		}
	}
	if got := fs.calls.Load(); got != 1 {
		t.Fatalf("migrate ran %d times, want 1", got)
	}
	res, err := a.List(ctx)
	if err != nil || len(res.Entries) != 8 || len(res.Skipped) != 0 {
		t.Fatalf("entries sealed under different keys: %+v, %v", res, err)
	}
	if _, err := os.Stat(a.cfg.KeyFile); err != nil {
		t.Fatalf("key file missing: %v", err)
	}
}

func TestOpenRetriesThenGivesUp(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: -1}
	events := make(chan domain.Event, 8)
	a := newTestApp(t, testOptions{store: fs, events: events, retry: fastRetry(3)})

	err := a.Open(context.Background())
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if got := fs.calls.Load(); got != 3 {
		t.Fatalf("migrate attempts = %d, want 3", got)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 retry events, got %d", len(events))
	}
	if ev, ok := (<-events).(domain.StorageRetry); !ok || ev.Attempt != 1 {
		t.Fatalf("unexpected retry event %+v", ev)
	}
}

func TestOpenRecoversFromTransientFailure(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 2}
	a := newTestApp(t, testOptions{store: fs, retry: fastRetry(5)})
	if err := a.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := fs.calls.Load(); got != 3 {
		t.Fatalf("migrate attempts = %d, want 3", got)
	}
}

func TestOpenDoesNotRetryCorruptKey(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore()}
	a := newTestApp(t, testOptions{store: fs, retry: fastRetry(5)})
	if err := os.MkdirAll(filepath.Dir(a.cfg.KeyFile), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(a.cfg.KeyFile, []byte("not-a-key"), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	err := a.Open(context.Background())
	if !errors.Is(err, vault.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if fs.calls.Load() != 0 {
		t.Fatalf("store touched despite corrupt key")
	}
}

func TestCloseRejectsLaterCalls(t *testing.T) {
	a := newTestApp(t, testOptions{})
	ctx := context.Background()
	if err := a.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := a.Save(ctx, domain.MoodEntry{Mood: 3}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Open(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Open, got %v", err)
	}
}

func TestNewRequiresStorageAndKey(t *testing.T) {
	if _, err := New(Config{KeyFile: "k"}); err == nil {
		t.Fatalf("expected error without database")
	}
	if _, err := New(Config{DatabaseURL: "x.db"}); err == nil {
		t.Fatalf("expected error without key file")
	}
}
