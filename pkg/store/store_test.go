package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"mentalia/pkg/domain"
)

func openStores(t *testing.T) map[string]EntryStore {
	t.Helper()
	gs, err := NewGormStore(filepath.Join(t.TempDir(), "data", "mentalia.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = gs.Close() })
	return map[string]EntryStore{
		"memory": NewMemoryStore(),
		"sqlite": gs,
	}
}

func entryAt(id int64, ts time.Time, mood float64) domain.EncryptedEntry {
	return domain.EncryptedEntry{
		ID:        id,
		Timestamp: ts,
		Date:      ts.Format(time.DateOnly),
		Mood:      mood,
		Version:   domain.SchemaVersion,
		Payload:   "blob-" + ts.Format(time.RFC3339),
	}
}

func TestEntriesNewestFirstAndUpsert(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Migrate(ctx); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			for i, e := range []domain.EncryptedEntry{
				entryAt(1, base, 3),
				entryAt(3, base.Add(48*time.Hour), 4),
				entryAt(2, base.Add(24*time.Hour), 2),
				entryAt(4, base.Add(48*time.Hour), 5),
			} {
				if err := s.UpsertEntry(ctx, e); err != nil {
					t.Fatalf("upsert %d: %v", i, err)
				}
			}
			updated := entryAt(2, base.Add(24*time.Hour), 1)
			updated.Payload = "rewritten"
			if err := s.UpsertEntry(ctx, updated); err != nil {
				t.Fatalf("upsert existing: %v", err)
			}

			got, err := s.ListEntries(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			wantIDs := []int64{4, 3, 2, 1}
			if len(got) != len(wantIDs) {
				t.Fatalf("expected %d entries, got %d", len(wantIDs), len(got))
			}
			for i, id := range wantIDs {
				if got[i].ID != id {
					t.Fatalf("position %d: id %d, want %d", i, got[i].ID, id)
				}
			}
			if got[2].Payload != "rewritten" || got[2].Mood != 1 {
				t.Fatalf("upsert did not replace entry: %+v", got[2])
			}

			between, err := s.ListEntriesBetween(ctx, base.Add(time.Hour), base.Add(48*time.Hour))
			if err != nil {
				t.Fatalf("list between: %v", err)
			}
			if len(between) != 1 || between[0].ID != 2 {
				t.Fatalf("unexpected range result: %+v", between)
			}

			if err := s.DeleteEntry(ctx, 3); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if err := s.DeleteEntry(ctx, 999); err != nil {
				t.Fatalf("delete missing: %v", err)
			}
			got, _ = s.ListEntries(ctx)
			if len(got) != 3 {
				t.Fatalf("expected 3 entries after delete, got %d", len(got))
			}
			if err := s.DeleteAllEntries(ctx); err != nil {
				t.Fatalf("delete all: %v", err)
			}
			got, _ = s.ListEntries(ctx)
			if len(got) != 0 {
				t.Fatalf("expected empty store, got %d", len(got))
			}
		})
	}
}

func TestSettingsAndReplaceAll(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Migrate(ctx); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			if _, ok, err := s.GetSetting(ctx, "claude-api-key"); err != nil || ok {
				t.Fatalf("expected missing setting, ok=%v err=%v", ok, err)
			}
			for _, st := range []domain.EncryptedSetting{
				{Key: "theme", Value: "v1"},
				{Key: "claude-api-key", Value: "v2"},
				{Key: "theme", Value: "v3"},
			} {
				if err := s.UpsertSetting(ctx, st); err != nil {
					t.Fatalf("upsert setting: %v", err)
				}
			}
			st, ok, err := s.GetSetting(ctx, "theme")
			if err != nil || !ok || st.Value != "v3" {
				t.Fatalf("unexpected setting: %+v ok=%v err=%v", st, ok, err)
			}
			all, err := s.ListSettings(ctx)
			if err != nil || len(all) != 2 || all[0].Key != "claude-api-key" {
				t.Fatalf("unexpected settings: %+v err=%v", all, err)
			}

			now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
			if err := s.UpsertEntry(ctx, entryAt(10, now, 3)); err != nil {
				t.Fatalf("seed entry: %v", err)
			}
			err = s.ReplaceAll(ctx,
				[]domain.EncryptedEntry{entryAt(20, now, 4), entryAt(21, now.Add(time.Hour), 5)},
				[]domain.EncryptedSetting{{Key: "gemini-api-key", Value: "g"}},
			)
			if err != nil {
				t.Fatalf("replace all: %v", err)
			}
			entries, _ := s.ListEntries(ctx)
			if len(entries) != 2 || entries[0].ID != 21 {
				t.Fatalf("unexpected entries after replace: %+v", entries)
			}
			all, _ = s.ListSettings(ctx)
			if len(all) != 1 || all[0].Key != "gemini-api-key" {
				t.Fatalf("unexpected settings after replace: %+v", all)
			}
			if err := s.DeleteAllSettings(ctx); err != nil {
				t.Fatalf("delete settings: %v", err)
			}
			all, _ = s.ListSettings(ctx)
			if len(all) != 0 {
				t.Fatalf("expected no settings, got %d", len(all))
			}
		})
	}
}

func TestBackupManifests(t *testing.T) {
	ctx := context.Background()
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Migrate(ctx); err != nil {
				t.Fatalf("migrate: %v", err)
			}
			older := domain.BackupRecord{
				ID:         "b1",
				ObjectKey:  "backups/2024/b1.mia",
				Checksum:   "abc",
				EntryCount: 3,
				Metadata:   map[string]string{"mode": "passphrase"},
				CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			}
			newer := older
			newer.ID = "b2"
			newer.ObjectKey = "backups/2024/b2.mia"
			newer.CreatedAt = older.CreatedAt.Add(time.Hour)
			for _, b := range []domain.BackupRecord{older, newer} {
				if err := s.SaveBackup(ctx, b); err != nil {
					t.Fatalf("save backup: %v", err)
				}
			}
			got, err := s.ListBackups(ctx)
			if err != nil {
				t.Fatalf("list backups: %v", err)
			}
			if len(got) != 2 || got[0].ID != "b2" {
				t.Fatalf("unexpected backups: %+v", got)
			}
			if got[1].Metadata["mode"] != "passphrase" {
				t.Fatalf("metadata not preserved: %+v", got[1].Metadata)
			}
			if err := s.DeleteAllBackups(ctx); err != nil {
				t.Fatalf("delete backups: %v", err)
			}
			got, _ = s.ListBackups(ctx)
			if len(got) != 0 {
				t.Fatalf("expected no backups, got %d", len(got))
			}
		})
	}
}

func TestIsPostgresDSN(t *testing.T) {
	cases := map[string]bool{
		"postgres://u:p@localhost:5432/mentalia": true,
		"host=localhost user=u dbname=mentalia":  true,
		"/var/lib/mentalia/mentalia.db":          false,
		"file:mentalia.db?cache=shared":          false,
	}
	for dsn, want := range cases {
		if got := IsPostgresDSN(dsn); got != want {
			t.Fatalf("IsPostgresDSN(%q) = %v, want %v", dsn, got, want)
		}
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.ListEntries(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
