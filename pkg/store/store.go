package store

import (
	"context"
	"time"

	"mentalia/pkg/domain"
)

// EntryStore persists encrypted mood entries, settings and backup manifests.
// Payloads are opaque to the store; only the index columns are plaintext.
type EntryStore interface {
	Migrate(ctx context.Context) error

	// entries
	UpsertEntry(ctx context.Context, e domain.EncryptedEntry) error
	ListEntries(ctx context.Context) ([]domain.EncryptedEntry, error)
	ListEntriesBetween(ctx context.Context, from, to time.Time) ([]domain.EncryptedEntry, error)
	DeleteEntry(ctx context.Context, id int64) error
	DeleteAllEntries(ctx context.Context) error

	// settings
	UpsertSetting(ctx context.Context, s domain.EncryptedSetting) error
	GetSetting(ctx context.Context, key string) (domain.EncryptedSetting, bool, error)
	ListSettings(ctx context.Context) ([]domain.EncryptedSetting, error)
	DeleteAllSettings(ctx context.Context) error

	// backups
	SaveBackup(ctx context.Context, b domain.BackupRecord) error
	ListBackups(ctx context.Context) ([]domain.BackupRecord, error)
	DeleteAllBackups(ctx context.Context) error

	// ReplaceAll swaps every entry and setting in one step, used by import.
	ReplaceAll(ctx context.Context, entries []domain.EncryptedEntry, settings []domain.EncryptedSetting) error

	Close() error
}

// lessNewestFirst orders entries by timestamp descending, then id descending.
func lessNewestFirst(a, b domain.EncryptedEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}
