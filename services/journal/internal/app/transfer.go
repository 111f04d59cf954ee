package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mentalia/pkg/domain"
	"mentalia/pkg/vault"
)

// ExportDocument is the plaintext layout of an export blob.
type ExportDocument struct {
	Version     string             `json:"version"`
	ExportDate  time.Time          `json:"exportDate"`
	MoodEntries []domain.MoodEntry `json:"moodEntries"`
	Settings    map[string]string  `json:"settings"`
	Checksum    string             `json:"checksum"`
}

// ImportResult summarizes a completed import.
type ImportResult struct {
	Entries         int
	Settings        int
	ChecksumMatched bool
}

// Export seals every readable entry and setting into one blob. An empty
// passphrase seals with the installation key, which only this installation
// can open.
func (a *App) Export(ctx context.Context, passphrase string) (string, error) {
	blob, _, err := a.export(ctx, passphrase)
	return blob, err
}

func (a *App) export(ctx context.Context, passphrase string) (string, ExportDocument, error) {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return "", ExportDocument{}, err
	}
	res, err := a.List(ctx)
	if err != nil {
		return "", ExportDocument{}, err
	}
	if len(res.Skipped) > 0 {
		a.logger.Warn("export leaves out unreadable entries", "skipped", len(res.Skipped))
	}
	settings, err := a.Settings(ctx)
	if err != nil {
		return "", ExportDocument{}, err
	}
	doc := ExportDocument{
		Version:     domain.SchemaVersion,
		ExportDate:  a.now().UTC(),
		MoodEntries: res.Entries,
		Settings:    settings,
	}
	doc.Checksum, err = exportChecksum(doc.MoodEntries, doc.Settings)
	if err != nil {
		return "", ExportDocument{}, err
	}

	var blob string
	if passphrase == "" {
		blob, err = h.cipher.Seal(doc)
	} else {
		blob, err = vault.SealWithPassphrase(passphrase, doc)
	}
	if err != nil {
		return "", ExportDocument{}, fmt.Errorf("seal export: %w", err)
	}
	return blob, doc, nil
}

// Import replaces all entries and settings with the contents of blob. A
// checksum mismatch is reported but does not stop the import.
func (a *App) Import(ctx context.Context, blob, passphrase string) (ImportResult, error) {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	doc, err := a.openExport(h, strings.TrimSpace(blob), passphrase)
	if err != nil {
		return ImportResult{}, err
	}
	if doc.Version == "" || doc.MoodEntries == nil {
		return ImportResult{}, fmt.Errorf("%w: version and moodEntries are required", ErrInvalidExport)
	}
	if doc.Settings == nil {
		doc.Settings = map[string]string{}
	}

	result := ImportResult{Entries: len(doc.MoodEntries), Settings: len(doc.Settings), ChecksumMatched: true}
	actual, err := exportChecksum(doc.MoodEntries, doc.Settings)
	if err != nil {
		return ImportResult{}, err
	}
	if doc.Checksum != actual {
		result.ChecksumMatched = false
		a.logger.Warn("import checksum mismatch", "expected", doc.Checksum, "actual", actual)
		domain.Emit(a.cfg.Events, domain.ImportChecksumMismatch{Expected: doc.Checksum, Actual: actual})
	}

	recs := make([]domain.EncryptedEntry, 0, len(doc.MoodEntries))
	seen := make(map[int64]struct{}, len(doc.MoodEntries))
	now := a.now()
	for i, e := range doc.MoodEntries {
		if e.ID == 0 || e.Timestamp.IsZero() {
			return ImportResult{}, fmt.Errorf("%w: entry %d is malformed", ErrInvalidExport, i)
		}
		if err := validateEntry(e); err != nil {
			return ImportResult{}, fmt.Errorf("%w: entry %d: %v", ErrInvalidExport, i, err)
		}
		if _, dup := seen[e.ID]; dup {
			return ImportResult{}, fmt.Errorf("%w: duplicate entry id %d", ErrInvalidExport, e.ID)
		}
		seen[e.ID] = struct{}{}
		rec, err := a.sealEntry(h, a.normalizeEntry(e, now))
		if err != nil {
			return ImportResult{}, err
		}
		recs = append(recs, rec)
	}
	sets := make([]domain.EncryptedSetting, 0, len(doc.Settings))
	for k, v := range doc.Settings {
		sealed, err := h.cipher.Seal(v)
		if err != nil {
			return ImportResult{}, fmt.Errorf("encrypt setting: %w", err)
		}
		sets = append(sets, domain.EncryptedSetting{Key: k, Value: sealed, UpdatedAt: a.now().UTC()})
	}

	if err := h.store.ReplaceAll(ctx, recs, sets); err != nil {
		return ImportResult{}, fmt.Errorf("replace data: %w", err)
	}
	for id := range seen {
		a.observeID(id)
	}
	a.logger.Info("import complete", "entries", result.Entries, "settings", result.Settings, "checksum_ok", result.ChecksumMatched)
	return result, nil
}

func (a *App) openExport(h handle, blob, passphrase string) (ExportDocument, error) {
	var doc ExportDocument
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return doc, fmt.Errorf("%w: not base64", ErrInvalidExport)
	}
	if vault.IsPassphraseBlob(raw) {
		if passphrase == "" {
			return doc, fmt.Errorf("%w: %w", ErrInvalidExport, vault.ErrPassphraseRequired)
		}
		err = vault.OpenWithPassphrase(passphrase, blob, &doc)
	} else {
		err = h.cipher.Open(blob, &doc)
	}
	if err != nil {
		return doc, fmt.Errorf("%w: %w", ErrInvalidExport, err)
	}
	return doc, nil
}

func exportChecksum(entries []domain.MoodEntry, settings map[string]string) (string, error) {
	if settings == nil {
		settings = map[string]string{}
	}
	data, err := json.Marshal(struct {
		MoodEntries []domain.MoodEntry `json:"moodEntries"`
		Settings    map[string]string  `json:"settings"`
	}{entries, settings})
	if err != nil {
		return "", fmt.Errorf("encode checksum input: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Backup exports and uploads the journal, then records a manifest.
func (a *App) Backup(ctx context.Context, passphrase string) (domain.BackupRecord, error) {
	if a.cfg.Objects == nil {
		return domain.BackupRecord{}, ErrBackupDisabled
	}
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return domain.BackupRecord{}, err
	}
	blob, doc, err := a.export(ctx, passphrase)
	if err != nil {
		return domain.BackupRecord{}, err
	}
	now := a.now().UTC()
	id := uuid.NewString()
	key := fmt.Sprintf("backups/%04d/%s.mia", now.Year(), id)
	if err := a.cfg.Objects.Put(ctx, key, bytes.NewReader([]byte(blob)), int64(len(blob)), "application/octet-stream"); err != nil {
		return domain.BackupRecord{}, fmt.Errorf("upload backup: %w", err)
	}
	mode := "installation-key"
	if passphrase != "" {
		mode = "passphrase"
	}
	rec := domain.BackupRecord{
		ID:         id,
		ObjectKey:  key,
		Checksum:   doc.Checksum,
		EntryCount: len(doc.MoodEntries),
		Metadata:   map[string]string{"mode": mode, "version": doc.Version},
		CreatedAt:  now,
	}
	if err := h.store.SaveBackup(ctx, rec); err != nil {
		// the object is orphaned without its manifest
		if derr := a.cfg.Objects.Delete(ctx, key); derr != nil {
			a.logger.Warn("failed to remove orphaned backup", "key", key, "err", derr)
		}
		return domain.BackupRecord{}, fmt.Errorf("save backup manifest: %w", err)
	}
	a.logger.Info("backup uploaded", "key", key, "entries", rec.EntryCount)
	return rec, nil
}

// Backups lists backup manifests, newest first.
func (a *App) Backups(ctx context.Context) ([]domain.BackupRecord, error) {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	return h.store.ListBackups(ctx)
}

// Restore downloads a backup object and imports it.
func (a *App) Restore(ctx context.Context, objectKey, passphrase string) (ImportResult, error) {
	if a.cfg.Objects == nil {
		return ImportResult{}, ErrBackupDisabled
	}
	if strings.TrimSpace(objectKey) == "" {
		return ImportResult{}, fmt.Errorf("%w: backup key required", ErrValidation)
	}
	data, err := a.cfg.Objects.Get(ctx, objectKey)
	if err != nil {
		return ImportResult{}, fmt.Errorf("download backup: %w", err)
	}
	return a.Import(ctx, string(data), passphrase)
}

// StorageStats reports counts and the span of stored entries without
// decrypting anything.
func (a *App) StorageStats(ctx context.Context) (domain.StorageStats, error) {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return domain.StorageStats{}, err
	}
	recs, err := h.store.ListEntries(ctx)
	if err != nil {
		return domain.StorageStats{}, fmt.Errorf("list entries: %w", err)
	}
	sets, err := h.store.ListSettings(ctx)
	if err != nil {
		return domain.StorageStats{}, fmt.Errorf("list settings: %w", err)
	}
	out := domain.StorageStats{TotalEntries: len(recs), TotalSettings: len(sets)}
	for _, r := range recs {
		out.EstimatedSize += len(r.Payload)
	}
	for _, s := range sets {
		out.EstimatedSize += len(s.Key) + len(s.Value)
	}
	if len(recs) > 0 {
		// records arrive newest first
		newest, oldest := recs[0].Timestamp, recs[len(recs)-1].Timestamp
		out.NewestEntry, out.OldestEntry = &newest, &oldest
	}
	return out, nil
}
