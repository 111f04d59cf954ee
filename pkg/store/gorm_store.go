package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"mentalia/pkg/domain"
)

const migrateLockID int64 = 51730127

// GormStore implements EntryStore on top of GORM. A postgres:// DSN selects
// Postgres; anything else is treated as a SQLite file path.
type GormStore struct {
	db       *gorm.DB
	postgres bool
}

// IsPostgresDSN reports whether dsn addresses a Postgres server.
func IsPostgresDSN(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// NewGormStore opens the database. Call Migrate before use.
func NewGormStore(dsn string) (*GormStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	pg := IsPostgresDSN(dsn)
	var dialector gorm.Dialector
	if pg {
		dialector = postgres.Open(dsn)
	} else {
		if dir := filepath.Dir(sqlitePath(dsn)); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dialector = sqlite.Open(withSQLitePragmas(dsn))
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if !pg {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	return &GormStore{db: db, postgres: pg}, nil
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

// Migrate creates or updates the schema. On Postgres concurrent migrations
// are serialized with an advisory lock.
func (s *GormStore) Migrate(ctx context.Context) error {
	migrate := func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).AutoMigrate(&EntryModel{}, &SettingModel{}, &BackupModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if !s.postgres {
		return migrate(s.db)
	}
	return withMigrationLock(ctx, s.db, migrate)
}

func withMigrationLock(ctx context.Context, db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(context.Background(), conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertEntry inserts or replaces an entry by id.
func (s *GormStore) UpsertEntry(ctx context.Context, e domain.EncryptedEntry) error {
	model := entryToModel(e)
	return s.db.WithContext(ctx).Clauses(upsertEntryClause()).Create(&model).Error
}

func upsertEntryClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timestamp", "date", "mood", "version", "encrypted_payload"}),
	}
}

// ListEntries returns all entries newest first.
func (s *GormStore) ListEntries(ctx context.Context) ([]domain.EncryptedEntry, error) {
	return s.listEntries(ctx)
}

// ListEntriesBetween returns entries with from <= timestamp < to, newest first.
// A zero bound is open.
func (s *GormStore) ListEntriesBetween(ctx context.Context, from, to time.Time) ([]domain.EncryptedEntry, error) {
	var conds []string
	var args []any
	if !from.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, to.UTC())
	}
	if len(conds) == 0 {
		return s.listEntries(ctx)
	}
	return s.listEntries(ctx, append([]any{strings.Join(conds, " AND ")}, args...)...)
}

func (s *GormStore) listEntries(ctx context.Context, conds ...any) ([]domain.EncryptedEntry, error) {
	var models []EntryModel
	tx := s.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.EncryptedEntry, 0, len(models))
	for _, m := range models {
		res = append(res, entryFromModel(m))
	}
	return res, nil
}

// DeleteEntry removes one entry. Deleting a missing id is not an error.
func (s *GormStore) DeleteEntry(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&EntryModel{}, "id = ?", id).Error
}

func (s *GormStore) DeleteAllEntries(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&EntryModel{}).Error
}

// UpsertSetting inserts or replaces a setting by key.
func (s *GormStore) UpsertSetting(ctx context.Context, st domain.EncryptedSetting) error {
	model := settingToModel(st)
	return s.db.WithContext(ctx).Clauses(upsertSettingClause()).Create(&model).Error
}

func upsertSettingClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"encrypted_value", "updated_at"}),
	}
}

// GetSetting looks up a setting by key.
func (s *GormStore) GetSetting(ctx context.Context, key string) (domain.EncryptedSetting, bool, error) {
	var model SettingModel
	if err := s.db.WithContext(ctx).First(&model, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.EncryptedSetting{}, false, nil
		}
		return domain.EncryptedSetting{}, false, err
	}
	return settingFromModel(model), true, nil
}

// ListSettings returns all settings ordered by key.
func (s *GormStore) ListSettings(ctx context.Context) ([]domain.EncryptedSetting, error) {
	var models []SettingModel
	if err := s.db.WithContext(ctx).Order("key ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.EncryptedSetting, 0, len(models))
	for _, m := range models {
		res = append(res, settingFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteAllSettings(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&SettingModel{}).Error
}

// SaveBackup records a backup manifest.
func (s *GormStore) SaveBackup(ctx context.Context, b domain.BackupRecord) error {
	model, err := backupToModel(b)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListBackups returns manifests newest first.
func (s *GormStore) ListBackups(ctx context.Context) ([]domain.BackupRecord, error) {
	var models []BackupModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.BackupRecord, 0, len(models))
	for _, m := range models {
		res = append(res, backupFromModel(m))
	}
	return res, nil
}

func (s *GormStore) DeleteAllBackups(ctx context.Context) error {
	return s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&BackupModel{}).Error
}

// ReplaceAll deletes every entry and setting and writes the given ones in a
// single transaction.
func (s *GormStore) ReplaceAll(ctx context.Context, entries []domain.EncryptedEntry, settings []domain.EncryptedSetting) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if err := all.Delete(&EntryModel{}).Error; err != nil {
			return err
		}
		if err := all.Delete(&SettingModel{}).Error; err != nil {
			return err
		}
		if len(entries) > 0 {
			models := make([]EntryModel, 0, len(entries))
			for _, e := range entries {
				models = append(models, entryToModel(e))
			}
			if err := tx.Clauses(upsertEntryClause()).CreateInBatches(&models, 200).Error; err != nil {
				return err
			}
		}
		if len(settings) > 0 {
			models := make([]SettingModel, 0, len(settings))
			for _, st := range settings {
				models = append(models, settingToModel(st))
			}
			if err := tx.Clauses(upsertSettingClause()).CreateInBatches(&models, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func entryToModel(e domain.EncryptedEntry) EntryModel {
	return EntryModel{
		ID:               e.ID,
		Timestamp:        e.Timestamp.UTC(),
		Date:             e.Date,
		Mood:             e.Mood,
		Version:          e.Version,
		EncryptedPayload: e.Payload,
	}
}

func entryFromModel(m EntryModel) domain.EncryptedEntry {
	return domain.EncryptedEntry{
		ID:        m.ID,
		Timestamp: m.Timestamp.UTC(),
		Date:      m.Date,
		Mood:      m.Mood,
		Version:   m.Version,
		Payload:   m.EncryptedPayload,
	}
}

func settingToModel(st domain.EncryptedSetting) SettingModel {
	updated := st.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return SettingModel{
		Key:            st.Key,
		EncryptedValue: st.Value,
		UpdatedAt:      updated.UTC(),
	}
}

func settingFromModel(m SettingModel) domain.EncryptedSetting {
	return domain.EncryptedSetting{
		Key:       m.Key,
		Value:     m.EncryptedValue,
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func backupToModel(b domain.BackupRecord) (BackupModel, error) {
	meta, err := json.Marshal(b.Metadata)
	if err != nil {
		return BackupModel{}, fmt.Errorf("encode backup metadata: %w", err)
	}
	return BackupModel{
		ID:         b.ID,
		CreatedAt:  b.CreatedAt.UTC(),
		ObjectKey:  b.ObjectKey,
		Checksum:   b.Checksum,
		EntryCount: b.EntryCount,
		Metadata:   meta,
	}, nil
}

func backupFromModel(m BackupModel) domain.BackupRecord {
	var meta map[string]string
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return domain.BackupRecord{
		ID:         m.ID,
		ObjectKey:  m.ObjectKey,
		Checksum:   m.Checksum,
		EntryCount: m.EntryCount,
		Metadata:   meta,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}
