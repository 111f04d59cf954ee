package store

import (
	"time"

	"gorm.io/datatypes"
)

// EntryModel is one encrypted mood entry. Timestamp, Date and Mood are
// duplicated outside the payload so ranges can be queried without the key.
type EntryModel struct {
	ID               int64     `gorm:"primaryKey;autoIncrement:false"`
	Timestamp        time.Time `gorm:"not null;index"`
	Date             string    `gorm:"size:10;not null;index"`
	Mood             float64   `gorm:"not null"`
	Version          string    `gorm:"size:16"`
	EncryptedPayload string    `gorm:"type:text;not null"`
}

func (EntryModel) TableName() string { return "mood_entries" }

type SettingModel struct {
	Key            string    `gorm:"primaryKey;size:128"`
	EncryptedValue string    `gorm:"type:text;not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (SettingModel) TableName() string { return "settings" }

type BackupModel struct {
	ID         string    `gorm:"primaryKey;size:36"`
	CreatedAt  time.Time `gorm:"not null;index"`
	ObjectKey  string    `gorm:"not null"`
	Checksum   string    `gorm:"size:64;not null"`
	EntryCount int       `gorm:"not null"`
	Metadata   datatypes.JSON
}

func (BackupModel) TableName() string { return "backups" }
