package domain

import "time"

// SchemaVersion is stamped on entries that arrive without one.
const SchemaVersion = "3.0"

// Feeling is a single tag attached to a mood entry.
type Feeling struct {
	Value    string `json:"value"`
	Category string `json:"category,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	Label    string `json:"label,omitempty"`
}

type MoodEntry struct {
	ID        int64     `json:"id"`
	Mood      float64   `json:"mood"`
	Feelings  []Feeling `json:"feelings"`
	Diary     string    `json:"diary"`
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EncryptedEntry is the persisted shape of a mood entry. Mood, Timestamp and
// Date are plaintext copies of fields inside Payload kept for range queries.
type EncryptedEntry struct {
	ID        int64
	Timestamp time.Time
	Date      string
	Mood      float64
	Version   string
	Payload   string
}

// EncryptedSetting is the persisted shape of a named setting.
type EncryptedSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// BackupRecord describes one encrypted backup uploaded to object storage.
type BackupRecord struct {
	ID         string            `json:"id"`
	ObjectKey  string            `json:"objectKey"`
	Checksum   string            `json:"checksum"`
	EntryCount int               `json:"entryCount"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
	TrendNeutral   Trend = "neutral"
)

// FeelingCount is one row of a feeling frequency table.
type FeelingCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Stats is the aggregate view derived from a set of decrypted entries.
type Stats struct {
	TotalEntries     int            `json:"totalEntries"`
	AverageMood      float64        `json:"averageMood"`
	Streak           int            `json:"streak"`
	Trend            Trend          `json:"trend"`
	TopFeelings      []FeelingCount `json:"topFeelings,omitempty"`
	RecentTrend      float64        `json:"recentTrend"`
	RecentAvg        float64        `json:"recentAvg"`
	PreviousAvg      float64        `json:"previousAvg"`
	MoodDistribution [5]int         `json:"moodDistribution"`
	DaysCovered      int            `json:"daysCovered"`
}

// StorageStats summarizes what the local store holds.
type StorageStats struct {
	TotalEntries  int        `json:"totalEntries"`
	TotalSettings int        `json:"totalSettings"`
	EstimatedSize int        `json:"estimatedSize"`
	OldestEntry   *time.Time `json:"oldestEntry"`
	NewestEntry   *time.Time `json:"newestEntry"`
}

type ReportSource string

const (
	SourceEmpty       ReportSource = "empty"
	SourceClaude      ReportSource = "claude"
	SourceGemini      ReportSource = "gemini"
	SourceOpenAI      ReportSource = "openai-compat"
	SourceOllama      ReportSource = "ollama"
	SourceIntelligent ReportSource = "intelligent-fallback"
	SourceSafeMode    ReportSource = "safe-mode"
)

// Report is the rendered result of a report request, whichever path produced it.
type Report struct {
	Title           string       `json:"title"`
	Subtitle        string       `json:"subtitle"`
	Analysis        string       `json:"analysis"`
	Recommendations []string     `json:"recommendations"`
	Insights        []string     `json:"insights"`
	Disclaimer      string       `json:"disclaimer"`
	Timestamp       time.Time    `json:"timestamp"`
	Source          ReportSource `json:"source"`
	Error           bool         `json:"error,omitempty"`
}

// PremiumStatus is the subscription view returned by the checkout service.
type PremiumStatus struct {
	IsPremium bool       `json:"isPremium"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Plan      string     `json:"plan,omitempty"`
	Status    string     `json:"status,omitempty"`
	Token     string     `json:"token,omitempty"`
}
