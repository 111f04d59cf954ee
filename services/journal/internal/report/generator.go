// Package report turns mood entries into an empathetic written report. It
// walks a chain of external providers and always ends with a locally
// computed report, so Generate never fails.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mentalia/pkg/ai"
	"mentalia/pkg/domain"
	"mentalia/pkg/stats"
)

type Mode string

const (
	// ModeFast tries external providers before the local fallback.
	ModeFast  Mode = "fast"
	ModeLocal Mode = "local"

	DefaultAttemptTimeout = 30 * time.Second
)

// SettingReader supplies API keys saved by the user.
type SettingReader interface {
	Setting(ctx context.Context, key, def string) (string, error)
}

type Config struct {
	Mode           Mode
	AttemptTimeout time.Duration
	Primary        ai.ProviderConfig
	Secondary      ai.ProviderConfig
	Settings       SettingReader
	ClientOptions  []ai.ClientOption
	// NewProvider overrides how providers are built.
	NewProvider func(ai.ProviderConfig) (ai.TextGenerator, error)
	Events      chan<- domain.Event
	Logger      *slog.Logger
	Location    *time.Location
	Now         func() time.Time
}

type Generator struct {
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	loc     *time.Location
	timeout time.Duration
}

func New(cfg Config) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeFast
	}
	if cfg.NewProvider == nil {
		opts := cfg.ClientOptions
		cfg.NewProvider = func(pc ai.ProviderConfig) (ai.TextGenerator, error) {
			return ai.NewGenerator(pc, opts...)
		}
	}
	return &Generator{
		cfg:     cfg,
		logger:  logger.With("component", "report"),
		now:     now,
		loc:     loc,
		timeout: timeout,
	}
}

// Generate builds a report for entries. It never panics and never returns
// an error: provider failures fall through to the local analysis and any
// unexpected failure yields a safe-mode report.
func (g *Generator) Generate(ctx context.Context, entries []domain.MoodEntry) domain.Report {
	return g.GenerateWithMode(ctx, entries, g.cfg.Mode)
}

// GenerateWithMode is Generate with a per-call mode.
func (g *Generator) GenerateWithMode(ctx context.Context, entries []domain.MoodEntry, mode Mode) (rep domain.Report) {
	now := g.now()
	defer func() {
		if r := recover(); r != nil {
			count, avg := basicSummary(entries)
			g.logger.Error("report generation panicked", "panic", fmt.Sprint(r))
			rep = safeModeReport(count, avg, now)
		}
		domain.Emit(g.cfg.Events, domain.ReportReady{Source: rep.Source})
	}()

	valid := make([]domain.MoodEntry, 0, len(entries))
	for _, e := range entries {
		if domain.ValidMood(e.Mood) {
			valid = append(valid, e)
		}
	}
	if len(valid) == 0 {
		return emptyReport(now)
	}
	summary := stats.Compute(valid, now, g.loc)

	if mode != ModeLocal {
		for _, pc := range []ai.ProviderConfig{g.cfg.Primary, g.cfg.Secondary} {
			if r, ok := g.tryProvider(ctx, pc, summary, now); ok {
				return r
			}
		}
	}
	return intelligentReport(summary, now)
}

func (g *Generator) tryProvider(ctx context.Context, pc ai.ProviderConfig, s domain.Stats, now time.Time) (domain.Report, bool) {
	pc.Provider = ai.NormalizeProvider(pc.Provider)
	if pc.Provider == "" {
		return domain.Report{}, false
	}
	pc.APIKey = g.apiKey(ctx, pc)
	if !pc.Configured() {
		g.logger.Debug("report provider not configured", "provider", pc.Provider)
		return domain.Report{}, false
	}
	gen, err := g.cfg.NewProvider(pc)
	if err != nil {
		g.attemptDone(pc.Provider, err)
		return domain.Report{}, false
	}

	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	text, err := gen.GenerateText(actx, systemPrompt, userPrompt(s))
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty response")
	}
	g.attemptDone(pc.Provider, err)
	if err != nil {
		return domain.Report{}, false
	}

	parsed := parseResponse(text)
	rep := domain.Report{
		Title:           "Mood report",
		Subtitle:        subtitle(s),
		Analysis:        parsed.Analysis,
		Recommendations: parsed.Recommendations,
		Insights:        parsed.Insights,
		Disclaimer:      Disclaimer,
		Timestamp:       now,
		Source:          sourceFor(pc.Provider),
	}
	if rep.Analysis == "" {
		rep.Analysis = bandAnalysis(s.AverageMood)
	}
	if len(rep.Recommendations) == 0 {
		rep.Recommendations = ruleRecommendations(s)
	}
	if len(rep.Insights) == 0 {
		rep.Insights = ruleInsights(s)
	}
	return rep, true
}

func (g *Generator) attemptDone(provider string, err error) {
	if err != nil {
		g.logger.Warn("report provider failed", "provider", provider, "err", err)
	} else {
		g.logger.Info("report provider succeeded", "provider", provider)
	}
	domain.Emit(g.cfg.Events, domain.ReportAttempt{Provider: provider, Err: err})
}

// apiKey prefers a key saved in settings over the configured one.
func (g *Generator) apiKey(ctx context.Context, pc ai.ProviderConfig) string {
	if g.cfg.Settings == nil {
		return pc.APIKey
	}
	saved, err := g.cfg.Settings.Setting(ctx, SettingKeyFor(pc.Provider), "")
	if err != nil {
		g.logger.Warn("read api key setting", "provider", pc.Provider, "err", err)
		return pc.APIKey
	}
	if strings.TrimSpace(saved) != "" {
		return strings.TrimSpace(saved)
	}
	return pc.APIKey
}

// SettingKeyFor names the setting that stores a provider's API key.
func SettingKeyFor(provider string) string {
	return ai.NormalizeProvider(provider) + "-api-key"
}

func sourceFor(provider string) domain.ReportSource {
	switch provider {
	case ai.ProviderClaude:
		return domain.SourceClaude
	case ai.ProviderGemini:
		return domain.SourceGemini
	case ai.ProviderOpenAICompat:
		return domain.SourceOpenAI
	case ai.ProviderOllama:
		return domain.SourceOllama
	}
	return domain.ReportSource(provider)
}

func basicSummary(entries []domain.MoodEntry) (int, float64) {
	var (
		sum   float64
		count int
	)
	for _, e := range entries {
		if domain.ValidMood(e.Mood) {
			sum += e.Mood
			count++
		}
	}
	if count == 0 {
		return len(entries), 0
	}
	return count, sum / float64(count)
}
