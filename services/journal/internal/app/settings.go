package app

import (
	"context"
	"fmt"

	"mentalia/pkg/domain"
)

// Well-known setting keys.
const (
	SettingClaudeAPIKey = "claude-api-key"
	SettingGeminiAPIKey = "gemini-api-key"
	SettingPremiumEmail = "premium-email"
	SettingPremiumToken = "premium-token"
	SettingReportMode   = "report-mode"
)

// Setting returns the decrypted value of key, or def when it is missing or
// unreadable.
func (a *App) Setting(ctx context.Context, key, def string) (string, error) {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return def, err
	}
	st, ok, err := h.store.GetSetting(ctx, key)
	if err != nil {
		return def, fmt.Errorf("get setting: %w", err)
	}
	if !ok {
		return def, nil
	}
	var value string
	if err := h.cipher.Open(st.Value, &value); err != nil {
		a.logger.Warn("setting unreadable, using default", "key", key, "err", err)
		return def, nil
	}
	return value, nil
}

func (a *App) SaveSetting(ctx context.Context, key, value string) error {
	if key == "" {
		return fmt.Errorf("%w: setting key required", ErrValidation)
	}
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return err
	}
	sealed, err := h.cipher.Seal(value)
	if err != nil {
		return fmt.Errorf("encrypt setting: %w", err)
	}
	if err := h.store.UpsertSetting(ctx, domain.EncryptedSetting{Key: key, Value: sealed, UpdatedAt: a.now().UTC()}); err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	return nil
}

// Settings returns every readable setting.
func (a *App) Settings(ctx context.Context) (map[string]string, error) {
	h, err := a.ensureOpen(ctx)
	if err != nil {
		return nil, err
	}
	all, err := h.store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]string, len(all))
	for _, st := range all {
		var value string
		if err := h.cipher.Open(st.Value, &value); err != nil {
			a.logger.Warn("skipping unreadable setting", "key", st.Key, "err", err)
			continue
		}
		out[st.Key] = value
	}
	return out, nil
}
