package app

import (
	"context"
	"fmt"
	"strings"

	"mentalia/internal/premiumtoken"
	"mentalia/pkg/domain"
)

// PremiumStatus reports whether email has an active subscription. A cached
// token that still verifies is trusted without calling the checkout service
// unless refresh is set. An empty email falls back to the stored one.
func (a *App) PremiumStatus(ctx context.Context, email string, refresh bool) (domain.PremiumStatus, error) {
	email = premiumtoken.NormalizeEmail(email)
	if email == "" {
		stored, err := a.Setting(ctx, SettingPremiumEmail, "")
		if err != nil {
			return domain.PremiumStatus{}, err
		}
		email = premiumtoken.NormalizeEmail(stored)
	}
	if email == "" {
		return domain.PremiumStatus{}, fmt.Errorf("%w: email required", ErrValidation)
	}

	if !refresh && a.cfg.PremiumVerifier != nil {
		token, err := a.Setting(ctx, SettingPremiumToken, "")
		if err != nil {
			return domain.PremiumStatus{}, err
		}
		if token != "" {
			claims, err := a.cfg.PremiumVerifier.Verify(token, email)
			if err == nil {
				status := domain.PremiumStatus{IsPremium: true, Plan: claims.Plan, Status: claims.Status, Token: token}
				if claims.ExpiresAt != nil {
					exp := claims.ExpiresAt.Time
					status.ExpiresAt = &exp
				}
				return status, nil
			}
			a.logger.Info("cached premium token rejected", "err", err)
		}
	}

	if a.cfg.Premium == nil {
		return domain.PremiumStatus{}, ErrPremiumDisabled
	}
	status, err := a.cfg.Premium.CheckPremium(ctx, email)
	if err != nil {
		return domain.PremiumStatus{}, fmt.Errorf("check premium: %w", err)
	}
	if err := a.SaveSetting(ctx, SettingPremiumEmail, email); err != nil {
		return domain.PremiumStatus{}, err
	}
	token := ""
	if status.IsPremium {
		token = strings.TrimSpace(status.Token)
	}
	if err := a.SaveSetting(ctx, SettingPremiumToken, token); err != nil {
		return domain.PremiumStatus{}, err
	}
	return status, nil
}
