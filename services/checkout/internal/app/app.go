package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"mentalia/internal/premiumtoken"
	"mentalia/pkg/domain"
	"mentalia/pkg/queue"
)

const defaultUserName = "MentalIA user"

// CheckoutRequest is the body of a checkout session request.
type CheckoutRequest struct {
	PriceID   string `json:"priceId"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName,omitempty"`
	Trial     bool   `json:"trial,omitempty"`
	TrialDays int64  `json:"trialDays,omitempty"`
}

// CheckoutParams is what the provider needs to open a subscription checkout.
type CheckoutParams struct {
	PriceID           string
	CustomerEmail     string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	Locale            string
	TrialPeriodDays   int64
	Metadata          map[string]string
}

type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Subscription is the part of an active subscription the premium check reads.
type Subscription struct {
	ID               string
	Status           string
	PriceID          string
	CurrentPeriodEnd time.Time
}

// Provider is the billing backend. FindCustomer returns ErrCustomerNotFound
// when no customer has the email.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
	FindCustomer(ctx context.Context, email string) (string, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ActiveSubscription(ctx context.Context, customerID string) (Subscription, bool, error)
}

// EventPublisher receives verified webhook events for downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.Event) (bool, error)
}

// Config holds runtime configuration for the checkout core.
type Config struct {
	Provider Provider
	AppURL   string
	Locale   string
	// Redis backs the premium cache. Nil disables caching.
	Redis    redis.Cmdable
	CacheTTL time.Duration
	Signer   *premiumtoken.Signer
	Events   EventPublisher
	Logger   *slog.Logger
}

// App implements checkout, portal, premium lookup and webhook handling.
type App struct {
	provider Provider
	appURL   string
	locale   string
	cache    *premiumCache
	signer   *premiumtoken.Signer
	events   EventPublisher
	logger   *slog.Logger
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Provider == nil {
		return nil, errors.New("billing provider required")
	}
	appURL := strings.TrimRight(strings.TrimSpace(cfg.AppURL), "/")
	if appURL == "" {
		return nil, errors.New("app URL required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locale := cfg.Locale
	if locale == "" {
		locale = "pt-BR"
	}
	return &App{
		provider: cfg.Provider,
		appURL:   appURL,
		locale:   locale,
		cache:    newPremiumCache(cfg.Redis, cfg.CacheTTL),
		signer:   cfg.Signer,
		events:   cfg.Events,
		logger:   logger,
	}, nil
}

// CreateCheckout opens a subscription checkout. origin, when set, replaces
// the configured app URL in the redirect targets.
func (a *App) CreateCheckout(ctx context.Context, req CheckoutRequest, origin string) (CheckoutSession, error) {
	req.PriceID = strings.TrimSpace(req.PriceID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.UserEmail = strings.TrimSpace(req.UserEmail)
	if req.PriceID == "" || req.UserID == "" || req.UserEmail == "" {
		return CheckoutSession{}, ErrMissingFields
	}
	base := a.baseURL(origin)
	userName := strings.TrimSpace(req.UserName)
	if userName == "" {
		userName = defaultUserName
	}
	params := CheckoutParams{
		PriceID:           req.PriceID,
		CustomerEmail:     req.UserEmail,
		ClientReferenceID: req.UserID,
		SuccessURL:        base + "/?premium=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         base + "/?premium=cancelled",
		Locale:            a.locale,
		Metadata: map[string]string{
			"userId":    req.UserID,
			"userEmail": req.UserEmail,
			"userName":  userName,
			"trial":     strconv.FormatBool(req.Trial),
			"trialDays": strconv.FormatInt(max(req.TrialDays, 0), 10),
		},
	}
	if req.Trial && req.TrialDays > 0 {
		params.TrialPeriodDays = req.TrialDays
	}
	session, err := a.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	a.logger.Info("checkout session created", "session_id", session.SessionID, "price_id", req.PriceID, "trial_days", params.TrialPeriodDays)
	return session, nil
}

// CreatePortalSession returns a billing portal URL for the customer behind email.
func (a *App) CreatePortalSession(ctx context.Context, email, origin string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmailRequired
	}
	customerID, err := a.provider.FindCustomer(ctx, email)
	if err != nil {
		return "", err
	}
	url, err := a.provider.CreatePortalSession(ctx, customerID, a.baseURL(origin))
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return url, nil
}

// CheckPremium reports whether email has an active subscription. Results
// are served from the cache while fresh. Premium results carry a signed
// token when a signer is configured. Stripe matches customer emails
// case-sensitively, so the lookup keeps the caller's casing while the cache
// and token use the normalized form.
func (a *App) CheckPremium(ctx context.Context, email string) (domain.PremiumStatus, error) {
	email = strings.TrimSpace(email)
	key := premiumtoken.NormalizeEmail(email)
	if key == "" {
		return domain.PremiumStatus{}, ErrEmailRequired
	}
	status, ok := a.cache.get(ctx, key)
	if !ok {
		var err error
		status, err = a.lookupPremium(ctx, email, key)
		if err != nil {
			return domain.PremiumStatus{}, err
		}
		a.cache.put(ctx, key, status)
	}
	if status.IsPremium && a.signer != nil {
		token, err := a.signer.Sign(key, status)
		if err != nil {
			a.logger.Warn("premium token signing failed", "err", err)
		} else {
			status.Token = token
		}
	}
	return status, nil
}

func (a *App) lookupPremium(ctx context.Context, email, key string) (domain.PremiumStatus, error) {
	customerID, err := a.provider.FindCustomer(ctx, email)
	if errors.Is(err, ErrCustomerNotFound) {
		return domain.PremiumStatus{}, nil
	}
	if err != nil {
		return domain.PremiumStatus{}, fmt.Errorf("find customer: %w", err)
	}
	a.cache.rememberCustomer(ctx, customerID, key)
	sub, ok, err := a.provider.ActiveSubscription(ctx, customerID)
	if err != nil {
		return domain.PremiumStatus{}, fmt.Errorf("list subscriptions: %w", err)
	}
	if !ok {
		return domain.PremiumStatus{}, nil
	}
	status := domain.PremiumStatus{IsPremium: true, Plan: sub.PriceID, Status: sub.Status}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd.UTC()
		status.ExpiresAt = &end
	}
	return status, nil
}

func (a *App) baseURL(origin string) string {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return a.appURL
	}
	return origin
}
