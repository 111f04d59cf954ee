// Package stripeclient adapts stripe-go to the checkout app's Provider and
// verifies webhook deliveries.
package stripeclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"mentalia/services/checkout/internal/app"
)

type Config struct {
	SecretKey string
	// APIBaseURL overrides the Stripe API endpoint, e.g. for stripe-mock.
	APIBaseURL string
	HTTPClient *http.Client
}

// Provider talks to the Stripe API.
type Provider struct {
	api *client.API
}

func New(cfg Config) (*Provider, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("stripe secret key required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:    httpClient,
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelWarn},
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"); base != "" {
		backendCfg.URL = stripe.String(base)
	}
	api := &client.API{}
	api.Init(key, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &Provider{api: api}, nil
}

// CreateCheckoutSession opens a subscription mode checkout for one price.
func (p *Provider) CreateCheckoutSession(ctx context.Context, in app.CheckoutParams) (app.CheckoutSession, error) {
	params := checkoutSessionParams(in)
	params.Context = ctx
	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return app.CheckoutSession{}, err
	}
	return app.CheckoutSession{SessionID: s.ID, URL: s.URL}, nil
}

func checkoutSessionParams(in app.CheckoutParams) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(in.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.ClientReferenceID),
		CustomerEmail:     stripe.String(in.CustomerEmail),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: copyMetadata(in.Metadata),
		},
	}
	if in.Locale != "" {
		params.Locale = stripe.String(in.Locale)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}
	if in.TrialPeriodDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(in.TrialPeriodDays)
	}
	return params
}

// FindCustomer returns the first customer registered with email.
func (p *Provider) FindCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)
	params.Context = ctx
	it := p.api.Customers.List(params)
	if it.Next() {
		return it.Customer().ID, nil
	}
	if err := it.Err(); err != nil {
		return "", err
	}
	return "", app.ErrCustomerNotFound
}

func (p *Provider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	s, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", err
	}
	return s.URL, nil
}

// ActiveSubscription returns the customer's first active subscription.
func (p *Provider) ActiveSubscription(ctx context.Context, customerID string) (app.Subscription, bool, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Limit = stripe.Int64(1)
	params.Context = ctx
	it := p.api.Subscriptions.List(params)
	if !it.Next() {
		return app.Subscription{}, false, it.Err()
	}
	sub := it.Subscription()
	out := app.Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out, true, nil
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
