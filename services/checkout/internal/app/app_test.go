package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"mentalia/pkg/domain"
	"mentalia/pkg/queue"
)

type fakeProvider struct {
	mu            sync.Mutex
	customers     map[string]string
	subscriptions map[string]Subscription
	lastCheckout  CheckoutParams
	lastReturnURL string
	findCalls     int
	err           error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, p CheckoutParams) (CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return CheckoutSession{}, f.err
	}
	f.lastCheckout = p
	return CheckoutSession{SessionID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func (f *fakeProvider) FindCustomer(_ context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.err != nil {
		return "", f.err
	}
	id, ok := f.customers[email]
	if !ok {
		return "", ErrCustomerNotFound
	}
	return id, nil
}

func (f *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastReturnURL = returnURL
	return "https://billing.stripe.com/p/session/" + customerID, nil
}

func (f *fakeProvider) ActiveSubscription(_ context.Context, customerID string) (Subscription, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subscriptions[customerID]
	return sub, ok, nil
}

func (f *fakeProvider) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findCalls
}

func newTestApp(t *testing.T, provider *fakeProvider) (*App, *miniredis.Miniredis, *queue.RedisEventStream) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	events, err := queue.NewRedisEventStream(client, queue.StreamConfig{Stream: "test:billing"})
	if err != nil {
		t.Fatalf("event stream: %v", err)
	}
	a, err := New(Config{
		Provider: provider,
		AppURL:   "https://mentalia.app/",
		Redis:    client,
		CacheTTL: time.Minute,
		Events:   events,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, mr, events
}

func TestCreateCheckoutValidatesBeforeProvider(t *testing.T) {
	provider := &fakeProvider{}
	a, _, _ := newTestApp(t, provider)
	_, err := a.CreateCheckout(context.Background(), CheckoutRequest{PriceID: "price_1", UserID: " "}, "")
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if provider.lastCheckout.PriceID != "" {
		t.Fatalf("provider called for invalid request")
	}
}

func TestCreateCheckoutBuildsSession(t *testing.T) {
	provider := &fakeProvider{}
	a, _, _ := newTestApp(t, provider)
	session, err := a.CreateCheckout(context.Background(), CheckoutRequest{
		PriceID:   "price_monthly",
		UserID:    "u-1",
		UserEmail: "ana@example.com",
		Trial:     true,
		TrialDays: 7,
	}, "http://localhost:3000/")
	if err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if session.SessionID != "cs_test_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	p := provider.lastCheckout
	if p.SuccessURL != "http://localhost:3000/?premium=success&session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("success url = %q", p.SuccessURL)
	}
	if p.CancelURL != "http://localhost:3000/?premium=cancelled" {
		t.Fatalf("cancel url = %q", p.CancelURL)
	}
	if p.TrialPeriodDays != 7 || p.ClientReferenceID != "u-1" || p.CustomerEmail != "ana@example.com" {
		t.Fatalf("unexpected params %+v", p)
	}
	want := map[string]string{"userId": "u-1", "userEmail": "ana@example.com", "userName": defaultUserName, "trial": "true", "trialDays": "7"}
	for k, v := range want {
		if p.Metadata[k] != v {
			t.Fatalf("metadata[%s] = %q, want %q", k, p.Metadata[k], v)
		}
	}

	_, _ = a.CreateCheckout(context.Background(), CheckoutRequest{PriceID: "p", UserID: "u", UserEmail: "e@x.y", Trial: false, TrialDays: 7}, "")
	if provider.lastCheckout.TrialPeriodDays != 0 {
		t.Fatalf("trial days set without trial")
	}
	if provider.lastCheckout.CancelURL != "https://mentalia.app/?premium=cancelled" {
		t.Fatalf("app url fallback not used: %q", provider.lastCheckout.CancelURL)
	}
}

func TestCreateCheckoutWrapsProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("card declined")}
	a, _, _ := newTestApp(t, provider)
	_, err := a.CreateCheckout(context.Background(), CheckoutRequest{PriceID: "p", UserID: "u", UserEmail: "e@x.y"}, "")
	if err == nil || errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestCreatePortalSession(t *testing.T) {
	provider := &fakeProvider{customers: map[string]string{"ana@example.com": "cus_1"}}
	a, _, _ := newTestApp(t, provider)
	if _, err := a.CreatePortalSession(context.Background(), "", ""); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if _, err := a.CreatePortalSession(context.Background(), "nobody@example.com", ""); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
	url, err := a.CreatePortalSession(context.Background(), "ana@example.com", "")
	if err != nil || url != "https://billing.stripe.com/p/session/cus_1" {
		t.Fatalf("portal = %q, %v", url, err)
	}
	if provider.lastReturnURL != "https://mentalia.app" {
		t.Fatalf("return url = %q", provider.lastReturnURL)
	}
}

func TestCheckPremiumCachesResult(t *testing.T) {
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	provider := &fakeProvider{
		customers:     map[string]string{"ana@example.com": "cus_1"},
		subscriptions: map[string]Subscription{"cus_1": {ID: "sub_1", Status: "active", PriceID: "price_monthly", CurrentPeriodEnd: end}},
	}
	a, mr, _ := newTestApp(t, provider)
	ctx := context.Background()

	status, err := a.CheckPremium(ctx, " ana@example.com ")
	if err != nil {
		t.Fatalf("check premium: %v", err)
	}
	if !status.IsPremium || status.Plan != "price_monthly" || status.Status != "active" || !status.ExpiresAt.Equal(end) {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Token != "" {
		t.Fatalf("token issued without signer")
	}
	again, err := a.CheckPremium(ctx, "ANA@example.com")
	if err != nil || !again.IsPremium {
		t.Fatalf("cached check = %+v, %v", again, err)
	}
	if provider.calls() != 1 {
		t.Fatalf("provider called %d times, want 1", provider.calls())
	}
	mr.FastForward(2 * time.Minute)
	if _, err := a.CheckPremium(ctx, "ana@example.com"); err != nil {
		t.Fatalf("check after expiry: %v", err)
	}
	if provider.calls() != 2 {
		t.Fatalf("expired cache not refreshed, calls = %d", provider.calls())
	}
}

func TestCheckPremiumKeepsCustomerEmailCase(t *testing.T) {
	provider := &fakeProvider{
		customers:     map[string]string{"Ana@Example.com": "cus_1"},
		subscriptions: map[string]Subscription{"cus_1": {Status: "active", PriceID: "price_monthly"}},
	}
	a, mr, _ := newTestApp(t, provider)
	ctx := context.Background()
	if _, err := a.CreateCheckout(ctx, CheckoutRequest{PriceID: "price_monthly", UserID: "u1", UserEmail: "Ana@Example.com"}, ""); err != nil {
		t.Fatalf("create checkout: %v", err)
	}
	if got := provider.lastCheckout.CustomerEmail; got != "Ana@Example.com" {
		t.Fatalf("checkout email = %q", got)
	}
	status, err := a.CheckPremium(ctx, " Ana@Example.com ")
	if err != nil {
		t.Fatalf("check premium: %v", err)
	}
	if !status.IsPremium {
		t.Fatalf("email used for checkout reported as not premium")
	}
	if !mr.Exists(premiumKeyPrefix + "ana@example.com") {
		t.Fatalf("expected cache under the normalized email, keys: %v", mr.Keys())
	}
	if got := a.cache.emailFor(ctx, "cus_1"); got != "ana@example.com" {
		t.Fatalf("customer mapped to %q", got)
	}
}

func TestCheckPremiumUnknownCustomer(t *testing.T) {
	provider := &fakeProvider{customers: map[string]string{"bo@example.com": "cus_2"}}
	a, _, _ := newTestApp(t, provider)
	for _, email := range []string{"nobody@example.com", "bo@example.com"} {
		status, err := a.CheckPremium(context.Background(), email)
		if err != nil {
			t.Fatalf("check %s: %v", email, err)
		}
		if status != (domain.PremiumStatus{}) {
			t.Fatalf("expected non-premium for %s, got %+v", email, status)
		}
	}
	if _, err := a.CheckPremium(context.Background(), ""); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
}

func TestCheckPremiumProviderFailureNotCached(t *testing.T) {
	provider := &fakeProvider{err: errors.New("stripe down")}
	a, mr, _ := newTestApp(t, provider)
	if _, err := a.CheckPremium(context.Background(), "ana@example.com"); err == nil {
		t.Fatalf("expected provider error")
	}
	if mr.Exists(premiumKeyPrefix + "ana@example.com") {
		t.Fatalf("failed lookup was cached")
	}
}

func TestHandleWebhookDedupesAndInvalidates(t *testing.T) {
	provider := &fakeProvider{
		customers:     map[string]string{"ana@example.com": "cus_1"},
		subscriptions: map[string]Subscription{"cus_1": {Status: "active", PriceID: "price_monthly"}},
	}
	a, mr, events := newTestApp(t, provider)
	ctx := context.Background()
	if _, err := a.CheckPremium(ctx, "ana@example.com"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if !mr.Exists(premiumKeyPrefix + "ana@example.com") {
		t.Fatalf("expected cached status")
	}

	ev := WebhookEvent{
		ID:      "evt_1",
		Type:    "customer.subscription.deleted",
		Created: time.Unix(1700000000, 0),
		Object:  map[string]any{"id": "sub_1", "customer": "cus_1", "status": "canceled"},
		Raw:     []byte(`{"id":"evt_1"}`),
	}
	res, err := a.HandleWebhook(ctx, ev)
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if res.Duplicate || res.Invalidated != "ana@example.com" {
		t.Fatalf("unexpected result %+v", res)
	}
	if mr.Exists(premiumKeyPrefix + "ana@example.com") {
		t.Fatalf("cache not invalidated")
	}

	res, err = a.HandleWebhook(ctx, ev)
	if err != nil || !res.Duplicate {
		t.Fatalf("second delivery = %+v, %v", res, err)
	}
	got, err := events.Range(ctx, "", 10)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 1 || got[0].ID != "evt_1" || got[0].CustomerEmail != "ana@example.com" {
		t.Fatalf("unexpected stream contents %+v", got)
	}
}

func TestHandleWebhookInvoiceKeepsCache(t *testing.T) {
	provider := &fakeProvider{}
	a, mr, _ := newTestApp(t, provider)
	mr.Set(premiumKeyPrefix+"bo@example.com", `{"isPremium":true}`)
	res, err := a.HandleWebhook(context.Background(), WebhookEvent{
		ID:     "evt_2",
		Type:   "invoice.payment_failed",
		Object: map[string]any{"customer_email": "bo@example.com", "customer": "cus_2", "attempt_count": float64(1)},
	})
	if err != nil || res.Invalidated != "" {
		t.Fatalf("invoice event = %+v, %v", res, err)
	}
	if !mr.Exists(premiumKeyPrefix + "bo@example.com") {
		t.Fatalf("invoice event dropped the cache")
	}
}

func TestEmailOf(t *testing.T) {
	cases := []struct {
		obj  map[string]any
		want string
	}{
		{map[string]any{"customer_email": "a@x.y"}, "a@x.y"},
		{map[string]any{"customer_details": map[string]any{"email": "b@x.y"}}, "b@x.y"},
		{map[string]any{"metadata": map[string]any{"userEmail": "c@x.y"}}, "c@x.y"},
		{map[string]any{"customer": map[string]any{"id": "cus_1", "email": "d@x.y"}}, "d@x.y"},
		{map[string]any{"customer": "cus_1"}, ""},
	}
	for _, tc := range cases {
		if got := emailOf(tc.obj); got != tc.want {
			t.Fatalf("emailOf(%v) = %q, want %q", tc.obj, got, tc.want)
		}
	}
}

func TestNewRequiresProviderAndURL(t *testing.T) {
	if _, err := New(Config{AppURL: "https://x"}); err == nil {
		t.Fatalf("expected missing provider error")
	}
	if _, err := New(Config{Provider: &fakeProvider{}}); err == nil {
		t.Fatalf("expected missing app url error")
	}
}
