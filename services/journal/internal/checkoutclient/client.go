package checkoutclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mentalia/pkg/domain"
)

// Client calls the checkout service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a checkout service error response.
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// NewClient constructs a checkout service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// CheckoutRequest starts a subscription checkout.
type CheckoutRequest struct {
	PriceID   string `json:"priceId"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	UserName  string `json:"userName,omitempty"`
	Trial     bool   `json:"trial,omitempty"`
	TrialDays int    `json:"trialDays,omitempty"`
}

type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

func (c *Client) CreateCheckout(ctx context.Context, req CheckoutRequest) (CheckoutSession, error) {
	var out CheckoutSession
	err := c.post(ctx, "/create-checkout", req, &out)
	return out, err
}

// CreatePortalSession returns the billing portal URL for email.
func (c *Client) CreatePortalSession(ctx context.Context, email string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.post(ctx, "/create-portal-session", map[string]string{"userEmail": email}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) CheckPremium(ctx context.Context, email string) (domain.PremiumStatus, error) {
	var out domain.PremiumStatus
	err := c.post(ctx, "/check-premium", map[string]string{"userEmail": email}, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("checkout service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Details string `json:"details"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg, Details: errResp.Details}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
