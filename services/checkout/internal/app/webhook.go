package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mentalia/internal/premiumtoken"
	"mentalia/pkg/queue"
)

// WebhookEvent is a provider notification whose signature has already been
// verified. Object is the decoded data.object of the event.
type WebhookEvent struct {
	ID      string
	Type    string
	Created time.Time
	Object  map[string]any
	Raw     []byte
}

// WebhookResult says what HandleWebhook did with an event.
type WebhookResult struct {
	Duplicate   bool
	Invalidated string
}

// HandleWebhook publishes ev to the event stream, skips it when it was seen
// before, logs it by type and drops the cached premium status of the
// customer it concerns.
func (a *App) HandleWebhook(ctx context.Context, ev WebhookEvent) (WebhookResult, error) {
	var result WebhookResult
	customerID := customerOf(ev.Object)
	email := premiumtoken.NormalizeEmail(emailOf(ev.Object))
	if email == "" {
		email = a.cache.emailFor(ctx, customerID)
	}

	if a.events != nil {
		published, err := a.events.Publish(ctx, queue.Event{
			ID:            ev.ID,
			Type:          ev.Type,
			CustomerID:    customerID,
			CustomerEmail: email,
			Created:       ev.Created,
			Payload:       string(ev.Raw),
		})
		if err != nil {
			return result, fmt.Errorf("publish webhook event: %w", err)
		}
		if !published {
			a.logger.Info("webhook event already processed", "event_id", ev.ID, "type", ev.Type)
			result.Duplicate = true
			return result, nil
		}
	}

	a.dispatch(ev, customerID)

	if changesPremium(ev.Type) && email != "" {
		if err := a.cache.invalidate(ctx, email); err != nil {
			a.logger.Warn("premium cache invalidation failed", "event_id", ev.ID, "err", err)
		} else {
			result.Invalidated = email
		}
	}
	return result, nil
}

func (a *App) dispatch(ev WebhookEvent, customerID string) {
	obj := ev.Object
	switch ev.Type {
	case "checkout.session.completed":
		a.logger.Info("checkout completed",
			"session_id", stringField(obj, "id"),
			"customer_id", customerID,
			"user_id", stringField(obj, "client_reference_id"))
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		a.logger.Info("subscription changed",
			"type", ev.Type,
			"subscription_id", stringField(obj, "id"),
			"customer_id", customerID,
			"status", stringField(obj, "status"),
			"current_period_end", unixField(obj, "current_period_end"))
	case "invoice.payment_succeeded":
		a.logger.Info("payment succeeded",
			"invoice_id", stringField(obj, "id"),
			"customer_id", customerID,
			"amount_paid", obj["amount_paid"])
	case "invoice.payment_failed":
		a.logger.Warn("payment failed",
			"invoice_id", stringField(obj, "id"),
			"customer_id", customerID,
			"attempt_count", obj["attempt_count"])
	default:
		a.logger.Info("webhook event not handled", "type", ev.Type)
	}
}

// changesPremium reports whether an event type can flip premium status.
func changesPremium(eventType string) bool {
	return eventType == "checkout.session.completed" || strings.HasPrefix(eventType, "customer.subscription.")
}

func customerOf(obj map[string]any) string {
	switch c := obj["customer"].(type) {
	case string:
		return c
	case map[string]any:
		return stringField(c, "id")
	}
	return ""
}

func emailOf(obj map[string]any) string {
	if v := stringField(obj, "customer_email"); v != "" {
		return v
	}
	if details, ok := obj["customer_details"].(map[string]any); ok {
		if v := stringField(details, "email"); v != "" {
			return v
		}
	}
	if meta, ok := obj["metadata"].(map[string]any); ok {
		if v := stringField(meta, "userEmail"); v != "" {
			return v
		}
	}
	if c, ok := obj["customer"].(map[string]any); ok {
		return stringField(c, "email")
	}
	return ""
}

func stringField(obj map[string]any, key string) string {
	v, _ := obj[key].(string)
	return strings.TrimSpace(v)
}

func unixField(obj map[string]any, key string) string {
	v, ok := obj[key].(float64)
	if !ok || v <= 0 {
		return ""
	}
	return time.Unix(int64(v), 0).UTC().Format(time.RFC3339)
}
