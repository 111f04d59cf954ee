package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"mentalia/internal/ratelimit"
	"mentalia/internal/util"
	"mentalia/pkg/domain"
	"mentalia/services/checkout/internal/app"
	"mentalia/services/checkout/internal/security"
)

const maxWebhookBytes = 64 << 10

// WebhookVerifier authenticates a raw webhook delivery.
type WebhookVerifier interface {
	Verify(payload []byte, signature string) (app.WebhookEvent, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Webhooks       WebhookVerifier
	Redis          redis.Scripter
	Alerter        *security.AuditAlerter
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies

	CheckoutRateLimitPerMinute int
	PortalRateLimitPerMinute   int
	PremiumRateLimitPerMinute  int
	WebhookRateLimitPerMinute  int
}

// Server exposes HTTP endpoints for the checkout service.
type Server struct {
	app             *app.App
	webhooks        WebhookVerifier
	alerter         *security.AuditAlerter
	allowedOrigins  []string
	trusted         *util.TrustedProxies
	mux             *http.ServeMux
	checkoutLimiter *ratelimit.FixedWindowLimiter
	portalLimiter   *ratelimit.FixedWindowLimiter
	premiumLimiter  *ratelimit.FixedWindowLimiter
	webhookLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("checkout app required")
	}
	if cfg.Webhooks == nil {
		return nil, errors.New("webhook verifier required")
	}
	newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "mentalia:checkout:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	checkoutLimiter, err := newLimiter("checkout", cfg.CheckoutRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	portalLimiter, err := newLimiter("portal", cfg.PortalRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	premiumLimiter, err := newLimiter("premium", cfg.PremiumRateLimitPerMinute, 30)
	if err != nil {
		return nil, err
	}
	webhookLimiter, err := newLimiter("webhook", cfg.WebhookRateLimitPerMinute, 300)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		webhooks:        cfg.Webhooks,
		alerter:         cfg.Alerter,
		allowedOrigins:  cfg.AllowedOrigins,
		trusted:         cfg.TrustedProxies,
		mux:             http.NewServeMux(),
		checkoutLimiter: checkoutLimiter,
		portalLimiter:   portalLimiter,
		premiumLimiter:  premiumLimiter,
		webhookLimiter:  webhookLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/create-checkout", s.handleCreateCheckout)
	s.mux.HandleFunc("/create-portal-session", s.handleCreatePortal)
	s.mux.HandleFunc("/check-premium", s.handleCheckPremium)
	s.mux.HandleFunc("/webhook", s.handleWebhook)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.checkoutLimiter, "checkout.create") {
		return
	}
	var req app.CheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	session, err := s.app.CreateCheckout(r.Context(), req, r.Header.Get("Origin"))
	if err != nil {
		if errors.Is(err, app.ErrMissingFields) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.audit(r, "checkout.create", "fail", "err", err)
		writeErrorDetails(w, http.StatusInternalServerError, "internal server error", err)
		return
	}
	s.audit(r, "checkout.create", "success", "session_id", session.SessionID)
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCreatePortal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.portalLimiter, "checkout.portal") {
		return
	}
	var req emailRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	url, err := s.app.CreatePortalSession(r.Context(), req.UserEmail, r.Header.Get("Origin"))
	switch {
	case errors.Is(err, app.ErrEmailRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrCustomerNotFound):
		s.audit(r, "checkout.portal", "fail", "reason", "customer_not_found")
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.audit(r, "checkout.portal", "fail", "err", err)
		writeErrorDetails(w, http.StatusInternalServerError, "failed to open portal", err)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

func (s *Server) handleCheckPremium(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.premiumLimiter, "checkout.premium") {
		return
	}
	var req emailRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := s.app.CheckPremium(r.Context(), req.UserEmail)
	if err != nil {
		if errors.Is(err, app.ErrEmailRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.audit(r, "checkout.premium", "fail", "err", err)
		writeErrorDetails(w, http.StatusInternalServerError, "premium check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, premiumResponse(status))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.webhookLimiter, "webhook.deliver") {
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(payload) > maxWebhookBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	ev, err := s.webhooks.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.audit(r, "webhook.signature", "fail", "err", err)
		writeError(w, http.StatusBadRequest, "webhook error: "+err.Error())
		return
	}
	result, err := s.app.HandleWebhook(r.Context(), ev)
	if err != nil {
		util.LoggerFromContext(r.Context()).Error("webhook handling failed", "event_id", ev.ID, "type", ev.Type, "err", err)
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	util.LoggerFromContext(r.Context()).Info("webhook received", "event_id", ev.ID, "type", ev.Type, "duplicate", result.Duplicate)
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type emailRequest struct {
	UserEmail string `json:"userEmail"`
}

type premiumPayload struct {
	IsPremium bool   `json:"isPremium"`
	ExpiresAt string `json:"expiresAt,omitempty"`
	Plan      string `json:"plan,omitempty"`
	Status    string `json:"status,omitempty"`
	Token     string `json:"token,omitempty"`
}

func premiumResponse(st domain.PremiumStatus) premiumPayload {
	out := premiumPayload{IsPremium: st.IsPremium, Plan: st.Plan, Status: st.Status, Token: st.Token}
	if st.ExpiresAt != nil {
		out.ExpiresAt = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return out
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg string, err error) {
	writeJSON(w, status, map[string]string{"error": msg, "details": err.Error()})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
	s.observe(r.Context(), event, outcome, ip)
}

func (s *Server) observe(ctx context.Context, event, outcome, ip string) {
	result, err := s.alerter.Observe(ctx, event, outcome, ip)
	if err != nil {
		slog.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		slog.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String())
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, event string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		return true
	}
	s.audit(r, event, "rate_limited")
	retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "too many requests")
	return false
}
