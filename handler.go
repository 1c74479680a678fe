package easywebhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dawitel/easy-webhook/authorization"
	"github.com/dawitel/easy-webhook/cache"
	"github.com/dawitel/easy-webhook/events"
	"github.com/dawitel/easy-webhook/ipfilter"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Request values carrying the out-of-band parts of the signature
const (
	ParamComplement = "complement"
	ParamNonce      = "nonce"
)

// EventHandler processes an authenticated webhook event
type EventHandler interface {
	HandleEvent(w http.ResponseWriter, r *http.Request, payload *events.Payload)
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(w http.ResponseWriter, r *http.Request, payload *events.Payload)

// HandleEvent calls f(w, r, payload)
func (f EventHandlerFunc) HandleEvent(w http.ResponseWriter, r *http.Request, payload *events.Payload) {
	f(w, r, payload)
}

// Gate admits or rejects inbound provider callbacks. Checks run in a fixed
// order and stop at the first rejection: method, source address, Authorization
// presence, payload shape, then the signature. The rule set and verifier are
// read-only after construction so one Gate serves concurrent requests.
type Gate struct {
	verifier       *Verifier
	rules          ipfilter.Rules
	logger         zerolog.Logger
	defaultDeny    bool
	trustForwarded bool
	maxBodySize    int64
	cache          cache.Cache
	cacheTTL       time.Duration
	claimTTL       time.Duration
	metrics        *Metrics
}

// GateOption configures a Gate
type GateOption func(*Gate)

// WithDefaultDeny rejects addresses that match no rule
func WithDefaultDeny(deny bool) GateOption {
	return func(g *Gate) { g.defaultDeny = deny }
}

// WithTrustedForwarding resolves the source address from proxy headers
func WithTrustedForwarding(trust bool) GateOption {
	return func(g *Gate) { g.trustForwarded = trust }
}

// WithMaxBodySize bounds the request body
func WithMaxBodySize(n int64) GateOption {
	return func(g *Gate) {
		if n > 0 {
			g.maxBodySize = n
		}
	}
}

// WithDeliveryCache skips events whose id was already handled
func WithDeliveryCache(c cache.Cache, ttl time.Duration) GateOption {
	return func(g *Gate) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

// WithClaimTTL bounds how long an in-flight delivery holds its event id
func WithClaimTTL(ttl time.Duration) GateOption {
	return func(g *Gate) {
		if ttl > 0 {
			g.claimTTL = ttl
		}
	}
}

// WithMetrics records decisions in m
func WithMetrics(m *Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates a new webhook gate
func NewGate(verifier *Verifier, rules ipfilter.Rules, logger zerolog.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		verifier:    verifier,
		rules:       rules,
		logger:      logger,
		maxBodySize: DefaultMaxRequestBodySize,
		cache:       cache.NewNoOpCache(),
		cacheTTL:    DefaultCacheTTL,
		claimTTL:    DefaultClaimTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewGateFromConfig builds a gate from cfg
func NewGateFromConfig(cfg *Config, verifier *Verifier, logger zerolog.Logger, opts ...GateOption) *Gate {
	rules := ipfilter.NewRules(cfg.WhitelistIPs, cfg.BlacklistIPs, ipfilter.Environment(cfg.Environment), logger)
	base := []GateOption{
		WithDefaultDeny(cfg.DefaultDenyWebhook),
		WithTrustedForwarding(cfg.TrustForwardedHeaders),
		WithMaxBodySize(cfg.HTTPClient.MaxRequestBodySize),
	}
	return NewGate(verifier, rules, logger, append(base, opts...)...)
}

// Handle returns the handler for callbacks of kind, delegating admitted events to next
func (g *Gate) Handle(kind events.Kind, next EventHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(kind, next, w, r)
	})
}

// HandleFunc is Handle for a plain function
func (g *Gate) HandleFunc(kind events.Kind, next func(w http.ResponseWriter, r *http.Request, payload *events.Payload)) http.Handler {
	return g.Handle(kind, EventHandlerFunc(next))
}

func (g *Gate) serve(kind events.Kind, next EventHandler, w http.ResponseWriter, r *http.Request) {
	event := kind.String()
	logger := g.logger.With().Str("event", event).Logger()

	var (
		sw      *statusWriter
		claimed string
	)
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		logger.Error().
			Interface("panic", rec).
			Msg("Panic recovered in webhook handler")
		g.metrics.observeDecision(event, OutcomeHandlerError)

		if sw != nil && sw.wroteHeader {
			logger.Warn().Int("status", sw.status).Msg("Response already committed before panic")
			if sw.status == http.StatusOK {
				g.markProcessed(r.Context(), logger, claimed)
			} else {
				g.release(r.Context(), logger, claimed)
			}
			return
		}
		g.release(r.Context(), logger, claimed)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}()

	if r.Method != http.MethodPost {
		g.reject(w, event, OutcomeBadMethod, http.StatusBadRequest)
		return
	}

	ip := ipfilter.ClientIP(r, g.trustForwarded)
	classification := g.rules.Classify(ip)
	g.metrics.observeClassification(classification)
	if classification == ipfilter.Denied || (classification == ipfilter.Unspecified && g.defaultDeny) {
		logger.Warn().
			Str("remote_ip", ip.String()).
			Str("classification", classification.String()).
			Msg("Webhook rejected by IP filter")
		g.reject(w, event, OutcomeIPRejected, http.StatusForbidden)
		return
	}

	token := strings.TrimSpace(r.Header.Get("Authorization"))
	if token == "" {
		logger.Warn().Str("remote_ip", ip.String()).Msg("Webhook without authorization header")
		g.reject(w, event, OutcomeUnauthorized, http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			logger.Warn().
				Int64("max_size", g.maxBodySize).
				Msg("Webhook request body exceeds maximum size")
			g.reject(w, event, OutcomeBadPayload, http.StatusRequestEntityTooLarge)
			return
		}
		logger.Error().Err(err).Msg("Failed to read webhook body")
		g.reject(w, event, OutcomeBadPayload, http.StatusBadRequest)
		return
	}

	var nonce *string
	if n := requestValue(r, ParamNonce); n != "" {
		nonce = &n
	}

	payload, inv, err := events.Decode(kind, body, nonce)
	if err != nil {
		if errors.Is(err, events.ErrUnboundEvent) {
			logger.Error().Err(err).Msg("Webhook route bound to unsupported event")
			g.reject(w, event, OutcomeMisrouted, http.StatusInternalServerError)
			return
		}
		logger.Warn().Err(err).Msg("Webhook payload rejected")
		g.reject(w, event, OutcomeBadPayload, http.StatusBadRequest)
		return
	}

	logger = logger.With().Str("event_id", payload.ID).Logger()

	if err := g.verifier.Verify(inv, token, requestValue(r, ParamComplement)); err != nil {
		switch {
		case errors.Is(err, authorization.ErrMissingNonce):
			logger.Warn().Msg("Webhook without required nonce")
			g.reject(w, event, OutcomeBadPayload, http.StatusBadRequest)
		case errors.Is(err, authorization.ErrMissingKey), errors.Is(err, authorization.ErrMissingHasher):
			logger.Error().Err(err).Msg("Webhook gate is misconfigured, rejecting")
			g.reject(w, event, OutcomeMisconfig, http.StatusForbidden)
		default:
			logger.Warn().Str("remote_ip", ip.String()).Msg("Webhook authorization mismatch")
			g.reject(w, event, OutcomeForbidden, http.StatusForbidden)
		}
		return
	}

	switch g.claim(r.Context(), logger, payload.ID) {
	case claimProcessed:
		logger.Debug().Msg("Webhook event already processed, skipping")
		g.metrics.observeDecision(event, OutcomeDuplicate)
		w.WriteHeader(http.StatusOK)
		return
	case claimInFlight:
		logger.Debug().Msg("Webhook event is being handled by another delivery")
		g.reject(w, event, OutcomeInFlight, http.StatusConflict)
		return
	case claimWon:
		claimed = payload.ID
	}

	sw = &statusWriter{ResponseWriter: w}
	next.HandleEvent(sw, r, payload)
	if !sw.wroteHeader {
		sw.WriteHeader(http.StatusOK)
	}

	if sw.status == http.StatusOK {
		g.markProcessed(r.Context(), logger, claimed)
		g.metrics.observeDecision(event, OutcomeAccepted)
		return
	}

	g.release(r.Context(), logger, claimed)
	logger.Warn().Int("status", sw.status).Msg("Webhook handler did not succeed")
	g.metrics.observeDecision(event, OutcomeHandlerError)
}

func (g *Gate) reject(w http.ResponseWriter, event, outcome string, status int) {
	g.metrics.observeDecision(event, outcome)
	http.Error(w, http.StatusText(status), status)
}

type claimResult int

const (
	claimSkipped claimResult = iota
	claimWon
	claimInFlight
	claimProcessed
)

// claim reserves id for this delivery. Cache failures and events without an
// id skip deduplication and let the handler run.
func (g *Gate) claim(ctx context.Context, logger zerolog.Logger, id string) claimResult {
	if id == "" {
		return claimSkipped
	}

	won, err := g.cache.Claim(ctx, id, g.claimTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to claim event, continuing without dedup")
		return claimSkipped
	}
	if won {
		return claimWon
	}

	processed, err := g.cache.IsProcessed(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to check if event is processed")
		return claimInFlight
	}
	if processed {
		return claimProcessed
	}
	return claimInFlight
}

func (g *Gate) markProcessed(ctx context.Context, logger zerolog.Logger, id string) {
	if id == "" {
		return
	}
	if err := g.cache.MarkProcessed(ctx, id, g.cacheTTL); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark event as processed")
	}
}

func (g *Gate) release(ctx context.Context, logger zerolog.Logger, id string) {
	if id == "" {
		return
	}
	if err := g.cache.Release(ctx, id); err != nil {
		logger.Warn().Err(err).Msg("Failed to release event claim")
	}
}

// requestValue reads name from the query string, falling back to the route
func requestValue(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return chi.URLParam(r, name)
}

// statusWriter rewrites any 2xx status to 200; the provider treats every other
// code, including 201 and 204, as a failed delivery.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	if code >= 200 && code < 300 {
		code = http.StatusOK
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
