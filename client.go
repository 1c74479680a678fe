package easywebhook

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/dawitel/easy-webhook/cache"
	"github.com/dawitel/easy-webhook/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Client wires the signer, the webhook gate, the delivery cache and the payment API
type Client struct {
	cfg      *Config
	logger   zerolog.Logger
	verifier *Verifier
	gate     *Gate
	api      *PaymentAPI
	cache    cache.Cache
	metrics  *Metrics
	mu       sync.RWMutex
	started  bool
}

// NewClient creates a new client. reg may be nil to skip metric registration.
func NewClient(cfg *Config, logger zerolog.Logger, reg prometheus.Registerer) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	verifier, err := NewVerifierFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid signer config: %w", err)
	}

	cacheInstance, err := newDeliveryCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	metrics := NewMetrics(reg)
	gate := NewGateFromConfig(cfg, verifier, logger,
		WithDeliveryCache(cacheInstance, cfg.Cache.DefaultTTL),
		WithClaimTTL(cfg.Cache.ClaimTTL),
		WithMetrics(metrics),
	)

	return &Client{
		cfg:      cfg,
		logger:   logger,
		verifier: verifier,
		gate:     gate,
		api:      NewPaymentAPI(cfg, logger),
		cache:    cacheInstance,
		metrics:  metrics,
	}, nil
}

// Start marks the client ready to serve
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("client already started")
	}

	c.started = true
	c.logger.Info().
		Str("environment", c.cfg.Environment).
		Str("hasher", c.cfg.Hasher).
		Bool("default_deny", c.cfg.DefaultDenyWebhook).
		Msg("Payment webhook client started")

	return nil
}

// Stop gracefully stops the client
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}

	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close cache")
		}
	}

	c.started = false
	c.logger.Info().Msg("Payment webhook client stopped")

	return nil
}

// Health reports whether the client is started and its cache reachable
func (c *Client) Health(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.started {
		return fmt.Errorf("client not started")
	}

	if err := c.cache.Ping(ctx); err != nil {
		return fmt.Errorf("delivery cache unhealthy: %w", err)
	}

	return nil
}

// Gate returns the webhook gate
func (c *Client) Gate() *Gate {
	return c.gate
}

// Verifier returns the configured verifier
func (c *Client) Verifier() *Verifier {
	return c.verifier
}

// Cache returns the delivery cache
func (c *Client) Cache() cache.Cache {
	return c.cache
}

// Handle returns the gated handler for callbacks of kind
func (c *Client) Handle(kind events.Kind, next EventHandler) http.Handler {
	return c.gate.Handle(kind, next)
}

// CreatePayment registers signed webhooks for kinds on callbackURL and creates the payment
func (c *Client) CreatePayment(ctx context.Context, req *CreatePaymentRequest, callbackURL string, kinds ...events.Kind) (string, error) {
	webhooks, err := BuildOrderWebhooks(c.verifier, req.Order, callbackURL, kinds...)
	if err != nil {
		return "", err
	}
	req.Notifications.Webhooks = append(req.Notifications.Webhooks, webhooks...)

	paymentID, err := c.api.CreatePayment(ctx, req)
	if err != nil {
		return "", err
	}

	c.logger.Debug().
		Str("payment_id", paymentID).
		Int("webhooks", len(webhooks)).
		Msg("Payment created with signed webhooks")

	return paymentID, nil
}
