package easywebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dawitel/easy-webhook/authorization"
	"github.com/dawitel/easy-webhook/events"
	"github.com/dawitel/easy-webhook/invariant"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Webhook is a callback registration attached to a payment
type Webhook struct {
	EventName     string `json:"eventName"`
	URL           string `json:"url"`
	Authorization string `json:"authorization"`
}

// Notifications is the notification section of a create-payment request
type Notifications struct {
	Webhooks []Webhook `json:"webhooks"`
}

// CreatePaymentRequest is the subset of the create-payment schema this SDK fills in
type CreatePaymentRequest struct {
	Order         events.Order    `json:"order"`
	Checkout      json.RawMessage `json:"checkout,omitempty"`
	Notifications Notifications   `json:"notifications"`
}

// BuildWebhook signs inv for kind and returns the registration. The callback
// URL carries the complement and nonce so the provider echoes them back.
func BuildWebhook(verifier *Verifier, kind events.Kind, callbackURL string, inv invariant.Invariant) (Webhook, error) {
	if !kind.Valid() {
		return Webhook{}, fmt.Errorf("%w: %d", events.ErrUnboundEvent, kind)
	}

	header, err := verifier.Sign(inv)
	if err != nil {
		return Webhook{}, fmt.Errorf("failed to sign webhook: %w", err)
	}

	u, err := url.Parse(callbackURL)
	if err != nil {
		return Webhook{}, fmt.Errorf("invalid callback URL: %w", err)
	}

	query := u.Query()
	if header.HasComplement() {
		query.Set(ParamComplement, header.Complement)
	}
	if nonce, ok := inv.Nonce(); ok {
		query.Set(ParamNonce, nonce)
	}
	u.RawQuery = query.Encode()

	return Webhook{
		EventName:     kind.String(),
		URL:           u.String(),
		Authorization: header.Authorization,
	}, nil
}

// BuildOrderWebhooks registers every kind against the same order. One nonce is
// drawn per order and shared by all registrations.
func BuildOrderWebhooks(verifier *Verifier, order events.Order, callbackURL string, kinds ...events.Kind) ([]Webhook, error) {
	nonce, err := authorization.NewNonce()
	if err != nil {
		return nil, err
	}

	data := &events.Data{
		Order:      &order,
		Amount:     &order.Amount,
		OrderItems: order.OrderItems,
	}

	webhooks := make([]Webhook, 0, len(kinds))
	for _, kind := range kinds {
		inv, err := events.Invariant(kind, data, &nonce)
		if err != nil {
			return nil, err
		}
		webhook, err := BuildWebhook(verifier, kind, callbackURL, inv)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s webhook: %w", kind, err)
		}
		webhooks = append(webhooks, webhook)
	}

	return webhooks, nil
}

// PaymentAPI talks to the provider's payment API
type PaymentAPI struct {
	cfg            *Config
	logger         zerolog.Logger
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
}

// NewPaymentAPI creates a new payment API client
func NewPaymentAPI(cfg *Config, logger zerolog.Logger) *PaymentAPI {
	circuitBreaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-api",
		MaxRequests: uint32(cfg.CircuitBreaker.MaxRequests),
		Interval:    cfg.CircuitBreaker.Interval,
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.CircuitBreaker.MaxRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.CircuitBreaker.Threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info().
				Str("name", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Payment API circuit breaker state changed")
		},
	})

	return &PaymentAPI{
		cfg:            cfg,
		logger:         logger,
		httpClient:     &http.Client{Timeout: cfg.HTTPClient.Timeout},
		circuitBreaker: circuitBreaker,
	}
}

// CreatePayment creates a payment and returns its id
func (api *PaymentAPI) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (string, error) {
	var paymentID string

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment request: %w", err)
	}

	err = api.executeWithRetry(ctx, "create_payment", func() error {
		_, err := api.circuitBreaker.Execute(func() (interface{}, error) {
			endpoint := strings.TrimRight(api.cfg.API.BaseURL, "/") + "/v1/payments"
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return nil, fmt.Errorf("failed to create request: %w", err)
			}

			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Authorization", api.cfg.API.SecretKey)

			resp, err := api.httpClient.Do(httpReq)
			if err != nil {
				return nil, fmt.Errorf("failed to create payment: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
				bodyBytes, _ := io.ReadAll(resp.Body)
				return nil, fmt.Errorf("failed to create payment: status %d, body: %s", resp.StatusCode, string(bodyBytes))
			}

			var createResp struct {
				PaymentID string `json:"paymentId"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&createResp); err != nil {
				return nil, fmt.Errorf("failed to decode payment response: %w", err)
			}

			paymentID = createResp.PaymentID
			return nil, nil
		})
		return err
	})

	return paymentID, err
}

func (api *PaymentAPI) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := api.cfg.Retry.MaxAttempts
	delay := api.cfg.Retry.InitialDelay

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < maxAttempts-1 {
			api.logger.Warn().
				Err(err).
				Str("operation", operation).
				Int("attempt", attempt+1).
				Int("max_attempts", maxAttempts).
				Dur("retry_delay", delay).
				Msg("Operation failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * api.cfg.Retry.Multiplier)
			if delay > api.cfg.Retry.MaxDelay {
				delay = api.cfg.Retry.MaxDelay
			}
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operation, maxAttempts, lastErr)
}
