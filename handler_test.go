package easywebhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dawitel/easy-webhook/cache"
	"github.com/dawitel/easy-webhook/events"
	"github.com/dawitel/easy-webhook/invariant"
	"github.com/dawitel/easy-webhook/ipfilter"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chargeBody = `{
  "id": "evt-charge-1",
  "merchantId": 100017120,
  "timestamp": "2024-03-01T10:00:00.000+00:00",
  "event": "payment.charge.created.v2",
  "data": {
    "paymentId": "pay-1",
    "chargeId": "chg-1",
    "amount": {"amount": 1000, "currency": "SEK"},
    "orderItems": [
      {"reference": "sku-1", "name": "Coffee", "quantity": 2, "unit": "pcs", "unitPrice": 250, "taxRate": 2500},
      {"reference": "sku-2", "name": "Mug", "quantity": 1, "unit": "pcs", "unitPrice": 500}
    ]
  }
}`

const liveIP = "20.103.218.104"

func chargeInvariant(nonce string) invariant.Invariant {
	rate := int32(2500)
	return invariant.ForItems([]invariant.OrderItem{
		{Reference: "sku-1", Name: "Coffee", Quantity: 2, Unit: "pcs", UnitPrice: 250, TaxRate: &rate},
		{Reference: "sku-2", Name: "Mug", Quantity: 1, Unit: "pcs", UnitPrice: 500},
	}, 1000, &nonce)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewConfig().WithSigningKey("k1").Build()
	require.NoError(t, err)
	return cfg
}

func testVerifier(t *testing.T, cfg *Config) *Verifier {
	t.Helper()
	v, err := NewVerifierFromConfig(cfg)
	require.NoError(t, err)
	return v
}

// signedRequest builds a callback for the charge event from ip
func signedRequest(t *testing.T, v *Verifier, ip string) *http.Request {
	t.Helper()
	webhook, err := BuildWebhook(v, events.ChargeCreated, "https://shop.example/webhooks/charge", chargeInvariant("n1"))
	require.NoError(t, err)

	u, err := url.Parse(webhook.URL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, u.RequestURI(), strings.NewReader(chargeBody))
	req.RemoteAddr = ip + ":443"
	req.Header.Set("Authorization", webhook.Authorization)
	return req
}

func okHandler(calls *int, status int) EventHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, payload *events.Payload) {
		*calls++
		w.WriteHeader(status)
	}
}

func TestGateEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	calls := 0
	handler := NewGateFromConfig(cfg, v, zerolog.Nop()).Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK))

	t.Run("valid callback", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, calls)
	})

	t.Run("altered authorization", func(t *testing.T) {
		req := signedRequest(t, v, liveIP)
		token := []byte(req.Header.Get("Authorization"))
		if token[0] == 'A' {
			token[0] = 'B'
		} else {
			token[0] = 'A'
		}
		req.Header.Set("Authorization", string(token))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("address outside provider ranges", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedRequest(t, v, "8.8.8.8"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	assert.Equal(t, 1, calls)
}

func TestGateDefaultDeny(t *testing.T) {
	tests := []struct {
		deny bool
		want int
	}{
		{deny: true, want: http.StatusForbidden},
		{deny: false, want: http.StatusOK},
	}

	for _, tt := range tests {
		cfg, err := NewConfig().WithSigningKey("k1").WithDefaultDeny(tt.deny).Build()
		require.NoError(t, err)
		v := testVerifier(t, cfg)
		calls := 0
		handler := NewGateFromConfig(cfg, v, zerolog.Nop()).Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedRequest(t, v, "8.8.8.8"))
		assert.Equal(t, tt.want, rec.Code, "default deny %v", tt.deny)

		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGateDenyListWins(t *testing.T) {
	cfg, err := NewConfig().WithSigningKey("k1").WithIPRules("20.103.218.0/24", liveIP).Build()
	require.NoError(t, err)
	v := testVerifier(t, cfg)
	calls := 0
	handler := NewGateFromConfig(cfg, v, zerolog.Nop()).Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, calls)
}

func TestGateRejections(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	calls := 0

	tests := []struct {
		name    string
		mutate  func(r *http.Request) *http.Request
		want    int
		outcome string
	}{
		{
			name: "wrong method",
			mutate: func(r *http.Request) *http.Request {
				r.Method = http.MethodGet
				return r
			},
			want:    http.StatusBadRequest,
			outcome: OutcomeBadMethod,
		},
		{
			name: "missing authorization",
			mutate: func(r *http.Request) *http.Request {
				r.Header.Del("Authorization")
				return r
			},
			want:    http.StatusUnauthorized,
			outcome: OutcomeUnauthorized,
		},
		{
			name: "missing complement",
			mutate: func(r *http.Request) *http.Request {
				q := r.URL.Query()
				q.Del(ParamComplement)
				r.URL.RawQuery = q.Encode()
				return r
			},
			want:    http.StatusForbidden,
			outcome: OutcomeForbidden,
		},
		{
			name: "wrong nonce",
			mutate: func(r *http.Request) *http.Request {
				q := r.URL.Query()
				q.Set(ParamNonce, "n2")
				r.URL.RawQuery = q.Encode()
				return r
			},
			want:    http.StatusForbidden,
			outcome: OutcomeForbidden,
		},
		{
			name: "empty body",
			mutate: func(r *http.Request) *http.Request {
				req := httptest.NewRequest(http.MethodPost, r.URL.RequestURI(), nil)
				req.RemoteAddr = r.RemoteAddr
				req.Header = r.Header
				return req
			},
			want:    http.StatusBadRequest,
			outcome: OutcomeBadPayload,
		},
		{
			name: "tampered amount",
			mutate: func(r *http.Request) *http.Request {
				body := strings.Replace(chargeBody, `"amount": 1000`, `"amount": 1`, 1)
				req := httptest.NewRequest(http.MethodPost, r.URL.RequestURI(), strings.NewReader(body))
				req.RemoteAddr = r.RemoteAddr
				req.Header = r.Header
				return req
			},
			want:    http.StatusForbidden,
			outcome: OutcomeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := NewMetrics(prometheus.NewRegistry())
			handler := NewGateFromConfig(cfg, v, zerolog.Nop(), WithMetrics(metrics)).
				Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tt.mutate(signedRequest(t, v, liveIP)))
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.decisions.WithLabelValues(events.ChargeCreated.String(), tt.outcome)))
		})
	}

	assert.Equal(t, 0, calls)
}

func TestGateEventMismatchAndUnboundRoute(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	gate := NewGateFromConfig(cfg, v, zerolog.Nop())
	calls := 0

	rec := httptest.NewRecorder()
	gate.Handle(events.RefundCompleted, okHandler(&calls, http.StatusOK)).ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	gate.Handle(events.KindUnknown, okHandler(&calls, http.StatusOK)).ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.Equal(t, 0, calls)
}

func TestGateFailsClosedWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	signing := testVerifier(t, cfg)
	unkeyed := NewVerifier(signing.Signer(), "")
	calls := 0

	handler := NewGate(unkeyed, ipfilter.NewRules("", "", ipfilter.EnvironmentLive, zerolog.Nop()), zerolog.Nop()).
		Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, signing, liveIP))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, calls)
}

func TestGateRequiredNonce(t *testing.T) {
	cfg, err := NewConfig().WithSigningKey("k1").WithRequiredNonce(true).Build()
	require.NoError(t, err)
	v := testVerifier(t, cfg)
	calls := 0
	handler := NewGateFromConfig(cfg, v, zerolog.Nop()).Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK))

	req := signedRequest(t, v, liveIP)
	q := req.URL.Query()
	q.Del(ParamNonce)
	req.URL.RawQuery = q.Encode()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGateNormalizesSuccessStatus(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)

	for _, status := range []int{http.StatusCreated, http.StatusAccepted, http.StatusNoContent} {
		calls := 0
		handler := NewGateFromConfig(cfg, v, zerolog.Nop()).Handle(events.ChargeCreated, okHandler(&calls, status))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
		assert.Equal(t, http.StatusOK, rec.Code, "handler status %d", status)
	}

	calls := 0
	handler := NewGateFromConfig(cfg, v, zerolog.Nop()).Handle(events.ChargeCreated, okHandler(&calls, http.StatusServiceUnavailable))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	handler = NewGateFromConfig(cfg, v, zerolog.Nop()).HandleFunc(events.ChargeCreated, func(w http.ResponseWriter, r *http.Request, payload *events.Payload) {
		w.Write([]byte("handled"))
	})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "handled", rec.Body.String())
}

func TestGateRecoversPanics(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	handler := NewGateFromConfig(cfg, v, zerolog.Nop()).HandleFunc(events.ChargeCreated, func(w http.ResponseWriter, r *http.Request, payload *events.Payload) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGateSkipsDuplicateDeliveries(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	mem := cache.NewMemoryCache(100, time.Hour, false)
	defer mem.Close()

	calls := 0
	failing := true
	handler := NewGateFromConfig(cfg, v, zerolog.Nop(), WithDeliveryCache(mem, time.Hour)).
		HandleFunc(events.ChargeCreated, func(w http.ResponseWriter, r *http.Request, payload *events.Payload) {
			calls++
			if failing {
				w.WriteHeader(http.StatusInternalServerError)
			}
		})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	failing = false
	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2, calls, "redelivery after success must not reach the handler")
}

func TestGateRunsOverlappingRedeliveriesOnce(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	mem := cache.NewMemoryCache(100, time.Hour, false)
	defer mem.Close()

	var calls atomic.Int32
	started := make(chan struct{})
	unblock := make(chan struct{})
	handler := NewGateFromConfig(cfg, v, zerolog.Nop(), WithDeliveryCache(mem, time.Hour)).
		HandleFunc(events.ChargeCreated, func(w http.ResponseWriter, r *http.Request, payload *events.Payload) {
			calls.Add(1)
			close(started)
			<-unblock
		})

	deliver := func(req *http.Request) int {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	const redeliveries = 4
	reqs := make([]*http.Request, redeliveries+2)
	for i := range reqs {
		reqs[i] = signedRequest(t, v, liveIP)
	}

	first := make(chan int, 1)
	go func() { first <- deliver(reqs[0]) }()
	<-started

	codes := make(chan int, redeliveries)
	var wg sync.WaitGroup
	for i := 1; i <= redeliveries; i++ {
		wg.Add(1)
		go func(req *http.Request) {
			defer wg.Done()
			codes <- deliver(req)
		}(reqs[i])
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusConflict, code, "overlapping redelivery")
	}

	close(unblock)
	assert.Equal(t, http.StatusOK, <-first)
	assert.Equal(t, http.StatusOK, deliver(reqs[redeliveries+1]), "redelivery after success")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGatePanicReleasesClaim(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	mem := cache.NewMemoryCache(100, time.Hour, false)
	defer mem.Close()

	calls := 0
	handler := NewGateFromConfig(cfg, v, zerolog.Nop(), WithDeliveryCache(mem, time.Hour)).
		HandleFunc(events.ChargeCreated, func(w http.ResponseWriter, r *http.Request, payload *events.Payload) {
			calls++
			if calls == 1 {
				panic("boom")
			}
		})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, calls, "retry after a panic reaches the handler")
}

func TestGatePanicAfterCommittedResponse(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	mem := cache.NewMemoryCache(100, time.Hour, false)
	defer mem.Close()

	calls := 0
	handler := NewGateFromConfig(cfg, v, zerolog.Nop(), WithDeliveryCache(mem, time.Hour)).
		HandleFunc(events.ChargeCreated, func(w http.ResponseWriter, r *http.Request, payload *events.Payload) {
			calls++
			w.WriteHeader(http.StatusNoContent)
			panic("after commit")
		})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String(), "no error body after the response was committed")

	processed, err := mem.IsProcessed(context.Background(), "evt-charge-1")
	require.NoError(t, err)
	assert.True(t, processed)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestGateReadsRouteValues(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	header, err := v.Sign(chargeInvariant("n1"))
	require.NoError(t, err)

	calls := 0
	router := chi.NewRouter()
	router.Handle("/webhooks/{nonce}/{complement}", NewGateFromConfig(cfg, v, zerolog.Nop()).Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK)))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/n1/"+header.Complement, strings.NewReader(chargeBody))
	req.RemoteAddr = liveIP + ":443"
	req.Header.Set("Authorization", header.Authorization)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, calls)
}

func TestGateTrustedForwarding(t *testing.T) {
	cfg, err := NewConfig().WithSigningKey("k1").WithDefaultDeny(true).WithTrustForwardedHeaders(true).Build()
	require.NoError(t, err)
	v := testVerifier(t, cfg)
	calls := 0
	handler := NewGateFromConfig(cfg, v, zerolog.Nop()).Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK))

	req := signedRequest(t, v, "10.0.0.5")
	req.Header.Set("X-Forwarded-For", liveIP+", 10.0.0.1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateBoundsBody(t *testing.T) {
	cfg := testConfig(t)
	v := testVerifier(t, cfg)
	calls := 0
	handler := NewGateFromConfig(cfg, v, zerolog.Nop(), WithMaxBodySize(16)).Handle(events.ChargeCreated, okHandler(&calls, http.StatusOK))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, v, liveIP))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, calls)
}
