package events

import (
	"testing"

	"github.com/dawitel/easy-webhook/invariant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paymentCreatedBody = `{
  "id": "01ffb4d1b4bc4d3b9a8f5e1f3a6c7d8e",
  "merchantId": 100017120,
  "timestamp": "2024-03-01T10:00:00.000+00:00",
  "event": "payment.created",
  "data": {
    "paymentId": "02a900006091a9a96937598058c4e474",
    "order": {
      "amount": {"amount": 1000, "currency": "SEK"},
      "reference": "order-1",
      "orderItems": [
        {"reference": "sku-1", "name": "Coffee", "quantity": 2, "unit": "pcs", "unitPrice": 250, "taxRate": 2500},
        {"reference": "sku-2", "name": "Mug", "quantity": 1, "unit": "pcs", "unitPrice": 500}
      ]
    }
  }
}`

func strPtr(s string) *string { return &s }

func TestDecodeOrderVariant(t *testing.T) {
	payload, inv, err := Decode(PaymentCreated, []byte(paymentCreatedBody), strPtr("n1"))
	require.NoError(t, err)
	assert.Equal(t, "01ffb4d1b4bc4d3b9a8f5e1f3a6c7d8e", payload.ID)
	assert.Equal(t, PaymentCreated, payload.Kind())

	rate := int32(2500)
	expected := invariant.ForOrder(strPtr("order-1"), []invariant.OrderItem{
		{Reference: "sku-1", Name: "Coffee", Quantity: 2, Unit: "pcs", UnitPrice: 250, TaxRate: &rate},
		{Reference: "sku-2", Name: "Mug", Quantity: 1, Unit: "pcs", UnitPrice: 500},
	}, 1000, strPtr("n1"))
	assert.Equal(t, expected.Bytes(), inv.Bytes())
}

func TestDecodeAmountAndItemsVariants(t *testing.T) {
	refund := `{"id":"e1","event":"payment.refund.completed","data":{"paymentId":"p","refundId":"r","amount":{"amount":500,"currency":"NOK"}}}`
	_, inv, err := Decode(RefundCompleted, []byte(refund), nil)
	require.NoError(t, err)
	assert.Equal(t, invariant.ForAmount(500, nil).Bytes(), inv.Bytes())

	charge := `{"id":"e2","event":"payment.charge.created.v2","data":{"paymentId":"p","chargeId":"c","amount":{"amount":500,"currency":"NOK"},"orderItems":[{"reference":"a","name":"b","quantity":1,"unit":"u","unitPrice":500}]}}`
	_, inv, err = Decode(ChargeCreated, []byte(charge), strPtr("n"))
	require.NoError(t, err)
	expected := invariant.ForItems([]invariant.OrderItem{{Reference: "a", Name: "b", Quantity: 1, Unit: "u", UnitPrice: 500}}, 500, strPtr("n"))
	assert.Equal(t, expected.Bytes(), inv.Bytes())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		body string
		want error
	}{
		{"unbound kind", KindUnknown, paymentCreatedBody, ErrUnboundEvent},
		{"empty", PaymentCreated, "", ErrEmptyPayload},
		{"not json", PaymentCreated, "{", ErrMalformedPayload},
		{"wrong event", RefundCompleted, paymentCreatedBody, ErrEventMismatch},
		{"missing order", PaymentCreated, `{"event":"payment.created","data":{"paymentId":"p"}}`, ErrMissingField},
		{"missing amount", ChargeFailed, `{"event":"payment.charge.failed","data":{"paymentId":"p"}}`, ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.kind, []byte(tt.body), nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestKinds(t *testing.T) {
	all := Kinds()
	assert.Len(t, all, 10)
	for _, k := range all {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseKind("payment.teleported")
	assert.ErrorIs(t, err, ErrUnboundEvent)
	assert.False(t, KindUnknown.Valid())
	assert.Equal(t, "unknown", KindUnknown.String())
}
