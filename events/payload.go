// Package events decodes provider webhook payloads and rebuilds the invariant
// each event kind is signed with.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dawitel/easy-webhook/invariant"
)

var (
	// ErrEmptyPayload means the request carried no body
	ErrEmptyPayload = errors.New("events: empty payload")
	// ErrMalformedPayload means the body is not a decodable event
	ErrMalformedPayload = errors.New("events: malformed payload")
	// ErrEventMismatch means the payload names a different event than the route
	ErrEventMismatch = errors.New("events: payload event does not match route")
	// ErrMissingField means the payload lacks a field the invariant needs
	ErrMissingField = errors.New("events: payload is missing a signed field")
	// ErrUnboundEvent means a route was bound to an unsupported event kind
	ErrUnboundEvent = errors.New("events: unsupported event kind")
)

// Amount is a value in minor units
type Amount struct {
	Amount   int32  `json:"amount"`
	Currency string `json:"currency"`
}

// Order is the order section echoed by order-level events
type Order struct {
	Amount     Amount                `json:"amount"`
	Reference  *string               `json:"reference,omitempty"`
	OrderItems []invariant.OrderItem `json:"orderItems"`
}

// Data is the event-specific body. Only the sections the kind carries are set.
type Data struct {
	PaymentID  string                `json:"paymentId"`
	ChargeID   string                `json:"chargeId,omitempty"`
	RefundID   string                `json:"refundId,omitempty"`
	CancelID   string                `json:"cancelId,omitempty"`
	Order      *Order                `json:"order,omitempty"`
	Amount     *Amount               `json:"amount,omitempty"`
	OrderItems []invariant.OrderItem `json:"orderItems,omitempty"`
}

// Payload is the envelope every webhook delivery shares
type Payload struct {
	ID         string `json:"id"`
	MerchantID int64  `json:"merchantId"`
	Timestamp  string `json:"timestamp"`
	Event      string `json:"event"`
	Data       Data   `json:"data"`
}

// Kind returns the event kind named by the payload
func (p *Payload) Kind() Kind {
	k, _ := ParseKind(p.Event)
	return k
}

// Decode parses body as an event of kind and rebuilds its invariant with nonce
func Decode(kind Kind, body []byte, nonce *string) (*Payload, invariant.Invariant, error) {
	if !kind.Valid() {
		return nil, invariant.Invariant{}, fmt.Errorf("%w: %d", ErrUnboundEvent, kind)
	}
	if len(body) == 0 {
		return nil, invariant.Invariant{}, ErrEmptyPayload
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, invariant.Invariant{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if payload.Event != kind.String() {
		return nil, invariant.Invariant{}, fmt.Errorf("%w: got %q, route expects %q", ErrEventMismatch, payload.Event, kind)
	}

	inv, err := Invariant(kind, &payload.Data, nonce)
	if err != nil {
		return nil, invariant.Invariant{}, err
	}

	return &payload, inv, nil
}

// Invariant rebuilds the invariant kind is signed with from data
func Invariant(kind Kind, data *Data, nonce *string) (invariant.Invariant, error) {
	if !kind.Valid() {
		return invariant.Invariant{}, fmt.Errorf("%w: %d", ErrUnboundEvent, kind)
	}

	switch kind.Variant() {
	case invariant.VariantOrder:
		if data.Order == nil {
			return invariant.Invariant{}, fmt.Errorf("%w: order", ErrMissingField)
		}
		return invariant.ForOrder(data.Order.Reference, data.Order.OrderItems, data.Order.Amount.Amount, nonce), nil

	case invariant.VariantItems:
		if data.Amount == nil {
			return invariant.Invariant{}, fmt.Errorf("%w: amount", ErrMissingField)
		}
		return invariant.ForItems(data.OrderItems, data.Amount.Amount, nonce), nil

	case invariant.VariantAmount:
		if data.Amount == nil {
			return invariant.Invariant{}, fmt.Errorf("%w: amount", ErrMissingField)
		}
		return invariant.ForAmount(data.Amount.Amount, nonce), nil

	default:
		return invariant.Invariant{}, fmt.Errorf("%w: %s", ErrUnboundEvent, kind)
	}
}
