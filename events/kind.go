package events

import (
	"fmt"

	"github.com/dawitel/easy-webhook/invariant"
)

// Kind is a provider webhook event. The set is closed; each kind knows which
// invariant variant its payload is signed with.
type Kind int

const (
	KindUnknown Kind = iota
	PaymentCreated
	CheckoutCompleted
	ReservationCreated
	ChargeCreated
	ChargeFailed
	RefundInitiated
	RefundCompleted
	RefundFailed
	CancelCreated
	CancelFailed
)

type kindInfo struct {
	name    string
	variant invariant.Variant
}

var kinds = map[Kind]kindInfo{
	PaymentCreated:     {"payment.created", invariant.VariantOrder},
	CheckoutCompleted:  {"payment.checkout.completed", invariant.VariantOrder},
	ReservationCreated: {"payment.reservation.created.v2", invariant.VariantAmount},
	ChargeCreated:      {"payment.charge.created.v2", invariant.VariantItems},
	ChargeFailed:       {"payment.charge.failed", invariant.VariantAmount},
	RefundInitiated:    {"payment.refund.initiated.v2", invariant.VariantItems},
	RefundCompleted:    {"payment.refund.completed", invariant.VariantAmount},
	RefundFailed:       {"payment.refund.failed", invariant.VariantAmount},
	CancelCreated:      {"payment.cancel.created", invariant.VariantItems},
	CancelFailed:       {"payment.cancel.failed", invariant.VariantAmount},
}

// Kinds returns every supported kind in declaration order
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := PaymentCreated; k <= CancelFailed; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind resolves a provider event name
func ParseKind(name string) (Kind, error) {
	for k, info := range kinds {
		if info.name == name {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnboundEvent, name)
}

// String returns the provider event name
func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "unknown"
}

// Valid reports whether k is a supported kind
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// Variant returns the invariant variant the kind is signed with
func (k Kind) Variant() invariant.Variant {
	return kinds[k].variant
}
