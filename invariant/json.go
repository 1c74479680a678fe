package invariant

import (
	"encoding/json"
	"fmt"
)

type document struct {
	Variant    string      `json:"variant"`
	Reference  *string     `json:"reference,omitempty"`
	OrderItems []OrderItem `json:"orderItems,omitempty"`
	Amount     int32       `json:"amount"`
	Nonce      *string     `json:"nonce,omitempty"`
}

// ParseVariant maps a variant name back to its tag
func ParseVariant(name string) (Variant, error) {
	switch name {
	case "order", "":
		return VariantOrder, nil
	case "items":
		return VariantItems, nil
	case "amount":
		return VariantAmount, nil
	default:
		return 0, fmt.Errorf("unknown invariant variant: %s", name)
	}
}

// MarshalJSON implements json.Marshaler
func (i Invariant) MarshalJSON() ([]byte, error) {
	return json.Marshal(document{
		Variant:    i.variant.String(),
		Reference:  i.reference,
		OrderItems: i.orderItems,
		Amount:     i.amount,
		Nonce:      i.nonce,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Fields the variant does not carry
// are dropped so the canonical encoding only depends on the variant's fields.
func (i *Invariant) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	variant, err := ParseVariant(doc.Variant)
	if err != nil {
		return err
	}

	switch variant {
	case VariantOrder:
		*i = ForOrder(doc.Reference, doc.OrderItems, doc.Amount, doc.Nonce)
	case VariantItems:
		*i = ForItems(doc.OrderItems, doc.Amount, doc.Nonce)
	case VariantAmount:
		*i = ForAmount(doc.Amount, doc.Nonce)
	}
	return nil
}
