package invariant

// Variant identifies which fields an Invariant carries
type Variant int

const (
	// VariantOrder carries reference, order items, amount and nonce
	VariantOrder Variant = iota
	// VariantItems carries order items, amount and nonce
	VariantItems
	// VariantAmount carries amount and nonce
	VariantAmount
)

func (v Variant) String() string {
	switch v {
	case VariantOrder:
		return "order"
	case VariantItems:
		return "items"
	case VariantAmount:
		return "amount"
	default:
		return "unknown"
	}
}

// OrderItem is a single order line as sent to the provider
type OrderItem struct {
	Reference string  `json:"reference"`
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	Unit      string  `json:"unit"`
	UnitPrice int32   `json:"unitPrice"`
	TaxRate   *int32  `json:"taxRate,omitempty"`
}

// Invariant holds the payment facts that must be identical before the request is
// sent and after the callback is received. Values are never mutated after
// construction; compare two invariants by comparing their derived tokens.
type Invariant struct {
	variant    Variant
	reference  *string
	orderItems []OrderItem
	amount     int32
	nonce      *string
}

// ForOrder builds an invariant for events that echo the whole order
func ForOrder(reference *string, items []OrderItem, amount int32, nonce *string) Invariant {
	return Invariant{
		variant:    VariantOrder,
		reference:  cloneString(reference),
		orderItems: cloneItems(items),
		amount:     amount,
		nonce:      cloneString(nonce),
	}
}

// ForItems builds an invariant for events that carry order items but no reference
func ForItems(items []OrderItem, amount int32, nonce *string) Invariant {
	return Invariant{
		variant:    VariantItems,
		orderItems: cloneItems(items),
		amount:     amount,
		nonce:      cloneString(nonce),
	}
}

// ForAmount builds an invariant for events that only carry an amount
func ForAmount(amount int32, nonce *string) Invariant {
	return Invariant{
		variant: VariantAmount,
		amount:  amount,
		nonce:   cloneString(nonce),
	}
}

// Variant returns the variant tag
func (i Invariant) Variant() Variant { return i.variant }

// Reference returns the order reference and whether it is set
func (i Invariant) Reference() (string, bool) {
	if i.reference == nil {
		return "", false
	}
	return *i.reference, true
}

// OrderItems returns a copy of the order items
func (i Invariant) OrderItems() []OrderItem { return cloneItems(i.orderItems) }

// Amount returns the amount in minor units
func (i Invariant) Amount() int32 { return i.amount }

// Nonce returns the nonce and whether it is set
func (i Invariant) Nonce() (string, bool) {
	if i.nonce == nil {
		return "", false
	}
	return *i.nonce, true
}

// HasNonce reports whether a nonce is present
func (i Invariant) HasNonce() bool { return i.nonce != nil }

// WithNonce returns a copy of the invariant carrying nonce
func (i Invariant) WithNonce(nonce string) Invariant {
	out := i
	out.orderItems = cloneItems(i.orderItems)
	out.nonce = &nonce
	return out
}

// Bytes returns the canonical encoding of the invariant
func (i Invariant) Bytes() []byte { return Encode(i) }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneItems(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	for idx, item := range items {
		out[idx] = item
		if item.TaxRate != nil {
			rate := *item.TaxRate
			out[idx].TaxRate = &rate
		}
	}
	return out
}
