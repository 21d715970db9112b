package domain

// Cart is the server's authoritative view of a cart. TotalAmount always comes
// from the last server response and is never recomputed locally.
type Cart struct {
	Items       []CartLine `json:"items"`
	TotalAmount int64      `json:"totalAmount"`
}

// CartLine is one (product, variant) entry.
type CartLine struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image,omitempty"`
	Variant   string `json:"variant,omitempty"`
	Quantity  int    `json:"quantity"`
}

// LineKey identifies a cart line.
type LineKey struct {
	ProductID string
	Variant   string
}

func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Variant: l.Variant}
}

// ItemCount sums quantities. It is derived on every call, never stored.
func (c Cart) ItemCount() int {
	n := 0
	for _, line := range c.Items {
		n += line.Quantity
	}
	return n
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool {
	return len(c.Items) == 0
}
