// Package seed holds the demo catalog used when no CSV export is given.
package seed

import "imi-storefront/internal/domain"

type ProductWriter interface {
	AddProduct(p domain.Product)
}

var demoProducts = []domain.Product{
	{
		ID:          "demo-pot",
		Name:        "Demo Ceramic Pot",
		Description: "Hand glazed pot for demo purposes",
		Price:       499,
		Stock:       25,
		Category:    "pots",
		Status:      "active",
	},
	{
		ID:          "demo-planter",
		Name:        "Demo Hanging Planter",
		Description: "Macrame planter with demo tag",
		Price:       1299,
		Stock:       8,
		Category:    "planters",
		Status:      "active",
	},
}

// Apply writes the demo catalog. Re-running replaces the same ids.
func Apply(sink ProductWriter) int {
	for _, p := range demoProducts {
		sink.AddProduct(p)
	}
	return len(demoProducts)
}
