package domain

// Product is the read-only catalog entry used for price lookups.
type Product struct {
	ID          string   `json:"_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       int64    `json:"price"`
	Image       string   `json:"image,omitempty"`
	Images      []string `json:"images,omitempty"`
	Stock       int      `json:"stock"`
	Category    string   `json:"category,omitempty"`
	Status      string   `json:"status,omitempty"`
}
