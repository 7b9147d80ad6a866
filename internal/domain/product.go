package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductImage struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category,omitempty"`
	Brand       string          `json:"brand,omitempty"`
	Images      []ProductImage  `json:"images"`
	CreatedAt   time.Time       `json:"created_at"`
}
