package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartLineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddedAt   time.Time       `json:"added_at"`
}

// Subtotal returns UnitPrice × Quantity.
func (l CartLineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	AccountID string          `json:"account_id"`
	Items     []CartLineItem  `json:"items"`
	Total     decimal.Decimal `json:"total_price"`
	Version   int64           `json:"-"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EmptyCart is the shape returned to callers when an account has nothing in
// its cart. It is never persisted.
func EmptyCart(accountID string) *Cart {
	return &Cart{
		AccountID: accountID,
		Items:     []CartLineItem{},
		Total:     decimal.Zero,
	}
}

// Recalculate sets Total to the exact sum of every line subtotal.
func (c *Cart) Recalculate() {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	c.Total = total
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Find returns the index of the line for productID, or -1.
func (c *Cart) Find(productID string) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// RemoveAt drops the line at index i.
func (c *Cart) RemoveAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}
