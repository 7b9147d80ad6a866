package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderCreated = "order.created"
	TopicOrderPaid    = "order.paid"
	TopicOrderFailed  = "order.failed"
)

// OrderEvent is published on every order lifecycle step. Status tells the
// consumer which step it is.
type OrderEvent struct {
	OrderID          string          `json:"order_id"`
	AccountID        string          `json:"account_id"`
	Status           OrderStatus     `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	ItemCount        int             `json:"item_count"`
	Timestamp        time.Time       `json:"timestamp"`
}

func NewOrderEvent(order *Order) OrderEvent {
	return OrderEvent{
		OrderID:          order.ID,
		AccountID:        order.AccountID,
		Status:           order.Status,
		Amount:           order.Amount,
		Currency:         order.Currency,
		GatewayOrderID:   order.GatewayOrderID,
		GatewayPaymentID: order.GatewayPaymentID,
		ItemCount:        len(order.Items),
		Timestamp:        time.Now().UTC(),
	}
}
