package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	tracer = otel.Tracer("storefront/orders")
	meter  = otel.Meter("storefront/orders")
)

var hundred = decimal.NewFromInt(100)

type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*domain.PaymentIntent, error)
}

type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	ListForAccount(ctx context.Context, accountID string) ([]domain.Order, error)
	ListAll(ctx context.Context) ([]domain.Order, error)
	MarkPaid(ctx context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Order, error)
	MarkFailed(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
}

// CartReader loads the authoritative cart for checkout. Implementations must
// not serve cached copies.
type CartReader interface {
	LoadCart(ctx context.Context, accountID string) (*domain.Cart, error)
}

// Notifier hands lifecycle events to the notification collaborator. It must
// not block the caller.
type Notifier interface {
	Notify(ctx context.Context, topic string, event domain.OrderEvent)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, domain.OrderEvent) {}

type CreateOrderInput struct {
	AccountID string
	Items     []domain.OrderLineItem
	Amount    decimal.Decimal
	Tax       decimal.Decimal
	Shipping  decimal.Decimal
	Currency  string
}

type CreateOrderResult struct {
	Intent *domain.PaymentIntent `json:"intent"`
	Order  *domain.Order         `json:"order"`
}

type Builder struct {
	store    Store
	gateway  Gateway
	carts    CartReader
	notifier Notifier
	logger   *slog.Logger
	created  metric.Int64Counter
	now      func() time.Time
}

func NewBuilder(store Store, gateway Gateway, carts CartReader, notifier Notifier, logger *slog.Logger) *Builder {
	if notifier == nil {
		notifier = noopNotifier{}
	}

	created, err := meter.Int64Counter("orders_created_total",
		metric.WithDescription("Orders persisted after a successful gateway call, by currency"))
	if err != nil {
		logger.Warn("failed to create orders counter", "error", err)
	}

	return &Builder{
		store:    store,
		gateway:  gateway,
		carts:    carts,
		notifier: notifier,
		logger:   logger,
		created:  created,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder registers the payment with the gateway and then persists the
// order as Pending. Nothing is persisted when the gateway call fails.
func (b *Builder) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()

	if in.Currency == "" {
		in.Currency = domain.DefaultCurrency
	}
	if err := validate(in); err != nil {
		return nil, err
	}

	minor := MinorUnits(in.Amount)
	if minor < 1 {
		return nil, apperr.InvalidArgumentf("amount %s is below the smallest payable unit", in.Amount)
	}

	now := b.now()
	receipt := NewReceipt(now)

	intent, err := b.gateway.CreateOrder(ctx, minor, in.Currency, receipt)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, "payment gateway unavailable", err)
	}

	order := &domain.Order{
		AccountID:      in.AccountID,
		Items:          in.Items,
		Amount:         in.Amount,
		Tax:            in.Tax,
		Shipping:       in.Shipping,
		Currency:       in.Currency,
		Status:         domain.OrderStatusPending,
		GatewayOrderID: intent.ID,
		CreatedAt:      now,
	}
	if err := b.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if b.created != nil {
		b.created.Add(ctx, 1, metric.WithAttributes(attribute.String("currency", order.Currency)))
	}
	b.notifier.Notify(ctx, domain.TopicOrderCreated, domain.NewOrderEvent(order))

	b.logger.Info("order created",
		"order_id", order.ID,
		"account_id", order.AccountID,
		"gateway_order_id", order.GatewayOrderID,
		"amount", order.Amount.String(),
		"currency", order.Currency,
	)

	return &CreateOrderResult{Intent: intent, Order: order}, nil
}

// CheckoutCart builds an order from the account's current cart. The cart is
// left as is.
func (b *Builder) CheckoutCart(ctx context.Context, accountID string, tax, shipping decimal.Decimal, currency string) (*CreateOrderResult, error) {
	cart, err := b.carts.LoadCart(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart == nil || cart.IsEmpty() {
		return nil, apperr.NotFoundf("cart not found")
	}

	items := make([]domain.OrderLineItem, 0, len(cart.Items))
	for _, line := range cart.Items {
		items = append(items, domain.OrderLineItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	return b.CreateOrder(ctx, CreateOrderInput{
		AccountID: accountID,
		Items:     items,
		Amount:    cart.Total.Add(tax).Add(shipping),
		Tax:       tax,
		Shipping:  shipping,
		Currency:  currency,
	})
}

func (b *Builder) ListForAccount(ctx context.Context, accountID string) ([]domain.Order, error) {
	orders, err := b.store.ListForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (b *Builder) ListAll(ctx context.Context) ([]domain.Order, error) {
	orders, err := b.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// Get returns the order when requester owns it or is an admin. Orders owned
// by someone else are reported as not found.
func (b *Builder) Get(ctx context.Context, id string, requester domain.Identity) (*domain.Order, error) {
	order, err := b.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil || (order.AccountID != requester.AccountID && !requester.IsAdmin()) {
		return nil, apperr.NotFoundf("order %s not found", id)
	}
	return order, nil
}

func validate(in CreateOrderInput) error {
	if in.AccountID == "" {
		return apperr.InvalidArgumentf("account id is required")
	}
	if !in.Amount.IsPositive() {
		return apperr.InvalidArgumentf("amount must be greater than zero")
	}
	if in.Tax.IsNegative() || in.Shipping.IsNegative() {
		return apperr.InvalidArgumentf("tax and shipping cannot be negative")
	}
	if len(in.Items) == 0 {
		return apperr.InvalidArgumentf("order must contain at least one item")
	}
	for _, item := range in.Items {
		if item.ProductID == "" {
			return apperr.InvalidArgumentf("item product id is required")
		}
		if item.Quantity < 1 {
			return apperr.InvalidArgumentf("item %s quantity must be at least 1", item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return apperr.InvalidArgumentf("item %s price cannot be negative", item.ProductID)
		}
	}
	return nil
}

// MinorUnits converts a major-unit amount to the smallest currency unit,
// rounding half away from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// NewReceipt returns a receipt id unique per call and no longer than the
// gateway's 40 character limit.
func NewReceipt(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("receipt_%d_%s", now.UnixMilli(), suffix)
}
