package orders

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
)

type Outcome string

const (
	OutcomePaid         Outcome = "paid"
	OutcomeFailed       Outcome = "failed"
	OutcomeAlreadyFinal Outcome = "already_final"
)

type SignatureVerifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) bool
}

type VerifyResult struct {
	Outcome Outcome
	Order   *domain.Order
}

// Verifier applies gateway callbacks to orders. Each order leaves Pending at
// most once; a redelivered callback for a settled order reports
// OutcomeAlreadyFinal and changes nothing.
type Verifier struct {
	store         Store
	signatures    SignatureVerifier
	notifier      Notifier
	logger        *slog.Logger
	verifications metric.Int64Counter
}

func NewVerifier(store Store, signatures SignatureVerifier, notifier Notifier, logger *slog.Logger) *Verifier {
	if notifier == nil {
		notifier = noopNotifier{}
	}

	verifications, err := meter.Int64Counter("payment_verifications_total",
		metric.WithDescription("Payment callbacks processed, by outcome"))
	if err != nil {
		logger.Warn("failed to create verification counter", "error", err)
	}

	return &Verifier{
		store:         store,
		signatures:    signatures,
		notifier:      notifier,
		logger:        logger,
		verifications: verifications,
	}
}

func (v *Verifier) Verify(ctx context.Context, cb Callback) (*VerifyResult, error) {
	ctx, span := tracer.Start(ctx, "orders.Verify")
	defer span.End()

	var (
		order *domain.Order
		err   error
		topic string
	)

	switch c := cb.(type) {
	case FailedCallback:
		order, err = v.store.MarkFailed(ctx, c.GatewayOrderID)
		topic = domain.TopicOrderFailed
	case SuccessCallback:
		if !v.signatures.Verify(c.GatewayOrderID, c.GatewayPaymentID, c.Signature) {
			v.record(ctx, "invalid_signature")
			v.logger.Warn("payment signature mismatch", "gateway_order_id", c.GatewayOrderID)
			return nil, apperr.New(apperr.InvalidSignature, "invalid payment signature")
		}
		order, err = v.store.MarkPaid(ctx, c.GatewayOrderID, c.GatewayPaymentID)
		topic = domain.TopicOrderPaid
	default:
		return nil, apperr.InvalidArgumentf("unsupported callback %T", cb)
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if order == nil {
		return v.unchanged(ctx, cb.gatewayOrderID())
	}

	outcome := OutcomePaid
	if order.Status == domain.OrderStatusFailed {
		outcome = OutcomeFailed
	}
	v.record(ctx, string(outcome))
	v.notifier.Notify(ctx, topic, domain.NewOrderEvent(order))

	v.logger.Info("payment verified",
		"order_id", order.ID,
		"gateway_order_id", order.GatewayOrderID,
		"status", order.Status,
	)

	return &VerifyResult{Outcome: outcome, Order: order}, nil
}

// unchanged explains why no Pending order matched the callback.
func (v *Verifier) unchanged(ctx context.Context, gatewayOrderID string) (*VerifyResult, error) {
	order, err := v.store.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	if order == nil {
		v.record(ctx, "not_found")
		return nil, apperr.NotFoundf("order for gateway order %s not found", gatewayOrderID)
	}
	if !order.Status.Terminal() {
		return nil, apperr.New(apperr.Conflict, "order changed concurrently, retry the callback")
	}

	v.record(ctx, string(OutcomeAlreadyFinal))
	v.logger.Info("payment callback for settled order ignored",
		"order_id", order.ID,
		"gateway_order_id", gatewayOrderID,
		"status", order.Status,
	)

	return &VerifyResult{Outcome: OutcomeAlreadyFinal, Order: order}, nil
}

func (v *Verifier) record(ctx context.Context, outcome string) {
	if v.verifications != nil {
		v.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
