package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/razorpay"
)

const testSecret = "test_secret"

type verifierFixture struct {
	store    *memStore
	notifier *recordingNotifier
	verifier *Verifier
	signer   *razorpay.Verifier
	order    *domain.Order
}

func newVerifierFixture(t *testing.T) *verifierFixture {
	t.Helper()

	store := newMemStore()
	notifier := &recordingNotifier{}
	b := NewBuilder(store, &fakeGateway{}, nil, nil, discardLogger())
	result, err := b.CreateOrder(context.Background(), validInput())
	require.NoError(t, err)

	signer := razorpay.NewVerifier(testSecret)
	return &verifierFixture{
		store:    store,
		notifier: notifier,
		verifier: NewVerifier(store, signer, notifier, discardLogger()),
		signer:   signer,
		order:    result.Order,
	}
}

func (f *verifierFixture) success(paymentID string) SuccessCallback {
	return SuccessCallback{
		GatewayOrderID:   f.order.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        f.signer.Sign(f.order.GatewayOrderID, paymentID),
	}
}

func (f *verifierFixture) status(t *testing.T) domain.OrderStatus {
	t.Helper()
	o, err := f.store.GetByID(context.Background(), f.order.ID)
	require.NoError(t, err)
	return o.Status
}

func TestVerifier_Success(t *testing.T) {
	ctx := context.Background()

	t.Run("valid signature marks the order paid", func(t *testing.T) {
		f := newVerifierFixture(t)

		result, err := f.verifier.Verify(ctx, f.success("pay_1"))
		require.NoError(t, err)

		assert.Equal(t, OutcomePaid, result.Outcome)
		assert.Equal(t, domain.OrderStatusPaid, result.Order.Status)
		assert.Equal(t, "pay_1", result.Order.GatewayPaymentID)
		assert.Equal(t, domain.OrderStatusPaid, f.status(t))
		assert.Equal(t, []string{domain.TopicOrderPaid}, f.notifier.topics())
	})

	t.Run("redelivery is a no-op", func(t *testing.T) {
		f := newVerifierFixture(t)

		_, err := f.verifier.Verify(ctx, f.success("pay_1"))
		require.NoError(t, err)

		result, err := f.verifier.Verify(ctx, f.success("pay_1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyFinal, result.Outcome)
		assert.Equal(t, "pay_1", result.Order.GatewayPaymentID)
		assert.Len(t, f.notifier.topics(), 1)
	})

	t.Run("a second payment id cannot overwrite the first", func(t *testing.T) {
		f := newVerifierFixture(t)

		_, err := f.verifier.Verify(ctx, f.success("pay_1"))
		require.NoError(t, err)

		result, err := f.verifier.Verify(ctx, f.success("pay_2"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyFinal, result.Outcome)
		assert.Equal(t, "pay_1", result.Order.GatewayPaymentID)
	})

	t.Run("invalid signature changes nothing", func(t *testing.T) {
		f := newVerifierFixture(t)

		cb := f.success("pay_1")
		cb.Signature = razorpay.NewVerifier("other_secret").Sign(cb.GatewayOrderID, cb.GatewayPaymentID)

		_, err := f.verifier.Verify(ctx, cb)
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.InvalidSignature))
		assert.Equal(t, domain.OrderStatusPending, f.status(t))
		assert.Empty(t, f.notifier.topics())
	})

	t.Run("a failed transition publishes nothing and the redelivery settles", func(t *testing.T) {
		f := newVerifierFixture(t)
		f.store.transitionErr = errors.New("connection reset")

		_, err := f.verifier.Verify(ctx, f.success("pay_1"))
		require.Error(t, err)
		assert.Equal(t, domain.OrderStatusPending, f.status(t))
		assert.Empty(t, f.notifier.topics())

		result, err := f.verifier.Verify(ctx, f.success("pay_1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomePaid, result.Outcome)
		assert.Equal(t, []string{domain.TopicOrderPaid}, f.notifier.topics())
	})

	t.Run("unknown gateway order is not found", func(t *testing.T) {
		f := newVerifierFixture(t)

		cb := SuccessCallback{
			GatewayOrderID:   "order_unknown",
			GatewayPaymentID: "pay_1",
			Signature:        f.signer.Sign("order_unknown", "pay_1"),
		}
		_, err := f.verifier.Verify(ctx, cb)
		assert.True(t, apperr.Is(err, apperr.NotFound))
		assert.Equal(t, 1, f.store.count())
	})
}

func TestVerifier_Failed(t *testing.T) {
	ctx := context.Background()

	t.Run("marks the order failed without a signature", func(t *testing.T) {
		f := newVerifierFixture(t)

		result, err := f.verifier.Verify(ctx, FailedCallback{GatewayOrderID: f.order.GatewayOrderID})
		require.NoError(t, err)
		assert.Equal(t, OutcomeFailed, result.Outcome)
		assert.Equal(t, domain.OrderStatusFailed, f.status(t))
		assert.Equal(t, []string{domain.TopicOrderFailed}, f.notifier.topics())
	})

	t.Run("cannot undo a paid order", func(t *testing.T) {
		f := newVerifierFixture(t)

		_, err := f.verifier.Verify(ctx, f.success("pay_1"))
		require.NoError(t, err)

		result, err := f.verifier.Verify(ctx, FailedCallback{GatewayOrderID: f.order.GatewayOrderID})
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyFinal, result.Outcome)
		assert.Equal(t, domain.OrderStatusPaid, f.status(t))
	})

	t.Run("a failed order is not paid later", func(t *testing.T) {
		f := newVerifierFixture(t)

		_, err := f.verifier.Verify(ctx, FailedCallback{GatewayOrderID: f.order.GatewayOrderID})
		require.NoError(t, err)

		result, err := f.verifier.Verify(ctx, f.success("pay_1"))
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyFinal, result.Outcome)
		assert.Equal(t, domain.OrderStatusFailed, f.status(t))
	})

	t.Run("unknown gateway order is not found", func(t *testing.T) {
		f := newVerifierFixture(t)

		_, err := f.verifier.Verify(ctx, FailedCallback{GatewayOrderID: "order_unknown"})
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})
}
