// Package notify carries order lifecycle events to the email collaborator:
// Dispatcher publishes them from the request path without blocking it, and
// EmailHandler turns consumed events into emails.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var meter = otel.Meter("storefront/notify")

var ErrClosed = errors.New("dispatcher closed")

type Publisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Dispatcher struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
	published metric.Int64Counter

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(publisher Publisher, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	published, err := meter.Int64Counter("notifications_published_total",
		metric.WithDescription("Order events handed to the broker, by topic and result"))
	if err != nil {
		logger.Warn("failed to create notification counter", "error", err)
	}

	return &Dispatcher{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
		published: published,
	}
}

// Notify publishes event in the background. The publish outlives the
// caller's context but not the dispatcher's timeout. Failures are logged.
func (d *Dispatcher) Notify(ctx context.Context, topic string, event domain.OrderEvent) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("notification dropped", "error", ErrClosed, "topic", topic, "order_id", event.OrderID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		result := "ok"
		if err := d.publisher.Publish(ctx, topic, event.OrderID, event); err != nil {
			result = "error"
			d.logger.Error("failed to publish order event", "error", err, "topic", topic, "order_id", event.OrderID)
		}

		if d.published != nil {
			d.published.Add(ctx, 1, metric.WithAttributes(
				attribute.String("topic", topic),
				attribute.String("result", result),
			))
		}
	}()
}

// Close stops accepting events and waits for in-flight publishes until ctx
// is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
