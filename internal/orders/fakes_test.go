package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// memStore transitions orders atomically like the SQL store. transitionErr,
// when set, fails the next transition before anything changes.
type memStore struct {
	mu            sync.Mutex
	orders        map[string]*domain.Order
	createErr     error
	transitionErr error
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*domain.Order)}
}

func (m *memStore) Create(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	for _, o := range m.orders {
		if o.GatewayOrderID == order.GatewayOrderID {
			return errors.New("duplicate gateway order id")
		}
	}

	order.ID = uuid.NewString()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	m.orders[order.ID] = &stored
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	out := *o
	return &out, nil
}

func (m *memStore) FindByGatewayOrderID(_ context.Context, gatewayOrderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o := m.byGateway(gatewayOrderID); o != nil {
		out := *o
		return &out, nil
	}
	return nil, nil
}

func (m *memStore) ListForAccount(_ context.Context, accountID string) ([]domain.Order, error) {
	return m.filter(func(o *domain.Order) bool { return o.AccountID == accountID }), nil
}

func (m *memStore) ListAll(_ context.Context) ([]domain.Order, error) {
	return m.filter(func(*domain.Order) bool { return true }), nil
}

func (m *memStore) MarkPaid(_ context.Context, gatewayOrderID, gatewayPaymentID string) (*domain.Order, error) {
	return m.transition(gatewayOrderID, func(o *domain.Order) {
		o.Status = domain.OrderStatusPaid
		o.GatewayPaymentID = gatewayPaymentID
	})
}

func (m *memStore) MarkFailed(_ context.Context, gatewayOrderID string) (*domain.Order, error) {
	return m.transition(gatewayOrderID, func(o *domain.Order) {
		o.Status = domain.OrderStatusFailed
	})
}

func (m *memStore) transition(gatewayOrderID string, apply func(*domain.Order)) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.transitionErr; err != nil {
		m.transitionErr = nil
		return nil, err
	}

	o := m.byGateway(gatewayOrderID)
	if o == nil || o.Status != domain.OrderStatusPending {
		return nil, nil
	}
	apply(o)
	out := *o
	return &out, nil
}

func (m *memStore) byGateway(gatewayOrderID string) *domain.Order {
	for _, o := range m.orders {
		if o.GatewayOrderID == gatewayOrderID {
			return o
		}
	}
	return nil
}

func (m *memStore) filter(keep func(*domain.Order) bool) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []domain.Order{}
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

type gatewayCall struct {
	Amount   int64
	Currency string
	Receipt  string
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []gatewayCall
	err   error
}

func (g *fakeGateway) CreateOrder(_ context.Context, amount int64, currency, receipt string) (*domain.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, gatewayCall{Amount: amount, Currency: currency, Receipt: receipt})
	if g.err != nil {
		return nil, g.err
	}
	return &domain.PaymentIntent{
		ID:       "order_" + uuid.NewString()[:14],
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

type notification struct {
	Topic string
	Event domain.OrderEvent
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, topic string, event domain.OrderEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{Topic: topic, Event: event})
}

func (n *recordingNotifier) topics() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Topic)
	}
	return out
}

type staticCarts map[string]*domain.Cart

func (c staticCarts) LoadCart(_ context.Context, accountID string) (*domain.Cart, error) {
	return c[accountID], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
