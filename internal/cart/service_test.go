package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
)

// memStore is a versioned in-memory Store. beforeWrite, when set, runs while
// the lock is held just before the version check.
type memStore struct {
	mu          sync.Mutex
	carts       map[string]*domain.Cart
	gets        int
	beforeWrite func(carts map[string]*domain.Cart)
}

func newMemStore() *memStore {
	return &memStore{carts: make(map[string]*domain.Cart)}
}

func (m *memStore) Get(_ context.Context, accountID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++

	c, ok := m.carts[accountID]
	if !ok {
		return nil, nil
	}
	return cloneCart(c), nil
}

func (m *memStore) Save(_ context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.beforeWrite != nil {
		m.beforeWrite(m.carts)
	}

	current, ok := m.carts[cart.AccountID]
	switch {
	case cart.Version == 0 && ok:
		return ErrVersionConflict
	case cart.Version != 0 && (!ok || current.Version != cart.Version):
		return ErrVersionConflict
	}

	cart.Version++
	m.carts[cart.AccountID] = cloneCart(cart)
	return nil
}

func (m *memStore) Delete(_ context.Context, accountID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.beforeWrite != nil {
		m.beforeWrite(m.carts)
	}

	current, ok := m.carts[accountID]
	if !ok || current.Version != version {
		return ErrVersionConflict
	}
	delete(m.carts, accountID)
	return nil
}

func (m *memStore) stored(accountID string) *domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.carts[accountID]
}

// hookStore runs afterGet once, after a read has loaded its result and
// before it is returned.
type hookStore struct {
	*memStore
	afterGet func()
}

func (h *hookStore) Get(ctx context.Context, accountID string) (*domain.Cart, error) {
	cart, err := h.memStore.Get(ctx, accountID)
	if hook := h.afterGet; hook != nil {
		h.afterGet = nil
		hook()
	}
	return cart, err
}

// gatedStore blocks reads until release is closed and then honours the
// caller's context.
type gatedStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, accountID string) (*domain.Cart, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.memStore.Get(ctx, accountID)
}

func cloneCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Items = append([]domain.CartLineItem(nil), c.Items...)
	return &out
}

type fakeProducts map[string]*domain.Product

func (f fakeProducts) FindByID(_ context.Context, id string) (*domain.Product, error) {
	return f[id], nil
}

func (f fakeProducts) FindMany(_ context.Context, ids []string) (map[string]*domain.Product, error) {
	out := make(map[string]*domain.Product)
	for _, id := range ids {
		if p, ok := f[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func newCatalog() fakeProducts {
	return fakeProducts{
		"p1": {ID: "p1", Name: "Mug", Price: decimal.RequireFromString("19.99")},
		"p2": {ID: "p2", Name: "Tea", Price: decimal.RequireFromString("5.50")},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_AddItem(t *testing.T) {
	ctx := context.Background()

	t.Run("creates cart on first add", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), nil, discardLogger())

		cart, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		require.Len(t, cart.Items, 1)
		assert.Equal(t, "p1", cart.Items[0].ProductID)
		assert.Equal(t, 1, cart.Items[0].Quantity)
		assert.Equal(t, "19.99", cart.Total.String())
		assert.Equal(t, int64(1), store.stored("acc-1").Version)
	})

	t.Run("increments existing line and keeps its captured price", func(t *testing.T) {
		store := newMemStore()
		catalog := newCatalog()
		svc := NewService(store, catalog, nil, discardLogger())

		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		catalog["p1"] = &domain.Product{ID: "p1", Price: decimal.RequireFromString("25.00")}

		cart, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		require.Len(t, cart.Items, 1)
		assert.Equal(t, 2, cart.Items[0].Quantity)
		assert.Equal(t, "19.99", cart.Items[0].UnitPrice.String())
		assert.Equal(t, "39.98", cart.Total.String())
	})

	t.Run("total is the exact sum of line subtotals", func(t *testing.T) {
		svc := NewService(newMemStore(), newCatalog(), nil, discardLogger())

		for range 3 {
			_, err := svc.AddItem(ctx, "acc-1", "p1")
			require.NoError(t, err)
		}
		cart, err := svc.AddItem(ctx, "acc-1", "p2")
		require.NoError(t, err)

		assert.Equal(t, "65.47", cart.Total.String())
	})

	t.Run("unknown product is not found and writes nothing", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), nil, discardLogger())

		_, err := svc.AddItem(ctx, "acc-1", "missing")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.NotFound))
		assert.Nil(t, store.stored("acc-1"))
	})
}

func TestService_AdjustQuantity(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *memStore) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), nil, discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)
		return svc, store
	}

	t.Run("increase", func(t *testing.T) {
		svc, _ := setup(t)

		cart, err := svc.AdjustQuantity(ctx, "acc-1", "p1", Increase)
		require.NoError(t, err)
		assert.Equal(t, 2, cart.Items[0].Quantity)
		assert.Equal(t, "39.98", cart.Total.String())
	})

	t.Run("decrease above one", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.AdjustQuantity(ctx, "acc-1", "p1", Increase)
		require.NoError(t, err)

		cart, err := svc.AdjustQuantity(ctx, "acc-1", "p1", Decrease)
		require.NoError(t, err)
		assert.Equal(t, 1, cart.Items[0].Quantity)
		assert.Equal(t, "19.99", cart.Total.String())
	})

	t.Run("decrease at one removes the line and keeps the others", func(t *testing.T) {
		svc, store := setup(t)
		_, err := svc.AddItem(ctx, "acc-1", "p2")
		require.NoError(t, err)

		cart, err := svc.AdjustQuantity(ctx, "acc-1", "p1", Decrease)
		require.NoError(t, err)
		require.Len(t, cart.Items, 1)
		assert.Equal(t, "p2", cart.Items[0].ProductID)
		assert.Equal(t, "5.5", cart.Total.String())
		assert.NotNil(t, store.stored("acc-1"))
	})

	t.Run("decrease of the last unit deletes the cart", func(t *testing.T) {
		svc, store := setup(t)

		cart, err := svc.AdjustQuantity(ctx, "acc-1", "p1", Decrease)
		require.NoError(t, err)
		assert.Empty(t, cart.Items)
		assert.True(t, cart.Total.IsZero())
		assert.Nil(t, store.stored("acc-1"))
	})

	t.Run("rejects unknown direction", func(t *testing.T) {
		svc, _ := setup(t)

		_, err := svc.AdjustQuantity(ctx, "acc-1", "p1", Direction("double"))
		assert.True(t, apperr.Is(err, apperr.InvalidArgument))
	})

	t.Run("missing cart is not found", func(t *testing.T) {
		svc := NewService(newMemStore(), newCatalog(), nil, discardLogger())

		_, err := svc.AdjustQuantity(ctx, "acc-2", "p1", Increase)
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})

	t.Run("missing line is not found", func(t *testing.T) {
		svc, _ := setup(t)

		_, err := svc.AdjustQuantity(ctx, "acc-1", "p2", Increase)
		assert.True(t, apperr.Is(err, apperr.NotFound))
	})
}

func TestService_RemoveItem(t *testing.T) {
	ctx := context.Background()

	t.Run("missing cart returns the empty shape", func(t *testing.T) {
		svc := NewService(newMemStore(), newCatalog(), nil, discardLogger())

		cart, err := svc.RemoveItem(ctx, "acc-1", "p1")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", cart.AccountID)
		assert.NotNil(t, cart.Items)
		assert.Empty(t, cart.Items)
		assert.True(t, cart.Total.IsZero())
	})

	t.Run("missing line leaves the cart unchanged", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), nil, discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		cart, err := svc.RemoveItem(ctx, "acc-1", "p2")
		require.NoError(t, err)
		assert.Len(t, cart.Items, 1)
		assert.Equal(t, int64(1), store.stored("acc-1").Version)
	})

	t.Run("removes the line and recomputes the total", func(t *testing.T) {
		svc := NewService(newMemStore(), newCatalog(), nil, discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)
		_, err = svc.AddItem(ctx, "acc-1", "p2")
		require.NoError(t, err)

		cart, err := svc.RemoveItem(ctx, "acc-1", "p1")
		require.NoError(t, err)
		require.Len(t, cart.Items, 1)
		assert.Equal(t, "5.5", cart.Total.String())
	})

	t.Run("removing the last line deletes the cart", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), nil, discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		cart, err := svc.RemoveItem(ctx, "acc-1", "p1")
		require.NoError(t, err)
		assert.Empty(t, cart.Items)
		assert.Nil(t, store.stored("acc-1"))
	})
}

func TestService_VersionConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("retries after a concurrent write and keeps both changes", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), nil, discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		interfered := false
		store.beforeWrite = func(carts map[string]*domain.Cart) {
			if interfered {
				return
			}
			interfered = true
			c := carts["acc-1"]
			c.Items = append(c.Items, domain.CartLineItem{ProductID: "p2", Quantity: 1, UnitPrice: decimal.RequireFromString("5.50")})
			c.Recalculate()
			c.Version++
		}

		cart, err := svc.AdjustQuantity(ctx, "acc-1", "p1", Increase)
		require.NoError(t, err)
		require.Len(t, cart.Items, 2)
		assert.Equal(t, 2, cart.Items[0].Quantity)
		assert.Equal(t, "45.48", cart.Total.String())
	})

	t.Run("gives up with conflict after bounded attempts", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), nil, discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		store.beforeWrite = func(carts map[string]*domain.Cart) {
			carts["acc-1"].Version++
		}

		_, err = svc.AddItem(ctx, "acc-1", "p1")
		require.Error(t, err)
		assert.True(t, apperr.Is(err, apperr.Conflict))
		assert.True(t, errors.Is(err, ErrVersionConflict))
	})

	t.Run("concurrent adds never lose an update", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), nil, discardLogger())

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := svc.AddItem(ctx, "acc-1", "p1"); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		stored := store.stored("acc-1")
		require.NotNil(t, stored)
		require.Len(t, stored.Items, 1)
		assert.Equal(t, succeeded, stored.Items[0].Quantity)
		assert.True(t, stored.Total.Equal(stored.Items[0].Subtotal()))
	})
}

func TestService_GetCart(t *testing.T) {
	ctx := context.Background()

	newCache := func(t *testing.T) *RedisCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return NewRedisCache(client, time.Minute)
	}

	t.Run("returns nil when the account has no cart", func(t *testing.T) {
		svc := NewService(newMemStore(), newCatalog(), nil, discardLogger())

		cart, err := svc.GetCart(ctx, "acc-1")
		require.NoError(t, err)
		assert.Nil(t, cart)
	})

	t.Run("serves repeat reads from cache", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), newCache(t), discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		first, err := svc.GetCart(ctx, "acc-1")
		require.NoError(t, err)
		getsAfterFirst := store.gets

		second, err := svc.GetCart(ctx, "acc-1")
		require.NoError(t, err)

		assert.Equal(t, getsAfterFirst, store.gets)
		assert.True(t, first.Total.Equal(second.Total))
	})

	t.Run("mutation invalidates the cached cart", func(t *testing.T) {
		store := newMemStore()
		svc := NewService(store, newCatalog(), newCache(t), discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		_, err = svc.GetCart(ctx, "acc-1")
		require.NoError(t, err)

		_, err = svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		cart, err := svc.GetCart(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, 2, cart.Items[0].Quantity)
		assert.Equal(t, "39.98", cart.Total.String())
	})

	t.Run("a fill racing a mutation does not cache the old cart", func(t *testing.T) {
		store := &hookStore{memStore: newMemStore()}
		svc := NewService(store, newCatalog(), newCache(t), discardLogger())
		_, err := svc.AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		store.afterGet = func() {
			_, err := svc.AddItem(ctx, "acc-1", "p1")
			require.NoError(t, err)
		}

		raced, err := svc.GetCart(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, 1, raced.Items[0].Quantity)

		cart, err := svc.GetCart(ctx, "acc-1")
		require.NoError(t, err)
		require.Len(t, cart.Items, 1)
		assert.Equal(t, 2, cart.Items[0].Quantity)
		assert.Equal(t, "39.98", cart.Total.String())
		assert.True(t, cart.Total.Equal(store.stored("acc-1").Total))
	})

	t.Run("a cancelled caller does not fail readers sharing its load", func(t *testing.T) {
		mem := newMemStore()
		_, err := NewService(mem, newCatalog(), nil, discardLogger()).AddItem(ctx, "acc-1", "p1")
		require.NoError(t, err)

		store := &gatedStore{memStore: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}
		svc := NewService(store, newCatalog(), nil, discardLogger())

		leaderCtx, cancel := context.WithCancel(ctx)
		leaderErr := make(chan error, 1)
		go func() {
			_, err := svc.GetCart(leaderCtx, "acc-1")
			leaderErr <- err
		}()
		<-store.entered

		type result struct {
			cart *domain.Cart
			err  error
		}
		follower := make(chan result, 1)
		go func() {
			cart, err := svc.GetCart(ctx, "acc-1")
			follower <- result{cart, err}
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()
		close(store.release)

		got := <-follower
		require.NoError(t, got.err)
		require.NotNil(t, got.cart)
		assert.Equal(t, 1, got.cart.Items[0].Quantity)
		assert.NoError(t, <-leaderErr)
	})
}

func TestService_LoadCart(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisCache(client, time.Minute)

	store := newMemStore()
	svc := NewService(store, newCatalog(), cache, discardLogger())
	_, err := svc.AddItem(ctx, "acc-1", "p1")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "acc-1", "p1")
	require.NoError(t, err)

	gen, err := cache.Generation(ctx, "acc-1")
	require.NoError(t, err)
	outdated := &domain.Cart{
		AccountID: "acc-1",
		Items:     []domain.CartLineItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.RequireFromString("19.99")}},
	}
	outdated.Recalculate()
	require.NoError(t, cache.Set(ctx, "acc-1", outdated, gen))

	cached, err := svc.GetCart(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "19.99", cached.Total.String())

	cart, err := svc.LoadCart(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, "39.98", cart.Total.String())

	missing, err := svc.LoadCart(ctx, "acc-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
