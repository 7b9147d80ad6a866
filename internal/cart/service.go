package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	tracer = otel.Tracer("storefront/cart")
	meter  = otel.Meter("storefront/cart")
)

type Direction string

const (
	Increase Direction = "increase"
	Decrease Direction = "decrease"
)

const (
	maxAttempts = 5
	loadTimeout = 5 * time.Second
)

type ProductFinder interface {
	FindByID(ctx context.Context, id string) (*domain.Product, error)
}

type Service struct {
	store     Store
	cache     Cache
	products  ProductFinder
	logger    *slog.Logger
	sfg       singleflight.Group
	mutations metric.Int64Counter
	now       func() time.Time
}

// NewService builds the cart aggregator. cache may be nil.
func NewService(store Store, products ProductFinder, cache Cache, logger *slog.Logger) *Service {
	if cache == nil {
		cache = noopCache{}
	}

	mutations, err := meter.Int64Counter("cart_mutations_total",
		metric.WithDescription("Cart mutations persisted, by operation"))
	if err != nil {
		logger.Warn("failed to create cart mutation counter", "error", err)
	}

	return &Service{
		store:     store,
		cache:     cache,
		products:  products,
		logger:    logger,
		mutations: mutations,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetCart returns nil, nil when the account has no cart. Concurrent reads
// of one account share a single load, which runs detached from any one
// caller's cancellation.
func (s *Service) GetCart(ctx context.Context, accountID string) (*domain.Cart, error) {
	ctx, span := tracer.Start(ctx, "cart.GetCart")
	defer span.End()

	v, err, _ := s.sfg.Do(accountID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.readThrough(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// LoadCart reads the cart from the store, bypassing the cache. Checkout
// builds orders from it so a cached copy never reaches the gateway.
func (s *Service) LoadCart(ctx context.Context, accountID string) (*domain.Cart, error) {
	ctx, span := tracer.Start(ctx, "cart.LoadCart")
	defer span.End()

	cart, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return cart, nil
}

func (s *Service) readThrough(ctx context.Context, accountID string) (*domain.Cart, error) {
	cached, err := s.cache.Get(ctx, accountID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("cart cache get failed", "error", err, "account_id", accountID)
	}

	// the generation must be read before the store so a mutation landing in
	// between is seen by Set
	generation, genErr := s.cache.Generation(ctx, accountID)
	if genErr != nil {
		s.logger.Warn("cart cache generation failed", "error", genErr, "account_id", accountID)
	}

	cart, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart == nil {
		return nil, nil
	}

	if genErr == nil {
		err := s.cache.Set(ctx, accountID, cart, generation)
		switch {
		case errors.Is(err, ErrStaleFill):
			s.logger.Debug("cart changed during cache fill", "account_id", accountID)
		case err != nil:
			s.logger.Warn("cart cache set failed", "error", err, "account_id", accountID)
		}
	}
	return cart, nil
}

// AddItem puts one unit of productID in the cart. A new line captures the
// current catalog price; an existing line keeps the price it was added at.
func (s *Service) AddItem(ctx context.Context, accountID, productID string) (*domain.Cart, error) {
	ctx, span := tracer.Start(ctx, "cart.AddItem")
	defer span.End()

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	if product == nil {
		return nil, apperr.NotFoundf("product %s not found", productID)
	}

	var result *domain.Cart
	err = s.retry(ctx, accountID, "add", func() error {
		cart, err := s.store.Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}

		now := s.now()
		if cart == nil {
			cart = &domain.Cart{AccountID: accountID, CreatedAt: now}
		}

		if i := cart.Find(productID); i >= 0 {
			cart.Items[i].Quantity++
		} else {
			cart.Items = append(cart.Items, domain.CartLineItem{
				ProductID: productID,
				Quantity:  1,
				UnitPrice: product.Price,
				AddedAt:   now,
			})
		}

		cart.Recalculate()
		cart.UpdatedAt = now
		if err := s.store.Save(ctx, cart); err != nil {
			return err
		}

		result = cart
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("item added to cart", "account_id", accountID, "product_id", productID, "total", result.Total.String())
	return result, nil
}

// AdjustQuantity moves a line's quantity by one. Decreasing a line at
// quantity 1 removes it, and removing the last line deletes the cart.
func (s *Service) AdjustQuantity(ctx context.Context, accountID, productID string, direction Direction) (*domain.Cart, error) {
	ctx, span := tracer.Start(ctx, "cart.AdjustQuantity")
	defer span.End()

	if direction != Increase && direction != Decrease {
		return nil, apperr.InvalidArgumentf("invalid update type %q", direction)
	}

	var result *domain.Cart
	err := s.retry(ctx, accountID, string(direction), func() error {
		cart, err := s.store.Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if cart == nil {
			return apperr.NotFoundf("cart not found")
		}

		i := cart.Find(productID)
		if i < 0 {
			return apperr.NotFoundf("product %s not found in cart", productID)
		}

		switch {
		case direction == Increase:
			cart.Items[i].Quantity++
		case cart.Items[i].Quantity > 1:
			cart.Items[i].Quantity--
		default:
			cart.RemoveAt(i)
		}

		result, err = s.persist(ctx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RemoveItem drops the line for productID. A missing cart or line is not an
// error.
func (s *Service) RemoveItem(ctx context.Context, accountID, productID string) (*domain.Cart, error) {
	ctx, span := tracer.Start(ctx, "cart.RemoveItem")
	defer span.End()

	var result *domain.Cart
	err := s.retry(ctx, accountID, "remove", func() error {
		cart, err := s.store.Get(ctx, accountID)
		if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}
		if cart == nil {
			result = domain.EmptyCart(accountID)
			return nil
		}

		i := cart.Find(productID)
		if i < 0 {
			result = cart
			return nil
		}

		cart.RemoveAt(i)
		result, err = s.persist(ctx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// persist saves cart with a fresh total, or deletes it once empty.
func (s *Service) persist(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	if cart.IsEmpty() {
		if err := s.store.Delete(ctx, cart.AccountID, cart.Version); err != nil {
			return nil, err
		}
		return domain.EmptyCart(cart.AccountID), nil
	}

	cart.Recalculate()
	cart.UpdatedAt = s.now()
	if err := s.store.Save(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// retry reruns a read-modify-write until it commits without a version
// conflict, then drops the cached cart.
func (s *Service) retry(ctx context.Context, accountID, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			s.invalidate(ctx, accountID)
			if s.mutations != nil {
				s.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
			}
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if attempt == maxAttempts {
			return apperr.Wrap(apperr.Conflict, "cart was modified concurrently, try again", err)
		}
		s.logger.Debug("cart version conflict, retrying", "account_id", accountID, "operation", op, "attempt", attempt)
	}
}

func (s *Service) invalidate(ctx context.Context, accountID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	if err := s.cache.Invalidate(ctx, accountID); err != nil {
		s.logger.Warn("cart cache invalidate failed", "error", err, "account_id", accountID)
	}
}
