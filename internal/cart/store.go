package cart

import (
	"context"
	"errors"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// ErrVersionConflict means the cart changed between read and write.
var ErrVersionConflict = errors.New("cart modified concurrently")

// ErrCacheMiss is returned by a Cache that holds nothing for the account.
var ErrCacheMiss = errors.New("cache miss")

// Store persists carts keyed by account.
//
// Save inserts the cart when its Version is zero and otherwise replaces the
// stored cart only while the stored version still equals cart.Version. On
// success cart.Version holds the new version. Delete removes the cart only
// while its stored version equals version. Both report a lost race with
// ErrVersionConflict.
type Store interface {
	Get(ctx context.Context, accountID string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, accountID string, version int64) error
}

// ErrStaleFill is returned by Cache.Set when the cart was invalidated after
// the caller read its generation.
var ErrStaleFill = errors.New("cart invalidated during fill")

// Cache holds read-through copies of carts. A fill first reads the
// account's generation, then loads the cart, then calls Set with that
// generation. Invalidate bumps the generation, so a fill racing a mutation
// is refused instead of caching the pre-mutation cart.
type Cache interface {
	Get(ctx context.Context, accountID string) (*domain.Cart, error)
	Generation(ctx context.Context, accountID string) (int64, error)
	Set(ctx context.Context, accountID string, cart *domain.Cart, generation int64) error
	Invalidate(ctx context.Context, accountID string) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*domain.Cart, error)      { return nil, ErrCacheMiss }
func (noopCache) Generation(context.Context, string) (int64, error)      { return 0, nil }
func (noopCache) Set(context.Context, string, *domain.Cart, int64) error { return nil }
func (noopCache) Invalidate(context.Context, string) error               { return nil }
