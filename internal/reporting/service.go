package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// Window is how far back the daily sales series reaches.
const Window = 30 * 24 * time.Hour

type Store interface {
	CountAccounts(ctx context.Context) (int64, error)
	PaidTotals(ctx context.Context) (count int64, sum decimal.Decimal, err error)
	DailyPaidSales(ctx context.Context, since time.Time) ([]domain.DailySales, error)
}

type ProductCounter interface {
	Count(ctx context.Context) (int64, error)
}

type Service struct {
	store    Store
	products ProductCounter
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, products ProductCounter, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		products: products,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SalesReport aggregates catalog and order totals. The daily series covers
// paid orders from the trailing window, one entry per UTC day with sales,
// oldest first.
func (s *Service) SalesReport(ctx context.Context) (*domain.SalesReport, error) {
	report := &domain.SalesReport{TotalSales: decimal.Zero, Daily: []domain.DailySales{}}
	since := s.now().Add(-Window)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		n, err := s.store.CountAccounts(ctx)
		if err != nil {
			return fmt.Errorf("count accounts: %w", err)
		}
		report.TotalAccounts = n
		return nil
	})

	g.Go(func() error {
		n, err := s.products.Count(ctx)
		if err != nil {
			return fmt.Errorf("count products: %w", err)
		}
		report.TotalProducts = n
		return nil
	})

	g.Go(func() error {
		n, sum, err := s.store.PaidTotals(ctx)
		if err != nil {
			return fmt.Errorf("paid totals: %w", err)
		}
		report.TotalPaidOrders = n
		report.TotalSales = sum
		return nil
	})

	g.Go(func() error {
		daily, err := s.store.DailyPaidSales(ctx, since)
		if err != nil {
			return fmt.Errorf("daily sales: %w", err)
		}
		if daily != nil {
			report.Daily = daily
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("sales report built",
		"paid_orders", report.TotalPaidOrders,
		"total_sales", report.TotalSales.String(),
		"days", len(report.Daily),
	)

	return report, nil
}
