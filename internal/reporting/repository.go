package reporting

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

type SalesRepository struct {
	db *sql.DB
}

func NewSalesRepository(db *sql.DB) *SalesRepository {
	return &SalesRepository{db: db}
}

func (r *SalesRepository) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SalesRepository) PaidTotals(ctx context.Context) (int64, decimal.Decimal, error) {
	var (
		n   int64
		sum decimal.Decimal
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM orders
		WHERE status = $1
	`, domain.OrderStatusPaid).Scan(&n, &sum)
	if err != nil {
		return 0, decimal.Zero, err
	}
	return n, sum, nil
}

func (r *SalesRepository) DailyPaidSales(ctx context.Context, since time.Time) ([]domain.DailySales, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, SUM(amount)
		FROM orders
		WHERE status = $1 AND created_at >= $2
		GROUP BY day
		ORDER BY day
	`, domain.OrderStatusPaid, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	daily := []domain.DailySales{}
	for rows.Next() {
		var d domain.DailySales
		if err := rows.Scan(&d.Date, &d.Amount); err != nil {
			return nil, err
		}
		daily = append(daily, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return daily, nil
}
