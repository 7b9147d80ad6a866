package domain

import "github.com/shopspring/decimal"

type DailySales struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

type SalesReport struct {
	TotalAccounts   int64           `json:"total_users"`
	TotalProducts   int64           `json:"total_products"`
	TotalPaidOrders int64           `json:"total_orders"`
	TotalSales      decimal.Decimal `json:"total_sales"`
	Daily           []DailySales    `json:"sales"`
}
