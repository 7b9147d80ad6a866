package main

import (
	"net/http"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/identity"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/reporting"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

type handlers struct {
	cart    *cart.Handler
	orders  *orders.Handler
	catalog *catalog.Handler
	sales   *reporting.Handler
	metrics http.Handler
}

// newRouter registers every route explicitly. Account-scoped routes carry
// the identity middleware; anything unregistered falls through to the
// mux's 404.
func newRouter(h handlers) http.Handler {
	mux := http.NewServeMux()

	public := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(fn))
	}
	account := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, identity.Middleware(telemetry.WithHTTPRoute(fn)))
	}
	admin := func(pattern string, fn http.HandlerFunc) {
		account(pattern, identity.RequireAdmin(fn))
	}

	public("GET /products", h.catalog.HandleList)
	public("GET /products/{id}", h.catalog.HandleGet)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", h.metrics)

	account("GET /cart", h.cart.HandleGet)
	account("POST /cart/items", h.cart.HandleAdd)
	account("PUT /cart/items", h.cart.HandleAdjust)
	account("DELETE /cart/items", h.cart.HandleRemove)

	account("POST /orders", h.orders.HandleCreate)
	account("POST /orders/checkout", h.orders.HandleCheckout)
	account("POST /orders/verify-payment", h.orders.HandleVerify)
	account("GET /orders/mine", h.orders.HandleListMine)
	account("GET /orders/{id}", h.orders.HandleGet)

	admin("GET /admin/orders", h.orders.HandleListAll)
	admin("GET /admin/orders/user/{accountId}", h.orders.HandleListForAccount)
	admin("GET /admin/sales", h.sales.HandleSales)

	return telemetry.Handler(mux, serviceName)
}
