package cart

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
)

// ProductLookup resolves display details for cart lines.
type ProductLookup interface {
	FindMany(ctx context.Context, ids []string) (map[string]*domain.Product, error)
}

type Handler struct {
	service  *Service
	products ProductLookup
	logger   *slog.Logger
}

func NewHandler(service *Service, products ProductLookup, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		products: products,
		logger:   logger,
	}
}

type itemRequest struct {
	ProductID string `json:"product_id"`
}

type adjustRequest struct {
	ProductID string    `json:"product_id"`
	Type      Direction `json:"type"`
}

type productSummary struct {
	Name   string                `json:"name"`
	Price  decimal.Decimal       `json:"price"`
	Images []domain.ProductImage `json:"images"`
}

type lineView struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Product   *productSummary `json:"product"`
}

type cartView struct {
	AccountID  string          `json:"account_id"`
	Items      []lineView      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type cartResponse struct {
	Cart *cartView `json:"cart"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	cart, err := h.service.GetCart(r.Context(), id.AccountID)
	if err != nil {
		h.writeAppError(w, err, "failed to get cart")
		return
	}

	h.writeJSON(w, http.StatusOK, cartResponse{Cart: h.render(r.Context(), cart)})
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	cart, err := h.service.AddItem(r.Context(), id.AccountID, req.ProductID)
	if err != nil {
		h.writeAppError(w, err, "failed to add item")
		return
	}

	h.writeJSON(w, http.StatusOK, cartResponse{Cart: h.render(r.Context(), cart)})
}

func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	cart, err := h.service.AdjustQuantity(r.Context(), id.AccountID, req.ProductID, req.Type)
	if err != nil {
		h.writeAppError(w, err, "failed to update item")
		return
	}

	h.writeJSON(w, http.StatusOK, cartResponse{Cart: h.render(r.Context(), cart)})
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}

	cart, err := h.service.RemoveItem(r.Context(), id.AccountID, req.ProductID)
	if err != nil {
		h.writeAppError(w, err, "failed to remove item")
		return
	}

	h.writeJSON(w, http.StatusOK, cartResponse{Cart: h.render(r.Context(), cart)})
}

// render attaches product display details to each line. Products that can no
// longer be resolved render with a null product.
func (h *Handler) render(ctx context.Context, cart *domain.Cart) *cartView {
	if cart == nil {
		return nil
	}

	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}

	var products map[string]*domain.Product
	if len(ids) > 0 {
		var err error
		products, err = h.products.FindMany(ctx, ids)
		if err != nil {
			h.logger.Warn("failed to resolve cart products", "error", err, "account_id", cart.AccountID)
		}
	}

	view := &cartView{
		AccountID:  cart.AccountID,
		Items:      make([]lineView, 0, len(cart.Items)),
		TotalPrice: cart.Total,
	}
	for _, item := range cart.Items {
		line := lineView{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal(),
		}
		if p, ok := products[item.ProductID]; ok && p != nil {
			line.Product = &productSummary{Name: p.Name, Price: p.Price, Images: p.Images}
		}
		view.Items = append(view.Items, line)
	}

	return view
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error, msg string) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	}
	h.writeError(w, status, apperr.Message(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
