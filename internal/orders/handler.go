package orders

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/identity"
)

const maxCallbackBytes = 1 << 16

type Handler struct {
	builder  *Builder
	verifier *Verifier
	logger   *slog.Logger
}

func NewHandler(builder *Builder, verifier *Verifier, logger *slog.Logger) *Handler {
	return &Handler{
		builder:  builder,
		verifier: verifier,
		logger:   logger,
	}
}

type createOrderRequest struct {
	Items    []domain.OrderLineItem `json:"items"`
	Amount   decimal.Decimal        `json:"amount"`
	Tax      decimal.Decimal        `json:"tax"`
	Shipping decimal.Decimal        `json:"shipping"`
	Currency string                 `json:"currency"`
}

type checkoutRequest struct {
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Currency string          `json:"currency"`
}

type verifyResponse struct {
	Message string        `json:"message"`
	Outcome Outcome       `json:"outcome"`
	Order   *domain.Order `json:"order"`
}

type failedPaymentResponse struct {
	Error string        `json:"error"`
	Order *domain.Order `json:"order"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.builder.CreateOrder(r.Context(), CreateOrderInput{
		AccountID: id.AccountID,
		Items:     req.Items,
		Amount:    req.Amount,
		Tax:       req.Tax,
		Shipping:  req.Shipping,
		Currency:  req.Currency,
	})
	if err != nil {
		h.writeAppError(w, err, "failed to create order")
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req checkoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.builder.CheckoutCart(r.Context(), id.AccountID, req.Tax, req.Shipping, req.Currency)
	if err != nil {
		h.writeAppError(w, err, "failed to check out cart")
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cb, err := ParseCallback(body)
	if err != nil {
		h.writeAppError(w, err, "invalid callback")
		return
	}

	result, err := h.verifier.Verify(r.Context(), cb)
	if err != nil {
		h.writeAppError(w, err, "failed to verify payment")
		return
	}

	switch result.Outcome {
	case OutcomeFailed:
		h.writeJSON(w, http.StatusBadRequest, failedPaymentResponse{Error: "payment failed", Order: result.Order})
	case OutcomeAlreadyFinal:
		h.writeJSON(w, http.StatusOK, verifyResponse{Message: "payment already processed", Outcome: result.Outcome, Order: result.Order})
	default:
		h.writeJSON(w, http.StatusOK, verifyResponse{Message: "payment verified", Outcome: result.Outcome, Order: result.Order})
	}
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	orders, err := h.builder.ListForAccount(r.Context(), id.AccountID)
	if err != nil {
		h.writeAppError(w, err, "failed to list orders")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	orderID := r.PathValue("id")
	if orderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.builder.Get(r.Context(), orderID, id)
	if err != nil {
		h.writeAppError(w, err, "failed to get order")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleListAll(w http.ResponseWriter, r *http.Request) {
	orders, err := h.builder.ListAll(r.Context())
	if err != nil {
		h.writeAppError(w, err, "failed to list orders")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleListForAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountId")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	orders, err := h.builder.ListForAccount(r.Context(), accountID)
	if err != nil {
		h.writeAppError(w, err, "failed to list orders")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error, msg string) {
	status := apperr.HTTPStatus(apperr.KindOf(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
	} else {
		h.logger.Warn(msg, "error", err)
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
