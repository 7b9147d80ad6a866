// Package razorpay talks to the Razorpay Orders API and verifies the
// signatures Razorpay attaches to checkout callbacks.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront/internal/apperr"
	"github.com/joao-fontenele/storefront/internal/domain"
)

type Client struct {
	baseURL    string
	keyID      string
	secret     string
	httpClient *http.Client
}

// NewClient fails with a Configuration error when credentials are missing,
// so a process never starts with an unusable gateway.
func NewClient(baseURL, keyID, secret string, httpClient *http.Client) (*Client, error) {
	if keyID == "" || secret == "" {
		return nil, apperr.New(apperr.Configuration, "razorpay key id and secret are required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		secret:     secret,
		httpClient: httpClient,
	}, nil
}

// Verifier returns a signature verifier sharing the client's secret.
func (c *Client) Verifier() *Verifier {
	return &Verifier{secret: []byte(c.secret)}
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type orderResponse struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a gateway order for amount minor units.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*domain.PaymentIntent, error) {
	data, err := json.Marshal(createOrderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, fmt.Errorf("marshal create order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create order request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("razorpay create order: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read razorpay response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error.Description != "" {
			return nil, fmt.Errorf("razorpay returned status %d: %s: %s", resp.StatusCode, e.Error.Code, e.Error.Description)
		}
		return nil, fmt.Errorf("razorpay returned status %d", resp.StatusCode)
	}

	var order orderResponse
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("decode razorpay order: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("razorpay order response without id")
	}

	return &domain.PaymentIntent{
		ID:        order.ID,
		Amount:    order.Amount,
		Currency:  order.Currency,
		Receipt:   order.Receipt,
		Status:    order.Status,
		CreatedAt: order.CreatedAt,
	}, nil
}
