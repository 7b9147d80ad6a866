package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront/internal/domain"
)

type EmailHandler struct {
	emailServiceURL string
	emailDomain     string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewEmailHandler(emailServiceURL, emailDomain string, client *http.Client, logger *slog.Logger) *EmailHandler {
	return &EmailHandler{
		emailServiceURL: emailServiceURL,
		emailDomain:     emailDomain,
		httpClient:      client,
		logger:          logger,
	}
}

type email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Handle sends the email for one order event. Undecodable payloads and
// unknown topics are logged and skipped; a failed send is returned so the
// event is redelivered.
func (h *EmailHandler) Handle(ctx context.Context, topic string, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("skipping undecodable order event", "error", err, "topic", topic)
		return nil
	}

	msg, ok := h.compose(topic, event)
	if !ok {
		h.logger.Warn("skipping event from unknown topic", "topic", topic, "order_id", event.OrderID)
		return nil
	}

	h.logger.Info("processing order event", "topic", topic, "order_id", event.OrderID, "account_id", event.AccountID)

	if err := h.send(ctx, msg); err != nil {
		h.logger.Error("failed to send email", "error", err, "topic", topic, "order_id", event.OrderID)
		return fmt.Errorf("send %s email: %w", topic, err)
	}

	return nil
}

func (h *EmailHandler) compose(topic string, event domain.OrderEvent) (email, bool) {
	msg := email{To: event.AccountID + "@" + h.emailDomain}

	switch topic {
	case domain.TopicOrderCreated:
		msg.Subject = "Order received: " + event.OrderID
		msg.Body = fmt.Sprintf("We received your order %s for %s %s with %d items. Complete the payment to confirm it.",
			event.OrderID, event.Amount.StringFixed(2), event.Currency, event.ItemCount)
	case domain.TopicOrderPaid:
		msg.Subject = "Payment confirmed: " + event.OrderID
		msg.Body = fmt.Sprintf("Payment %s of %s %s for order %s was received.",
			event.GatewayPaymentID, event.Amount.StringFixed(2), event.Currency, event.OrderID)
	case domain.TopicOrderFailed:
		msg.Subject = "Payment failed: " + event.OrderID
		msg.Body = fmt.Sprintf("The payment for order %s did not go through. You have not been charged.", event.OrderID)
	default:
		return email{}, false
	}

	return msg, true
}

func (h *EmailHandler) send(ctx context.Context, msg email) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
