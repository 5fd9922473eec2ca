package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// PaymentClient abstracts the payment gateway.
type PaymentClient interface {
	ClientToken(ctx context.Context) (string, error)
	Sale(ctx context.Context, nonce string, amountCents int64) (*PaymentResult, error)
}

// PaymentResult is the settled transaction returned by the gateway.
type PaymentResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	AmountCents   int64  `json:"amount_cents"`
}

// HTTPPaymentClient calls the gateway HTTP endpoints.
type HTTPPaymentClient struct {
	client *http.Client
	base   string
}

func NewHTTPPaymentClient(baseURL string) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		client: &http.Client{Timeout: 30 * time.Second},
		base:   baseURL,
	}
}

type saleRequest struct {
	Nonce          string `json:"payment_method_nonce"`
	AmountCents    int64  `json:"amount_cents"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ClientToken fetches a fresh tokenization token for the browser SDK.
func (c *HTTPPaymentClient) ClientToken(ctx context.Context) (string, error) {
	if c.base == "" {
		return "", errors.New("payment gateway url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/client-token", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var textErr string
		_ = json.NewDecoder(resp.Body).Decode(&textErr)
		return "", fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, textErr)
	}

	var body struct {
		ClientToken string `json:"client_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.ClientToken == "" {
		return "", errors.New("empty client token from gateway")
	}
	return body.ClientToken, nil
}

// Sale settles a payment method nonce for the given amount. The idempotency
// key ensures a retried request cannot charge twice.
func (c *HTTPPaymentClient) Sale(ctx context.Context, nonce string, amountCents int64) (*PaymentResult, error) {
	if c.base == "" {
		return nil, errors.New("payment gateway url not configured")
	}
	if nonce == "" {
		return nil, errors.New("empty payment nonce")
	}
	if amountCents <= 0 {
		return nil, errors.New("sale amount must be positive")
	}

	payload := saleRequest{
		Nonce:          nonce,
		AmountCents:    amountCents,
		IdempotencyKey: uuid.NewString(),
	}
	b, _ := json.Marshal(payload)
	log.Printf("payment sale amount_cents=%d key=%s", amountCents, payload.IdempotencyKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/transactions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var textErr string
		_ = json.NewDecoder(resp.Body).Decode(&textErr)
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, textErr)
	}

	var result PaymentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if result.TransactionID == "" {
		return nil, errors.New("gateway response missing transaction id")
	}
	return &result, nil
}
