// Package yookassa is a focused client for the YooKassa payments API.
package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/TURRA7/BotShop/internal/entity"
	"github.com/TURRA7/BotShop/internal/service"
)

const defaultBaseURL = "https://api.yookassa.ru/v3"

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type createRequest struct {
	Amount            amount            `json:"amount"`
	PaymentMethodData paymentMethodData `json:"payment_method_data"`
	Confirmation      confirmation      `json:"confirmation"`
	Capture           bool              `json:"capture"`
	Metadata          map[string]string `json:"metadata"`
	Description       string            `json:"description,omitempty"`
}

type paymentMethodData struct {
	Type string `json:"type"`
}

type confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// payment is the subset of the payment object this client reads.
type payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Confirmation confirmation      `json:"confirmation"`
	Metadata     map[string]string `json:"metadata"`
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("yookassa: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client implements service.PaymentProvider.
type Client struct {
	baseURL    string
	shopID     string
	secretKey  string
	returnURL  string
	currency   string
	httpClient *http.Client
	newKey     func() string
}

var _ service.PaymentProvider = (*Client)(nil)

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every gateway call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

func WithCurrency(currency string) Option {
	return func(c *Client) {
		c.currency = currency
	}
}

// NewClient creates a client authenticating with the shop id and secret key.
// Buyers are sent back to returnURL after paying.
func NewClient(shopID, secretKey, returnURL string, opts ...Option) (*Client, error) {
	shopID = strings.TrimSpace(shopID)
	secretKey = strings.TrimSpace(secretKey)
	if shopID == "" || secretKey == "" {
		return nil, errors.New("yookassa: shop id and secret key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		shopID:     shopID,
		secretKey:  secretKey,
		returnURL:  returnURL,
		currency:   "RUB",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		newKey:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreatePayment opens a redirect payment captured automatically on success.
// payerRef is stored as the chat_id metadata.
func (c *Client) CreatePayment(ctx context.Context, value decimal.Decimal, payerRef, description string) (string, string, error) {
	body, err := json.Marshal(createRequest{
		Amount:            amount{Value: value.StringFixed(2), Currency: c.currency},
		PaymentMethodData: paymentMethodData{Type: "bank_card"},
		Confirmation:      confirmation{Type: "redirect", ReturnURL: c.returnURL},
		Capture:           true,
		Metadata:          map[string]string{"chat_id": payerRef},
		Description:       description,
	})
	if err != nil {
		return "", "", fmt.Errorf("yookassa: marshal request: %w", err)
	}

	endpoint := c.baseURL + "/payments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("yookassa: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", c.newKey())

	var p payment
	if err := c.do(req, endpoint, &p); err != nil {
		return "", "", err
	}
	if p.ID == "" || p.Confirmation.ConfirmationURL == "" {
		return "", "", errors.New("yookassa: payment response without id or confirmation url")
	}
	return p.Confirmation.ConfirmationURL, p.ID, nil
}

// Status fetches the payment and maps its status onto the store's lifecycle.
func (c *Client) Status(ctx context.Context, intentID string) (service.ProviderStatus, error) {
	if strings.TrimSpace(intentID) == "" {
		return service.ProviderStatus{}, errors.New("yookassa: payment id must not be empty")
	}
	endpoint := c.baseURL + "/payments/" + url.PathEscape(intentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return service.ProviderStatus{}, fmt.Errorf("yookassa: create request: %w", err)
	}

	var p payment
	if err := c.do(req, endpoint, &p); err != nil {
		return service.ProviderStatus{}, err
	}
	state, err := mapStatus(p.Status)
	if err != nil {
		return service.ProviderStatus{}, err
	}
	return service.ProviderStatus{State: state, PayerRef: p.Metadata["chat_id"]}, nil
}

func mapStatus(status string) (entity.PaymentStatus, error) {
	switch status {
	case "succeeded":
		return entity.PaymentSucceeded, nil
	case "canceled":
		return entity.PaymentFailed, nil
	case "pending", "waiting_for_capture":
		return entity.PaymentPending, nil
	}
	return "", fmt.Errorf("yookassa: unknown payment status %q", status)
}

func (c *Client) do(req *http.Request, endpoint string, out any) error {
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("yookassa: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("yookassa: read response body: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("yookassa: decode response: %w", err)
	}
	return nil
}
