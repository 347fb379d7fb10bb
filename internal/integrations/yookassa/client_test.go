package yookassa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/TURRA7/BotShop/internal/entity"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("shop-1", "secret", "https://t.me/shop_bot", WithBaseURL(srv.URL+"/v3/"))
	require.NoError(t, err)
	c.newKey = func() string { return "key-1" }
	return c
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient("", "secret", "")
	require.Error(t, err)
	_, err = NewClient("shop", " ", "")
	require.Error(t, err)

	c, err := NewClient("shop", "secret", "")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
}

func TestCreatePayment(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/payments", r.URL.Path)
		require.Equal(t, "key-1", r.Header.Get("Idempotence-Key"))
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "shop-1", user)
		require.Equal(t, "secret", pass)

		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "60.50", req.Amount.Value)
		require.Equal(t, "RUB", req.Amount.Currency)
		require.Equal(t, "redirect", req.Confirmation.Type)
		require.Equal(t, "https://t.me/shop_bot", req.Confirmation.ReturnURL)
		require.True(t, req.Capture)
		require.Equal(t, "42", req.Metadata["chat_id"])
		require.Equal(t, "Order of 1 item(s)", req.Description)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"2d3c-11","status":"pending","confirmation":{"type":"redirect","confirmation_url":"https://yoomoney.ru/checkout?orderId=2d3c-11"}}`)
	})

	redirect, id, err := c.CreatePayment(context.Background(), decimal.RequireFromString("60.5"), "42", "Order of 1 item(s)")
	require.NoError(t, err)
	require.Equal(t, "2d3c-11", id)
	require.Equal(t, "https://yoomoney.ru/checkout?orderId=2d3c-11", redirect)
}

func TestCreatePayment_Non2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"type":"error","code":"invalid_credentials"}`)
	})

	_, _, err := c.CreatePayment(context.Background(), decimal.NewFromInt(1), "1", "")
	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "invalid_credentials")
}

func TestCreatePayment_MissingConfirmation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"p-1","status":"pending"}`)
	})

	_, _, err := c.CreatePayment(context.Background(), decimal.NewFromInt(1), "1", "")
	require.Error(t, err)
}

func TestStatus(t *testing.T) {
	cases := []struct {
		status string
		want   entity.PaymentStatus
	}{
		{"succeeded", entity.PaymentSucceeded},
		{"canceled", entity.PaymentFailed},
		{"pending", entity.PaymentPending},
		{"waiting_for_capture", entity.PaymentPending},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, "/v3/payments/p-1", r.URL.Path)
				_, _ = io.WriteString(w, `{"id":"p-1","status":"`+tc.status+`","metadata":{"chat_id":"42"}}`)
			})

			st, err := c.Status(context.Background(), "p-1")
			require.NoError(t, err)
			require.Equal(t, tc.want, st.State)
			require.Equal(t, "42", st.PayerRef)
		})
	}
}

func TestStatus_UnknownStatusIsAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"p-1","status":"refunded"}`)
	})

	_, err := c.Status(context.Background(), "p-1")
	require.Error(t, err)

	_, err = c.Status(context.Background(), "")
	require.Error(t, err)
}

func TestStatus_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c, err := NewClient("shop-1", "secret", "", WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))
	require.NoError(t, err)

	_, err = c.Status(context.Background(), "p-1")
	require.Error(t, err)
}
