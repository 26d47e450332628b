package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pixelmuse/pixelmuse/internal/checkout/domain"
	"github.com/pixelmuse/pixelmuse/internal/config"
)

type checkoutRequest struct {
	ProductID  string            `json:"product_id"`
	SuccessURL string            `json:"success_url,omitempty"`
	CancelURL  string            `json:"cancel_url,omitempty"`
	Customer   *customerPayload  `json:"customer,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type customerPayload struct {
	Email string `json:"email"`
}

type checkoutResponse struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

type errorResponse struct {
	Message string `json:"message"`
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(cfg config.Config) domain.ProviderClient {
	return &client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Payment.APIBaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.Payment.APIKey),
		http:    &http.Client{Timeout: 12 * time.Second},
	}
}

func (c *client) CreateSession(ctx context.Context, req domain.SessionRequest) (*domain.SessionResponse, error) {
	if c.baseURL == "" || c.apiKey == "" {
		return nil, errors.New("checkout_provider_not_configured")
	}

	payload := checkoutRequest{
		ProductID:  req.ProductID,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Metadata:   req.Metadata,
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		payload.Customer = &customerPayload{Email: email}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkouts", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var providerErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&providerErr); err != nil {
			return nil, errors.New("checkout_request_failed")
		}
		message := strings.TrimSpace(providerErr.Message)
		if message == "" {
			message = "checkout_request_failed"
		}
		return nil, errors.New(message)
	}

	var session checkoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, err
	}
	if session.CheckoutURL == "" {
		return nil, errors.New("checkout_response_invalid")
	}
	return &domain.SessionResponse{
		ID:          session.ID,
		CheckoutURL: session.CheckoutURL,
	}, nil
}
