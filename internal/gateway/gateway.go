// Package gateway implements the outbound client for the external payment
// provider: checkout session creation, payment lookup, search by external
// reference and OAuth token refresh. All calls carry a bounded timeout; a
// timed-out operation is left for the next poll or retry cycle.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

var (
	ErrUnreachable    = errors.New("payment gateway unreachable")
	ErrRefreshFailed  = errors.New("token refresh rejected by provider")
	ErrPaymentMissing = errors.New("payment not found at provider")
)

// Payment is the provider's view of a payment
type Payment struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"` // approved, pending, in_process, rejected, cancelled
	StatusDetail      string     `json:"status_detail"`
	TransactionAmount float64    `json:"transaction_amount"`
	PaymentMethodID   string     `json:"payment_method_id"`
	PaymentTypeID     string     `json:"payment_type_id"`
	ExternalReference string     `json:"external_reference"`
	DateApproved      *time.Time `json:"date_approved"`
	Payer             Payer      `json:"payer"`
}

// Payer identifies who paid
type Payer struct {
	Email string `json:"email"`
}

// PreferenceItem is one line of a checkout session
type PreferenceItem struct {
	Title     string  `json:"title"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Currency  string  `json:"currency_id"`
}

// PreferenceRequest describes a checkout session to create
type PreferenceRequest struct {
	Items               []PreferenceItem `json:"items"`
	ExternalReference   string           `json:"external_reference"`
	NotificationURL     string           `json:"notification_url"`
	StatementDescriptor string           `json:"statement_descriptor"`
}

// Preference is a created checkout session
type Preference struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"init_point"`
}

// TokenGrant is the result of an OAuth refresh exchange
type TokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"` // seconds
}

// API is the outbound surface consumed by the payments and vault services.
// The HTTP client below is the production implementation; tests substitute
// in-memory fakes.
type API interface {
	CreatePreference(ctx context.Context, accessToken string, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error)
	SearchPaymentsByReference(ctx context.Context, accessToken, externalReference string) ([]Payment, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenGrant, error)
}

// Client is an HTTP implementation of the provider API
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient creates a gateway client. clientID/clientSecret are the platform's
// OAuth application credentials used for token refresh.
func NewClient(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
}

// CreatePreference creates a checkout session with the store's access token
func (c *Client) CreatePreference(ctx context.Context, accessToken string, req PreferenceRequest) (*Preference, error) {
	logger := log.With().
		Str("component", "gateway").
		Str("external_reference", req.ExternalReference).
		Logger()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Error().Err(err).Msg("preference request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		logger.Error().Int("status", resp.StatusCode).Msg("preference creation rejected")
		return nil, fmt.Errorf("preference creation failed with status %d", resp.StatusCode)
	}

	var pref Preference
	if err := json.NewDecoder(resp.Body).Decode(&pref); err != nil {
		return nil, err
	}

	logger.Info().Str("preference_id", pref.ID).Msg("checkout preference created")
	return &pref, nil
}

// GetPayment fetches the full payment record for a provider payment id
func (c *Client) GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrPaymentMissing
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment fetch failed with status %d", resp.StatusCode)
	}

	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// SearchPaymentsByReference searches provider payments by external reference.
// No status filter is applied so pending and in-process payments are visible
// to the poll path.
func (c *Client) SearchPaymentsByReference(ctx context.Context, accessToken, externalReference string) ([]Payment, error) {
	searchURL := c.baseURL + "/v1/payments/search?external_reference=" + url.QueryEscape(externalReference)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment search failed with status %d", resp.StatusCode)
	}

	var result struct {
		Results []Payment `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Results, nil
}

// RefreshAccessToken exchanges a refresh token for a rotated token pair
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("refresh_token", refreshToken)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Str("component", "gateway").
			Int("status", resp.StatusCode).
			Msg("token refresh rejected")
		return nil, ErrRefreshFailed
	}

	var grant TokenGrant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, err
	}
	return &grant, nil
}
