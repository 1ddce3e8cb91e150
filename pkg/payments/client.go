package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://pay.mangetout.dev/v1"
	idempotencyHeader          = "Idempotency-Key"
	requestBodyReadLimit int64 = 1024
)

var (
	errAPIKeyRequired = errors.New("payments api key is required")
)

// Client wraps the payment gateway used for captures, payouts and refunds.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured gateway base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the gateway client given an API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	trimmedKey := strings.TrimSpace(apiKey)
	if trimmedKey == "" {
		return nil, errAPIKeyRequired
	}

	client := &Client{
		apiKey:     trimmedKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// Capture is the gateway's view of a captured customer payment.
type Capture struct {
	Ref      string          `json:"ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Captured bool            `json:"captured"`
}

// Transfer is the gateway's receipt for a payout transfer.
type Transfer struct {
	Ref      string          `json:"ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Refund is the gateway's receipt for a refund against a capture.
type Refund struct {
	Ref    string          `json:"ref"`
	Amount decimal.Decimal `json:"amount"`
}

// TransferRequest moves funds to a restaurant or courier account.
type TransferRequest struct {
	Account        string          `json:"account"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"-"`
}

// RefundRequest refunds part or all of a capture.
type RefundRequest struct {
	CaptureRef     string          `json:"capture_ref"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"-"`
}

// GetCapture looks up a capture by its gateway reference.
func (c *Client) GetCapture(ctx context.Context, ref string) (*Capture, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments client not configured")
	}
	if strings.TrimSpace(ref) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture ref is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("captures/"+ref), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build capture request")
	}
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute capture request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "capture not found")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, "capture lookup failed")
	}

	var capture Capture
	if err := json.NewDecoder(resp.Body).Decode(&capture); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode capture response")
	}
	return &capture, nil
}

// CreateTransfer moves a settled batch's net amount to a payee account. The
// idempotency key makes retried settlement runs safe against double payouts.
func (c *Client) CreateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments client not configured")
	}
	if strings.TrimSpace(req.Account) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer account is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer amount must be positive")
	}

	var transfer Transfer
	if err := c.postJSON(ctx, "transfers", req, req.IdempotencyKey, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// CreateRefund executes a refund against a capture.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments client not configured")
	}
	if strings.TrimSpace(req.CaptureRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture ref is required")
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	var refund Refund
	if err := c.postJSON(ctx, "refunds", req, req.IdempotencyKey, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, idempotencyKey string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal gateway request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.buildURL(path), bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)
	if trimmed := strings.TrimSpace(idempotencyKey); trimmed != "" {
		httpReq.Header.Set(idempotencyHeader, trimmed)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.statusError(resp, "gateway request failed")
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *Client) statusError(resp *http.Response, message string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, requestBodyReadLimit))
	return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), message)
}

func (c *Client) buildURL(path string) string {
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
