package payments

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("test-key", WithBaseURL("http://pay.test/v1"), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestClientGetCapture(t *testing.T) {
	respBody := `{"ref":"cap_123","amount":"42.50","currency":"EUR","captured":true}`

	var capturedURL string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		if req.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("authorization header missing")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	capture, err := client.GetCapture(context.Background(), "cap_123")
	if err != nil {
		t.Fatalf("get capture: %v", err)
	}
	if capturedURL != "http://pay.test/v1/captures/cap_123" {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if !capture.Captured || !capture.Amount.Equal(decimal.RequireFromString("42.50")) {
		t.Fatalf("unexpected capture %+v", capture)
	}
}

func TestClientCreateTransferSendsIdempotencyKey(t *testing.T) {
	respBody := `{"ref":"tr_456","amount":"120.00","currency":"EUR"}`

	var capturedKey string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedKey = req.Header.Get("Idempotency-Key")
		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	transfer, err := client.CreateTransfer(context.Background(), TransferRequest{
		Account:        "acct_resto_1",
		Amount:         decimal.RequireFromString("120.00"),
		IdempotencyKey: "batch-abc",
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if capturedKey != "batch-abc" {
		t.Fatalf("idempotency key not sent, got %q", capturedKey)
	}
	if transfer.Ref != "tr_456" {
		t.Fatalf("unexpected transfer %+v", transfer)
	}
}

func TestClientCreateTransferRejectsNonPositiveAmount(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatalf("no request expected")
		return nil, nil
	})

	if _, err := client.CreateTransfer(context.Background(), TransferRequest{
		Account: "acct_resto_1",
		Amount:  decimal.Zero,
	}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestClientCreateRefund(t *testing.T) {
	respBody := `{"ref":"re_789","amount":"18.30"}`

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "/refunds") {
			t.Fatalf("unexpected path %q", req.URL.Path)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	refund, err := client.CreateRefund(context.Background(), RefundRequest{
		CaptureRef:     "cap_123",
		Amount:         decimal.RequireFromString("18.30"),
		IdempotencyKey: "refund-xyz",
	})
	if err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if refund.Ref != "re_789" {
		t.Fatalf("unexpected refund %+v", refund)
	}
}

func TestClientGatewayErrorSurfacesStatus(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(strings.NewReader(`{"error":"upstream down"}`)),
			Header:     http.Header{},
		}, nil
	})

	_, err := client.CreateTransfer(context.Background(), TransferRequest{
		Account: "acct_resto_1",
		Amount:  decimal.RequireFromString("10.00"),
	})
	if err == nil {
		t.Fatalf("expected gateway error")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("status code missing from error: %v", err)
	}
}
