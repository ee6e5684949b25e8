// Package jupiter requests routed swap transactions from the Jupiter Ultra API.
package jupiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
)

// DefaultURL is the keyless Ultra endpoint.
const DefaultURL = "https://lite-api.jup.ag/ultra/v1"

// ErrUnavailable wraps transport failures, 429s and 5xx responses.
var ErrUnavailable = errors.New("jupiter api unavailable")

// APIError is a non-retryable rejection of the order request (bad mint,
// amount too small, no route).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("jupiter: status %d: %s", e.StatusCode, e.Message)
}

// OrderRequest is the input to GetOrder. Amount is the atomic input amount as
// a base-10 integer string.
type OrderRequest struct {
	InputMint  string
	OutputMint string
	Amount     string
	Taker      string
}

// Order is the Ultra /order response. Transaction is a base64 wire
// transaction, or nil when no route could be built for the taker.
type Order struct {
	Transaction  *string `json:"transaction"`
	RequestID    string  `json:"requestId"`
	InputMint    string  `json:"inputMint"`
	OutputMint   string  `json:"outputMint"`
	InAmount     string  `json:"inAmount"`
	OutAmount    string  `json:"outAmount"`
	SlippageBps  int     `json:"slippageBps"`
	Router       string  `json:"router"`
	ErrorCode    int     `json:"errorCode,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

// Client is the HTTP client for the Ultra API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a Jupiter client. apiKey is optional and only needed for
// the keyed api.jup.ag host.
func NewClient(baseURL, apiKey string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// GetOrder asks the aggregator for a swap transaction signed by nobody yet
// and payable by req.Taker.
func (c *Client) GetOrder(ctx context.Context, req OrderRequest) (order *Order, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordExternalCall("jupiter", "order", status, time.Since(start).Seconds())
	}()

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", req.Amount)
	if req.Taker != "" {
		q.Set("taker", req.Taker)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/order?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var out Order
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.DebugContext(ctx, "order received",
		"request_id", out.RequestID,
		"input_mint", req.InputMint,
		"output_mint", req.OutputMint,
		"in_amount", out.InAmount,
		"out_amount", out.OutAmount,
		"has_transaction", out.Transaction != nil && *out.Transaction != "",
	)
	return &out, nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"errorMessage"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			msg = payload.Error
		} else if payload.ErrorMessage != "" {
			msg = payload.ErrorMessage
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
