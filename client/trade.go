package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Receipt describes what happened to one buy or sell.
type Receipt struct {
	TradeID      string `json:"trade_id,omitempty"`
	Direction    string `json:"direction"`
	Amount       string `json:"amount"`
	InAmount     string `json:"in_amount,omitempty"`
	OutAmount    string `json:"out_amount,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Signature    string `json:"signature,omitempty"`
	State        string `json:"state"` // built, signed, submitted, confirmed, failed, timed_out
	LedgerStatus string `json:"ledger_status,omitempty"`
	Slot         uint64 `json:"slot,omitempty"`
	LedgerError  string `json:"ledger_error,omitempty"`
	Message      string `json:"message"`
}

// Trade is a journaled trade.
type Trade struct {
	ID              string    `json:"id"`
	Wallet          string    `json:"wallet"`
	Direction       string    `json:"direction"`
	NetworkID       int       `json:"network_id"`
	InputMint       string    `json:"input_mint"`
	OutputMint      string    `json:"output_mint"`
	Amount          string    `json:"amount"`
	RequestID       string    `json:"request_id"`
	Signature       *string   `json:"signature,omitempty"`
	State           string    `json:"state"`
	LedgerStatus    *string   `json:"ledger_status,omitempty"`
	Slot            *int64    `json:"slot,omitempty"`
	Error           *string   `json:"error,omitempty"`
	ResolveAttempts int       `json:"resolve_attempts"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// StatusReport is the re-queried state of a signature.
type StatusReport struct {
	Signature    string `json:"signature"`
	LedgerStatus string `json:"ledger_status"`
	Slot         uint64 `json:"slot,omitempty"`
	LedgerError  string `json:"ledger_error,omitempty"`
	Trade        *Trade `json:"trade,omitempty"`
	Message      string `json:"message"`
}

// TokenRef identifies a token and its decimals.
type TokenRef struct {
	Address   string `json:"address"`
	Decimals  uint8  `json:"decimals"`
	NetworkID int    `json:"network_id"`
}

// Token is a resolved token.
type Token struct {
	Address   string `json:"address"`
	NetworkID int    `json:"network_id"`
	Decimals  uint8  `json:"decimals"`
	Name      string `json:"name,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Source    string `json:"source"` // codex or chain
}

// Network is one chain known to the token-data API.
type Network struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// NetworkList is the response of the networks endpoint.
type NetworkList struct {
	Networks []Network `json:"networks"`
	Count    int       `json:"count"`
}

// Leg is one side of a balance reading. Atomic and Shifted are empty when
// Available is false.
type Leg struct {
	Asset      string    `json:"asset"`
	Decimals   uint8     `json:"decimals"`
	Available  bool      `json:"available"`
	Atomic     string    `json:"atomic,omitempty"`
	Shifted    string    `json:"shifted,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	Error      string    `json:"error,omitempty"`
}

// Balances holds the native and token legs of the wallet.
type Balances struct {
	Token  TokenRef `json:"token"`
	Native Leg      `json:"native"`
	Held   Leg      `json:"held"`
	Path   string   `json:"path"`
}

// WalletInfo reports whether the server can trade.
type WalletInfo struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address,omitempty"`
	Message string `json:"message,omitempty"`
}

// TradeList is a page of journaled trades.
type TradeList struct {
	Wallet string   `json:"wallet"`
	Trades []*Trade `json:"trades"`
	Count  int      `json:"count"`
	Limit  int      `json:"limit"`
}

// TradeEvent is one state change streamed by the server.
type TradeEvent struct {
	TradeID      string    `json:"trade_id"`
	Wallet       string    `json:"wallet"`
	Direction    string    `json:"direction"`
	NetworkID    int       `json:"network_id"`
	InputMint    string    `json:"input_mint"`
	OutputMint   string    `json:"output_mint"`
	Amount       string    `json:"amount"`
	Signature    string    `json:"signature,omitempty"`
	State        string    `json:"state"`
	LedgerStatus string    `json:"ledger_status,omitempty"`
	Slot         int64     `json:"slot,omitempty"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	PublishedAt  time.Time `json:"published_at"`
}

// Terminal reports whether the event ends the trade's lifecycle.
func (e *TradeEvent) Terminal() bool {
	switch e.State {
	case "confirmed", "failed", "timed_out":
		return true
	}
	return false
}

// APIError is a non-success response. Receipt is set when a trade got far
// enough to have one.
type APIError struct {
	StatusCode int
	Message    string
	Receipt    *Receipt
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the trading panel API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new trading panel client. Trades block until
// confirmation, so the default timeout is generous.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Health checks the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// Wallet reports whether trading is enabled and for which address.
func (c *Client) Wallet(ctx context.Context) (*WalletInfo, error) {
	var info WalletInfo
	if err := c.get(ctx, "/api/v1/wallet", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Balances reads both balance legs for token. decimals may be nil to let the
// server look them up.
func (c *Client) Balances(ctx context.Context, network int, token string, decimals *uint8) (*Balances, error) {
	q := url.Values{}
	q.Set("network", strconv.Itoa(network))
	q.Set("token", token)
	if decimals != nil {
		q.Set("decimals", strconv.Itoa(int(*decimals)))
	}

	var b Balances
	if err := c.get(ctx, "/api/v1/balances", q, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Token resolves a token address.
func (c *Client) Token(ctx context.Context, network int, address string) (*Token, error) {
	path := fmt.Sprintf("/api/v1/tokens/%d/%s", network, url.PathEscape(address))
	var tok Token
	if err := c.get(ctx, path, nil, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Networks lists the networks the server's token-data API supports.
func (c *Client) Networks(ctx context.Context) (*NetworkList, error) {
	var list NetworkList
	if err := c.get(ctx, "/api/v1/networks", nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Buy spends amount SOL (a decimal string) on token.
func (c *Client) Buy(ctx context.Context, network int, token, amount string) (*Receipt, error) {
	return c.trade(ctx, map[string]any{
		"direction": "buy",
		"network":   network,
		"token":     token,
		"amount":    amount,
	})
}

// Sell sells percent (in (0, 100]) of the wallet's holdings of token.
func (c *Client) Sell(ctx context.Context, network int, token, percent string) (*Receipt, error) {
	return c.trade(ctx, map[string]any{
		"direction": "sell",
		"network":   network,
		"token":     token,
		"percent":   percent,
	})
}

// trade posts a trade. A 202 means the trade was submitted but its
// confirmation was abandoned; the receipt is returned together with an
// *APIError so callers can keep the signature.
func (c *Client) trade(ctx context.Context, reqBody map[string]any) (*Receipt, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/trades", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := c.parseErrorResponse(resp)
		var e *APIError
		if errors.As(apiErr, &e) && e.Receipt != nil {
			return e.Receipt, apiErr
		}
		return nil, apiErr
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("trade finished", "direction", reqBody["direction"], "state", receipt.State, "signature", receipt.Signature)
	return &receipt, nil
}

// Status re-queries a signature.
func (c *Client) Status(ctx context.Context, signature string) (*StatusReport, error) {
	var report StatusReport
	if err := c.get(ctx, "/api/v1/trades/"+url.PathEscape(signature), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListTrades returns the most recent journaled trades of the server's wallet.
func (c *Client) ListTrades(ctx context.Context, limit int) (*TradeList, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var list TradeList
	if err := c.get(ctx, "/api/v1/trades", q, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Await blocks until the trade with signature reaches a terminal state, as
// reported by the server's event stream, or ctx is done.
func (c *Client) Await(ctx context.Context, wallet, signature string) (*TradeEvent, error) {
	var found *TradeEvent
	err := c.Stream(ctx, wallet, func(e *TradeEvent) bool {
		if e.Signature == signature && e.Terminal() {
			found = e
			return false
		}
		return true
	})
	if found != nil {
		return found, nil
	}
	if err == nil {
		err = fmt.Errorf("stream ended before %s reached a terminal state", signature)
	}
	return nil, err
}

// Stream reads trade events until handle returns false, the server closes the
// stream, or ctx is done. wallet may be empty for every wallet.
func (c *Client) Stream(ctx context.Context, wallet string, handle func(*TradeEvent) bool) error {
	u := c.baseURL + "/api/v1/stream/trades"
	if wallet != "" {
		u += "?wallet=" + url.QueryEscape(wallet)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The shared client's timeout would cut the stream.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var eventType string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			eventType = ""
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch eventType {
			case "trade", "":
				var event TradeEvent
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					c.logger.Warn("failed to decode trade event", "error", err)
					continue
				}
				if !handle(&event) {
					return nil
				}
			case "error":
				return fmt.Errorf("stream error: %s", data)
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return ctx.Err()
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error   string   `json:"error"`
		Receipt *Receipt `json:"receipt,omitempty"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Receipt: errResp.Receipt}
}
