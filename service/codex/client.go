// Package codex is a small GraphQL client for the Codex token-data API.
// It covers the three reads the trading terminal needs: token metadata,
// wallet balances and the network list.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
)

// DefaultURL is the public Codex GraphQL endpoint.
const DefaultURL = "https://graph.codex.io/graphql"

// maxBalancePages bounds cursor pagination for very large wallets.
const maxBalancePages = 20

var (
	// ErrAPIKeyMissing is returned by every call when no API key is configured.
	ErrAPIKeyMissing = errors.New("codex api key is not configured")
	// ErrUnavailable wraps transport errors and 5xx/429 responses.
	ErrUnavailable = errors.New("codex api unavailable")
	// ErrNotFound is returned when a token query comes back null.
	ErrNotFound = errors.New("token not found")
)

// GraphQLError is an error reported in the "errors" array of a response.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "codex graphql error: " + strings.Join(e.Messages, "; ")
}

// Token is the metadata the trading panel needs about a token.
type Token struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Decimals  int    `json:"decimals"`
	NetworkID int    `json:"networkId"`
}

// Network is one chain supported by Codex.
type Network struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// BalancesInput mirrors the Codex BalancesInput type.
type BalancesInput struct {
	Networks      []int  `json:"networks"`
	WalletAddress string `json:"walletAddress"`
	IncludeNative bool   `json:"includeNative"`
	Cursor        string `json:"cursor,omitempty"`
}

// BalanceItem is a single wallet holding. TokenID is "<mint>:<networkId>" or
// "native:<networkId>". Balance is the atomic amount as a decimal string.
// ShiftedBalance is a float and must not be used for arithmetic.
type BalanceItem struct {
	TokenID        string  `json:"tokenId"`
	Balance        string  `json:"balance"`
	ShiftedBalance float64 `json:"shiftedBalance"`
}

// Client talks to the Codex GraphQL API.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a Codex client. An empty apiKey is allowed: the client
// is still constructed, but every call fails with ErrAPIKeyMissing.
func NewClient(url, apiKey string, httpClient *http.Client, m *metrics.Metrics, logger *slog.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

const tokenQuery = `query Token($input: TokenInput!) {
  token(input: $input) { address name symbol decimals networkId }
}`

// Token fetches metadata for address on networkID.
func (c *Client) Token(ctx context.Context, address string, networkID int) (*Token, error) {
	var out struct {
		Token *Token `json:"token"`
	}
	vars := map[string]any{"input": map[string]any{"address": address, "networkId": networkID}}
	if err := c.do(ctx, "token", tokenQuery, vars, &out); err != nil {
		return nil, err
	}
	if out.Token == nil {
		return nil, fmt.Errorf("%w: %s on network %d", ErrNotFound, address, networkID)
	}
	return out.Token, nil
}

const balancesQuery = `query Balances($input: BalancesInput!) {
  balances(input: $input) { cursor items { tokenId balance shiftedBalance } }
}`

// Balances returns every holding of the wallet on the requested networks,
// following the cursor until the result set is exhausted. A wallet that needs
// more than maxBalancePages pages fails with ErrUnavailable rather than
// returning a partial list.
func (c *Client) Balances(ctx context.Context, input BalancesInput) ([]BalanceItem, error) {
	var items []BalanceItem
	for page := 0; page < maxBalancePages; page++ {
		var out struct {
			Balances struct {
				Cursor *string       `json:"cursor"`
				Items  []BalanceItem `json:"items"`
			} `json:"balances"`
		}
		if err := c.do(ctx, "balances", balancesQuery, map[string]any{"input": input}, &out); err != nil {
			return nil, err
		}
		items = append(items, out.Balances.Items...)
		if out.Balances.Cursor == nil || *out.Balances.Cursor == "" {
			return items, nil
		}
		input.Cursor = *out.Balances.Cursor
	}
	c.logger.WarnContext(ctx, "balances pagination truncated", "wallet", input.WalletAddress, "pages", maxBalancePages)
	return nil, fmt.Errorf("%w: balances exceed %d pages", ErrUnavailable, maxBalancePages)
}

const networksQuery = `query { getNetworks { id name } }`

// Networks lists the networks Codex supports.
func (c *Client) Networks(ctx context.Context) ([]Network, error) {
	var out struct {
		GetNetworks []*Network `json:"getNetworks"`
	}
	if err := c.do(ctx, "getNetworks", networksQuery, nil, &out); err != nil {
		return nil, err
	}
	networks := make([]Network, 0, len(out.GetNetworks))
	for _, n := range out.GetNetworks {
		if n != nil {
			networks = append(networks, *n)
		}
	}
	return networks, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, op, query string, vars map[string]any, out any) (err error) {
	if !c.Configured() {
		return ErrAPIKeyMissing
	}

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		c.metrics.RecordExternalCall("codex", op, status, time.Since(start).Seconds())
	}()

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("codex %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var gql graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(gql.Errors) > 0 {
		msgs := make([]string, len(gql.Errors))
		for i, e := range gql.Errors {
			msgs[i] = e.Message
		}
		return &GraphQLError{Messages: msgs}
	}
	if len(gql.Data) == 0 || string(gql.Data) == "null" {
		return fmt.Errorf("codex %s: empty data", op)
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", op, err)
	}

	c.logger.DebugContext(ctx, "codex query complete", "operation", op, "duration", time.Since(start))
	return nil
}
