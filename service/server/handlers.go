package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	"github.com/ethanlolomg/mini-trading-terminal/service/balance"
	"github.com/ethanlolomg/mini-trading-terminal/service/codex"
	"github.com/ethanlolomg/mini-trading-terminal/service/db"
	"github.com/ethanlolomg/mini-trading-terminal/service/executor"
	"github.com/ethanlolomg/mini-trading-terminal/service/solana"
	"github.com/ethanlolomg/mini-trading-terminal/service/swap"
	"github.com/ethanlolomg/mini-trading-terminal/service/trade"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 16 // trade requests are tiny
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	maxSignatureLength = 100     // signatures are 88 chars
	defaultListLimit   = 50
	maxListLimit       = 500
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// handleGetWallet reports whether trading is enabled and for which wallet.
// GET /api/v1/wallet
func handleGetWallet(svc TradeService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pk, err := svc.Wallet()
		if err != nil {
			writeJSON(w, map[string]any{
				"enabled": false,
				"message": trade.UserMessage(err),
			}, http.StatusOK)
			return
		}
		writeJSON(w, map[string]any{
			"enabled": true,
			"address": pk.String(),
		}, http.StatusOK)
	})
}

// handleGetBalances returns both balance legs of the configured wallet.
// GET /api/v1/balances?network={networkId}&token={mint}[&decimals={n}]
func handleGetBalances(svc TradeService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		token, ok := resolveToken(w, r, svc, logger, query.Get("network"), query.Get("token"), query.Get("decimals"))
		if !ok {
			return
		}

		res, err := svc.Balances(r.Context(), token)
		if err != nil {
			writeTradeError(w, logger, "balances", err, nil)
			return
		}

		writeJSON(w, balancesToResponse(token, res), http.StatusOK)
	})
}

// createTradeRequest is the body of POST /api/v1/trades. Buys carry an
// amount of SOL, sells carry a percentage of holdings.
type createTradeRequest struct {
	Direction string `json:"direction"`
	Token     string `json:"token"`
	Network   int    `json:"network"`
	Decimals  *uint8 `json:"decimals,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Percent   string `json:"percent,omitempty"`
}

// handleCreateTrade runs one buy or sell to a terminal state.
// POST /api/v1/trades
//
// 200 carries a receipt in a terminal state (confirmed, failed or timed_out).
// 202 carries a submitted receipt whose confirmation was abandoned.
func handleCreateTrade(svc TradeService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createTradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Debug("failed to decode trade request", "error", err)
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
			return
		}

		dir := swap.Direction(strings.ToLower(strings.TrimSpace(req.Direction)))
		switch dir {
		case swap.Buy:
			if req.Amount == "" {
				writeError(w, "amount is required for a buy", http.StatusBadRequest)
				return
			}
		case swap.Sell:
			if req.Percent == "" {
				writeError(w, "percent is required for a sell", http.StatusBadRequest)
				return
			}
		default:
			writeError(w, "invalid direction: must be 'buy' or 'sell'", http.StatusBadRequest)
			return
		}

		decimals := ""
		if req.Decimals != nil {
			decimals = strconv.Itoa(int(*req.Decimals))
		}
		token, ok := resolveToken(w, r, svc, logger, strconv.Itoa(req.Network), req.Token, decimals)
		if !ok {
			return
		}

		var (
			receipt *trade.Receipt
			err     error
		)
		if dir == swap.Buy {
			receipt, err = svc.Buy(r.Context(), token, req.Amount)
		} else {
			receipt, err = svc.Sell(r.Context(), token, req.Percent)
		}
		if err != nil {
			writeTradeError(w, logger, "trade", err, receipt)
			return
		}

		logger.Info("trade completed",
			"direction", dir,
			"token", token.Address,
			"state", receipt.State,
			"signature", receipt.Signature,
		)
		writeJSON(w, receipt, http.StatusOK)
	})
}

// handleListTrades lists journaled trades of the configured wallet.
// GET /api/v1/trades?limit=N
func handleListTrades(svc TradeService, journal TradeLister, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if journal == nil {
			writeError(w, "trade journal is not configured", http.StatusServiceUnavailable)
			return
		}
		pk, err := svc.Wallet()
		if err != nil {
			writeTradeError(w, logger, "list trades", err, nil)
			return
		}

		limit := int32(defaultListLimit)
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			parsed, err := strconv.Atoi(limitStr)
			if err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsed > maxListLimit {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
				return
			}
			limit = int32(parsed)
		}

		trades, err := journal.ListTradesByWallet(r.Context(), pk.String(), limit)
		if err != nil {
			logger.Error("failed to list trades", "wallet", pk.String(), "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if trades == nil {
			trades = []*db.Trade{}
		}

		writeJSON(w, map[string]any{
			"wallet": pk.String(),
			"trades": trades,
			"count":  len(trades),
			"limit":  limit,
		}, http.StatusOK)
	})
}

// handleGetTradeStatus re-queries a signature. It never resubmits.
// GET /api/v1/trades/{signature}
func handleGetTradeStatus(svc TradeService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.PathValue("signature")
		if err := validateBase58("signature", signature, maxSignatureLength); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		report, err := svc.Status(r.Context(), signature)
		if err != nil {
			writeTradeError(w, logger, "status", err, nil)
			return
		}
		writeJSON(w, report, http.StatusOK)
	})
}

// tokenResponse is the JSON response format for a token lookup.
type tokenResponse struct {
	Address   string `json:"address"`
	NetworkID int    `json:"network_id"`
	Decimals  uint8  `json:"decimals"`
	Name      string `json:"name,omitempty"`
	Symbol    string `json:"symbol,omitempty"`
	Source    string `json:"source"`
}

// handleGetToken resolves a token address to its TokenRef.
// GET /api/v1/tokens/{network}/{address}
func handleGetToken(svc TradeService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		network, err := parseNetwork(r.PathValue("network"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ref, tok, err := svc.Token(r.Context(), network, address)
		if err != nil {
			if errors.Is(err, solana.ErrInvalidToken) {
				writeError(w, trade.UserMessage(err), http.StatusNotFound)
				return
			}
			writeTradeError(w, logger, "token", err, nil)
			return
		}

		resp := tokenResponse{
			Address:   ref.Address,
			NetworkID: ref.NetworkID,
			Decimals:  ref.Decimals,
			Source:    "chain",
		}
		if tok != nil {
			resp.Name = tok.Name
			resp.Symbol = tok.Symbol
			resp.Source = "codex"
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleListNetworks lists the networks known to the token-data API.
// GET /api/v1/networks
func handleListNetworks(svc TradeService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		networks, err := svc.Networks(r.Context())
		if err != nil {
			writeTradeError(w, logger, "networks", err, nil)
			return
		}
		writeJSON(w, map[string]any{
			"networks": networks,
			"count":    len(networks),
		}, http.StatusOK)
	})
}

// resolveToken builds a TokenRef from request parameters. Decimals, when not
// supplied, are looked up. It writes the error response and returns false on
// failure.
func resolveToken(w http.ResponseWriter, r *http.Request, svc TradeService, logger *slog.Logger, networkStr, address, decimalsStr string) (balance.TokenRef, bool) {
	network, err := parseNetwork(networkStr)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return balance.TokenRef{}, false
	}
	if err := validateAddress(address); err != nil {
		writeError(w, "token: "+err.Error(), http.StatusBadRequest)
		return balance.TokenRef{}, false
	}

	if decimalsStr != "" {
		d, err := strconv.ParseUint(decimalsStr, 10, 8)
		if err != nil || d > amount.MaxDecimals {
			writeError(w, fmt.Sprintf("invalid decimals: must be an integer between 0 and %d", amount.MaxDecimals), http.StatusBadRequest)
			return balance.TokenRef{}, false
		}
		return balance.TokenRef{Address: address, Decimals: uint8(d), NetworkID: network}, true
	}

	ref, _, err := svc.Token(r.Context(), network, address)
	if err != nil {
		writeTradeError(w, logger, "token lookup", err, nil)
		return balance.TokenRef{}, false
	}
	return ref, true
}

// legResponse is one balance leg. A leg that could not be fetched has
// Available false and no amounts.
type legResponse struct {
	Asset      string           `json:"asset"`
	Decimals   uint8            `json:"decimals"`
	Available  bool             `json:"available"`
	Atomic     *amount.Atomic   `json:"atomic,omitempty"`
	Shifted    *decimal.Decimal `json:"shifted,omitempty"`
	ObservedAt time.Time        `json:"observed_at"`
	Error      string           `json:"error,omitempty"`
}

type balancesResponse struct {
	Token  balance.TokenRef `json:"token"`
	Native legResponse      `json:"native"`
	Held   legResponse      `json:"held"`
	Path   string           `json:"path"`
}

func balancesToResponse(token balance.TokenRef, res balance.Result) balancesResponse {
	return balancesResponse{
		Token:  token,
		Native: legToResponse(res.Native),
		Held:   legToResponse(res.Token),
		Path:   res.Path,
	}
}

func legToResponse(s balance.Snapshot) legResponse {
	leg := legResponse{
		Asset:      s.Asset,
		Decimals:   s.Decimals,
		Available:  s.Available(),
		ObservedAt: s.ObservedAt,
	}
	if !leg.Available {
		leg.Error = trade.UserMessage(s.Err)
		return leg
	}
	atomic, shifted := s.Atomic, s.Shifted
	leg.Atomic = &atomic
	leg.Shifted = &shifted
	return leg
}

// errorStatus maps an error from the trade layer to an HTTP status.
func errorStatus(err error) int {
	var rejected *solana.SubmissionRejectedError
	switch {
	case errors.Is(err, executor.ErrUnconfirmed):
		return http.StatusAccepted
	case errors.Is(err, trade.ErrConfigurationMissing), errors.Is(err, codex.ErrAPIKeyMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, trade.ErrInvalidAmount),
		errors.Is(err, trade.ErrInvalidSignature),
		errors.Is(err, balance.ErrInvalidTokenRef):
		return http.StatusBadRequest
	case errors.Is(err, trade.ErrNoHoldings),
		errors.Is(err, solana.ErrInvalidToken),
		errors.Is(err, swap.ErrNoRouteFound),
		errors.Is(err, swap.ErrInvalidOrder),
		errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, solana.ErrRPCUnavailable),
		errors.Is(err, balance.ErrBalanceUnavailable),
		errors.Is(err, swap.ErrAggregatorUnavailable),
		errors.Is(err, swap.ErrMalformedAggregatorResponse),
		errors.Is(err, codex.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeTradeError writes the user message for err. A receipt, when the trade
// got far enough to have one, is included.
func writeTradeError(w http.ResponseWriter, logger *slog.Logger, op string, err error, receipt *trade.Receipt) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", "error", err)
	} else {
		logger.Debug(op+" rejected", "status", status, "error", err)
	}

	body := map[string]any{"error": trade.UserMessage(err)}
	if receipt != nil {
		body["receipt"] = receipt
	}
	writeJSON(w, body, status)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// parseNetwork parses a Codex network id.
func parseNetwork(network string) (int, error) {
	if network == "" {
		return 0, errorf("network is required")
	}
	id, err := strconv.Atoi(network)
	if err != nil || id <= 0 {
		return 0, errorf("invalid network: must be a positive network id")
	}
	return id, nil
}

// validateAddress validates a token or wallet address.
func validateAddress(address string) error {
	return validateBase58("address", address, maxAddressLength)
}

func validateBase58(field, value string, maxLen int) error {
	if value == "" {
		return errorf("%s is required", field)
	}

	if len(value) > maxLen {
		return errorf("%s too long: maximum length is %d characters", field, maxLen)
	}

	for _, r := range value {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in %s: control characters not allowed", field)
		}
	}

	if !validAddressRegex.MatchString(value) {
		return errorf("invalid %s format: must contain only valid base58 characters", field)
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
