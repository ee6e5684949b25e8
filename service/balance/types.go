package balance

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// NativeDecimals is the precision of SOL (lamports per SOL = 10^9).
const NativeDecimals uint8 = 9

// SolanaNetworkID is the Codex network id for Solana mainnet.
const SolanaNetworkID = 1399811149

var (
	// ErrBalanceUnavailable marks a snapshot whose leg could not be fetched.
	ErrBalanceUnavailable = errors.New("balance unavailable")
	// ErrInvalidTokenRef is returned by TokenRef.Validate.
	ErrInvalidTokenRef = errors.New("invalid token reference")
)

// TokenRef identifies a token and carries the decimals used for every
// atomic/shifted conversion of it.
type TokenRef struct {
	Address   string `json:"address"`
	Decimals  uint8  `json:"decimals"`
	NetworkID int    `json:"network_id"`
}

// Validate checks the address is a public key and the decimals are supported.
func (t TokenRef) Validate() error {
	if _, err := t.Mint(); err != nil {
		return err
	}
	if err := amount.ValidateDecimals(t.Decimals); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTokenRef, err)
	}
	return nil
}

// Mint parses the token address.
func (t TokenRef) Mint() (solanago.PublicKey, error) {
	pk, err := solanago.PublicKeyFromBase58(t.Address)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("%w: address %q: %v", ErrInvalidTokenRef, t.Address, err)
	}
	return pk, nil
}

// AssetID is the composite "<mint>:<networkId>" identifier.
func (t TokenRef) AssetID() string {
	return t.Address + ":" + strconv.Itoa(t.NetworkID)
}

// NativeAssetID is the composite identifier of the native asset.
func NativeAssetID(networkID int) string {
	return "native:" + strconv.Itoa(networkID)
}

// Snapshot is a point-in-time balance of one asset. When Err is set the
// amounts are zero and must not be displayed as a real balance.
type Snapshot struct {
	Asset      string          `json:"asset"`
	Decimals   uint8           `json:"decimals"`
	Atomic     amount.Atomic   `json:"atomic"`
	Shifted    decimal.Decimal `json:"shifted"`
	ObservedAt time.Time       `json:"observed_at"`
	Err        error           `json:"-"`
}

// Available reports whether the leg was fetched.
func (s Snapshot) Available() bool {
	return s.Err == nil
}

// Result holds both legs of a reconciliation.
type Result struct {
	Native Snapshot `json:"native"`
	Token  Snapshot `json:"token"`
	// Path is "bulk", "rpc" or "bulk_fallback".
	Path string `json:"path"`
}
