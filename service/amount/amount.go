// Package amount converts between atomic ledger units (lamports, raw token
// units) and decimal-shifted display amounts without ever going through
// floating point.
package amount

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxDecimals is the largest mint precision we accept for conversions.
const MaxDecimals = 18

var (
	ErrNegative           = errors.New("amount must not be negative")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrSubAtomicPrecision = errors.New("amount has more precision than one atomic unit")
	ErrDecimalsOutOfRange = errors.New("decimals out of range")
	ErrInvalidPercent     = errors.New("percent must be greater than 0 and at most 100")
)

// Atomic is a non-negative arbitrary-precision integer amount in base units.
// The zero value is a valid zero amount.
type Atomic struct {
	v *big.Int
}

// Zero returns an atomic amount of zero.
func Zero() Atomic {
	return Atomic{}
}

// NewAtomic creates an atomic amount from a uint64 (e.g. an RPC lamport balance).
func NewAtomic(u uint64) Atomic {
	return Atomic{v: new(big.Int).SetUint64(u)}
}

// AtomicFromBig copies b into a new atomic amount. Negative values are rejected.
func AtomicFromBig(b *big.Int) (Atomic, error) {
	if b == nil {
		return Zero(), nil
	}
	if b.Sign() < 0 {
		return Atomic{}, ErrNegative
	}
	return Atomic{v: new(big.Int).Set(b)}, nil
}

// ParseAtomic parses a base-10 integer string such as the "amount" field of
// getTokenAccountBalance or the "balance" field of the bulk balance API.
func ParseAtomic(s string) (Atomic, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Atomic{}, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Atomic{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	if v.Sign() < 0 {
		return Atomic{}, ErrNegative
	}
	return Atomic{v: v}, nil
}

// BigInt returns a copy of the underlying integer.
func (a Atomic) BigInt() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

// Uint64 returns the amount as a uint64 and whether it fit.
func (a Atomic) Uint64() (uint64, bool) {
	if a.v == nil {
		return 0, true
	}
	if !a.v.IsUint64() {
		return 0, false
	}
	return a.v.Uint64(), true
}

// IsZero reports whether the amount is zero.
func (a Atomic) IsZero() bool {
	return a.v == nil || a.v.Sign() == 0
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Atomic) Cmp(b Atomic) int {
	return a.BigInt().Cmp(b.BigInt())
}

// String returns the base-10 representation.
func (a Atomic) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

// MarshalJSON encodes the amount as a JSON string so that no consumer ever
// reads it back as a float.
func (a Atomic) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a bare JSON integer.
func (a *Atomic) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseAtomic(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ValidateDecimals rejects mint precisions we cannot convert safely.
func ValidateDecimals(decimals uint8) error {
	if decimals > MaxDecimals {
		return fmt.Errorf("%w: %d > %d", ErrDecimalsOutOfRange, decimals, MaxDecimals)
	}
	return nil
}

// ToShifted divides an atomic amount by 10^decimals. The conversion is exact:
// the result is the same integer coefficient with a negative exponent.
func ToShifted(a Atomic, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(a.BigInt(), -int32(decimals))
}

// ToAtomic multiplies a shifted amount by 10^decimals. It fails rather than
// truncate when the input carries digits below one atomic unit.
func ToAtomic(shifted decimal.Decimal, decimals uint8) (Atomic, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return Atomic{}, err
	}
	if shifted.IsNegative() {
		return Atomic{}, ErrNegative
	}
	scaled := shifted.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return Atomic{}, fmt.Errorf("%w: %s with %d decimals", ErrSubAtomicPrecision, shifted.String(), decimals)
	}
	return Atomic{v: scaled.BigInt()}, nil
}

// ParseShifted parses a user-facing decimal string ("0.5", "1000").
func ParseShifted(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}

// ShiftedToAtomic parses a decimal string and converts it to atomic units.
func ShiftedToAtomic(s string, decimals uint8) (Atomic, error) {
	d, err := ParseShifted(s)
	if err != nil {
		return Atomic{}, err
	}
	return ToAtomic(d, decimals)
}

// PercentOf returns floor(a * percent / 100) using integer arithmetic only.
// percent must be in (0, 100].
func PercentOf(a Atomic, percent decimal.Decimal) (Atomic, error) {
	if !percent.IsPositive() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return Atomic{}, fmt.Errorf("%w: got %s", ErrInvalidPercent, percent.String())
	}

	// percent = coeff * 10^exp
	coeff := percent.Coefficient()
	exp := percent.Exponent()

	num := new(big.Int).Mul(a.BigInt(), coeff)
	den := big.NewInt(100)
	if exp > 0 {
		num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	} else if exp < 0 {
		den.Mul(den, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil))
	}

	return Atomic{v: num.Quo(num, den)}, nil
}
