// Package keys derives the trading wallet from a configured secret.
//
// Secret bytes never leave this package except as signatures: they are not
// formatted by String, LogValue or GoString, and no error message includes them.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

var (
	// ErrInvalidKeyMaterial means the secret could not be decoded at all.
	ErrInvalidKeyMaterial = errors.New("invalid key material")
	// ErrInvalidKeyEncoding means the secret decoded to the wrong number of bytes
	// or to bytes that do not form a valid ed25519 keypair.
	ErrInvalidKeyEncoding = errors.New("invalid key encoding")
	// ErrNotSigner is returned when a transaction does not list the wallet as a required signer.
	ErrNotSigner = errors.New("wallet is not a required signer of the transaction")
)

// Encoding identifies how the configured secret is written.
type Encoding string

const (
	Hex    Encoding = "hex"
	Base58 Encoding = "base58"
	// Auto picks Hex or Base58 by inspecting the secret.
	Auto Encoding = "auto"
)

// ParseEncoding maps a configuration value onto an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case Hex:
		return Hex, nil
	case Base58, "b58":
		return Base58, nil
	case Auto, "":
		return Auto, nil
	default:
		return "", fmt.Errorf("%w: unknown encoding %q (expected hex, base58 or auto)", ErrInvalidKeyEncoding, s)
	}
}

// DetectEncoding guesses the encoding of a secret. Hex is preferred when the
// string only contains hex digits and has an even length.
func DetectEncoding(secret string) Encoding {
	s := strings.TrimPrefix(strings.TrimSpace(secret), "0x")
	if s == "" || len(s)%2 != 0 {
		return Base58
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return Base58
		}
	}
	return Hex
}

// Wallet holds the trading keypair for the lifetime of the process.
// It is safe for concurrent use: nothing mutates it after CreateKeypair.
type Wallet struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// CreateKeypair decodes secret and builds the wallet.
//
// A 64-byte secret is a full ed25519 private key (seed followed by public key)
// as produced by solana-keygen; the embedded public key must match the seed.
// A 32-byte secret is treated as the seed alone.
func CreateKeypair(secret string, enc Encoding) (*Wallet, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidKeyMaterial)
	}
	if enc == Auto || enc == "" {
		enc = DetectEncoding(secret)
	}

	raw, err := decode(secret, enc)
	if err != nil {
		return nil, err
	}
	defer zero(raw)

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
			zero(derived)
			return nil, fmt.Errorf("%w: embedded public key does not match seed", ErrInvalidKeyEncoding)
		}
		priv = derived
	default:
		return nil, fmt.Errorf("%w: decoded %d bytes from %s, expected %d or %d",
			ErrInvalidKeyEncoding, len(raw), enc, ed25519.SeedSize, ed25519.PrivateKeySize)
	}

	key := solana.PrivateKey(priv)
	if err := key.Validate(); err != nil {
		zero(priv)
		// solana-go's message only mentions sizes and curve membership.
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}

	return &Wallet{key: key, pub: key.PublicKey()}, nil
}

func decode(secret string, enc Encoding) ([]byte, error) {
	switch enc {
	case Hex:
		raw, err := hex.DecodeString(strings.TrimPrefix(secret, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: not valid hex", ErrInvalidKeyMaterial)
		}
		return raw, nil
	case Base58:
		raw, err := base58.Decode(secret)
		if err != nil {
			return nil, fmt.Errorf("%w: not valid base58", ErrInvalidKeyMaterial)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrInvalidKeyMaterial, enc)
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// PublicKey returns the wallet address.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.pub
}

// SignTransaction adds the wallet's signature to tx in place. Signatures from
// other signers already present on tx are preserved.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	if tx == nil {
		return errors.New("nil transaction")
	}
	if !tx.IsSigner(w.pub) {
		return fmt.Errorf("%w: %s", ErrNotSigner, w.pub)
	}
	_, err := tx.PartialSign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(w.pub) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

// String implements fmt.Stringer without exposing the secret.
func (w *Wallet) String() string {
	return "Wallet(" + w.pub.String() + ")"
}

// GoString keeps %#v from dumping the key bytes.
func (w *Wallet) GoString() string {
	return w.String()
}

// LogValue implements slog.LogValuer.
func (w *Wallet) LogValue() slog.Value {
	return slog.GroupValue(slog.String("public_key", w.pub.String()))
}
