package solana

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Status is the confirmation state of a submitted transaction as we know it.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusConfirmed Status = "confirmed"
	StatusFinalized Status = "finalized"
	// StatusFailed means the ledger executed the transaction and it errored.
	StatusFailed Status = "failed"
	// StatusTimedOut means the outcome is unknown; re-query by signature, never resubmit.
	StatusTimedOut Status = "timed_out"
)

// Landed reports whether the transaction is on chain without error at some commitment.
func (s Status) Landed() bool {
	return s == StatusProcessed || s == StatusConfirmed || s == StatusFinalized
}

func (s Status) rank() int {
	switch s {
	case StatusProcessed:
		return 1
	case StatusConfirmed:
		return 2
	case StatusFinalized:
		return 3
	default:
		return 0
	}
}

// Reaches reports whether s satisfies the requested commitment.
func (s Status) Reaches(commitment rpc.CommitmentType) bool {
	want := Status(commitment).rank()
	if want == 0 {
		want = StatusConfirmed.rank()
	}
	return s.rank() >= want
}

// ParseCommitment validates a commitment level from configuration.
func ParseCommitment(s string) (rpc.CommitmentType, error) {
	switch c := rpc.CommitmentType(strings.ToLower(strings.TrimSpace(s))); c {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return c, nil
	default:
		return "", fmt.Errorf("invalid commitment %q (expected processed, confirmed or finalized)", s)
	}
}

// SubmissionResult is the observed state of a submitted transaction.
type SubmissionResult struct {
	Signature solana.Signature
	Status    Status
	Slot      uint64
	// Err holds the ledger's execution error when Status is StatusFailed.
	Err string
}

// MintInfo describes a token mint as read from chain.
type MintInfo struct {
	Address      solana.PublicKey
	TokenProgram solana.PublicKey
	Decimals     uint8
	Supply       uint64
}
