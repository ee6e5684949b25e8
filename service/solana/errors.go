package solana

import (
	"errors"
	"fmt"
)

var (
	// ErrRPCUnavailable wraps transport-level failures talking to the RPC node.
	ErrRPCUnavailable = errors.New("solana rpc unavailable")
	// ErrAccountNotFound means the wallet has never held the token.
	ErrAccountNotFound = errors.New("token account not found")
	// ErrInvalidToken means the mint address does not point at a token mint.
	ErrInvalidToken = errors.New("invalid token mint")
	// ErrSubmissionRejected is wrapped by SubmissionRejectedError.
	ErrSubmissionRejected = errors.New("transaction rejected")
)

// SubmissionRejectedError carries the node's rejection reason verbatim.
type SubmissionRejectedError struct {
	Code   int
	Reason string
}

func (e *SubmissionRejectedError) Error() string {
	return fmt.Sprintf("transaction rejected: %s", e.Reason)
}

func (e *SubmissionRejectedError) Unwrap() error {
	return ErrSubmissionRejected
}
