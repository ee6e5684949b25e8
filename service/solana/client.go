package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/amount"
	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// mintAccountSize is the length of the base SPL mint layout. Token-2022 mints
// append extensions after it.
const mintAccountSize = 82

// DefaultPollInterval is how often ConfirmTransaction polls signature status.
const DefaultPollInterval = 500 * time.Millisecond

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetAccountInfoWithOpts(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Client wraps the RPC client with the ledger operations the trading flow needs.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	rpc          RPCClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	endpoint     string // RPC endpoint identifier for metrics (host only)
	commitment   rpc.CommitmentType
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithReadCommitment sets the commitment used for balance and account reads.
func WithReadCommitment(commitment rpc.CommitmentType) Option {
	return func(c *Client) {
		c.commitment = commitment
	}
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet" or the RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect builds a Client for rpcURL. It does not touch the network.
func Connect(rpcURL string, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Client {
	return NewClient(NewRPCClient(rpcURL), EndpointLabel(rpcURL), m, logger, opts...)
}

func (c *Client) record(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// GetNativeBalance returns the lamport balance of pubkey. Transport errors are
// returned as ErrRPCUnavailable without retrying.
func (c *Client) GetNativeBalance(ctx context.Context, pubkey solana.PublicKey) (amount.Atomic, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, pubkey, c.commitment)
	c.record("getBalance", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "getBalance failed", "wallet", pubkey.String(), "error", err)
		return amount.Atomic{}, fmt.Errorf("%w: getBalance: %v", ErrRPCUnavailable, err)
	}
	if out == nil {
		return amount.Zero(), nil
	}
	return amount.NewAtomic(out.Value), nil
}

// GetMint reads a mint account and reports its owning token program and
// on-chain decimals. A missing account, or one not owned by a token program,
// is ErrInvalidToken.
func (c *Client) GetMint(ctx context.Context, mint solana.PublicKey) (*MintInfo, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, mint, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		c.record("getAccountInfo", start, nil)
		return nil, fmt.Errorf("%w: mint %s does not exist", ErrInvalidToken, mint)
	}
	c.record("getAccountInfo", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: getAccountInfo: %v", ErrRPCUnavailable, err)
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("%w: mint %s does not exist", ErrInvalidToken, mint)
	}

	owner := out.Value.Owner
	if !owner.Equals(solana.TokenProgramID) && !owner.Equals(solana.Token2022ProgramID) {
		return nil, fmt.Errorf("%w: %s is owned by %s", ErrInvalidToken, mint, owner)
	}

	var data []byte
	if out.Value.Data != nil {
		data = out.Value.Data.GetBinary()
	}
	if len(data) < mintAccountSize {
		return nil, fmt.Errorf("%w: %s has %d bytes of data", ErrInvalidToken, mint, len(data))
	}

	var m token.Mint
	if err := m.UnmarshalWithDecoder(bin.NewBinDecoder(data[:mintAccountSize])); err != nil {
		return nil, fmt.Errorf("%w: decode mint %s: %v", ErrInvalidToken, mint, err)
	}
	if !m.IsInitialized {
		return nil, fmt.Errorf("%w: mint %s is not initialized", ErrInvalidToken, mint)
	}

	return &MintInfo{
		Address:      mint,
		TokenProgram: owner,
		Decimals:     m.Decimals,
		Supply:       m.Supply,
	}, nil
}

// AssociatedTokenAddress derives the associated token account of owner for
// mint under the given token program (Token or Token-2022).
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token account: %w", err)
	}
	return addr, nil
}

// GetAssociatedTokenAccount resolves the owner's associated token account for
// mint and checks that it exists. ErrAccountNotFound is a normal outcome for a
// wallet that never held the token.
func (c *Client) GetAssociatedTokenAccount(ctx context.Context, mint, owner solana.PublicKey) (solana.PublicKey, error) {
	info, err := c.GetMint(ctx, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return c.LookupTokenAccount(ctx, info, owner)
}

// LookupTokenAccount is GetAssociatedTokenAccount for a mint that has
// already been read with GetMint.
func (c *Client) LookupTokenAccount(ctx context.Context, info *MintInfo, owner solana.PublicKey) (solana.PublicKey, error) {
	ata, err := AssociatedTokenAddress(owner, info.Address, info.TokenProgram)
	if err != nil {
		return solana.PublicKey{}, err
	}

	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, ata, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		c.record("getAccountInfo", start, nil)
		return solana.PublicKey{}, fmt.Errorf("%w: %s", ErrAccountNotFound, ata)
	}
	c.record("getAccountInfo", start, err)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: getAccountInfo: %v", ErrRPCUnavailable, err)
	}
	return ata, nil
}

// GetTokenAccountBalance returns the raw token amount held in account.
// A missing account is a zero balance, not an error.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (amount.Atomic, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, account, c.commitment)
	if err != nil && isAccountMissing(err) {
		c.record("getTokenAccountBalance", start, nil)
		return amount.Zero(), nil
	}
	c.record("getTokenAccountBalance", start, err)
	if err != nil {
		return amount.Atomic{}, fmt.Errorf("%w: getTokenAccountBalance: %v", ErrRPCUnavailable, err)
	}
	if out == nil || out.Value == nil {
		return amount.Zero(), nil
	}
	return amount.ParseAtomic(out.Value.Amount)
}

// isAccountMissing matches the node's "could not find account" rejection of
// getTokenAccountBalance for an address with no account behind it.
func isAccountMissing(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return strings.Contains(strings.ToLower(rpcErr.Message), "could not find account")
	}
	return false
}

// SubmitTransaction sends a signed transaction. A JSON-RPC error response is
// a SubmissionRejectedError carrying the node's message; anything else is
// ErrRPCUnavailable.
func (c *Client) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
	})
	c.record("sendTransaction", start, err)
	if err != nil {
		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			c.logger.WarnContext(ctx, "transaction rejected", "code", rpcErr.Code, "reason", rpcErr.Message)
			return solana.Signature{}, &SubmissionRejectedError{Code: rpcErr.Code, Reason: rpcErr.Message}
		}
		return solana.Signature{}, fmt.Errorf("%w: sendTransaction: %v", ErrRPCUnavailable, err)
	}

	c.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return sig, nil
}

// ConfirmTransaction polls the signature until it reaches commitment, the
// ledger reports an execution error, or deadline passes. It never blocks past
// deadline: an unknown outcome is returned as StatusTimedOut with a nil error.
//
// If ctx itself is cancelled the result is StatusTimedOut together with the
// context error, so callers can tell "gave up" from "ran out of time".
func (c *Client) ConfirmTransaction(
	ctx context.Context,
	sig solana.Signature,
	commitment rpc.CommitmentType,
	deadline time.Time,
) (*SubmissionResult, error) {
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}

	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	started := time.Now()
	polls := 0
	var last *SubmissionResult

	for {
		polls++
		res, err := c.signatureStatus(pollCtx, sig, false)
		switch {
		case err != nil:
			if pollCtx.Err() == nil {
				c.logger.WarnContext(ctx, "signature status poll failed",
					"signature", sig.String(),
					"poll", polls,
					"error", err,
				)
			}
		case res != nil:
			last = res
			if res.Status == StatusFailed || res.Status.Reaches(commitment) {
				c.metrics.RecordConfirmation(string(commitment), string(res.Status), polls, time.Since(started).Seconds())
				c.logger.InfoContext(ctx, "transaction reached terminal status",
					"signature", sig.String(),
					"status", res.Status,
					"polls", polls,
				)
				return res, nil
			}
		}

		select {
		case <-pollCtx.Done():
			timedOut := &SubmissionResult{Signature: sig, Status: StatusTimedOut}
			if last != nil {
				timedOut.Slot = last.Slot
			}
			c.metrics.RecordConfirmation(string(commitment), string(StatusTimedOut), polls, time.Since(started).Seconds())
			if err := ctx.Err(); err != nil {
				return timedOut, err
			}
			c.logger.WarnContext(ctx, "confirmation deadline elapsed",
				"signature", sig.String(),
				"polls", polls,
			)
			return timedOut, nil
		case <-ticker.C:
		}
	}
}

// GetSignatureStatus re-queries a signature, searching ledger history. A
// signature the node has never seen comes back as StatusTimedOut.
func (c *Client) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SubmissionResult, error) {
	res, err := c.signatureStatus(ctx, sig, true)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &SubmissionResult{Signature: sig, Status: StatusTimedOut}, nil
	}
	return res, nil
}

// signatureStatus returns nil, nil when the node does not know the signature.
func (c *Client) signatureStatus(ctx context.Context, sig solana.Signature, searchHistory bool) (*SubmissionResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, searchHistory, sig)
	if errors.Is(err, rpc.ErrNotFound) {
		c.record("getSignatureStatuses", start, nil)
		return nil, nil
	}
	c.record("getSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: getSignatureStatuses: %v", ErrRPCUnavailable, err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}
	return resultFromStatus(sig, out.Value[0]), nil
}

func resultFromStatus(sig solana.Signature, st *rpc.SignatureStatusesResult) *SubmissionResult {
	res := &SubmissionResult{Signature: sig, Slot: st.Slot}
	if st.Err != nil {
		res.Status = StatusFailed
		if b, err := json.Marshal(st.Err); err == nil {
			res.Err = string(b)
		} else {
			res.Err = fmt.Sprint(st.Err)
		}
		return res
	}

	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		res.Status = StatusFinalized
	case rpc.ConfirmationStatusConfirmed:
		res.Status = StatusConfirmed
	case rpc.ConfirmationStatusProcessed:
		res.Status = StatusProcessed
	default:
		// Older nodes omit confirmationStatus; null confirmations means rooted.
		if st.Confirmations == nil {
			res.Status = StatusFinalized
		} else {
			res.Status = StatusProcessed
		}
	}
	return res
}
