package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// ErrTradeNotFound is returned when no trade matches the lookup.
var ErrTradeNotFound = errors.New("trade not found")

// Store is the trade journal. Every swap the terminal builds is recorded here
// so that a trade which was submitted but never observed as landed can be
// found and resolved later.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, m *metrics.Metrics) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewStore(pool, m), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the journal schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Trade is one journaled swap.
type Trade struct {
	ID              uuid.UUID `json:"id"`
	Wallet          string    `json:"wallet"`
	Direction       string    `json:"direction"`
	NetworkID       int       `json:"network_id"`
	InputMint       string    `json:"input_mint"`
	OutputMint      string    `json:"output_mint"`
	Amount          string    `json:"amount"` // atomic units, base 10
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

// CreateTradeParams contains the parameters for journaling a freshly built trade.
type CreateTradeParams struct {
	Wallet     string
	Direction  string
	NetworkID  int
	InputMint  string
	OutputMint string
	Amount     string
	RequestID  string
	State      string
}

// UpdateTradeStateParams moves a trade to a new state. Nil fields are left unchanged.
type UpdateTradeStateParams struct {
	ID           uuid.UUID
	State        string
	LedgerStatus *string
	Slot         *int64
	Error        *string
}

const tradeColumns = `id, wallet, direction, network_id, input_mint, output_mint, amount::text,
	request_id, signature, state, ledger_status, slot, error, resolve_attempts, created_at, updated_at`

// CreateTrade inserts a trade with a new id.
func (s *Store) CreateTrade(ctx context.Context, params CreateTradeParams) (*Trade, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO trades (id, wallet, direction, network_id, input_mint, output_mint, amount, request_id, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8, $9)
		RETURNING `+tradeColumns,
		uuid.New(), params.Wallet, params.Direction, params.NetworkID,
		params.InputMint, params.OutputMint, params.Amount, params.RequestID, params.State,
	)
	trade, err := scanTrade(row)
	s.metrics.RecordDBQuery("insert", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}
	return trade, nil
}

// MarkSubmitted records the signature of a trade that was accepted by the
// ledger but whose outcome is not yet known.
func (s *Store) MarkSubmitted(ctx context.Context, id uuid.UUID, signature string) (*Trade, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE trades SET signature = $2, state = 'submitted', updated_at = NOW()
		WHERE id = $1
		RETURNING `+tradeColumns,
		id, signature,
	)
	trade, err := scanTrade(row)
	s.metrics.RecordDBQuery("update", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, wrapNotFound("failed to mark trade submitted", err)
	}
	return trade, nil
}

// UpdateTradeState sets the state and, when given, the ledger status, slot and error.
func (s *Store) UpdateTradeState(ctx context.Context, params UpdateTradeStateParams) (*Trade, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `
		UPDATE trades SET
			state = $2,
			ledger_status = COALESCE($3, ledger_status),
			slot = COALESCE($4, slot),
			error = COALESCE($5, error),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+tradeColumns,
		params.ID, params.State,
		pgtextFromStringPtr(params.LedgerStatus), pgint8FromInt64Ptr(params.Slot), pgtextFromStringPtr(params.Error),
	)
	trade, err := scanTrade(row)
	s.metrics.RecordDBQuery("update", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, wrapNotFound("failed to update trade state", err)
	}
	return trade, nil
}

// IncrementResolveAttempts bumps the counter used by the background resolver.
func (s *Store) IncrementResolveAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	start := time.Now()
	var attempts int
	err := s.pool.QueryRow(ctx, `
		UPDATE trades SET resolve_attempts = resolve_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING resolve_attempts`, id,
	).Scan(&attempts)
	s.metrics.RecordDBQuery("update", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, wrapNotFound("failed to increment resolve attempts", err)
	}
	return attempts, nil
}

// GetTrade retrieves a trade by id.
func (s *Store) GetTrade(ctx context.Context, id uuid.UUID) (*Trade, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)
	trade, err := scanTrade(row)
	s.metrics.RecordDBQuery("select", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, wrapNotFound("failed to get trade", err)
	}
	return trade, nil
}

// GetTradeBySignature retrieves a trade by its transaction signature.
func (s *Store) GetTradeBySignature(ctx context.Context, signature string) (*Trade, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE signature = $1`, signature)
	trade, err := scanTrade(row)
	s.metrics.RecordDBQuery("select", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, wrapNotFound("failed to get trade by signature", err)
	}
	return trade, nil
}

// ListTradesByWallet returns the most recent trades of a wallet, newest first.
func (s *Store) ListTradesByWallet(ctx context.Context, wallet string, limit int32) ([]*Trade, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE wallet = $1
		ORDER BY created_at DESC
		LIMIT $2`, wallet, limit)
	if err != nil {
		s.metrics.RecordDBQuery("select", "trades", time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	trades, err := collectTrades(rows)
	s.metrics.RecordDBQuery("select", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}

// ListUnresolvedTrades returns trades that have a signature but no known
// outcome and were last touched before olderThan.
func (s *Store) ListUnresolvedTrades(ctx context.Context, olderThan time.Time) ([]*Trade, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE state IN ('submitted', 'timed_out')
		  AND signature IS NOT NULL
		  AND updated_at < $1
		ORDER BY updated_at ASC`, olderThan)
	if err != nil {
		s.metrics.RecordDBQuery("select", "trades", time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list unresolved trades: %w", err)
	}
	trades, err := collectTrades(rows)
	s.metrics.RecordDBQuery("select", "trades", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved trades: %w", err)
	}
	return trades, nil
}

func scanTrade(row pgx.Row) (*Trade, error) {
	var (
		t            Trade
		signature    pgtype.Text
		ledgerStatus pgtype.Text
		slot         pgtype.Int8
		errText      pgtype.Text
	)
	err := row.Scan(
		&t.ID, &t.Wallet, &t.Direction, &t.NetworkID, &t.InputMint, &t.OutputMint, &t.Amount,
		&t.RequestID, &signature, &t.State, &ledgerStatus, &slot, &errText, &t.ResolveAttempts,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Signature = stringPtrFromPgtext(signature)
	t.LedgerStatus = stringPtrFromPgtext(ledgerStatus)
	t.Slot = int64PtrFromPgint8(slot)
	t.Error = stringPtrFromPgtext(errText)
	return &t, nil
}

func collectTrades(rows pgx.Rows) ([]*Trade, error) {
	defer rows.Close()
	trades := make([]*Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func wrapNotFound(msg string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w: %w", msg, ErrTradeNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Helper functions for type conversions

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromInt64Ptr(i *int64) pgtype.Int8 {
	if i == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *i, Valid: true}
}

func int64PtrFromPgint8(i pgtype.Int8) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}
