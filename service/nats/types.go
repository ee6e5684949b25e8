package nats

import (
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/db"
)

// TradeEvent is published to "trades.{wallet}" every time a journaled trade
// changes state.
type TradeEvent struct {
	TradeID   string `json:"trade_id"`
	Wallet    string `json:"wallet"`
	Direction string `json:"direction"`
	NetworkID int    `json:"network_id"`

	InputMint  string `json:"input_mint"`
	OutputMint string `json:"output_mint"`
	Amount     string `json:"amount"`

	Signature    string `json:"signature,omitempty"`
	State        string `json:"state"`
	LedgerStatus string `json:"ledger_status,omitempty"`
	Slot         int64  `json:"slot,omitempty"`
	Error        string `json:"error,omitempty"`

	UpdatedAt   time.Time `json:"updated_at"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published on.
func (e *TradeEvent) Subject() string {
	return SubjectPrefix + e.Wallet
}

// FromDBTrade converts a journaled trade to a TradeEvent for publishing.
func FromDBTrade(t *db.Trade) *TradeEvent {
	event := &TradeEvent{
		TradeID:     t.ID.String(),
		Wallet:      t.Wallet,
		Direction:   t.Direction,
		NetworkID:   t.NetworkID,
		InputMint:   t.InputMint,
		OutputMint:  t.OutputMint,
		Amount:      t.Amount,
		State:       t.State,
		UpdatedAt:   t.UpdatedAt,
		PublishedAt: time.Now().UTC(),
	}

	if t.Signature != nil {
		event.Signature = *t.Signature
	}
	if t.LedgerStatus != nil {
		event.LedgerStatus = *t.LedgerStatus
	}
	if t.Slot != nil {
		event.Slot = *t.Slot
	}
	if t.Error != nil {
		event.Error = *t.Error
	}

	return event
}
