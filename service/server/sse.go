package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/ethanlolomg/mini-trading-terminal/service/nats"
)

// EventSource streams trade events until ctx is done.
type EventSource interface {
	Subscribe(ctx context.Context, wallet string, handle func(*natspkg.TradeEvent)) error
}

// NATSEventSource reads trade events from the JetStream stream with an
// ephemeral consumer per subscription.
type NATSEventSource struct {
	url    string
	logger *slog.Logger
}

// NewNATSEventSource creates an event source for the NATS server at url.
func NewNATSEventSource(url string, logger *slog.Logger) *NATSEventSource {
	return &NATSEventSource{url: url, logger: logger}
}

// Subscribe implements EventSource.
func (s *NATSEventSource) Subscribe(ctx context.Context, wallet string, handle func(*natspkg.TradeEvent)) error {
	return natspkg.Subscribe(ctx, s.url, natspkg.SubscribeOptions{Wallet: wallet}, s.logger, handle)
}

const sseKeepalive = 10 * time.Second

// handleStreamTrades streams trade events as Server-Sent Events.
// GET /api/v1/stream/trades[?wallet={address}]
func handleStreamTrades(source EventSource, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := r.URL.Query().Get("wallet")
		walletDesc := "all wallets"
		if wallet != "" {
			if err := validateAddress(wallet); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			walletDesc = wallet
		}

		// Streams outlive the server's write timeout.
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		_ = rc.Flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"wallet", walletDesc,
			"remote_addr", r.RemoteAddr,
		)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		events := make(chan *natspkg.TradeEvent, 16)
		done := make(chan error, 1)
		go func() {
			done <- source.Subscribe(ctx, wallet, func(e *natspkg.TradeEvent) {
				select {
				case events <- e:
				case <-ctx.Done():
				}
			})
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":%q}\n\n", walletDesc)
		_ = rc.Flush()

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				_ = rc.Flush()

			case event := <-events:
				data, err := json.Marshal(event)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "error", err)
					continue
				}
				fmt.Fprintf(w, "event: trade\ndata: %s\n\n", data)
				_ = rc.Flush()

				logger.DebugContext(r.Context(), "sent trade event",
					"wallet", event.Wallet,
					"state", event.State,
					"signature", event.Signature,
				)

			case err := <-done:
				if err != nil {
					logger.ErrorContext(r.Context(), "event subscription failed", "wallet", walletDesc, "error", err)
					fmt.Fprintf(w, "event: error\ndata: {\"error\":\"failed to subscribe\"}\n\n")
					_ = rc.Flush()
				}
				return

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"wallet", walletDesc,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
