package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/balance"
	"github.com/ethanlolomg/mini-trading-terminal/service/codex"
	"github.com/ethanlolomg/mini-trading-terminal/service/db"
	"github.com/ethanlolomg/mini-trading-terminal/service/metrics"
	"github.com/ethanlolomg/mini-trading-terminal/service/trade"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TradeService is the trading panel backend. trade.Service implements it.
type TradeService interface {
	Enabled() bool
	Wallet() (solanago.PublicKey, error)
	Token(ctx context.Context, networkID int, address string) (balance.TokenRef, *codex.Token, error)
	Networks(ctx context.Context) ([]codex.Network, error)
	Balances(ctx context.Context, token balance.TokenRef) (balance.Result, error)
	Buy(ctx context.Context, token balance.TokenRef, solAmount string) (*trade.Receipt, error)
	Sell(ctx context.Context, token balance.TokenRef, percent string) (*trade.Receipt, error)
	Status(ctx context.Context, signature string) (*trade.StatusReport, error)
}

// TradeLister reads the trade journal. db.Store implements it.
type TradeLister interface {
	ListTradesByWallet(ctx context.Context, wallet string, limit int32) ([]*db.Trade, error)
}

// Server represents the HTTP server for the trading panel.
type Server struct {
	addr    string
	trades  TradeService
	journal TradeLister
	events  EventSource
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The journal is optional - if nil, the trade history endpoint reports 503.
// The event source is optional - if nil, the stream endpoint isn't mounted.
// The metrics is optional - if nil, the metrics endpoint isn't mounted.
func New(addr string, trades TradeService, journal TradeLister, events EventSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		trades:  trades,
		journal: journal,
		events:  events,
		metrics: m,
		logger:  logger.With("component", "http"),
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	// Trading panel routes
	route("GET /api/v1/wallet", handleGetWallet(s.trades))
	route("GET /api/v1/balances", handleGetBalances(s.trades, s.logger))
	route("POST /api/v1/trades", handleCreateTrade(s.trades, s.logger))
	route("GET /api/v1/trades", handleListTrades(s.trades, s.journal, s.logger))
	route("GET /api/v1/trades/{signature}", handleGetTradeStatus(s.trades, s.logger))
	route("GET /api/v1/tokens/{network}/{address}", handleGetToken(s.trades, s.logger))
	route("GET /api/v1/networks", handleListNetworks(s.trades, s.logger))

	// SSE streaming endpoint (if an event source is configured)
	if s.events != nil {
		mux.Handle("GET /api/v1/stream/trades", handleStreamTrades(s.events, s.logger))
		s.logger.Info("SSE streaming endpoint enabled")
	} else {
		s.logger.Warn("event source not configured, streaming endpoint disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Trades wait for confirmation; leave room past the confirm deadline.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "trading_enabled", s.trades.Enabled())
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
