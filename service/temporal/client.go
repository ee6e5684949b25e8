package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethanlolomg/mini-trading-terminal/service/db"
	"go.temporal.io/sdk/client"
)

// ResolveConfig holds the defaults used when a resolve workflow is started.
type ResolveConfig struct {
	Commitment   string
	PollInterval time.Duration
	MaxAttempts  int
}

// Client starts and inspects resolve workflows.
type Client struct {
	client    client.Client
	taskQueue string
	resolve   ResolveConfig
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, resolve ResolveConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return NewClientFromSDK(c, taskQueue, resolve, logger), nil
}

// NewClientFromSDK wraps an existing SDK client.
func NewClientFromSDK(c client.Client, taskQueue string, resolve ResolveConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client:    c,
		taskQueue: taskQueue,
		resolve:   resolve,
		logger:    logger,
	}
}

// Resolve starts a ResolveTradeWorkflow for a timed-out trade. Starting a
// second workflow for a signature that is already being resolved is a no-op.
func (c *Client) Resolve(ctx context.Context, tradeID, signature string) error {
	input := ResolveTradeInput{
		TradeID:      tradeID,
		Signature:    signature,
		Commitment:   c.resolve.Commitment,
		PollInterval: c.resolve.PollInterval,
		MaxAttempts:  c.resolve.MaxAttempts,
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       workflowID(signature),
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: c.executionTimeout(),
	}, ResolveTradeWorkflow, input)
	if err != nil {
		c.logger.Error("failed to start resolve workflow",
			"signature", signature,
			"error", err,
		)
		return fmt.Errorf("failed to start resolve workflow for %s: %w", signature, err)
	}

	c.logger.Info("resolve workflow started",
		"signature", signature,
		"trade_id", tradeID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return nil
}

// Result waits for the resolve workflow of signature and returns its result.
func (c *Client) Result(ctx context.Context, signature string) (*ResolveTradeResult, error) {
	var result ResolveTradeResult
	if err := c.client.GetWorkflow(ctx, workflowID(signature), "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get resolve workflow result: %w", err)
	}
	return &result, nil
}

// UnresolvedLister lists journaled trades without a known outcome.
type UnresolvedLister interface {
	ListUnresolvedTrades(ctx context.Context, olderThan time.Time) ([]*db.Trade, error)
}

// ResolvePending starts a resolve workflow for every journaled trade that is
// still unresolved and older than minAge. It returns how many were started.
func (c *Client) ResolvePending(ctx context.Context, store UnresolvedLister, minAge time.Duration) (int, error) {
	trades, err := store.ListUnresolvedTrades(ctx, time.Now().Add(-minAge))
	if err != nil {
		return 0, err
	}

	started := 0
	for _, t := range trades {
		if t.Signature == nil {
			continue
		}
		if err := c.Resolve(ctx, t.ID.String(), *t.Signature); err != nil {
			c.logger.Warn("skipping unresolved trade",
				"trade_id", t.ID.String(),
				"error", err,
			)
			continue
		}
		started++
	}

	c.logger.Info("resolved pending trades", "found", len(trades), "started", started)
	return started, nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func (c *Client) executionTimeout() time.Duration {
	interval := c.resolve.PollInterval
	if interval <= 0 {
		interval = DefaultResolvePollInterval
	}
	attempts := c.resolve.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultResolveMaxAttempts
	}
	return time.Duration(attempts+1)*interval + 10*time.Minute
}

func workflowID(signature string) string {
	return "resolve-trade-" + signature
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...any) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
}
