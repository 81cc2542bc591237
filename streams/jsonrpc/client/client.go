package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gagliardetto/solana-go"

	"github.com/Iwinswap/iwinswap-swap-router-go/pipeline"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the account feed is registered.
	RpcNamespace                     = "router"
	AccountUpdatesSubscriptionMethod = "subscribeAccountUpdates"
)

// Event types sent by the feed.
const (
	EventAccount = "account"
	EventSlot    = "slot"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
	// Accounts is consulted on every subscribe and its result is sent as
	// the subscription filter. Nil subscribes to every account.
	Accounts func() []solana.PublicKey
	// Resubscribe replaces the subscription on the open connection with one
	// using a fresh filter from Accounts each time it receives a value.
	Resubscribe <-chan struct{}
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Client manages the connection and subscription to an account update feed.
type Client struct {
	accounts    func() []solana.PublicKey
	resubscribe <-chan struct{}
	updateCh chan pipeline.AccountUpdate
	slotCh   chan uint64
	errCh    chan error
	logger   Logger

	lastSlot uint64
}

// SubscriptionEvent is the wrapper object received from the server.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// AccountPayload is the payload of an account event. Data is base64.
type AccountPayload struct {
	Pubkey   solana.PublicKey `json:"pubkey"`
	Owner    solana.PublicKey `json:"owner"`
	Lamports uint64           `json:"lamports"`
	Data     string           `json:"data"`
	Slot     uint64           `json:"slot"`
}

// SlotPayload is the payload of a slot event.
type SlotPayload struct {
	Slot uint64 `json:"slot"`
}

// NewClient creates a new client and starts the connection and subscription manager.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	go c.run(ctx, cfg.URL)
	return c, nil
}

func newClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Client{
		accounts:    cfg.Accounts,
		resubscribe: cfg.Resubscribe,
		updateCh: make(chan pipeline.AccountUpdate, cfg.BufferSize),
		slotCh:   make(chan uint64, cfg.BufferSize),
		errCh:    make(chan error, 1),
		logger:   cfg.Logger,
	}, nil
}

// Updates returns a read-only channel of account writes.
func (c *Client) Updates() <-chan pipeline.AccountUpdate {
	return c.updateCh
}

// Slots returns a read-only channel of slot notifications.
func (c *Client) Slots() <-chan uint64 {
	return c.slotCh
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the entire lifecycle of the client, including reconnection.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.updateCh)
	defer close(c.slotCh)
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled during subscription, shutting down.", "error", err)
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

var errResubscribe = errors.New("watch set changed")

// subscribeAndProcess handles the subscription and processing of messages.
func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()
	for {
		err := c.subscribeOnce(ctx, rpcClient)
		if !errors.Is(err, errResubscribe) {
			return err
		}
		c.logger.Info("Watch set changed, resubscribing.")
	}
}

func (c *Client) subscribeOnce(ctx context.Context, rpcClient *rpc.Client) error {
	var filter []string
	if c.accounts != nil {
		for _, k := range c.accounts() {
			filter = append(filter, k.String())
		}
	}

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, AccountUpdatesSubscriptionMethod, filter)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...", "accounts", len(filter))
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processMessage(ctx, rawData); err != nil {
				return err
			}
		case err := <-sub.Err():
			return err
		case <-c.resubscribe:
			return errResubscribe
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// processMessage decodes one server event and forwards it. Malformed events
// are logged and skipped; only a canceled context is returned.
func (c *Client) processMessage(ctx context.Context, rawData json.RawMessage) error {
	receivedAt := time.Now()
	var event SubscriptionEvent
	if err := json.Unmarshal(rawData, &event); err != nil {
		c.logger.Error("Failed to unmarshal subscription event", "error", err)
		return nil
	}

	switch event.Type {
	case EventAccount:
		var p AccountPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.logger.Error("Failed to unmarshal account payload", "error", err)
			return nil
		}
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			c.logger.Error("Failed to decode account data", "account", p.Pubkey, "error", err)
			return nil
		}
		c.logLatency(EventAccount, p.Slot, receivedAt, event.SentAt)
		return send(ctx, c.updateCh, pipeline.AccountUpdate{
			Key:      p.Pubkey,
			Owner:    p.Owner,
			Lamports: p.Lamports,
			Data:     data,
			Slot:     p.Slot,
		})

	case EventSlot:
		var p SlotPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.logger.Error("Failed to unmarshal slot payload", "error", err)
			return nil
		}
		if p.Slot < c.lastSlot {
			c.logger.Warn("Received a slot older than one already seen", "slot", p.Slot, "last_slot", c.lastSlot)
		}
		c.lastSlot = max(c.lastSlot, p.Slot)
		c.logLatency(EventSlot, p.Slot, receivedAt, event.SentAt)
		return send(ctx, c.slotCh, p.Slot)

	default:
		c.logger.Warn("Received unknown event type", "type", event.Type)
		return nil
	}
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) logLatency(eventType string, slot uint64, receivedAt time.Time, sentAt int64) {
	if sentAt == 0 {
		return
	}
	transport := receivedAt.Sub(time.Unix(0, sentAt))
	c.logger.Debug("Received event",
		"type", eventType,
		"slot", slot,
		"transport_ms", transport.Round(time.Millisecond).Milliseconds(),
		"client_processing_us", time.Since(receivedAt).Microseconds(),
	)
}
