// ws.go implements the WebSocket market stream for real-time venue data.
//
// One public feed carries two channels per subscribed contract:
//
//   - "depth": full BookDepth snapshots (top 20 levels per side)
//   - "bbo":   top-of-book updates
//
// The feed auto-reconnects with exponential backoff (1s → 30s max) and
// re-subscribes to all tracked contracts on reconnection. A read deadline
// (90s) ensures silent server failures are detected within ~2 missed pings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pairfarm/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // how often we send PING to keep alive
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	depthBufferSize  = 256              // buffer for depth events
	bboBufferSize    = 256              // buffer for bbo events
)

// MarketFeed manages the public market-data WebSocket connection.
// It handles connection lifecycle, subscription tracking, message routing,
// and automatic reconnection with exponential backoff.
type MarketFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track subscriptions for automatic re-subscribe on reconnect
	subscribedMu sync.RWMutex
	subscribed   map[string]bool // contract IDs

	// Typed event channels — consumers read from these via accessor methods
	depthCh chan types.WSBookDepthEvent
	bboCh   chan types.WSBBOEvent

	logger *slog.Logger
}

// NewMarketFeed creates a WebSocket feed for the public market channels.
func NewMarketFeed(wsURL string, logger *slog.Logger) *MarketFeed {
	return &MarketFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		depthCh:    make(chan types.WSBookDepthEvent, depthBufferSize),
		bboCh:      make(chan types.WSBBOEvent, bboBufferSize),
		logger:     logger.With("component", "ws_market"),
	}
}

// DepthEvents returns a read-only channel of BookDepth snapshot events.
func (f *MarketFeed) DepthEvents() <-chan types.WSBookDepthEvent { return f.depthCh }

// BBOEvents returns a read-only channel of top-of-book events.
func (f *MarketFeed) BBOEvents() <-chan types.WSBBOEvent { return f.bboCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *MarketFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff: 1s, 2s, 4s, 8s, ..., 30s max
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds contract IDs to the depth + bbo channels. Before the first
// connect (or during a reconnect) the subscription is only recorded; the
// connect path replays it.
func (f *MarketFeed) Subscribe(ctx context.Context, contractIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range contractIDs {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()

	if !f.connected() {
		return nil
	}
	return f.writeJSON(types.WSSubscribeMsg{
		Op:        "subscribe",
		Channels:  []string{"depth", "bbo"},
		Contracts: contractIDs,
	})
}

// Unsubscribe removes contract IDs from the subscription.
func (f *MarketFeed) Unsubscribe(ctx context.Context, contractIDs []string) error {
	f.subscribedMu.Lock()
	for _, id := range contractIDs {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()

	if !f.connected() {
		return nil
	}
	return f.writeJSON(types.WSSubscribeMsg{
		Op:        "unsubscribe",
		Channels:  []string{"depth", "bbo"},
		Contracts: contractIDs,
	})
}

func (f *MarketFeed) connected() bool {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	return f.conn != nil
}

// Close gracefully closes the connection.
func (f *MarketFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *MarketFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	// Re-subscribe to everything we were tracking
	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "url", f.url)

	// Start ping goroutine
	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *MarketFeed) sendInitialSubscription() error {
	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	return f.writeJSON(types.WSSubscribeMsg{
		Op:        "subscribe",
		Channels:  []string{"depth", "bbo"},
		Contracts: ids,
	})
}

func (f *MarketFeed) dispatchMessage(data []byte) {
	// Peek at channel to route
	var envelope struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch envelope.Channel {
	case "depth":
		var evt types.WSBookDepthEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal depth event", "error", err)
			return
		}
		select {
		case f.depthCh <- evt:
		default:
			f.logger.Warn("depth channel full, dropping event", "contract", evt.ContractID)
		}

	case "bbo":
		var evt types.WSBBOEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal bbo event", "error", err)
			return
		}
		select {
		case f.bboCh <- evt:
		default:
			f.logger.Warn("bbo channel full, dropping event", "contract", evt.ContractID)
		}

	case "pong", "subscribed", "unsubscribed":
		// Informational events we don't need to process
		f.logger.Debug("ignoring event", "channel", envelope.Channel)

	default:
		f.logger.Debug("unknown ws channel", "channel", envelope.Channel)
	}
}

func (f *MarketFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte(`{"op":"ping"}`)); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *MarketFeed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *MarketFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
