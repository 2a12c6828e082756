// Package feed connects to the external migration detector over WebSocket
// and turns its messages into MigrationEvents for the dispatch orchestrator.
// Delivery is at-least-once: reconnects may replay recent events, and the
// downstream locking absorbs duplicates.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/snipekit/sniperbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// subscribeCommand is sent after each (re)connect to open the migration stream.
type subscribeCommand struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// envelope is the outer message frame from the detector.
type envelope struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// MigrationWS streams migration events from the detector WebSocket. It
// reconnects with exponential backoff on disconnect and resubscribes.
type MigrationWS struct {
	wsURL  string
	events chan domain.MigrationEvent
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewMigrationWS creates a feed for the given detector WebSocket URL. The
// buffer absorbs bursts when several tokens migrate close together.
func NewMigrationWS(wsURL string, buffer int, logger *slog.Logger) *MigrationWS {
	if buffer <= 0 {
		buffer = 64
	}
	return &MigrationWS{
		wsURL:  wsURL,
		events: make(chan domain.MigrationEvent, buffer),
		logger: logger.With(slog.String("component", "migration_ws")),
		done:   make(chan struct{}),
	}
}

// Events returns the channel migration events are delivered on. The channel
// is closed when Run returns.
func (f *MigrationWS) Events() <-chan domain.MigrationEvent {
	return f.events
}

// Run connects and pumps events until ctx is cancelled or Close is called.
// Disconnects trigger reconnection with exponential backoff; the backoff
// resets after each successful connection.
func (f *MigrationWS) Run(ctx context.Context) error {
	defer close(f.events)

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		connectedAt := time.Now()
		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that held for a while earns a fresh backoff.
		if time.Since(connectedAt) > maxReconnectDelay {
			delay = reconnectDelay
		}
		f.logger.Warn("migration feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *MigrationWS) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// runConnection dials, subscribes, and reads until the connection drops.
func (f *MigrationWS) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("migration feed subscribed", slog.String("url", f.wsURL))

	// Close the connection when ctx or the feed shuts down so ReadMessage
	// unblocks. The ping loop shares the same stop channel.
	stop := make(chan struct{})
	defer close(stop)
	go f.pingLoop(conn, stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		case <-stop:
			return
		}
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w: %v", domain.ErrWSDisconnect, err)
		}
		f.handleMessage(message)
	}
}

func (f *MigrationWS) subscribe(conn *websocket.Conn) error {
	cmd := subscribeCommand{Type: "subscribe", Channel: "migrations"}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (f *MigrationWS) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes one frame and delivers the event. Unparseable or
// unknown frames are dropped silently.
func (f *MigrationWS) handleMessage(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Type != "migration" || len(env.Event) == 0 {
		return
	}

	var event domain.MigrationEvent
	if err := json.Unmarshal(env.Event, &event); err != nil {
		f.logger.Warn("malformed migration event dropped", slog.String("error", err.Error()))
		return
	}
	if event.TokenMint == "" {
		return
	}
	if event.DetectedAt.IsZero() {
		event.DetectedAt = time.Now()
	}

	select {
	case f.events <- event:
	default:
		// Staleness filtering downstream makes dropping the oldest-style
		// backpressure unnecessary; a full buffer means the orchestrator is
		// already saturated and this event would be stale by dequeue time.
		f.logger.Warn("event buffer full, dropping migration",
			slog.String("token_mint", event.TokenMint),
		)
	}
}
