package aleo

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// HeightHandler is called for every new block height announcement.
type HeightHandler func(height uint64)

// blockMessage is the node's block announcement. Only the height matters
// here; the rest of the block is ignored.
type blockMessage struct {
	Type   string `json:"type"`
	Height uint64 `json:"height"`
}

// WSClient subscribes to block announcements over WebSocket and dispatches
// heights to registered handlers. It reconnects with exponential backoff, so
// heights may gap across a reconnect; consumers must not assume consecutive
// values.
type WSClient struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu sync.RWMutex
	handlers  []HeightHandler

	done chan struct{}
}

// NewWSClient creates a WebSocket client for the node's block feed.
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "aleo_ws")),
		done:   make(chan struct{}),
	}
}

// OnHeight registers a handler called for every height announcement.
func (w *WSClient) OnHeight(handler HeightHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("aleo/ws: client closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.Dial(w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("aleo/ws: connect: %w", err)
	}
	w.conn = conn

	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()
	return nil
}

// Close shuts down the connection and stops the loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

func (w *WSClient) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *WSClient) handleMessage(message []byte) {
	var msg blockMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		w.logger.Warn("unparseable feed message", slog.String("error", err.Error()))
		return
	}
	if msg.Type != "block" {
		return
	}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(msg.Height)
	}
}

// reconnect re-dials with exponential backoff until it succeeds or the
// client is closed. Connect restarts the read and ping loops.
func (w *WSClient) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		if err := w.Connect(); err == nil {
			w.logger.Info("feed reconnected")
			return
		}

		w.logger.Warn("feed reconnect failed", slog.Duration("retry_in", delay))
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
