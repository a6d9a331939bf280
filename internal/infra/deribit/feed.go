// Package deribit holds the exchange-facing collaborators: the websocket
// feed session, authentication, and the order RPC client. The core engine
// never talks to the exchange directly; everything passes through here.
package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"deribit_go/internal/domain"
	"deribit_go/internal/event"
	"deribit_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	maxRetries       = 10
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second

	bookChannelPrefix   = "book."
	bookChannelInterval = "100ms"
)

// BookSink receives parsed book updates from the feed. recvNanos is the
// wall-clock nanosecond timestamp taken when the frame came off the wire, so
// the sink can attribute parse and handoff time to the right latency stage.
// Implemented by the engine's ingestion facade.
type BookSink interface {
	Enqueue(symbol string, upd *event.BookUpdate, recvNanos int64)
}

// FeedSession owns the TLS websocket to the exchange. It subscribes to the
// per-instrument book channels, parses each frame, and hands book updates to
// the sink. On connection loss it reconnects with backoff and resubscribes,
// which makes the exchange send a fresh snapshot for every channel.
type FeedSession struct {
	wsURL string
	sink  BookSink

	mu        sync.RWMutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool

	subsMu sync.Mutex
	subs   map[string]struct{}

	nextID atomic.Int64
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewFeedSession creates a session for the given websocket URL.
func NewFeedSession(wsURL string, sink BookSink) *FeedSession {
	return &FeedSession{
		wsURL:  wsURL,
		sink:   sink,
		subs:   make(map[string]struct{}),
		logger: slog.Default().With(slog.String("module", "feed")),
	}
}

// Connect starts the connection loop in the background.
func (s *FeedSession) Connect(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop(ctx)
	return nil
}

// IsConnected reports whether the websocket is currently up.
func (s *FeedSession) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *FeedSession) connectionLoop(ctx context.Context) {
	defer s.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.logger.Warn("feed connection failed",
				slog.Any("error", err), slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			s.readLoop(ctx)
		}
	}
}

func (s *FeedSession) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, http.Header{})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	// Resubscribing after a reconnect forces fresh snapshots, which is the
	// whole gap-recovery story: the engine never replays missed change_ids.
	if err := s.resubscribe(); err != nil {
		s.closeConnection()
		return err
	}

	s.logger.Info("feed connected", slog.Int("subs", s.subscriptionCount()))
	return nil
}

// Subscribe registers interest in one instrument's book channel. Safe to
// call before the connection is up; pending subscriptions are sent on
// connect.
func (s *FeedSession) Subscribe(symbol string) error {
	s.subsMu.Lock()
	s.subs[symbol] = struct{}{}
	s.subsMu.Unlock()

	if !s.IsConnected() {
		return nil
	}
	return s.sendSubscribe([]string{symbol})
}

func (s *FeedSession) resubscribe() error {
	s.subsMu.Lock()
	symbols := make([]string, 0, len(s.subs))
	for sym := range s.subs {
		symbols = append(symbols, sym)
	}
	s.subsMu.Unlock()

	if len(symbols) == 0 {
		return nil
	}
	return s.sendSubscribe(symbols)
}

func (s *FeedSession) subscriptionCount() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

func (s *FeedSession) sendSubscribe(symbols []string) error {
	channels := make([]string, len(symbols))
	for i, sym := range symbols {
		channels[i] = BookChannel(sym)
	}

	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      s.nextID.Add(1),
		"method":  "public/subscribe",
		"params":  map[string]interface{}{"channels": channels},
	}
	b, _ := json.Marshal(msg)
	return s.threadSafeWrite(websocket.TextMessage, b)
}

func (s *FeedSession) threadSafeWrite(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return domain.ErrNotConnected
	}
	return s.conn.WriteMessage(msgType, data)
}

func (s *FeedSession) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// The conn pointer is captured under the lock: closeConnection can
		// nil s.conn concurrently during shutdown.
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.closeConnection()
			return
		}
		s.handleMessage(raw, time.Now().UnixNano())
	}
}

func (s *FeedSession) handleMessage(raw []byte, recvNanos int64) {
	var msg event.FeedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Debug("unparseable feed frame", slog.Any("error", err))
		return
	}

	if msg.Error != nil {
		s.logger.Warn("feed error frame",
			slog.Int64("code", msg.Error.Code),
			slog.String("message", msg.Error.Message))
		return
	}

	// Frames with a Result are subscription acks; nothing to do.
	if msg.Params == nil || msg.Params.Channel == "" {
		return
	}

	symbol, ok := SymbolFromChannel(msg.Params.Channel)
	if !ok || msg.Params.Data == nil {
		return
	}
	s.sink.Enqueue(symbol, msg.Params.Data, recvNanos)
}

// BookChannel returns the feed channel name for a symbol,
// e.g. "book.BTC-PERPETUAL.100ms".
func BookChannel(symbol string) string {
	return bookChannelPrefix + symbol + "." + bookChannelInterval
}

// SymbolFromChannel extracts the instrument between the first and second
// dot of a book channel name.
func SymbolFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, bookChannelPrefix) {
		return "", false
	}
	rest := channel[len(bookChannelPrefix):]
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 {
		return "", false
	}
	return rest[:dot], true
}

func (s *FeedSession) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}

// Disconnect stops the connection loop and closes the socket.
func (s *FeedSession) Disconnect() {
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnection()
	s.wg.Wait()
}
