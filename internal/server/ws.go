// Package server fans top-of-book updates out to local websocket clients.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"deribit_go/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// TopOfBook is the frame pushed to subscribers on every applied update.
type TopOfBook struct {
	Symbol        string  `json:"symbol"`
	Timestamp     int64   `json:"timestamp"`
	ChangeID      int64   `json:"change_id"`
	BestBidPrice  float64 `json:"best_bid_price"`
	BestBidAmount float64 `json:"best_bid_amount"`
	BestAskPrice  float64 `json:"best_ask_price"`
	BestAskAmount float64 `json:"best_ask_amount"`
}

// clientRequest is what subscribers send: {"operation":"subscribe","symbol":"..."}.
type clientRequest struct {
	Operation string `json:"operation"`
	Symbol    string `json:"symbol"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	symbolsMu sync.Mutex
	symbols   map[string]struct{}
}

func (c *client) subscribed(symbol string) bool {
	c.symbolsMu.Lock()
	defer c.symbolsMu.Unlock()
	_, ok := c.symbols[symbol]
	return ok
}

func (c *client) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server accepts websocket subscribers and pushes them the top of book for
// each symbol they ask for. It reads books from the engine through the
// BookSource interface and never touches the exchange connection.
type Server struct {
	source domain.BookSource
	logger *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	clientsMu sync.Mutex
	clients   map[*client]struct{}
}

// NewServer creates a fan-out server listening on the given port.
func NewServer(port int, source domain.BookSource) *Server {
	s := &Server{
		source: source,
		logger: slog.Default().With(slog.String("module", "server")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start registers the broadcast callback and begins serving. Non-blocking.
func (s *Server) Start() {
	s.source.RegisterCallback(s.broadcast)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("websocket server stopped", slog.Any("error", err))
		}
	}()
	s.logger.Info("websocket server listening", slog.String("addr", s.httpSrv.Addr))
}

// Stop closes the listener and all client connections.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.httpSrv.Shutdown(ctx)

	s.clientsMu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[*client]struct{})
	s.clientsMu.Unlock()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{
		conn:    conn,
		symbols: make(map[string]struct{}),
	}
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	s.logger.Info("client connected", slog.String("remote", conn.RemoteAddr().String()))
	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer s.dropClient(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var req clientRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.Symbol == "" {
			s.logger.Debug("malformed client request")
			continue
		}

		switch req.Operation {
		case "subscribe":
			c.symbolsMu.Lock()
			c.symbols[req.Symbol] = struct{}{}
			c.symbolsMu.Unlock()
			// Immediate snapshot so the client does not wait for the
			// next feed update.
			s.sendTop(c, req.Symbol, s.source.GetBook(req.Symbol))
		case "unsubscribe":
			c.symbolsMu.Lock()
			delete(c.symbols, req.Symbol)
			c.symbolsMu.Unlock()
		default:
			s.logger.Debug("unknown operation", slog.String("operation", req.Operation))
		}
	}
}

// broadcast runs as an engine callback after every applied book update.
func (s *Server) broadcast(symbol string, book domain.Orderbook) {
	frame, err := json.Marshal(topFrom(symbol, book))
	if err != nil {
		return
	}

	s.clientsMu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.subscribed(symbol) {
			targets = append(targets, c)
		}
	}
	s.clientsMu.Unlock()

	for _, c := range targets {
		if err := c.send(frame); err != nil {
			s.dropClient(c)
		}
	}
}

func (s *Server) sendTop(c *client, symbol string, book domain.Orderbook) {
	frame, err := json.Marshal(topFrom(symbol, book))
	if err != nil {
		return
	}
	if err := c.send(frame); err != nil {
		s.dropClient(c)
	}
}

func (s *Server) dropClient(c *client) {
	s.clientsMu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.clientsMu.Unlock()
	if present {
		c.conn.Close()
		s.logger.Info("client disconnected", slog.String("remote", c.conn.RemoteAddr().String()))
	}
}

func topFrom(symbol string, book domain.Orderbook) TopOfBook {
	return TopOfBook{
		Symbol:        symbol,
		Timestamp:     book.Timestamp,
		ChangeID:      book.ChangeID,
		BestBidPrice:  book.BestBidPrice,
		BestBidAmount: book.BestBidAmount,
		BestAskPrice:  book.BestAskPrice,
		BestAskAmount: book.BestAskAmount,
	}
}
