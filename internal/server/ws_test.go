package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"deribit_go/internal/domain"

	"github.com/gorilla/websocket"
)

type fakeSource struct {
	mu    sync.Mutex
	books map[string]domain.Orderbook
	cbs   []func(symbol string, book domain.Orderbook)
}

func newFakeSource() *fakeSource {
	return &fakeSource{books: make(map[string]domain.Orderbook)}
}

func (f *fakeSource) GetBook(symbol string) domain.Orderbook {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.books[symbol]; ok {
		return b
	}
	return *domain.NewOrderbook()
}

func (f *fakeSource) RegisterCallback(cb func(symbol string, book domain.Orderbook)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cbs = append(f.cbs, cb)
}

func (f *fakeSource) push(symbol string, book domain.Orderbook) {
	f.mu.Lock()
	f.books[symbol] = book
	cbs := append([]func(string, domain.Orderbook){}, f.cbs...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(symbol, book)
	}
}

func topBook(bid, bidAmt, ask, askAmt float64, ts int64) domain.Orderbook {
	b := domain.NewOrderbook()
	b.Timestamp = ts
	b.BestBidPrice = bid
	b.BestBidAmount = bidAmt
	b.BestAskPrice = ask
	b.BestAskAmount = askAmt
	return *b
}

func setupServer(t *testing.T) (*fakeSource, *websocket.Conn) {
	src := newFakeSource()
	s := NewServer(0, src)
	src.RegisterCallback(s.broadcast)

	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return src, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) TopOfBook {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var top TopOfBook
	if err := json.Unmarshal(raw, &top); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return top
}

func subscribe(t *testing.T, conn *websocket.Conn, symbol string) {
	t.Helper()
	req := clientRequest{Operation: "subscribe", Symbol: symbol}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("subscribe write failed: %v", err)
	}
}

func TestSubscribeSendsImmediateSnapshot(t *testing.T) {
	src, conn := setupServer(t)
	src.books["BTC-PERPETUAL"] = topBook(100.0, 1.0, 101.0, 3.0, 100)

	subscribe(t, conn, "BTC-PERPETUAL")

	top := readFrame(t, conn)
	if top.Symbol != "BTC-PERPETUAL" {
		t.Errorf("expected symbol BTC-PERPETUAL, got %s", top.Symbol)
	}
	if top.BestBidPrice != 100.0 || top.BestAskPrice != 101.0 {
		t.Errorf("unexpected tops: bid=%v ask=%v", top.BestBidPrice, top.BestAskPrice)
	}
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	src, conn := setupServer(t)

	subscribe(t, conn, "BTC-PERPETUAL")
	readFrame(t, conn) // initial snapshot

	src.push("BTC-PERPETUAL", topBook(100.5, 0.5, 101.5, 2.0, 101))

	top := readFrame(t, conn)
	if top.BestBidPrice != 100.5 {
		t.Errorf("expected bid 100.5, got %v", top.BestBidPrice)
	}
	if top.Timestamp != 101 {
		t.Errorf("expected timestamp 101, got %d", top.Timestamp)
	}
}

func TestBroadcastSkipsOtherSymbols(t *testing.T) {
	src, conn := setupServer(t)

	subscribe(t, conn, "BTC-PERPETUAL")
	readFrame(t, conn) // initial snapshot

	src.push("ETH-PERPETUAL", topBook(3000, 1, 3001, 1, 50))
	src.push("BTC-PERPETUAL", topBook(100.5, 0.5, 101.5, 2.0, 101))

	// The first frame after the snapshot must be the subscribed symbol.
	top := readFrame(t, conn)
	if top.Symbol != "BTC-PERPETUAL" {
		t.Errorf("received frame for unsubscribed symbol %s", top.Symbol)
	}
}

func TestUnsubscribeStopsFrames(t *testing.T) {
	src, conn := setupServer(t)

	subscribe(t, conn, "BTC-PERPETUAL")
	readFrame(t, conn)

	if err := conn.WriteJSON(clientRequest{Operation: "unsubscribe", Symbol: "BTC-PERPETUAL"}); err != nil {
		t.Fatalf("unsubscribe write failed: %v", err)
	}
	// Let the server process the unsubscribe before pushing.
	time.Sleep(100 * time.Millisecond)

	src.push("BTC-PERPETUAL", topBook(100.5, 0.5, 101.5, 2.0, 101))

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected no frame after unsubscribe")
	}
}

func TestMalformedClientRequestIgnored(t *testing.T) {
	src, conn := setupServer(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Connection must survive a garbage request.
	src.books["BTC-PERPETUAL"] = topBook(1, 1, 2, 1, 1)
	subscribe(t, conn, "BTC-PERPETUAL")
	top := readFrame(t, conn)
	if top.Symbol != "BTC-PERPETUAL" {
		t.Errorf("expected snapshot after malformed frame, got %s", top.Symbol)
	}
}
