package deribit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"deribit_go/internal/domain"
)

// fakeExchange records private requests and answers with canned order ids.
type fakeExchange struct {
	mu       sync.Mutex
	requests []*http.Request
	queries  []map[string]string
}

func (f *fakeExchange) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/public/auth" {
			w.Write([]byte(`{"result":{"access_token":"tok","expires_in":900}}`))
			return
		}

		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}

		q := map[string]string{}
		for k, v := range r.URL.Query() {
			q[k] = v[0]
		}
		f.mu.Lock()
		f.requests = append(f.requests, r)
		f.queries = append(f.queries, q)
		f.mu.Unlock()

		switch r.URL.Path {
		case "/private/buy", "/private/sell":
			w.Write([]byte(`{"result":{"order":{"order_id":"ETH-42"}}}`))
		case "/private/cancel", "/private/edit":
			w.Write([]byte(`{"result":{"order":{"order_id":"` + q["order_id"] + `"}}}`))
		case "/private/get_positions":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": []domain.Position{{
					InstrumentName: "BTC-PERPETUAL",
					Size:           10,
					Direction:      "buy",
					AveragePrice:   50000,
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeExchange) lastQuery(t *testing.T) map[string]string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		t.Fatal("no private requests recorded")
	}
	return f.queries[len(f.queries)-1]
}

func newTestClient(t *testing.T) (*OrderClient, *fakeExchange) {
	t.Helper()
	ex := &fakeExchange{}
	srv := httptest.NewServer(ex.handler())
	t.Cleanup(srv.Close)

	auth := NewAuthenticator(srv.URL, "id", "secret")
	if err := auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("auth failed: %v", err)
	}

	c := NewOrderClient(srv.URL, auth, nil, 2, 16)
	t.Cleanup(c.Close)
	return c, ex
}

func TestPlaceBuyLimit(t *testing.T) {
	c, ex := newTestClient(t)

	orderID, err := c.PlaceBuy(context.Background(), domain.OrderParams{
		InstrumentName: "BTC-PERPETUAL",
		Amount:         10,
		Price:          50000,
		Type:           domain.OrderTypeLimit,
	})
	if err != nil {
		t.Fatalf("PlaceBuy failed: %v", err)
	}
	if orderID != "ETH-42" {
		t.Errorf("order id = %q, want ETH-42", orderID)
	}

	q := ex.lastQuery(t)
	if q["instrument_name"] != "BTC-PERPETUAL" {
		t.Errorf("instrument = %q", q["instrument_name"])
	}
	if q["amount"] != "10" || q["price"] != "50000" || q["type"] != "limit" {
		t.Errorf("unexpected query: %v", q)
	}
}

func TestPlaceSellMarketOmitsPrice(t *testing.T) {
	c, ex := newTestClient(t)

	if _, err := c.PlaceSell(context.Background(), domain.OrderParams{
		InstrumentName: "BTC-PERPETUAL",
		Amount:         5,
		Type:           domain.OrderTypeMarket,
	}); err != nil {
		t.Fatalf("PlaceSell failed: %v", err)
	}

	q := ex.lastQuery(t)
	if _, present := q["price"]; present {
		t.Error("market order must not carry a price parameter")
	}
	if q["type"] != "market" {
		t.Errorf("type = %q", q["type"])
	}
}

func TestCancelAndModify(t *testing.T) {
	c, ex := newTestClient(t)

	if err := c.Cancel(context.Background(), "ETH-42"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if q := ex.lastQuery(t); q["order_id"] != "ETH-42" {
		t.Errorf("cancel order_id = %q", q["order_id"])
	}

	if err := c.Modify(context.Background(), "ETH-42", 20, 50500); err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	q := ex.lastQuery(t)
	if q["order_id"] != "ETH-42" || q["amount"] != "20" || q["price"] != "50500" {
		t.Errorf("unexpected modify query: %v", q)
	}
}

func TestGetPositions(t *testing.T) {
	c, ex := newTestClient(t)

	positions, err := c.GetPositions(context.Background(), "BTC", "future")
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	if positions[0].InstrumentName != "BTC-PERPETUAL" || positions[0].Size != 10 {
		t.Errorf("unexpected position: %+v", positions[0])
	}

	q := ex.lastQuery(t)
	if q["currency"] != "BTC" || q["kind"] != "future" {
		t.Errorf("unexpected query: %v", q)
	}
}

func TestUnauthenticatedRequestsRejectedLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the exchange without a token")
	}))
	t.Cleanup(srv.Close)

	c := NewOrderClient(srv.URL, nil, nil, 1, 4)
	t.Cleanup(c.Close)

	_, err := c.PlaceBuy(context.Background(), domain.OrderParams{
		InstrumentName: "BTC-PERPETUAL", Amount: 1, Type: domain.OrderTypeMarket,
	})
	if !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSubmitAsyncInvokesCallback(t *testing.T) {
	c, _ := newTestClient(t)

	done := make(chan struct{})
	var gotID string
	var gotErr error
	ok := c.SubmitAsync(domain.OrderParams{
		InstrumentName: "BTC-PERPETUAL",
		Amount:         10,
		Price:          50000,
		Type:           domain.OrderTypeLimit,
		Side:           domain.SideBuy,
	}, func(orderID string, err error) {
		gotID, gotErr = orderID, err
		close(done)
	})
	if !ok {
		t.Fatal("SubmitAsync rejected on empty queue")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback not invoked")
	}
	if gotErr != nil {
		t.Fatalf("callback error: %v", gotErr)
	}
	if gotID != "ETH-42" {
		t.Errorf("order id = %q, want ETH-42", gotID)
	}
}

func TestSubmitAsyncConcurrentProducersLoseNothing(t *testing.T) {
	ex := &fakeExchange{}
	srv := httptest.NewServer(ex.handler())
	t.Cleanup(srv.Close)

	auth := NewAuthenticator(srv.URL, "id", "secret")
	if err := auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("auth failed: %v", err)
	}

	c := NewOrderClient(srv.URL, auth, nil, 2, 256)
	t.Cleanup(c.Close)

	const producers = 4
	const perProducer = 25
	var accepted atomic.Int64
	responses := make(chan string, producers*perProducer)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				ok := c.SubmitAsync(domain.OrderParams{
					InstrumentName: "BTC-PERPETUAL",
					Amount:         1,
					Type:           domain.OrderTypeMarket,
					Side:           domain.SideBuy,
				}, func(orderID string, err error) {
					responses <- orderID
				})
				if ok {
					accepted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	want := int64(producers * perProducer)
	if accepted.Load() != want {
		t.Fatalf("accepted %d of %d submissions with a non-full queue", accepted.Load(), want)
	}
	// Every accepted submission must reach the exchange and call back; an
	// overwritten queue slot would leave this loop waiting.
	for i := int64(0); i < want; i++ {
		select {
		case <-responses:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d callbacks arrived", i, want)
		}
	}
}

func TestSubmitAsyncFailsWhenQueueFull(t *testing.T) {
	ex := &fakeExchange{}
	srv := httptest.NewServer(ex.handler())
	t.Cleanup(srv.Close)

	auth := NewAuthenticator(srv.URL, "id", "secret")
	if err := auth.Authenticate(context.Background()); err != nil {
		t.Fatalf("auth failed: %v", err)
	}

	// Stop the workers so nothing drains the queue.
	c := NewOrderClient(srv.URL, auth, nil, 1, 2)
	c.Close()

	accepted := 0
	for i := 0; i < 5; i++ {
		if c.SubmitAsync(domain.OrderParams{InstrumentName: "BTC-PERPETUAL", Amount: 1}, nil) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("expected 2 accepted submissions, got %d", accepted)
	}
	if c.Pending() != 2 {
		t.Errorf("expected 2 pending, got %d", c.Pending())
	}
}
