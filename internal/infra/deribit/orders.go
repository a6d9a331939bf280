package deribit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"deribit_go/internal/domain"
	"deribit_go/internal/infra/storage"
	"deribit_go/internal/ringbuf"

	"github.com/google/uuid"
)

const orderIdleSleep = 100 * time.Microsecond

// orderTask is one queued async submission.
type orderTask struct {
	clientID string
	params   domain.OrderParams
	callback domain.OrderCallback
}

// OrderClient routes orders to the exchange over the authenticated REST
// surface. Synchronous methods block on the HTTP round trip; SubmitAsync
// hands the order to a bounded queue drained by a small worker pool, the
// same push-or-fail pattern the market-data path uses.
type OrderClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *Authenticator
	store      *storage.Storage // optional audit log
	logger     *slog.Logger

	// pushMu serializes submitters: the ring accepts a single producer, but
	// SubmitAsync is called from fan-out callbacks on any engine worker.
	pushMu  sync.Mutex
	queue   *ringbuf.Ring[*orderTask]
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewOrderClient creates the client and starts its async workers.
// store may be nil to disable the audit log.
func NewOrderClient(baseURL string, auth *Authenticator, store *storage.Storage, workers, queueCapacity int) *OrderClient {
	if workers <= 0 {
		workers = 4
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}

	c := &OrderClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		auth:   auth,
		store:  store,
		logger: slog.Default().With(slog.String("module", "orders")),
		queue:  ringbuf.New[*orderTask](queueCapacity),
	}

	c.running.Store(true)
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.workerLoop()
	}
	return c
}

// PlaceBuy submits a buy order and returns the exchange order id.
func (c *OrderClient) PlaceBuy(ctx context.Context, params domain.OrderParams) (string, error) {
	params.Side = domain.SideBuy
	return c.place(ctx, "/private/buy", params)
}

// PlaceSell submits a sell order and returns the exchange order id.
func (c *OrderClient) PlaceSell(ctx context.Context, params domain.OrderParams) (string, error) {
	params.Side = domain.SideSell
	return c.place(ctx, "/private/sell", params)
}

// Cancel cancels an open order by exchange order id.
func (c *OrderClient) Cancel(ctx context.Context, orderID string) error {
	q := url.Values{}
	q.Set("order_id", orderID)
	_, err := c.doAuthenticated(ctx, "/private/cancel", q)
	return err
}

// Modify changes the amount and price of an open order.
func (c *OrderClient) Modify(ctx context.Context, orderID string, amount, price float64) error {
	q := url.Values{}
	q.Set("order_id", orderID)
	q.Set("amount", formatFloat(amount))
	q.Set("price", formatFloat(price))
	_, err := c.doAuthenticated(ctx, "/private/edit", q)
	return err
}

// GetPositions fetches open positions for a currency and kind
// ("future" or "option").
func (c *OrderClient) GetPositions(ctx context.Context, currency, kind string) ([]domain.Position, error) {
	q := url.Values{}
	q.Set("currency", currency)
	q.Set("kind", kind)
	body, err := c.doAuthenticated(ctx, "/private/get_positions", q)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result []domain.Position `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("positions parse: %w", err)
	}
	return parsed.Result, nil
}

// SubmitAsync queues an order for background submission. Returns false when
// the queue is full; the order is not submitted in that case. The callback
// runs on a worker goroutine once the exchange responds. Safe for concurrent
// callers.
func (c *OrderClient) SubmitAsync(params domain.OrderParams, cb domain.OrderCallback) bool {
	task := &orderTask{
		clientID: uuid.NewString(),
		params:   params,
		callback: cb,
	}

	c.pushMu.Lock()
	ok := c.queue.Push(task)
	c.pushMu.Unlock()
	if !ok {
		return false
	}
	c.recordAudit(task.clientID, params, domain.OrderStatusSubmitted)
	return true
}

// Pending reports the number of orders queued but not yet processed.
func (c *OrderClient) Pending() int {
	return c.queue.Len()
}

// Close stops the async workers and joins them. Queued orders are dropped.
func (c *OrderClient) Close() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.wg.Wait()
}

func (c *OrderClient) workerLoop() {
	defer c.wg.Done()
	for c.running.Load() {
		task, ok := c.queue.Pop()
		if !ok {
			time.Sleep(orderIdleSleep)
			continue
		}
		c.processOrder(task)
	}
}

func (c *OrderClient) processOrder(task *orderTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var orderID string
	var err error
	switch task.params.Side {
	case domain.SideSell:
		orderID, err = c.PlaceSell(ctx, task.params)
	default:
		orderID, err = c.PlaceBuy(ctx, task.params)
	}

	if err != nil {
		c.logger.Warn("async order failed",
			slog.String("instrument", task.params.InstrumentName),
			slog.String("side", task.params.Side),
			slog.Any("error", err))
		c.updateAudit(task.clientID, "", domain.OrderStatusRejected)
	} else {
		c.updateAudit(task.clientID, orderID, domain.OrderStatusOpen)
	}

	if task.callback != nil {
		task.callback(orderID, err)
	}
}

func (c *OrderClient) place(ctx context.Context, path string, params domain.OrderParams) (string, error) {
	q := url.Values{}
	q.Set("instrument_name", params.InstrumentName)
	q.Set("amount", formatFloat(params.Amount))
	q.Set("type", params.Type)
	if params.Type == domain.OrderTypeLimit {
		q.Set("price", formatFloat(params.Price))
	}

	body, err := c.doAuthenticated(ctx, path, q)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Result struct {
			Order struct {
				OrderID string `json:"order_id"`
			} `json:"order"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("order response parse: %w", err)
	}
	if parsed.Result.Order.OrderID == "" {
		return "", domain.ErrOrderRejected
	}
	return parsed.Result.Order.OrderID, nil
}

// doAuthenticated performs one bearer-authenticated GET against the private
// surface and returns the raw response body.
func (c *OrderClient) doAuthenticated(ctx context.Context, path string, q url.Values) ([]byte, error) {
	if c.auth == nil || c.auth.Token() == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if err := c.auth.EnsureValid(ctx); err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.auth.Token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("request", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status=%d body=%s", domain.ErrOrderRejected, resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *OrderClient) recordAudit(clientID string, params domain.OrderParams, status string) {
	if c.store == nil {
		return
	}
	rec := &domain.OrderRecord{
		ClientID:       clientID,
		InstrumentName: params.InstrumentName,
		Side:           params.Side,
		Type:           params.Type,
		Price:          params.Price,
		Amount:         params.Amount,
		Status:         status,
	}
	if err := c.store.SaveOrder(rec); err != nil {
		c.logger.Warn("order audit write failed", slog.Any("error", err))
	}
}

func (c *OrderClient) updateAudit(clientID, orderID, status string) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateOrderStatus(clientID, orderID, status); err != nil {
		c.logger.Warn("order audit update failed", slog.Any("error", err))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
