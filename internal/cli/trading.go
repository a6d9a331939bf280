// Package cli is the operator console: a line-based prompt for inspecting
// books and routing manual orders while the gateway runs.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"deribit_go/internal/domain"
	"deribit_go/internal/engine"
)

const commandTimeout = 10 * time.Second

// BookEngine is the slice of the market-data engine the console needs.
type BookEngine interface {
	GetBook(symbol string) domain.Orderbook
	Symbols() []string
	LatencySummary() engine.LatencySummary
	DroppedCount() uint64
	PoppedCount() uint64
	QueueLen() int
}

// OrderDesk extends the gateway with the console-only inspection calls.
type OrderDesk interface {
	domain.OrderGateway
	GetPositions(ctx context.Context, currency, kind string) ([]domain.Position, error)
	Pending() int
}

// Console reads commands from in and writes results to out. Run blocks
// until "exit", EOF, or context cancellation.
type Console struct {
	in     io.Reader
	out    io.Writer
	engine BookEngine
	feed   domain.FeedSession
	orders OrderDesk
}

// NewConsole wires the console to its collaborators. orders may be nil when
// the gateway runs unauthenticated; trading commands then report an error.
func NewConsole(in io.Reader, out io.Writer, eng BookEngine, feed domain.FeedSession, orders OrderDesk) *Console {
	return &Console{in: in, out: out, engine: eng, feed: feed, orders: orders}
}

// Run is the prompt loop.
func (c *Console) Run(ctx context.Context) {
	c.printf("Deribit gateway console. Type 'help' for commands.\n")
	scanner := bufio.NewScanner(c.in)
	for {
		c.printf("> ")
		if !scanner.Scan() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return
		}
		c.execute(ctx, fields[0], fields[1:])
	}
}

func (c *Console) execute(ctx context.Context, cmd string, args []string) {
	switch cmd {
	case "help":
		c.printHelp()
	case "subscribe":
		c.cmdSubscribe(args)
	case "book":
		c.cmdBook(args)
	case "symbols":
		c.cmdSymbols()
	case "buy":
		c.cmdOrder(ctx, domain.SideBuy, args)
	case "sell":
		c.cmdOrder(ctx, domain.SideSell, args)
	case "cancel":
		c.cmdCancel(ctx, args)
	case "modify":
		c.cmdModify(ctx, args)
	case "positions":
		c.cmdPositions(ctx, args)
	case "stats":
		c.cmdStats()
	default:
		c.printf("unknown command %q, try 'help'\n", cmd)
	}
}

func (c *Console) printHelp() {
	c.printf(`commands:
  subscribe <instrument>              subscribe to an orderbook feed
  book <instrument>                   show the current top of book
  symbols                             list instruments with a book
  buy <instrument> <amount> [price]   place an order (market without price)
  sell <instrument> <amount> [price]
  cancel <order_id>
  modify <order_id> <amount> <price>
  positions <currency>                show open positions
  stats                               queue and latency statistics
  exit
`)
}

func (c *Console) cmdSubscribe(args []string) {
	if len(args) != 1 {
		c.printf("usage: subscribe <instrument>\n")
		return
	}
	if err := c.feed.Subscribe(args[0]); err != nil {
		c.printf("subscribe failed: %v\n", err)
		return
	}
	c.printf("subscribed to %s\n", args[0])
}

func (c *Console) cmdBook(args []string) {
	if len(args) != 1 {
		c.printf("usage: book <instrument>\n")
		return
	}
	book := c.engine.GetBook(args[0])
	if book.Timestamp == 0 {
		c.printf("no data for %s yet\n", args[0])
		return
	}
	c.printf("%s  ts=%d change_id=%d\n", args[0], book.Timestamp, book.ChangeID)
	c.printf("  best bid: %.4f x %.4f\n", book.BestBidPrice, book.BestBidAmount)
	c.printf("  best ask: %.4f x %.4f\n", book.BestAskPrice, book.BestAskAmount)
	if book.BestBidPrice > 0 && book.BestAskPrice > 0 {
		c.printf("  spread: %.4f  mid: %.4f\n", book.Spread(), book.MidPrice())
	}
}

func (c *Console) cmdSymbols() {
	symbols := c.engine.Symbols()
	if len(symbols) == 0 {
		c.printf("no books yet\n")
		return
	}
	for _, sym := range symbols {
		c.printf("  %s\n", sym)
	}
}

func (c *Console) cmdOrder(ctx context.Context, side string, args []string) {
	if c.orders == nil {
		c.printf("trading unavailable: not authenticated\n")
		return
	}
	if len(args) < 2 || len(args) > 3 {
		c.printf("usage: %s <instrument> <amount> [price]\n", side)
		return
	}

	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		c.printf("bad amount %q\n", args[1])
		return
	}
	params := domain.OrderParams{
		InstrumentName: args[0],
		Amount:         amount,
		Type:           domain.OrderTypeMarket,
		Side:           side,
	}
	if len(args) == 3 {
		price, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			c.printf("bad price %q\n", args[2])
			return
		}
		params.Type = domain.OrderTypeLimit
		params.Price = price
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var orderID string
	if side == domain.SideSell {
		orderID, err = c.orders.PlaceSell(ctx, params)
	} else {
		orderID, err = c.orders.PlaceBuy(ctx, params)
	}
	if err != nil {
		c.printf("order failed: %v\n", err)
		return
	}
	c.printf("order placed: %s\n", orderID)
}

func (c *Console) cmdCancel(ctx context.Context, args []string) {
	if c.orders == nil {
		c.printf("trading unavailable: not authenticated\n")
		return
	}
	if len(args) != 1 {
		c.printf("usage: cancel <order_id>\n")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := c.orders.Cancel(ctx, args[0]); err != nil {
		c.printf("cancel failed: %v\n", err)
		return
	}
	c.printf("canceled %s\n", args[0])
}

func (c *Console) cmdModify(ctx context.Context, args []string) {
	if c.orders == nil {
		c.printf("trading unavailable: not authenticated\n")
		return
	}
	if len(args) != 3 {
		c.printf("usage: modify <order_id> <amount> <price>\n")
		return
	}
	amount, err1 := strconv.ParseFloat(args[1], 64)
	price, err2 := strconv.ParseFloat(args[2], 64)
	if err1 != nil || err2 != nil {
		c.printf("bad amount or price\n")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := c.orders.Modify(ctx, args[0], amount, price); err != nil {
		c.printf("modify failed: %v\n", err)
		return
	}
	c.printf("modified %s\n", args[0])
}

func (c *Console) cmdPositions(ctx context.Context, args []string) {
	if c.orders == nil {
		c.printf("trading unavailable: not authenticated\n")
		return
	}
	if len(args) != 1 {
		c.printf("usage: positions <currency>\n")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	positions, err := c.orders.GetPositions(ctx, args[0], "future")
	if err != nil {
		c.printf("positions failed: %v\n", err)
		return
	}
	if len(positions) == 0 {
		c.printf("no open positions\n")
		return
	}
	for _, p := range positions {
		c.printf("  %-20s %s %.4f @ %.4f  uPnL=%.6f rPnL=%.6f\n",
			p.InstrumentName, p.Direction, p.Size, p.AveragePrice,
			p.FloatingProfitLoss, p.RealizedProfitLoss)
	}
}

func (c *Console) cmdStats() {
	c.printf("queue: len=%d popped=%d dropped=%d\n",
		c.engine.QueueLen(), c.engine.PoppedCount(), c.engine.DroppedCount())
	if c.orders != nil {
		c.printf("orders pending: %d\n", c.orders.Pending())
	}
	if c.feed != nil {
		c.printf("feed connected: %v\n", c.feed.IsConnected())
	}

	summary := c.engine.LatencySummary()
	c.printStage("receive->enqueue", summary.ReceiveToEnqueue)
	c.printStage("enqueue->pop", summary.EnqueueToPop)
	c.printStage("pop->apply", summary.PopToApply)
	c.printStage("total", summary.Total)
}

func (c *Console) printStage(name string, s engine.StageStats) {
	if s.N == 0 {
		c.printf("%-18s no samples\n", name)
		return
	}
	c.printf("%-18s n=%d min=%v avg=%v p50=%v p95=%v p99=%v max=%v\n",
		name, s.N, s.Min, s.Avg, s.P50, s.P95, s.P99, s.Max)
}

func (c *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}
