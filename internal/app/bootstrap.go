package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deribit_go/internal/domain"
	"deribit_go/internal/infra"
	"deribit_go/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage

	httpClient *http.Client
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Initialize performs core system initialization (Config, Logger, DB)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Deribit Gateway...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage()
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	return nil
}

// SyncInstruments refreshes local instrument metadata from the public
// instrument listing. One request per currency covered by the configured
// symbols; failures are logged and leave stale rows in place.
func (b *Bootstrap) SyncInstruments(ctx context.Context) {
	slog.Info("🔄 Starting instrument synchronization...")

	currencies := make(map[string]bool)
	for _, sym := range b.Config.API.Deribit.Symbols {
		if cur, ok := currencyOf(sym); ok {
			currencies[cur] = true
		}
	}

	total := 0
	for cur := range currencies {
		select {
		case <-ctx.Done():
			return
		default:
		}

		insts, err := b.fetchInstruments(ctx, cur)
		if err != nil {
			slog.Warn("Instrument fetch failed",
				slog.String("currency", cur), slog.Any("error", err))
			continue
		}

		now := time.Now()
		for i := range insts {
			insts[i].LastSyncedAt = now
			if err := b.Storage.UpsertInstrument(&insts[i]); err != nil {
				slog.Error("Failed to upsert instrument",
					slog.String("instrument", insts[i].InstrumentName),
					slog.Any("error", err))
				continue
			}
			total++
		}
	}

	slog.Info("✨ Instrument synchronization completed", slog.Int("instruments", total))
}

func (b *Bootstrap) fetchInstruments(ctx context.Context, currency string) ([]domain.InstrumentInfo, error) {
	q := url.Values{}
	q.Set("currency", currency)
	q.Set("kind", "future")

	endpoint := b.Config.API.Deribit.BaseURL + "/public/get_instruments?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError("get_instruments", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get_instruments: status=%d", resp.StatusCode)
	}

	var parsed struct {
		Result []struct {
			InstrumentName string  `json:"instrument_name"`
			Kind           string  `json:"kind"`
			BaseCurrency   string  `json:"base_currency"`
			QuoteCurrency  string  `json:"quote_currency"`
			TickSize       float64 `json:"tick_size"`
			MinTradeAmount float64 `json:"min_trade_amount"`
			IsActive       bool    `json:"is_active"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("get_instruments parse: %w", err)
	}

	insts := make([]domain.InstrumentInfo, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		insts = append(insts, domain.InstrumentInfo{
			InstrumentName: r.InstrumentName,
			Kind:           r.Kind,
			BaseCurrency:   r.BaseCurrency,
			QuoteCurrency:  r.QuoteCurrency,
			TickSize:       r.TickSize,
			MinTradeAmount: r.MinTradeAmount,
			IsActive:       r.IsActive,
		})
	}
	return insts, nil
}

// currencyOf extracts the base currency from an instrument name,
// e.g. "BTC-PERPETUAL" -> "BTC".
func currencyOf(symbol string) (string, bool) {
	dash := strings.IndexByte(symbol, '-')
	if dash <= 0 {
		return "", false
	}
	return symbol[:dash], true
}
