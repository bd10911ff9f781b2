package webull

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

const categoryStock = "US_STOCK"

// GetQuote returns the real-time quote of one symbol.
// Endpoint: GET /api/quote/tickerRealTimes/{symbol}
func (c *Client) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	if symbol == "" {
		return nil, invalidRequest("symbol is required")
	}
	quote, err := Get[Quote](ctx, c.dispatcher, "/api/quote/tickerRealTimes/"+url.PathEscape(symbol), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	return &quote, nil
}

// GetQuotes returns real-time quotes of several symbols.
// Endpoint: POST /api/quote/tickerRealTimes
func (c *Client) GetQuotes(ctx context.Context, symbols []string) ([]Quote, error) {
	if len(symbols) == 0 {
		return nil, invalidRequest("at least one symbol is required")
	}
	body := struct {
		Symbols []string `json:"symbols"`
	}{Symbols: symbols}

	quotes, err := Query[[]Quote](ctx, c.dispatcher, "/api/quote/tickerRealTimes", body)
	if err != nil {
		return nil, fmt.Errorf("failed to get quotes: %w", err)
	}
	return quotes, nil
}

// GetSnapshot returns quote snapshots.
// Endpoint: POST /api/quote/snapshot
func (c *Client) GetSnapshot(ctx context.Context, params SnapshotParams) ([]Quote, error) {
	if len(params.Symbols) == 0 {
		return nil, invalidRequest("at least one symbol is required")
	}
	if params.Category == "" {
		params.Category = categoryStock
	}
	quotes, err := Query[[]Quote](ctx, c.dispatcher, "/api/quote/snapshot", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return quotes, nil
}

// NewBarQuery builds stock bar parameters. count is clamped to 1..1200.
func NewBarQuery(symbol string, timeFrame TimeFrame, count int) BarQueryParams {
	if count < 1 {
		count = 1
	}
	if count > maxBarCount {
		count = maxBarCount
	}
	return BarQueryParams{
		Symbol:    symbol,
		Category:  categoryStock,
		TimeFrame: timeFrame,
		Count:     strconv.Itoa(count),
	}
}

// GetHistoryBars returns historical OHLCV bars.
// Endpoint: POST /api/quote/history/bars
func (c *Client) GetHistoryBars(ctx context.Context, params BarQueryParams) ([]Bar, error) {
	if params.Symbol == "" {
		return nil, invalidRequest("symbol is required")
	}
	if n, err := strconv.Atoi(params.Count); err != nil || n < 1 || n > maxBarCount {
		return nil, invalidRequest("bar count must be between 1 and %d, got %q", maxBarCount, params.Count)
	}

	bars, err := Query[[]Bar](ctx, c.dispatcher, "/api/quote/history/bars", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get bars for %s: %w", params.Symbol, err)
	}
	return bars, nil
}

// GetNews returns market news.
// Endpoint: POST /api/securities/news/list
func (c *Client) GetNews(ctx context.Context, params NewsQueryParams) ([]NewsArticle, error) {
	news, err := Query[[]NewsArticle](ctx, c.dispatcher, "/api/securities/news/list", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get news: %w", err)
	}
	return news, nil
}

// GetInstruments looks up instrument details.
// Endpoint: POST /api/quote/instruments
func (c *Client) GetInstruments(ctx context.Context, params InstrumentParams) ([]Instrument, error) {
	if len(params.Symbols) == 0 {
		return nil, invalidRequest("at least one symbol is required")
	}
	if params.Category == "" {
		params.Category = categoryStock
	}
	instruments, err := Query[[]Instrument](ctx, c.dispatcher, "/api/quote/instruments", params)
	if err != nil {
		return nil, fmt.Errorf("failed to get instruments: %w", err)
	}
	return instruments, nil
}

// GetMarketCalendar returns the trading calendar.
// Endpoint: GET /api/securities/financial/calendar
func (c *Client) GetMarketCalendar(ctx context.Context) ([]string, error) {
	days, err := Get[[]string](ctx, c.dispatcher, "/api/securities/financial/calendar", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get market calendar: %w", err)
	}
	return days, nil
}
