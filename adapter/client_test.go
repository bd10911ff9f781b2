package webull

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mock *MockWebullServer, opts ...Option) *Client {
	t.Helper()
	cfg := Defaults()
	cfg.BaseURL = mock.GetBaseURL()
	cfg.PaperBaseURL = mock.GetBaseURL()

	client, err := NewClient(cfg, append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func loggedInClient(t *testing.T, mock *MockWebullServer, opts ...Option) *Client {
	t.Helper()
	client := newTestClient(t, mock, opts...)
	_, err := client.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	return client
}

func lastBody(t *testing.T, mock *MockWebullServer, method, path string) map[string]any {
	t.Helper()
	requests := mock.GetRequests()
	for i := len(requests) - 1; i >= 0; i-- {
		if requests[i].Method == method && requests[i].Path == path {
			var body map[string]any
			require.NoError(t, json.Unmarshal([]byte(requests[i].Body), &body))
			return body
		}
	}
	t.Fatalf("no %s %s request recorded", method, path)
	return nil
}

func TestNewClient_InvalidConfig(t *testing.T) {
	cfg := Defaults()
	cfg.HTTP.Timeout = 0
	_, err := NewClient(cfg)
	assert.Error(t, err)
}

func TestClient_RequiresLogin(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()

	client := newTestClient(t, mock)
	_, err := client.GetAccounts(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, mock.CountRequests(http.MethodGet, "/api/account/getSecAccountList"))
}

func TestClient_Accounts(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()
	mock.SetEnvelope(http.MethodGet, "/api/account/getSecAccountList", []Account{
		{ID: "acc-1", AccountType: AccountTypeMargin, Status: AccountStatusActive, Currency: "USD"},
	})
	mock.SetEnvelope(http.MethodGet, "/api/asset/getAssetSummary/acc-1", map[string]any{
		"cash": "1500.25", "buying_power": "3000.50", "currency": "USD",
	})
	mock.SetEnvelope(http.MethodGet, "/api/position/getUserPositions/acc-1", []map[string]any{
		{"symbol": "AAPL", "quantity": "10", "average_cost": "170.10"},
	})

	client := loggedInClient(t, mock)
	ctx := context.Background()

	accounts, err := client.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acc-1", accounts[0].ID)
	assert.Equal(t, AccountTypeMargin, accounts[0].AccountType)

	balance, err := client.GetAccountBalance(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1500.25").Equal(balance.Cash))
	assert.True(t, decimal.RequireFromString("3000.50").Equal(balance.BuyingPower))

	positions, err := client.GetPositions(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(positions[0].Quantity))

	requests := mock.GetRequests()
	assert.Equal(t, "Bearer mock_access_token", requests[len(requests)-1].Headers["Authorization"])

	_, err = client.GetAccount(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClient_PlaceOrder(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()
	mock.SetEnvelope(http.MethodPost, "/api/trade/order", OrderResponse{ID: "ord-1", Status: OrderStatusNew, Symbol: "AAPL"})
	mock.SetEnvelope(http.MethodGet, "/api/trade/active", []Order{})

	client := loggedInClient(t, mock)
	ctx := context.Background()

	t.Run("validation happens before the network", func(t *testing.T) {
		bad := NewMarketOrder("AAPL", OrderSideBuy, decimal.Zero)
		_, err := client.PlaceOrder(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		limit := NewMarketOrder("AAPL", OrderSideBuy, decimal.NewFromInt(1))
		limit.OrderType = OrderTypeLimit
		_, err = client.PlaceOrder(ctx, limit)
		assert.ErrorIs(t, err, ErrInvalidRequest)

		assert.Zero(t, mock.CountRequests(http.MethodPost, "/api/trade/order"))
	})

	t.Run("sends the order and refreshes cached lists", func(t *testing.T) {
		_, err := client.GetActiveOrders(ctx)
		require.NoError(t, err)

		order := NewLimitOrder("AAPL", OrderSideBuy, decimal.NewFromInt(5), decimal.RequireFromString("180.50"))
		resp, err := client.PlaceOrder(ctx, order)
		require.NoError(t, err)
		assert.Equal(t, "ord-1", resp.ID)

		body := lastBody(t, mock, http.MethodPost, "/api/trade/order")
		assert.Equal(t, "AAPL", body["symbol"])
		assert.Equal(t, "LIMIT", body["order_type"])
		assert.Equal(t, "180.5", body["price"])

		_, err = client.GetActiveOrders(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, mock.CountRequests(http.MethodGet, "/api/trade/active"))
	})

	t.Run("placement is never cached", func(t *testing.T) {
		order := NewMarketOrder("MSFT", OrderSideSell, decimal.NewFromInt(1))
		for i := 0; i < 2; i++ {
			_, err := client.PlaceOrder(ctx, order)
			require.NoError(t, err)
		}
		assert.Equal(t, 3, mock.CountRequests(http.MethodPost, "/api/trade/order"))
	})
}

func TestClient_CancelInvalidatesOrders(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()
	mock.SetEnvelope(http.MethodGet, "/api/trade/order/ord-1", Order{ID: "ord-1", Status: OrderStatusNew})
	mock.SetEnvelope(http.MethodDelete, "/api/trade/cancel/ord-1", CancelOrderResponse{ID: "ord-1", Status: OrderStatusCancelled})

	client := loggedInClient(t, mock)
	ctx := context.Background()

	_, err := client.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	_, err = client.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.CountRequests(http.MethodGet, "/api/trade/order/ord-1"))

	resp, err := client.CancelOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCancelled, resp.Status)

	_, err = client.GetOrder(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.CountRequests(http.MethodGet, "/api/trade/order/ord-1"))
}

func TestClient_MarketData(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()
	mock.SetEnvelope(http.MethodGet, "/api/quote/tickerRealTimes/AAPL", map[string]any{"symbol": "AAPL", "last_price": "181.20"})
	mock.SetEnvelope(http.MethodPost, "/api/quote/history/bars", []map[string]any{{"symbol": "AAPL", "close": "180"}})
	mock.SetEnvelope(http.MethodPost, "/api/quote/snapshot", []map[string]any{{"symbol": "AAPL"}})

	client := loggedInClient(t, mock)
	ctx := context.Background()

	quote, err := client.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("181.20").Equal(quote.LastPrice))

	bars, err := client.GetHistoryBars(ctx, NewBarQuery("AAPL", TimeFrameDay1, 5000))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	body := lastBody(t, mock, http.MethodPost, "/api/quote/history/bars")
	assert.Equal(t, "1200", body["count"])
	assert.Equal(t, "US_STOCK", body["category"])
	assert.Equal(t, "d1", body["timespan"])

	_, err = client.GetHistoryBars(ctx, BarQueryParams{Symbol: "AAPL", Count: "0"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = client.GetSnapshot(ctx, SnapshotParams{Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	assert.Equal(t, "US_STOCK", lastBody(t, mock, http.MethodPost, "/api/quote/snapshot")["category"])

	_, err = client.GetQuotes(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClient_Watchlists(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()
	mock.SetEnvelope(http.MethodGet, "/api/wlas/watchlist", []Watchlist{{ID: "w1", Name: "Tech"}})
	mock.SetEnvelope(http.MethodPost, "/api/wlas/watchlist", Watchlist{ID: "w2", Name: "Energy"})
	mock.SetEnvelope(http.MethodPut, "/api/wlas/watchlist/modify", Watchlist{ID: "w2", Name: "Energy+"})

	client := loggedInClient(t, mock)
	ctx := context.Background()

	_, err := client.GetWatchlists(ctx)
	require.NoError(t, err)

	created, err := client.CreateWatchlist(ctx, CreateWatchlistRequest{Name: "Energy", Symbols: []string{"XOM"}})
	require.NoError(t, err)
	assert.Equal(t, "w2", created.ID)

	_, err = client.GetWatchlists(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.CountRequests(http.MethodGet, "/api/wlas/watchlist"))

	modified, err := client.ModifyWatchlist(ctx, ModifyWatchlistRequest{ID: "w2", Name: "Energy+"})
	require.NoError(t, err)
	assert.Equal(t, "Energy+", modified.Name)

	_, err = client.CreateWatchlist(ctx, CreateWatchlistRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestClient_LoginAndLogout(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()
	mock.SetEnvelope(http.MethodGet, "/api/wlas/watchlist", []Watchlist{})

	client := loggedInClient(t, mock)
	ctx := context.Background()
	assert.True(t, client.IsAuthenticated(ctx))

	username, err := client.RememberedUsername(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	_, err = client.GetWatchlists(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Logout(ctx))
	assert.False(t, client.IsAuthenticated(ctx))

	username, err = client.RememberedUsername(ctx)
	require.NoError(t, err)
	assert.Empty(t, username)

	_, err = client.LoginWithRemembered(ctx)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = client.GetWatchlists(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized, "cached responses are not served after logout")
}

func TestClient_LoginWithRemembered(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()

	client := loggedInClient(t, mock)
	ctx := context.Background()

	token, err := client.LoginWithRemembered(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mock_access_token", token.Token)
	assert.Equal(t, 2, mock.CountRequests(http.MethodPost, loginPath))
}

func TestClient_PaperTrading(t *testing.T) {
	live := NewMockWebullServer()
	defer live.Close()
	paper := NewMockWebullServer()
	defer paper.Close()
	paper.SetEnvelope(http.MethodGet, "/api/account/getSecAccountList", []Account{{ID: "paper-1", PaperTrading: true}})

	cfg := Defaults()
	cfg.BaseURL = live.GetBaseURL()
	cfg.PaperBaseURL = paper.GetBaseURL()

	client, err := NewClient(cfg, WithLogger(testLogger()))
	require.NoError(t, err)
	defer client.Close()
	assert.False(t, client.IsPaperTrading())

	paperClient, err := client.PaperTrading()
	require.NoError(t, err)
	defer paperClient.Close()
	assert.True(t, paperClient.IsPaperTrading())

	ctx := context.Background()
	_, err = paperClient.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	assert.False(t, client.IsAuthenticated(ctx), "sessions are not shared")

	accounts, err := paperClient.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "paper-1", accounts[0].ID)
	assert.Empty(t, live.GetRequests())
}

func TestClient_Metrics(t *testing.T) {
	mock := NewMockWebullServer()
	defer mock.Close()
	mock.SetEnvelope(http.MethodGet, "/api/wlas/watchlist", []Watchlist{})

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	client := loggedInClient(t, mock, WithMetrics(metrics))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.GetWatchlists(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues(http.MethodGet, "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses.WithLabelValues("get")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.cacheHits.WithLabelValues("get")))

	_, err := client.PaperTrading()
	require.NoError(t, err, "a paper client reuses the registered metrics")
}
