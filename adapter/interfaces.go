package webull

import (
	"context"
	"net/http"
)

// ============================================================================
// INTERFACES - Contracts implemented by *Client
// ============================================================================
// Services should depend on the narrow interface they need so tests can
// substitute fakes, e.g. func NewRebalancer(orders OrderClient, accounts AccountClient).
// ============================================================================

// AuthClient covers the session lifecycle.
type AuthClient interface {
	Login(ctx context.Context, username, password string) (AccessToken, error)
	VerifyMFA(ctx context.Context, code string) (AccessToken, error)
	RefreshToken(ctx context.Context) (AccessToken, error)
	Logout(ctx context.Context) error
	IsAuthenticated(ctx context.Context) bool
	GetHTTPClient(ctx context.Context) *http.Client
}

// AccountClient covers account, balance and position queries.
type AccountClient interface {
	GetAccounts(ctx context.Context) ([]Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	GetAccountBalance(ctx context.Context, accountID string) (*AccountBalance, error)
	GetPositions(ctx context.Context, accountID string) ([]Position, error)
	GetTradeHistory(ctx context.Context, accountID string) ([]Trade, error)
	GetAccountProfile(ctx context.Context, accountID string) (*AccountProfile, error)
}

// OrderClient covers order placement and queries.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	ModifyOrder(ctx context.Context, orderID string, req OrderRequest) (*OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (*CancelOrderResponse, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrders(ctx context.Context, params OrderQueryParams) ([]Order, error)
	GetActiveOrders(ctx context.Context) ([]Order, error)
	GetFilledOrders(ctx context.Context) ([]Order, error)
	GetOpenOrders(ctx context.Context, accountID string) ([]Order, error)
}

// MarketDataClient covers quotes, bars, news and instruments.
type MarketDataClient interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetQuotes(ctx context.Context, symbols []string) ([]Quote, error)
	GetSnapshot(ctx context.Context, params SnapshotParams) ([]Quote, error)
	GetHistoryBars(ctx context.Context, params BarQueryParams) ([]Bar, error)
	GetNews(ctx context.Context, params NewsQueryParams) ([]NewsArticle, error)
	GetInstruments(ctx context.Context, params InstrumentParams) ([]Instrument, error)
	GetMarketCalendar(ctx context.Context) ([]string, error)
}

// WatchlistClient covers watchlist management.
type WatchlistClient interface {
	GetWatchlists(ctx context.Context) ([]Watchlist, error)
	GetWatchlist(ctx context.Context, watchlistID string) (*Watchlist, error)
	CreateWatchlist(ctx context.Context, req CreateWatchlistRequest) (*Watchlist, error)
	ModifyWatchlist(ctx context.Context, req ModifyWatchlistRequest) (*Watchlist, error)
	DeleteWatchlist(ctx context.Context, watchlistID string) (*Watchlist, error)
}

// BrokerClient combines every focused interface.
type BrokerClient interface {
	AuthClient
	AccountClient
	OrderClient
	MarketDataClient
	WatchlistClient
}

var _ BrokerClient = (*Client)(nil)
