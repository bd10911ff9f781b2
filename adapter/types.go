package webull

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// ACCOUNT TYPES
// ============================================================================

type AccountType string

const (
	AccountTypeCash   AccountType = "CASH"
	AccountTypeMargin AccountType = "MARGIN"
	AccountTypeIRA    AccountType = "IRA"
)

type AccountStatus string

const (
	AccountStatusActive     AccountStatus = "ACTIVE"
	AccountStatusInactive   AccountStatus = "INACTIVE"
	AccountStatusRestricted AccountStatus = "RESTRICTED"
	AccountStatusClosed     AccountStatus = "CLOSED"
)

// Account is one brokerage account of the logged in user.
type Account struct {
	ID            string        `json:"id"`
	AccountNumber string        `json:"account_number"`
	AccountType   AccountType   `json:"account_type"`
	Status        AccountStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	Currency      string        `json:"currency"`
	PaperTrading  bool          `json:"paper_trading"`
	Region        string        `json:"region,omitempty"`
	Name          string        `json:"name,omitempty"`
}

// AccountBalance is the asset summary of an account.
type AccountBalance struct {
	Cash                 decimal.Decimal  `json:"cash"`
	BuyingPower          decimal.Decimal  `json:"buying_power"`
	MarketValue          decimal.Decimal  `json:"market_value"`
	TotalValue           decimal.Decimal  `json:"total_value"`
	UnrealizedProfitLoss decimal.Decimal  `json:"unrealized_profit_loss"`
	Currency             string           `json:"currency"`
	SettledCash          *decimal.Decimal `json:"settled_cash,omitempty"`
	UnsettledCash        *decimal.Decimal `json:"unsettled_cash,omitempty"`
	WithdrawableCash     *decimal.Decimal `json:"withdrawable_cash,omitempty"`
	DayTradingPower      *decimal.Decimal `json:"day_trading_buying_power,omitempty"`
}

// Position is a holding in an account.
type Position struct {
	Symbol               string          `json:"symbol"`
	Quantity             decimal.Decimal `json:"quantity"`
	AverageCost          decimal.Decimal `json:"average_cost"`
	MarketValue          decimal.Decimal `json:"market_value"`
	UnrealizedProfitLoss decimal.Decimal `json:"unrealized_profit_loss"`
	Currency             string          `json:"currency"`
}

// Trade is one execution in the trade history.
type Trade struct {
	ID         string          `json:"id"`
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       OrderSide       `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// AccountProfile holds the owner details of an account.
type AccountProfile struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Region    string `json:"region,omitempty"`
}

// ============================================================================
// ORDER TYPES
// ============================================================================

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusPending         OrderStatus = "PENDING"
)

type OrderSide string

const (
	OrderSideBuy        OrderSide = "BUY"
	OrderSideSell       OrderSide = "SELL"
	OrderSideSellShort  OrderSide = "SELL_SHORT"
	OrderSideBuyToCover OrderSide = "BUY_TO_COVER"
)

type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP_LOSS"
	OrderTypeStopLimit    OrderType = "STOP_LOSS_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP_LOSS"
)

type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// Order is an order as reported by the API.
type Order struct {
	ID               string           `json:"id"`
	Symbol           string           `json:"symbol"`
	Quantity         decimal.Decimal  `json:"quantity"`
	FilledQuantity   decimal.Decimal  `json:"filled_quantity"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	StopPrice        *decimal.Decimal `json:"stop_price,omitempty"`
	Status           OrderStatus      `json:"status"`
	Side             OrderSide        `json:"side"`
	OrderType        OrderType        `json:"order_type"`
	TimeInForce      TimeInForce      `json:"time_in_force"`
	ExtendedHours    bool             `json:"extended_hours"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	AverageFillPrice *decimal.Decimal `json:"average_fill_price,omitempty"`
	RejectedReason   string           `json:"rejected_reason,omitempty"`
}

// OrderRequest places or modifies an order.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Quantity      decimal.Decimal  `json:"quantity"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	Side          OrderSide        `json:"side"`
	OrderType     OrderType        `json:"order_type"`
	TimeInForce   TimeInForce      `json:"time_in_force"`
	ExtendedHours bool             `json:"extended_hours"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
}

// NewMarketOrder builds a day market order.
func NewMarketOrder(symbol string, side OrderSide, quantity decimal.Decimal) OrderRequest {
	return OrderRequest{
		Symbol:      symbol,
		Quantity:    quantity,
		Side:        side,
		OrderType:   OrderTypeMarket,
		TimeInForce: TimeInForceDay,
	}
}

// NewLimitOrder builds a day limit order.
func NewLimitOrder(symbol string, side OrderSide, quantity, price decimal.Decimal) OrderRequest {
	o := NewMarketOrder(symbol, side, quantity)
	o.OrderType = OrderTypeLimit
	o.Price = &price
	return o
}

// Validate checks the request before it is sent.
func (o OrderRequest) Validate() error {
	if o.Symbol == "" {
		return invalidRequest("order symbol is required")
	}
	if !o.Quantity.IsPositive() {
		return invalidRequest("order quantity must be positive, got %s", o.Quantity)
	}
	switch o.OrderType {
	case OrderTypeLimit:
		if o.Price == nil {
			return invalidRequest("limit order requires a price")
		}
	case OrderTypeStop:
		if o.StopPrice == nil {
			return invalidRequest("stop order requires a stop price")
		}
	case OrderTypeStopLimit:
		if o.Price == nil || o.StopPrice == nil {
			return invalidRequest("stop limit order requires price and stop price")
		}
	}
	return nil
}

// OrderResponse is returned by place and modify.
type OrderResponse struct {
	ID        string      `json:"id"`
	Status    OrderStatus `json:"status"`
	Symbol    string      `json:"symbol"`
	CreatedAt time.Time   `json:"created_at"`
}

// CancelOrderResponse is returned by cancel.
type CancelOrderResponse struct {
	ID     string      `json:"id"`
	Status OrderStatus `json:"status"`
}

// OrderQueryParams filters the order query.
type OrderQueryParams struct {
	Status    OrderStatus `json:"status,omitempty"`
	Symbol    string      `json:"symbol,omitempty"`
	StartDate *time.Time  `json:"start_date,omitempty"`
	EndDate   *time.Time  `json:"end_date,omitempty"`
	Page      int         `json:"page,omitempty"`
	PageSize  int         `json:"page_size,omitempty"`
}

// ============================================================================
// MARKET DATA TYPES
// ============================================================================

// Quote is a real-time quote.
type Quote struct {
	Symbol        string          `json:"symbol"`
	LastPrice     decimal.Decimal `json:"last_price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        int64           `json:"volume"`
	BidPrice      decimal.Decimal `json:"bid_price"`
	BidSize       int64           `json:"bid_size"`
	AskPrice      decimal.Decimal `json:"ask_price"`
	AskSize       int64           `json:"ask_size"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	PrevClose     decimal.Decimal `json:"prev_close"`
	Timestamp     time.Time       `json:"timestamp"`
}

type TimeFrame string

const (
	TimeFrameMinute1  TimeFrame = "m1"
	TimeFrameMinute5  TimeFrame = "m5"
	TimeFrameMinute15 TimeFrame = "m15"
	TimeFrameMinute30 TimeFrame = "m30"
	TimeFrameHour1    TimeFrame = "h1"
	TimeFrameHour4    TimeFrame = "h4"
	TimeFrameDay1     TimeFrame = "d1"
	TimeFrameWeek1    TimeFrame = "w1"
	TimeFrameMonth1   TimeFrame = "mth1"
)

// Bar is one OHLCV candle.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

const maxBarCount = 1200

// BarQueryParams requests historical bars.
type BarQueryParams struct {
	Symbol    string    `json:"symbol"`
	Category  string    `json:"category"`
	TimeFrame TimeFrame `json:"timespan"`
	Count     string    `json:"count"`
}

// SnapshotParams requests quote snapshots.
type SnapshotParams struct {
	Symbols  []string `json:"symbols"`
	Category string   `json:"category"`
}

// NewsArticle is one market news item.
type NewsArticle struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	Symbols     []string  `json:"symbols,omitempty"`
}

// NewsQueryParams filters news.
type NewsQueryParams struct {
	Symbol string `json:"symbol,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Instrument describes a tradable security.
type Instrument struct {
	InstrumentID string `json:"instrument_id"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Exchange     string `json:"exchange"`
	Currency     string `json:"currency"`
	Category     string `json:"category"`
	Tradable     bool   `json:"tradable"`
}

// InstrumentParams looks up instruments by symbol.
type InstrumentParams struct {
	Symbols  []string `json:"symbols"`
	Category string   `json:"category"`
}

// ============================================================================
// WATCHLIST TYPES
// ============================================================================

type Watchlist struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

type CreateWatchlistRequest struct {
	Name    string   `json:"name"`
	Symbols []string `json:"symbols"`
}

// ModifyWatchlistRequest renames a watchlist and adds or removes symbols.
type ModifyWatchlistRequest struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	AddSymbols    []string `json:"add_symbols,omitempty"`
	RemoveSymbols []string `json:"remove_symbols,omitempty"`
}
