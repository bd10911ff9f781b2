package webull

import (
	"context"
	"fmt"
	"net/url"
)

// PlaceOrder validates and places an order. Placement is never served from cache.
// Endpoint: POST /api/trade/order
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.logger.Info("Placing order",
		"function", "PlaceOrder",
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.OrderType,
		"quantity", req.Quantity.String())

	resp, err := Post[OrderResponse](ctx, c.dispatcher, "/api/trade/order", req)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}
	// cached order lists no longer reflect the new order
	c.dispatcher.invalidate("/api/trade", c.dispatcher.getCache, c.dispatcher.postCache)
	return &resp, nil
}

// ModifyOrder replaces the parameters of a working order.
// Endpoint: PUT /api/trade/modify/{id}
func (c *Client) ModifyOrder(ctx context.Context, orderID string, req OrderRequest) (*OrderResponse, error) {
	if orderID == "" {
		return nil, invalidRequest("order id is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := Put[OrderResponse](ctx, c.dispatcher, "/api/trade/modify/"+url.PathEscape(orderID), req)
	if err != nil {
		return nil, fmt.Errorf("failed to modify order %s: %w", orderID, err)
	}
	return &resp, nil
}

// CancelOrder cancels a working order.
// Endpoint: DELETE /api/trade/cancel/{id}
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*CancelOrderResponse, error) {
	if orderID == "" {
		return nil, invalidRequest("order id is required")
	}

	c.logger.Info("Cancelling order", "function", "CancelOrder", "order_id", orderID)

	resp, err := Delete[CancelOrderResponse](ctx, c.dispatcher, "/api/trade/cancel/"+url.PathEscape(orderID))
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return &resp, nil
}

// GetOrder returns one order.
// Endpoint: GET /api/trade/order/{id}
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, invalidRequest("order id is required")
	}
	order, err := Get[Order](ctx, c.dispatcher, "/api/trade/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}
	return &order, nil
}

// GetOrders queries orders by status, symbol and date range.
// Endpoint: POST /api/trade/orders
func (c *Client) GetOrders(ctx context.Context, params OrderQueryParams) ([]Order, error) {
	orders, err := Query[[]Order](ctx, c.dispatcher, "/api/trade/orders", params)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return orders, nil
}

// GetActiveOrders lists working orders.
// Endpoint: GET /api/trade/active
func (c *Client) GetActiveOrders(ctx context.Context) ([]Order, error) {
	orders, err := Get[[]Order](ctx, c.dispatcher, "/api/trade/active", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get active orders: %w", err)
	}
	return orders, nil
}

// GetFilledOrders lists filled orders.
// Endpoint: GET /api/trade/filled
func (c *Client) GetFilledOrders(ctx context.Context) ([]Order, error) {
	orders, err := Get[[]Order](ctx, c.dispatcher, "/api/trade/filled", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get filled orders: %w", err)
	}
	return orders, nil
}

// GetOpenOrders lists open orders of one account.
// Endpoint: GET /api/trade/account/{id}/orders/open
func (c *Client) GetOpenOrders(ctx context.Context, accountID string) ([]Order, error) {
	if accountID == "" {
		return nil, invalidRequest("account id is required")
	}
	orders, err := Get[[]Order](ctx, c.dispatcher, "/api/trade/account/"+url.PathEscape(accountID)+"/orders/open", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders for %s: %w", accountID, err)
	}
	return orders, nil
}
