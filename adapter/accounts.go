package webull

import (
	"context"
	"fmt"
	"net/url"
)

// GetAccounts lists the brokerage accounts of the logged in user.
// Endpoint: GET /api/account/getSecAccountList
func (c *Client) GetAccounts(ctx context.Context) ([]Account, error) {
	accounts, err := Get[[]Account](ctx, c.dispatcher, "/api/account/getSecAccountList", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	return accounts, nil
}

// GetAccount returns one account.
// Endpoint: GET /api/account/getAccountMembers/{id}
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	if accountID == "" {
		return nil, invalidRequest("account id is required")
	}
	account, err := Get[Account](ctx, c.dispatcher, "/api/account/getAccountMembers/"+url.PathEscape(accountID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", accountID, err)
	}
	return &account, nil
}

// GetAccountBalance returns the asset summary of an account.
// Endpoint: GET /api/asset/getAssetSummary/{id}
func (c *Client) GetAccountBalance(ctx context.Context, accountID string) (*AccountBalance, error) {
	if accountID == "" {
		return nil, invalidRequest("account id is required")
	}
	balance, err := Get[AccountBalance](ctx, c.dispatcher, "/api/asset/getAssetSummary/"+url.PathEscape(accountID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for %s: %w", accountID, err)
	}
	return &balance, nil
}

// GetPositions lists the holdings of an account.
// Endpoint: GET /api/position/getUserPositions/{id}
func (c *Client) GetPositions(ctx context.Context, accountID string) ([]Position, error) {
	if accountID == "" {
		return nil, invalidRequest("account id is required")
	}
	positions, err := Get[[]Position](ctx, c.dispatcher, "/api/position/getUserPositions/"+url.PathEscape(accountID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions for %s: %w", accountID, err)
	}
	return positions, nil
}

// GetTradeHistory lists executions of an account.
// Endpoint: GET /api/trade/history/{id}
func (c *Client) GetTradeHistory(ctx context.Context, accountID string) ([]Trade, error) {
	if accountID == "" {
		return nil, invalidRequest("account id is required")
	}
	trades, err := Get[[]Trade](ctx, c.dispatcher, "/api/trade/history/"+url.PathEscape(accountID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history for %s: %w", accountID, err)
	}
	return trades, nil
}

// GetAccountProfile returns owner details.
// Endpoint: GET /api/account/profile/{id}
func (c *Client) GetAccountProfile(ctx context.Context, accountID string) (*AccountProfile, error) {
	if accountID == "" {
		return nil, invalidRequest("account id is required")
	}
	profile, err := Get[AccountProfile](ctx, c.dispatcher, "/api/account/profile/"+url.PathEscape(accountID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile for %s: %w", accountID, err)
	}
	return &profile, nil
}
