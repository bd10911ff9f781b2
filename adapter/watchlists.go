package webull

import (
	"context"
	"fmt"
	"net/url"
)

// GetWatchlists lists the user's watchlists.
func (c *Client) GetWatchlists(ctx context.Context) ([]Watchlist, error) {
	lists, err := Get[[]Watchlist](ctx, c.dispatcher, "/api/wlas/watchlist", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlists: %w", err)
	}
	return lists, nil
}

func (c *Client) GetWatchlist(ctx context.Context, watchlistID string) (*Watchlist, error) {
	if watchlistID == "" {
		return nil, invalidRequest("watchlist id is required")
	}
	list, err := Get[Watchlist](ctx, c.dispatcher, "/api/wlas/watchlist/"+url.PathEscape(watchlistID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get watchlist %s: %w", watchlistID, err)
	}
	return &list, nil
}

func (c *Client) CreateWatchlist(ctx context.Context, req CreateWatchlistRequest) (*Watchlist, error) {
	if req.Name == "" {
		return nil, invalidRequest("watchlist name is required")
	}
	list, err := Post[Watchlist](ctx, c.dispatcher, "/api/wlas/watchlist", req)
	if err != nil {
		return nil, fmt.Errorf("failed to create watchlist: %w", err)
	}
	// a new list changes the GET /api/wlas/watchlist result
	c.dispatcher.invalidate("/api/wlas/watchlist", c.dispatcher.getCache)
	return &list, nil
}

// ModifyWatchlist renames a list and adds or removes symbols.
func (c *Client) ModifyWatchlist(ctx context.Context, req ModifyWatchlistRequest) (*Watchlist, error) {
	if req.ID == "" {
		return nil, invalidRequest("watchlist id is required")
	}
	list, err := Put[Watchlist](ctx, c.dispatcher, "/api/wlas/watchlist/modify", req)
	if err != nil {
		return nil, fmt.Errorf("failed to modify watchlist %s: %w", req.ID, err)
	}
	return &list, nil
}

func (c *Client) DeleteWatchlist(ctx context.Context, watchlistID string) (*Watchlist, error) {
	if watchlistID == "" {
		return nil, invalidRequest("watchlist id is required")
	}
	list, err := Delete[Watchlist](ctx, c.dispatcher, "/api/wlas/watchlist/delete/"+url.PathEscape(watchlistID))
	if err != nil {
		return nil, fmt.Errorf("failed to delete watchlist %s: %w", watchlistID, err)
	}
	return &list, nil
}
