package websocket

import (
	"fmt"
	"slices"
	"strings"

	webull "github.com/bjoelf/webull-adapter/adapter"
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", webull.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// subscriptionKey identifies a subscription independent of symbol order,
// e.g. "QUOTE:AAPL,MSFT" or "ORDER:acc-1".
func subscriptionKey(req SubscriptionRequest) string {
	if req.Type == SubscribeQuote {
		symbols := slices.Clone(req.Symbols)
		slices.Sort(symbols)
		return string(req.Type) + ":" + strings.Join(symbols, ",")
	}
	return string(req.Type) + ":" + req.AccountID
}
