package websocket

// SubscriptionType selects the feed of a subscription request.
type SubscriptionType string

const (
	SubscribeQuote   SubscriptionType = "QUOTE"
	SubscribeOrder   SubscriptionType = "ORDER"
	SubscribeAccount SubscriptionType = "ACCOUNT"
	SubscribeTrade   SubscriptionType = "TRADE"
)

// SubscriptionRequest is the payload of SUBSCRIBE and UNSUBSCRIBE control
// messages. Quote feeds are keyed by symbol, the others by account.
type SubscriptionRequest struct {
	Type      SubscriptionType `json:"type"`
	Symbols   []string         `json:"symbols,omitempty"`
	AccountID string           `json:"account_id,omitempty"`
}

func QuoteSubscription(symbols ...string) SubscriptionRequest {
	return SubscriptionRequest{Type: SubscribeQuote, Symbols: symbols}
}

func OrderSubscription(accountID string) SubscriptionRequest {
	return SubscriptionRequest{Type: SubscribeOrder, AccountID: accountID}
}

func AccountSubscription(accountID string) SubscriptionRequest {
	return SubscriptionRequest{Type: SubscribeAccount, AccountID: accountID}
}

func TradeSubscription(accountID string) SubscriptionRequest {
	return SubscriptionRequest{Type: SubscribeTrade, AccountID: accountID}
}

func (r SubscriptionRequest) validate() error {
	switch r.Type {
	case SubscribeQuote:
		if len(r.Symbols) == 0 {
			return invalid("quote subscription requires at least one symbol")
		}
	case SubscribeOrder, SubscribeAccount, SubscribeTrade:
		if r.AccountID == "" {
			return invalid("%s subscription requires an account id", r.Type)
		}
	default:
		return invalid("unknown subscription type %q", r.Type)
	}
	return nil
}

// controlMessage is the frame sent for subscribe and unsubscribe.
type controlMessage struct {
	Action  string              `json:"action"`
	Request SubscriptionRequest `json:"request"`
}
