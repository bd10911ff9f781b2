package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	webull "github.com/bjoelf/webull-adapter/adapter"
)

// EventType tags every streaming event.
type EventType string

const (
	EventQuote        EventType = "QUOTE"
	EventOrder        EventType = "ORDER"
	EventAccount      EventType = "ACCOUNT"
	EventTrade        EventType = "TRADE"
	EventConnection   EventType = "CONNECTION"
	EventSubscription EventType = "SUBSCRIPTION"
	EventError        EventType = "ERROR"
	EventHeartbeat    EventType = "HEARTBEAT"
	EventUnknown      EventType = "UNKNOWN"
)

// ConnectionState is the status carried by CONNECTION events.
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "CONNECTED"
	ConnectionDisconnected ConnectionState = "DISCONNECTED"
	ConnectionReconnecting ConnectionState = "RECONNECTING"
	ConnectionFailed       ConnectionState = "FAILED"
)

type SubscriptionState string

const (
	SubscriptionSubscribed   SubscriptionState = "SUBSCRIBED"
	SubscriptionUnsubscribed SubscriptionState = "UNSUBSCRIBED"
	SubscriptionFailed       SubscriptionState = "FAILED"
)

// Error codes of locally generated ERROR events.
const (
	ErrCodeAuth      = "AUTH_ERROR"
	ErrCodeConnect   = "WS_CONNECT_ERROR"
	ErrCodeRead      = "WS_ERROR"
	ErrCodeParse     = "PARSE_ERROR"
	ErrCodePong      = "PONG_ERROR"
	ErrCodeHeartbeat = "HEARTBEAT_ERROR"
)

type ConnectionStatus struct {
	Status       ConnectionState `json:"status"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Message      string          `json:"message,omitempty"`
}

type SubscriptionStatus struct {
	SubscriptionID string            `json:"subscription_id"`
	Status         SubscriptionState `json:"status"`
	Message        string            `json:"message,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type HeartbeatEvent struct {
	ID string `json:"id"`
}

// Event is one message of the stream returned by Connect. Exactly one payload
// field is set, matching Type. ACCOUNT, TRADE and unknown types carry only Raw.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Quote        *webull.Quote       `json:"-"`
	Order        *webull.Order       `json:"-"`
	Connection   *ConnectionStatus   `json:"-"`
	Subscription *SubscriptionStatus `json:"-"`
	Error        *ErrorEvent         `json:"-"`
	Heartbeat    *HeartbeatEvent     `json:"-"`

	// Raw is the full inbound frame. Empty for locally generated events.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes a frame of the form {"type": ..., "timestamp": ...,
// <payload fields>}. The payload fields sit next to type and timestamp.
func (e *Event) UnmarshalJSON(data []byte) error {
	var head struct {
		Type      EventType `json:"type"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Type == "" {
		return fmt.Errorf("event has no type")
	}

	*e = Event{
		Type:      head.Type,
		Timestamp: head.Timestamp,
		Raw:       append(json.RawMessage(nil), data...),
	}

	var target any
	switch head.Type {
	case EventQuote:
		e.Quote = &webull.Quote{}
		target = e.Quote
	case EventOrder:
		e.Order = &webull.Order{}
		target = e.Order
	case EventConnection:
		e.Connection = &ConnectionStatus{}
		target = e.Connection
	case EventSubscription:
		e.Subscription = &SubscriptionStatus{}
		target = e.Subscription
	case EventError:
		e.Error = &ErrorEvent{}
		target = e.Error
	case EventHeartbeat:
		e.Heartbeat = &HeartbeatEvent{}
		target = e.Heartbeat
	default:
		return nil
	}
	return json.Unmarshal(data, target)
}

// MarshalJSON writes the same flattened shape UnmarshalJSON reads.
func (e Event) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}

	var payload any
	switch {
	case e.Quote != nil:
		payload = e.Quote
	case e.Order != nil:
		payload = e.Order
	case e.Connection != nil:
		payload = e.Connection
	case e.Subscription != nil:
		payload = e.Subscription
	case e.Error != nil:
		payload = e.Error
	case e.Heartbeat != nil:
		payload = e.Heartbeat
	case len(e.Raw) > 0:
		if err := json.Unmarshal(e.Raw, &fields); err != nil {
			return nil, err
		}
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}

	fields["type"] = e.Type
	fields["timestamp"] = e.Timestamp
	return json.Marshal(fields)
}

func connectionEvent(status ConnectionState, connectionID, message string) Event {
	return Event{
		Type:      EventConnection,
		Timestamp: time.Now().UTC(),
		Connection: &ConnectionStatus{
			Status:       status,
			ConnectionID: connectionID,
			Message:      message,
		},
	}
}

func errorEvent(code, message string) Event {
	return Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Error:     &ErrorEvent{Code: code, Message: message},
	}
}

func heartbeatEvent(id string) Event {
	return Event{
		Type:      EventHeartbeat,
		Timestamp: time.Now().UTC(),
		Heartbeat: &HeartbeatEvent{ID: id},
	}
}
