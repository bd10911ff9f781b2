package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaDialer dials with gorilla/websocket.
type GorillaDialer struct {
	dialer websocket.Dialer
}

// NewGorillaDialer creates a dialer. When httpClient has an *http.Transport
// with a TLS configuration it is reused, so test servers with self-signed
// certificates work.
func NewGorillaDialer(httpClient *http.Client) *GorillaDialer {
	d := &GorillaDialer{
		dialer: websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
	if httpClient != nil {
		if transport, ok := httpClient.Transport.(*http.Transport); ok && transport.TLSClientConfig != nil {
			d.dialer.TLSClientConfig = transport.TLSClientConfig
		}
	}
	return d
}

func (d *GorillaDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to establish websocket connection: %w", err)
	}
	return conn, nil
}
