package bridge

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afkbridge/afkd/internal/reliability"
)

// WebsocketClient receives events over a push gateway websocket instead of
// long-polling; the outbound side still goes through the HTTP API. Useful
// when the messaging provider exposes a streaming update gateway.
type WebsocketClient struct {
	*HTTPClient
	gatewayURL string
	dialer     *websocket.Dialer
}

func NewWebsocketClient(httpClient *HTTPClient, gatewayURL string) (*WebsocketClient, error) {
	gw := strings.TrimSpace(gatewayURL)
	if gw == "" {
		return nil, ErrNotConfigured
	}
	return &WebsocketClient{
		HTTPClient: httpClient,
		gatewayURL: gw,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// Receive reads pushed updates from the gateway. Connection loss counts as a
// failure; reconnects back off like the long-poll loop and give up after the
// same ceiling.
func (c *WebsocketClient) Receive(ctx context.Context, events chan<- Event) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.readConnection(ctx, events)
		if err == nil || !reliability.IsRetryableNetError(err) {
			return err
		}
		failures++
		log.Printf("bridge: websocket receive failed (%d/%d): %v", failures, maxConsecutiveFailures, err)
		if failures >= maxConsecutiveFailures {
			return ErrReceiveGaveUp
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(failures, backoffBase, backoffCap)):
		}
	}
}

func (c *WebsocketClient) readConnection(ctx context.Context, events chan<- Event) error {
	conn, _, err := c.dialer.DialContext(ctx, c.gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var u update
		if err := conn.ReadJSON(&u); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read update: %w", err)
		}
		ev, ok := c.toEvent(u)
		if !ok {
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
