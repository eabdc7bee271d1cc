package bridge

import (
	"fmt"
	"strings"
)

// Config controls client construction.
type Config struct {
	Mode       string
	BaseURL    string
	ChatID     string
	Operator   string
	GatewayURL string
}

// NewClient builds the transport for the configured mode. "auto" prefers the
// websocket gateway when one is configured and falls back to long-polling.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	httpClient, err := NewHTTPClient(HTTPConfig{
		BaseURL:  cfg.BaseURL,
		ChatID:   cfg.ChatID,
		Operator: cfg.Operator,
	})
	if err != nil {
		return nil, err
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.GatewayURL) != "" {
			return NewWebsocketClient(httpClient, cfg.GatewayURL)
		}
		return httpClient, nil
	case "longpoll":
		return httpClient, nil
	case "websocket":
		return NewWebsocketClient(httpClient, cfg.GatewayURL)
	default:
		return nil, fmt.Errorf("unsupported bridge mode %q", cfg.Mode)
	}
}
