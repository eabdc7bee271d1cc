// Package hook implements the blocking side of the response-file protocol:
// submit a request to the daemon, poll the response path with a bounded
// timeout, consume the file exactly once, and translate the result into a
// structured decision. Keystrokes are never simulated here.
package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/afkbridge/afkd/internal/protocol"
)

const (
	// DefaultPollInterval is how often the hook checks for the response file.
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultTimeout bounds how long a hook blocks before proceeding locally.
	DefaultTimeout = 10 * time.Minute
)

var (
	// ErrTimeout means no answer arrived in time; the caller proceeds with
	// local/default handling and reports the timeout upstream.
	ErrTimeout = errors.New("hook: timed out waiting for response")
	// ErrAbandoned means the daemon deactivated and flushed the request.
	ErrAbandoned = errors.New("hook: request abandoned by daemon")
)

// Client submits hook requests to the local daemon.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Submit posts the request. A daemon in inactive mode (or an unreachable
// daemon) yields wait=false so local handling proceeds.
func (c *Client) Submit(ctx context.Context, req protocol.HookRequest) (protocol.HookResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return protocol.HookResponse{}, fmt.Errorf("marshal hook request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/hook", bytes.NewReader(payload))
	if err != nil {
		return protocol.HookResponse{}, fmt.Errorf("create hook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		return protocol.HookResponse{}, fmt.Errorf("submit hook request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return protocol.HookResponse{}, fmt.Errorf("hook request status %d: %s", res.StatusCode, string(body))
	}

	var out protocol.HookResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return protocol.HookResponse{}, fmt.Errorf("decode hook response: %w", err)
	}
	return out, nil
}

// WaitForResponse polls for the response file, reads it, and deletes it
// (single consumer, at most once). Returns the raw file content.
func WaitForResponse(ctx context.Context, path string, interval, timeout time.Duration) (string, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		data, err := os.ReadFile(path)
		if err == nil {
			// Consume before returning so a crashed caller cannot re-read.
			if rmErr := os.Remove(path); rmErr != nil {
				return "", fmt.Errorf("remove response file: %w", rmErr)
			}
			raw := strings.TrimSpace(string(data))
			if raw == protocol.SentinelFlush {
				return "", ErrAbandoned
			}
			return raw, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read response file: %w", err)
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Decide translates a raw response into the structured decision returned to
// the calling framework. The answer is embedded verbatim in the reason; the
// decision never turns into simulated input.
func Decide(reqType protocol.RequestType, raw string) protocol.Decision {
	switch reqType {
	case protocol.TypePermission:
		switch raw {
		case protocol.AnswerYes, protocol.AnswerAlways:
			return protocol.Decision{Decision: protocol.DecisionAllow}
		case protocol.AnswerNo:
			return protocol.Decision{
				Decision: protocol.DecisionDeny,
				Reason:   "Denied by the user via the remote channel.",
			}
		case protocol.SentinelDenyForQuestion:
			return protocol.Decision{
				Decision: protocol.DecisionDeny,
				Reason:   protocol.DenyForQuestionReason(),
			}
		default:
			return protocol.Decision{
				Decision: protocol.DecisionDeny,
				Reason:   protocol.AnswerReason(raw),
			}
		}
	case protocol.TypeMultipleChoice:
		answer := raw
		if label, ok := protocol.OptionLabel(raw); ok {
			answer = label
		}
		return protocol.Decision{
			Decision: protocol.DecisionDeny,
			Reason:   protocol.AnswerReason(answer),
		}
	default:
		// Free-text hooks pass the raw answer through as the reason.
		return protocol.Decision{
			Decision: protocol.DecisionAllow,
			Reason:   raw,
		}
	}
}
