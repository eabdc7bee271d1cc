package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/afkbridge/afkd/internal/reliability"
)

const (
	longPollTimeout        = 25 * time.Second
	maxConsecutiveFailures = 5
)

var (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 8 * time.Second
)

// HTTPClient speaks a bot-style JSON API: sendMessage / editMessageReplyMarkup
// for the outbound side and getUpdates long-polling for the inbound side.
type HTTPClient struct {
	baseURL string
	chatID  string
	// operator is the only sender identity whose events are accepted.
	operator string
	client   *http.Client
	offset   int64
}

type HTTPConfig struct {
	// BaseURL includes the bot credential, e.g. https://api.example.org/bot<TOKEN>.
	BaseURL  string
	ChatID   string
	Operator string
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" || strings.TrimSpace(cfg.ChatID) == "" {
		return nil, ErrNotConfigured
	}
	return &HTTPClient{
		baseURL:  base,
		chatID:   strings.TrimSpace(cfg.ChatID),
		operator: strings.TrimSpace(cfg.Operator),
		client: &http.Client{
			// Longer than the poll timeout so the server closes idle polls first.
			Timeout: longPollTimeout + 10*time.Second,
		},
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Text string `json:"text"`
	} `json:"message,omitempty"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Data    string `json:"data"`
		Message struct {
			MessageID int64 `json:"message_id"`
		} `json:"message"`
	} `json:"callback_query,omitempty"`
}

func (c *HTTPClient) SendMessage(ctx context.Context, text string, controls []Row) (string, error) {
	payload := map[string]any{
		"chat_id": c.chatID,
		"text":    text,
	}
	if len(controls) > 0 {
		payload["reply_markup"] = map[string]any{"inline_keyboard": controls}
	}

	var sent sentMessage
	if err := c.call(ctx, "sendMessage", payload, &sent); err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

func (c *HTTPClient) EditControls(ctx context.Context, messageRef string, controls []Row) error {
	id, err := strconv.ParseInt(messageRef, 10, 64)
	if err != nil {
		return fmt.Errorf("bad message ref %q: %w", messageRef, err)
	}
	payload := map[string]any{
		"chat_id":    c.chatID,
		"message_id": id,
	}
	if len(controls) > 0 {
		payload["reply_markup"] = map[string]any{"inline_keyboard": controls}
	} else {
		payload["reply_markup"] = map[string]any{"inline_keyboard": [][]Control{}}
	}
	if err := c.call(ctx, "editMessageReplyMarkup", payload, nil); err != nil {
		return fmt.Errorf("edit controls: %w", err)
	}
	return nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.call(ctx, "getMe", nil, nil); err != nil {
		return fmt.Errorf("connectivity check: %w", err)
	}
	return nil
}

func (c *HTTPClient) ValidateSender(sender string) bool {
	if c.operator == "" {
		// Unset operator means a private bot; accept the chat's traffic.
		return true
	}
	return sender == c.operator
}

// Receive long-polls getUpdates, converting updates to events in order.
// Consecutive failures back off exponentially; after the ceiling the loop
// returns ErrReceiveGaveUp so the manager can drop out of active mode.
func (c *HTTPClient) Receive(ctx context.Context, events chan<- Event) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := c.poll(ctx)
		if err != nil {
			if !retryablePollError(err) {
				return err
			}
			failures++
			log.Printf("bridge: poll failed (%d/%d): %v", failures, maxConsecutiveFailures, err)
			if failures >= maxConsecutiveFailures {
				return ErrReceiveGaveUp
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(failures, backoffBase, backoffCap)):
			}
			continue
		}
		failures = 0

		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
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
}

// statusError preserves the HTTP status of a failed poll so the receive
// loop can tell transient server trouble from a misconfigured credential.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

// retryablePollError decides whether the receive loop backs off and tries
// again. A 401 or 404 means the bot credential is wrong; retrying cannot
// help, so the loop stops immediately instead of burning the failure budget.
func retryablePollError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.code)
	}
	return reliability.IsRetryableNetError(err)
}

func (c *HTTPClient) toEvent(u update) (Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		return Event{
			Kind:       EventButtonPress,
			Sender:     strconv.FormatInt(u.CallbackQuery.From.ID, 10),
			MessageRef: strconv.FormatInt(u.CallbackQuery.Message.MessageID, 10),
			Data:       u.CallbackQuery.Data,
		}, true
	case u.Message != nil && strings.TrimSpace(u.Message.Text) != "":
		return Event{
			Kind:   EventTextMessage,
			Sender: strconv.FormatInt(u.Message.From.ID, 10),
			Data:   u.Message.Text,
		}, true
	default:
		return Event{}, false
	}
}

func (c *HTTPClient) poll(ctx context.Context) ([]update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(c.offset, 10))
	q.Set("timeout", strconv.Itoa(int(longPollTimeout.Seconds())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/getUpdates?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("poll: %w", &statusError{code: res.StatusCode, body: string(body)})
	}

	var api apiResponse
	if err := json.NewDecoder(res.Body).Decode(&api); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	if !api.OK {
		return nil, fmt.Errorf("poll rejected: %s", api.Description)
	}

	var updates []update
	if err := json.Unmarshal(api.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (c *HTTPClient) call(ctx context.Context, method string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", method, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("%s status %d: %s", method, res.StatusCode, string(raw))
	}

	var api apiResponse
	if err := json.NewDecoder(res.Body).Decode(&api); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !api.OK {
		return fmt.Errorf("%s rejected: %s", method, api.Description)
	}
	if out != nil && len(api.Result) > 0 {
		if err := json.Unmarshal(api.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}
