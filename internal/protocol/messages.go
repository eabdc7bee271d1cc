package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RequestType identifies hook request variants.
type RequestType string

const (
	TypePermission     RequestType = "permission"
	TypeFreeTextInput  RequestType = "input"
	TypeMultipleChoice RequestType = "ask_user_question"
	TypeContextUpdate  RequestType = "context"
)

var ErrUnsupportedType = errors.New("unsupported request type")

// ChoiceOption is one selectable answer of a multiple-choice request.
type ChoiceOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// HookRequest is the payload a hook process sends to the daemon.
type HookRequest struct {
	Session string         `json:"session"`
	Type    RequestType    `json:"type"`
	Prompt  string         `json:"prompt"`
	Context string         `json:"context,omitempty"`
	Options []ChoiceOption `json:"options,omitempty"`
	// ProxyPath opts the session into reply injection over a pty-relay
	// socket; without it replies land on the session's tmux pane.
	ProxyPath string `json:"proxy_path,omitempty"`
}

// HookResponse tells the hook whether to block on a response file.
type HookResponse struct {
	Wait         bool   `json:"wait"`
	ResponsePath string `json:"responsePath,omitempty"`
}

// Decision is the structured output a permission or multiple-choice hook
// returns to the calling framework. It is never simulated keyboard input.
type Decision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Response-file sentinels. Anything else in a response file is the raw
// human answer (possibly carrying the option prefix).
const (
	SentinelFlush           = "__flush__"
	SentinelDenyForQuestion = "deny_for_question"
	OptionPrefix            = "opt:"
)

// Button callback payloads.
const (
	AnswerYes    = "yes"
	AnswerAlways = "always"
	AnswerNo     = "no"
	// AnswerOther asks for a free-text reply instead of a listed option; it
	// never resolves the request by itself.
	AnswerOther = "other"

	CmdSkip           = "cmd:skip"
	CmdShowQueue      = "cmd:show_queue"
	cmdPriorityPrefix = "cmd:priority:"
)

// PriorityCallback builds the payload of a queue-summary "handle now" button.
func PriorityCallback(session string) string {
	return cmdPriorityPrefix + session
}

// PrioritySession extracts the target session from a priority callback.
// The second return is false when data is not a priority command.
func PrioritySession(data string) (string, bool) {
	if !strings.HasPrefix(data, cmdPriorityPrefix) {
		return "", false
	}
	return strings.TrimPrefix(data, cmdPriorityPrefix), true
}

// IsQueueCommand reports whether a callback payload is queue management
// rather than an answer to the active request.
func IsQueueCommand(data string) bool {
	if data == CmdSkip || data == CmdShowQueue {
		return true
	}
	_, ok := PrioritySession(data)
	return ok
}

// OptionCallback builds the payload of a multiple-choice option button.
func OptionCallback(label string) string {
	return OptionPrefix + label
}

// OptionLabel extracts the chosen label from an option payload.
func OptionLabel(data string) (string, bool) {
	if !strings.HasPrefix(data, OptionPrefix) {
		return "", false
	}
	return strings.TrimPrefix(data, OptionPrefix), true
}

// ParseHookRequest validates a raw hook payload. Malformed payloads are
// rejected here so the manager never allocates a response path for them.
func ParseHookRequest(raw []byte) (HookRequest, error) {
	var req HookRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return HookRequest{}, fmt.Errorf("invalid hook request: %w", err)
	}

	req.Session = strings.TrimSpace(req.Session)
	if req.Session == "" {
		return HookRequest{}, errors.New("hook request missing session")
	}
	req.ProxyPath = strings.TrimSpace(req.ProxyPath)

	switch req.Type {
	case TypePermission, TypeFreeTextInput:
		if strings.TrimSpace(req.Prompt) == "" {
			return HookRequest{}, errors.New("hook request missing prompt")
		}
	case TypeMultipleChoice:
		if strings.TrimSpace(req.Prompt) == "" {
			return HookRequest{}, errors.New("hook request missing prompt")
		}
		if len(req.Options) == 0 {
			return HookRequest{}, errors.New("ask_user_question request has no options")
		}
		for _, opt := range req.Options {
			if strings.TrimSpace(opt.Label) == "" {
				return HookRequest{}, errors.New("ask_user_question option has empty label")
			}
		}
	case TypeContextUpdate:
		// Context updates may carry an empty prompt; the context field is the payload.
	default:
		return HookRequest{}, ErrUnsupportedType
	}

	return req, nil
}

// AnswerReason renders a deny-with-answer reason embedding the verbatim
// human answer, for hooks that must not retry the question.
func AnswerReason(answer string) string {
	return fmt.Sprintf("The user already answered via the remote channel: %q. Continue with this answer and do not retry the question.", answer)
}

// DenyForQuestionReason is the deny reason used when the human replied to a
// permission request with a clarifying question instead of a verdict. The
// question itself travels through the reply-injection path, not the file.
func DenyForQuestionReason() string {
	return "The user asked a clarifying question via the remote channel instead of answering. It was delivered to the session; answer it, then request the permission again."
}
