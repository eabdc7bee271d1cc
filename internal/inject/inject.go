// Package inject delivers a free-text reply into a session's live terminal.
// This is distinct from the response-file protocol: it is used for
// conversational replies that should appear as if typed at the prompt.
package inject

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/afkbridge/afkd/internal/session"
)

// ErrNoTerminal means every leg of the fallback chain failed; the caller
// must still write the response file and tell the human.
var ErrNoTerminal = errors.New("inject: no live terminal reached")

// Injector pushes text into a session's terminal.
type Injector interface {
	Inject(ctx context.Context, sessionName, text string) error
}

// PaneSender is the tmux surface the chain needs; satisfied by *tmux.Client.
type PaneSender interface {
	PaneAlive(target string) bool
	SendText(target, text string) error
	FindPaneByDir(session string) (string, error)
}

// Chain tries the session's proxy relay first and falls back to tmux
// send-to-pane, gated by a pane-alive check.
type Chain struct {
	registry *session.Registry
	tmux     PaneSender
	dial     func(path string) (net.Conn, error)
}

func NewChain(registry *session.Registry, tmuxClient PaneSender) *Chain {
	return &Chain{
		registry: registry,
		tmux:     tmuxClient,
		dial: func(path string) (net.Conn, error) {
			return net.DialTimeout("unix", path, 2*time.Second)
		},
	}
}

func (c *Chain) Inject(ctx context.Context, sessionName, text string) error {
	s, err := c.registry.Get(sessionName)
	if err != nil {
		return fmt.Errorf("%w: unknown session %q", ErrNoTerminal, sessionName)
	}

	proxyErr := c.viaProxy(s, text)
	if proxyErr == nil {
		return nil
	}

	tmuxErr := c.viaTmux(s, text)
	if tmuxErr == nil {
		return nil
	}

	return fmt.Errorf("%w: proxy failed: %v; tmux failed: %v", ErrNoTerminal, proxyErr, tmuxErr)
}

// viaProxy writes to the pty-relay socket the session opted into.
func (c *Chain) viaProxy(s *session.Session, text string) error {
	if strings.TrimSpace(s.ProxyPath) == "" {
		return errors.New("no proxy channel registered")
	}
	conn, err := c.dial(s.ProxyPath)
	if err != nil {
		return fmt.Errorf("dial proxy: %w", err)
	}
	defer conn.Close()

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if _, err := conn.Write([]byte(text)); err != nil {
		return fmt.Errorf("write proxy: %w", err)
	}
	return nil
}

// viaTmux pastes into the session's pane, discovering it on first use.
func (c *Chain) viaTmux(s *session.Session, text string) error {
	if c.tmux == nil {
		return errors.New("tmux unavailable")
	}
	target := s.PaneTarget
	if target == "" {
		found, err := c.tmux.FindPaneByDir(s.Name)
		if err != nil {
			return err
		}
		target = found
		c.registry.SetPaneTarget(s.Name, target)
	}
	if !c.tmux.PaneAlive(target) {
		return fmt.Errorf("pane %s is gone", target)
	}
	return c.tmux.SendText(target, text)
}
