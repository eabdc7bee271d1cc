// Package tmux shells out to the tmux binary for the multiplexer leg of the
// reply-injection fallback chain.
package tmux

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Client drives tmux through its CLI. The exec functions are injectable so
// tests can run without a server.
type Client struct {
	run      func(args ...string) (string, error)
	runInput func(input string, args ...string) (string, error)
}

func NewClient() *Client {
	return &Client{
		run:      runTmux,
		runInput: runTmuxInput,
	}
}

func runTmux(args ...string) (string, error) {
	out, err := exec.Command("tmux", args...).CombinedOutput()
	return string(out), err
}

func runTmuxInput(input string, args ...string) (string, error) {
	cmd := exec.Command("tmux", args...)
	cmd.Stdin = strings.NewReader(input)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// PaneAlive reports whether the target pane still exists.
func (c *Client) PaneAlive(target string) bool {
	if strings.TrimSpace(target) == "" {
		return false
	}
	_, err := c.run("display-message", "-p", "-t", target, "#{pane_id}")
	return err == nil
}

// SendText delivers text to a pane through a temporary buffer, then presses
// Enter. Buffers avoid send-keys quoting pitfalls with arbitrary reply text.
func (c *Client) SendText(target, text string) error {
	bufName := fmt.Sprintf("afkd-send-%d", time.Now().UnixNano())
	if out, err := c.runInput(text, "load-buffer", "-b", bufName, "-"); err != nil {
		return fmt.Errorf("load tmux buffer: %v (%s)", err, strings.TrimSpace(out))
	}
	defer func() {
		_, _ = c.run("delete-buffer", "-b", bufName)
	}()

	if out, err := c.run("paste-buffer", "-b", bufName, "-t", target); err != nil {
		return fmt.Errorf("paste tmux buffer: %v (%s)", err, strings.TrimSpace(out))
	}
	if out, err := c.run("send-keys", "-t", target, "Enter"); err != nil {
		return fmt.Errorf("send enter: %v (%s)", err, strings.TrimSpace(out))
	}
	return nil
}

// FindPaneByDir locates the first pane whose current path's base name equals
// the session name. Sessions are conventionally named after their working
// directory, which makes this the discovery rule for the injection fallback.
func (c *Client) FindPaneByDir(session string) (string, error) {
	out, err := c.run("list-panes", "-a", "-F", "#{pane_id}\t#{pane_current_path}")
	if err != nil {
		return "", fmt.Errorf("list panes: %v (%s)", err, strings.TrimSpace(out))
	}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "\t", 2)
		if len(parts) != 2 {
			continue
		}
		if filepath.Base(parts[1]) == session {
			return parts[0], nil
		}
	}
	return "", fmt.Errorf("no pane found for session %q", session)
}
