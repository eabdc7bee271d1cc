package inject

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/afkbridge/afkd/internal/session"
)

type fakePane struct {
	alive    bool
	found    string
	findErr  error
	sent     []string
	sendErr  error
	sentTo   string
}

func (f *fakePane) PaneAlive(string) bool { return f.alive }

func (f *fakePane) SendText(target, text string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTo = target
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakePane) FindPaneByDir(string) (string, error) { return f.found, f.findErr }

func TestInjectPrefersProxy(t *testing.T) {
	reg := session.NewRegistry(time.Minute)
	reg.Touch("myproj")

	sock := filepath.Join(t.TempDir(), "proxy.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	reg.SetProxyPath("myproj", sock)

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- string(data)
	}()

	pane := &fakePane{alive: true, found: "%1"}
	c := NewChain(reg, pane)
	if err := c.Inject(context.Background(), "myproj", "continue with blue"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "continue with blue\n" {
			t.Fatalf("proxy received %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("proxy never received the text")
	}
	if len(pane.sent) != 0 {
		t.Fatalf("tmux leg should not run when proxy succeeds")
	}
}

func TestInjectFallsBackToTmux(t *testing.T) {
	reg := session.NewRegistry(time.Minute)
	reg.Touch("myproj")

	pane := &fakePane{alive: true, found: "%7"}
	c := NewChain(reg, pane)
	if err := c.Inject(context.Background(), "myproj", "hello"); err != nil {
		t.Fatalf("Inject() error = %v", err)
	}
	if pane.sentTo != "%7" || len(pane.sent) != 1 {
		t.Fatalf("tmux leg not used: %+v", pane)
	}

	// The discovered pane is remembered on the session.
	s, _ := reg.Get("myproj")
	if s.PaneTarget != "%7" {
		t.Fatalf("PaneTarget = %q, want %%7", s.PaneTarget)
	}
}

func TestInjectDeadPaneFails(t *testing.T) {
	reg := session.NewRegistry(time.Minute)
	reg.Touch("myproj")
	reg.SetPaneTarget("myproj", "%9")

	pane := &fakePane{alive: false}
	c := NewChain(reg, pane)
	err := c.Inject(context.Background(), "myproj", "hello")
	if !errors.Is(err, ErrNoTerminal) {
		t.Fatalf("error = %v, want ErrNoTerminal", err)
	}
}

func TestInjectUnknownSession(t *testing.T) {
	reg := session.NewRegistry(time.Minute)
	c := NewChain(reg, &fakePane{})
	if err := c.Inject(context.Background(), "ghost", "hello"); !errors.Is(err, ErrNoTerminal) {
		t.Fatalf("error = %v, want ErrNoTerminal", err)
	}
}
