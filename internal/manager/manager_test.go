package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/afkbridge/afkd/internal/audit"
	"github.com/afkbridge/afkd/internal/bridge"
	"github.com/afkbridge/afkd/internal/hook"
	"github.com/afkbridge/afkd/internal/protocol"
	"github.com/afkbridge/afkd/internal/queue"
	"github.com/afkbridge/afkd/internal/rules"
	"github.com/afkbridge/afkd/internal/session"
)

type fakeInjector struct {
	injected []string
	err      error
}

func (f *fakeInjector) Inject(_ context.Context, sessionName, text string) error {
	if f.err != nil {
		return f.err
	}
	f.injected = append(f.injected, sessionName+":"+text)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *bridge.MockClient) {
	t.Helper()
	client := bridge.NewMockClient()
	m := New(Config{ResponseDir: t.TempDir()}, Deps{
		Client:   client,
		Registry: session.NewRegistry(0),
		Rules:    rules.NewMemoryStore(),
		Audit:    audit.NewInMemoryStore(),
		Injector: &fakeInjector{},
	})
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	t.Cleanup(func() { m.Deactivate(context.Background()) })
	client.Sent = nil
	return m, client
}

func submit(t *testing.T, m *Manager, sess, prompt string) protocol.HookResponse {
	t.Helper()
	resp := m.HandleHookRequest(context.Background(), protocol.HookRequest{
		Session: sess,
		Type:    protocol.TypePermission,
		Prompt:  prompt,
	})
	if !resp.Wait {
		t.Fatalf("expected wait=true for %s", sess)
	}
	return resp
}

func readResponse(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read response file: %v", err)
	}
	return string(data)
}

func TestInactiveBridgeDoesNotWait(t *testing.T) {
	client := bridge.NewMockClient()
	m := New(Config{ResponseDir: t.TempDir()}, Deps{Client: client})

	resp := m.HandleHookRequest(context.Background(), protocol.HookRequest{
		Session: "api",
		Type:    protocol.TypePermission,
		Prompt:  "rm -rf build",
	})
	if resp.Wait || resp.ResponsePath != "" {
		t.Fatalf("inactive bridge should not wait, got %+v", resp)
	}
	if len(client.Sent) != 0 {
		t.Fatalf("inactive bridge must not send, got %d messages", len(client.Sent))
	}
}

func TestActivatePingFailureStaysInactive(t *testing.T) {
	client := bridge.NewMockClient()
	client.PingErr = context.DeadlineExceeded
	m := New(Config{ResponseDir: t.TempDir()}, Deps{Client: client})

	if err := m.Activate(context.Background()); err == nil {
		t.Fatal("expected activation failure when channel is unreachable")
	}
	if m.State() != StateInactive {
		t.Fatalf("state = %v, want inactive", m.State())
	}
}

func TestButtonAnswerResolvesAndAdvances(t *testing.T) {
	m, client := newTestManager(t)

	first := submit(t, m, "api", "run tests?")
	second := submit(t, m, "web", "deploy?")

	activeRef := client.Sent[0].Ref
	m.HandleButtonPress(context.Background(), protocol.AnswerYes, activeRef)

	if got := readResponse(t, first.ResponsePath); got != protocol.AnswerYes {
		t.Fatalf("response = %q, want %q", got, protocol.AnswerYes)
	}
	if _, err := os.Stat(second.ResponsePath); !os.IsNotExist(err) {
		t.Fatal("second request must stay unresolved")
	}
	active := m.Queue().Active()
	if active == nil || active.Session != "web" {
		t.Fatalf("queue did not advance to web, got %+v", active)
	}
	// The answered message got its buttons stripped.
	if len(client.Edited) != 1 || client.Edited[0] != activeRef {
		t.Fatalf("edited refs = %v, want [%s]", client.Edited, activeRef)
	}
}

func TestStaleButtonIsIgnored(t *testing.T) {
	m, _ := newTestManager(t)

	resp := submit(t, m, "api", "run tests?")
	m.HandleButtonPress(context.Background(), protocol.AnswerYes, "msg-from-last-week")

	if _, err := os.Stat(resp.ResponsePath); !os.IsNotExist(err) {
		t.Fatal("stale button must not resolve the active request")
	}
	if m.Queue().Active() == nil {
		t.Fatal("active request must survive a stale button press")
	}
}

func TestAlwaysAppendsRuleAndShortcuts(t *testing.T) {
	m, client := newTestManager(t)

	first := submit(t, m, "api", "Bash(go test ./...)")
	m.HandleButtonPress(context.Background(), protocol.AnswerAlways, client.Sent[0].Ref)
	if got := readResponse(t, first.ResponsePath); got != protocol.AnswerAlways {
		t.Fatalf("response = %q, want %q", got, protocol.AnswerAlways)
	}

	// The same prompt now resolves without touching the channel.
	client.Sent = nil
	again := submit(t, m, "api", "Bash(go test ./...)")
	if got := readResponse(t, again.ResponsePath); got != protocol.AnswerYes {
		t.Fatalf("rule shortcut = %q, want %q", got, protocol.AnswerYes)
	}
	if len(client.Sent) != 0 {
		t.Fatalf("rule shortcut must not send, got %d messages", len(client.Sent))
	}
	if m.Queue().Active() != nil {
		t.Fatal("rule-resolved request must never enter the queue")
	}
}

func TestFreeTextOnPermissionDeniesAndInjects(t *testing.T) {
	client := bridge.NewMockClient()
	inj := &fakeInjector{}
	m := New(Config{ResponseDir: t.TempDir()}, Deps{
		Client:   client,
		Registry: session.NewRegistry(0),
		Injector: inj,
	})
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer m.Deactivate(context.Background())

	resp := submit(t, m, "api", "drop the staging database?")
	m.HandleTextMessage(context.Background(), "why is this needed?")

	if got := readResponse(t, resp.ResponsePath); got != protocol.SentinelDenyForQuestion {
		t.Fatalf("response = %q, want %q", got, protocol.SentinelDenyForQuestion)
	}
	if len(inj.injected) != 1 || inj.injected[0] != "api:why is this needed?" {
		t.Fatalf("injected = %v", inj.injected)
	}
}

func TestFreeTextAnswersInputRequest(t *testing.T) {
	m, client := newTestManager(t)

	resp := m.HandleHookRequest(context.Background(), protocol.HookRequest{
		Session: "api",
		Type:    protocol.TypeFreeTextInput,
		Prompt:  "commit message?",
	})
	m.HandleTextMessage(context.Background(), "fix flaky watcher test")

	if got := readResponse(t, resp.ResponsePath); got != "fix flaky watcher test" {
		t.Fatalf("response = %q", got)
	}
	if last := client.LastSent(); last == nil || !strings.Contains(last.Text, "caught up") {
		t.Fatalf("expected empty-queue notice, got %+v", last)
	}
}

func TestTextWithNoActiveRequest(t *testing.T) {
	m, client := newTestManager(t)

	m.HandleTextMessage(context.Background(), "hello?")
	if last := client.LastSent(); last == nil || !strings.Contains(last.Text, "No active request") {
		t.Fatalf("expected no-active notice, got %+v", last)
	}
}

func TestSkipRotatesWithoutResolving(t *testing.T) {
	m, client := newTestManager(t)

	a := submit(t, m, "api", "q1")
	b := submit(t, m, "web", "q2")
	c := submit(t, m, "etl", "q3")

	m.HandleButtonPress(context.Background(), protocol.CmdSkip, client.Sent[0].Ref)
	if got := m.Queue().Active().Session; got != "web" {
		t.Fatalf("active after skip = %s, want web", got)
	}
	m.HandleButtonPress(context.Background(), protocol.CmdSkip, "")
	if got := m.Queue().Active().Session; got != "etl" {
		t.Fatalf("active after second skip = %s, want etl", got)
	}
	for _, resp := range []protocol.HookResponse{a, b, c} {
		if _, err := os.Stat(resp.ResponsePath); !os.IsNotExist(err) {
			t.Fatal("skip must never resolve a request")
		}
	}
}

func TestPriorityJumpPromotesQueuedSession(t *testing.T) {
	m, _ := newTestManager(t)

	submit(t, m, "api", "q1")
	submit(t, m, "web", "q2")
	submit(t, m, "etl", "q3")

	m.HandleButtonPress(context.Background(), protocol.PriorityCallback("etl"), "")
	if got := m.Queue().Active().Session; got != "etl" {
		t.Fatalf("active after jump = %s, want etl", got)
	}
}

func TestPriorityJumpOfActiveSessionIsNoop(t *testing.T) {
	m, client := newTestManager(t)

	submit(t, m, "api", "q1")
	submit(t, m, "web", "q2")
	sent := len(client.Sent)

	m.HandleButtonPress(context.Background(), protocol.PriorityCallback("api"), "")
	if got := m.Queue().Active().Session; got != "api" {
		t.Fatalf("active changed to %s on a no-op jump", got)
	}
	// Only the "nothing queued" reply is sent, no re-presentation.
	if len(client.Sent) != sent+1 {
		t.Fatalf("sent %d extra messages, want 1", len(client.Sent)-sent)
	}
}

func TestDeactivateFlushesQueue(t *testing.T) {
	m, _ := newTestManager(t)

	a := submit(t, m, "api", "q1")
	b := submit(t, m, "web", "q2")

	m.Deactivate(context.Background())
	for _, resp := range []protocol.HookResponse{a, b} {
		if got := readResponse(t, resp.ResponsePath); got != protocol.SentinelFlush {
			t.Fatalf("response = %q, want flush sentinel", got)
		}
	}
	if m.State() != StateInactive {
		t.Fatalf("state = %v, want inactive", m.State())
	}
}

func TestCleanupSessionPurgesAndAdvances(t *testing.T) {
	m, _ := newTestManager(t)

	a := submit(t, m, "api", "q1")
	submit(t, m, "web", "q2")

	m.CleanupSession("api")
	if got := readResponse(t, a.ResponsePath); got != protocol.SentinelFlush {
		t.Fatalf("purged response = %q, want flush sentinel", got)
	}
	if got := m.Queue().Active().Session; got != "web" {
		t.Fatalf("active after purge = %s, want web", got)
	}
}

func TestContextUpdateDoesNotQueue(t *testing.T) {
	m, client := newTestManager(t)

	resp := m.HandleHookRequest(context.Background(), protocol.HookRequest{
		Session: "api",
		Type:    protocol.TypeContextUpdate,
		Context: "migrating schema, ~3 min",
	})
	if resp.Wait {
		t.Fatal("context updates must not block")
	}
	if m.Queue().Active() != nil {
		t.Fatal("context updates must not enter the queue")
	}
	if last := client.LastSent(); last == nil || !strings.Contains(last.Text, "migrating schema") {
		t.Fatalf("expected status message, got %+v", last)
	}
}

func TestQueuedNotificationMentionsPosition(t *testing.T) {
	m, client := newTestManager(t)

	submit(t, m, "api", "q1")
	submit(t, m, "web", "q2")

	last := client.LastSent()
	if last == nil || !strings.Contains(last.Text, "web") {
		t.Fatalf("queued notification missing session, got %+v", last)
	}
	if len(last.Controls) != 0 {
		t.Fatal("queued notification must carry no buttons")
	}
}

func TestSlashCommands(t *testing.T) {
	m, client := newTestManager(t)

	submit(t, m, "api", "q1")
	submit(t, m, "web", "q2")

	m.HandleTextMessage(context.Background(), "/queue")
	if last := client.LastSent(); last == nil || !strings.Contains(last.Text, "api") {
		t.Fatalf("/queue summary missing sessions, got %+v", last)
	}

	m.HandleTextMessage(context.Background(), "/status")
	if last := client.LastSent(); last == nil || !strings.Contains(last.Text, "1 queued") {
		t.Fatalf("/status missing depth, got %+v", last)
	}

	m.HandleTextMessage(context.Background(), "/skip")
	if got := m.Queue().Active().Session; got != "web" {
		t.Fatalf("active after /skip = %s, want web", got)
	}

	m.HandleTextMessage(context.Background(), "/back")
	if m.State() != StateInactive {
		t.Fatal("/back must deactivate")
	}
}

func TestInjectionFailureNotifiesRemote(t *testing.T) {
	client := bridge.NewMockClient()
	m := New(Config{ResponseDir: t.TempDir()}, Deps{
		Client:   client,
		Injector: &fakeInjector{err: os.ErrNotExist},
	})
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer m.Deactivate(context.Background())

	submit(t, m, "api", "q1")
	m.HandleTextMessage(context.Background(), "what branch is this on?")

	var warned bool
	for _, msg := range client.Sent {
		if strings.Contains(msg.Text, "Could not reach a live terminal") {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a delivery warning after injection failure")
	}
}

func TestResponseFilesLandInResponseDir(t *testing.T) {
	dir := t.TempDir()
	client := bridge.NewMockClient()
	m := New(Config{ResponseDir: dir}, Deps{Client: client})
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer m.Deactivate(context.Background())

	resp := submit(t, m, "api", "q1")
	if filepath.Dir(resp.ResponsePath) != dir {
		t.Fatalf("response path %s not under %s", resp.ResponsePath, dir)
	}
}

func TestReceiveGiveUpFallsBack(t *testing.T) {
	client := &givingUpClient{MockClient: bridge.NewMockClient()}
	m := New(Config{ResponseDir: t.TempDir()}, Deps{Client: client})
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateInactive {
		if time.Now().After(deadline) {
			t.Fatal("manager did not fall back after receive gave up")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type givingUpClient struct {
	*bridge.MockClient
}

func (c *givingUpClient) Receive(context.Context, chan<- bridge.Event) error {
	return bridge.ErrReceiveGaveUp
}

func TestPublishedAnswerIsNeverReadIncomplete(t *testing.T) {
	m := New(Config{ResponseDir: t.TempDir()}, Deps{Client: bridge.NewMockClient()})
	dir := t.TempDir()

	// The hook polls aggressively and consumes the file on first sight, so
	// a response path must never exist with partial content.
	for i := 0; i < 200; i++ {
		req := &queue.Request{ResponsePath: filepath.Join(dir, fmt.Sprintf("resp-%d", i))}
		go m.writeResponse(req, protocol.AnswerYes)

		got, err := hook.WaitForResponse(context.Background(), req.ResponsePath, time.Microsecond, 5*time.Second)
		if err != nil {
			t.Fatalf("iteration %d: WaitForResponse: %v", i, err)
		}
		if got != protocol.AnswerYes {
			t.Fatalf("iteration %d: consumed %q, want %q", i, got, protocol.AnswerYes)
		}
	}
}

func TestHookRequestRegistersProxyPath(t *testing.T) {
	client := bridge.NewMockClient()
	registry := session.NewRegistry(0)
	m := New(Config{ResponseDir: t.TempDir()}, Deps{Client: client, Registry: registry})
	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	defer m.Deactivate(context.Background())

	m.HandleHookRequest(context.Background(), protocol.HookRequest{
		Session:   "api",
		Type:      protocol.TypePermission,
		Prompt:    "q1",
		ProxyPath: "/tmp/api-relay.sock",
	})

	sess, err := registry.Get("api")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.ProxyPath != "/tmp/api-relay.sock" {
		t.Fatalf("ProxyPath = %q, want the opted-in socket", sess.ProxyPath)
	}

	// Later requests without the field must not clear the registration.
	m.HandleHookRequest(context.Background(), protocol.HookRequest{
		Session: "api",
		Type:    protocol.TypeContextUpdate,
		Context: "still running",
	})
	sess, _ = registry.Get("api")
	if sess.ProxyPath != "/tmp/api-relay.sock" {
		t.Fatalf("ProxyPath cleared to %q by a later request", sess.ProxyPath)
	}
}
