// Package manager orchestrates the AFK bridge: it owns the activation state
// machine, feeds the request queue from hook requests, resolves replies from
// the remote channel, and writes response files for blocking hooks.
package manager

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afkbridge/afkd/internal/audit"
	"github.com/afkbridge/afkd/internal/bridge"
	"github.com/afkbridge/afkd/internal/inject"
	"github.com/afkbridge/afkd/internal/observability"
	"github.com/afkbridge/afkd/internal/present"
	"github.com/afkbridge/afkd/internal/protocol"
	"github.com/afkbridge/afkd/internal/queue"
	"github.com/afkbridge/afkd/internal/route"
	"github.com/afkbridge/afkd/internal/rules"
	"github.com/afkbridge/afkd/internal/session"
)

// State is the manager's activation state.
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
)

// Config holds manager tunables.
type Config struct {
	// ResponseDir is where response files are allocated, one per request.
	ResponseDir string
	// EventBuffer bounds the inbound event channel.
	EventBuffer int
}

// Deps are the manager's collaborators. Client is required; the rest may be
// nil and degrade to no-ops where that is safe.
type Deps struct {
	Client   bridge.Client
	Registry *session.Registry
	Rules    rules.Store
	Audit    audit.Store
	Injector inject.Injector
	Metrics  *observability.Metrics
	// Notify raises a local desktop notification.
	Notify func(title, body string)
}

// Manager glues queue, router, presenter, and bridge together. The queue
// serializes its own mutations; mu only guards the activation state and the
// receive-loop lifecycle, so no network send ever happens under a lock.
type Manager struct {
	cfg       Config
	queue     *queue.Queue
	router    route.RequestRouter
	presenter present.SessionPresenter
	client    bridge.Client
	registry  *session.Registry
	rules     rules.Store
	audit     audit.Store
	injector  inject.Injector
	metrics   *observability.Metrics
	notify    func(title, body string)

	mu          sync.Mutex
	state       State
	stopReceive context.CancelFunc
	receiveDone chan struct{}
}

func New(cfg Config, deps Deps) *Manager {
	if cfg.ResponseDir == "" {
		cfg.ResponseDir = filepath.Join(os.TempDir(), "afkd-responses")
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	q := queue.New()
	m := &Manager{
		cfg:       cfg,
		queue:     q,
		router:    route.NewQueueRouter(q),
		presenter: present.NewSingleChatPresenter(deps.Client, q),
		client:    deps.Client,
		registry:  deps.Registry,
		rules:     deps.Rules,
		audit:     deps.Audit,
		injector:  deps.Injector,
		metrics:   deps.Metrics,
		notify:    deps.Notify,
		state:     StateInactive,
	}
	if m.notify == nil {
		m.notify = func(string, string) {}
	}
	if m.registry != nil {
		m.registry.SetExpireHook(func(s *session.Session) { m.CleanupSession(s.Name) })
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Queue exposes the request queue for status surfaces.
func (m *Manager) Queue() *queue.Queue { return m.queue }

// Activate checks connectivity, starts the receive loop, and enters Active.
// Re-entrant activation is a no-op.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateActive {
		m.mu.Unlock()
		return nil
	}
	if m.client == nil {
		m.mu.Unlock()
		return bridge.ErrNotConfigured
	}
	m.mu.Unlock()

	if err := m.client.Ping(ctx); err != nil {
		return fmt.Errorf("channel unavailable: %w", err)
	}
	if err := os.MkdirAll(m.cfg.ResponseDir, 0o700); err != nil {
		return fmt.Errorf("create response dir: %w", err)
	}

	m.mu.Lock()
	if m.state == StateActive {
		m.mu.Unlock()
		return nil
	}
	recvCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopReceive = cancel
	m.receiveDone = done
	m.state = StateActive
	m.mu.Unlock()

	events := make(chan bridge.Event, m.cfg.EventBuffer)
	go m.runReceive(recvCtx, events, done)
	go m.consumeEvents(recvCtx, events)

	if _, err := m.client.SendMessage(ctx, "🟢 AFK bridge active. Session questions will arrive here.", nil); err != nil {
		log.Printf("manager: activation confirmation failed: %v", err)
	}
	return nil
}

// Deactivate clears the queue, abandons unresolved requests (their hooks
// read the flush sentinel or hit their own timeout), and stops the loop.
func (m *Manager) Deactivate(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateInactive {
		m.mu.Unlock()
		return
	}
	m.state = StateInactive
	cancel := m.stopReceive
	done := m.receiveDone
	m.stopReceive = nil
	m.receiveDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Printf("manager: receive loop did not stop in time")
		}
	}

	for _, req := range m.queue.Clear() {
		m.writeResponse(req, protocol.SentinelFlush)
		m.recordAudit(req, audit.EventAbandoned, "deactivated")
	}
	m.setQueueDepth()

	if _, err := m.client.SendMessage(ctx, "🔴 AFK bridge off. Back to local handling.", nil); err != nil {
		log.Printf("manager: deactivation notice failed: %v", err)
	}
}

func (m *Manager) runReceive(ctx context.Context, events chan<- bridge.Event, done chan struct{}) {
	err := m.client.Receive(ctx, events)
	close(done)
	if err == nil || ctx.Err() != nil {
		return
	}
	// The receive loop gave up on its own; fall back to local handling.
	log.Printf("manager: receive loop stopped: %v", err)
	m.notify("AFK bridge offline", "Remote channel unreachable; falling back to local prompts.")
	m.Deactivate(context.Background())
}

func (m *Manager) consumeEvents(ctx context.Context, events <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if !m.client.ValidateSender(ev.Sender) {
				m.countEvent(ev.Kind, "rejected_sender")
				continue
			}
			switch ev.Kind {
			case bridge.EventButtonPress:
				m.HandleButtonPress(ctx, ev.Data, ev.MessageRef)
			case bridge.EventTextMessage:
				m.HandleTextMessage(ctx, ev.Data)
			}
		}
	}
}

// HandleHookRequest is the entry point for local hook processes. It returns
// wait=false when the bridge is inactive or the request needs no answer.
func (m *Manager) HandleHookRequest(ctx context.Context, req protocol.HookRequest) protocol.HookResponse {
	if m.State() != StateActive {
		return protocol.HookResponse{Wait: false}
	}
	if m.registry != nil {
		m.registry.Touch(req.Session)
		if req.ProxyPath != "" {
			m.registry.SetProxyPath(req.Session, req.ProxyPath)
		}
	}

	if req.Type == protocol.TypeContextUpdate {
		m.handleContextUpdate(ctx, req)
		return protocol.HookResponse{Wait: false}
	}

	pending := &queue.Request{
		ID:           uuid.NewString(),
		Session:      req.Session,
		Type:         req.Type,
		Prompt:       req.Prompt,
		Options:      req.Options,
		ResponsePath: filepath.Join(m.cfg.ResponseDir, "resp-"+uuid.NewString()),
	}

	// Stored rules short-circuit permission requests without a round trip.
	if req.Type == protocol.TypePermission {
		if behavior, ok := m.matchRule(req.Prompt); ok {
			m.writeResponse(pending, behavior)
			m.recordAudit(pending, audit.EventRuleApplied, behavior)
			if m.metrics != nil {
				m.metrics.RuleShortcuts.Inc()
				m.metrics.HookRequests.WithLabelValues(string(req.Type), "rule").Inc()
			}
			return protocol.HookResponse{Wait: true, ResponsePath: pending.ResponsePath}
		}
	}

	result := m.queue.Enqueue(pending)
	m.recordAudit(pending, audit.EventEnqueued, "")
	m.setQueueDepth()
	if m.metrics != nil {
		outcome := "queued"
		if result == queue.ResultActive {
			outcome = "active"
		}
		m.metrics.HookRequests.WithLabelValues(string(req.Type), outcome).Inc()
	}

	if result == queue.ResultActive {
		m.PresentActive(ctx)
	} else {
		active := m.queue.Active()
		text := m.presenter.FormatQueuedNotification(pending, active, m.queue.Size())
		if _, err := m.presenter.SendToSession(ctx, "", text, nil); err != nil {
			log.Printf("manager: queued notification failed: %v", err)
		}
	}
	return protocol.HookResponse{Wait: true, ResponsePath: pending.ResponsePath}
}

func (m *Manager) handleContextUpdate(ctx context.Context, req protocol.HookRequest) {
	if m.registry != nil {
		m.registry.SetContext(req.Session, req.Context)
	}
	text := fmt.Sprintf("💬 %s", req.Context)
	if _, err := m.presenter.SendToSession(ctx, req.Session, text, nil); err != nil {
		log.Printf("manager: context update send failed: %v", err)
	}
}

// PresentActive formats and sends the active request. Queue context is
// re-derived on every call so displayed depth is always current.
func (m *Manager) PresentActive(ctx context.Context) {
	active := m.queue.Active()
	if active == nil {
		return
	}
	info := present.QueueInfo{
		TailSize:     m.queue.Size(),
		TailSessions: m.queue.TailSessions(),
	}
	text, controls := m.presenter.FormatActiveRequest(active, info)
	ref, err := m.presenter.SendToSession(ctx, active.Session, text, controls)
	if err != nil {
		log.Printf("manager: present active failed: %v", err)
		return
	}
	m.queue.SetMessageRef(active.ID, ref)
}

// HandleButtonPress resolves a button tap. Queue-management commands never
// resolve the active request; answer payloads do.
func (m *Manager) HandleButtonPress(ctx context.Context, data, messageRef string) {
	if protocol.IsQueueCommand(data) {
		m.countEvent(bridge.EventButtonPress, "command")
		m.dispatchQueueCommand(ctx, data)
		return
	}

	matched := m.router.RouteButtonPress(data, messageRef)
	if matched == nil {
		// Stale button on an already-resolved or re-presented message.
		m.countEvent(bridge.EventButtonPress, "stale")
		return
	}

	if data == protocol.AnswerOther {
		m.countEvent(bridge.EventButtonPress, "other")
		if _, err := m.presenter.SendToSession(ctx, matched.Session, "✏️ Reply with your answer as a plain message.", nil); err != nil {
			log.Printf("manager: other prompt failed: %v", err)
		}
		return
	}

	m.countEvent(bridge.EventButtonPress, "answer")
	if data == protocol.AnswerAlways && m.rules != nil {
		if err := m.rules.Append(matched.Prompt, protocol.AnswerYes); err != nil {
			log.Printf("manager: append rule failed: %v", err)
		}
	}

	m.resolveAndAdvance(ctx, matched, data, fmt.Sprintf("✅ %s · answered", matched.Session))
}

// HandleTextMessage handles slash commands and free-text replies.
func (m *Manager) HandleTextMessage(ctx context.Context, text string) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") {
		m.countEvent(bridge.EventTextMessage, "command")
		m.dispatchSlashCommand(ctx, trimmed)
		return
	}

	matched := m.router.RouteTextMessage(trimmed)
	if matched == nil {
		m.countEvent(bridge.EventTextMessage, "no_active")
		if _, err := m.client.SendMessage(ctx, "No active request — nothing is waiting for an answer.", nil); err != nil {
			log.Printf("manager: no-active notice failed: %v", err)
		}
		return
	}

	if matched.Type == protocol.TypePermission {
		// Free text on a permission request is a clarifying question, not a
		// verdict: forward it to the session and deny with the sentinel so
		// the hook explains instead of blocking. The session re-raises the
		// permission once the question is answered.
		m.countEvent(bridge.EventTextMessage, "question")
		m.forwardQuestion(ctx, matched, trimmed)
		m.resolveAndAdvance(ctx, matched, protocol.SentinelDenyForQuestion,
			fmt.Sprintf("💬 Forwarded to %s; the permission will be asked again.", matched.Session))
		return
	}

	m.countEvent(bridge.EventTextMessage, "answer")
	m.resolveAndAdvance(ctx, matched, trimmed, fmt.Sprintf("✅ %s · answered", matched.Session))
}

func (m *Manager) forwardQuestion(ctx context.Context, req *queue.Request, text string) {
	if m.injector == nil {
		m.notifyInjectFailure(ctx, req.Session)
		return
	}
	if err := m.injector.Inject(ctx, req.Session, text); err != nil {
		log.Printf("manager: inject failed for %s: %v", req.Session, err)
		m.notifyInjectFailure(ctx, req.Session)
	}
}

func (m *Manager) notifyInjectFailure(ctx context.Context, sessionName string) {
	if m.metrics != nil {
		m.metrics.InjectionFailures.Inc()
	}
	msg := fmt.Sprintf("⚠️ Could not reach a live terminal for %s; the reply was recorded but not delivered to the session.", sessionName)
	if _, err := m.client.SendMessage(ctx, msg, nil); err != nil {
		log.Printf("manager: injection failure notice failed: %v", err)
	}
}

// resolveAndAdvance writes the response file, confirms, removes the request
// from the active slot, and presents whatever is next.
func (m *Manager) resolveAndAdvance(ctx context.Context, req *queue.Request, response, confirmation string) {
	m.writeResponse(req, response)
	m.recordAudit(req, audit.EventResolved, response)
	if m.metrics != nil && !req.EnqueuedAt.IsZero() {
		m.metrics.ObserveResolutionLatency(time.Since(req.EnqueuedAt))
	}

	// Drop the stale controls from the answered message. The ref is read
	// under the queue lock; the presentation path may still be tagging it.
	if ref := m.queue.ActiveRef(); ref != "" {
		if err := m.client.EditControls(ctx, ref, nil); err != nil {
			log.Printf("manager: strip controls failed: %v", err)
		}
	}
	if _, err := m.client.SendMessage(ctx, confirmation, nil); err != nil {
		log.Printf("manager: confirmation failed: %v", err)
	}

	next := m.queue.DequeueActive()
	m.setQueueDepth()
	if next != nil {
		m.PresentActive(ctx)
		return
	}
	if _, err := m.client.SendMessage(ctx, "🏁 Queue is empty — all caught up.", nil); err != nil {
		log.Printf("manager: empty-queue notice failed: %v", err)
	}
}

func (m *Manager) dispatchQueueCommand(ctx context.Context, data string) {
	switch {
	case data == protocol.CmdSkip:
		m.skipActive(ctx)
	case data == protocol.CmdShowQueue:
		m.sendQueueSummary(ctx)
	default:
		if target, ok := protocol.PrioritySession(data); ok {
			m.priorityJump(ctx, target)
		}
	}
}

func (m *Manager) dispatchSlashCommand(ctx context.Context, cmd string) {
	switch strings.ToLower(strings.Fields(cmd)[0]) {
	case "/status":
		m.sendStatus(ctx)
	case "/queue":
		m.sendQueueSummary(ctx)
	case "/skip":
		m.skipActive(ctx)
	case "/back":
		m.Deactivate(ctx)
	default:
		help := "Commands: /status — session overview, /queue — full queue, /skip — skip active, /back — deactivate."
		if _, err := m.client.SendMessage(ctx, help, nil); err != nil {
			log.Printf("manager: help send failed: %v", err)
		}
	}
}

func (m *Manager) skipActive(ctx context.Context) {
	before := m.queue.Active()
	after := m.queue.SkipActive()
	if after == nil {
		if _, err := m.client.SendMessage(ctx, "Nothing to skip — the queue is empty.", nil); err != nil {
			log.Printf("manager: skip notice failed: %v", err)
		}
		return
	}
	if after == before {
		if _, err := m.client.SendMessage(ctx, "Nothing queued behind the active request.", nil); err != nil {
			log.Printf("manager: skip notice failed: %v", err)
		}
		return
	}
	m.PresentActive(ctx)
}

func (m *Manager) priorityJump(ctx context.Context, target string) {
	if promoted := m.queue.PriorityJump(target); promoted == nil {
		msg := fmt.Sprintf("Nothing queued for %s.", target)
		if _, err := m.client.SendMessage(ctx, msg, nil); err != nil {
			log.Printf("manager: priority notice failed: %v", err)
		}
		return
	}
	m.PresentActive(ctx)
}

func (m *Manager) sendQueueSummary(ctx context.Context) {
	text, controls := m.presenter.FormatQueueSummary(m.queue.Summary())
	if _, err := m.client.SendMessage(ctx, text, controls); err != nil {
		log.Printf("manager: queue summary failed: %v", err)
	}
}

func (m *Manager) sendStatus(ctx context.Context) {
	var b strings.Builder
	fmt.Fprintf(&b, "Bridge %s · %d queued", m.State(), m.queue.Size())
	if m.registry != nil {
		for _, s := range m.registry.List() {
			fmt.Fprintf(&b, "\n%s %s", m.queue.SessionMarker(s.Name), s.Name)
			if s.LastContext != "" {
				fmt.Fprintf(&b, " — %s", s.LastContext)
			}
		}
	}
	if _, err := m.client.SendMessage(ctx, b.String(), nil); err != nil {
		log.Printf("manager: status send failed: %v", err)
	}
}

// CleanupSession purges a session whose process has gone away. Removed
// requests get the flush sentinel; if the active slot was freed the queue
// auto-advances.
func (m *Manager) CleanupSession(sessionName string) {
	removed, _, activeChanged := m.queue.PurgeSession(sessionName)
	for _, req := range removed {
		m.writeResponse(req, protocol.SentinelFlush)
		m.recordAudit(req, audit.EventPurged, "session exited")
	}
	m.setQueueDepth()
	if activeChanged {
		m.PresentActive(context.Background())
	}
}

func (m *Manager) matchRule(prompt string) (string, bool) {
	if m.rules == nil {
		return "", false
	}
	rs, err := m.rules.Rules()
	if err != nil {
		log.Printf("manager: load rules failed: %v", err)
		return "", false
	}
	return rules.Match(rs, prompt)
}

// writeResponse publishes an answer for a blocked hook. The hook deletes
// the file on first read, so the content is written to a temp name and
// renamed into place: once the response path exists it is complete.
func (m *Manager) writeResponse(req *queue.Request, content string) {
	if req.ResponsePath == "" {
		return
	}
	tmp := req.ResponsePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		log.Printf("manager: write response file %s: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, req.ResponsePath); err != nil {
		log.Printf("manager: publish response file %s: %v", req.ResponsePath, err)
	}
}

func (m *Manager) recordAudit(req *queue.Request, event, detail string) {
	if m.audit == nil {
		return
	}
	rec := audit.Record{
		Session:   req.Session,
		RequestID: req.ID,
		Type:      string(req.Type),
		Event:     event,
		Detail:    detail,
	}
	if err := m.audit.Save(context.Background(), rec); err != nil {
		log.Printf("manager: audit save failed: %v", err)
	}
}

func (m *Manager) setQueueDepth() {
	if m.metrics != nil {
		m.metrics.QueueDepth.Set(float64(m.queue.Size()))
	}
}

func (m *Manager) countEvent(kind bridge.EventKind, disposition string) {
	if m.metrics != nil {
		m.metrics.BridgeEvents.WithLabelValues(string(kind), disposition).Inc()
	}
}
