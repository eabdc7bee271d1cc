package queue

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/afkbridge/afkd/internal/protocol"
)

// Request is one pending question raised by a local session.
type Request struct {
	ID           string
	Session      string
	Type         protocol.RequestType
	Prompt       string
	Options      []protocol.ChoiceOption
	ResponsePath string
	// MessageRef is the opaque handle of the delivered message, empty until
	// the request has been presented. Used to disambiguate button presses.
	MessageRef string
	EnqueuedAt time.Time
}

// EnqueueResult reports where a request landed.
type EnqueueResult int

const (
	ResultActive EnqueueResult = iota
	ResultQueued
)

// Entry is one row of a queue summary, active first.
type Entry struct {
	Position int                  `json:"position"`
	Session  string               `json:"session"`
	Marker   string               `json:"marker"`
	Type     protocol.RequestType `json:"type"`
	Prompt   string               `json:"prompt"`
	Waiting  time.Duration        `json:"waiting"`
	Active   bool                 `json:"active"`
}

// Session markers are assigned deterministically from a small fixed palette.
var markerPalette = []string{"🔵", "🟢", "🟡", "🟣", "🟠"}

// Queue holds pending requests: a single active slot plus a FIFO tail.
// All operations are O(n) or better and never perform I/O, so the mutex is
// safe to take from both the hook-request path and the receive loop.
type Queue struct {
	mu      sync.Mutex
	active  *Request
	tail    []*Request
	markers map[string]string
	now     func() time.Time
}

func New() *Queue {
	return &Queue{
		markers: make(map[string]string),
		now:     time.Now,
	}
}

// Enqueue adds a request. If nothing is active it becomes active immediately.
func (q *Queue) Enqueue(req *Request) EnqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = q.now()
	}
	if q.active == nil {
		q.active = req
		return ResultActive
	}
	q.tail = append(q.tail, req)
	return ResultQueued
}

// Active returns the current active request, nil when the queue is idle.
func (q *Queue) Active() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Size counts queued (non-active) requests only.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tail)
}

// SetMessageRef records the delivered message handle on the request with the
// given ID. Matching by ID keeps a late send from tagging the wrong request
// after the queue advanced.
func (q *Queue) SetMessageRef(id, ref string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active != nil && q.active.ID == id {
		q.active.MessageRef = ref
		return
	}
	for _, req := range q.tail {
		if req.ID == id {
			req.MessageRef = ref
			return
		}
	}
}

// ActiveIfMatches returns the active request only when its message ref
// equals ref. The comparison happens under the queue lock, so a concurrent
// SetMessageRef from the presentation path cannot be half-observed.
func (q *Queue) ActiveIfMatches(ref string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ref == "" || q.active == nil || q.active.MessageRef != ref {
		return nil
	}
	return q.active
}

// ActiveRef reads the active request's message ref under the queue lock.
func (q *Queue) ActiveRef() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil {
		return ""
	}
	return q.active.MessageRef
}

// DequeueActive removes the active request, which the caller has already
// resolved, and promotes the head of the tail. Returns the new active
// request, nil when the queue is now empty.
func (q *Queue) DequeueActive() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.promoteLocked()
}

func (q *Queue) promoteLocked() *Request {
	if len(q.tail) == 0 {
		q.active = nil
		return nil
	}
	q.active = q.tail[0]
	q.tail = q.tail[1:]
	return q.active
}

// SkipActive moves the active request to the tail, unresolved, and promotes
// the former head. With an empty tail this is a no-op returning the same
// active request.
func (q *Queue) SkipActive() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.active == nil || len(q.tail) == 0 {
		return q.active
	}
	demoted := q.active
	q.active = q.tail[0]
	q.tail = append(q.tail[1:], demoted)
	return q.active
}

// PriorityJump promotes the first tail entry of the given session, demoting
// the current active request to the tail. Returns nil and leaves the queue
// untouched when that session has nothing queued; an already-active request
// of the session is deliberately not a match.
func (q *Queue) PriorityJump(session string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, req := range q.tail {
		if req.Session != session {
			continue
		}
		q.tail = append(q.tail[:i], q.tail[i+1:]...)
		if q.active != nil {
			q.tail = append(q.tail, q.active)
		}
		q.active = req
		return req
	}
	return nil
}

// Summary lists the active request first, then the tail in order, annotated
// with session markers and elapsed wait time.
func (q *Queue) Summary() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	entries := make([]Entry, 0, len(q.tail)+1)
	if q.active != nil {
		entries = append(entries, q.entryLocked(q.active, 0, now, true))
	}
	for _, req := range q.tail {
		entries = append(entries, q.entryLocked(req, len(entries), now, false))
	}
	return entries
}

func (q *Queue) entryLocked(req *Request, pos int, now time.Time, active bool) Entry {
	return Entry{
		Position: pos,
		Session:  req.Session,
		Marker:   q.markerLocked(req.Session),
		Type:     req.Type,
		Prompt:   req.Prompt,
		Waiting:  now.Sub(req.EnqueuedAt),
		Active:   active,
	}
}

// SessionMarker returns the stable display glyph for a session, memoized for
// the lifetime of the queue.
func (q *Queue) SessionMarker(session string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.markerLocked(session)
}

func (q *Queue) markerLocked(session string) string {
	if m, ok := q.markers[session]; ok {
		return m
	}
	h := fnv.New32a()
	h.Write([]byte(session))
	m := markerPalette[h.Sum32()%uint32(len(markerPalette))]
	q.markers[session] = m
	return m
}

// TailSessions returns the sessions of queued entries in order, for queue
// context lines on the active message.
func (q *Queue) TailSessions() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tail))
	for _, req := range q.tail {
		out = append(out, req.Session)
	}
	return out
}

// PurgeSession drops every request of a session, active or queued. When the
// active request belonged to the session the queue auto-advances. Returns
// the removed requests and the new active request if the active slot changed.
func (q *Queue) PurgeSession(session string) (removed []*Request, newActive *Request, activeChanged bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.tail[:0]
	for _, req := range q.tail {
		if req.Session == session {
			removed = append(removed, req)
			continue
		}
		kept = append(kept, req)
	}
	q.tail = kept
	if q.active != nil && q.active.Session == session {
		removed = append(removed, q.active)
		newActive = q.promoteLocked()
		activeChanged = true
	}
	return removed, newActive, activeChanged
}

// Clear empties the queue entirely, returning every abandoned request so the
// caller can flush their response files.
func (q *Queue) Clear() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	abandoned := make([]*Request, 0, len(q.tail)+1)
	if q.active != nil {
		abandoned = append(abandoned, q.active)
	}
	abandoned = append(abandoned, q.tail...)
	q.active = nil
	q.tail = nil
	return abandoned
}
