// Package route maps inbound reply events to the pending request they
// belong to. Resolution is exact, never heuristic: a reply matches only the
// request currently in the active slot, so a stale button or a late text can
// never reach the wrong session.
package route

import "github.com/afkbridge/afkd/internal/queue"

// RequestRouter resolves inbound replies against pending requests. The
// interface exists so a topic-per-session scheme (matching by thread
// identifier) can replace the single-chat rule without touching the queue or
// the manager.
type RequestRouter interface {
	RouteButtonPress(callbackData, messageRef string) *queue.Request
	RouteTextMessage(text string) *queue.Request
}

// QueueRouter routes against the queue's active slot only.
type QueueRouter struct {
	queue *queue.Queue
}

func NewQueueRouter(q *queue.Queue) *QueueRouter {
	return &QueueRouter{queue: q}
}

// RouteButtonPress matches iff the active request's delivered message is the
// one the button was attached to. Anything else is a stale press. The ref
// comparison runs inside the queue lock; the presentation path tags refs
// concurrently with inbound presses.
func (r *QueueRouter) RouteButtonPress(_ string, messageRef string) *queue.Request {
	return r.queue.ActiveIfMatches(messageRef)
}

// RouteTextMessage always resolves to the active request; free text has no
// message anchor, and the active slot is the single source of truth.
func (r *QueueRouter) RouteTextMessage(_ string) *queue.Request {
	return r.queue.Active()
}
