// Package notify raises local desktop notifications for conditions the
// remote channel cannot deliver: forced fallback out of active mode and
// reply-injection failures.
package notify

import (
	"log"

	"github.com/gen2brain/beeep"
)

// Send shows a desktop notification, logging instead when the desktop
// environment rejects it. Never fatal: notifications are best effort.
func Send(title, body string) {
	if err := beeep.Notify(title, body, ""); err != nil {
		log.Printf("notify: %s: %s (%v)", title, body, err)
	}
}
