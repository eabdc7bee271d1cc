// Package rules persists "always allow" permission shortcuts. A rule is an
// append-only (pattern, behavior) pair matched by substring against the
// prompt of an incoming permission request; a match resolves the request
// without a round trip to the human.
package rules

import (
	"strings"
	"time"
)

// Rule is one persisted shortcut.
type Rule struct {
	ID        uint   `gorm:"primaryKey"`
	Pattern   string `gorm:"not null"`
	Behavior  string `gorm:"not null"`
	CreatedAt int64  `gorm:"not null"`
}

func (Rule) TableName() string { return "permission_rules" }

// Store holds permission rules. Append-only: rules are never edited, only
// added, and the earliest match wins.
type Store interface {
	Append(pattern, behavior string) error
	Rules() ([]Rule, error)
	Close() error
}

// Match scans rules in insertion order for the first whose pattern is a
// substring of the prompt. Matching is case-insensitive.
func Match(rs []Rule, prompt string) (behavior string, ok bool) {
	p := strings.ToLower(prompt)
	for _, r := range rs {
		pattern := strings.ToLower(strings.TrimSpace(r.Pattern))
		if pattern == "" {
			continue
		}
		if strings.Contains(p, pattern) {
			return r.Behavior, true
		}
	}
	return "", false
}

func newRule(pattern, behavior string) Rule {
	return Rule{
		Pattern:   strings.TrimSpace(pattern),
		Behavior:  behavior,
		CreatedAt: time.Now().UTC().Unix(),
	}
}
