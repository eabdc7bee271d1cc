package policy

import (
	"regexp"
	"strings"
)

// Risk buckets a permission prompt by blast radius. The human sees the
// bucket as a warning tag; it never auto-denies anything.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

var (
	highRiskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf?\b`),
		regexp.MustCompile(`(?i)\b(drop|truncate)\s+(table|database)\b`),
		regexp.MustCompile(`(?i)\bgit\s+push\s+.*--force\b`),
		regexp.MustCompile(`(?i)\b(sudo|chmod|chown)\b`),
	}
	highRiskKeywords = []string{
		"delete", "remove", "drop", "wipe", "destroy", "format",
		"shutdown", "reboot", "kill", "terminate",
		"deploy", "force push", "migrate", "uninstall",
	}
	mediumRiskKeywords = []string{
		"push", "merge", "install", "publish", "release",
		"write", "overwrite", "rename", "move",
	}
)

// ClassifyPrompt estimates how destructive the action behind a permission
// prompt is. It only sees the prompt text, so this is a heuristic for the
// human's benefit, not an enforcement gate.
func ClassifyPrompt(prompt string) Risk {
	p := strings.ToLower(strings.TrimSpace(prompt))
	if p == "" {
		return RiskLow
	}
	for _, re := range highRiskPatterns {
		if re.MatchString(p) {
			return RiskHigh
		}
	}
	for _, kw := range highRiskKeywords {
		if strings.Contains(p, kw) {
			return RiskHigh
		}
	}
	for _, kw := range mediumRiskKeywords {
		if strings.Contains(p, kw) {
			return RiskMedium
		}
	}
	return RiskLow
}
