package policy

import (
	"strings"
	"testing"
)

func TestRedactCredentials(t *testing.T) {
	in := "run with TOKEN=sk_live_abcdef12345678 against prod"
	out, changed := Redact(in)
	if !changed {
		t.Fatal("expected redaction")
	}
	if strings.Contains(out, "sk_live_abcdef12345678") {
		t.Fatalf("credential survived: %q", out)
	}
	if !strings.Contains(out, "[REDACTED_CREDENTIAL]") {
		t.Fatalf("missing placeholder: %q", out)
	}
}

func TestRedactEmailAndCard(t *testing.T) {
	in := "invoice for jane@example.com card 4111 1111 1111 1111"
	out, changed := Redact(in)
	if !changed {
		t.Fatal("expected redaction")
	}
	if strings.Contains(out, "jane@example.com") || strings.Contains(out, "4111") {
		t.Fatalf("PII survived: %q", out)
	}
}

func TestRedactCleanTextUnchanged(t *testing.T) {
	in := "run the unit tests in ./internal/queue"
	out, changed := Redact(in)
	if changed || out != in {
		t.Fatalf("clean text must pass through, got %q", out)
	}
}

func TestClassifyPrompt(t *testing.T) {
	cases := []struct {
		prompt string
		want   Risk
	}{
		{"Bash(rm -rf ./build)", RiskHigh},
		{"drop table users in staging?", RiskHigh},
		{"git push --force to main?", RiskHigh},
		{"push the release branch?", RiskMedium},
		{"run go vet on the repo?", RiskLow},
		{"", RiskLow},
	}
	for _, tc := range cases {
		if got := ClassifyPrompt(tc.prompt); got != tc.want {
			t.Fatalf("ClassifyPrompt(%q) = %v, want %v", tc.prompt, got, tc.want)
		}
	}
}
