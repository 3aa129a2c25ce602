package gateway

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCloseReasonTruncation(t *testing.T) {
	tests := []struct {
		name    string
		message string
		wantLen int
	}{
		{"short", "pairing required", len("pairing required")},
		{"exact", strings.Repeat("a", 120), 120},
		{"ascii overflow", strings.Repeat("a", 200), 120},
		// 119 ASCII bytes then a 3-byte rune straddling the limit.
		{"rune boundary", strings.Repeat("a", 119) + "€€", 119},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reject(CodeUnauthorized, tt.message).CloseReason()
			if len(got) != tt.wantLen {
				t.Errorf("len(CloseReason()) = %d, want %d", len(got), tt.wantLen)
			}
			if !utf8.ValidString(got) {
				t.Errorf("CloseReason() = %q is not valid UTF-8", got)
			}
		})
	}
}

func TestRejectionDefaults(t *testing.T) {
	r := reject(CodeNotPaired, "pairing required")
	if r.CloseCode != ClosePolicyViolation {
		t.Errorf("CloseCode = %d, want %d", r.CloseCode, ClosePolicyViolation)
	}
	if r.Error() != "NOT_PAIRED: pairing required" {
		t.Errorf("Error() = %q", r.Error())
	}
	shape := r.withDetails(map[string]any{"requestId": "r-1"}).Shape()
	if shape.Code != CodeNotPaired || shape.Details["requestId"] != "r-1" {
		t.Errorf("Shape() = %+v", shape)
	}
}
