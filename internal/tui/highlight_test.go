package tui

import (
	"regexp"
	"strings"
	"testing"
)

var ansiSequence = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiSequence.ReplaceAllString(s, "")
}

func TestHighlightJSONIndents(t *testing.T) {
	out := stripANSI(HighlightJSON([]byte(`{"category":"catering","city":"Lisbon"}`)))
	want := "{\n  \"category\": \"catering\",\n  \"city\": \"Lisbon\"\n}"
	if out != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", out, want)
	}
}

func TestHighlightJSONInvalidPassesThrough(t *testing.T) {
	if got := HighlightJSON([]byte("not json at all")); got != "not json at all" {
		t.Fatalf("invalid JSON should pass through, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is t…"},
		{"anything", 0, ""},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.width); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestRenderMarkdownEmpty(t *testing.T) {
	if got := RenderMarkdown("", 80); got != "" {
		t.Fatalf("empty input should render empty, got %q", got)
	}
}

func TestRenderMarkdownKeepsContent(t *testing.T) {
	out := RenderMarkdown("We found **three caterers** in Lisbon.", 60)
	if !strings.Contains(stripANSI(out), "three caterers") {
		t.Fatalf("rendered output lost content: %q", out)
	}
}

func TestRenderMarkdownTinyWidth(t *testing.T) {
	// Width is floored rather than passed through, so this must not
	// panic or produce empty output.
	if out := RenderMarkdown("hello", 0); out == "" {
		t.Fatal("expected non-empty output at zero width")
	}
}
