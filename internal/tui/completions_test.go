package tui

import (
	"testing"
)

func TestFilterCommandsEmptyQueryReturnsAll(t *testing.T) {
	got := FilterCommands("")
	if len(got) != len(AllCommands()) {
		t.Fatalf("expected %d commands, got %d", len(AllCommands()), len(got))
	}
}

func TestFilterCommandsFuzzyMatch(t *testing.T) {
	got := FilterCommands("cnf")
	if len(got) == 0 {
		t.Fatal("expected at least one match for 'cnf'")
	}
	if got[0].Name != "confirm" {
		t.Fatalf("expected confirm first, got %q", got[0].Name)
	}
}

func TestFilterCommandsStripsSlash(t *testing.T) {
	got := FilterCommands("/quit")
	if len(got) == 0 || got[0].Name != "quit" {
		t.Fatalf("expected quit, got %v", got)
	}
}

func TestFilterCommandsNoMatch(t *testing.T) {
	if got := FilterCommands("zzzzzz"); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input string
		name  string
		rest  string
		ok    bool
	}{
		{"/quit", "quit", "", true},
		{"/confirm now please", "confirm", "now please", true},
		{"  /retry  ", "retry", "", true},
		{"/NEW", "new", "", true},
		{"hello there", "", "", false},
		{"/", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		name, rest, ok := ParseCommand(tt.input)
		if name != tt.name || rest != tt.rest || ok != tt.ok {
			t.Errorf("ParseCommand(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.input, name, rest, ok, tt.name, tt.rest, tt.ok)
		}
	}
}

func TestCompletionsSelection(t *testing.T) {
	c := NewCompletions()
	c.SetWidth(80)

	if c.Selected() != nil {
		t.Fatal("hidden popup should select nothing")
	}

	c.Show()
	sel := c.Selected()
	if sel == nil || sel.Name != AllCommands()[0].Name {
		t.Fatalf("expected first command selected, got %v", sel)
	}

	c.SetQuery("/q")
	sel = c.Selected()
	if sel == nil || sel.Name != "quit" {
		t.Fatalf("expected quit after filtering, got %v", sel)
	}

	c.Hide()
	if c.Selected() != nil {
		t.Fatal("hidden popup should select nothing")
	}
}

func TestCompletionsCursorClampsOnRefilter(t *testing.T) {
	c := NewCompletions()
	c.Show()
	c.cursor = len(AllCommands()) - 1
	c.SetQuery("/quit")
	if sel := c.Selected(); sel == nil || sel.Name != "quit" {
		t.Fatalf("cursor should clamp to remaining matches, got %v", sel)
	}
}
