package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
)

// Command is a slash command offered in the completions popup.
type Command struct {
	Name        string
	Description string
}

// AllCommands returns the slash commands the chat client understands.
func AllCommands() []Command {
	return []Command{
		{Name: "confirm", Description: "Approve the pending tool call"},
		{Name: "cancel", Description: "Dismiss the pending tool call (it stays queued on the server)"},
		{Name: "retry", Description: "Resend the last message"},
		{Name: "new", Description: "Start a fresh conversation"},
		{Name: "abort", Description: "Hang up the in-flight turn"},
		{Name: "transcript", Description: "Reload the conversation transcript from the server"},
		{Name: "quit", Description: "Exit chat"},
	}
}

// commandSource implements fuzzy.Source over command names.
type commandSource []Command

func (c commandSource) String(i int) string { return c[i].Name }
func (c commandSource) Len() int            { return len(c) }

// FilterCommands returns commands matching the query, best match
// first. An empty query returns everything.
func FilterCommands(query string) []Command {
	commands := AllCommands()
	query = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(query), "/"))
	if query == "" {
		return commands
	}

	matches := fuzzy.FindFrom(query, commandSource(commands))
	result := make([]Command, 0, len(matches))
	for _, match := range matches {
		result = append(result, commands[match.Index])
	}

	// Fuzzy can miss a plain prefix when the query has a typo'd tail,
	// so fall back to prefix matching before giving up.
	if len(result) == 0 {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd.Name, query) {
				result = append(result, cmd)
			}
		}
	}
	return result
}

// Completions is the slash command popup shown above the input.
type Completions struct {
	filtered []Command
	cursor   int
	visible  bool
	width    int
}

func NewCompletions() *Completions {
	return &Completions{filtered: AllCommands()}
}

func (c *Completions) SetWidth(width int) { c.width = width }

// Show opens the popup with every command listed.
func (c *Completions) Show() {
	c.visible = true
	c.cursor = 0
	c.filtered = AllCommands()
}

// Hide closes the popup.
func (c *Completions) Hide() {
	c.visible = false
	c.cursor = 0
}

func (c *Completions) Visible() bool { return c.visible }

// SetQuery refilters against the typed input.
func (c *Completions) SetQuery(query string) {
	c.filtered = FilterCommands(query)
	if c.cursor >= len(c.filtered) {
		c.cursor = 0
	}
}

// Selected returns the highlighted command, or nil when nothing
// matches the query.
func (c *Completions) Selected() *Command {
	if !c.visible || len(c.filtered) == 0 {
		return nil
	}
	return &c.filtered[c.cursor]
}

// Update moves the cursor. Only key messages matter here; everything
// else passes through untouched.
func (c *Completions) Update(msg tea.Msg) {
	if !c.visible {
		return
	}
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return
	}
	switch key.String() {
	case "up", "ctrl+p":
		if c.cursor > 0 {
			c.cursor--
		}
	case "down", "ctrl+n":
		if c.cursor < len(c.filtered)-1 {
			c.cursor++
		}
	}
}

// View renders the popup, empty when hidden or nothing matches.
func (c *Completions) View() string {
	if !c.visible || len(c.filtered) == 0 {
		return ""
	}

	maxName := 0
	for _, cmd := range c.filtered {
		if n := len(cmd.Name) + 1; n > maxName {
			maxName = n
		}
	}

	var b strings.Builder
	for i, cmd := range c.filtered {
		name := "/" + cmd.Name
		padding := strings.Repeat(" ", maxName-len(name)+2)
		if i == c.cursor {
			b.WriteString(selectedCommandStyle.Render("❯ " + name))
		} else {
			b.WriteString("  " + commandStyle.Render(name))
		}
		b.WriteString(padding)
		width := c.width - maxName - 8
		b.WriteString(mutedStyle.Render(truncate(cmd.Description, width)))
		if i < len(c.filtered)-1 {
			b.WriteString("\n")
		}
	}

	return popupBorderStyle.Render(b.String())
}

var (
	popupBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240")).
				Padding(0, 1)

	commandStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	selectedCommandStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	mutedStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// ParseCommand splits a typed slash command into its name and the rest
// of the line. Returns ok=false for ordinary messages.
func ParseCommand(input string) (name, rest string, ok bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "/") {
		return "", "", false
	}
	fields := strings.SplitN(strings.TrimPrefix(trimmed, "/"), " ", 2)
	name = strings.ToLower(strings.TrimSpace(fields[0]))
	if len(fields) > 1 {
		rest = strings.TrimSpace(fields[1])
	}
	if name == "" {
		return "", "", false
	}
	return name, rest, true
}
