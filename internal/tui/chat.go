package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/gatherly/concierge/internal/client"
	"github.com/gatherly/concierge/internal/wire"
)

// Options configures the chat TUI.
type Options struct {
	// ConversationID resumes an existing conversation; empty starts
	// fresh on the first message.
	ConversationID string
	// History preloads the transcript when resuming.
	History []wire.MessageView
	// InitialText prefills the input without sending it.
	InitialText string
	// ServerURL is shown in the status line.
	ServerURL string
}

// Model is the chat TUI. It owns a Consumer and folds its turn state
// into a scrolling transcript with an input line underneath.
type Model struct {
	width  int
	height int
	ready  bool

	viewport    viewport.Model
	textarea    textarea.Model
	spinner     spinner.Model
	completions *Completions

	client   *client.Client
	consumer *client.Consumer

	serverURL  string
	transcript strings.Builder
	streaming  bool
	confirming bool
	phase      string
	statusNote string
	quitting   bool
}

type (
	turnStartedMsg struct{ err error }
	frameMsg       struct {
		event string
		more  bool
		err   error
	}
	transcriptMsg struct {
		messages []wire.MessageView
		err      error
	}
)

// New builds the chat model. The real dimensions arrive with the first
// WindowSizeMsg.
func New(cli *client.Client, opts Options) *Model {
	width, height := 80, 24

	ta := textarea.New()
	ta.Placeholder = "Message the concierge..."
	ta.Prompt = "❯ "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetWidth(width)
	ta.SetHeight(1)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle()
	ta.FocusedStyle.Prompt = promptStyle
	ta.BlurredStyle = ta.FocusedStyle
	ta.Focus()
	if opts.InitialText != "" {
		ta.SetValue(opts.InitialText)
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := &Model{
		width:       width,
		height:      height,
		viewport:    viewport.New(width, height-3),
		textarea:    ta,
		spinner:     sp,
		completions: NewCompletions(),
		client:      cli,
		consumer:    client.NewConsumer(cli, opts.ConversationID),
		serverURL:   opts.ServerURL,
	}
	if len(opts.History) > 0 {
		m.transcript.WriteString(m.renderHistory(opts.History))
	}
	m.refreshViewport()
	return m
}

// Run starts the chat TUI and blocks until the user exits.
func Run(cli *client.Client, opts Options) error {
	p := tea.NewProgram(New(cli, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.layout()
		m.refreshViewport()
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.streaming {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case turnStartedMsg:
		if msg.err != nil {
			m.streaming = false
			m.appendErrorBlock(msg.err)
			m.refreshViewport()
			return m, nil
		}
		return m, tea.Batch(m.stepCmd(), m.spinner.Tick)

	case frameMsg:
		return m.handleFrame(msg)

	case transcriptMsg:
		if msg.err != nil {
			m.statusNote = "transcript reload failed: " + msg.err.Error()
			return m, nil
		}
		m.transcript.Reset()
		m.transcript.WriteString(m.renderHistory(msg.messages))
		m.refreshViewport()
		m.viewport.GotoBottom()
		return m, nil
	}

	// Mouse wheel and anything else scrolls the transcript.
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.statusNote = ""

	// The confirmation panel owns the keyboard while visible.
	if m.confirming {
		switch msg.String() {
		case "y", "Y", "enter":
			return m.approvePending()
		case "n", "N", "esc":
			return m.dismissPending()
		case "ctrl+c":
			return m.quit()
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return m.quit()

	case "esc":
		if m.completions.Visible() {
			m.completions.Hide()
			m.layout()
			return m, nil
		}
		if m.streaming {
			m.consumer.Abort()
			m.streaming = false
			m.appendNoteBlock("Turn aborted.")
			m.refreshViewport()
		}
		return m, nil

	case "enter":
		if sel := m.completions.Selected(); sel != nil {
			m.completions.Hide()
			m.textarea.SetValue("")
			m.layout()
			return m.runCommand(sel.Name)
		}
		return m.submit()

	case "up", "down", "ctrl+p", "ctrl+n":
		if m.completions.Visible() {
			m.completions.Update(msg)
			return m, nil
		}

	case "pgup", "pgdown", "ctrl+u", "ctrl+d", "home", "end":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)

	value := m.textarea.Value()
	if strings.HasPrefix(value, "/") {
		if !m.completions.Visible() {
			m.completions.Show()
		}
		m.completions.SetQuery(value)
	} else if m.completions.Visible() {
		m.completions.Hide()
	}
	m.layout()
	return m, cmd
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.textarea.Value())
	if value == "" {
		return m, nil
	}
	if name, _, ok := ParseCommand(value); ok {
		m.textarea.SetValue("")
		m.completions.Hide()
		m.layout()
		return m.runCommand(name)
	}
	if m.streaming {
		m.statusNote = "a turn is already in flight"
		return m, nil
	}
	m.textarea.SetValue("")
	m.appendUserBlock(value)
	m.streaming = true
	m.phase = "sending"
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, tea.Batch(m.sendCmd(value), m.spinner.Tick)
}

func (m *Model) runCommand(name string) (tea.Model, tea.Cmd) {
	switch name {
	case "confirm":
		if m.consumer.State() != client.StateAwaitingConfirmation {
			m.statusNote = "nothing to confirm"
			return m, nil
		}
		return m.approvePending()
	case "cancel":
		if m.consumer.Pending() == nil {
			m.statusNote = "nothing to cancel"
			return m, nil
		}
		return m.dismissPending()
	case "retry":
		if m.streaming {
			m.statusNote = "a turn is already in flight"
			return m, nil
		}
		if m.consumer.LastMessage() == "" {
			m.statusNote = "nothing to retry"
			return m, nil
		}
		m.appendNoteBlock("Retrying: " + truncate(m.consumer.LastMessage(), m.textWidth()-10))
		m.streaming = true
		m.phase = "sending"
		m.refreshViewport()
		return m, tea.Batch(m.retryCmd(), m.spinner.Tick)
	case "new":
		m.consumer.Abort()
		m.consumer = client.NewConsumer(m.client, "")
		m.transcript.Reset()
		m.streaming = false
		m.confirming = false
		m.statusNote = "started a fresh conversation"
		m.layout()
		m.refreshViewport()
		return m, nil
	case "abort":
		if !m.streaming {
			m.statusNote = "nothing to abort"
			return m, nil
		}
		m.consumer.Abort()
		m.streaming = false
		m.appendNoteBlock("Turn aborted.")
		m.refreshViewport()
		return m, nil
	case "transcript":
		if m.consumer.ConversationID() == "" {
			m.statusNote = "no conversation yet"
			return m, nil
		}
		return m, m.loadTranscriptCmd()
	case "quit":
		return m.quit()
	default:
		m.statusNote = "unknown command /" + name
		return m, nil
	}
}

func (m *Model) approvePending() (tea.Model, tea.Cmd) {
	m.confirming = false
	m.streaming = true
	m.phase = "executing"
	m.layout()
	m.refreshViewport()
	return m, tea.Batch(m.confirmCmd(), m.spinner.Tick)
}

func (m *Model) dismissPending() (tea.Model, tea.Cmd) {
	m.confirming = false
	m.consumer.CancelTool()
	m.appendNoteBlock("Tool call dismissed; it stays queued on the server.")
	m.finalizeTurn()
	m.layout()
	m.refreshViewport()
	return m, nil
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	m.consumer.Abort()
	m.quitting = true
	return m, tea.Quit
}

func (m *Model) handleFrame(msg frameMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		m.streaming = false
		m.appendErrorBlock(msg.err)
		m.refreshViewport()
		return m, nil
	}
	if msg.more {
		m.phase = phaseFor(msg.event, m.phase)
		m.refreshViewport()
		return m, m.stepCmd()
	}

	m.streaming = false
	switch m.consumer.State() {
	case client.StateAwaitingConfirmation:
		m.confirming = true
		m.layout()
	case client.StateDone:
		m.finalizeTurn()
	case client.StateError:
		if err := m.consumer.Err(); err != nil {
			m.appendErrorBlock(err)
		}
	}
	m.refreshViewport()
	m.viewport.GotoBottom()
	return m, nil
}

func phaseFor(event, current string) string {
	switch event {
	case wire.EventThinking:
		return "planning"
	case wire.EventText:
		return "responding"
	case wire.EventToolStart:
		return "running tools"
	case wire.EventToolResult:
		return "running tools"
	default:
		return current
	}
}

// Commands against the consumer. Each blocks in its own goroutine, so
// the UI stays responsive while the network is slow.

func (m *Model) sendCmd(message string) tea.Cmd {
	return func() tea.Msg {
		return turnStartedMsg{err: m.consumer.Send(context.Background(), message)}
	}
}

func (m *Model) retryCmd() tea.Cmd {
	return func() tea.Msg {
		return turnStartedMsg{err: m.consumer.Retry(context.Background())}
	}
}

func (m *Model) confirmCmd() tea.Cmd {
	return func() tea.Msg {
		return turnStartedMsg{err: m.consumer.ConfirmTool(context.Background())}
	}
}

func (m *Model) stepCmd() tea.Cmd {
	return func() tea.Msg {
		frame, more, err := m.consumer.Step()
		return frameMsg{event: frame.Event, more: more, err: err}
	}
}

func (m *Model) loadTranscriptCmd() tea.Cmd {
	id := m.consumer.ConversationID()
	return func() tea.Msg {
		messages, err := m.client.Messages(context.Background(), id)
		return transcriptMsg{messages: messages, err: err}
	}
}

// Transcript building. Finalized turns are markdown rendered;
// streaming text stays plain until the turn settles.

func (m *Model) textWidth() int {
	w := m.width - 2
	if w < 20 {
		w = 20
	}
	return w
}

func (m *Model) appendUserBlock(content string) {
	wrapped := wordwrap.String(content, m.textWidth()-2)
	lines := strings.Split(wrapped, "\n")
	for i, line := range lines {
		if i == 0 {
			m.transcript.WriteString(promptStyle.Render("❯ ") + line)
		} else {
			m.transcript.WriteString("  " + line)
		}
		m.transcript.WriteString("\n")
	}
	m.transcript.WriteString("\n")
}

func (m *Model) appendNoteBlock(note string) {
	m.transcript.WriteString(mutedStyle.Render(note) + "\n\n")
}

func (m *Model) appendErrorBlock(err error) {
	wrapped := wordwrap.String(err.Error(), m.textWidth()-2)
	m.transcript.WriteString(errorStyle.Render("✗ ") + wrapped + "\n\n")
}

// finalizeTurn flushes the settled turn into the transcript. Tool
// results come first so the prose reads as a reply to them.
func (m *Model) finalizeTurn() {
	for _, result := range m.consumer.Results() {
		m.transcript.WriteString(toolResultLine(result, m.textWidth()) + "\n")
	}
	if len(m.consumer.Results()) > 0 {
		m.transcript.WriteString("\n")
	}

	if text := m.consumer.Text(); strings.TrimSpace(text) != "" {
		m.transcript.WriteString(RenderMarkdown(text, m.textWidth()))
		m.transcript.WriteString("\n\n")
	}

	done := m.consumer.Done()
	if done == nil {
		return
	}
	if done.IsComplete {
		note := "Conversation complete."
		if done.EntityID != "" {
			note = fmt.Sprintf("Conversation complete. Booking %s is confirmed.", done.EntityID)
		}
		m.transcript.WriteString(successStyle.Render(note) + "\n\n")
	}
	if n := len(done.PendingConfirmations); n > 0 {
		m.transcript.WriteString(mutedStyle.Render(fmt.Sprintf("%d tool call(s) still queued for confirmation.", n)) + "\n\n")
	}
}

// streamingTail renders the in-flight turn under the transcript.
func (m *Model) streamingTail() string {
	if !m.streaming && !m.confirming {
		return ""
	}

	var b strings.Builder
	for _, result := range m.consumer.Results() {
		b.WriteString(toolResultLine(result, m.textWidth()) + "\n")
	}
	for _, call := range m.consumer.Executing() {
		b.WriteString(toolRunStyle.Render("⚙ "+call.Name) + mutedStyle.Render(" running...") + "\n")
	}
	if text := m.consumer.Text(); text != "" {
		b.WriteString(wordwrap.String(text, m.textWidth()))
		b.WriteString("\n")
	}
	return b.String()
}

func toolResultLine(result wire.ToolResultPayload, width int) string {
	summary := result.Summary
	if summary == "" {
		summary = result.Error
	}
	line := truncate(summary, width-len(result.Name)-6)
	if result.Success {
		return toolOkStyle.Render("⚙ "+result.Name+" ✓") + " " + mutedStyle.Render(line)
	}
	return toolErrStyle.Render("⚙ "+result.Name+" ✗") + " " + mutedStyle.Render(line)
}

func (m *Model) renderHistory(messages []wire.MessageView) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			wrapped := wordwrap.String(msg.Content, m.textWidth()-2)
			for i, line := range strings.Split(wrapped, "\n") {
				if i == 0 {
					b.WriteString(promptStyle.Render("❯ ") + line)
				} else {
					b.WriteString("  " + line)
				}
				b.WriteString("\n")
			}
			b.WriteString("\n")
		case "assistant":
			if strings.TrimSpace(msg.Content) != "" {
				b.WriteString(RenderMarkdown(msg.Content, m.textWidth()))
				b.WriteString("\n\n")
			}
			for _, call := range msg.ToolCalls {
				b.WriteString(mutedStyle.Render("⚙ requested "+call.Name) + "\n")
			}
			if len(msg.ToolCalls) > 0 {
				b.WriteString("\n")
			}
		case "tool":
			b.WriteString(mutedStyle.Render("⚙ "+truncate(msg.Content, m.textWidth()-4)) + "\n\n")
		}
	}
	return b.String()
}

// Layout and rendering.

func (m *Model) layout() {
	chrome := 3 // status line, input, help line
	if m.confirming {
		chrome += lipgloss.Height(m.confirmPanel())
	} else if m.completions.Visible() {
		chrome += lipgloss.Height(m.completions.View())
	}

	h := m.height - chrome
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.textarea.SetWidth(m.width)
	m.completions.SetWidth(m.width)
}

func (m *Model) refreshViewport() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcript.String() + m.streamingTail())
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}
	if m.quitting {
		return ""
	}

	sections := []string{m.viewport.View(), m.statusLine()}
	if m.confirming {
		sections = append(sections, m.confirmPanel())
	} else if m.completions.Visible() {
		if popup := m.completions.View(); popup != "" {
			sections = append(sections, popup)
		}
	}
	sections = append(sections, m.textarea.View(), m.helpLine())
	return strings.Join(sections, "\n")
}

func (m *Model) statusLine() string {
	if m.statusNote != "" {
		return statusStyle.Render(truncate(m.statusNote, m.width))
	}
	if m.streaming {
		return m.spinner.View() + statusStyle.Render(" "+m.phase)
	}
	if m.confirming {
		return statusStyle.Render("waiting for your decision")
	}

	var parts []string
	if id := m.consumer.ConversationID(); id != "" {
		parts = append(parts, "conversation "+shortID(id))
	} else {
		parts = append(parts, "new conversation")
	}
	if m.serverURL != "" {
		parts = append(parts, m.serverURL)
	}
	return statusStyle.Render(truncate(strings.Join(parts, " · "), m.width))
}

func (m *Model) confirmPanel() string {
	pending := m.consumer.Pending()
	if pending == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(confirmTitleStyle.Render("Confirm "+pending.Name) + "\n")
	if len(pending.Arguments) > 0 && string(pending.Arguments) != "{}" {
		b.WriteString(HighlightJSON(pending.Arguments) + "\n")
	}
	b.WriteString(mutedStyle.Render("y run it · n keep it queued"))

	return confirmBorderStyle.Width(m.width - 2).Render(b.String())
}

func (m *Model) helpLine() string {
	if m.confirming {
		return mutedStyle.Render("y confirm · n dismiss · ctrl+c quit")
	}
	return mutedStyle.Render("enter send · / commands · esc abort · pgup/pgdn scroll · ctrl+c quit")
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

var (
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	toolOkStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	toolErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	toolRunStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	confirmTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	confirmBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("3")).
				Padding(0, 1)
)
