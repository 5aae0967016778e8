package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gatherly/concierge/internal/client"
	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/tui"
	"github.com/gatherly/concierge/internal/wire"
)

var (
	chatServerAddr string
	chatToken  string
	chatUser   string
	chatResume string
	chatPlain  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to a concierge server from the terminal",
	Long: `Open an interactive chat session against a running concierge server.

The TUI streams assistant replies, shows tool progress, and asks
before a gated tool runs. With --plain, or when stdout is not a
terminal, a line-oriented client is used instead. A message argument
is prefilled in the TUI and sent immediately in plain mode.

Examples:
  concierge chat
  concierge chat "I need a caterer for 40 people in Lisbon"
  concierge chat --resume 0195c2a4-9df3-7a31-b1c2-8e4f5a6b7c8d
  concierge chat --plain < script.txt

Slash commands:
  /confirm     Approve the pending tool call
  /cancel      Dismiss the pending tool call (it stays queued)
  /retry       Resend the last message
  /new         Start a fresh conversation
  /transcript  Reload the transcript from the server (TUI only)
  /quit        Exit`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatServerAddr, "server", "", "Server URL (default built from config bind/port)")
	chatCmd.Flags().StringVar(&chatToken, "token", "", "Bearer token (default from config or CONCIERGE_SERVER_TOKEN)")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "User id sent as X-User-ID (default $CONCIERGE_USER, then $USER)")
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Conversation id to resume")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "Line-oriented output without the TUI")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	serverURL := chatServerURL(cfg)
	token := chatToken
	if token == "" {
		token = cfg.Server.Token
	}
	if token == "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: no server token configured; pass --token or set CONCIERGE_SERVER_TOKEN")
	}

	user := chatUser
	if user == "" {
		user = os.Getenv("CONCIERGE_USER")
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "local"
	}

	cli := client.New(serverURL, token, user)

	// Resuming pulls the transcript first so the session picks up
	// mid-thread instead of starting blank.
	var history []wire.MessageView
	if chatResume != "" {
		history, err = cli.Messages(cmd.Context(), chatResume)
		if err != nil {
			return fmt.Errorf("resume %s: %w", chatResume, err)
		}
	}

	initial := strings.TrimSpace(strings.Join(args, " "))

	if chatPlain || !term.IsTerminal(int(os.Stdout.Fd())) {
		session := &plainSession{
			cli:         cli,
			consumer:    client.NewConsumer(cli, chatResume),
			out:         cmd.OutOrStdout(),
			errOut:      cmd.ErrOrStderr(),
			interactive: term.IsTerminal(int(os.Stdin.Fd())),
		}
		return session.run(cmd.Context(), history, initial)
	}

	return tui.Run(cli, tui.Options{
		ConversationID: chatResume,
		History:        history,
		InitialText:    initial,
		ServerURL:      serverURL,
	})
}

// chatServerURL builds the client base URL. A wildcard bind address is
// not dialable, so it maps to loopback.
func chatServerURL(cfg *config.Config) string {
	if chatServerAddr != "" {
		return strings.TrimSuffix(chatServerAddr, "/")
	}
	host := cfg.Server.Bind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

// plainSession is the line-oriented chat loop used without the TUI.
// It prints streamed text as it arrives and resolves tool
// confirmations with a y/n form on a terminal, leaving them queued
// otherwise.
type plainSession struct {
	cli         *client.Client
	consumer    *client.Consumer
	out         io.Writer
	errOut      io.Writer
	interactive bool
}

func (s *plainSession) run(ctx context.Context, history []wire.MessageView, initial string) error {
	for _, msg := range history {
		s.printHistory(msg)
	}

	if initial != "" {
		if s.interactive {
			fmt.Fprintf(s.out, "> %s\n", initial)
		}
		s.turn(ctx, func() error { return s.consumer.Send(ctx, initial) })
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		if s.interactive {
			fmt.Fprint(s.out, "> ")
		}
		if !scanner.Scan() {
			if s.interactive {
				fmt.Fprintln(s.out)
			}
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if name, _, ok := tui.ParseCommand(line); ok {
			if quit := s.command(ctx, name); quit {
				return nil
			}
			continue
		}

		s.turn(ctx, func() error { return s.consumer.Send(ctx, line) })
	}
}

// command executes a slash command, reporting whether to exit.
func (s *plainSession) command(ctx context.Context, name string) bool {
	switch name {
	case "quit", "exit":
		return true
	case "confirm":
		if s.consumer.State() != client.StateAwaitingConfirmation {
			fmt.Fprintln(s.out, "nothing to confirm")
			return false
		}
		s.turn(ctx, func() error { return s.consumer.ConfirmTool(ctx) })
	case "cancel":
		if s.consumer.Pending() == nil {
			fmt.Fprintln(s.out, "nothing to cancel")
			return false
		}
		s.consumer.CancelTool()
		fmt.Fprintln(s.out, "[dismissed; it stays queued on the server]")
	case "retry":
		if s.consumer.LastMessage() == "" {
			fmt.Fprintln(s.out, "nothing to retry")
			return false
		}
		s.turn(ctx, func() error { return s.consumer.Retry(ctx) })
	case "new":
		s.consumer.Abort()
		s.consumer = client.NewConsumer(s.cli, "")
		fmt.Fprintln(s.out, "[started a fresh conversation]")
	default:
		fmt.Fprintf(s.out, "unknown command /%s\n", name)
	}
	return false
}

// turn starts a request and drains its event stream. Errors are
// printed rather than returned so one failed turn does not end the
// session.
func (s *plainSession) turn(ctx context.Context, start func() error) {
	if err := start(); err != nil {
		fmt.Fprintf(s.errOut, "error: %v\n", err)
		return
	}
	s.drain(ctx)
}

func (s *plainSession) drain(ctx context.Context) {
	// A confirmed turn keeps the stalled turn's prose, so printing
	// resumes where the transcript already is.
	printed := len(s.consumer.Text())

	for {
		frame, more, err := s.consumer.Step()
		if err != nil {
			fmt.Fprintf(s.errOut, "\nerror: %v\n", err)
			return
		}

		switch frame.Event {
		case wire.EventText:
			text := s.consumer.Text()
			if printed < len(text) {
				fmt.Fprint(s.out, text[printed:])
				printed = len(text)
			}
		case wire.EventToolStart:
			if calls := s.consumer.Executing(); len(calls) > 0 {
				fmt.Fprintf(s.out, "\n[%s running]\n", calls[len(calls)-1].Name)
			}
		case wire.EventToolResult:
			if results := s.consumer.Results(); len(results) > 0 {
				last := results[len(results)-1]
				status := "ok"
				if !last.Success {
					status = "failed"
				}
				summary := last.Summary
				if summary == "" {
					summary = last.Error
				}
				fmt.Fprintf(s.out, "[%s %s] %s\n", last.Name, status, summary)
			}
		}

		if !more {
			break
		}
	}
	if printed > 0 {
		fmt.Fprintln(s.out)
	}

	switch s.consumer.State() {
	case client.StateError:
		if err := s.consumer.Err(); err != nil {
			fmt.Fprintf(s.errOut, "error: %v\n", err)
		}
	case client.StateDone:
		s.printDone()
	case client.StateAwaitingConfirmation:
		s.resolvePending(ctx)
	}
}

func (s *plainSession) printDone() {
	done := s.consumer.Done()
	if done == nil {
		return
	}
	if done.IsComplete {
		if done.EntityID != "" {
			fmt.Fprintf(s.out, "[conversation complete; booking %s confirmed]\n", done.EntityID)
		} else {
			fmt.Fprintln(s.out, "[conversation complete]")
		}
	}
	if n := len(done.PendingConfirmations); n > 0 {
		fmt.Fprintf(s.out, "[%d tool call(s) queued for confirmation]\n", n)
	}
}

// resolvePending asks about the surfaced gated call. Without a
// terminal it stays queued server-side for a later session.
func (s *plainSession) resolvePending(ctx context.Context) {
	pending := s.consumer.Pending()
	if pending == nil {
		return
	}

	args := strings.TrimSpace(string(pending.Arguments))
	if args != "" && args != "{}" && args != "null" {
		fmt.Fprintf(s.out, "\n%s wants to run with %s\n", pending.Name, args)
	} else {
		fmt.Fprintf(s.out, "\n%s wants to run\n", pending.Name)
	}

	if !s.interactive {
		fmt.Fprintln(s.out, "[approval required; it stays queued until confirmed interactively]")
		return
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Key("confirm").
				Title(fmt.Sprintf("Run %s?", pending.Name)).
				Affirmative("Yes").
				Negative("No").
				WithButtonAlignment(lipgloss.Left),
		),
	).WithShowHelp(false).WithShowErrors(false)

	if err := form.Run(); err != nil {
		fmt.Fprintln(s.out, "[left queued on the server]")
		return
	}

	if !form.GetBool("confirm") {
		s.consumer.CancelTool()
		fmt.Fprintln(s.out, "[dismissed; it stays queued on the server]")
		return
	}

	if err := s.consumer.ConfirmTool(ctx); err != nil {
		fmt.Fprintf(s.errOut, "error: %v\n", err)
		return
	}
	s.drain(ctx)
}

func (s *plainSession) printHistory(msg wire.MessageView) {
	switch msg.Role {
	case "user":
		fmt.Fprintf(s.out, "> %s\n", msg.Content)
	case "assistant":
		if strings.TrimSpace(msg.Content) != "" {
			fmt.Fprintln(s.out, msg.Content)
		}
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(s.out, "[requested %s]\n", call.Name)
		}
	case "tool":
		fmt.Fprintf(s.out, "[tool output] %s\n", clip(msg.Content, 120))
	}
}
