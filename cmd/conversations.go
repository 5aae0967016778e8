package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gatherly/concierge/internal/conversation"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Inspect stored conversations",
	Long: `List and show conversations from the local store.

Examples:
  concierge conversations --user usr_42
  concierge conversations list --user usr_42 --status active
  concierge conversations show <id>
  concierge conversations show <id> --json`,
	RunE: runConversationsList,
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's conversations",
	RunE:  runConversationsList,
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one conversation's transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runConversationsShow,
}

var (
	conversationsUser   string
	conversationsStatus string
	conversationsLimit  int
	conversationsJSON   bool
)

func init() {
	for _, c := range []*cobra.Command{conversationsCmd, conversationsListCmd} {
		c.Flags().StringVar(&conversationsUser, "user", "", "User whose conversations to list (required)")
		c.Flags().StringVar(&conversationsStatus, "status", "", "Filter by status (active, completed, abandoned)")
		c.Flags().IntVar(&conversationsLimit, "limit", 20, "Maximum conversations to list")
	}
	conversationsShowCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output as JSON")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	rootCmd.AddCommand(conversationsCmd)
}

func openStore() (conversation.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	store, err := conversation.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return store, nil
}

func runConversationsList(cmd *cobra.Command, args []string) error {
	if conversationsUser == "" {
		return fmt.Errorf("--user is required")
	}
	if conversationsStatus != "" {
		valid := []string{"active", "completed", "abandoned"}
		if !slices.Contains(valid, conversationsStatus) {
			return fmt.Errorf("invalid status %q: must be one of %v", conversationsStatus, valid)
		}
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	convs, err := store.ListConversations(ctx, conversationsUser)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	var filtered []*conversation.Conversation
	for _, c := range convs {
		if conversationsStatus != "" && string(c.Status) != conversationsStatus {
			continue
		}
		filtered = append(filtered, c)
		if conversationsLimit > 0 && len(filtered) >= conversationsLimit {
			break
		}
	}

	if len(filtered) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	fmt.Printf("%-36s %-10s %-12s %s\n", "ID", "STATUS", "ENTITY", "UPDATED")
	fmt.Println(strings.Repeat("-", 76))
	for _, c := range filtered {
		entity := c.EntityID
		if entity == "" {
			entity = "-"
		}
		fmt.Printf("%-36s %-10s %-12s %s\n", c.ID, c.Status, entity, relativeTime(c.UpdatedAt))
	}
	return nil
}

func runConversationsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	conv, err := store.GetConversation(ctx, args[0])
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	msgs, err := store.ListMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	queue, err := store.PendingQueue(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("load confirmation queue: %w", err)
	}

	if conversationsJSON {
		data := struct {
			Conversation *conversation.Conversation         `json:"conversation"`
			Messages     []conversation.Message             `json:"messages"`
			Pending      []conversation.PendingConfirmation `json:"pendingConfirmations"`
		}{conv, msgs, queue}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	fmt.Printf("Conversation: %s\n", conv.ID)
	fmt.Printf("User: %s\n", conv.UserID)
	fmt.Printf("Status: %s\n", conv.Status)
	if conv.EntityID != "" {
		fmt.Printf("Entity: %s\n", conv.EntityID)
	}
	fmt.Printf("Created: %s\n", conv.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", conv.UpdatedAt.Format(time.RFC3339))
	fmt.Printf("Messages: %d\n", len(msgs))
	if len(queue) > 0 {
		fmt.Printf("Awaiting confirmation: %d\n", len(queue))
	}
	fmt.Println()

	for _, m := range msgs {
		switch m.Role {
		case "tool":
			status := "ok"
			if m.IsError {
				status = "error"
			}
			fmt.Printf("[tool %s %s] %s\n\n", m.ToolName, status, clip(m.Content, 200))
		default:
			line := clip(m.Content, 400)
			if len(m.ToolCalls) > 0 {
				names := make([]string, len(m.ToolCalls))
				for i, call := range m.ToolCalls {
					names[i] = call.Name
				}
				if line != "" {
					line += " "
				}
				line += fmt.Sprintf("(requested: %s)", strings.Join(names, ", "))
			}
			fmt.Printf("%s: %s\n\n", m.Role, line)
		}
	}

	for _, p := range queue {
		fmt.Printf("pending: %s %s (call %s, parked %s)\n", p.ToolName, clip(string(p.Arguments), 120), p.ToolCallID, relativeTime(p.CreatedAt))
	}
	return nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// relativeTime renders an age like "5m ago" for listings.
func relativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
