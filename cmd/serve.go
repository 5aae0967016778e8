package cmd

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gatherly/concierge/internal/agent"
	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/conversation"
	"github.com/gatherly/concierge/internal/llm"
	"github.com/gatherly/concierge/internal/mcp"
	"github.com/gatherly/concierge/internal/notify"
	"github.com/gatherly/concierge/internal/persona"
	"github.com/gatherly/concierge/internal/quota"
	"github.com/gatherly/concierge/internal/tools"
	"github.com/gatherly/concierge/internal/wire"
)

var (
	serveBind      string
	servePort      int
	serveToken     string
	serveEphemeral bool
	serveCORS      []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming concierge server",
	Long: `Run the HTTP server that hosts concierge conversations.

Endpoints:
  POST /api/chat                         start or continue a turn (SSE)
  POST /api/confirm                      approve a parked tool call (SSE)
  GET  /api/conversations                conversations for the calling user
  GET  /api/conversations/{id}/messages  one conversation transcript
  GET  /healthz

Turns stream as server-sent events; everything else is JSON. The
X-User-ID header identifies the organizer on every call.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveBind, "bind", "", "Bind host (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (overrides config)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token (overrides config; generated when both are empty)")
	serveCmd.Flags().BoolVar(&serveEphemeral, "ephemeral", false, "Keep conversations in memory only")
	serveCmd.Flags().StringArrayVar(&serveCORS, "cors-origin", nil, "Allowed CORS origin (repeatable, or '*' for all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveBind != "" {
		cfg.Server.Bind = serveBind
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveToken != "" {
		cfg.Server.Token = serveToken
	}
	if len(serveCORS) > 0 {
		cfg.Server.AllowedOrigins = serveCORS
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", cfg.Server.Port)
	}

	logger := newLogger(cfg, "")
	slog.SetDefault(logger)

	token := strings.TrimSpace(cfg.Server.Token)
	generated := false
	if token == "" {
		token, err = generateServeToken()
		if err != nil {
			return fmt.Errorf("generate auth token: %w", err)
		}
		generated = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return err
	}

	var store conversation.Store
	if serveEphemeral {
		store = conversation.NewMemoryStore()
	} else {
		path, err := cfg.StorePath()
		if err != nil {
			return err
		}
		store, err = conversation.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("open conversation store: %w", err)
		}
	}
	defer store.Close()

	var quotaSvc quota.Service
	if serveEphemeral {
		quotaSvc = quota.Unlimited()
	} else {
		path, err := cfg.StorePath()
		if err != nil {
			return err
		}
		quotaSvc, err = quota.New(path, cfg.Quota.DailyLimit)
		if err != nil {
			return fmt.Errorf("open quota store: %w", err)
		}
	}
	defer quotaSvc.Close()

	p, err := persona.Load(cfg.Persona.Name, cfg.Persona.Dir)
	if err != nil {
		return err
	}

	classifier, err := tools.NewClassifier(cfg.Tools)
	if err != nil {
		return err
	}
	registry := tools.NewBuiltinRegistry(tools.NewPlatformClient(cfg.Platform), classifier)

	mcpClients := mcp.RegisterServers(ctx, cfg.MCP.Servers, registry, logger)
	defer mcp.StopAll(mcpClients)

	agentCfg := agent.Config{
		Provider:          provider,
		Store:             store,
		Quota:             quotaSvc,
		Registry:          registry,
		Classifier:        classifier,
		SystemPrompt:      p.PromptFunc(),
		Logger:            logger,
		Model:             activeModel(cfg),
		MaxTokens:         cfg.Agent.MaxTokens,
		MaxToolIterations: cfg.Agent.MaxToolIterations,
	}

	notifier, err := notify.NewTelegram(cfg.Telegram, logger)
	if err != nil {
		logger.Warn("telegram notifier disabled", "error", err)
	} else if notifier != nil {
		agentCfg.Notifier = notifier
		logger.Info("telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	}

	orch, err := agent.New(agentCfg)
	if err != nil {
		return err
	}

	s := &chatServer{
		orch:         orch,
		store:        store,
		token:        token,
		corsOrigins:  cfg.Server.AllowedOrigins,
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		logger:       logger,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.routes(),
		// Streaming turns inherit this context, so a shutdown signal
		// aborts them instead of holding the drain open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "concierge serve listening on http://%s\n", addr)
	if generated {
		fmt.Fprintf(cmd.ErrOrStderr(), "token: %s\n", token)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "provider: %s (%s)\n", cfg.Provider, activeModel(cfg))
	fmt.Fprintf(cmd.ErrOrStderr(), "persona: %s\n", p.Name)
	if serveEphemeral {
		fmt.Fprintln(cmd.ErrOrStderr(), "store: in-memory (conversations are lost on exit)")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// activeModel resolves the model for the configured provider.
func activeModel(cfg *config.Config) string {
	switch cfg.Provider {
	case "anthropic":
		return cfg.Anthropic.Model
	case "openai":
		return cfg.OpenAI.Model
	case "gemini":
		return cfg.Gemini.Model
	case "openai-compat":
		return cfg.OpenAICompat.Model
	}
	return ""
}

func generateServeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// chatServer is the HTTP surface over the orchestrator. Turn endpoints
// stream SSE; listing endpoints return JSON.
type chatServer struct {
	orch         *agent.Orchestrator
	store        conversation.Store
	token        string
	corsOrigins  []string
	maxBodyBytes int64
	logger       *slog.Logger
}

func (s *chatServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/chat", s.auth(s.cors(s.handleChat)))
	mux.HandleFunc("/api/confirm", s.auth(s.cors(s.handleConfirm)))
	mux.HandleFunc("/api/conversations", s.auth(s.cors(s.handleConversations)))
	mux.HandleFunc("/api/conversations/{id}/messages", s.auth(s.cors(s.handleMessages)))
	return mux
}

func (s *chatServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// auth requires the bearer token on every call except CORS preflight.
func (s *chatServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		got := strings.TrimSpace(strings.TrimPrefix(header, prefix))
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

func (s *chatServer) cors(next http.HandlerFunc) http.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.corsOrigins))
	allowAll := false
	for _, origin := range s.corsOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// userID reads the organizer identity the platform gateway stamps on
// every request.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func (s *chatServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	var req wire.ChatRequest
	if err := s.decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream, err := s.orch.ChatTurn(r.Context(), agent.TurnRequest{
		ConversationID: req.ConversationID,
		UserID:         user,
		UserMessage:    req.UserMessage,
	})
	if err != nil {
		s.writeAgentError(w, err)
		return
	}
	s.streamTurn(w, stream)
}

func (s *chatServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	var req wire.ConfirmRequest
	if err := s.decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream, err := s.orch.ConfirmAndExecute(r.Context(), agent.ConfirmRequest{
		ConversationID: req.ConversationID,
		UserID:         user,
		ToolCallID:     req.ToolCallID,
		ToolName:       req.ToolName,
		Arguments:      req.Arguments,
	})
	if err != nil {
		s.writeAgentError(w, err)
		return
	}
	s.streamTurn(w, stream)
}

// streamTurn forwards turn events as SSE frames. The conversation id
// travels as a header so clients that opened the turn without one can
// adopt it before the first frame arrives.
func (s *chatServer) streamTurn(w http.ResponseWriter, stream *agent.TurnStream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		stream.Close()
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	defer stream.Close()

	w.Header().Set("X-Conversation-ID", stream.ConversationID())
	wire.SetSSEHeaders(w)
	flusher.Flush()

	for ev := range stream.Events() {
		if err := writeTurnEvent(w, ev); err != nil {
			s.logger.Debug("client disconnected mid-turn", "conversation", stream.ConversationID())
			return
		}
		flusher.Flush()
	}
}

func writeTurnEvent(w io.Writer, ev agent.Event) error {
	switch ev.Type {
	case agent.EventThinking:
		return wire.WriteEvent(w, wire.EventThinking, nil)
	case agent.EventText:
		return wire.WriteEvent(w, wire.EventText, wire.TextPayload{Content: ev.Text})
	case agent.EventToolStart:
		return wire.WriteEvent(w, wire.EventToolStart, toolCallPayload(*ev.Call))
	case agent.EventToolPending:
		return wire.WriteEvent(w, wire.EventToolPending, toolCallPayload(*ev.Call))
	case agent.EventToolResult:
		return wire.WriteEvent(w, wire.EventToolResult, toolResultPayload(*ev.Result))
	case agent.EventDone:
		return wire.WriteEvent(w, wire.EventDone, donePayload(ev.Done))
	case agent.EventError:
		return wire.WriteEvent(w, wire.EventError, wire.ErrorPayload{Message: ev.Err.Error()})
	}
	return nil
}

func toolCallPayload(call llm.ToolCall) wire.ToolCallPayload {
	return wire.ToolCallPayload{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
}

func toolCallPayloads(calls []llm.ToolCall) []wire.ToolCallPayload {
	out := make([]wire.ToolCallPayload, 0, len(calls))
	for _, call := range calls {
		out = append(out, toolCallPayload(call))
	}
	return out
}

func toolResultPayload(r tools.Result) wire.ToolResultPayload {
	return wire.ToolResultPayload{
		ID:      r.ID,
		Name:    r.Name,
		Success: r.Success,
		Data:    r.Data,
		Error:   r.Error,
		Summary: r.Summary,
	}
}

func donePayload(summary *agent.TurnSummary) wire.DonePayload {
	results := make([]wire.ToolResultPayload, 0, len(summary.ToolResults))
	for _, r := range summary.ToolResults {
		results = append(results, toolResultPayload(r))
	}
	return wire.DonePayload{
		Message:              summary.Message,
		ToolCalls:            toolCallPayloads(summary.ToolCalls),
		ToolResults:          results,
		PendingConfirmations: toolCallPayloads(summary.PendingConfirmations),
		IsComplete:           summary.IsComplete,
		EntityID:             summary.EntityID,
	}
}

func (s *chatServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	convs, err := s.store.ListConversations(r.Context(), user)
	if err != nil {
		s.logger.Error("list conversations failed", "user", user, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]wire.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		out = append(out, wire.ConversationSummary{
			ID:        c.ID,
			UserID:    c.UserID,
			Status:    string(c.Status),
			EntityID:  c.EntityID,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *chatServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := userID(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	id := r.PathValue("id")
	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		s.logger.Error("load conversation failed", "conversation", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if conv.UserID != user {
		// Foreign conversations look like missing ones.
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), id)
	if err != nil {
		s.logger.Error("list messages failed", "conversation", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]wire.MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wire.MessageView{
			ID:         m.ID,
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  toolCallPayloads(m.ToolCalls),
			ToolCallID: m.ToolCallID,
			CreatedAt:  m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeAgentError maps pre-stream turn rejections to JSON statuses.
// Anything after the stream opens is an error frame instead.
func (s *chatServer) writeAgentError(w http.ResponseWriter, err error) {
	var quotaErr *agent.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		secs := int(quotaErr.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, wire.ErrorResponse{Error: err.Error(), RetryAfter: secs})
	case errors.Is(err, agent.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, agent.ErrConversationBusy), errors.Is(err, agent.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, agent.ErrUnknownToolCall):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("turn rejected", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, wire.ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *chatServer) decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	limit := s.maxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}
