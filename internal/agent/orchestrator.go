// Package agent runs conversational turns against an LLM provider. A
// turn streams provider output to the caller, executes read-only tools
// inline, parks side-effecting tool calls until the user confirms them
// and persists the finished turn to the conversation store. One turn
// runs per conversation at a time.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatherly/concierge/internal/config"
	"github.com/gatherly/concierge/internal/conversation"
	"github.com/gatherly/concierge/internal/llm"
	"github.com/gatherly/concierge/internal/quota"
	"github.com/gatherly/concierge/internal/tools"
)

const (
	// DefaultMaxToolIterations bounds provider calls per turn when the
	// model keeps chaining auto tools.
	DefaultMaxToolIterations = 4

	notifyTimeout = 10 * time.Second
)

// Notifier receives out-of-band pings about turn milestones.
// Implementations must be safe for concurrent use; failures are
// logged, never surfaced to the client.
type Notifier interface {
	ConfirmationParked(ctx context.Context, conversationID string, call llm.ToolCall) error
	ConversationCompleted(ctx context.Context, conversationID, entityID string) error
}

// Config assembles an Orchestrator. Provider, Store and Registry are
// required; everything else has a usable default.
type Config struct {
	Provider   llm.Provider
	Store      conversation.Store
	Quota      quota.Service
	Registry   *tools.Registry
	Classifier *tools.Classifier

	// SystemPrompt renders the persona prompt for a user. The prompt
	// is injected fresh each turn, never persisted.
	SystemPrompt func(userID string) string

	// Notifier may be nil when out-of-band notifications are off.
	Notifier Notifier

	Logger *slog.Logger

	Model             string
	MaxTokens         int
	MaxToolIterations int
}

// Orchestrator drives chat turns and confirmations for all
// conversations in the process.
type Orchestrator struct {
	provider          llm.Provider
	store             conversation.Store
	quota             quota.Service
	registry          *tools.Registry
	classifier        *tools.Classifier
	systemPrompt      func(userID string) string
	notifier          Notifier
	logger            *slog.Logger
	locks             *lockTable
	model             string
	maxTokens         int
	maxToolIterations int
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("agent: conversation store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	if cfg.Quota == nil {
		cfg.Quota = quota.Unlimited()
	}
	if cfg.Classifier == nil {
		classifier, err := tools.NewClassifier(config.ToolsConfig{})
		if err != nil {
			return nil, err
		}
		cfg.Classifier = classifier
	}
	if cfg.SystemPrompt == nil {
		cfg.SystemPrompt = func(string) string { return "" }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	return &Orchestrator{
		provider:          cfg.Provider,
		store:             cfg.Store,
		quota:             cfg.Quota,
		registry:          cfg.Registry,
		classifier:        cfg.Classifier,
		systemPrompt:      cfg.SystemPrompt,
		notifier:          cfg.Notifier,
		logger:            cfg.Logger,
		locks:             newLockTable(),
		model:             cfg.Model,
		maxTokens:         cfg.MaxTokens,
		maxToolIterations: cfg.MaxToolIterations,
	}, nil
}

// TurnRequest starts a chat turn. An empty ConversationID starts a
// fresh conversation; an unknown one is adopted as-is so clients may
// mint their own ids.
type TurnRequest struct {
	ConversationID string
	UserID         string
	UserMessage    string
}

// ConfirmRequest approves one parked tool call. ToolCallID and
// ToolName must both match the queued entry. Arguments are accepted
// for transport fidelity but the queued arguments are what executes.
type ConfirmRequest struct {
	ConversationID string
	UserID         string
	ToolCallID     string
	ToolName       string
	Arguments      json.RawMessage
}

// ChatTurn runs one conversational turn. The user message is persisted
// before anything else so a failed turn can be retried without
// resubmitting text; the quota gate then runs before any provider
// work. Pre-stream failures return an error directly, everything after
// arrives on the stream.
func (o *Orchestrator) ChatTurn(ctx context.Context, req TurnRequest) (*TurnStream, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := o.loadOrCreate(ctx, req)
	if err != nil {
		return nil, err
	}
	if !o.locks.tryLock(conv.ID) {
		return nil, ErrConversationBusy
	}
	started := false
	defer func() {
		if !started {
			o.locks.unlock(conv.ID)
		}
	}()

	userMsg := conversation.UserMessage(conv.ID, req.UserMessage)
	if err := o.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	decision, err := o.quota.Check(ctx, conv.UserID)
	if err != nil {
		return nil, fmt.Errorf("quota check: %w", err)
	}
	if !decision.Allowed {
		return nil, &QuotaExceededError{RetryAfter: decision.RetryAfter}
	}

	history, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	started = true
	return o.startTurn(ctx, conv.ID, func(ctx context.Context, emit func(Event) error) error {
		return o.runTurn(ctx, conv, history, emit)
	}), nil
}

// ConfirmAndExecute resolves one parked confirmation and executes its
// tool. There is no follow-up provider call: the result is persisted,
// streamed and the turn ends. A confirm with the right id but the
// wrong tool name fails without consuming the queued entry.
func (o *Orchestrator) ConfirmAndExecute(ctx context.Context, req ConfirmRequest) (*TurnStream, error) {
	conv, err := o.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != req.UserID {
		return nil, conversation.ErrNotFound
	}
	if !o.locks.tryLock(conv.ID) {
		return nil, ErrConversationBusy
	}
	started := false
	defer func() {
		if !started {
			o.locks.unlock(conv.ID)
		}
	}()

	queue, err := o.store.PendingQueue(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	for i := range queue {
		if queue[i].ToolCallID == req.ToolCallID && queue[i].ToolName != req.ToolName {
			return nil, fmt.Errorf("%w: tool %q does not match queued call %s", ErrUnknownToolCall, req.ToolName, req.ToolCallID)
		}
	}

	resolved, err := o.store.ResolvePending(ctx, conv.ID, req.ToolCallID)
	if err != nil {
		if errors.Is(err, conversation.ErrPendingNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToolCall, req.ToolCallID)
		}
		return nil, err
	}

	started = true
	return o.startTurn(ctx, conv.ID, func(ctx context.Context, emit func(Event) error) error {
		return o.runConfirmed(ctx, conv, resolved, emit)
	}), nil
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, req TurnRequest) (*conversation.Conversation, error) {
	if req.ConversationID == "" {
		conv := &conversation.Conversation{UserID: req.UserID}
		if err := o.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}
	conv, err := o.store.GetConversation(ctx, req.ConversationID)
	if errors.Is(err, conversation.ErrNotFound) {
		conv = &conversation.Conversation{ID: req.ConversationID, UserID: req.UserID}
		if err := o.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		return conv, nil
	}
	if err != nil {
		return nil, err
	}
	if conv.UserID != req.UserID {
		// Foreign conversations look like missing ones.
		return nil, conversation.ErrNotFound
	}
	return conv, nil
}

// runTurn is the chat turn state machine. Each iteration makes one
// provider call; auto tools execute inline and feed their results back
// for the next call, a parked confirmation or the iteration bound ends
// the loop. Persistence happens once, at completion: exactly one
// assistant message holding the accumulated text plus one tool message
// per executed call.
func (o *Orchestrator) runTurn(ctx context.Context, conv *conversation.Conversation, history []conversation.Message, emit func(Event) error) error {
	req := llm.Request{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Tools:     o.registry.Specs(),
		Messages:  make([]llm.Message, 0, len(history)+1),
	}
	if prompt := o.systemPrompt(conv.UserID); prompt != "" {
		req.Messages = append(req.Messages, llm.SystemText(prompt))
	}
	for _, msg := range history {
		req.Messages = append(req.Messages, msg.ToLLM())
	}

	var (
		turnText    strings.Builder
		turnCalls   []llm.ToolCall
		turnResults []tools.Result
		completed   = conv.Status == conversation.StatusCompleted
		entityID    = conv.EntityID
	)

	for iteration := 0; iteration < o.maxToolIterations; iteration++ {
		text, calls, err := o.streamProviderTurn(ctx, req, emit)
		if err != nil {
			return err
		}
		if err := o.quota.Increment(ctx, conv.UserID); err != nil {
			o.logger.Warn("usage increment failed", "user", conv.UserID, "error", err)
		}
		turnText.WriteString(text)

		calls = o.finalizeCalls(calls)
		if len(calls) == 0 {
			break
		}
		turnCalls = append(turnCalls, calls...)

		var results []tools.Result
		var gated []llm.ToolCall
		for _, call := range calls {
			if o.requiresConfirmation(call.Name) {
				gated = append(gated, call)
				continue
			}
			result, err := o.executeCall(ctx, emit, call)
			if err != nil {
				return err
			}
			results = append(results, result)
			turnResults = append(turnResults, result)
			if result.Success && o.registry.IsTerminal(call.Name) {
				if id := entityIDFromResult(result); id != "" {
					entityID = id
				}
				if err := o.store.MarkComplete(ctx, conv.ID, entityID); err != nil {
					return fmt.Errorf("mark complete: %w", err)
				}
				completed = true
				o.notifyCompleted(conv.ID, entityID)
			}
		}

		if len(gated) > 0 {
			for _, call := range gated {
				if err := o.store.EnqueuePending(ctx, conversation.NewPending(conv.ID, call)); err != nil {
					return fmt.Errorf("queue confirmation: %w", err)
				}
			}
			if err := o.surfaceQueueHead(ctx, conv.ID, emit); err != nil {
				return err
			}
			break
		}
		if completed {
			break
		}

		req.Messages = append(req.Messages, llm.AssistantTurn(text, calls))
		for _, r := range results {
			req.Messages = append(req.Messages, resultMessage(r))
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if turnText.Len() > 0 || len(turnCalls) > 0 {
		msg := conversation.AssistantMessage(conv.ID, turnText.String(), turnCalls)
		if err := o.store.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("persist assistant message: %w", err)
		}
	} else {
		o.logger.Debug("provider returned an empty turn", "conversation", conv.ID)
	}
	for _, r := range turnResults {
		toolMsg := conversation.ToolResultMessage(conv.ID, toLLMResult(r))
		if err := o.store.AppendMessage(ctx, toolMsg); err != nil {
			return fmt.Errorf("persist tool message: %w", err)
		}
	}

	queue, err := o.store.PendingQueue(ctx, conv.ID)
	if err != nil {
		return err
	}
	return emit(Event{Type: EventDone, Done: &TurnSummary{
		Message:              turnText.String(),
		ToolCalls:            turnCalls,
		ToolResults:          turnResults,
		PendingConfirmations: pendingToCalls(queue),
		IsComplete:           completed,
		EntityID:             entityID,
	}})
}

// runConfirmed executes one confirmed tool call: execute, persist the
// tool message, then stream the result. If more confirmations remain
// queued the next head is surfaced before done.
func (o *Orchestrator) runConfirmed(ctx context.Context, conv *conversation.Conversation, pending *conversation.PendingConfirmation, emit func(Event) error) error {
	call := llm.ToolCall{ID: pending.ToolCallID, Name: pending.ToolName, Arguments: pending.Arguments}
	result := o.runTool(ctx, call)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	toolMsg := conversation.ToolResultMessage(conv.ID, toLLMResult(result))
	if err := o.store.AppendMessage(ctx, toolMsg); err != nil {
		return fmt.Errorf("persist tool message: %w", err)
	}

	completed := conv.Status == conversation.StatusCompleted
	entityID := conv.EntityID
	if result.Success && o.registry.IsTerminal(call.Name) {
		if id := entityIDFromResult(result); id != "" {
			entityID = id
		}
		if err := o.store.MarkComplete(ctx, conv.ID, entityID); err != nil {
			return fmt.Errorf("mark complete: %w", err)
		}
		completed = true
		o.notifyCompleted(conv.ID, entityID)
	}

	if err := emit(Event{Type: EventToolResult, Result: &result}); err != nil {
		return err
	}

	queue, err := o.store.PendingQueue(ctx, conv.ID)
	if err != nil {
		return err
	}
	if len(queue) > 0 {
		head := llm.ToolCall{ID: queue[0].ToolCallID, Name: queue[0].ToolName, Arguments: queue[0].Arguments}
		if err := emit(Event{Type: EventToolPending, Call: &head}); err != nil {
			return err
		}
		o.notifyParked(conv.ID, head)
	}

	return emit(Event{Type: EventDone, Done: &TurnSummary{
		ToolCalls:            []llm.ToolCall{call},
		ToolResults:          []tools.Result{result},
		PendingConfirmations: pendingToCalls(queue),
		IsComplete:           completed,
		EntityID:             entityID,
	}})
}

// streamProviderTurn makes one provider call and drains its stream,
// forwarding text chunks verbatim and accumulating tool call fragments
// by stream index.
func (o *Orchestrator) streamProviderTurn(ctx context.Context, req llm.Request, emit func(Event) error) (string, []llm.ToolCall, error) {
	if err := emit(Event{Type: EventThinking}); err != nil {
		return "", nil, err
	}
	stream, err := o.provider.CreateStreamingChat(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer stream.Close()

	var text strings.Builder
	acc := newToolCallAccumulator()
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, err
		}
		switch chunk.Type {
		case llm.ChunkText:
			if chunk.Text == "" {
				continue
			}
			text.WriteString(chunk.Text)
			if err := emit(Event{Type: EventText, Text: chunk.Text}); err != nil {
				return "", nil, err
			}
		case llm.ChunkToolCallStart:
			acc.start(chunk.Index, chunk.ID, chunk.Name, chunk.ArgsFragment)
		case llm.ChunkToolCallDelta:
			acc.append(chunk.Index, chunk.ArgsFragment)
		case llm.ChunkDone:
			// The finish reason is implicit in whether calls
			// accumulated; the stream ends at EOF either way.
		}
	}
	return text.String(), acc.finish(), nil
}

// executeCall runs one auto tool synchronously, announcing it with
// tool_start and reporting with tool_result. Execution failures become
// failed results, never turn failures.
func (o *Orchestrator) executeCall(ctx context.Context, emit func(Event) error, call llm.ToolCall) (tools.Result, error) {
	if err := emit(Event{Type: EventToolStart, Call: &call}); err != nil {
		return tools.Result{}, err
	}
	result := o.runTool(ctx, call)
	if err := emit(Event{Type: EventToolResult, Result: &result}); err != nil {
		return tools.Result{}, err
	}
	return result, nil
}

// runTool executes the named tool and stamps the originating call id
// on the result. Unknown tools and executor errors come back as failed
// results so the model can see what went wrong.
func (o *Orchestrator) runTool(ctx context.Context, call llm.ToolCall) tools.Result {
	tool, ok := o.registry.Get(call.Name)
	if !ok {
		return tools.Result{
			ID:      call.ID,
			Name:    call.Name,
			Success: false,
			Error:   fmt.Sprintf("tool %q is not registered", call.Name),
			Summary: fmt.Sprintf("%s is not available", call.Name),
		}
	}
	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		result = tools.Result{
			Name:    call.Name,
			Success: false,
			Error:   err.Error(),
			Summary: fmt.Sprintf("%s failed: %v", call.Name, err),
		}
	}
	result.ID = call.ID
	if result.Name == "" {
		result.Name = call.Name
	}
	return result
}

// finalizeCalls validates accumulated calls once the stream ends.
// Calls without a name and calls whose arguments never became a JSON
// object are dropped, not executed and not reported. Empty arguments
// normalize to {} first; calls the provider left without an id get
// one.
func (o *Orchestrator) finalizeCalls(calls []llm.ToolCall) []llm.ToolCall {
	valid := calls[:0]
	for _, call := range calls {
		if call.Name == "" {
			o.logger.Debug("dropping tool call without a name", "id", call.ID)
			continue
		}
		if len(bytes.TrimSpace(call.Arguments)) == 0 {
			call.Arguments = json.RawMessage("{}")
		}
		if !isJSONObject(call.Arguments) {
			o.logger.Debug("dropping tool call with malformed arguments", "tool", call.Name, "id", call.ID)
			continue
		}
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		valid = append(valid, call)
	}
	return valid
}

func (o *Orchestrator) requiresConfirmation(name string) bool {
	tool, ok := o.registry.Get(name)
	if !ok {
		// Unknown tools fail as results; there is nothing to confirm.
		return false
	}
	return o.classifier.Classify(name, tool.SideEffecting()) == tools.Confirm
}

// surfaceQueueHead emits tool_pending for the conversation's oldest
// unresolved confirmation and pings the notifier about it.
func (o *Orchestrator) surfaceQueueHead(ctx context.Context, conversationID string, emit func(Event) error) error {
	queue, err := o.store.PendingQueue(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(queue) == 0 {
		return nil
	}
	head := llm.ToolCall{ID: queue[0].ToolCallID, Name: queue[0].ToolName, Arguments: queue[0].Arguments}
	if err := emit(Event{Type: EventToolPending, Call: &head}); err != nil {
		return err
	}
	o.notifyParked(conversationID, head)
	return nil
}

func (o *Orchestrator) notifyParked(conversationID string, call llm.ToolCall) {
	if o.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.notifier.ConfirmationParked(ctx, conversationID, call); err != nil {
			o.logger.Warn("confirmation notification failed", "conversation", conversationID, "error", err)
		}
	}()
}

func (o *Orchestrator) notifyCompleted(conversationID, entityID string) {
	if o.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.notifier.ConversationCompleted(ctx, conversationID, entityID); err != nil {
			o.logger.Warn("completion notification failed", "conversation", conversationID, "error", err)
		}
	}()
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var obj map[string]json.RawMessage
	return json.Unmarshal(trimmed, &obj) == nil
}

// entityIDFromResult pulls the created entity's id out of a terminal
// tool's payload.
func entityIDFromResult(result tools.Result) string {
	if len(result.Data) == 0 {
		return ""
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result.Data, &payload); err != nil {
		return ""
	}
	return payload.ID
}

// resultMessage converts an executed result into the tool message fed
// back to the provider on the next iteration.
func resultMessage(r tools.Result) llm.Message {
	if r.Success {
		return llm.ToolResultMessage(r.ID, r.Name, r.Content())
	}
	return llm.ToolErrorMessage(r.ID, r.Name, r.Content())
}

func toLLMResult(r tools.Result) llm.ToolResult {
	return llm.ToolResult{ID: r.ID, Name: r.Name, Content: r.Content(), IsError: !r.Success}
}

func pendingToCalls(queue []conversation.PendingConfirmation) []llm.ToolCall {
	calls := make([]llm.ToolCall, 0, len(queue))
	for _, p := range queue {
		calls = append(calls, llm.ToolCall{ID: p.ToolCallID, Name: p.ToolName, Arguments: p.Arguments})
	}
	return calls
}
