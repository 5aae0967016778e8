// Package tools provides the concierge's tool system: the registry the
// orchestrator executes against, ahead-of-time auto/confirm
// classification, and the built-in executors backed by the Gatherly
// platform API.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatherly/concierge/internal/llm"
)

// Tool spec names
const (
	SearchVendorsToolName     = "search_vendors"
	SearchVenuesToolName      = "search_venues"
	CheckAvailabilityToolName = "check_vendor_availability"
	EstimateBudgetToolName    = "estimate_budget"
	FetchVendorPageToolName   = "fetch_vendor_page"
	CreateEventToolName       = "create_event"
	BookVendorToolName        = "book_vendor"
)

// Tool describes a callable executor.
type Tool interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
	// SideEffecting reports the classification default: side-effecting
	// tools require user confirmation unless config overrides say
	// otherwise.
	SideEffecting() bool
}

// TerminalTool is an optional interface for tools that complete a
// conversation. After a terminal tool executes successfully the
// orchestrator marks the conversation complete with the created entity
// id.
type TerminalTool interface {
	Terminal() bool
}

// Result is the outcome of one tool execution. Exactly one Result is
// produced per executed call; the orchestrator stamps ID from the
// originating call.
type Result struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Summary string          `json:"summary"`
}

// Content returns the text fed back to the provider as the tool's
// output: the structured payload when present, the summary otherwise.
func (r Result) Content() string {
	if !r.Success {
		if r.Error != "" {
			return r.Error
		}
		return r.Summary
	}
	if len(r.Data) > 0 {
		return string(r.Data)
	}
	return r.Summary
}

// okResult builds a successful Result. data may be nil for tools whose
// whole output is the summary.
func okResult(name, summary string, data interface{}) Result {
	result := Result{Name: name, Success: true, Summary: summary}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			result.Data = raw
		}
	}
	return result
}

// failResult builds a failed Result. Execution failures are results,
// not errors: the turn still completes and the model sees what went
// wrong.
func failResult(name, errMsg string) Result {
	return Result{
		Name:    name,
		Success: false,
		Error:   errMsg,
		Summary: fmt.Sprintf("%s failed: %s", name, errMsg),
	}
}

// Registry stores tools by name for execution. Specs are returned in
// registration order so provider requests are deterministic.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	name := tool.Spec().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Specs returns the specs for all registered tools in registration
// order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// IsTerminal reports whether the named tool completes a conversation.
func (r *Registry) IsTerminal(name string) bool {
	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	if tt, ok := tool.(TerminalTool); ok {
		return tt.Terminal()
	}
	return false
}
