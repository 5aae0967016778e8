package agent

import (
	"encoding/json"
	"strings"

	"github.com/gatherly/concierge/internal/llm"
)

// toolCallAccumulator assembles in-progress tool calls from streamed
// fragments, keyed by the provider's stream index. Fragments for one
// index concatenate in arrival order; indexes never interleave into
// each other.
type toolCallAccumulator struct {
	order []int
	calls map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*partialCall)}
}

// start opens the call at index with its id, name and first argument
// fragment. A repeated start for a known index only fills fields the
// earlier one left empty.
func (a *toolCallAccumulator) start(index int, id, name, fragment string) {
	call := a.at(index)
	if call.id == "" {
		call.id = id
	}
	if call.name == "" {
		call.name = name
	}
	call.args.WriteString(fragment)
}

// append adds an argument fragment to the call at index. A fragment
// for an index that never started still accumulates; the resulting
// nameless call is dropped at finalization.
func (a *toolCallAccumulator) append(index int, fragment string) {
	a.at(index).args.WriteString(fragment)
}

func (a *toolCallAccumulator) at(index int) *partialCall {
	call, ok := a.calls[index]
	if !ok {
		call = &partialCall{}
		a.calls[index] = call
		a.order = append(a.order, index)
	}
	return call
}

// finish returns the accumulated calls in first-seen index order.
func (a *toolCallAccumulator) finish() []llm.ToolCall {
	calls := make([]llm.ToolCall, 0, len(a.order))
	for _, index := range a.order {
		call := a.calls[index]
		calls = append(calls, llm.ToolCall{
			ID:        call.id,
			Name:      call.name,
			Arguments: json.RawMessage(call.args.String()),
		})
	}
	return calls
}
