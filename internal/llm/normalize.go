package llm

// Wire types for OpenAI-compatible chat completion streams. Each SSE
// data payload decodes into a chatCompletionChunk.

type chatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Model   string        `json:"model"`
	Choices []chatChoice  `json:"choices"`
	Error   *chatAPIError `json:"error,omitempty"`
}

type chatAPIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type chatChoice struct {
	Index        int       `json:"index"`
	Delta        chatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

type chatDelta struct {
	Role      string              `json:"role,omitempty"`
	Content   string              `json:"content,omitempty"`
	ToolCalls []chatToolCallDelta `json:"tool_calls,omitempty"`
}

type chatToolCallDelta struct {
	Index    int               `json:"index"`
	ID       string            `json:"id,omitempty"`
	Type     string            `json:"type,omitempty"`
	Function chatFunctionDelta `json:"function"`
}

type chatFunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// normalizeChunk converts one wire chunk into zero or more normalized
// chunks. It is stateless: a tool call delta that carries an ID opens a
// new call, one without an ID continues the call at its index, and the
// caller is responsible for concatenating argument fragments in arrival
// order. Role-only preamble chunks produce nothing.
func normalizeChunk(raw chatCompletionChunk) []Chunk {
	if len(raw.Choices) == 0 {
		return nil
	}
	choice := raw.Choices[0]

	var out []Chunk
	if choice.Delta.Content != "" {
		out = append(out, Chunk{Type: ChunkText, Text: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		if tc.ID != "" {
			out = append(out, Chunk{
				Type:         ChunkToolCallStart,
				Index:        tc.Index,
				ID:           tc.ID,
				Name:         tc.Function.Name,
				ArgsFragment: tc.Function.Arguments,
			})
		} else {
			out = append(out, Chunk{
				Type:         ChunkToolCallDelta,
				Index:        tc.Index,
				ArgsFragment: tc.Function.Arguments,
			})
		}
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		out = append(out, Chunk{Type: ChunkDone, FinishReason: *choice.FinishReason})
	}
	return out
}
