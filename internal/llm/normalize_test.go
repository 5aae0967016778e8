package llm

import "testing"

func strPtr(s string) *string {
	return &s
}

func TestNormalizeChunk_TextDelta(t *testing.T) {
	raw := chatCompletionChunk{
		Choices: []chatChoice{{Delta: chatDelta{Content: "Hello"}}},
	}

	chunks := normalizeChunk(raw)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Type != ChunkText {
		t.Errorf("expected text chunk, got %s", chunks[0].Type)
	}
	if chunks[0].Text != "Hello" {
		t.Errorf("expected text 'Hello', got %q", chunks[0].Text)
	}
}

func TestNormalizeChunk_RolePreambleProducesNothing(t *testing.T) {
	raw := chatCompletionChunk{
		Choices: []chatChoice{{Delta: chatDelta{Role: "assistant"}}},
	}

	if chunks := normalizeChunk(raw); len(chunks) != 0 {
		t.Errorf("expected no chunks for role-only delta, got %d", len(chunks))
	}
}

func TestNormalizeChunk_ToolCallWithIDOpensCall(t *testing.T) {
	raw := chatCompletionChunk{
		Choices: []chatChoice{{Delta: chatDelta{
			ToolCalls: []chatToolCallDelta{{
				Index:    0,
				ID:       "call_abc",
				Function: chatFunctionDelta{Name: "search_vendors", Arguments: `{"cat`},
			}},
		}}},
	}

	chunks := normalizeChunk(raw)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Type != ChunkToolCallStart {
		t.Errorf("expected tool_call_start, got %s", c.Type)
	}
	if c.ID != "call_abc" || c.Name != "search_vendors" {
		t.Errorf("expected id/name carried through, got %q/%q", c.ID, c.Name)
	}
	if c.ArgsFragment != `{"cat` {
		t.Errorf("expected first fragment on start, got %q", c.ArgsFragment)
	}
}

func TestNormalizeChunk_ToolCallWithoutIDContinuesCall(t *testing.T) {
	raw := chatCompletionChunk{
		Choices: []chatChoice{{Delta: chatDelta{
			ToolCalls: []chatToolCallDelta{{
				Index:    0,
				Function: chatFunctionDelta{Arguments: `egory":"catering"}`},
			}},
		}}},
	}

	chunks := normalizeChunk(raw)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Type != ChunkToolCallDelta {
		t.Errorf("expected tool_call_delta, got %s", c.Type)
	}
	if c.Index != 0 {
		t.Errorf("expected index 0, got %d", c.Index)
	}
	if c.ArgsFragment != `egory":"catering"}` {
		t.Errorf("unexpected fragment %q", c.ArgsFragment)
	}
}

func TestNormalizeChunk_ParallelCallsKeepDistinctIndexes(t *testing.T) {
	raw := chatCompletionChunk{
		Choices: []chatChoice{{Delta: chatDelta{
			ToolCalls: []chatToolCallDelta{
				{Index: 0, Function: chatFunctionDelta{Arguments: `"a"}`}},
				{Index: 1, ID: "call_two", Function: chatFunctionDelta{Name: "search_venues", Arguments: `{`}},
			},
		}}},
	}

	chunks := normalizeChunk(raw)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Type != ChunkToolCallDelta || chunks[0].Index != 0 {
		t.Errorf("expected delta at index 0, got %s at %d", chunks[0].Type, chunks[0].Index)
	}
	if chunks[1].Type != ChunkToolCallStart || chunks[1].Index != 1 {
		t.Errorf("expected start at index 1, got %s at %d", chunks[1].Type, chunks[1].Index)
	}
}

func TestNormalizeChunk_FinishReason(t *testing.T) {
	raw := chatCompletionChunk{
		Choices: []chatChoice{{FinishReason: strPtr("tool_calls")}},
	}

	chunks := normalizeChunk(raw)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Type != ChunkDone {
		t.Errorf("expected done chunk, got %s", chunks[0].Type)
	}
	if chunks[0].FinishReason != "tool_calls" {
		t.Errorf("expected finish reason 'tool_calls', got %q", chunks[0].FinishReason)
	}
}

func TestNormalizeChunk_ContentAndFinishInOneChunk(t *testing.T) {
	// Some servers pack the last text delta and the finish reason into
	// a single chunk; text must come out before done.
	raw := chatCompletionChunk{
		Choices: []chatChoice{{
			Delta:        chatDelta{Content: "bye"},
			FinishReason: strPtr("stop"),
		}},
	}

	chunks := normalizeChunk(raw)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Type != ChunkText || chunks[1].Type != ChunkDone {
		t.Errorf("expected text then done, got %s then %s", chunks[0].Type, chunks[1].Type)
	}
}

func TestNormalizeChunk_NoChoices(t *testing.T) {
	if chunks := normalizeChunk(chatCompletionChunk{}); chunks != nil {
		t.Errorf("expected nil for empty chunk, got %v", chunks)
	}
}
