package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicProvider implements Provider using the official SDK.
type AnthropicProvider struct {
	client *anthropic.Client
	apiKey string
	model  string
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client: &client,
		apiKey: apiKey,
		model:  model,
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Available() bool {
	return p.apiKey != ""
}

// ListModels returns available models from Anthropic.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	page, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	var models []ModelInfo
	for _, m := range page.Data {
		models = append(models, ModelInfo{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			Created:     m.CreatedAt.Unix(),
		})
	}
	return models, nil
}

func (p *AnthropicProvider) CreateStreamingChat(ctx context.Context, req Request) (ChunkStream, error) {
	system, messages := buildAnthropicMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(req.Model, p.model)),
		MaxTokens: maxTokens(req.MaxTokens, 4096),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	return newChunkStream(ctx, func(ctx context.Context, chunks chan<- Chunk) error {
		// Tool arguments usually stream as input_json deltas, but some
		// responses carry the whole input on the start block instead.
		// Track both so the content_block_stop handler can emit the
		// start-block input when no deltas arrived for that index.
		started := make(map[int]bool)
		sawDelta := make(map[int]bool)
		fallback := make(map[int]json.RawMessage)
		anyTool := false

		stream := p.client.Messages.NewStreaming(ctx, params)
		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				index := int(variant.Index)
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.InputJSONDelta:
					if delta.PartialJSON != "" {
						sawDelta[index] = true
						if err := sendChunk(ctx, chunks, Chunk{
							Type:         ChunkToolCallDelta,
							Index:        index,
							ArgsFragment: delta.PartialJSON,
						}); err != nil {
							return err
						}
					}
				case anthropic.TextDelta:
					if delta.Text != "" {
						if err := sendChunk(ctx, chunks, Chunk{Type: ChunkText, Text: delta.Text}); err != nil {
							return err
						}
					}
				}
			case anthropic.ContentBlockStartEvent:
				if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
					index := int(variant.Index)
					started[index] = true
					anyTool = true
					if raw := toolInputToRaw(block.Input); len(raw) > 0 {
						fallback[index] = raw
					}
					if err := sendChunk(ctx, chunks, Chunk{
						Type:  ChunkToolCallStart,
						Index: index,
						ID:    block.ID,
						Name:  block.Name,
					}); err != nil {
						return err
					}
				}
			case anthropic.ContentBlockStopEvent:
				index := int(variant.Index)
				if started[index] && !sawDelta[index] {
					if raw, ok := fallback[index]; ok && string(raw) != "{}" {
						if err := sendChunk(ctx, chunks, Chunk{
							Type:         ChunkToolCallDelta,
							Index:        index,
							ArgsFragment: string(raw),
						}); err != nil {
							return err
						}
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return classifyStreamError("anthropic", err)
		}

		reason := "end_turn"
		if anyTool {
			reason = "tool_use"
		}
		return sendChunk(ctx, chunks, Chunk{Type: ChunkDone, FinishReason: reason})
	}), nil
}

func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	var systemParts []string
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Text())
		case RoleUser:
			if text := msg.Text(); text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		case RoleAssistant:
			blocks := buildAnthropicAssistantBlocks(msg.Parts)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case RoleTool:
			// Tool results travel as user-role content blocks
			blocks := buildAnthropicToolResultBlocks(msg.Parts)
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), out
}

func buildAnthropicAssistantBlocks(parts []Part) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartToolCall:
			if part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, part.ToolCall.Arguments, part.ToolCall.Name))
			}
		}
	}
	return blocks
}

func buildAnthropicToolResultBlocks(parts []Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range parts {
		if part.Type != PartToolResult || part.ToolResult == nil {
			continue
		}
		result := part.ToolResult
		block := anthropic.ToolResultBlockParam{
			ToolUseID: result.ID,
			IsError:   anthropic.Bool(result.IsError),
			Content: []anthropic.ToolResultBlockParamContentUnion{
				{OfText: &anthropic.TextBlockParam{Text: result.Content}},
			},
		}
		blocks = append(blocks, anthropic.ContentBlockParamUnion{OfToolResult: &block})
	}
	return blocks
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

// schemaRequired extracts the required property names from a JSON schema.
func schemaRequired(schema map[string]interface{}) []string {
	raw, ok := schema["required"].([]interface{})
	if !ok {
		return nil
	}
	required := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			required = append(required, s)
		}
	}
	return required
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}
