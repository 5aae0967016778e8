package llm

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"
)

func TestBuildGeminiContents_RoleMapping(t *testing.T) {
	system, contents := buildGeminiContents([]Message{
		SystemText("You plan events"),
		UserText("Find a venue"),
		AssistantTurn("Searching", []ToolCall{{
			ID:        "call_0",
			Name:      "search_venues",
			Arguments: json.RawMessage(`{"city":"Lisbon"}`),
		}}),
		ToolResultMessage("call_0", "search_venues", `[{"name":"Riverside Hall"}]`),
	})

	if system != "You plan events" {
		t.Errorf("system instruction not extracted: %q", system)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}
	if contents[0].Role != genai.RoleUser {
		t.Errorf("expected user role, got %q", contents[0].Role)
	}
	if contents[1].Role != genai.RoleModel {
		t.Errorf("expected model role for assistant, got %q", contents[1].Role)
	}

	var sawCall bool
	for _, part := range contents[1].Parts {
		if part.FunctionCall != nil {
			sawCall = true
			if part.FunctionCall.Name != "search_venues" {
				t.Errorf("function call name lost: %q", part.FunctionCall.Name)
			}
			if part.FunctionCall.Args["city"] != "Lisbon" {
				t.Errorf("function call args lost: %v", part.FunctionCall.Args)
			}
		}
	}
	if !sawCall {
		t.Error("assistant tool call not mapped to FunctionCall part")
	}

	// Tool results ride on a user-role content with a FunctionResponse part.
	if contents[2].Role != genai.RoleUser {
		t.Errorf("expected user role for tool result, got %q", contents[2].Role)
	}
	fr := contents[2].Parts[0].FunctionResponse
	if fr == nil || fr.Name != "search_venues" {
		t.Fatalf("function response not mapped: %+v", contents[2].Parts[0])
	}
	if fr.Response["output"] != `[{"name":"Riverside Hall"}]` {
		t.Errorf("tool output lost: %v", fr.Response)
	}
}

func TestBuildGeminiContents_SkipsEmptyTurns(t *testing.T) {
	_, contents := buildGeminiContents([]Message{
		UserText("hi"),
		{Role: RoleAssistant},
	})
	if len(contents) != 1 {
		t.Fatalf("expected empty assistant turn dropped, got %d", len(contents))
	}
}

func TestToolArgsToMap(t *testing.T) {
	args := toolArgsToMap(json.RawMessage(`{"guests":120}`))
	if args["guests"] != float64(120) {
		t.Errorf("expected parsed args, got %v", args)
	}

	if got := toolArgsToMap(nil); got != nil {
		t.Errorf("expected nil for empty args, got %v", got)
	}

	malformed := toolArgsToMap(json.RawMessage(`{broken`))
	if malformed["_raw"] != `{broken` {
		t.Errorf("expected raw fallback for malformed args, got %v", malformed)
	}
}

func TestNormalizeSchemaForGemini_StripsUnsupportedFields(t *testing.T) {
	schema := map[string]interface{}{
		"type":    "object",
		"$schema": "http://json-schema.org/draft-07/schema#",
		"properties": map[string]interface{}{
			"date": map[string]interface{}{
				"type":   "string",
				"format": "date",
			},
			"guests": map[string]interface{}{
				"type":    "integer",
				"minimum": float64(1),
			},
		},
	}

	normalized := normalizeSchemaForGemini(schema)

	if _, ok := normalized["$schema"]; ok {
		t.Error("$schema not removed")
	}
	props := normalized["properties"].(map[string]interface{})
	date := props["date"].(map[string]interface{})
	if _, ok := date["format"]; ok {
		t.Error("format not removed from nested property")
	}
	guests := props["guests"].(map[string]interface{})
	if _, ok := guests["minimum"]; ok {
		t.Error("minimum not removed from nested property")
	}
	required := normalized["required"].([]string)
	if len(required) != 2 {
		t.Errorf("expected required to cover all properties, got %v", required)
	}

	// Original must be untouched.
	if _, ok := schema["$schema"]; !ok {
		t.Error("normalization mutated the input schema")
	}
}

func TestSchemaToGenai_Types(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":    map[string]interface{}{"type": "string", "description": "venue name"},
			"guests":  map[string]interface{}{"type": "integer"},
			"price":   map[string]interface{}{"type": "number"},
			"indoor":  map[string]interface{}{"type": "boolean"},
			"tags":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"address": map[string]interface{}{"type": "object"},
		},
		"required": []interface{}{"name"},
	}

	out := schemaToGenai(schema)
	if out.Type != genai.TypeObject {
		t.Fatalf("expected object type, got %v", out.Type)
	}
	if out.Properties["name"].Type != genai.TypeString {
		t.Errorf("string type lost")
	}
	if out.Properties["name"].Description != "venue name" {
		t.Errorf("description lost")
	}
	if out.Properties["guests"].Type != genai.TypeInteger {
		t.Errorf("integer type lost")
	}
	if out.Properties["price"].Type != genai.TypeNumber {
		t.Errorf("number type lost")
	}
	if out.Properties["indoor"].Type != genai.TypeBoolean {
		t.Errorf("boolean type lost")
	}
	if out.Properties["tags"].Type != genai.TypeArray || out.Properties["tags"].Items.Type != genai.TypeString {
		t.Errorf("array item type lost")
	}
	if len(out.Required) != 1 || out.Required[0] != "name" {
		t.Errorf("required lost: %v", out.Required)
	}
}
