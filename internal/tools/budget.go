package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/gatherly/concierge/internal/llm"
)

// Default per-head rates in EUR by event type, used when the caller
// does not supply one.
var perHeadDefaults = map[string]float64{
	"conference": 150,
	"wedding":    220,
	"party":      85,
	"meetup":     40,
	"gala":       250,
}

const perHeadFallback = 100

// EstimateBudgetTool computes a rough cost breakdown locally. No
// platform call, no side effects.
type EstimateBudgetTool struct{}

func NewEstimateBudgetTool() *EstimateBudgetTool {
	return &EstimateBudgetTool{}
}

func (t *EstimateBudgetTool) SideEffecting() bool { return false }

func (t *EstimateBudgetTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        EstimateBudgetToolName,
		Description: "Estimate an event budget from the guest count. Returns a line-item breakdown (catering, venue, production, contingency) in EUR.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"eventType": map[string]interface{}{
					"type":        "string",
					"description": "Kind of event: conference, wedding, party, meetup, gala",
				},
				"guests": map[string]interface{}{
					"type":        "integer",
					"description": "Expected number of guests",
				},
				"perHead": map[string]interface{}{
					"type":        "number",
					"description": "Override the per-guest rate in EUR",
				},
			},
			"required":             []string{"eventType", "guests"},
			"additionalProperties": false,
		},
	}
}

// BudgetEstimate is the structured payload returned to the model.
type BudgetEstimate struct {
	EventType   string  `json:"eventType"`
	Guests      int     `json:"guests"`
	PerHead     float64 `json:"perHead"`
	Catering    float64 `json:"catering"`
	Venue       float64 `json:"venue"`
	Production  float64 `json:"production"`
	Contingency float64 `json:"contingency"`
	Total       float64 `json:"total"`
}

func (t *EstimateBudgetTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var payload struct {
		EventType string  `json:"eventType"`
		Guests    int     `json:"guests"`
		PerHead   float64 `json:"perHead"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return failResult(EstimateBudgetToolName, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if payload.EventType == "" {
		return failResult(EstimateBudgetToolName, "eventType is required"), nil
	}
	if payload.Guests <= 0 {
		return failResult(EstimateBudgetToolName, "guests must be positive"), nil
	}

	perHead := payload.PerHead
	if perHead <= 0 {
		perHead = perHeadDefaults[payload.EventType]
		if perHead == 0 {
			perHead = perHeadFallback
		}
	}

	total := float64(payload.Guests) * perHead
	estimate := BudgetEstimate{
		EventType:   payload.EventType,
		Guests:      payload.Guests,
		PerHead:     perHead,
		Catering:    round2(total * 0.50),
		Venue:       round2(total * 0.25),
		Production:  round2(total * 0.15),
		Contingency: round2(total * 0.10),
		Total:       round2(total),
	}

	summary := fmt.Sprintf("Estimated %.0f EUR for a %d-guest %s (%.0f EUR per head)",
		estimate.Total, payload.Guests, payload.EventType, perHead)
	return okResult(EstimateBudgetToolName, summary, estimate), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
