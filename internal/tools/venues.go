package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatherly/concierge/internal/llm"
)

// SearchVenuesTool finds venues in the platform catalog.
type SearchVenuesTool struct {
	platform *PlatformClient
}

func NewSearchVenuesTool(platform *PlatformClient) *SearchVenuesTool {
	return &SearchVenuesTool{platform: platform}
}

func (t *SearchVenuesTool) SideEffecting() bool { return false }

func (t *SearchVenuesTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        SearchVenuesToolName,
		Description: "Search for event venues in a city. Optionally filter by required capacity and availability on a date.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"city": map[string]interface{}{
					"type":        "string",
					"description": "City to search in",
				},
				"capacity": map[string]interface{}{
					"type":        "integer",
					"description": "Minimum guest capacity",
				},
				"date": map[string]interface{}{
					"type":        "string",
					"description": "Only venues free on this date, YYYY-MM-DD",
				},
			},
			"required":             []string{"city"},
			"additionalProperties": false,
		},
	}
}

func (t *SearchVenuesTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var payload struct {
		City     string `json:"city"`
		Capacity int    `json:"capacity"`
		Date     string `json:"date"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return failResult(SearchVenuesToolName, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if payload.City == "" {
		return failResult(SearchVenuesToolName, "city is required"), nil
	}

	venues, err := t.platform.SearchVenues(ctx, VenueQuery{
		City:     payload.City,
		Capacity: payload.Capacity,
		Date:     payload.Date,
	})
	if err != nil {
		return failResult(SearchVenuesToolName, err.Error()), nil
	}

	summary := fmt.Sprintf("Found %d venues in %s", len(venues), payload.City)
	if payload.Capacity > 0 {
		summary += fmt.Sprintf(" for %d+ guests", payload.Capacity)
	}
	return okResult(SearchVenuesToolName, summary, venues), nil
}
