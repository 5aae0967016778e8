package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatherly/concierge/internal/llm"
)

// SearchVendorsTool finds vendors in the platform catalog.
type SearchVendorsTool struct {
	platform *PlatformClient
}

func NewSearchVendorsTool(platform *PlatformClient) *SearchVendorsTool {
	return &SearchVendorsTool{platform: platform}
}

func (t *SearchVendorsTool) SideEffecting() bool { return false }

func (t *SearchVendorsTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        SearchVendorsToolName,
		Description: "Search the vendor catalog by category (catering, photography, music, decoration, av). Optionally filter by city and maximum price per event.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Vendor category to search, e.g. catering",
				},
				"city": map[string]interface{}{
					"type":        "string",
					"description": "Limit results to vendors serving this city",
				},
				"maxPrice": map[string]interface{}{
					"type":        "number",
					"description": "Maximum price per event in EUR",
				},
			},
			"required":             []string{"category"},
			"additionalProperties": false,
		},
	}
}

func (t *SearchVendorsTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var payload struct {
		Category string  `json:"category"`
		City     string  `json:"city"`
		MaxPrice float64 `json:"maxPrice"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return failResult(SearchVendorsToolName, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if payload.Category == "" {
		return failResult(SearchVendorsToolName, "category is required"), nil
	}

	vendors, err := t.platform.SearchVendors(ctx, VendorQuery{
		Category: payload.Category,
		City:     payload.City,
		MaxPrice: payload.MaxPrice,
	})
	if err != nil {
		return failResult(SearchVendorsToolName, err.Error()), nil
	}

	summary := fmt.Sprintf("Found %d %s vendors", len(vendors), payload.Category)
	if payload.City != "" {
		summary += " in " + payload.City
	}
	return okResult(SearchVendorsToolName, summary, vendors), nil
}

// CheckAvailabilityTool checks whether a vendor is free on a date.
type CheckAvailabilityTool struct {
	platform *PlatformClient
}

func NewCheckAvailabilityTool(platform *PlatformClient) *CheckAvailabilityTool {
	return &CheckAvailabilityTool{platform: platform}
}

func (t *CheckAvailabilityTool) SideEffecting() bool { return false }

func (t *CheckAvailabilityTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        CheckAvailabilityToolName,
		Description: "Check whether a vendor is available on a given date. Use the vendor id from a previous search.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"vendorId": map[string]interface{}{
					"type":        "string",
					"description": "Vendor id",
				},
				"date": map[string]interface{}{
					"type":        "string",
					"description": "Date to check, YYYY-MM-DD",
				},
			},
			"required":             []string{"vendorId", "date"},
			"additionalProperties": false,
		},
	}
}

func (t *CheckAvailabilityTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var payload struct {
		VendorID string `json:"vendorId"`
		Date     string `json:"date"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return failResult(CheckAvailabilityToolName, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if payload.VendorID == "" || payload.Date == "" {
		return failResult(CheckAvailabilityToolName, "vendorId and date are required"), nil
	}

	availability, err := t.platform.VendorAvailability(ctx, payload.VendorID, payload.Date)
	if err != nil {
		return failResult(CheckAvailabilityToolName, err.Error()), nil
	}

	summary := fmt.Sprintf("Vendor %s is not available on %s", payload.VendorID, payload.Date)
	if availability.Available {
		summary = fmt.Sprintf("Vendor %s is available on %s", payload.VendorID, payload.Date)
	}
	return okResult(CheckAvailabilityToolName, summary, availability), nil
}
