package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatherly/concierge/internal/llm"
)

// CreateEventTool creates an event record on the platform. It is the
// terminal action of a planning conversation: confirmation-required,
// and a successful execution completes the conversation with the new
// event's id.
type CreateEventTool struct {
	platform *PlatformClient
}

func NewCreateEventTool(platform *PlatformClient) *CreateEventTool {
	return &CreateEventTool{platform: platform}
}

func (t *CreateEventTool) SideEffecting() bool { return true }

func (t *CreateEventTool) Terminal() bool { return true }

func (t *CreateEventTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        CreateEventToolName,
		Description: "Create the event on Gatherly. Call this once the user has settled on a name, date, city and guest count. The user will be asked to confirm before anything is created.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Event name",
				},
				"date": map[string]interface{}{
					"type":        "string",
					"description": "Event date, YYYY-MM-DD",
				},
				"city": map[string]interface{}{
					"type":        "string",
					"description": "City where the event takes place",
				},
				"expectedGuests": map[string]interface{}{
					"type":        "integer",
					"description": "Expected number of guests",
				},
				"venueId": map[string]interface{}{
					"type":        "string",
					"description": "Venue id from a previous search, if chosen",
				},
				"description": map[string]interface{}{
					"type":        "string",
					"description": "Short event description",
				},
			},
			"required":             []string{"name", "date", "city", "expectedGuests"},
			"additionalProperties": false,
		},
	}
}

func (t *CreateEventTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var payload struct {
		Name           string `json:"name"`
		Date           string `json:"date"`
		City           string `json:"city"`
		ExpectedGuests int    `json:"expectedGuests"`
		VenueID        string `json:"venueId"`
		Description    string `json:"description"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return failResult(CreateEventToolName, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if payload.Name == "" || payload.Date == "" || payload.City == "" {
		return failResult(CreateEventToolName, "name, date and city are required"), nil
	}
	if payload.ExpectedGuests <= 0 {
		return failResult(CreateEventToolName, "expectedGuests must be positive"), nil
	}

	event, err := t.platform.CreateEvent(ctx, EventDraft{
		Name:           payload.Name,
		Date:           payload.Date,
		City:           payload.City,
		ExpectedGuests: payload.ExpectedGuests,
		VenueID:        payload.VenueID,
		Description:    payload.Description,
	})
	if err != nil {
		return failResult(CreateEventToolName, err.Error()), nil
	}

	summary := fmt.Sprintf("Created event %q on %s in %s", event.Name, event.Date, event.City)
	return okResult(CreateEventToolName, summary, event), nil
}

// BookVendorTool books a vendor for an existing event.
// Confirmation-required but not terminal: planning continues after a
// booking.
type BookVendorTool struct {
	platform *PlatformClient
}

func NewBookVendorTool(platform *PlatformClient) *BookVendorTool {
	return &BookVendorTool{platform: platform}
}

func (t *BookVendorTool) SideEffecting() bool { return true }

func (t *BookVendorTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        BookVendorToolName,
		Description: "Book a vendor for an event on a date. The user will be asked to confirm before the booking is placed.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"vendorId": map[string]interface{}{
					"type":        "string",
					"description": "Vendor id from a previous search",
				},
				"eventId": map[string]interface{}{
					"type":        "string",
					"description": "Event id the booking belongs to",
				},
				"date": map[string]interface{}{
					"type":        "string",
					"description": "Booking date, YYYY-MM-DD",
				},
			},
			"required":             []string{"vendorId", "eventId", "date"},
			"additionalProperties": false,
		},
	}
}

func (t *BookVendorTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var payload struct {
		VendorID string `json:"vendorId"`
		EventID  string `json:"eventId"`
		Date     string `json:"date"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return failResult(BookVendorToolName, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if payload.VendorID == "" || payload.EventID == "" || payload.Date == "" {
		return failResult(BookVendorToolName, "vendorId, eventId and date are required"), nil
	}

	booking, err := t.platform.BookVendor(ctx, BookingRequest{
		VendorID: payload.VendorID,
		EventID:  payload.EventID,
		Date:     payload.Date,
	})
	if err != nil {
		return failResult(BookVendorToolName, err.Error()), nil
	}

	summary := fmt.Sprintf("Booked vendor %s for event %s on %s", booking.VendorID, booking.EventID, booking.Date)
	return okResult(BookVendorToolName, summary, booking), nil
}
