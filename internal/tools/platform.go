package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gatherly/concierge/internal/config"
)

// PlatformClient talks to the Gatherly platform REST API on behalf of
// the built-in tools. The service token authenticates the concierge as
// a backend caller; user attribution travels in the request payloads.
type PlatformClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewPlatformClient(cfg config.PlatformConfig) *PlatformClient {
	return &PlatformClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PlatformError carries a non-2xx platform response.
type PlatformError struct {
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform request failed (%d): %s", e.StatusCode, e.Message)
}

func (c *PlatformClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *PlatformClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *PlatformClient) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read platform response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PlatformError{StatusCode: resp.StatusCode, Message: platformErrorMessage(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse platform response: %w", err)
	}
	return nil
}

// platformErrorMessage extracts the error string from the platform's
// {"error": {"message": ...}} envelope, falling back to the raw body.
func platformErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no error detail"
	}
	return msg
}

// Domain records as the platform API returns them.

type Vendor struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	City     string  `json:"city"`
	Price    float64 `json:"price"`
	Rating   float64 `json:"rating"`
	PageURL  string  `json:"pageUrl,omitempty"`
}

type Venue struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	City     string  `json:"city"`
	Capacity int     `json:"capacity"`
	DayRate  float64 `json:"dayRate"`
}

type Availability struct {
	VendorID  string   `json:"vendorId"`
	Date      string   `json:"date"`
	Available bool     `json:"available"`
	Slots     []string `json:"slots,omitempty"`
}

type Event struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Date           string `json:"date"`
	City           string `json:"city"`
	ExpectedGuests int    `json:"expectedGuests"`
	VenueID        string `json:"venueId,omitempty"`
	Description    string `json:"description,omitempty"`
	Status         string `json:"status"`
}

type Booking struct {
	ID       string `json:"id"`
	VendorID string `json:"vendorId"`
	EventID  string `json:"eventId"`
	Date     string `json:"date"`
	Status   string `json:"status"`
}

// VendorQuery filters a vendor search.
type VendorQuery struct {
	Category string
	City     string
	MaxPrice float64
}

func (c *PlatformClient) SearchVendors(ctx context.Context, q VendorQuery) ([]Vendor, error) {
	query := url.Values{}
	query.Set("category", q.Category)
	if q.City != "" {
		query.Set("city", q.City)
	}
	if q.MaxPrice > 0 {
		query.Set("maxPrice", fmt.Sprintf("%g", q.MaxPrice))
	}

	var out struct {
		Vendors []Vendor `json:"vendors"`
	}
	if err := c.get(ctx, "/api/v1/vendors", query, &out); err != nil {
		return nil, err
	}
	return out.Vendors, nil
}

// VenueQuery filters a venue search.
type VenueQuery struct {
	City     string
	Capacity int
	Date     string
}

func (c *PlatformClient) SearchVenues(ctx context.Context, q VenueQuery) ([]Venue, error) {
	query := url.Values{}
	query.Set("city", q.City)
	if q.Capacity > 0 {
		query.Set("capacity", fmt.Sprintf("%d", q.Capacity))
	}
	if q.Date != "" {
		query.Set("date", q.Date)
	}

	var out struct {
		Venues []Venue `json:"venues"`
	}
	if err := c.get(ctx, "/api/v1/venues", query, &out); err != nil {
		return nil, err
	}
	return out.Venues, nil
}

func (c *PlatformClient) VendorAvailability(ctx context.Context, vendorID, date string) (Availability, error) {
	query := url.Values{}
	query.Set("date", date)

	var out Availability
	err := c.get(ctx, "/api/v1/vendors/"+url.PathEscape(vendorID)+"/availability", query, &out)
	return out, err
}

// EventDraft is the create_event payload.
type EventDraft struct {
	Name           string `json:"name"`
	Date           string `json:"date"`
	City           string `json:"city"`
	ExpectedGuests int    `json:"expectedGuests"`
	VenueID        string `json:"venueId,omitempty"`
	Description    string `json:"description,omitempty"`
}

func (c *PlatformClient) CreateEvent(ctx context.Context, draft EventDraft) (Event, error) {
	var out Event
	err := c.post(ctx, "/api/v1/events", draft, &out)
	return out, err
}

// BookingRequest is the book_vendor payload.
type BookingRequest struct {
	VendorID string `json:"vendorId"`
	EventID  string `json:"eventId"`
	Date     string `json:"date"`
}

func (c *PlatformClient) BookVendor(ctx context.Context, req BookingRequest) (Booking, error) {
	var out Booking
	err := c.post(ctx, "/api/v1/bookings", req, &out)
	return out, err
}
