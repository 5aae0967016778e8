package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gatherly/concierge/internal/config"
)

func newTestPlatform(t *testing.T, handler http.HandlerFunc) (*PlatformClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewPlatformClient(config.PlatformConfig{BaseURL: server.URL, Token: "svc-token"})
	return client, server
}

func TestPlatformClient_SearchVendors(t *testing.T) {
	var gotPath, gotAuth, gotCategory, gotMaxPrice string
	client, _ := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCategory = r.URL.Query().Get("category")
		gotMaxPrice = r.URL.Query().Get("maxPrice")
		fmt.Fprint(w, `{"vendors":[{"id":"v1","name":"Tasty Co","category":"catering","city":"Lisbon","price":1200,"rating":4.6}]}`)
	})

	vendors, err := client.SearchVendors(context.Background(), VendorQuery{
		Category: "catering",
		MaxPrice: 1500,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/v1/vendors" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer svc-token" {
		t.Errorf("expected service token auth, got %q", gotAuth)
	}
	if gotCategory != "catering" || gotMaxPrice != "1500" {
		t.Errorf("query params lost: category=%q maxPrice=%q", gotCategory, gotMaxPrice)
	}
	if len(vendors) != 1 || vendors[0].Name != "Tasty Co" {
		t.Errorf("unexpected vendors: %+v", vendors)
	}
}

func TestPlatformClient_ErrorEnvelope(t *testing.T) {
	client, _ := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"error":{"message":"date is in the past"}}`)
	})

	_, err := client.CreateEvent(context.Background(), EventDraft{Name: "x", Date: "2020-01-01", City: "Lisbon", ExpectedGuests: 10})

	var platformErr *PlatformError
	if !errors.As(err, &platformErr) {
		t.Fatalf("expected PlatformError, got %v", err)
	}
	if platformErr.StatusCode != 422 || platformErr.Message != "date is in the past" {
		t.Errorf("envelope not parsed: %+v", platformErr)
	}
}

func TestPlatformClient_PlainBodyError(t *testing.T) {
	client, _ := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	})

	_, err := client.SearchVenues(context.Background(), VenueQuery{City: "Porto"})

	var platformErr *PlatformError
	if !errors.As(err, &platformErr) {
		t.Fatalf("expected PlatformError, got %v", err)
	}
	if platformErr.Message != "upstream down" {
		t.Errorf("expected raw body fallback, got %q", platformErr.Message)
	}
}

func TestPlatformClient_VendorAvailabilityPath(t *testing.T) {
	var gotPath, gotDate string
	client, _ := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDate = r.URL.Query().Get("date")
		fmt.Fprint(w, `{"vendorId":"v1","date":"2026-09-12","available":true,"slots":["evening"]}`)
	})

	availability, err := client.VendorAvailability(context.Background(), "v1", "2026-09-12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/api/v1/vendors/v1/availability" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotDate != "2026-09-12" {
		t.Errorf("date param lost: %q", gotDate)
	}
	if !availability.Available || len(availability.Slots) != 1 {
		t.Errorf("unexpected availability: %+v", availability)
	}
}

func TestPlatformClient_CreateEventPostsJSON(t *testing.T) {
	var gotContentType string
	client, _ := newTestPlatform(t, func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		fmt.Fprint(w, `{"id":"evt_1","name":"Launch","date":"2026-10-01","city":"Lisbon","expectedGuests":200,"status":"draft"}`)
	})

	event, err := client.CreateEvent(context.Background(), EventDraft{
		Name: "Launch", Date: "2026-10-01", City: "Lisbon", ExpectedGuests: 200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
	if event.ID != "evt_1" || event.Status != "draft" {
		t.Errorf("unexpected event: %+v", event)
	}
}
