package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/gatherly/concierge/internal/llm"
)

const (
	maxPageBytes = 1 << 20 // fetch cap before extraction
	maxPageChars = 20000   // extracted text cap
)

// FetchVendorPageTool fetches a vendor's public page and extracts the
// readable text so the model can ground answers in it.
type FetchVendorPageTool struct {
	client *http.Client
}

func NewFetchVendorPageTool() *FetchVendorPageTool {
	return &FetchVendorPageTool{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (t *FetchVendorPageTool) SideEffecting() bool { return false }

func (t *FetchVendorPageTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        FetchVendorPageToolName,
		Description: "Fetch a vendor's web page and return its readable text. Use the pageUrl from a vendor search result.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "The page URL to fetch",
				},
			},
			"required":             []string{"url"},
			"additionalProperties": false,
		},
	}
}

func (t *FetchVendorPageTool) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &payload); err != nil {
		return failResult(FetchVendorPageToolName, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if payload.URL == "" {
		return failResult(FetchVendorPageToolName, "url is required"), nil
	}

	pageURL := payload.URL
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		pageURL = "https://" + pageURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return failResult(FetchVendorPageToolName, fmt.Sprintf("invalid url: %v", err)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return failResult(FetchVendorPageToolName, fmt.Sprintf("fetch failed: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failResult(FetchVendorPageToolName, fmt.Sprintf("HTTP %d fetching %s", resp.StatusCode, pageURL)), nil
	}

	text := extractText(io.LimitReader(resp.Body, maxPageBytes))
	if text == "" {
		return failResult(FetchVendorPageToolName, "page contained no readable text"), nil
	}
	truncated := false
	if len(text) > maxPageChars {
		text = text[:maxPageChars]
		truncated = true
	}

	summary := fmt.Sprintf("Fetched %s (%d characters)", pageURL, len(text))
	if truncated {
		summary += ", truncated"
	}
	return okResult(FetchVendorPageToolName, summary, map[string]interface{}{
		"url":  pageURL,
		"text": text,
	}), nil
}

// extractText walks the HTML token stream collecting visible text.
// Script, style and similar non-content subtrees are skipped and
// whitespace is collapsed.
func extractText(r io.Reader) string {
	z := html.NewTokenizer(r)

	var sb strings.Builder
	skipDepth := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.StartTagToken:
			tag, _ := z.TagName()
			if skippedTag(string(tag)) {
				skipDepth++
			}
		case html.EndTagToken:
			tag, _ := z.TagName()
			if skippedTag(string(tag)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(z.Text()))
			if text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(collapseWhitespace(text))
		}
	}

	return sb.String()
}

func skippedTag(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "iframe", "svg", "head":
		return true
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
