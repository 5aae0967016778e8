package tui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// rendererCache keys glamour renderers by wrap width. Building a
// renderer is expensive, so each width is built once per process.
var rendererCache sync.Map // map[int]*glamour.TermRenderer

func markdownRenderer(width int) (*glamour.TermRenderer, error) {
	if cached, ok := rendererCache.Load(width); ok {
		return cached.(*glamour.TermRenderer), nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		return nil, err
	}

	rendererCache.Store(width, renderer)
	return renderer, nil
}

// RenderMarkdown renders assistant prose for terminal display. On dumb
// terminals and on render failure the text comes back unstyled, so
// callers never lose content.
func RenderMarkdown(content string, width int) string {
	if content == "" {
		return ""
	}
	if width < 20 {
		width = 20
	}
	if termenv.EnvColorProfile() == termenv.Ascii {
		return strings.TrimSpace(content)
	}

	renderer, err := markdownRenderer(width)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}
