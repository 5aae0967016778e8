package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/mattn/go-runewidth"
)

// HighlightJSON pretty-prints and colors a JSON document for the
// confirmation panel. Anything that fails to parse or tokenise falls
// back to the raw text.
func HighlightJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	pretty := buf.String()

	lexer := lexers.Get("json")
	if lexer == nil {
		return pretty
	}
	lexer = chroma.Coalesce(lexer)

	// Monokai has good contrast on dark backgrounds.
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, pretty)
	if err != nil {
		return pretty
	}

	var out strings.Builder
	for token := iterator(); token != chroma.EOF; token = iterator() {
		entry := style.Get(token.Type)
		if !entry.Colour.IsSet() {
			out.WriteString(token.Value)
			continue
		}
		fmt.Fprintf(&out, "\x1b[38;2;%d;%d;%dm%s\x1b[0m",
			entry.Colour.Red(), entry.Colour.Green(), entry.Colour.Blue(), token.Value)
	}
	return strings.TrimRight(out.String(), "\n")
}

// truncate shortens s to the given number of terminal cells, ellipsis
// included. Widths are measured in cells, not bytes, so wide runes
// count double.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
