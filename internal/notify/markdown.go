package notify

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

// markdown is a shared goldmark instance; strikethrough shows up in
// model output often enough to warrant the extension.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// ToTelegramHTML converts markdown to the HTML subset Telegram's Bot
// API accepts: b, i, u, s, code, pre, a, blockquote. Structure with
// no Telegram equivalent (headings, lists, rules) is rendered as
// plain text.
func ToTelegramHTML(md string) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return html.EscapeString(md)
	}
	return renderTelegram(buf.String())
}

type listFrame struct {
	ordered bool
	item    int
}

// renderTelegram rewrites goldmark's HTML output into Telegram's
// subset, dropping tags it cannot carry while keeping their text.
func renderTelegram(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var out strings.Builder
	var lists []listFrame
	inPre := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()
		switch tt {
		case html.TextToken:
			// goldmark has already escaped text tokens.
			out.WriteString(tok.Data)
		case html.StartTagToken, html.SelfClosingTagToken:
			openTag(&out, tok, &lists, &inPre)
		case html.EndTagToken:
			closeTag(&out, tok.Data, &lists, &inPre)
		}
	}

	result := strings.TrimSpace(out.String())
	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	return result
}

func openTag(out *strings.Builder, tok html.Token, lists *[]listFrame, inPre *bool) {
	switch tok.Data {
	case "b", "strong":
		out.WriteString("<b>")
	case "i", "em":
		out.WriteString("<i>")
	case "u", "ins":
		out.WriteString("<u>")
	case "s", "strike", "del":
		out.WriteString("<s>")
	case "code":
		// Telegram rejects <code> nested in <pre>; the text alone is
		// enough inside a block.
		if !*inPre {
			out.WriteString("<code>")
		}
	case "pre":
		*inPre = true
		out.WriteString("<pre>")
	case "a":
		if href := attr(tok, "href"); href != "" {
			fmt.Fprintf(out, `<a href="%s">`, html.EscapeString(href))
		} else {
			out.WriteString("<a>")
		}
	case "blockquote":
		out.WriteString("<blockquote>")
	case "br":
		out.WriteString("\n")
	case "ul":
		*lists = append(*lists, listFrame{})
	case "ol":
		*lists = append(*lists, listFrame{ordered: true})
	case "li":
		if n := len(*lists); n > 0 && (*lists)[n-1].ordered {
			(*lists)[n-1].item++
			fmt.Fprintf(out, "\n%d. ", (*lists)[n-1].item)
		} else {
			out.WriteString("\n• ")
		}
	case "h1", "h2", "h3", "h4", "h5", "h6":
		out.WriteString("<b>")
	case "hr":
		out.WriteString("\n──────────\n")
	}
}

func closeTag(out *strings.Builder, tag string, lists *[]listFrame, inPre *bool) {
	switch tag {
	case "b", "strong":
		out.WriteString("</b>")
	case "i", "em":
		out.WriteString("</i>")
	case "u", "ins":
		out.WriteString("</u>")
	case "s", "strike", "del":
		out.WriteString("</s>")
	case "code":
		if !*inPre {
			out.WriteString("</code>")
		}
	case "pre":
		*inPre = false
		out.WriteString("</pre>")
	case "a":
		out.WriteString("</a>")
	case "blockquote":
		out.WriteString("</blockquote>")
	case "p":
		out.WriteString("\n\n")
	case "ul", "ol":
		if len(*lists) > 0 {
			*lists = (*lists)[:len(*lists)-1]
		}
		out.WriteString("\n")
	case "h1", "h2", "h3", "h4", "h5", "h6":
		out.WriteString("</b>\n\n")
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
