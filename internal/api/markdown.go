package api

import (
	"net/url"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

const replyFlags = html.CommonFlags | html.HrefTargetBlank | html.SkipHTML | html.SkipImages |
	html.Safelink | html.NofollowLinks | html.NoreferrerLinks | html.NoopenerLinks

// renderMarkdown turns an assistant reply into HTML for the chat pane. Raw
// HTML and images are dropped; links other than absolute http(s) and mailto
// are rendered as plain text.
func renderMarkdown(text string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse([]byte(text))

	renderer := html.NewRenderer(html.RendererOptions{Flags: replyFlags})
	renderer.IsSafeURLOverride = isWebURL
	return string(markdown.Render(doc, renderer))
}

func isWebURL(dest []byte) bool {
	u, err := url.Parse(strings.TrimSpace(string(dest)))
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	}
	return false
}
