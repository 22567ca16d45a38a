package gate

import (
	"regexp"
	"strings"
)

// CacheStatus is the X-Cache indicator value.
type CacheStatus string

const (
	CacheHit  CacheStatus = "HIT"
	CacheMiss CacheStatus = "MISS"
)

// Composed is a rendered response ready for the transport layer.
type Composed struct {
	Content     string
	ContentType string
	Headers     map[string]string
}

// Compose renders the final body for the negotiated format. JSON and markdown
// bodies pass through unchanged; HTML runs the markdown transform. Headers
// always carry the permissive CORS set and the cache indicator.
func Compose(body string, format Format, status CacheStatus) Composed {
	out := Composed{Content: body, Headers: corsHeaders()}
	out.Headers["X-Cache"] = string(status)

	switch format {
	case FormatHTML:
		out.Content = MarkdownToHTML(body)
		out.ContentType = "text/html; charset=utf-8"
	case FormatMarkdown:
		out.ContentType = "text/markdown; charset=utf-8"
	default:
		out.ContentType = "application/json"
	}
	return out
}

var (
	h3Pattern     = regexp.MustCompile(`(?m)^### (.*)$`)
	h2Pattern     = regexp.MustCompile(`(?m)^## (.*)$`)
	h1Pattern     = regexp.MustCompile(`(?m)^# (.*)$`)
	boldPattern   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.+?)\*`)
)

// MarkdownToHTML is the minimal deterministic transform for HTML responses:
// line-leading #/##/### become headings, **text** bold, *text* italic, then
// newlines become line breaks. Applied in that order; it is not a markdown
// parser.
func MarkdownToHTML(body string) string {
	body = h3Pattern.ReplaceAllString(body, "<h3>$1</h3>")
	body = h2Pattern.ReplaceAllString(body, "<h2>$1</h2>")
	body = h1Pattern.ReplaceAllString(body, "<h1>$1</h1>")
	body = boldPattern.ReplaceAllString(body, "<strong>$1</strong>")
	body = italicPattern.ReplaceAllString(body, "<em>$1</em>")
	return strings.ReplaceAll(body, "\n", "<br>")
}

func corsHeaders() map[string]string {
	return map[string]string{
		"Access-Control-Allow-Origin":   "*",
		"Access-Control-Allow-Methods":  "GET, POST, PUT, DELETE, OPTIONS",
		"Access-Control-Allow-Headers":  "Content-Type, Authorization",
		"Access-Control-Expose-Headers": "X-Cache, X-Request-ID",
	}
}
