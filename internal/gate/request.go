package gate

import (
	"net/http"
	"net/url"
	"strings"
)

// Format is the negotiated response format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
)

// Request is the normalized descriptor the pipeline operates on. Path has any
// format suffix already stripped, so route lookup and cache keys never see it.
type Request struct {
	Method   string
	Path     string
	Query    url.Values
	Format   Format
	Token    string // bearer credential, "" when the caller sent none
	ClientID string // transport-level caller id, the anonymous fallback identity
}

// Classify parses an inbound request into a descriptor. It is pure: the
// transport guarantees a parsed URL, so there is no failure mode.
//
// Format negotiation: a .html/.md/.markdown path suffix wins, then an Accept
// header containing text/html or text/markdown, then JSON.
func Classify(r *http.Request, clientID string) *Request {
	path, format := splitFormatSuffix(r.URL.Path)
	if format == "" {
		format = formatFromAccept(r.Header.Get("Accept"))
	}

	return &Request{
		Method:   r.Method,
		Path:     path,
		Query:    r.URL.Query(),
		Format:   format,
		Token:    bearerToken(r.Header.Get("Authorization")),
		ClientID: clientID,
	}
}

func splitFormatSuffix(path string) (string, Format) {
	switch {
	case strings.HasSuffix(path, ".html"):
		return strings.TrimSuffix(path, ".html"), FormatHTML
	case strings.HasSuffix(path, ".markdown"):
		return strings.TrimSuffix(path, ".markdown"), FormatMarkdown
	case strings.HasSuffix(path, ".md"):
		return strings.TrimSuffix(path, ".md"), FormatMarkdown
	}
	return path, ""
}

func formatFromAccept(accept string) Format {
	switch {
	case strings.Contains(accept, "text/html"):
		return FormatHTML
	case strings.Contains(accept, "text/markdown"):
		return FormatMarkdown
	}
	return FormatJSON
}

func bearerToken(authorization string) string {
	if !strings.HasPrefix(authorization, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer "))
}
