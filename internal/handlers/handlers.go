// Package handlers is the metered demo surface behind the gate. Every
// endpoint returns a body string; the gate owns classification, billing,
// caching, and format composition around it.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"harbormaster/internal/gate"
)

// Register mounts the metered endpoints on the gate.
func Register(g *gate.Gate, images *ImageProxy) {
	g.Route("/api/time", TimeHandler)
	g.Route("/api/echo", EchoHandler)
	g.Route("/api/report", ReportHandler)
	g.Route("/api/images", images.Generate)
}

// TimeHandler reports the current server time. GET /api/time
func TimeHandler(ctx context.Context, req *gate.Request, env gate.Env) (string, error) {
	now := time.Now().UTC()
	body, err := json.Marshal(map[string]interface{}{
		"time": now.Format(time.RFC3339),
		"unix": now.Unix(),
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// EchoHandler returns the query parameters it was called with, multi-value
// keys included. GET /api/echo
func EchoHandler(ctx context.Context, req *gate.Request, env gate.Env) (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"path":  req.Path,
		"query": req.Query,
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ReportHandler renders a sample usage report in markdown. The gate transforms
// it to HTML when the caller asks for that format. Responses are cached and
// shared across callers, so nothing account-specific belongs in the body.
// GET /api/report
func ReportHandler(ctx context.Context, req *gate.Request, env gate.Env) (string, error) {
	var b strings.Builder
	b.WriteString("# Daily Report\n")
	b.WriteString(fmt.Sprintf("Generated %s\n", time.Now().UTC().Format("2006-01-02")))
	b.WriteString("## Requests\n")
	b.WriteString("**served**: 1042\n")
	b.WriteString("**cached**: 731\n")
	b.WriteString("## Notes\n")
	b.WriteString("*Sample data, refreshed with the response cache.*")
	return b.String(), nil
}
