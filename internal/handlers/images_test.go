package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"harbormaster/internal/gate"

	"github.com/sirupsen/logrus"
)

func imageRequest(prompt string) *gate.Request {
	q := url.Values{}
	if prompt != "" {
		q.Set("prompt", prompt)
	}
	return &gate.Request{Method: http.MethodGet, Path: "/api/images", Query: q, Format: gate.FormatJSON}
}

func TestImageProxyUnconfigured(t *testing.T) {
	proxy := NewImageProxy("", "", 1, logrus.New())

	_, err := proxy.Generate(context.Background(), imageRequest("a cat"), gate.Env{})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("err = %v, want a configuration error", err)
	}
}

func TestImageProxyRequiresPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called without a prompt")
	}))
	defer server.Close()

	proxy := NewImageProxy(server.URL, "", 1, logrus.New())
	if _, err := proxy.Generate(context.Background(), imageRequest(""), gate.Env{}); err == nil {
		t.Fatal("missing prompt must fail")
	}
}

func TestImageProxyForwardsPrompt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("authorization = %q", got)
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt != "a lighthouse" {
			t.Errorf("prompt = %q (decode err %v)", req.Prompt, err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"url":"https://img.example/1.png"}`)
	}))
	defer server.Close()

	proxy := NewImageProxy(server.URL, "key-1", 10, logrus.New())
	body, err := proxy.Generate(context.Background(), imageRequest("a lighthouse"), gate.Env{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(body, "img.example/1.png") {
		t.Fatalf("body = %s", body)
	}
}

func TestImageProxyUpstreamFailureSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	proxy := NewImageProxy(server.URL, "", 10, logrus.New())
	_, err := proxy.Generate(context.Background(), imageRequest("a cat"), gate.Env{})
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Fatalf("err = %v, want upstream status error", err)
	}
}

func TestImageProxyCollapsesIdenticalPrompts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"url":"https://img.example/1.png"}`)
	}))
	defer server.Close()

	proxy := NewImageProxy(server.URL, "", 100, logrus.New())

	start := make(chan struct{})
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := proxy.Generate(context.Background(), imageRequest("same prompt"), gate.Env{})
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("upstream hits = %d, identical in-flight prompts must collapse", got)
	}
}

func TestImageProxyRateLimiterBounds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	// One request per second with burst 1: the first call spends the only
	// token, the second cannot get one before the deadline.
	proxy := NewImageProxy(server.URL, "", 1, logrus.New())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := proxy.Generate(ctx, imageRequest("first"), gate.Env{}); err != nil {
		t.Fatalf("first call must pass on the burst token: %v", err)
	}

	began := time.Now()
	_, err := proxy.Generate(ctx, imageRequest("second"), gate.Env{})
	if err == nil {
		t.Fatal("second call must fail without a token")
	}
	if elapsed := time.Since(began); elapsed > 500*time.Millisecond {
		t.Fatalf("rate-limited call blocked for %v instead of failing fast", elapsed)
	}
}
