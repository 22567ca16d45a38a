package gate

import "testing"

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"h1", "# Title", "<h1>Title</h1>"},
		{"h2", "## Section", "<h2>Section</h2>"},
		{"h3", "### Detail", "<h3>Detail</h3>"},
		{"bold", "**bold**", "<strong>bold</strong>"},
		{"italic", "*slanted*", "<em>slanted</em>"},
		{"newline", "one\ntwo", "one<br>two"},
		{"hash mid-line untouched", "see # note", "see # note"},
		{"heading on later line", "intro\n## Later", "intro<br><h2>Later</h2>"},
		{
			"full document",
			"# Report\n**calls**: 10\n*draft*",
			"<h1>Report</h1><br><strong>calls</strong>: 10<br><em>draft</em>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MarkdownToHTML(tt.in); got != tt.want {
				t.Errorf("MarkdownToHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCompose(t *testing.T) {
	t.Run("json passes through", func(t *testing.T) {
		out := Compose(`{"n":1}`, FormatJSON, CacheMiss)
		if out.Content != `{"n":1}` {
			t.Errorf("Content = %q", out.Content)
		}
		if out.ContentType != "application/json" {
			t.Errorf("ContentType = %q", out.ContentType)
		}
		if out.Headers["X-Cache"] != "MISS" {
			t.Errorf("X-Cache = %q, want MISS", out.Headers["X-Cache"])
		}
	})

	t.Run("markdown passes through", func(t *testing.T) {
		out := Compose("# raw", FormatMarkdown, CacheMiss)
		if out.Content != "# raw" {
			t.Errorf("Content = %q, want untouched markdown", out.Content)
		}
		if out.ContentType != "text/markdown; charset=utf-8" {
			t.Errorf("ContentType = %q", out.ContentType)
		}
	})

	t.Run("html applies transform", func(t *testing.T) {
		out := Compose("# Title", FormatHTML, CacheHit)
		if out.Content != "<h1>Title</h1>" {
			t.Errorf("Content = %q", out.Content)
		}
		if out.ContentType != "text/html; charset=utf-8" {
			t.Errorf("ContentType = %q", out.ContentType)
		}
		if out.Headers["X-Cache"] != "HIT" {
			t.Errorf("X-Cache = %q, want HIT", out.Headers["X-Cache"])
		}
	})

	t.Run("cors headers always present", func(t *testing.T) {
		out := Compose("x", FormatJSON, CacheMiss)
		if out.Headers["Access-Control-Allow-Origin"] != "*" {
			t.Errorf("Allow-Origin = %q", out.Headers["Access-Control-Allow-Origin"])
		}
		if out.Headers["Access-Control-Allow-Methods"] == "" {
			t.Error("Allow-Methods missing")
		}
	})
}
