package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const webFetchTimeout = 30 * time.Second

// WebFetchTool downloads a URL and returns its body, truncated to a
// configured number of lines.
type WebFetchTool struct {
	maxBytes  int
	lineLimit int
}

func NewWebFetchTool(maxBytes int) *WebFetchTool {
	return &WebFetchTool{maxBytes: maxBytes, lineLimit: 1000}
}

func (t *WebFetchTool) Name() string        { return "webfetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and return its text content, truncated to a line limit (default 1000)." }
func (t *WebFetchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":   map[string]interface{}{"type": "string", "description": "URL to fetch"},
			"limit": map[string]interface{}{"type": "integer", "description": "Maximum number of lines to return (default 1000)"},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	url, _ := args["url"].(string)
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("url is required")
	}

	lineLimit := t.lineLimit
	if n, ok := intArg(args, "limit"); ok && n > 0 {
		lineLimit = n
	}

	fetchCtx, cancel := context.WithTimeout(ctx, webFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	// Many sites reject Go's default user agent outright.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	limit := t.maxBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return "", fmt.Errorf("read response from %s: %w", url, err)
	}

	truncatedBySize := len(body) > limit
	if truncatedBySize {
		body = body[:limit]
	}

	lines := strings.Split(string(body), "\n")
	truncatedByLines := len(lines) > lineLimit
	if truncatedByLines {
		lines = lines[:lineLimit]
	}

	out := strings.Join(lines, "\n")
	if truncatedByLines || truncatedBySize {
		out += "\n... [truncated]"
	}
	return out, nil
}
