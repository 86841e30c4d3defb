package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FetchProvider abstracts a page-read backend for web_fetch, mirroring the
// SearchProvider shape: each tier either returns extracted text or an error
// that lets the chain fall through to the next tier.
type FetchProvider interface {
	Fetch(ctx context.Context, rawURL string, maxChars int) (string, error)
	Name() string
}

// jinaReaderEndpoint is r.jina.ai, a public URL-to-markdown reader. With an
// API key it runs at the authenticated tier (higher rate limit, JS
// rendering); without one it still answers, just at the free anonymous
// tier, which is what lets it double as both the "configured provider" and
// the "alternate provider" rungs of the fallback chain.
const jinaReaderEndpoint = "https://r.jina.ai/"

type jinaReaderProvider struct {
	apiKey string
	client *http.Client
}

func newJinaReaderProvider(apiKey string) *jinaReaderProvider {
	return &jinaReaderProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: time.Duration(fetchTimeoutSeconds) * time.Second},
	}
}

func (p *jinaReaderProvider) Name() string {
	if p.apiKey != "" {
		return "jina-reader"
	}
	return "jina-reader-anonymous"
}

func (p *jinaReaderProvider) Fetch(ctx context.Context, rawURL string, maxChars int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", jinaReaderEndpoint+rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("X-Return-Format", "markdown")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars*4)))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reader returned %d: %s", resp.StatusCode, truncateStr(string(body), 200))
	}
	return string(body), nil
}
