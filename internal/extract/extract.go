// Package extract fetches a page server-side and pulls out its
// readable text, the fallback for tabs the browser agent captured
// without content.
package extract

import (
	"context"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// minTextLength is the floor below which an extraction counts as
// failed; boilerplate-only pages produce a few stray words.
const minTextLength = 50

var skipPrefixes = []string{"about:", "moz-extension:", "file:", "chrome:", "resource:", "data:"}

var client = &http.Client{Timeout: 15 * time.Second}

// Fetch downloads the URL and returns its readable text. The error is
// non-nil for non-HTTP URLs, fetch failures and pages that yield less
// than minTextLength characters of text.
func Fetch(ctx context.Context, url string) (string, error) {
	for _, prefix := range skipPrefixes {
		if strings.HasPrefix(url, prefix) {
			return "", fmt.Errorf("skipping non-HTTP URL: %s", url)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	// Some sites serve bot UAs an empty shell.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	base, _ := neturl.Parse(url)
	article, err := readability.FromReader(resp.Body, base)
	if err != nil {
		return "", fmt.Errorf("extract readable content from %s: %w", url, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if len(text) < minTextLength {
		return "", fmt.Errorf("extract %s: only %d chars of text", url, len(text))
	}
	return text, nil
}
