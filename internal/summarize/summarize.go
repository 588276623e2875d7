// Package summarize turns captured page text into a short summary, a
// suggested category and tags by running an external AI CLI.
package summarize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/lotas/tabtriage/internal/applog"
	"github.com/lotas/tabtriage/internal/config"
	"github.com/lotas/tabtriage/internal/urlnorm"
)

// minContentLength is the threshold below which extracted text is
// considered useless and the title-only fallback is used instead.
const minContentLength = 100

// Input is one tab to summarize.
type Input struct {
	Title   string
	URL     string
	Content string
}

// Result of one summarization. When the CLI fails, times out or is
// missing, Failed is set and Summary carries a display placeholder;
// failed results are never persisted, the tab's summary stays NULL.
type Result struct {
	Summary           string
	SuggestedCategory string
	Tags              []string
	Failed            bool
}

// Summarizer shells out to a prompt-driven CLI (claude by default).
// Command, timeout and content cap are read from the store on every
// call, so configuration reloads apply to the next tab.
type Summarizer struct {
	Store *config.Store
}

func New(store *config.Store) *Summarizer {
	return &Summarizer{Store: store}
}

// Summarize analyzes one tab. Tabs without usable content fall back to
// a title-and-URL-only prompt with a shorter timeout.
func (s *Summarizer) Summarize(ctx context.Context, in Input) Result {
	cfg := s.Store.Get()

	content := strings.TrimSpace(in.Content)
	if len(content) < minContentLength {
		return s.summarizeFromTitle(ctx, in, cfg)
	}
	if len(content) > cfg.MaxContentLength {
		content = content[:cfg.MaxContentLength]
	}

	prompt := fmt.Sprintf(`Analyze this browser tab and answer in a structured form.

Title: %s
URL: %s

Content (excerpt):
%s

Answer EXACTLY in this format (no markdown formatting):
SUMMARY: [2-3 sentences on what the content covers and why it might matter]
CATEGORY: [exactly one of: read-later, reference, actionable, archive]
TAGS: [comma-separated tags, 3-6 of them, e.g.: AI, Law, Startup, Finance, Health, Tool, Tutorial, News]

Categories:
- read-later: articles/videos worth reading or watching
- reference: documentation, tools, resources to look up later
- actionable: contains concrete tasks or requires action
- archive: no longer relevant, already done, or spam

Tags should be topical and useful for filtering and search. Use established terms.`,
		in.Title, in.URL, content)

	out, err := run(ctx, cfg.SummarizeCommand, prompt, cfg.SummarizeTimeout.Std())
	if err != nil {
		applog.Error("summarize.cli", err, "title", in.Title)
		return Result{
			Summary:           fmt.Sprintf("[summary failed: %s]", in.Title),
			SuggestedCategory: "read-later",
			Failed:            true,
		}
	}
	return parseResponse(out, in.Title)
}

// difficultDomains maps hosts whose pages rarely yield extractable
// text to a hint for the title-only prompt.
var difficultDomains = map[string]string{
	"x.com":           "a social media post (tweet/thread)",
	"twitter.com":     "a social media post (tweet/thread)",
	"youtube.com":     "a YouTube video",
	"youtu.be":        "a YouTube video",
	"medium.com":      "a Medium article (paywall)",
	"google.com":      "a Google search result or Google service",
	"docs.google.com": "a Google document",
	"linkedin.com":    "a LinkedIn post or profile",
	"reddit.com":      "a Reddit discussion",
	"github.com":      "a GitHub repository or page",
}

func (s *Summarizer) summarizeFromTitle(ctx context.Context, in Input, cfg config.Config) Result {
	domain := urlnorm.Domain(in.URL)

	hint := ""
	for d, h := range difficultDomains {
		if strings.Contains(domain, d) {
			hint = fmt.Sprintf("\nNote: this is %s. The page yields no extractable text.", h)
			break
		}
	}

	prompt := fmt.Sprintf(`Based on the title and URL alone, assess this browser tab.
No extracted page content is available — use only the title and the URL.

Title: %s
URL: %s%s

Answer EXACTLY in this format (no markdown formatting):
SUMMARY: [1-2 sentences on what the content likely covers, based on title and URL]
CATEGORY: [exactly one of: read-later, reference, actionable, archive]
TAGS: [comma-separated tags, 2-4 of them]

Categories:
- read-later: articles/videos worth reading or watching
- reference: documentation, tools, resources to look up later
- actionable: contains concrete tasks or requires action
- archive: no longer relevant, already done, or spam`,
		in.Title, in.URL, hint)

	timeout := cfg.SummarizeTimeout.Std()
	if timeout > 2*time.Minute {
		timeout = 2 * time.Minute
	}
	out, err := run(ctx, cfg.SummarizeCommand, prompt, timeout)
	if err != nil {
		applog.Error("summarize.title_only", err, "title", in.Title)
		return Result{
			Summary:           fmt.Sprintf("[no usable content extracted for: %s]", in.Title),
			SuggestedCategory: "archive",
			Failed:            true,
		}
	}
	return parseResponse(out, in.Title)
}

// run executes the configured CLI with the prompt on stdin.
func run(ctx context.Context, command []string, prompt string, timeout time.Duration) (string, error) {
	if len(command) == 0 {
		return "", fmt.Errorf("no summarize command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = cleanEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%s timed out after %s", command[0], timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return "", fmt.Errorf("%s: %w: %s", command[0], err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// cleanEnv strips CLAUDECODE* variables (they make the claude CLI
// refuse to run inside what it believes is a nested session) and pins
// PATH. CLAUDE_CONFIG_DIR survives, it is needed for auth.
func cleanEnv(environ []string) []string {
	out := make([]string, 0, len(environ))
	for _, kv := range environ {
		if strings.HasPrefix(kv, "CLAUDECODE") || strings.HasPrefix(kv, "PATH=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PATH=/usr/local/bin:/usr/bin:/bin")
}

var knownCategories = map[string]bool{
	"read-later": true,
	"reference":  true,
	"actionable": true,
	"archive":    true,
}

// parseResponse extracts the SUMMARY/CATEGORY/TAGS lines from the CLI
// output. Missing or malformed lines degrade to defaults rather than
// failing the tab.
func parseResponse(text, title string) Result {
	r := Result{SuggestedCategory: "read-later"}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SUMMARY:"):
			r.Summary = strings.TrimSpace(strings.TrimPrefix(line, "SUMMARY:"))
		case strings.HasPrefix(line, "CATEGORY:"):
			cat := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "CATEGORY:")))
			if knownCategories[cat] {
				r.SuggestedCategory = cat
			}
		case strings.HasPrefix(line, "TAGS:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "TAGS:"))
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					r.Tags = append(r.Tags, t)
				}
			}
		}
	}

	if r.Summary == "" {
		if text != "" {
			if len(text) > 500 {
				text = text[:500]
			}
			r.Summary = text
		} else {
			r.Summary = fmt.Sprintf("[no summary for: %s]", title)
		}
	}
	return r
}
