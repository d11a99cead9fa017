// Package llm extracts bug reports from free-form notes with Anthropic.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ExtractedBug is one bug found in the notes. Priority is "low", "medium",
// "high" or empty when the model gave something else.
type ExtractedBug struct {
	Project  string `json:"project"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Comment  string `json:"comment"`
}

const maxTitle = 100

// Client calls the Messages API.
type Client struct {
	api   anthropic.Client
	model anthropic.Model
}

// NewClient returns a client for model. Extra request options are passed to
// the SDK, e.g. option.WithBaseURL.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	return &Client{api: anthropic.NewClient(opts...), model: anthropic.Model(model)}
}

const systemPrompt = `You turn meeting notes and QA checklists into bug reports for a bug tracker.

Answer with a JSON array and nothing else. Each element is an object:
  "project":  the project the bug belongs to; headings like "## Project <name>" apply to the items below them
  "title":    a short summary of the defect, at most 100 characters
  "priority": "high" for crashes, data loss or security problems, "low" for cosmetic issues and typos, otherwise "medium"
  "comment":  the part of the notes that describes this bug, verbatim, including its sub-bullets, reproduction steps and error output

Only defects become bugs. Leave out feature requests, chores and discussion.
Prefer the exact spelling of a known project name when one matches.
Return [] when there are no bugs.`

// userPrompt wraps the notes so the model does not confuse them with
// instructions.
func userPrompt(notes string, projects []string) string {
	var sb strings.Builder
	if len(projects) > 0 {
		fmt.Fprintf(&sb, "Known projects: %s\n\n", strings.Join(projects, ", "))
	}
	sb.WriteString("<notes>\n")
	sb.WriteString(strings.TrimSpace(notes))
	sb.WriteString("\n</notes>")
	return sb.String()
}

// ExtractBugs asks the model for the bugs described in notes.
func (c *Client) ExtractBugs(ctx context.Context, notes string, projects []string) ([]ExtractedBug, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(notes, projects))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseBugs(text.String())
}

var errNoArray = errors.New("no JSON array in response")

// parseBugs decodes the first JSON array in text, tolerating prose or a code
// fence around it. Blank titles and repeats are dropped.
func parseBugs(text string) ([]ExtractedBug, error) {
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: %q", errNoArray, truncate(text, 200))
	}

	var raw []ExtractedBug
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode bugs: %w", err)
	}

	seen := make(map[string]bool, len(raw))
	bugs := make([]ExtractedBug, 0, len(raw))
	for _, b := range raw {
		b.Project = strings.TrimSpace(b.Project)
		b.Title = truncate(strings.TrimSpace(b.Title), maxTitle)
		if b.Title == "" {
			continue
		}
		key := strings.ToLower(b.Project + "\x00" + b.Title)
		if seen[key] {
			continue
		}
		seen[key] = true

		switch p := strings.ToLower(strings.TrimSpace(b.Priority)); p {
		case "low", "medium", "high":
			b.Priority = p
		default:
			b.Priority = ""
		}
		bugs = append(bugs, b)
	}
	return bugs, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
