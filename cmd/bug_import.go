package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/buggy/internal/llm"
	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/mutation"
	"github.com/joescharf/buggy/internal/workflow"
)

var importProject string

var bugImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "File bugs from a markdown notes file",
	Long: `File bugs from a markdown file, using an LLM to extract them.

The file should list bugs as numbered or bulleted items, optionally grouped
under "## Project <name>" headings. With --project every item is filed
against that project by a plain parse and no LLM call is made.

Without --project, requires ANTHROPIC_API_KEY or anthropic.api_key in config.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugImportRun(args[0])
	},
}

func init() {
	bugImportCmd.Flags().StringVar(&importProject, "project", "", "File every item against this project (skip LLM extraction)")
	bugCmd.AddCommand(bugImportCmd)
}

// newLLMClient creates an LLM client from config/env, or returns nil if no API key is configured.
func newLLMClient() *llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil
	}
	return llm.NewClient(apiKey, viper.GetString("anthropic.model"))
}

func bugImportRun(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("file is empty: %s", file)
	}

	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var extracted []llm.ExtractedBug
	if importProject != "" {
		extracted = parseMarkdownBugs(content)
		for i := range extracted {
			extracted[i].Project = importProject
		}
	} else {
		if extracted, err = extractWithLLM(ctx, svc, content); err != nil {
			return err
		}
	}

	if len(extracted) == 0 {
		ui.Info("No bugs found in file.")
		return nil
	}

	table := ui.Table([]string{"#", "Project", "Title", "Priority"})
	for i, e := range extracted {
		_ = table.Append([]string{fmt.Sprintf("%d", i+1), e.Project, e.Title, e.Priority})
	}
	_ = table.Render()

	if dryRun {
		ui.DryRunMsg("Would file %d bugs", len(extracted))
		return nil
	}

	user, err := actingUser(ctx, svc)
	if err != nil {
		return err
	}
	return fileExtractedBugs(ctx, svc, user, extracted)
}

func extractWithLLM(ctx context.Context, svc *mutation.Service, content string) ([]llm.ExtractedBug, error) {
	client := newLLMClient()
	if client == nil {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set (set env var or anthropic.api_key in config)")
	}

	projects, err := svc.Store().ListProjects(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	names := make([]string, len(projects))
	for i, p := range projects {
		names[i] = p.Name
	}

	ui.Info("Extracting bugs with LLM (%s)...", viper.GetString("anthropic.model"))
	extracted, err := client.ExtractBugs(ctx, content, names)
	if err != nil {
		return nil, fmt.Errorf("extract bugs: %w", err)
	}
	return extracted, nil
}

// parseMarkdownBugs does a simple parse of markdown to extract numbered and
// bulleted items. "## Project <name>" headings set the project of the items
// below them.
func parseMarkdownBugs(content string) []llm.ExtractedBug {
	var bugs []llm.ExtractedBug
	currentProject := ""

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "## ") {
			heading := strings.TrimSpace(strings.TrimPrefix(line, "## "))
			if strings.HasPrefix(strings.ToLower(heading), "project ") {
				currentProject = strings.TrimSpace(heading[8:])
			}
			continue
		}

		title := listItemText(line)
		if title == "" {
			continue
		}
		bugs = append(bugs, llm.ExtractedBug{
			Project:  currentProject,
			Title:    title,
			Priority: classifyPriority(title),
			Comment:  line,
		})
	}
	return bugs
}

// listItemText returns the text of a "1. text", "- text" or "* text" line.
func listItemText(line string) string {
	if len(line) <= 2 {
		return ""
	}
	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		return strings.TrimSpace(line[2:])
	}
	for i, c := range line {
		if c == '.' && i > 0 && i < 4 {
			return strings.TrimSpace(line[i+1:])
		}
		if c < '0' || c > '9' {
			return ""
		}
	}
	return ""
}

// classifyPriority infers the priority from the title using keyword heuristics.
// High keywords are checked before low keywords. Defaults to "medium".
func classifyPriority(title string) string {
	lower := strings.ToLower(title)

	highKeywords := []string{
		"critical", "urgent", "blocker", "crash", "security",
		"data loss", "production down", "p0", "p1",
	}
	for _, kw := range highKeywords {
		if strings.Contains(lower, kw) {
			return "high"
		}
	}

	lowKeywords := []string{
		"minor", "nice to have", "cosmetic", "trivial",
		"low priority", "typo",
	}
	for _, kw := range lowKeywords {
		if strings.Contains(lower, kw) {
			return "low"
		}
	}

	return "medium"
}

// fileExtractedBugs files each extracted bug through the create action.
// Bugs that fail validation are reported and skipped.
func fileExtractedBugs(ctx context.Context, svc *mutation.Service, user *models.User, extracted []llm.ExtractedBug) error {
	projectCache := make(map[string]*models.Project)
	created, skipped := 0, 0

	for _, e := range extracted {
		proj, ok := projectCache[e.Project]
		if !ok {
			p, err := svc.Store().GetProjectByName(ctx, e.Project)
			if err != nil {
				ui.Warning("Skipping %q: project %q not found", e.Title, e.Project)
				skipped++
				continue
			}
			projectCache[e.Project] = p
			proj = p
		}

		priority, err := models.ParsePriority(e.Priority)
		if err != nil {
			priority = models.PriorityMedium
		}

		action, err := svc.Submit(ctx, user, 0, workflow.Submission{
			Action:   workflow.ActionCreate,
			Title:    e.Title,
			Project:  proj,
			Priority: priority,
			Comment:  e.Comment,
		})
		if err != nil {
			ui.Warning("Failed to file %q: %v", e.Title, err)
			skipped++
			continue
		}
		ui.VerboseLog("Filed #%s %s", action.Bug.Number(), action.Bug.Title)
		created++
	}

	ui.Success("Filed %d bugs across %d projects", created, len(projectCache))
	if skipped > 0 {
		ui.Warning("Skipped %d bugs", skipped)
	}
	return nil
}
