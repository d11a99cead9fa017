package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/joescharf/buggy/internal/git"
	"github.com/joescharf/buggy/internal/output"
	"github.com/joescharf/buggy/internal/webhook"
)

var scanRange string

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Process bug references in local git commits",
	Long: `Read commits from a local repository and handle their bug references
the same way the GitHub push webhook does: "#15" comments on bug 15 and
"fixes #15" resolves it as fixed. Commits are matched to users by author
email. Replaying a commit is a no-op.

Without --range the whole history of HEAD is scanned.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		return scanRun(path)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanRange, "range", "", "Revision range, e.g. v1.0..HEAD")
	rootCmd.AddCommand(scanCmd)
}

func scanRun(path string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	return scanCommits(context.Background(), git.NewClient(), webhook.NewProcessor(svc, log.Logger), path, scanRange)
}

// scanCommits feeds every commit in revRange to proc, oldest first.
func scanCommits(ctx context.Context, gc git.Client, proc webhook.CommitProcessor, path, revRange string) error {
	root, err := gc.RepoRoot(path)
	if err != nil {
		return fmt.Errorf("not a git repository: %s", path)
	}
	remote, _ := gc.RemoteURL(root)

	commits, err := gc.CommitLog(root, revRange)
	if err != nil {
		return err
	}

	processed, touched := 0, 0
	for _, c := range commits {
		mentions, fixes := webhook.ParseCommitMessage(c.Message)
		if len(mentions)+len(fixes) == 0 {
			continue
		}
		processed++

		if dryRun {
			ui.DryRunMsg("%s %s: fixes [%s] mentions [%s]", shortHash(c.Hash), firstLine(c.Message),
				strings.Join(fixes, ", "), strings.Join(mentions, ", "))
			continue
		}

		outcomes, err := proc.ProcessCommit(ctx, webhook.Commit{
			ID:      c.Hash,
			Message: c.Message,
			URL:     git.CommitURL(remote, c.Hash),
			Author:  webhook.Author{Name: c.AuthorName, Email: c.AuthorEmail},
		})
		if err != nil {
			return fmt.Errorf("commit %s: %w", shortHash(c.Hash), err)
		}
		if outcomes == nil {
			ui.VerboseLog("%s: author %s is not a buggy user", shortHash(c.Hash), c.AuthorEmail)
			continue
		}
		for _, o := range outcomes {
			if o.Skipped {
				ui.VerboseLog("%s #%s: %s", shortHash(c.Hash), o.Number, o.Reason)
				continue
			}
			touched++
			ui.Success("%s #%s: %s", output.Cyan(shortHash(c.Hash)), o.Number, o.Action)
		}
	}

	ui.Info("Scanned %d commits, %d with bug references, %d bugs updated", len(commits), processed, touched)
	return nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
