package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/buggy/internal/attachment"
	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/mutation"
	"github.com/joescharf/buggy/internal/output"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/workflow"
)

var (
	bugProject   string
	bugTitle     string
	bugComment   string
	bugPriority  string
	bugAssign    string
	bugAttach    []string
	bugState     string
	bugCreatedBy string
	bugSearch    string
	bugLimit     int
	bugPreset    string
)

var bugCmd = &cobra.Command{
	Use:   "bug",
	Short: "File, list and work on bugs",
	Long:  "File bugs, browse them and move them through the workflow.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List bugs, most recently modified first",
	Long: `List bugs. Closed bugs are hidden unless --state names them.

--state takes a comma-separated list; 'resolved' matches every resolved-* state.
--preset applies one of your saved filters; explicit flags win over it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugListRun()
	},
}

var bugShowCmd = &cobra.Command{
	Use:   "show <number>",
	Short: "Show a bug and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugShowRun(args[0])
	},
}

var bugCreateCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"add", "new"},
	Short:   "File a new bug",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugCreateRun()
	},
}

var bugActCmd = &cobra.Command{
	Use:   "act <number> <action>",
	Short: "Perform a workflow action on a bug",
	Long: `Perform a workflow action on a bug.

Actions: comment, entrusted, resolved-fixed, resolved-duplicate,
resolved-impossible, resolved-unreproducible, resolved-notabug, verified,
reopened, live, closed. Use 'buggy bug actions <number>' to see which ones
are legal right now.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugActRun(args[0], workflow.ActionID(args[1]))
	},
}

var bugActionsCmd = &cobra.Command{
	Use:   "actions [number...]",
	Short: "List the actions you may perform",
	Long:  "List the legal actions with help text. Several numbers show what a bulk edit may do; none shows the choices for a new bug.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugActionsRun(args)
	},
}

var bugBulkCmd = &cobra.Command{
	Use:   "bulk <action> <number>...",
	Short: "Perform one action on several bugs at once",
	Long:  "Perform the same action on every listed bug in one transaction. The action must be legal for all of them.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return bugBulkRun(workflow.ActionID(args[0]), args[1:])
	},
}

func init() {
	bugListCmd.Flags().StringVar(&bugProject, "project", "", "Filter by project name")
	bugListCmd.Flags().StringVar(&bugState, "state", "", "Filter by state (comma-separated)")
	bugListCmd.Flags().StringVar(&bugPriority, "priority", "", "Filter by priority (comma-separated)")
	bugListCmd.Flags().StringVar(&bugAssign, "assigned-to", "", "Filter by assignee")
	bugListCmd.Flags().StringVar(&bugCreatedBy, "created-by", "", "Filter by creator")
	bugListCmd.Flags().StringVarP(&bugSearch, "search", "q", "", "Search titles and comments")
	bugListCmd.Flags().IntVar(&bugLimit, "limit", 0, "Maximum number of bugs")
	bugListCmd.Flags().StringVar(&bugPreset, "preset", "", "Apply a saved preset filter by name")

	bugCreateCmd.Flags().StringVar(&bugProject, "project", "", "Project name (required)")
	bugCreateCmd.Flags().StringVar(&bugTitle, "title", "", "Bug title (required)")
	bugCreateCmd.Flags().StringVar(&bugComment, "comment", "", "Description; markdown")
	bugCreateCmd.Flags().StringVar(&bugPriority, "priority", "", "Priority: low, medium, high (default medium)")
	bugCreateCmd.Flags().StringVar(&bugAssign, "assign", "", "Entrust the bug to this user")
	bugCreateCmd.Flags().StringSliceVar(&bugAttach, "attach", nil, "File to attach (repeatable)")
	_ = bugCreateCmd.MarkFlagRequired("project")
	_ = bugCreateCmd.MarkFlagRequired("title")

	for _, c := range []*cobra.Command{bugActCmd, bugBulkCmd} {
		c.Flags().StringVarP(&bugComment, "comment", "m", "", "Comment; markdown")
		c.Flags().StringVar(&bugPriority, "priority", "", "New priority")
		c.Flags().StringVar(&bugAssign, "assign", "", "New assignee")
	}
	bugActCmd.Flags().StringVar(&bugTitle, "title", "", "New title")
	bugActCmd.Flags().StringSliceVar(&bugAttach, "attach", nil, "File to attach (repeatable)")

	bugCmd.AddCommand(bugListCmd)
	bugCmd.AddCommand(bugShowCmd)
	bugCmd.AddCommand(bugCreateCmd)
	bugCmd.AddCommand(bugActCmd)
	bugCmd.AddCommand(bugActionsCmd)
	bugCmd.AddCommand(bugBulkCmd)
	rootCmd.AddCommand(bugCmd)
}

func bugListRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	s := svc.Store()
	ctx := context.Background()

	values := url.Values{}
	if bugPreset != "" {
		if values, err = presetValues(ctx, svc, bugPreset); err != nil {
			return err
		}
	}
	setIf(values, "project", bugProject)
	setIf(values, "state", bugState)
	setIf(values, "priority", bugPriority)
	setIf(values, "assigned_to", bugAssign)
	setIf(values, "created_by", bugCreatedBy)
	setIf(values, "q", bugSearch)
	if bugLimit > 0 {
		values.Set("limit", strconv.Itoa(bugLimit))
	}

	filter, err := buildFilter(ctx, svc, values)
	if err != nil {
		return err
	}

	bugs, err := s.ListBugs(ctx, filter)
	if err != nil {
		return fmt.Errorf("list bugs: %w", err)
	}
	if len(bugs) == 0 {
		ui.Info("No bugs found.")
		return nil
	}

	table := ui.Table([]string{"#", "Project", "Title", "State", "Priority", "Assigned", "Modified"})
	for _, b := range bugs {
		assigned := ""
		if b.AssignedTo != nil {
			assigned = b.AssignedTo.ShortName()
		}
		projName := ""
		if b.Project != nil {
			projName = b.Project.Name
		}
		_ = table.Append([]string{
			output.Cyan(b.Number()),
			projName,
			b.Title,
			output.StateColor(b.State),
			output.PriorityColor(b.Priority),
			assigned,
			timeAgo(b.ModifiedAt),
		})
	}
	_ = table.Render()
	return nil
}

func setIf(v url.Values, key, val string) {
	if val != "" {
		v.Set(key, val)
	}
}

// buildFilter turns list parameters (flags or a preset query) into a store
// filter. Every invalid parameter is reported together.
func buildFilter(ctx context.Context, svc *mutation.Service, v url.Values) (store.BugListFilter, error) {
	s := svc.Store()
	filter := store.BugListFilter{Search: v.Get("q")}
	var msgs []string

	for _, name := range splitList(v.Get("project")) {
		p, err := s.GetProjectByName(ctx, name)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("Unknown project %q.", name))
			continue
		}
		filter.ProjectIDs = append(filter.ProjectIDs, p.ID)
	}
	for _, f := range []struct {
		key    string
		target *string
	}{
		{"assigned_to", &filter.AssignedToID},
		{"created_by", &filter.CreatedByID},
	} {
		ident := v.Get(f.key)
		if ident == "" {
			continue
		}
		u, err := svc.FindUser(ctx, ident)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("Unknown user %q.", ident))
			continue
		}
		*f.target = u.ID
	}
	for _, raw := range splitList(v.Get("priority")) {
		p, err := models.ParsePriority(raw)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("%q is not a valid priority.", raw))
			continue
		}
		filter.Priorities = append(filter.Priorities, p)
	}
	if states := splitList(v.Get("state")); len(states) > 0 {
		filter.States = models.ExpandStateFilter(states)
		if len(filter.States) == 0 {
			msgs = append(msgs, "No known state selected.")
		}
	} else {
		filter.States = models.DefaultListStates()
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			msgs = append(msgs, "limit must be a non-negative number.")
		}
		filter.Limit = n
	}

	if len(msgs) > 0 {
		return filter, &workflow.ValidationError{Messages: msgs}
	}
	return filter, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// presetValues loads the acting user's preset by name and returns its query.
func presetValues(ctx context.Context, svc *mutation.Service, name string) (url.Values, error) {
	user, err := actingUser(ctx, svc)
	if err != nil {
		return nil, err
	}
	presets, err := svc.Store().ListPresets(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}
	for _, p := range presets {
		if p.Name == name {
			u, err := url.Parse(p.URL)
			if err != nil {
				return nil, fmt.Errorf("preset %q: %w", name, err)
			}
			return u.Query(), nil
		}
	}
	return nil, fmt.Errorf("preset not found: %s", name)
}

func bugShowRun(number string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	bug, history, err := svc.Detail(ctx, number)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("bug not found: %s", number)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.BugNumber(bug.Number()), bug.Title)
	if bug.Project != nil {
		fmt.Fprintf(ui.Out, "  Project:    %s\n", bug.Project.Name)
	}
	fmt.Fprintf(ui.Out, "  State:      %s\n", output.StateColor(bug.State))
	fmt.Fprintf(ui.Out, "  Priority:   %s\n", output.PriorityColor(bug.Priority))
	if bug.AssignedTo != nil {
		fmt.Fprintf(ui.Out, "  Assigned:   %s\n", bug.AssignedTo.ShortName())
	}
	if bug.CreatedBy != nil {
		fmt.Fprintf(ui.Out, "  Created by: %s\n", bug.CreatedBy.ShortName())
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", bug.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  Modified:   %s (%s)\n", bug.ModifiedAt.Format(time.RFC3339), timeAgo(bug.ModifiedAt))

	for _, a := range history {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "%s %s\n", output.Timestamp(a.CreatedAt), a.Description())
		if a.Comment != nil {
			for _, line := range strings.Split(strings.TrimRight(a.Comment.Text, "\n"), "\n") {
				fmt.Fprintf(ui.Out, "    %s\n", line)
			}
		}
		for _, att := range a.Attachments {
			fmt.Fprintf(ui.Out, "    [attachment] %s\n", attachment.RelPath(bug.Number(), att.File))
		}
	}
	return nil
}

func bugCreateRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	user, err := actingUser(ctx, svc)
	if err != nil {
		return err
	}
	p, err := svc.Store().GetProjectByName(ctx, bugProject)
	if err != nil {
		return fmt.Errorf("project not found: %s", bugProject)
	}

	sub := workflow.Submission{
		Action:  workflow.ActionCreate,
		Title:   bugTitle,
		Project: p,
		Comment: bugComment,
	}
	if err := fillSubmission(ctx, svc, &sub); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would file %q in %s", bugTitle, p.Name)
		return nil
	}

	action, err := submitWithFiles(ctx, svc, user, 0, sub, bugAttach)
	if err != nil {
		return err
	}
	ui.Success("Filed bug %s: %s", output.BugNumber(action.Bug.Number()), action.Bug.Title)
	return nil
}

func bugActRun(number string, id workflow.ActionID) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	user, err := actingUser(ctx, svc)
	if err != nil {
		return err
	}
	bug, err := lookupBug(ctx, svc, number)
	if err != nil {
		return err
	}

	sub := workflow.Submission{Action: id, Comment: bugComment, Title: bugTitle}
	if err := fillSubmission(ctx, svc, &sub); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would perform %s on bug #%s", id, bug.Number())
		return nil
	}

	action, err := submitWithFiles(ctx, svc, user, bug.ID, sub, bugAttach)
	if err != nil {
		return err
	}
	ui.Success("%s: %s", output.BugNumber(action.Bug.Number()), action.Description())
	return nil
}

func bugActionsRun(numbers []string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	user, err := actingUser(ctx, svc)
	if err != nil {
		return err
	}

	if len(numbers) > 1 {
		ids, err := bugIDs(ctx, svc, numbers)
		if err != nil {
			return err
		}
		actions, err := svc.BulkActions(ctx, user, ids)
		if err != nil {
			return err
		}
		if len(actions) == 0 {
			ui.Info("No action is legal for all of these bugs.")
			return nil
		}
		for _, a := range actions {
			fmt.Fprintf(ui.Out, "  %s\n", output.Cyan(string(a)))
		}
		return nil
	}

	var bugID int64
	if len(numbers) == 1 {
		bug, err := lookupBug(ctx, svc, numbers[0])
		if err != nil {
			return err
		}
		bugID = bug.ID
	}
	choices, err := svc.Choices(ctx, user, bugID)
	if err != nil {
		return err
	}
	printChoices(choices, "")
	return nil
}

func printChoices(choices []workflow.Choice, indent string) {
	for _, c := range choices {
		fmt.Fprintf(ui.Out, "%s%-26s %s\n", indent, output.Cyan(string(c.ID)), c.Label)
		if c.HelpText != "" {
			fmt.Fprintf(ui.Out, "%s    %s\n", indent, c.HelpText)
		}
		printChoices(c.SubActions, indent+"  ")
	}
}

func bugBulkRun(id workflow.ActionID, numbers []string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	user, err := actingUser(ctx, svc)
	if err != nil {
		return err
	}
	ids, err := bugIDs(ctx, svc, numbers)
	if err != nil {
		return err
	}

	sub := workflow.Submission{Action: id, Comment: bugComment}
	if err := fillSubmission(ctx, svc, &sub); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would perform %s on %d bugs", id, len(ids))
		return nil
	}

	actions, err := svc.Bulk(ctx, user, ids, sub)
	if err != nil {
		return err
	}
	for _, a := range actions {
		ui.Success("%s: %s", output.BugNumber(a.Bug.Number()), a.Description())
	}
	return nil
}

// lookupBug resolves a public bug number. A bad check digit reads the same
// as a missing bug.
func lookupBug(ctx context.Context, svc *mutation.Service, number string) (*models.Bug, error) {
	bug, err := svc.Store().GetBugByNumber(ctx, strings.TrimPrefix(number, "#"))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("bug not found: %s", number)
	}
	return bug, err
}

func bugIDs(ctx context.Context, svc *mutation.Service, numbers []string) ([]int64, error) {
	ids := make([]int64, 0, len(numbers))
	for _, n := range numbers {
		bug, err := lookupBug(ctx, svc, n)
		if err != nil {
			return nil, err
		}
		ids = append(ids, bug.ID)
	}
	return ids, nil
}

// fillSubmission applies the --priority and --assign flags.
func fillSubmission(ctx context.Context, svc *mutation.Service, sub *workflow.Submission) error {
	if bugPriority != "" {
		p, err := models.ParsePriority(bugPriority)
		if err != nil {
			return err
		}
		sub.Priority = p
	}
	if bugAssign != "" {
		u, err := svc.FindUser(ctx, bugAssign)
		if err != nil {
			return fmt.Errorf("user not found: %s", bugAssign)
		}
		sub.AssignTo = u
	}
	return nil
}

// submitWithFiles stages files, submits, then promotes the staged files
// under the bug's number. Staged files are discarded when the submission
// fails.
func submitWithFiles(ctx context.Context, svc *mutation.Service, user *models.User, bugID int64, sub workflow.Submission, paths []string) (*models.Action, error) {
	if len(paths) == 0 {
		return svc.Submit(ctx, user, bugID, sub)
	}

	files := attachment.New(viper.GetString("attachments.dir"))
	var keys []string
	for _, path := range paths {
		key, err := stageFile(files, path)
		if err != nil {
			files.Discard(keys)
			return nil, err
		}
		keys = append(keys, key)
	}
	sub.Attachments = keys

	action, err := svc.Submit(ctx, user, bugID, sub)
	if err != nil {
		files.Discard(keys)
		return nil, err
	}
	if err := files.Promote(action.Bug.Number(), keys); err != nil {
		return action, fmt.Errorf("store attachments: %w", err)
	}
	return action, nil
}

func stageFile(files *attachment.Store, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	return files.Stage(filepath.Base(path), f)
}

// timeAgo returns a human-readable duration from a time.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
