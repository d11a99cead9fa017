package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/output"
	"github.com/joescharf/buggy/internal/store"
)

var projectAll bool

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long:  "Add, list, rename and retire the projects bugs are filed against.",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectAddRun(args[0])
	},
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectListRun()
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <name> <new-name>",
	Short: "Rename a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectUpdateRun(args[0], func(p *models.Project) { p.Name = args[1] })
	},
}

var projectRetireCmd = &cobra.Command{
	Use:   "retire <name>",
	Short: "Retire a project; no new bugs can be filed against it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectUpdateRun(args[0], func(p *models.Project) { p.IsActive = false })
	},
}

var projectActivateCmd = &cobra.Command{
	Use:   "activate <name>",
	Short: "Bring a retired project back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return projectUpdateRun(args[0], func(p *models.Project) { p.IsActive = true })
	},
}

func init() {
	projectListCmd.Flags().BoolVar(&projectAll, "all", false, "Include retired projects")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRenameCmd)
	projectCmd.AddCommand(projectRetireCmd)
	projectCmd.AddCommand(projectActivateCmd)
	rootCmd.AddCommand(projectCmd)
}

func projectAddRun(name string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would add project: %s", name)
		return nil
	}

	p := &models.Project{Name: name, IsActive: true}
	if err := s.CreateProject(ctx, p); err != nil {
		return fmt.Errorf("add project: %w", err)
	}
	ui.Success("Added project: %s", output.Cyan(p.Name))
	return nil
}

func projectListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	projects, err := s.ListProjects(ctx, !projectAll)
	if err != nil {
		return err
	}
	if len(projects) == 0 {
		ui.Info("No projects yet. Use 'buggy project add <name>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Name", "Status", "Open Bugs"})
	for _, p := range projects {
		bugs, _ := s.ListBugs(ctx, store.BugListFilter{ProjectIDs: []string{p.ID}, States: models.DefaultListStates()})
		_ = table.Append([]string{
			output.Cyan(p.Name),
			output.Status(p.IsActive, "retired"),
			fmt.Sprintf("%d", len(bugs)),
		})
	}
	_ = table.Render()
	return nil
}

func projectUpdateRun(name string, change func(*models.Project)) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	p, err := s.GetProjectByName(ctx, name)
	if err != nil {
		return fmt.Errorf("project not found: %s", name)
	}
	change(p)

	if dryRun {
		ui.DryRunMsg("Would update project %s", name)
		return nil
	}
	if err := s.UpdateProject(ctx, p); err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	ui.Success("Updated project: %s", output.Cyan(p.Name))
	return nil
}
