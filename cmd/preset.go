package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/output"
	"github.com/joescharf/buggy/internal/store"
)

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage your saved bug-list filters",
	Long: `Saved filters are bug-list queries stored under a name, for example

  buggy preset add mine "/bugs?assigned_to=ada&state=new,entrusted"
  buggy bug list --preset mine`,
}

var presetAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Save a filter",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return presetAddRun(args[0], args[1])
	},
}

var presetListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List your saved filters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return presetListRun()
	},
}

var presetRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a saved filter",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return presetRemoveRun(args[0])
	},
}

func init() {
	presetCmd.AddCommand(presetAddCmd)
	presetCmd.AddCommand(presetListCmd)
	presetCmd.AddCommand(presetRemoveCmd)
	rootCmd.AddCommand(presetCmd)
}

func presetAddRun(name, rawURL string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	user, err := actingUser(ctx, svc)
	if err != nil {
		return err
	}
	if _, err := url.Parse(rawURL); err != nil {
		return fmt.Errorf("invalid preset url: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would save preset %s", name)
		return nil
	}

	p := &models.PresetFilter{UserID: user.ID, Name: name, URL: rawURL}
	err = svc.Store().CreatePreset(ctx, p)
	if errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("you already have a preset named %q", name)
	}
	if err != nil {
		return err
	}
	ui.Success("Saved preset: %s", output.Cyan(name))
	return nil
}

func presetListRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	user, err := actingUser(ctx, svc)
	if err != nil {
		return err
	}
	presets, err := svc.Store().ListPresets(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(presets) == 0 {
		ui.Info("No saved presets.")
		return nil
	}

	table := ui.Table([]string{"Name", "URL"})
	for _, p := range presets {
		_ = table.Append([]string{output.Cyan(p.Name), p.URL})
	}
	_ = table.Render()
	return nil
}

func presetRemoveRun(name string) error {
	svc, err := getService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	user, err := actingUser(ctx, svc)
	if err != nil {
		return err
	}
	presets, err := svc.Store().ListPresets(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, p := range presets {
		if p.Name != name {
			continue
		}
		if dryRun {
			ui.DryRunMsg("Would delete preset %s", name)
			return nil
		}
		if err := svc.Store().DeletePreset(ctx, user.ID, p.ID); err != nil {
			return err
		}
		ui.Success("Deleted preset: %s", output.Cyan(name))
		return nil
	}
	return fmt.Errorf("preset not found: %s", name)
}
