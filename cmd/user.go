package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/output"
)

var (
	userName  string
	userEmail string
	userAll   bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
	Long:  "Add, list, activate and deactivate the people who file and fix bugs.",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun(args[0])
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userDeactivateCmd = &cobra.Command{
	Use:   "deactivate <username>",
	Short: "Deactivate a user; they can no longer act or be assigned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userSetActiveRun(args[0], false)
	},
}

var userActivateCmd = &cobra.Command{
	Use:   "activate <username>",
	Short: "Reactivate a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userSetActiveRun(args[0], true)
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email; used for notifications and to match commit authors")
	userListCmd.Flags().BoolVar(&userAll, "all", false, "Include inactive users")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userDeactivateCmd)
	userCmd.AddCommand(userActivateCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun(username string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if dryRun {
		ui.DryRunMsg("Would add user: %s", username)
		return nil
	}

	u := &models.User{Username: username, Name: userName, Email: userEmail, IsActive: true}
	if err := s.CreateUser(ctx, u); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	ui.Success("Added user: %s", output.Cyan(u.Username))
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	users, err := s.ListUsers(context.Background(), !userAll)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		ui.Info("No users yet. Use 'buggy user add <username>' to get started.")
		return nil
	}

	table := ui.Table([]string{"Username", "Name", "Email", "Status"})
	for _, u := range users {
		_ = table.Append([]string{output.Cyan(u.Username), u.Name, u.Email, output.Status(u.IsActive, "inactive")})
	}
	_ = table.Render()
	return nil
}

func userSetActiveRun(username string, active bool) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	u, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("user not found: %s", username)
	}
	u.IsActive = active

	if dryRun {
		ui.DryRunMsg("Would set %s active=%t", username, active)
		return nil
	}
	if err := s.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	ui.Success("Updated user: %s", output.Cyan(u.Username))
	return nil
}
