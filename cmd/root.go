package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/buggy/internal/logging"
	"github.com/joescharf/buggy/internal/markdown"
	"github.com/joescharf/buggy/internal/models"
	"github.com/joescharf/buggy/internal/mutation"
	"github.com/joescharf/buggy/internal/notify"
	"github.com/joescharf/buggy/internal/output"
	"github.com/joescharf/buggy/internal/store"
	"github.com/joescharf/buggy/internal/workflow"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	service   *mutation.Service

	verbose bool
	dryRun  bool
	asUser  string
)

var rootCmd = &cobra.Command{
	Use:   "buggy",
	Short: "Buggy - a small bug tracker",
	Long: `buggy tracks bugs through a fixed workflow: new, entrusted, resolved,
verified, live and closed. Every change is an append-only action on the bug.

Run 'buggy serve' for the REST API and GitHub webhook, 'buggy mcp' for the
MCP stdio server, or use the subcommands below directly.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// reportError prints every validation message on its own line.
func reportError(err error) {
	var verr *workflow.ValidationError
	if errors.As(err, &verr) && ui != nil {
		ui.Errors(verr.Messages)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().StringVar(&asUser, "as", "", "Act as this user (username or email); overrides the `user` config key")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/buggy/config.yaml)")
}

func initConfig() {
	// .env never overrides variables already set in the environment.
	_ = godotenv.Load()

	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BUGGY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	defaultConfigDir, _ := configDirFunc()
	setDefaults(defaultConfigDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	if err := logging.Init(logging.Options{Verbose: verbose, Dir: viper.GetString("log.dir")}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	// The store is opened lazily so config/version run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getService returns the shared mutation service with notifications wired.
func getService() (*mutation.Service, error) {
	if service != nil {
		return service, nil
	}
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	service = mutation.NewService(s, newNotifier(s), log.Logger)
	return service, nil
}

// newNotifier mails through SMTP when mail.host is set and logs otherwise.
func newNotifier(s store.Store) *notify.Dispatcher {
	baseURL := viper.GetString("mail.base_url")
	var mailer notify.Mailer
	if host := viper.GetString("mail.host"); host != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     host,
			Port:     viper.GetInt("mail.port"),
			Username: viper.GetString("mail.username"),
			Password: viper.GetString("mail.password"),
			From:     viper.GetString("mail.from"),
		})
	} else {
		mailer = notify.NewLogMailer(log.Logger)
	}
	return notify.NewDispatcher(mailer, markdown.New(s, baseURL), baseURL, log.Logger)
}

// actingUser resolves --as or the `user` config key to an active user.
func actingUser(ctx context.Context, svc *mutation.Service) (*models.User, error) {
	ident := asUser
	if ident == "" {
		ident = viper.GetString("user")
	}
	if ident == "" {
		return nil, fmt.Errorf("no acting user: pass --as or set `user` in the config (BUGGY_USER)")
	}
	u, err := svc.FindUser(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", ident, err)
	}
	if !u.IsActive {
		return nil, fmt.Errorf("user %q is not active", ident)
	}
	return u, nil
}
