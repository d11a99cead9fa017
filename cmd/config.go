package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "buggy"), nil
}

// setting is one config key. Defaults that depend on the config directory
// are computed by def.
type setting struct {
	key    string
	help   string
	secret bool
	def    func(dir string) any
}

func fixed(v any) func(string) any { return func(string) any { return v } }

var settings = []setting{
	{key: "state_dir", help: "State/data directory", def: func(dir string) any { return dir }},
	{key: "db_path", help: "SQLite database path", def: func(dir string) any { return filepath.Join(dir, "buggy.db") }},
	{key: "user", help: "Acting user for CLI commands and the MCP server (username or email)", def: fixed("")},
	{key: "port", help: "HTTP port for 'buggy serve'", def: fixed(8080)},
	{key: "webhook.secret", help: "Shared secret of the GitHub push webhook; the route is off while empty", secret: true, def: fixed("")},
	{key: "attachments.dir", help: "Attachments are stored under <dir>/attachments/<bug number>/", def: func(dir string) any { return dir }},
	{key: "log.dir", help: "Also write a rotating log file to this directory", def: fixed("")},
	{key: "mail.host", help: "SMTP relay; notification mails are only logged while empty", def: fixed("")},
	{key: "mail.port", def: fixed(587)},
	{key: "mail.username", def: fixed("")},
	{key: "mail.password", secret: true, def: fixed("")},
	{key: "mail.from", def: fixed("buggy@localhost")},
	{key: "mail.base_url", help: "Prefix of bug links in mails and rendered comments", def: fixed("http://localhost:8080")},
	{key: "anthropic.api_key", help: "Falls back to ANTHROPIC_API_KEY", secret: true, def: fixed("")},
	{key: "anthropic.model", help: "Model used by 'buggy bug import'", def: fixed("claude-haiku-4-5-20251001")},
}

// setDefaults registers every setting's default for config directory dir.
func setDefaults(dir string) {
	for _, s := range settings {
		viper.SetDefault(s.key, s.def(dir))
	}
}

// envVar is the environment variable that overrides key.
func envVar(key string) string {
	return "BUGGY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage buggy configuration.

Running bare 'buggy config' is the same as 'buggy config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write config.yaml with the current values and a comment per key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configEditCmd)
	rootCmd.AddCommand(configCmd)
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// renderConfig builds config.yaml from the effective values. Secrets are
// written empty so the file can be shared; set them through the environment.
func renderConfig() ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	root := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "buggy configuration\nSee: buggy config show (for effective values and sources)",
		Content:     []*yaml.Node{doc},
	}

	sections := map[string]*yaml.Node{}
	for _, s := range settings {
		parent, name := doc, s.key
		if section, leaf, ok := strings.Cut(s.key, "."); ok {
			if sections[section] == nil {
				sections[section] = &yaml.Node{Kind: yaml.MappingNode}
				doc.Content = append(doc.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: section}, sections[section])
			}
			parent, name = sections[section], leaf
		}

		var value yaml.Node
		v := viper.Get(s.key)
		if s.secret {
			v = ""
		}
		if err := value.Encode(v); err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.key, err)
		}
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: name, HeadComment: s.help}
		if s.secret {
			keyNode.LineComment = "or " + envVar(s.key)
		}
		parent.Content = append(parent.Content, keyNode, &value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data, err := renderConfig()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintf(ui.Out, "\n%s", data)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintf(ui.Out, "\n%s", data)
	return nil
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	inFile := fileKeys(cfgPath)
	for _, s := range settings {
		val := fmt.Sprint(viper.Get(s.key))
		if s.secret && val != "" {
			val = "********"
		}
		fmt.Fprintf(ui.Out, "  %-18s %-36s (%s)\n", s.key, val, detectSource(s.key, envVar(s.key), inFile))
	}
	return nil
}

// fileKeys returns the dotted keys set in the YAML file at path. A missing
// or unparsable file yields an empty set.
func fileKeys(path string) map[string]bool {
	keys := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return keys
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return keys
	}
	collectKeys("", doc.Content[0], keys)
	return keys
}

func collectKeys(prefix string, n *yaml.Node, keys map[string]bool) {
	if n.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if prefix != "" {
			key = prefix + "." + key
		}
		if v := n.Content[i+1]; v.Kind == yaml.MappingNode {
			collectKeys(key, v, keys)
		} else {
			keys[key] = true
		}
	}
}

// detectSource reports where a config value comes from.
func detectSource(key, env string, inFile map[string]bool) string {
	if _, ok := os.LookupEnv(env); ok {
		return fmt.Sprintf("env: %s", env)
	}
	if inFile[key] {
		return "file"
	}
	return "default"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'buggy config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin, editCmd.Stdout, editCmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	return editCmd.Run()
}
