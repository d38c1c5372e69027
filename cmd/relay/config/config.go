// Package configcmder provides the config command for managing persistent
// relay configuration stored in the .relay/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/cliui"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/dotdir"
)

const configLongDesc string = `Manage persistent relay configuration.

Configuration is stored as config.toml in the .relay/ directory and provides
default values for command flags. CLI flags and RELAY_* environment variables
always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  upstream.url, upstream.api_key, upstream.referer, upstream.title,
  upstream.connect_timeout, upstream.read_timeout,
  relay.listen, relay.pacing, relay.guest_quota,
  api.listen, storage.sqlite_path, storage.postgres_dsn,
  events.kafka_brokers, events.kafka_topic,
  client.relay_target, client.api_target

Use subcommands to get, set, or list configuration values:
  relay config set <key> <value>    Set a configuration value
  relay config get <key>            Get a configuration value
  relay config list                 List all configuration values

Examples:
  relay config set relay.pacing 25ms
  relay config set upstream.api_key sk-or-...
  relay config get relay.pacing
  relay config list`

const configShortDesc string = "Manage persistent relay configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func unknownKeyError(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

// displayValue masks secret keys so credentials never reach the terminal.
func displayValue(key, value string) string {
	if config.IsSecretConfigKey(key) {
		return config.MaskSecret(value)
	}
	return value
}

func printTarget(w io.Writer, target string) {
	if target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}

// writableConfiger resolves a Configer that can be saved to, creating
// ~/.relay/ when no directory exists yet.
func writableConfiger(configDir string) (*config.Configer, error) {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, err
	}
	if cfger.GetTarget() != "" {
		return cfger, nil
	}

	dir, err := dotdir.NewManager().Ensure(configDir)
	if err != nil {
		return nil, err
	}
	return config.NewConfiger(dir)
}
