// Package relaycmder
package relaycmder

import (
	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/relay/cmd/relay/chat"
	configcmder "github.com/papercomputeco/relay/cmd/relay/config"
	initcmder "github.com/papercomputeco/relay/cmd/relay/init"
	servecmder "github.com/papercomputeco/relay/cmd/relay/serve"
	versioncmder "github.com/papercomputeco/relay/cmd/version"
)

const relayLongDesc string = `Relay streams chat completions from an upstream provider to your clients,
removing the repeated text some providers send as a stream goes on.

Run services using:
  relay serve relay    Run the relay server
  relay serve api      Run the transcript API server
  relay serve          Run both servers together

Talk to a running relay using:
  relay chat`

const relayShortDesc string = "Relay - de-duplicating completion streams"

func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        relayShortDesc,
		Long:         relayLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(chatcmder.NewChatCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
