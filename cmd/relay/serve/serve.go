// Package servecmder provides the serve command with subcommands for running services.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/api"
	apicmder "github.com/papercomputeco/relay/cmd/relay/serve/api"
	"github.com/papercomputeco/relay/cmd/relay/serve/backend"
	relayservecmder "github.com/papercomputeco/relay/cmd/relay/serve/relay"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/relay"
)

type ServeCommander struct {
	flags config.FlagSet
	viper *viper.Viper

	relayListen  string
	apiListen    string
	upstream     string
	apiKey       string
	pacing       string
	guestQuota   uint
	sqlitePath   string
	postgresDSN  string
	kafkaBrokers string
	kafkaTopic   string

	debug  bool
	logger *slog.Logger
}

var serveFlags = []string{
	config.FlagRelayListen,
	config.FlagAPIListen,
	config.FlagUpstream,
	config.FlagAPIKey,
	config.FlagPacing,
	config.FlagGuestQuota,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

const serveLongDesc string = `Run relay services.

Use subcommands to run individual services or all services together:
  relay serve          Run both the relay and the API server together
  relay serve api      Run just the transcript API server
  relay serve relay    Run just the relay server

Settings come from flags, then RELAY_ environment variables, then
config.toml in the .relay/ directory. OPENROUTER_API_KEY is honoured as the
upstream credential. Changes to relay.pacing in config.toml apply to new
sessions without a restart.`

const serveShortDesc string = "Run relay services"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{
		flags: config.Registry,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, cmder.flags, serveFlags)
			cmder.viper = v
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, cmder.flags, config.FlagRelayListen, &cmder.relayListen)
	config.AddStringFlag(cmd, cmder.flags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, cmder.flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, cmder.flags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, cmder.flags, config.FlagPacing, &cmder.pacing)
	config.AddUintFlag(cmd, cmder.flags, config.FlagGuestQuota, &cmder.guestQuota)
	config.AddStringFlag(cmd, cmder.flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, cmder.flags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringFlag(cmd, cmder.flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, cmder.flags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	cmd.AddCommand(apicmder.NewAPICmd())
	cmd.AddCommand(relayservecmder.NewRelayCmd())

	return cmd
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))

	// Create shared storage and publisher
	driver, err := backend.NewStorageDriver(ctx, c.viper, c.logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	publisher, err := backend.NewPublisher(c.viper, c.logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	// Create relay
	relayConfig, err := backend.RelayConfig(c.viper)
	if err != nil {
		return err
	}
	r, err := relay.New(relayConfig, driver, publisher, c.logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	defer r.Close()

	backend.WatchPacing(c.viper, r, c.logger)

	// Create API server
	apiServer := api.NewServer(api.Config{
		ListenAddr: c.viper.GetString("api.listen"),
	}, driver, c.logger)
	defer apiServer.Shutdown()

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := r.Run(); err != nil {
			errChan <- fmt.Errorf("relay error: %w", err)
		}
	}()

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
		return nil
	}
}
