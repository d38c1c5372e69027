// Package relayservecmder provides the relay server command.
package relayservecmder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/cmd/relay/serve/backend"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/logger"
	"github.com/papercomputeco/relay/relay"
)

type relayCommander struct {
	flags config.FlagSet
	viper *viper.Viper

	listen       string
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

var relayFlags = []string{
	config.FlagRelayListenStandalone,
	config.FlagUpstream,
	config.FlagAPIKey,
	config.FlagPacing,
	config.FlagGuestQuota,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

const relayLongDesc string = `Run the relay server.

The relay accepts chat completion requests, opens a streaming request to the
configured upstream, removes duplicated and overlapping fragments, and sends
the text back as "message" events followed by exactly one "done" or "error"
event. Finished sessions are stored as transcripts and, when Kafka brokers
are configured, announced as session events.`

const relayShortDesc string = "Run the relay server"

func NewRelayCmd() *cobra.Command {
	cmder := &relayCommander{
		flags: config.Registry,
	}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: relayShortDesc,
		Long:  relayLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, cmder.flags, relayFlags)
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

	config.AddStringFlag(cmd, cmder.flags, config.FlagRelayListenStandalone, &cmder.listen)
	config.AddStringFlag(cmd, cmder.flags, config.FlagUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, cmder.flags, config.FlagAPIKey, &cmder.apiKey)
	config.AddStringFlag(cmd, cmder.flags, config.FlagPacing, &cmder.pacing)
	config.AddUintFlag(cmd, cmder.flags, config.FlagGuestQuota, &cmder.guestQuota)
	config.AddStringFlag(cmd, cmder.flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, cmder.flags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringFlag(cmd, cmder.flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, cmder.flags, config.FlagKafkaTopic, &cmder.kafkaTopic)

	return cmd
}

func (c *relayCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))

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

	errChan := make(chan error, 1)
	go func() {
		if err := r.Run(); err != nil {
			errChan <- err
		}
	}()

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
