// Package apicmder provides the transcript API server cobra command.
package apicmder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/relay/api"
	"github.com/papercomputeco/relay/cmd/relay/serve/backend"
	"github.com/papercomputeco/relay/pkg/config"
	"github.com/papercomputeco/relay/pkg/logger"
)

type apiCommander struct {
	flags config.FlagSet
	viper *viper.Viper

	listen      string
	sqlitePath  string
	postgresDSN string

	debug  bool
	logger *slog.Logger
}

var apiFlags = []string{
	config.FlagAPIListenStandalone,
	config.FlagSQLite,
	config.FlagPostgres,
}

const apiLongDesc string = `Run the relay API server for listing and inspecting stored session transcripts.

The API must point at the same SQLite file or PostgreSQL database as the relay;
an in-memory store is only shared when both run under "relay serve".`

const apiShortDesc string = "Run the relay transcript API server"

func NewAPICmd() *cobra.Command {
	cmder := &apiCommander{
		flags: config.Registry,
	}

	cmd := &cobra.Command{
		Use:   "api",
		Short: apiShortDesc,
		Long:  apiLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, cmder.flags, apiFlags)
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

	config.AddStringFlag(cmd, cmder.flags, config.FlagAPIListenStandalone, &cmder.listen)
	config.AddStringFlag(cmd, cmder.flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, cmder.flags, config.FlagPostgres, &cmder.postgresDSN)

	return cmd
}

func (c *apiCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))

	driver, err := backend.NewStorageDriver(ctx, c.viper, c.logger)
	if err != nil {
		return err
	}
	defer driver.Close()

	server := api.NewServer(api.Config{
		ListenAddr: c.viper.GetString("api.listen"),
	}, driver, c.logger)

	return server.Run()
}
