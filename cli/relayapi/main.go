package main

import (
	"os"

	apicmder "github.com/papercomputeco/relay/cmd/relay/serve/api"
)

func main() {
	cmd := apicmder.NewAPICmd()
	cmd.Use = "relayapi"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .relay/ config directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
