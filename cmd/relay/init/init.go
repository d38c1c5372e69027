// Package initcmder provides the init command for initializing a local .relay
// directory in the current working directory.
package initcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/relay/pkg/config"
)

const (
	dirName    = ".relay"
	configFile = "config.toml"

	presetFetchTimeout = 10 * time.Second
	maxPresetSize      = 1 << 20
)

const initLongDesc string = `Initialize a new .relay/ directory in the current working directory.

Creates a local .relay/ directory, with a config.toml holding default values,
that takes precedence over ~/.relay/ for configuration and the saved chat
conversation.

Use --preset to start from a known upstream instead of the defaults. A preset
is either a built-in name (openrouter, openai, ollama) or an http(s) URL
serving a config.toml. Re-running init with --preset overwrites config.toml.

Examples:
  relay init
  relay init --preset ollama
  relay init --preset https://example.com/relay/config.toml`

const initShortDesc string = "Initialize a local .relay/ directory"

type initCommander struct {
	preset string
}

func NewInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return cmder.run(ctx, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cmder.preset, "preset", "",
		fmt.Sprintf("Config preset: one of %s, or an http(s) URL to a config.toml", strings.Join(config.ValidPresetNames(), ", ")))

	return cmd
}

func (c *initCommander) run(ctx context.Context, out io.Writer) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)
	path := filepath.Join(dir, configFile)

	_, statErr := os.Stat(path)
	configExists := statErr == nil

	if configExists && c.preset == "" {
		fmt.Fprintf(out, "Already initialized: %s\n", dir)
		return nil
	}

	// Resolve the config before touching the filesystem so a bad preset
	// leaves no half-initialized directory behind.
	cfg, err := c.resolveConfig(ctx)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .relay directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfger.SaveConfig(cfg); err != nil {
		return err
	}

	if c.preset != "" {
		fmt.Fprintf(out, "Initialized .relay directory with preset %q: %s\n", c.preset, dir)
	} else {
		fmt.Fprintf(out, "Initialized .relay directory: %s\n", dir)
	}
	return nil
}

func (c *initCommander) resolveConfig(ctx context.Context) (*config.Config, error) {
	switch {
	case c.preset == "":
		return config.NewDefaultConfig(), nil
	case strings.HasPrefix(c.preset, "http://"), strings.HasPrefix(c.preset, "https://"):
		return fetchPreset(ctx, c.preset)
	default:
		return config.PresetConfig(c.preset)
	}
}

// fetchPreset downloads and parses a config.toml from url.
func fetchPreset(ctx context.Context, url string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, presetFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating preset request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching preset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching preset: %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPresetSize))
	if err != nil {
		return nil, fmt.Errorf("reading preset: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("fetching preset: empty response")
	}

	cfg, err := config.ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Version == 0 {
		cfg.Version = config.CurrentV
	}
	return cfg, nil
}
