// Package commands implements the nchat CLI: serve (the interactive
// terminal chat client), setup (register a new profile), export (dump a
// profile's cached history to one text file per chat), and version.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nchat-go/nchat/internal/config"
)

// NewRootCmd builds the top-level `nchat` cobra command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nchat",
		Short: "Terminal-based multi-protocol chat client",
		Long: `nchat talks to Telegram and WhatsApp from the terminal through a single
message cache, so chat history loads instantly on repeat visits instead of
re-fetching from the network every time.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", defaultConfigPath(), "path to config.yaml")
	cmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "nchat", "config.yaml")
}

// resolveConfig loads the config named by the --config flag, falling back
// to defaults when it doesn't exist yet (first run).
func resolveConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
