package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nchat-go/nchat/internal/config"
	"github.com/nchat-go/nchat/internal/log"
	"github.com/nchat-go/nchat/pkg/nchat/cache"
	"github.com/nchat-go/nchat/pkg/nchat/message"
	"github.com/nchat-go/nchat/pkg/nchat/profile"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <profileId>",
		Short: "Export a profile's cached chat history to plain text files",
		Long: `Writes one <chatId>.txt file per chat known to the profile's cache,
each line formatted as "[YYYY-MM-DD HH:MM:SS] sender: text" in time order.
Does not touch the network: only what is already cached is exported.`,
		Args: cobra.ExactArgs(1),
		RunE: runExport,
	}
	cmd.Flags().String("out", ".", "directory to write exported chats into")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := log.New(log.Options{Format: cfg.Logging.Format, Debug: verbose || cfg.Logging.Level == "debug"})

	profileDir, err := config.ResolveProfileDir(cfg)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	store, err := profile.Open(profileDir, false)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	id := message.ProfileId(args[0])
	dir, err := store.ProfileDir(id)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	c, err := cache.Open(dir, id, logger)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer c.Close()

	if err := c.Export(out); err != nil {
		return fmt.Errorf("export: %w", err)
	}

	fmt.Printf("Exported %s to %s\n", id, out)
	return nil
}
