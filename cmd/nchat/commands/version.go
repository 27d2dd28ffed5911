package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nchat version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println("nchat " + version)
		},
	}
}
