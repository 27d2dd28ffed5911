package main

import (
	"fmt"
	"os"

	"github.com/nchat-go/nchat/cmd/nchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
