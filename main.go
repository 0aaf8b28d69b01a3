package main

import (
	"fmt"
	"os"

	"github.com/tphakala/storefront/cmd"
	"github.com/tphakala/storefront/internal/conf"
)

func main() {
	settings := &conf.Settings{}
	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
