package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/covm/covm/pkg/config"
)

func main() {
	// A missing or unreadable config file is not fatal: the CLI falls back
	// to its own flag defaults, with config only supplying overrides when
	// present.
	cfg, err := config.LoadFromEnv()
	if err != nil {
		cfg = &config.Config{}
	}

	rootCmd := &cobra.Command{Use: "covm"}
	rootCmd.AddCommand(runCmd(cfg))
	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(serveCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
