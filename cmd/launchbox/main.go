package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/launchbox/config.yaml"

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfgPath := os.Getenv("LAUNCHBOX_CONFIG")
	if cfgPath == "" {
		cfgPath = defaultConfigPath
	}
	root := &cobra.Command{
		Use:           "launchbox",
		Short:         "Launchbox hardware service",
		Long:          `Launchbox drives the button, switch, LED, display and screen board and mirrors it to remote emulators.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "config file")
	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newEmulateCmd(&cfgPath))
	return root
}
