package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/launchbox/launchbox/internal/bridge"
	"github.com/launchbox/launchbox/internal/config"
	"github.com/launchbox/launchbox/internal/logging"
	"github.com/launchbox/launchbox/internal/remote"
	"github.com/spf13/cobra"
)

func newEmulateCmd(cfgPath *string) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "emulate",
		Short: "Mirror a remote board in the terminal",
		Long: `Connects to a running launchbox service and prints every hardware change.
Type "press <red|yellow|green|blue|main>" or "switch <0-255>" to send input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if url == "" {
				url = cfg.Emulator.URL
			}
			logger, _ := logging.New(logging.Cfg{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
			defer logger.Sync()

			out := cmd.OutOrStdout()
			client := remote.NewClient(url, cfg.Emulator.ReconnectDelay, logger.Named("emulator"),
				func(event string, st bridge.InitialState) {
					if event == bridge.EventAck {
						return
					}
					fmt.Fprintf(out, "%-16s %s\n", event, remote.Format(st))
				})

			go func() {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					line := strings.TrimSpace(sc.Text())
					if line == "" {
						continue
					}
					c, err := remote.ParseInput(line)
					if err == nil {
						err = client.Send(c)
					}
					if err != nil {
						fmt.Fprintln(os.Stderr, err)
					}
				}
			}()
			return client.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "websocket url of the service (default from config)")
	return cmd
}
