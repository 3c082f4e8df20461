package cmd

import (
	"fmt"

	"github.com/matheuscscp/link-chat/config"
	"github.com/matheuscscp/link-chat/layers/link"

	"github.com/spf13/cobra"
)

var segmentCmd = &cobra.Command{
	Use:   "segment <yaml-config-file>",
	Short: "Run an L2 switch between simulated wires so local nodes share a broadcast domain",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var conf link.SwitchConfig
		if err := config.ReadYAMLFileAndUnmarshal(args[0], &conf); err != nil {
			return fmt.Errorf("error reading yaml segment config file: %w", err)
		}

		ctx, cancel := contextWithCancelOnInterrupt(cmd.Context())
		defer cancel()
		wait, err := link.RunSwitch(ctx, conf)
		if err != nil {
			return err
		}

		wait()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(segmentCmd)
}
