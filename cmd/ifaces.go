package cmd

import (
	"fmt"

	pkgnet "github.com/matheuscscp/link-chat/pkg/net"

	"github.com/spf13/cobra"
)

var ifacesCmd = &cobra.Command{
	Use:   "ifaces",
	Short: "List physical network interfaces usable for chatting",
	RunE: func(cmd *cobra.Command, args []string) error {
		physical, err := pkgnet.PhysicalInterfaces()
		if err != nil {
			return err
		}
		if len(physical) == 0 {
			return fmt.Errorf("no physical network interfaces found")
		}
		for _, iface := range physical {
			fmt.Printf("%s\t%s\n", iface.Name, iface.HardwareAddr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ifacesCmd)
}
