// Command mqttrelay runs an MQTT 3.1.1 broker relaying publishes to
// exact-match topic subscribers, retrying QoS 1 deliveries until they
// are acknowledged.
//
// Usage:
//
//	mqttrelay serve [--config mqttrelay.yaml]
//	mqttrelay version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "mqttrelay",
	Short:         "MQTT 3.1.1 relay broker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "mqttrelay", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
