// izctl is the bench companion for the gateway firmware: it provisions a
// device over its hotspot, reads the live telemetry document, follows the
// broker topics, sends control commands, and can drive an inverter directly
// over a USB serial adapter with the same protocol engine the firmware runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"inverterzone/gateway/version"
)

var (
	flagProfile string
	flagHost    string
	flagBroker  string
	flagBase    string
	flagDevice  string
)

var rootCmd = &cobra.Command{
	Use:   "izctl",
	Short: "Inverter gateway companion tool",
	Long: `izctl talks to inverterzone gateways from a workstation.

Connection settings come from flags, falling back to the profile file
(default ~/.config/izctl.yaml). A typical profile:

  host: 192.168.1.50
  broker: 192.168.1.2:1883
  device: aabbccddeeff
  serial_port: /dev/ttyUSB0

Provisioning a factory-fresh device:
  join the Solar_<MAC> hotspot, then
  izctl provision --host 192.168.4.1 "My Network" "hunter2"`,
	Version:       version.SWVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "profile file (default ~/.config/izctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagHost, "host", "", "gateway address for HTTP commands")
	rootCmd.PersistentFlags().StringVar(&flagBroker, "broker", "", "MQTT broker host:port")
	rootCmd.PersistentFlags().StringVar(&flagBase, "base", "", "topic base (default Realtime)")
	rootCmd.PersistentFlags().StringVar(&flagDevice, "device", "", "device id, the gateway MAC in lowercase hex")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
