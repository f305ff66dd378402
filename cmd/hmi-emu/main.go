// Package main is the entry point for hmi-emu, an operator panel emulator
// that polls a controller's parameters over Modbus and serves them to UI
// collaborators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	serviceName    = "hmi-emu"
	serviceVersion = "1.0.0"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "hmi-emu [host:port]",
	Short: "Operator panel emulator for a Modbus controller",
	Long: `hmi-emu connects to a controller over Modbus/TCP, polls every parameter of
the specification file twice a second, logs each poll to a JSON lines file and
serves on-demand loads and saves to the HTTP and MQTT collaborators.

Examples:
  # Poll the default device with specs.json from the working directory
  hmi-emu

  # Poll another device
  hmi-emu 10.0.0.5:502 --specs plant.json

  # Show how the parameters are read
  hmi-emu ranges --specs plant.json`,
	Version:      serviceVersion,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         runService,
}

var rangesCmd = &cobra.Command{
	Use:   "ranges",
	Short: "Print the coalesced read ranges for the specification file",
	Args:  cobra.NoArgs,
	RunE:  printRanges,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./config.yaml)")
	flags.String("specs", "", "parameter specification file (default: specs.json)")
	flags.String("log-level", "", "log level: trace, debug, info, warn, error")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("parameters.file", flags.Lookup("specs"))
	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(rangesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
