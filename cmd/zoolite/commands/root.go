// Package commands implements the zoolite command-line entrypoint: a
// cobra-based CLI around the facade wired together in serve.go.
package commands

import (
	"github.com/spf13/cobra"
)

// Version, Commit, and Date are set by main via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "zoolite",
	Short: "zoolite is a hierarchical lock-based coordination service",
	Long: `zoolite is a coordination service in the spirit of ZooKeeper: a
hierarchical, path-addressed namespace of entries protected by
read/write locks, sessions with lease-based liveness, and a local cache
kept coherent by invalidation rather than polling.

Use --config to point at a configuration file, or it will use the
default location at $XDG_CONFIG_HOME/zoolite/config.yaml.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/zoolite/config.yaml)")
}

// GetConfigFile returns the --config flag value supplied on the command
// line, or the empty string if it was not set.
func GetConfigFile() string {
	return configFile
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
