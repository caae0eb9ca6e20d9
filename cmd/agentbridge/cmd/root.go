// Package cmd wires the agentbridge command-line entrypoint: flag parsing,
// config loading, and logging, the way the teacher's own k6 root command
// does (spf13/cobra + spf13/viper).
package cmd

import (
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/verdexhq/agentbridge/internal/cdplog"
)

var (
	cfgFile    string
	wsEndpoint string
	verbose    bool
	noColor    bool
)

// RootCmd is the base command when agentbridge is called without a
// subcommand.
var RootCmd = &cobra.Command{
	Use:   "agentbridge",
	Short: "Coordinates a remote-debugging-protocol browser as an LLM agent's structured automation surface",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("verbose") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if viper.GetBool("no-color") {
			color.NoColor = true
		}
	},
}

// Execute runs the root command; it is the sole entrypoint called from main.
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "identities config file (yaml)")
	RootCmd.PersistentFlags().StringVar(&wsEndpoint, "ws-endpoint", "", "browser debugger websocket endpoint")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	RootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored CLI output")
	if err := viper.BindPFlags(RootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	RootCmd.AddCommand(serveCmd)
}

func initConfig() {
	viper.SetEnvPrefix("agentbridge")
	viper.AutomaticEnv()
}

func newLogger() *cdplog.Logger {
	level := logrus.InfoLevel
	if viper.GetBool("verbose") {
		level = logrus.DebugLevel
	}
	return cdplog.New(nil, level)
}
