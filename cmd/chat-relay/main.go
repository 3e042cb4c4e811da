package main

import (
	"fmt"
	"os"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/chat-relay/cmd/chat-relay/cmds"
	"github.com/go-go-golems/chat-relay/pkg/config"
	"github.com/go-go-golems/chat-relay/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "chat-relay",
	Short: "chat-relay relays websocket chat sessions to a response engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger now that --log-level and co are parsed
		level, format := config.Logging(viper.GetViper())
		return logging.Init(level, format, os.Stderr)
	},
	SilenceUsage: true,
}

func main() {
	// adds --config and the logging flags, and reads the config file
	cobra.CheckErr(clay.InitViper("chat-relay", rootCmd))
	cobra.CheckErr(config.BindEnvironment(viper.GetViper()))

	serve, err := cmds.NewServeCommand(viper.GetViper())
	cobra.CheckErr(err)
	serveCmd, err := serve.BuildCobraCommand()
	cobra.CheckErr(err)

	rootCmd.AddCommand(serveCmd, cmds.NewClientCommand(), cmds.NewVersionCommand())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
