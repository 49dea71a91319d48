package main

import (
	"os"

	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"

	"github.com/go-i2p/go-tunnelmsg/lib/config"
)

var log = logger.GetGoI2PLogger()

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tunnelmsg",
		Short:         "Layered tunnel messages, fragmentation and relaying",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.InitConfig()
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default $HOME/.go-tunnelmsg/config.yaml)")
	root.AddCommand(newSimulateCommand(), newRelayCommand(), newConfigCommand())
	return root
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := config.EffectiveYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Error("tunnelmsg failed")
		os.Exit(1)
	}
}
