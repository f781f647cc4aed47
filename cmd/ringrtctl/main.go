// Command ringrtctl is the small operator CLI spec.md §6 names: a
// cobra command tree over the ringrt runtime, with viper layering flags
// over environment variables over an optional config file, the way
// jkilzi-assisted-migration-agent wires its own cobra/viper tree (its
// actual cobra call sites could not be located in the retrieval pack
// beyond its go.mod require block — see DESIGN.md).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ringrtctl",
		Short: "Operate and smoke-test a ringrt runtime",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.ringrtctl.yaml)")
	root.PersistentFlags().Uint32("ring-entries", 256, "io_uring submission queue depth")
	root.PersistentFlags().Int("fiber-pool-cap", 0, "idle fiber pool capacity (0 = runtime default)")
	root.PersistentFlags().Bool("debug", false, "enable verbose structured logging")

	for _, name := range []string{"ring-entries", "fiber-pool-cap", "debug"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	root.AddCommand(newBenchCmd())
	return root
}

func initConfig(cmd *cobra.Command) error {
	viper.SetEnvPrefix("ringrtctl")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".ringrtctl")
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return err
		}
	}

	return nil
}
