// Command signoff runs the purchase approval engine as an HTTP service.
//
//	signoff serve --config signoff.yaml
//	signoff migrate
//	signoff version
//
// Every setting can also come from the environment with the SIGNOFF_
// prefix, e.g. SIGNOFF_STORE_DRIVER=postgres or SIGNOFF_HTTP_ADDR=:9090.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "signoff",
		Short:         "Durable human approval workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (*fileConfig, error) { return loadConfig(configPath) }
	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newVersionCmd(),
	)
	return root
}
