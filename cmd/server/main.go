// Command server runs the support chat backend: the websocket and admin
// HTTP server, the background worker and a few maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	seedFlag string

	rootCmd = &cobra.Command{
		Use:          "supportbot",
		Short:        "Customer support chat backend",
		Version:      version,
		SilenceUsage: true,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVar(&seedFlag, "seed", "", "YAML file of lookup records to load before starting")

	rootCmd.AddCommand(serveCmd(), workerCmd(), seedCmd(), tasksCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
