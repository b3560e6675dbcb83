package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Load receipt, sale and transaction lookup records from YAML",
		Long: `Load the lookup records answered by the chat from a YAML file with
"receipt", "sales" and "transaction" lists. Records already present are
skipped, so the command can be run repeatedly.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, "seed")
			if err != nil {
				return err
			}
			defer a.Close()

			path := a.cfg.SeedFile
			if len(args) == 1 {
				path = args[0]
			}
			n, err := a.seed(ctx, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d lookup records from %s\n", n, path)
			return nil
		},
	}
}
