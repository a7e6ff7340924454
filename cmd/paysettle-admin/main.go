package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/paysettle/internal/pkg/bootstrap"
	"github.com/ManuelReschke/paysettle/internal/pkg/cache"
	"github.com/ManuelReschke/paysettle/internal/pkg/database"
	"github.com/ManuelReschke/paysettle/internal/pkg/env"
)

var Version = "dev"

func main() {
	rootCmd := newRootCmd(func() (*console, error) {
		env.SetupEnvFile()
		database.SetupDatabase()
		cache.SetupCache()
		settle := bootstrap.NewSettlement(database.GetDB(), cache.GetClient())
		return &console{
			svc:      settle.Service,
			outcomes: settle.Outcomes,
			minAge:   bootstrap.SweepMinAge(),
		}, nil
	})

	err := rootCmd.Execute()
	cache.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(connect func() (*console, error)) *cobra.Command {
	var con *console

	rootCmd := &cobra.Command{
		Use:           "paysettle-admin",
		Short:         "Reconcile payments that never produced a gateway callback",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			con = c
			return nil
		},
	}
	rootCmd.PersistentFlags().String("actor", defaultActor(), "Name recorded with manual actions")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output as JSON")

	get := func() *console { return con }
	rootCmd.AddCommand(markPaidCmd(get))
	rootCmd.AddCommand(cancelCmd(get))
	rootCmd.AddCommand(showCmd(get))
	rootCmd.AddCommand(pendingCmd(get))
	rootCmd.AddCommand(sweepCmd(get))
	rootCmd.AddCommand(outcomesCmd(get))

	return rootCmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}
