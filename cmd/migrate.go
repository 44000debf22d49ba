package main

import (
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/config"
)

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Store.Driver == config.DriverMemory {
				c.log.Info("memory store has no schema")
				return nil
			}
			store, err := c.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			return store.Close()
		},
	}
}
