// cmd is the enrolld entry point. It wires together all layers behind a
// cobra CLI with serve, migrate and seed subcommands.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/config"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/database"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
)

// cli holds state shared by all subcommands.
type cli struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	log        *logger.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:           "enrolld",
		Short:         "Course enrollment admission service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.initialize()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				c.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "path to a YAML config file")
	flags.String("driver", "", "store driver: postgres, sqlite or memory")
	flags.String("log-mode", "", "log mode: development or production")
	_ = c.v.BindPFlag("store.driver", flags.Lookup("driver"))
	_ = c.v.BindPFlag("log.mode", flags.Lookup("log-mode"))

	root.AddCommand(newServeCommand(c), newMigrateCommand(c), newSeedCommand(c))
	return root
}

func (c *cli) initialize() error {
	cfg, err := config.LoadFrom(c.v, c.configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log
	return nil
}

// openStore connects to the configured store. migrate applies the Postgres
// schema; SQLite always migrates on open and memory needs none.
func (c *cli) openStore(ctx context.Context, migrate bool) (repository.Store, error) {
	lockTimeout := c.cfg.Store.LockTimeout

	switch c.cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, c.cfg.Postgres, c.log)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		c.log.Info("connected to postgres", "max_conns", pool.Config().MaxConns)
		if migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			c.log.Info("schema applied", "statements", len(database.Schema))
		}
		return repository.NewPostgres(pool, lockTimeout), nil

	case config.DriverSQLite:
		s, err := repository.NewSQLite(c.cfg.SQLite.Path, lockTimeout)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		c.log.Info("opened sqlite", "path", c.cfg.SQLite.Path)
		return s, nil

	default:
		c.log.Warn("using in-memory store; data is lost on exit")
		return repository.NewMemory(lockTimeout), nil
	}
}
