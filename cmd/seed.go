package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/course-enrollment/internal/config"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/handler"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/logger"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/model"
	"github.com/Shivanand-hulikatti/course-enrollment/internal/repository"
)

const demoTokenTTL = 24 * time.Hour

func newSeedCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo members and offerings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Store.Driver == config.DriverMemory {
				return errors.New("seeding the memory store has no effect; use serve --seed")
			}
			store, err := c.openStore(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer store.Close()

			var auth *handler.Authenticator
			if c.cfg.Auth.JWTSecret != "" {
				auth = handler.NewAuthenticator(c.cfg.Auth.JWTSecret)
			}
			return seedDemo(cmd.Context(), store, auth, cmd.OutOrStdout(), c.log)
		},
	}
}

// seedDemo inserts one instructor, three students and three offerings, and
// prints a bearer token per member to out when auth is set. A store that
// already holds the demo members is left untouched.
func seedDemo(ctx context.Context, store repository.Store, auth *handler.Authenticator, out io.Writer, log *logger.Logger) error {
	members := []*model.Member{
		{Name: "Demo Instructor", Email: "instructor@demo.local", Role: model.RoleInstructor},
		{Name: "Student One", Email: "student1@demo.local", Role: model.RoleStudent},
		{Name: "Student Two", Email: "student2@demo.local", Role: model.RoleStudent},
		{Name: "Student Three", Email: "student3@demo.local", Role: model.RoleStudent},
	}
	for _, m := range members {
		if err := store.CreateMember(ctx, m); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				log.Info("demo data already present")
				return nil
			}
			return fmt.Errorf("seed member %s: %w", m.Name, err)
		}
	}

	offerings := []*model.Offering{
		{Title: "Intro to Go", Capacity: 30, Price: decimal.NewFromInt(150000)},
		{Title: "Concurrency Patterns", Capacity: 2, Price: decimal.NewFromInt(220000)},
		{Title: "Database Internals", Capacity: 10, Price: decimal.RequireFromString("99000.50")},
	}
	for _, o := range offerings {
		o.OwnerID = members[0].ID
		if err := store.CreateOffering(ctx, o); err != nil {
			return fmt.Errorf("seed offering %s: %w", o.Title, err)
		}
		log.Info("seeded offering", "offering_id", o.ID, "title", o.Title, "capacity", o.Capacity)
	}

	for _, m := range members {
		log.Info("seeded member", "member_id", m.ID, "name", m.Name, "role", m.Role)
		if auth == nil {
			continue
		}
		tok, err := auth.Issue(m.ID, m.Role, demoTokenTTL)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintf(out, "%d\t%s\t%s\n", m.ID, m.Role, tok)
	}
	return nil
}
