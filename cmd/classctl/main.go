// Package main implements classctl, the operator CLI for the classroom attendance service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"classroom/internal/app"
	"classroom/internal/config"
	"classroom/internal/directory"
	"classroom/internal/logging"
	"classroom/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "classctl",
		Short: "Operator commands for the classroom attendance service",
		Long: `classctl runs maintenance tasks against the service's database.
Connection settings come from the same environment variables (and .env file) as the API.`,
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCmd(), newCreateAdminCmd(), newRecomputeCmd())
	return root
}

func open(cmd *cobra.Command) (*app.Backends, *zap.Logger, error) {
	cfg := config.Load()
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	cfg.QueueBackend = "memory"
	b, err := app.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return b, logger, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			db, err := store.NewDB(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.Migrate(cmd.Context(), db.Client); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newCreateAdminCmd() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin user",
		Long: `Create the first admin user so the admin API can be used.

Example:
  classctl create-admin --name "Registrar" --email registrar@college.edu --password s3cret`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, _, err := open(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			u, err := b.Directory.CreateUser(cmd.Context(), directory.CreateUserInput{
				Name:     name,
				Email:    email,
				Password: password,
				Role:     directory.RoleAdmin,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s created (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "login password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRecomputeCmd() *cobra.Command {
	var classroomID, date string
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute the daily rollups of a classroom for one day",
		Long: `Recompute the daily attendance rollups of a classroom from its completed sessions.
Running it again with unchanged records yields the same rollups.

Example:
  classctl recompute --classroom 6f1c... --date 2025-03-10`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, logger, err := open(cmd)
			if err != nil {
				return err
			}
			defer b.Close()
			rows, err := b.Attendance.RecomputeDay(cmd.Context(), classroomID, date)
			if err != nil {
				return err
			}
			logger.Info("rollups recomputed", zap.String("classroom_id", classroomID), zap.String("date", date), zap.Int("students", len(rows)))
			for _, d := range rows {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d/%d\t%d%%\n", d.StudentID, d.AttendedSessions, d.TotalSessions, d.Percentage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&classroomID, "classroom", "", "classroom id")
	cmd.Flags().StringVar(&date, "date", "", "local day, YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("classroom")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}
