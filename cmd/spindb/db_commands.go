package main

import "github.com/spf13/cobra"

// createDBCommand creates the db command with subcommands.
func createDBCommand(cmd *command, flags *DBFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "db",
		Short: "Manage databases inside a container",
		Long: `Track, untrack and reconcile database names on a container.
The primary database can never be removed.

Examples:
  spindb db add --name=dev --database=analytics
  spindb db remove --name=dev --database=analytics
  spindb db sync --name=dev`,
	}

	cc.AddCommand(
		createDBAddCommand(cmd, flags),
		createDBRemoveCommand(cmd, flags),
		createDBSyncCommand(cmd, flags),
	)

	return cc
}

// createDBAddCommand creates the db add subcommand.
func createDBAddCommand(cmd *command, flags *DBFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "add",
		Short: "Add a database to a container",
		RunE: func(*cobra.Command, []string) error {
			return cmd.DBAdd(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Name, "name", "", "container name (required)")
	cc.Flags().StringVar(&flags.Database, "database", "", "database name (required)")

	_ = cc.MarkFlagRequired("name")
	_ = cc.MarkFlagRequired("database")

	return cc
}

// createDBRemoveCommand creates the db remove subcommand.
func createDBRemoveCommand(cmd *command, flags *DBFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "remove",
		Short: "Remove a tracked database from a container",
		RunE: func(*cobra.Command, []string) error {
			return cmd.DBRemove(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Name, "name", "", "container name (required)")
	cc.Flags().StringVar(&flags.Database, "database", "", "database name (required)")

	_ = cc.MarkFlagRequired("name")
	_ = cc.MarkFlagRequired("database")

	return cc
}

// createDBSyncCommand creates the db sync subcommand.
func createDBSyncCommand(cmd *command, flags *DBFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile tracked databases with the live engine",
		Long: `Ask the running engine for its database list and update the
container record to match. Server engines must be running.`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.DBSync(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Name, "name", "", "container name (required)")

	_ = cc.MarkFlagRequired("name")

	return cc
}
