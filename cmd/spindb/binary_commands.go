package main

import "github.com/spf13/cobra"

// createBinariesCommand creates the binaries command with subcommands.
func createBinariesCommand(cmd *command, flags *BinaryFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "binaries",
		Short: "Manage the engine binary cache",
		Long: `Inspect and maintain the downloaded engine binaries shared by all
containers of the same engine and version.

Examples:
  spindb binaries list
  spindb binaries install --engine=postgres --version=16
  spindb binaries remove --engine=postgres --version=16.4.0`,
	}

	cc.AddCommand(
		createBinariesListCommand(cmd),
		createBinariesInstallCommand(cmd, flags),
		createBinariesRemoveCommand(cmd, flags),
	)

	return cc
}

// createBinariesListCommand creates the binaries list subcommand.
func createBinariesListCommand(cmd *command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached engine binaries",
		RunE: func(*cobra.Command, []string) error {
			return cmd.BinariesList()
		},
	}
}

// createBinariesInstallCommand creates the binaries install subcommand.
func createBinariesInstallCommand(cmd *command, flags *BinaryFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "install",
		Short: "Download an engine binary into the cache",
		Long: `Resolve a version alias and download the engine binary without
creating a container. Version may be empty for latest.`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.BinariesInstall(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Engine, "engine", "", "database engine (required)")
	cc.Flags().StringVar(&flags.Version, "version", "", "engine version or alias (default latest)")

	_ = cc.MarkFlagRequired("engine")

	return cc
}

// createBinariesRemoveCommand creates the binaries remove subcommand.
func createBinariesRemoveCommand(cmd *command, flags *BinaryFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "remove",
		Short: "Delete a cached engine binary",
		Long: `Delete one cached install. Refused while any container still
references that engine and version.`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.BinariesRemove(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Engine, "engine", "", "database engine (required)")
	cc.Flags().StringVar(&flags.Version, "version", "", "exact cached version (required)")

	_ = cc.MarkFlagRequired("engine")
	_ = cc.MarkFlagRequired("version")

	return cc
}
