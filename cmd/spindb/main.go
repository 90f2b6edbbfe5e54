package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the root command and all subcommands.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	createFlags := &CreateFlags{}
	startFlags := &StartFlags{}
	stopFlags := &StopFlags{}
	deleteFlags := &DeleteFlags{}
	cloneFlags := &CloneFlags{}
	renameFlags := &RenameFlags{}
	listFlags := &ListFlags{}
	infoFlags := &InfoFlags{}
	dbFlags := &DBFlags{}
	binaryFlags := &BinaryFlags{}

	cmd := &command{out: out}

	root := createRootCommand(globalFlags)
	root.PersistentPreRun = func(*cobra.Command, []string) {
		cmd.configPath = globalFlags.ConfigPath
	}

	root.AddCommand(
		createCreateCommand(cmd, createFlags),
		createStartCommand(cmd, startFlags),
		createStopCommand(cmd, stopFlags),
		createDeleteCommand(cmd, deleteFlags),
		createCloneCommand(cmd, cloneFlags),
		createRenameCommand(cmd, renameFlags),
		createListCommand(cmd, listFlags),
		createInfoCommand(cmd, infoFlags),
		createDBCommand(cmd, dbFlags),
		createBinariesCommand(cmd, binaryFlags),
		createServeCommand(globalFlags),
		createVersionCommand(out),
	)

	return root
}

// createRootCommand creates the root command with the persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "spindb",
		Short: "Local disposable database instances",
		Long: `Spindb creates, runs and throws away local database instances
(postgres, mysql, mariadb, redis, mongodb, clickhouse, qdrant, duckdb)
without docker. Binaries are downloaded once and cached; each container
keeps its data, logs and PID marker under its own directory.

Examples:
  spindb create --name=dev --engine=postgres --start
  spindb list --sizes
  spindb clone --from=dev --to=scratch
  spindb serve                      # Start the HTTP API daemon`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")

	return root
}

// createCreateCommand creates the create subcommand.
func createCreateCommand(cmd *command, flags *CreateFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "create",
		Short: "Create a database container",
		Long: `Create a new container, downloading the engine binary if needed.
Version may be a full version, an alias like "16", or empty for latest.
Port 0 picks a free port near the engine default.

Examples:
  spindb create --name=dev --engine=postgres
  spindb create --name=cache --engine=redis --version=7.2 --start
  spindb create --name=scratch --engine=duckdb --database=analytics`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.Create(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Name, "name", "", "container name (required)")
	cc.Flags().StringVar(&flags.Engine, "engine", "", "database engine (required)")
	cc.Flags().StringVar(&flags.Version, "version", "", "engine version or alias (default latest)")
	cc.Flags().IntVar(&flags.Port, "port", 0, "listen port (0 = pick a free one)")
	cc.Flags().StringVar(&flags.Database, "database", "", "primary database name (default per engine)")
	cc.Flags().BoolVar(&flags.Start, "start", false, "start the container after creating it")

	if err := cc.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	if err := cc.MarkFlagRequired("engine"); err != nil {
		panic(err)
	}

	return cc
}

// createStartCommand creates the start subcommand.
func createStartCommand(cmd *command, flags *StartFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "start",
		Short: "Start a container",
		Long: `Start the server process of a stopped container.
Starting a container that is already running is a no-op.

Examples:
  spindb start --name=dev`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.Start(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Name, "name", "", "container name (required)")

	if err := cc.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cc
}

// createStopCommand creates the stop subcommand.
func createStopCommand(cmd *command, flags *StopFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "stop",
		Short: "Stop a container",
		Long: `Stop the server process of a running container, escalating from
SIGTERM to SIGKILL after a grace period.

Examples:
  spindb stop --name=dev
  spindb stop --all`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.Stop(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Name, "name", "", "container name")
	cc.Flags().BoolVar(&flags.All, "all", false, "stop every running container")

	return cc
}

// createDeleteCommand creates the delete subcommand.
func createDeleteCommand(cmd *command, flags *DeleteFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "delete",
		Short: "Delete a container and its data",
		Long: `Delete a container's record, data directory and logs.
Running containers are refused unless --force is given, which stops
them first.

Examples:
  spindb delete --name=scratch
  spindb delete --name=dev --force`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.Delete(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Name, "name", "", "container name (required)")
	cc.Flags().BoolVar(&flags.Force, "force", false, "stop the container first if running")

	if err := cc.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cc
}

// createCloneCommand creates the clone subcommand.
func createCloneCommand(cmd *command, flags *CloneFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "clone",
		Short: "Clone a container",
		Long: `Copy a stopped container's data into a new container with its own
port. The source must not be running.

Examples:
  spindb clone --from=dev --to=experiment
  spindb clone --from=dev --to=experiment --port=15432`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.Clone(*flags)
		},
	}

	cc.Flags().StringVar(&flags.From, "from", "", "source container (required)")
	cc.Flags().StringVar(&flags.To, "to", "", "new container name (required)")
	cc.Flags().IntVar(&flags.Port, "port", 0, "listen port for the clone (0 = pick a free one)")

	if err := cc.MarkFlagRequired("from"); err != nil {
		panic(err)
	}
	if err := cc.MarkFlagRequired("to"); err != nil {
		panic(err)
	}

	return cc
}

// createRenameCommand creates the rename subcommand.
func createRenameCommand(cmd *command, flags *RenameFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "rename",
		Short: "Rename a container",
		Long: `Rename a stopped container, moving its directory and PID marker.

Examples:
  spindb rename --from=scratch --to=keeper`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.Rename(*flags)
		},
	}

	cc.Flags().StringVar(&flags.From, "from", "", "current container name (required)")
	cc.Flags().StringVar(&flags.To, "to", "", "new container name (required)")

	if err := cc.MarkFlagRequired("from"); err != nil {
		panic(err)
	}
	if err := cc.MarkFlagRequired("to"); err != nil {
		panic(err)
	}

	return cc
}

// createListCommand creates the list subcommand.
func createListCommand(cmd *command, flags *ListFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "list",
		Short: "List containers",
		Long: `List all containers with engine, version, port and status.

Examples:
  spindb list
  spindb list --sizes
  spindb list --json`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.List(*flags)
		},
	}

	cc.Flags().BoolVar(&flags.JSON, "json", false, "print raw JSON")
	cc.Flags().BoolVar(&flags.Sizes, "sizes", false, "include on-disk data sizes")

	return cc
}

// createInfoCommand creates the info subcommand.
func createInfoCommand(cmd *command, flags *InfoFlags) *cobra.Command {
	cc := &cobra.Command{
		Use:   "info",
		Short: "Show one container",
		Long: `Print a container's record together with its live state and
connection string as JSON.

Examples:
  spindb info --name=dev`,
		RunE: func(*cobra.Command, []string) error {
			return cmd.Info(*flags)
		},
	}

	cc.Flags().StringVar(&flags.Name, "name", "", "container name (required)")

	if err := cc.MarkFlagRequired("name"); err != nil {
		panic(err)
	}

	return cc
}

// createVersionCommand creates the version subcommand.
func createVersionCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the spindb version",
		Run: func(*cobra.Command, []string) {
			_, _ = fmt.Fprintf(out, "spindb %s\n", version)
		},
	}
}
