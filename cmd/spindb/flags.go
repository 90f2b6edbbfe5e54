package main

// Flag structs decouple cobra from command logic so tests can drive the
// methods directly.

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

// CreateFlags holds flags for the create command.
type CreateFlags struct {
	Name     string
	Engine   string
	Version  string
	Port     int
	Database string
	Start    bool
}

// StartFlags holds flags for the start command.
type StartFlags struct {
	Name string
}

// StopFlags holds flags for the stop command.
type StopFlags struct {
	Name string
	All  bool
}

// DeleteFlags holds flags for the delete command.
type DeleteFlags struct {
	Name  string
	Force bool
}

// CloneFlags holds flags for the clone command.
type CloneFlags struct {
	From string
	To   string
	Port int
}

// RenameFlags holds flags for the rename command.
type RenameFlags struct {
	From string
	To   string
}

// ListFlags holds flags for the list command.
type ListFlags struct {
	JSON  bool
	Sizes bool
}

// InfoFlags holds flags for the info command.
type InfoFlags struct {
	Name string
}

// DBFlags holds flags for the db subcommands.
type DBFlags struct {
	Name     string
	Database string
}

// BinaryFlags holds flags for the binaries subcommands.
type BinaryFlags struct {
	Engine  string
	Version string
}

// ServeFlags holds flags for the serve command.
type ServeFlags struct {
	ConfigPath string
	Listen     string
	Daemonize  bool
	PidFile    string
	LogFile    string
}
