package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	spindb "github.com/robertjbass/spindb-sub005"
)

// command binds the CLI handlers to a config path and an output writer.
type command struct {
	configPath string
	out        io.Writer
}

// withManager loads the configuration, builds a manager and runs fn with a
// context that is cancelled on SIGINT/SIGTERM so long downloads abort
// cleanly.
func (c *command) withManager(fn func(ctx context.Context, m *spindb.Manager) error) error {
	cfg, err := spindb.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	m, err := spindb.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, m)
}

// Create provisions a new container and optionally starts it.
func (c *command) Create(f CreateFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		rec, err := m.Create(ctx, spindb.CreateOptions{
			Name:     f.Name,
			Engine:   f.Engine,
			Version:  f.Version,
			Port:     f.Port,
			Database: f.Database,
			Start:    f.Start,
		})
		if err != nil {
			if rec != nil {
				// The container exists; only starting it failed.
				fmt.Fprintf(c.out, "Created container %q (%s %s) but it failed to start\n",
					rec.Name, rec.Engine, rec.Version)
			}
			return err
		}
		if rec.Port > 0 {
			fmt.Fprintf(c.out, "Created container %q (%s %s, port %d)\n",
				rec.Name, rec.Engine, rec.Version, rec.Port)
		} else {
			fmt.Fprintf(c.out, "Created container %q (%s %s)\n", rec.Name, rec.Engine, rec.Version)
		}
		if f.Start {
			fmt.Fprintf(c.out, "Started container %q\n", rec.Name)
		}
		return nil
	})
}

// Start launches the server process of a stopped container.
func (c *command) Start(f StartFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		if err := m.Start(ctx, f.Name); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Started container %q\n", f.Name)
		return nil
	})
}

// Stop terminates one container, or every running one with --all.
func (c *command) Stop(f StopFlags) error {
	if f.All {
		return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
			if err := m.StopAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Stopped all running containers")
			return nil
		})
	}
	if f.Name == "" {
		return fmt.Errorf("container name is required (or use --all)")
	}
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		if err := m.Stop(ctx, f.Name); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Stopped container %q\n", f.Name)
		return nil
	})
}

// Delete removes a container and its data.
func (c *command) Delete(f DeleteFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		if err := m.Delete(ctx, f.Name, f.Force); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Deleted container %q\n", f.Name)
		return nil
	})
}

// Clone copies a stopped container's data into a new container.
func (c *command) Clone(f CloneFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		rec, err := m.Clone(ctx, f.From, f.To, f.Port)
		if err != nil {
			return err
		}
		if rec.Port > 0 {
			fmt.Fprintf(c.out, "Cloned %q to %q (port %d)\n", f.From, rec.Name, rec.Port)
		} else {
			fmt.Fprintf(c.out, "Cloned %q to %q\n", f.From, rec.Name)
		}
		return nil
	})
}

// Rename moves a container to a new name.
func (c *command) Rename(f RenameFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		if _, err := m.Rename(ctx, f.From, f.To); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Renamed %q to %q\n", f.From, f.To)
		return nil
	})
}

// List prints all containers as a table, or as JSON with --json.
func (c *command) List(f ListFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		infos, err := m.List()
		if err != nil {
			return err
		}
		if f.JSON {
			return printJSON(c.out, infos)
		}
		var sizes map[string]int64
		if f.Sizes {
			if sizes, err = m.Sizes(ctx); err != nil {
				return err
			}
		}

		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		if f.Sizes {
			fmt.Fprintln(tw, "NAME\tENGINE\tVERSION\tPORT\tSTATUS\tSIZE")
		} else {
			fmt.Fprintln(tw, "NAME\tENGINE\tVERSION\tPORT\tSTATUS")
		}
		for _, in := range infos {
			port := "-"
			if in.Port > 0 {
				port = strconv.Itoa(in.Port)
			}
			if f.Sizes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					in.Name, in.Engine, in.Version, port, in.Status,
					humanize.IBytes(uint64(sizes[in.Name])))
			} else {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", in.Name, in.Engine, in.Version, port, in.Status)
			}
		}
		return tw.Flush()
	})
}

// Info prints one container's record, liveness and connection string.
func (c *command) Info(f InfoFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		info, err := m.Info(f.Name)
		if err != nil {
			return err
		}
		return printJSON(c.out, info)
	})
}

// DBAdd records an extra database name on a container.
func (c *command) DBAdd(f DBFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		if _, err := m.AddDatabase(f.Name, f.Database); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Added database %q to container %q\n", f.Database, f.Name)
		return nil
	})
}

// DBRemove drops a tracked database name from a container.
func (c *command) DBRemove(f DBFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		if _, err := m.RemoveDatabase(f.Name, f.Database); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Removed database %q from container %q\n", f.Database, f.Name)
		return nil
	})
}

// DBSync reconciles tracked databases against the engine's live listing.
func (c *command) DBSync(f DBFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		dbs, err := m.SyncDatabases(ctx, f.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Databases in %q: %s\n", f.Name, strings.Join(dbs, ", "))
		return nil
	})
}

// BinariesList prints the engine binary cache.
func (c *command) BinariesList() error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		bins, err := m.InstalledBinaries()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ENGINE\tVERSION\tPLATFORM\tARCH\tPATH")
		for _, b := range bins {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.Engine, b.Version, b.Platform, b.Arch, b.Path)
		}
		return tw.Flush()
	})
}

// BinariesInstall downloads and caches an engine binary ahead of use.
func (c *command) BinariesInstall(f BinaryFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		version, dir, err := m.EnsureBinary(ctx, f.Engine, f.Version)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Installed %s %s in %s\n", f.Engine, version, dir)
		return nil
	})
}

// BinariesRemove deletes a cached engine binary.
func (c *command) BinariesRemove(f BinaryFlags) error {
	return c.withManager(func(ctx context.Context, m *spindb.Manager) error {
		if err := m.RemoveBinary(f.Engine, f.Version); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Removed binary %s %s\n", f.Engine, f.Version)
		return nil
	})
}
