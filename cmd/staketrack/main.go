// Command staketrack manages the staking-program operation history and
// its backups: logging store maintenance, history export and archival,
// and full/incremental backup lifecycle.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/staketrack/staketrack/internal/backup"
	"github.com/staketrack/staketrack/internal/config"
	"github.com/staketrack/staketrack/internal/history"
	"github.com/staketrack/staketrack/internal/storage"
	"github.com/staketrack/staketrack/internal/storage/sqlite"
	"github.com/staketrack/staketrack/pkg/types"
)

func main() {
	app := &cli.App{
		Name:  "staketrack",
		Usage: "Operation history and backup manager for the staking reward tracker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from YAML `FILE` (env vars otherwise)",
			},
		},
		Commands: []*cli.Command{
			backupCommand(),
			historyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.LoadConfigFile(path)
	}
	return config.LoadConfig(), nil
}

// env opens the record store, history manager, and backup manager for
// one CLI invocation. The returned close func releases the store.
func env(c *cli.Context) (*history.Manager, *backup.Manager, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.History.DBPath), 0o755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := sqlite.NewRecordStore(cfg.History.DBPath)
	if err != nil {
		return nil, nil, nil, err
	}

	hist, err := history.NewManager(c.Context, store)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	interval, err := time.ParseDuration(cfg.Backup.Interval)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("invalid backup interval %q: %w", cfg.Backup.Interval, err)
	}

	opts := []backup.Option{backup.WithRecorder(hist)}
	if cfg.Backup.RemoteEnabled {
		replicator, err := backup.NewReplicator(cfg.Remote)
		if err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		opts = append(opts, backup.WithReplicator(replicator))
	}

	mgr, err := backup.NewManager(backup.Config{
		BackupDir:     cfg.Backup.Dir,
		Artifacts:     cfg.TrackedArtifacts(),
		MaxSuccessful: cfg.Backup.MaxSuccessful,
		Interval:      interval,
	}, opts...)
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	closeFn := func() {
		if err := hist.Shutdown(c.Context); err != nil {
			log.Printf("failed to log shutdown: %v", err)
		}
		store.Close()
	}
	return hist, mgr, closeFn, nil
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Create, verify, restore, and clean up backups",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a full backup of the tracked artifacts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Value: "manual backup"},
				},
				Action: func(c *cli.Context) error {
					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					entry, err := mgr.CreateFullBackup(c.Context, c.String("description"))
					if err != nil {
						return err
					}
					printEntry(*entry)
					if !entry.Success {
						return cli.Exit("backup attempt failed", 1)
					}
					return nil
				},
			},
			{
				Name:  "incremental",
				Usage: "Create an incremental backup against the latest successful one",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "since", Usage: "Baseline backup `ID` (default: latest successful)"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Value: "manual incremental backup"},
				},
				Action: func(c *cli.Context) error {
					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					entry, err := mgr.CreateIncrementalBackup(c.Context, c.String("since"), c.String("description"))
					if err != nil {
						return err
					}
					if entry == nil {
						fmt.Println("no artifacts changed, nothing to back up")
						return nil
					}
					printEntry(*entry)
					if !entry.Success {
						return cli.Exit("backup attempt failed", 1)
					}
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List catalog entries, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Usage: "Filter by `KIND` (full or incremental)"},
					&cli.BoolFlag{Name: "successful", Usage: "Show only successful backups"},
				},
				Action: func(c *cli.Context) error {
					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					for _, entry := range mgr.ListBackups(types.BackupKind(c.String("kind")), c.Bool("successful")) {
						printEntry(entry)
					}
					return nil
				},
			},
			{
				Name:      "verify",
				Usage:     "Check a backup's size and checksum against its catalog entry",
				ArgsUsage: "<backup-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: staketrack backup verify <backup-id>", 2)
					}
					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					if err := mgr.Verify(c.Args().First()); err != nil {
						return cli.Exit(fmt.Sprintf("verification failed: %v", err), 1)
					}
					fmt.Printf("backup %s verified\n", c.Args().First())
					return nil
				},
			},
			{
				Name:      "restore",
				Usage:     "Restore a verified backup into a directory",
				ArgsUsage: "<backup-id> <destination>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return cli.Exit("usage: staketrack backup restore <backup-id> <destination>", 2)
					}
					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					if err := mgr.Restore(c.Args().Get(0), c.Args().Get(1)); err != nil {
						return cli.Exit(fmt.Sprintf("restore failed: %v", err), 1)
					}
					fmt.Printf("backup %s restored to %s\n", c.Args().Get(0), c.Args().Get(1))
					return nil
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a backup's archive and catalog entry",
				ArgsUsage: "<backup-id>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: staketrack backup delete <backup-id>", 2)
					}
					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()
					return mgr.DeleteBackup(c.Args().First())
				},
			},
			{
				Name:  "cleanup",
				Usage: "Evict the oldest successful backups beyond the retention ceiling",
				Action: func(c *cli.Context) error {
					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					deleted, err := mgr.CleanupRetention()
					if err != nil {
						return err
					}
					fmt.Printf("removed %d backups\n", deleted)
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "Show catalog statistics",
				Action: func(c *cli.Context) error {
					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					stats := mgr.Statistics()
					fmt.Printf("total=%d successful=%d failed=%d rate=%.1f%% size=%d bytes full=%d incremental=%d\n",
						stats.TotalBackups, stats.SuccessfulBackups, stats.FailedBackups,
						stats.SuccessRate, stats.TotalSizeBytes, stats.FullBackups, stats.IncrementalBackups)
					if stats.LastBackupTime != nil {
						fmt.Printf("last successful: %s\n", stats.LastBackupTime.Format(time.RFC3339))
					}
					return nil
				},
			},
			{
				Name:  "run",
				Usage: "Run the backup scheduler until interrupted",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}

					lockPath := cfg.Backup.LockFile
					if lockPath == "" {
						lockPath = filepath.Join(cfg.Backup.Dir, "staketrack.lock")
					}
					unlock, err := acquireLock(lockPath)
					if err != nil {
						return err
					}
					defer unlock()

					_, mgr, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()

					if err := mgr.StartScheduler(ctx); err != nil && err != context.Canceled {
						return err
					}
					return nil
				},
			},
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Query, export, and archive the operation history",
		Subcommands: []*cli.Command{
			{
				Name:      "export",
				Usage:     "Export the operation history to a JSON document",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "compress", Usage: "gzip the output (appends .gz)"},
					&cli.StringFlag{Name: "component", Usage: "Filter by emitting `COMPONENT`"},
					&cli.StringFlag{Name: "session", Usage: "Filter by `SESSION` ID"},
					&cli.IntFlag{Name: "limit", Value: storage.DefaultQueryLimit},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("usage: staketrack history export <path>", 2)
					}
					hist, _, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					finalPath, err := hist.Export(c.Context, c.Args().First(), history.ExportOptions{
						Format:   "json",
						Compress: c.Bool("compress"),
						Filter: storage.QueryFilter{
							Component: c.String("component"),
							SessionID: c.String("session"),
							Limit:     c.Int("limit"),
						},
					})
					if err != nil {
						return err
					}
					fmt.Printf("history exported to %s\n", finalPath)
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "Show aggregate operation statistics",
				Action: func(c *cli.Context) error {
					hist, _, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					stats, err := hist.GetStatistics(c.Context, storage.QueryFilter{})
					if err != nil {
						return err
					}
					fmt.Printf("total=%d successful=%d failed=%d rate=%.1f%% sessions=%d users=%d\n",
						stats.TotalOperations, stats.Successful, stats.Failed,
						stats.SuccessRate, stats.UniqueSessions, stats.UniqueUsers)
					for kind, group := range stats.ByKind {
						fmt.Printf("  %-28s count=%d rate=%.1f%% avg=%.1fms\n", kind, group.Count, group.SuccessRate, group.AvgDurationMS)
					}
					return nil
				},
			},
			{
				Name:  "archive",
				Usage: "Move records older than N days into the archive table",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Value: 90, Usage: "Retention threshold in `DAYS`"},
				},
				Action: func(c *cli.Context) error {
					hist, _, closeFn, err := env(c)
					if err != nil {
						return err
					}
					defer closeFn()

					count, err := hist.Archive(c.Context, c.Int("days"))
					if err != nil {
						return err
					}
					fmt.Printf("archived %d records\n", count)
					return nil
				},
			},
		},
	}
}

// acquireLock takes an exclusive file lock so two scheduler processes
// cannot run against the same backup directory.
func acquireLock(lockPath string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to attempt lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock file %s is held, another instance might be running", lockPath)
	}
	return func() { fileLock.Unlock() }, nil
}

func printEntry(entry types.BackupEntry) {
	status := "ok"
	if !entry.Success {
		status = "FAILED: " + entry.ErrorMessage
	}
	fmt.Printf("%s  %-11s  %s  %10d bytes  %s\n",
		entry.ID, entry.Kind, entry.Timestamp.Format(time.RFC3339), entry.Size, status)
}
