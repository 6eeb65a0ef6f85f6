package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/tracklist/internal/config"
	"github.com/dukerupert/tracklist/internal/database"
	"github.com/dukerupert/tracklist/internal/logging"
	"github.com/dukerupert/tracklist/internal/model"
	"github.com/dukerupert/tracklist/internal/snapshot"
	"github.com/dukerupert/tracklist/internal/store"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage encrypted off-site snapshots",
}

var snapshotRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Upload a snapshot for every owner now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshots(cmd.Context(), func(m *snapshot.Manager) error {
			n, err := m.RunNow(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d snapshot(s)\n", n)
			return err
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <username>",
	Short: "List stored snapshots for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshots(cmd.Context(), func(m *snapshot.Manager) error {
			objects, err := m.List(cmd.Context(), model.Owner(args[0]))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tUPLOADED")
			for _, obj := range objects {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", obj.Key, obj.Size, obj.LastModified.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		})
	},
}

var snapshotFetchCmd = &cobra.Command{
	Use:   "fetch <key>",
	Short: "Download and decrypt a snapshot",
	Long: `Fetch prints the decrypted snapshot as JSON. The output can be posted
to /api/import to restore it.`,
	Example: `  tracklist snapshot fetch alice/tracklist-snapshot-2024-06-01T030000Z.json.enc > alice.json`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshots(cmd.Context(), func(m *snapshot.Manager) error {
			b, err := m.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		})
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotRunCmd, snapshotListCmd, snapshotFetchCmd)
}

func newSnapshotManager(cfg *config.Config, db *database.DB, logger *slog.Logger) *snapshot.Manager {
	sc := cfg.Snapshot
	return snapshot.NewManager(snapshot.Config{
		S3: snapshot.S3Config{
			Endpoint:  sc.Endpoint,
			Bucket:    sc.Bucket,
			Region:    sc.Region,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
		},
		Passphrase:    sc.Passphrase,
		Interval:      sc.Interval,
		RetentionDays: sc.RetentionDays,
	}, store.NewBackupStore(db), logger)
}

// withSnapshots loads config, opens the database and hands fn a manager.
func withSnapshots(ctx context.Context, fn func(*snapshot.Manager) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if !cfg.Snapshot.Enabled() {
		return snapshot.ErrDisabled
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	db, err := database.Open(ctx, database.Config{URL: cfg.Database.URL, Path: cfg.DBPath()}, logger.With("component", "database"))
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(newSnapshotManager(cfg, db, logger))
}
