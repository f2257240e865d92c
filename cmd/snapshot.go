package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/revsync/internal/output"
	"github.com/marcus/revsync/internal/revision"
	revsync "github.com/marcus/revsync/internal/sync"
)

var snapshotCmd = &cobra.Command{
	Use:     "snapshot <object-id>",
	Aliases: []string{"snap"},
	Short:   "Write a snapshot of an object at its current revision",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withObject(cmd, args[0], false, func(s *revsync.Session) error {
			snap, err := s.Revisions().GenerateSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			output.Success("%s", output.FormatSnapshot(snap))
			return nil
		})
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list <object-id>",
	Short: "List stored snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := workspaceFor(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		ids, err := ws.snaps.Snapshots(args[0])
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			output.Info("No snapshots")
			return nil
		}
		for _, id := range ids {
			snap, err := ws.snaps.ReadSnapshot(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			output.Info("%s", output.FormatSnapshot(snap))
		}
		return nil
	},
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune <object-id>",
	Short: "Delete all but the newest snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep < 1 {
			return fmt.Errorf("--keep must be at least 1")
		}
		ws, err := workspaceFor(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		ids, err := ws.snaps.Snapshots(args[0])
		if err != nil {
			return err
		}
		if len(ids) <= keep {
			output.Info("Nothing to prune (%d snapshots)", len(ids))
			return nil
		}
		n, err := ws.snaps.Prune(args[0], ids[len(ids)-keep])
		if err != nil {
			return err
		}
		if err := ws.snaps.RunGC(0.5); err != nil {
			output.Warning("%v", err)
		}
		output.Success("pruned %d snapshots", n)
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact <object-id>",
	Short: "Merge pending revisions into one",
	Long: `Merge the pending (unacknowledged) revisions of an object into a single
revision so the next sync pushes one change. Acknowledged revisions are never
touched.`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		ws, err := workspaceFor(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		ctx := cmd.Context()
		before, err := ws.db.PendingCount(ctx, args[0])
		if err != nil {
			return err
		}
		if err := ws.db.CompactLaggingRevisions(ctx, args[0], keep, revision.DeltaCompactor{}); err != nil {
			return err
		}
		after, err := ws.db.PendingCount(ctx, args[0])
		if err != nil {
			return err
		}
		output.Success("%d pending revisions -> %d", before, after)
		return nil
	},
}

func init() {
	snapshotPruneCmd.Flags().Int("keep", 1, "Number of newest snapshots to keep")
	snapshotCmd.AddCommand(snapshotListCmd, snapshotPruneCmd)
	compactCmd.Flags().Int("keep", 0, "Leave the oldest N pending revisions untouched")
	rootCmd.AddCommand(snapshotCmd, compactCmd)
}
