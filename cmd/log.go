package cmd

import (
	"github.com/spf13/cobra"

	"github.com/marcus/revsync/internal/output"
	"github.com/marcus/revsync/internal/revision"
	revsync "github.com/marcus/revsync/internal/sync"
)

// RecordView is the JSON form of one log entry.
type RecordView struct {
	revision.Revision
	State revision.State `json:"state"`
}

var logCmd = &cobra.Command{
	Use:     "log <object-id>",
	Aliases: []string{"revs"},
	Short:   "List the stored revisions of an object",
	Example: `  revsync log notes
  revsync log notes --pending
  revsync log notes --rev 4      # one revision in full`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		pendingOnly, _ := cmd.Flags().GetBool("pending")
		long, _ := cmd.Flags().GetBool("long")
		revID, _ := cmd.Flags().GetInt64("rev")
		width, _ := cmd.Flags().GetInt("width")
		if width == 0 {
			width = output.TerminalWidth(80) - 30
		}

		return withObject(cmd, args[0], false, func(s *revsync.Session) error {
			records, err := s.Revisions().Records(cmd.Context())
			if err != nil {
				return err
			}
			records = filterRecords(records, pendingOnly, revID)
			if jsonOut {
				views := make([]RecordView, len(records))
				for i, r := range records {
					views[i] = RecordView{Revision: r.Revision, State: r.State}
				}
				return output.JSON(views)
			}
			if len(records) == 0 {
				output.Info("No revisions")
				return nil
			}
			for _, r := range records {
				if long || revID > 0 {
					output.Info("%s", output.FormatRecordLong(r))
				} else {
					output.Info("%s", output.FormatRecordShort(r, width))
				}
			}
			return nil
		})
	},
}

// filterRecords keeps pending records when pendingOnly is set and the record
// with revID when it is positive.
func filterRecords(records []revision.Record, pendingOnly bool, revID int64) []revision.Record {
	out := records[:0:0]
	for _, r := range records {
		if pendingOnly && r.State != revision.StateLocal {
			continue
		}
		if revID > 0 && r.Revision.RevID != revID {
			continue
		}
		out = append(out, r)
	}
	return out
}

func init() {
	logCmd.Flags().Bool("json", false, "Machine-readable JSON")
	logCmd.Flags().Bool("pending", false, "Only revisions not yet acknowledged")
	logCmd.Flags().Bool("long", false, "Show hashes and full payloads")
	logCmd.Flags().Int64("rev", 0, "Show a single revision")
	logCmd.Flags().Int("width", 0, "Payload preview width (default fits the terminal)")
	rootCmd.AddCommand(logCmd)
}
