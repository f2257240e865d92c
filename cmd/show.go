package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/revsync/internal/output"
	"github.com/marcus/revsync/internal/revision"
	revsync "github.com/marcus/revsync/internal/sync"
)

// ObjectView is the JSON form of "revsync show".
type ObjectView struct {
	ObjectID string `json:"object_id"`
	RevID    int64  `json:"rev_id"`
	Pending  int    `json:"pending"`
	Text     string `json:"text"`
	Delta    any    `json:"delta"`
}

var showCmd = &cobra.Command{
	Use:     "show <object-id>",
	Aliases: []string{"cat", "view"},
	Short:   "Print the current text of an object",
	Example: `  revsync show notes
  revsync show notes --json
  revsync show notes -m          # render as markdown`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		render, _ := cmd.Flags().GetBool("render-markdown")

		return withObject(cmd, args[0], false, func(s *revsync.Session) error {
			text := s.Editor().Text()
			if jsonOut {
				records, err := s.Revisions().Records(cmd.Context())
				if err != nil {
					return err
				}
				return output.JSON(ObjectView{
					ObjectID: args[0],
					RevID:    s.Revisions().RevID(),
					Pending:  countState(records, revision.StateLocal),
					Text:     text,
					Delta:    s.Editor().Document().Delta(),
				})
			}
			if render {
				rendered, err := output.RenderMarkdown(text)
				if err != nil {
					return fmt.Errorf("render markdown: %w", err)
				}
				text = rendered
			}
			fmt.Println(text)
			return nil
		})
	},
}

var objectsCmd = &cobra.Command{
	Use:     "objects",
	Aliases: []string{"ls", "list"},
	Short:   "List objects in the local store",
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		ws, err := workspaceFor(cmd)
		if err != nil {
			return err
		}
		defer ws.Close()

		objects, err := ws.db.Objects(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOut {
			return output.JSON(objects)
		}
		if len(objects) == 0 {
			output.Info("No objects")
			return nil
		}
		for _, o := range objects {
			line := fmt.Sprintf("%-24s %-6s %d revisions", o.ObjectID, o.Kind, o.Revs)
			if o.Pending > 0 {
				line += fmt.Sprintf(", %d pending", o.Pending)
			}
			output.Info("%s", line)
		}
		return nil
	},
}

func countState(records []revision.Record, state revision.State) int {
	n := 0
	for _, r := range records {
		if r.State == state {
			n++
		}
	}
	return n
}

func init() {
	showCmd.Flags().Bool("json", false, "Machine-readable JSON")
	showCmd.Flags().BoolP("render-markdown", "m", false, "Render the text as markdown")
	objectsCmd.Flags().Bool("json", false, "Machine-readable JSON")
	rootCmd.AddCommand(showCmd, objectsCmd)
}
