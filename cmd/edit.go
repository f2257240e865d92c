package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/revsync/internal/document"
	"github.com/marcus/revsync/internal/ot/delta"
	"github.com/marcus/revsync/internal/output"
	"github.com/marcus/revsync/internal/revision"
	revsync "github.com/marcus/revsync/internal/sync"
)

var newCmd = &cobra.Command{
	Use:   "new <object-id> [text]",
	Short: "Create a text object, optionally with initial text",
	Example: `  revsync new notes
  revsync new notes "first line"`,
	GroupID: "core",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withObject(cmd, args[0], true, func(s *revsync.Session) error {
			if s.Editor().Text() != "" || s.Revisions().RevID() > 0 {
				return fmt.Errorf("object %s already exists (rev %d)", args[0], s.Revisions().RevID())
			}
			if len(args) == 2 && args[1] != "" {
				if _, err := s.Editor().Insert(cmd.Context(), 0, args[1]); err != nil {
					return err
				}
			}
			output.Success("created %s", args[0])
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:     "edit",
	Short:   "Change the text of an object",
	GroupID: "core",
}

var insertCmd = &cobra.Command{
	Use:     "insert <object-id> <index> <text>",
	Aliases: []string{"ins"},
	Short:   "Insert text at a UTF-16 index",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex("index", args[1])
		if err != nil {
			return err
		}
		return withObject(cmd, args[0], false, func(s *revsync.Session) error {
			id, err := s.Editor().Insert(cmd.Context(), index, args[2])
			return reportEdit(s, id, err)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <object-id> <index> <count>",
	Aliases: []string{"del", "rm"},
	Short:   "Delete count UTF-16 units at index",
	Args:    cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex("index", args[1])
		if err != nil {
			return err
		}
		count, err := parseIndex("count", args[2])
		if err != nil {
			return err
		}
		return withObject(cmd, args[0], false, func(s *revsync.Session) error {
			id, err := s.Editor().Delete(cmd.Context(), index, count)
			return reportEdit(s, id, err)
		})
	},
}

var formatCmd = &cobra.Command{
	Use:   "format <object-id> <index> <count> key=value...",
	Short: "Set attributes on a span; key=null removes one",
	Example: `  revsync edit format notes 0 5 bold=true
  revsync edit format notes 0 5 bold=null color=red`,
	Args: cobra.MinimumNArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := parseIndex("index", args[1])
		if err != nil {
			return err
		}
		count, err := parseIndex("count", args[2])
		if err != nil {
			return err
		}
		attrs, err := parseAttributes(args[3:])
		if err != nil {
			return err
		}
		return withObject(cmd, args[0], false, func(s *revsync.Session) error {
			id, err := s.Editor().Format(cmd.Context(), index, count, attrs)
			return reportEdit(s, id, err)
		})
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo <object-id>",
	Short: "Revert the newest revision with a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withObject(cmd, args[0], false, func(s *revsync.Session) error {
			id, err := undoLast(cmd.Context(), s)
			return reportEdit(s, id, err)
		})
	},
}

func reportEdit(s *revsync.Session, id int64, err error) error {
	if err != nil {
		return err
	}
	output.Success("rev %d", id)
	output.Info("%s", s.Editor().Text())
	return nil
}

func parseIndex(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: want a non-negative integer", name, v)
	}
	return n, nil
}

// parseAttributes turns key=value pairs into attributes. Values are JSON when
// they parse as JSON, strings otherwise; null removes the attribute.
func parseAttributes(pairs []string) (delta.Attributes, error) {
	attrs := delta.Attributes{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q: want key=value", p)
		}
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			val = v
		}
		attrs[k] = val
	}
	return attrs, nil
}

// undoLast inverts the newest stored revision against the text it was
// applied to and stores the inverse as a new local revision.
func undoLast(ctx context.Context, s *revsync.Session) (int64, error) {
	records, err := s.Revisions().Records(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, document.ErrNothingToUndo
	}
	last := records[len(records)-1].Revision
	change, err := delta.FromBytes(last.Bytes)
	if err != nil {
		return 0, fmt.Errorf("decode rev %d: %w", last.RevID, err)
	}
	prev := make([]revision.Revision, 0, len(records)-1)
	for _, r := range records[:len(records)-1] {
		prev = append(prev, r.Revision)
	}
	before, err := document.Replay(prev)
	if err != nil {
		return 0, fmt.Errorf("replay before rev %d: %w", last.RevID, err)
	}
	inverse := change.Invert(before)
	if inverse.IsNoop() {
		return 0, errors.New("newest revision changes nothing")
	}
	return s.Editor().Apply(ctx, inverse)
}

func init() {
	editCmd.AddCommand(insertCmd, deleteCmd, formatCmd, undoCmd)
	rootCmd.AddCommand(newCmd, editCmd)
}
