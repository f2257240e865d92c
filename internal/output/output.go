// Package output provides styled terminal output helpers (success, error,
// warning, revision formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/marcus/revsync/internal/revision"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stateStyles  = map[revision.State]lipgloss.Style{
		revision.StateLocal: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		revision.StateAck:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

// OutputMode determines output format
type OutputMode int

const (
	ModeShort OutputMode = iota
	ModeLong
	ModeJSON
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeDatabaseError = "database_error"
	ErrCodeSyncError     = "sync_error"
	ErrCodeLocked        = "locked"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	JSONErrorWithDetails(code, message, nil)
}

// JSONErrorWithDetails outputs an error as JSON with additional context
func JSONErrorWithDetails(code, message string, details map[string]any) {
	errObj := map[string]any{
		"code":    code,
		"message": message,
	}
	if len(details) > 0 {
		errObj["details"] = details
	}
	data, _ := json.MarshalIndent(map[string]any{"error": errObj}, "", "  ")
	fmt.Println(string(data))
}

// FormatState formats a revision state with color
func FormatState(s revision.State) string {
	style, ok := stateStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// Preview returns payload as a single line cut to width cells.
func Preview(payload []byte, width int) string {
	s := strings.ReplaceAll(string(payload), "\n", `\n`)
	if width <= 0 {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

// FormatRecordShort formats a stored revision in one line:
// "#3 (base 2) [local]  alice  {"ops":...}"
func FormatRecordShort(rec revision.Record, previewWidth int) string {
	rev := rec.Revision
	parts := []string{
		titleStyle.Render("#" + strconv.FormatInt(rev.RevID, 10)),
		subtleStyle.Render(fmt.Sprintf("(base %d)", rev.BaseRevID)),
		FormatState(rec.State),
	}
	if rev.UserID != "" {
		parts = append(parts, rev.UserID)
	}
	parts = append(parts, subtleStyle.Render(Preview(rev.Bytes, previewWidth)))
	return strings.Join(parts, "  ")
}

// FormatRecordLong formats a stored revision with its hash and full payload.
func FormatRecordLong(rec revision.Record) string {
	rev := rec.Revision
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s #%d", rev.ObjectID, rev.RevID)))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("State: %s\n", FormatState(rec.State)))
	sb.WriteString(fmt.Sprintf("Base: %d | Bytes: %d | MD5: %s\n", rev.BaseRevID, len(rev.Bytes), rev.MD5))
	if rev.UserID != "" {
		sb.WriteString(fmt.Sprintf("User: %s\n", rev.UserID))
	}
	sb.WriteString(subtleStyle.Render("Payload:"))
	sb.WriteString("\n")
	sb.WriteString(string(rev.Bytes))
	sb.WriteString("\n")
	return sb.String()
}

// FormatSnapshot formats snapshot metadata in one line.
func FormatSnapshot(s *revision.Snapshot) string {
	if s == nil {
		return subtleStyle.Render("no snapshot")
	}
	return fmt.Sprintf("%s  %s  %d bytes  %s",
		titleStyle.Render(fmt.Sprintf("snapshot@%d", s.RevID)),
		subtleStyle.Render(fmt.Sprintf("(base %d)", s.BaseRevID)),
		len(s.Data),
		FormatTimeAgo(time.Unix(s.Timestamp, 0)))
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		return t.Format("2006-01-02")
	}
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPENDING:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
