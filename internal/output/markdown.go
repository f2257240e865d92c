package output

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
)

// TerminalWidth returns the width of stdout, then $COLUMNS, then fallback.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}
	if n, err := strconv.Atoi(os.Getenv("COLUMNS")); err == nil && n > 0 {
		return n
	}
	return fallback
}

// markdownStyle picks the glamour style. REVSYNC_MARKDOWN_STYLE takes a
// standard style name ("dark", "light", "notty", ...) or a path to a JSON
// style file; unset means detect from the terminal background.
func markdownStyle() glamour.TermRendererOption {
	style := os.Getenv("REVSYNC_MARKDOWN_STYLE")
	switch {
	case style == "":
		return glamour.WithAutoStyle()
	case strings.HasSuffix(style, ".json"):
		return glamour.WithStylePath(style)
	default:
		return glamour.WithStandardStyle(style)
	}
}

// RenderMarkdown renders an object's text as markdown wrapped to the terminal.
func RenderMarkdown(text string) (string, error) {
	return RenderMarkdownWithWidth(text, TerminalWidth(defaultMarkdownWidth))
}

// RenderMarkdownWithWidth renders text wrapped at width. Line breaks typed
// into the object are kept.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	renderer, err := glamour.NewTermRenderer(
		markdownStyle(),
		glamour.WithWordWrap(max(width, minMarkdownWidth)),
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return "", err
	}
	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(rendered, "\n"), nil
}
