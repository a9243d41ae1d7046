// Package fancy renders lipgloss trees and styled text for CLI output.
package fancy

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
)

var (
	ColorBlue     = lipgloss.Color("39")
	ColorGreen    = lipgloss.Color("82")
	ColorYellow   = lipgloss.Color("228")
	ColorCyan     = lipgloss.Color("45")
	ColorOrange   = lipgloss.Color("208")
	ColorRed      = lipgloss.Color("196")
	ColorGray     = lipgloss.Color("250")
	ColorWhite    = lipgloss.Color("15")
	ColorDarkGray = lipgloss.Color("240")
)

var (
	RootStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(ColorGray).
			Italic(true)

	BranchStyle = lipgloss.NewStyle().
			Foreground(ColorDarkGray)

	KeyStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	ScriptStyle = lipgloss.NewStyle().
			Foreground(ColorOrange)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	ValidStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)
)

// Tree returns a tree with rounded, dimmed branches.
func Tree() *tree.Tree {
	t := tree.New()
	t.EnumeratorStyle(BranchStyle)
	t.Enumerator(tree.RoundedEnumerator)
	return t
}

// BranchNode returns a subtree whose root is a bold title followed by dimmed detail.
func BranchNode(title, detail string) *tree.Tree {
	root := HeaderStyle.Render(title)
	if detail != "" {
		root = lipgloss.JoinHorizontal(lipgloss.Top, root, " ", InfoStyle.Render(detail))
	}
	t := tree.New().Root(root)
	t.EnumeratorStyle(BranchStyle)
	t.Enumerator(tree.RoundedEnumerator)
	return t
}

// KeyValue renders "key: value" with the key highlighted.
func KeyValue(key, value string) string {
	return KeyStyle.Render(key+":") + " " + value
}

// ValidText styles a success message.
func ValidText(text string) string {
	return ValidStyle.Render(text)
}

// ErrorText styles a failure message.
func ErrorText(text string) string {
	return ErrorStyle.Render(text)
}

// WarnText styles a warning.
func WarnText(text string) string {
	return WarnStyle.Render(text)
}

// PathText styles a file path.
func PathText(text string) string {
	return InfoStyle.Render(text)
}

// ScriptText styles a script excerpt.
func ScriptText(text string) string {
	return ScriptStyle.Render(text)
}

// TruncateString shortens s to at most maxLength runes, ending with "...".
func TruncateString(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(r[:maxLength])
	}
	return string(r[:maxLength-3]) + "..."
}

// FirstLine returns the first non-empty line of s, truncated to maxLength.
func FirstLine(s string, maxLength int) string {
	for line := range splitLines(s) {
		if line != "" {
			return TruncateString(line, maxLength)
		}
	}
	return ""
}
