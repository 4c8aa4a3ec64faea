// Package theme holds the terminal chat's styles and glyphs. Colours adapt
// to light and dark backgrounds; lipgloss drops them under NO_COLOR.
package theme

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// MaxContentWidth caps the width used to wrap rendered answers.
const MaxContentWidth = 100

func adaptive(light, dark string) lipgloss.AdaptiveColor {
	return lipgloss.AdaptiveColor{Light: light, Dark: dark}
}

var (
	ColorInfo = adaptive("#0277bd", "#4fc3f7")

	accent = adaptive("#6a1b9a", "#ce93d8")
	alert  = adaptive("#c62828", "#ef5350")
	tool   = adaptive("#e65100", "#ffa726")
	muted  = adaptive("#757575", "#9e9e9e")
	faint  = adaptive("#9e9e9e", "#757575")
	rule   = adaptive("#bdbdbd", "#616161")
	panel  = adaptive("#f5f5f5", "#2d2d2d")
)

var (
	Dim       = lipgloss.NewStyle().Faint(true)
	TextError = lipgloss.NewStyle().Foreground(alert).Bold(true)
	TextMuted = lipgloss.NewStyle().Foreground(muted)

	UserLabel     = lipgloss.NewStyle().Foreground(ColorInfo).Bold(true)
	BotLabel      = lipgloss.NewStyle().Foreground(accent).Bold(true)
	ToolLabel     = lipgloss.NewStyle().Foreground(tool)
	Timestamp     = lipgloss.NewStyle().Foreground(faint).Faint(true)
	TurnSeparator = lipgloss.NewStyle().Foreground(rule)

	Header      = lipgloss.NewStyle().Foreground(accent).Bold(true).Padding(0, 1)
	StatusBar   = lipgloss.NewStyle().Foreground(faint).Background(panel).Padding(0, 1)
	InputBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(rule).Padding(0, 1)
)

// Glyphs are the marks drawn around turns.
type Glyphs struct {
	Arrow  string
	Bullet string
	Fail   string
	You    string
	Bot    string
}

// Sym is chosen once for the current terminal.
var Sym = pickGlyphs(os.Getenv)

func pickGlyphs(getenv func(string) string) Glyphs {
	if Unicode(getenv) {
		return Glyphs{Arrow: "→", Bullet: "•", Fail: "✗", You: "You", Bot: "wikichat"}
	}
	return Glyphs{Arrow: "->", Bullet: "*", Fail: "[ERR]", You: "You", Bot: "wikichat"}
}

// Unicode reports whether the terminal likely renders non-ASCII glyphs.
// WIKICHAT_ASCII_SYMBOLS=1 or TERM=dumb forces ASCII. A locale that is set
// but not UTF-8 does too; an unset locale is assumed to be UTF-8.
func Unicode(getenv func(string) string) bool {
	if v := getenv("WIKICHAT_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	if getenv("TERM") == "dumb" {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		if v := strings.ToLower(getenv(key)); v != "" {
			return strings.Contains(v, "utf-8") || strings.Contains(v, "utf8")
		}
	}
	return true
}

// Clamp returns v limited to [lo, hi].
func Clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
