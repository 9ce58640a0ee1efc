package theme

import (
	"github.com/pterm/pterm"
)

// Theme defines the colour scheme and styling for the application
type Theme struct {
	// Log level colours
	Debug *pterm.Style
	Info  *pterm.Style
	Warn  *pterm.Style
	Error *pterm.Style
	Fatal *pterm.Style

	// Component colours
	Success   *pterm.Style
	Highlight *pterm.Style
	Muted     *pterm.Style
	Accent    *pterm.Style
	Provider  *pterm.Style
	Counts    *pterm.Style

	// Breaker / provider health colours
	Healthy   pterm.Color
	Degraded  pterm.Color
	Tripped   pterm.Color
	Probing   pterm.Color
	Unknown   pterm.Color
	Primary   pterm.Color
	Secondary pterm.Color
}

// Default returns the default application theme
func Default() *Theme {
	return &Theme{
		Debug: pterm.NewStyle(pterm.FgLightBlue),
		Info:  pterm.NewStyle(pterm.FgGreen),
		Warn:  pterm.NewStyle(pterm.FgYellow, pterm.Bold),
		Error: pterm.NewStyle(pterm.FgRed, pterm.Bold),
		Fatal: pterm.NewStyle(pterm.FgWhite, pterm.BgRed, pterm.Bold),

		Success:   pterm.NewStyle(pterm.FgGreen, pterm.Bold),
		Highlight: pterm.NewStyle(pterm.FgCyan, pterm.Bold),
		Muted:     pterm.NewStyle(pterm.FgGray),
		Accent:    pterm.NewStyle(pterm.FgMagenta),
		Provider:  pterm.NewStyle(pterm.FgCyan),
		Counts:    pterm.NewStyle(pterm.FgLightYellow),

		Healthy:   pterm.FgGreen,
		Degraded:  pterm.FgYellow,
		Tripped:   pterm.FgRed,
		Probing:   pterm.FgLightMagenta,
		Unknown:   pterm.FgGray,
		Primary:   pterm.FgBlue,
		Secondary: pterm.FgCyan,
	}
}

// Dark returns a dark theme variant
func Dark() *Theme {
	t := Default()
	t.Info = pterm.NewStyle(pterm.FgLightGreen)
	t.Warn = pterm.NewStyle(pterm.FgLightYellow, pterm.Bold)
	t.Error = pterm.NewStyle(pterm.FgLightRed, pterm.Bold)
	t.Success = pterm.NewStyle(pterm.FgLightGreen, pterm.Bold)
	t.Highlight = pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)
	t.Accent = pterm.NewStyle(pterm.FgLightMagenta)
	t.Provider = pterm.NewStyle(pterm.FgLightCyan)
	t.Healthy = pterm.FgLightGreen
	t.Degraded = pterm.FgLightYellow
	t.Tripped = pterm.FgLightRed
	return t
}

// Light returns a light theme variant
func Light() *Theme {
	t := Default()
	t.Info = pterm.NewStyle(pterm.FgBlack)
	t.Warn = pterm.NewStyle(pterm.FgRed, pterm.Bold)
	t.Highlight = pterm.NewStyle(pterm.FgBlue, pterm.Bold)
	t.Provider = pterm.NewStyle(pterm.FgBlue)
	t.Degraded = pterm.FgRed
	return t
}

// GetTheme returns the appropriate theme based on environment or preference
func GetTheme(name string) *Theme {
	switch name {
	case "dark":
		return Dark()
	case "light":
		return Light()
	default:
		return Default()
	}
}

// ColourSplash Colours for the splash screen
func ColourSplash(message ...any) string {
	return pterm.LightCyan(message...)
}

// ColourVersion Colours version numbers, used for the splash screen
func ColourVersion(message ...any) string {
	return pterm.LightYellow(message...)
}

// StyleUrl Colours for URLs and hyperlinks
func StyleUrl(message ...any) string {
	return pterm.LightBlue(message...)
}

// Hyperlink creates a hyperlink in the terminal
func Hyperlink(uri string, text string) string {
	return "\x1b]8;;" + uri + "\x07" + text + "\x1b]8;;\x07" + "\u001b[0m"
}
