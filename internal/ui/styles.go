// Package ui renders tt terminal output.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#1F6FEB", Dark: "#58A6FF"}
	passColor   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	failColor   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}

	accentStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(passColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor)
	failStyle   = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	boldStyle   = lipgloss.NewStyle().Bold(true)
)

// Init picks the color profile. NO_COLOR or noColor forces plain text;
// otherwise the profile is detected from the environment.
func Init(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.EnvColorProfile())
	lipgloss.SetHasDarkBackground(termenv.HasDarkBackground())
}

// RenderAccent highlights headings and icons.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass marks success.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn marks something that needs attention but did not fail.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail marks errors.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted dims secondary details.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold emphasises s.
func RenderBold(s string) string { return boldStyle.Render(s) }
