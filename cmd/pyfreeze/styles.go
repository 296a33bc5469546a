// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Color palette shared by all CLI output. Chosen for dark terminal backgrounds.
const (
	// ColorPrimary is purple, used for titles and headers.
	ColorPrimary = lipgloss.Color("#7C3AED")
	// ColorMuted is gray, used for subtitles and secondary text.
	ColorMuted = lipgloss.Color("#6B7280")
	// ColorSuccess is green.
	ColorSuccess = lipgloss.Color("#10B981")
	// ColorError is red.
	ColorError = lipgloss.Color("#EF4444")
	// ColorWarning is amber.
	ColorWarning = lipgloss.Color("#F59E0B")
	// ColorHighlight is blue, used for module names and commands.
	ColorHighlight = lipgloss.Color("#3B82F6")
)

// TitleStyle is for primary headers and section titles.
var TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)

// SubtitleStyle is for secondary headers and descriptions.
var SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)

// SuccessStyle is for success messages.
var SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)

// ErrorStyle is for error messages.
var ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorError)

// WarningStyle is for warnings.
var WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)

// ModuleStyle is for module names, paths and commands.
var ModuleStyle = lipgloss.NewStyle().Foreground(ColorHighlight)
