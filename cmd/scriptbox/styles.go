// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Color palette shared by every command.
const (
	// ColorPrimary is used for titles and result headers.
	ColorPrimary = lipgloss.Color("#7C3AED")
	// ColorMuted is used for secondary text and type names.
	ColorMuted = lipgloss.Color("#6B7280")
	// ColorSuccess is used for values and confirmations.
	ColorSuccess = lipgloss.Color("#10B981")
	// ColorError is used for exceptions and compile errors.
	ColorError = lipgloss.Color("#EF4444")
	// ColorWarning is used for warnings.
	ColorWarning = lipgloss.Color("#F59E0B")
	// ColorHighlight is used for keys and commands.
	ColorHighlight = lipgloss.Color("#3B82F6")
	// ColorVerbose is used for tree branches and supplementary details.
	ColorVerbose = lipgloss.Color("#9CA3AF")
)

var (
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and descriptions.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// SuccessStyle is for values and positive outcomes.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	// ErrorStyle is for exceptions and failures.
	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	// WarningStyle is for warnings.
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for keys, commands and code.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	// VerboseStyle is for supplementary information.
	VerboseStyle = lipgloss.NewStyle().
			Foreground(ColorVerbose)

	// headerStyle renders result headers.
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// typeStyle renders type names next to values.
	typeStyle = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Italic(true)

	// promptStyle renders the REPL prompt.
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHighlight)
)
