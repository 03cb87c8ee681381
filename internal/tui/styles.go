package tui

import "github.com/charmbracelet/lipgloss"

const spriteIcon = "◆"

var (
	// Palette
	tealColor  = lipgloss.Color("#3fb8af")
	coralColor = lipgloss.Color("#ff6f59")
	sageColor  = lipgloss.Color("#7fb069")
	stoneColor = lipgloss.Color("#a8a39d")

	// Mapped colors for TUI
	primaryColor = tealColor
	accentColor  = lipgloss.Color("#6a9bcc")
	successColor = sageColor
	errorColor   = coralColor
	warningColor = lipgloss.Color("#e8a33d")
	dimTextColor = stoneColor

	// App frame
	appStyle = lipgloss.NewStyle().
			Padding(1, 2)

	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// Form styles
	inputLabelStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	focusedInputStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	blurredInputStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(dimTextColor).
				Padding(0, 1)

	// Status indicators
	statusOK = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	statusFail = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	statusRunning = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	statusPending = lipgloss.NewStyle().
			Foreground(dimTextColor)

	// Help
	helpKeyStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(dimTextColor)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(dimTextColor).
			Italic(true)

	errorMsgStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	successMsgStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	// Chat bubbles
	userLabelStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(primaryColor).
				Bold(true)

	// Box for empty state
	emptyBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimTextColor).
			Foreground(dimTextColor).
			Padding(2, 4).
			Align(lipgloss.Center)

	dividerStyle = lipgloss.NewStyle().
			Foreground(dimTextColor)
)

func helpLine(pairs ...string) string {
	var out string
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			out += helpDescStyle.Render(" • ")
		}
		out += helpKeyStyle.Render(pairs[i]) + helpDescStyle.Render(" "+pairs[i+1])
	}
	return out
}
