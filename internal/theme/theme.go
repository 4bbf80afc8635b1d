package theme

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"podstash/internal/domain"
)

// Theme captures the lipgloss styles used by the shell and the queue panel.
type Theme struct {
	Message lipgloss.Style
	Header  lipgloss.Style
	Dim     lipgloss.Style
	Error   lipgloss.Style
	Panel   lipgloss.Style

	// ProgressStart and ProgressEnd feed the gradient of the progress bars.
	ProgressStart string
	ProgressEnd   string

	states map[domain.TaskState]lipgloss.Style
}

// Default is the canonical name of the built-in default theme.
const Default = "default"

var themes = map[string]Theme{
	Default: {
		Message:       lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
		Header:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
		Dim:           lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Error:         lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Panel:         lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
		ProgressStart: "#5A56E0",
		ProgressEnd:   "#EE6FF8",
		states: map[domain.TaskState]lipgloss.Style{
			domain.TaskPending:     lipgloss.NewStyle().Foreground(lipgloss.Color("246")),
			domain.TaskDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			domain.TaskPaused:      lipgloss.NewStyle().Foreground(lipgloss.Color("111")),
			domain.TaskCompleted:   lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
			domain.TaskFailed:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			domain.TaskCancelled:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		},
	},
	"high_contrast": {
		Message:       lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
		Header:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Dim:           lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		Error:         lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		Panel:         lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(lipgloss.Color("15")).Padding(0, 1),
		ProgressStart: "#00FFFF",
		ProgressEnd:   "#FFFF00",
		states: map[domain.TaskState]lipgloss.Style{
			domain.TaskPending:     lipgloss.NewStyle().Foreground(lipgloss.Color("15")),
			domain.TaskDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true),
			domain.TaskPaused:      lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
			domain.TaskCompleted:   lipgloss.NewStyle().Foreground(lipgloss.Color("118")).Bold(true),
			domain.TaskFailed:      lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
			domain.TaskCancelled:   lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		},
	},
}

// State returns the style for a task state label.
func (t Theme) State(state domain.TaskState) lipgloss.Style {
	if style, ok := t.states[state]; ok {
		return style
	}
	return t.Dim
}

// Names returns the sorted list of available theme names.
func Names() []string {
	names := make([]string, 0, len(themes))
	for name := range themes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForName returns the theme with the provided name, defaulting if unknown.
func ForName(name string) Theme {
	key := strings.ToLower(strings.TrimSpace(name))
	if theme, ok := themes[key]; ok {
		return theme
	}
	return themes[Default]
}
