package repl

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"podstash/internal/app"
)

// Run starts the interactive session and blocks until the user quits.
func Run(ctx context.Context, application *app.App) error {
	m := newModel(ctx, application)
	defer m.unsubscribe()

	program := tea.NewProgram(m, tea.WithContext(ctx))
	_, err := program.Run()
	return err
}
