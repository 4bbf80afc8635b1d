package repl

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"podstash/internal/app"
	"podstash/internal/domain"
	"podstash/internal/queue"
	"podstash/internal/theme"
)

const (
	maxMessages  = 200
	maxPanelRows = 8
)

// snapshotMsg carries a queue snapshot into the update loop.
type snapshotMsg queue.Snapshot

type model struct {
	ctx      context.Context
	app      *app.App
	input    textinput.Model
	bar      progress.Model
	theme    theme.Theme
	history  []string
	histPos  int
	messages []string
	quitting bool

	snapshot    queue.Snapshot
	snapshots   <-chan queue.Snapshot
	unsubscribe func()
}

func newModel(ctx context.Context, application *app.App) model {
	ti := textinput.New()
	ti.Placeholder = "help"
	ti.Focus()
	ti.Prompt = "podstash> "
	ti.CharLimit = 512
	ti.Width = 80

	th := theme.ForName(application.Config().ColorTheme)
	snapshots, unsubscribe := application.Queue().Subscribe()

	return model{
		ctx:         ctx,
		app:         application,
		input:       ti,
		bar:         progress.New(progress.WithGradient(th.ProgressStart, th.ProgressEnd), progress.WithWidth(30)),
		theme:       th,
		history:     make([]string, 0, 32),
		messages:    []string{th.Message.Render("podstash ready. Type 'help' for assistance.")},
		snapshots:   snapshots,
		unsubscribe: unsubscribe,
	}
}

func waitForSnapshot(ch <-chan queue.Snapshot) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForSnapshot(m.snapshots))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		if msg.Version >= m.snapshot.Version {
			m.snapshot = queue.Snapshot(msg)
		}
		return m, waitForSnapshot(m.snapshots)
	case tea.WindowSizeMsg:
		width := msg.Width - len(m.input.Prompt) - 2
		if width > 10 {
			m.input.Width = width
		}
		if barWidth := msg.Width / 3; barWidth > 10 {
			m.bar.Width = barWidth
		}
		return m, nil
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m.quit()
		case tea.KeyEnter:
			return m.handleSubmit()
		case tea.KeyUp:
			m.recall(-1)
			return m, nil
		case tea.KeyDown:
			m.recall(1)
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// recall walks the command history; moving past the newest entry clears the input.
func (m *model) recall(step int) {
	if len(m.history) == 0 {
		return
	}
	pos := m.histPos + step
	if pos < 0 {
		pos = 0
	}
	if pos >= len(m.history) {
		m.histPos = len(m.history)
		m.input.SetValue("")
		return
	}
	m.histPos = pos
	m.input.SetValue(m.history[pos])
	m.input.CursorEnd()
}

func (m model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return m, tea.Quit
}

func (m model) View() string {
	var b strings.Builder
	for _, message := range m.messages {
		b.WriteString(message)
		b.WriteString("\n")
	}
	if panel := m.renderQueue(); panel != "" {
		b.WriteString(panel)
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	if !m.quitting {
		b.WriteString("\n")
	}
	return b.String()
}

// renderQueue draws the tasks that are still pending, running or paused.
func (m model) renderQueue() string {
	var active []domain.DownloadTask
	for _, task := range m.snapshot.Tasks {
		if !task.State.Terminal() {
			active = append(active, task)
		}
	}
	if len(active) == 0 {
		return ""
	}

	lines := []string{m.theme.Header.Render(fmt.Sprintf("Downloads (%d active)", len(active)))}
	for i, task := range active {
		if i == maxPanelRows {
			lines = append(lines, m.theme.Dim.Render(fmt.Sprintf("... %d more", len(active)-maxPanelRows)))
			break
		}
		state := m.theme.State(task.State).Render(fmt.Sprintf("%-11s", task.State))
		lines = append(lines, fmt.Sprintf("%s %s %s", state, m.bar.ViewAs(task.Progress), truncate(task.Title, 40)))
	}
	return m.theme.Panel.Render(strings.Join(lines, "\n"))
}

func (m model) handleSubmit() (tea.Model, tea.Cmd) {
	command := strings.TrimSpace(m.input.Value())
	if command != "" {
		m.history = append(m.history, command)
	}
	m.histPos = len(m.history)
	m.input.SetValue("")

	if command == "" {
		return m, nil
	}

	result, err := m.app.Execute(m.ctx, command)
	if err != nil {
		m.addMessage(m.theme.Error.Render(err.Error()))
		return m, nil
	}

	if result.Message != "" {
		m.addMessage(result.Message)
	}

	if result.Quit {
		return m.quit()
	}

	return m, nil
}

func (m *model) addMessage(message string) {
	m.messages = append(m.messages, message)
	if over := len(m.messages) - maxMessages; over > 0 {
		m.messages = m.messages[over:]
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
