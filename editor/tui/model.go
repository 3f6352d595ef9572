package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Styles, following the register Polqt-golang-journey/projects/07-tui-
// gitflow-manager/tui/app.go uses for its own lipgloss styles.
var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

// Model is the root bubbletea model: a full-screen text area backed by an
// Editor, whose content the reconciliation layer keeps converged with an
// rga.Replica out of band.
type Model struct {
	editor   *Editor
	textarea textarea.Model
	title    string
	width    int
	height   int
}

// NewModel builds a Model rendering editor inside a textarea titled
// title (typically the document id or peer address).
func NewModel(editor *Editor, title string) Model {
	ta := textarea.New()
	ta.Placeholder = "start typing..."
	ta.ShowLineNumbers = true
	ta.SetValue(editor.Value())
	ta.Focus()
	return Model{editor: editor, textarea: ta, title: title}
}

// Init starts the textarea's own cursor-blink command.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update handles bubbletea messages: key presses go to the textarea, and
// any resulting content change is pushed into Editor as a user edit;
// refreshMsg (sent by Editor when the reconciliation layer mutates it
// from outside) re-syncs the textarea's displayed content instead.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.textarea.SetWidth(msg.Width - 4)
		m.textarea.SetHeight(msg.Height - 4)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}

		before := m.textarea.Value()
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		after := m.textarea.Value()
		if after != before {
			m.editor.applyUserEdit(after)
		}
		return m, cmd

	case refreshMsg:
		current := m.editor.Value()
		if current != m.textarea.Value() {
			m.textarea.SetValue(current)
		}
		return m, nil

	default:
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd
	}
}

// View renders the title bar, bordered text area, and a one-line status
// footer.
func (m Model) View() string {
	header := titleStyle.Render(m.title)
	body := borderStyle.Render(m.textarea.View())
	footer := dimStyle.Render(fmt.Sprintf("%d characters · ctrl+c to quit", len([]rune(m.editor.Value()))))
	return header + "\n" + body + "\n" + footer
}
