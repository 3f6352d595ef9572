package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run starts a bubbletea program rendering editor under title and blocks
// until the user quits (ctrl+c or esc) or the program is otherwise
// stopped. The Editor's change notifications begin flowing as soon as the
// program starts processing key events.
func Run(editor *Editor, title string) error {
	model := NewModel(editor, title)
	program := tea.NewProgram(model, tea.WithAltScreen())
	editor.SetProgram(program)
	_, err := program.Run()
	return err
}
