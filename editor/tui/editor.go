// Package tui implements a terminal reference editor satisfying the
// reconcile.EditorHandle capability set (spec.md §6), built on
// charmbracelet/bubbletea + bubbles/textarea + lipgloss — the same stack
// Polqt-golang-journey/projects/07-tui-gitflow-manager uses for its own
// terminal UI. It exists so the reconciliation layer runs unmodified
// against a real interactive program instead of only reconcile.BufferEditor.
package tui

import (
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jorendorff/peeredit/reconcile"
)

// refreshMsg asks the running Model to re-read Editor's shared text into
// its textarea, without treating the change as user input (so it does not
// trigger a change notification — the mutation that caused it came through
// Insert/Remove/SetValue, none of which notifies change handlers).
type refreshMsg struct{}

// Editor is a reconcile.EditorHandle backed by a running bubbletea
// program. Construct with NewEditor, attach it to a *tea.Program via
// SetProgram once Run starts, and hand it to reconcile.New.
type Editor struct {
	mu       sync.Mutex
	value    string
	handlers map[int]func()
	nextID   int
	program  *tea.Program
}

// NewEditor returns an empty Editor. Call SetProgram before the first
// mutation so UI refreshes are delivered; reconcile.New typically calls
// SetValue immediately on construction, so wire the program first.
func NewEditor() *Editor {
	return &Editor{handlers: make(map[int]func())}
}

// SetProgram attaches the running bubbletea program this Editor's
// mutations should refresh.
func (e *Editor) SetProgram(p *tea.Program) {
	e.mu.Lock()
	e.program = p
	e.mu.Unlock()
}

// Value returns the editor's current contents.
func (e *Editor) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// SetValue replaces the editor's contents wholesale, refreshing the UI but
// not raising a change notification: spec.md's editor handle only fires
// "change" for edits made through the UI itself, and SetValue is always
// the reconciliation layer pushing a snapshot in, never user input.
func (e *Editor) SetValue(s string) {
	e.mu.Lock()
	e.value = s
	e.mu.Unlock()
	e.refreshUI()
}

// Insert splices s into the editor at (row, col), refreshing the UI.
// Called by the reconciliation layer with its own change callback
// detached, so it does not notify handlers (spec.md §4.5 "Callback
// suppression").
func (e *Editor) Insert(at reconcile.Position, s string) {
	e.mu.Lock()
	e.value = spliceInsert(e.value, at, s)
	e.mu.Unlock()
	e.refreshUI()
}

// Remove deletes the text in span, refreshing the UI.
func (e *Editor) Remove(span reconcile.Span) {
	e.mu.Lock()
	e.value = spliceRemove(e.value, span)
	e.mu.Unlock()
	e.refreshUI()
}

// LineLength returns the number of runes on the given row.
func (e *Editor) LineLength(row int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines := strings.Split(e.value, "\n")
	if row < 0 || row >= len(lines) {
		return 0
	}
	return len([]rune(lines[row]))
}

// OnChange registers handler to be called when the user edits text
// through the running UI. Per spec.md §6, the change event carries no
// payload.
func (e *Editor) OnChange(handler func()) reconcile.Subscription {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = handler
	e.mu.Unlock()
	return reconcile.NewSubscription(func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	})
}

// applyUserEdit is called by the running Model when the textarea's
// content no longer matches Editor's last-known value: it records the new
// value and notifies every change handler on its own goroutine, which is
// what makes the notification genuinely asynchronous relative to the
// keystroke that caused it (spec.md §6: "possibly after multiple edits
// have been applied").
func (e *Editor) applyUserEdit(newValue string) {
	e.mu.Lock()
	e.value = newValue
	handlers := make([]func(), 0, len(e.handlers))
	for _, h := range e.handlers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	go func() {
		for _, h := range handlers {
			h()
		}
	}()
}

func (e *Editor) refreshUI() {
	e.mu.Lock()
	p := e.program
	e.mu.Unlock()
	if p != nil {
		p.Send(refreshMsg{})
	}
}

func spliceInsert(value string, at reconcile.Position, s string) string {
	runes := []rune(value)
	idx := positionToIndex(value, at)
	out := make([]rune, 0, len(runes)+len([]rune(s)))
	out = append(out, runes[:idx]...)
	out = append(out, []rune(s)...)
	out = append(out, runes[idx:]...)
	return string(out)
}

func spliceRemove(value string, span reconcile.Span) string {
	runes := []rune(value)
	start := positionToIndex(value, span.Start)
	end := positionToIndex(value, span.End)
	out := make([]rune, 0, len(runes)-(end-start))
	out = append(out, runes[:start]...)
	out = append(out, runes[end:]...)
	return string(out)
}

func positionToIndex(value string, pos reconcile.Position) int {
	lines := strings.Split(value, "\n")
	idx := 0
	for i := 0; i < pos.Row && i < len(lines); i++ {
		idx += len([]rune(lines[i])) + 1
	}
	idx += pos.Col
	return idx
}
