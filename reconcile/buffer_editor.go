package reconcile

import (
	"strings"
	"sync"
)

// BufferEditor is an in-memory EditorHandle used by tests (and available
// to any caller that wants a reconciler without a real UI attached). Its
// change notifications are queued rather than delivered inline, so tests
// can reproduce spec.md §8 seed 6 ("slow editor reconciliation"): call a
// mutating method, then Flush() later to simulate the editor's async
// change event finally firing.
type BufferEditor struct {
	mu       sync.Mutex
	value    string
	handlers map[int]func()
	nextID   int
	pending  []func()
}

// NewBufferEditor returns an empty BufferEditor.
func NewBufferEditor() *BufferEditor {
	return &BufferEditor{handlers: make(map[int]func())}
}

// Value returns the buffer's current contents.
func (e *BufferEditor) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// SetValue replaces the buffer's contents wholesale.
func (e *BufferEditor) SetValue(s string) {
	e.mu.Lock()
	e.value = s
	e.mu.Unlock()
	e.notify()
}

// Insert splices s into the buffer at (row, col).
func (e *BufferEditor) Insert(at Position, s string) {
	e.mu.Lock()
	runes := []rune(e.value)
	idx := positionToIndex(e.value, at)
	out := make([]rune, 0, len(runes)+len([]rune(s)))
	out = append(out, runes[:idx]...)
	out = append(out, []rune(s)...)
	out = append(out, runes[idx:]...)
	e.value = string(out)
	e.mu.Unlock()
	e.notify()
}

// Remove deletes the text in span from the buffer.
func (e *BufferEditor) Remove(span Span) {
	e.mu.Lock()
	runes := []rune(e.value)
	start := positionToIndex(e.value, span.Start)
	end := positionToIndex(e.value, span.End)
	out := make([]rune, 0, len(runes)-(end-start))
	out = append(out, runes[:start]...)
	out = append(out, runes[end:]...)
	e.value = string(out)
	e.mu.Unlock()
	e.notify()
}

// LineLength returns the number of runes on the given row, not counting
// the row separator.
func (e *BufferEditor) LineLength(row int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	lines := strings.Split(e.value, "\n")
	if row < 0 || row >= len(lines) {
		return 0
	}
	return len([]rune(lines[row]))
}

// OnChange registers handler to be called (asynchronously — see Flush)
// whenever the buffer's contents change.
func (e *BufferEditor) OnChange(handler func()) Subscription {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = handler
	e.mu.Unlock()
	return Subscription{close: func() {
		e.mu.Lock()
		delete(e.handlers, id)
		e.mu.Unlock()
	}}
}

// Flush runs every change notification queued since the last Flush, in
// the order the mutations occurred.
func (e *BufferEditor) Flush() {
	e.mu.Lock()
	tasks := e.pending
	e.pending = nil
	e.mu.Unlock()
	for _, h := range tasks {
		h()
	}
}

// PendingCount reports how many change notifications are queued.
func (e *BufferEditor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *BufferEditor) notify() {
	e.mu.Lock()
	for _, h := range e.handlers {
		e.pending = append(e.pending, h)
	}
	e.mu.Unlock()
}

// positionToIndex converts a row/column position into a rune offset into
// value, treating '\n' as the row separator.
func positionToIndex(value string, pos Position) int {
	lines := strings.Split(value, "\n")
	idx := 0
	for i := 0; i < pos.Row && i < len(lines); i++ {
		idx += len([]rune(lines[i])) + 1
	}
	idx += pos.Col
	return idx
}
