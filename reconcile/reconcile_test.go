package reconcile_test

import (
	"strings"
	"testing"

	"github.com/jorendorff/peeredit/reconcile"
	"github.com/jorendorff/peeredit/rga"
)

// forwardSink relays every op applied to one replica straight into
// another, marking sender so the target's own rebroadcast doesn't bounce
// the op straight back. It stands in for a transport or tie link in
// tests that don't need a real socket.
type forwardSink struct {
	target *rga.Replica
	sender rga.Sink
}

func (f *forwardSink) Deliver(op rga.Op) {
	_ = f.target.Apply(op, f.sender)
}

func mustReplica(t *testing.T, id int, opts ...rga.Option) *rga.Replica {
	t.Helper()
	r, err := rga.New(id, opts...)
	if err != nil {
		t.Fatalf("rga.New(%d): %v", id, err)
	}
	return r
}

func TestNewSnapshotsReplicaIntoEditor(t *testing.T) {
	p := mustReplica(t, 0)
	var prev rga.Timestamp = rga.Left
	for _, ch := range "seed" {
		w, err := p.AddRight(prev, ch)
		if err != nil {
			t.Fatal(err)
		}
		prev = w
	}
	editor := reconcile.NewBufferEditor()
	reconcile.New(p, editor)
	if got := editor.Value(); got != "seed" {
		t.Fatalf("editor.Value() after New = %q, want %q", got, "seed")
	}
}

func TestUserEditTranslatesToReplicaOps(t *testing.T) {
	p := mustReplica(t, 0)
	editor := reconcile.NewBufferEditor()
	reconcile.New(p, editor)

	editor.SetValue("hello world")
	editor.Flush()

	if got := p.Text(); got != "hello world" {
		t.Fatalf("p.Text() = %q, want %q", got, "hello world")
	}
}

func TestUserEditWithRetainDeleteInsertMix(t *testing.T) {
	p := mustReplica(t, 0)
	var prev rga.Timestamp = rga.Left
	for _, ch := range "the cat sat" {
		w, err := p.AddRight(prev, ch)
		if err != nil {
			t.Fatal(err)
		}
		prev = w
	}
	editor := reconcile.NewBufferEditor()
	reconcile.New(p, editor)

	editor.SetValue("the dog sat")
	editor.Flush()

	if got := p.Text(); got != "the dog sat" {
		t.Fatalf("p.Text() = %q, want %q", got, "the dog sat")
	}
}

func TestRemoteOpsPropagateToEditor(t *testing.T) {
	pq := rga.NewManualQueue()
	qq := rga.NewManualQueue()
	p := mustReplica(t, 0, rga.WithQueue(pq))

	var prev rga.Timestamp = rga.Left
	for _, ch := range "ab" {
		w, err := p.AddRight(prev, ch)
		if err != nil {
			t.Fatal(err)
		}
		prev = w
	}

	q, err := rga.NewFromHistory(1, p.History(), rga.WithQueue(qq))
	if err != nil {
		t.Fatal(err)
	}

	editor := reconcile.NewBufferEditor()
	rc := reconcile.New(p, editor)

	outboundToQ := &forwardSink{target: q}
	remoteLink := reconcile.NewRemoteLink(rc, outboundToQ)
	outboundToQ.sender = remoteLink
	p.On(outboundToQ)
	q.On(remoteLink)

	// Remote insert: q types 'X' between 'a' and 'b'.
	hist := q.History()
	aTs := hist[0].(rga.AddRightOp).W
	if _, err := q.AddRight(aTs, 'X'); err != nil {
		t.Fatal(err)
	}
	qq.Drain()
	pq.Drain()

	if got := editor.Value(); got != "aXb" {
		t.Fatalf("editor.Value() = %q, want %q", got, "aXb")
	}
	if got := p.Text(); got != "aXb" {
		t.Fatalf("p.Text() = %q, want %q", got, "aXb")
	}

	// Remote remove: q deletes the 'X'.
	var xTs rga.Timestamp
	for _, op := range q.History() {
		if ar, ok := op.(rga.AddRightOp); ok && ar.Atom == 'X' {
			xTs = ar.W
		}
	}
	if err := q.Remove(xTs); err != nil {
		t.Fatal(err)
	}
	qq.Drain()
	pq.Drain()

	if got := editor.Value(); got != "ab" {
		t.Fatalf("editor.Value() after remote remove = %q, want %q", got, "ab")
	}
	if got := p.Text(); got != "ab" {
		t.Fatalf("p.Text() = %q, want %q", got, "ab")
	}
}

// TestSlowEditorReconciliation reproduces spec.md §8 seed 6: a user edit
// sitting unflushed in the editor's async notification queue must be
// drained and translated before a concurrently-arriving remote op is
// allowed to touch either the replica or the editor.
func TestSlowEditorReconciliation(t *testing.T) {
	pq := rga.NewManualQueue()
	qq := rga.NewManualQueue()
	p := mustReplica(t, 0, rga.WithQueue(pq))

	var prev rga.Timestamp = rga.Left
	var afterE rga.Timestamp
	for _, ch := range "HOME RUN" {
		w, err := p.AddRight(prev, ch)
		if err != nil {
			t.Fatal(err)
		}
		if ch == 'E' {
			afterE = w
		}
		prev = w
	}

	q, err := rga.NewFromHistory(1, p.History(), rga.WithQueue(qq))
	if err != nil {
		t.Fatal(err)
	}

	editor := reconcile.NewBufferEditor()
	rc := reconcile.New(p, editor)

	outboundToQ := &forwardSink{target: q}
	remoteLink := reconcile.NewRemoteLink(rc, outboundToQ)
	outboundToQ.sender = remoteLink
	p.On(outboundToQ)
	q.On(remoteLink)

	// The user deletes the space. The editor's own change notification for
	// this is buffered, not yet delivered to the reconciler.
	spaceCol := strings.IndexRune(editor.Value(), ' ')
	editor.Remove(reconcile.Span{
		Start: reconcile.Position{Row: 0, Col: spaceCol},
		End:   reconcile.Position{Row: 0, Col: spaceCol + 1},
	})
	if got := editor.Value(); got != "HOMERUN" {
		t.Fatalf("editor.Value() after user edit = %q, want %q", got, "HOMERUN")
	}
	if editor.PendingCount() == 0 {
		t.Fatal("expected the editor's change notification to be buffered")
	}

	// Concurrently, a remote addRight lands right after the space's own
	// predecessor ('E').
	if _, err := q.AddRight(afterE, '*'); err != nil {
		t.Fatal(err)
	}
	qq.Drain()
	pq.Drain()

	if got := p.Text(); got != "HOME*RUN" {
		t.Fatalf("p.Text() = %q, want %q", got, "HOME*RUN")
	}
	if got := editor.Value(); got != "HOME*RUN" {
		t.Fatalf("editor.Value() = %q, want %q", got, "HOME*RUN")
	}
	if got := q.Text(); got != "HOME*RUN" {
		t.Fatalf("q.Text() = %q, want %q", got, "HOME*RUN")
	}

	// Draining the stale (already-reconciled) editor event must change
	// nothing further.
	before := editor.Value()
	editor.Flush()
	if got := editor.Value(); got != before {
		t.Fatalf("stale editor event changed value: %q -> %q", before, got)
	}
	if got := p.Text(); got != editor.Value() {
		t.Fatalf("p.Text() = %q diverged from editor.Value() = %q", got, editor.Value())
	}

	if rc.Stats().UserEditsApplied == 0 {
		t.Fatal("expected at least one user edit to be recorded")
	}
	if rc.Stats().RemoteOpsApplied == 0 {
		t.Fatal("expected at least one remote op to be recorded")
	}
}

func TestInsertingNewlineSplitsRows(t *testing.T) {
	p := mustReplica(t, 0)
	editor := reconcile.NewBufferEditor()
	reconcile.New(p, editor)

	editor.SetValue("ab")
	editor.Flush()
	editor.SetValue("a\nb")
	editor.Flush()

	if got := p.Text(); got != "a\nb" {
		t.Fatalf("p.Text() = %q, want %q", got, "a\nb")
	}
	if got := editor.LineLength(0); got != 1 {
		t.Fatalf("LineLength(0) = %d, want 1", got)
	}
	if got := editor.LineLength(1); got != 1 {
		t.Fatalf("LineLength(1) = %d, want 1", got)
	}
}
