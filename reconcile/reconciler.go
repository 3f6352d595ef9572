package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jorendorff/peeredit/diff"
	"github.com/jorendorff/peeredit/rga"
)

// ErrSyncDrift is returned when the invariant lastText == replica.Text()
// fails to hold at one of the two checkpoints takeUserEdits preserves it
// at. It indicates a bug in the reconciliation logic or the editor handle,
// never a legitimate runtime condition. The reconciler logs it at Error
// level and keeps running; it does not end the session.
var ErrSyncDrift = errors.New("reconcile: lastText diverged from replica text")

// Stats counts reconciliation activity, useful for tests and diagnostics.
type Stats struct {
	UserEditsApplied int
	RemoteOpsApplied int
}

// Reconciler owns one rga.Replica and one EditorHandle and keeps them
// converged. Construct with New.
type Reconciler struct {
	mu        sync.Mutex
	replica   *rga.Replica
	editor    EditorHandle
	lastText  string
	changeSub Subscription
	logger    *slog.Logger
	stats     Stats
}

// Option configures a Reconciler at construction.
type Option func(*Reconciler)

// WithLogger overrides the reconciler's structured logger (default:
// slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(rc *Reconciler) { rc.logger = l }
}

// New snapshots replica's text into editor and subscribes to the editor's
// change event, per spec.md §4.5 "Initialization". It does not by itself
// subscribe to replica's broadcast bus: ops the replica has already
// integrated (whether generated locally or applied from elsewhere) are
// too late for onRemoteOp's "translate, then apply" ordering to mean
// anything. Instead, whoever bridges a peer or transport to this
// reconciler must route inbound ops through RemoteLink (below) rather
// than tying the peer directly to replica.
func New(replica *rga.Replica, editor EditorHandle, opts ...Option) *Reconciler {
	rc := &Reconciler{replica: replica, editor: editor}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.logger == nil {
		rc.logger = slog.Default()
	}

	rc.lastText = replica.Text()
	editor.SetValue(rc.lastText)
	rc.changeSub = editor.OnChange(rc.takeUserEdits)
	return rc
}

// Close detaches the reconciler from the editor's change event.
func (rc *Reconciler) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.changeSub.Close()
}

// Stats reports a snapshot of reconciliation activity counters.
func (rc *Reconciler) Stats() Stats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.stats
}

// RemoteLink is the Sink a peer's outbound broadcast should be tied to in
// place of this reconciler's replica directly (mirroring rga's tieLink,
// but routing through onRemoteOp instead of straight into Apply). Peer
// must be the Sink registered on the reconciler's own replica that
// forwards outbound ops back to that same peer, so that once onRemoteOp
// integrates an inbound op, the replica's re-broadcast correctly excludes
// the link it just arrived on.
type RemoteLink struct {
	rc   *Reconciler
	Peer rga.Sink
}

// NewRemoteLink returns a RemoteLink for rc, forwarding outbound
// rebroadcasts away from peer.
func NewRemoteLink(rc *Reconciler, peer rga.Sink) *RemoteLink {
	return &RemoteLink{rc: rc, Peer: peer}
}

// Deliver implements rga.Sink.
func (l *RemoteLink) Deliver(op rga.Op) {
	l.rc.onRemoteOp(op, l.Peer)
}

// takeUserEdits is the editor's change handler (spec.md §4.5). It is
// called on every editor change, including ones the reconciler itself
// caused — callback suppression (mutateEditorLocked) keeps those from
// reaching here in the first place, but a defensive current==lastText
// check is also always the first thing this does.
func (rc *Reconciler) takeUserEdits() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err := rc.takeUserEditsLocked(); err != nil {
		rc.logger.Error("takeUserEdits failed", "err", err)
	}
}

func (rc *Reconciler) takeUserEditsLocked() error {
	current := rc.editor.Value()
	if current == rc.lastText {
		return nil
	}
	if rc.lastText != rc.replica.Text() {
		return fmt.Errorf("%w: before user edit, lastText=%q replica=%q", ErrSyncDrift, rc.lastText, rc.replica.Text())
	}

	patch := diff.Compute(rc.lastText, current)
	if err := rc.applyPatchLocked(patch); err != nil {
		return fmt.Errorf("reconcile: translating user edit: %w", err)
	}
	rc.lastText = current
	rc.stats.UserEditsApplied++

	if rc.lastText != rc.replica.Text() {
		return fmt.Errorf("%w: after user edit, lastText=%q replica=%q", ErrSyncDrift, rc.lastText, rc.replica.Text())
	}
	return nil
}

// applyPatchLocked translates a diff patch into RGA operations by walking
// the replica's visible node list in lock-step with the patch cursor, per
// spec.md §4.5 step 3: retain(n) advances past n non-removed nodes,
// delete(n) removes the next n, insert(s) chains one addRight per
// character off of the last node the cursor passed (or off of an earlier
// insert in the same run).
func (rc *Reconciler) applyPatchLocked(patch []diff.Op) error {
	visible := rc.replica.VisibleTimestamps()
	idx := 0
	anchor := rga.Left

	for _, op := range patch {
		switch o := op.(type) {
		case diff.Retain:
			for i := 0; i < o.N; i++ {
				if idx >= len(visible) {
					return fmt.Errorf("retain(%d) past end of document at position %d", o.N, idx)
				}
				anchor = visible[idx]
				idx++
			}
		case diff.Delete:
			for i := 0; i < o.N; i++ {
				if idx >= len(visible) {
					return fmt.Errorf("delete(%d) past end of document at position %d", o.N, idx)
				}
				if err := rc.replica.Remove(visible[idx]); err != nil {
					return err
				}
				idx++
			}
		case diff.Insert:
			for _, ch := range o.S {
				w, err := rc.replica.AddRight(anchor, ch)
				if err != nil {
					return err
				}
				anchor = w
			}
		}
	}
	return nil
}

// onRemoteOp handles an operation arriving from a peer (spec.md §4.5).
// sender is passed through to replica.Apply so the replica's rebroadcast,
// once it integrates op, does not echo it straight back to whichever link
// it arrived on.
func (rc *Reconciler) onRemoteOp(op rga.Op, sender rga.Sink) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if err := rc.takeUserEditsLocked(); err != nil {
		rc.logger.Error("onRemoteOp: draining user edits failed", "err", err)
		return
	}

	switch o := op.(type) {
	case rga.AddRightOp:
		if present, _ := rc.replica.Status(o.W); !present {
			row, col, err := rc.replica.RowColAfter(o.After, o.W)
			if err != nil {
				rc.logger.Error("onRemoteOp: RowColAfter failed", "err", err)
			} else {
				atom := string(o.Atom)
				rc.mutateEditorLocked(func() { rc.editor.Insert(Position{Row: row, Col: col}, atom) })
			}
		}
	case rga.RemoveOp:
		if present, removed := rc.replica.Status(o.Target); present && !removed {
			span, err := rc.removeSpanLocked(o.Target)
			if err != nil {
				rc.logger.Error("onRemoteOp: computing remove span failed", "err", err)
			} else {
				rc.mutateEditorLocked(func() { rc.editor.Remove(span) })
			}
		}
	}

	if err := rc.replica.Apply(op, sender); err != nil {
		rc.logger.Error("onRemoteOp: applying to replica failed", "err", err)
		return
	}
	rc.stats.RemoteOpsApplied++

	rc.lastText = rc.editor.Value()
	if rc.lastText != rc.replica.Text() {
		rc.logger.Error("sync drift after remote op", "err", ErrSyncDrift, "lastText", rc.lastText, "replicaText", rc.replica.Text())
	}
}

// removeSpanLocked computes the [start, end) span of the single character
// at t, accounting for t itself being a newline (in which case end falls
// on the following row).
func (rc *Reconciler) removeSpanLocked(t rga.Timestamp) (Span, error) {
	start, col, err := rc.replica.RowColBefore(t)
	if err != nil {
		return Span{}, err
	}
	atom, err := rc.replica.AtomAt(t)
	if err != nil {
		return Span{}, err
	}
	end, endCol := start, col
	if atom == '\n' {
		end, endCol = start+1, 0
	} else {
		endCol++
	}
	return Span{Start: Position{Row: start, Col: col}, End: Position{Row: end, Col: endCol}}, nil
}

// mutateEditorLocked writes to the editor with its change callback
// detached, so the editor's own later, asynchronous change notification
// for this very mutation finds current == lastText and is a no-op
// (spec.md §4.5 "Callback suppression"). Caller holds rc.mu.
func (rc *Reconciler) mutateEditorLocked(mutate func()) {
	rc.changeSub.Close()
	mutate()
	rc.changeSub = rc.editor.OnChange(rc.takeUserEdits)
}
