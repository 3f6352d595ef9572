package rga

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// node is a single atom in the sequence. after records the original anchor
// named by the addRight that created it — not necessarily its current list
// predecessor, since concurrent siblings may later be threaded in between
// — which is what makes History replayable deterministically (spec.md
// §4.2's "enumerates nodes in list order; each node contributes one
// addRight (after its predecessor's timestamp)").
type node struct {
	ts      Timestamp
	after   Timestamp
	atom    rune
	removed bool
	next    *node
}

// Sink receives operations a Replica has locally applied, whether they
// were generated locally or integrated from a peer. tie and TieToSocket
// install Sinks; a Replica's broadcast skips whichever Sink delivered the
// op in the first place, preventing echo (spec.md §4.2 "Broadcast").
type Sink interface {
	Deliver(op Op)
}

// Replica is one instance of the RGA CRDT, identified by a small integer
// id unique among replicas that will ever be tied together or bridged over
// a shared transport.
type Replica struct {
	mu          sync.Mutex
	id          uint16
	clock       clock
	left        *node
	index       map[Timestamp]*node
	length      int
	subs        []Sink
	queue       Queue
	logger      *slog.Logger
}

// Option configures a Replica at construction.
type Option func(*Replica)

// WithLogger overrides the replica's structured logger (default:
// slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(r *Replica) { r.logger = l }
}

// WithQueue overrides the replica's broadcast-deferral queue (default: a
// fresh InlineFIFOQueue). Tests typically pass a *ManualQueue.
func WithQueue(q Queue) Option {
	return func(r *Replica) { r.queue = q }
}

// New creates an empty replica with the given id, which must lie in
// [0, 2^ReplicaBits).
func New(id int, opts ...Option) (*Replica, error) {
	if id < 0 || id > MaxReplicaID {
		return nil, &Error{Kind: ErrInvalidReplicaID, Timestamp: Left, Op: fmt.Sprintf("New(%d)", id)}
	}
	left := &node{ts: Left}
	r := &Replica{
		id:    uint16(id),
		clock: clock{replicaID: uint16(id)},
		left:  left,
		index: map[Timestamp]*node{Left: left},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.queue == nil {
		r.queue = NewInlineFIFOQueue()
	}
	return r, nil
}

// NewFromHistory creates a replica with the given id and replays history
// deterministically, as any other replay of the same history would
// (spec.md §8, testable property 2).
func NewFromHistory(id int, history []Op, opts ...Option) (*Replica, error) {
	r, err := New(id, opts...)
	if err != nil {
		return nil, err
	}
	for _, op := range history {
		if err := r.Apply(op, nil); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ID returns the replica's id.
func (r *Replica) ID() int {
	return int(r.id)
}

// AddRight inserts atom immediately to the right of after, which must be
// present and not removed. It mints a fresh timestamp, integrates the
// insertion locally, broadcasts it to subscribers, and returns the new
// timestamp.
func (r *Replica) AddRight(after Timestamp, atom rune) (Timestamp, error) {
	r.mu.Lock()
	p, ok := r.index[after]
	if !ok || p.removed {
		r.mu.Unlock()
		err := &Error{Kind: ErrPrecondition, Timestamp: after, Op: "AddRight"}
		r.logger.Warn("addRight precondition violated", "after", after)
		return 0, err
	}
	w := r.clock.mint()
	r.integrateAddRight(after, w, atom)
	r.mu.Unlock()

	r.broadcast(AddRightOp{After: after, W: w, Atom: atom}, nil)
	return w, nil
}

// Remove tombstones t, which must be present and not already removed.
func (r *Replica) Remove(t Timestamp) error {
	r.mu.Lock()
	n, ok := r.index[t]
	if !ok || n.removed {
		r.mu.Unlock()
		err := &Error{Kind: ErrPrecondition, Timestamp: t, Op: "Remove"}
		r.logger.Warn("remove precondition violated", "target", t)
		return err
	}
	n.removed = true
	r.length--
	r.mu.Unlock()

	r.broadcast(RemoveOp{Target: t}, nil)
	return nil
}

// Apply integrates a foreign op without generating it: either a remote op
// arriving over the transport, or a replayed history entry (sender nil).
// Duplicate addRight (already indexed) and duplicate remove (already
// tombstoned) are silently absorbed, per spec.md's idempotence policy; any
// other failure is returned and not rebroadcast.
func (r *Replica) Apply(op Op, sender Sink) error {
	r.mu.Lock()
	var applied bool
	var err error
	switch o := op.(type) {
	case AddRightOp:
		applied, err = r.applyAddRightLocked(o)
	case RemoveOp:
		applied, err = r.applyRemoveLocked(o)
	default:
		err = fmt.Errorf("rga: unknown op type %T", op)
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("apply failed", "err", err)
		return err
	}
	if applied {
		r.broadcast(op, sender)
	}
	return nil
}

func (r *Replica) applyAddRightLocked(o AddRightOp) (bool, error) {
	if _, exists := r.index[o.W]; exists {
		return false, nil
	}
	if _, ok := r.index[o.After]; !ok {
		return false, &Error{Kind: ErrUnknownReference, Timestamp: o.After, Op: "addRight"}
	}
	r.integrateAddRight(o.After, o.W, o.Atom)
	return true, nil
}

func (r *Replica) applyRemoveLocked(o RemoveOp) (bool, error) {
	n, ok := r.index[o.Target]
	if !ok {
		return false, &Error{Kind: ErrUnknownReference, Timestamp: o.Target, Op: "remove"}
	}
	if n.removed {
		return false, nil
	}
	n.removed = true
	r.length--
	return true, nil
}

// integrateAddRight performs the deterministic placement walk of spec.md
// §4.2: locate the anchor, then walk successors while their timestamp
// exceeds the new node's, so that among siblings sharing an anchor larger
// timestamps always sort first (invariant 3). Caller holds r.mu and has
// already verified after is present.
func (r *Replica) integrateAddRight(after, w Timestamp, atom rune) {
	p := r.index[after]
	s := p.next
	for s != nil && w < s.ts {
		p = s
		s = s.next
	}
	n := &node{ts: w, after: after, atom: atom, next: s}
	p.next = n
	r.index[w] = n
	r.length++
	r.clock.observe(w)
}

// broadcast schedules op's delivery to every current subscriber except
// sender, via the replica's Queue, so delivery never synchronously
// re-enters a subscriber mid-call (spec.md §5).
func (r *Replica) broadcast(op Op, sender Sink) {
	r.mu.Lock()
	subs := make([]Sink, len(r.subs))
	copy(subs, r.subs)
	q := r.queue
	r.mu.Unlock()

	for _, s := range subs {
		if s == sender {
			continue
		}
		sink := s
		q.Schedule(func() { sink.Deliver(op) })
	}
}

// On registers s to receive every op this replica applies locally,
// excluding ops that arrived from s itself.
func (r *Replica) On(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing == s {
			return
		}
	}
	r.subs = append(r.subs, s)
}

// Off unsubscribes s.
func (r *Replica) Off(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.subs {
		if existing == s {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

// Text returns the concatenation of atoms of non-removed nodes in list
// order.
func (r *Replica) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for cur := r.left.next; cur != nil; cur = cur.next {
		if !cur.removed {
			b.WriteRune(cur.atom)
		}
	}
	return b.String()
}

// Len returns the number of non-removed atoms.
func (r *Replica) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// History returns an ordered sequence of operations that, replayed on a
// fresh replica via NewFromHistory, reconstructs this replica's state.
func (r *Replica) History() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ops []Op
	for cur := r.left.next; cur != nil; cur = cur.next {
		ops = append(ops, AddRightOp{After: cur.after, W: cur.ts, Atom: cur.atom})
		if cur.removed {
			ops = append(ops, RemoveOp{Target: cur.ts})
		}
	}
	return ops
}

// VisibleTimestamps returns the timestamps of non-removed nodes in list
// order. The reconciliation layer uses it to walk the document in lock
// step with a diff patch's retain/delete cursor.
func (r *Replica) VisibleTimestamps() []Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Timestamp
	for cur := r.left.next; cur != nil; cur = cur.next {
		if !cur.removed {
			out = append(out, cur.ts)
		}
	}
	return out
}

// Status reports whether t is present in the index and, if so, whether it
// is tombstoned.
func (r *Replica) Status(t Timestamp) (present, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.index[t]
	if !ok {
		return false, false
	}
	return true, n.removed
}

// AtomAt returns the atom stored at t, regardless of whether t is
// tombstoned. Used by the reconciliation layer to compute the span of a
// remote remove before translating it into an editor mutation.
func (r *Replica) AtomAt(t Timestamp) (rune, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.index[t]
	if !ok || n == r.left {
		return 0, &Error{Kind: ErrUnknownReference, Timestamp: t, Op: "AtomAt"}
	}
	return n.atom, nil
}

func advanceRowCol(row, col int, atom rune) (int, int) {
	if atom == '\n' {
		return row + 1, 0
	}
	return row, col + 1
}

// RowColBefore returns the row/column position immediately to the left of
// node t, counting only visible atoms and treating '\n' as a row break.
// Used when translating a remote remove into an editor mutation.
func (r *Replica) RowColBefore(t Timestamp) (row, col int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[t]; !ok {
		return 0, 0, &Error{Kind: ErrUnknownReference, Timestamp: t, Op: "RowColBefore"}
	}
	for cur := r.left.next; cur != nil; cur = cur.next {
		if cur.ts == t {
			return row, col, nil
		}
		if !cur.removed {
			row, col = advanceRowCol(row, col, cur.atom)
		}
	}
	return 0, 0, &Error{Kind: ErrUnknownReference, Timestamp: t, Op: "RowColBefore"}
}

// RowColAfter returns the row/column position where a new node with
// timestamp newTs, inserted after the node named by after, would appear:
// it walks past after itself and any already-present siblings with a
// larger timestamp (the same rule integrateAddRight uses to place them),
// counting only visible atoms. Used when translating a remote addRight
// into an editor mutation.
func (r *Replica) RowColAfter(after, newTs Timestamp) (row, col int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.index[after]
	if !ok {
		return 0, 0, &Error{Kind: ErrUnknownReference, Timestamp: after, Op: "RowColAfter"}
	}
	if p != r.left {
		found := false
		for cur := r.left.next; cur != nil; cur = cur.next {
			if !cur.removed {
				row, col = advanceRowCol(row, col, cur.atom)
			}
			if cur == p {
				found = true
				break
			}
		}
		if !found {
			return 0, 0, &Error{Kind: ErrUnknownReference, Timestamp: after, Op: "RowColAfter"}
		}
	}
	for s := p.next; s != nil && newTs < s.ts; s = s.next {
		if !s.removed {
			row, col = advanceRowCol(row, col, s.atom)
		}
	}
	return row, col, nil
}
