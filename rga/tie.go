package rga

import "errors"

// ErrTieHistoryMismatch is returned by Tie when the two replicas do not
// already share identical history, which Tie requires (spec.md §4.3:
// "it requires both to have identical histories beforehand").
var ErrTieHistoryMismatch = errors.New("rga: tie requires identical histories")

// tieLink forwards ops applied on target to its peer link, and reports
// peer as the sender so target's own broadcast, once it integrates the
// op, will not echo it straight back through this same tie.
type tieLink struct {
	target *Replica
	peer   Sink
}

func (l *tieLink) Deliver(op Op) {
	_ = l.target.Apply(op, l.peer)
}

// Tie installs a as a subscriber of b and vice versa, so every op either
// applies locally is forwarded to the other exactly once, with no echo.
// Both replicas must already have identical text (spec.md §4.3).
func Tie(a, b *Replica) error {
	if a.Text() != b.Text() {
		return ErrTieHistoryMismatch
	}
	linkToB := &tieLink{target: b}
	linkToA := &tieLink{target: a}
	linkToB.peer = linkToA
	linkToA.peer = linkToB
	a.On(linkToB)
	b.On(linkToA)
	return nil
}

// Untie reverses a prior Tie between a and b. Both sides of the link must
// have been created by the same Tie call; calling Untie on replicas that
// were never tied is a no-op.
func Untie(a, b *Replica) {
	a.mu.Lock()
	var linkToB Sink
	for _, s := range a.subs {
		if l, ok := s.(*tieLink); ok && l.target == b {
			linkToB = s
			break
		}
	}
	a.mu.Unlock()
	if linkToB != nil {
		a.Off(linkToB)
	}

	b.mu.Lock()
	var linkToA Sink
	for _, s := range b.subs {
		if l, ok := s.(*tieLink); ok && l.target == a {
			linkToA = s
			break
		}
	}
	b.mu.Unlock()
	if linkToA != nil {
		b.Off(linkToA)
	}
}
