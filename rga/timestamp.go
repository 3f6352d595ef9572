// Package rga implements a Replicated Growable Array: an operation-based
// sequence CRDT for collaborative plain-text editing. Replicas converge
// under any order and duplication of causally-broadcast operations.
package rga

import "fmt"

// ReplicaBits is the width, in bits, of the replica-id field packed into
// the low bits of every Timestamp.
const ReplicaBits = 16

// MaxReplicaID is the largest replica id a Timestamp can carry.
const MaxReplicaID = 1<<ReplicaBits - 1

// Timestamp uniquely and totally orders every atom ever inserted into any
// replica. It packs a monotone per-replica counter into the high bits and
// the minting replica's id into the low ReplicaBits bits, so two replicas
// can never mint the same value. Plain integer comparison gives the total
// order used to tie-break concurrent insertions at the same position.
type Timestamp int32

// Left is the sentinel timestamp of the document's left edge. Every
// replica's node list is rooted at a node carrying this timestamp; it is
// never removed. Minted values are non-negative, and so distinct from
// Left, while the counter stays below 2^(31-ReplicaBits); mint does not
// check that bound, and larger counters shift into the sign bit.
const Left Timestamp = -1

func newTimestamp(counter uint32, replicaID uint16) Timestamp {
	return Timestamp(int32(counter)<<ReplicaBits | int32(replicaID))
}

// ReplicaID extracts the minting replica's id from t. Meaningless for Left.
func (t Timestamp) ReplicaID() uint16 {
	return uint16(uint32(t) & MaxReplicaID)
}

// Counter extracts the minting replica's counter value from t. Meaningless
// for Left.
func (t Timestamp) Counter() uint32 {
	return uint32(t) >> ReplicaBits
}

func (t Timestamp) String() string {
	if t == Left {
		return "LEFT"
	}
	return fmt.Sprintf("%d@%d", t.Counter(), t.ReplicaID())
}

// clock mints strictly-increasing timestamps for one replica and advances
// to stay ahead of every foreign timestamp it observes, per spec.md §4.1.
// It never requires a vector clock: only a single counter per replica.
type clock struct {
	replicaID   uint16
	nextCounter uint32
}

func (c *clock) mint() Timestamp {
	t := newTimestamp(c.nextCounter, c.replicaID)
	c.nextCounter++
	return t
}

// observe advances the local counter past any foreign timestamp's counter
// portion, preserving invariant 4 (the next minted timestamp always
// exceeds every counter this replica has observed) without vector clocks.
func (c *clock) observe(t Timestamp) {
	if t == Left {
		return
	}
	if n := t.Counter(); n >= c.nextCounter {
		c.nextCounter = n + 1
	}
}
