// Package transport bridges an rga.Replica's subscription bus to a
// bidirectional WebSocket connection, per spec.md §4.3 ("tieToSocket") and
// §6 ("Wire format"). It also implements the hand-rolled RFC 6455 framing
// the teacher repo used for its own WebSocket upgrade handler, generalized
// from a stub into a complete reader/writer.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/jorendorff/peeredit/rga"
)

// Downstream message kinds, per spec.md §6.
const (
	kindAddRight = "addRight"
	kindRemove   = "remove"
)

// wireAtom mirrors the {timestamp, atom} pair spec.md §6 nests inside an
// addRight downstream message.
type wireAtom struct {
	Timestamp rga.Timestamp `json:"timestamp"`
	Atom      string        `json:"atom"`
}

// downstreamMsg is the single wire shape carrying both op kinds: T is the
// anchor of an addRight or the target of a remove, and W is populated only
// for addRight. Keeping one struct
// (rather than two message types) matches the teacher's own single
// session.Message envelope in session/session.go.
type downstreamMsg struct {
	Type string        `json:"type"`
	T    rga.Timestamp `json:"t,omitempty"`
	W    *wireAtom     `json:"w,omitempty"`
}

// welcomeMsg is sent once, server to client, on connect (spec.md §6).
type welcomeMsg struct {
	ID      int      `json:"id"`
	History []opJSON `json:"history"`
}

// opJSON is the JSON encoding of a single rga.Op, used inside a welcome
// message's history list. It reuses downstreamMsg's shape since a history
// entry and a downstream message carry the same information.
type opJSON = downstreamMsg

func encodeOp(op rga.Op) downstreamMsg {
	switch o := op.(type) {
	case rga.AddRightOp:
		atom := string(o.Atom)
		return downstreamMsg{Type: kindAddRight, T: o.After, W: &wireAtom{Timestamp: o.W, Atom: atom}}
	case rga.RemoveOp:
		return downstreamMsg{Type: kindRemove, T: o.Target}
	default:
		panic(fmt.Sprintf("transport: unknown op type %T", op))
	}
}

func decodeOp(msg downstreamMsg) (rga.Op, error) {
	switch msg.Type {
	case kindAddRight:
		if msg.W == nil {
			return nil, fmt.Errorf("transport: addRight message missing w")
		}
		runes := []rune(msg.W.Atom)
		if len(runes) != 1 {
			return nil, fmt.Errorf("transport: addRight atom %q is not a single rune", msg.W.Atom)
		}
		return rga.AddRightOp{After: msg.T, W: msg.W.Timestamp, Atom: runes[0]}, nil
	case kindRemove:
		return rga.RemoveOp{Target: msg.T}, nil
	default:
		return nil, fmt.Errorf("transport: unknown message type %q", msg.Type)
	}
}

func marshalOp(op rga.Op) ([]byte, error) {
	return json.Marshal(encodeOp(op))
}

func unmarshalOp(data []byte) (rga.Op, error) {
	var msg downstreamMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return decodeOp(msg)
}

func marshalWelcome(id int, history []rga.Op) ([]byte, error) {
	entries := make([]opJSON, len(history))
	for i, op := range history {
		entries[i] = encodeOp(op)
	}
	return json.Marshal(welcomeMsg{ID: id, History: entries})
}

func unmarshalWelcome(data []byte) (id int, history []rga.Op, err error) {
	var msg welcomeMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, nil, err
	}
	history = make([]rga.Op, len(msg.History))
	for i, entry := range msg.History {
		op, err := decodeOp(entry)
		if err != nil {
			return 0, nil, fmt.Errorf("transport: welcome history[%d]: %w", i, err)
		}
		history[i] = op
	}
	return msg.ID, history, nil
}
