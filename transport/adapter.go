package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jorendorff/peeredit/rga"
)

// socketSink adapts a WSConn to rga.Sink: delivering an op serializes it
// as a downstream message and writes it to the socket, per spec.md §4.3
// ("tieToSocket creates a sink that serializes each op as a downstream
// message and transmits it").
type socketSink struct {
	ws     *WSConn
	logger *slog.Logger
}

func (s *socketSink) Deliver(op rga.Op) {
	data, err := marshalOp(op)
	if err != nil {
		s.logger.Error("transport: marshal outbound op", "err", err)
		return
	}
	if err := s.ws.WriteMessage(data); err != nil {
		s.logger.Warn("transport: write outbound op", "err", err)
	}
}

// directApplySink is the default inbound handler a Socket uses: it applies
// a downstream op straight to the replica, with the socket's own outbound
// sink passed as sender so the replica's rebroadcast doesn't echo the op
// back over the connection it arrived on. A caller that also has a
// reconcile.Reconciler on this replica should replace it (SetInboundSink)
// with a reconcile.RemoteLink instead, so the op is translated into an
// editor mutation before it reaches the replica (spec.md §4.5) — plain
// direct-apply is correct only when there is no editor to keep in sync,
// which is why the server side (no reconciler) keeps this default.
type directApplySink struct {
	replica *rga.Replica
	sender  rga.Sink
	logger  *slog.Logger
}

func (d *directApplySink) Deliver(op rga.Op) {
	if err := d.replica.Apply(op, d.sender); err != nil {
		d.logger.Warn("transport: apply inbound op", "err", err)
	}
}

// Socket bridges one WebSocket connection to a replica's subscription bus,
// per spec.md §4.3/§6. A Socket is produced by TieToSocket and run by
// calling Serve, which blocks reading downstream messages until the
// connection closes or ctx is cancelled.
type Socket struct {
	SessionID uuid.UUID
	replica   *rga.Replica
	ws        *WSConn
	sink      *socketSink
	inbound   rga.Sink
	logger    *slog.Logger
}

// TieToSocket installs a sink on replica that forwards every locally
// applied op to ws, and returns a Socket whose Serve method reads
// downstream messages back from ws and delivers them to its inbound sink
// — by default, directApplySink, which applies straight to replica with
// the socket's own sink passed as sender, so a reflected echo of an op
// that arrived over this very connection is suppressed (spec.md §4.2
// "Broadcast"). A caller running an editor reconciliation layer on this
// replica must call SetInboundSink with a reconcile.RemoteLink before
// Serve starts reading, so remote ops are translated into editor
// mutations instead of only updating the replica.
func TieToSocket(replica *rga.Replica, ws *WSConn, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := uuid.New()
	sessionLogger := logger.With("session", sessionID)
	sink := &socketSink{ws: ws, logger: sessionLogger}
	replica.On(sink)
	s := &Socket{
		SessionID: sessionID,
		replica:   replica,
		ws:        ws,
		sink:      sink,
		logger:    sessionLogger,
	}
	s.inbound = &directApplySink{replica: replica, sender: sink, logger: sessionLogger}
	return s
}

// OutboundSink returns the Sink TieToSocket registered on the replica to
// forward locally-applied ops out over the connection. A reconcile.
// RemoteLink installed via SetInboundSink must name this Sink as its Peer,
// so that once it integrates an inbound op, the replica's rebroadcast
// correctly excludes the link the op arrived on.
func (s *Socket) OutboundSink() rga.Sink {
	return s.sink
}

// SetInboundSink replaces the handler Serve delivers decoded downstream
// ops to. Must be called before Serve starts reading.
func (s *Socket) SetInboundSink(sink rga.Sink) {
	s.inbound = sink
}

// Serve reads downstream messages from the socket until it closes or ctx
// is cancelled, delivering each to the inbound sink (by default,
// directApplySink, which applies it to the tied replica). It returns when the
// connection is done; the caller is responsible for calling Disconnect
// afterward (or relying on Serve's own deferred call).
func (s *Socket) Serve(ctx context.Context) error {
	defer s.Disconnect()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = s.ws.Close()
		close(done)
	}()

	for {
		payload, err := s.ws.ReadMessage()
		if err != nil {
			return err
		}
		op, err := unmarshalOp(payload)
		if err != nil {
			s.logger.Warn("transport: bad downstream message", "err", err)
			continue
		}
		s.inbound.Deliver(op)
	}
}

// Disconnect unsubscribes this socket's sink from the replica, per spec.md
// §5 ("On disconnect, the sink is removed"). Safe to call more than once.
func (s *Socket) Disconnect() {
	s.replica.Off(s.sink)
}

// SendWelcome sends the one-shot welcome message spec.md §6 describes:
// the client's assigned replica id and the replica's current history.
func (s *Socket) SendWelcome(clientID int, history []rga.Op) error {
	data, err := marshalWelcome(clientID, history)
	if err != nil {
		return err
	}
	return s.ws.WriteMessage(data)
}

// ReadWelcome blocks for the one-shot welcome message a server sends right
// after a client connects, returning the assigned replica id and initial
// history.
func ReadWelcome(ws *WSConn) (id int, history []rga.Op, err error) {
	payload, err := ws.ReadMessage()
	if err != nil {
		return 0, nil, err
	}
	return unmarshalWelcome(payload)
}

// Accept upgrades an incoming HTTP request to a WebSocket connection,
// hijacking the underlying net.Conn. Mirrors the teacher's
// transport/ws.go wsHandshake, generalized into the package-level frame
// codec above.
func Accept(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") || !containsToken(r.Header.Get("Connection"), "upgrade") {
		return nil, fmt.Errorf("transport: not a websocket upgrade request")
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("transport: missing Sec-WebSocket-Key")
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, fmt.Errorf("transport: ResponseWriter does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, err
	}
	return acceptUpgrade(conn, rw, key)
}

func containsToken(header, token string) bool {
	for _, f := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(f), token) {
			return true
		}
	}
	return false
}

// Dial connects to a peeredit server at addr (host:port) and completes the
// client side of the WebSocket handshake at path.
func Dial(ctx context.Context, addr, path string) (*WSConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	ws, err := dialUpgrade(conn, addr, path)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ws, nil
}

// Connect dials addr, completes the handshake, reads the server's welcome
// message, replays its history into a fresh replica carrying the assigned
// id, and ties that replica to the connection. The returned Socket's Serve
// method must be run (typically in its own goroutine) to keep receiving
// remote ops.
func Connect(ctx context.Context, addr, path string, logger *slog.Logger, opts ...rga.Option) (*rga.Replica, *Socket, error) {
	ws, err := Dial(ctx, addr, path)
	if err != nil {
		return nil, nil, err
	}
	id, history, err := ReadWelcome(ws)
	if err != nil {
		ws.Close()
		return nil, nil, fmt.Errorf("transport: reading welcome: %w", err)
	}
	replica, err := rga.NewFromHistory(id, history, opts...)
	if err != nil {
		ws.Close()
		return nil, nil, fmt.Errorf("transport: replaying welcome history: %w", err)
	}
	sock := TieToSocket(replica, ws, logger)
	return replica, sock, nil
}
