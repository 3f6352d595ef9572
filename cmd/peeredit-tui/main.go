// Command peeredit-tui connects a terminal reference editor to a running
// peeredit-server, keeping it converged with the remote document via the
// reconciliation layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jorendorff/peeredit/editor/tui"
	"github.com/jorendorff/peeredit/reconcile"
	"github.com/jorendorff/peeredit/transport"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "peeredit server address")
	path := flag.String("path", "/ws", "websocket path")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replica, sock, err := transport.Connect(ctx, *addr, *path, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		os.Exit(1)
	}

	editor := tui.NewEditor()
	rc := reconcile.New(replica, editor, reconcile.WithLogger(logger))
	defer rc.Close()

	// Route inbound ops through the reconciler instead of applying them
	// straight to the replica, so a remote edit is translated into an
	// editor mutation before it reaches replica.Apply (spec.md §4.5).
	sock.SetInboundSink(reconcile.NewRemoteLink(rc, sock.OutboundSink()))

	go func() {
		if err := sock.Serve(ctx); err != nil {
			logger.Warn("connection closed", "err", err)
		}
	}()

	title := fmt.Sprintf("peeredit — replica %d @ %s", replica.ID(), *addr)
	if err := tui.Run(editor, title); err != nil {
		fmt.Fprintln(os.Stderr, "tui:", err)
		os.Exit(1)
	}
}
