package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jorendorff/peeredit/rga"
	"github.com/jorendorff/peeredit/server"
	"github.com/jorendorff/peeredit/transport"
)

func startTestServer(t *testing.T) (addr string, srv *server.Server) {
	t.Helper()
	srv, err := server.New()
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return strings.TrimPrefix(ts.URL, "http://"), srv
}

// waitForText polls r.Text() until it equals want or the deadline passes,
// since convergence across a real socket is asynchronous.
func waitForText(t *testing.T, r *rga.Replica, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Text() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("replica %d text = %q, want %q", r.ID(), r.Text(), want)
}

func TestWelcomeAssignsDistinctClientIDs(t *testing.T) {
	addr, _ := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r1, s1, err := transport.Connect(ctx, addr, "/ws", nil)
	require.NoError(t, err)
	defer s1.Disconnect()

	r2, s2, err := transport.Connect(ctx, addr, "/ws", nil)
	require.NoError(t, err)
	defer s2.Disconnect()

	require.NotEqual(t, r1.ID(), r2.ID())
	require.Equal(t, 1, r1.ID())
	require.Equal(t, 2, r2.ID())
}

func TestTwoClientsConvergeThroughServer(t *testing.T) {
	addr, _ := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r1, s1, err := transport.Connect(ctx, addr, "/ws", nil)
	require.NoError(t, err)
	go s1.Serve(ctx)

	r2, s2, err := transport.Connect(ctx, addr, "/ws", nil)
	require.NoError(t, err)
	go s2.Serve(ctx)

	var prev rga.Timestamp = rga.Left
	for _, ch := range "hi" {
		w, err := r1.AddRight(prev, ch)
		require.NoError(t, err)
		prev = w
	}

	waitForText(t, r2, "hi")
	waitForText(t, r1, "hi")

	last := prev
	require.NoError(t, r2.Remove(last))
	waitForText(t, r1, "h")
}

func TestHealthEndpointReportsState(t *testing.T) {
	addr, srv := startTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r1, s1, err := transport.Connect(ctx, addr, "/ws", nil)
	require.NoError(t, err)
	go s1.Serve(ctx)

	_, err = r1.AddRight(rga.Left, 'x')
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && srv.Central().Len() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, srv.Central().Len())

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status struct {
		CharacterCount int `json:"character_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, 1, status.CharacterCount)
}
