package command

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

func startTestServer(t *testing.T, ctx context.Context, opts ...ServerOption) *Server {
	t.Helper()
	h := NewHandler(newFakeCore(), "1.0.0", nil)
	base := []ServerOption{WithListenAddr("127.0.0.1:0"), WithHandler(h)}
	srv := NewServer(append(base, opts...)...)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(1 * time.Second):
		t.Fatalf("server did not signal readiness")
	}
	return srv
}

type testConn struct {
	net.Conn
	r *bufio.Reader
}

func dialServer(t *testing.T, addr string) *testConn {
	t.Helper()
	d := net.Dialer{Timeout: 1 * time.Second}
	c, err := d.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return &testConn{Conn: c, r: bufio.NewReader(c)}
}

func (c *testConn) readJSON(t *testing.T, v any) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(1 * time.Second))
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
}

func (c *testConn) send(t *testing.T, line string) {
	t.Helper()
	if _, err := c.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// TestServerRoundTrip dials the command port, consumes the greeting
// status_update and exchanges a few requests.
func TestServerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startTestServer(t, ctx)

	c := dialServer(t, srv.Addr())
	defer c.Close()

	var su StatusUpdate
	c.readJSON(t, &su)
	if su.Type != "status_update" {
		t.Fatalf("expected greeting status_update, got type %q", su.Type)
	}
	if su.Vehicle != "VWT6" {
		t.Fatalf("greeting vehicle = %q, want VWT6", su.Vehicle)
	}

	c.send(t, `{"command":"ping"}`)
	var resp Response
	c.readJSON(t, &resp)
	if resp.Status != "ok" || resp.Command != "ping" {
		t.Fatalf("ping response %+v", resp)
	}

	// Mutation: set_speed yields a response followed by a broadcast.
	c.send(t, `{"command":"set_speed","speed":77}`)
	c.readJSON(t, &resp)
	if resp.Status != "ok" {
		t.Fatalf("set_speed response %+v", resp)
	}
	c.readJSON(t, &su)
	if su.Type != "status_update" || su.Speed != 77 {
		t.Fatalf("expected status_update speed 77, got %+v", su)
	}
}

// TestServerBroadcastReachesOtherClients checks that a mutation by one
// client is announced to all connected clients.
func TestServerBroadcastReachesOtherClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startTestServer(t, ctx)

	c1 := dialServer(t, srv.Addr())
	defer c1.Close()
	c2 := dialServer(t, srv.Addr())
	defer c2.Close()
	var su StatusUpdate
	c1.readJSON(t, &su)
	c2.readJSON(t, &su)

	// Wait for both registrations before mutating.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && srv.Hub.Count() < 2 {
		time.Sleep(2 * time.Millisecond)
	}
	if srv.Hub.Count() < 2 {
		t.Fatalf("clients not registered: %d", srv.Hub.Count())
	}

	c1.send(t, `{"command":"set_gear","gear":"DRIVE"}`)
	var resp Response
	c1.readJSON(t, &resp)
	if resp.Status != "ok" {
		t.Fatalf("set_gear response %+v", resp)
	}
	c2.readJSON(t, &su)
	if su.Type != "status_update" || su.Gear != "DRIVE" {
		t.Fatalf("second client expected gear DRIVE update, got %+v", su)
	}
}

// TestServerRejectedCommandNoBroadcast ensures failed mutations stay quiet.
func TestServerRejectedCommandNoBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startTestServer(t, ctx)

	c1 := dialServer(t, srv.Addr())
	defer c1.Close()
	c2 := dialServer(t, srv.Addr())
	defer c2.Close()
	var su StatusUpdate
	c1.readJSON(t, &su)
	c2.readJSON(t, &su)

	c1.send(t, `{"command":"set_speed","speed":999}`)
	var resp Response
	c1.readJSON(t, &resp)
	if resp.Status != "error" {
		t.Fatalf("expected error response, got %+v", resp)
	}
	_ = c2.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, err := c2.r.ReadBytes('\n'); err == nil {
		t.Fatalf("unexpected broadcast after rejected command")
	} else if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("read err: %v", err)
	}
}

func TestServerMaxClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startTestServer(t, ctx, WithMaxClients(1))

	c1 := dialServer(t, srv.Addr())
	defer c1.Close()
	var su StatusUpdate
	c1.readJSON(t, &su)

	c2 := dialServer(t, srv.Addr())
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, err := c2.r.ReadBytes('\n'); err == nil {
		t.Fatalf("expected second client to be rejected")
	}
}

func TestServerShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startTestServer(t, ctx)

	c := dialServer(t, srv.Addr())
	defer c.Close()
	var su StatusUpdate
	c.readJSON(t, &su)

	sdCtx, sdCancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer sdCancel()
	if err := srv.Shutdown(sdCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := c.r.ReadBytes('\n'); err == nil {
		t.Fatalf("expected read to fail after shutdown")
	}
}

func TestServerSkipsBlankLines(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv := startTestServer(t, ctx)

	c := dialServer(t, srv.Addr())
	defer c.Close()
	var su StatusUpdate
	c.readJSON(t, &su)

	c.send(t, "")
	c.send(t, "\r")
	c.send(t, `{"command":"ping"}`)
	var resp Response
	c.readJSON(t, &resp)
	if resp.Status != "ok" || resp.Command != "ping" {
		t.Fatalf("ping after blanks response %+v", resp)
	}
}
