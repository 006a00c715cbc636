package wire

import (
	"testing"
	"time"

	"github.com/gossipmesh/gossipmesh/internal/testlog"
)

func TestListenerServesPingPong(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", time.Second, testlog.New(t))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go ln.Serve(func(conn *Conn, msg Decoded) {
		if msg.Type != TypePing {
			t.Errorf("expected PING, got %s", msg.Type)
			return
		}
		conn.Send(Pong{})
	})

	conn, err := Dial(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(Ping{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	conn.SetDeadline(time.Now().Add(time.Second))
	decoded, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if decoded.Type != TypePong {
		t.Fatalf("expected PONG, got %s", decoded.Type)
	}
}

func TestPoolReusesConnection(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", time.Second, testlog.New(t))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go ln.Serve(func(conn *Conn, msg Decoded) {
		conn.Send(Pong{})
	})

	pool := NewPool(2, time.Second)
	defer pool.Close()

	addr := ln.Addr().String()

	conn1, err := pool.Get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	conn1.SetDeadline(time.Now().Add(time.Second))
	conn1.Send(Ping{})
	if _, err := conn1.Receive(); err != nil {
		t.Fatalf("receive: %v", err)
	}
	pool.Put(addr, conn1)

	conn2, err := pool.Get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conn2 != conn1 {
		t.Fatalf("expected the pooled connection to be reused")
	}
	pool.Put(addr, conn2)
}

func TestInvalidateClosesPooledConnections(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", time.Second, testlog.New(t))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go ln.Serve(func(conn *Conn, msg Decoded) {})

	pool := NewPool(2, time.Second)
	defer pool.Close()
	addr := ln.Addr().String()

	conn, err := pool.Get(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	pool.Put(addr, conn)

	pool.Invalidate(addr)

	fresh, err := pool.Get(addr)
	if err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if fresh == conn {
		t.Fatalf("expected a fresh connection after invalidate")
	}
}
