package webchat

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	mu       sync.Mutex
	writes   [][]byte
	pings    int
	blockCh  chan struct{}
	closedCh chan struct{}
}

func newStubConn(blockWrites bool) *stubConn {
	blockCh := make(chan struct{})
	if !blockWrites {
		close(blockCh)
	}
	return &stubConn{blockCh: blockCh, closedCh: make(chan struct{})}
}

func (s *stubConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-s.closedCh:
		return errors.New("closed")
	case <-s.blockCh:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if messageType == websocket.PingMessage {
		s.pings++
		return nil
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return nil
}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closedCh:
		return nil
	default:
		close(s.closedCh)
		return nil
	}
}

func (s *stubConn) SetWriteDeadline(_ time.Time) error {
	return nil
}

func (s *stubConn) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.writes))
	for _, w := range s.writes {
		out = append(out, string(w))
	}
	return out
}

func TestConnectionPoolDropsOnFullBuffer(t *testing.T) {
	pool := NewConnectionPool("S1", 0, nil)

	conn := newStubConn(true)
	peer := newPeer("c1", conn, 1, 0, 0)
	pool.Add(peer)

	pool.Broadcast([]byte("one"))
	pool.Broadcast([]byte("two"))
	pool.Broadcast([]byte("three"))

	require.Eventually(t, func() bool {
		return pool.Count() == 0
	}, time.Second, 10*time.Millisecond)

	select {
	case <-peer.Done():
	default:
		t.Fatal("dropped peer must be closed")
	}
}

func TestConnectionPoolBroadcastPreservesOrder(t *testing.T) {
	pool := NewConnectionPool("S1", 0, nil)
	a := newStubConn(false)
	b := newStubConn(false)
	pa := newPeer("a", a, 16, time.Second, 0)
	pb := newPeer("b", b, 16, time.Second, 0)
	defer pa.Close()
	defer pb.Close()
	pool.Add(pa)
	pool.Add(pb)

	for _, f := range []string{"1", "2", "3", "4"} {
		require.Equal(t, 2, pool.Broadcast([]byte(f)))
	}

	for _, c := range []*stubConn{a, b} {
		c := c
		require.Eventually(t, func() bool { return len(c.written()) == 4 }, time.Second, 5*time.Millisecond)
		require.Equal(t, []string{"1", "2", "3", "4"}, c.written())
	}
}

func TestConnectionPoolRemoveKeepsPeerOpen(t *testing.T) {
	pool := NewConnectionPool("S1", 0, nil)
	peer := newPeer("c1", newStubConn(false), 4, 0, 0)
	defer peer.Close()

	pool.Add(peer)
	pool.Remove(peer)
	require.True(t, pool.IsEmpty())
	require.True(t, peer.Send([]byte("still open")))
}

func TestConnectionPoolIdleCallback(t *testing.T) {
	var fired atomic.Int32
	pool := NewConnectionPool("S1", 20*time.Millisecond, func() { fired.Add(1) })
	peer := newPeer("c1", newStubConn(false), 4, 0, 0)
	defer peer.Close()

	pool.Add(peer)
	pool.Remove(peer)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)

	// re-adding before the timeout cancels the callback
	pool.Add(peer)
	pool.Remove(peer)
	pool.Add(peer)
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(1), fired.Load())
}

func TestPeerSendsPings(t *testing.T) {
	conn := newStubConn(false)
	peer := newPeer("c1", conn, 4, 0, 10*time.Millisecond)
	defer peer.Close()

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.pings >= 2
	}, time.Second, 5*time.Millisecond)
}
