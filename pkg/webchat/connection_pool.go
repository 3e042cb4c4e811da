package webchat

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ConnectionPool holds the peers currently joined to one session.
// It centralizes broadcasting, slow-consumer handling, and idle detection so
// the hub logic stays small.
type ConnectionPool struct {
	sessionID   string
	mu          sync.Mutex
	peers       map[*Peer]struct{}
	idleTimer   *time.Timer
	idleTimeout time.Duration
	onIdle      func()
}

func NewConnectionPool(sessionID string, idleTimeout time.Duration, onIdle func()) *ConnectionPool {
	return &ConnectionPool{
		sessionID:   sessionID,
		peers:       map[*Peer]struct{}{},
		idleTimeout: idleTimeout,
		onIdle:      onIdle,
	}
}

func (cp *ConnectionPool) Add(p *Peer) {
	if cp == nil || p == nil {
		return
	}
	cp.mu.Lock()
	cp.peers[p] = struct{}{}
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
}

// Remove takes p out of the pool without closing it; a peer that re-joins
// another session keeps its connection.
// Remove reports whether p was a member.
func (cp *ConnectionPool) Remove(p *Peer) bool {
	if cp == nil || p == nil {
		return false
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.peers[p]; !ok {
		return false
	}
	delete(cp.peers, p)
	cp.scheduleIdleTimerLocked()
	return true
}

// Broadcast queues data on every peer. Peers whose queue is full are closed
// and dropped.
func (cp *ConnectionPool) Broadcast(data []byte) int {
	if cp == nil || len(data) == 0 {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	delivered := 0
	for p := range cp.peers {
		if p.Send(data) {
			delivered++
			continue
		}
		log.Warn().Str("component", "webchat").Str("session_id", cp.sessionID).Str("conn_id", p.ID).Msg("ws send queue full or closed, dropping connection")
		delete(cp.peers, p)
		p.Close()
	}
	cp.scheduleIdleTimerLocked()
	return delivered
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.peers)
}

func (cp *ConnectionPool) IsEmpty() bool {
	return cp.Count() == 0
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for p := range cp.peers {
		p.Close()
		delete(cp.peers, p)
	}
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
}

func (cp *ConnectionPool) CancelIdleTimer() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
}

func (cp *ConnectionPool) stopIdleTimerLocked() {
	if cp.idleTimer != nil {
		cp.idleTimer.Stop()
		cp.idleTimer = nil
	}
}

func (cp *ConnectionPool) scheduleIdleTimerLocked() {
	if len(cp.peers) != 0 || cp.idleTimeout <= 0 || cp.onIdle == nil {
		cp.stopIdleTimerLocked()
		return
	}
	if cp.idleTimer != nil {
		return
	}
	cp.idleTimer = time.AfterFunc(cp.idleTimeout, cp.triggerIdle)
}

func (cp *ConnectionPool) triggerIdle() {
	if cp == nil {
		return
	}
	var callback func()
	cp.mu.Lock()
	if len(cp.peers) == 0 {
		callback = cp.onIdle
	}
	cp.idleTimer = nil
	cp.mu.Unlock()
	if callback != nil {
		callback()
	}
}
