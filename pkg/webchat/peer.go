package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsConn is the part of *websocket.Conn the writer side needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Peer is one live websocket connection. All writes go through a buffered
// queue drained by a single writer goroutine, so frames reach the client in
// the order they were queued.
type Peer struct {
	ID string

	conn         wsConn
	send         chan []byte
	writeTimeout time.Duration
	pingInterval time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeer(id string, conn wsConn, sendBuffer int, writeTimeout, pingInterval time.Duration) *Peer {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	p := &Peer{
		ID:           id,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		closed:       make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// Send queues a frame. It returns false when the peer is closed or its queue
// is full; it never blocks.
func (p *Peer) Send(data []byte) bool {
	if p == nil || len(data) == 0 {
		return false
	}
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.send <- data:
		return true
	default:
		return false
	}
}

// Close stops the writer and closes the underlying connection. Safe to call
// more than once.
func (p *Peer) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// Done is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

func (p *Peer) writeLoop() {
	var tick <-chan time.Time
	if p.pingInterval > 0 {
		ticker := time.NewTicker(p.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-p.closed:
			return
		case data := <-p.send:
			if err := p.write(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("component", "webchat").Str("conn_id", p.ID).Msg("ws write failed, closing connection")
				p.Close()
				return
			}
		case <-tick:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("component", "webchat").Str("conn_id", p.ID).Msg("ws ping failed, closing connection")
				p.Close()
				return
			}
		}
	}
}

func (p *Peer) write(messageType int, data []byte) error {
	if p.writeTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
			return err
		}
	}
	return p.conn.WriteMessage(messageType, data)
}
