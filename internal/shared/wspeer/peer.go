package wspeer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned by Send once the peer is closed.
var ErrClosed = errors.New("connection closed")

// MaxMessageSize bounds one inbound frame. Larger frames close the
// connection with 1009.
const MaxMessageSize = 16 << 20

type frame struct {
	typ  int
	data []byte
}

// Peer pumps one websocket: a single writer goroutine, a keepalive that
// pings every pingInterval and drops the peer after idleTimeout of silence,
// and a read loop run by the caller.
type Peer struct {
	conn         *websocket.Conn
	pingInterval time.Duration
	idleTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	out          chan frame
	done         chan struct{}
	closeOnce    sync.Once
	lastActivity atomic.Int64
}

// New wraps conn. Nothing runs until Run is called.
func New(conn *websocket.Conn, pingInterval, idleTimeout time.Duration, logger *zap.Logger) *Peer {
	p := &Peer{
		conn:         conn,
		pingInterval: pingInterval,
		idleTimeout:  idleTimeout,
		writeTimeout: 10 * time.Second,
		logger:       logger,
		out:          make(chan frame, 64),
		done:         make(chan struct{}),
	}
	p.touch()

	conn.SetReadLimit(MaxMessageSize)
	conn.SetPingHandler(func(data string) error {
		p.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(p.writeTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		p.touch()
		return nil
	})
	return p
}

func (p *Peer) touch() {
	p.lastActivity.Store(time.Now().UnixNano())
}

func (p *Peer) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, p.lastActivity.Load()))
}

// Run blocks reading messages into handle until the connection fails or
// close is called.
func (p *Peer) Run(handle func(typ int, data []byte)) {
	go p.writeLoop()
	go p.keepalive()
	defer p.Close(websocket.CloseNormalClosure, "")

	for {
		typ, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-p.done:
				default:
					p.logger.Debug("Websocket read failed", zap.Error(err))
				}
			}
			return
		}
		p.touch()
		handle(typ, data)
	}
}

// Send queues a message. It blocks while the outbox is full.
func (p *Peer) Send(typ int, data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- frame{typ: typ, data: data}:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Close sends a close frame with code and drops the connection.
func (p *Peer) Close(code int, text string) {
	p.closeOnce.Do(func() {
		close(p.done)
		msg := websocket.FormatCloseMessage(code, text)
		p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		p.conn.Close()
	})
}

// Done is closed once the peer is closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) writeLoop() {
	for {
		select {
		case f := <-p.out:
			p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if err := p.conn.WriteMessage(f.typ, f.data); err != nil {
				p.logger.Debug("Websocket write failed", zap.Error(err))
				p.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Peer) keepalive() {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if p.idleFor(now) > p.idleTimeout {
				p.logger.Info("Disconnecting idle client", zap.Duration("idle", p.idleFor(now)))
				p.Close(websocket.CloseGoingAway, "idle timeout")
				return
			}
			if err := p.conn.WriteControl(websocket.PingMessage, nil, now.Add(p.writeTimeout)); err != nil {
				p.Close(websocket.CloseInternalServerErr, "ping failed")
				return
			}
		case <-p.done:
			return
		}
	}
}
