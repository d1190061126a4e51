package collab

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

// Conn is the minimal framed-message surface the session needs from a
// transport. The production implementation wraps *websocket.Conn; tests
// substitute an in-memory pipe.
type Conn interface {
	// ReadMessage blocks for the next inbound frame.
	ReadMessage() ([]byte, error)
	WriteMessage(frame []byte) error
	Close() error
}

// DialFunc opens a transport connection to the collaboration endpoint.
type DialFunc func(ctx context.Context, url string) (Conn, error)

type WebSocketSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

func DefaultWebSocketSettings() *WebSocketSettings {
	return &WebSocketSettings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     20 * time.Second,
	}
}

// NewWebSocketDial returns a DialFunc over gorilla websocket. The protocol
// keep-alive rides on websocket ping frames so the session heartbeat does
// not need to generate wire traffic of its own.
func NewWebSocketDial(settings *WebSocketSettings) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		dialer := &websocket.Dialer{
			HandshakeTimeout: settings.HandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		conn := &wsConn{
			ws:       ws,
			settings: settings,
			done:     make(chan struct{}),
		}
		if 0 < settings.PingInterval {
			go conn.pingLoop()
		}
		return conn, nil
	}
}

type wsConn struct {
	ws       *websocket.Conn
	settings *WebSocketSettings
	done     chan struct{}
	doneOnce sync.Once

	// gorilla allows one concurrent writer. the ping loop and the
	// session share this lock
	writeMutex sync.Mutex
}

func (self *wsConn) ReadMessage() ([]byte, error) {
	for {
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if len(message) == 0 {
				// keep-alive
				continue
			}
			return message, nil
		default:
			glog.V(2).Infof("[ws]ignore message type %d\n", messageType)
		}
	}
}

func (self *wsConn) WriteMessage(frame []byte) error {
	self.writeMutex.Lock()
	defer self.writeMutex.Unlock()
	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	return self.ws.WriteMessage(websocket.TextMessage, frame)
}

func (self *wsConn) Close() error {
	self.doneOnce.Do(func() {
		close(self.done)
	})
	return self.ws.Close()
}

func (self *wsConn) pingLoop() {
	for {
		select {
		case <-self.done:
			return
		case <-time.After(self.settings.PingInterval):
		}
		self.writeMutex.Lock()
		self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		err := self.ws.WriteMessage(websocket.PingMessage, nil)
		self.writeMutex.Unlock()
		if err != nil {
			// the read loop surfaces the failure
			return
		}
	}
}
