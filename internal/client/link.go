package client

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	sendBufferSize = 256
)

// DefaultMaxMessageSize 是服务端下行帧的默认上限。
// drawing 携带整个房间文档，必须大于服务端的文档上限 (hub.DefaultMaxDocumentBytes)。
const DefaultMaxMessageSize = 64 << 20

// inbound 是读循环交给事件循环的一条消息，down 表示该连接已断开
type inbound struct {
	link *link
	raw  []byte
	down bool
}

// link 是一条 WebSocket 连接及其读写协程。Rejoin 会换上新的 link。
type link struct {
	conn      *websocket.Conn
	send      chan []byte
	readLimit int64

	sendMu sync.Mutex
	closed bool
	log    *logrus.Entry
}

func newLink(conn *websocket.Conn, readLimit int64, log *logrus.Entry) *link {
	return &link{conn: conn, send: make(chan []byte, sendBufferSize), readLimit: readLimit, log: log}
}

// enqueue 非阻塞发送，队列满或已关闭时丢弃
func (l *link) enqueue(msg []byte) bool {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if l.closed {
		return false
	}
	select {
	case l.send <- msg:
		return true
	default:
		l.log.Warn("Send buffer full, message dropped")
		return false
	}
}

func (l *link) closeSend() {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.send)
	}
}

// readPump 把服务端消息按到达顺序交给 deliver，连接断开后投递 down 事件
func (l *link) readPump(deliver func(inbound) bool) {
	defer func() {
		l.conn.Close()
		deliver(inbound{link: l, down: true})
		l.log.Debug("readPump exited")
	}()

	l.conn.SetReadLimit(l.readLimit)
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	// 服务端定期 ping，收到后延长读取超时并回复 pong
	l.conn.SetPingHandler(func(data string) error {
		_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return l.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		messageType, message, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.log.WithError(err).Warn("WebSocket read error (unexpected close)")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !deliver(inbound{link: l, raw: message}) {
			return
		}
	}
}

// writePump 把 send 中的消息写到连接，send 关闭后发送 close 帧
func (l *link) writePump() {
	defer l.conn.Close()
	for message := range l.send {
		_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			l.log.WithError(err).Warn("Failed to write message to websocket")
			return
		}
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = l.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
