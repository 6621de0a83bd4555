package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/dto"
	"collaborative-whiteboard/internal/service"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client 代表一个 WebSocket 连接。
// 加入房间前它自己处理 create-room / join-room；加入后修改类消息交给房间协程。
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	remote string
	send   chan []byte // 用于向此客户端发送消息的缓冲通道

	sendMu sync.Mutex
	closed bool

	// 由房间协程在接纳时写入
	stateMu     sync.RWMutex
	room        *Room
	participant *domain.Participant
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, remote string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		remote: remote,
		send:   make(chan []byte, sendBufferSize),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) logger() *logrus.Entry {
	fields := logrus.Fields{"remote": c.remote}
	if p := c.Participant(); p != nil {
		fields["room_id"] = p.RoomID
		fields["participant_id"] = p.ID
	}
	return logrus.WithFields(fields)
}

// Participant 返回加入后的参与者，未加入时为 nil
func (c *Client) Participant() *domain.Participant {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.participant
}

// ParticipantID 返回参与者 ID，未加入时为空
func (c *Client) ParticipantID() string {
	if p := c.Participant(); p != nil {
		return p.ID
	}
	return ""
}

func (c *Client) currentRoom() *Room {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.room
}

func (c *Client) attach(r *Room, p *domain.Participant) {
	c.stateMu.Lock()
	c.room = r
	c.participant = p
	c.stateMu.Unlock()
}

// enqueue 非阻塞地放入发送队列，队列满或已关闭时丢弃
func (c *Client) enqueue(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.logger().Warn("Client send channel full, message dropped")
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendEnvelope(env *dto.Envelope) {
	raw, err := env.Encode()
	if err != nil {
		c.logger().WithError(err).WithField("event", env.Event).Error("Failed to encode message")
		return
	}
	c.enqueue(raw)
}

func (c *Client) reject(roomID, message string) {
	c.sendEnvelope(&dto.Envelope{Event: dto.EventOperationRejected, RoomID: roomID, Message: message})
}

// handle 处理一条来自连接的原始消息
func (c *Client) handle(ctx context.Context, raw []byte) {
	env, err := dto.Decode(raw)
	if err != nil {
		c.logger().WithError(err).Warn("Dropping malformed message")
		return
	}

	room := c.currentRoom()
	if room == nil {
		c.handleLobby(ctx, env)
		return
	}

	logCtx := c.logger().WithField("event", env.Event)
	if env.RoomID != "" && env.RoomID != room.ID() {
		logCtx.WithField("target_room", env.RoomID).Debug("Ignoring message for another room")
		return
	}
	switch {
	case env.IsMutation():
		room.submit(c, env, raw)
	case env.Event == dto.EventCreateRoom, env.Event == dto.EventJoinRoom:
		c.sendEnvelope(&dto.Envelope{Event: dto.EventRoomError, RoomID: env.RoomID, Message: "connection already joined a room"})
	default:
		logCtx.Debug("Ignoring unsupported event")
	}
}

// handleLobby 处理加入房间之前的消息
func (c *Client) handleLobby(ctx context.Context, env *dto.Envelope) {
	logCtx := c.logger().WithFields(logrus.Fields{"event": env.Event, "room_id": env.RoomID})
	switch env.Event {
	case dto.EventCreateRoom:
		room, err := c.hub.CreateRoom(ctx, service.CreateRoomRequest{
			RoomID:     env.RoomID,
			Type:       env.Type,
			Password:   env.Password,
			RemoteAddr: c.remote,
		})
		if err != nil {
			logCtx.WithError(err).Info("Create room failed")
			c.sendEnvelope(&dto.Envelope{Event: dto.EventRoomError, RoomID: env.RoomID, Message: createErrorMessage(err)})
			return
		}
		c.sendEnvelope(&dto.Envelope{Event: dto.EventRoomCreated, RoomID: room.ID, Type: string(room.Visibility)})
	case dto.EventJoinRoom:
		_, err := c.hub.Join(ctx, c, service.JoinRequest{
			RoomID:     env.RoomID,
			Password:   env.Password,
			Role:       env.Role,
			Username:   env.Username,
			Ticket:     env.Ticket,
			RemoteAddr: c.remote,
		})
		if err != nil {
			logCtx.WithError(err).Info("Join rejected")
			c.sendEnvelope(&dto.Envelope{Event: dto.EventAccessDenied, RoomID: env.RoomID, Message: service.RejectionReason(err)})
		}
	case dto.EventObjectAdded, dto.EventObjectModified, dto.EventObjectRemoved, dto.EventCanvasAction:
		logCtx.Debug("Ignoring operation before join")
	default:
		logCtx.Debug("Ignoring unsupported event")
	}
}

func createErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomExists):
		return "room already exists"
	case errors.Is(err, domain.ErrInvalidRoom):
		return err.Error()
	default:
		return "could not create room"
	}
}

// disconnect 在读循环退出后调用
func (c *Client) disconnect() {
	if room := c.currentRoom(); room != nil {
		room.leave(c)
	} else {
		c.closeSend()
	}
}

// ReadPump 读取连接上的消息并按顺序处理。
// 它在自己的 goroutine 中运行。
func (c *Client) ReadPump() {
	defer func() {
		c.disconnect()
		c.conn.Close()
		c.logger().Info("readPump exited, client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait)) // 收到 Pong 后重置读取超时
		return nil
	})

	ctx := context.Background()
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger().WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				c.logger().Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			c.logger().Debugf("Received non-text message type: %d", messageType)
			continue
		}
		c.handle(ctx, message)
	}
}

// WritePump 将消息从 Client 的 send 通道泵送到 WebSocket 连接。
// 它在自己的 goroutine 中运行。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger().Debug("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被关闭 (离开房间或服务关闭)
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger().WithError(err).Warn("Failed to write message to websocket")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger().WithError(err).Warn("Failed to send ping message")
				return
			}
		}
	}
}
