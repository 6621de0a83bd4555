package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"collaborative-whiteboard/internal/canvas"
	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/dto"
	"collaborative-whiteboard/internal/history"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrNotJoined      = errors.New("session has not joined a room")
	ErrAlreadyJoined  = errors.New("session already joined a room")
	ErrRequestPending = errors.New("another room request is in progress")
	ErrConnectionLost = errors.New("connection lost")
)

const eventBufferSize = 64

// Options 配置一个客户端会话
type Options struct {
	Registry     *canvas.Registry // 为空时使用 canvas.DefaultRegistry
	Doc          domain.DocProps  // 加入房间之前本地文档的属性
	HistoryLimit int
	// MaxMessageSize 限制单个下行帧，<=0 时使用 DefaultMaxMessageSize
	MaxMessageSize int64
	Header         http.Header
	Dialer         *websocket.Dialer // 为空时使用 websocket.DefaultDialer
	Logger         *logrus.Entry
}

// JoinRequest 是 join-room 的参数
type JoinRequest struct {
	RoomID   string
	Password string
	Username string
	Role     domain.Role
}

type requestKind int

const (
	requestCreate requestKind = iota
	requestJoin
)

type reply struct {
	joined *dto.RoomJoined
	err    error
}

// pending 是等待服务端应答的 create-room / join-room
type pending struct {
	kind   requestKind
	roomID string
	reply  chan reply
}

func (p *pending) resolve(r reply) {
	select {
	case p.reply <- r:
	default:
	}
}

// Session 是一个连接到服务端的白板客户端。
// Store、Stack、Gate 和房间状态只由事件循环协程访问，公开方法通过 do 把调用送入事件循环。
type Session struct {
	url  string
	opts Options
	log  *logrus.Entry

	calls     chan func()
	inbox     chan inbound
	events    chan *dto.Envelope
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// 以下字段只在事件循环中访问
	store   *canvas.Store
	stack   *history.Stack
	gate    *Gate
	capture *Capture
	link    *link
	joined  *dto.RoomJoined
	pending *pending
}

// Dial 连接服务端并启动事件循环
func Dial(ctx context.Context, url string, opts Options) (*Session, error) {
	if opts.Registry == nil {
		opts.Registry = canvas.DefaultRegistry()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "canvas_client")
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}

	conn, _, err := opts.Dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	s := &Session{
		url:    url,
		opts:   opts,
		log:    opts.Logger,
		calls:  make(chan func()),
		inbox:  make(chan inbound, sendBufferSize),
		events: make(chan *dto.Envelope, eventBufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		gate:   &Gate{},
	}
	s.store = canvas.NewStore(opts.Registry, opts.Doc)
	s.store.SetLogger(s.log)
	s.stack = history.New(s.store.Snapshot(), opts.HistoryLimit)
	s.capture = NewCapture(s.store, s.stack, s.gate, s.emitOperation, s.log)

	s.attachLink(conn)
	s.log.WithField("url", url).Info("Connected")
	go s.loop()
	return s, nil
}

// Events 返回收到的服务端消息，供界面展示。消费不及时的消息会被丢弃，会话关闭后通道关闭。
func (s *Session) Events() <-chan *dto.Envelope { return s.events }

// Close 关闭连接并停止事件循环
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return nil
}

func (s *Session) attachLink(conn *websocket.Conn) {
	l := newLink(conn, s.opts.MaxMessageSize, s.log)
	s.link = l
	go l.writePump()
	go l.readPump(s.deliver)
}

func (s *Session) deliver(in inbound) bool {
	select {
	case s.inbox <- in:
		return true
	case <-s.done:
		return false
	}
}

// do 在事件循环中执行 fn 并等待其完成
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.calls <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (s *Session) loop() {
	defer close(s.done)
	defer close(s.events)
	for {
		select {
		case fn := <-s.calls:
			fn()
		case in := <-s.inbox:
			if in.down {
				s.linkDown(in.link)
				continue
			}
			s.receive(in)
		case <-s.quit:
			if s.link != nil {
				s.link.closeSend()
				s.link = nil
			}
			s.failPending(ErrSessionClosed)
			s.log.Info("Session closed")
			return
		}
	}
}

func (s *Session) linkDown(l *link) {
	if s.link != l {
		return
	}
	l.closeSend()
	s.link = nil
	s.failPending(ErrConnectionLost)
	s.log.Warn("Connection lost")
}

func (s *Session) failPending(err error) {
	if s.pending != nil {
		s.pending.resolve(reply{err: err})
		s.pending = nil
	}
}

// transmit 发送一条消息。未连接时丢弃。
func (s *Session) transmit(env *dto.Envelope) {
	if s.link == nil {
		s.log.WithField("event", env.Event).Debug("Not connected, message not sent")
		return
	}
	raw, err := env.Encode()
	if err != nil {
		s.log.WithError(err).WithField("event", env.Event).Error("Failed to encode message")
		return
	}
	s.link.enqueue(raw)
}

// emitOperation 发送 Capture 生成的本地操作，加入房间之前的编辑只留在本地
func (s *Session) emitOperation(env *dto.Envelope) {
	if s.joined == nil {
		return
	}
	s.transmit(env)
}

func (s *Session) publish(env *dto.Envelope) {
	select {
	case s.events <- env:
	default:
	}
}

// request 发送 create-room / join-room 并等待服务端应答
func (s *Session) request(ctx context.Context, kind requestKind, build func() (*dto.Envelope, error)) (*dto.RoomJoined, error) {
	var (
		p      *pending
		reqErr error
	)
	err := s.do(ctx, func() {
		if s.pending != nil {
			reqErr = ErrRequestPending
			return
		}
		if s.link == nil {
			reqErr = ErrConnectionLost
			return
		}
		env, err := build()
		if err != nil {
			reqErr = err
			return
		}
		p = &pending{kind: kind, roomID: env.RoomID, reply: make(chan reply, 1)}
		s.pending = p
		s.transmit(env)
	})
	if err != nil {
		return nil, err
	}
	if reqErr != nil {
		return nil, reqErr
	}

	select {
	case r := <-p.reply:
		return r.joined, r.err
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		_ = s.do(context.Background(), func() {
			if s.pending == p {
				s.pending = nil
			}
		})
		return nil, ctx.Err()
	}
}

// CreateRoom 创建房间。创建者不会自动加入，需要再调用 Join。
func (s *Session) CreateRoom(ctx context.Context, roomID string, visibility domain.Visibility, password string) error {
	_, err := s.request(ctx, requestCreate, func() (*dto.Envelope, error) {
		return &dto.Envelope{
			Event:    dto.EventCreateRoom,
			RoomID:   roomID,
			Type:     string(visibility),
			Password: password,
		}, nil
	})
	return err
}

// Join 加入房间，在收到并应用 drawing 快照之后返回。本地历史以该快照为新基线。
func (s *Session) Join(ctx context.Context, req JoinRequest) (*dto.RoomJoined, error) {
	return s.request(ctx, requestJoin, func() (*dto.Envelope, error) {
		if s.joined != nil {
			return nil, ErrAlreadyJoined
		}
		return &dto.Envelope{
			Event:    dto.EventJoinRoom,
			RoomID:   req.RoomID,
			Password: req.Password,
			Username: req.Username,
			Role:     string(req.Role),
		}, nil
	})
}

// Rejoin 在连接断开后重新连接，并凭加入时签发的 ticket 免密码回到同一个房间。
// 本地文档和历史被替换为房间当前的快照。
func (s *Session) Rejoin(ctx context.Context) (*dto.RoomJoined, error) {
	var prev *dto.RoomJoined
	if err := s.do(ctx, func() { prev = s.joined }); err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, ErrNotJoined
	}

	conn, _, err := s.opts.Dialer.DialContext(ctx, s.url, s.opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", s.url, err)
	}
	if err := s.do(ctx, func() {
		if s.link != nil {
			s.link.closeSend()
		}
		s.failPending(ErrConnectionLost)
		s.attachLink(conn)
	}); err != nil {
		conn.Close()
		return nil, err
	}

	s.log.WithField("room_id", prev.RoomID).Info("Rejoining room")
	return s.request(ctx, requestJoin, func() (*dto.Envelope, error) {
		return &dto.Envelope{
			Event:    dto.EventJoinRoom,
			RoomID:   prev.RoomID,
			Username: prev.Username,
			Role:     string(prev.Role),
			Ticket:   prev.Ticket,
		}, nil
	})
}

// Joined 返回当前加入的房间信息，未加入时为 nil
func (s *Session) Joined(ctx context.Context) (*dto.RoomJoined, error) {
	var out *dto.RoomJoined
	err := s.do(ctx, func() {
		if s.joined != nil {
			j := *s.joined
			out = &j
		}
	})
	return out, err
}

// edit 在事件循环中执行一次本地编辑。
// viewer 在本地就被拒绝；携带 WithSuspension 的 ctx 只修改本地文档，不复制也不记历史。
func (s *Session) edit(ctx context.Context, fn func() error) error {
	var editErr error
	err := s.do(ctx, func() {
		if s.joined != nil && !s.joined.Role.CanEdit() {
			editErr = domain.ErrReadOnly
			return
		}
		if Suspended(ctx) {
			tok := s.gate.Acquire()
			defer tok.Release()
		}
		editErr = fn()
	})
	if err != nil {
		return err
	}
	return editErr
}

// Add 添加对象。ID 已存在时不做任何事。
func (s *Session) Add(ctx context.Context, obj *domain.CanvasObject) error {
	if obj == nil {
		return fmt.Errorf("%w: nil object", domain.ErrReconstructionFailure)
	}
	return s.edit(ctx, func() error {
		_, err := s.store.Apply(domain.AddOp(obj))
		return err
	})
}

// Modify 把 props 合并到已有对象上。ID 不存在时不做任何事。
func (s *Session) Modify(ctx context.Context, id string, props domain.Props) error {
	return s.edit(ctx, func() error {
		changed, err := s.store.Apply(domain.ModifyOp(&domain.CanvasObject{ID: id, Props: props.Clone()}))
		if err == nil && !changed {
			s.log.WithField("object_id", id).Debug("Modify of unknown object ignored")
		}
		return err
	})
}

// Remove 删除对象。ID 不存在时不做任何事。
func (s *Session) Remove(ctx context.Context, id string) error {
	return s.edit(ctx, func() error {
		changed, err := s.store.Apply(domain.RemoveOp(id))
		if err == nil && !changed {
			s.log.WithField("object_id", id).Debug("Remove of unknown object ignored")
		}
		return err
	})
}

// Undo 撤销本地最近一次编辑并通知房间。没有可撤销的内容时返回 false，不发送任何消息。
func (s *Session) Undo(ctx context.Context) (bool, error) {
	return s.action(ctx, domain.ActionUndo)
}

// Redo 重做最近一次撤销并通知房间
func (s *Session) Redo(ctx context.Context) (bool, error) {
	return s.action(ctx, domain.ActionRedo)
}

// Clear 清空画布并通知房间，redo 栈被清空
func (s *Session) Clear(ctx context.Context) error {
	_, err := s.action(ctx, domain.ActionClear)
	return err
}

func (s *Session) action(ctx context.Context, action domain.CanvasAction) (bool, error) {
	var applied bool
	err := s.edit(ctx, func() error {
		applied = s.applyAction(action)
		if applied && !Suspended(ctx) && s.joined != nil {
			// 只发送命令，不携带快照
			s.transmit(&dto.Envelope{Event: dto.EventCanvasAction, RoomID: s.joined.RoomID, Action: string(action)})
		}
		return nil
	})
	return applied, err
}

// applyAction 根据本会话自己的历史栈执行 undo/redo/clear，restore 在 Gate 下进行
func (s *Session) applyAction(action domain.CanvasAction) bool {
	var (
		snap domain.Snapshot
		ok   bool
	)
	switch action {
	case domain.ActionUndo:
		snap, ok = s.stack.Undo()
	case domain.ActionRedo:
		snap, ok = s.stack.Redo()
	case domain.ActionClear:
		snap, ok = s.store.Empty(), true
		s.stack.Clear(snap)
	}
	if !ok {
		return false
	}
	tok := s.gate.Acquire()
	defer tok.Release()
	s.store.Restore(snap)
	return true
}

// Objects 按顺序返回本地文档中的对象
func (s *Session) Objects(ctx context.Context) ([]*domain.CanvasObject, error) {
	var out []*domain.CanvasObject
	err := s.do(ctx, func() { out = s.store.Objects() })
	return out, err
}

// Snapshot 返回本地文档快照
func (s *Session) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var out domain.Snapshot
	err := s.do(ctx, func() { out = s.store.Snapshot() })
	return out, err
}

// HistoryLen 返回本地 history 和 redo 的长度
func (s *Session) HistoryLen(ctx context.Context) (int, int, error) {
	var h, r int
	err := s.do(ctx, func() { h, r = s.stack.Len(), s.stack.RedoLen() })
	return h, r, err
}

// receive 处理一条服务端消息
func (s *Session) receive(in inbound) {
	if in.link != s.link {
		return
	}
	env, err := dto.Decode(in.raw)
	if err != nil {
		s.log.WithError(err).Warn("Dropping malformed message")
		return
	}
	logCtx := s.log.WithFields(logrus.Fields{"event": env.Event, "room_id": env.RoomID})

	switch env.Event {
	case dto.EventRoomCreated:
		if p := s.pending; p != nil && p.kind == requestCreate && p.roomID == env.RoomID {
			p.resolve(reply{})
			s.pending = nil
		}
	case dto.EventRoomError:
		if p := s.pending; p != nil && p.roomID == env.RoomID {
			p.resolve(reply{err: roomError(env.Message)})
			s.pending = nil
		}
		logCtx.WithField("message", env.Message).Warn("Room request failed")
	case dto.EventAccessDenied:
		if p := s.pending; p != nil && p.kind == requestJoin {
			p.resolve(reply{err: accessError(env.Message)})
			s.pending = nil
		}
		logCtx.WithField("message", env.Message).Warn("Join rejected")
	case dto.EventRoomJoined:
		s.handleJoined(env)
	case dto.EventDrawing:
		s.handleDrawing(env, logCtx)
	case dto.EventObjectAdded, dto.EventObjectModified, dto.EventObjectRemoved:
		if !s.inJoinedRoom(env) {
			return
		}
		s.applyRemote(env, logCtx)
	case dto.EventCanvasAction:
		if !s.inJoinedRoom(env) {
			return
		}
		action, err := domain.ParseCanvasAction(env.Action)
		if err != nil {
			logCtx.WithError(err).Warn("Dropping canvas action")
			return
		}
		applied := s.applyAction(action)
		logCtx.WithFields(logrus.Fields{"action": action, "applied": applied}).Debug("Remote canvas action")
	case dto.EventOperationRejected:
		logCtx.WithField("message", env.Message).Warn("Operation rejected by server")
	default:
		logCtx.Debug("Ignoring unsupported event")
		return
	}
	s.publish(env)
}

func (s *Session) inJoinedRoom(env *dto.Envelope) bool {
	return s.joined != nil && (env.RoomID == "" || env.RoomID == s.joined.RoomID)
}

func (s *Session) handleJoined(env *dto.Envelope) {
	role, err := domain.ParseRole(env.Role)
	if err != nil {
		role = domain.RoleViewer
	}
	s.joined = &dto.RoomJoined{
		RoomID:        env.RoomID,
		ParticipantID: env.ParticipantID,
		Username:      env.Username,
		Role:          role,
		Ticket:        env.Ticket,
	}
	s.capture.SetRoom(env.RoomID)
	s.log = s.opts.Logger.WithFields(logrus.Fields{"room_id": env.RoomID, "participant_id": env.ParticipantID})
}

// handleDrawing 用房间快照替换本地文档并重置历史，然后完成等待中的 Join
func (s *Session) handleDrawing(env *dto.Envelope, logCtx *logrus.Entry) {
	if s.joined == nil || env.RoomID != s.joined.RoomID {
		return
	}
	snap, dropped, err := dto.DecodeSnapshot(env.Snapshot)
	if err != nil {
		logCtx.WithError(err).Warn("Dropping unreadable snapshot")
		snap = s.store.Empty()
	}
	for _, e := range dropped {
		logCtx.WithError(e).Warn("Dropping snapshot object")
	}

	func() {
		tok := s.gate.Acquire()
		defer tok.Release()
		s.store.Restore(snap)
	}()
	s.stack.Reset(s.store.Snapshot())
	logCtx.WithField("objects", s.store.Len()).Info("Room snapshot applied")

	if p := s.pending; p != nil && p.kind == requestJoin && p.roomID == env.RoomID {
		j := *s.joined
		p.resolve(reply{joined: &j})
		s.pending = nil
	}
}

// applyRemote 在 Gate 下重建并应用远端操作。无法重建的操作被丢弃，连接保持。
func (s *Session) applyRemote(env *dto.Envelope, logCtx *logrus.Entry) {
	err := s.gate.Hold(func() error {
		op, err := env.ToOperation(s.store.Registry())
		if err != nil {
			return err
		}
		if _, err := s.store.Apply(op); err != nil {
			return fmt.Errorf("object %s: %w", op.TargetID(), err)
		}
		return nil
	})
	if err != nil {
		logCtx.WithError(err).Warn("Dropping remote operation")
	}
}

func roomError(message string) error {
	if message == domain.ErrRoomExists.Error() {
		return domain.ErrRoomExists
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidRoom, message)
}

func accessError(message string) error {
	if message == domain.ErrRoomNotFound.Error() {
		return domain.ErrRoomNotFound
	}
	return fmt.Errorf("%w: %s", domain.ErrAccessDenied, message)
}
