package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"collaborative-whiteboard/internal/canvas"
	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/dto"
	"collaborative-whiteboard/internal/history"
	"collaborative-whiteboard/internal/service"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
)

// 房间事件类型
type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventMessage
	eventSnapshot
)

// roomEvent 是房间协程按顺序处理的事件
type roomEvent struct {
	kind        eventKind
	client      *Client
	participant *domain.Participant
	env         *dto.Envelope
	raw         []byte
	joinReply   chan error
	snapReply   chan domain.Snapshot
}

// Room 是一个活跃房间。规范文档、房间级历史和成员集合只由 run 协程访问。
type Room struct {
	hub  *Hub
	meta *domain.Room

	events   chan roomEvent
	quit     chan struct{} // 请求关闭
	done     chan struct{} // 协程已退出
	stopOnce sync.Once
	size     atomic.Int32

	store      *canvas.Store
	history    *history.Stack
	members    mapset.Set[*Client]
	joinedOnce bool
	log        *logrus.Entry

	// 每个对象序列化后的大小，由 store 的变更通知维护
	sizes    map[string]int
	docBytes int
}

func newRoom(h *Hub, meta *domain.Room) *Room {
	log := logrus.WithField("room_id", meta.ID)
	store := canvas.NewStore(h.reg, h.cfg.Doc)
	store.SetLogger(log)
	r := &Room{
		hub:     h,
		meta:    meta,
		events:  make(chan roomEvent, roomEventBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		store:   store,
		history: history.New(store.Snapshot(), h.cfg.HistoryLimit),
		members: mapset.NewThreadUnsafeSet[*Client](),
		log:     log,
		sizes:   make(map[string]int),
	}
	store.Observe(r.track)
	return r
}

// track 维护文档大小。Restore 会逐个发出 removed/added，所以 undo/redo/clear 也被统计。
func (r *Room) track(ch canvas.Change) {
	r.docBytes -= r.sizes[ch.ID]
	delete(r.sizes, ch.ID)
	if ch.Kind == canvas.ChangeRemoved {
		return
	}
	raw, err := json.Marshal(ch.Object)
	if err != nil {
		r.log.WithError(err).WithField("object_id", ch.ID).Warn("Failed to measure object")
		return
	}
	r.sizes[ch.ID] = len(raw)
	r.docBytes += len(raw)
}

// fits 判断操作应用后文档是否仍在上限之内。
// 增量按线上 obj 的大小估计：合并后的对象不会超过原对象加上补丁。
func (r *Room) fits(op domain.Operation, obj json.RawMessage) bool {
	_, exists := r.sizes[op.TargetID()]
	switch {
	case op.Kind == domain.OpRemove:
		return true
	case op.Kind == domain.OpAdd && exists, op.Kind == domain.OpModify && !exists:
		// 无操作
		return true
	}
	return r.docBytes+len(obj) <= r.hub.cfg.MaxDocumentBytes
}

// ID 返回房间 ID
func (r *Room) ID() string { return r.meta.ID }

// Meta 返回房间元数据
func (r *Room) Meta() *domain.Room { return r.meta }

// Size 返回当前成员数 (可在任意协程调用)
func (r *Room) Size() int { return int(r.size.Load()) }

// post 把事件送入房间队列，房间已销毁时返回 false
func (r *Room) post(ev roomEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

func (r *Room) join(ctx context.Context, c *Client, p *domain.Participant) error {
	reply := make(chan error, 1)
	if !r.post(roomEvent{kind: eventJoin, client: c, participant: p, joinReply: reply}) {
		return domain.ErrRoomNotFound
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return domain.ErrRoomNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) leave(c *Client) {
	if !r.post(roomEvent{kind: eventLeave, client: c}) {
		// 房间已销毁，发送通道由这里关闭
		c.closeSend()
	}
}

func (r *Room) submit(c *Client, env *dto.Envelope, raw []byte) {
	r.post(roomEvent{kind: eventMessage, client: c, env: env, raw: raw})
}

func (r *Room) snapshot(ctx context.Context) (domain.Snapshot, error) {
	reply := make(chan domain.Snapshot, 1)
	if !r.post(roomEvent{kind: eventSnapshot, snapReply: reply}) {
		return domain.Snapshot{}, domain.ErrRoomNotFound
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.done:
		return domain.Snapshot{}, domain.ErrRoomNotFound
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	}
}

func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// run 是房间的事件循环
func (r *Room) run() {
	defer r.hub.wg.Done()

	var ttl <-chan time.Time
	if r.hub.cfg.EmptyRoomTTL > 0 {
		timer := time.NewTimer(r.hub.cfg.EmptyRoomTTL)
		defer timer.Stop()
		ttl = timer.C
	}

	for {
		select {
		case ev := <-r.events:
			r.handle(ev)
			if r.joinedOnce && r.members.Cardinality() == 0 {
				r.finish("last participant left")
				return
			}
		case <-ttl:
			if r.members.Cardinality() == 0 {
				r.finish("nobody joined")
				return
			}
		case <-r.quit:
			r.members.Each(func(c *Client) bool {
				c.closeSend()
				return false
			})
			r.members.Clear()
			r.size.Store(0)
			r.finish("server shutdown")
			return
		}
	}
}

func (r *Room) finish(reason string) {
	r.hub.detach(r, reason)
	close(r.done)
}

func (r *Room) handle(ev roomEvent) {
	switch ev.kind {
	case eventJoin:
		ev.joinReply <- r.handleJoin(ev.client, ev.participant)
	case eventLeave:
		r.handleLeave(ev.client)
	case eventMessage:
		r.handleMessage(ev.client, ev.env, ev.raw)
	case eventSnapshot:
		ev.snapReply <- r.store.Snapshot()
	}
}

// handleJoin 检查容量，发送 room-joined 和当前文档。
// 两条消息在房间协程内入队，早于之后转发的任何操作。
func (r *Room) handleJoin(c *Client, p *domain.Participant) error {
	logCtx := r.log.WithFields(logrus.Fields{"participant_id": p.ID, "username": p.Username})
	if err := r.hub.access.CheckCapacity(r.members.Cardinality()); err != nil {
		logCtx.Info("Join rejected: room is full")
		return err
	}
	ticket, err := r.hub.access.IssueTicket(p)
	if err != nil {
		logCtx.WithError(err).Error("Failed to issue ticket")
		return service.ErrInternalServer
	}
	snapRaw, err := dto.EncodeSnapshot(r.store.Snapshot())
	if err != nil {
		logCtx.WithError(err).Error("Failed to encode room snapshot")
		return service.ErrInternalServer
	}

	c.attach(r, p)
	r.members.Add(c)
	r.size.Store(int32(r.members.Cardinality()))
	r.joinedOnce = true

	c.sendEnvelope(&dto.Envelope{
		Event:         dto.EventRoomJoined,
		RoomID:        r.meta.ID,
		ParticipantID: p.ID,
		Username:      p.Username,
		Role:          string(p.Role),
		Ticket:        ticket,
	})
	c.sendEnvelope(&dto.Envelope{Event: dto.EventDrawing, RoomID: r.meta.ID, Snapshot: snapRaw})
	logCtx.WithFields(logrus.Fields{
		"role":    p.Role,
		"members": r.members.Cardinality(),
		"objects": r.store.Len(),
	}).Info("Participant joined")
	return nil
}

func (r *Room) handleLeave(c *Client) {
	if !r.members.Contains(c) {
		c.closeSend()
		return
	}
	r.members.Remove(c)
	r.size.Store(int32(r.members.Cardinality()))
	c.closeSend()
	r.log.WithField("participant_id", c.ParticipantID()).Info("Participant left")
}

// handleMessage 处理来自成员的修改类消息。
// viewer 的修改被拒绝；无法重建的操作被丢弃；接受的操作应用到规范文档后原样转发给其他成员。
func (r *Room) handleMessage(c *Client, env *dto.Envelope, raw []byte) {
	if !r.members.Contains(c) {
		return
	}
	p := c.Participant()
	logCtx := r.log.WithFields(logrus.Fields{"participant_id": p.ID, "event": env.Event})

	if !p.Role.CanEdit() {
		logCtx.Info("Rejected mutation from viewer")
		c.reject(r.meta.ID, domain.ErrReadOnly.Error())
		return
	}

	switch {
	case env.IsOperation():
		op, err := env.ToOperation(r.store.Registry())
		if err != nil {
			logCtx.WithError(err).Warn("Dropping unreconstructible operation")
			c.reject(r.meta.ID, err.Error())
			return
		}
		if !r.fits(op, env.Obj) {
			logCtx.WithFields(logrus.Fields{
				"object_id": op.TargetID(),
				"doc_bytes": r.docBytes,
			}).Warn("Rejected operation: document size limit reached")
			c.reject(r.meta.ID, domain.ErrDocumentFull.Error())
			return
		}
		changed, err := r.store.Apply(op)
		if err != nil {
			logCtx.WithError(err).WithField("object_id", op.TargetID()).Warn("Dropping malformed operation")
			c.reject(r.meta.ID, err.Error())
			return
		}
		if changed {
			r.history.Record(r.store.Snapshot())
		}
		logCtx.WithFields(logrus.Fields{"object_id": op.TargetID(), "changed": changed}).Debug("Operation applied")
	case env.Event == dto.EventCanvasAction:
		action, err := domain.ParseCanvasAction(env.Action)
		if err != nil {
			logCtx.WithError(err).Warn("Dropping canvas action")
			c.reject(r.meta.ID, err.Error())
			return
		}
		r.applyAction(action)
		logCtx.WithField("action", action).Debug("Canvas action applied")
	default:
		return
	}
	r.broadcast(raw, c)
}

// applyAction 在规范文档上执行 undo/redo/clear
func (r *Room) applyAction(action domain.CanvasAction) {
	switch action {
	case domain.ActionUndo:
		if s, ok := r.history.Undo(); ok {
			r.store.Restore(s)
		}
	case domain.ActionRedo:
		if s, ok := r.history.Redo(); ok {
			r.store.Restore(s)
		}
	case domain.ActionClear:
		empty := r.store.Empty()
		r.store.Restore(empty)
		r.history.Clear(empty)
	}
}

// broadcast 非阻塞地把消息发给除 sender 外的所有成员
func (r *Room) broadcast(message []byte, sender *Client) {
	recipients := 0
	r.members.Each(func(c *Client) bool {
		if c != sender && c.enqueue(message) {
			recipients++
		}
		return false
	})
	r.log.WithFields(logrus.Fields{
		"message_size":    len(message),
		"recipient_count": recipients,
	}).Debug("Broadcast message")
}
