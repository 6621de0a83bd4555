package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"collaborative-whiteboard/internal/canvas"
	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/history"
	"collaborative-whiteboard/internal/service"

	"github.com/sirupsen/logrus"
)

// 包级别的 WebSocket 常量，供 hub 和 client 包内使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 路径对象可能包含大量点。
	maxMessageSize = 512 * 1024

	// 客户端发送缓冲区大小
	sendBufferSize = 256

	// 房间事件队列大小
	roomEventBuffer = 256
)

// DefaultMaxDocumentBytes 是房间文档序列化后的默认上限。
// 加入时整个文档作为一个 drawing 帧下发，客户端的读上限必须大于它。
const DefaultMaxDocumentBytes = 16 << 20

// ErrHubStopped 表示 hub 已停止，不再接受新房间
var ErrHubStopped = errors.New("hub is stopped")

// Config 是 hub 的运行参数
type Config struct {
	Doc          domain.DocProps // 新房间的文档属性
	HistoryLimit int             // 房间级历史上限
	EmptyRoomTTL time.Duration   // 创建后无人加入时的销毁时间，<=0 表示不销毁
	// MaxDocumentBytes 限制房间内对象序列化后的总大小，<=0 时使用 DefaultMaxDocumentBytes
	MaxDocumentBytes int
}

// RoomInfo 是公开房间列表中的一项
type RoomInfo struct {
	RoomID       string    `json:"roomId"`
	Participants int       `json:"participants"`
	Capacity     int       `json:"capacity"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Hub 维护全部活跃房间。每个房间由自己的协程处理事件，Hub 只负责查找和生命周期。
type Hub struct {
	rooms   map[string]*Room
	roomsMu sync.RWMutex
	stopped bool

	access *service.AccessService
	reg    *canvas.Registry
	cfg    Config
	log    *logrus.Entry

	wg sync.WaitGroup // 等待房间协程退出
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(access *service.AccessService, reg *canvas.Registry, cfg Config) *Hub {
	if access == nil {
		panic("AccessService cannot be nil for Hub")
	}
	if reg == nil {
		panic("Registry cannot be nil for Hub")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = history.DefaultLimit
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	return &Hub{
		rooms:  make(map[string]*Room),
		access: access,
		reg:    reg,
		cfg:    cfg,
		log:    logrus.WithField("component", "hub"),
	}
}

// CreateRoom 校验请求并启动房间协程。创建者不会自动加入。
func (h *Hub) CreateRoom(ctx context.Context, req service.CreateRoomRequest) (*domain.Room, error) {
	meta, err := h.access.NewRoom(req)
	if err != nil {
		return nil, err
	}

	h.roomsMu.Lock()
	if h.stopped {
		h.roomsMu.Unlock()
		return nil, ErrHubStopped
	}
	if _, exists := h.rooms[meta.ID]; exists {
		h.roomsMu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomExists, meta.ID)
	}
	r := newRoom(h, meta)
	h.rooms[meta.ID] = r
	h.wg.Add(1)
	go r.run()
	h.roomsMu.Unlock()

	h.access.RoomCreated(ctx, meta, req.RemoteAddr)
	h.log.WithFields(logrus.Fields{
		"room_id": meta.ID,
		"type":    meta.Visibility,
	}).Info("Room created")
	return meta, nil
}

// Lookup 按 ID 查找房间
func (h *Hub) Lookup(roomID string) (*Room, bool) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// Join 判定加入请求，通过后把客户端加入房间。
// 密码校验在调用方协程完成，容量检查在房间协程内完成。
func (h *Hub) Join(ctx context.Context, c *Client, req service.JoinRequest) (*domain.Participant, error) {
	p, err := h.join(ctx, c, req)
	h.access.RecordJoin(ctx, req, p, err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (h *Hub) join(ctx context.Context, c *Client, req service.JoinRequest) (*domain.Participant, error) {
	r, ok := h.Lookup(req.RoomID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, req.RoomID)
	}
	p, err := h.access.Verify(ctx, r.meta, req)
	if err != nil {
		return nil, err
	}
	if err := r.join(ctx, c, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Snapshot 返回房间规范文档的拷贝
func (h *Hub) Snapshot(ctx context.Context, roomID string) (domain.Snapshot, error) {
	r, ok := h.Lookup(roomID)
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, roomID)
	}
	return r.snapshot(ctx)
}

// PublicRooms 返回公开房间及人数，按 ID 排序
func (h *Hub) PublicRooms() []RoomInfo {
	capacity := h.access.MaxParticipants()
	h.roomsMu.RLock()
	infos := make([]RoomInfo, 0, len(h.rooms))
	for _, r := range h.rooms {
		if r.meta.IsPrivate() {
			continue
		}
		infos = append(infos, RoomInfo{
			RoomID:       r.meta.ID,
			Participants: r.Size(),
			Capacity:     capacity,
			CreatedAt:    r.meta.CreatedAt,
		})
	}
	h.roomsMu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].RoomID < infos[j].RoomID })
	return infos
}

// Stop 关闭所有房间并等待房间协程退出
func (h *Hub) Stop() {
	h.roomsMu.Lock()
	h.stopped = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.roomsMu.Unlock()

	for _, r := range rooms {
		r.stop()
	}
	h.wg.Wait()
	h.log.WithField("rooms", len(rooms)).Info("Hub stopped")
}

// detach 由房间协程在销毁时调用
func (h *Hub) detach(r *Room, reason string) {
	h.roomsMu.Lock()
	if cur, ok := h.rooms[r.meta.ID]; ok && cur == r {
		delete(h.rooms, r.meta.ID)
	}
	h.roomsMu.Unlock()

	h.access.RoomDestroyed(context.Background(), r.meta.ID, reason)
	h.log.WithFields(logrus.Fields{
		"room_id": r.meta.ID,
		"reason":  reason,
	}).Info("Room destroyed")
}
