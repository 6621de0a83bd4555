package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"collaborative-whiteboard/internal/domain"
	"collaborative-whiteboard/internal/repository"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultMaxParticipants = 16
	defaultUsername        = "anonymous"
	maxUsernameLength      = 64
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// AccessConfig 是访问控制参数
type AccessConfig struct {
	MaxParticipants   int
	JoinAttemptLimit  int // <=0 关闭加入限流
	JoinAttemptWindow time.Duration
	BcryptCost        int
}

// CreateRoomRequest 是 create-room 的请求内容
type CreateRoomRequest struct {
	RoomID     string
	Type       string
	Password   string
	RemoteAddr string
}

// JoinRequest 是 join-room 的请求内容
type JoinRequest struct {
	RoomID     string
	Password   string
	Role       string
	Username   string
	Ticket     string
	RemoteAddr string
}

// AccessService 负责房间创建校验和加入判定。
// 容量检查由房间协程在处理 join 事件时调用 CheckCapacity 完成。
type AccessService struct {
	limiter repository.RateLimitRepository
	tickets *TicketService
	audit   AuditRecorder
	cfg     AccessConfig
}

// NewAccessService 创建 AccessService。limiter 可以为 nil (不限流)。
func NewAccessService(limiter repository.RateLimitRepository, tickets *TicketService, audit AuditRecorder, cfg AccessConfig) *AccessService {
	if tickets == nil {
		panic("TicketService cannot be nil for AccessService")
	}
	if audit == nil {
		audit = NopAuditRecorder{}
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = defaultMaxParticipants
	}
	if cfg.JoinAttemptWindow <= 0 {
		cfg.JoinAttemptWindow = time.Minute
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &AccessService{limiter: limiter, tickets: tickets, audit: audit, cfg: cfg}
}

// MaxParticipants 返回房间容量
func (s *AccessService) MaxParticipants() int { return s.cfg.MaxParticipants }

// NewRoom 校验创建请求并生成房间元数据
func (s *AccessService) NewRoom(req CreateRoomRequest) (*domain.Room, error) {
	if !roomIDPattern.MatchString(req.RoomID) {
		return nil, fmt.Errorf("%w: room id must be 1-64 characters of letters, digits, '-' or '_'", domain.ErrInvalidRoom)
	}
	room := &domain.Room{ID: req.RoomID, CreatedAt: time.Now().UTC()}
	switch domain.Visibility(req.Type) {
	case domain.VisibilityPublic, "":
		room.Visibility = domain.VisibilityPublic
	case domain.VisibilityPrivate:
		if req.Password == "" {
			return nil, fmt.Errorf("%w: private room requires a password", domain.ErrInvalidRoom)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
		if err != nil {
			logrus.WithError(err).WithField("room_id", req.RoomID).Error("Failed to hash room password")
			return nil, ErrInternalServer
		}
		room.Visibility = domain.VisibilityPrivate
		room.PasswordHash = hash
	default:
		return nil, fmt.Errorf("%w: unknown room type %q", domain.ErrInvalidRoom, req.Type)
	}
	return room, nil
}

// Verify 判定加入请求，通过时返回新的参与者。
// 顺序：限流，角色，ticket (同一房间有效时跳过密码)，私有房间密码。
func (s *AccessService) Verify(ctx context.Context, room *domain.Room, req JoinRequest) (*domain.Participant, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": room.ID, "remote": req.RemoteAddr})

	if s.limiter != nil && s.cfg.JoinAttemptLimit > 0 {
		key := fmt.Sprintf("join:%s:%s", req.RemoteAddr, room.ID)
		exceeded, err := s.limiter.CheckRateLimit(ctx, key, s.cfg.JoinAttemptLimit, s.cfg.JoinAttemptWindow)
		if err != nil {
			// 限流存储不可用时放行
			logCtx.WithError(err).Warn("Join throttle unavailable, allowing attempt")
		} else if exceeded {
			return nil, ErrTooManyJoins
		}
	}

	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return nil, err
	}
	username := normalizeUsername(req.Username)

	if req.Ticket != "" {
		t, err := s.tickets.Verify(req.Ticket)
		switch {
		case err != nil:
			logCtx.WithError(err).Debug("Ignoring invalid ticket on join")
		case t.RoomID != room.ID:
			logCtx.Debug("Ignoring ticket issued for another room")
		default:
			// ticket 不能提升权限
			if t.Role == domain.RoleViewer {
				role = domain.RoleViewer
			}
			if strings.TrimSpace(req.Username) == "" && t.Username != "" {
				username = t.Username
			}
			p := domain.NewParticipant(room.ID, username, role)
			if t.ParticipantID != "" {
				p.ID = t.ParticipantID
			}
			return p, nil
		}
	}

	if room.IsPrivate() {
		if req.Password == "" || bcrypt.CompareHashAndPassword(room.PasswordHash, []byte(req.Password)) != nil {
			return nil, domain.ErrWrongPassword
		}
	}
	return domain.NewParticipant(room.ID, username, role), nil
}

// CheckCapacity 在房间协程内调用，current 为当前成员数
func (s *AccessService) CheckCapacity(current int) error {
	if current >= s.cfg.MaxParticipants {
		return domain.ErrRoomFull
	}
	return nil
}

// IssueTicket 为已接纳的参与者签发 ticket
func (s *AccessService) IssueTicket(p *domain.Participant) (string, error) {
	return s.tickets.Issue(p)
}

// RecordJoin 记录最终的加入判定，err 为 nil 表示接纳
func (s *AccessService) RecordJoin(ctx context.Context, req JoinRequest, p *domain.Participant, err error) {
	entry := domain.AuditEntry{
		RoomID:     req.RoomID,
		Username:   normalizeUsername(req.Username),
		Role:       req.Role,
		RemoteAddr: req.RemoteAddr,
	}
	if p != nil {
		entry.Username = p.Username
		entry.Role = string(p.Role)
	}
	if err != nil {
		entry.Event = domain.AuditJoinRejected
		entry.Reason = RejectionReason(err)
	} else {
		entry.Event = domain.AuditJoinAccepted
	}
	s.audit.Record(ctx, entry)
}

// RoomCreated 记录房间创建
func (s *AccessService) RoomCreated(ctx context.Context, room *domain.Room, remote string) {
	s.audit.Record(ctx, domain.AuditEntry{
		RoomID:     room.ID,
		Event:      domain.AuditRoomCreated,
		RemoteAddr: remote,
		Reason:     string(room.Visibility),
	})
}

// RoomDestroyed 记录房间销毁
func (s *AccessService) RoomDestroyed(ctx context.Context, roomID, reason string) {
	s.audit.Record(ctx, domain.AuditEntry{
		RoomID: roomID,
		Event:  domain.AuditRoomDestroyed,
		Reason: reason,
	})
}

// RejectionReason 把错误转换为可以展示给用户的原因
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, ErrTooManyJoins):
		return "too many join attempts, try again later"
	case errors.Is(err, domain.ErrRoomFull):
		return "room is full"
	case errors.Is(err, domain.ErrWrongPassword):
		return "wrong password"
	case errors.Is(err, domain.ErrAccessDenied):
		return err.Error()
	case errors.Is(err, domain.ErrInvalidRoom), errors.Is(err, domain.ErrRoomExists):
		return err.Error()
	default:
		return "internal error"
	}
}

func normalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultUsername
	}
	if utf8.RuneCountInString(name) > maxUsernameLength {
		name = string([]rune(name)[:maxUsernameLength])
	}
	return name
}
