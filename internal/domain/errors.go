package domain

import (
	"errors"
	"fmt"
)

// 同步核心的错误分类。
// RoomNotFound / AccessDenied 只终止当次加入请求；
// UnknownObjectType / ReconstructionFailure 在本地恢复：丢弃该操作并记录警告。
var (
	ErrRoomNotFound          = errors.New("room not found")
	ErrAccessDenied          = errors.New("access denied")
	ErrUnknownObjectType     = errors.New("unknown object type")
	ErrReconstructionFailure = errors.New("object reconstruction failed")
)

// 基于上述分类派生的错误
var (
	ErrRoomExists  = errors.New("room already exists")
	ErrInvalidRoom = errors.New("invalid room request")
	// ErrRoomFull 满员属于 AccessDenied
	ErrRoomFull = fmt.Errorf("%w: room is full", ErrAccessDenied)
	// ErrWrongPassword 私有房间密码不匹配
	ErrWrongPassword = fmt.Errorf("%w: incorrect room password", ErrAccessDenied)
	// ErrReadOnly 表示 viewer 试图修改画布
	ErrReadOnly = errors.New("viewers cannot modify the canvas")
	// ErrDocumentFull 表示操作会让房间文档超过大小上限
	ErrDocumentFull = errors.New("room document size limit reached")
)
