package dto

import (
	"encoding/json"
	"fmt"

	"collaborative-whiteboard/internal/domain"
)

// SnapshotDTO 是 drawing 事件中快照的线上形式
type SnapshotDTO struct {
	Background string            `json:"background"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Objects    []json.RawMessage `json:"objects"`
}

// EncodeSnapshot 序列化快照 (对象顺序保持不变)
func EncodeSnapshot(s domain.Snapshot) (json.RawMessage, error) {
	out := SnapshotDTO{
		Background: s.Background,
		Width:      s.Width,
		Height:     s.Height,
		Objects:    make([]json.RawMessage, 0, len(s.Objects)),
	}
	for _, obj := range s.Objects {
		raw, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot object %s: %w", obj.ID, err)
		}
		out.Objects = append(out.Objects, raw)
	}
	return json.Marshal(out)
}

// DecodeSnapshot 解析快照。无法解析的单个对象被跳过并通过 dropped 返回，
// 类型校验留给 canvas.Store.Restore。
func DecodeSnapshot(raw []byte) (domain.Snapshot, []error, error) {
	var in SnapshotDTO
	if err := json.Unmarshal(raw, &in); err != nil {
		return domain.Snapshot{}, nil, fmt.Errorf("%w: snapshot: %v", domain.ErrReconstructionFailure, err)
	}
	snap := domain.Snapshot{
		DocProps: domain.DocProps{Background: in.Background, Width: in.Width, Height: in.Height},
		Objects:  make([]*domain.CanvasObject, 0, len(in.Objects)),
	}
	var dropped []error
	for i, rawObj := range in.Objects {
		var obj domain.CanvasObject
		if err := json.Unmarshal(rawObj, &obj); err != nil {
			dropped = append(dropped, fmt.Errorf("snapshot object %d: %w", i, err))
			continue
		}
		snap.Objects = append(snap.Objects, &obj)
	}
	return snap, dropped, nil
}

// RoomJoined 是 room-joined 的返回内容
type RoomJoined struct {
	RoomID        string
	ParticipantID string
	Username      string
	Role          domain.Role
	Ticket        string
}
