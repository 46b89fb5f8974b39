package mafia

import (
	"fmt"
	"time"
)

// EventLog 仅追加的事件日志
// 事件一经写入不再变更，可见性在创建时固定。
type EventLog struct {
	gameID  string
	events  []Event
	nextSeq int64
}

// NewEventLog 创建事件日志
func NewEventLog(gameID string) *EventLog {
	return &EventLog{
		gameID:  gameID,
		nextSeq: 1,
	}
}

// Append 追加一条事件并返回写入后的副本
// 缺少必要字段的事件属于生产者错误，拒绝写入。
func (l *EventLog) Append(e Event) (Event, error) {
	if e.GameID == "" {
		e.GameID = l.gameID
	}
	if e.GameID != l.gameID {
		return Event{}, fmt.Errorf("%w: 游戏ID不匹配%s", ErrEventIncomplete, e.GameID)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("%w: 事件类型为空", ErrEventIncomplete)
	}
	switch e.Visibility {
	case VisibilityPublic, VisibilityAdminOnly:
	case VisibilityPrivateTeam:
		if e.Team == "" {
			return Event{}, fmt.Errorf("%w: PRIVATE_TEAM事件缺少阵营(%s)", ErrEventIncomplete, e.Type)
		}
	default:
		return Event{}, fmt.Errorf("%w: 可见性非法%q", ErrEventIncomplete, e.Visibility)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	e.Seq = l.nextSeq
	l.nextSeq++
	l.events = append(l.events, e)
	return e, nil
}

// Len 返回事件总数
func (l *EventLog) Len() int {
	return len(l.events)
}

// All 返回全部事件的副本
func (l *EventLog) All() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Since 返回序号大于afterSeq的事件副本
func (l *EventLog) Since(afterSeq int64) []Event {
	var out []Event
	for _, e := range l.events {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out
}

// Filter 按许可过滤事件
// 这是防止信息泄露的唯一通道：管理员许可返回全部事件；
// 阵营许可返回公开事件加上本阵营的私有事件，其中限定了
// 受众的私有事件只有受众本人可见；公开许可仅返回公开事件。
func (l *EventLog) Filter(c Clearance) []Event {
	var out []Event
	for _, e := range l.events {
		if visibleTo(e, c) {
			out = append(out, e)
		}
	}
	return out
}

// FilterSince 按许可过滤序号大于afterSeq的事件
func (l *EventLog) FilterSince(c Clearance, afterSeq int64) []Event {
	var out []Event
	for _, e := range l.events {
		if e.Seq > afterSeq && visibleTo(e, c) {
			out = append(out, e)
		}
	}
	return out
}

// visibleTo 判断单条事件对指定许可是否可见
func visibleTo(e Event, c Clearance) bool {
	switch c.Level {
	case VisibilityAdminOnly:
		return true
	case VisibilityPrivateTeam:
		if e.Visibility == VisibilityPublic {
			return true
		}
		if e.Visibility != VisibilityPrivateTeam {
			return false
		}
		if e.Team != c.Team {
			return false
		}
		if e.Audience != "" && e.Audience != c.PlayerID {
			return false
		}
		return true
	default:
		return e.Visibility == VisibilityPublic
	}
}

// restore 从快照恢复事件序列
func (l *EventLog) restore(events []Event, nextSeq int64) {
	l.events = make([]Event, len(events))
	copy(l.events, events)
	if nextSeq <= 0 {
		nextSeq = int64(len(events)) + 1
	}
	l.nextSeq = nextSeq
}
