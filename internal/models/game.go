package models

import (
	"time"
)

// 对局状态
const (
	GameStatusRunning  = "running"
	GameStatusFinished = "finished"
	GameStatusAborted  = "aborted"
)

// Game 对局表
type Game struct {
	BaseModel
	GameID      string     `gorm:"uniqueIndex;size:64;not null" json:"game_id"`
	Status      string     `gorm:"size:20;default:'running'" json:"status"`
	Phase       string     `gorm:"size:20" json:"phase"`
	Day         int        `gorm:"default:0" json:"day"`
	Turn        int        `gorm:"default:0" json:"turn"`
	PlayerCount int        `gorm:"default:0" json:"player_count"`
	Config      JSONMap    `gorm:"type:json" json:"config"`
	Winner      string     `gorm:"size:10" json:"winner"`
	Seed        int64      `json:"seed"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	// 关联
	Players []GamePlayer `gorm:"foreignKey:GameID;references:GameID" json:"players,omitempty"`
}

// TableName 指定表名
func (Game) TableName() string {
	return "games"
}

// IsFinished 对局是否已结束
func (g *Game) IsFinished() bool {
	return g.Status == GameStatusFinished
}

// GamePlayer 对局玩家表
type GamePlayer struct {
	BaseModel
	GameID     string   `gorm:"uniqueIndex:idx_game_seat;size:64;not null" json:"game_id"`
	Seat       int      `gorm:"uniqueIndex:idx_game_seat;not null" json:"seat"`
	PlayerID   string   `gorm:"index;size:64;not null" json:"player_id"`
	Name       string   `gorm:"size:100" json:"name"`
	Team       string   `gorm:"size:10" json:"team"`
	Roles      JSONList `gorm:"type:json" json:"roles"`
	Alive      bool     `gorm:"default:true" json:"alive"`
	DeathDay   int      `gorm:"default:0" json:"death_day"`
	DeathCause string   `gorm:"size:30" json:"death_cause"`
}

// TableName 指定表名
func (GamePlayer) TableName() string {
	return "game_players"
}

// GameEvent 事件流水表（仅追加，(game_id, seq)唯一）
type GameEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	GameID     string    `gorm:"uniqueIndex:idx_event_game_seq;size:64;not null" json:"game_id"`
	Seq        int64     `gorm:"uniqueIndex:idx_event_game_seq;not null" json:"seq"`
	Type       string    `gorm:"size:40;not null" json:"type"`
	Visibility string    `gorm:"size:20;index" json:"visibility"`
	Team       string    `gorm:"size:10" json:"team"`
	Audience   string    `gorm:"size:64" json:"audience"`
	Actor      string    `gorm:"size:64" json:"actor"`
	Target     string    `gorm:"size:64" json:"target"`
	Phase      string    `gorm:"size:20" json:"phase"`
	Day        int       `gorm:"default:0" json:"day"`
	Turn       int       `gorm:"default:0" json:"turn"`
	Payload    JSONMap   `gorm:"type:json" json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName 指定表名
func (GameEvent) TableName() string {
	return "game_events"
}

// GameStateSnapshot 对局最新存档（每局一行，覆盖写）
type GameStateSnapshot struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GameID    string    `gorm:"uniqueIndex;size:64;not null" json:"game_id"`
	Phase     string    `gorm:"size:20" json:"phase"`
	Day       int       `gorm:"default:0" json:"day"`
	Winner    string    `gorm:"size:10" json:"winner"`
	Version   int       `gorm:"default:0" json:"version"`
	Data      string    `gorm:"type:text" json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (GameStateSnapshot) TableName() string {
	return "game_state_snapshots"
}
