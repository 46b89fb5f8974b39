// Package adapter 提供批量模拟专用的原生SQL归档
// 模拟批次的结果不进主库，落在独立的SQLite文件里，
// 用database/sql直连驱动，批次数据可以整库拷走或删除。
package adapter

import (
	"errors"
	"time"
)

// SQLiteConfig 归档库配置
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// BatchRecord 一次模拟批次
type BatchRecord struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Games       int        `json:"games"`
	PlayerCount int        `json:"player_count"`
	Roles       string     `json:"roles"` // 身份表的JSON快照
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// GameResult 单局模拟结果
type GameResult struct {
	ID         string       `json:"id"`
	BatchID    string       `json:"batch_id"`
	Seed       int64        `json:"seed"`
	Winner     string       `json:"winner"`
	Days       int          `json:"days"`
	Survivors  int          `json:"survivors"`
	Events     int          `json:"events"`
	DurationMS int64        `json:"duration_ms"`
	PlayedAt   time.Time    `json:"played_at"`
	Seats      []SeatResult `json:"seats,omitempty"`
}

// SeatResult 单局中一个座位的终局状态
type SeatResult struct {
	GameID     string `json:"game_id"`
	Seat       int    `json:"seat"`
	Team       string `json:"team"`
	Roles      string `json:"roles"` // 身份数组的JSON
	Alive      bool   `json:"alive"`
	DeathDay   int    `json:"death_day"`
	DeathCause string `json:"death_cause"`
}

// BatchStats 批次汇总统计
type BatchStats struct {
	BatchID     string           `json:"batch_id"`
	Games       int64            `json:"games"`
	WinsByTeam  map[string]int64 `json:"wins_by_team"`
	AvgDays     float64          `json:"avg_days"`
	AvgDuration time.Duration    `json:"avg_duration"`
}

// TeamSurvival 某阵营在批次内的座位存活统计
type TeamSurvival struct {
	Team     string  `json:"team"`
	Seats    int64   `json:"seats"`
	Survived int64   `json:"survived"`
	Rate     float64 `json:"rate"`
}

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("归档记录不存在")
	// ErrNotConnected 尚未连接归档库
	ErrNotConnected = errors.New("归档库未连接")
)
