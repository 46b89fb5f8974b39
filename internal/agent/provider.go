// Package agent 定义对局决策提供方的契约
// 引擎按"每个行动者每阶段一个决策"向提供方索取输出，
// 非法或超时的输出由引擎降级为弃权，提供方永远不能让对局中断。
package agent

import (
	"context"

	"github.com/wfunc/mafia-game/internal/game/mafia"
)

// Perception 单个行动者的局部视角
// Events已按该玩家的许可级别过滤，Teammates仅黑手党成员非空。
type Perception struct {
	GameID    string             `json:"game_id"`
	Actor     string             `json:"actor"`
	Roles     []mafia.RoleKind   `json:"roles"`
	Phase     mafia.Phase        `json:"phase"`
	Day       int                `json:"day"`
	Roster    []mafia.PlayerView `json:"roster"`
	Events    []mafia.Event      `json:"events"`
	Teammates []string           `json:"teammates,omitempty"`
}

// Living 返回存活玩家ID列表
func (p *Perception) Living() []string {
	var out []string
	for _, pv := range p.Roster {
		if pv.Alive {
			out = append(out, pv.ID)
		}
	}
	return out
}

// LivingOthers 返回除自己外的存活玩家ID列表
func (p *Perception) LivingOthers() []string {
	var out []string
	for _, pv := range p.Roster {
		if pv.Alive && pv.ID != p.Actor {
			out = append(out, pv.ID)
		}
	}
	return out
}

// IsTeammate 判断目标是否为同队黑手党
func (p *Perception) IsTeammate(id string) bool {
	for _, t := range p.Teammates {
		if t == id {
			return true
		}
	}
	return false
}

// Provider 决策提供方
// 实现方可以是内置随机决策、测试脚本或外部接入的决策服务。
type Provider interface {
	// DecideNight 为行动者产出一个夜晚行动决策
	DecideNight(ctx context.Context, p Perception) (mafia.Decision, error)

	// DecideVote 为投票者产出放逐目标ID，空串表示弃权
	DecideVote(ctx context.Context, p Perception) (string, error)
}
