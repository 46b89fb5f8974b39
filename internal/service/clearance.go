package service

import (
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/utils"
)

// ClearanceFor 按令牌身份确定事件许可级别
// 管理员看全量，持本局令牌的活跃座位看本方事件，其余只看公开事件。
// 可见性在事件创建时就已定死，这里只是选择读取档位。
func ClearanceFor(instance *game.GameInstance, claims *utils.JWTClaims) mafia.Clearance {
	if claims == nil {
		return mafia.PublicClearance()
	}

	if claims.TokenType == "access" && claims.Role == models.UserRoleAdmin {
		return mafia.AdminClearance()
	}

	if claims.TokenType == "player" && instance != nil && claims.GameID == instance.GameID {
		if team, err := instance.Engine.PlayerTeam(claims.PlayerID); err == nil {
			return mafia.TeamClearance(team, claims.PlayerID)
		}
	}

	return mafia.PublicClearance()
}
