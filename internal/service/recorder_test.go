package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/repository"
)

// RecorderTestSuite 对局落库器测试套件
type RecorderTestSuite struct {
	suite.Suite
	ctx      context.Context
	db       *gorm.DB
	games    *game.GameManager
	repos    *repository.Manager
	recorder *GameRecorder
}

func (suite *RecorderTestSuite) SetupSuite() {
	suite.ctx = context.Background()
}

func (suite *RecorderTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	suite.Require().NoError(err)

	err = db.AutoMigrate(
		&models.Game{},
		&models.GamePlayer{},
		&models.GameEvent{},
		&models.GameStateSnapshot{},
	)
	suite.Require().NoError(err)

	suite.db = db
	suite.games = game.NewGameManager(&game.ManagerConfig{Logger: zap.NewNop()})
	suite.repos = repository.NewManager(db)
	suite.recorder = NewGameRecorder(suite.games, suite.repos, zap.NewNop())
}

// newGame 建一局三人局并入座
// 一杀二民，首夜击杀即可分出胜负。
func (suite *RecorderTestSuite) newGame(gameID string) *game.GameInstance {
	cfg := mafia.Config{
		PlayerCount: 3,
		Roles: map[mafia.RoleKind]int{
			mafia.RoleMafia:    1,
			mafia.RoleVillager: 2,
		},
		TieBreak: mafia.TieBreakNoElimination,
		Seed:     7,
	}

	instance, err := suite.games.CreateGame(suite.ctx, gameID, cfg)
	suite.Require().NoError(err)

	for i := 1; i <= 3; i++ {
		err = instance.Engine.AddPlayer(fmt.Sprintf("p%d", i), fmt.Sprintf("玩家%d", i))
		suite.Require().NoError(err)
	}
	return instance
}

// runToMafiaWin 首夜击杀一名平民，黑手党1v1获胜
func (suite *RecorderTestSuite) runToMafiaWin(instance *game.GameInstance) (mafiaID, victimID string) {
	eng := instance.Engine
	suite.Require().NoError(eng.Setup())
	suite.Require().NoError(eng.BeginNight())

	for _, p := range instance.View().Players {
		team, err := eng.PlayerTeam(p.ID)
		suite.Require().NoError(err)
		if team == mafia.TeamMafia {
			mafiaID = p.ID
		} else if victimID == "" {
			victimID = p.ID
		}
	}
	suite.Require().NotEmpty(mafiaID)
	suite.Require().NotEmpty(victimID)

	err := instance.SubmitNight(mafiaID, mafia.Decision{Kind: mafia.ActionKill, Target: victimID})
	suite.Require().NoError(err)

	_, err = eng.ResolveNight(false)
	suite.Require().NoError(err)
	suite.Require().NotNil(eng.Winner())
	suite.Require().NoError(eng.Finish())
	return mafiaID, victimID
}

// TestRegisterGame 测试对局登记落库
func (suite *RecorderTestSuite) TestRegisterGame() {
	instance := suite.newGame("rec-1")

	err := suite.recorder.RegisterGame(suite.ctx, instance)
	suite.NoError(err)

	found, err := suite.repos.Game().FindWithPlayers(suite.ctx, "rec-1")
	suite.NoError(err)
	suite.Equal(models.GameStatusRunning, found.Status)
	suite.Equal(3, found.PlayerCount)
	suite.Equal(int64(7), found.Seed)
	suite.Equal("no_elimination", found.Config["tie_break"])
	suite.Len(found.Players, 3)

	// 登记时角色未分配，座位只有身份
	suite.Equal("p1", found.Players[0].PlayerID)
	suite.Equal("玩家1", found.Players[0].Name)
	suite.Empty(found.Players[0].Team)
	suite.True(found.Players[0].Alive)
}

// TestNotifyFlush 测试通知后增量落事件
func (suite *RecorderTestSuite) TestNotifyFlush() {
	instance := suite.newGame("rec-2")
	suite.Require().NoError(suite.recorder.RegisterGame(suite.ctx, instance))

	suite.Require().NoError(instance.Engine.Setup())
	suite.Require().NoError(instance.Engine.BeginNight())

	suite.recorder.Notify("rec-2")

	adminEvents := instance.EventsSince(mafia.AdminClearance(), 0)
	count, err := suite.repos.Event().CountByGame(suite.ctx, "rec-2")
	suite.NoError(err)
	suite.Equal(int64(len(adminEvents)), count)
	suite.Greater(count, int64(0))

	// 进度同步到对局行
	found, err := suite.repos.Game().FindByGameID(suite.ctx, "rec-2")
	suite.NoError(err)
	suite.Equal("NIGHT", found.Phase)

	// 重复通知不产生新行
	suite.recorder.Notify("rec-2")
	again, err := suite.repos.Event().CountByGame(suite.ctx, "rec-2")
	suite.NoError(err)
	suite.Equal(count, again)
}

// TestNotifyUnknownGame 测试指向未知对局的通知
func (suite *RecorderTestSuite) TestNotifyUnknownGame() {
	suite.recorder.Notify("no-such-game")

	count, err := suite.repos.Event().CountByGame(suite.ctx, "no-such-game")
	suite.NoError(err)
	suite.Equal(int64(0), count)
}

// TestNotifyArchivesFinishedGame 测试终局归档
func (suite *RecorderTestSuite) TestNotifyArchivesFinishedGame() {
	instance := suite.newGame("rec-3")
	suite.Require().NoError(suite.recorder.RegisterGame(suite.ctx, instance))

	mafiaID, victimID := suite.runToMafiaWin(instance)

	suite.recorder.Notify("rec-3")

	found, err := suite.repos.Game().FindWithPlayers(suite.ctx, "rec-3")
	suite.NoError(err)
	suite.True(found.IsFinished())
	suite.Equal("MAFIA", found.Winner)
	suite.Equal("GAME_OVER", found.Phase)
	suite.NotNil(found.StartedAt)
	suite.NotNil(found.FinishedAt)

	// 座位表补全了阵营与生死
	suite.Len(found.Players, 3)
	for _, p := range found.Players {
		switch p.PlayerID {
		case mafiaID:
			suite.Equal("MAFIA", p.Team)
			suite.Contains(p.Roles.StringList(), "MAFIA")
			suite.True(p.Alive)
		case victimID:
			suite.Equal("TOWN", p.Team)
			suite.False(p.Alive)
			suite.Equal(1, p.DeathDay)
			suite.Equal("mafia_kill", p.DeathCause)
		default:
			suite.Equal("TOWN", p.Team)
			suite.True(p.Alive)
		}
	}

	// 全部事件落库，包括终局身份表
	adminEvents := instance.EventsSince(mafia.AdminClearance(), 0)
	count, err := suite.repos.Event().CountByGame(suite.ctx, "rec-3")
	suite.NoError(err)
	suite.Equal(int64(len(adminEvents)), count)

	// 再次通知不重复归档也不重复落事件
	suite.recorder.Notify("rec-3")
	again, err := suite.repos.Event().CountByGame(suite.ctx, "rec-3")
	suite.NoError(err)
	suite.Equal(count, again)
}

// TestResume 测试游标对齐后不重放已落库事件
func (suite *RecorderTestSuite) TestResume() {
	instance := suite.newGame("rec-4")
	suite.Require().NoError(suite.recorder.RegisterGame(suite.ctx, instance))
	suite.Require().NoError(instance.Engine.Setup())
	suite.recorder.Notify("rec-4")

	before, err := suite.repos.Event().CountByGame(suite.ctx, "rec-4")
	suite.NoError(err)
	suite.Greater(before, int64(0))

	// 模拟进程重启：新落库器对齐游标后通知
	fresh := NewGameRecorder(suite.games, suite.repos, zap.NewNop())
	suite.Require().NoError(fresh.Resume(suite.ctx, "rec-4"))

	fresh.Notify("rec-4")
	after, err := suite.repos.Event().CountByGame(suite.ctx, "rec-4")
	suite.NoError(err)
	suite.Equal(before, after)
}

// countingSink 记录收到的通知
type countingSink struct {
	gameIDs []string
}

func (c *countingSink) Notify(gameID string) {
	c.gameIDs = append(c.gameIDs, gameID)
}

// TestMultiSink 测试通知扇出
func (suite *RecorderTestSuite) TestMultiSink() {
	first := &countingSink{}
	second := &countingSink{}

	sink := NewMultiSink(first, nil, second)
	sink.Notify("fan-1")
	sink.Notify("fan-2")

	suite.Equal([]string{"fan-1", "fan-2"}, first.gameIDs)
	suite.Equal([]string{"fan-1", "fan-2"}, second.gameIDs)
}

// TestRecorderSuite 运行测试套件
func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderTestSuite))
}
