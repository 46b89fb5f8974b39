package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/mafia-game/internal/models"
	"gorm.io/gorm"
)

// GameRepositoryTestSuite 对局仓储测试套件
type GameRepositoryTestSuite struct {
	suite.Suite
	db       *gorm.DB
	gameRepo GameRepository
}

func (suite *GameRepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.gameRepo = NewGameRepository(suite.db)
}

func (suite *GameRepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

// TestGameRepository_Create 测试创建对局
func (suite *GameRepositoryTestSuite) TestGameRepository_Create() {
	ctx := context.Background()

	game := CreateTestGame("game-1", 8)
	err := suite.gameRepo.Create(ctx, game)
	assert.NoError(suite.T(), err)
	assert.NotZero(suite.T(), game.ID)

	// 验证数据
	found, err := suite.gameRepo.FindByGameID(ctx, "game-1")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), game.GameID, found.GameID)
	assert.Equal(suite.T(), 8, found.PlayerCount)
	assert.Equal(suite.T(), models.GameStatusRunning, found.Status)

	// 测试不存在的对局
	_, err = suite.gameRepo.FindByGameID(ctx, "not-exist")
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "对局不存在")
}

// TestGameRepository_SavePlayers 测试座位表的幂等覆盖写
func (suite *GameRepositoryTestSuite) TestGameRepository_SavePlayers() {
	ctx := context.Background()

	game := CreateTestGame("game-2", 5)
	err := suite.gameRepo.Create(ctx, game)
	assert.NoError(suite.T(), err)

	players := CreateTestPlayers("game-2", 5)
	err = suite.gameRepo.SavePlayers(ctx, players)
	assert.NoError(suite.T(), err)

	found, err := suite.gameRepo.FindPlayers(ctx, "game-2")
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), found, 5)
	assert.Equal(suite.T(), 1, found[0].Seat)
	assert.Equal(suite.T(), "MAFIA", found[0].Team)

	// 同一对局同一座位重写不增加行数，只更新字段
	updated := CreateTestPlayers("game-2", 5)
	updated[2].Alive = false
	updated[2].DeathDay = 1
	updated[2].DeathCause = "mafia_kill"
	err = suite.gameRepo.SavePlayers(ctx, updated)
	assert.NoError(suite.T(), err)

	found, err = suite.gameRepo.FindPlayers(ctx, "game-2")
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), found, 5)
	assert.False(suite.T(), found[2].Alive)
	assert.Equal(suite.T(), "mafia_kill", found[2].DeathCause)

	// 空切片直接返回
	err = suite.gameRepo.SavePlayers(ctx, nil)
	assert.NoError(suite.T(), err)
}

// TestGameRepository_FindWithPlayers 测试带座位表查询
func (suite *GameRepositoryTestSuite) TestGameRepository_FindWithPlayers() {
	ctx := context.Background()

	game := CreateTestGame("game-3", 3)
	err := suite.gameRepo.Create(ctx, game)
	assert.NoError(suite.T(), err)

	players := CreateTestPlayers("game-3", 3)
	// 乱序写入，查询应按座位排序
	err = suite.gameRepo.SavePlayers(ctx, []*models.GamePlayer{players[2], players[0], players[1]})
	assert.NoError(suite.T(), err)

	found, err := suite.gameRepo.FindWithPlayers(ctx, "game-3")
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), found.Players, 3)
	assert.Equal(suite.T(), 1, found.Players[0].Seat)
	assert.Equal(suite.T(), 2, found.Players[1].Seat)
	assert.Equal(suite.T(), 3, found.Players[2].Seat)
}

// TestGameRepository_UpdateProgress 测试更新对局进度
func (suite *GameRepositoryTestSuite) TestGameRepository_UpdateProgress() {
	ctx := context.Background()

	game := CreateTestGame("game-4", 5)
	err := suite.gameRepo.Create(ctx, game)
	assert.NoError(suite.T(), err)

	err = suite.gameRepo.UpdateProgress(ctx, "game-4", "DAY_VOTING", 2, 2)
	assert.NoError(suite.T(), err)

	found, err := suite.gameRepo.FindByGameID(ctx, "game-4")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "DAY_VOTING", found.Phase)
	assert.Equal(suite.T(), 2, found.Day)
	assert.Equal(suite.T(), 2, found.Turn)
}

// TestGameRepository_FinishGame 测试标记对局结束
func (suite *GameRepositoryTestSuite) TestGameRepository_FinishGame() {
	ctx := context.Background()

	game := CreateTestGame("game-5", 5)
	err := suite.gameRepo.Create(ctx, game)
	assert.NoError(suite.T(), err)

	finishedAt := time.Now()
	err = suite.gameRepo.FinishGame(ctx, "game-5", "TOWN", finishedAt)
	assert.NoError(suite.T(), err)

	found, err := suite.gameRepo.FindByGameID(ctx, "game-5")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.GameStatusFinished, found.Status)
	assert.Equal(suite.T(), "GAME_OVER", found.Phase)
	assert.Equal(suite.T(), "TOWN", found.Winner)
	assert.NotNil(suite.T(), found.FinishedAt)
	assert.True(suite.T(), found.IsFinished())

	// 不存在的对局报错
	err = suite.gameRepo.FinishGame(ctx, "not-exist", "TOWN", finishedAt)
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "对局不存在")
}

// TestGameRepository_MarkPlayerDead 测试标记玩家死亡
func (suite *GameRepositoryTestSuite) TestGameRepository_MarkPlayerDead() {
	ctx := context.Background()

	game := CreateTestGame("game-6", 3)
	err := suite.gameRepo.Create(ctx, game)
	assert.NoError(suite.T(), err)

	players := CreateTestPlayers("game-6", 3)
	err = suite.gameRepo.SavePlayers(ctx, players)
	assert.NoError(suite.T(), err)

	err = suite.gameRepo.MarkPlayerDead(ctx, "game-6", "p2", 1, "mafia_kill")
	assert.NoError(suite.T(), err)

	found, err := suite.gameRepo.FindPlayers(ctx, "game-6")
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), found[0].Alive)
	assert.False(suite.T(), found[1].Alive)
	assert.Equal(suite.T(), 1, found[1].DeathDay)
	assert.Equal(suite.T(), "mafia_kill", found[1].DeathCause)

	// 不存在的玩家报错
	err = suite.gameRepo.MarkPlayerDead(ctx, "game-6", "ghost", 1, "mafia_kill")
	assert.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "对局玩家不存在")
}

// TestGameRepository_FindByStatus 测试按状态分页查询
func (suite *GameRepositoryTestSuite) TestGameRepository_FindByStatus() {
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "done-1"} {
		game := CreateTestGame(id, 5)
		err := suite.gameRepo.Create(ctx, game)
		assert.NoError(suite.T(), err)
	}
	err := suite.gameRepo.FinishGame(ctx, "done-1", "MAFIA", time.Now())
	assert.NoError(suite.T(), err)

	pagination := NewPagination(1, 10)
	running, err := suite.gameRepo.FindByStatus(ctx, models.GameStatusRunning, pagination)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), running, 2)
	assert.Equal(suite.T(), int64(2), pagination.Total)

	pagination = NewPagination(1, 10)
	finished, err := suite.gameRepo.FindByStatus(ctx, models.GameStatusFinished, pagination)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), finished, 1)
	assert.Equal(suite.T(), "done-1", finished[0].GameID)
}

// TestGameRepository_GetAll 测试分页获取所有对局
func (suite *GameRepositoryTestSuite) TestGameRepository_GetAll() {
	ctx := context.Background()

	for _, id := range []string{"list-1", "list-2", "list-3", "list-4", "list-5"} {
		game := CreateTestGame(id, 5)
		err := suite.gameRepo.Create(ctx, game)
		assert.NoError(suite.T(), err)
	}

	pagination := NewPagination(1, 3)
	games, err := suite.gameRepo.GetAll(ctx, pagination)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), games, 3)
	assert.Equal(suite.T(), int64(5), pagination.Total)

	pagination = NewPagination(2, 3)
	games, err = suite.gameRepo.GetAll(ctx, pagination)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), games, 2)
}

// TestGameRepository_FindGamesByPlayer 测试查玩家的参与对局
func (suite *GameRepositoryTestSuite) TestGameRepository_FindGamesByPlayer() {
	ctx := context.Background()

	for _, id := range []string{"pg-1", "pg-2", "pg-3"} {
		game := CreateTestGame(id, 3)
		err := suite.gameRepo.Create(ctx, game)
		assert.NoError(suite.T(), err)
	}

	// p1参加前两局，p9只参加第三局
	err := suite.gameRepo.SavePlayers(ctx, CreateTestPlayers("pg-1", 3))
	assert.NoError(suite.T(), err)
	err = suite.gameRepo.SavePlayers(ctx, CreateTestPlayers("pg-2", 3))
	assert.NoError(suite.T(), err)
	err = suite.gameRepo.SavePlayers(ctx, []*models.GamePlayer{{
		GameID:   "pg-3",
		Seat:     1,
		PlayerID: "p9",
		Name:     "玩家9",
		Team:     "TOWN",
		Alive:    true,
	}})
	assert.NoError(suite.T(), err)

	pagination := NewPagination(1, 10)
	games, err := suite.gameRepo.FindGamesByPlayer(ctx, "p1", pagination)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), games, 2)
	assert.Equal(suite.T(), int64(2), pagination.Total)

	pagination = NewPagination(1, 10)
	games, err = suite.gameRepo.FindGamesByPlayer(ctx, "p9", pagination)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), games, 1)
	assert.Equal(suite.T(), "pg-3", games[0].GameID)
}

// TestGameRepository_Delete 测试删除对局及座位表
func (suite *GameRepositoryTestSuite) TestGameRepository_Delete() {
	ctx := context.Background()

	game := CreateTestGame("game-del", 3)
	err := suite.gameRepo.Create(ctx, game)
	assert.NoError(suite.T(), err)
	err = suite.gameRepo.SavePlayers(ctx, CreateTestPlayers("game-del", 3))
	assert.NoError(suite.T(), err)

	err = suite.gameRepo.Delete(ctx, "game-del")
	assert.NoError(suite.T(), err)

	_, err = suite.gameRepo.FindByGameID(ctx, "game-del")
	assert.Error(suite.T(), err)

	players, err := suite.gameRepo.FindPlayers(ctx, "game-del")
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), players)
}

// TestGameRepository_Stats 测试归档统计
func (suite *GameRepositoryTestSuite) TestGameRepository_Stats() {
	ctx := context.Background()

	// 空库统计全为零
	stats, err := suite.gameRepo.Stats(ctx)
	assert.NoError(suite.T(), err)
	assert.Zero(suite.T(), stats.TotalGames)
	assert.Zero(suite.T(), stats.AvgDays)
	assert.Empty(suite.T(), stats.WinsByTeam)

	err = suite.gameRepo.Create(ctx, CreateTestGame("stat-run", 5))
	assert.NoError(suite.T(), err)

	// 三局结束：平民胜两局（3天、5天），杀手胜一局（2天）
	finished := []struct {
		id     string
		winner string
		day    int
	}{
		{"stat-fin-1", "TOWN", 3},
		{"stat-fin-2", "TOWN", 5},
		{"stat-fin-3", "MAFIA", 2},
	}
	for _, f := range finished {
		err = suite.gameRepo.Create(ctx, CreateTestGame(f.id, 5))
		assert.NoError(suite.T(), err)
		err = suite.gameRepo.UpdateProgress(ctx, f.id, "GAME_OVER", f.day, f.day)
		assert.NoError(suite.T(), err)
		err = suite.gameRepo.FinishGame(ctx, f.id, f.winner, time.Now())
		assert.NoError(suite.T(), err)
	}

	aborted := CreateTestGame("stat-abort", 5)
	err = suite.gameRepo.Create(ctx, aborted)
	assert.NoError(suite.T(), err)
	aborted.Status = models.GameStatusAborted
	err = suite.gameRepo.Update(ctx, aborted)
	assert.NoError(suite.T(), err)

	stats, err = suite.gameRepo.Stats(ctx)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(5), stats.TotalGames)
	assert.Equal(suite.T(), int64(1), stats.RunningGames)
	assert.Equal(suite.T(), int64(3), stats.FinishedGames)
	assert.Equal(suite.T(), int64(1), stats.AbortedGames)
	assert.Equal(suite.T(), int64(2), stats.WinsByTeam["TOWN"])
	assert.Equal(suite.T(), int64(1), stats.WinsByTeam["MAFIA"])
	assert.InDelta(suite.T(), 10.0/3.0, stats.AvgDays, 0.001)
}

// TestGameRepository_Transaction 测试事务回滚
func (suite *GameRepositoryTestSuite) TestGameRepository_Transaction() {
	ctx := context.Background()

	txManager := NewTransactionManager(suite.db)
	tx, err := txManager.Begin(ctx)
	assert.NoError(suite.T(), err)

	game := CreateTestGame("game-tx", 5)
	err = tx.Game().Create(ctx, game)
	assert.NoError(suite.T(), err)

	// 事务内可以查到
	found, err := tx.Game().FindByGameID(ctx, "game-tx")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "game-tx", found.GameID)

	// 回滚后查不到
	err = tx.Rollback()
	assert.NoError(suite.T(), err)

	_, err = suite.gameRepo.FindByGameID(ctx, "game-tx")
	assert.Error(suite.T(), err)
}

func TestGameRepositorySuite(t *testing.T) {
	suite.Run(t, new(GameRepositoryTestSuite))
}
