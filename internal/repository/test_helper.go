package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/mafia-game/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 为测试套件设置测试数据库
// 使用内存数据库，每次调用都是全新的库。
func SetupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	// 自动迁移所有模型
	err = db.AutoMigrate(
		&models.User{},
		&models.Game{},
		&models.GamePlayer{},
		&models.GameEvent{},
		&models.GameStateSnapshot{},
	)
	if err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	sqlDB, _ := db.DB()
	if sqlDB != nil {
		sqlDB.Close()
	}
}

// SeedTestData 创建测试数据
func SeedTestData(t *testing.T, db *gorm.DB) {
	// 创建测试账号
	users := []models.User{
		{
			Username: "admin1",
			Nickname: "管理员1",
			Password: "hashed-password",
			Role:     models.UserRoleAdmin,
			Status:   "active",
		},
		{
			Username: "watcher1",
			Nickname: "观察员1",
			Password: "hashed-password",
			Role:     models.UserRoleObserver,
			Status:   "active",
		},
	}
	err := db.Create(&users).Error
	require.NoError(t, err)

	// 创建测试对局
	game := CreateTestGame("seed-game-1", 5)
	err = db.Create(game).Error
	require.NoError(t, err)

	players := CreateTestPlayers("seed-game-1", 5)
	err = db.Create(&players).Error
	require.NoError(t, err)
}

// CreateTestGame 创建测试对局
func CreateTestGame(gameID string, playerCount int) *models.Game {
	now := time.Now()
	return &models.Game{
		GameID:      gameID,
		Status:      models.GameStatusRunning,
		Phase:       "NIGHT",
		Day:         1,
		Turn:        1,
		PlayerCount: playerCount,
		Config: models.JSONMap{
			"player_count": playerCount,
			"tie_break":    "no_elimination",
		},
		Seed:      42,
		StartedAt: &now,
	}
}

// CreateTestPlayers 创建测试对局的座位表
// 1号座是杀手阵营，其余是平民阵营。
func CreateTestPlayers(gameID string, count int) []*models.GamePlayer {
	players := make([]*models.GamePlayer, 0, count)
	for i := 1; i <= count; i++ {
		team := "TOWN"
		roles := models.JSONList{"VILLAGER"}
		if i == 1 {
			team = "MAFIA"
			roles = models.JSONList{"MAFIA"}
		}
		players = append(players, &models.GamePlayer{
			GameID:   gameID,
			Seat:     i,
			PlayerID: fmt.Sprintf("p%d", i),
			Name:     fmt.Sprintf("玩家%d", i),
			Team:     team,
			Roles:    roles,
			Alive:    true,
		})
	}
	return players
}

// CreateTestEvent 创建测试事件
func CreateTestEvent(gameID string, seq int64, eventType, visibility string) *models.GameEvent {
	return &models.GameEvent{
		GameID:     gameID,
		Seq:        seq,
		Type:       eventType,
		Visibility: visibility,
		Phase:      "NIGHT",
		Day:        1,
		Turn:       1,
		OccurredAt: time.Now(),
	}
}

// AssertGame 验证对局
func AssertGame(t *testing.T, expected, actual *models.Game) {
	assert.Equal(t, expected.GameID, actual.GameID)
	assert.Equal(t, expected.Status, actual.Status)
	assert.Equal(t, expected.Phase, actual.Phase)
	assert.Equal(t, expected.PlayerCount, actual.PlayerCount)
}

// AssertPlayer 验证对局玩家
func AssertPlayer(t *testing.T, expected, actual *models.GamePlayer) {
	assert.Equal(t, expected.GameID, actual.GameID)
	assert.Equal(t, expected.Seat, actual.Seat)
	assert.Equal(t, expected.PlayerID, actual.PlayerID)
	assert.Equal(t, expected.Team, actual.Team)
	assert.Equal(t, expected.Alive, actual.Alive)
}
