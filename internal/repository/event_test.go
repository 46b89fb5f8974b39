package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"github.com/wfunc/mafia-game/internal/models"
	"gorm.io/gorm"
)

// EventRepositoryTestSuite 事件流水仓储测试套件
type EventRepositoryTestSuite struct {
	suite.Suite
	db        *gorm.DB
	eventRepo EventRepository
}

func (suite *EventRepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.eventRepo = NewEventRepository(suite.db)
}

func (suite *EventRepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

// seedVisibilityEvents 写入一组不同可见性的事件
// seq1 公开，seq2 杀手阵营广播，seq3 杀手阵营定向p1，seq4 仅管理端，seq5 平民阵营定向p3。
func (suite *EventRepositoryTestSuite) seedVisibilityEvents(gameID string) {
	ctx := context.Background()

	events := []*models.GameEvent{
		CreateTestEvent(gameID, 1, "phase.changed", "PUBLIC"),
		CreateTestEvent(gameID, 2, "night.action_submitted", "PRIVATE_TEAM"),
		CreateTestEvent(gameID, 3, "night.investigate_result", "PRIVATE_TEAM"),
		CreateTestEvent(gameID, 4, "night.action_substituted", "ADMIN_ONLY"),
		CreateTestEvent(gameID, 5, "night.protect_resolved", "PRIVATE_TEAM"),
	}
	events[1].Team = "MAFIA"
	events[2].Team = "MAFIA"
	events[2].Audience = "p1"
	events[4].Team = "TOWN"
	events[4].Audience = "p3"

	err := suite.eventRepo.AppendBatch(ctx, events)
	assert.NoError(suite.T(), err)
}

// TestEventRepository_Append 测试追加事件与重放幂等
func (suite *EventRepositoryTestSuite) TestEventRepository_Append() {
	ctx := context.Background()

	event := CreateTestEvent("ev-1", 1, "game.started", "PUBLIC")
	err := suite.eventRepo.Append(ctx, event)
	assert.NoError(suite.T(), err)

	// 同一序号重放不报错也不产生新行
	replay := CreateTestEvent("ev-1", 1, "game.started", "PUBLIC")
	err = suite.eventRepo.Append(ctx, replay)
	assert.NoError(suite.T(), err)

	count, err := suite.eventRepo.CountByGame(ctx, "ev-1")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(1), count)
}

// TestEventRepository_AppendBatch 测试批量追加
func (suite *EventRepositoryTestSuite) TestEventRepository_AppendBatch() {
	ctx := context.Background()

	events := make([]*models.GameEvent, 0, 10)
	for i := int64(1); i <= 10; i++ {
		events = append(events, CreateTestEvent("ev-2", i, "phase.changed", "PUBLIC"))
	}
	err := suite.eventRepo.AppendBatch(ctx, events)
	assert.NoError(suite.T(), err)

	count, err := suite.eventRepo.CountByGame(ctx, "ev-2")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(10), count)

	// 空批次直接返回
	err = suite.eventRepo.AppendBatch(ctx, nil)
	assert.NoError(suite.T(), err)
}

// TestEventRepository_FindByGame 测试按序号增量拉取
func (suite *EventRepositoryTestSuite) TestEventRepository_FindByGame() {
	ctx := context.Background()
	suite.seedVisibilityEvents("ev-3")

	// 全量
	all, err := suite.eventRepo.FindByGame(ctx, "ev-3", 0, 0)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), all, 5)
	assert.Equal(suite.T(), int64(1), all[0].Seq)
	assert.Equal(suite.T(), int64(5), all[4].Seq)

	// 从序号2之后拉取，限两条
	partial, err := suite.eventRepo.FindByGame(ctx, "ev-3", 2, 2)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), partial, 2)
	assert.Equal(suite.T(), int64(3), partial[0].Seq)
	assert.Equal(suite.T(), int64(4), partial[1].Seq)

	// 其他对局不可见
	other, err := suite.eventRepo.FindByGame(ctx, "ev-other", 0, 0)
	assert.NoError(suite.T(), err)
	assert.Empty(suite.T(), other)
}

// TestEventRepository_FindVisible_Admin 测试管理端许可看全量
func (suite *EventRepositoryTestSuite) TestEventRepository_FindVisible_Admin() {
	ctx := context.Background()
	suite.seedVisibilityEvents("ev-4")

	events, err := suite.eventRepo.FindVisible(ctx, "ev-4", mafia.AdminClearance(), 0, 0)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), events, 5)
}

// TestEventRepository_FindVisible_Public 测试公开许可只看公开事件
func (suite *EventRepositoryTestSuite) TestEventRepository_FindVisible_Public() {
	ctx := context.Background()
	suite.seedVisibilityEvents("ev-5")

	events, err := suite.eventRepo.FindVisible(ctx, "ev-5", mafia.PublicClearance(), 0, 0)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), events, 1)
	assert.Equal(suite.T(), "phase.changed", events[0].Type)
}

// TestEventRepository_FindVisible_Team 测试阵营许可的过滤规则
func (suite *EventRepositoryTestSuite) TestEventRepository_FindVisible_Team() {
	ctx := context.Background()
	suite.seedVisibilityEvents("ev-6")

	// 杀手阵营p1：公开、阵营广播与自己的定向事件
	events, err := suite.eventRepo.FindVisible(ctx, "ev-6", mafia.TeamClearance(mafia.TeamMafia, "p1"), 0, 0)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), events, 3)
	assert.Equal(suite.T(), int64(1), events[0].Seq)
	assert.Equal(suite.T(), int64(2), events[1].Seq)
	assert.Equal(suite.T(), int64(3), events[2].Seq)

	// 杀手阵营p2：定向p1的事件看不到
	events, err = suite.eventRepo.FindVisible(ctx, "ev-6", mafia.TeamClearance(mafia.TeamMafia, "p2"), 0, 0)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), events, 2)
	assert.Equal(suite.T(), int64(1), events[0].Seq)
	assert.Equal(suite.T(), int64(2), events[1].Seq)

	// 平民阵营p3：公开加自己的定向事件，杀手阵营事件不可见
	events, err = suite.eventRepo.FindVisible(ctx, "ev-6", mafia.TeamClearance(mafia.TeamTown, "p3"), 0, 0)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), events, 2)
	assert.Equal(suite.T(), int64(1), events[0].Seq)
	assert.Equal(suite.T(), int64(5), events[1].Seq)
}

// TestEventRepository_LatestSeq 测试最新序号查询
func (suite *EventRepositoryTestSuite) TestEventRepository_LatestSeq() {
	ctx := context.Background()

	// 无事件时为0
	seq, err := suite.eventRepo.LatestSeq(ctx, "ev-7")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(0), seq)

	suite.seedVisibilityEvents("ev-7")

	seq, err = suite.eventRepo.LatestSeq(ctx, "ev-7")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(5), seq)
}

// TestEventRepository_FindByType 测试按类型分页查询
func (suite *EventRepositoryTestSuite) TestEventRepository_FindByType() {
	ctx := context.Background()

	events := make([]*models.GameEvent, 0, 6)
	for i := int64(1); i <= 6; i++ {
		eventType := "phase.changed"
		if i%2 == 0 {
			eventType = "day.vote_cast"
		}
		events = append(events, CreateTestEvent("ev-8", i, eventType, "PUBLIC"))
	}
	err := suite.eventRepo.AppendBatch(ctx, events)
	assert.NoError(suite.T(), err)

	pagination := NewPagination(1, 2)
	votes, err := suite.eventRepo.FindByType(ctx, "ev-8", "day.vote_cast", pagination)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), votes, 2)
	assert.Equal(suite.T(), int64(3), pagination.Total)
	assert.Equal(suite.T(), int64(2), votes[0].Seq)
}

// TestEventRepository_CleanupOldEvents 测试过期清理
func (suite *EventRepositoryTestSuite) TestEventRepository_CleanupOldEvents() {
	ctx := context.Background()
	suite.seedVisibilityEvents("ev-9")

	// 保留天数必须为正
	err := suite.eventRepo.CleanupOldEvents(ctx, 0)
	assert.Error(suite.T(), err)

	// 刚写入的事件在保留期内，不会被清掉
	err = suite.eventRepo.CleanupOldEvents(ctx, 30)
	assert.NoError(suite.T(), err)

	count, err := suite.eventRepo.CountByGame(ctx, "ev-9")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(5), count)

	// 把事件改旧后清理生效
	err = suite.db.Model(&models.GameEvent{}).
		Where("game_id = ?", "ev-9").
		UpdateColumn("created_at", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)).Error
	assert.NoError(suite.T(), err)

	err = suite.eventRepo.CleanupOldEvents(ctx, 30)
	assert.NoError(suite.T(), err)

	count, err = suite.eventRepo.CountByGame(ctx, "ev-9")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(0), count)
}

func TestEventRepositorySuite(t *testing.T) {
	suite.Run(t, new(EventRepositoryTestSuite))
}
