package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/wfunc/mafia-game/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GameRepository 对局仓储接口
type GameRepository interface {
	BaseRepository
	Create(ctx context.Context, game *models.Game) error
	Update(ctx context.Context, game *models.Game) error
	Delete(ctx context.Context, gameID string) error
	FindByGameID(ctx context.Context, gameID string) (*models.Game, error)
	FindWithPlayers(ctx context.Context, gameID string) (*models.Game, error)
	GetAll(ctx context.Context, pagination *Pagination) ([]*models.Game, error)
	FindByStatus(ctx context.Context, status string, pagination *Pagination) ([]*models.Game, error)
	UpdateProgress(ctx context.Context, gameID string, phase string, day, turn int) error
	FinishGame(ctx context.Context, gameID string, winner string, finishedAt time.Time) error
	Stats(ctx context.Context) (*GameStats, error)

	SavePlayers(ctx context.Context, players []*models.GamePlayer) error
	FindPlayers(ctx context.Context, gameID string) ([]*models.GamePlayer, error)
	MarkPlayerDead(ctx context.Context, gameID, playerID string, day int, cause string) error
	FindGamesByPlayer(ctx context.Context, playerID string, pagination *Pagination) ([]*models.Game, error)
}

// GameStats 对局归档统计
type GameStats struct {
	TotalGames    int64            `json:"total_games"`
	RunningGames  int64            `json:"running_games"`
	FinishedGames int64            `json:"finished_games"`
	AbortedGames  int64            `json:"aborted_games"`
	WinsByTeam    map[string]int64 `json:"wins_by_team"`
	AvgDays       float64          `json:"avg_days"`
}

// gameRepo 对局仓储实现
type gameRepo struct {
	*BaseRepo
}

// NewGameRepository 创建对局仓储
func NewGameRepository(db *gorm.DB) GameRepository {
	return &gameRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// Create 创建对局
func (r *gameRepo) Create(ctx context.Context, game *models.Game) error {
	return r.db.WithContext(ctx).Create(game).Error
}

// Update 更新对局
func (r *gameRepo) Update(ctx context.Context, game *models.Game) error {
	return r.db.WithContext(ctx).Save(game).Error
}

// Delete 删除对局（软删除，玩家记录一并删除）
func (r *gameRepo) Delete(ctx context.Context, gameID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("game_id = ?", gameID).Delete(&models.GamePlayer{}).Error; err != nil {
			return err
		}
		return tx.Where("game_id = ?", gameID).Delete(&models.Game{}).Error
	})
}

// FindByGameID 根据对局ID查找
func (r *gameRepo) FindByGameID(ctx context.Context, gameID string) (*models.Game, error) {
	var game models.Game
	err := r.db.WithContext(ctx).Where("game_id = ?", gameID).First(&game).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("对局不存在")
		}
		return nil, err
	}
	return &game, nil
}

// FindWithPlayers 查找对局并带出玩家列表
func (r *gameRepo) FindWithPlayers(ctx context.Context, gameID string) (*models.Game, error) {
	var game models.Game
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("seat ASC")
		}).
		Where("game_id = ?", gameID).
		First(&game).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("对局不存在")
		}
		return nil, err
	}
	return &game, nil
}

// GetAll 获取所有对局（分页）
func (r *gameRepo) GetAll(ctx context.Context, pagination *Pagination) ([]*models.Game, error) {
	var games []*models.Game
	query := r.db.WithContext(ctx).Model(&models.Game{})

	// 获取总数
	var total int64
	query.Count(&total)
	pagination.Total = total

	// 分页查询
	err := query.
		Limit(pagination.PageSize).
		Offset((pagination.Page - 1) * pagination.PageSize).
		Order("created_at DESC").
		Find(&games).Error

	return games, err
}

// FindByStatus 按状态查找对局（分页）
func (r *gameRepo) FindByStatus(ctx context.Context, status string, pagination *Pagination) ([]*models.Game, error) {
	var games []*models.Game
	query := r.db.WithContext(ctx).Model(&models.Game{}).Where("status = ?", status)

	// 获取总数
	var total int64
	query.Count(&total)
	pagination.Total = total

	// 分页查询
	err := query.
		Limit(pagination.PageSize).
		Offset((pagination.Page - 1) * pagination.PageSize).
		Order("created_at DESC").
		Find(&games).Error

	return games, err
}

// UpdateProgress 更新对局进度
func (r *gameRepo) UpdateProgress(ctx context.Context, gameID string, phase string, day, turn int) error {
	return r.db.WithContext(ctx).
		Model(&models.Game{}).
		Where("game_id = ?", gameID).
		Updates(map[string]interface{}{
			"phase": phase,
			"day":   day,
			"turn":  turn,
		}).Error
}

// FinishGame 标记对局结束
func (r *gameRepo) FinishGame(ctx context.Context, gameID string, winner string, finishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.Game{}).
		Where("game_id = ?", gameID).
		Updates(map[string]interface{}{
			"status":      models.GameStatusFinished,
			"phase":       "GAME_OVER",
			"winner":      winner,
			"finished_at": finishedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("对局不存在")
	}
	return nil
}

// Stats 统计归档对局
// 各状态对局数、各阵营胜场与已结束对局的平均天数。
func (r *gameRepo) Stats(ctx context.Context) (*GameStats, error) {
	stats := &GameStats{WinsByTeam: make(map[string]int64)}

	if err := r.db.WithContext(ctx).Model(&models.Game{}).Count(&stats.TotalGames).Error; err != nil {
		return nil, err
	}

	type statusCount struct {
		Status string
		N      int64
	}
	var byStatus []statusCount
	if err := r.db.WithContext(ctx).Model(&models.Game{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, sc := range byStatus {
		switch sc.Status {
		case models.GameStatusRunning:
			stats.RunningGames = sc.N
		case models.GameStatusFinished:
			stats.FinishedGames = sc.N
		case models.GameStatusAborted:
			stats.AbortedGames = sc.N
		}
	}

	type winnerCount struct {
		Winner string
		N      int64
	}
	var byWinner []winnerCount
	if err := r.db.WithContext(ctx).Model(&models.Game{}).
		Select("winner, COUNT(*) AS n").
		Where("status = ? AND winner <> ''", models.GameStatusFinished).
		Group("winner").
		Scan(&byWinner).Error; err != nil {
		return nil, err
	}
	for _, wc := range byWinner {
		stats.WinsByTeam[wc.Winner] = wc.N
	}

	var avg sql.NullFloat64
	row := r.db.WithContext(ctx).Model(&models.Game{}).
		Select("AVG(day)").
		Where("status = ?", models.GameStatusFinished).
		Row()
	if err := row.Scan(&avg); err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgDays = avg.Float64
	}

	return stats, nil
}

// SavePlayers 批量保存玩家（按对局与座位幂等覆盖）
func (r *gameRepo) SavePlayers(ctx context.Context, players []*models.GamePlayer) error {
	if len(players) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "game_id"}, {Name: "seat"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"player_id", "name", "team", "roles", "alive", "death_day", "death_cause", "updated_at",
			}),
		}).
		CreateInBatches(players, 100).Error
}

// FindPlayers 查找对局全部玩家（按座位排序）
func (r *gameRepo) FindPlayers(ctx context.Context, gameID string) ([]*models.GamePlayer, error) {
	var players []*models.GamePlayer
	err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("seat ASC").
		Find(&players).Error
	return players, err
}

// MarkPlayerDead 标记玩家死亡
func (r *gameRepo) MarkPlayerDead(ctx context.Context, gameID, playerID string, day int, cause string) error {
	result := r.db.WithContext(ctx).
		Model(&models.GamePlayer{}).
		Where("game_id = ? AND player_id = ?", gameID, playerID).
		Updates(map[string]interface{}{
			"alive":       false,
			"death_day":   day,
			"death_cause": cause,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("对局玩家不存在")
	}
	return nil
}

// FindGamesByPlayer 查找某玩家参与过的对局（分页）
func (r *gameRepo) FindGamesByPlayer(ctx context.Context, playerID string, pagination *Pagination) ([]*models.Game, error) {
	var games []*models.Game
	query := r.db.WithContext(ctx).
		Model(&models.Game{}).
		Joins("JOIN game_players ON game_players.game_id = games.game_id").
		Where("game_players.player_id = ?", playerID)

	// 获取总数
	var total int64
	query.Count(&total)
	pagination.Total = total

	// 分页查询
	err := query.
		Limit(pagination.PageSize).
		Offset((pagination.Page - 1) * pagination.PageSize).
		Order("games.created_at DESC").
		Find(&games).Error

	return games, err
}

// WithTx 使用事务
func (r *gameRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &gameRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
