package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/mafia-game/internal/game/mafia"
	"github.com/wfunc/mafia-game/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventRepository 事件流水仓储接口
// 事件只追加不更新，(game_id, seq)唯一，重放已存在的序号按幂等处理。
type EventRepository interface {
	BaseRepository
	Append(ctx context.Context, event *models.GameEvent) error
	AppendBatch(ctx context.Context, events []*models.GameEvent) error
	FindByGame(ctx context.Context, gameID string, afterSeq int64, limit int) ([]*models.GameEvent, error)
	FindVisible(ctx context.Context, gameID string, clearance mafia.Clearance, afterSeq int64, limit int) ([]*models.GameEvent, error)
	LatestSeq(ctx context.Context, gameID string) (int64, error)
	CountByGame(ctx context.Context, gameID string) (int64, error)
	FindByType(ctx context.Context, gameID, eventType string, pagination *Pagination) ([]*models.GameEvent, error)
	CleanupOldEvents(ctx context.Context, days int) error
}

// eventRepo 事件流水仓储实现
type eventRepo struct {
	*BaseRepo
}

// NewEventRepository 创建事件流水仓储
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// Append 追加一条事件
func (r *eventRepo) Append(ctx context.Context, event *models.GameEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event).Error
}

// AppendBatch 批量追加事件
func (r *eventRepo) AppendBatch(ctx context.Context, events []*models.GameEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(events, 100).Error
}

// FindByGame 查找对局事件（不过滤可见性，管理端用）
func (r *eventRepo) FindByGame(ctx context.Context, gameID string, afterSeq int64, limit int) ([]*models.GameEvent, error) {
	var events []*models.GameEvent
	query := r.db.WithContext(ctx).
		Where("game_id = ? AND seq > ?", gameID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// FindVisible 按许可过滤查找对局事件
// 过滤规则与引擎内存侧完全一致：管理员全量，阵营许可看公开加
// 本阵营（受众为空或为本人），其余只看公开。
func (r *eventRepo) FindVisible(ctx context.Context, gameID string, clearance mafia.Clearance, afterSeq int64, limit int) ([]*models.GameEvent, error) {
	var events []*models.GameEvent
	query := r.db.WithContext(ctx).
		Where("game_id = ? AND seq > ?", gameID, afterSeq)

	switch clearance.Level {
	case mafia.VisibilityAdminOnly:
		// 不加过滤
	case mafia.VisibilityPrivateTeam:
		query = query.Where(
			"visibility = ? OR (visibility = ? AND team = ? AND (audience = '' OR audience = ?))",
			string(mafia.VisibilityPublic),
			string(mafia.VisibilityPrivateTeam),
			string(clearance.Team),
			clearance.PlayerID,
		)
	default:
		query = query.Where("visibility = ?", string(mafia.VisibilityPublic))
	}

	query = query.Order("seq ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

// LatestSeq 查询对局最新事件序号，无事件时返回0
func (r *eventRepo) LatestSeq(ctx context.Context, gameID string) (int64, error) {
	var seq *int64
	err := r.db.WithContext(ctx).
		Model(&models.GameEvent{}).
		Where("game_id = ?", gameID).
		Select("MAX(seq)").
		Scan(&seq).Error
	if err != nil {
		return 0, err
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}

// CountByGame 统计对局事件条数
func (r *eventRepo) CountByGame(ctx context.Context, gameID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.GameEvent{}).
		Where("game_id = ?", gameID).
		Count(&count).Error
	return count, err
}

// FindByType 按事件类型查找（分页）
func (r *eventRepo) FindByType(ctx context.Context, gameID, eventType string, pagination *Pagination) ([]*models.GameEvent, error) {
	var events []*models.GameEvent
	query := r.db.WithContext(ctx).
		Model(&models.GameEvent{}).
		Where("game_id = ? AND type = ?", gameID, eventType)

	// 获取总数
	var total int64
	query.Count(&total)
	pagination.Total = total

	// 分页查询
	err := query.
		Limit(pagination.PageSize).
		Offset((pagination.Page - 1) * pagination.PageSize).
		Order("seq ASC").
		Find(&events).Error

	return events, err
}

// CleanupOldEvents 清理过期事件
func (r *eventRepo) CleanupOldEvents(ctx context.Context, days int) error {
	if days <= 0 {
		return errors.New("保留天数必须大于0")
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	return r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.GameEvent{}).Error
}

// WithTx 使用事务
func (r *eventRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &eventRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
