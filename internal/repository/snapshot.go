package repository

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/mafia-game/internal/models"
	"gorm.io/gorm"
)

// SnapshotRepository 对局存档仓储接口
// 存档本体由状态机持久化层覆盖写，这里提供查询与清理入口。
type SnapshotRepository interface {
	BaseRepository
	FindByGameID(ctx context.Context, gameID string) (*models.GameStateSnapshot, error)
	ListRunning(ctx context.Context) ([]*models.GameStateSnapshot, error)
	ListStale(ctx context.Context, olderThan time.Duration) ([]*models.GameStateSnapshot, error)
	GetAll(ctx context.Context, pagination *Pagination) ([]*models.GameStateSnapshot, error)
	DeleteByGameID(ctx context.Context, gameID string) error
	CleanupFinished(ctx context.Context, days int) error
}

// snapshotRepo 对局存档仓储实现
type snapshotRepo struct {
	*BaseRepo
}

// NewSnapshotRepository 创建对局存档仓储
func NewSnapshotRepository(db *gorm.DB) SnapshotRepository {
	return &snapshotRepo{
		BaseRepo: &BaseRepo{db: db},
	}
}

// FindByGameID 根据对局ID查找存档
func (r *snapshotRepo) FindByGameID(ctx context.Context, gameID string) (*models.GameStateSnapshot, error) {
	var snapshot models.GameStateSnapshot
	err := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("存档不存在")
		}
		return nil, err
	}
	return &snapshot, nil
}

// ListRunning 列出未结束的对局存档（服务重启后的恢复扫描用）
func (r *snapshotRepo) ListRunning(ctx context.Context) ([]*models.GameStateSnapshot, error) {
	var snapshots []*models.GameStateSnapshot
	err := r.db.WithContext(ctx).
		Where("phase <> ?", "GAME_OVER").
		Order("updated_at DESC").
		Find(&snapshots).Error
	return snapshots, err
}

// ListStale 列出超过时限未更新且未结束的存档
func (r *snapshotRepo) ListStale(ctx context.Context, olderThan time.Duration) ([]*models.GameStateSnapshot, error) {
	var snapshots []*models.GameStateSnapshot
	cutoff := time.Now().Add(-olderThan)
	err := r.db.WithContext(ctx).
		Where("phase <> ? AND updated_at < ?", "GAME_OVER", cutoff).
		Order("updated_at ASC").
		Find(&snapshots).Error
	return snapshots, err
}

// GetAll 获取所有存档（分页）
func (r *snapshotRepo) GetAll(ctx context.Context, pagination *Pagination) ([]*models.GameStateSnapshot, error) {
	var snapshots []*models.GameStateSnapshot
	query := r.db.WithContext(ctx).Model(&models.GameStateSnapshot{})

	// 获取总数
	var total int64
	query.Count(&total)
	pagination.Total = total

	// 分页查询
	err := query.
		Limit(pagination.PageSize).
		Offset((pagination.Page - 1) * pagination.PageSize).
		Order("updated_at DESC").
		Find(&snapshots).Error

	return snapshots, err
}

// DeleteByGameID 删除对局存档
func (r *snapshotRepo) DeleteByGameID(ctx context.Context, gameID string) error {
	result := r.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Delete(&models.GameStateSnapshot{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("存档不存在")
	}
	return nil
}

// CleanupFinished 清理已结束且超过保留天数的存档
func (r *snapshotRepo) CleanupFinished(ctx context.Context, days int) error {
	if days <= 0 {
		return errors.New("保留天数必须大于0")
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	return r.db.WithContext(ctx).
		Where("phase = ? AND updated_at < ?", "GAME_OVER", cutoff).
		Delete(&models.GameStateSnapshot{}).Error
}

// WithTx 使用事务
func (r *snapshotRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &snapshotRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
