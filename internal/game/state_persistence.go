package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/mafia-game/internal/models"
	"gorm.io/gorm"
)

// MemoryStatePersister 内存状态持久化（用于测试与缓存层）
type MemoryStatePersister struct {
	mu    sync.RWMutex
	games map[string]*PersistedGame
}

// NewMemoryStatePersister 创建内存持久化器
func NewMemoryStatePersister() *MemoryStatePersister {
	return &MemoryStatePersister{
		games: make(map[string]*PersistedGame),
	}
}

// Save 保存对局
func (p *MemoryStatePersister) Save(ctx context.Context, gameID string, data *PersistedGame) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// 经序列化深拷贝，避免调用方后续修改污染存档
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化对局失败: %w", err)
	}
	var stored PersistedGame
	if err := json.Unmarshal(raw, &stored); err != nil {
		return fmt.Errorf("反序列化对局失败: %w", err)
	}
	p.games[gameID] = &stored
	return nil
}

// Load 加载对局
func (p *MemoryStatePersister) Load(ctx context.Context, gameID string) (*PersistedGame, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	data, exists := p.games[gameID]
	if !exists {
		return nil, fmt.Errorf("对局存档不存在: %s", gameID)
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("序列化对局失败: %w", err)
	}
	var out PersistedGame
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("反序列化对局失败: %w", err)
	}
	return &out, nil
}

// Delete 删除对局
func (p *MemoryStatePersister) Delete(ctx context.Context, gameID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.games, gameID)
	return nil
}

// DatabaseStatePersister 数据库状态持久化
// 每局只保留最新一份快照，按game_id覆盖写入。
type DatabaseStatePersister struct {
	db *gorm.DB
}

// NewDatabaseStatePersister 创建数据库持久化器
func NewDatabaseStatePersister(db *gorm.DB) *DatabaseStatePersister {
	return &DatabaseStatePersister{
		db: db,
	}
}

// Save 保存对局到数据库
func (p *DatabaseStatePersister) Save(ctx context.Context, gameID string, data *PersistedGame) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化对局失败: %w", err)
	}

	snapshot := &models.GameStateSnapshot{
		GameID:    gameID,
		Data:      string(raw),
		Version:   1,
		UpdatedAt: time.Now(),
	}
	if data.Machine != nil {
		snapshot.Phase = string(data.Machine.CurrentPhase)
		snapshot.Day = data.Machine.Day
		snapshot.Winner = data.Machine.Winner
	}

	// 存在则更新并递增版本号，不存在则插入
	result := p.db.WithContext(ctx).
		Model(&models.GameStateSnapshot{}).
		Where("game_id = ?", gameID).
		Updates(map[string]interface{}{
			"phase":      snapshot.Phase,
			"day":        snapshot.Day,
			"winner":     snapshot.Winner,
			"data":       snapshot.Data,
			"version":    gorm.Expr("version + 1"),
			"updated_at": snapshot.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("保存对局失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if err := p.db.WithContext(ctx).Create(snapshot).Error; err != nil {
			return fmt.Errorf("保存对局失败: %w", err)
		}
	}

	return nil
}

// Load 从数据库加载对局
func (p *DatabaseStatePersister) Load(ctx context.Context, gameID string) (*PersistedGame, error) {
	var snapshot models.GameStateSnapshot

	result := p.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		First(&snapshot)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("对局存档不存在: %s", gameID)
		}
		return nil, fmt.Errorf("查询对局失败: %w", result.Error)
	}

	var data PersistedGame
	if err := json.Unmarshal([]byte(snapshot.Data), &data); err != nil {
		return nil, fmt.Errorf("反序列化对局失败: %w", err)
	}

	return &data, nil
}

// Delete 从数据库删除对局
func (p *DatabaseStatePersister) Delete(ctx context.Context, gameID string) error {
	result := p.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Delete(&models.GameStateSnapshot{})

	if result.Error != nil {
		return fmt.Errorf("删除对局失败: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("对局存档不存在: %s", gameID)
	}

	return nil
}

// CacheStatePersister 带缓存的持久化器（装饰器模式）
// 读路径先走缓存层，写路径先落存储层再回填缓存。
type CacheStatePersister struct {
	cache   StatePersister // 缓存层（内存）
	storage StatePersister // 存储层（数据库）
}

// NewCacheStatePersister 创建带缓存的持久化器
func NewCacheStatePersister(cache, storage StatePersister) *CacheStatePersister {
	return &CacheStatePersister{
		cache:   cache,
		storage: storage,
	}
}

// Save 保存对局（先存储后缓存，缓存失败不影响主流程）
func (p *CacheStatePersister) Save(ctx context.Context, gameID string, data *PersistedGame) error {
	if err := p.storage.Save(ctx, gameID, data); err != nil {
		return err
	}

	_ = p.cache.Save(ctx, gameID, data)

	return nil
}

// Load 加载对局（优先从缓存加载）
func (p *CacheStatePersister) Load(ctx context.Context, gameID string) (*PersistedGame, error) {
	if data, err := p.cache.Load(ctx, gameID); err == nil {
		return data, nil
	}

	data, err := p.storage.Load(ctx, gameID)
	if err != nil {
		return nil, err
	}

	// 回填缓存，失败不影响主流程
	_ = p.cache.Save(ctx, gameID, data)

	return data, nil
}

// Delete 删除对局（缓存与存储一并删除）
func (p *CacheStatePersister) Delete(ctx context.Context, gameID string) error {
	_ = p.cache.Delete(ctx, gameID)

	return p.storage.Delete(ctx, gameID)
}
