package repository

import (
	"context"
	"sync"

	"github.com/wfunc/mafia-game/internal/models"
	"gorm.io/gorm"
)

// Manager 仓储管理器，提供所有仓储的统一访问接口
type Manager struct {
	db *gorm.DB

	// 事务管理器
	txManager TransactionManager

	// 仓储实例（使用懒加载）
	userOnce sync.Once
	user     UserRepository

	gameOnce sync.Once
	game     GameRepository

	eventOnce sync.Once
	event     EventRepository

	snapshotOnce sync.Once
	snapshot     SnapshotRepository
}

// NewManager 创建仓储管理器
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:        db,
		txManager: NewTransactionManager(db),
	}
}

// GetDB 获取数据库实例
func (m *Manager) GetDB() *gorm.DB {
	return m.db
}

// Transaction 获取事务管理器
func (m *Manager) Transaction() TransactionManager {
	return m.txManager
}

// User 获取用户仓储
func (m *Manager) User() UserRepository {
	m.userOnce.Do(func() {
		m.user = NewUserRepository(m.db)
	})
	return m.user
}

// Game 获取对局仓储
func (m *Manager) Game() GameRepository {
	m.gameOnce.Do(func() {
		m.game = NewGameRepository(m.db)
	})
	return m.game
}

// Event 获取事件流水仓储
func (m *Manager) Event() EventRepository {
	m.eventOnce.Do(func() {
		m.event = NewEventRepository(m.db)
	})
	return m.event
}

// Snapshot 获取对局存档仓储
func (m *Manager) Snapshot() SnapshotRepository {
	m.snapshotOnce.Do(func() {
		m.snapshot = NewSnapshotRepository(m.db)
	})
	return m.snapshot
}

// WithTransaction 在事务中执行操作
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	return m.txManager.WithTransaction(ctx, fn)
}

// WithReadOnlyTransaction 在只读事务中执行操作
func (m *Manager) WithReadOnlyTransaction(ctx context.Context, fn func(tx *Transaction) error) error {
	opts := &TxOptions{
		ReadOnly: true,
	}
	return m.txManager.WithTransactionOptions(ctx, opts, fn)
}

// RepositoryProvider 仓储提供者接口，用于依赖注入
type RepositoryProvider interface {
	GetManager() *Manager
	User() UserRepository
	Game() GameRepository
	Event() EventRepository
	Snapshot() SnapshotRepository
}

// provider 仓储提供者实现
type provider struct {
	manager *Manager
}

// NewProvider 创建仓储提供者
func NewProvider(db *gorm.DB) RepositoryProvider {
	return &provider{
		manager: NewManager(db),
	}
}

// GetManager 获取仓储管理器
func (p *provider) GetManager() *Manager {
	return p.manager
}

// User 获取用户仓储
func (p *provider) User() UserRepository {
	return p.manager.User()
}

// Game 获取对局仓储
func (p *provider) Game() GameRepository {
	return p.manager.Game()
}

// Event 获取事件流水仓储
func (p *provider) Event() EventRepository {
	return p.manager.Event()
}

// Snapshot 获取对局存档仓储
func (p *provider) Snapshot() SnapshotRepository {
	return p.manager.Snapshot()
}

// UnitOfWork 工作单元模式实现
type UnitOfWork struct {
	manager    *Manager
	operations []func(*Transaction) error
}

// NewUnitOfWork 创建工作单元
func NewUnitOfWork(manager *Manager) *UnitOfWork {
	return &UnitOfWork{
		manager:    manager,
		operations: make([]func(*Transaction) error, 0),
	}
}

// Register 注册操作
func (u *UnitOfWork) Register(op func(*Transaction) error) {
	u.operations = append(u.operations, op)
}

// Commit 提交所有操作
func (u *UnitOfWork) Commit(ctx context.Context) error {
	return u.manager.WithTransaction(ctx, func(tx *Transaction) error {
		for _, op := range u.operations {
			if err := op(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear 清除所有操作
func (u *UnitOfWork) Clear() {
	u.operations = u.operations[:0]
}

// BatchOperator 批量操作器
type BatchOperator struct {
	manager *Manager
}

// NewBatchOperator 创建批量操作器
func NewBatchOperator(manager *Manager) *BatchOperator {
	return &BatchOperator{manager: manager}
}

// CreateGameWithPlayers 创建对局并批量写入座位表
func (b *BatchOperator) CreateGameWithPlayers(
	ctx context.Context,
	game *models.Game,
	players []*models.GamePlayer,
) error {
	return b.manager.WithTransaction(ctx, func(tx *Transaction) error {
		// 创建对局
		if err := tx.Game().Create(ctx, game); err != nil {
			return err
		}

		// 批量写入座位
		return tx.Game().SavePlayers(ctx, players)
	})
}

// RecordPhaseEvents 更新对局进度并批量落事件（同一事务）
func (b *BatchOperator) RecordPhaseEvents(
	ctx context.Context,
	gameID, phase string,
	day, turn int,
	events []*models.GameEvent,
) error {
	return b.manager.WithTransaction(ctx, func(tx *Transaction) error {
		if err := tx.Game().UpdateProgress(ctx, gameID, phase, day, turn); err != nil {
			return err
		}
		return tx.Event().AppendBatch(ctx, events)
	})
}

// ArchiveFinishedGame 归档结束对局：结果、座位终态与剩余事件一并落库
func (b *BatchOperator) ArchiveFinishedGame(
	ctx context.Context,
	game *models.Game,
	players []*models.GamePlayer,
	events []*models.GameEvent,
) error {
	return b.manager.WithTransaction(ctx, func(tx *Transaction) error {
		if err := tx.Game().Update(ctx, game); err != nil {
			return err
		}

		if err := tx.Game().SavePlayers(ctx, players); err != nil {
			return err
		}

		return tx.Event().AppendBatch(ctx, events)
	})
}
