package database

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/wfunc/mafia-game/internal/logger"
	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/utils"
	"go.uber.org/zap"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 清理过期锁文件
	CleanupStaleLocks()

	// 获取迁移锁，避免多个进程同时迁移
	dbPath := getDBPath()
	if dbPath != "" {
		lockFile, err := acquireMigrationLock(dbPath)
		if err != nil {
			logger.Error("无法获取迁移锁", zap.Error(err))
			return fmt.Errorf("获取迁移锁失败: %w", err)
		}
		defer releaseMigrationLock(lockFile)
	}

	// 事件流水表单独处理，不走GORM迁移
	migrationModels := []interface{}{
		// 用户相关
		&models.User{},

		// 对局相关
		&models.Game{},
		&models.GamePlayer{},
		&models.GameStateSnapshot{},
	}

	// 执行迁移
	logger.Info("开始数据库迁移...")

	// SQLite迁移期间关闭外键约束，避免重建表时互相牵连
	if DB.Dialector.Name() == "sqlite" {
		DB.Exec("PRAGMA foreign_keys = OFF")
		defer DB.Exec("PRAGMA foreign_keys = ON")
	}

	for _, model := range migrationModels {
		tableName := getTableName(model)

		// 数据量大的表不让GORM整表重建
		if shouldSkipMigration(tableName) {
			logger.Info("跳过大型表的迁移", zap.String("table", tableName))
			continue
		}

		if err := DB.AutoMigrate(model); err != nil {
			logger.Error("迁移失败",
				zap.String("model", fmt.Sprintf("%T", model)),
				zap.Error(err),
			)
			return err
		}
		logger.Debug("迁移成功", zap.String("model", fmt.Sprintf("%T", model)))
	}

	// 手动建事件流水表，避免GORM为调整复合唯一索引重建已积累数据的表
	if err := createEventTable(); err != nil {
		logger.Warn("创建事件流水表失败，可能已存在", zap.Error(err))
	}

	// 创建索引
	if err := createIndexes(); err != nil {
		return err
	}

	// 初始化默认数据
	if err := initDefaultData(); err != nil {
		return err
	}

	logger.Info("数据库迁移完成")
	return nil
}

// createIndexes 创建数据库索引
func createIndexes() error {
	// 用户表索引
	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_users_username"), zap.Error(err))
	}

	// 对局表索引
	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_games_status ON games(status)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_games_status"), zap.Error(err))
	}

	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_games_created_at ON games(created_at)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_games_created_at"), zap.Error(err))
	}

	// 对局玩家索引
	if err := DB.Exec("CREATE INDEX IF NOT EXISTS idx_game_players_player_id ON game_players(player_id)").Error; err != nil {
		logger.Warn("创建索引失败", zap.String("index", "idx_game_players_player_id"), zap.Error(err))
	}

	// 事件流水索引
	ensureEventIndexes()

	logger.Info("数据库索引创建完成")
	return nil
}

// initDefaultData 初始化默认数据
func initDefaultData() error {
	// 已有用户则不再初始化
	var count int64
	DB.Model(&models.User{}).Count(&count)
	if count > 0 {
		return nil
	}

	// 创建默认管理员，首次登录后应立即改密
	hashed, err := utils.HashPassword("admin123")
	if err != nil {
		return fmt.Errorf("生成默认密码失败: %w", err)
	}

	admin := &models.User{
		Username: "admin",
		Nickname: "管理员",
		Password: hashed,
		Role:     models.UserRoleAdmin,
		Status:   "active",
	}
	if err := DB.Create(admin).Error; err != nil {
		logger.Error("创建默认管理员失败", zap.Error(err))
		return err
	}

	logger.Warn("已创建默认管理员账号，请尽快修改密码",
		zap.String("username", "admin"))

	logger.Info("默认数据初始化完成")
	return nil
}

// getTableName 获取模型对应的表名
func getTableName(model interface{}) string {
	// 使用反射获取类型
	t := reflect.TypeOf(model)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	// 尝试调用TableName方法
	if tabler, ok := model.(interface{ TableName() string }); ok {
		return tabler.TableName()
	}

	// 否则使用GORM默认的表名规则
	modelName := t.Name()
	// 转换为蛇形命名并复数化
	tableName := toSnakeCase(modelName) + "s"
	return tableName
}

// toSnakeCase 将驼峰命名转换为蛇形命名
func toSnakeCase(s string) string {
	var result []rune
	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result = append(result, '_')
		}
		result = append(result, r)
	}
	return strings.ToLower(string(result))
}

// shouldSkipMigration 检查是否应该跳过迁移
func shouldSkipMigration(tableName string) bool {
	// 事件流水是只追加的大表，存量超过阈值时不再动表结构
	if tableName == "game_events" {
		var count int64
		var exists bool

		// 检查表是否存在
		err := DB.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name=?", tableName).Scan(&exists).Error
		if err != nil || !exists {
			return false
		}

		// 检查表中的数据量
		DB.Raw(fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)).Scan(&count)

		if count > 100000 {
			logger.Info("表中数据量较大，跳过AutoMigrate",
				zap.String("table", tableName),
				zap.Int64("count", count))

			// 仅添加新的索引，不修改表结构
			ensureEventIndexes()
			return true
		}
	}
	return false
}

// createEventTable 手动创建事件流水表
func createEventTable() error {
	// 只在SQLite中需要特殊处理
	if DB.Dialector.Name() != "sqlite" {
		return DB.AutoMigrate(&models.GameEvent{})
	}

	// SQLite: 手动创建表（如果不存在）
	createEventsSQL := `
	CREATE TABLE IF NOT EXISTS game_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		type TEXT NOT NULL,
		visibility TEXT,
		team TEXT,
		audience TEXT,
		actor TEXT,
		target TEXT,
		phase TEXT,
		day INTEGER DEFAULT 0,
		turn INTEGER DEFAULT 0,
		payload TEXT,
		occurred_at DATETIME,
		created_at DATETIME,
		UNIQUE(game_id, seq)
	);
	`
	if err := DB.Exec(createEventsSQL).Error; err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return err
		}
	}

	ensureEventIndexes()

	logger.Info("事件流水表创建/验证完成")
	return nil
}

// ensureEventIndexes 为事件流水表确保索引存在
func ensureEventIndexes() {
	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_event_game_seq ON game_events(game_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_game_events_visibility ON game_events(visibility)",
		"CREATE INDEX IF NOT EXISTS idx_game_events_type ON game_events(type)",
		"CREATE INDEX IF NOT EXISTS idx_game_events_actor ON game_events(actor)",
		"CREATE INDEX IF NOT EXISTS idx_game_events_occurred_at ON game_events(occurred_at)",
	}

	for _, idx := range indexes {
		if err := DB.Exec(idx).Error; err != nil {
			// 忽略索引已存在的错误
			if !strings.Contains(err.Error(), "already exists") {
				logger.Warn("创建索引失败", zap.String("index", idx), zap.Error(err))
			}
		}
	}
}

// DropAllTables 删除所有表（仅用于测试环境）
func DropAllTables() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 获取所有表名
	var tables []string
	if err := DB.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables).Error; err != nil {
		return err
	}

	// 删除所有表
	for _, table := range tables {
		if err := DB.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)).Error; err != nil {
			logger.Error("删除表失败", zap.String("table", table), zap.Error(err))
			return err
		}
	}

	logger.Info("所有表已删除")
	return nil
}
