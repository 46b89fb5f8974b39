package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ArchiveAdapter 模拟归档的SQLite实现
type ArchiveAdapter struct {
	db     *sql.DB
	config *SQLiteConfig
}

// NewArchiveAdapter 创建归档适配器
func NewArchiveAdapter(config *SQLiteConfig) *ArchiveAdapter {
	if config == nil || config.Path == "" {
		config = &SQLiteConfig{
			Path: "./data/mafia-sim.db",
		}
	}
	return &ArchiveAdapter{config: config}
}

// Connect 连接归档库并建表
func (a *ArchiveAdapter) Connect(ctx context.Context) error {
	db, err := sql.Open("sqlite3", a.config.Path)
	if err != nil {
		return fmt.Errorf("打开归档库: %w", err)
	}

	// SQLite不支持并发写入
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("启用外键约束: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		return fmt.Errorf("启用WAL模式: %w", err)
	}

	a.db = db

	if err := a.initSchema(ctx); err != nil {
		return fmt.Errorf("初始化归档表: %w", err)
	}
	return nil
}

// Close 关闭归档库
func (a *ArchiveAdapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Ping 测试连接
func (a *ArchiveAdapter) Ping(ctx context.Context) error {
	if a.db == nil {
		return ErrNotConnected
	}
	return a.db.PingContext(ctx)
}

// SaveBatch 登记一个模拟批次
func (a *ArchiveAdapter) SaveBatch(ctx context.Context, batch *BatchRecord) error {
	if a.db == nil {
		return ErrNotConnected
	}
	if batch.ID == "" {
		batch.ID = uuid.New().String()
	}
	if batch.StartedAt.IsZero() {
		batch.StartedAt = time.Now()
	}

	query := `
		INSERT INTO sim_batches (id, label, games, player_count, roles, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := a.db.ExecContext(ctx, query,
		batch.ID, batch.Label, batch.Games, batch.PlayerCount,
		batch.Roles, batch.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("登记批次: %w", err)
	}
	return nil
}

// FinishBatch 标记批次完成
func (a *ArchiveAdapter) FinishBatch(ctx context.Context, batchID string, finishedAt time.Time) error {
	if a.db == nil {
		return ErrNotConnected
	}

	result, err := a.db.ExecContext(ctx,
		`UPDATE sim_batches SET finished_at = ? WHERE id = ?`,
		finishedAt, batchID,
	)
	if err != nil {
		return fmt.Errorf("完结批次: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBatch 读取批次
func (a *ArchiveAdapter) GetBatch(ctx context.Context, batchID string) (*BatchRecord, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	query := `
		SELECT id, label, games, player_count, roles, started_at, finished_at
		FROM sim_batches
		WHERE id = ?
	`
	batch := &BatchRecord{}
	var finished sql.NullTime
	err := a.db.QueryRowContext(ctx, query, batchID).Scan(
		&batch.ID, &batch.Label, &batch.Games, &batch.PlayerCount,
		&batch.Roles, &batch.StartedAt, &finished,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取批次: %w", err)
	}
	if finished.Valid {
		batch.FinishedAt = &finished.Time
	}
	return batch, nil
}

// SaveGameResult 保存单局结果与座位表，两者同事务写入
func (a *ArchiveAdapter) SaveGameResult(ctx context.Context, result *GameResult) error {
	if a.db == nil {
		return ErrNotConnected
	}
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.PlayedAt.IsZero() {
		result.PlayedAt = time.Now()
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启归档事务: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sim_games (id, batch_id, seed, winner, days, survivors, events, duration_ms, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID, result.BatchID, result.Seed, result.Winner,
		result.Days, result.Survivors, result.Events, result.DurationMS, result.PlayedAt,
	)
	if err != nil {
		return fmt.Errorf("保存对局结果: %w", err)
	}

	for i := range result.Seats {
		seat := &result.Seats[i]
		seat.GameID = result.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sim_seats (game_id, seat, team, roles, alive, death_day, death_cause)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			seat.GameID, seat.Seat, seat.Team, seat.Roles,
			seat.Alive, seat.DeathDay, seat.DeathCause,
		)
		if err != nil {
			return fmt.Errorf("保存座位结果: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交归档事务: %w", err)
	}
	return nil
}

// GetGameResult 读取单局结果，座位按座次排序
func (a *ArchiveAdapter) GetGameResult(ctx context.Context, id string) (*GameResult, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	query := `
		SELECT id, batch_id, seed, winner, days, survivors, events, duration_ms, played_at
		FROM sim_games
		WHERE id = ?
	`
	result := &GameResult{}
	err := a.db.QueryRowContext(ctx, query, id).Scan(
		&result.ID, &result.BatchID, &result.Seed, &result.Winner,
		&result.Days, &result.Survivors, &result.Events, &result.DurationMS, &result.PlayedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取对局结果: %w", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT game_id, seat, team, roles, alive, death_day, death_cause
		FROM sim_seats
		WHERE game_id = ?
		ORDER BY seat ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("读取座位结果: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seat SeatResult
		err := rows.Scan(
			&seat.GameID, &seat.Seat, &seat.Team, &seat.Roles,
			&seat.Alive, &seat.DeathDay, &seat.DeathCause,
		)
		if err != nil {
			return nil, err
		}
		result.Seats = append(result.Seats, seat)
	}
	return result, rows.Err()
}

// ListGameResults 按批次分页列出对局结果，不带座位表
func (a *ArchiveAdapter) ListGameResults(ctx context.Context, batchID string, offset, limit int) ([]*GameResult, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, batch_id, seed, winner, days, survivors, events, duration_ms, played_at
		FROM sim_games
		WHERE batch_id = ?
		ORDER BY played_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, batchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("列出对局结果: %w", err)
	}
	defer rows.Close()

	var results []*GameResult
	for rows.Next() {
		result := &GameResult{}
		err := rows.Scan(
			&result.ID, &result.BatchID, &result.Seed, &result.Winner,
			&result.Days, &result.Survivors, &result.Events, &result.DurationMS, &result.PlayedAt,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// BatchStats 汇总批次：各阵营胜场、平均天数、平均时长
func (a *ArchiveAdapter) BatchStats(ctx context.Context, batchID string) (*BatchStats, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	stats := &BatchStats{
		BatchID:    batchID,
		WinsByTeam: make(map[string]int64),
	}

	var avgDays, avgMS sql.NullFloat64
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(days), AVG(duration_ms)
		FROM sim_games
		WHERE batch_id = ?
	`, batchID).Scan(&stats.Games, &avgDays, &avgMS)
	if err != nil {
		return nil, fmt.Errorf("汇总批次: %w", err)
	}
	if avgDays.Valid {
		stats.AvgDays = avgDays.Float64
	}
	if avgMS.Valid {
		stats.AvgDuration = time.Duration(avgMS.Float64 * float64(time.Millisecond))
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT winner, COUNT(*)
		FROM sim_games
		WHERE batch_id = ?
		GROUP BY winner
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("汇总胜场: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var team string
		var n int64
		if err := rows.Scan(&team, &n); err != nil {
			return nil, err
		}
		stats.WinsByTeam[team] = n
	}
	return stats, rows.Err()
}

// TeamSurvival 按阵营统计批次内座位的存活率
func (a *ArchiveAdapter) TeamSurvival(ctx context.Context, batchID string) ([]TeamSurvival, error) {
	if a.db == nil {
		return nil, ErrNotConnected
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT s.team, COUNT(*), SUM(s.alive)
		FROM sim_seats s
		JOIN sim_games g ON g.id = s.game_id
		WHERE g.batch_id = ?
		GROUP BY s.team
		ORDER BY s.team ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("统计存活率: %w", err)
	}
	defer rows.Close()

	var out []TeamSurvival
	for rows.Next() {
		var ts TeamSurvival
		if err := rows.Scan(&ts.Team, &ts.Seats, &ts.Survived); err != nil {
			return nil, err
		}
		if ts.Seats > 0 {
			ts.Rate = float64(ts.Survived) / float64(ts.Seats)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// initSchema 初始化归档表结构
func (a *ArchiveAdapter) initSchema(ctx context.Context) error {
	schemas := []string{
		`CREATE TABLE IF NOT EXISTS sim_batches (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			games INTEGER NOT NULL,
			player_count INTEGER NOT NULL,
			roles TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS sim_games (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			winner TEXT NOT NULL,
			days INTEGER NOT NULL,
			survivors INTEGER NOT NULL,
			events INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			played_at DATETIME NOT NULL,
			FOREIGN KEY (batch_id) REFERENCES sim_batches(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS sim_seats (
			game_id TEXT NOT NULL,
			seat INTEGER NOT NULL,
			team TEXT NOT NULL,
			roles TEXT NOT NULL,
			alive INTEGER NOT NULL,
			death_day INTEGER NOT NULL DEFAULT 0,
			death_cause TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (game_id, seat),
			FOREIGN KEY (game_id) REFERENCES sim_games(id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_sim_games_batch ON sim_games(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sim_games_winner ON sim_games(winner)`,
	}

	for _, schema := range schemas {
		if _, err := a.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("执行建表语句: %w", err)
		}
	}
	return nil
}
