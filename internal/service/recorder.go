package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"github.com/wfunc/mafia-game/internal/models"
	"github.com/wfunc/mafia-game/internal/repository"
	"go.uber.org/zap"
)

// GameRecorder 对局落库器
// 订阅调度器通知，按管理员许可增量拉取事件写入流水表，
// 终局时归档座位与结果。(game_id, seq)唯一，重放不会产生重复行。
type GameRecorder struct {
	games *game.GameManager
	repos *repository.Manager
	batch *repository.BatchOperator
	log   *zap.Logger

	flushTimeout time.Duration

	mu       sync.Mutex
	cursors  map[string]int64 // 各对局已落库的最大事件序号
	archived map[string]bool
}

// NewGameRecorder 创建对局落库器
func NewGameRecorder(games *game.GameManager, repos *repository.Manager, log *zap.Logger) *GameRecorder {
	return &GameRecorder{
		games:        games,
		repos:        repos,
		batch:        repository.NewBatchOperator(repos),
		log:          log,
		flushTimeout: 5 * time.Second,
		cursors:      make(map[string]int64),
		archived:     make(map[string]bool),
	}
}

// RegisterGame 对局创建后登记：写对局行和座位表，事件游标从零开始
// 此时角色尚未分配，座位只有身份信息，归档时补全阵营与角色。
func (r *GameRecorder) RegisterGame(ctx context.Context, instance *game.GameInstance) error {
	cfg := instance.Engine.Config()
	view := instance.View()

	row := &models.Game{
		GameID:      instance.GameID,
		Status:      models.GameStatusRunning,
		Phase:       string(view.Phase),
		Day:         view.Day,
		Turn:        view.Turn,
		PlayerCount: cfg.PlayerCount,
		Config:      configToMap(cfg),
		Seed:        cfg.Seed,
	}

	players := make([]*models.GamePlayer, 0, len(view.Players))
	for _, p := range view.Players {
		players = append(players, &models.GamePlayer{
			GameID:   instance.GameID,
			Seat:     p.Seat,
			PlayerID: p.ID,
			Name:     p.Name,
			Alive:    true,
		})
	}

	if err := r.batch.CreateGameWithPlayers(ctx, row, players); err != nil {
		return err
	}

	r.mu.Lock()
	r.cursors[instance.GameID] = 0
	delete(r.archived, instance.GameID)
	r.mu.Unlock()

	r.log.Info("对局登记落库",
		zap.String("game_id", instance.GameID),
		zap.Int("player_count", len(players)))
	return nil
}

// Resume 恢复对局时把游标对齐到库中已有的最大序号
// 不对齐也只是首次通知多一轮幂等重放。
func (r *GameRecorder) Resume(ctx context.Context, gameID string) error {
	latest, err := r.repos.Event().LatestSeq(ctx, gameID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.cursors[gameID] = latest
	delete(r.archived, gameID)
	r.mu.Unlock()

	r.log.Info("对局落库游标对齐",
		zap.String("game_id", gameID),
		zap.Int64("latest_seq", latest))
	return nil
}

// Forget 对局移出注册表后释放游标
func (r *GameRecorder) Forget(gameID string) {
	r.mu.Lock()
	delete(r.cursors, gameID)
	delete(r.archived, gameID)
	r.mu.Unlock()
}

// Notify 实现game.EventSink
// 调度循环同步调用，失败只记日志，流水缺口靠下次通知的增量拉取补齐。
func (r *GameRecorder) Notify(gameID string) {
	instance, err := r.games.GetGame(gameID)
	if err != nil {
		r.log.Warn("落库通知指向未知对局", zap.String("game_id", gameID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
	defer cancel()

	if err := r.flush(ctx, instance); err != nil {
		r.log.Error("事件落库失败",
			zap.String("game_id", gameID),
			zap.Error(err))
		return
	}

	view := instance.View()
	if view.Winner == nil {
		return
	}

	r.mu.Lock()
	done := r.archived[gameID]
	if !done {
		r.archived[gameID] = true
	}
	r.mu.Unlock()
	if done {
		return
	}

	if err := r.archiveGame(ctx, instance, view); err != nil {
		r.log.Error("终局归档失败",
			zap.String("game_id", gameID),
			zap.Error(err))
		r.mu.Lock()
		delete(r.archived, gameID)
		r.mu.Unlock()
	}
}

// flush 增量拉取并写入事件流水
func (r *GameRecorder) flush(ctx context.Context, instance *game.GameInstance) error {
	gameID := instance.GameID

	r.mu.Lock()
	after := r.cursors[gameID]
	r.mu.Unlock()

	events := instance.EventsSince(mafia.AdminClearance(), after)
	if len(events) == 0 {
		return nil
	}

	rows := make([]*models.GameEvent, 0, len(events))
	maxSeq := after
	for _, ev := range events {
		rows = append(rows, toEventRow(ev))
		if ev.Seq > maxSeq {
			maxSeq = ev.Seq
		}
	}

	view := instance.View()
	if err := r.batch.RecordPhaseEvents(ctx, gameID, string(view.Phase), view.Day, view.Turn, rows); err != nil {
		return err
	}

	r.mu.Lock()
	if maxSeq > r.cursors[gameID] {
		r.cursors[gameID] = maxSeq
	}
	r.mu.Unlock()
	return nil
}

// archiveGame 终局归档：对局结果加角色阵营补全后的座位表
func (r *GameRecorder) archiveGame(ctx context.Context, instance *game.GameInstance, view mafia.StateView) error {
	snap := instance.Engine.Snapshot()
	now := time.Now()

	// 登记过的对局行带着主键更新，缺行时落一条新的
	row, err := r.repos.Game().FindByGameID(ctx, instance.GameID)
	if err != nil {
		row = &models.Game{GameID: instance.GameID}
	}
	row.Status = models.GameStatusFinished
	row.Phase = string(view.Phase)
	row.Day = view.Day
	row.Turn = view.Turn
	row.PlayerCount = snap.Config.PlayerCount
	row.Config = configToMap(snap.Config)
	row.Seed = snap.Config.Seed
	row.FinishedAt = &now
	if view.Winner != nil {
		row.Winner = string(*view.Winner)
	}
	if !snap.State.StartedAt.IsZero() {
		startedAt := snap.State.StartedAt
		row.StartedAt = &startedAt
	}

	causes := deathCauses(snap.Events)
	players := make([]*models.GamePlayer, 0, len(snap.State.Players))
	for _, p := range snap.State.Players {
		players = append(players, &models.GamePlayer{
			GameID:     instance.GameID,
			Seat:       p.Seat,
			PlayerID:   p.ID,
			Name:       p.Name,
			Team:       string(p.Team()),
			Roles:      toJSONList(p.RoleNames()),
			Alive:      p.Alive,
			DeathDay:   p.DeathDay,
			DeathCause: causes[p.ID],
		})
	}

	// 事件已在flush中落库，归档只补对局行和座位表
	if err := r.batch.ArchiveFinishedGame(ctx, row, players, nil); err != nil {
		return err
	}

	r.log.Info("对局归档完成",
		zap.String("game_id", instance.GameID),
		zap.String("winner", row.Winner),
		zap.Int("day", view.Day))
	return nil
}

// deathCauses 从事件流提取各玩家的死因
// 夜晚结算明细给出具体死因，放逐死亡用player.died的公开原因，
// 具体死因不被笼统的"night"覆盖。
func deathCauses(events []mafia.Event) map[string]string {
	causes := make(map[string]string)
	for _, ev := range events {
		switch ev.Type {
		case mafia.EventNightResolved:
			for _, d := range nightDeaths(ev.Payload) {
				if d.cause != "" {
					causes[d.player] = d.cause
				}
			}
		case mafia.EventPlayerDied:
			if ev.Target == "" {
				continue
			}
			if _, known := causes[ev.Target]; known {
				continue
			}
			if reason, ok := ev.Payload["reason"].(string); ok {
				causes[ev.Target] = reason
			}
		}
	}
	return causes
}

type nightDeath struct {
	player string
	cause  string
}

// nightDeaths 解析夜晚结算明细里的死亡列表
// 直接读引擎时负载保持原始类型，从存档恢复后经过JSON会变成通用类型。
func nightDeaths(payload map[string]interface{}) []nightDeath {
	raw, ok := payload["deaths"].([]interface{})
	if !ok {
		return nil
	}

	out := make([]nightDeath, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		player, _ := entry["player"].(string)
		if player == "" {
			continue
		}

		var parts []string
		switch cs := entry["causes"].(type) {
		case []string:
			parts = cs
		case []interface{}:
			for _, c := range cs {
				if s, ok := c.(string); ok {
					parts = append(parts, s)
				}
			}
		}
		out = append(out, nightDeath{player: player, cause: strings.Join(parts, "+")})
	}
	return out
}

// toEventRow 引擎事件转流水行
func toEventRow(ev mafia.Event) *models.GameEvent {
	return &models.GameEvent{
		GameID:     ev.GameID,
		Seq:        ev.Seq,
		Type:       string(ev.Type),
		Visibility: string(ev.Visibility),
		Team:       string(ev.Team),
		Audience:   ev.Audience,
		Actor:      ev.Actor,
		Target:     ev.Target,
		Phase:      string(ev.Phase),
		Day:        ev.Day,
		Turn:       ev.Turn,
		Payload:    models.JSONMap(ev.Payload),
		OccurredAt: ev.Timestamp,
	}
}

// configToMap 对局配置转存档字段
func configToMap(cfg mafia.Config) models.JSONMap {
	roles := make(map[string]interface{}, len(cfg.Roles))
	for kind, count := range cfg.Roles {
		roles[kind.String()] = count
	}
	return models.JSONMap{
		"player_count":              cfg.PlayerCount,
		"roles":                     roles,
		"tie_break":                 string(cfg.TieBreak),
		"allow_self_protect_always": cfg.AllowSelfProtectAlways,
		"allow_self_investigate":    cfg.AllowSelfInvestigate,
		"multi_role_enabled":        cfg.MultiRole.Enabled,
	}
}

// toJSONList 把字符串切片转成JSON数组字段
func toJSONList(items []string) models.JSONList {
	out := make(models.JSONList, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

// MultiSink 把调度通知扇出给多个订阅方
type MultiSink struct {
	sinks []game.EventSink
}

// NewMultiSink 创建扇出通知器，nil订阅方被忽略
func NewMultiSink(sinks ...game.EventSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Notify 实现game.EventSink
func (m *MultiSink) Notify(gameID string) {
	for _, s := range m.sinks {
		s.Notify(gameID)
	}
}
