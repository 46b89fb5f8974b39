package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/mafia-game/internal/adapter"
	"github.com/wfunc/mafia-game/internal/agent"
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	var (
		games     = flag.Int("games", 100, "模拟局数")
		players   = flag.Int("players", 8, "每局玩家数")
		rolesArg  = flag.String("roles", "", "身份表，如 mafia:2,doctor:1,sheriff:1,villager:4（默认按人数取标准配比）")
		seed      = flag.Int64("seed", 0, "种子基值，逐局递增，0取当前时间")
		multiRole = flag.Bool("multirole", false, "启用多重身份发牌")
		bias      = flag.Float64("bias", 0.5, "多重身份暗中倒向黑手党的概率")
		dbPath    = flag.String("db", "", "归档SQLite路径，留空不落盘")
		label     = flag.String("label", "", "批次标注")
		verbose   = flag.Bool("v", false, "输出调度日志")
	)
	flag.Parse()

	if *games < 1 {
		fmt.Println("局数至少为1")
		os.Exit(1)
	}
	if *players < 3 {
		fmt.Println("玩家数至少为3")
		os.Exit(1)
	}

	roles := mafia.RolesForPlayers(*players)
	if *rolesArg != "" {
		parsed, err := parseRoles(*rolesArg)
		if err != nil {
			fmt.Printf("身份表解析失败: %v\n", err)
			os.Exit(1)
		}
		roles = parsed
	}

	baseSeed := *seed
	if baseSeed == 0 {
		baseSeed = time.Now().UnixNano()
	}

	// 截止时长全零：随机决策方同步交齐后立即结算，批量跑满速
	template := mafia.Config{
		PlayerCount: *players,
		Roles:       roles,
		TieBreak:    mafia.TieBreakNoElimination,
	}
	if *multiRole {
		template.MultiRole = mafia.MultiRole{Enabled: true, SabotageBias: *bias}
	}
	if err := template.Validate(); err != nil {
		fmt.Printf("对局配置不合法: %v\n", err)
		os.Exit(1)
	}

	log := zap.NewNop()
	if *verbose {
		devLog, err := zap.NewDevelopment()
		if err != nil {
			fmt.Printf("初始化日志失败: %v\n", err)
			os.Exit(1)
		}
		log = devLog
		defer log.Sync()
	}

	fmt.Println("=== 黑手党对局批量模拟 ===")
	fmt.Printf("局数: %d  玩家: %d人\n", *games, *players)
	fmt.Printf("身份表: %s\n", rolesLabel(roles))
	fmt.Printf("种子基值: %d\n", baseSeed)
	if *multiRole {
		fmt.Printf("多重身份: 开启 (倒向概率%.2f)\n", *bias)
	}

	// Ctrl+C中断后仍输出已完成部分的统计
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	batchID := uuid.New().String()
	var archive *adapter.ArchiveAdapter
	if *dbPath != "" {
		archive = adapter.NewArchiveAdapter(&adapter.SQLiteConfig{Path: *dbPath})
		if err := archive.Connect(ctx); err != nil {
			fmt.Printf("归档库连接失败: %v\n", err)
			os.Exit(1)
		}
		defer archive.Close()

		rolesJSON, err := json.Marshal(roles)
		if err != nil {
			fmt.Printf("身份表序列化失败: %v\n", err)
			os.Exit(1)
		}
		batch := &adapter.BatchRecord{
			ID:          batchID,
			Label:       *label,
			Games:       *games,
			PlayerCount: *players,
			Roles:       string(rolesJSON),
		}
		if err := archive.SaveBatch(ctx, batch); err != nil {
			fmt.Printf("登记批次失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("归档: %s (批次%s)\n", *dbPath, batchID)
	}
	fmt.Println("")

	summary := newBatchSummary()
	started := time.Now()
	interrupted := false

	for i := 0; i < *games; i++ {
		cfg := template
		cfg.Seed = baseSeed + int64(i)

		gameID := fmt.Sprintf("sim-%s-%04d", batchID[:8], i+1)
		result, err := playGame(ctx, gameID, cfg, log)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				interrupted = true
				break
			}
			fmt.Printf("第%d局失败: %v\n", i+1, err)
			summary.failures++
			continue
		}

		summary.add(result)

		if archive != nil {
			result.BatchID = batchID
			if err := archive.SaveGameResult(ctx, result); err != nil {
				fmt.Printf("第%d局归档失败: %v\n", i+1, err)
			}
		}
	}
	summary.elapsed = time.Since(started)

	if interrupted {
		fmt.Printf("已中断，完成%d/%d局\n", summary.games, *games)
	}
	printSummary(summary)

	if archive != nil {
		// 中断信号已触发时ctx不可再用
		finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := archive.FinishBatch(finishCtx, batchID, time.Now()); err != nil {
			fmt.Printf("完结批次失败: %v\n", err)
			return
		}
		printArchiveStats(finishCtx, archive, batchID)
	}
}

// playGame 跑完一整局并收集终局结果
func playGame(ctx context.Context, gameID string, cfg mafia.Config, log *zap.Logger) (*adapter.GameResult, error) {
	engine, err := mafia.NewEngine(gameID, cfg)
	if err != nil {
		return nil, fmt.Errorf("创建引擎: %w", err)
	}
	for i := 1; i <= cfg.PlayerCount; i++ {
		id := fmt.Sprintf("p%d", i)
		if err := engine.AddPlayer(id, fmt.Sprintf("玩家%d", i)); err != nil {
			return nil, fmt.Errorf("加入玩家%s: %w", id, err)
		}
	}

	machine := game.NewStateMachine(gameID, log, game.NewMemoryStatePersister())
	instance := game.NewGameInstance(gameID, engine, machine)
	runner := game.NewGameRunner(instance, agent.NewRandomProvider(cfg.Seed), log)

	started := time.Now()
	if err := runner.Run(ctx); err != nil {
		return nil, err
	}
	elapsed := time.Since(started)

	view := instance.View()
	winner := ""
	if view.Winner != nil {
		winner = string(*view.Winner)
	}

	snap := engine.Snapshot()
	causes := deathCauses(snap.Events)
	survivors := 0
	seats := make([]adapter.SeatResult, 0, len(snap.State.Players))
	for _, p := range snap.State.Players {
		if p.Alive {
			survivors++
		}
		rolesJSON, err := json.Marshal(p.RoleNames())
		if err != nil {
			return nil, fmt.Errorf("座位身份序列化: %w", err)
		}
		seats = append(seats, adapter.SeatResult{
			Seat:       p.Seat,
			Team:       string(p.Team()),
			Roles:      string(rolesJSON),
			Alive:      p.Alive,
			DeathDay:   p.DeathDay,
			DeathCause: causes[p.ID],
		})
	}

	return &adapter.GameResult{
		ID:         gameID,
		Seed:       cfg.Seed,
		Winner:     winner,
		Days:       view.Day,
		Survivors:  survivors,
		Events:     len(snap.Events),
		DurationMS: elapsed.Milliseconds(),
		PlayedAt:   time.Now(),
		Seats:      seats,
	}, nil
}

// deathCauses 从事件流提取各座位的死因
// 夜晚结算明细给出具体死因，放逐死亡用公开讣告里的原因。
func deathCauses(events []mafia.Event) map[string]string {
	causes := make(map[string]string)
	for _, ev := range events {
		switch ev.Type {
		case mafia.EventNightResolved:
			raw, _ := ev.Payload["deaths"].([]interface{})
			for _, item := range raw {
				entry, ok := item.(map[string]interface{})
				if !ok {
					continue
				}
				player, _ := entry["player"].(string)
				cs, _ := entry["causes"].([]string)
				if player != "" && len(cs) > 0 {
					causes[player] = strings.Join(cs, "+")
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

// batchSummary 批次内的聚合计数
type batchSummary struct {
	games     int
	failures  int
	wins      map[string]int
	totalDays int
	minDays   int
	maxDays   int
	survivors int
	events    int
	elapsed   time.Duration
}

func newBatchSummary() *batchSummary {
	return &batchSummary{wins: make(map[string]int)}
}

func (s *batchSummary) add(r *adapter.GameResult) {
	s.games++
	s.wins[r.Winner]++
	s.totalDays += r.Days
	if s.minDays == 0 || r.Days < s.minDays {
		s.minDays = r.Days
	}
	if r.Days > s.maxDays {
		s.maxDays = r.Days
	}
	s.survivors += r.Survivors
	s.events += r.Events
}

// printSummary 输出批次聚合结果
func printSummary(s *batchSummary) {
	fmt.Println("")
	fmt.Println("=== 模拟结果 ===")
	fmt.Printf("完成局数: %d (耗时%s)\n", s.games, s.elapsed.Round(time.Millisecond))
	if s.failures > 0 {
		fmt.Printf("失败局数: %d\n", s.failures)
	}
	if s.games == 0 {
		return
	}

	n := float64(s.games)
	mafiaWins := s.wins[string(mafia.TeamMafia)]
	townWins := s.wins[string(mafia.TeamTown)]
	fmt.Printf("黑手党获胜: %d局 (%.1f%%)\n", mafiaWins, float64(mafiaWins)*100/n)
	fmt.Printf("平民获胜: %d局 (%.1f%%)\n", townWins, float64(townWins)*100/n)
	fmt.Printf("天数: 平均%.1f 最短%d 最长%d\n", float64(s.totalDays)/n, s.minDays, s.maxDays)
	fmt.Printf("平均存活: %.1f人\n", float64(s.survivors)/n)
	fmt.Printf("平均事件: %.1f条\n", float64(s.events)/n)
}

// printArchiveStats 输出归档库的批次统计，失败只提示不中断
func printArchiveStats(ctx context.Context, archive *adapter.ArchiveAdapter, batchID string) {
	stats, err := archive.BatchStats(ctx, batchID)
	if err != nil {
		fmt.Printf("读取批次统计失败: %v\n", err)
		return
	}

	fmt.Println("")
	fmt.Println("=== 归档统计 ===")
	fmt.Printf("批次: %s\n", stats.BatchID)
	fmt.Printf("落库局数: %d (平均%.1f天 单局平均%s)\n",
		stats.Games, stats.AvgDays, stats.AvgDuration.Round(time.Microsecond))

	survival, err := archive.TeamSurvival(ctx, batchID)
	if err != nil {
		fmt.Printf("读取存活统计失败: %v\n", err)
		return
	}
	for _, ts := range survival {
		fmt.Printf("%s座位存活率: %.1f%% (%d/%d)\n",
			teamLabel(ts.Team), ts.Rate*100, ts.Survived, ts.Seats)
	}
}

// parseRoles 解析 mafia:2,doctor:1 形式的身份表
func parseRoles(s string) (map[mafia.RoleKind]int, error) {
	roles := make(map[mafia.RoleKind]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("身份项格式错误: %s", part)
		}
		kind, err := mafia.ParseRoleKind(strings.ToUpper(strings.TrimSpace(kv[0])))
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("身份数量错误: %s", part)
		}
		roles[kind] = n
	}
	if len(roles) == 0 {
		return nil, errors.New("身份表为空")
	}
	return roles, nil
}

// rolesLabel 身份表按固定顺序拼成一行
func rolesLabel(roles map[mafia.RoleKind]int) string {
	parts := make([]string, 0, len(roles))
	for _, kind := range mafia.AllRoleKinds() {
		if n := roles[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", kind, n))
		}
	}
	return strings.Join(parts, " ")
}

// teamLabel 阵营中文名
func teamLabel(team string) string {
	switch team {
	case string(mafia.TeamMafia):
		return "黑手党"
	case string(mafia.TeamTown):
		return "平民"
	default:
		return team
	}
}
