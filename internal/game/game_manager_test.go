package game

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/wfunc/mafia-game/internal/agent"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
)

func newTestManager(maxGames int, idleTimeout time.Duration) *GameManager {
	return NewGameManager(&ManagerConfig{
		Logger:      zap.NewNop(),
		MaxGames:    maxGames,
		IdleTimeout: idleTimeout,
	})
}

func threePlayerConfig() mafia.Config {
	return mafia.Config{
		PlayerCount: 3,
		Roles: map[mafia.RoleKind]int{
			mafia.RoleMafia:    1,
			mafia.RoleVillager: 2,
		},
		Deadlines: mafia.Deadlines{
			Night:      10 * time.Second,
			Reveal:     time.Millisecond,
			Discussion: time.Millisecond,
			Voting:     10 * time.Second,
		},
		TieBreak: mafia.TieBreakNoElimination,
		Seed:     7,
	}
}

func seatPlayers(t *testing.T, instance *GameInstance, n int) {
	t.Helper()
	names := []string{"甲", "乙", "丙", "丁", "戊"}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("p%d", i+1)
		if err := instance.Engine.AddPlayer(id, names[i]); err != nil {
			t.Fatalf("AddPlayer(%s) error = %v", id, err)
		}
	}
}

func TestGameManager_CreateGame(t *testing.T) {
	gm := newTestManager(0, time.Hour)
	ctx := context.Background()

	instance, err := gm.CreateGame(ctx, "g1", threePlayerConfig())
	if err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}
	if instance.GameID != "g1" {
		t.Errorf("GameID = %s, want g1", instance.GameID)
	}
	if instance.Engine == nil || instance.Machine == nil {
		t.Fatal("instance missing engine or machine")
	}
	if got := instance.Machine.GetPhase(); got != mafia.PhaseSetup {
		t.Errorf("initial machine phase = %s, want %s", got, mafia.PhaseSetup)
	}

	// 同ID重复创建
	if _, err := gm.CreateGame(ctx, "g1", threePlayerConfig()); err == nil {
		t.Error("duplicate CreateGame() error = nil, want error")
	}

	if got := gm.ActiveGames(); got != 1 {
		t.Errorf("ActiveGames() = %d, want 1", got)
	}
}

func TestGameManager_CreateGame_AutoID(t *testing.T) {
	gm := newTestManager(0, time.Hour)

	instance, err := gm.CreateGame(context.Background(), "", threePlayerConfig())
	if err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}
	if instance.GameID == "" {
		t.Fatal("auto generated GameID is empty")
	}
	if len(instance.GameID) != 36 || strings.Count(instance.GameID, "-") != 4 {
		t.Errorf("GameID = %s, want UUID format", instance.GameID)
	}

	found := false
	for _, id := range gm.GameIDs() {
		if id == instance.GameID {
			found = true
		}
	}
	if !found {
		t.Errorf("GameIDs() does not contain %s", instance.GameID)
	}
}

func TestGameManager_CreateGame_CapacityLimit(t *testing.T) {
	gm := newTestManager(1, time.Hour)
	ctx := context.Background()

	if _, err := gm.CreateGame(ctx, "g1", threePlayerConfig()); err != nil {
		t.Fatalf("CreateGame(g1) error = %v", err)
	}
	if _, err := gm.CreateGame(ctx, "g2", threePlayerConfig()); err == nil {
		t.Error("CreateGame() beyond capacity error = nil, want error")
	}

	// 腾出名额后恢复可用
	if err := gm.RemoveGame(ctx, "g1"); err != nil {
		t.Fatalf("RemoveGame() error = %v", err)
	}
	if _, err := gm.CreateGame(ctx, "g2", threePlayerConfig()); err != nil {
		t.Errorf("CreateGame(g2) after removal error = %v", err)
	}
}

func TestGameManager_GetGame_NotFound(t *testing.T) {
	gm := newTestManager(0, time.Hour)

	if _, err := gm.GetGame("missing"); err == nil {
		t.Error("GetGame(missing) error = nil, want error")
	}
}

func TestGameManager_RemoveGame(t *testing.T) {
	gm := newTestManager(0, time.Hour)
	ctx := context.Background()

	if _, err := gm.CreateGame(ctx, "g1", threePlayerConfig()); err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}

	if err := gm.RemoveGame(ctx, "g1"); err != nil {
		t.Fatalf("RemoveGame() error = %v", err)
	}
	if _, err := gm.GetGame("g1"); err == nil {
		t.Error("GetGame() after removal error = nil, want error")
	}

	// 摘除前写入了最终存档
	data, err := gm.Persister().Load(ctx, "g1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if data.Machine.CurrentPhase != mafia.PhaseSetup {
		t.Errorf("archived phase = %s, want %s", data.Machine.CurrentPhase, mafia.PhaseSetup)
	}

	if err := gm.RemoveGame(ctx, "g1"); err == nil {
		t.Error("RemoveGame() twice error = nil, want error")
	}
}

func TestGameManager_CleanupIdleGames(t *testing.T) {
	gm := newTestManager(0, time.Hour)
	ctx := context.Background()

	stale, err := gm.CreateGame(ctx, "stale", threePlayerConfig())
	if err != nil {
		t.Fatalf("CreateGame(stale) error = %v", err)
	}
	if _, err := gm.CreateGame(ctx, "fresh", threePlayerConfig()); err != nil {
		t.Fatalf("CreateGame(fresh) error = %v", err)
	}

	stale.mu.Lock()
	stale.lastActivity = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	gm.CleanupIdleGames(ctx)

	if _, err := gm.GetGame("stale"); err == nil {
		t.Error("stale game still registered after cleanup")
	}
	if _, err := gm.GetGame("fresh"); err != nil {
		t.Errorf("fresh game removed by cleanup: %v", err)
	}
	if got := gm.ActiveGames(); got != 1 {
		t.Errorf("ActiveGames() = %d, want 1", got)
	}

	// 清理也要留下存档
	if _, err := gm.Persister().Load(ctx, "stale"); err != nil {
		t.Errorf("Load(stale) error = %v", err)
	}
}

func TestGameManager_StartGame_DoubleStart(t *testing.T) {
	gm := newTestManager(0, time.Hour)
	ctx := context.Background()

	instance, err := gm.CreateGame(ctx, "g1", threePlayerConfig())
	if err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}
	seatPlayers(t, instance, 3)

	// 空脚本加长截止时长，调度循环会停在夜晚等待
	if err := gm.StartGame(ctx, "g1", agent.NewScriptedProvider(), nil); err != nil {
		t.Fatalf("StartGame() error = %v", err)
	}
	if !instance.Running() {
		t.Error("Running() = false after StartGame")
	}

	if err := gm.StartGame(ctx, "g1", agent.NewScriptedProvider(), nil); err == nil {
		t.Error("second StartGame() error = nil, want error")
	}

	if err := gm.RemoveGame(ctx, "g1"); err != nil {
		t.Fatalf("RemoveGame() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for instance.Running() {
		if time.Now().After(deadline) {
			t.Fatal("runner still running after RemoveGame")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGameManager_GameStats(t *testing.T) {
	gm := newTestManager(0, time.Hour)
	ctx := context.Background()

	instance, err := gm.CreateGame(ctx, "g1", threePlayerConfig())
	if err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}
	seatPlayers(t, instance, 3)

	stats, err := gm.GameStats("g1")
	if err != nil {
		t.Fatalf("GameStats() error = %v", err)
	}
	if stats["game_id"] != "g1" {
		t.Errorf("stats[game_id] = %v, want g1", stats["game_id"])
	}
	if stats["players"] != 3 || stats["alive"] != 3 {
		t.Errorf("stats players = %v alive = %v, want 3/3", stats["players"], stats["alive"])
	}
	if _, ok := stats["winner"]; ok {
		t.Error("stats[winner] present before game over")
	}

	if _, err := gm.GameStats("missing"); err == nil {
		t.Error("GameStats(missing) error = nil, want error")
	}
}

func TestGameManager_RecoverGame_AlreadyRegistered(t *testing.T) {
	gm := newTestManager(0, time.Hour)
	ctx := context.Background()

	created, err := gm.CreateGame(ctx, "g1", threePlayerConfig())
	if err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}

	recovered, err := gm.RecoverGame(ctx, "g1")
	if err != nil {
		t.Fatalf("RecoverGame() error = %v", err)
	}
	if recovered != created {
		t.Error("RecoverGame() returned a different instance for registered game")
	}
}
