package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/wfunc/mafia-game/internal/config"
	"github.com/wfunc/mafia-game/internal/game"
	"github.com/wfunc/mafia-game/internal/game/mafia"
	"go.uber.org/zap"
)

func newTestHub(t *testing.T) (*Hub, *game.GameManager) {
	t.Helper()
	gm := game.NewGameManager(&game.ManagerConfig{
		Logger:      zap.NewNop(),
		MaxGames:    0,
		IdleTimeout: time.Hour,
	})
	return NewHub(gm, config.WebSocketConfig{}, zap.NewNop()), gm
}

// newReadyGame 创建一局五人局并完成角色分配
// 开局后事件日志固定为14条：创建1条、入座5条、发身份5条、
// 黑手党名单1条、管理员身份表1条、开局1条。
func newReadyGame(t *testing.T, gm *game.GameManager, gameID string) *game.GameInstance {
	t.Helper()
	cfg := mafia.Config{
		PlayerCount: 5,
		Roles: map[mafia.RoleKind]int{
			mafia.RoleMafia:    1,
			mafia.RoleDoctor:   1,
			mafia.RoleSheriff:  1,
			mafia.RoleVillager: 2,
		},
		TieBreak: mafia.TieBreakNoElimination,
		Seed:     7,
	}
	instance, err := gm.CreateGame(context.Background(), gameID, cfg)
	if err != nil {
		t.Fatalf("CreateGame() error = %v", err)
	}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("p%d", i)
		if err := instance.Engine.AddPlayer(id, "玩家"+id); err != nil {
			t.Fatalf("AddPlayer(%s) error = %v", id, err)
		}
	}
	if err := instance.Engine.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return instance
}

func newTestClient(gameID string, clearance mafia.Clearance, buffer int) *Client {
	return &Client{
		ID:        "c-" + gameID + "-" + string(clearance.Level),
		GameID:    gameID,
		Send:      make(chan []byte, buffer),
		clearance: clearance,
	}
}

// drainMessages 取空客户端发送缓冲并反序列化
func drainMessages(t *testing.T, c *Client) []Message {
	t.Helper()
	var out []Message
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return out
			}
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func countByType(messages []Message, msgType string) int {
	n := 0
	for _, m := range messages {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func TestHub_RegisterPushesBacklog(t *testing.T) {
	hub, gm := newTestHub(t)
	newReadyGame(t, gm, "g1")

	client := newTestClient("g1", mafia.PublicClearance(), 64)
	hub.registerClient(client)

	messages := drainMessages(t, client)
	if len(messages) == 0 || messages[0].Type != MessageTypeConnected {
		t.Fatalf("首条消息应为连接确认, 实际 %+v", messages)
	}
	if got := countByType(messages, MessageTypeEvent); got != 7 {
		t.Errorf("公开事件数 = %d, 期望 7", got)
	}
	if client.lastSeq == 0 {
		t.Error("补推后游标未前进")
	}
	if hub.GetSubscriberCount("g1") != 1 {
		t.Errorf("订阅数 = %d, 期望 1", hub.GetSubscriberCount("g1"))
	}
}

func TestHub_ClearanceFiltersPush(t *testing.T) {
	hub, gm := newTestHub(t)
	instance := newReadyGame(t, gm, "g1")

	var mafiaID string
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("p%d", i)
		team, err := instance.Engine.PlayerTeam(id)
		if err != nil {
			t.Fatalf("PlayerTeam(%s) error = %v", id, err)
		}
		if team == mafia.TeamMafia {
			mafiaID = id
		}
	}
	if mafiaID == "" {
		t.Fatal("未找到黑手党玩家")
	}

	tests := []struct {
		name      string
		clearance mafia.Clearance
		want      int
	}{
		{"公开许可", mafia.PublicClearance(), 7},
		{"黑手党许可", mafia.TeamClearance(mafia.TeamMafia, mafiaID), 9},
		{"管理员许可", mafia.AdminClearance(), 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient("g1", tt.clearance, 64)
			hub.registerClient(client)
			messages := drainMessages(t, client)
			if got := countByType(messages, MessageTypeEvent); got != tt.want {
				t.Errorf("事件数 = %d, 期望 %d", got, tt.want)
			}
			hub.unregisterClient(client)
		})
	}
}

func TestHub_NotifyPushesIncrement(t *testing.T) {
	hub, gm := newTestHub(t)
	instance := newReadyGame(t, gm, "g1")

	client := newTestClient("g1", mafia.PublicClearance(), 64)
	hub.registerClient(client)
	drainMessages(t, client)

	if err := instance.Engine.BeginNight(); err != nil {
		t.Fatalf("BeginNight() error = %v", err)
	}
	hub.pushGame("g1")

	messages := drainMessages(t, client)
	if got := countByType(messages, MessageTypeEvent); got != 1 {
		t.Fatalf("增量事件数 = %d, 期望 1", got)
	}

	// 没有新事件时通知不应重复推送
	hub.pushGame("g1")
	if messages := drainMessages(t, client); len(messages) != 0 {
		t.Errorf("重复推送 %d 条消息", len(messages))
	}
}

func TestHub_FullBufferStallsCursor(t *testing.T) {
	hub, gm := newTestHub(t)
	newReadyGame(t, gm, "g1")

	// 缓冲只装得下连接确认，补推一条都发不出去
	client := newTestClient("g1", mafia.PublicClearance(), 1)
	hub.registerClient(client)
	if client.lastSeq != 0 {
		t.Fatalf("缓冲满时游标 = %d, 期望停在 0", client.lastSeq)
	}

	// 逐条腾出缓冲，游标应随续推单调前进直到追平
	events := 0
	for i := 0; i < 32; i++ {
		messages := drainMessages(t, client)
		events += countByType(messages, MessageTypeEvent)
		prev := client.lastSeq
		hub.pushClient(client)
		if client.lastSeq < prev {
			t.Fatalf("游标回退: %d -> %d", prev, client.lastSeq)
		}
	}
	events += countByType(drainMessages(t, client), MessageTypeEvent)
	if events != 7 {
		t.Errorf("续推后事件总数 = %d, 期望 7", events)
	}
}

func TestHub_UnregisterRemovesSubscription(t *testing.T) {
	hub, gm := newTestHub(t)
	newReadyGame(t, gm, "g1")

	first := newTestClient("g1", mafia.PublicClearance(), 64)
	second := newTestClient("g1", mafia.AdminClearance(), 64)
	hub.registerClient(first)
	hub.registerClient(second)

	hub.unregisterClient(first)
	if hub.GetOnlineCount() != 1 {
		t.Errorf("在线数 = %d, 期望 1", hub.GetOnlineCount())
	}
	if hub.GetSubscriberCount("g1") != 1 {
		t.Errorf("订阅数 = %d, 期望 1", hub.GetSubscriberCount("g1"))
	}

	drainMessages(t, first)
	if _, ok := <-first.Send; ok {
		t.Error("注销后发送通道未关闭")
	}

	// 重复注销不应影响剩余客户端
	hub.unregisterClient(first)
	if hub.GetOnlineCount() != 1 {
		t.Errorf("重复注销后在线数 = %d, 期望 1", hub.GetOnlineCount())
	}
}

func TestHub_DropGameDisconnectsSubscribers(t *testing.T) {
	hub, gm := newTestHub(t)
	newReadyGame(t, gm, "g1")

	client := newTestClient("g1", mafia.PublicClearance(), 64)
	hub.registerClient(client)
	drainMessages(t, client)

	if err := gm.RemoveGame(context.Background(), "g1"); err != nil {
		t.Fatalf("RemoveGame() error = %v", err)
	}
	hub.pushGame("g1")

	messages := drainMessages(t, client)
	if countByType(messages, MessageTypeClosed) != 1 {
		t.Errorf("未收到关闭消息: %+v", messages)
	}
	if hub.GetOnlineCount() != 0 {
		t.Errorf("在线数 = %d, 期望 0", hub.GetOnlineCount())
	}
}

func TestHub_HeartbeatPingsAndCatchesUp(t *testing.T) {
	hub, gm := newTestHub(t)
	instance := newReadyGame(t, gm, "g1")

	client := newTestClient("g1", mafia.PublicClearance(), 64)
	hub.registerClient(client)
	drainMessages(t, client)

	// 模拟通知丢失：事件已产生但没有pushGame
	if err := instance.Engine.BeginNight(); err != nil {
		t.Fatalf("BeginNight() error = %v", err)
	}
	hub.heartbeat()

	messages := drainMessages(t, client)
	if countByType(messages, MessageTypePing) != 1 {
		t.Errorf("未收到心跳: %+v", messages)
	}
	if countByType(messages, MessageTypeEvent) != 1 {
		t.Errorf("心跳未补推积压事件: %+v", messages)
	}
}

func TestHub_NotifyNeverBlocks(t *testing.T) {
	hub, _ := newTestHub(t)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Notify("g1")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify阻塞了调用方")
	}
}

func TestHub_RunLifecycle(t *testing.T) {
	hub, gm := newTestHub(t)
	newReadyGame(t, gm, "g1")

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := newTestClient("g1", mafia.PublicClearance(), 64)
	hub.Register(client)
	waitFor(t, func() bool { return hub.GetOnlineCount() == 1 })

	var received []Message
	waitFor(t, func() bool {
		received = append(received, drainMessages(t, client)...)
		return countByType(received, MessageTypeConnected) == 1 &&
			countByType(received, MessageTypeEvent) == 7
	})

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("推送循环未停止")
	}
	if hub.GetOnlineCount() != 0 {
		t.Errorf("停止后在线数 = %d, 期望 0", hub.GetOnlineCount())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}
