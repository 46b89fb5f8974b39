package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/wfunc/mafia-game/internal/game/mafia"
)

// ErrScriptExhausted 行动者的脚本决策已经用完
var ErrScriptExhausted = errors.New("脚本决策已耗尽")

// ScriptedProvider 按预设脚本回放决策的测试替身
// 每个行动者维护独立的决策队列，按入队顺序逐个弹出。
type ScriptedProvider struct {
	mu     sync.Mutex
	nights map[string][]mafia.Decision
	votes  map[string][]string
}

// NewScriptedProvider 创建脚本决策方
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{
		nights: make(map[string][]mafia.Decision),
		votes:  make(map[string][]string),
	}
}

// QueueNight 为行动者追加一个夜晚决策
func (sp *ScriptedProvider) QueueNight(actor string, d mafia.Decision) *ScriptedProvider {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.nights[actor] = append(sp.nights[actor], d)
	return sp
}

// QueueVote 为投票者追加一张放逐投票
func (sp *ScriptedProvider) QueueVote(voter, target string) *ScriptedProvider {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.votes[voter] = append(sp.votes[voter], target)
	return sp
}

// DecideNight 弹出行动者的下一个夜晚决策
func (sp *ScriptedProvider) DecideNight(ctx context.Context, p Perception) (mafia.Decision, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	queue := sp.nights[p.Actor]
	if len(queue) == 0 {
		return mafia.Decision{}, ErrScriptExhausted
	}
	d := queue[0]
	sp.nights[p.Actor] = queue[1:]
	return d, nil
}

// DecideVote 弹出投票者的下一张投票
func (sp *ScriptedProvider) DecideVote(ctx context.Context, p Perception) (string, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	queue := sp.votes[p.Actor]
	if len(queue) == 0 {
		return "", ErrScriptExhausted
	}
	target := queue[0]
	sp.votes[p.Actor] = queue[1:]
	return target, nil
}

// Remaining 返回尚未消费的决策总数
func (sp *ScriptedProvider) Remaining() int {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	total := 0
	for _, q := range sp.nights {
		total += len(q)
	}
	for _, q := range sp.votes {
		total += len(q)
	}
	return total
}
