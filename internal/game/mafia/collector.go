package mafia

import (
	"sort"
	"time"
)

// Collector 单阶段的决策收集器
// 先收集后结算：同一行动者重复提交时只保留最后一次，
// 结算结果与提交到达顺序无关。
//
// 完整性规则：个人槽位要求每个行动者各自表态；
// 团队槽位（黑手党击杀）只要求任意一名成员表态，
// 其余成员的提名是可选的补充。
type Collector struct {
	phase    Phase
	day      int
	required map[string]bool
	team     map[string]bool
	actions  map[string]NightAction
	votes    map[string]Vote
	nextSeq  int
}

// NewCollector 创建指定阶段的收集器
// required为必须各自表态的行动者，team为共享一个团队槽位的行动者。
func NewCollector(phase Phase, day int, required []string, team []string) *Collector {
	req := make(map[string]bool, len(required))
	for _, id := range required {
		req[id] = true
	}
	tm := make(map[string]bool, len(team))
	for _, id := range team {
		tm[id] = true
	}
	return &Collector{
		phase:    phase,
		day:      day,
		required: req,
		team:     tm,
		actions:  make(map[string]NightAction),
		votes:    make(map[string]Vote),
		nextSeq:  1,
	}
}

// Phase 返回收集器绑定的阶段
func (c *Collector) Phase() Phase {
	return c.phase
}

// IsExpected 判断行动者是否属于本阶段
func (c *Collector) IsExpected(actor string) bool {
	return c.required[actor] || c.team[actor]
}

// PutAction 记录夜晚行动，后提交覆盖先提交
func (c *Collector) PutAction(a NightAction) NightAction {
	a.Night = c.day
	a.Seq = c.nextSeq
	c.nextSeq++
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now()
	}
	c.actions[a.Actor] = a
	return a
}

// PutVote 记录白天投票，后提交覆盖先提交
func (c *Collector) PutVote(v Vote) Vote {
	v.Day = c.day
	v.Seq = c.nextSeq
	c.nextSeq++
	if v.SubmittedAt.IsZero() {
		v.SubmittedAt = time.Now()
	}
	c.votes[v.Voter] = v
	return v
}

// Action 返回行动者当前生效的夜晚行动
func (c *Collector) Action(actor string) (NightAction, bool) {
	a, ok := c.actions[actor]
	return a, ok
}

// Actions 返回全部生效行动，按生效序号排序
func (c *Collector) Actions() []NightAction {
	out := make([]NightAction, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Votes 返回全部生效投票，按生效序号排序
func (c *Collector) Votes() []Vote {
	out := make([]Vote, 0, len(c.votes))
	for _, v := range c.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Submitted 返回已表态的行动者数量
func (c *Collector) Submitted() int {
	return len(c.actions) + len(c.votes)
}

// TeamSatisfied 判断团队槽位是否已有成员提交击杀提名
// 不存在团队槽位时视为已满足。双面玩家把唯一行动用在
// 个人技能上时不计入团队槽位。
func (c *Collector) TeamSatisfied() bool {
	if len(c.team) == 0 {
		return true
	}
	for id := range c.team {
		if a, ok := c.actions[id]; ok && a.Kind == ActionKill {
			return true
		}
	}
	return false
}

// Complete 判断本阶段的完整性条件是否满足
// 团队槽位无击杀提名、但全体成员都已表态时同样视为完整，
// 把唯一行动用在个人技能上的双面玩家不会卡死整个阶段。
func (c *Collector) Complete() bool {
	for id := range c.required {
		if _, ok := c.actions[id]; ok {
			continue
		}
		if _, ok := c.votes[id]; ok {
			continue
		}
		return false
	}
	if !c.TeamSatisfied() {
		for id := range c.team {
			if _, ok := c.actions[id]; !ok {
				return false
			}
		}
	}
	return true
}

// Missing 返回尚未表态的行动者，按ID排序
func (c *Collector) Missing() []string {
	var out []string
	for id := range c.required {
		if _, ok := c.actions[id]; ok {
			continue
		}
		if _, ok := c.votes[id]; ok {
			continue
		}
		out = append(out, id)
	}
	if !c.TeamSatisfied() {
		for id := range c.team {
			if _, ok := c.actions[id]; ok {
				continue
			}
			if c.required[id] {
				continue
			}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// MissingRequired 返回尚未表态的个人槽位行动者，按ID排序
func (c *Collector) MissingRequired() []string {
	var out []string
	for id := range c.required {
		if _, ok := c.actions[id]; ok {
			continue
		}
		if _, ok := c.votes[id]; ok {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TeamMembers 返回团队槽位成员，按ID排序
func (c *Collector) TeamMembers() []string {
	out := make([]string, 0, len(c.team))
	for id := range c.team {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// restorePending 从快照恢复未结算的提交，保留原始序号
func (c *Collector) restorePending(actions []NightAction, votes []Vote, nextSeq int) {
	for _, a := range actions {
		c.actions[a.Actor] = a
	}
	for _, v := range votes {
		c.votes[v.Voter] = v
	}
	if nextSeq > c.nextSeq {
		c.nextSeq = nextSeq
	}
}
