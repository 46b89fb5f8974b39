package mafia

import "sort"

// SubstituteReason 目标替换原因
type SubstituteReason string

const (
	// SubstituteMissing 截止时未提交，按默认规则补齐
	SubstituteMissing SubstituteReason = "missing"
	// SubstituteIllegalTarget 目标不存在、已死亡或违反规则，随机替换为合法目标
	SubstituteIllegalTarget SubstituteReason = "illegal_target"
	// SubstituteRepeatTarget 连续两次保护同一目标
	SubstituteRepeatTarget SubstituteReason = "repeat_target"
	// SubstituteSelfTarget 查验自己被静默转向其他存活玩家
	SubstituteSelfTarget SubstituteReason = "self_target"
)

// Substitution 目标替换记录（仅管理员可见，行动者只看到合法结果）
type Substitution struct {
	Actor    string           `json:"actor"`
	Action   ActionKind       `json:"action"`
	Original string           `json:"original"`
	Final    string           `json:"final"`
	Reason   SubstituteReason `json:"reason"`
}

// ConflictAdjustment 双面角色的结果调整记录
type ConflictAdjustment struct {
	Actor      string     `json:"actor"`
	Action     ActionKind `json:"action"`
	Adjustment Adjustment `json:"adjustment"`
	Target     string     `json:"target"`
}

// Protection 保护结算记录
type Protection struct {
	Actor    string `json:"actor"`
	Target   string `json:"target"`
	Attacked bool   `json:"attacked"` // 目标是否为本夜共识击杀目标
	Saved    bool   `json:"saved"`    // 保护是否实际挡下击杀
	Dropped  bool   `json:"dropped"`  // 双面医生的保护被静默放弃
}

// Shot 开枪结算记录
type Shot struct {
	Actor      string `json:"actor"`
	Target     string `json:"target"`
	Suppressed bool   `json:"suppressed"` // 双面义警的开枪被静默压下，弹药保留
}

// Investigation 查验结算记录
type Investigation struct {
	Actor     string     `json:"actor"`
	Target    string     `json:"target"`
	Reported  []RoleKind `json:"reported"` // 报告给警长的角色
	Actual    []RoleKind `json:"actual"`   // 目标的真实角色
	Falsified bool       `json:"falsified"`
	Disclosed bool       `json:"disclosed"` // 真实结果是否同步给黑手党团队
}

// DeathCause 死亡原因
type DeathCause string

const (
	CauseMafiaKill     DeathCause = "mafia_kill"     // 黑手党共识击杀
	CauseVigilanteShot DeathCause = "vigilante_shot" // 义警开枪
)

// Death 死亡记录（同一夜可能同时命中两种原因）
type Death struct {
	PlayerID string       `json:"player_id"`
	Causes   []DeathCause `json:"causes"`
}

// NightOutcome 夜晚结算结果
type NightOutcome struct {
	Night           int                  `json:"night"`
	Nominations     []NightAction        `json:"nominations"`      // 生效的击杀提名
	Tally           map[string]int       `json:"tally"`            // 提名计票
	ConsensusTarget string               `json:"consensus_target"` // 共识击杀目标（空串=无）
	KillBlocked     bool                 `json:"kill_blocked"`     // 共识击杀是否被保护抵消
	Protections     []Protection         `json:"protections"`
	Shots           []Shot               `json:"shots"`
	Investigations  []Investigation      `json:"investigations"`
	Deaths          []Death              `json:"deaths"`
	Substitutions   []Substitution       `json:"substitutions"`
	Adjustments     []ConflictAdjustment `json:"adjustments"`
}

// DeadIDs 返回本夜死亡玩家ID列表
func (o *NightOutcome) DeadIDs() []string {
	ids := make([]string, 0, len(o.Deaths))
	for _, d := range o.Deaths {
		ids = append(ids, d.PlayerID)
	}
	return ids
}

// resolveNight 结算一个完整的夜晚
// 固定优先级：共识击杀聚合、开枪、保护、查验、提交死亡。
// 所有随机替换按行动者ID排序后依次抽取，保证结算结果
// 与提交到达顺序无关；唯一的例外是共识平票按先提交者裁决。
func resolveNight(st *GameState, cfg Config, reg *Registry, conflict *ConflictResolver, rng *Rand, col *Collector) *NightOutcome {
	night := st.Day
	out := &NightOutcome{Night: night, Tally: make(map[string]int)}

	final := make(map[string]NightAction)
	for _, a := range col.Actions() {
		final[a.Actor] = a
	}

	// 个人槽位缺席者按默认规则补齐
	for _, id := range col.MissingRequired() {
		p := st.FindPlayer(id)
		if p == nil || !p.Alive {
			continue
		}
		ability, ok := individualNightAbility(reg, st, p)
		if !ok {
			continue
		}
		target := ""
		switch ability.Action {
		case ActionProtect:
			target = rng.Pick(protectCandidates(st, cfg, id, night))
		case ActionInvestigate:
			target = rng.Pick(investigateCandidates(st, cfg, id))
		case ActionShoot:
			// 一次性技能永不代打，缺席视为收枪
			target = ""
		}
		final[id] = NightAction{Actor: id, Kind: ability.Action, Target: target, Night: night}
		out.Substitutions = append(out.Substitutions, Substitution{
			Actor: id, Action: ability.Action, Original: "", Final: target, Reason: SubstituteMissing,
		})
	}

	// 团队槽位没有击杀提名时合成一次随机提名
	// 不写入final，避免覆盖双面玩家已提交的个人行动。
	var synthetic *NightAction
	if !col.TeamSatisfied() && len(col.TeamMembers()) > 0 {
		nominator := firstLivingByID(st, col.TeamMembers())
		target := rng.Pick(killCandidates(st))
		if nominator != "" && target != "" {
			synthetic = &NightAction{Actor: nominator, Kind: ActionKill, Target: target, Night: night}
			out.Substitutions = append(out.Substitutions, Substitution{
				Actor: nominator, Action: ActionKill, Original: "", Final: target, Reason: SubstituteMissing,
			})
		}
	}

	// 目标合法性校验与替换
	for _, id := range sortedActorIDs(final) {
		a := final[id]
		p := st.FindPlayer(a.Actor)
		if p == nil || !p.Alive {
			delete(final, id)
			continue
		}
		switch a.Kind {
		case ActionKill:
			candidates := killCandidates(st)
			if !contains(candidates, a.Target) {
				sub := rng.Pick(candidates)
				out.Substitutions = append(out.Substitutions, Substitution{
					Actor: id, Action: ActionKill, Original: a.Target, Final: sub, Reason: SubstituteIllegalTarget,
				})
				a.Target = sub
			}
		case ActionProtect:
			if a.Target == "" {
				break // 明确弃权
			}
			candidates := protectCandidates(st, cfg, id, night)
			if contains(candidates, a.Target) {
				break
			}
			reason := SubstituteIllegalTarget
			if a.Target == st.LastProtected[id] {
				reason = SubstituteRepeatTarget
			}
			sub := rng.Pick(candidates)
			out.Substitutions = append(out.Substitutions, Substitution{
				Actor: id, Action: ActionProtect, Original: a.Target, Final: sub, Reason: reason,
			})
			a.Target = sub
		case ActionInvestigate:
			if a.Target == "" {
				break
			}
			candidates := investigateCandidates(st, cfg, id)
			if contains(candidates, a.Target) {
				break
			}
			reason := SubstituteIllegalTarget
			if a.Target == id {
				reason = SubstituteSelfTarget
			}
			sub := rng.Pick(candidates)
			out.Substitutions = append(out.Substitutions, Substitution{
				Actor: id, Action: ActionInvestigate, Original: a.Target, Final: sub, Reason: reason,
			})
			a.Target = sub
		case ActionShoot:
			if a.Target == "" {
				break // 收枪，弹药保留
			}
			if st.UsedShots[id] {
				out.Substitutions = append(out.Substitutions, Substitution{
					Actor: id, Action: ActionShoot, Original: a.Target, Final: "", Reason: SubstituteIllegalTarget,
				})
				a.Target = ""
				break
			}
			candidates := otherLiving(st, id)
			if !contains(candidates, a.Target) {
				sub := rng.Pick(candidates)
				out.Substitutions = append(out.Substitutions, Substitution{
					Actor: id, Action: ActionShoot, Original: a.Target, Final: sub, Reason: SubstituteIllegalTarget,
				})
				a.Target = sub
			}
		}
		final[id] = a
	}

	// 第一步：聚合击杀提名为单一共识目标
	firstSeq := make(map[string]int)
	if synthetic != nil {
		out.Nominations = append(out.Nominations, *synthetic)
		out.Tally[synthetic.Target]++
		firstSeq[synthetic.Target] = 0
	}
	for _, id := range sortedActorIDs(final) {
		a := final[id]
		if a.Kind != ActionKill || a.Target == "" {
			continue
		}
		out.Nominations = append(out.Nominations, a)
		out.Tally[a.Target]++
		if s, ok := firstSeq[a.Target]; !ok || a.Seq < s {
			firstSeq[a.Target] = a.Seq
		}
	}
	sort.Slice(out.Nominations, func(i, j int) bool { return out.Nominations[i].Seq < out.Nominations[j].Seq })
	for target, n := range out.Tally {
		if out.ConsensusTarget == "" {
			out.ConsensusTarget = target
			continue
		}
		best := out.Tally[out.ConsensusTarget]
		if n > best || (n == best && firstSeq[target] < firstSeq[out.ConsensusTarget]) {
			out.ConsensusTarget = target
		}
	}

	// 第二步：开枪独立结算，不受保护影响
	for _, id := range sortedActorIDs(final) {
		a := final[id]
		if a.Kind != ActionShoot || a.Target == "" {
			continue
		}
		p := st.FindPlayer(id)
		if conflict.Sabotaged(p, ActionShoot, night) {
			out.Shots = append(out.Shots, Shot{Actor: id, Target: a.Target, Suppressed: true})
			out.Adjustments = append(out.Adjustments, ConflictAdjustment{
				Actor: id, Action: ActionShoot, Adjustment: AdjustSuppressShot, Target: a.Target,
			})
			continue
		}
		st.UsedShots[id] = true
		out.Shots = append(out.Shots, Shot{Actor: id, Target: a.Target})
	}

	// 第三步：保护与共识击杀匹配
	for _, id := range sortedActorIDs(final) {
		a := final[id]
		if a.Kind != ActionProtect || a.Target == "" {
			continue
		}
		p := st.FindPlayer(id)
		dropped := conflict.Sabotaged(p, ActionProtect, night)
		attacked := out.ConsensusTarget != "" && a.Target == out.ConsensusTarget
		saved := attacked && !dropped
		if saved {
			out.KillBlocked = true
		}
		if dropped {
			out.Adjustments = append(out.Adjustments, ConflictAdjustment{
				Actor: id, Action: ActionProtect, Adjustment: AdjustDropProtect, Target: a.Target,
			})
		}
		out.Protections = append(out.Protections, Protection{
			Actor: id, Target: a.Target, Attacked: attacked, Saved: saved, Dropped: dropped,
		})
		// 指针只在实际使用技能的夜晚更新
		st.LastProtected[id] = a.Target
	}

	// 第四步：查验永远成功，返回目标的真实角色
	for _, id := range sortedActorIDs(final) {
		a := final[id]
		if a.Kind != ActionInvestigate || a.Target == "" {
			continue
		}
		p := st.FindPlayer(id)
		target := st.FindPlayer(a.Target)
		if target == nil {
			continue
		}
		actual := make([]RoleKind, len(target.Roles))
		copy(actual, target.Roles)
		falsified := conflict.Sabotaged(p, ActionInvestigate, night)
		reported := actual
		if falsified {
			reported = []RoleKind{RoleVillager}
			out.Adjustments = append(out.Adjustments, ConflictAdjustment{
				Actor: id, Action: ActionInvestigate, Adjustment: AdjustFalsifyReport, Target: a.Target,
			})
		}
		out.Investigations = append(out.Investigations, Investigation{
			Actor:     id,
			Target:    a.Target,
			Reported:  reported,
			Actual:    actual,
			Falsified: falsified,
			Disclosed: reg.IsConflicted(p),
		})
	}

	// 第五步：提交死亡（击杀与开枪是相互独立的死因）
	causes := make(map[string][]DeathCause)
	if out.ConsensusTarget != "" && !out.KillBlocked {
		causes[out.ConsensusTarget] = append(causes[out.ConsensusTarget], CauseMafiaKill)
	}
	for _, s := range out.Shots {
		if !s.Suppressed {
			causes[s.Target] = append(causes[s.Target], CauseVigilanteShot)
		}
	}
	deadIDs := make([]string, 0, len(causes))
	for id := range causes {
		deadIDs = append(deadIDs, id)
	}
	sort.Strings(deadIDs)
	for _, id := range deadIDs {
		p := st.FindPlayer(id)
		if p == nil || !p.Alive {
			continue
		}
		p.Alive = false
		p.DeathDay = night
		out.Deaths = append(out.Deaths, Death{PlayerID: id, Causes: causes[id]})
	}

	return out
}

// individualNightAbility 返回玩家的个人夜晚技能（排除团队行动与已消耗的一次性技能）
func individualNightAbility(reg *Registry, st *GameState, p *Player) (Ability, bool) {
	for _, a := range reg.AbilitiesOf(p) {
		if a.TeamAction {
			continue
		}
		if a.Cadence == CadenceOnce && st.UsedShots[p.ID] {
			continue
		}
		return a, true
	}
	return Ability{}, false
}

// killCandidates 共识击杀的合法目标：存活且不属于黑手党阵营
func killCandidates(st *GameState) []string {
	var out []string
	for _, p := range st.Players {
		if p.Alive && p.Team() != TeamMafia {
			out = append(out, p.ID)
		}
	}
	return out
}

// protectCandidates 保护的合法目标
// 排除上一次保护的目标；自我保护仅首夜允许，除非配置放开。
func protectCandidates(st *GameState, cfg Config, actor string, night int) []string {
	last := st.LastProtected[actor]
	var out []string
	for _, p := range st.Players {
		if !p.Alive {
			continue
		}
		if p.ID == last {
			continue
		}
		if p.ID == actor && night > 1 && !cfg.AllowSelfProtectAlways {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}

// investigateCandidates 查验的合法目标
func investigateCandidates(st *GameState, cfg Config, actor string) []string {
	var out []string
	for _, p := range st.Players {
		if !p.Alive {
			continue
		}
		if p.ID == actor && !cfg.AllowSelfInvestigate {
			continue
		}
		out = append(out, p.ID)
	}
	return out
}

// otherLiving 除行动者外的存活玩家
func otherLiving(st *GameState, actor string) []string {
	var out []string
	for _, p := range st.Players {
		if p.Alive && p.ID != actor {
			out = append(out, p.ID)
		}
	}
	return out
}

// firstLivingByID 返回候选中ID最小的存活玩家
func firstLivingByID(st *GameState, candidates []string) string {
	ids := make([]string, len(candidates))
	copy(ids, candidates)
	sort.Strings(ids)
	for _, id := range ids {
		p := st.FindPlayer(id)
		if p != nil && p.Alive {
			return id
		}
	}
	return ""
}

// sortedActorIDs 行动者ID升序（随机替换按此顺序抽取，与到达顺序无关）
func sortedActorIDs(m map[string]NightAction) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// contains 判断切片是否包含指定元素
func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
