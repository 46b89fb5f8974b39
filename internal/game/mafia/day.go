package mafia

import "sort"

// DayVerdict 白天投票的结局类别
type DayVerdict string

const (
	// VerdictElimination 唯一最高票且至少两票，目标被放逐
	VerdictElimination DayVerdict = "elimination"
	// VerdictNoMajority 唯一最高票但只有一票，不足以放逐
	VerdictNoMajority DayVerdict = "no_majority"
	// VerdictTie 最高票并列，无人出局
	VerdictTie DayVerdict = "tie"
	// VerdictNoVotes 无人投出有效票
	VerdictNoVotes DayVerdict = "no_votes"
)

// DayOutcome 白天结算结果
type DayOutcome struct {
	Day           int            `json:"day"`
	Votes         []Vote         `json:"votes"`       // 生效投票（含弃权），按生效序号排序
	Tally         map[string]int `json:"tally"`       // 计票（弃权不计）
	Verdict       DayVerdict     `json:"verdict"`     // 结局类别
	Eliminated    string         `json:"eliminated"`  // 被放逐玩家ID（无放逐时为空）
	MaxCount      int            `json:"max_count"`   // 最高票数
	Leaders       []string       `json:"leaders"`     // 最高票目标，按ID排序
	Abstentions   []string       `json:"abstentions"` // 弃权者，按ID排序
	Substitutions []Substitution `json:"substitutions"`
}

// resolveDay 结算一个白天的投票
// 同一投票者以最后一票为准（收集器已保证），弃权不计票。
// 唯一最高票且票数不少于两票才放逐；孤票、平票、零票都不放逐，
// 且各自产生可区分的公开事件。
func resolveDay(st *GameState, col *Collector) *DayOutcome {
	out := &DayOutcome{Day: st.Day, Tally: make(map[string]int)}

	final := make(map[string]Vote)
	for _, v := range col.Votes() {
		final[v.Voter] = v
	}

	// 缺席的投票者按弃权处理
	for _, id := range col.MissingRequired() {
		p := st.FindPlayer(id)
		if p == nil || !p.Alive {
			continue
		}
		final[id] = Vote{Voter: id, Target: "", Day: st.Day}
		out.Substitutions = append(out.Substitutions, Substitution{
			Actor: id, Original: "", Final: "", Reason: SubstituteMissing,
		})
	}

	for _, id := range sortedVoterIDs(final) {
		v := final[id]
		p := st.FindPlayer(v.Voter)
		if p == nil || !p.Alive {
			continue
		}
		if v.Target != "" {
			target := st.FindPlayer(v.Target)
			if target == nil || !target.Alive {
				// 非法目标视为弃权，只在管理员流水中留痕
				out.Substitutions = append(out.Substitutions, Substitution{
					Actor: id, Original: v.Target, Final: "", Reason: SubstituteIllegalTarget,
				})
				v.Target = ""
				final[id] = v
			}
		}
		out.Votes = append(out.Votes, v)
		if v.Target == "" {
			out.Abstentions = append(out.Abstentions, id)
			continue
		}
		out.Tally[v.Target]++
	}
	sort.Slice(out.Votes, func(i, j int) bool { return out.Votes[i].Seq < out.Votes[j].Seq })
	sort.Strings(out.Abstentions)

	for target, n := range out.Tally {
		if n > out.MaxCount {
			out.MaxCount = n
			out.Leaders = []string{target}
		} else if n == out.MaxCount {
			out.Leaders = append(out.Leaders, target)
		}
	}
	sort.Strings(out.Leaders)

	switch {
	case len(out.Tally) == 0:
		out.Verdict = VerdictNoVotes
	case len(out.Leaders) > 1:
		out.Verdict = VerdictTie
	case out.MaxCount < 2:
		out.Verdict = VerdictNoMajority
	default:
		out.Verdict = VerdictElimination
		out.Eliminated = out.Leaders[0]
		p := st.FindPlayer(out.Eliminated)
		p.Alive = false
		p.DeathDay = st.Day
	}

	return out
}

// sortedVoterIDs 投票者ID升序
func sortedVoterIDs(m map[string]Vote) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
