package mafia

import "testing"

// buildVotingState 构造白天投票阶段的状态
func buildVotingState(layout map[string][]RoleKind) (*GameState, *Collector) {
	st := buildState(layout)
	st.Phase = PhaseDayVoting
	col := NewCollector(PhaseDayVoting, st.Day, st.AliveIDs(), nil)
	return st, col
}

func TestResolveDay_Elimination(t *testing.T) {
	st, col := buildVotingState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
		"v3": {RoleVillager},
	})

	col.PutVote(Vote{Voter: "v1", Target: "m1"})
	col.PutVote(Vote{Voter: "v2", Target: "m1"})
	col.PutVote(Vote{Voter: "v3", Target: "v1"})
	col.PutVote(Vote{Voter: "m1", Target: "v1"})

	out := resolveDay(st, col)

	if out.Verdict != VerdictTie {
		t.Fatalf("Verdict = %v, want tie (2:2)", out.Verdict)
	}

	// 改票打破平局，同一人以最后一票为准
	col.PutVote(Vote{Voter: "v3", Target: "m1"})
	st2, _ := buildVotingState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
		"v3": {RoleVillager},
	})
	out = resolveDay(st2, col)

	if out.Verdict != VerdictElimination {
		t.Fatalf("Verdict = %v, want elimination", out.Verdict)
	}
	if out.Eliminated != "m1" {
		t.Errorf("Eliminated = %v, want m1", out.Eliminated)
	}
	if out.Tally["m1"] != 3 || out.Tally["v1"] != 1 {
		t.Errorf("Tally = %v, want m1:3 v1:1", out.Tally)
	}
	p := st2.FindPlayer("m1")
	if p.Alive {
		t.Error("eliminated player should be dead")
	}
	if p.DeathDay != st2.Day {
		t.Errorf("DeathDay = %v, want %v", p.DeathDay, st2.Day)
	}
}

func TestResolveDay_LoneVoteNoMajority(t *testing.T) {
	st, col := buildVotingState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	})

	col.PutVote(Vote{Voter: "v1", Target: "m1"})
	col.PutVote(Vote{Voter: "v2", Target: ""})
	col.PutVote(Vote{Voter: "m1", Target: ""})

	out := resolveDay(st, col)

	if out.Verdict != VerdictNoMajority {
		t.Errorf("Verdict = %v, want no_majority (single vote)", out.Verdict)
	}
	if out.Eliminated != "" {
		t.Errorf("Eliminated = %v, want none", out.Eliminated)
	}
	if !st.FindPlayer("m1").Alive {
		t.Error("lone vote must not eliminate")
	}
	if len(out.Abstentions) != 2 {
		t.Errorf("Abstentions = %v, want m1 and v2", out.Abstentions)
	}
}

func TestResolveDay_TieKeepsEveryoneAlive(t *testing.T) {
	st, col := buildVotingState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"m2": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
		"v3": {RoleVillager},
		"v4": {RoleVillager},
	})

	// 3比3僵持
	col.PutVote(Vote{Voter: "v1", Target: "m1"})
	col.PutVote(Vote{Voter: "v2", Target: "m1"})
	col.PutVote(Vote{Voter: "v3", Target: "m1"})
	col.PutVote(Vote{Voter: "m1", Target: "v1"})
	col.PutVote(Vote{Voter: "m2", Target: "v1"})
	col.PutVote(Vote{Voter: "v4", Target: "v1"})

	out := resolveDay(st, col)

	if out.Verdict != VerdictTie {
		t.Fatalf("Verdict = %v, want tie", out.Verdict)
	}
	if len(out.Leaders) != 2 || out.Leaders[0] != "m1" || out.Leaders[1] != "v1" {
		t.Errorf("Leaders = %v, want [m1 v1]", out.Leaders)
	}
	for _, p := range st.Players {
		if !p.Alive {
			t.Errorf("player %v died on a tie", p.ID)
		}
	}
}

func TestResolveDay_NoVotes(t *testing.T) {
	st, col := buildVotingState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	})

	out := resolveDay(st, col)

	if out.Verdict != VerdictNoVotes {
		t.Errorf("Verdict = %v, want no_votes", out.Verdict)
	}
	if len(out.Substitutions) != 3 {
		t.Errorf("Substitutions = %v, want one missing record per voter", out.Substitutions)
	}
	if len(out.Abstentions) != 3 {
		t.Errorf("Abstentions = %v, want all three", out.Abstentions)
	}
	if len(out.Tally) != 0 {
		t.Errorf("Tally = %v, want empty", out.Tally)
	}
}

func TestResolveDay_DeadTargetCountsAsAbstention(t *testing.T) {
	st, col := buildVotingState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
		"v3": {RoleVillager},
	})
	st.FindPlayer("v3").Alive = false
	col = NewCollector(PhaseDayVoting, st.Day, st.AliveIDs(), nil)

	col.PutVote(Vote{Voter: "v1", Target: "v3"}) // 死者
	col.PutVote(Vote{Voter: "v2", Target: "m1"})
	col.PutVote(Vote{Voter: "m1", Target: "ghost"}) // 不存在

	out := resolveDay(st, col)

	if out.Tally["v3"] != 0 || out.Tally["ghost"] != 0 {
		t.Errorf("Tally = %v, illegal targets must not count", out.Tally)
	}
	if len(out.Abstentions) != 2 {
		t.Errorf("Abstentions = %v, want v1 and m1", out.Abstentions)
	}
	illegal := 0
	for _, s := range out.Substitutions {
		if s.Reason == SubstituteIllegalTarget {
			illegal++
		}
	}
	if illegal != 2 {
		t.Errorf("illegal_target substitutions = %v, want 2", illegal)
	}
	if out.Verdict != VerdictNoMajority {
		t.Errorf("Verdict = %v, want no_majority (only one valid vote)", out.Verdict)
	}
}

func TestResolveDay_MissingVoterAbstains(t *testing.T) {
	st, col := buildVotingState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
		"v3": {RoleVillager},
	})

	col.PutVote(Vote{Voter: "v1", Target: "m1"})
	col.PutVote(Vote{Voter: "v2", Target: "m1"})
	// m1 与 v3 超时未投

	out := resolveDay(st, col)

	if out.Verdict != VerdictElimination {
		t.Fatalf("Verdict = %v, want elimination", out.Verdict)
	}
	if out.Eliminated != "m1" {
		t.Errorf("Eliminated = %v, want m1", out.Eliminated)
	}
	missing := 0
	for _, s := range out.Substitutions {
		if s.Reason == SubstituteMissing {
			missing++
		}
	}
	if missing != 2 {
		t.Errorf("missing substitutions = %v, want 2", missing)
	}
}
