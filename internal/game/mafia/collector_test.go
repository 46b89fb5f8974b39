package mafia

import "testing"

func TestCollector_LastWriteWins(t *testing.T) {
	col := NewCollector(PhaseNight, 1, []string{"d1"}, []string{"m1"})

	first := col.PutAction(NightAction{Actor: "d1", Kind: ActionProtect, Target: "v1"})
	second := col.PutAction(NightAction{Actor: "d1", Kind: ActionProtect, Target: "v2"})

	if second.Seq <= first.Seq {
		t.Errorf("Seq = %v then %v, want strictly increasing", first.Seq, second.Seq)
	}
	got, ok := col.Action("d1")
	if !ok || got.Target != "v2" {
		t.Errorf("Action(d1) = %+v, want the later target v2", got)
	}
	if len(col.Actions()) != 1 {
		t.Errorf("Actions() = %v entries, want 1 effective action", len(col.Actions()))
	}
}

func TestCollector_Completeness(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		team     []string
		submit   []NightAction
		complete bool
		missing  []string
	}{
		{
			name:     "空阶段直接完整",
			complete: true,
		},
		{
			name:     "个人槽位缺人",
			required: []string{"d1", "s1"},
			team:     []string{"m1"},
			submit: []NightAction{
				{Actor: "d1", Kind: ActionProtect, Target: "v1"},
				{Actor: "m1", Kind: ActionKill, Target: "v1"},
			},
			complete: false,
			missing:  []string{"s1"},
		},
		{
			name:     "团队一人提名即满足",
			required: nil,
			team:     []string{"m1", "m2", "m3"},
			submit: []NightAction{
				{Actor: "m2", Kind: ActionKill, Target: "v1"},
			},
			complete: true,
		},
		{
			name:     "团队无人表态",
			required: nil,
			team:     []string{"m1", "m2"},
			complete: false,
			missing:  []string{"m1", "m2"},
		},
		{
			name:     "双面玩家用掉唯一行动后不卡死",
			required: []string{"x1"},
			team:     []string{"x1"},
			submit: []NightAction{
				{Actor: "x1", Kind: ActionProtect, Target: "v1"},
			},
			complete: true,
		},
		{
			name:     "个人行动不顶替团队槽位",
			required: []string{"x1"},
			team:     []string{"x1", "m2"},
			submit: []NightAction{
				{Actor: "x1", Kind: ActionProtect, Target: "v1"},
			},
			complete: false,
			missing:  []string{"m2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := NewCollector(PhaseNight, 1, tt.required, tt.team)
			for _, a := range tt.submit {
				col.PutAction(a)
			}
			if got := col.Complete(); got != tt.complete {
				t.Errorf("Complete() = %v, want %v", got, tt.complete)
			}
			got := col.Missing()
			if len(got) != len(tt.missing) {
				t.Fatalf("Missing() = %v, want %v", got, tt.missing)
			}
			for i := range got {
				if got[i] != tt.missing[i] {
					t.Errorf("Missing() = %v, want %v", got, tt.missing)
				}
			}
		})
	}
}

func TestCollector_VoteOverride(t *testing.T) {
	col := NewCollector(PhaseDayVoting, 2, []string{"p1", "p2"}, nil)

	col.PutVote(Vote{Voter: "p1", Target: "p2"})
	col.PutVote(Vote{Voter: "p1", Target: ""})
	col.PutVote(Vote{Voter: "p2", Target: "p1"})

	votes := col.Votes()
	if len(votes) != 2 {
		t.Fatalf("Votes() = %v entries, want 2", len(votes))
	}
	for _, v := range votes {
		if v.Voter == "p1" && v.Target != "" {
			t.Errorf("p1 final vote = %v, want abstention", v.Target)
		}
		if v.Day != 2 {
			t.Errorf("Day = %v, want collector day 2", v.Day)
		}
	}
	if !col.Complete() {
		t.Error("all voters acted, phase should be complete")
	}
}

func TestCollector_ActionsSortedBySeq(t *testing.T) {
	col := NewCollector(PhaseNight, 1, nil, nil)
	col.PutAction(NightAction{Actor: "c", Kind: ActionProtect, Target: "a"})
	col.PutAction(NightAction{Actor: "a", Kind: ActionProtect, Target: "b"})
	col.PutAction(NightAction{Actor: "b", Kind: ActionProtect, Target: "c"})

	actions := col.Actions()
	for i := 1; i < len(actions); i++ {
		if actions[i].Seq <= actions[i-1].Seq {
			t.Fatalf("Actions() not sorted by seq: %+v", actions)
		}
	}
	if actions[0].Actor != "c" {
		t.Errorf("first action = %v, want the earliest submitter c", actions[0].Actor)
	}
}

func TestCollector_RestorePending(t *testing.T) {
	col := NewCollector(PhaseNight, 1, []string{"d1", "s1"}, []string{"m1"})
	a1 := col.PutAction(NightAction{Actor: "d1", Kind: ActionProtect, Target: "v1"})
	a2 := col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v1"})

	clone := NewCollector(PhaseNight, 1, []string{"d1", "s1"}, []string{"m1"})
	clone.restorePending([]NightAction{a1, a2}, nil, 3)

	if clone.Complete() {
		t.Error("restored collector should still wait for s1")
	}
	got, ok := clone.Action("d1")
	if !ok || got.Seq != a1.Seq {
		t.Errorf("restored action = %+v, want original seq %v", got, a1.Seq)
	}
	next := clone.PutAction(NightAction{Actor: "s1", Kind: ActionInvestigate, Target: "m1"})
	if next.Seq != 3 {
		t.Errorf("Seq after restore = %v, want 3", next.Seq)
	}
	if !clone.Complete() {
		t.Error("collector should complete once s1 acts")
	}
}
