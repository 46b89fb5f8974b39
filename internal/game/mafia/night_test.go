package mafia

import (
	"sort"
	"testing"
)

// buildState 构造指定角色布局的夜晚状态，座位按ID排序
func buildState(layout map[string][]RoleKind) *GameState {
	ids := make([]string, 0, len(layout))
	for id := range layout {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	st := &GameState{
		GameID:        "g-test",
		Phase:         PhaseNight,
		Day:           1,
		Turn:          1,
		UsedShots:     make(map[string]bool),
		LastProtected: make(map[string]string),
		Seed:          42,
	}
	for i, id := range ids {
		st.Players = append(st.Players, &Player{
			ID:    id,
			Name:  id,
			Seat:  i + 1,
			Roles: layout[id],
			Alive: true,
		})
	}
	return st
}

// buildNightCollector 按存活技能派生夜晚收集器
func buildNightCollector(st *GameState, reg *Registry) *Collector {
	var required, team []string
	for _, p := range st.AlivePlayers() {
		if p.Team() == TeamMafia {
			team = append(team, p.ID)
		}
		if _, ok := individualNightAbility(reg, st, p); ok {
			required = append(required, p.ID)
		}
	}
	return NewCollector(PhaseNight, st.Day, required, team)
}

func TestResolveNight_ProtectBlocksKill(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"d1": {RoleDoctor},
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	})
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v1"})
	col.PutAction(NightAction{Actor: "d1", Kind: ActionProtect, Target: "v1"})

	if !col.Complete() {
		t.Fatalf("collector should be complete, missing %v", col.Missing())
	}

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	if out.ConsensusTarget != "v1" {
		t.Errorf("ConsensusTarget = %v, want v1", out.ConsensusTarget)
	}
	if !out.KillBlocked {
		t.Error("kill should be blocked by protection")
	}
	if len(out.Deaths) != 0 {
		t.Errorf("Deaths = %v, want none", out.Deaths)
	}
	if !st.FindPlayer("v1").Alive {
		t.Error("protected target should survive")
	}
	if len(out.Protections) != 1 || !out.Protections[0].Saved {
		t.Errorf("Protections = %+v, want one saved protection", out.Protections)
	}
	if st.LastProtected["d1"] != "v1" {
		t.Errorf("LastProtected = %v, want v1", st.LastProtected["d1"])
	}
}

func TestResolveNight_ShotIgnoresProtection(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"d1": {RoleDoctor},
		"g1": {RoleVigilante},
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	})
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v1"})
	col.PutAction(NightAction{Actor: "d1", Kind: ActionProtect, Target: "v1"})
	col.PutAction(NightAction{Actor: "g1", Kind: ActionShoot, Target: "v1"})

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	if !out.KillBlocked {
		t.Error("consensus kill should be blocked")
	}
	if len(out.Deaths) != 1 || out.Deaths[0].PlayerID != "v1" {
		t.Fatalf("Deaths = %+v, want v1 only", out.Deaths)
	}
	if len(out.Deaths[0].Causes) != 1 || out.Deaths[0].Causes[0] != CauseVigilanteShot {
		t.Errorf("Causes = %v, want vigilante_shot only", out.Deaths[0].Causes)
	}
	if st.FindPlayer("v1").Alive {
		t.Error("shot target must die regardless of protection")
	}
	if !st.UsedShots["g1"] {
		t.Error("shot should be consumed")
	}
}

func TestResolveNight_DualCauseDeath(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"g1": {RoleVigilante},
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	})
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v1"})
	col.PutAction(NightAction{Actor: "g1", Kind: ActionShoot, Target: "v1"})

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	if len(out.Deaths) != 1 {
		t.Fatalf("Deaths = %+v, want single record", out.Deaths)
	}
	d := out.Deaths[0]
	if d.PlayerID != "v1" || len(d.Causes) != 2 {
		t.Fatalf("Death = %+v, want v1 with two causes", d)
	}
	if d.Causes[0] != CauseMafiaKill || d.Causes[1] != CauseVigilanteShot {
		t.Errorf("Causes = %v, want [mafia_kill vigilante_shot]", d.Causes)
	}
}

func TestResolveNight_ConsensusTieBreak(t *testing.T) {
	tests := []struct {
		name  string
		first string
		want  string
	}{
		{"先提名v1", "v1", "v1"},
		{"先提名v2", "v2", "v2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := buildState(map[string][]RoleKind{
				"m1": {RoleMafia},
				"m2": {RoleMafia},
				"v1": {RoleVillager},
				"v2": {RoleVillager},
				"v3": {RoleVillager},
			})
			reg := NewRegistry()
			cfg := DefaultConfig()
			col := buildNightCollector(st, reg)

			second := "v2"
			if tt.first == "v2" {
				second = "v1"
			}
			col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: tt.first})
			col.PutAction(NightAction{Actor: "m2", Kind: ActionKill, Target: second})

			out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

			if out.ConsensusTarget != tt.want {
				t.Errorf("ConsensusTarget = %v, want %v (tie broken by first submitted)", out.ConsensusTarget, tt.want)
			}
			if len(out.Deaths) != 1 || out.Deaths[0].PlayerID != tt.want {
				t.Errorf("Deaths = %+v, want %v", out.Deaths, tt.want)
			}
		})
	}
}

func TestResolveNight_MajorityBeatsEarlier(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"m2": {RoleMafia},
		"m3": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
		"v3": {RoleVillager},
		"v4": {RoleVillager},
	})
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	// v1先被提名，但v2获得多数
	col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v1"})
	col.PutAction(NightAction{Actor: "m2", Kind: ActionKill, Target: "v2"})
	col.PutAction(NightAction{Actor: "m3", Kind: ActionKill, Target: "v2"})

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	if out.ConsensusTarget != "v2" {
		t.Errorf("ConsensusTarget = %v, want v2 (majority)", out.ConsensusTarget)
	}
	if out.Tally["v2"] != 2 || out.Tally["v1"] != 1 {
		t.Errorf("Tally = %v, want v2:2 v1:1", out.Tally)
	}
}

func TestResolveNight_RepeatProtectSubstituted(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"d1": {RoleDoctor},
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	})
	st.Day = 2
	st.LastProtected["d1"] = "v1"
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v2"})
	col.PutAction(NightAction{Actor: "d1", Kind: ActionProtect, Target: "v1"})

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	var sub *Substitution
	for i := range out.Substitutions {
		if out.Substitutions[i].Actor == "d1" {
			sub = &out.Substitutions[i]
		}
	}
	if sub == nil {
		t.Fatal("repeat protect should be substituted")
	}
	if sub.Reason != SubstituteRepeatTarget {
		t.Errorf("Reason = %v, want repeat_target", sub.Reason)
	}
	if sub.Final == "v1" || sub.Final == "d1" || sub.Final == "" {
		t.Errorf("Final = %v, want another living player", sub.Final)
	}
	if st.LastProtected["d1"] != sub.Final {
		t.Errorf("LastProtected = %v, want %v", st.LastProtected["d1"], sub.Final)
	}
}

func TestResolveNight_SelfProtect(t *testing.T) {
	tests := []struct {
		name        string
		night       int
		allowAlways bool
		wantSub     bool
	}{
		{"首夜允许自守", 1, false, false},
		{"非首夜禁止自守", 2, false, true},
		{"配置放开后非首夜允许", 2, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := buildState(map[string][]RoleKind{
				"d1": {RoleDoctor},
				"m1": {RoleMafia},
				"v1": {RoleVillager},
				"v2": {RoleVillager},
			})
			st.Day = tt.night
			reg := NewRegistry()
			cfg := DefaultConfig()
			cfg.AllowSelfProtectAlways = tt.allowAlways
			col := buildNightCollector(st, reg)

			col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v1"})
			col.PutAction(NightAction{Actor: "d1", Kind: ActionProtect, Target: "d1"})

			out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

			substituted := false
			for _, s := range out.Substitutions {
				if s.Actor == "d1" {
					substituted = true
				}
			}
			if substituted != tt.wantSub {
				t.Errorf("substituted = %v, want %v", substituted, tt.wantSub)
			}
			if !tt.wantSub && len(out.Protections) == 1 && out.Protections[0].Target != "d1" {
				t.Errorf("protect target = %v, want d1", out.Protections[0].Target)
			}
		})
	}
}

func TestResolveNight_SelfInvestigateRedirected(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"s1": {RoleSheriff},
		"v1": {RoleVillager},
	})
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v1"})
	col.PutAction(NightAction{Actor: "s1", Kind: ActionInvestigate, Target: "s1"})

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	if len(out.Investigations) != 1 {
		t.Fatalf("Investigations = %+v, want one", out.Investigations)
	}
	inv := out.Investigations[0]
	if inv.Target == "s1" {
		t.Error("self investigation should be redirected")
	}
	if inv.Target != "m1" && inv.Target != "v1" {
		t.Errorf("redirect target = %v, want another living player", inv.Target)
	}

	var sub *Substitution
	for i := range out.Substitutions {
		if out.Substitutions[i].Actor == "s1" {
			sub = &out.Substitutions[i]
		}
	}
	if sub == nil || sub.Reason != SubstituteSelfTarget {
		t.Errorf("substitution = %+v, want self_target reason", sub)
	}

	// 查验永远返回目标的真实角色
	target := st.FindPlayer(inv.Target)
	if len(inv.Reported) != 1 || inv.Reported[0] != target.Roles[0] {
		t.Errorf("Reported = %v, want %v", inv.Reported, target.Roles)
	}
	if inv.Falsified || inv.Disclosed {
		t.Errorf("investigation = %+v, want honest and undisclosed", inv)
	}
}

func TestResolveNight_MissingDefaults(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"d1": {RoleDoctor},
		"g1": {RoleVigilante},
		"m1": {RoleMafia},
		"s1": {RoleSheriff},
		"v1": {RoleVillager},
	})
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	// 无人提交，模拟截止强制结算
	if col.Complete() {
		t.Fatal("collector should not be complete")
	}

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	if len(out.Substitutions) != 4 {
		t.Fatalf("Substitutions = %+v, want 4 (doctor, sheriff, vigilante, team kill)", out.Substitutions)
	}
	for _, s := range out.Substitutions {
		if s.Reason != SubstituteMissing {
			t.Errorf("Reason = %v, want missing", s.Reason)
		}
		if s.Action == ActionShoot && s.Final != "" {
			t.Errorf("missing vigilante should hold fire, got %v", s.Final)
		}
	}
	if len(out.Shots) != 0 {
		t.Errorf("Shots = %+v, want none (one-shot never auto-fired)", out.Shots)
	}
	if st.UsedShots["g1"] {
		t.Error("shot should not be consumed on default")
	}
	if out.ConsensusTarget == "" {
		t.Error("team kill should be synthesized")
	}
	if p := st.FindPlayer(out.ConsensusTarget); p.Team() == TeamMafia {
		t.Errorf("synthesized kill target %v should not be mafia", out.ConsensusTarget)
	}
	if len(out.Investigations) != 1 {
		t.Errorf("Investigations = %+v, want one defaulted", out.Investigations)
	}
}

func TestResolveNight_ConsumedShotIgnored(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"g1": {RoleVigilante},
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	})
	st.Day = 2
	st.UsedShots["g1"] = true
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	if col.IsExpected("g1") {
		t.Error("vigilante with consumed shot should not be expected")
	}

	col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: "v1"})
	col.PutAction(NightAction{Actor: "g1", Kind: ActionShoot, Target: "v2"})

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	if len(out.Shots) != 0 {
		t.Errorf("Shots = %+v, want none after consumption", out.Shots)
	}
	if !st.FindPlayer("v2").Alive {
		t.Error("v2 should survive a spent gun")
	}
	for _, d := range out.Deaths {
		for _, c := range d.Causes {
			if c == CauseVigilanteShot {
				t.Error("no vigilante death expected")
			}
		}
	}
}

func TestResolveNight_EmptyKillNominationSubstituted(t *testing.T) {
	st := buildState(map[string][]RoleKind{
		"m1": {RoleMafia},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	})
	reg := NewRegistry()
	cfg := DefaultConfig()
	col := buildNightCollector(st, reg)

	col.PutAction(NightAction{Actor: "m1", Kind: ActionKill, Target: ""})

	out := resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)

	if out.ConsensusTarget == "" {
		t.Fatal("empty nomination should be substituted, not dropped")
	}
	if out.ConsensusTarget != "v1" && out.ConsensusTarget != "v2" {
		t.Errorf("ConsensusTarget = %v, want a living villager", out.ConsensusTarget)
	}
	found := false
	for _, s := range out.Substitutions {
		if s.Actor == "m1" && s.Reason == SubstituteIllegalTarget {
			found = true
		}
	}
	if !found {
		t.Errorf("Substitutions = %+v, want illegal_target for m1", out.Substitutions)
	}
}

func TestResolveNight_OrderInvariance(t *testing.T) {
	layout := map[string][]RoleKind{
		"d1": {RoleDoctor},
		"m1": {RoleMafia},
		"s1": {RoleSheriff},
		"v1": {RoleVillager},
		"v2": {RoleVillager},
	}
	submit := func(order []NightAction) *NightOutcome {
		st := buildState(layout)
		reg := NewRegistry()
		cfg := DefaultConfig()
		col := buildNightCollector(st, reg)
		for _, a := range order {
			col.PutAction(a)
		}
		return resolveNight(st, cfg, reg, NewConflictResolver(cfg, reg), NewRand(st.Seed), col)
	}

	forward := submit([]NightAction{
		{Actor: "m1", Kind: ActionKill, Target: "v1"},
		{Actor: "d1", Kind: ActionProtect, Target: "v2"},
		{Actor: "s1", Kind: ActionInvestigate, Target: "m1"},
	})
	reversed := submit([]NightAction{
		{Actor: "s1", Kind: ActionInvestigate, Target: "m1"},
		{Actor: "d1", Kind: ActionProtect, Target: "v2"},
		{Actor: "m1", Kind: ActionKill, Target: "v1"},
	})

	if forward.ConsensusTarget != reversed.ConsensusTarget {
		t.Errorf("ConsensusTarget differs: %v vs %v", forward.ConsensusTarget, reversed.ConsensusTarget)
	}
	if forward.KillBlocked != reversed.KillBlocked {
		t.Errorf("KillBlocked differs: %v vs %v", forward.KillBlocked, reversed.KillBlocked)
	}
	fd, rd := forward.DeadIDs(), reversed.DeadIDs()
	if len(fd) != len(rd) {
		t.Fatalf("death count differs: %v vs %v", fd, rd)
	}
	for i := range fd {
		if fd[i] != rd[i] {
			t.Errorf("deaths differ: %v vs %v", fd, rd)
		}
	}
	if forward.Investigations[0].Reported[0] != reversed.Investigations[0].Reported[0] {
		t.Error("investigation results differ across submission orders")
	}
}
