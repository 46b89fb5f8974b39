package mafia

import "testing"

func TestRegistry_Descriptors(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name       string
		kind       RoleKind
		team       Team
		action     ActionKind
		cadence    Cadence
		teamAction bool
	}{
		{"黑手党团队击杀", RoleMafia, TeamMafia, ActionKill, CadenceNightly, true},
		{"医生每夜保护", RoleDoctor, TeamTown, ActionProtect, CadenceNightly, false},
		{"警长每夜查验", RoleSheriff, TeamTown, ActionInvestigate, CadenceNightly, false},
		{"守夜人整局一枪", RoleVigilante, TeamTown, ActionShoot, CadenceOnce, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := reg.Descriptor(tt.kind)
			if d.Team != tt.team {
				t.Errorf("Team = %v, want %v", d.Team, tt.team)
			}
			a, ok := d.AbilityFor(tt.action)
			if !ok {
				t.Fatalf("AbilityFor(%v) missing", tt.action)
			}
			if a.Cadence != tt.cadence {
				t.Errorf("Cadence = %v, want %v", a.Cadence, tt.cadence)
			}
			if a.TeamAction != tt.teamAction {
				t.Errorf("TeamAction = %v, want %v", a.TeamAction, tt.teamAction)
			}
		})
	}

	villager := reg.Descriptor(RoleVillager)
	if len(villager.Abilities) != 0 {
		t.Errorf("villager abilities = %v, want none", villager.Abilities)
	}
	doctor := reg.Descriptor(RoleDoctor)
	if !doctor.HasConstraint(ConstraintNoRepeatTarget) || !doctor.HasConstraint(ConstraintSelfFirstNightOnly) {
		t.Errorf("doctor constraints = %v, want both protect constraints", doctor.Constraints)
	}
}

func TestRegistry_AbilityOf(t *testing.T) {
	reg := NewRegistry()
	dual := &Player{ID: "x1", Roles: []RoleKind{RoleDoctor, RoleMafia}, Alive: true}

	a, from, ok := reg.AbilityOf(dual, ActionProtect)
	if !ok || from != RoleDoctor || a.Action != ActionProtect {
		t.Errorf("AbilityOf(protect) = %+v from %v ok %v, want doctor protect", a, from, ok)
	}
	a, from, ok = reg.AbilityOf(dual, ActionKill)
	if !ok || from != RoleMafia || !a.TeamAction {
		t.Errorf("AbilityOf(kill) = %+v from %v ok %v, want mafia team kill", a, from, ok)
	}
	if _, _, ok := reg.AbilityOf(dual, ActionShoot); ok {
		t.Error("AbilityOf(shoot) should be absent")
	}

	if got := reg.ConstraintsOf(dual, ActionProtect); len(got) != 2 {
		t.Errorf("ConstraintsOf(protect) = %v, want doctor constraints", got)
	}
	if got := reg.ConstraintsOf(dual, ActionKill); len(got) != 0 {
		t.Errorf("ConstraintsOf(kill) = %v, want none", got)
	}
}

func TestRegistry_IsConflicted(t *testing.T) {
	reg := NewRegistry()
	tests := []struct {
		name  string
		roles []RoleKind
		want  bool
	}{
		{"纯黑手党", []RoleKind{RoleMafia}, false},
		{"纯平民", []RoleKind{RoleVillager}, false},
		{"医生兼黑手党", []RoleKind{RoleDoctor, RoleMafia}, true},
		{"黑手党兼警长", []RoleKind{RoleMafia, RoleSheriff}, true},
		{"医生兼警长同阵营", []RoleKind{RoleDoctor, RoleSheriff}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Player{ID: "p", Roles: tt.roles, Alive: true}
			if got := reg.IsConflicted(p); got != tt.want {
				t.Errorf("IsConflicted(%v) = %v, want %v", tt.roles, got, tt.want)
			}
		})
	}
}

func TestPlayer_Team(t *testing.T) {
	tests := []struct {
		name  string
		roles []RoleKind
		want  Team
	}{
		{"单黑手党", []RoleKind{RoleMafia}, TeamMafia},
		{"单平民", []RoleKind{RoleVillager}, TeamTown},
		{"双面角色归黑手党", []RoleKind{RoleSheriff, RoleMafia}, TeamMafia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Player{ID: "p", Roles: tt.roles}
			if got := p.Team(); got != tt.want {
				t.Errorf("Team() = %v, want %v", got, tt.want)
			}
		})
	}
}
