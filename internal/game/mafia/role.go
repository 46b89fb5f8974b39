package mafia

// Cadence 技能使用频率
type Cadence int

const (
	CadenceNightly Cadence = iota // 每夜一次
	CadenceOnce                   // 整局一次
)

// TargetClass 合法目标类别
type TargetClass int

const (
	TargetAnyLiving    TargetClass = iota // 任意存活玩家
	TargetOtherLiving                     // 除自己外的存活玩家
	TargetEnemyLiving                     // 敌对阵营的存活玩家
)

// Ability 角色技能
type Ability struct {
	Action      ActionKind  `json:"action"`       // 行动类型
	Cadence     Cadence     `json:"cadence"`      // 使用频率
	TargetClass TargetClass `json:"target_class"` // 合法目标类别
	TeamAction  bool        `json:"team_action"`  // 是否为团队行动（多个提名聚合为一个共识目标）
}

// Constraint 技能约束
type Constraint int

const (
	// ConstraintNoRepeatTarget 不能连续两晚选择同一目标（首夜豁免）
	ConstraintNoRepeatTarget Constraint = iota
	// ConstraintSelfFirstNightOnly 仅首夜允许以自己为目标（可由配置放开）
	ConstraintSelfFirstNightOnly
)

// RoleDescriptor 角色描述符（不可变，加载一次）
type RoleDescriptor struct {
	Kind        RoleKind     `json:"kind"`        // 角色种类
	Team        Team         `json:"team"`        // 所属阵营
	Abilities   []Ability    `json:"abilities"`   // 技能列表（村民为空）
	Constraints []Constraint `json:"constraints"` // 约束列表
}

// HasAbility 判断角色是否拥有指定行动
func (d *RoleDescriptor) HasAbility(action ActionKind) bool {
	for _, a := range d.Abilities {
		if a.Action == action {
			return true
		}
	}
	return false
}

// AbilityFor 返回指定行动对应的技能
func (d *RoleDescriptor) AbilityFor(action ActionKind) (Ability, bool) {
	for _, a := range d.Abilities {
		if a.Action == action {
			return a, true
		}
	}
	return Ability{}, false
}

// HasConstraint 判断角色是否带有指定约束
func (d *RoleDescriptor) HasConstraint(c Constraint) bool {
	for _, cc := range d.Constraints {
		if cc == c {
			return true
		}
	}
	return false
}

// roleTeam 角色所属阵营
func roleTeam(kind RoleKind) Team {
	switch kind {
	case RoleMafia:
		return TeamMafia
	case RoleDoctor, RoleSheriff, RoleVigilante, RoleVillager:
		return TeamTown
	default:
		return TeamTown
	}
}

// descriptorFor 构造角色描述符（封闭集合，新角色在这里扩展）
func descriptorFor(kind RoleKind) RoleDescriptor {
	switch kind {
	case RoleMafia:
		return RoleDescriptor{
			Kind: RoleMafia,
			Team: TeamMafia,
			Abilities: []Ability{
				{Action: ActionKill, Cadence: CadenceNightly, TargetClass: TargetEnemyLiving, TeamAction: true},
			},
		}
	case RoleDoctor:
		return RoleDescriptor{
			Kind: RoleDoctor,
			Team: TeamTown,
			Abilities: []Ability{
				{Action: ActionProtect, Cadence: CadenceNightly, TargetClass: TargetAnyLiving},
			},
			Constraints: []Constraint{ConstraintNoRepeatTarget, ConstraintSelfFirstNightOnly},
		}
	case RoleSheriff:
		return RoleDescriptor{
			Kind: RoleSheriff,
			Team: TeamTown,
			Abilities: []Ability{
				{Action: ActionInvestigate, Cadence: CadenceNightly, TargetClass: TargetOtherLiving},
			},
		}
	case RoleVigilante:
		return RoleDescriptor{
			Kind: RoleVigilante,
			Team: TeamTown,
			Abilities: []Ability{
				{Action: ActionShoot, Cadence: CadenceOnce, TargetClass: TargetOtherLiving},
			},
		}
	case RoleVillager:
		return RoleDescriptor{
			Kind: RoleVillager,
			Team: TeamTown,
		}
	default:
		// 封闭集合之外的角色种类属于编程错误
		panic("mafia: 未定义的角色种类 " + kind.String())
	}
}

// Registry 角色注册表（纯查询，无可变状态）
type Registry struct {
	descriptors map[RoleKind]RoleDescriptor
}

// NewRegistry 创建角色注册表
func NewRegistry() *Registry {
	r := &Registry{descriptors: make(map[RoleKind]RoleDescriptor)}
	for _, kind := range AllRoleKinds() {
		r.descriptors[kind] = descriptorFor(kind)
	}
	return r
}

// Descriptor 查询角色描述符
func (r *Registry) Descriptor(kind RoleKind) RoleDescriptor {
	d, ok := r.descriptors[kind]
	if !ok {
		panic("mafia: 未注册的角色种类 " + kind.String())
	}
	return d
}

// AbilitiesOf 返回玩家全部角色的技能（多重角色时合并）
func (r *Registry) AbilitiesOf(p *Player) []Ability {
	var abilities []Ability
	for _, kind := range p.Roles {
		abilities = append(abilities, r.Descriptor(kind).Abilities...)
	}
	return abilities
}

// AbilityOf 返回玩家指定行动的技能及其来源角色
func (r *Registry) AbilityOf(p *Player, action ActionKind) (Ability, RoleKind, bool) {
	for _, kind := range p.Roles {
		d := r.Descriptor(kind)
		if a, ok := d.AbilityFor(action); ok {
			return a, kind, true
		}
	}
	return Ability{}, 0, false
}

// ConstraintsOf 返回玩家指定行动来源角色的约束
func (r *Registry) ConstraintsOf(p *Player, action ActionKind) []Constraint {
	for _, kind := range p.Roles {
		d := r.Descriptor(kind)
		if d.HasAbility(action) {
			return d.Constraints
		}
	}
	return nil
}

// IsConflicted 判断玩家是否为双面角色（同时持有黑手党与平民阵营角色）
func (r *Registry) IsConflicted(p *Player) bool {
	var hasMafia, hasTown bool
	for _, kind := range p.Roles {
		if roleTeam(kind) == TeamMafia {
			hasMafia = true
		} else {
			hasTown = true
		}
	}
	return hasMafia && hasTown
}
