package mafia

// ConflictResolver 多身份冲突裁决器
// 同时持有黑手党与城镇身份的玩家，其城镇行动按固定倾向
// 被暗中削弱。裁决只依赖种子、行动者、行动与夜数，
// 与提交顺序无关，同一输入永远得到同一结果。
type ConflictResolver struct {
	registry *Registry
	seed     int64
	bias     float64
	enabled  bool
}

// NewConflictResolver 创建冲突裁决器
func NewConflictResolver(cfg Config, registry *Registry) *ConflictResolver {
	return &ConflictResolver{
		registry: registry,
		seed:     cfg.Seed,
		bias:     cfg.MultiRole.SabotageBias,
		enabled:  cfg.MultiRole.Enabled,
	}
}

// Sabotaged 判断双面玩家的城镇行动本夜是否被削弱
func (r *ConflictResolver) Sabotaged(p *Player, action ActionKind, night int) bool {
	if !r.enabled || p == nil || !r.registry.IsConflicted(p) {
		return false
	}
	return biasDraw(r.seed, p.ID, action, night) < r.bias
}

// Adjustment 冲突削弱的具体形态
type Adjustment string

const (
	// AdjustDropProtect 守护被静默放弃
	AdjustDropProtect Adjustment = "drop_protect"
	// AdjustFalsifyReport 查验结果被篡改为平民
	AdjustFalsifyReport Adjustment = "falsify_report"
	// AdjustSuppressShot 开枪被静默压下且弹药保留
	AdjustSuppressShot Adjustment = "suppress_shot"
)

// adjustmentFor 返回指定行动对应的削弱形态
func adjustmentFor(action ActionKind) (Adjustment, bool) {
	switch action {
	case ActionProtect:
		return AdjustDropProtect, true
	case ActionInvestigate:
		return AdjustFalsifyReport, true
	case ActionShoot:
		return AdjustSuppressShot, true
	default:
		return "", false
	}
}
