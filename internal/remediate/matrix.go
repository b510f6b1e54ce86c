package remediate

import "github.com/autodbaudit/autodbaudit/internal/types"

// Aggressiveness is the operator-selected tier controlling how much of
// a generated script is emitted active (uncommented) versus as a
// reviewable, commented suggestion.
type Aggressiveness int

const (
	AggressivenessConservative Aggressiveness = 1 // everything commented
	AggressivenessModerate     Aggressiveness = 2 // low-risk categories active
	AggressivenessAggressive   Aggressiveness = 3 // everything active except safeguards
)

// level2Matrix is the explicit, editable table deciding which
// (entity kind, risk level) pairs auto-activate at aggressiveness 2.
// Kept as data, not inline conditionals, so a policy change is a table
// edit rather than a code change — the same "rules are data" idiom the
// rule catalog and query provider registry both follow.
var level2Matrix = map[types.EntityKind]map[types.RiskLevel]bool{
	types.KindConfig: {
		types.RiskLow:    true,
		types.RiskMedium: true,
		types.RiskHigh:   false,
		types.RiskCritical: false,
	},
	types.KindService: {
		types.RiskLow:    true,
		types.RiskMedium: false,
		types.RiskHigh:   false,
		types.RiskCritical: false,
	},
	types.KindLogin: {
		types.RiskLow:    true,
		types.RiskMedium: false,
		types.RiskHigh:   false,
		types.RiskCritical: false,
	},
	types.KindSAAccount: {
		// sa account changes are always reviewed manually even at
		// aggressiveness 2; only level 3 activates them.
		types.RiskLow: false, types.RiskMedium: false, types.RiskHigh: false, types.RiskCritical: false,
	},
	types.KindPermission: {
		types.RiskLow:    true,
		types.RiskMedium: true,
		types.RiskHigh:   false,
		types.RiskCritical: false,
	},
}

// autoActivates reports whether a fix line for kind at riskLevel should
// be emitted uncommented under the given aggressiveness level.
func autoActivates(level Aggressiveness, kind types.EntityKind, risk types.RiskLevel) bool {
	switch level {
	case AggressivenessConservative:
		return false
	case AggressivenessAggressive:
		return true
	case AggressivenessModerate:
		byRisk, ok := level2Matrix[kind]
		if !ok {
			return false
		}
		return byRisk[risk]
	default:
		return false
	}
}
