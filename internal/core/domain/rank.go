package domain

const (
	TierNovice     = "Novice"
	TierAdventurer = "Adventurer"
	TierExplorer   = "Explorer"
	TierMaster     = "Master"
	TierLegend     = "Legend"

	// xpPerLevel is the width of each XP band. The last band is open-ended.
	xpPerLevel = 20
)

var tierNames = []string{TierNovice, TierAdventurer, TierExplorer, TierMaster, TierLegend}

var levelNumerals = []string{"I", "II", "III", "IV", "V"}

// tierUpperBounds holds the last streak day (inclusive) of every non-terminal tier.
var tierUpperBounds = []int{7, 30, 90, 180}

// TierIndexForDays maps a streak length to its tier position, 0 (Novice) to 4 (Legend).
func TierIndexForDays(days int) int {
	for i, upper := range tierUpperBounds {
		if days <= upper {
			return i
		}
	}
	return len(tierUpperBounds)
}

func TierForDays(days int) string {
	return tierNames[TierIndexForDays(days)]
}

// LevelForXP returns the roman numeral of the XP band that xp falls into.
func LevelForXP(xp int) string {
	level := xp / xpPerLevel
	if xp < 0 {
		level = 0
	}
	if level >= len(levelNumerals) {
		level = len(levelNumerals) - 1
	}
	return levelNumerals[level]
}

// RankFor composes the display rank for a streak/XP pair.
// Legend is the terminal tier and has no sub-levels.
func RankFor(streakDays, xp int) string {
	tier := TierForDays(streakDays)
	if tier == TierLegend {
		return tier
	}
	return tier + " " + LevelForXP(xp)
}

// BaseRank is the rank of a fresh or reset state.
func BaseRank() string {
	return RankFor(0, 0)
}

// DaysUntilNextTier reports how many more check-ins move a streak into the next tier.
// It returns 0 once the streak is in the terminal tier.
func DaysUntilNextTier(streakDays int) int {
	idx := TierIndexForDays(streakDays)
	if idx >= len(tierUpperBounds) {
		return 0
	}
	if streakDays < 0 {
		streakDays = 0
	}
	return tierUpperBounds[idx] + 1 - streakDays
}
