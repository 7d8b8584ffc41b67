package domain

import (
	"errors"
	"strings"
)

var ErrUnknownPreset = errors.New("unknown stats preset")

// StatsPreset is a canned streak/XP pair used by developer tooling.
type StatsPreset struct {
	Name       string `json:"name"`
	StreakDays int    `json:"streak_days"`
	XP         int    `json:"xp"`
}

var DebugPresets = []StatsPreset{
	{Name: "New User", StreakDays: 0, XP: 0},
	{Name: "1 Week", StreakDays: 7, XP: 30},
	{Name: "2 Weeks", StreakDays: 14, XP: 45},
	{Name: "1 Month", StreakDays: 30, XP: 60},
	{Name: "3 Months", StreakDays: 90, XP: 75},
	{Name: "6 Months", StreakDays: 180, XP: 85},
	{Name: "1 Year", StreakDays: 365, XP: 95},
}

// FindPreset looks a preset up by name, ignoring case and surrounding spaces.
func FindPreset(name string) (StatsPreset, error) {
	name = strings.TrimSpace(name)
	for _, p := range DebugPresets {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return StatsPreset{}, ErrUnknownPreset
}
