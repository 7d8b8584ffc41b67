package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrStateNotFound      = errors.New("user state not found")
	ErrStateCorrupt       = errors.New("user state is corrupt")
	ErrStateUnavailable   = errors.New("user state storage unavailable")
	ErrPersistenceWrite   = errors.New("failed to persist user state")
	ErrInvariantViolation = errors.New("user state invariant violated")
	ErrNegativeStreak     = errors.New("streak days cannot be negative")
	ErrInvalidGamingLimit = errors.New("gaming limit must be a non-negative number of hours")
)

const (
	DefaultMaxXP        = 100
	DefaultGamingLimit  = 1.0
	DefaultSelectedGoal = "Reduce gaming time"
	HoursPerDay         = 24

	CheckInXP    = 20
	SkillCheckXP = 10
	MeditationXP = 15

	StateKey        = "gamelessUserData"
	GamingLimitKey  = "gamingLimit"
	SelectedGoalKey = "selectedGoal"
)

type UserState struct {
	ID              string    `json:"id"`
	StreakDays      int       `json:"streakDays"`
	TotalHours      int       `json:"totalHours"`
	CurrentXP       int       `json:"currentXP"`
	MaxXP           int       `json:"maxXP"`
	RecentXPGained  int       `json:"recentXPGained"`
	GamingLimit     float64   `json:"gamingLimit"`
	SelectedGoal    string    `json:"selectedGoal"`
	StreakStartDate time.Time `json:"streakStartDate"`
	LastCheckInDate time.Time `json:"lastCheckInDate"`
	Rank            string    `json:"rank"`
}

// NewUserState builds the default record created on first access.
func NewUserState(now time.Time, maxXP int) *UserState {
	if maxXP <= 0 {
		maxXP = DefaultMaxXP
	}

	return &UserState{
		ID:              uuid.New().String(),
		MaxXP:           maxXP,
		GamingLimit:     DefaultGamingLimit,
		SelectedGoal:    DefaultSelectedGoal,
		StreakStartDate: now,
		LastCheckInDate: now,
		Rank:            BaseRank(),
	}
}

// Normalize restores every derived field and clamps XP into [0, MaxXP].
// It is applied to each state before it is persisted or handed out.
func (s *UserState) Normalize() {
	if s.MaxXP <= 0 {
		s.MaxXP = DefaultMaxXP
	}
	if s.StreakDays < 0 {
		s.StreakDays = 0
	}
	s.CurrentXP = ClampXP(s.CurrentXP, s.MaxXP)
	s.TotalHours = s.StreakDays * HoursPerDay
	s.Rank = RankFor(s.StreakDays, s.CurrentXP)
}

// Validate reports the first broken invariant without repairing it.
func (s *UserState) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvariantViolation)
	case s.MaxXP <= 0:
		return fmt.Errorf("%w: maxXP %d", ErrInvariantViolation, s.MaxXP)
	case s.StreakDays < 0:
		return fmt.Errorf("%w: streakDays %d", ErrInvariantViolation, s.StreakDays)
	case s.CurrentXP < 0 || s.CurrentXP > s.MaxXP:
		return fmt.Errorf("%w: currentXP %d outside [0, %d]", ErrInvariantViolation, s.CurrentXP, s.MaxXP)
	case s.TotalHours != s.StreakDays*HoursPerDay:
		return fmt.Errorf("%w: totalHours %d for %d days", ErrInvariantViolation, s.TotalHours, s.StreakDays)
	case s.Rank != RankFor(s.StreakDays, s.CurrentXP):
		return fmt.Errorf("%w: stale rank %q", ErrInvariantViolation, s.Rank)
	}
	return nil
}

// Clone returns an independent copy so callers never share the store's record.
func (s *UserState) Clone() *UserState {
	clone := *s
	return &clone
}

// CheckIn advances the streak if now falls on a later calendar day than the last check-in.
// It reports whether the state changed.
func (s *UserState) CheckIn(now time.Time, loc *time.Location) bool {
	if SameDay(s.LastCheckInDate, now, loc) {
		return false
	}

	s.StreakDays++
	s.CurrentXP = ClampXP(s.CurrentXP+CheckInXP, s.MaxXP)
	s.RecentXPGained = CheckInXP
	s.LastCheckInDate = now
	s.Normalize()
	return true
}

// AddXP applies a delta, clamped into [0, MaxXP]. RecentXPGained keeps the requested amount.
func (s *UserState) AddXP(amount int) {
	// bounded so the sum cannot overflow
	delta := amount
	if delta > s.MaxXP {
		delta = s.MaxXP
	} else if delta < -s.MaxXP {
		delta = -s.MaxXP
	}
	s.CurrentXP = ClampXP(ClampXP(s.CurrentXP, s.MaxXP)+delta, s.MaxXP)
	s.RecentXPGained = amount
	s.Normalize()
}

// Reset starts the streak over. Identity and preferences survive.
func (s *UserState) Reset(now time.Time) {
	s.StreakDays = 0
	s.CurrentXP = 0
	s.StreakStartDate = now
	s.LastCheckInDate = now
	s.Normalize()
}

// OverrideStats sets streak and XP directly, bypassing the day-boundary guard.
func (s *UserState) OverrideStats(streakDays, xp int) error {
	if streakDays < 0 {
		return ErrNegativeStreak
	}
	s.StreakDays = streakDays
	s.CurrentXP = ClampXP(xp, s.MaxXP)
	s.Normalize()
	return nil
}

func (s *UserState) SetGamingLimit(hours float64) error {
	if err := ValidateGamingLimit(hours); err != nil {
		return err
	}
	s.GamingLimit = hours
	return nil
}

// SetGoal stores the free-form goal label exactly as given.
func (s *UserState) SetGoal(goal string) {
	s.SelectedGoal = goal
}

// XPProgress is the filled fraction of the XP bar, in [0, 1].
func (s *UserState) XPProgress() float64 {
	if s.MaxXP <= 0 {
		return 0
	}
	return math.Min(float64(s.CurrentXP)/float64(s.MaxXP), 1)
}

func (s *UserState) DaysUntilNextTier() int {
	return DaysUntilNextTier(s.StreakDays)
}

func ValidateGamingLimit(hours float64) error {
	if hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return ErrInvalidGamingLimit
	}
	return nil
}

func ClampXP(xp, maxXP int) int {
	if xp < 0 {
		return 0
	}
	if xp > maxXP {
		return maxXP
	}
	return xp
}

// SameDay compares the calendar dates of a and b as seen in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
