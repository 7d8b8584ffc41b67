package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
)

// ProgressService is the only writer of the user state. Each operation is a
// load -> transition -> persist sequence serialized under one mutex.
type ProgressService struct {
	repo  domain.UserStateRepository
	prefs domain.PreferenceRepository
	loc   *time.Location
	maxXP int
	now   func() time.Time

	mu sync.Mutex

	obsMu     sync.RWMutex
	observers map[int]func(domain.UserState)
	nextObsID int
}

type ProgressOption func(*ProgressService)

// WithPreferences seeds new states from, and mirrors preference writes to, the auxiliary keys.
func WithPreferences(prefs domain.PreferenceRepository) ProgressOption {
	return func(s *ProgressService) { s.prefs = prefs }
}

// WithLocation sets the zone used to decide whether two instants share a calendar day.
func WithLocation(loc *time.Location) ProgressOption {
	return func(s *ProgressService) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithMaxXP(maxXP int) ProgressOption {
	return func(s *ProgressService) {
		if maxXP > 0 {
			s.maxXP = maxXP
		}
	}
}

func WithClock(now func() time.Time) ProgressOption {
	return func(s *ProgressService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewProgressService(repo domain.UserStateRepository, opts ...ProgressOption) *ProgressService {
	s := &ProgressService{
		repo:      repo,
		loc:       time.Local,
		maxXP:     domain.DefaultMaxXP,
		now:       time.Now,
		observers: make(map[int]func(domain.UserState)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock, so schedulers share the same notion of time.
func (s *ProgressService) Now() time.Time {
	return s.now()
}

// Load returns the current state. It only writes when no record exists yet;
// an unreadable record is answered with defaults and left in place.
func (s *ProgressService) Load(ctx context.Context) (*domain.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, _, err := s.readLocked(ctx)
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, domain.ErrStateNotFound):
		return s.createLocked(ctx)
	default:
		log.WithError(err).Warn("[STORE] Stored state unreadable, serving defaults")
		return s.defaultState(ctx), nil
	}
}

func (s *ProgressService) CheckIn(ctx context.Context, now time.Time) (*domain.UserState, error) {
	return s.mutate(ctx, "check_in", func(st *domain.UserState) (bool, error) {
		return st.CheckIn(now, s.loc), nil
	})
}

func (s *ProgressService) AddXP(ctx context.Context, amount int) (*domain.UserState, error) {
	return s.mutate(ctx, "add_xp", func(st *domain.UserState) (bool, error) {
		st.AddXP(amount)
		return true, nil
	})
}

func (s *ProgressService) PerformSkillCheck(ctx context.Context) (*domain.UserState, error) {
	return s.AddXP(ctx, domain.SkillCheckXP)
}

func (s *ProgressService) PerformMeditation(ctx context.Context) (*domain.UserState, error) {
	return s.AddXP(ctx, domain.MeditationXP)
}

func (s *ProgressService) ResetStreak(ctx context.Context) (*domain.UserState, error) {
	return s.mutate(ctx, "reset_streak", func(st *domain.UserState) (bool, error) {
		st.Reset(s.now())
		return true, nil
	})
}

func (s *ProgressService) SetGamingLimit(ctx context.Context, hours float64) (*domain.UserState, error) {
	state, err := s.mutate(ctx, "set_gaming_limit", func(st *domain.UserState) (bool, error) {
		return true, st.SetGamingLimit(hours)
	})
	if err != nil {
		return nil, err
	}

	s.mirrorPreferences(ctx, state, true, false)
	return state, nil
}

func (s *ProgressService) SetGoal(ctx context.Context, goal string) (*domain.UserState, error) {
	state, err := s.mutate(ctx, "set_goal", func(st *domain.UserState) (bool, error) {
		st.SetGoal(goal)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorPreferences(ctx, state, false, true)
	return state, nil
}

// CompleteOnboarding stores both onboarding answers in a single write.
func (s *ProgressService) CompleteOnboarding(ctx context.Context, goal string, hours float64) (*domain.UserState, error) {
	state, err := s.mutate(ctx, "complete_onboarding", func(st *domain.UserState) (bool, error) {
		if err := domain.ValidateGamingLimit(hours); err != nil {
			return false, err
		}
		st.SetGoal(goal)
		st.GamingLimit = hours
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorPreferences(ctx, state, true, true)
	return state, nil
}

// SetDebugStats overrides streak and XP directly. Developer tooling only.
func (s *ProgressService) SetDebugStats(ctx context.Context, streakDays, xp int) (*domain.UserState, error) {
	return s.mutate(ctx, "set_debug_stats", func(st *domain.UserState) (bool, error) {
		return true, st.OverrideStats(streakDays, xp)
	})
}

func (s *ProgressService) ApplyPreset(ctx context.Context, name string) (*domain.UserState, error) {
	preset, err := domain.FindPreset(name)
	if err != nil {
		return nil, err
	}
	return s.SetDebugStats(ctx, preset.StreakDays, preset.XP)
}

// PreviewRank answers what-if questions without touching the stored state.
func (s *ProgressService) PreviewRank(streakDays, xp int) string {
	return domain.RankFor(streakDays, domain.ClampXP(xp, s.maxXP))
}

// Subscribe registers fn to receive every successfully persisted change.
// The returned func removes the subscription.
func (s *ProgressService) Subscribe(fn func(domain.UserState)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *ProgressService) notify(state domain.UserState) {
	s.obsMu.RLock()
	fns := make([]func(domain.UserState), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.RUnlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (s *ProgressService) mutate(ctx context.Context, op string, fn func(*domain.UserState) (bool, error)) (*domain.UserState, error) {
	s.mu.Lock()
	next, changed, err := s.applyLocked(ctx, op, fn)
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if changed {
		s.notify(*next)
	}
	return next.Clone(), nil
}

func (s *ProgressService) applyLocked(ctx context.Context, op string, fn func(*domain.UserState) (bool, error)) (*domain.UserState, bool, error) {
	current, dirty, err := s.readLocked(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStateNotFound):
		if current, err = s.createLocked(ctx); err != nil {
			return nil, false, err
		}
	case errors.Is(err, domain.ErrStateCorrupt):
		log.WithError(err).Warn("[STORE] Stored state corrupt, replacing it with defaults")
		current, dirty = s.defaultState(ctx), true
	default:
		if !errors.Is(err, domain.ErrStateUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrStateUnavailable, err)
		}
		return nil, false, err
	}

	next := current.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, false, err
	}
	if !changed && !dirty {
		return current, false, nil
	}

	if err := s.persistLocked(ctx, next); err != nil {
		return nil, false, err
	}

	log.WithFields(log.Fields{
		"op":     op,
		"streak": next.StreakDays,
		"xp":     next.CurrentXP,
		"rank":   next.Rank,
	}).Debug("[STORE] state updated")

	return next, true, nil
}

// readLocked loads the stored record with derived fields and the configured
// MaxXP applied. dirty reports whether that refresh differs from what is stored.
func (s *ProgressService) readLocked(ctx context.Context) (*domain.UserState, bool, error) {
	stored, err := s.repo.Load(ctx)
	if err != nil {
		return nil, false, err
	}

	state := stored.Clone()
	state.MaxXP = s.maxXP
	state.Normalize()

	dirty := state.MaxXP != stored.MaxXP ||
		state.CurrentXP != stored.CurrentXP ||
		state.StreakDays != stored.StreakDays ||
		state.TotalHours != stored.TotalHours ||
		state.Rank != stored.Rank
	return state, dirty, nil
}

// createLocked persists the default record when none exists yet.
func (s *ProgressService) createLocked(ctx context.Context) (*domain.UserState, error) {
	state := s.defaultState(ctx)
	if err := s.persistLocked(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *ProgressService) persistLocked(ctx context.Context, state *domain.UserState) error {
	state.Normalize()
	if err := state.Validate(); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, state); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceWrite, err)
	}
	return nil
}

// defaultState builds a fresh record, picking up onboarding answers stored before it existed.
func (s *ProgressService) defaultState(ctx context.Context) *domain.UserState {
	state := domain.NewUserState(s.now(), s.maxXP)
	if s.prefs == nil {
		return state
	}

	if limit, ok, err := s.prefs.GamingLimit(ctx); err != nil {
		log.WithError(err).Warn("[STORE] Failed to read gaming limit preference")
	} else if ok {
		if err := state.SetGamingLimit(limit); err != nil {
			log.WithError(err).Warnf("[STORE] Ignoring stored gaming limit %v", limit)
		}
	}

	if goal, ok, err := s.prefs.SelectedGoal(ctx); err != nil {
		log.WithError(err).Warn("[STORE] Failed to read goal preference")
	} else if ok {
		state.SetGoal(goal)
	}

	return state
}

func (s *ProgressService) mirrorPreferences(ctx context.Context, state *domain.UserState, limit, goal bool) {
	if s.prefs == nil {
		return
	}
	if limit {
		if err := s.prefs.SetGamingLimit(ctx, state.GamingLimit); err != nil {
			log.WithError(err).Warn("[STORE] Failed to mirror gaming limit preference")
		}
	}
	if goal {
		if err := s.prefs.SetSelectedGoal(ctx, state.SelectedGoal); err != nil {
			log.WithError(err).Warn("[STORE] Failed to mirror goal preference")
		}
	}
}
