package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/comitanigiacomo/gameless-engine/internal/core/domain"
	"github.com/comitanigiacomo/gameless-engine/internal/core/services"
)

var day1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// MockStateRepo stores the encoded record like a real backend would.
type MockStateRepo struct {
	data    []byte
	loadErr error
	saveErr error
	saves   int
	mu      sync.Mutex
}

func NewMockStateRepo() *MockStateRepo {
	return &MockStateRepo{}
}

func (m *MockStateRepo) Load(ctx context.Context) (*domain.UserState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.data == nil {
		return nil, domain.ErrStateNotFound
	}
	var s domain.UserState
	if err := json.Unmarshal(m.data, &s); err != nil {
		return nil, domain.ErrStateCorrupt
	}
	return &s, nil
}

func (m *MockStateRepo) Save(ctx context.Context, state *domain.UserState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

func (m *MockStateRepo) stored(t *testing.T) *domain.UserState {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	require.NotNil(t, m.data, "nothing persisted")
	var s domain.UserState
	require.NoError(t, json.Unmarshal(m.data, &s))
	return &s
}

type MockPreferenceRepo struct {
	mock.Mock
}

func (m *MockPreferenceRepo) GamingLimit(ctx context.Context) (float64, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func (m *MockPreferenceRepo) SetGamingLimit(ctx context.Context, limit float64) error {
	return m.Called(ctx, limit).Error(0)
}

func (m *MockPreferenceRepo) SelectedGoal(ctx context.Context) (string, bool, error) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockPreferenceRepo) SetSelectedGoal(ctx context.Context, goal string) error {
	return m.Called(ctx, goal).Error(0)
}

// seedState stores a record as if an earlier run had written it.
func seedState(t *testing.T, repo *MockStateRepo, streakDays, xp int) {
	t.Helper()

	state := domain.NewUserState(day1, domain.DefaultMaxXP)
	require.NoError(t, state.OverrideStats(streakDays, xp))
	data, err := json.Marshal(state)
	require.NoError(t, err)
	repo.data = data
}

func newTestService(repo domain.UserStateRepository, opts ...services.ProgressOption) *services.ProgressService {
	base := []services.ProgressOption{
		services.WithLocation(time.UTC),
		services.WithClock(func() time.Time { return day1 }),
	}
	return services.NewProgressService(repo, append(base, opts...)...)
}

func TestProgressService_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("Success: Lazily creates and persists the default record", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)

		s, err := svc.Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, s.StreakDays)
		assert.Equal(t, 0, s.CurrentXP)
		assert.Equal(t, "Novice I", s.Rank)
		assert.Equal(t, 1, repo.saves)
		assert.Equal(t, s.ID, repo.stored(t).ID)
	})

	t.Run("Success: Never duplicates the record", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)

		first, err := svc.Load(ctx)
		require.NoError(t, err)
		second, err := svc.Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, repo.saves, "existing record must not be rewritten by load")
	})

	t.Run("Recovery: Corrupt data falls back to defaults without writing", func(t *testing.T) {
		repo := NewMockStateRepo()
		repo.data = []byte("{not json")
		svc := newTestService(repo)

		s, err := svc.Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, "Novice I", s.Rank)
		assert.NoError(t, s.Validate())
		assert.Equal(t, 0, repo.saves)
		assert.Equal(t, []byte("{not json"), repo.data)
	})

	t.Run("Recovery: Read error falls back to defaults and keeps the stored record", func(t *testing.T) {
		repo := NewMockStateRepo()
		seedState(t, repo, 120, 70)
		svc := newTestService(repo)

		repo.loadErr = fmt.Errorf("%w: repository: load %s: i/o timeout", domain.ErrStateUnavailable, domain.StateKey)
		s, err := svc.Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, 0, s.StreakDays)
		assert.Equal(t, domain.DefaultSelectedGoal, s.SelectedGoal)
		assert.Equal(t, 0, repo.saves)

		repo.loadErr = nil
		s, err = svc.Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, 120, s.StreakDays)
		assert.Equal(t, 70, s.CurrentXP)
		assert.Equal(t, 120, repo.stored(t).StreakDays)
	})

	t.Run("Success: Load alone never rewrites an existing record", func(t *testing.T) {
		repo := NewMockStateRepo()
		seedState(t, repo, 10, 90)
		svc := newTestService(repo, services.WithMaxXP(50))

		s, err := svc.Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, 50, s.CurrentXP)
		assert.Equal(t, 0, repo.saves)
		assert.Equal(t, 90, repo.stored(t).CurrentXP)
	})

	t.Run("Recovery: Stale derived fields are recomputed on load", func(t *testing.T) {
		repo := NewMockStateRepo()
		repo.data = []byte(`{"id":"abc","streakDays":40,"totalHours":1,"currentXP":250,"maxXP":100,"rank":"Novice I"}`)
		svc := newTestService(repo)

		s, err := svc.Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, "abc", s.ID)
		assert.Equal(t, 960, s.TotalHours)
		assert.Equal(t, 100, s.CurrentXP)
		assert.Equal(t, "Explorer V", s.Rank)
	})

	t.Run("Error: Write failure on lazy create is surfaced", func(t *testing.T) {
		repo := NewMockStateRepo()
		repo.saveErr = errors.New("disk full")
		svc := newTestService(repo)

		_, err := svc.Load(ctx)

		assert.ErrorIs(t, err, domain.ErrPersistenceWrite)
	})
}

func TestProgressService_CheckIn(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent within a calendar day", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)

		first, err := svc.CheckIn(ctx, day1.Add(2*time.Hour))
		require.NoError(t, err)
		second, err := svc.CheckIn(ctx, day1.Add(10*time.Hour))
		require.NoError(t, err)

		assert.Equal(t, 0, first.StreakDays)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, repo.saves, "only the lazy create should have written")
	})

	t.Run("Success: Day boundary advances exactly once", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)
		next := day1.AddDate(0, 0, 1)

		s, err := svc.CheckIn(ctx, next)
		require.NoError(t, err)
		again, err := svc.CheckIn(ctx, next.Add(time.Hour))
		require.NoError(t, err)

		assert.Equal(t, 1, s.StreakDays)
		assert.Equal(t, 24, s.TotalHours)
		assert.Equal(t, 20, s.CurrentXP)
		assert.Equal(t, 20, s.RecentXPGained)
		assert.True(t, s.LastCheckInDate.Equal(next))
		assert.Equal(t, s, again)

		stored := repo.stored(t)
		assert.Equal(t, 1, stored.StreakDays)
		assert.Equal(t, "Novice II", stored.Rank)
	})

	t.Run("Success: XP gain is capped at MaxXP", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)
		_, err := svc.SetDebugStats(ctx, 5, 90)
		require.NoError(t, err)

		s, err := svc.CheckIn(ctx, day1.AddDate(0, 0, 1))

		require.NoError(t, err)
		assert.Equal(t, 6, s.StreakDays)
		assert.Equal(t, 100, s.CurrentXP)
	})

	t.Run("Success: Streak crosses into the next tier", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)
		_, err := svc.SetDebugStats(ctx, 7, 0)
		require.NoError(t, err)

		s, err := svc.CheckIn(ctx, day1.AddDate(0, 0, 1))

		require.NoError(t, err)
		assert.Equal(t, "Adventurer II", s.Rank)
	})

	t.Run("Error: Write failure leaves durable state untouched", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)
		before, err := svc.Load(ctx)
		require.NoError(t, err)

		repo.saveErr = errors.New("storage unavailable")
		s, err := svc.CheckIn(ctx, day1.AddDate(0, 0, 1))

		assert.Nil(t, s)
		assert.ErrorIs(t, err, domain.ErrPersistenceWrite)

		repo.saveErr = nil
		after, err := svc.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, before.StreakDays, after.StreakDays)
		assert.Equal(t, before.CurrentXP, after.CurrentXP)
	})
}

func TestProgressService_MutationReadFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("Error: Unavailable storage is surfaced and nothing is written", func(t *testing.T) {
		repo := NewMockStateRepo()
		seedState(t, repo, 120, 70)
		svc := newTestService(repo)
		notified := 0
		svc.Subscribe(func(domain.UserState) { notified++ })

		repo.loadErr = errors.New("i/o timeout")
		s, err := svc.CheckIn(ctx, day1.AddDate(0, 0, 1))

		assert.Nil(t, s)
		assert.ErrorIs(t, err, domain.ErrStateUnavailable)
		assert.Equal(t, 0, repo.saves)
		assert.Equal(t, 0, notified)

		repo.loadErr = nil
		stored := repo.stored(t)
		assert.Equal(t, 120, stored.StreakDays)
		assert.Equal(t, 70, stored.CurrentXP)
	})

	t.Run("Recovery: A mutation replaces a corrupt record", func(t *testing.T) {
		repo := NewMockStateRepo()
		repo.data = []byte("{not json")
		svc := newTestService(repo)

		s, err := svc.AddXP(ctx, 15)

		require.NoError(t, err)
		assert.Equal(t, 15, s.CurrentXP)
		assert.Equal(t, 1, repo.saves)
		assert.NoError(t, repo.stored(t).Validate())
	})

	t.Run("Success: No-op check-in persists a lowered MaxXP", func(t *testing.T) {
		repo := NewMockStateRepo()
		seedState(t, repo, 10, 90)
		svc := newTestService(repo, services.WithMaxXP(50))

		s, err := svc.CheckIn(ctx, day1.Add(time.Hour))

		require.NoError(t, err)
		assert.Equal(t, 10, s.StreakDays, "same calendar day")
		assert.Equal(t, 50, s.CurrentXP)

		stored := repo.stored(t)
		assert.Equal(t, 50, stored.MaxXP)
		assert.Equal(t, 50, stored.CurrentXP)
		assert.Equal(t, s.Rank, stored.Rank)
	})
}

func TestProgressService_AddXP(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		startXP    int
		amount     int
		wantXP     int
		wantRecent int
	}{
		{name: "Clamped at MaxXP", startXP: 0, amount: 150, wantXP: 100, wantRecent: 150},
		{name: "Regular gain", startXP: 30, amount: 15, wantXP: 45, wantRecent: 15},
		{name: "Negative amount floors at zero", startXP: 10, amount: -25, wantXP: 0, wantRecent: -25},
		{name: "Largest int does not overflow", startXP: 50, amount: math.MaxInt, wantXP: 100, wantRecent: math.MaxInt},
		{name: "Smallest int does not overflow", startXP: 50, amount: math.MinInt, wantXP: 0, wantRecent: math.MinInt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMockStateRepo()
			svc := newTestService(repo)
			_, err := svc.SetDebugStats(ctx, 3, tt.startXP)
			require.NoError(t, err)

			s, err := svc.AddXP(ctx, tt.amount)

			require.NoError(t, err)
			assert.Equal(t, tt.wantXP, s.CurrentXP)
			assert.Equal(t, tt.wantRecent, s.RecentXPGained)
			assert.Equal(t, domain.RankFor(3, tt.wantXP), s.Rank)
			assert.NoError(t, repo.stored(t).Validate())
		})
	}

	t.Run("Quick actions grant their XP", func(t *testing.T) {
		svc := newTestService(NewMockStateRepo())

		s, err := svc.PerformSkillCheck(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, s.CurrentXP)

		s, err = svc.PerformMeditation(ctx)
		require.NoError(t, err)
		assert.Equal(t, 25, s.CurrentXP)
		assert.Equal(t, 15, s.RecentXPGained)
	})
}

func TestProgressService_ResetStreak(t *testing.T) {
	ctx := context.Background()
	repo := NewMockStateRepo()
	now := day1
	svc := newTestService(repo, services.WithClock(func() time.Time { return now }))

	_, err := svc.CompleteOnboarding(ctx, "Quit completely", 0.5)
	require.NoError(t, err)
	before, err := svc.SetDebugStats(ctx, 120, 70)
	require.NoError(t, err)

	now = day1.AddDate(0, 4, 0)
	s, err := svc.ResetStreak(ctx)

	require.NoError(t, err)
	assert.Equal(t, before.ID, s.ID)
	assert.Equal(t, 0, s.StreakDays)
	assert.Equal(t, 0, s.TotalHours)
	assert.Equal(t, 0, s.CurrentXP)
	assert.Equal(t, domain.BaseRank(), s.Rank)
	assert.Equal(t, 0.5, s.GamingLimit)
	assert.Equal(t, "Quit completely", s.SelectedGoal)
	assert.True(t, s.StreakStartDate.Equal(now))
	assert.True(t, s.LastCheckInDate.Equal(now))

	// the reset day itself does not count as a new check-in
	again, err := svc.CheckIn(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, again.StreakDays)
}

func TestProgressService_Preferences(t *testing.T) {
	ctx := context.Background()

	t.Run("Success: Preference writes keep rank and XP hint", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)
		_, err := svc.AddXP(ctx, 30)
		require.NoError(t, err)

		s, err := svc.SetGamingLimit(ctx, 2.25)
		require.NoError(t, err)
		s, err = svc.SetGoal(ctx, "  Only weekends ")
		require.NoError(t, err)

		assert.Equal(t, 2.25, s.GamingLimit)
		assert.Equal(t, "  Only weekends ", s.SelectedGoal)
		assert.Equal(t, 30, s.RecentXPGained, "last XP delta is sticky")
		assert.Equal(t, "Novice II", s.Rank)
		assert.Equal(t, "  Only weekends ", repo.stored(t).SelectedGoal)
	})

	t.Run("Success: Any goal label is accepted as given", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)

		for _, goal := range []string{"", strings.Repeat("x", 101), "weekends"} {
			s, err := svc.SetGoal(ctx, goal)
			require.NoError(t, err)
			assert.Equal(t, goal, s.SelectedGoal)
			assert.Equal(t, goal, repo.stored(t).SelectedGoal)
		}
	})

	t.Run("Error: Invalid input is rejected without writing", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)
		_, err := svc.Load(ctx)
		require.NoError(t, err)
		saves := repo.saves

		_, err = svc.SetGamingLimit(ctx, -1)
		assert.ErrorIs(t, err, domain.ErrInvalidGamingLimit)
		_, err = svc.CompleteOnboarding(ctx, "Goal", -3)
		assert.ErrorIs(t, err, domain.ErrInvalidGamingLimit)
		_, err = svc.SetDebugStats(ctx, -5, 0)
		assert.ErrorIs(t, err, domain.ErrNegativeStreak)

		assert.Equal(t, saves, repo.saves)
	})

	t.Run("Success: Default record is seeded from stored preferences", func(t *testing.T) {
		prefs := new(MockPreferenceRepo)
		prefs.On("GamingLimit", mock.Anything).Return(3.0, true, nil)
		prefs.On("SelectedGoal", mock.Anything).Return("Stop gaming entirely", true, nil)

		svc := newTestService(NewMockStateRepo(), services.WithPreferences(prefs))
		s, err := svc.Load(ctx)

		require.NoError(t, err)
		assert.Equal(t, 3.0, s.GamingLimit)
		assert.Equal(t, "Stop gaming entirely", s.SelectedGoal)
		prefs.AssertExpectations(t)
	})

	t.Run("Success: Preference failures never block the state write", func(t *testing.T) {
		prefs := new(MockPreferenceRepo)
		prefs.On("GamingLimit", mock.Anything).Return(0.0, false, errors.New("redis down"))
		prefs.On("SelectedGoal", mock.Anything).Return("", false, nil)
		prefs.On("SetGamingLimit", mock.Anything, 1.5).Return(errors.New("redis down"))

		repo := NewMockStateRepo()
		svc := newTestService(repo, services.WithPreferences(prefs))
		s, err := svc.SetGamingLimit(ctx, 1.5)

		require.NoError(t, err)
		assert.Equal(t, 1.5, s.GamingLimit)
		assert.Equal(t, domain.DefaultSelectedGoal, s.SelectedGoal)
		assert.Equal(t, 1.5, repo.stored(t).GamingLimit)
		prefs.AssertExpectations(t)
	})

	t.Run("Success: Onboarding mirrors both keys", func(t *testing.T) {
		prefs := new(MockPreferenceRepo)
		prefs.On("GamingLimit", mock.Anything).Return(0.0, false, nil)
		prefs.On("SelectedGoal", mock.Anything).Return("", false, nil)
		prefs.On("SetGamingLimit", mock.Anything, 0.75).Return(nil).Once()
		prefs.On("SetSelectedGoal", mock.Anything, "Reduce gaming time").Return(nil).Once()

		svc := newTestService(NewMockStateRepo(), services.WithPreferences(prefs))
		_, err := svc.CompleteOnboarding(ctx, "Reduce gaming time", 0.75)

		require.NoError(t, err)
		prefs.AssertExpectations(t)
	})
}

func TestProgressService_DebugTools(t *testing.T) {
	ctx := context.Background()

	t.Run("SetDebugStats bypasses the day guard and clamps XP", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)

		s, err := svc.SetDebugStats(ctx, 181, 500)

		require.NoError(t, err)
		assert.Equal(t, 181, s.StreakDays)
		assert.Equal(t, 181*24, s.TotalHours)
		assert.Equal(t, 100, s.CurrentXP)
		assert.Equal(t, "Legend", s.Rank)
		assert.True(t, s.LastCheckInDate.Equal(day1), "override is not a check-in")
	})

	t.Run("ApplyPreset routes through the override", func(t *testing.T) {
		svc := newTestService(NewMockStateRepo())

		s, err := svc.ApplyPreset(ctx, "2 Weeks")
		require.NoError(t, err)
		assert.Equal(t, 14, s.StreakDays)
		assert.Equal(t, 45, s.CurrentXP)
		assert.Equal(t, "Adventurer III", s.Rank)

		_, err = svc.ApplyPreset(ctx, "forever")
		assert.ErrorIs(t, err, domain.ErrUnknownPreset)
	})

	t.Run("PreviewRank does not mutate the stored state", func(t *testing.T) {
		repo := NewMockStateRepo()
		svc := newTestService(repo)
		_, err := svc.Load(ctx)
		require.NoError(t, err)
		saves := repo.saves

		assert.Equal(t, "Legend", svc.PreviewRank(365, 99))
		assert.Equal(t, "Explorer V", svc.PreviewRank(60, 1000))
		assert.Equal(t, saves, repo.saves)
	})
}

func TestProgressService_Subscribe(t *testing.T) {
	ctx := context.Background()
	repo := NewMockStateRepo()
	svc := newTestService(repo)

	var got []domain.UserState
	unsubscribe := svc.Subscribe(func(s domain.UserState) {
		got = append(got, s)
	})

	_, err := svc.AddXP(ctx, 20)
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, day1) // same day: no change, no event
	require.NoError(t, err)

	repo.saveErr = errors.New("boom")
	_, err = svc.AddXP(ctx, 20)
	require.Error(t, err)
	repo.saveErr = nil

	unsubscribe()
	_, err = svc.AddXP(ctx, 20)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, 20, got[0].CurrentXP)
	assert.Equal(t, "Novice II", got[0].Rank)
}

func TestProgressService_ConcurrentMutations(t *testing.T) {
	ctx := context.Background()
	repo := NewMockStateRepo()
	svc := newTestService(repo, services.WithMaxXP(1000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddXP(ctx, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, s.CurrentXP, "read-modify-write must be serialized")
	assert.Equal(t, 1000, s.MaxXP)
}
