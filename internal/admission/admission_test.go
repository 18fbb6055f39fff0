package admission

import (
	"testing"
	"time"

	"github.com/fixwright/fixwright/internal/errors"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)}
}

func TestRateLimiterGlobalCap(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateConfig{MaxPRsPerDay: 2}, NewMemoryCounters(), clock.Now, nil)

	if d := rl.CanCreatePR("proj-1"); !d.Allowed {
		t.Fatalf("CanCreatePR() denied with no PRs recorded: %s", d.Reason)
	}

	rl.RecordPR("proj-1")
	rl.RecordPR("proj-2")

	d := rl.CanCreatePR("proj-3")
	if d.Allowed {
		t.Fatal("CanCreatePR() allowed past the daily cap")
	}
	if d.Count != 2 || d.Limit != 2 {
		t.Errorf("decision = %+v, want count=2 limit=2", d)
	}
	if err := d.Err("rate", errors.ErrRateLimited); !errors.Is(err, errors.ErrAdmissionDenied) {
		t.Errorf("Err() = %v, want ErrAdmissionDenied", err)
	}
}

func TestRateLimiterPerProjectCap(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateConfig{MaxPRsPerDay: 10, MaxPRsPerProjectPerDay: 1},
		NewMemoryCounters(), clock.Now, nil)

	rl.RecordPR("proj-1")

	if d := rl.CanCreatePR("proj-1"); d.Allowed {
		t.Error("CanCreatePR(proj-1) allowed past the per-project cap")
	}
	if d := rl.CanCreatePR("proj-2"); !d.Allowed {
		t.Errorf("CanCreatePR(proj-2) denied: %s", d.Reason)
	}
}

func TestRateLimiterDayRollover(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateConfig{MaxPRsPerDay: 1}, NewMemoryCounters(), clock.Now, nil)

	rl.RecordPR("proj-1")
	if d := rl.CanCreatePR("proj-1"); d.Allowed {
		t.Fatal("CanCreatePR() allowed past the cap")
	}

	clock.now = clock.now.Add(24 * time.Hour)
	if d := rl.CanCreatePR("proj-1"); !d.Allowed {
		t.Errorf("CanCreatePR() denied after day rollover: %s", d.Reason)
	}
}

func TestRateLimiterZeroLimitDisabled(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(RateConfig{}, NewMemoryCounters(), clock.Now, nil)

	for i := 0; i < 50; i++ {
		rl.RecordPR("proj-1")
	}
	if d := rl.CanCreatePR("proj-1"); !d.Allowed {
		t.Errorf("CanCreatePR() denied with caps disabled: %s", d.Reason)
	}
}

func TestBudgetManagerDailyCap(t *testing.T) {
	clock := newFakeClock()
	bm := NewBudgetManager(BudgetConfig{DailyBudgetUSD: 10}, NewMemoryCounters(), clock.Now, nil)

	bm.RecordSpend(6)
	if d := bm.CanProceed(); !d.Allowed {
		t.Fatalf("CanProceed() denied under the cap: %s", d.Reason)
	}

	bm.RecordSpend(4)
	if d := bm.CanProceed(); d.Allowed {
		t.Error("CanProceed() allowed at the daily cap")
	}
}

func TestBudgetManagerMonthlyCapOutlivesDays(t *testing.T) {
	clock := newFakeClock()
	bm := NewBudgetManager(BudgetConfig{DailyBudgetUSD: 100, MonthlyBudgetUSD: 15},
		NewMemoryCounters(), clock.Now, nil)

	bm.RecordSpend(10)
	clock.now = clock.now.Add(24 * time.Hour) // still August

	bm.RecordSpend(5)
	if d := bm.CanProceed(); d.Allowed {
		t.Error("CanProceed() allowed at the monthly cap across days")
	}

	clock.now = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if d := bm.CanProceed(); !d.Allowed {
		t.Errorf("CanProceed() denied after month rollover: %s", d.Reason)
	}
}

func TestEffectivePerJobBudget(t *testing.T) {
	tests := []struct {
		name    string
		cfg     BudgetConfig
		spent   float64
		want    float64
		limited bool
	}{
		{
			name:    "per-job cap is the floor",
			cfg:     BudgetConfig{PerJobBudgetUSD: 5, DailyBudgetUSD: 100, MonthlyBudgetUSD: 1000},
			want:    5,
			limited: true,
		},
		{
			name:    "daily remaining shrinks the cap",
			cfg:     BudgetConfig{PerJobBudgetUSD: 5, DailyBudgetUSD: 10, MonthlyBudgetUSD: 1000},
			spent:   7,
			want:    3,
			limited: true,
		},
		{
			name:    "exhausted daily budget leaves zero",
			cfg:     BudgetConfig{PerJobBudgetUSD: 5, DailyBudgetUSD: 10},
			spent:   12,
			want:    0,
			limited: true,
		},
		{
			name:    "unconfigured means unlimited",
			cfg:     BudgetConfig{},
			want:    0,
			limited: false,
		},
		{
			name:    "only daily configured",
			cfg:     BudgetConfig{DailyBudgetUSD: 20},
			spent:   8,
			want:    12,
			limited: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			bm := NewBudgetManager(tt.cfg, NewMemoryCounters(), clock.Now, nil)
			if tt.spent > 0 {
				bm.RecordSpend(tt.spent)
			}
			got, limited := bm.EffectivePerJobBudget()
			if got != tt.want || limited != tt.limited {
				t.Errorf("EffectivePerJobBudget() = (%v, %v), want (%v, %v)",
					got, limited, tt.want, tt.limited)
			}
		})
	}
}

func TestSpendTotalsMonotonic(t *testing.T) {
	clock := newFakeClock()
	bm := NewBudgetManager(BudgetConfig{DailyBudgetUSD: 100}, NewMemoryCounters(), clock.Now, nil)

	bm.RecordSpend(1.5)
	bm.RecordSpend(-3) // ignored
	bm.RecordSpend(2.5)

	if got := bm.SpentToday(); got != 4 {
		t.Errorf("SpentToday() = %v, want 4", got)
	}
	if got := bm.SpentThisMonth(); got != 4 {
		t.Errorf("SpentThisMonth() = %v, want 4", got)
	}
}
