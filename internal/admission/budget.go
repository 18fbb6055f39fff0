package admission

import (
	"fmt"
	"time"

	"github.com/fixwright/fixwright/internal/logging"
)

// BudgetConfig holds the spend caps in USD. A zero cap disables that
// dimension.
type BudgetConfig struct {
	DailyBudgetUSD   float64
	MonthlyBudgetUSD float64
	PerJobBudgetUSD  float64
}

// BudgetManager tracks cumulative AI spend against daily and monthly
// caps and computes the budget a single job may consume.
type BudgetManager struct {
	cfg      BudgetConfig
	counters CounterStore
	clock    Clock
	logger   *logging.Logger
}

// NewBudgetManager creates a budget manager over the given counter
// store. A nil clock defaults to time.Now.
func NewBudgetManager(cfg BudgetConfig, counters CounterStore, clock Clock, logger *logging.Logger) *BudgetManager {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &BudgetManager{cfg: cfg, counters: counters, clock: clock, logger: logger}
}

// CanProceed reports whether cumulative spend is still under both the
// daily and monthly caps.
func (b *BudgetManager) CanProceed() Decision {
	now := b.clock()

	if b.cfg.DailyBudgetUSD > 0 {
		spent := b.counters.Get(spendDayKey(now))
		if spent >= b.cfg.DailyBudgetUSD {
			return Decision{
				Reason: fmt.Sprintf("daily budget exhausted ($%.2f/$%.2f)", spent, b.cfg.DailyBudgetUSD),
				Count:  spent,
				Limit:  b.cfg.DailyBudgetUSD,
			}
		}
	}

	if b.cfg.MonthlyBudgetUSD > 0 {
		spent := b.counters.Get(spendMonthKey(now))
		if spent >= b.cfg.MonthlyBudgetUSD {
			return Decision{
				Reason: fmt.Sprintf("monthly budget exhausted ($%.2f/$%.2f)", spent, b.cfg.MonthlyBudgetUSD),
				Count:  spent,
				Limit:  b.cfg.MonthlyBudgetUSD,
			}
		}
	}

	return Decision{Allowed: true}
}

// EffectivePerJobBudget returns the most a single job may spend right
// now: the per-job cap shrunk to whatever remains of the daily and
// monthly budgets. Zero means no spending headroom is left; a wholly
// unconfigured manager returns 0 with ok=false meaning unlimited.
func (b *BudgetManager) EffectivePerJobBudget() (budget float64, ok bool) {
	now := b.clock()

	limited := false
	budget = b.cfg.PerJobBudgetUSD
	if budget > 0 {
		limited = true
	}

	if b.cfg.DailyBudgetUSD > 0 {
		remaining := b.cfg.DailyBudgetUSD - b.counters.Get(spendDayKey(now))
		if remaining < 0 {
			remaining = 0
		}
		if !limited || remaining < budget {
			budget = remaining
		}
		limited = true
	}

	if b.cfg.MonthlyBudgetUSD > 0 {
		remaining := b.cfg.MonthlyBudgetUSD - b.counters.Get(spendMonthKey(now))
		if remaining < 0 {
			remaining = 0
		}
		if !limited || remaining < budget {
			budget = remaining
		}
		limited = true
	}

	return budget, limited
}

// RecordSpend adds usd to today's and this month's spend totals.
func (b *BudgetManager) RecordSpend(usd float64) {
	if usd <= 0 {
		return
	}
	now := b.clock()
	b.counters.Add(spendDayKey(now), usd)
	b.counters.Add(spendMonthKey(now), usd)
	b.logger.Debug("recorded spend",
		"usd", usd,
		"daily_total", b.counters.Get(spendDayKey(now)),
		"monthly_total", b.counters.Get(spendMonthKey(now)),
	)
}

// SpentToday returns today's cumulative spend.
func (b *BudgetManager) SpentToday() float64 {
	return b.counters.Get(spendDayKey(b.clock()))
}

// SpentThisMonth returns this month's cumulative spend.
func (b *BudgetManager) SpentThisMonth() float64 {
	return b.counters.Get(spendMonthKey(b.clock()))
}

func spendDayKey(t time.Time) string {
	return "spend:" + dayKey(t)
}

func spendMonthKey(t time.Time) string {
	return "spend:" + monthKey(t)
}
