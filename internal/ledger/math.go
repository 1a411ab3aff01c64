package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

const day = 24 * time.Hour

// BaseAsset returns the asset before the "/" in pair, e.g. "ETH" for "ETH/USDT".
func BaseAsset(pair string) (string, error) {
	base, quote, ok := strings.Cut(pair, "/")
	base = strings.TrimSpace(base)
	quote = strings.TrimSpace(quote)
	if !ok || base == "" || quote == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPair, pair)
	}
	return strings.ToUpper(base), nil
}

// NormalizePair upper-cases pair and strips spaces around the separator.
func NormalizePair(pair string) (string, error) {
	base, err := BaseAsset(pair)
	if err != nil {
		return "", err
	}
	_, quote, _ := strings.Cut(pair, "/")
	return base + "/" + strings.ToUpper(strings.TrimSpace(quote)), nil
}

// LeverValue parses a lever string such as "10x" into its multiplier.
// An empty lever means no leverage.
func LeverValue(lever string) (decimal.Decimal, error) {
	s := strings.TrimSpace(lever)
	if s == "" {
		return decimal.NewFromInt(1), nil
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "x"), "X")
	v, err := decimal.NewFromString(s)
	if err != nil || !v.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: lever %q", ErrInvalidAmount, lever)
	}
	return v, nil
}

// FeaturesPayout is the amount credited back when a features order settles.
//
//	win:  stake + stake × percent/100 × lever
//	draw: stake
//	lose: 0
func FeaturesPayout(stake, percent decimal.Decimal, lever string, result Result) (decimal.Decimal, error) {
	switch result {
	case ResultWin:
		lv, err := LeverValue(lever)
		if err != nil {
			return decimal.Zero, err
		}
		return stake.Add(stake.Mul(percent).Div(hundred).Mul(lv)), nil
	case ResultDraw:
		return stake, nil
	case ResultLose:
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidInput, result)
}

// DailyEarnings is amount × dailyYieldPercent / 100.
func (p *Pledge) DailyEarnings() decimal.Decimal {
	return p.Amount.Mul(p.DailyYieldPercent).Div(hundred)
}

// ElapsedDays counts whole days since creation, capped at the cycle length.
func (p *Pledge) ElapsedDays(now time.Time) int {
	if now.Before(p.CreatedAt) {
		return 0
	}
	days := int(now.Sub(p.CreatedAt) / day)
	if days > p.CycleDays {
		return p.CycleDays
	}
	return days
}

// Projected is the earning accrued so far. It does not mutate the pledge.
func (p *Pledge) Projected(now time.Time) decimal.Decimal {
	if p.Status == PledgeCompleted {
		return p.TotalEarned
	}
	return p.DailyEarnings().Mul(decimal.NewFromInt(int64(p.ElapsedDays(now))))
}

// CycleEarnings is the full-term yield credited on completion.
func (p *Pledge) CycleEarnings() decimal.Decimal {
	return p.DailyEarnings().Mul(decimal.NewFromInt(int64(p.CycleDays)))
}

// Due reports whether an active pledge has reached its end.
func (p *Pledge) Due(now time.Time) bool {
	return p.Status == PledgeActive && !now.Before(p.EndsAt)
}

// View attaches the read-time projection to a pledge.
func (p Pledge) View(now time.Time) PledgeView {
	return PledgeView{
		Pledge:          p,
		ElapsedDays:     p.ElapsedDays(now),
		DailyEarnings:   p.DailyEarnings(),
		ProjectedEarned: p.Projected(now),
	}
}

// ComputePledgeStats derives the staking page aggregates from the pledge log.
func ComputePledgeStats(pledges []Pledge, now time.Time) PledgeStats {
	stats := PledgeStats{
		AmountMined:      decimal.Zero,
		TodayEarnings:    decimal.Zero,
		CumulativeIncome: decimal.Zero,
		IncomeOrder:      len(pledges),
	}
	for i := range pledges {
		p := &pledges[i]
		switch p.Status {
		case PledgeCompleted:
			stats.CumulativeIncome = stats.CumulativeIncome.Add(p.TotalEarned)
		case PledgeActive:
			stats.AmountMined = stats.AmountMined.Add(p.Amount)
			stats.CumulativeIncome = stats.CumulativeIncome.Add(p.Projected(now))
			if now.Before(p.EndsAt) {
				stats.TodayEarnings = stats.TodayEarnings.Add(p.DailyEarnings())
			}
		}
	}
	return stats
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
