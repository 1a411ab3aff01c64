package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLeverValue(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"10x", "10", false},
		{"2X", "2", false},
		{" 5x ", "5", false},
		{"1.5x", "1.5", false},
		{"", "1", false},
		{"x", "", true},
		{"0x", "", true},
		{"-2x", "", true},
		{"tenx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LeverValue(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("LeverValue(%q) err = %v, want ErrInvalidAmount", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LeverValue(%q): %v", tt.in, err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("LeverValue(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestFeaturesPayout(t *testing.T) {
	stake, pct := dec("10"), dec("20")
	tests := []struct {
		result Result
		want   string
	}{
		{ResultWin, "30"},
		{ResultDraw, "10"},
		{ResultLose, "0"},
	}
	for _, tt := range tests {
		t.Run(string(tt.result), func(t *testing.T) {
			got, err := FeaturesPayout(stake, pct, "10x", tt.result)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("payout = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := FeaturesPayout(stake, pct, "10x", "maybe"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown result err = %v", err)
	}
	if _, err := FeaturesPayout(stake, pct, "bad", ResultWin); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("bad lever on win err = %v", err)
	}
	// The lever only matters for a win.
	if got, err := FeaturesPayout(stake, pct, "bad", ResultDraw); err != nil || !got.Equal(stake) {
		t.Errorf("draw with bad lever = %s, %v", got, err)
	}
}

func TestNormalizePair(t *testing.T) {
	tests := []struct {
		in, want, base string
		wantErr        bool
	}{
		{in: "ETH/USDT", want: "ETH/USDT", base: "ETH"},
		{in: "btc / usdt", want: "BTC/USDT", base: "BTC"},
		{in: "ETHUSDT", wantErr: true},
		{in: "/USDT", wantErr: true},
		{in: "ETH/", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizePair(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPair) {
				t.Errorf("NormalizePair(%q) err = %v, want ErrInvalidPair", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizePair(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
		if base, _ := BaseAsset(tt.in); base != tt.base {
			t.Errorf("BaseAsset(%q) = %q, want %q", tt.in, base, tt.base)
		}
	}
}

func TestPledgeProjection(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := Pledge{
		Amount:            dec("100"),
		DailyYieldPercent: dec("10"),
		CycleDays:         3,
		Status:            PledgeActive,
		TotalEarned:       decimal.Zero,
		CreatedAt:         start,
		EndsAt:            start.Add(3 * day),
	}

	if got := p.DailyEarnings(); !got.Equal(dec("10")) {
		t.Errorf("daily = %s", got)
	}
	if got := p.CycleEarnings(); !got.Equal(dec("30")) {
		t.Errorf("cycle = %s", got)
	}

	checks := []struct {
		at        time.Time
		days      int
		projected string
		due       bool
	}{
		{start.Add(-time.Hour), 0, "0", false},
		{start.Add(23 * time.Hour), 0, "0", false},
		{start.Add(day + time.Hour), 1, "10", false},
		// Accrual steps once per full day; half a day adds nothing.
		{start.Add(2*day + 12*time.Hour), 2, "20", false},
		{start.Add(3 * day), 3, "30", true},
		{start.Add(10 * day), 3, "30", true},
	}
	for _, c := range checks {
		if got := p.ElapsedDays(c.at); got != c.days {
			t.Errorf("ElapsedDays(%s) = %d, want %d", c.at, got, c.days)
		}
		if got := p.Projected(c.at); !got.Equal(dec(c.projected)) {
			t.Errorf("Projected(%s) = %s, want %s", c.at, got, c.projected)
		}
		if got := p.Due(c.at); got != c.due {
			t.Errorf("Due(%s) = %v", c.at, got)
		}
	}

	// Projection never mutates.
	if !p.TotalEarned.IsZero() {
		t.Errorf("TotalEarned mutated to %s", p.TotalEarned)
	}

	done := p
	done.Status = PledgeCompleted
	done.TotalEarned = dec("30")
	if done.Due(start.Add(10 * day)) {
		t.Error("completed pledge reported due")
	}
	if got := done.Projected(start.Add(day)); !got.Equal(dec("30")) {
		t.Errorf("completed projection = %s", got)
	}
}

func TestComputePledgeStats(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(2*day + time.Hour)
	pledges := []Pledge{
		{
			Amount: dec("100"), DailyYieldPercent: dec("10"), CycleDays: 3,
			Status: PledgeActive, CreatedAt: start, EndsAt: start.Add(3 * day),
		},
		{
			Amount: dec("50"), DailyYieldPercent: dec("2"), CycleDays: 1,
			Status: PledgeCompleted, TotalEarned: dec("1"),
			CreatedAt: start, EndsAt: start.Add(day),
		},
		{
			// Ended but not yet completed: still counted as mined, no
			// earnings for today.
			Amount: dec("20"), DailyYieldPercent: dec("5"), CycleDays: 1,
			Status: PledgeActive, CreatedAt: start, EndsAt: start.Add(day),
		},
	}

	got := ComputePledgeStats(pledges, now)
	if !got.AmountMined.Equal(dec("120")) {
		t.Errorf("AmountMined = %s", got.AmountMined)
	}
	if !got.TodayEarnings.Equal(dec("10")) {
		t.Errorf("TodayEarnings = %s", got.TodayEarnings)
	}
	// 100×10%×2 + 1 + 20×5%×1
	if !got.CumulativeIncome.Equal(dec("22")) {
		t.Errorf("CumulativeIncome = %s", got.CumulativeIncome)
	}
	if got.IncomeOrder != 3 {
		t.Errorf("IncomeOrder = %d", got.IncomeOrder)
	}

	empty := ComputePledgeStats(nil, now)
	if !empty.AmountMined.IsZero() || empty.IncomeOrder != 0 {
		t.Errorf("empty stats = %+v", empty)
	}
}
