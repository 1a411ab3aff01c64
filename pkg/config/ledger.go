package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v3"
)

// LedgerFile is the admin-maintained product configuration: staking plans,
// the features period and lever tables, and seed prices.
type LedgerFile struct {
	Plans             []PlanConfig      `yaml:"plans"`
	Periods           []PeriodConfig    `yaml:"periods"`
	Levers            []string          `yaml:"levers"`
	Prices            map[string]string `yaml:"prices"`
	AutoResolveResult string            `yaml:"autoResolveResult"`
}

// PlanConfig is one staking plan. Amounts are decimal strings.
type PlanConfig struct {
	ID                string `yaml:"id" validate:"nonzero"`
	Name              string `yaml:"name" validate:"nonzero"`
	DailyYieldPercent string `yaml:"dailyYieldPercent" validate:"nonzero"`
	CycleDays         int    `yaml:"cycleDays" validate:"min=1"`
	QuotaMin          string `yaml:"quotaMin"`
	QuotaMax          string `yaml:"quotaMax"`
}

// PeriodConfig is one row of the features period table.
type PeriodConfig struct {
	Seconds   int64  `yaml:"seconds" validate:"min=1"`
	Percent   string `yaml:"percent" validate:"nonzero"`
	MinAmount string `yaml:"minAmount"`
}

// Plan is a PlanConfig with its amounts parsed.
type Plan struct {
	ID                string
	Name              string
	DailyYieldPercent decimal.Decimal
	CycleDays         int
	QuotaMin          decimal.Decimal
	QuotaMax          decimal.Decimal
}

// Period is a PeriodConfig with its amounts parsed.
type Period struct {
	Seconds   int64
	Percent   decimal.Decimal
	MinAmount decimal.Decimal
}

// LoadLedgerFile reads and validates the YAML file at path.
func LoadLedgerFile(path string) (*LedgerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger config: %w", err)
	}
	return ParseLedgerFile(data)
}

// ParseLedgerFile decodes and validates a ledger config document.
func ParseLedgerFile(data []byte) (*LedgerFile, error) {
	var file LedgerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse ledger config: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

// Validate checks struct tags and that every amount parses.
func (f *LedgerFile) Validate() error {
	seen := make(map[string]bool, len(f.Plans))
	for i, p := range f.Plans {
		if err := validator.Validate(p); err != nil {
			return fmt.Errorf("plan %d: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("plan %q defined twice", p.ID)
		}
		seen[p.ID] = true
	}
	for i, p := range f.Periods {
		if err := validator.Validate(p); err != nil {
			return fmt.Errorf("period %d: %w", i, err)
		}
	}
	if _, err := f.ParsedPlans(); err != nil {
		return err
	}
	if _, err := f.ParsedPeriods(); err != nil {
		return err
	}
	if _, err := f.ParsedPrices(); err != nil {
		return err
	}
	switch f.AutoResolveResult {
	case "", "draw", "lose":
	default:
		return fmt.Errorf("autoResolveResult must be draw or lose, got %q", f.AutoResolveResult)
	}
	return nil
}

// ParsedPlans returns the plans with decimal amounts.
func (f *LedgerFile) ParsedPlans() ([]Plan, error) {
	out := make([]Plan, 0, len(f.Plans))
	for _, p := range f.Plans {
		yield, err := parseAmount(p.DailyYieldPercent, "plan "+p.ID+" dailyYieldPercent")
		if err != nil {
			return nil, err
		}
		qmin, err := parseAmount(p.QuotaMin, "plan "+p.ID+" quotaMin")
		if err != nil {
			return nil, err
		}
		qmax, err := parseAmount(p.QuotaMax, "plan "+p.ID+" quotaMax")
		if err != nil {
			return nil, err
		}
		if qmax.IsPositive() && qmax.LessThan(qmin) {
			return nil, fmt.Errorf("plan %s: quotaMax %s below quotaMin %s", p.ID, qmax, qmin)
		}
		out = append(out, Plan{
			ID:                p.ID,
			Name:              p.Name,
			DailyYieldPercent: yield,
			CycleDays:         p.CycleDays,
			QuotaMin:          qmin,
			QuotaMax:          qmax,
		})
	}
	return out, nil
}

// ParsedPeriods returns the period table with decimal amounts.
func (f *LedgerFile) ParsedPeriods() ([]Period, error) {
	out := make([]Period, 0, len(f.Periods))
	for _, p := range f.Periods {
		pct, err := parseAmount(p.Percent, fmt.Sprintf("period %ds percent", p.Seconds))
		if err != nil {
			return nil, err
		}
		min, err := parseAmount(p.MinAmount, fmt.Sprintf("period %ds minAmount", p.Seconds))
		if err != nil {
			return nil, err
		}
		out = append(out, Period{Seconds: p.Seconds, Percent: pct, MinAmount: min})
	}
	return out, nil
}

// ParsedPrices returns the seed prices keyed by pair.
func (f *LedgerFile) ParsedPrices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(f.Prices))
	for pair, v := range f.Prices {
		price, err := parseAmount(v, "price "+pair)
		if err != nil {
			return nil, err
		}
		if !price.IsPositive() {
			return nil, fmt.Errorf("price %s must be positive", pair)
		}
		out[pair] = price
	}
	return out, nil
}

// parseAmount reads a non-negative decimal; empty means zero.
func parseAmount(s, what string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", what, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s must not be negative", what)
	}
	return d, nil
}

// DefaultLedgerFile is used when no config file exists.
func DefaultLedgerFile() *LedgerFile {
	return &LedgerFile{
		Plans: []PlanConfig{
			{ID: "starter", Name: "Starter", DailyYieldPercent: "1", CycleDays: 7, QuotaMin: "100", QuotaMax: "10000"},
			{ID: "growth", Name: "Growth", DailyYieldPercent: "1.5", CycleDays: 30, QuotaMin: "1000", QuotaMax: "100000"},
		},
		Periods: []PeriodConfig{
			{Seconds: 30, Percent: "20", MinAmount: "10"},
			{Seconds: 60, Percent: "30", MinAmount: "50"},
			{Seconds: 120, Percent: "40", MinAmount: "100"},
			{Seconds: 300, Percent: "50", MinAmount: "500"},
		},
		Levers: []string{"1x", "2x", "5x", "10x"},
		Prices: map[string]string{
			"BTC/USDT": "65000",
			"ETH/USDT": "3200",
		},
		AutoResolveResult: "draw",
	}
}
