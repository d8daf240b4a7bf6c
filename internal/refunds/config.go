package refunds

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a refund configuration fails validation.
var ErrInvalidConfig = errors.New("refunds: invalid config")

// Tier maps a minimum lead time before check-in to a percentage. Tables list tiers in descending
// MinHours order and the first tier whose MinHours is reached wins.
type Tier struct {
	MinHours int    `yaml:"minHours" validate:"gte=0"`
	Percent  int    `yaml:"percent" validate:"gte=0,lte=100"`
	Label    string `yaml:"label,omitempty" validate:"max=160"`
}

// TierTable is an ordered set of tiers. A trailing tier with MinHours 0 acts as the floor of the
// table and also applies once check-in has passed.
type TierTable []Tier

// Clone returns a copy safe for mutation by callers.
func (t TierTable) Clone() TierTable {
	if t == nil {
		return nil
	}
	out := make(TierTable, len(t))
	copy(out, t)
	return out
}

// DepositRange bounds the arboon percentage hosts may pick for partial refundable listings.
type DepositRange struct {
	Min  int `yaml:"min" validate:"gte=0,lte=100"`
	Max  int `yaml:"max" validate:"gte=0,lte=100,gtefield=Min"`
	Step int `yaml:"step" validate:"gt=0"`
}

// Allows reports whether percent is inside the range and lands on a step.
func (r DepositRange) Allows(percent int) bool {
	if percent < r.Min || percent > r.Max {
		return false
	}
	if r.Step <= 0 {
		return true
	}
	return (percent-r.Min)%r.Step == 0
}

// Config holds every tunable number used by the engine.
type Config struct {
	ServiceFeePercent decimal.Decimal

	Flexible       TierTable
	Moderate       TierTable
	Strict         TierTable
	FullRefundable TierTable
	// PartialRules is the table applied to the non-deposit portion of partial refundable bookings.
	PartialRules TierTable
	// HostPenalty lists penalty percentages; unlike refund tables the percentage grows as check-in nears.
	HostPenalty TierTable

	Deposit DepositRange
}

// DefaultPartialRefundRules is the rule table offered to hosts configuring a partial refundable listing.
func DefaultPartialRefundRules() TierTable {
	return TierTable{
		{MinHours: 72, Percent: 100},
		{MinHours: 24, Percent: 50},
		{MinHours: 0, Percent: 0},
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ServiceFeePercent: decimal.NewFromInt(10),
		Flexible: TierTable{
			{MinHours: 48, Percent: 100},
			{MinHours: 24, Percent: 50},
			{MinHours: 0, Percent: 0},
		},
		Moderate: TierTable{
			{MinHours: 48, Percent: 100},
			{MinHours: 24, Percent: 50},
			{MinHours: 0, Percent: 0},
		},
		Strict: TierTable{
			{MinHours: 168, Percent: 50},
			{MinHours: 0, Percent: 0},
		},
		FullRefundable: TierTable{
			{MinHours: 24, Percent: 100},
			{MinHours: 0, Percent: 0},
		},
		PartialRules: DefaultPartialRefundRules(),
		HostPenalty: TierTable{
			{MinHours: 168, Percent: 0},
			{MinHours: 48, Percent: 10},
			{MinHours: 24, Percent: 25},
			{MinHours: 0, Percent: 50},
		},
		Deposit: DepositRange{Min: 10, Max: 50, Step: 5},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks ranges and tier ordering.
func (c Config) Validate() error {
	var problems []string

	if c.ServiceFeePercent.IsNegative() || c.ServiceFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		problems = append(problems, "service fee percent must be between 0 and 100")
	}
	if err := validate.Struct(c.Deposit); err != nil {
		problems = append(problems, fmt.Sprintf("deposit range: %v", err))
	}

	tables := []struct {
		name       string
		table      TierTable
		increasing bool
	}{
		{"flexible", c.Flexible, false},
		{"moderate", c.Moderate, false},
		{"strict", c.Strict, false},
		{"full_refundable", c.FullRefundable, false},
		{"partial_rules", c.PartialRules, false},
		{"host_penalty", c.HostPenalty, true},
	}
	for _, entry := range tables {
		if err := validateTable(entry.table, entry.increasing); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", entry.name, err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// validateTable enforces strictly descending thresholds. Refund tables must not grow as check-in
// approaches, penalty tables must not shrink and must end with a minHours 0 floor tier.
func validateTable(table TierTable, increasing bool) error {
	if len(table) == 0 {
		return errors.New("at least one tier is required")
	}
	for i, tier := range table {
		if err := validate.Struct(tier); err != nil {
			return fmt.Errorf("tier %d: %w", i, err)
		}
		if i == 0 {
			continue
		}
		prev := table[i-1]
		if tier.MinHours >= prev.MinHours {
			return fmt.Errorf("tier %d: minHours must be lower than %d", i, prev.MinHours)
		}
		if !increasing && tier.Percent > prev.Percent {
			return fmt.Errorf("tier %d: percent must not exceed %d", i, prev.Percent)
		}
		if increasing && tier.Percent < prev.Percent {
			return fmt.Errorf("tier %d: percent must be at least %d", i, prev.Percent)
		}
	}
	if last := len(table) - 1; increasing && table[last].MinHours != 0 {
		return fmt.Errorf("tier %d: last tier must have minHours 0", last)
	}
	return nil
}

type fileConfig struct {
	ServiceFeePercent *float64 `yaml:"serviceFeePercent" validate:"omitempty,gte=0,lte=100"`
	Tiers             struct {
		Flexible       TierTable `yaml:"flexible" validate:"dive"`
		Moderate       TierTable `yaml:"moderate" validate:"dive"`
		Strict         TierTable `yaml:"strict" validate:"dive"`
		FullRefundable TierTable `yaml:"fullRefundable" validate:"dive"`
		PartialDefault TierTable `yaml:"partialDefault" validate:"dive"`
	} `yaml:"tiers"`
	HostPenalty TierTable     `yaml:"hostPenalty" validate:"dive"`
	Deposit     *DepositRange `yaml:"deposit"`
}

// ParseConfig overlays YAML content onto base. Sections absent from the document keep their base values.
func ParseConfig(data []byte, base Config) (Config, error) {
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("%w: parse yaml: %v", ErrInvalidConfig, err)
	}
	if err := validate.Struct(file); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := base
	if file.ServiceFeePercent != nil {
		cfg.ServiceFeePercent = decimal.NewFromFloat(*file.ServiceFeePercent)
	}
	overlay := func(dst *TierTable, src TierTable) {
		if len(src) > 0 {
			*dst = src.Clone()
		}
	}
	overlay(&cfg.Flexible, file.Tiers.Flexible)
	overlay(&cfg.Moderate, file.Tiers.Moderate)
	overlay(&cfg.Strict, file.Tiers.Strict)
	overlay(&cfg.FullRefundable, file.Tiers.FullRefundable)
	overlay(&cfg.PartialRules, file.Tiers.PartialDefault)
	overlay(&cfg.HostPenalty, file.HostPenalty)
	if file.Deposit != nil {
		cfg.Deposit = *file.Deposit
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML policy file from disk and overlays it onto base.
func LoadConfigFile(path string, base Config) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return base, base.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("refunds: read policy file %s: %w", path, err)
	}
	return ParseConfig(data, base)
}
