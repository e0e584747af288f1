// ABOUTME: YAML-backed process configuration: oracle pool, capability groups, and default budgets.
// ABOUTME: Uses gopkg.in/yaml.v3 for parsing, matching this codebase's structured-YAML export/import convention.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/quoracle/internal/budget"
	"github.com/2389-research/quoracle/internal/oracle"
)

// ModelFamily is the YAML shape of one model family's temperature schedule.
type ModelFamily struct {
	Name           string  `yaml:"name"`
	MaxTemperature float64 `yaml:"max_temperature"`
	TempFloor      float64 `yaml:"temp_floor"`
}

// CapabilityGroup names one gated action set and the action names it grants.
type CapabilityGroup struct {
	Name    string   `yaml:"name"`
	Actions []string `yaml:"actions"`
}

// BudgetDefaults is the root agent's starting budget allocation.
type BudgetDefaults struct {
	Mode      string   `yaml:"mode"` // root | allocated | na
	Allocated *float64 `yaml:"allocated,omitempty"`
}

// Config is the top-level process configuration: the oracle pool, the
// capability taxonomy, default budget, and a grace-period warning threshold
// (GraceWarnSeconds). GraceWarnSeconds is parsed but not read anywhere in
// this module; supervisor shutdown waits without a bound regardless.
type Config struct {
	Models              []string          `yaml:"models"`
	Families            []ModelFamily     `yaml:"families"`
	CapabilityGroups    []CapabilityGroup `yaml:"capability_groups"`
	AllowedBaseActions  []string          `yaml:"allowed_base_actions"`
	Budget              BudgetDefaults    `yaml:"budget"`
	DataDir             string            `yaml:"data_dir"`
	GraceWarnSeconds    int               `yaml:"grace_warn_seconds"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks structural invariants Load cannot express via tags alone.
func (c Config) Validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: at least one model is required")
	}
	switch budget.Mode(c.Budget.Mode) {
	case budget.ModeRoot, budget.ModeAllocated, budget.ModeNA, "":
	default:
		return fmt.Errorf("config: unknown budget mode %q", c.Budget.Mode)
	}
	if budget.Mode(c.Budget.Mode) == budget.ModeAllocated && c.Budget.Allocated == nil {
		return fmt.Errorf("config: budget mode %q requires an allocated ceiling", c.Budget.Mode)
	}
	return nil
}

// Pool builds an oracle.Pool from the configured models and families.
func (c Config) Pool() oracle.Pool {
	families := make(map[string]oracle.Family, len(c.Families))
	for _, f := range c.Families {
		families[f.Name] = oracle.Family{Name: f.Name, MaxTemperature: f.MaxTemperature, TempFloor: f.TempFloor}
	}
	return oracle.Pool{Models: append([]string(nil), c.Models...), FamilyOf: families}
}

// RootBudget builds the Budget value for a freshly started root agent.
func (c Config) RootBudget() budget.Budget {
	mode := budget.Mode(c.Budget.Mode)
	if mode == "" {
		mode = budget.ModeRoot
	}
	b := budget.Budget{Mode: mode}
	if mode != budget.ModeNA {
		zero := 0.0
		b.Committed = &zero
		if mode == budget.ModeAllocated {
			alloc := *c.Budget.Allocated
			b.Allocated = &alloc
		}
	}
	return b
}

// CapabilityActions returns the union of action names granted by the named
// capability groups, in addition to AllowedBaseActions.
func (c Config) CapabilityActions(groups []string) []string {
	byName := make(map[string][]string, len(c.CapabilityGroups))
	for _, g := range c.CapabilityGroups {
		byName[g.Name] = g.Actions
	}

	seen := make(map[string]bool)
	out := append([]string(nil), c.AllowedBaseActions...)
	for _, a := range out {
		seen[a] = true
	}
	for _, name := range groups {
		for _, action := range byName[name] {
			if !seen[action] {
				seen[action] = true
				out = append(out, action)
			}
		}
	}
	return out
}
