// Package factors provides the CEL-Go based risk factor attribution engine.
package factors

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-telco/kestrel/internal/domain"
)

// Engine evaluates the ordered factor rule catalogue against customer
// records. Rules are compiled once at load time; Attribute itself is a pure,
// deterministic transform of the record and probability.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled []*CompiledRule // catalogue order: ascending Order, then ID
}

// CompiledRule holds a pre-compiled CEL predicate.
type CompiledRule struct {
	Rule    *domain.FactorRule
	Program cel.Program
}

// NewEngine creates a new attribution engine.
func NewEngine() (*Engine, error) {
	// CEL environment exposing the customer record fields. `probability` is
	// available only for rules explicitly defined as probability-based.
	env, err := cel.NewEnv(
		cel.Variable("tenure", cel.IntType),
		cel.Variable("contract", cel.StringType),
		cel.Variable("monthly_charge", cel.DoubleType),
		cel.Variable("total_revenue", cel.DoubleType),
		cel.Variable("total_refunds", cel.DoubleType),
		cel.Variable("referrals", cel.IntType),
		cel.Variable("services", cel.IntType),
		cel.Variable("premium_support", cel.BoolType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("age", cel.IntType),
		cel.Variable("gender", cel.StringType),
		cel.Variable("married", cel.BoolType),
		cel.Variable("state", cel.StringType),
		cel.Variable("probability", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// ValidateRule compiles a rule without mutating the loaded catalogue.
func (e *Engine) ValidateRule(rule *domain.FactorRule) error {
	if rule == nil {
		return fmt.Errorf("%w: factor rule is required", domain.ErrConfiguration)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRules compiles the rule set and replaces the active catalogue. Rules
// are ordered by their catalogue position regardless of input order, so
// attribution output is stable across reloads from any source.
func (e *Engine) LoadRules(rules []*domain.FactorRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled := make([]*CompiledRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		cr, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		compiled = append(compiled, cr)
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		if compiled[i].Rule.Order != compiled[j].Rule.Order {
			return compiled[i].Rule.Order < compiled[j].Rule.Order
		}
		return compiled[i].Rule.ID < compiled[j].Rule.ID
	})

	e.compiled = compiled
	return nil
}

// ReloadRules is LoadRules; it exists for symmetry with the hot-reload API.
func (e *Engine) ReloadRules(rules []*domain.FactorRule) error {
	return e.LoadRules(rules)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the active catalogue in evaluation order.
func (e *Engine) LoadedRules() []*domain.FactorRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FactorRule, 0, len(e.compiled))
	for _, cr := range e.compiled {
		rules = append(rules, cr.Rule)
	}
	return rules
}

// Attribute evaluates the catalogue against one customer record and returns
// the triggered factors in catalogue order. An empty result is valid: a
// low-risk customer may trigger nothing. Rank is the factor's position in
// the returned list.
func (e *Engine) Attribute(record *domain.CustomerRecord, probability float64) ([]domain.RiskFactor, error) {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	if len(compiled) == 0 {
		return nil, nil
	}

	activation := map[string]any{
		"tenure":          int64(record.TenureMonths),
		"contract":        string(record.Contract),
		"monthly_charge":  record.MonthlyCharge.InexactFloat64(),
		"total_revenue":   record.TotalRevenue.InexactFloat64(),
		"total_refunds":   record.TotalRefunds.InexactFloat64(),
		"referrals":       int64(record.Referrals),
		"services":        int64(record.Services),
		"premium_support": record.PremiumSupport,
		"payment_method":  string(record.PaymentMethod),
		"age":             int64(record.Age),
		"gender":          string(record.Gender),
		"married":         record.Married,
		"state":           record.State,
		"probability":     probability,
	}

	var factors []domain.RiskFactor
	for _, cr := range compiled {
		out, _, err := cr.Program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("rule %s failed for customer %s: %w", cr.Rule.ID, record.ID, err)
		}

		triggered, ok := out.(types.Bool)
		if !ok {
			return nil, fmt.Errorf("rule %s returned non-bool for customer %s", cr.Rule.ID, record.ID)
		}
		if !bool(triggered) {
			continue
		}

		factors = append(factors, domain.RiskFactor{
			Name:   cr.Rule.Name,
			Weight: cr.Rule.Weight,
			Rank:   len(factors) + 1,
		})
	}

	return factors, nil
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = nil
	return nil
}

func (e *Engine) compileRule(rule *domain.FactorRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", domain.ErrConfiguration, rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s must be a bool predicate, got %s", domain.ErrConfiguration, rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create program for rule %s: %v", domain.ErrConfiguration, rule.ID, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}
