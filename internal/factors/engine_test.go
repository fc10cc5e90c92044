package factors

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-telco/kestrel/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	if err := engine.LoadRules(DefaultCatalogue()); err != nil {
		t.Fatalf("failed to load default catalogue: %v", err)
	}
	return engine
}

func riskyCustomer() *domain.CustomerRecord {
	return &domain.CustomerRecord{
		ID:             "CUST-0001",
		TenureMonths:   3,
		Contract:       domain.ContractMonthToMonth,
		MonthlyCharge:  decimal.NewFromFloat(112.50),
		TotalRevenue:   decimal.NewFromFloat(337.50),
		TotalRefunds:   decimal.NewFromFloat(25.00),
		PaymentMethod:  domain.PaymentMailedCheck,
		Referrals:      0,
		Services:       2,
		PremiumSupport: false,
		Age:            27,
		Gender:         domain.GenderFemale,
		Married:        false,
		State:          "TX",
	}
}

func loyalCustomer() *domain.CustomerRecord {
	return &domain.CustomerRecord{
		ID:             "CUST-0002",
		TenureMonths:   34,
		Contract:       domain.ContractTwoYear,
		MonthlyCharge:  decimal.NewFromFloat(65.00),
		TotalRevenue:   decimal.NewFromFloat(2210.00),
		TotalRefunds:   decimal.Zero,
		PaymentMethod:  domain.PaymentCreditCard,
		Referrals:      4,
		Services:       6,
		PremiumSupport: true,
		Age:            52,
		Gender:         domain.GenderMale,
		Married:        true,
		State:          "CA",
	}
}

func TestAttributeCatalogueOrder(t *testing.T) {
	engine := newTestEngine(t)

	factors, err := engine.Attribute(riskyCustomer(), 0.82)
	if err != nil {
		t.Fatalf("attribution failed: %v", err)
	}

	// Every catalogue entry fires for this customer; output must follow
	// catalogue order, not weight magnitude.
	wantNames := []string{
		"Month-to-Month Contract",
		"No Premium Support",
		"Few Subscribed Services",
		"New Customer",
		"High Monthly Charge",
		"Refunds Issued",
		"No Referrals",
		"High Overall Risk",
	}

	if len(factors) != len(wantNames) {
		t.Fatalf("expected %d factors, got %d", len(wantNames), len(factors))
	}
	for i, f := range factors {
		if f.Name != wantNames[i] {
			t.Errorf("factor %d = %q, want %q", i, f.Name, wantNames[i])
		}
		if f.Rank != i+1 {
			t.Errorf("factor %q rank = %d, want %d", f.Name, f.Rank, i+1)
		}
	}
}

func TestAttributeZeroFactorsIsValid(t *testing.T) {
	engine := newTestEngine(t)

	factors, err := engine.Attribute(loyalCustomer(), 0.05)
	if err != nil {
		t.Fatalf("attribution failed: %v", err)
	}
	if len(factors) != 0 {
		t.Errorf("expected no factors for a loyal customer, got %v", factors)
	}
}

func TestAttributeDeterministic(t *testing.T) {
	engine := newTestEngine(t)
	record := riskyCustomer()

	first, err := engine.Attribute(record, 0.64)
	if err != nil {
		t.Fatalf("attribution failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := engine.Attribute(record, 0.64)
		if err != nil {
			t.Fatalf("run %d: attribution failed: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d: factor list diverged:\nfirst: %v\nagain: %v", i, first, again)
		}
	}
}

func TestProbabilityRuleOnly(t *testing.T) {
	engine := newTestEngine(t)

	// Below the Critical band the probability-based rule must not fire.
	factors, err := engine.Attribute(riskyCustomer(), 0.64)
	if err != nil {
		t.Fatalf("attribution failed: %v", err)
	}
	for _, f := range factors {
		if f.Name == "High Overall Risk" {
			t.Errorf("High Overall Risk fired at probability 0.64")
		}
	}

	// At exactly 0.70 it fires.
	factors, err = engine.Attribute(riskyCustomer(), 0.70)
	if err != nil {
		t.Fatalf("attribution failed: %v", err)
	}
	found := false
	for _, f := range factors {
		if f.Name == "High Overall Risk" {
			found = true
		}
	}
	if !found {
		t.Errorf("High Overall Risk did not fire at probability 0.70")
	}
}

func TestLoadRulesOrdersCatalogue(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	// Load in reverse order; the engine must re-sort by catalogue position.
	rules := DefaultCatalogue()
	for i, j := 0, len(rules)-1; i < j; i, j = i+1, j-1 {
		rules[i], rules[j] = rules[j], rules[i]
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	loaded := engine.LoadedRules()
	for i := 1; i < len(loaded); i++ {
		if loaded[i-1].Order > loaded[i].Order {
			t.Fatalf("catalogue not ordered: %d before %d", loaded[i-1].Order, loaded[i].Order)
		}
	}
}

func TestLoadRulesSkipsDisabled(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	rules := DefaultCatalogue()
	rules[0].Enabled = false
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	if engine.RulesCount() != len(rules)-1 {
		t.Errorf("expected %d rules, got %d", len(rules)-1, engine.RulesCount())
	}
}

func TestValidateRule(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	t.Run("InvalidCEL", func(t *testing.T) {
		err := engine.ValidateRule(&domain.FactorRule{
			ID:         "broken",
			Expression: "this is not valid CEL !!!",
			Enabled:    true,
		})
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	})

	t.Run("NonBool", func(t *testing.T) {
		err := engine.ValidateRule(&domain.FactorRule{
			ID:         "non-bool",
			Expression: "monthly_charge * 2.0",
			Enabled:    true,
		})
		if !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("expected ErrConfiguration for non-bool expression, got %v", err)
		}
	})

	t.Run("Valid", func(t *testing.T) {
		err := engine.ValidateRule(&domain.FactorRule{
			ID:         "mailed-check",
			Expression: `payment_method == "Mailed Check"`,
			Enabled:    true,
		})
		if err != nil {
			t.Errorf("expected valid rule, got %v", err)
		}
	})
}
