package factors

import "github.com/opensource-telco/kestrel/internal/domain"

// DefaultCatalogue returns the built-in factor rule catalogue. Tenants can
// replace it through the repository and the rules API; this set is loaded
// when a tenant has configured nothing.
//
// Catalogue order is the reporting order. Only the final rule reads the
// probability; every other predicate depends on the record alone so
// attribution stays interpretable independent of the classifier.
func DefaultCatalogue() []*domain.FactorRule {
	return []*domain.FactorRule{
		{
			ID:          "contract-month-to-month",
			Name:        "Month-to-Month Contract",
			Description: "No commitment beyond the current month",
			Expression:  `contract == "Month-to-Month"`,
			Weight:      0.9,
			Order:       10,
			Enabled:     true,
		},
		{
			ID:          "no-premium-support",
			Name:        "No Premium Support",
			Description: "Customer has not purchased premium support",
			Expression:  `!premium_support`,
			Weight:      0.7,
			Order:       20,
			Enabled:     true,
		},
		{
			ID:          "few-services",
			Name:        "Few Subscribed Services",
			Description: "Fewer than three subscribed services",
			Expression:  `services < 3`,
			Weight:      0.6,
			Order:       30,
			Enabled:     true,
		},
		{
			ID:          "new-customer",
			Name:        "New Customer",
			Description: "Tenure under six months",
			Expression:  `tenure < 6`,
			Weight:      0.8,
			Order:       40,
			Enabled:     true,
		},
		{
			ID:          "high-monthly-charge",
			Name:        "High Monthly Charge",
			Description: "Monthly charge above the high-charge threshold",
			Expression:  `monthly_charge > 100.0`,
			Weight:      0.5,
			Order:       50,
			Enabled:     true,
		},
		{
			ID:          "refunds-issued",
			Name:        "Refunds Issued",
			Description: "Customer has received refunds",
			Expression:  `total_refunds > 0.0`,
			Weight:      0.4,
			Order:       60,
			Enabled:     true,
		},
		{
			ID:          "no-referrals",
			Name:        "No Referrals",
			Description: "Customer has never referred anyone",
			Expression:  `referrals == 0`,
			Weight:      0.3,
			Order:       70,
			Enabled:     true,
		},
		{
			ID:          "high-overall-risk",
			Name:        "High Overall Risk",
			Description: "Classifier probability in the Critical band",
			Expression:  `probability >= 0.70`,
			Weight:      1.0,
			Order:       80,
			Enabled:     true,
		},
	}
}
