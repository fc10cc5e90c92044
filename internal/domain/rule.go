package domain

// FactorRule is one entry of the risk-factor catalogue. Expression is a CEL
// predicate over the customer record variables (plus `probability` for rules
// explicitly defined as probability-based). Order fixes the catalogue
// position; attribution output follows it, never the trigger magnitude.
type FactorRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression; must evaluate to bool
	Expression string `json:"expression"`

	// Contribution weight reported with the factor
	Weight float64 `json:"weight"`

	// Catalogue position, ascending
	Order int `json:"order"`

	// Whether the rule is active
	Enabled bool `json:"enabled"`
}
