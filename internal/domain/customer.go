// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ContractType is the customer's subscription contract.
type ContractType string

const (
	ContractMonthToMonth ContractType = "Month-to-Month"
	ContractOneYear      ContractType = "One Year"
	ContractTwoYear      ContractType = "Two Year"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentBankWithdrawal PaymentMethod = "Bank Withdrawal"
	PaymentCreditCard     PaymentMethod = "Credit Card"
	PaymentMailedCheck    PaymentMethod = "Mailed Check"
)

// Gender as reported in the customer profile.
type Gender string

const (
	GenderFemale Gender = "Female"
	GenderMale   Gender = "Male"
)

// CustomerRecord is an immutable per-customer feature record supplied by the
// external store. The engine only ever reads it; a record is replaced
// wholesale, never patched.
type CustomerRecord struct {
	ID string `json:"customerId"`

	// Contract and billing
	TenureMonths  int             `json:"tenureMonths"`
	Contract      ContractType    `json:"contract"`
	MonthlyCharge decimal.Decimal `json:"monthlyCharge"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
	TotalRefunds  decimal.Decimal `json:"totalRefunds"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`

	// Engagement
	Referrals      int  `json:"numberOfReferrals"`
	Services       int  `json:"numberOfServices"`
	PremiumSupport bool `json:"premiumSupport"`

	// Demographics
	Age     int    `json:"age"`
	Gender  Gender `json:"gender"`
	Married bool   `json:"married"`
	State   string `json:"state"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Validate checks the record against the ingestion schema. Any violation is
// reported as a MissingField error so the caller can reject the single record
// without aborting its batch.
func (r *CustomerRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: customerId", ErrMissingField)
	}
	if r.TenureMonths < 0 {
		return fmt.Errorf("%w: tenureMonths must be non-negative", ErrMissingField)
	}
	switch r.Contract {
	case ContractMonthToMonth, ContractOneYear, ContractTwoYear:
	default:
		return fmt.Errorf("%w: contract %q", ErrMissingField, r.Contract)
	}
	switch r.PaymentMethod {
	case PaymentBankWithdrawal, PaymentCreditCard, PaymentMailedCheck:
	default:
		return fmt.Errorf("%w: paymentMethod %q", ErrMissingField, r.PaymentMethod)
	}
	if r.MonthlyCharge.IsNegative() {
		return fmt.Errorf("%w: monthlyCharge must be non-negative", ErrMissingField)
	}
	if r.TotalRevenue.IsNegative() {
		return fmt.Errorf("%w: totalRevenue must be non-negative", ErrMissingField)
	}
	if r.TotalRefunds.IsNegative() {
		return fmt.Errorf("%w: totalRefunds must be non-negative", ErrMissingField)
	}
	if r.Referrals < 0 {
		return fmt.Errorf("%w: numberOfReferrals must be non-negative", ErrMissingField)
	}
	if r.Services < 0 {
		return fmt.Errorf("%w: numberOfServices must be non-negative", ErrMissingField)
	}
	if r.Age <= 0 {
		return fmt.Errorf("%w: age must be positive", ErrMissingField)
	}
	switch r.Gender {
	case GenderFemale, GenderMale:
	default:
		return fmt.Errorf("%w: gender %q", ErrMissingField, r.Gender)
	}
	if r.State == "" {
		return fmt.Errorf("%w: state", ErrMissingField)
	}
	return nil
}
