// Package aggregate builds decision-ready rollups over scored customers.
package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-telco/kestrel/internal/domain"
)

// Aggregator computes an AggregateReport as a pure function of a scored
// customer set. Nothing accumulates across calls: every report is rebuilt
// from scratch, so re-running on the same input yields the same report.
type Aggregator struct {
	topN       int
	atRisk     map[domain.RiskTier]bool
	partitions int
}

// New creates an aggregator from scoring configuration.
func New(cfg domain.ScoringConfig) *Aggregator {
	topN := cfg.TopN
	if topN <= 0 {
		topN = 20
	}

	atRisk := make(map[domain.RiskTier]bool, len(cfg.AtRiskTiers))
	for _, tier := range cfg.AtRiskTiers {
		atRisk[tier] = true
	}
	if len(atRisk) == 0 {
		// Policy default: only actionable risk bands count as revenue at
		// risk. Summing all four tiers would overstate exposure.
		atRisk[domain.TierHigh] = true
		atRisk[domain.TierCritical] = true
	}

	partitions := cfg.MaxWorkers
	if partitions <= 0 {
		partitions = 8
	}

	return &Aggregator{
		topN:       topN,
		atRisk:     atRisk,
		partitions: partitions,
	}
}

// partial is one partition's accumulator. All numeric fields are merged with
// associative, order-independent addition (integer counts and exact
// decimals), so parallel partials combine to the same totals as a single
// sequential pass.
type partial struct {
	tiers        [4]int
	probSum      decimal.Decimal
	revenueRisk  decimal.Decimal
	monthlyRisk  decimal.Decimal
	dims         map[string]map[string]*groupAccum
	factorCounts map[string]int
}

type groupAccum struct {
	count   int
	revenue decimal.Decimal
}

func newPartial() *partial {
	p := &partial{
		dims:         make(map[string]map[string]*groupAccum),
		factorCounts: make(map[string]int),
		probSum:      decimal.Zero,
		revenueRisk:  decimal.Zero,
		monthlyRisk:  decimal.Zero,
	}
	for _, dim := range dimensionNames() {
		p.dims[dim] = make(map[string]*groupAccum)
	}
	return p
}

func (p *partial) add(sc *domain.ScoredCustomer, atRisk map[domain.RiskTier]bool) {
	p.tiers[sc.Tier]++
	p.probSum = p.probSum.Add(decimal.NewFromFloat(sc.Probability))

	if atRisk[sc.Tier] {
		p.revenueRisk = p.revenueRisk.Add(sc.Customer.TotalRevenue)
		p.monthlyRisk = p.monthlyRisk.Add(sc.Customer.MonthlyCharge)
	}

	p.bump(domain.DimState, sc.Customer.State, sc)
	p.bump(domain.DimAgeBand, ageBand(sc.Customer.Age), sc)
	p.bump(domain.DimGender, string(sc.Customer.Gender), sc)
	p.bump(domain.DimMaritalStatus, maritalKey(sc.Customer.Married), sc)
	p.bump(domain.DimContract, string(sc.Customer.Contract), sc)
	p.bump(domain.DimTenureBand, tenureBand(sc.Customer.TenureMonths), sc)
	p.bump(domain.DimPaymentMethod, string(sc.Customer.PaymentMethod), sc)

	for _, f := range sc.Factors {
		p.factorCounts[f.Name]++
	}
}

func (p *partial) bump(dim, key string, sc *domain.ScoredCustomer) {
	g := p.dims[dim][key]
	if g == nil {
		g = &groupAccum{revenue: decimal.Zero}
		p.dims[dim][key] = g
	}
	g.count++
	g.revenue = g.revenue.Add(sc.Customer.TotalRevenue)
}

func (p *partial) merge(other *partial) {
	for i := range p.tiers {
		p.tiers[i] += other.tiers[i]
	}
	p.probSum = p.probSum.Add(other.probSum)
	p.revenueRisk = p.revenueRisk.Add(other.revenueRisk)
	p.monthlyRisk = p.monthlyRisk.Add(other.monthlyRisk)

	for dim, groups := range other.dims {
		for key, g := range groups {
			dst := p.dims[dim][key]
			if dst == nil {
				dst = &groupAccum{revenue: decimal.Zero}
				p.dims[dim][key] = dst
			}
			dst.count += g.count
			dst.revenue = dst.revenue.Add(g.revenue)
		}
	}
	for name, count := range other.factorCounts {
		p.factorCounts[name] += count
	}
}

// Build computes the report for a scored set. An empty set is valid and
// yields a zero report with all four tiers present.
func (a *Aggregator) Build(tenantID, runID string, scored []domain.ScoredCustomer) *domain.AggregateReport {
	total := newPartial()

	if len(scored) > 0 {
		chunks := a.partitions
		if chunks > len(scored) {
			chunks = len(scored)
		}

		partials := make([]*partial, chunks)
		var wg sync.WaitGroup
		size := (len(scored) + chunks - 1) / chunks
		for c := 0; c < chunks; c++ {
			lo := c * size
			hi := lo + size
			if hi > len(scored) {
				hi = len(scored)
			}
			wg.Add(1)
			go func(idx, lo, hi int) {
				defer wg.Done()
				part := newPartial()
				for i := lo; i < hi; i++ {
					part.add(&scored[i], a.atRisk)
				}
				partials[idx] = part
			}(c, lo, hi)
		}
		wg.Wait()

		// Merge in fixed partition order; addition over counts and exact
		// decimals is order-independent anyway.
		for _, part := range partials {
			if part != nil {
				total.merge(part)
			}
		}
	}

	report := &domain.AggregateReport{
		ID:                   uuid.New().String(),
		TenantID:             tenantID,
		RunID:                runID,
		GeneratedAt:          time.Now().UTC(),
		TotalCustomers:       len(scored),
		TierCounts:           tierCounts(total.tiers),
		RevenueAtRisk:        total.revenueRisk,
		MonthlyRevenueAtRisk: total.monthlyRisk,
		Dimensions:           dimensionRollups(total.dims),
		TopFactors:           factorCounts(total.factorCounts),
		TopCustomers:         a.topCustomers(scored),
		InputDigest:          Digest(scored),
	}

	if len(scored) > 0 {
		report.MeanProbability = total.probSum.
			Div(decimal.NewFromInt(int64(len(scored)))).
			InexactFloat64()
	}

	return report
}

// tierCounts always emits all four tiers, zero or not.
func tierCounts(counts [4]int) []domain.TierCount {
	out := make([]domain.TierCount, 0, len(counts))
	for _, tier := range domain.AllTiers() {
		out = append(out, domain.TierCount{Tier: tier, Count: counts[tier]})
	}
	return out
}

// dimensionRollups emits dimensions in fixed order, groups sorted by key.
// Zero-member groups never exist in the accumulator, so they are omitted by
// construction.
func dimensionRollups(dims map[string]map[string]*groupAccum) []domain.DimensionRollup {
	out := make([]domain.DimensionRollup, 0, len(dims))
	for _, dim := range dimensionNames() {
		groups := dims[dim]
		keys := make([]string, 0, len(groups))
		for key := range groups {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		rollup := domain.DimensionRollup{Dimension: dim, Groups: make([]domain.GroupCount, 0, len(keys))}
		for _, key := range keys {
			g := groups[key]
			rollup.Groups = append(rollup.Groups, domain.GroupCount{
				Key:     key,
				Count:   g.count,
				Revenue: g.revenue,
			})
		}
		out = append(out, rollup)
	}
	return out
}

func factorCounts(counts map[string]int) []domain.FactorCount {
	out := make([]domain.FactorCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, domain.FactorCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// topCustomers produces the prioritized list: probability descending, ties
// broken by customer ID ascending, capped at topN. The sort runs on a copy
// after all parallel work completes; it never depends on goroutine order.
func (a *Aggregator) topCustomers(scored []domain.ScoredCustomer) []domain.PriorityCustomer {
	ordered := make([]*domain.ScoredCustomer, len(scored))
	for i := range scored {
		ordered[i] = &scored[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Probability != ordered[j].Probability {
			return ordered[i].Probability > ordered[j].Probability
		}
		return ordered[i].Customer.ID < ordered[j].Customer.ID
	})

	n := a.topN
	if n > len(ordered) {
		n = len(ordered)
	}

	out := make([]domain.PriorityCustomer, 0, n)
	for _, sc := range ordered[:n] {
		out = append(out, FlattenCustomer(sc))
	}
	return out
}

// FlattenCustomer converts a scored customer into the flat tabular export
// row, factor names joined for flat formats.
func FlattenCustomer(sc *domain.ScoredCustomer) domain.PriorityCustomer {
	names := make([]string, 0, len(sc.Factors))
	for _, f := range sc.Factors {
		names = append(names, f.Name)
	}
	return domain.PriorityCustomer{
		CustomerID:    sc.Customer.ID,
		MonthlyCharge: sc.Customer.MonthlyCharge,
		TotalRevenue:  sc.Customer.TotalRevenue,
		TotalRefunds:  sc.Customer.TotalRefunds,
		Referrals:     sc.Customer.Referrals,
		TenureMonths:  sc.Customer.TenureMonths,
		Probability:   sc.Probability,
		Tier:          sc.Tier,
		Factors:       strings.Join(names, ", "),
	}
}

// Digest computes the memoization key for a scored set. It is independent of
// input order so sequential and parallel pipelines key identically. Every
// field the report reads is part of the key: two sets may only share a digest
// when Build would produce the same report for both. Run-scoped fields
// (RunID, ScoredAt) stay out so identical batches memoize across runs.
func Digest(scored []domain.ScoredCustomer) string {
	lines := make([]string, 0, len(scored))
	for i := range scored {
		sc := &scored[i]
		names := make([]string, 0, len(sc.Factors))
		for _, f := range sc.Factors {
			names = append(names, f.Name)
		}
		lines = append(lines, fmt.Sprintf("%s|%.17g|%s|%s|%s|%s|%d|%d|%d|%s|%t|%s|%s|%s|%s",
			sc.Customer.ID, sc.Probability, sc.Tier,
			sc.Customer.MonthlyCharge.String(),
			sc.Customer.TotalRevenue.String(),
			sc.Customer.TotalRefunds.String(),
			sc.Customer.Referrals,
			sc.Customer.TenureMonths,
			sc.Customer.Age,
			sc.Customer.Gender,
			sc.Customer.Married,
			sc.Customer.State,
			sc.Customer.Contract,
			sc.Customer.PaymentMethod,
			strings.Join(names, ","),
		))
	}
	sort.Strings(lines)

	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func ageBand(age int) string {
	switch {
	case age < 30:
		return "<30"
	case age < 40:
		return "30-40"
	case age < 50:
		return "40-50"
	case age < 60:
		return "50-60"
	default:
		return ">60"
	}
}

func tenureBand(months int) string {
	switch {
	case months < 6:
		return "<6"
	case months < 12:
		return "6-12"
	case months < 24:
		return "12-24"
	default:
		return "24+"
	}
}

func maritalKey(married bool) string {
	if married {
		return "Married"
	}
	return "Single"
}

func dimensionNames() []string {
	return []string{
		domain.DimState,
		domain.DimAgeBand,
		domain.DimGender,
		domain.DimMaritalStatus,
		domain.DimContract,
		domain.DimTenureBand,
		domain.DimPaymentMethod,
	}
}
