// Benchmark tool for load-testing Kestrel with synthetic churn data.
//
// Usage:
//   go run cmd/benchmark/main.go -customers 50000 -url http://localhost:8080
//
// This tool:
//   1. Generates a seeded synthetic customer population with churn probabilities
//   2. Sends batches to Kestrel's /score endpoint
//   3. Verifies the returned tier distribution against the locally computed one
//   4. Reports latency, throughput, and revenue-at-risk totals
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
)

// SyntheticCustomer mirrors the /score request record shape.
type SyntheticCustomer struct {
	CustomerID     string  `json:"customerId"`
	TenureMonths   int     `json:"tenureMonths"`
	Contract       string  `json:"contract"`
	MonthlyCharge  string  `json:"monthlyCharge"`
	TotalRevenue   string  `json:"totalRevenue"`
	TotalRefunds   string  `json:"totalRefunds"`
	PaymentMethod  string  `json:"paymentMethod"`
	Referrals      int     `json:"numberOfReferrals"`
	Services       int     `json:"numberOfServices"`
	PremiumSupport bool    `json:"premiumSupport"`
	Age            int     `json:"age"`
	Gender         string  `json:"gender"`
	Married        bool    `json:"married"`
	State          string  `json:"state"`
	Probability    float64 `json:"churnProbability"`
}

// ScoreRequest is the Kestrel API request format.
type ScoreRequest struct {
	Customers []SyntheticCustomer `json:"customers"`
}

// ScoreResponse is the subset of the Kestrel API response the benchmark reads.
type ScoreResponse struct {
	RunID    string `json:"runId"`
	Received int    `json:"received"`
	Scored   int    `json:"scored"`
	Rejected int    `json:"rejected"`
	Report   struct {
		TierCounts []struct {
			Tier  string `json:"tier"`
			Count int    `json:"count"`
		} `json:"tierCounts"`
		RevenueAtRisk string `json:"revenueAtRisk"`
	} `json:"report"`
	Metadata struct {
		TotalMs int64 `json:"totalMs"`
		Cached  bool  `json:"reportCached"`
	} `json:"metadata"`
}

// Metrics tracks benchmark results across workers.
type Metrics struct {
	BatchesSent   int64
	BatchesFailed int64
	TotalScored   int64
	TotalRejected int64
	CacheHits     int64

	ServerTimeMs int64

	mu            sync.Mutex
	tierCounts    map[string]int
	revenueAtRisk decimal.Decimal
}

var contracts = []string{"Month-to-Month", "One Year", "Two Year"}
var paymentMethods = []string{"Bank Withdrawal", "Credit Card", "Mailed Check"}
var genders = []string{"Female", "Male"}
var states = []string{"Ohio", "Texas", "Oregon", "Vermont", "Nevada", "Georgia"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	customers := flag.Int("customers", 10000, "Total customers to generate")
	batchSize := flag.Int("batch", 500, "Customers per /score request")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "Generator seed (same seed, same population)")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Synthetic Churn Scoring          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Customers:   %d\n", *customers)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nGenerating %d synthetic customers (seed %d)...\n", *customers, *seed)
	population := generatePopulation(*customers, *seed)
	expected := expectedDistribution(population)
	fmt.Printf("✓ Generated. Expected tiers: Low=%d Medium=%d High=%d Critical=%d\n",
		expected["Low"], expected["Medium"], expected["High"], expected["Critical"])

	batches := splitBatches(population, *batchSize)
	fmt.Printf("\nScoring %d batches with %d workers...\n", len(batches), *workers)

	startTime := time.Now()
	metrics := runBenchmark(batches, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, expected, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generatePopulation builds a reproducible customer set. Probabilities skew
// low so the tier distribution resembles a real churn book.
func generatePopulation(n int, seed int64) []SyntheticCustomer {
	rng := rand.New(rand.NewSource(seed))
	out := make([]SyntheticCustomer, 0, n)

	for i := 0; i < n; i++ {
		// Squaring a uniform draw concentrates mass near zero.
		prob := rng.Float64() * rng.Float64()
		tenure := 1 + rng.Intn(72)
		monthly := decimal.NewFromFloat(20 + rng.Float64()*100).Round(2)
		total := monthly.Mul(decimal.NewFromInt(int64(tenure)))

		out = append(out, SyntheticCustomer{
			CustomerID:     fmt.Sprintf("BENCH-%06d", i),
			TenureMonths:   tenure,
			Contract:       contracts[rng.Intn(len(contracts))],
			MonthlyCharge:  monthly.String(),
			TotalRevenue:   total.String(),
			TotalRefunds:   "0",
			PaymentMethod:  paymentMethods[rng.Intn(len(paymentMethods))],
			Referrals:      rng.Intn(5),
			Services:       1 + rng.Intn(6),
			PremiumSupport: rng.Intn(2) == 0,
			Age:            18 + rng.Intn(60),
			Gender:         genders[rng.Intn(len(genders))],
			Married:        rng.Intn(2) == 0,
			State:          states[rng.Intn(len(states))],
			Probability:    prob,
		})
	}

	return out
}

// expectedDistribution computes the tier counts the server should report,
// using the default band bounds.
func expectedDistribution(population []SyntheticCustomer) map[string]int {
	counts := map[string]int{"Low": 0, "Medium": 0, "High": 0, "Critical": 0}
	for _, c := range population {
		switch {
		case c.Probability >= 0.70:
			counts["Critical"]++
		case c.Probability >= 0.50:
			counts["High"]++
		case c.Probability >= 0.30:
			counts["Medium"]++
		default:
			counts["Low"]++
		}
	}
	return counts
}

func splitBatches(population []SyntheticCustomer, size int) [][]SyntheticCustomer {
	var batches [][]SyntheticCustomer
	for start := 0; start < len(population); start += size {
		end := start + size
		if end > len(population) {
			end = len(population)
		}
		batches = append(batches, population[start:end])
	}
	return batches
}

func runBenchmark(batches [][]SyntheticCustomer, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{
		tierCounts:    make(map[string]int),
		revenueAtRisk: decimal.Zero,
	}

	bar := progressbar.NewOptions(len(batches),
		progressbar.OptionSetDescription("scoring"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
	)

	work := make(chan []SyntheticCustomer, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for batch := range work {
				result, err := scoreBatch(client, baseURL, tenantID, batch)
				_ = bar.Add(1)

				if err != nil {
					atomic.AddInt64(&metrics.BatchesFailed, 1)
					if verbose {
						fmt.Printf("\nERROR: batch of %d -> %v\n", len(batch), err)
					}
					continue
				}

				atomic.AddInt64(&metrics.BatchesSent, 1)
				atomic.AddInt64(&metrics.TotalScored, int64(result.Scored))
				atomic.AddInt64(&metrics.TotalRejected, int64(result.Rejected))
				atomic.AddInt64(&metrics.ServerTimeMs, result.Metadata.TotalMs)
				if result.Metadata.Cached {
					atomic.AddInt64(&metrics.CacheHits, 1)
				}

				risk, err := decimal.NewFromString(result.Report.RevenueAtRisk)
				if err != nil {
					risk = decimal.Zero
				}

				metrics.mu.Lock()
				for _, tc := range result.Report.TierCounts {
					metrics.tierCounts[tc.Tier] += tc.Count
				}
				metrics.revenueAtRisk = metrics.revenueAtRisk.Add(risk)
				metrics.mu.Unlock()

				if verbose {
					fmt.Printf("\n  run %s: scored=%d rejected=%d risk=%s serverMs=%d\n",
						result.RunID, result.Scored, result.Rejected,
						result.Report.RevenueAtRisk, result.Metadata.TotalMs)
				}
			}
		}()
	}

	for _, batch := range batches {
		work <- batch
	}
	close(work)
	wg.Wait()
	_ = bar.Finish()

	return metrics
}

func scoreBatch(client *http.Client, baseURL, tenantID string, batch []SyntheticCustomer) (*ScoreResponse, error) {
	body, err := json.Marshal(ScoreRequest{Customers: batch})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, expected map[string]int, duration time.Duration) {
	fmt.Println("\n\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 THROUGHPUT\n")
	fmt.Printf("   Batches Sent:     %d\n", m.BatchesSent)
	fmt.Printf("   Batches Failed:   %d\n", m.BatchesFailed)
	fmt.Printf("   Customers Scored: %d\n", m.TotalScored)
	fmt.Printf("   Rejected:         %d\n", m.TotalRejected)
	fmt.Printf("   Cache Hits:       %d\n", m.CacheHits)

	fmt.Printf("\n🪶 TIER DISTRIBUTION (server vs expected)\n")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Println("              │  Server  │ Expected │")
	fmt.Println("              ├──────────┼──────────┤")
	match := true
	for _, tier := range []string{"Low", "Medium", "High", "Critical"} {
		got := m.tierCounts[tier]
		want := expected[tier]
		if got != want {
			match = false
		}
		fmt.Printf("   %-9s  │ %8d │ %8d │\n", tier, got, want)
	}
	fmt.Println("              └──────────┴──────────┘")
	if match && m.BatchesFailed == 0 {
		fmt.Println("   ✅ Tier distribution matches exactly")
	} else if !match {
		fmt.Println("   ❌ Tier distribution mismatch - check band configuration")
	}

	fmt.Printf("\n💰 REVENUE AT RISK\n")
	fmt.Printf("   Total (High + Critical): %s\n", m.revenueAtRisk.StringFixed(2))

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.BatchesSent > 0 {
		avgMs := float64(m.ServerTimeMs) / float64(m.BatchesSent)
		cps := float64(m.TotalScored) / duration.Seconds()
		fmt.Printf("   Avg Server Time:  %.2f ms/batch\n", avgMs)
		fmt.Printf("   Throughput:       %.2f customers/sec\n", cps)
	}

	fmt.Println()
}
