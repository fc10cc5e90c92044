// Package scoring runs the classify → attribute pass over customer batches.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-telco/kestrel/internal/classifier"
	"github.com/opensource-telco/kestrel/internal/domain"
	"github.com/opensource-telco/kestrel/internal/factors"
)

// EngineVersion is stamped on every ScoreRun.
const EngineVersion = "kestrel-1.0"

// Pipeline scores batches of customer records. It holds no cross-call state;
// each Score call is an idempotent transform of its inputs.
type Pipeline struct {
	classifier *classifier.Classifier
	attributor *factors.Engine
	maxWorkers int
}

// New creates a scoring pipeline.
func New(c *classifier.Classifier, a *factors.Engine, maxWorkers int) *Pipeline {
	if maxWorkers <= 0 {
		maxWorkers = 16
	}
	return &Pipeline{
		classifier: c,
		attributor: a,
		maxWorkers: maxWorkers,
	}
}

// Batch is one scoring request: records plus their probabilities keyed by
// customer ID. A record without a probability is rejected, never silently
// dropped.
type Batch struct {
	TenantID      string
	RunID         string
	Records       []*domain.CustomerRecord
	Probabilities map[string]float64
}

// Result holds the outcome of one scoring pass. Scored preserves the input
// record order; Rejections likewise.
type Result struct {
	Scored     []domain.ScoredCustomer
	Rejections []domain.Rejection
	Run        *domain.ScoreRun
}

// recordOutcome is the per-index result of the parallel fan-out. Exactly one
// of scored/rejection is set.
type recordOutcome struct {
	scored    *domain.ScoredCustomer
	rejection *domain.Rejection
}

// Score classifies and attributes every record in the batch. Per-record
// errors are isolated into rejections; only a nil attributor/classifier or a
// cancelled context fails the whole pass. Records are fanned out across a
// bounded worker set and collected by input index, so parallel and
// sequential execution produce identical output.
func (p *Pipeline) Score(ctx context.Context, batch *Batch) (*Result, error) {
	if p.classifier == nil || p.attributor == nil {
		return nil, fmt.Errorf("%w: pipeline not fully wired", domain.ErrConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now().UTC()
	scoredAt := start

	outcomes := make([]recordOutcome, len(batch.Records))

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.maxWorkers)

	for i, record := range batch.Records {
		wg.Add(1)
		go func(idx int, rec *domain.CustomerRecord) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			outcomes[idx] = p.scoreRecord(rec, batch, scoredAt)
		}(i, record)
	}

	wg.Wait()

	result := &Result{
		Scored:     make([]domain.ScoredCustomer, 0, len(batch.Records)),
		Rejections: nil,
	}
	for _, out := range outcomes {
		if out.scored != nil {
			result.Scored = append(result.Scored, *out.scored)
		}
		if out.rejection != nil {
			result.Rejections = append(result.Rejections, *out.rejection)
		}
	}

	completed := time.Now().UTC()
	result.Run = &domain.ScoreRun{
		ID:            batch.RunID,
		TenantID:      batch.TenantID,
		Received:      len(batch.Records),
		Scored:        len(result.Scored),
		Rejected:      len(result.Rejections),
		Rejections:    result.Rejections,
		StartedAt:     start,
		CompletedAt:   completed,
		DurationMs:    completed.Sub(start).Milliseconds(),
		EngineVersion: EngineVersion,
	}

	for _, rej := range result.Rejections {
		slog.Warn("customer rejected",
			"run_id", batch.RunID,
			"tenant_id", batch.TenantID,
			"customer_id", rej.CustomerID,
			"reason", rej.Reason,
			"detail", rej.Detail,
		)
	}

	return result, nil
}

// scoreRecord validates, joins, classifies and attributes a single record.
func (p *Pipeline) scoreRecord(record *domain.CustomerRecord, batch *Batch, scoredAt time.Time) recordOutcome {
	if err := record.Validate(); err != nil {
		return reject(record.ID, domain.RejectMissingField, err)
	}

	probability, ok := batch.Probabilities[record.ID]
	if !ok {
		return reject(record.ID, domain.RejectMissingProbability,
			fmt.Errorf("%w: %s", domain.ErrMissingProbability, record.ID))
	}

	tier, err := p.classifier.Classify(probability)
	if err != nil {
		return reject(record.ID, domain.RejectInvalidProbability, err)
	}

	factorList, err := p.attributor.Attribute(record, probability)
	if err != nil {
		// An eval failure on a validated record means a catalogue rule
		// references something the schema does not supply.
		return reject(record.ID, domain.RejectMissingField, err)
	}

	return recordOutcome{scored: &domain.ScoredCustomer{
		Customer:    *record,
		Probability: probability,
		Tier:        tier,
		Factors:     factorList,
		RunID:       batch.RunID,
		ScoredAt:    scoredAt,
	}}
}

func reject(customerID, reason string, err error) recordOutcome {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return recordOutcome{rejection: &domain.Rejection{
		CustomerID: customerID,
		Reason:     reason,
		Detail:     detail,
	}}
}

// IsRecordError reports whether err belongs to the per-record taxonomy, as
// opposed to a fatal configuration problem.
func IsRecordError(err error) bool {
	return errors.Is(err, domain.ErrInvalidProbability) ||
		errors.Is(err, domain.ErrMissingField) ||
		errors.Is(err, domain.ErrMissingProbability)
}
