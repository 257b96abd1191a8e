// Package aggregate buckets the active pipeline and projects revenue.
// Deals land in one of four buckets (on hold, closing soon, in pipeline,
// at risk) and the projection conservatively counts only the weighted MRR
// of the first two momentum buckets.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsecrm/pipescore/internal/cache"
	"github.com/pulsecrm/pipescore/internal/persistence"
	"github.com/pulsecrm/pipescore/internal/timeutil"
)

// Bucket names, also used as the dashboard filter values.
const (
	BucketClosingSoon = "closing_soon"
	BucketInPipeline  = "in_pipeline"
	BucketAtRisk      = "at_risk"
	BucketOnHold      = "on_hold"
)

// Bucketing thresholds.
const (
	closingSoonMinScore = 70
	closingSoonMinAge   = 14 // days since sent (or revival)
	inPipelineMinScore  = 30
)

// BucketStats summarizes one bucket.
type BucketStats struct {
	Count         int     `json:"count"`
	WeightedMRR   float64 `json:"weighted_mrr"`
	RawMRR        float64 `json:"raw_mrr"`
	AvgConfidence int     `json:"avg_confidence"`
}

// Aggregates holds the four bucket summaries.
type Aggregates struct {
	ClosingSoon BucketStats `json:"closing_soon"`
	InPipeline  BucketStats `json:"in_pipeline"`
	AtRisk      BucketStats `json:"at_risk"`
	OnHold      BucketStats `json:"on_hold"`
}

// Deal is one pipeline row as the dashboard consumes it.
type Deal struct {
	persistence.Deal
	Bucket      string `json:"bucket"`
	AgeDays     int    `json:"age_days"`
	StatusLabel string `json:"status_label"`
}

// Filter narrows the pipeline listing. An empty field means no filtering.
type Filter struct {
	Owner  string `json:"owner,omitempty"`
	Bucket string `json:"bucket,omitempty"`
}

/// PipelineData is the dashboard payload: the (filtered) deals, aggregates
// over the owner-filtered set, and the rep filter options.
type PipelineData struct {
	Deals      []Deal     `json:"deals"`
	Aggregates Aggregates `json:"aggregates"`
	Reps       []string   `json:"reps"`
}

// RevenueSummary is the projection payload.
type RevenueSummary struct {
	CurrentMRR        float64    `json:"current_mrr"`
	ActiveClientCount int        `json:"active_client_count"`
	Buckets           Aggregates `json:"buckets"`
	ProjectedMRR      float64    `json:"projected_mrr"`
	PotentialGrowth   float64    `json:"potential_growth"`
}

// Service computes pipeline aggregation over persisted scores. The
// summary's bucket aggregates go through the Redis cache; the projection
// arithmetic is recomputed per request since it depends on caller input.
type Service struct {
	deals persistence.DealsRepo
	cache *cache.Cache
	clock func() time.Time
	log   zerolog.Logger
}

// NewService creates the aggregation service. c may be nil (no caching);
// a nil clock uses the wall clock in UTC.
func NewService(deals persistence.DealsRepo, c *cache.Cache, clock func() time.Time, log zerolog.Logger) *Service {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{deals: deals, cache: c, clock: clock, log: log}
}

// GetPipelineData lists and buckets the active sent deals.
func (s *Service) GetPipelineData(ctx context.Context, f Filter) (*PipelineData, error) {
	rows, err := s.deals.ListPipeline(ctx, persistence.PipelineFilter{Owner: f.Owner})
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline deals: %w", err)
	}
	reps, err := s.deals.Owners(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline reps: %w", err)
	}

	now := s.clock()
	out := &PipelineData{Deals: make([]Deal, 0, len(rows)), Reps: reps}
	agg := newAggregator()
	for i := range rows {
		d := annotate(rows[i], now)
		agg.add(d)
		if f.Bucket != "" && d.Bucket != f.Bucket {
			continue
		}
		out.Deals = append(out.Deals, d)
	}
	out.Aggregates = agg.finish()
	return out, nil
}

// GetRevenueSummary aggregates the pipeline and derives the projection:
// projected = current + closing_soon.weighted + in_pipeline.weighted.
// At-risk and on-hold deals never enter the projection.
func (s *Service) GetRevenueSummary(ctx context.Context, currentMRR float64, activeClientCount int) (*RevenueSummary, error) {
	var buckets Aggregates
	if !s.cache.Get(ctx, cache.KeyPipelineAggregates, &buckets) {
		rows, err := s.deals.ListPipeline(ctx, persistence.PipelineFilter{})
		if err != nil {
			return nil, fmt.Errorf("failed to load pipeline deals: %w", err)
		}
		now := s.clock()
		agg := newAggregator()
		for i := range rows {
			agg.add(annotate(rows[i], now))
		}
		buckets = agg.finish()
		s.cache.Set(ctx, cache.KeyPipelineAggregates, buckets)
	}

	projected := timeutil.Round2(currentMRR + buckets.ClosingSoon.WeightedMRR + buckets.InPipeline.WeightedMRR)
	return &RevenueSummary{
		CurrentMRR:        currentMRR,
		ActiveClientCount: activeClientCount,
		Buckets:           buckets,
		ProjectedMRR:      projected,
		PotentialGrowth:   timeutil.Round2(projected - currentMRR),
	}, nil
}

// annotate assigns the deal its bucket and display fields.
func annotate(d persistence.Deal, now time.Time) Deal {
	age := ageDays(d, now)
	return Deal{
		Deal:        d,
		Bucket:      bucketFor(d, age, now),
		AgeDays:     age,
		StatusLabel: StatusLabel(d.Status),
	}
}

// ageDays anchors age at revived_at when the deal came back from a snooze
// or archive, else at sent_at.
func ageDays(d persistence.Deal, now time.Time) int {
	anchor := d.SentAt
	if d.RevivedAt != nil {
		anchor = d.RevivedAt
	}
	return timeutil.DaysBetween(anchor, now)
}

// bucketFor classifies one deal; the branches are ordered, so a snoozed
// high scorer is on hold, not closing soon.
func bucketFor(d persistence.Deal, age int, now time.Time) string {
	switch {
	case d.SnoozedUntil != nil && d.SnoozedUntil.After(now):
		return BucketOnHold
	case d.ConfidenceScore >= closingSoonMinScore && age >= closingSoonMinAge:
		return BucketClosingSoon
	case d.ConfidenceScore >= inPipelineMinScore:
		return BucketInPipeline
	default:
		return BucketAtRisk
	}
}

// StatusLabel maps a status to its display label, covering the legacy
// strings that still appear on old rows.
func StatusLabel(status string) string {
	switch status {
	case "draft":
		return "Draft"
	case "sent":
		return "Sent"
	case "declined":
		return "Declined"
	case "accepted":
		return "Accepted"
	case "closed_lost":
		return "Closed Lost"
	case "revision":
		return "In Revision"
	case "pending_review":
		return "Pending Review"
	case "published":
		return "Published"
	default:
		return status
	}
}

// aggregator accumulates bucket sums and averages.
type aggregator struct {
	stats map[string]*BucketStats
	score map[string]int
}

func newAggregator() *aggregator {
	return &aggregator{
		stats: map[string]*BucketStats{
			BucketClosingSoon: {},
			BucketInPipeline:  {},
			BucketAtRisk:      {},
			BucketOnHold:      {},
		},
		score: map[string]int{},
	}
}

func (a *aggregator) add(d Deal) {
	st := a.stats[d.Bucket]
	st.Count++
	st.WeightedMRR = timeutil.Round2(st.WeightedMRR + d.WeightedMonthly)
	st.RawMRR = timeutil.Round2(st.RawMRR + d.PredictedMonthly)
	a.score[d.Bucket] += d.ConfidenceScore
}

func (a *aggregator) finish() Aggregates {
	for name, st := range a.stats {
		if st.Count > 0 {
			st.AvgConfidence = int(math.Round(float64(a.score[name]) / float64(st.Count)))
		}
	}
	return Aggregates{
		ClosingSoon: *a.stats[BucketClosingSoon],
		InPipeline:  *a.stats[BucketInPipeline],
		AtRisk:      *a.stats[BucketAtRisk],
		OnHold:      *a.stats[BucketOnHold],
	}
}
