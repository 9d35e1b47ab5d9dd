package training

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/feature"
	"leadscore-engine/internal/lead"
)

// OutcomeSource yields the recorded predictions and conversions for a
// model over a time window.
type OutcomeSource interface {
	RecentOutcomes(modelID string, since time.Time) ([]lead.Outcome, error)
}

// LeadFetcher resolves a lead id to its current profile and history.
type LeadFetcher interface {
	GetLead(ctx context.Context, leadID string) (lead.Profile, []lead.Interaction, error)
}

// BuildReport summarizes how a dataset build went. Completeness is the
// fraction of outcomes that could be joined to a live lead profile.
type BuildReport struct {
	Outcomes     int     `json:"outcomes"`
	Joined       int     `json:"joined"`
	Completeness float64 `json:"completeness"`
	PositiveRate float64 `json:"positiveRate"`
}

// DatasetBuilder joins recorded outcomes back to lead profiles and
// extracts the feature matrix for a retraining run. Leads that have
// since disappeared from the CRM are skipped, not fatal.
type DatasetBuilder struct {
	Outcomes  OutcomeSource
	Leads     LeadFetcher
	Extractor feature.Extractor
}

// Build assembles a labeled dataset from every outcome recorded for
// modelID since the given time.
func (b *DatasetBuilder) Build(ctx context.Context, modelID string, since time.Time) (Dataset, BuildReport, error) {
	outcomes, err := b.Outcomes.RecentOutcomes(modelID, since)
	if err != nil {
		return Dataset{}, BuildReport{}, fmt.Errorf("load outcomes for %s: %w", modelID, err)
	}

	report := BuildReport{Outcomes: len(outcomes)}
	ds := Dataset{From: since, Source: "outcome-feedback"}
	positives := 0

	for _, o := range outcomes {
		if err := ctx.Err(); err != nil {
			return Dataset{}, BuildReport{}, err
		}

		profile, interactions, err := b.Leads.GetLead(ctx, o.LeadID)
		if err != nil {
			log.Debug().Str("lead", o.LeadID).Err(err).Msg("skipping outcome with unresolvable lead")
			continue
		}
		vec, err := b.Extractor.Extract(profile, interactions)
		if err != nil {
			log.Debug().Str("lead", o.LeadID).Err(err).Msg("skipping outcome with failed feature extraction")
			continue
		}

		ds.X = append(ds.X, vec)
		label := 0.0
		if o.Converted {
			label = 1.0
			positives++
		}
		ds.Y = append(ds.Y, label)
		if o.RecordedAt.After(ds.To) {
			ds.To = o.RecordedAt
		}
	}

	report.Joined = ds.Len()
	if report.Outcomes > 0 {
		report.Completeness = float64(report.Joined) / float64(report.Outcomes)
	}
	if report.Joined > 0 {
		report.PositiveRate = float64(positives) / float64(report.Joined)
	}

	return ds, report, nil
}
