// Package validate scores structured records on weighted field presence. The
// score drives the quality tag attached to rendered artifacts and the
// refresh-priority of cached entries.
package validate

import (
	"github.com/orbitlabs/orbit/internal/pipeline"
)

// Weights for each scored field. They sum to the maximum score of 100.
const (
	weightLegalName   = 5
	weightWebsite     = 5
	weightFoundedYear = 5
	weightDescription = 5
	weightTotalRaised = 15
	weightFunding     = 15
	weightLeadership  = 10
	weightFounders    = 10
	weightProducts    = 15
	weightSnapshots   = 8
	weightVisibility  = 7

	// MaxScore is the score of a fully populated record.
	MaxScore = weightLegalName + weightWebsite + weightFoundedYear +
		weightDescription + weightTotalRaised + weightFunding +
		weightLeadership + weightFounders + weightProducts +
		weightSnapshots + weightVisibility
)

// FieldValidator is a pure completeness scorer. It never mutates the record
// and performs no I/O.
type FieldValidator struct{}

// NewFieldValidator returns a ready validator.
func NewFieldValidator() *FieldValidator {
	return &FieldValidator{}
}

// Validate scores the record. Missing high-value sections contribute an issue
// string; missing scalar basics just cost their weight silently.
func (v *FieldValidator) Validate(record pipeline.StructuredRecord) pipeline.ValidationReport {
	report := pipeline.ValidationReport{MaxScore: MaxScore}

	if record.LegalName != "" {
		report.Score += weightLegalName
	}
	if record.Website != "" {
		report.Score += weightWebsite
	}
	if record.FoundedYear != 0 {
		report.Score += weightFoundedYear
	}
	if record.Description != "" {
		report.Score += weightDescription
	}
	if record.TotalRaisedUSD > 0 {
		report.Score += weightTotalRaised
	}

	if len(record.FundingEvents) > 0 {
		report.Score += weightFunding
	} else {
		report.Issues = append(report.Issues, "No funding events")
	}
	if len(record.Leadership) > 0 {
		report.Score += weightLeadership
	} else {
		report.Issues = append(report.Issues, "No leadership data")
	}
	if len(record.Founders) > 0 {
		report.Score += weightFounders
	} else {
		report.Issues = append(report.Issues, "No founder information")
	}
	if len(record.Products) > 0 {
		report.Score += weightProducts
	} else {
		report.Issues = append(report.Issues, "No product data")
	}
	if len(record.Snapshots) > 0 {
		report.Score += weightSnapshots
	}
	if len(record.Visibility) > 0 {
		report.Score += weightVisibility
	}

	return report
}
