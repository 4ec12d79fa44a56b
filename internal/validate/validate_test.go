package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/internal/pipeline"
)

func fullRecord() pipeline.StructuredRecord {
	return pipeline.StructuredRecord{
		SubjectKey:     "AcmeCo",
		LegalName:      "Acme Corporation",
		Website:        "https://acme.example",
		FoundedYear:    2014,
		Description:    "Makes everything.",
		TotalRaisedUSD: 50_000_000,
		FundingEvents:  []pipeline.FundingEvent{{Round: "Series B", AmountUSD: 30_000_000}},
		Leadership:     []pipeline.Person{{Name: "Dana Smith", Title: "CEO"}},
		Founders:       []pipeline.Person{{Name: "Dana Smith"}},
		Products:       []pipeline.Product{{Name: "Anvil"}},
		Snapshots:      []pipeline.Snapshot{{Metric: "employees", Value: "250"}},
		Visibility:     []pipeline.VisibilitySignal{{Channel: "press", Value: "12 mentions"}},
	}
}

func TestFullRecordScoresMaximum(t *testing.T) {
	t.Parallel()

	report := NewFieldValidator().Validate(fullRecord())
	require.Equal(t, MaxScore, report.Score)
	require.Equal(t, 100, report.MaxScore)
	require.Empty(t, report.Issues)
}

func TestEmptyRecordScoresZeroWithIssues(t *testing.T) {
	t.Parallel()

	report := NewFieldValidator().Validate(pipeline.StructuredRecord{})
	require.Zero(t, report.Score)
	require.Equal(t, []string{
		"No funding events",
		"No leadership data",
		"No founder information",
		"No product data",
	}, report.Issues)
}

func TestMissingScalarBasicsCostWeightSilently(t *testing.T) {
	t.Parallel()

	record := fullRecord()
	record.LegalName = ""
	record.FoundedYear = 0

	report := NewFieldValidator().Validate(record)
	require.Equal(t, MaxScore-10, report.Score)
	require.Empty(t, report.Issues, "scalar basics never add issues")
}

func TestMissingSectionsCostWeightAndAddIssue(t *testing.T) {
	t.Parallel()

	record := fullRecord()
	record.FundingEvents = nil
	record.Products = nil

	report := NewFieldValidator().Validate(record)
	require.Equal(t, MaxScore-30, report.Score)
	require.Equal(t, []string{"No funding events", "No product data"}, report.Issues)
}

func TestSnapshotsAndVisibilityScoreWithoutIssues(t *testing.T) {
	t.Parallel()

	record := fullRecord()
	record.Snapshots = nil
	record.Visibility = nil

	report := NewFieldValidator().Validate(record)
	require.Equal(t, MaxScore-15, report.Score)
	require.Empty(t, report.Issues)
}

func TestValidateDoesNotMutateRecord(t *testing.T) {
	t.Parallel()

	record := fullRecord()
	before := record
	NewFieldValidator().Validate(record)
	require.Equal(t, before, record)
}
