package markdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitlabs/orbit/internal/pipeline"
)

func sampleRecord() pipeline.StructuredRecord {
	return pipeline.StructuredRecord{
		SubjectKey:     "acmeco",
		LegalName:      "Acme Corporation",
		Website:        "https://acme.example",
		FoundedYear:    2015,
		Description:    "Makes everything.",
		TotalRaisedUSD: 12000000,
		FundingEvents: []pipeline.FundingEvent{
			{Round: "Seed", AmountUSD: 2000000, Date: "2016-03", Investors: []string{"First Capital"}},
			{Round: "Series A", AmountUSD: 10000000},
		},
		Leadership: []pipeline.Person{{Name: "Dana Smith", Title: "CEO"}},
		Founders:   []pipeline.Person{{Name: "Dana Smith"}},
		Products:   []pipeline.Product{{Name: "Anvil", Description: "Heavy."}},
		Snapshots:  []pipeline.Snapshot{{Metric: "Employees", Value: "120", AsOf: "2024"}},
		Visibility: []pipeline.VisibilitySignal{{Channel: "press", Value: "47 mentions"}},
	}
}

func TestRenderStandard(t *testing.T) {
	t.Parallel()

	artifact, err := New(nil).Render(context.Background(), sampleRecord(), VariantStandard)
	require.NoError(t, err)
	require.Equal(t, "acmeco", artifact.SubjectKey)
	require.Equal(t, VariantStandard, artifact.Variant)

	md := artifact.Markdown
	require.Contains(t, md, "# Acme Corporation")
	require.Contains(t, md, "Makes everything.")
	require.Contains(t, md, "## Company")
	require.Contains(t, md, "- Founded: 2015")
	require.Contains(t, md, "## Funding")
	require.Contains(t, md, "Total raised: $12000000")
	require.Contains(t, md, "- Seed: $2000000 (2016-03)")
	require.Contains(t, md, "First Capital")
	require.Contains(t, md, "## Founders")
	require.Contains(t, md, "## Leadership")
	require.Contains(t, md, "- Dana Smith — CEO")
	require.Contains(t, md, "## Products")
	require.Contains(t, md, "**Anvil**")
	require.Contains(t, md, "## Metrics")
	require.Contains(t, md, "- Employees: 120 (as of 2024)")
	require.Contains(t, md, "## Visibility")
	require.Contains(t, md, "- press: 47 mentions")
}

func TestRenderStructuredProducesTable(t *testing.T) {
	t.Parallel()

	artifact, err := New(nil).Render(context.Background(), sampleRecord(), VariantStructured)
	require.NoError(t, err)

	md := artifact.Markdown
	require.Contains(t, md, "| Field | Value |")
	require.Contains(t, md, "| Legal name | Acme Corporation |")
	require.Contains(t, md, "| Website | https://acme.example |")
	require.Contains(t, md, "| Founded | 2015 |")
	require.Contains(t, md, "| Total raised | $12000000 |")
	require.Contains(t, md, "| Funding rounds | 2 |")
	require.Contains(t, md, "| Leadership | 1 |")
}

func TestRenderStructuredDashesMissingFields(t *testing.T) {
	t.Parallel()

	record := pipeline.StructuredRecord{SubjectKey: "mystery"}
	artifact, err := New(nil).Render(context.Background(), record, VariantStructured)
	require.NoError(t, err)

	md := artifact.Markdown
	require.Contains(t, md, "# mystery", "subject key stands in for a missing legal name")
	require.Contains(t, md, "| Legal name | - |")
	require.Contains(t, md, "| Founded | - |")
	require.Contains(t, md, "| Total raised | - |")
}

func TestRenderBriefOmitsEmptySections(t *testing.T) {
	t.Parallel()

	artifact, err := New(nil).Render(context.Background(), sampleRecord(), VariantBrief)
	require.NoError(t, err)
	require.Contains(t, artifact.Markdown, "Total raised: $12000000 across 2 rounds.")
	require.NotContains(t, artifact.Markdown, "## ")

	empty, err := New(nil).Render(context.Background(), pipeline.StructuredRecord{SubjectKey: "x"}, VariantBrief)
	require.NoError(t, err)
	require.Equal(t, "# x\n\n", empty.Markdown)
}

func TestRenderEmptyVariantDefaultsToStandard(t *testing.T) {
	t.Parallel()

	viaEmpty, err := New(nil).Render(context.Background(), sampleRecord(), "")
	require.NoError(t, err)
	viaStandard, err := New(nil).Render(context.Background(), sampleRecord(), VariantStandard)
	require.NoError(t, err)
	require.Equal(t, viaStandard.Markdown, viaEmpty.Markdown)
}

func TestRenderUnknownVariantIsPermanent(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Render(context.Background(), sampleRecord(), "pdf")
	require.Error(t, err)
	require.Equal(t, pipeline.KindPermanent, pipeline.KindOf(err))
	require.ErrorContains(t, err, "pdf")
}

func TestRenderDoesNotMutateRecord(t *testing.T) {
	t.Parallel()

	record := sampleRecord()
	_, err := New(nil).Render(context.Background(), record, VariantStandard)
	require.NoError(t, err)
	require.Equal(t, sampleRecord(), record)
}
