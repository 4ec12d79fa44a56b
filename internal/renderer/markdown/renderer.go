// Package markdown renders structured records into markdown dashboard
// artifacts. Template wording is intentionally plain; it is not the
// interesting part of the system.
package markdown

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/orbitlabs/orbit/internal/pipeline"
)

// Variants the renderer understands.
const (
	VariantStandard   = "standard"
	VariantStructured = "structured"
	VariantBrief      = "brief"
)

// Renderer produces markdown artifacts. It never mutates its input record.
type Renderer struct {
	logger *zap.Logger
}

// New builds a Renderer.
func New(logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{logger: logger}
}

// Render builds the artifact for the requested variant. An unknown variant is
// a permanent failure.
func (r *Renderer) Render(_ context.Context, record pipeline.StructuredRecord, variant string) (pipeline.Artifact, error) {
	var markdown string
	switch variant {
	case VariantStandard, "":
		markdown = renderStandard(record)
	case VariantStructured:
		markdown = renderStructured(record)
	case VariantBrief:
		markdown = renderBrief(record)
	default:
		return pipeline.Artifact{}, pipeline.Permanentf("unknown render variant %q", variant)
	}

	r.logger.Debug("artifact rendered",
		zap.String("subject", record.SubjectKey),
		zap.String("variant", variant),
		zap.Int("bytes", len(markdown)),
	)
	return pipeline.Artifact{
		SubjectKey: record.SubjectKey,
		Variant:    variant,
		Markdown:   markdown,
	}, nil
}

func renderStandard(record pipeline.StructuredRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", displayName(record))
	if record.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", record.Description)
	}
	writeBasics(&b, record)
	writeFunding(&b, record)
	writePeople(&b, record)
	writeProducts(&b, record)
	writeSignals(&b, record)
	return b.String()
}

func renderStructured(record pipeline.StructuredRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s — Structured Profile\n\n", displayName(record))
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Legal name | %s |\n", orDash(record.LegalName))
	fmt.Fprintf(&b, "| Website | %s |\n", orDash(record.Website))
	if record.FoundedYear != 0 {
		fmt.Fprintf(&b, "| Founded | %d |\n", record.FoundedYear)
	} else {
		b.WriteString("| Founded | - |\n")
	}
	if record.TotalRaisedUSD > 0 {
		fmt.Fprintf(&b, "| Total raised | $%.0f |\n", record.TotalRaisedUSD)
	} else {
		b.WriteString("| Total raised | - |\n")
	}
	fmt.Fprintf(&b, "| Funding rounds | %d |\n", len(record.FundingEvents))
	fmt.Fprintf(&b, "| Leadership | %d |\n", len(record.Leadership))
	fmt.Fprintf(&b, "| Products | %d |\n", len(record.Products))
	b.WriteString("\n")
	writeFunding(&b, record)
	return b.String()
}

func renderBrief(record pipeline.StructuredRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", displayName(record))
	if record.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", record.Description)
	}
	if record.TotalRaisedUSD > 0 {
		fmt.Fprintf(&b, "Total raised: $%.0f across %d rounds.\n",
			record.TotalRaisedUSD, len(record.FundingEvents))
	}
	return b.String()
}

func writeBasics(b *strings.Builder, record pipeline.StructuredRecord) {
	b.WriteString("## Company\n\n")
	if record.LegalName != "" {
		fmt.Fprintf(b, "- Legal name: %s\n", record.LegalName)
	}
	if record.Website != "" {
		fmt.Fprintf(b, "- Website: %s\n", record.Website)
	}
	if record.FoundedYear != 0 {
		fmt.Fprintf(b, "- Founded: %d\n", record.FoundedYear)
	}
	b.WriteString("\n")
}

func writeFunding(b *strings.Builder, record pipeline.StructuredRecord) {
	if len(record.FundingEvents) == 0 {
		return
	}
	b.WriteString("## Funding\n\n")
	if record.TotalRaisedUSD > 0 {
		fmt.Fprintf(b, "Total raised: $%.0f\n\n", record.TotalRaisedUSD)
	}
	for _, evt := range record.FundingEvents {
		line := fmt.Sprintf("- %s", evt.Round)
		if evt.AmountUSD > 0 {
			line += fmt.Sprintf(": $%.0f", evt.AmountUSD)
		}
		if evt.Date != "" {
			line += fmt.Sprintf(" (%s)", evt.Date)
		}
		if len(evt.Investors) > 0 {
			line += " — " + strings.Join(evt.Investors, ", ")
		}
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")
}

func writePeople(b *strings.Builder, record pipeline.StructuredRecord) {
	if len(record.Founders) > 0 {
		b.WriteString("## Founders\n\n")
		for _, p := range record.Founders {
			writePerson(b, p)
		}
		b.WriteString("\n")
	}
	if len(record.Leadership) > 0 {
		b.WriteString("## Leadership\n\n")
		for _, p := range record.Leadership {
			writePerson(b, p)
		}
		b.WriteString("\n")
	}
}

func writePerson(b *strings.Builder, p pipeline.Person) {
	if p.Title != "" {
		fmt.Fprintf(b, "- %s — %s\n", p.Name, p.Title)
		return
	}
	fmt.Fprintf(b, "- %s\n", p.Name)
}

func writeProducts(b *strings.Builder, record pipeline.StructuredRecord) {
	if len(record.Products) == 0 {
		return
	}
	b.WriteString("## Products\n\n")
	for _, product := range record.Products {
		if product.Description != "" {
			fmt.Fprintf(b, "- **%s** — %s\n", product.Name, product.Description)
		} else {
			fmt.Fprintf(b, "- **%s**\n", product.Name)
		}
	}
	b.WriteString("\n")
}

func writeSignals(b *strings.Builder, record pipeline.StructuredRecord) {
	if len(record.Snapshots) > 0 {
		b.WriteString("## Metrics\n\n")
		for _, snapshot := range record.Snapshots {
			line := fmt.Sprintf("- %s: %s", snapshot.Metric, snapshot.Value)
			if snapshot.AsOf != "" {
				line += fmt.Sprintf(" (as of %s)", snapshot.AsOf)
			}
			b.WriteString(line + "\n")
		}
		b.WriteString("\n")
	}
	if len(record.Visibility) > 0 {
		b.WriteString("## Visibility\n\n")
		for _, signal := range record.Visibility {
			fmt.Fprintf(b, "- %s: %s\n", signal.Channel, signal.Value)
		}
		b.WriteString("\n")
	}
}

func displayName(record pipeline.StructuredRecord) string {
	if record.LegalName != "" {
		return record.LegalName
	}
	return record.SubjectKey
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
