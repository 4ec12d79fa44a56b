// Package pipeline drives the multi-stage subject intelligence pipeline:
// fetch, extract, validate, render. It owns the run state machine and is the
// only component that advances it.
package pipeline

import "time"

// Stage identifies a pipeline run phase. A run moves strictly forward through
// the remote stages and terminates in exactly one of Completed, Failed or
// Cancelled.
type Stage string

// Run lifecycle stages.
const (
	StageInitialized Stage = "INITIALIZED"
	StageFetching    Stage = "FETCHING"
	StageExtracting  Stage = "EXTRACTING"
	StageValidating  Stage = "VALIDATING"
	StageRendering   Stage = "RENDERING"
	StageCompleted   Stage = "COMPLETED"
	StageFailed      Stage = "FAILED"
	StageCancelled   Stage = "CANCELLED"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Page is a single fetched page of a subject's site.
type Page struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	StatusCode int       `json:"status_code"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// PageBundle is the Fetcher output: every page gathered for a subject in one
// pass, keyed by URL.
type PageBundle struct {
	SubjectKey string          `json:"subject_key"`
	Website    string          `json:"website"`
	Pages      map[string]Page `json:"pages"`
	Duration   time.Duration   `json:"duration"`
}

// FundingEvent records one financing round.
type FundingEvent struct {
	Round     string  `json:"round"`
	AmountUSD float64 `json:"amount_usd,omitempty"`
	Date      string  `json:"date,omitempty"`
	Investors []string `json:"investors,omitempty"`
}

// Person is a leadership or founder entry.
type Person struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
}

// Product describes one product line.
type Product struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Snapshot is a point-in-time metric about the subject.
type Snapshot struct {
	Metric string `json:"metric"`
	Value  string `json:"value"`
	AsOf   string `json:"as_of,omitempty"`
}

// VisibilitySignal captures external presence (press, social, rankings).
type VisibilitySignal struct {
	Channel string `json:"channel"`
	Value   string `json:"value"`
}

// StructuredRecord is the Extractor output: the structured facts pulled from
// a PageBundle. Field presence feeds validation scoring.
type StructuredRecord struct {
	SubjectKey     string             `json:"subject_key"`
	LegalName      string             `json:"legal_name,omitempty"`
	Website        string             `json:"website,omitempty"`
	FoundedYear    int                `json:"founded_year,omitempty"`
	Description    string             `json:"description,omitempty"`
	TotalRaisedUSD float64            `json:"total_raised_usd,omitempty"`
	FundingEvents  []FundingEvent     `json:"funding_events,omitempty"`
	Leadership     []Person           `json:"leadership,omitempty"`
	Founders       []Person           `json:"founders,omitempty"`
	Products       []Product          `json:"products,omitempty"`
	Snapshots      []Snapshot         `json:"snapshots,omitempty"`
	Visibility     []VisibilitySignal `json:"visibility,omitempty"`
}

// ValidationReport scores a StructuredRecord on weighted field presence.
type ValidationReport struct {
	Score    int      `json:"score"`
	MaxScore int      `json:"max_score"`
	Issues   []string `json:"issues,omitempty"`
}

// Artifact is the final rendered dashboard for one (subject, variant) pair.
type Artifact struct {
	SubjectKey      string    `json:"subject_key"`
	Variant         string    `json:"variant"`
	Markdown        string    `json:"markdown"`
	GeneratedAt     time.Time `json:"generated_at"`
	QualityTag      string    `json:"quality_tag"`
	ValidationScore int       `json:"validation_score"`
	Issues          []string  `json:"issues,omitempty"`
	ContentHash     string    `json:"content_hash,omitempty"`
	PagesAnalyzed   int       `json:"pages_analyzed"`
}

// QualityTag grades a 0-100 validation score.
func QualityTag(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// CacheKey derives the cache key for a (subject, variant) pair. Kept stable
// across releases because durable cache records are keyed by it.
func CacheKey(subjectKey, variant string) string {
	return "dashboard_" + subjectKey + "_" + variant
}
