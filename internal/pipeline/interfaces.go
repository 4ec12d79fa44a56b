package pipeline

import (
	"context"
	"time"
)

// Fetcher gathers a subject's pages. How pages are discovered or rendered is
// the implementation's business; the orchestrator only sees the bundle.
type Fetcher interface {
	Fetch(ctx context.Context, subjectKey string) (PageBundle, error)
}

// Extractor turns raw pages into a structured record. Consensus or
// multi-model logic, if any, is internal to the implementation.
type Extractor interface {
	Extract(ctx context.Context, bundle PageBundle) (StructuredRecord, error)
}

// Validator scores a record for completeness. Implementations must be pure:
// no I/O, no mutation of the record.
type Validator interface {
	Validate(record StructuredRecord) ValidationReport
}

// Renderer produces the final artifact for a variant. It must not mutate its
// input record.
type Renderer interface {
	Render(ctx context.Context, record StructuredRecord, variant string) (Artifact, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Hasher produces stable content hashes for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator mints run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher broadcasts terminal run notifications to interested systems.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
