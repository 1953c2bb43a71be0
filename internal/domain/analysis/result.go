package analysis

import (
	"time"

	"github.com/google/uuid"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// State is the analysis lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Segment is one speaker-attributed span of a transcript.
type Segment struct {
	StartSec     float64 `json:"start_sec"`
	EndSec       float64 `json:"end_sec"`
	SpeakerLabel string  `json:"speaker_label"`
	Text         string  `json:"text"`
}

// Transcript is the transcription stage output.
type Transcript struct {
	Text            string    `json:"text"`
	DurationSeconds float64   `json:"duration_seconds"`
	Confidence      float64   `json:"confidence"`
	Language        string    `json:"language"`
	Segments        []Segment `json:"segments,omitempty"`
}

// OCRPage is one page of OCR stage output, 1-based.
type OCRPage struct {
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// StageTiming records one stage's execution, including retries.
type StageTiming struct {
	Stage      string    `json:"stage"`
	StartedAt  Timestamp `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Attempts   int       `json:"attempts"`
	FromCache  bool      `json:"from_cache"`
}

// Result is the evidence processor's output. It is immutable once its
// state reaches completed.
type Result struct {
	ID               uuid.UUID         `json:"id"`
	EvidenceID       uuid.UUID         `json:"evidence_id"`
	Fingerprint      string            `json:"fingerprint"`
	ProfileVersion   string            `json:"profile_version"`
	Transcript       *Transcript       `json:"transcript,omitempty"`
	OCRPages         []OCRPage         `json:"ocr_pages,omitempty"`
	Violations       []Violation       `json:"violations"`
	Compliance       []ComplianceIssue `json:"compliance"`
	ComplianceStatus ComplianceStatus  `json:"compliance_status"`
	Motions          []Motion          `json:"motions"`
	Citations        []string          `json:"citations"`
	ExecutiveSummary string            `json:"executive_summary"`
	State            State             `json:"state"`
	FailedStage      string            `json:"failed_stage,omitempty"`
	Timings          []StageTiming     `json:"timings"`
	CreatedAt        Timestamp         `json:"created_at"`
	CompletedAt      *Timestamp        `json:"completed_at,omitempty"`
}

// NewResult creates a pending result for an evidence artifact.
func NewResult(evidenceID uuid.UUID, fingerprint, profileVersion string) *Result {
	return &Result{
		ID:             uuid.New(),
		EvidenceID:     evidenceID,
		Fingerprint:    fingerprint,
		ProfileVersion: profileVersion,
		Violations:     []Violation{},
		Compliance:     []ComplianceIssue{},
		Motions:        []Motion{},
		Citations:      []string{},
		State:          StatePending,
		Timings:        []StageTiming{},
		CreatedAt:      Timestamp{time.Now().UTC()},
	}
}

var resultTransitions = map[State][]State{
	StatePending:   {StateRunning},
	StateRunning:   {StateCompleted, StateFailed},
	StateFailed:    {StateRunning},
	StateCompleted: {},
}

// SetState advances the result state machine; completed is terminal for
// the fingerprint.
func (r *Result) SetState(next State) error {
	for _, allowed := range resultTransitions[r.State] {
		if allowed == next {
			r.State = next
			if next == StateCompleted {
				r.CompletedAt = &Timestamp{time.Now().UTC()}
			}
			return nil
		}
	}
	return errors.NewConflictError("invalid analysis state transition").
		WithDetail("from", string(r.State)).
		WithDetail("to", string(next))
}

// RecordTiming appends one stage timing.
func (r *Result) RecordTiming(t StageTiming) {
	r.Timings = append(r.Timings, t)
}

// Corpus assembles the textual corpus seen by downstream analyzers:
// transcript text, OCR aggregated text, and any textual context, in that
// order, separated by newlines. Downstream stages treat this as an opaque
// string and never re-read raw bytes.
func (r *Result) Corpus(contextText string) string {
	var parts []string
	if r.Transcript != nil && r.Transcript.Text != "" {
		parts = append(parts, r.Transcript.Text)
	}
	if text := AggregateOCRText(r.OCRPages); text != "" {
		parts = append(parts, text)
	}
	if contextText != "" {
		parts = append(parts, contextText)
	}
	return joinWith(parts, "\n")
}

// AggregateOCRText joins page texts in order with the form-feed separator
// so offsets remain page-attributable.
func AggregateOCRText(pages []OCRPage) string {
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return joinWith(texts, "\f")
}

func joinWith(parts []string, sep string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out
}
