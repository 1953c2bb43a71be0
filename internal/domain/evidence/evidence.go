package evidence

import (
	"time"

	"github.com/google/uuid"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// Type is the declared artifact type.
type Type string

const (
	TypeVideo    Type = "video"
	TypeAudio    Type = "audio"
	TypeDocument Type = "document"
	TypeImage    Type = "image"
	TypeOther    Type = "other"
)

// ParseType validates a declared type string.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeVideo, TypeAudio, TypeDocument, TypeImage, TypeOther:
		return Type(s), nil
	}
	return "", errors.NewMalformedRequestError("declared type must be one of video, audio, document, image, other")
}

// IsMedia reports whether the type routes through the transcription stage.
func (t Type) IsMedia() bool {
	return t == TypeVideo || t == TypeAudio
}

// IsVisual reports whether the type routes through the OCR stage.
func (t Type) IsVisual() bool {
	return t == TypeDocument || t == TypeImage
}

// Status is the evidence lifecycle state.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Evidence is an ingested artifact. The content digest is computed during
// ingestion and never recomputed; a mismatch on re-read is a fatal
// integrity error.
type Evidence struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	DeclaredType     Type       `json:"declared_type"`
	ContentDigest    string     `json:"content_digest"`
	SizeBytes        int64      `json:"size_bytes"`
	OriginalFilename string     `json:"original_filename"`
	StoragePath      string     `json:"storage_path"`
	Status           Status     `json:"status"`
	CaseNumber       string     `json:"case_number,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// New creates an Evidence record for a freshly ingested artifact.
func New(userID uuid.UUID, declaredType Type, digest string, size int64, filename, storagePath, caseNumber string) (*Evidence, error) {
	if userID == uuid.Nil {
		return nil, errors.NewMalformedRequestError("owner user id is required")
	}
	if len(digest) != 64 {
		return nil, errors.NewIntegrityError("content digest must be a hex sha-256")
	}
	if size <= 0 {
		return nil, errors.NewMalformedRequestError("evidence must not be empty")
	}

	return &Evidence{
		ID:               uuid.New(),
		UserID:           userID,
		DeclaredType:     declaredType,
		ContentDigest:    digest,
		SizeBytes:        size,
		OriginalFilename: filename,
		StoragePath:      storagePath,
		Status:           StatusReceived,
		CaseNumber:       caseNumber,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// transition table for the evidence status machine. Completed evidence
// may re-enter processing: a new analyzer profile version produces a new
// fingerprint, so the stored analysis no longer covers the artifact.
var transitions = map[Status][]Status{
	StatusReceived:   {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
	StatusCompleted:  {StatusProcessing},
}

// SetStatus moves the evidence through its lifecycle.
func (e *Evidence) SetStatus(next Status) error {
	for _, allowed := range transitions[e.Status] {
		if allowed == next {
			e.Status = next
			if next == StatusCompleted {
				now := time.Now().UTC()
				e.CompletedAt = &now
			}
			return nil
		}
	}
	return errors.NewConflictError("invalid evidence status transition").
		WithDetail("from", string(e.Status)).
		WithDetail("to", string(next))
}
