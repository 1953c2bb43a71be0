package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// Action names used across the service. Kept low cardinality.
const (
	ActionAuthSuccess       = "auth.success"
	ActionAuthFailure       = "auth.failure"
	ActionGateDenied        = "gate.denied"
	ActionGateGranted       = "gate.granted"
	ActionKeyIssued         = "apikey.issued"
	ActionKeyRevoked        = "apikey.revoked"
	ActionTierChanged       = "user.tier_changed"
	ActionIngested          = "evidence.ingested"
	ActionProcessed         = "evidence.processed"
	ActionProcessedCached   = "evidence.processed.cached"
	ActionProcessingFailed  = "evidence.processing_failed"
	ActionIntegrityMismatch = "integrity.mismatch"
	ActionExported          = "evidence.exported"
	ActionCorrection        = "correction"
)

// ActorSystem is the actor id for service-initiated events.
const ActorSystem = "system"

// Event is one append-only audit record. Events are never updated or
// deleted; corrections are new events referencing the original.
type Event struct {
	ID            uuid.UUID `json:"id"`
	PartitionDay  string    `json:"partition_day"` // YYYY-MM-DD, UTC
	SequenceNum   int64     `json:"sequence_num"`  // monotonic per partition day
	Timestamp     time.Time `json:"timestamp"`
	ActorID       string    `json:"actor_id"`
	SubjectType   string    `json:"subject_type"` // evidence, user, api_key
	SubjectID     string    `json:"subject_id"`
	Action        string    `json:"action"`
	Outcome       string    `json:"outcome"` // success, failure, denied
	ContentDigest string    `json:"content_digest,omitempty"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	RefEventID    string    `json:"ref_event_id,omitempty"` // set on corrections
	PreviousHash  string    `json:"previous_hash"`
	EventHash     string    `json:"event_hash"`
}

// NewEvent validates and creates an audit event. Sequence number and hash
// chain fields are assigned by the writer at append time.
func NewEvent(actorID, subjectType, subjectID, action, outcome string) (*Event, error) {
	if actorID == "" {
		return nil, errors.NewMalformedRequestError("audit actor is required")
	}
	if subjectID == "" {
		return nil, errors.NewMalformedRequestError("audit subject is required")
	}
	if action == "" {
		return nil, errors.NewMalformedRequestError("audit action is required")
	}
	if outcome == "" {
		outcome = "success"
	}

	now := time.Now().UTC()
	return &Event{
		ID:           uuid.New(),
		PartitionDay: now.Format("2006-01-02"),
		Timestamp:    now,
		ActorID:      actorID,
		SubjectType:  subjectType,
		SubjectID:    subjectID,
		Action:       action,
		Outcome:      outcome,
	}, nil
}

// Correction creates a new event referencing a previously written one.
// The original row is never touched.
func Correction(actorID string, original *Event, detail string) (*Event, error) {
	ev, err := NewEvent(actorID, original.SubjectType, original.SubjectID, ActionCorrection, "success")
	if err != nil {
		return nil, err
	}
	ev.RefEventID = original.ID.String()
	ev.Detail = detail
	return ev, nil
}

// chainPayload is the immutable subset hashed into the chain.
type chainPayload struct {
	ID            string `json:"id"`
	PartitionDay  string `json:"partition_day"`
	SequenceNum   int64  `json:"sequence_num"`
	TimestampNano int64  `json:"timestamp_nano"`
	ActorID       string `json:"actor_id"`
	SubjectType   string `json:"subject_type"`
	SubjectID     string `json:"subject_id"`
	Action        string `json:"action"`
	Outcome       string `json:"outcome"`
	ContentDigest string `json:"content_digest"`
	Fingerprint   string `json:"fingerprint"`
	PreviousHash  string `json:"previous_hash"`
}

// Seal assigns the sequence number and computes the hash chain link.
func (e *Event) Seal(sequenceNum int64, previousHash string) error {
	if e.EventHash != "" {
		return errors.NewConflictError("audit event already sealed")
	}
	e.SequenceNum = sequenceNum
	e.PreviousHash = previousHash

	payload := chainPayload{
		ID:            e.ID.String(),
		PartitionDay:  e.PartitionDay,
		SequenceNum:   e.SequenceNum,
		TimestampNano: e.Timestamp.UnixNano(),
		ActorID:       e.ActorID,
		SubjectType:   e.SubjectType,
		SubjectID:     e.SubjectID,
		Action:        e.Action,
		Outcome:       e.Outcome,
		ContentDigest: e.ContentDigest,
		Fingerprint:   e.Fingerprint,
		PreviousHash:  e.PreviousHash,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.NewInternalError("sealing audit event").WithCause(err)
	}
	sum := sha256.Sum256(data)
	e.EventHash = hex.EncodeToString(sum[:])
	return nil
}

// Sealed reports whether the event has been assigned its chain link.
func (e *Event) Sealed() bool {
	return e.EventHash != ""
}
