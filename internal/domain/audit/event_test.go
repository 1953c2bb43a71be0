package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sealedChain(t *testing.T, n int) []*Event {
	t.Helper()
	events := make([]*Event, 0, n)
	prev := GenesisHash
	for i := 0; i < n; i++ {
		ev, err := NewEvent(ActorSystem, "evidence", "ev-1", ActionProcessed, "success")
		require.NoError(t, err)
		require.NoError(t, ev.Seal(int64(i+1), prev))
		prev = ev.EventHash
		events = append(events, ev)
	}
	return events
}

func TestNewEventValidation(t *testing.T) {
	_, err := NewEvent("", "evidence", "ev-1", ActionIngested, "success")
	assert.Error(t, err)

	_, err = NewEvent(ActorSystem, "evidence", "", ActionIngested, "success")
	assert.Error(t, err)

	_, err = NewEvent(ActorSystem, "evidence", "ev-1", "", "success")
	assert.Error(t, err)

	ev, err := NewEvent(ActorSystem, "evidence", "ev-1", ActionIngested, "")
	require.NoError(t, err)
	assert.Equal(t, "success", ev.Outcome)
	assert.False(t, ev.Sealed())
}

func TestSealIsIdempotentGuard(t *testing.T) {
	ev, err := NewEvent(ActorSystem, "evidence", "ev-1", ActionIngested, "success")
	require.NoError(t, err)

	require.NoError(t, ev.Seal(1, GenesisHash))
	assert.True(t, ev.Sealed())
	assert.Error(t, ev.Seal(2, ev.EventHash), "sealed events are immutable")
}

func TestVerifyChainValid(t *testing.T) {
	events := sealedChain(t, 5)

	report := VerifyChain(events)
	assert.True(t, report.Valid)
	assert.Equal(t, 5, report.EventsChecked)
	assert.NotEmpty(t, report.ChainDigest)

	again := VerifyChain(events)
	assert.Equal(t, report.ChainDigest, again.ChainDigest, "verification digest must be deterministic")
}

func TestVerifyChainDetectsTamperedPayload(t *testing.T) {
	events := sealedChain(t, 5)
	events[2].Outcome = "failure"

	report := VerifyChain(events)
	assert.False(t, report.Valid)
	assert.Equal(t, int64(3), report.BrokenAt)
	assert.Equal(t, "event hash mismatch", report.Reason)
}

func TestVerifyChainDetectsRelinking(t *testing.T) {
	events := sealedChain(t, 5)
	// Drop an event from the middle and splice the rest together.
	spliced := append(events[:2:2], events[3:]...)

	report := VerifyChain(spliced)
	assert.False(t, report.Valid)
}

func TestVerifyChainDetectsSequenceGap(t *testing.T) {
	events := sealedChain(t, 3)
	events[2].SequenceNum = 9

	report := VerifyChain(events)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Reason, "sequence gap")
}

func TestVerifyChainEmpty(t *testing.T) {
	report := VerifyChain(nil)
	assert.True(t, report.Valid)
	assert.Equal(t, 0, report.EventsChecked)
}

func TestCorrectionReferencesOriginal(t *testing.T) {
	original, err := NewEvent("user-1", "evidence", "ev-1", ActionIngested, "success")
	require.NoError(t, err)
	require.NoError(t, original.Seal(1, GenesisHash))

	fix, err := Correction("admin-1", original, "actor recorded incorrectly")
	require.NoError(t, err)
	assert.Equal(t, ActionCorrection, fix.Action)
	assert.Equal(t, original.ID.String(), fix.RefEventID)
	assert.Equal(t, original.SubjectID, fix.SubjectID)
}
