package evidence

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDigest = strings.Repeat("ab", 32)

func newReceived(t *testing.T) *Evidence {
	t.Helper()
	ev, err := New(uuid.New(), TypeDocument, testDigest, 2<<20, "brief.pdf", "/data/ab/cd/x", "CR-2024-001")
	require.NoError(t, err)
	return ev
}

func TestNew(t *testing.T) {
	ev := newReceived(t)
	assert.Equal(t, StatusReceived, ev.Status)
	assert.Equal(t, "CR-2024-001", ev.CaseNumber)

	_, err := New(uuid.Nil, TypeDocument, testDigest, 1, "f", "p", "")
	assert.Error(t, err)

	_, err = New(uuid.New(), TypeDocument, "short", 1, "f", "p", "")
	assert.Error(t, err)

	_, err = New(uuid.New(), TypeDocument, testDigest, 0, "f", "p", "")
	assert.Error(t, err)
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"video", "audio", "document", "image", "other"} {
		typ, err := ParseType(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(typ))
	}

	_, err := ParseType("spreadsheet")
	assert.Error(t, err)
}

func TestTypeRouting(t *testing.T) {
	assert.True(t, TypeVideo.IsMedia())
	assert.True(t, TypeAudio.IsMedia())
	assert.False(t, TypeDocument.IsMedia())

	assert.True(t, TypeDocument.IsVisual())
	assert.True(t, TypeImage.IsVisual())
	assert.False(t, TypeAudio.IsVisual())

	assert.False(t, TypeOther.IsMedia())
	assert.False(t, TypeOther.IsVisual())
}

func TestStatusMachine(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		ev := newReceived(t)
		require.NoError(t, ev.SetStatus(StatusProcessing))
		require.NoError(t, ev.SetStatus(StatusCompleted))
		assert.NotNil(t, ev.CompletedAt)
	})

	t.Run("failed then reprocess", func(t *testing.T) {
		ev := newReceived(t)
		require.NoError(t, ev.SetStatus(StatusProcessing))
		require.NoError(t, ev.SetStatus(StatusFailed))
		require.NoError(t, ev.SetStatus(StatusProcessing))
	})

	t.Run("completed can only re-enter processing", func(t *testing.T) {
		ev := newReceived(t)
		require.NoError(t, ev.SetStatus(StatusProcessing))
		require.NoError(t, ev.SetStatus(StatusCompleted))
		assert.Error(t, ev.SetStatus(StatusFailed))
		assert.Error(t, ev.SetStatus(StatusReceived))
		// A new analyzer profile invalidates the stored analysis.
		require.NoError(t, ev.SetStatus(StatusProcessing))
		require.NoError(t, ev.SetStatus(StatusCompleted))
	})

	t.Run("received cannot jump to completed", func(t *testing.T) {
		ev := newReceived(t)
		assert.Error(t, ev.SetStatus(StatusCompleted))
	})
}

func TestFingerprintPurity(t *testing.T) {
	a := Fingerprint(testDigest, TypeDocument, "CR-2024-001", "v3")
	b := Fingerprint(testDigest, TypeDocument, "CR-2024-001", "v3")
	assert.Equal(t, a, b, "equal inputs must produce equal fingerprints")

	assert.NotEqual(t, a, Fingerprint(testDigest, TypeImage, "CR-2024-001", "v3"))
	assert.NotEqual(t, a, Fingerprint(testDigest, TypeDocument, "CR-2024-002", "v3"))
	assert.NotEqual(t, a, Fingerprint(testDigest, TypeDocument, "CR-2024-001", "v2"),
		"profile upgrade must invalidate cached results")
	assert.Len(t, a, 64)
}

func TestFingerprintInjectiveEncoding(t *testing.T) {
	// Field contents must not bleed across separators.
	a := Fingerprint(testDigest, TypeOther, "ab", "c")
	b := Fingerprint(testDigest, TypeOther, "a", "bc")
	assert.NotEqual(t, a, b)
}
