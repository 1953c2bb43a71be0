package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/caseproof/evidence-backend/internal/domain/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func ingest(t *testing.T, s *Store, content string) (string, string) {
	t.Helper()
	w, err := s.NewWriter()
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	digest, path, err := w.Commit(BlobMeta{OriginalFilename: "body.pdf", DeclaredType: "document"})
	require.NoError(t, err)
	return digest, path
}

func TestIngestComputesDigestIncrementally(t *testing.T) {
	s := newTestStore(t)

	content := strings.Repeat("evidence bytes ", 1024)
	digest, path := ingest(t, s, content)

	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), digest)

	// Path shape <root>/<xx>/<yy>/<digest>.
	assert.Equal(t, filepath.Join(s.Root(), digest[:2], digest[2:4], digest), path)

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(stored))
}

func TestIngestWritesMetaSidecar(t *testing.T) {
	s := newTestStore(t)
	digest, _ := ingest(t, s, "document body")

	meta, err := s.Meta(digest)
	require.NoError(t, err)
	assert.Equal(t, "body.pdf", meta.OriginalFilename)
	assert.Equal(t, "document", meta.DeclaredType)
	assert.Equal(t, int64(len("document body")), meta.Size)
	assert.False(t, meta.IngestedAt.IsZero())
}

func TestIngestDeduplicates(t *testing.T) {
	s := newTestStore(t)

	d1, p1 := ingest(t, s, "same bytes")
	d2, p2 := ingest(t, s, "same bytes")

	assert.Equal(t, d1, d2)
	assert.Equal(t, p1, p2)

	// No leftover temp files.
	entries, err := os.ReadDir(filepath.Join(s.Root(), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAbortDiscardsTemp(t *testing.T) {
	s := newTestStore(t)

	w, err := s.NewWriter()
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	w.Abort()

	entries, err := os.ReadDir(filepath.Join(s.Root(), "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestOpenVerified(t *testing.T) {
	s := newTestStore(t)
	digest, path := ingest(t, s, "original artifact")

	t.Run("round trip", func(t *testing.T) {
		data, err := s.OpenVerified(digest)
		require.NoError(t, err)
		assert.Equal(t, "original artifact", string(data))
	})

	t.Run("corrupted blob is an integrity error", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("tampered artifact"), 0o644))

		_, err := s.OpenVerified(digest)
		require.Error(t, err)
		assert.Equal(t, domainerrors.KindIntegrityError, domainerrors.KindOf(err))
		assert.False(t, domainerrors.IsRetryable(err), "integrity errors are never retried")
	})

	t.Run("missing blob", func(t *testing.T) {
		missing := strings.Repeat("0", 64)
		_, err := s.OpenVerified(missing)
		assert.Equal(t, domainerrors.KindNotFound, domainerrors.KindOf(err))
	})
}

func TestHealthy(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Healthy())
}
