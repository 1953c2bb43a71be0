package contentstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/caseproof/evidence-backend/internal/domain/errors"
)

// BlobMeta is the sidecar record written next to each blob.
type BlobMeta struct {
	OriginalFilename string    `json:"original_filename"`
	DeclaredType     string    `json:"declared_type"`
	Size             int64     `json:"size"`
	IngestedAt       time.Time `json:"ingested_at"`
}

// Store is a content-addressed blob area on the filesystem. Blobs are keyed
// by the SHA-256 of their bytes at <root>/<xx>/<yy>/<digest>; the store is
// append-only and a digest is never rewritten.
type Store struct {
	root   string
	logger *zap.Logger
}

// New opens (creating if necessary) a content store rooted at root.
func New(root string, logger *zap.Logger) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("content store root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("creating content store root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Root returns the store's filesystem root.
func (s *Store) Root() string {
	return s.root
}

// BlobPath returns the canonical path for a digest.
func (s *Store) BlobPath(digest string) string {
	return filepath.Join(s.root, digest[:2], digest[2:4], digest)
}

func (s *Store) metaPath(digest string) string {
	return s.BlobPath(digest) + ".meta.json"
}

// Writer streams bytes to a temporary file while hashing them
// incrementally. Commit promotes the temp file into the store.
type Writer struct {
	store  *Store
	tmp    *os.File
	hasher hash.Hash
	size   int64
	done   bool
}

// NewWriter starts a streaming ingestion.
func (s *Store) NewWriter() (*Writer, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "tmp"), "ingest-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &Writer{store: s, tmp: tmp, hasher: sha256.New()}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.tmp.Write(p)
	if n > 0 {
		w.hasher.Write(p[:n])
		w.size += int64(n)
	}
	return n, err
}

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 {
	return w.size
}

// Abort discards the temporary file.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	name := w.tmp.Name()
	w.tmp.Close()
	os.Remove(name)
}

// Commit finalizes the digest and promotes the temp file into the store.
// If a blob with the same digest already exists the temp file is discarded
// and the existing blob is reused.
func (w *Writer) Commit(meta BlobMeta) (digest string, path string, err error) {
	if w.done {
		return "", "", fmt.Errorf("writer already finished")
	}
	w.done = true

	tmpName := w.tmp.Name()
	if err := w.tmp.Sync(); err != nil {
		w.tmp.Close()
		os.Remove(tmpName)
		return "", "", domainerrors.NewIntegrityError("flushing ingested bytes").WithCause(err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", "", domainerrors.NewIntegrityError("closing ingested bytes").WithCause(err)
	}

	digest = hex.EncodeToString(w.hasher.Sum(nil))
	path = w.store.BlobPath(digest)

	if _, statErr := os.Stat(path); statErr == nil {
		// Content-addressed dedup: identical bytes already stored.
		os.Remove(tmpName)
		w.store.logger.Debug("blob already present, deduplicating",
			zap.String("digest", digest))
		return digest, path, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("promoting blob: %w", err)
	}

	meta.Size = w.size
	if meta.IngestedAt.IsZero() {
		meta.IngestedAt = time.Now().UTC()
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("marshaling blob meta: %w", err)
	}
	if err := os.WriteFile(w.store.metaPath(digest), metaBytes, 0o644); err != nil {
		return "", "", fmt.Errorf("writing blob meta: %w", err)
	}

	w.store.logger.Debug("blob committed",
		zap.String("digest", digest),
		zap.Int64("bytes", w.size))

	return digest, path, nil
}

// Open returns a reader over the blob for digest without verification.
func (s *Store) Open(digest string) (io.ReadCloser, error) {
	f, err := os.Open(s.BlobPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domainerrors.NewNotFoundError("blob")
		}
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, nil
}

// OpenVerified re-reads the blob, recomputes its SHA-256, and fails with
// IntegrityError when the observed digest differs from the expected one.
// The full contents are returned so no stage reads unverified bytes.
func (s *Store) OpenVerified(digest string) ([]byte, error) {
	f, err := s.Open(digest)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hasher := sha256.New()
	data, err := io.ReadAll(io.TeeReader(f, hasher))
	if err != nil {
		return nil, domainerrors.NewIntegrityError("reading blob").WithCause(err)
	}

	observed := hex.EncodeToString(hasher.Sum(nil))
	if observed != digest {
		return nil, domainerrors.NewIntegrityError("content digest mismatch").
			WithDetail("expected_digest", digest).
			WithDetail("observed_digest", observed)
	}
	return data, nil
}

// Meta reads the sidecar metadata for a digest.
func (s *Store) Meta(digest string) (*BlobMeta, error) {
	data, err := os.ReadFile(s.metaPath(digest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domainerrors.NewNotFoundError("blob metadata")
		}
		return nil, fmt.Errorf("reading blob meta: %w", err)
	}
	var meta BlobMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshaling blob meta: %w", err)
	}
	return &meta, nil
}

// Exists reports whether a blob with the given digest is stored.
func (s *Store) Exists(digest string) bool {
	_, err := os.Stat(s.BlobPath(digest))
	return err == nil
}

// Healthy reports whether the store root is reachable and writable.
func (s *Store) Healthy() error {
	probe := filepath.Join(s.root, "tmp", ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("content store not writable: %w", err)
	}
	os.Remove(probe)
	return nil
}
