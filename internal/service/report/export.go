package report

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
)

// Bundle file names in manifest digest order.
const (
	bundleCanonical = "canonical.json"
	bundleEvidence  = "evidence.bin"
	bundleChain     = "chain.jsonl"
	bundleManifest  = "manifest.json"
)

// Manifest describes an export bundle. The bundle digest is the SHA-256
// over the canonical.json, evidence.bin, and chain.jsonl bytes
// concatenated in that order, so any re-export of the same inputs carries
// the same digest.
type Manifest struct {
	AnalysisID     string `json:"analysis_id"`
	EvidenceID     string `json:"evidence_id"`
	ContentDigest  string `json:"content_digest"`
	Fingerprint    string `json:"fingerprint"`
	ProfileVersion string `json:"analyzer_profile_version"`
	CreatedAt      string `json:"created_at"`
	ChainEvents    int    `json:"chain_events"`
	ChainDigest    string `json:"chain_digest"`
	BundleDigest   string `json:"bundle_digest"`
}

// ExportBundle assembles the court-ready ZIP: the canonical result, the
// raw evidence bytes, the chain-of-custody events, and a manifest. Output
// is byte-deterministic: fixed entry metadata, store-only compression.
func ExportBundle(result *analysis.Result, ev *evidence.Evidence, blob io.Reader, chain []*audit.Event) ([]byte, error) {
	canonical, err := analysis.CanonicalJSON(result)
	if err != nil {
		return nil, errors.Wrap(err, "serializing canonical result")
	}

	evidenceBytes, err := io.ReadAll(blob)
	if err != nil {
		return nil, errors.NewIntegrityError("reading evidence blob").WithCause(err)
	}

	// The chain here is the subject's custody slice, so each event is
	// verified in isolation; ledger-wide linkage is checked by the audit
	// verification endpoint.
	chainReport := audit.VerifyEvents(chain)
	if !chainReport.Valid {
		return nil, errors.NewIntegrityError("chain of custody failed verification").
			WithDetail("broken_at", chainReport.BrokenAt).
			WithDetail("reason", chainReport.Reason)
	}

	var chainBuf bytes.Buffer
	for _, event := range chain {
		line, err := analysis.CanonicalJSON(event)
		if err != nil {
			return nil, errors.Wrap(err, "serializing chain event")
		}
		chainBuf.Write(line)
		chainBuf.WriteByte('\n')
	}

	digest := sha256.New()
	digest.Write(canonical)
	digest.Write(evidenceBytes)
	digest.Write(chainBuf.Bytes())

	// CreatedAt is the analysis creation instant, not export time, so
	// re-exports of the same result stay byte-identical.
	manifest := Manifest{
		AnalysisID:     result.ID.String(),
		EvidenceID:     ev.ID.String(),
		ContentDigest:  ev.ContentDigest,
		Fingerprint:    result.Fingerprint,
		ProfileVersion: result.ProfileVersion,
		CreatedAt:      result.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		ChainEvents:    len(chain),
		ChainDigest:    chainReport.ChainDigest,
		BundleDigest:   hex.EncodeToString(digest.Sum(nil)),
	}
	manifestBytes, err := analysis.CanonicalJSON(manifest)
	if err != nil {
		return nil, errors.Wrap(err, "serializing manifest")
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	entries := []struct {
		name string
		data []byte
	}{
		{bundleCanonical, canonical},
		{bundleEvidence, evidenceBytes},
		{bundleChain, chainBuf.Bytes()},
		{bundleManifest, manifestBytes},
	}
	for _, entry := range entries {
		// Fixed timestamp and store-only method keep the archive
		// byte-identical across exports.
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     entry.name,
			Method:   zip.Store,
			Modified: time.Unix(0, 0).UTC(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "creating bundle entry")
		}
		if _, err := w.Write(entry.data); err != nil {
			return nil, errors.Wrap(err, "writing bundle entry")
		}
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "finalizing bundle")
	}
	return out.Bytes(), nil
}
