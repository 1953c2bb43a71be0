package report

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/audit"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
	"github.com/caseproof/evidence-backend/internal/infrastructure/repository"
)

func sampleResult(t *testing.T) *analysis.Result {
	t.Helper()
	r := analysis.NewResult(uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"), "fp-test", "v3")
	r.ID = uuid.MustParse("11111111-2222-3333-4444-555555555555")
	r.CreatedAt = analysis.Timestamp{Time: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	r.Violations = []analysis.Violation{
		{
			RuleID: "R-104", RuleName: "Exculpatory material withheld",
			Severity: analysis.SeverityCritical, MatchOffset: 12, MatchLength: 20,
			Excerpt:   "report was withheld from discovery",
			Citations: []string{"Brady v. Maryland, 373 U.S. 83 (1963)"},
		},
	}
	r.Compliance = []analysis.ComplianceIssue{
		{RuleID: "C-010", Description: "analysis flagged one or more critical violations", Severity: analysis.SeverityHigh},
	}
	r.ComplianceStatus = analysis.StatusNonCompliant
	r.Motions = []analysis.Motion{
		{
			Name: "Motion to Compel Discovery", Rationale: "Suppression of material exculpatory evidence violates due process.",
			SupportingRuleIDs:   []string{"R-104"},
			SupportingCitations: []string{"Brady v. Maryland, 373 U.S. 83 (1963)"},
			MaxSeverity:         analysis.SeverityCritical,
		},
	}
	r.ExecutiveSummary = Summarize(r.Violations, r.ComplianceStatus, r.Motions)
	return r
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"canonical-json", "markdown", "html", "pdf"} {
		_, err := ParseFormat(s)
		assert.NoError(t, err)
	}
	_, err := ParseFormat("docx")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	r := sampleResult(t)
	assert.Equal(t,
		"Detected 1 violation(s) (1 critical). Evidence is non-compliant. 1 motion(s) recommended.",
		Summarize(r.Violations, r.ComplianceStatus, r.Motions))

	assert.Equal(t,
		"No violations detected. Evidence is compliant. No motions recommended.",
		Summarize(nil, analysis.StatusCompliant, nil))
}

func TestRenderIsDeterministicPerFormat(t *testing.T) {
	r := sampleResult(t)

	for _, format := range []Format{FormatCanonicalJSON, FormatMarkdown, FormatHTML, FormatPDF} {
		first, err := Render(r, format)
		require.NoError(t, err, "format %s", format)
		second, err := Render(r, format)
		require.NoError(t, err)
		assert.Equal(t, first, second, "format %s must be byte-identical", format)
		assert.NotEmpty(t, first)
	}
}

func TestRenderMarkdownContent(t *testing.T) {
	out, err := Render(sampleResult(t), FormatMarkdown)
	require.NoError(t, err)

	md := string(out)
	assert.Contains(t, md, "# Evidence Analysis Report")
	assert.Contains(t, md, "R-104")
	assert.Contains(t, md, "Brady v. Maryland")
	assert.Contains(t, md, "Motion to Compel Discovery")
}

func TestRenderHTMLEscapes(t *testing.T) {
	r := sampleResult(t)
	r.Violations[0].Excerpt = `<script>alert("x")</script>`

	out, err := Render(r, FormatHTML)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<script>alert")
	assert.Contains(t, string(out), "&lt;script&gt;")
}

func TestRenderPDFStructure(t *testing.T) {
	out, err := Render(sampleResult(t), FormatPDF)
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-1.4")))
	assert.Contains(t, string(out), "%%EOF")
	assert.Contains(t, string(out), "EVIDENCE ANALYSIS REPORT")
}

func exportFixtures(t *testing.T) (*analysis.Result, *evidence.Evidence, []byte, []*audit.Event) {
	t.Helper()
	r := sampleResult(t)

	blob := []byte("raw evidence bytes")
	ev := &evidence.Evidence{
		ID:            uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"),
		UserID:        uuid.New(),
		DeclaredType:  evidence.TypeDocument,
		ContentDigest: "0f2b5c6f9d6f6d0a3b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f708192a3b4c5d6",
		SizeBytes:     int64(len(blob)),
	}

	repo := repository.NewMemoryAuditRepository()
	for _, action := range []string{audit.ActionIngested, audit.ActionProcessed, audit.ActionExported} {
		event, err := audit.NewEvent(audit.ActorSystem, "evidence", ev.ID.String(), action, "success")
		require.NoError(t, err)
		event.ContentDigest = ev.ContentDigest
		require.NoError(t, repo.Append(context.Background(), event))
	}
	day := time.Now().UTC().Format("2006-01-02")
	chain, err := repo.ListByPartitionDay(context.Background(), day)
	require.NoError(t, err)
	return r, ev, blob, chain
}

func TestExportBundleContents(t *testing.T) {
	r, ev, blob, chain := exportFixtures(t)

	bundle, err := ExportBundle(r, ev, bytes.NewReader(blob), chain)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	require.NoError(t, err)

	names := make([]string, len(zr.File))
	for i, f := range zr.File {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"canonical.json", "evidence.bin", "chain.jsonl", "manifest.json"}, names)

	var evidenceBytes, manifestBytes []byte
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		switch f.Name {
		case "evidence.bin":
			evidenceBytes = data
		case "manifest.json":
			manifestBytes = data
		}
	}
	assert.Equal(t, blob, evidenceBytes)

	var manifest Manifest
	require.NoError(t, json.Unmarshal(manifestBytes, &manifest))
	assert.Equal(t, ev.ContentDigest, manifest.ContentDigest)
	assert.Equal(t, r.Fingerprint, manifest.Fingerprint)
	assert.Equal(t, r.ProfileVersion, manifest.ProfileVersion)
	assert.Len(t, manifest.BundleDigest, 64)
	assert.Equal(t, len(chain), manifest.ChainEvents)
}

func TestExportBundleIsDeterministic(t *testing.T) {
	r, ev, blob, chain := exportFixtures(t)

	first, err := ExportBundle(r, ev, bytes.NewReader(blob), chain)
	require.NoError(t, err)
	second, err := ExportBundle(r, ev, bytes.NewReader(blob), chain)
	require.NoError(t, err)

	assert.Equal(t, first, second, "re-export of the same inputs must be byte-identical")
}

func TestExportBundleRejectsBrokenChain(t *testing.T) {
	r, ev, blob, chain := exportFixtures(t)
	require.NotEmpty(t, chain)
	chain[0].Outcome = "tampered"

	_, err := ExportBundle(r, ev, bytes.NewReader(blob), chain)
	require.Error(t, err)
}
