package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
)

const sampleCorpus = `The officer did not advise the defendant of his rights before questioning.
Counsel was requested and the interview continued for two hours.
The vehicle was searched without a warrant at the scene.
The exculpatory lab report was withheld from discovery until trial.
The affidavit omits material facts about the informant.`

func TestScanViolationsFindsKnownPatterns(t *testing.T) {
	violations, err := ScanViolations(sampleCorpus, Context{CaseNumber: "CR-2026-1001"}, ProfileV1)
	require.NoError(t, err)
	require.NotEmpty(t, violations)

	found := make(map[string]bool)
	for _, v := range violations {
		found[v.RuleID] = true
		assert.NotEmpty(t, v.Excerpt)
		assert.NotEmpty(t, v.Citations)
		assert.GreaterOrEqual(t, v.MatchOffset, 0)
		assert.Greater(t, v.MatchLength, 0)
	}
	assert.True(t, found["R-101"], "Miranda rule should fire")
	assert.True(t, found["R-102"], "counsel rule should fire")
	assert.True(t, found["R-103"], "warrant rule should fire")
	assert.True(t, found["R-104"], "Brady rule should fire")
	assert.True(t, found["R-105"], "Franks rule should fire")
}

func TestScanViolationsIsDeterministic(t *testing.T) {
	ctx := Context{CaseNumber: "CR-2026-1001"}
	first, err := ScanViolations(sampleCorpus, ctx, ProfileV3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := ScanViolations(sampleCorpus, ctx, ProfileV3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestScanViolationsOrdering(t *testing.T) {
	violations, err := ScanViolations(sampleCorpus, Context{}, ProfileV1)
	require.NoError(t, err)

	for i := 1; i < len(violations); i++ {
		prev, cur := violations[i-1], violations[i]
		if prev.Severity.Rank() == cur.Severity.Rank() {
			if prev.RuleID == cur.RuleID {
				assert.LessOrEqual(t, prev.MatchOffset, cur.MatchOffset)
			} else {
				assert.Less(t, prev.RuleID, cur.RuleID)
			}
		} else {
			assert.Greater(t, prev.Severity.Rank(), cur.Severity.Rank())
		}
	}
}

func TestScanViolationsRepeatedRuleDistinctOffsets(t *testing.T) {
	corpus := "The suspect was detained without a warrant on Monday. " +
		"Later the residence was searched without a warrant as well."

	violations, err := ScanViolations(corpus, Context{}, ProfileV1)
	require.NoError(t, err)

	var warrantHits int
	for _, v := range violations {
		if v.RuleID == "R-103" {
			warrantHits++
		}
	}
	assert.Equal(t, 2, warrantHits, "distinct offsets are distinct violations")
}

func TestScanViolationsUnknownProfile(t *testing.T) {
	_, err := ScanViolations("text", Context{}, "v99")
	assert.Error(t, err)
}

func TestProfileVersionsAreAdditive(t *testing.T) {
	corpus := "The defendant was searched incident to arrest. A statement obtained after invocation was used."

	v1, err := ScanViolations(corpus, Context{}, ProfileV1)
	require.NoError(t, err)
	v2, err := ScanViolations(corpus, Context{}, ProfileV2)
	require.NoError(t, err)
	v3, err := ScanViolations(corpus, Context{}, ProfileV3)
	require.NoError(t, err)

	assert.Empty(t, v1, "v1 has neither rule")
	assert.Len(t, v2, 1, "v2 adds the Gant rule")
	assert.Len(t, v3, 2, "v3 adds the invocation rule")
}

func TestCheckCompliance(t *testing.T) {
	t.Run("clean original authenticated evidence", func(t *testing.T) {
		issues, status := CheckCompliance(Attributes{
			Type: evidence.TypeDocument, IsOriginal: true, Authenticated: true, CustodyLength: 3,
		}, nil)
		assert.Empty(t, issues)
		assert.Equal(t, analysis.StatusCompliant, status)
	})

	t.Run("copy is a caveat", func(t *testing.T) {
		issues, status := CheckCompliance(Attributes{
			Type: evidence.TypeDocument, IsOriginal: false, Authenticated: true, CustodyLength: 3,
		}, nil)
		require.Len(t, issues, 1)
		assert.Equal(t, "C-001", issues[0].RuleID)
		assert.Equal(t, analysis.StatusCompliantWithCaveats, status)
	})

	t.Run("unauthenticated is non-compliant", func(t *testing.T) {
		_, status := CheckCompliance(Attributes{
			Type: evidence.TypeDocument, IsOriginal: true, Authenticated: false, CustodyLength: 3,
		}, nil)
		assert.Equal(t, analysis.StatusNonCompliant, status)
	})

	t.Run("critical violations surface as compliance issue", func(t *testing.T) {
		issues, status := CheckCompliance(Attributes{
			Type: evidence.TypeVideo, IsOriginal: true, Authenticated: true, CustodyLength: 2,
		}, []analysis.Violation{
			{RuleID: "R-104", Severity: analysis.SeverityCritical},
		})
		require.Len(t, issues, 1)
		assert.Equal(t, "C-010", issues[0].RuleID)
		assert.Equal(t, analysis.StatusNonCompliant, status)
	})
}

func TestRecommendMotionsOnePerRule(t *testing.T) {
	violations, err := ScanViolations(sampleCorpus, Context{}, ProfileV1)
	require.NoError(t, err)

	motions, err := RecommendMotions(violations, ProfileV1)
	require.NoError(t, err)
	require.NotEmpty(t, motions)

	seenRule := make(map[string]bool)
	for _, m := range motions {
		require.Len(t, m.SupportingRuleIDs, 1)
		rule := m.SupportingRuleIDs[0]
		assert.False(t, seenRule[rule], "at most one motion per violation rule")
		seenRule[rule] = true
		assert.NotEmpty(t, m.Rationale)
		assert.NotEmpty(t, m.SupportingCitations)
	}

	// Ordering: max severity desc, rule id asc.
	for i := 1; i < len(motions); i++ {
		prev, cur := motions[i-1], motions[i]
		if prev.MaxSeverity.Rank() == cur.MaxSeverity.Rank() {
			assert.Less(t, prev.SupportingRuleIDs[0], cur.SupportingRuleIDs[0])
		} else {
			assert.Greater(t, prev.MaxSeverity.Rank(), cur.MaxSeverity.Rank())
		}
	}
}

func TestRecommendMotionsMergesRepeatedMatches(t *testing.T) {
	corpus := "Detained without a warrant. Searched without a warrant again later."
	violations, err := ScanViolations(corpus, Context{}, ProfileV1)
	require.NoError(t, err)

	motions, err := RecommendMotions(violations, ProfileV1)
	require.NoError(t, err)
	require.Len(t, motions, 1)
	assert.Contains(t, motions[0].Rationale, "Matched 2 times")
}

func TestCollectCitations(t *testing.T) {
	violations, err := ScanViolations(sampleCorpus, Context{}, ProfileV1)
	require.NoError(t, err)

	citations := CollectCitations(violations)
	assert.Contains(t, citations, "Brady v. Maryland, 373 U.S. 83 (1963)")
	for i := 1; i < len(citations); i++ {
		assert.Less(t, citations[i-1], citations[i], "citations are sorted")
	}
}
