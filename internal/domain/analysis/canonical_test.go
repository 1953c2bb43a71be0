package analysis

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSONSortsKeys(t *testing.T) {
	out, err := CanonicalJSON(map[string]interface{}{
		"zebra": 1,
		"alpha": 2,
		"mango": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mango":3,"zebra":1}`, string(out))
}

func TestCanonicalJSONNumbers(t *testing.T) {
	out, err := CanonicalJSON(map[string]interface{}{
		"int":   42,
		"whole": 2.0,
		"frac":  1.50,
		"neg":   -0.25,
	})
	require.NoError(t, err)
	// No trailing zeros anywhere.
	assert.Equal(t, `{"frac":1.5,"int":42,"neg":-0.25,"whole":2}`, string(out))
}

func TestCanonicalJSONNormalizesNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to the precomposed form.
	decomposed := "café"
	precomposed := "café"

	a, err := CanonicalJSON(map[string]interface{}{"name": decomposed})
	require.NoError(t, err)
	b, err := CanonicalJSON(map[string]interface{}{"name": precomposed})
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestCanonicalJSONNoTrailingWhitespace(t *testing.T) {
	out, err := CanonicalJSON(map[string]interface{}{"a": []int{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2,3]}`, string(out))
}

func TestTimestampMillisecondPrecision(t *testing.T) {
	ts := Timestamp{time.Date(2026, 8, 24, 15, 4, 5, 123_456_789, time.UTC)}
	out, err := CanonicalJSON(map[string]interface{}{"at": ts})
	require.NoError(t, err)
	assert.Equal(t, `{"at":"2026-08-24T15:04:05.123Z"}`, string(out))
}

func TestTimestampConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	ts := Timestamp{time.Date(2026, 8, 24, 10, 0, 0, 0, loc)}
	out, err := ts.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2026-08-24T15:00:00.000Z"`, string(out))
}

func TestCanonicalJSONResultIsByteStable(t *testing.T) {
	result := NewResult(uuid.MustParse("11111111-2222-3333-4444-555555555555"), "fp-1", "v3")
	result.CreatedAt = Timestamp{time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	result.Violations = []Violation{
		{RuleID: "R-1", RuleName: "Brady disclosure", Severity: SeverityCritical,
			MatchOffset: 10, MatchLength: 4, Excerpt: "with", Citations: []string{"Brady v. Maryland, 373 U.S. 83 (1963)"}},
	}
	result.ExecutiveSummary = "1 critical violation detected."

	first, err := CanonicalJSON(result)
	require.NoError(t, err)
	second, err := CanonicalJSON(result)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same result must render byte-identical canonical JSON")
}

func TestResultStateMachine(t *testing.T) {
	r := NewResult(uuid.New(), "fp", "v1")

	require.NoError(t, r.SetState(StateRunning))
	require.NoError(t, r.SetState(StateFailed))
	require.NoError(t, r.SetState(StateRunning))
	require.NoError(t, r.SetState(StateCompleted))
	assert.NotNil(t, r.CompletedAt)

	assert.Error(t, r.SetState(StateRunning), "completed is terminal")
}

func TestCorpusAssembly(t *testing.T) {
	r := NewResult(uuid.New(), "fp", "v1")
	r.Transcript = &Transcript{Text: "spoken words"}
	r.OCRPages = []OCRPage{
		{PageNumber: 1, Text: "page one"},
		{PageNumber: 2, Text: "page two"},
	}

	corpus := r.Corpus("case context")
	assert.Equal(t, "spoken words\npage one\fpage two\ncase context", corpus)
}

func TestAggregateOCRTextUsesFormFeed(t *testing.T) {
	text := AggregateOCRText([]OCRPage{
		{PageNumber: 1, Text: "a"},
		{PageNumber: 2, Text: "b"},
		{PageNumber: 3, Text: "c"},
	})
	assert.Equal(t, "a\fb\fc", text)
}
