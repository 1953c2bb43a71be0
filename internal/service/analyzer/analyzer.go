package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/evidence"
)

// Context is the case context visible to the scanner. Only the case number
// participates in the fingerprint; the rest informs rationale text.
type Context struct {
	CaseNumber      string
	ArrestDate      string
	InvolvedParties []string
}

// excerptRadius bounds how much surrounding text a violation carries.
const excerptRadius = 40

// ScanViolations runs the profile's rules over the corpus. Deterministic
// for the same (corpus, context, version): same-rule overlaps collapse to
// the earliest offset, ordering is severity desc, rule id asc, offset asc.
func ScanViolations(corpus string, _ Context, version string) ([]analysis.Violation, error) {
	rules, err := RuleSet(version)
	if err != nil {
		return nil, err
	}

	var violations []analysis.Violation
	for _, rule := range rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(corpus, -1) {
			violations = append(violations, analysis.Violation{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				Severity:    rule.Severity,
				MatchOffset: loc[0],
				MatchLength: loc[1] - loc[0],
				Excerpt:     excerpt(corpus, loc[0], loc[1]),
				Citations:   append([]string{}, rule.Citations...),
			})
		}
	}

	violations = analysis.CollapseSameRuleOverlaps(violations)
	analysis.SortViolations(violations)
	return violations, nil
}

func excerpt(corpus string, start, end int) string {
	lo := start - excerptRadius
	if lo < 0 {
		lo = 0
	}
	hi := end + excerptRadius
	if hi > len(corpus) {
		hi = len(corpus)
	}
	return strings.TrimSpace(corpus[lo:hi])
}

// Attributes is the evidence view the compliance checker sees.
type Attributes struct {
	Type          evidence.Type
	IsOriginal    bool
	Authenticated bool
	CustodyLength int
}

// CheckCompliance evaluates evidence handling plus the violation list.
// Overall status is the maximum severity present.
func CheckCompliance(attrs Attributes, violations []analysis.Violation) ([]analysis.ComplianceIssue, analysis.ComplianceStatus) {
	var issues []analysis.ComplianceIssue

	if !attrs.IsOriginal {
		issues = append(issues, analysis.ComplianceIssue{
			RuleID:      "C-001",
			Description: "artifact is a copy, not the original recording or document",
			Severity:    analysis.SeverityMedium,
		})
	}
	if !attrs.Authenticated {
		issues = append(issues, analysis.ComplianceIssue{
			RuleID:      "C-002",
			Description: "artifact has not been authenticated",
			Severity:    analysis.SeverityHigh,
		})
	}
	if attrs.CustodyLength == 0 {
		issues = append(issues, analysis.ComplianceIssue{
			RuleID:      "C-003",
			Description: "no chain-of-custody events recorded for this artifact",
			Severity:    analysis.SeverityHigh,
		})
	}
	for _, v := range violations {
		if v.Severity == analysis.SeverityCritical {
			issues = append(issues, analysis.ComplianceIssue{
				RuleID:      "C-010",
				Description: "analysis flagged one or more critical violations",
				Severity:    analysis.SeverityHigh,
			})
			break
		}
	}

	analysis.SortComplianceIssues(issues)
	return issues, analysis.OverallCompliance(issues)
}

// RecommendMotions selects at most one motion per distinct violation rule,
// merging repeated matches into the rule's single recommendation. Ordering
// is max supporting severity desc, then rule id asc.
func RecommendMotions(violations []analysis.Violation, version string) ([]analysis.Motion, error) {
	rules, err := RuleSet(version)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	type agg struct {
		rule     Rule
		severity analysis.Severity
		count    int
	}
	seen := make(map[string]*agg)
	for _, v := range violations {
		rule, ok := byID[v.RuleID]
		if !ok {
			continue
		}
		a, exists := seen[v.RuleID]
		if !exists {
			seen[v.RuleID] = &agg{rule: rule, severity: v.Severity, count: 1}
			continue
		}
		a.count++
		if v.Severity.MoreSevere(a.severity) {
			a.severity = v.Severity
		}
	}

	motions := make([]analysis.Motion, 0, len(seen))
	for _, a := range seen {
		rationale := a.rule.MotionRationale
		if a.count > 1 {
			rationale = fmt.Sprintf("%s Matched %d times in this record.", rationale, a.count)
		}
		motions = append(motions, analysis.Motion{
			Name:                a.rule.MotionName,
			Rationale:           rationale,
			SupportingRuleIDs:   []string{a.rule.ID},
			SupportingCitations: append([]string{}, a.rule.Citations...),
			MaxSeverity:         a.severity,
		})
	}

	analysis.SortMotions(motions)
	return motions, nil
}

// CollectCitations gathers the distinct citations across violations in
// stable sorted order.
func CollectCitations(violations []analysis.Violation) []string {
	set := make(map[string]bool)
	for _, v := range violations {
		for _, c := range v.Citations {
			set[c] = true
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
