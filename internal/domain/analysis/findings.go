package analysis

import "sort"

// Violation is one detected legal violation in the textual corpus.
type Violation struct {
	RuleID      string   `json:"rule_id"`
	RuleName    string   `json:"rule_name"`
	Severity    Severity `json:"severity"`
	MatchOffset int      `json:"match_offset"`
	MatchLength int      `json:"match_length"`
	Excerpt     string   `json:"excerpt"`
	Citations   []string `json:"citations"`
}

// ComplianceIssue is one rule violation found against evidence attributes.
type ComplianceIssue struct {
	RuleID      string   `json:"rule_id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// ComplianceStatus is the aggregate of all compliance issues.
type ComplianceStatus string

const (
	StatusCompliant            ComplianceStatus = "compliant"
	StatusCompliantWithCaveats ComplianceStatus = "compliant-with-caveats"
	StatusNonCompliant         ComplianceStatus = "non-compliant"
)

// Motion is a recommended legal motion derived from the findings.
type Motion struct {
	Name                string   `json:"name"`
	Rationale           string   `json:"rationale"`
	SupportingRuleIDs   []string `json:"supporting_rule_ids"`
	SupportingCitations []string `json:"supporting_citations"`
	MaxSeverity         Severity `json:"max_severity"`
}

// SortViolations orders violations deterministically: severity descending,
// then rule id ascending, then first match offset ascending.
func SortViolations(violations []Violation) {
	sort.SliceStable(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.MatchOffset < b.MatchOffset
	})
}

// CollapseSameRuleOverlaps removes overlapping matches of the same rule,
// keeping the earliest offset. Overlapping matches of distinct rules are
// both kept; non-overlapping matches of the same rule are distinct
// violations. Input order does not affect the output.
func CollapseSameRuleOverlaps(violations []Violation) []Violation {
	byOffset := make([]Violation, len(violations))
	copy(byOffset, violations)
	sort.SliceStable(byOffset, func(i, j int) bool {
		if byOffset[i].RuleID != byOffset[j].RuleID {
			return byOffset[i].RuleID < byOffset[j].RuleID
		}
		return byOffset[i].MatchOffset < byOffset[j].MatchOffset
	})

	kept := make([]Violation, 0, len(byOffset))
	for _, v := range byOffset {
		if n := len(kept); n > 0 {
			prev := kept[n-1]
			if prev.RuleID == v.RuleID && v.MatchOffset < prev.MatchOffset+prev.MatchLength {
				continue
			}
		}
		kept = append(kept, v)
	}
	return kept
}

// SortComplianceIssues orders issues by severity descending then rule id
// ascending.
func SortComplianceIssues(issues []ComplianceIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		return a.RuleID < b.RuleID
	})
}

// OverallCompliance maps the maximum issue severity to the aggregate
// status: critical or high means non-compliant, medium means
// compliant-with-caveats, anything less is compliant.
func OverallCompliance(issues []ComplianceIssue) ComplianceStatus {
	max := -1
	for _, issue := range issues {
		if r := issue.Severity.Rank(); r > max {
			max = r
		}
	}
	switch {
	case max >= SeverityHigh.Rank():
		return StatusNonCompliant
	case max >= SeverityMedium.Rank():
		return StatusCompliantWithCaveats
	default:
		return StatusCompliant
	}
}

// SortMotions orders motions by maximum supporting severity descending,
// then by first supporting rule id ascending.
func SortMotions(motions []Motion) {
	sort.SliceStable(motions, func(i, j int) bool {
		a, b := motions[i], motions[j]
		if a.MaxSeverity.Rank() != b.MaxSeverity.Rank() {
			return a.MaxSeverity.Rank() > b.MaxSeverity.Rank()
		}
		return firstRuleID(a) < firstRuleID(b)
	})
}

func firstRuleID(m Motion) string {
	if len(m.SupportingRuleIDs) == 0 {
		return ""
	}
	return m.SupportingRuleIDs[0]
}
