package report

import (
	"fmt"
	"html"
	"strings"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// Format is a supported rendering of an analysis result.
type Format string

const (
	FormatCanonicalJSON Format = "canonical-json"
	FormatMarkdown      Format = "markdown"
	FormatHTML          Format = "html"
	FormatPDF           Format = "pdf"
)

// ParseFormat validates a format string from the API.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCanonicalJSON, FormatMarkdown, FormatHTML, FormatPDF:
		return Format(s), nil
	}
	return "", errors.NewMalformedRequestError("format must be one of canonical-json, markdown, html, pdf")
}

// Summarize produces the executive summary sentence for a result. It is a
// pure function of the findings, so re-synthesis is byte-stable.
func Summarize(violations []analysis.Violation, status analysis.ComplianceStatus, motions []analysis.Motion) string {
	counts := map[analysis.Severity]int{}
	for _, v := range violations {
		counts[v.Severity]++
	}

	var parts []string
	for _, sev := range []analysis.Severity{
		analysis.SeverityCritical, analysis.SeverityHigh, analysis.SeverityMedium,
		analysis.SeverityLow, analysis.SeverityInfo,
	} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("No violations detected. Evidence is %s. No motions recommended.", status)
	}
	return fmt.Sprintf("Detected %d violation(s) (%s). Evidence is %s. %d motion(s) recommended.",
		len(violations), strings.Join(parts, ", "), status, len(motions))
}

// Render serializes a result in the requested format. All formats derive
// from the canonical JSON object, so identical results render to identical
// bytes in every format, on every host.
func Render(result *analysis.Result, format Format) ([]byte, error) {
	switch format {
	case FormatCanonicalJSON:
		return analysis.CanonicalJSON(result)
	case FormatMarkdown:
		return renderMarkdown(result), nil
	case FormatHTML:
		return renderHTML(result), nil
	case FormatPDF:
		return renderPDF(result)
	default:
		return nil, errors.NewMalformedRequestError("unknown report format")
	}
}

func renderMarkdown(r *analysis.Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Evidence Analysis Report\n\n")
	fmt.Fprintf(&b, "- Analysis: %s\n", r.ID)
	fmt.Fprintf(&b, "- Evidence: %s\n", r.EvidenceID)
	fmt.Fprintf(&b, "- Profile: %s\n", r.ProfileVersion)
	fmt.Fprintf(&b, "- Compliance: %s\n\n", r.ComplianceStatus)

	fmt.Fprintf(&b, "## Executive Summary\n\n%s\n\n", r.ExecutiveSummary)

	fmt.Fprintf(&b, "## Violations (%d)\n\n", len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "### %s — %s [%s]\n\n", v.RuleID, v.RuleName, v.Severity)
		fmt.Fprintf(&b, "> %s\n\n", v.Excerpt)
		for _, c := range v.Citations {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Compliance Issues (%d)\n\n", len(r.Compliance))
	for _, issue := range r.Compliance {
		fmt.Fprintf(&b, "- **%s** [%s]: %s\n", issue.RuleID, issue.Severity, issue.Description)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Recommended Motions (%d)\n\n", len(r.Motions))
	for _, m := range r.Motions {
		fmt.Fprintf(&b, "### %s [%s]\n\n%s\n\n", m.Name, m.MaxSeverity, m.Rationale)
		for _, c := range m.SupportingCitations {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func renderHTML(r *analysis.Result) []byte {
	esc := html.EscapeString
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>Evidence Analysis %s</title>\n</head>\n<body>\n", esc(r.ID.String()))
	fmt.Fprintf(&b, "<h1>Evidence Analysis Report</h1>\n")
	fmt.Fprintf(&b, "<p>Analysis %s · Evidence %s · Profile %s · Compliance %s</p>\n",
		esc(r.ID.String()), esc(r.EvidenceID.String()), esc(r.ProfileVersion), esc(string(r.ComplianceStatus)))
	fmt.Fprintf(&b, "<h2>Executive Summary</h2>\n<p>%s</p>\n", esc(r.ExecutiveSummary))

	fmt.Fprintf(&b, "<h2>Violations (%d)</h2>\n<ul>\n", len(r.Violations))
	for _, v := range r.Violations {
		fmt.Fprintf(&b, "<li><strong>%s</strong> %s [%s]<blockquote>%s</blockquote></li>\n",
			esc(v.RuleID), esc(v.RuleName), esc(string(v.Severity)), esc(v.Excerpt))
	}
	b.WriteString("</ul>\n")

	fmt.Fprintf(&b, "<h2>Compliance Issues (%d)</h2>\n<ul>\n", len(r.Compliance))
	for _, issue := range r.Compliance {
		fmt.Fprintf(&b, "<li><strong>%s</strong> [%s]: %s</li>\n",
			esc(issue.RuleID), esc(string(issue.Severity)), esc(issue.Description))
	}
	b.WriteString("</ul>\n")

	fmt.Fprintf(&b, "<h2>Recommended Motions (%d)</h2>\n<ul>\n", len(r.Motions))
	for _, m := range r.Motions {
		fmt.Fprintf(&b, "<li><strong>%s</strong> [%s]: %s</li>\n",
			esc(m.Name), esc(string(m.MaxSeverity)), esc(m.Rationale))
	}
	b.WriteString("</ul>\n</body>\n</html>\n")
	return []byte(b.String())
}
