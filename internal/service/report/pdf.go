package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/caseproof/evidence-backend/internal/domain/analysis"
)

// renderPDF writes a minimal PDF 1.4 document by hand. No creation date,
// document id, or other nondeterministic metadata is emitted, so the same
// result always yields identical bytes.
func renderPDF(r *analysis.Result) ([]byte, error) {
	lines := pdfLines(r)
	pages := paginate(lines, 54)

	var objects []string

	// 1: catalog, 2: page tree, 3: font; pages and their streams follow.
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+i*2)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)

	for i, page := range pages {
		pageObj := 4 + i*2
		streamObj := pageObj + 1
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>",
			streamObj))

		var content bytes.Buffer
		content.WriteString("BT\n/F1 10 Tf\n72 720 Td\n12 TL\n")
		for _, line := range page {
			fmt.Fprintf(&content, "(%s) Tj\nT*\n", escapePDFText(line))
		}
		content.WriteString("ET")
		objects = append(objects, fmt.Sprintf(
			"<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects)+1)
	for i, obj := range objects {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)
	return buf.Bytes(), nil
}

func pdfLines(r *analysis.Result) []string {
	var lines []string
	add := func(format string, args ...interface{}) {
		lines = append(lines, wrapLine(fmt.Sprintf(format, args...), 90)...)
	}

	add("EVIDENCE ANALYSIS REPORT")
	add("")
	add("Analysis: %s", r.ID)
	add("Evidence: %s", r.EvidenceID)
	add("Profile: %s", r.ProfileVersion)
	add("Compliance: %s", r.ComplianceStatus)
	add("")
	add("EXECUTIVE SUMMARY")
	add("%s", r.ExecutiveSummary)
	add("")
	add("VIOLATIONS (%d)", len(r.Violations))
	for _, v := range r.Violations {
		add("%s %s [%s]", v.RuleID, v.RuleName, v.Severity)
		add("  %s", v.Excerpt)
		for _, c := range v.Citations {
			add("  - %s", c)
		}
	}
	add("")
	add("COMPLIANCE ISSUES (%d)", len(r.Compliance))
	for _, issue := range r.Compliance {
		add("%s [%s] %s", issue.RuleID, issue.Severity, issue.Description)
	}
	add("")
	add("RECOMMENDED MOTIONS (%d)", len(r.Motions))
	for _, m := range r.Motions {
		add("%s [%s]", m.Name, m.MaxSeverity)
		add("  %s", m.Rationale)
	}
	return lines
}

func paginate(lines []string, perPage int) [][]string {
	if len(lines) == 0 {
		return [][]string{{""}}
	}
	var pages [][]string
	for start := 0; start < len(lines); start += perPage {
		end := start + perPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages
}

func wrapLine(s string, width int) []string {
	if len(s) <= width {
		return []string{s}
	}
	var out []string
	for len(s) > width {
		cut := strings.LastIndex(s[:width], " ")
		if cut <= 0 {
			cut = width
		}
		out = append(out, s[:cut])
		s = strings.TrimLeft(s[cut:], " ")
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// escapePDFText escapes the PDF string delimiters and drops non-ASCII
// bytes, which the built-in Helvetica encoding cannot represent.
func escapePDFText(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '(' || r == ')' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r >= 32 && r < 127:
			b.WriteRune(r)
		default:
			b.WriteByte('?')
		}
	}
	return b.String()
}
