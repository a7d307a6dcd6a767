// Package render formats stored reports for people: a one-line summary, a Markdown
// document and its HTML rendering.
package render

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/cervicel-cytology-server/internal/domain"
)

// Format names accepted by Render.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// Summary returns a short plain-text digest of the report.
func Summary(report *domain.Report) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Age category: %s", report.AgeCategory.String()))
	if report.Phase.Resolved() {
		parts = append(parts, fmt.Sprintf("phase: %s", report.Phase))
	}
	parts = append(parts, report.MaturationIndex.String())

	switch n := len(report.NonMIFindings); {
	case n == 0 && report.IUDDiagnosis == "":
		parts = append(parts, "no abnormal findings")
	case n > 0:
		parts = append(parts, fmt.Sprintf("%d abnormal finding(s)", n))
	}
	if report.IUDDiagnosis != "" {
		parts = append(parts, "IUD-related infection suspected")
	}

	return strings.Join(parts, "; ") + "."
}

// Markdown renders the full report as a Markdown document.
func Markdown(record *domain.ReportRecord) string {
	var b strings.Builder
	report := record.Report

	fmt.Fprintf(&b, "# Cervical cytology report\n\n")
	if record.ID != "" {
		fmt.Fprintf(&b, "- **Report ID:** %s\n", escapeText(record.ID))
	}
	fmt.Fprintf(&b, "- **Generated:** %s\n", report.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "- **Age:** %d days (%s)\n", record.Input.AgeDays, report.AgeCategory.String())
	if record.Input.LMPDate != nil {
		fmt.Fprintf(&b, "- **Last menstrual period:** %s\n", record.Input.LMPDate.Format(domain.DateLayout))
	}
	fmt.Fprintf(&b, "- **Cycle phase:** %s\n", report.Phase)
	fmt.Fprintf(&b, "- **Condition:** %s\n", domain.ParseCondition(record.Input.Condition).String())
	if record.ImageCount > 0 {
		fmt.Fprintf(&b, "- **Images analysed:** %d\n", record.ImageCount)
	}
	fmt.Fprintf(&b, "- **Total cells:** %d\n\n", report.TotalCells)

	b.WriteString("## Maturation index\n\n")
	b.WriteString(report.MaturationIndex.String())
	b.WriteString("\n\n")

	b.WriteString("## Expected cells\n\n")
	if len(report.ExpectedCells) == 0 {
		b.WriteString("No reference pattern available.\n\n")
	} else {
		for _, cell := range report.ExpectedCells {
			fmt.Fprintf(&b, "- %s\n", cell)
		}
		fmt.Fprintf(&b, "\n_Source: %s_\n\n", report.ExpectedCellsSource)
	}

	b.WriteString("## Non-MI cells\n\n")
	b.WriteString("| Code | Cell type | Share | Finding |\n")
	b.WriteString("|------|-----------|-------|---------|\n")
	for _, code := range domain.NonMICellCodes {
		finding := report.NonMIFindings[code]
		if code == domain.Actinomyces {
			finding = report.IUDDiagnosis
		}
		fmt.Fprintf(&b, "| %s | %s | %.2f%% | %s |\n",
			code, code.Description(), report.NonMIPercentages[code], escapeCell(finding))
	}
	b.WriteString("\n")

	b.WriteString("## Hormonal factors\n\n")
	fmt.Fprintf(&b, "- **Contraceptive:** %s\n", report.ContraceptiveImpact)
	fmt.Fprintf(&b, "- **Hormone therapy:** %s\n", report.HormoneTherapyImpact)

	if len(report.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range report.Warnings {
			fmt.Fprintf(&b, "- %s\n", escapeText(w))
		}
	}

	return b.String()
}

// HTML renders the Markdown report as a standalone HTML page. Raw HTML in the
// document is dropped.
func HTML(record *domain.ReportRecord) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Title: "Cervical cytology report",
		Flags: html.CommonFlags | html.CompletePage | html.HrefTargetBlank | html.SkipHTML | html.Safelink,
	})
	return markdown.ToHTML([]byte(Markdown(record)), p, renderer)
}

// Render returns the report in the requested format and its content type.
func Render(record *domain.ReportRecord, format string) ([]byte, string, error) {
	switch strings.ToLower(format) {
	case FormatMarkdown, "md":
		return []byte(Markdown(record)), "text/markdown; charset=utf-8", nil
	case FormatHTML:
		return HTML(record), "text/html; charset=utf-8", nil
	default:
		return nil, "", domain.NewValidationError("format", "format must be html or markdown", format)
	}
}

// textEscaper neutralises markup in client-supplied strings such as upload filenames.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
