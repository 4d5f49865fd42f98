package ai

import (
	"regexp"
	"strings"
)

// sectionHeaderPattern matches uppercase section headers at the start of a
// line, the way dictated radiology reports mark their sections
// (TECHNIQUE:, COMPARISON:, FINDINGS:, IMPRESSION:).
var sectionHeaderPattern = regexp.MustCompile(`(?m)^[ \t]*([A-Z][A-Z /]{2,}?)[ \t]*:`)

// excessiveNewlines matches 3 or more consecutive newlines
var excessiveNewlines = regexp.MustCompile(`\n{3,}`)

// ReportSections holds the recognized sections of a radiology report.
type ReportSections struct {
	Technique  string
	Comparison string
	Findings   string
	Impression string
}

// SplitReportSections parses a report into its standard sections. Unknown
// headers still terminate the preceding section; the first occurrence of
// each known section wins.
func SplitReportSections(content string) ReportSections {
	matches := sectionHeaderPattern.FindAllStringSubmatchIndex(content, -1)
	var sections ReportSections
	for i, m := range matches {
		name := strings.ToUpper(strings.TrimSpace(content[m[2]:m[3]]))
		start := m[1]
		end := len(content)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(excessiveNewlines.ReplaceAllString(content[start:end], "\n\n"))

		switch name {
		case "TECHNIQUE", "EXAMINATION", "EXAM":
			if sections.Technique == "" {
				sections.Technique = body
			}
		case "COMPARISON", "PRIOR", "PRIORS":
			if sections.Comparison == "" {
				sections.Comparison = body
			}
		case "FINDINGS", "FINDING":
			if sections.Findings == "" {
				sections.Findings = body
			}
		case "IMPRESSION", "CONCLUSION", "OPINION":
			if sections.Impression == "" {
				sections.Impression = body
			}
		}
	}
	return sections
}

// FindingsText returns the report text most relevant for findings
// extraction: the findings and impression sections when present, the whole
// report otherwise.
func FindingsText(content string) string {
	sections := SplitReportSections(content)
	parts := make([]string, 0, 2)
	if sections.Findings != "" {
		parts = append(parts, sections.Findings)
	}
	if sections.Impression != "" {
		parts = append(parts, sections.Impression)
	}
	if len(parts) == 0 {
		return strings.TrimSpace(content)
	}
	return strings.Join(parts, "\n\n")
}

// ExtractFirstNWords returns the first N words from content.
// If content has fewer words, returns entire content.
func ExtractFirstNWords(content string, n int) string {
	words := strings.Fields(content)
	if len(words) <= n {
		return content
	}
	return strings.Join(words[:n], " ")
}
