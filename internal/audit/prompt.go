package audit

import (
	"fmt"
	"os"
	"strings"
)

// TemplateExcerptRunes caps how much template text goes into the prompt.
const TemplateExcerptRunes = 5000

const NoTemplateText = "(No template provided)."

// DefaultHeader opens every audit prompt unless PROMPT_FILE replaces it.
const DefaultHeader = `You are a strict auditor. Cross-check every number and fact in the TARGET report against the SOURCE documents.`

const checkSteps = `Run these four checks on the figures:

STEP 1: IDENTITY (ID card number, full name, year of birth).
STEP 2: LEGAL (map sheet, parcel number, area, address).
STEP 3: CURRENT STATE (photos vs. description).
STEP 4: PRICE & LOGIC.

REPORT FORMAT:
1. List every error found.
2. Wrap each wrong value from the TARGET in [[[...]]] (e.g. [[[100m2]]]).
3. Where everything matches, write "✅ Match".`

// PromptInput carries the corpora and rules one audit is built from.
type PromptInput struct {
	Rules        []string
	TemplateText string
	HasTemplate  bool // template corpus has text or images
	TargetText   string
	SourceText   string
}

// LoadHeader reads a prompt header from path. An empty path returns
// DefaultHeader.
func LoadHeader(path string) (string, error) {
	if path == "" {
		return DefaultHeader, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	h := strings.TrimSpace(string(data))
	if h == "" {
		return DefaultHeader, nil
	}
	return h, nil
}

// BuildInstruction assembles the text part of an audit request.
func BuildInstruction(header string, in PromptInput) string {
	if header == "" {
		header = DefaultHeader
	}

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n\nEXEMPTION RULES:\n")
	if len(in.Rules) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, r := range in.Rules {
		sb.WriteString("- ")
		sb.WriteString(r)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	if in.HasTemplate || in.TemplateText != "" {
		sb.WriteString("PART 0: TEMPLATE COMPLIANCE\n")
		sb.WriteString("- Check that the report follows the structure and figures of the template.\n")
		sb.WriteString("- Template text: ")
		sb.WriteString(truncateRunes(in.TemplateText, TemplateExcerptRunes))
		sb.WriteString("...\n")
	} else {
		sb.WriteString(NoTemplateText)
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(checkSteps)
	sb.WriteString("\n\nTARGET: ")
	sb.WriteString(in.TargetText)
	sb.WriteString("\nSOURCE: ")
	sb.WriteString(in.SourceText)
	sb.WriteString("\n")
	return sb.String()
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
