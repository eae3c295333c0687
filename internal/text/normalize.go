// Package text prepares input text for synthesis. The model applies its own
// linguistic normalization, so this only cleans up transport artifacts.
package text

import (
	"regexp"
	"strings"
)

// Line break and typographic forms that are unified before inference.
const (
	carriageReturnLineFeed = "\r\n"
	carriageReturn         = "\r"
	lineFeed               = "\n"
	ellipsisChar           = "…"
	ellipsis               = "..."
)

var (
	horizontalSpacePattern = regexp.MustCompile(`[\t\f\v\x{00A0}\x{2000}-\x{200B}\x{3000} ]+`)
	blankLinesPattern      = regexp.MustCompile(`\n{3,}`)
	spaceAroundNewline     = regexp.MustCompile(` *\n *`)

	typographyReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
		ellipsisChar, ellipsis,
	)
	lineBreakReplacer = strings.NewReplacer(carriageReturnLineFeed, lineFeed, carriageReturn, lineFeed)
)

// Normalize trims text, unifies line breaks to "\n", collapses runs of
// horizontal whitespace into one space and limits blank lines to one.
// Paragraph structure is preserved since the model uses it for pacing.
func Normalize(input string) string {
	if input == "" {
		return input
	}

	normalized := lineBreakReplacer.Replace(input)
	normalized = typographyReplacer.Replace(normalized)
	normalized = horizontalSpacePattern.ReplaceAllString(normalized, " ")
	normalized = spaceAroundNewline.ReplaceAllString(normalized, lineFeed)
	normalized = blankLinesPattern.ReplaceAllString(normalized, lineFeed+lineFeed)

	return strings.TrimSpace(normalized)
}
