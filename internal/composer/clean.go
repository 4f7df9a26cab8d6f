package composer

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedBlockRe = regexp.MustCompile("(?s)```.*?```")
	boldRe        = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicRe      = regexp.MustCompile(`\*(.*?)\*`)
	wrappingQuote = regexp.MustCompile(`(?s)^"(.*)"$`)
)

// Clean normalizes a generated reply before it is shown or appended to
// history: a quote pair wrapping the entire reply is stripped, and bold and
// italic emphasis markers are removed.
//
// Fenced code blocks are swapped out for placeholders first and restored
// byte-identical afterwards. Running the substitutions globally would corrupt
// code that legitimately contains asterisks or quotes, so the order —
// protect, clean, restore — is load-bearing.
func Clean(text string) string {
	var blocks []string
	text = fencedBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		blocks = append(blocks, block)
		return fmt.Sprintf("\x00BLOCK%d\x00", len(blocks)-1)
	})

	text = wrappingQuote.ReplaceAllString(text, "$1")
	text = boldRe.ReplaceAllString(text, "$1")
	text = italicRe.ReplaceAllString(text, "$1")

	for i, block := range blocks {
		text = strings.Replace(text, fmt.Sprintf("\x00BLOCK%d\x00", i), block, 1)
	}

	return strings.TrimSpace(text)
}
