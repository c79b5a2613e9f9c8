package generator

import (
	"regexp"
	"strings"
)

// fencedBlockRe matches a fenced code block with an optional language tag.
var fencedBlockRe = regexp.MustCompile("(?s)```(?:javascript|js)?\\s*\n(.*?)```")

// ExtractScript pulls the test script out of a model reply. The first fenced
// code block wins; a reply with no fences at all is treated as bare code,
// since some models skip the fence despite instructions.
func ExtractScript(reply string) string {
	if m := fencedBlockRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimSpace(m[1])
	}
	if strings.Contains(reply, "```") {
		// A fence we could not parse (unknown language tag, unterminated).
		// Better to produce nothing than to feed prose to the browser.
		return ""
	}
	return strings.TrimSpace(reply)
}
