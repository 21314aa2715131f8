package pattern

import "strings"

// DefaultSimpleSearchTemplate is substituted with the quoted input
// when a simple search matches none of the keyword shortcuts, per
// original_source/pattern.c's quote_simple.
const DefaultSimpleSearchTemplate = `~f %s | ~s %s`

// simpleSearchKeywords maps a bare keyword to its canonical pattern,
// ported from original_source/pattern.c's mutt_check_simple.
var simpleSearchKeywords = map[string]string{
	"all":    "~A",
	"del":    "~D",
	"flag":   "~F",
	"new":    "~N",
	"old":    "~O",
	"repl":   "~Q",
	"read":   "~R",
	"tag":    "~T",
	"unread": "~U",
}

// ExpandSimpleSearch implements §4.B's simple-search pre-pass: if the
// input contains none of '~', '=', '%' (respecting backslash escapes),
// it is a "simple search". A handful of keywords map to their
// canonical one-op pattern; anything else is double-quoted and
// substituted into template (one %s substitution, used twice when the
// default template's two %s placeholders are both present).
func ExpandSimpleSearch(input string, template string) (string, error) {
	if hasPatternSigil(input) {
		return input, nil
	}
	if canon, ok := simpleSearchKeywords[strings.ToLower(input)]; ok {
		return canon, nil
	}
	quoted := `"` + strings.ReplaceAll(input, `"`, `\"`) + `"`
	return substituteAll(template, "%s", quoted), nil
}

func hasPatternSigil(s string) bool {
	escaped := false
	for i := 0; i < len(s); i++ {
		if escaped {
			escaped = false
			continue
		}
		switch s[i] {
		case '\\':
			escaped = true
		case '~', '=', '%':
			return true
		}
	}
	return false
}

func substituteAll(template, placeholder, value string) string {
	return strings.ReplaceAll(template, placeholder, value)
}
