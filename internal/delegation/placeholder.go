package delegation

import "strings"

// placeholderPhrases are stub markers that disqualify a developer attempt
// when they appear in a read_file result. Deliberately a conservative,
// fixed phrase list checked by substring, not a similarity heuristic.
var placeholderPhrases = []string{
	"hello world",
	"lorem ipsum",
	"todo:",
	"fixme:",
	"placeholder",
	"template content",
	"your content here",
	"add your",
	"replace this",
}

// ContainsPlaceholder reports whether content matches any known stub phrase,
// case-insensitively, and returns the first phrase found.
func ContainsPlaceholder(content string) (string, bool) {
	lower := strings.ToLower(content)
	for _, phrase := range placeholderPhrases {
		if strings.Contains(lower, phrase) {
			return phrase, true
		}
	}
	return "", false
}
