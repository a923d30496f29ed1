package engine

import (
	"regexp"
	"strings"
)

var (
	sendRe   = regexp.MustCompile(`(?s)\[SEND\](.*?)\[/SEND\]`)
	searchRe = regexp.MustCompile(`(?s)\[SEARCH\](.*?)\[/SEARCH\]`)
)

// ParseTags extracts the non-empty bodies of [SEND]…[/SEND] and
// [SEARCH]…[/SEARCH] spans in order of appearance.
func ParseTags(text string) (sends, searches []string) {
	return spans(sendRe, text), spans(searchRe, text)
}

func spans(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			out = append(out, body)
		}
	}
	return out
}
