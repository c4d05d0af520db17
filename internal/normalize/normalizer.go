// Package normalize turns dictated transcripts into the text a person would
// have typed: spoken symbols become symbols and spelled-out values are joined.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"formcopilot/internal/domain"
)

var valueToken = regexp.MustCompile(`^[A-Za-z0-9@._-]+$`)

const valueMarks = "0123456789@._-"

var stopWords = map[string]struct{}{
	"sorter": {}, "id": {}, "tag": {}, "serial": {}, "no": {}, "number": {},
	"is": {}, "equals": {}, "=": {}, "to": {}, ":": {},
}

var valueKeywords = map[string]struct{}{
	"is": {}, "equals": {}, "=": {}, "to": {}, ":": {},
}

// Normalize never fails and is idempotent on its own output.
func Normalize(raw string, feature domain.Feature) string {
	text := spokenPunctuation.rewrite(" " + raw + " ")
	tokens := strings.Fields(text)
	tokens = collapseSpelledRuns(tokens)
	tokens = collapseKeywordValues(tokens)
	if feature == domain.FeatureSortingInput {
		tokens = collapseSortingValues(tokens)
	}
	return strings.Join(tokens, " ")
}

// collapseSpelledRuns joins runs of three or more short tokens that contain
// at least one single character, e.g. "A B C 1 2 3".
func collapseSpelledRuns(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		j := i
		single := false
		for j < len(tokens) && isSpelledToken(tokens[j]) {
			if utf8.RuneCountInString(tokens[j]) == 1 {
				single = true
			}
			j++
		}
		switch {
		case j-i >= 3 && single:
			out = append(out, strings.Join(tokens[i:j], ""))
			i = j
		case j == i:
			out = append(out, tokens[i])
			i++
		default:
			out = append(out, tokens[i:j]...)
			i = j
		}
	}
	return out
}

func isSpelledToken(token string) bool {
	count := utf8.RuneCountInString(token)
	if count == 0 || count > 2 || isStopWord(token) {
		return false
	}
	for _, r := range token {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// collapseKeywordValues joins the value tokens after "is", "to", "=" and
// friends: "email is john doe@x.com" becomes "email is johndoe@x.com".
// Runs of plain words ("go to the store") are left alone; at least one token
// must carry a digit or one of @._- to look like a value.
func collapseKeywordValues(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		out = append(out, tokens[i])
		if _, ok := valueKeywords[strings.ToLower(tokens[i])]; !ok {
			continue
		}
		j := i + 1
		marked := false
		for j < len(tokens) && isValueToken(tokens[j]) {
			if strings.ContainsAny(tokens[j], valueMarks) {
				marked = true
			}
			j++
		}
		if j-(i+1) >= 2 && marked {
			out = append(out, strings.Join(tokens[i+1:j], ""))
			i = j - 1
		}
	}
	return out
}

// collapseSortingValues concatenates every run of value tokens so
// "sorter id SOR 1" yields "sorter id SOR1".
func collapseSortingValues(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	var pending strings.Builder
	flush := func() {
		if pending.Len() > 0 {
			out = append(out, pending.String())
			pending.Reset()
		}
	}
	for _, token := range tokens {
		if isValueToken(token) {
			pending.WriteString(token)
			continue
		}
		flush()
		out = append(out, token)
	}
	flush()
	return out
}

func isValueToken(token string) bool {
	return valueToken.MatchString(token) && !isStopWord(token)
}

func isStopWord(token string) bool {
	_, ok := stopWords[strings.ToLower(token)]
	return ok
}
