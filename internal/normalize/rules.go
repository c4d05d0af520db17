package normalize

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

const defaultIterationLimit = 30

// Rewriter is one compiled vocabulary rule.
type Rewriter interface {
	Rewrite(text string) (string, bool)
}

// Syntax recognises and compiles one line format of the vocabulary file.
type Syntax struct {
	Name    string
	Accepts func(line string) bool
	Compile func(line string) (Rewriter, error)
}

// LiteralSyntax handles "spoken phrase => written form".
var LiteralSyntax = Syntax{
	Name:    "literal",
	Accepts: func(line string) bool { return strings.Contains(line, "=>") },
	Compile: compileLiteralLine,
}

// SubstituteSyntax handles sed style "s/pattern/replacement/flags".
var SubstituteSyntax = Syntax{
	Name:    "substitute",
	Accepts: isSubstituteLine,
	Compile: compileSubstituteLine,
}

// ParseError locates a malformed vocabulary line.
type ParseError struct {
	Line   int
	Syntax string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Syntax == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d (%s rule): %v", e.Line, e.Syntax, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errUnknownSyntax = errors.New("unsupported rule format")

// Engine rewrites final transcripts with the user's vocabulary. Rules run in
// file order and the whole list repeats until nothing changes or the
// iteration limit is hit.
type Engine struct {
	rewriters []Rewriter
	limit     int
}

// NewEngine loads a vocabulary file with the substitute and literal syntaxes.
// An empty path or a missing file gives an engine that changes nothing.
func NewEngine(path string, iterationLimit int) (*Engine, error) {
	return NewEngineWithSyntaxes(path, iterationLimit, SubstituteSyntax, LiteralSyntax)
}

// NewEngineWithSyntaxes is NewEngine with a caller chosen syntax list; the
// first syntax that accepts a line compiles it. YAML vocabularies
// (.yaml, .yml) ignore the list.
func NewEngineWithSyntaxes(path string, iterationLimit int, syntaxes ...Syntax) (*Engine, error) {
	if iterationLimit <= 0 {
		iterationLimit = defaultIterationLimit
	}
	if len(syntaxes) == 0 {
		syntaxes = []Syntax{SubstituteSyntax, LiteralSyntax}
	}

	engine := &Engine{limit: iterationLimit}
	path = strings.TrimSpace(path)
	if path == "" {
		return engine, nil
	}

	contents, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return engine, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read vocabulary %q: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		engine.rewriters, err = compileYAML(contents)
	default:
		engine.rewriters, err = compileLines(string(contents), syntaxes)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid vocabulary %q: %w", path, err)
	}
	return engine, nil
}

// Len reports how many rules were loaded.
func (e *Engine) Len() int {
	return len(e.rewriters)
}

func (e *Engine) Apply(text string) (string, error) {
	return e.rewrite(text), nil
}

func (e *Engine) rewrite(text string) string {
	for pass := 0; pass < e.limit && len(e.rewriters) > 0; pass++ {
		dirty := false
		for _, r := range e.rewriters {
			if next, changed := r.Rewrite(text); changed {
				text, dirty = next, true
			}
		}
		if !dirty {
			break
		}
	}
	return text
}

func compileLines(contents string, syntaxes []Syntax) ([]Rewriter, error) {
	var out []Rewriter
	for n, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || line[0] == '#' {
			continue
		}
		r, err := compileLine(line, syntaxes)
		if err != nil {
			return nil, err.withLine(n + 1)
		}
		out = append(out, r)
	}
	return out, nil
}

type lineError struct {
	syntax string
	err    error
}

func (e lineError) withLine(n int) error {
	return &ParseError{Line: n, Syntax: e.syntax, Err: e.err}
}

func compileLine(line string, syntaxes []Syntax) (Rewriter, *lineError) {
	for _, s := range syntaxes {
		if !s.Accepts(line) {
			continue
		}
		r, err := s.Compile(line)
		if err != nil {
			return nil, &lineError{syntax: s.Name, err: err}
		}
		return r, nil
	}
	return nil, &lineError{err: errUnknownSyntax}
}

// yamlEntry is one item of a YAML vocabulary: either from/to for a literal
// phrase or pattern/replace/flags for a regular expression.
type yamlEntry struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
	Flags   string `yaml:"flags"`
}

type yamlVocabulary struct {
	Rules []yamlEntry `yaml:"rules"`
}

func compileYAML(contents []byte) ([]Rewriter, error) {
	var doc yamlVocabulary
	if err := yaml.Unmarshal(contents, &doc); err != nil {
		return nil, err
	}

	out := make([]Rewriter, 0, len(doc.Rules))
	for i, entry := range doc.Rules {
		var (
			r      Rewriter
			err    error
			syntax string
		)
		switch {
		case entry.Pattern != "" && entry.From != "":
			err = errors.New("entry sets both from and pattern")
		case entry.Pattern != "":
			syntax = SubstituteSyntax.Name
			r, err = compilePattern(entry.Pattern, entry.Replace, entry.Flags)
		default:
			syntax = LiteralSyntax.Name
			r, err = compileLiteral(entry.From, entry.To)
		}
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i+1, firstNonEmpty(syntax, "unknown"), err)
		}
		out = append(out, r)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// phraseRule replaces a literal phrase case-insensitively. Word edges of the
// phrase only match at word boundaries, so "tag" leaves "stage" alone.
type phraseRule struct {
	re *regexp.Regexp
	to string
}

func compileLiteralLine(line string) (Rewriter, error) {
	from, to, _ := strings.Cut(line, "=>")
	return compileLiteral(from, to)
}

func compileLiteral(from, to string) (Rewriter, error) {
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("phrase to replace is empty")
	}

	var b strings.Builder
	b.WriteString("(?i)")
	runes := []rune(from)
	if isWordRune(runes[0]) {
		b.WriteString(`\b`)
	}
	b.WriteString(regexp.QuoteMeta(from))
	if isWordRune(runes[len(runes)-1]) {
		b.WriteString(`\b`)
	}

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return phraseRule{re: re, to: to}, nil
}

func (r phraseRule) Rewrite(text string) (string, bool) {
	out := r.re.ReplaceAllLiteralString(text, r.to)
	return out, out != text
}

// patternRule is a regular expression substitution. Without the g flag only
// the leftmost match is replaced.
type patternRule struct {
	re  *regexp.Regexp
	to  string
	all bool
}

func isSubstituteLine(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	d := rune(line[1])
	return !unicode.IsLetter(d) && !unicode.IsDigit(d) && !unicode.IsSpace(d)
}

func compileSubstituteLine(line string) (Rewriter, error) {
	if !isSubstituteLine(line) {
		return nil, errors.New("expected s<delim>pattern<delim>replacement<delim>flags")
	}
	fields, rest, err := splitDelimited(line[2:], line[1], 2)
	if err != nil {
		return nil, err
	}
	return compilePattern(fields[0], fields[1], rest)
}

func compilePattern(pattern, replacement, flags string) (Rewriter, error) {
	inline := "i"
	all := false
	for _, f := range strings.ReplaceAll(flags, " ", "") {
		switch f {
		case 'i':
		case 'g':
			all = true
		case 'm', 's':
			if !strings.ContainsRune(inline, f) {
				inline += string(f)
			}
		default:
			return nil, fmt.Errorf("unsupported flag %q", f)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, err
	}
	return patternRule{re: re, to: replacement, all: all}, nil
}

func (r patternRule) Rewrite(text string) (string, bool) {
	var out string
	if r.all {
		out = r.re.ReplaceAllString(text, r.to)
	} else {
		m := r.re.FindStringSubmatchIndex(text)
		if m == nil {
			return text, false
		}
		expanded := r.re.ExpandString(nil, r.to, text, m)
		out = text[:m[0]] + string(expanded) + text[m[1]:]
	}
	return out, out != text
}

// splitDelimited reads n delim-terminated fields from s and returns whatever
// follows the last delimiter. Backslash escapes are kept for the regexp.
func splitDelimited(s string, delim byte, n int) ([]string, string, error) {
	fields := make([]string, 0, n)
	start := 0
	for i := 0; i < len(s) && len(fields) < n; i++ {
		switch s[i] {
		case '\\':
			i++
		case delim:
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	if len(fields) < n {
		return nil, "", fmt.Errorf("expected %d fields terminated by %q", n, delim)
	}
	return fields, s[start:], nil
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// spokenPunctuation turns dictated symbol names into the symbols themselves.
var spokenPunctuation = &Engine{
	limit: 4,
	rewriters: []Rewriter{
		symbol(`\s+(?:equals|=)\s+`, " = "),
		symbol(`\s+at\s+`, "@"),
		symbol(`\s+dot\s+`, "."),
		symbol(`\s+underscore\s+`, "_"),
		symbol(`\s+dash\s+`, "-"),
		symbol(`\s*:\s*`, " : "),
	},
}

func symbol(pattern, to string) Rewriter {
	return patternRule{re: regexp.MustCompile("(?i)" + pattern), to: to, all: true}
}
