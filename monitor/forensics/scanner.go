package forensics

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// containerNames stands in for "the object being destructured". Longest alternatives first.
	containerNames = `(?i:responseData|jsonData|jsonMap|response|json|data|map|body)`
	// quotedSubscript captures the key of ['key'] or ["key"] in group 1 or 2.
	quotedSubscript = `\[[ \t]*(?:'([^'\]\n]*)'|"([^"\]\n]*)")[ \t]*\]`
	identifier      = `[A-Za-z_$][\w$]*`
)

// scanFamily is one pattern family of the candidate-key scanner.
// candidates returns the tokens of one match in preference order.
type scanFamily struct {
	name       string
	pattern    *regexp.Regexp
	candidates func(m []string) []string
}

var (
	missingKeyPattern = regexp.MustCompile(`(?i)key[ \t]+not[ \t]+found(?:[ \t]*:[ \t]*|[ \t]+)(?:'([^'\n]*)'|"([^"\n]*)")|(?i)key[ \t]+not[ \t]+found[ \t]*:[ \t]*(\w+)`)
	goFieldPattern    = regexp.MustCompile(`Go struct field ([\w.]*) of type`)

	assignmentSubscriptPattern  = regexp.MustCompile(`\b(` + identifier + `)[ \t]*[:=][ \t]*\b` + containerNames + `[ \t]*` + quotedSubscript)
	bareSubscriptPattern        = regexp.MustCompile(`\b` + containerNames + `[ \t]*` + quotedSubscript)
	declarationSubscriptPattern = regexp.MustCompile(`\b(?:final|var|const|let|val|late)[ \t]+(?:[\w<>?,]+[ \t]+)*?(` + identifier + `)[ \t]*=[ \t]*\b` + containerNames + `[ \t]*` + quotedSubscript)

	// looseAssignmentPattern needs no known container: `price: item['price']`.
	looseAssignmentPattern = regexp.MustCompile(`\b(` + identifier + `)[ \t]*[:=][ \t]*` + identifier + `(?:\.` + identifier + `)*[ \t]*` + quotedSubscript)
)

// keyFamilies are tried in order; within a family matches are taken left to right.
var keyFamilies = []scanFamily{
	{
		name:    "missing_key",
		pattern: missingKeyPattern,
		candidates: func(m []string) []string {
			return []string{firstNonEmpty(m[1], m[2], m[3])}
		},
	},
	{
		name:    "go_struct_field",
		pattern: goFieldPattern,
		candidates: func(m []string) []string {
			path := m[1]
			if i := strings.LastIndexByte(path, '.'); i >= 0 {
				path = path[i+1:]
			}
			return []string{path}
		},
	},
	{
		name:    "assignment_subscript",
		pattern: assignmentSubscriptPattern,
		candidates: func(m []string) []string {
			return []string{firstNonEmpty(m[2], m[3]), m[1]}
		},
	},
	{
		name:    "bare_subscript",
		pattern: bareSubscriptPattern,
		candidates: func(m []string) []string {
			return []string{firstNonEmpty(m[1], m[2])}
		},
	},
	{
		name:    "declaration_subscript",
		pattern: declarationSubscriptPattern,
		candidates: func(m []string) []string {
			return []string{firstNonEmpty(m[2], m[3]), m[1]}
		},
	},
}

var looseAssignmentFamily = scanFamily{
	name:    "loose_assignment",
	pattern: looseAssignmentPattern,
	candidates: func(m []string) []string {
		return []string{firstNonEmpty(m[2], m[3]), m[1]}
	},
}

// ScanKey returns the first plausible JSON key in text, trying pattern families in order.
// It returns "" when nothing passes validation. Patterns never cross a line break, so text may be
// one line or a whole corpus.
func ScanKey(text string, excluded TypeNameSet) string {
	key, _ := scanFamilies(keyFamilies, text, excluded)
	return key
}

// ScanAssignment looks for `ident: expr['key']` or `ident = expr['key']` with any receiver,
// preferring the subscript key over the identifier.
func ScanAssignment(text string, excluded TypeNameSet) string {
	key, _ := scanFamilies([]scanFamily{looseAssignmentFamily}, text, excluded)
	return key
}

func scanFamilies(families []scanFamily, text string, excluded TypeNameSet) (string, string) {
	if strings.TrimSpace(text) == "" {
		return "", ""
	}
	for _, f := range families {
		for _, m := range f.pattern.FindAllStringSubmatch(text, -1) {
			for _, c := range f.candidates(m) {
				if IsValidCandidate(c, excluded) {
					return strings.TrimSpace(c), f.name
				}
			}
		}
	}
	return "", ""
}

// rejectedFragments mark a token that leaked out of the diagnostic phrase itself.
// This also rejects real names such as "prototype" or "broadcast".
var rejectedFragments = []string{"type", "subtype", "cast"}

// IsValidCandidate applies the field-name filter to one extracted token.
func IsValidCandidate(token string, excluded TypeNameSet) bool {
	token = strings.TrimSpace(token)
	if token == "" || utf8.RuneCountInString(token) <= 1 {
		return false
	}
	if excluded != nil && excluded.Contains(token) {
		return false
	}
	lower := strings.ToLower(token)
	for _, frag := range rejectedFragments {
		if strings.Contains(lower, frag) {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
