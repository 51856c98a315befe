package forensics

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// typeTemplate is one known phrasing of a type-cast failure.
// received and expected are submatch indexes; 0 means the template does not capture that side.
type typeTemplate struct {
	name            string
	pattern         *regexp.Regexp
	received        int
	expected        int
	literalReceived string
}

// primaryTemplates are tried specific-to-general. A field set by an earlier template is never
// replaced by a later one.
var primaryTemplates = []typeTemplate{
	{
		name:            "null_subtype",
		pattern:         regexp.MustCompile(`(?i)type\s+'null'\s+is\s+not\s+a\s+subtype\s+of\s+type\s+'([^'\n]+)'`),
		expected:        1,
		literalReceived: "null",
	},
	{
		name:     "subtype_in_cast",
		pattern:  regexp.MustCompile(`type\s+'([^'\n]+)'\s+is\s+not\s+a\s+subtype\s+of\s+type\s+'([^'\n]+)'\s+in\s+type\s+cast`),
		received: 1,
		expected: 2,
	},
	{
		name:     "subtype",
		pattern:  regexp.MustCompile(`type\s+'([^'\n]+)'\s+is\s+not\s+a\s+subtype\s+of\s+type\s+'([^'\n]+)'`),
		received: 1,
		expected: 2,
	},
	{
		name:     "go_struct_field",
		pattern:  regexp.MustCompile(`cannot unmarshal (\S+) into Go struct field \S+ of type (\S+)`),
		received: 1,
		expected: 2,
	},
	{
		name:     "go_value",
		pattern:  regexp.MustCompile(`cannot unmarshal (\S+) into Go value of type (\S+)`),
		received: 1,
		expected: 2,
	},
}

// secondaryTemplates are looser phrasings consulted only to fill fields the primary pass left empty.
var secondaryTemplates = []typeTemplate{
	{
		name:     "expected_value_of_type",
		pattern:  regexp.MustCompile(`Expected a value of type '([^'\n]+)', but got one of type '([^'\n]+)'`),
		received: 2,
		expected: 1,
	},
	{
		name:            "null_check",
		pattern:         regexp.MustCompile(`(?i)null check operator used on a null value`),
		literalReceived: "null",
	},
	{
		name:     "bare_subtype",
		pattern:  regexp.MustCompile(`'([^'\n]+)'\s+is\s+not\s+a\s+subtype\s+of\s+'([^'\n]+)'`),
		received: 1,
		expected: 2,
	},
}

// typePair is the (received, expected) result of a template pass.
type typePair struct {
	received string
	expected string
}

func (p typePair) complete() bool {
	return p.received != "" && p.expected != ""
}

// fillFrom runs the templates over text, setting only fields that are still empty.
func (p *typePair) fillFrom(templates []typeTemplate, text string) {
	if text == "" {
		return
	}
	for _, t := range templates {
		if p.complete() {
			return
		}
		m := t.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if p.received == "" {
			switch {
			case t.literalReceived != "":
				p.received = t.literalReceived
			case t.received > 0:
				p.received = CleanTypeName(m[t.received])
			}
		}
		if p.expected == "" && t.expected > 0 {
			p.expected = CleanTypeName(m[t.expected])
		}
	}
}

// ExtractTypePair returns the received and expected type names found in text.
// Either may be empty.
func ExtractTypePair(text string) (received, expected string) {
	var p typePair
	p.fillFrom(primaryTemplates, text)
	return p.received, p.expected
}

// CleanTypeName turns a runtime type string into a presentable name:
// `dart:core.int` becomes `int`, `_Map<String, dynamic>` becomes `_Map`, `*main.User` becomes `User`.
// A trailing nullability marker survives, so `List<int>?` becomes `List?`.
func CleanTypeName(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "*")
	nullable := strings.HasSuffix(s, "?")
	s = strings.TrimRight(s, "?")
	if i := strings.IndexByte(s, '<'); i > 0 {
		s = s[:i]
	}
	if i := strings.LastIndexAny(s, "./"); i >= 0 && i < len(s)-1 {
		s = s[i+1:]
	}
	s = strings.TrimSpace(s)
	if nullable && s != "" {
		s += "?"
	}
	return s
}

// typeNameKey folds case and the nullability marker for set lookups.
func typeNameKey(name string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(name)), "?")
}

// primitiveTypeNames are never accepted as field names.
var primitiveTypeNames = []string{
	"int", "integer", "string", "double", "float", "float32", "float64", "num", "numeric",
	"bool", "boolean", "list", "map", "dynamic", "any", "object", "null", "interface{}",
}

// TypeNameSet holds strings that must not be mistaken for a field name.
// Lookups ignore case and a trailing `?`. A set lives for one extraction pass.
type TypeNameSet map[string]struct{}

// NewTypeNameSet returns a set seeded with the primitive vocabulary plus extra.
func NewTypeNameSet(extra ...string) TypeNameSet {
	s := make(TypeNameSet, len(primitiveTypeNames)+len(extra))
	for _, name := range primitiveTypeNames {
		s.Add(name)
	}
	for _, name := range extra {
		s.Add(name)
	}
	return s
}

// Add inserts name. Empty names are ignored.
func (s TypeNameSet) Add(name string) {
	name = typeNameKey(name)
	if name == "" {
		return
	}
	s[name] = struct{}{}
}

// Contains reports whether name is in the set.
func (s TypeNameSet) Contains(name string) bool {
	_, ok := s[typeNameKey(name)]
	return ok
}

// IsPrimitiveTypeName reports whether name is one of the fixed primitive type names.
func IsPrimitiveTypeName(name string) bool {
	return lo.Contains(primitiveTypeNames, typeNameKey(name))
}
