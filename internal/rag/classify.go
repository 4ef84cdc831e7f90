package rag

import (
	"regexp"
	"strings"
)

// QueryType is the coarse category a user query falls into. It selects the
// collection searched and tunes the retrieval threshold.
type QueryType string

const (
	QueryFile           QueryType = "file"
	QueryComponent      QueryType = "component"
	QueryImplementation QueryType = "implementation"
	QueryRelationship   QueryType = "relationship"
	QueryPattern        QueryType = "pattern"
	QueryDocumentation  QueryType = "documentation"
)

// Collection names, one per query type that benefits from its own index.
const (
	CollectionFiles         = "code_files"
	CollectionComponents    = "code_components"
	CollectionRelationships = "code_relationships"
	CollectionPatterns      = "code_patterns"
)

// QueryInfo is the classification of one user query. Target, Attributes and
// Constraints are best-effort extractions and may be empty.
type QueryInfo struct {
	Type        QueryType
	Action      string
	Target      string
	Attributes  map[string]string
	Constraints []string

	// FileHint is set when the query asks for a specific file's content
	// by name. Retrieval then filters on the file and lowers the score
	// threshold, since lexical overlap with a bare filename is weak.
	FileHint string
}

type typePatterns struct {
	typ QueryType
	res []*regexp.Regexp
}

// Ordered; the first matching pattern decides the type.
var queryTypes = []typePatterns{
	{QueryFile, compileAll(
		`show (?:me )?(?:the )?(?:content of )?files? (.+)`,
		`find (?:all )?files? (?:that |where )?(.+)`,
		`search for files? (?:with |containing )?(.+)`,
	)},
	{QueryComponent, compileAll(
		`show (?:me )?(?:the )?(?:implementation of )?(?:class|function|method) (.+)`,
		`find (?:all )?(?:classes|functions|methods) (?:that |where )?(.+)`,
		`how (?:is|does) (.+) (?:implemented|work)`,
	)},
	{QueryImplementation, compileAll(
		`how to implement (.+)`,
		`show (?:me )?examples? of (.+)`,
		`what'?s the best way to (.+)`,
	)},
	{QueryRelationship, compileAll(
		`how (?:does|is) (.+) (?:related to|used in|connected with) (.+)`,
		`what (?:uses|calls|imports) (.+)`,
		`show (?:me )?(?:the )?dependencies (?:of|for) (.+)`,
	)},
	{QueryPattern, compileAll(
		`what (?:design )?patterns?\b(.*)`,
		`(?:uses|using) (?:the )?(.+) pattern`,
	)},
	{QueryDocumentation, compileAll(
		`(?:documentation|readme|docs)\b\s*(?:for |of )?(.*)`,
	)},
}

var fileHintRe = regexp.MustCompile(`(?:show|get|give|display).*?(?:content|lines?).*?([\w\-./]+\.\w+)`)

var (
	langAttrRe = regexp.MustCompile(`in (?:language )?(\w+)`)
	typeAttrRe = regexp.MustCompile(`types? (?:of |is )?(\w+)`)

	recencyRe    = regexp.MustCompile(`recent|latest|new`)
	sizeRe       = regexp.MustCompile(`small|large|big`)
	complexityRe = regexp.MustCompile(`simple|complex|basic`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// Classify categorizes a natural-language query. The default type is
// implementation when no pattern matches.
func Classify(query string) QueryInfo {
	q := strings.ToLower(strings.TrimSpace(query))

	info := QueryInfo{
		Type:        QueryImplementation,
		Action:      actionOf(q),
		Attributes:  attributesOf(q),
		Constraints: constraintsOf(q),
	}
	if typ, target, ok := matchType(q); ok {
		info.Type = typ
		info.Target = target
	}
	if m := fileHintRe.FindStringSubmatch(q); m != nil {
		info.FileHint = m[1]
	}
	return info
}

// CollectionFor maps a query type to the collection searched for it.
func CollectionFor(t QueryType) string {
	switch t {
	case QueryFile:
		return CollectionFiles
	case QueryRelationship:
		return CollectionRelationships
	case QueryPattern:
		return CollectionPatterns
	default:
		return CollectionComponents
	}
}

func matchType(q string) (QueryType, string, bool) {
	for _, tp := range queryTypes {
		for _, re := range tp.res {
			if m := re.FindStringSubmatch(q); m != nil {
				target := ""
				if len(m) > 1 {
					target = strings.Trim(m[1], " ?.")
				}
				return tp.typ, target, true
			}
		}
	}
	return "", "", false
}

func actionOf(q string) string {
	switch {
	case containsAny(q, "show", "display", "print"):
		return "display"
	case containsAny(q, "find", "search", "look for"):
		return "search"
	case containsAny(q, "how", "explain", "describe"):
		return "explain"
	case containsAny(q, "implement", "create", "write"):
		return "implement"
	default:
		return "explain"
	}
}

func attributesOf(q string) map[string]string {
	attrs := map[string]string{}
	if m := langAttrRe.FindStringSubmatch(q); m != nil {
		attrs["language"] = m[1]
	}
	if m := typeAttrRe.FindStringSubmatch(q); m != nil {
		attrs["type"] = m[1]
	}
	return attrs
}

func constraintsOf(q string) []string {
	var out []string
	if recencyRe.MatchString(q) {
		out = append(out, "recent")
	}
	if sizeRe.MatchString(q) {
		out = append(out, "size")
	}
	if complexityRe.MatchString(q) {
		out = append(out, "complexity")
	}
	return out
}

func containsAny(q string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}
