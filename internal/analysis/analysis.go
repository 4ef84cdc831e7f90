// Package analysis extracts best-effort structure from source files: import
// edges, entry point markers and advisory pattern buckets. Everything here
// is regex based and favors recall over precision; results annotate the
// repository context and are never treated as sound.
package analysis

import (
	"path/filepath"
	"regexp"
	"strings"
)

// ImportEdge records one import statement in a source file. Module is the
// raw imported name and is not resolved to a file.
type ImportEdge struct {
	Source string
	Module string
	Line   int
}

var (
	pyImportRe = regexp.MustCompile(`^\s*import\s+(.+)$`)
	pyFromRe   = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s`)

	jsImportFromRe = regexp.MustCompile(`^\s*import\s+(?:[\w$*{},\s]+\s+from\s+)?['"]([^'"]+)['"]`)
	jsExportFromRe = regexp.MustCompile(`^\s*export\s+[\w$*{},\s]+\s+from\s+['"]([^'"]+)['"]`)
	jsRequireRe    = regexp.MustCompile(`require\(\s*['"]([^'"]+)['"]\s*\)`)
)

// Imports scans src for import statements and returns one edge per imported
// module with its line number.
func Imports(path string, src []byte) []ImportEdge {
	switch ext(path) {
	case "py", "pyi":
		return pythonImports(path, src)
	case "js", "jsx", "mjs", "cjs", "ts", "tsx":
		return scriptImports(path, src)
	default:
		return nil
	}
}

func pythonImports(path string, src []byte) []ImportEdge {
	var edges []ImportEdge
	for i, line := range lines(src) {
		if m := pyFromRe.FindStringSubmatch(line); m != nil {
			edges = append(edges, ImportEdge{Source: path, Module: m[1], Line: i + 1})
			continue
		}
		if m := pyImportRe.FindStringSubmatch(line); m != nil {
			for _, part := range strings.Split(m[1], ",") {
				fields := strings.Fields(part)
				if len(fields) == 0 {
					continue
				}
				edges = append(edges, ImportEdge{Source: path, Module: fields[0], Line: i + 1})
			}
		}
	}
	return edges
}

func scriptImports(path string, src []byte) []ImportEdge {
	var edges []ImportEdge
	for i, line := range lines(src) {
		if m := jsImportFromRe.FindStringSubmatch(line); m != nil {
			edges = append(edges, ImportEdge{Source: path, Module: m[1], Line: i + 1})
			continue
		}
		if m := jsExportFromRe.FindStringSubmatch(line); m != nil {
			edges = append(edges, ImportEdge{Source: path, Module: m[1], Line: i + 1})
			continue
		}
		for _, m := range jsRequireRe.FindAllStringSubmatch(line, -1) {
			edges = append(edges, ImportEdge{Source: path, Module: m[1], Line: i + 1})
		}
	}
	return edges
}

var entryProbes = []struct {
	marker string
	re     *regexp.Regexp
}{
	{"__main__ guard", regexp.MustCompile(`(?m)^\s*if\s+__name__\s*==\s*['"]__main__['"]`)},
	{"main()", regexp.MustCompile(`(?m)^\s*(?:async\s+)?(?:def|function)\s+main\s*\(`)},
	{"ReactDOM.render", regexp.MustCompile(`ReactDOM\.render\s*\(`)},
	{"createRoot", regexp.MustCompile(`createRoot\s*\(`)},
}

// EntryPoints returns the entry point markers present in the file, in a
// fixed probe order.
func EntryPoints(path string, src []byte) []string {
	var found []string
	for _, p := range entryProbes {
		if p.re.Match(src) {
			found = append(found, p.marker)
		}
	}
	return found
}

var patternProbes = []struct {
	name string
	re   *regexp.Regexp
}{
	{"singleton", regexp.MustCompile(`(?m)(_instance\b\s*=|getInstance\s*\(|get_instance\s*\(|__new__)`)},
	{"factory", regexp.MustCompile(`(?mi)(?:def|class|function)\s+\w*factory`)},
	{"observer", regexp.MustCompile(`(addEventListener\(|\.subscribe\(|\.emit\(|\.on\()`)},
	{"error_handling", regexp.MustCompile(`(?m)(^\s*try:|^\s*except[\s:]|try\s*\{|catch\s*\()`)},
	{"async", regexp.MustCompile(`(async\s+def\s|await\s|async\s+function\b|\.then\()`)},
	{"rest_routes", regexp.MustCompile(`(@app\.route\(|@router\.|app\.(?:get|post|put|delete)\(|router\.(?:get|post|put|delete)\()`)},
	{"caching", regexp.MustCompile(`(lru_cache|\.cache\b|\bcache\[|\bself\.cache\b)`)},
}

// Patterns returns the advisory pattern buckets the file appears to use.
func Patterns(path string, src []byte) []string {
	var found []string
	for _, p := range patternProbes {
		if p.re.Match(src) {
			found = append(found, p.name)
		}
	}
	return found
}

func ext(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func lines(src []byte) []string {
	return strings.Split(string(src), "\n")
}
