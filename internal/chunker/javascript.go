package chunker

import (
	"regexp"
	"strings"
)

// Boundary patterns for the line heuristic. Matching the start of a line is
// deliberate: brace balance is not tracked, so a chunk runs from one
// boundary to the line before the next.
var (
	jsImportRe = regexp.MustCompile(`^\s*(?:import[\s{]|(?:const|let|var)\s+[\w${},\s]+=\s*require\s*\()`)
	jsClassRe  = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?class\s+([A-Za-z_$][\w$]*)`)
	jsFuncRe   = regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)?\s*\(`)
	jsArrowRe  = regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*=>`)
)

func chunkJavaScript(path string, src []byte) ([]Chunk, error) {
	return chunkJSLines(splitLines(string(src)), 1), nil
}

// chunkJSLines applies the boundary heuristic to lines numbered from base.
// The TypeScript strategy delegates here after carving out its own blocks,
// passing blanked-out lines so global numbering is preserved.
func chunkJSLines(lines []string, base int) []Chunk {
	var chunks []Chunk

	// The leading run of import/require lines becomes one chunk. Blank and
	// comment lines inside the run are tolerated; the first real statement
	// ends it.
	importEnd := 0
	firstImport, lastImport := -1, -1
	for i, line := range lines {
		if jsImportRe.MatchString(line) {
			if firstImport < 0 {
				firstImport = i
			}
			lastImport = i
			importEnd = i + 1
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		break
	}
	if firstImport >= 0 {
		chunks = append(chunks, Chunk{
			Type:      TypeImports,
			StartLine: base + firstImport,
			EndLine:   base + lastImport,
			Content:   strings.Join(lines[firstImport:lastImport+1], "\n"),
		})
	}

	type open struct {
		idx  int
		name string
		typ  Type
	}
	var cur *open
	flush := func(endIdx int) {
		if cur == nil {
			return
		}
		chunks = append(chunks, Chunk{
			Type:      cur.typ,
			Name:      cur.name,
			StartLine: base + cur.idx,
			EndLine:   base + endIdx,
			Content:   strings.Join(lines[cur.idx:endIdx+1], "\n"),
		})
		cur = nil
	}
	for i := importEnd; i < len(lines); i++ {
		if name, typ, ok := jsBoundary(lines[i]); ok {
			flush(i - 1)
			cur = &open{idx: i, name: name, typ: typ}
		}
	}
	flush(len(lines) - 1)

	return chunks
}

func jsBoundary(line string) (string, Type, bool) {
	if m := jsClassRe.FindStringSubmatch(line); m != nil {
		return m[1], TypeClass, true
	}
	if m := jsFuncRe.FindStringSubmatch(line); m != nil {
		typ := TypeFunction
		if strings.TrimSpace(m[1]) != "" {
			typ = TypeAsyncFunction
		}
		return m[2], typ, true
	}
	if m := jsArrowRe.FindStringSubmatch(line); m != nil {
		typ := TypeFunction
		if strings.TrimSpace(m[2]) != "" {
			typ = TypeAsyncFunction
		}
		return m[1], typ, true
	}
	return "", "", false
}
