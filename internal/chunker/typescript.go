package chunker

import (
	"regexp"
	"strings"
)

var (
	tsInterfaceRe = regexp.MustCompile(`^\s*(?:export\s+)?(?:declare\s+)?interface\s+([A-Za-z_$][\w$]*)`)
	tsTypeRe      = regexp.MustCompile(`^\s*(?:export\s+)?(?:declare\s+)?type\s+([A-Za-z_$][\w$]*)(?:<[^>]*>)?\s*=`)
)

// chunkTypeScript carves out interface and type-alias blocks with a brace
// scan, then hands the remaining lines to the JavaScript heuristic. Carved
// lines are blanked rather than removed so both passes report the same
// line numbers.
func chunkTypeScript(path string, src []byte) ([]Chunk, error) {
	lines := splitLines(string(src))
	masked := make([]string, len(lines))
	copy(masked, lines)

	var tsChunks []Chunk
	for i := 0; i < len(lines); i++ {
		var name string
		var typ Type
		if m := tsInterfaceRe.FindStringSubmatch(lines[i]); m != nil {
			name, typ = m[1], TypeInterface
		} else if m := tsTypeRe.FindStringSubmatch(lines[i]); m != nil {
			name, typ = m[1], TypeTypeAlias
		} else {
			continue
		}
		end := braceBlockEnd(lines, i)
		tsChunks = append(tsChunks, Chunk{
			Type:      typ,
			Name:      name,
			StartLine: i + 1,
			EndLine:   end + 1,
			Content:   strings.Join(lines[i:end+1], "\n"),
		})
		for j := i; j <= end; j++ {
			masked[j] = ""
		}
		i = end
	}

	return append(chunkJSLines(masked, 1), tsChunks...), nil
}

// braceBlockEnd scans from line start until the brace depth opened there
// returns to zero. A construct with no brace on its first line is taken to
// be a single-line declaration.
func braceBlockEnd(lines []string, start int) int {
	if !strings.Contains(lines[start], "{") {
		return start
	}
	depth := 0
	for i := start; i < len(lines); i++ {
		for _, r := range lines[i] {
			switch r {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return len(lines) - 1
}
