package chunker

import (
	"math"
	"sync"
)

const targetChunkLines = 250

type scoreKey struct {
	typ   Type
	deco  bool
	doc   bool
	lines int
}

// Scorer memoizes the advisory importance heuristic. Scores bias ranking
// downstream and never exclude a chunk on their own.
type Scorer struct {
	mu   sync.Mutex
	memo map[scoreKey]float64
}

func NewScorer() *Scorer {
	return &Scorer{memo: make(map[scoreKey]float64)}
}

// Score combines a base score per chunk type with bonuses for decorators
// and docstrings and a length preference that peaks near the target size,
// clamped to [0,1] and rounded to two decimals.
func (s *Scorer) Score(typ Type, hasDecorators, hasDocstring bool, lines int) float64 {
	key := scoreKey{typ: typ, deco: hasDecorators, doc: hasDocstring, lines: lines}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.memo[key]; ok {
		return v
	}

	var score float64
	switch typ {
	case TypeClass:
		score = 0.9
	case TypeAsyncFunction:
		score = 0.85
	case TypeFunction:
		score = 0.8
	case TypeInterface:
		score = 0.75
	case TypeImports, TypeTypeAlias:
		score = 0.7
	default:
		score = 0.5
	}
	if hasDecorators {
		score += 0.1
	}
	if hasDocstring {
		score += 0.1
	}

	diff := math.Abs(float64(lines - targetChunkLines))
	if bonus := 0.1 * (1 - diff/targetChunkLines); bonus > 0 {
		score += bonus
	}

	score = math.Min(1, math.Max(0, score))
	score = math.Round(score*100) / 100
	s.memo[key] = score
	return score
}
