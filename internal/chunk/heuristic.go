package chunk

import (
	"regexp"
	"strings"

	"github.com/quarrylabs/quarry/internal/store"
)

// heuristicPattern pairs a declaration regex with the symbol type it yields.
// The first capture group is the symbol name.
type heuristicPattern struct {
	re      *regexp.Regexp
	symType store.SymbolType
}

// heuristicPatterns holds per-language declaration patterns used when the
// parser fails. They only need to find top-of-line declarations; precision
// beyond that is the AST path's job.
var heuristicPatterns = map[string][]heuristicPattern{
	"go": {
		{regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?(\w+)\s*\(`), store.SymbolTypeFunction},
		{regexp.MustCompile(`^type\s+(\w+)\s+interface\b`), store.SymbolTypeInterface},
		{regexp.MustCompile(`^type\s+(\w+)\b`), store.SymbolTypeType},
		{regexp.MustCompile(`^const\s+(\w+)\b`), store.SymbolTypeConstant},
		{regexp.MustCompile(`^var\s+(\w+)\b`), store.SymbolTypeVariable},
	},
	"python": {
		{regexp.MustCompile(`^(?:async\s+)?def\s+(\w+)\s*\(`), store.SymbolTypeFunction},
		{regexp.MustCompile(`^class\s+(\w+)\b`), store.SymbolTypeClass},
	},
	"javascript": {
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*\(`), store.SymbolTypeFunction},
		{regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?class\s+(\w+)\b`), store.SymbolTypeClass},
		{regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s*)?(?:\([^)]*\)|\w+)\s*=>`), store.SymbolTypeFunction},
		{regexp.MustCompile(`^(?:export\s+)?(?:const|let)\s+(\w+)\b`), store.SymbolTypeConstant},
	},
}

func init() {
	// TypeScript extends the JavaScript patterns.
	ts := append([]heuristicPattern{
		{regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)\b`), store.SymbolTypeInterface},
		{regexp.MustCompile(`^(?:export\s+)?type\s+(\w+)\s*=`), store.SymbolTypeType},
	}, heuristicPatterns["javascript"]...)
	heuristicPatterns["typescript"] = ts
	heuristicPatterns["tsx"] = ts
}

// extractHeuristicSymbols scans source line-by-line with declaration
// patterns. All returned symbols carry ConfidenceHeuristic; end lines are
// approximated by the start of the next symbol.
func extractHeuristicSymbols(content, language string) []*store.Symbol {
	patterns, ok := heuristicPatterns[language]
	if !ok {
		return nil
	}

	lines := strings.Split(content, "\n")
	var symbols []*store.Symbol

	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		// Only top-level declarations: skip indented lines except in Python
		// class bodies, where methods are worth surfacing too.
		if trimmed != line && language != "python" {
			continue
		}

		for _, p := range patterns {
			m := p.re.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}
			symbols = append(symbols, &store.Symbol{
				Name:       m[1],
				Type:       p.symType,
				StartLine:  i + 1,
				EndLine:    i + 1,
				Signature:  strings.TrimSpace(strings.TrimSuffix(trimmed, "{")),
				Confidence: store.ConfidenceHeuristic,
			})
			break
		}
	}

	// Approximate symbol extents: each runs until the next one starts.
	for i := range symbols {
		if i+1 < len(symbols) {
			symbols[i].EndLine = symbols[i+1].StartLine - 1
		} else {
			symbols[i].EndLine = len(lines)
		}
	}

	return symbols
}
