package gateway

import (
	"strings"
	"unicode"

	"kybmon/internal/connectors"
)

// MatchScorer rates how well a sanctions candidate name matches the query,
// in [0,1]. The gateway's own matching is coarse; a scorer tightens it.
type MatchScorer interface {
	Score(query, candidate string) float64
}

// TokenScorer is the Jaccard overlap of normalized name tokens with common
// legal-form suffixes removed.
type TokenScorer struct{}

var legalForms = map[string]bool{
	"gmbh": true, "ag": true, "kg": true, "ug": true, "se": true, "sa": true, "sarl": true,
	"sas": true, "bv": true, "nv": true, "ltd": true, "limited": true, "plc": true,
	"llc": true, "inc": true, "corp": true, "co": true, "spa": true, "srl": true,
}

func (TokenScorer) Score(query, candidate string) float64 {
	a, b := tokens(query), tokens(candidate)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokens(s string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if !legalForms[f] {
			out[f] = true
		}
	}
	return out
}

// rescore keeps the candidates at or above minScore and derives the status.
func (g *Connector) rescore(query string, env *envelope) connectors.Status {
	raw, _ := env.Data["matches"].([]any)
	kept := make([]any, 0, len(raw))
	for _, m := range raw {
		cand, ok := m.(map[string]any)
		if !ok {
			continue
		}
		name, _ := cand["name"].(string)
		score := g.scorer.Score(query, name)
		if score < g.minScore {
			continue
		}
		cand["score"] = score
		kept = append(kept, cand)
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	env.Data["matches"] = kept
	if len(kept) > 0 {
		return connectors.StatusMatch
	}
	return connectors.StatusNoMatch
}
