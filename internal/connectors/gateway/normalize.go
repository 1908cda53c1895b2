package gateway

import (
	"strconv"
	"strings"

	"kybmon/internal/connectors"
)

// Normalize flattens the payload and derives the canonical finding keys the
// risk table reads, so every source shares one key space.
func (g *Connector) Normalize(r connectors.Result) map[string]string {
	out := connectors.Flatten(r.Data)
	// Candidate detail churns between list publications; only the finding is compared.
	for k := range out {
		if strings.HasPrefix(k, "matches.") || strings.HasPrefix(k, "proceedings.") {
			delete(out, k)
		}
	}

	switch r.Status {
	case connectors.StatusMatch, connectors.StatusNoMatch:
		out["match_found"] = strconv.FormatBool(r.Status == connectors.StatusMatch)
		out["match_count"] = strconv.Itoa(listLen(r.Data, "matches"))
	case connectors.StatusValid:
		if _, ok := out["valid"]; !ok {
			out["valid"] = "true"
		}
	case connectors.StatusInvalid:
		out["valid"] = "false"
	case connectors.StatusNotFound:
		out["found"] = "false"
	}
	if n := listLen(r.Data, "proceedings"); n > 0 || strings.Contains(g.source, "insolvency") {
		out["proceedings_count"] = strconv.Itoa(n)
		if _, ok := out["insolvency_found"]; !ok {
			out["insolvency_found"] = strconv.FormatBool(n > 0)
		}
	}
	return out
}

func listLen(data map[string]any, key string) int {
	if l, ok := data[key].([]any); ok {
		return len(l)
	}
	return 0
}
