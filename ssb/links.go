package ssb

import (
	"encoding/json"
	"sort"
)

// ExtractLinks lists the outgoing links of raw content the way the log
// database indexes them. A key whose value is a reference yields a link
// with that key as relation; a {"link": ...} object and array elements
// inherit the relation of their enclosing key.
func ExtractLinks(raw json.RawMessage) []Link {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if _, ok := v.(map[string]any); !ok {
		return nil
	}

	type edge struct{ rel, dest string }
	seen := make(map[edge]bool)
	var out []Link
	add := func(rel, dest string) {
		e := edge{rel, dest}
		if seen[e] {
			return
		}
		seen[e] = true
		out = append(out, Link{Rel: rel, Dest: dest})
	}
	walkLinks(v, "", add)
	return out
}

func walkLinks(v any, rel string, add func(rel, dest string)) {
	switch t := v.(type) {
	case string:
		if rel != "" && IsRef(t) {
			add(rel, t)
		}
	case []any:
		for _, e := range t {
			walkLinks(e, rel, add)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "link" && rel != "" {
				walkLinks(t[k], rel, add)
				continue
			}
			walkLinks(t[k], k, add)
		}
	}
}

// CausalLinks returns the thread references (root and branch) of raw
// content.
func CausalLinks(raw json.RawMessage) []string {
	var refs struct {
		Root   Ref  `json:"root"`
		Branch Refs `json:"branch"`
	}
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil
	}
	var out []string
	if refs.Root != "" {
		out = append(out, string(refs.Root))
	}
	return append(out, refs.Branch...)
}
