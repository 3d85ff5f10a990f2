package executor

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

var openTag = regexp.MustCompile(`<([A-Za-z_][A-Za-z0-9_]*)\s*(/?)>`)

// wrapperTags are markup the model uses around its reasoning; they are
// never mistaken for tool calls.
var wrapperTags = map[string]bool{
	"thinking": true, "think": true, "analysis": true, "reasoning": true,
	"answer": true, "result": true, "observation": true, "action": true,
	"step": true, "code": true, "summary": true, "plan": true,
}

// parsed is the outcome of scanning one model response.
type parsed struct {
	call  models.ToolCall
	found bool
	// extra counts further invocations that were ignored.
	extra int
}

// parseResponse finds the first tool invocation in content. Registered
// names win over unregistered tag names that look like tools; the latter
// are returned so the executor can report them as unknown.
func parseResponse(content string, known func(string) bool) parsed {
	var knownHits, otherHits []tagHit
	for _, h := range scanTags(content) {
		switch {
		case known(h.name):
			knownHits = append(knownHits, h)
		case !wrapperTags[h.name] && strings.Contains(h.name, "_"):
			otherHits = append(otherHits, h)
		}
	}

	hits := knownHits
	if len(hits) == 0 {
		hits = otherHits
	}
	if len(hits) == 0 {
		return parsed{}
	}
	first := hits[0]
	return parsed{
		call:  models.ToolCall{Name: first.name, Arguments: parseParams(first.inner)},
		found: true,
		extra: len(hits) - 1,
	}
}

type tagHit struct {
	name  string
	inner string
	pos   int
}

// scanTags returns top-level <name>...</name> and <name/> elements in
// order of appearance. Elements nested inside a returned element are
// skipped.
func scanTags(content string) []tagHit {
	var hits []tagHit
	pos := 0
	for pos < len(content) {
		loc := openTag.FindStringSubmatchIndex(content[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		name := content[pos+loc[2] : pos+loc[3]]
		selfClosing := loc[5] > loc[4]
		bodyStart := pos + loc[1]

		if selfClosing {
			hits = append(hits, tagHit{name: name, pos: start})
			pos = bodyStart
			continue
		}
		closeTag := "</" + name + ">"
		end := strings.Index(content[bodyStart:], closeTag)
		if end < 0 {
			pos = bodyStart
			continue
		}
		hits = append(hits, tagHit{name: name, inner: content[bodyStart : bodyStart+end], pos: start})
		pos = bodyStart + end + len(closeTag)
	}
	return hits
}

// parseParams reads <param>value</param> children. Values holding a JSON
// array or object are decoded; everything else stays text for the
// validator to coerce.
func parseParams(inner string) map[string]any {
	args := make(map[string]any)
	for _, h := range scanTags(inner) {
		if _, dup := args[h.name]; dup {
			continue
		}
		args[h.name] = decodeValue(strings.TrimSpace(h.inner))
	}
	return args
}

func decodeValue(v string) any {
	if v == "" || (v[0] != '[' && v[0] != '{') {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(v)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil || dec.More() {
		return v
	}
	return out
}

// renderAction formats a call for the reasoning trace. Keys are sorted so
// the rendering is stable.
func renderAction(name string, args map[string]any) string {
	if len(args) == 0 {
		return name + "()"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte('=')
		switch v := args[k].(type) {
		case string:
			b.WriteString(v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				b.WriteString("?")
				continue
			}
			b.Write(raw)
		}
	}
	b.WriteByte(')')
	return b.String()
}
