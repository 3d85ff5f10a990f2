package config

import "sort"

// DefaultModel is used when no model is configured.
const DefaultModel = "deepseek-v3:671b"

// fallbackContextLength applies to models missing from the profile table.
const fallbackContextLength = 32000

// ModelProfile holds the sampling limits of a supported model.
type ModelProfile struct {
	Name          string
	ContextLength int
	Temperature   float64
	Description   string
}

var modelProfiles = map[string]ModelProfile{
	"deepseek-v3:671b": {
		Name:          "deepseek-v3:671b",
		ContextLength: 64000,
		Description:   "general reasoning, default",
	},
	"qwen3:235b": {
		Name:          "qwen3:235b",
		ContextLength: 40000,
		Description:   "smaller context window",
	},
	"deepseek-r1:671b-0528": {
		Name:          "deepseek-r1:671b-0528",
		ContextLength: 64000,
		Description:   "long-form reasoning",
	},
}

// LookupModel returns the profile for name. Unknown models get a
// conservative profile and ok=false.
func LookupModel(name string) (ModelProfile, bool) {
	if p, ok := modelProfiles[name]; ok {
		return p, true
	}
	return ModelProfile{Name: name, ContextLength: fallbackContextLength}, false
}

// Models lists the known profiles sorted by name.
func Models() []ModelProfile {
	out := make([]ModelProfile, 0, len(modelProfiles))
	for _, p := range modelProfiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
