package voice

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Route binds a spoken intent to the device class and command it drives.
type Route struct {
	DeviceType  string
	CommandName string
}

// routes is the full spoken-command vocabulary. Movement verbs drive the
// wheel platform, poses drive the servo rig.
var routes = map[string]Route{
	"forward":       {DeviceType: "wheel", CommandName: "forward"},
	"backward":      {DeviceType: "wheel", CommandName: "backward"},
	"left":          {DeviceType: "wheel", CommandName: "left"},
	"right":         {DeviceType: "wheel", CommandName: "right"},
	"stop":          {DeviceType: "wheel", CommandName: "stop"},
	"resetposition": {DeviceType: "servo", CommandName: "resetposition"},
	"handsup":       {DeviceType: "servo", CommandName: "handsup"},
	"headleft":      {DeviceType: "servo", CommandName: "headleft"},
	"headright":     {DeviceType: "servo", CommandName: "headright"},
	"headup":        {DeviceType: "servo", CommandName: "headup"},
	"headdown":      {DeviceType: "servo", CommandName: "headdown"},
}

// synonyms map common STT renderings straight to an intent before any
// fuzzy scoring happens.
var synonyms = map[string]string{
	"forwards":  "forward",
	"ahead":     "forward",
	"backwards": "backward",
	"back":      "backward",
	"reverse":   "backward",
	"halt":      "stop",
	"freeze":    "stop",
	"reset":     "resetposition",
}

// fillerWords never carry intent and are dropped before matching.
var fillerWords = map[string]bool{
	"please": true, "the": true, "a": true, "to": true,
	"go": true, "now": true, "robot": true, "and": true,
	"move": true, "turn": true, "look": true,
}

// LookupRoute resolves a matched intent to its device class and command.
func LookupRoute(intent string) (Route, bool) {
	r, ok := routes[intent]
	return r, ok
}

// Matcher scores normalized transcripts against the command vocabulary.
type Matcher struct {
	threshold float64
}

func NewMatcher(threshold float64) *Matcher {
	return &Matcher{threshold: threshold}
}

// Threshold returns the configured confidence floor.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Match scores the transcript and returns the best intent with its
// confidence. The second return is false when nothing clears the threshold;
// the confidence of the best rejected candidate still comes back for the
// audit record.
//
// Candidates are single tokens plus adjacent-pair concatenations, so
// "hands up" scores against "handsup". Exact token hits score 1.0,
// everything else falls through to Jaro-Winkler.
func (m *Matcher) Match(normalized string) (string, float64, bool) {
	tokens := tokenize(normalized)
	if len(tokens) == 0 {
		return "", 0, false
	}

	candidates := make([]string, 0, len(tokens)*2)
	for i, t := range tokens {
		candidates = append(candidates, t)
		if i+1 < len(tokens) {
			candidates = append(candidates, t+tokens[i+1])
		}
	}

	bestIntent := ""
	bestScore := 0.0
	for _, c := range candidates {
		if mapped, ok := synonyms[c]; ok {
			c = mapped
		}
		if _, ok := routes[c]; ok {
			if 1.0 > bestScore {
				bestIntent, bestScore = c, 1.0
			}
			continue
		}
		for intent := range routes {
			score := matchr.JaroWinkler(c, intent, false)
			if score > bestScore {
				bestIntent, bestScore = intent, score
			}
		}
	}

	if bestScore < m.threshold {
		return bestIntent, bestScore, false
	}
	return bestIntent, bestScore, true
}

func tokenize(normalized string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(normalized)) {
		if !fillerWords[f] {
			out = append(out, f)
		}
	}
	return out
}
