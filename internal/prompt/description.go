package prompt

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"reelsmith/internal/generation"
)

// Description is the provider-neutral scene description of a shot.
type Description struct {
	Subject  string
	Motion   string
	Camera   string
	Mood     string
	Style    string
	Negative string
}

// FromRequest builds a Description from a generation request.
func FromRequest(req generation.Request) Description {
	return Description{
		Subject:  req.Subject,
		Motion:   req.MotionDescription,
		Camera:   req.CameraInstruction,
		Mood:     req.Mood,
		Style:    req.Style,
		Negative: req.NegativePrompt,
	}
}

var lower = cases.Lower(language.English)

// cameraSynonyms maps free-form camera phrasing onto the canonical vocabulary
// every provider understands. Order matters: longer phrases first.
var cameraSynonyms = []struct{ from, to string }{
	{"pan to the left", "pan left"},
	{"pan to the right", "pan right"},
	{"zoom in", "push in"},
	{"dolly in", "push in"},
	{"zoom out", "pull out"},
	{"dolly out", "pull out"},
	{"locked-off", "static camera"},
	{"locked off", "static camera"},
	{"still camera", "static camera"},
	{"follow shot", "tracking shot"},
}

// cleanText applies NFC normalization, folds whitespace, and trims trailing
// clause punctuation.
func cleanText(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	return strings.TrimRight(s, " .,;:")
}

func canonicalCamera(s string) string {
	s = lower.String(cleanText(s))
	if s == "" {
		return ""
	}
	padded := " " + s + " "
	for _, syn := range cameraSynonyms {
		padded = strings.ReplaceAll(padded, " "+syn.from+" ", " "+syn.to+" ")
	}
	return strings.TrimSpace(padded)
}

func canonicalList(values ...string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			item = lower.String(cleanText(item))
			if item == "" {
				continue
			}
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return strings.Join(out, ", ")
}

func coreText(d Description) string {
	parts := make([]string, 0, 2)
	if s := cleanText(d.Subject); s != "" {
		parts = append(parts, s)
	}
	if s := cleanText(d.Motion); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}
