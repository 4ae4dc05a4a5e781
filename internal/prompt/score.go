package prompt

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"reelsmith/internal/generation"
)

// score weights; the components sum to 100 before penalties.
const (
	weightSpecificity = 35
	weightLength      = 25
	weightCamera      = 15
	weightMotion      = 15
	weightStyle       = 10

	penaltyContradiction = 15
	penaltyNegatedTerm   = 10

	specificWordTarget = 15
)

var cameraCues = []string{
	"push in", "pull out", "pan left", "pan right", "tilt up", "tilt down",
	"tracking shot", "static camera", "orbit", "crane", "handheld", "close-up",
	"wide shot", "aerial", "dolly", "zoom",
}

var motionCues = []string{
	"walk", "run", "leap", "jump", "fly", "flies", "turn", "rise", "fall", "drift",
	"flow", "spin", "wave", "dance", "sway", "glide", "rush", "climb", "swim", "blink",
}

var styleCues = []string{
	"watercolor", "anime", "cel-shaded", "painterly", "noir", "pastel", "cinematic",
	"tense", "calm", "eerie", "joyful", "melancholy", "warm", "cool", "dreamy", "gritty",
}

var contradictions = [][2]string{
	{"static camera", "pan "},
	{"static camera", "push in"},
	{"static camera", "tracking shot"},
	{"slow", "fast"},
	{"calm", "chaotic"},
	{"day", "night"},
	{"close-up", "wide shot"},
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "from": {}, "into": {}, "over": {}, "that": {},
	"this": {}, "then": {}, "camera": {}, "style": {}, "avoid": {},
}

// Score estimates how well prompt suits profile on a 0-100 scale. It is
// advisory and never blocks submission. Output is deterministic.
func Score(prompt string, profile generation.Profile) int {
	positive, negative := splitNegative(lower.String(prompt))

	score := specificity(positive)
	score += lengthScore(utf8.RuneCountInString(prompt), profile.MaxPromptLength)
	if containsAny(positive, cameraCues) {
		score += weightCamera
	}
	if hasMotion(positive) {
		score += weightMotion
	}
	if containsAny(positive, styleCues) {
		score += weightStyle
	}
	for _, pair := range contradictions {
		if wordContains(positive, pair[0]) && wordContains(positive, pair[1]) {
			score -= penaltyContradiction
		}
	}
	if negative != "" {
		for _, term := range strings.Split(negative, ",") {
			term = strings.TrimSpace(term)
			if term != "" && wordContains(positive, term) {
				score -= penaltyNegatedTerm
			}
		}
	}
	return clamp(score, 0, 100)
}

// splitNegative separates the exclusion clause emitted by any prompt style.
func splitNegative(prompt string) (string, string) {
	for _, marker := range []string{" --no ", " avoid: ", " [avoid: "} {
		if idx := strings.Index(prompt, marker); idx >= 0 {
			neg := prompt[idx+len(marker):]
			neg = strings.TrimRight(neg, ".] ")
			return prompt[:idx], neg
		}
	}
	return prompt, ""
}

func specificity(text string) int {
	seen := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	}) {
		if utf8.RuneCountInString(word) <= 3 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		seen[word] = struct{}{}
	}
	n := len(seen)
	if n > specificWordTarget {
		n = specificWordTarget
	}
	return n * weightSpecificity / specificWordTarget
}

func lengthScore(length, limit int) int {
	if limit <= 0 {
		limit = 512
	}
	ratio := float64(length) / float64(limit)
	switch {
	case ratio > 1:
		return 0
	case ratio > 0.9:
		return weightLength * 4 / 5
	case ratio >= 0.3:
		return weightLength
	default:
		return int(ratio / 0.3 * weightLength)
	}
}

func hasMotion(text string) bool {
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,;:[]()")
		if strings.HasSuffix(word, "ing") && len(word) > 5 {
			return true
		}
		for _, cue := range motionCues {
			if strings.HasPrefix(word, cue) {
				return true
			}
		}
	}
	return false
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if wordContains(text, cue) {
			return true
		}
	}
	return false
}

// wordContains matches phrase on word boundaries.
func wordContains(text, phrase string) bool {
	for start := 0; ; {
		idx := strings.Index(text[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(phrase)
		before := idx == 0 || !isWordByte(text[idx-1])
		after := end >= len(text) || !isWordByte(text[end]) || strings.HasSuffix(phrase, " ")
		if before && after {
			return true
		}
		start = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b == '-' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
