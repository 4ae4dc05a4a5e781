package prompt

import (
	"strings"
	"unicode/utf8"

	"reelsmith/internal/generation"
)

// clause priorities, highest first.
const (
	clauseCore = iota
	clauseCamera
	clauseStyle
	clauseNegative
)

type renderer interface {
	core(text string) string
	fragment(kind int, text string) string
}

type naturalRenderer struct{}

func (naturalRenderer) core(text string) string { return text + "." }

func (naturalRenderer) fragment(kind int, text string) string {
	switch kind {
	case clauseCamera:
		return " Camera: " + text + "."
	case clauseStyle:
		return " Style: " + text + "."
	default:
		return " Avoid: " + text + "."
	}
}

type taggedRenderer struct{}

func (taggedRenderer) core(text string) string { return text }

func (taggedRenderer) fragment(kind int, text string) string {
	switch kind {
	case clauseCamera:
		return " [camera: " + text + "]"
	case clauseStyle:
		return " [style: " + text + "]"
	default:
		return " [avoid: " + text + "]"
	}
}

type weightedRenderer struct{}

func (weightedRenderer) core(text string) string { return text }

func (weightedRenderer) fragment(kind int, text string) string {
	switch kind {
	case clauseCamera:
		return ", camera " + text
	case clauseStyle:
		return ", " + text
	default:
		return " --no " + text
	}
}

func rendererFor(style generation.PromptStyle) renderer {
	switch style {
	case generation.PromptTagged:
		return taggedRenderer{}
	case generation.PromptWeighted:
		return weightedRenderer{}
	default:
		return naturalRenderer{}
	}
}

// Optimize rewrites d in the prompt convention of profile. When the result
// would exceed the provider's MaxPromptLength, lower-priority clauses are
// dropped (negative, then mood/style, then camera) and finally the core
// subject is truncated at a word boundary. Output is deterministic.
func Optimize(d Description, profile generation.Profile) string {
	r := rendererFor(profile.PromptStyle)
	limit := profile.MaxPromptLength

	out := fitCore(r, coreText(d), limit)
	lowers := []struct {
		kind int
		text string
	}{
		{clauseCamera, canonicalCamera(d.Camera)},
		{clauseStyle, canonicalList(d.Mood, d.Style)},
		{clauseNegative, canonicalList(d.Negative)},
	}
	for _, c := range lowers {
		if c.text == "" {
			continue
		}
		frag := r.fragment(c.kind, c.text)
		if limit > 0 && utf8.RuneCountInString(out)+utf8.RuneCountInString(frag) > limit {
			break
		}
		out += frag
	}
	return out
}

func fitCore(r renderer, core string, limit int) string {
	rendered := r.core(core)
	if limit <= 0 || utf8.RuneCountInString(rendered) <= limit {
		return rendered
	}
	words := strings.Fields(core)
	for len(words) > 1 {
		words = words[:len(words)-1]
		candidate := strings.TrimRight(strings.Join(words, " "), " .,;:")
		rendered = r.core(candidate)
		if utf8.RuneCountInString(rendered) <= limit {
			return rendered
		}
	}
	runes := []rune(rendered)
	if len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes)
}
