package composition

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"reelsmith/internal/timeline"
)

// num formats a float for filter expressions without trailing zeros.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// fixed formats seconds to millisecond precision.
func fixed(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', 3, 64)
}

// concatGraph builds the filter graph that normalizes every clip on track to
// the output geometry, applies Ken Burns moves, pads gaps in the track with
// black, and joins clips with cuts or xfade transitions. Inputs are numbered
// in clip order; the result is labelled [vout].
func concatGraph(track timeline.VideoTrack, s OutputSettings) string {
	var parts []string
	for i, clip := range track.Clips {
		parts = append(parts, fmt.Sprintf("[%d:v]%s[v%d]", i, clipChain(clip, track.LeadIn(i), s), i))
	}
	if len(track.Clips) == 1 {
		parts = append(parts, "[v0]null[vout]")
		return strings.Join(parts, ";")
	}

	acc := "v0"
	length := track.LeadIn(0) + track.Clips[0].DurationSeconds
	for i := 1; i < len(track.Clips); i++ {
		prev, clip := track.Clips[i-1], track.Clips[i]
		out := fmt.Sprintf("j%d", i)
		if i == len(track.Clips)-1 {
			out = "vout"
		}
		overlap := timeline.Overlap(prev, clip)
		if overlap > 0 {
			offset := length - overlap
			parts = append(parts, fmt.Sprintf("[%s][v%d]xfade=transition=%s:duration=%s:offset=%s[%s]",
				acc, i, xfadeName(clip.TransitionIn), fixed(overlap), fixed(offset), out))
			length = offset + clip.DurationSeconds
		} else {
			parts = append(parts, fmt.Sprintf("[%s][v%d]concat=n=2:v=1:a=0[%s]", acc, i, out))
			length += track.LeadIn(i) + clip.DurationSeconds
		}
		acc = out
	}
	return strings.Join(parts, ";")
}

// clipChain trims a clip to its timeline duration, conforms it to the output
// frame size, rate, and pixel format, and prepends leadIn seconds of black.
func clipChain(clip timeline.Clip, leadIn float64, s OutputSettings) string {
	// Hold the last frame so clips stretched past their source never run short.
	filters := []string{
		"tpad=stop_mode=clone:stop_duration=" + fixed(clip.DurationSeconds),
		"trim=duration=" + fixed(clip.DurationSeconds),
		"setpts=PTS-STARTPTS",
	}
	if kb, ok := clip.KenBurns(); ok {
		// Upscale first so zoompan has pixels to crop into.
		filters = append(filters,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", s.Width*2, s.Height*2),
			fmt.Sprintf("crop=%d:%d", s.Width*2, s.Height*2),
			zoompan(kb, clip.DurationSeconds, s),
		)
	} else {
		filters = append(filters,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", s.Width, s.Height),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", s.Width, s.Height),
		)
	}
	filters = append(filters,
		"setsar=1",
		fmt.Sprintf("fps=%d", s.FPS),
		"format=yuv420p",
	)
	if leadIn > 0 {
		filters = append(filters, "tpad=start_mode=add:color=black:start_duration="+fixed(leadIn))
	}
	return strings.Join(filters, ",")
}

// zoompan interpolates the crop window from kb.Start to kb.End. The progress
// variable runs 0..1 over the clip's frames and is shaped by the easing curve.
func zoompan(kb timeline.KenBurns, duration float64, s OutputSettings) string {
	frames := max(int(math.Round(duration*float64(s.FPS))), 2)
	p := fmt.Sprintf("min(on/%d,1)", frames-1)
	e := easingExpr(kb.Easing, p)
	lerp := func(a, b float64) string {
		if a == b {
			return num(a)
		}
		return fmt.Sprintf("(%s+(%s)*%s)", num(a), num(b-a), e)
	}
	zoom := fmt.Sprintf("1/%s", lerp(kb.Start.W, kb.End.W))
	x := fmt.Sprintf("%s*iw", lerp(kb.Start.X, kb.End.X))
	y := fmt.Sprintf("%s*ih", lerp(kb.Start.Y, kb.End.Y))
	return fmt.Sprintf("zoompan=z='%s':x='%s':y='%s':d=1:s=%dx%d:fps=%d", zoom, x, y, s.Width, s.Height, s.FPS)
}

func easingExpr(easing timeline.Easing, p string) string {
	switch easing {
	case timeline.EaseLinear:
		return p
	case timeline.EaseIn:
		return fmt.Sprintf("pow(%s,2)", p)
	case timeline.EaseOut:
		return fmt.Sprintf("(1-pow(1-%s,2))", p)
	default:
		return fmt.Sprintf("if(lt(%[1]s,0.5),2*pow(%[1]s,2),1-2*pow(1-%[1]s,2))", p)
	}
}

func xfadeName(t timeline.Transition) string {
	switch t.Kind {
	case timeline.TransitionWipe:
		switch t.Direction {
		case "right":
			return "wiperight"
		case "up":
			return "wipeup"
		case "down":
			return "wipedown"
		default:
			return "wipeleft"
		}
	case timeline.TransitionDip:
		return "fadeblack"
	default:
		return "fade"
	}
}

// audioInput pairs a timeline clip with its ffmpeg input index.
type audioInput struct {
	clip  timeline.AudioClip
	input int
}

func audioInputs(tl timeline.Timeline) []audioInput {
	var out []audioInput
	for _, track := range tl.AudioTracks {
		for _, clip := range track.Clips {
			out = append(out, audioInput{clip: clip, input: len(out)})
		}
	}
	return out
}

// mixGraph gain-adjusts and delays every audio clip to its start offset and
// sums them without normalization, trimmed to total seconds. The result is
// labelled [aout].
func mixGraph(inputs []audioInput, total float64) string {
	var parts []string
	labels := make([]string, 0, len(inputs))
	for _, in := range inputs {
		delay := int64(math.Round(in.clip.StartOffset * 1000))
		label := fmt.Sprintf("a%d", in.input)
		parts = append(parts, fmt.Sprintf("[%d:a]atrim=duration=%s,asetpts=PTS-STARTPTS,volume=%sdB,adelay=%d:all=1[%s]",
			in.input, fixed(in.clip.DurationSeconds), num(in.clip.GainDB), delay, label))
		labels = append(labels, "["+label+"]")
	}
	parts = append(parts, fmt.Sprintf("%samix=inputs=%d:normalize=0:duration=longest,apad,atrim=duration=%s[aout]",
		strings.Join(labels, ""), len(labels), fixed(total)))
	return strings.Join(parts, ";")
}

// Grade is a fixed set of colour parameters.
type Grade struct {
	Contrast   float64
	Saturation float64
	Gamma      float64
	Brightness float64
	// BlackLevel lifts or crushes the input black point (colorlevels *imin).
	BlackLevel float64
}

// Grades lists the named presets.
var Grades = map[string]Grade{
	"neutral":   {Contrast: 1, Saturation: 1, Gamma: 1},
	"warm":      {Contrast: 1.05, Saturation: 1.15, Gamma: 1.02, Brightness: 0.02, BlackLevel: 0.02},
	"cool":      {Contrast: 1.05, Saturation: 0.9, Gamma: 0.98, BlackLevel: 0.03},
	"noir":      {Contrast: 1.3, Saturation: 0, Gamma: 0.95, Brightness: -0.03, BlackLevel: 0.06},
	"vivid":     {Contrast: 1.15, Saturation: 1.4, Gamma: 1, BlackLevel: 0.02},
	"cinematic": {Contrast: 1.12, Saturation: 0.85, Gamma: 0.96, Brightness: -0.02, BlackLevel: 0.04},
}

// gradeChain renders the preset plus any episode-wide vignette or grain.
func gradeChain(name string, effects []timeline.Effect) (string, error) {
	g, ok := Grades[name]
	if !ok {
		if name != "" {
			return "", invalidSettings(fmt.Sprintf("unknown colour grade %q", name))
		}
		g = Grades["neutral"]
	}
	filters := []string{fmt.Sprintf("eq=contrast=%s:saturation=%s:gamma=%s:brightness=%s",
		num(g.Contrast), num(g.Saturation), num(g.Gamma), num(g.Brightness))}
	if g.BlackLevel > 0 {
		filters = append(filters, fmt.Sprintf("colorlevels=rimin=%[1]s:gimin=%[1]s:bimin=%[1]s", num(g.BlackLevel)))
	}
	for _, e := range effects {
		strength := e.Strength
		if strength == 0 {
			strength = 0.5
		}
		switch e.Kind {
		case timeline.EffectVignette:
			filters = append(filters, fmt.Sprintf("vignette=angle=%s", num(math.Round(strength*math.Pi/3*1000)/1000)))
		case timeline.EffectGrain:
			filters = append(filters, fmt.Sprintf("noise=alls=%d:allf=t+u", int(math.Round(strength*30))))
		}
	}
	return strings.Join(filters, ","), nil
}
