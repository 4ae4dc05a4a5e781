// Package timeline is the declarative description of an assembled episode:
// ordered video clips with transitions and effects, gain-adjusted audio clips,
// and an episode-wide colour grade.
//
// A Timeline is a value. The composition engine reads it but never reorders
// clips within a track.
package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"reelsmith/internal/services"
)

// TransitionKind names how a clip enters from its predecessor.
type TransitionKind string

const (
	TransitionCut       TransitionKind = "cut"
	TransitionCrossfade TransitionKind = "crossfade"
	TransitionWipe      TransitionKind = "wipe"
	TransitionDip       TransitionKind = "dip"
)

// Valid reports whether k is a known transition.
func (k TransitionKind) Valid() bool {
	switch k {
	case TransitionCut, TransitionCrossfade, TransitionWipe, TransitionDip:
		return true
	}
	return false
}

// Transition describes the junction between two clips.
type Transition struct {
	Kind            TransitionKind `json:"kind"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	// Direction applies to wipes: left, right, up, or down.
	Direction string `json:"direction,omitempty"`
}

// Cut is the zero-length transition.
func Cut() Transition { return Transition{Kind: TransitionCut} }

// Overlaps reports whether the transition blends two clips.
func (t Transition) Overlaps() bool {
	return t.Kind != "" && t.Kind != TransitionCut && t.DurationSeconds > 0
}

// Easing shapes how a Ken Burns move progresses over the clip.
type Easing string

const (
	EaseLinear    Easing = "linear"
	EaseIn        Easing = "ease_in"
	EaseOut       Easing = "ease_out"
	EaseInOut     Easing = "ease_in_out"
	defaultEasing        = EaseInOut
)

// Rect is a crop window in normalized coordinates (0..1 of the frame).
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Full is the whole frame.
func Full() Rect { return Rect{W: 1, H: 1} }

func (r Rect) valid() bool {
	return r.W > 0 && r.H > 0 && r.X >= 0 && r.Y >= 0 && r.X+r.W <= 1.0001 && r.Y+r.H <= 1.0001
}

// KenBurns pans and zooms from Start to End.
type KenBurns struct {
	Start  Rect   `json:"start"`
	End    Rect   `json:"end"`
	Easing Easing `json:"easing,omitempty"`
}

// EffectKind names a per-clip or episode-wide effect.
type EffectKind string

const (
	EffectKenBurns EffectKind = "kenburns"
	EffectVignette EffectKind = "vignette"
	EffectGrain    EffectKind = "grain"
)

// Effect is one filter applied to a clip or to the whole episode.
type Effect struct {
	Kind     EffectKind `json:"kind"`
	KenBurns *KenBurns  `json:"kenburns,omitempty"`
	// Strength scales vignette and grain, 0..1.
	Strength float64 `json:"strength,omitempty"`
}

// Clip is one video segment on a track.
type Clip struct {
	ShotID          string     `json:"shot_id,omitempty"`
	SourceAssetURL  string     `json:"source_asset_url"`
	StartOffset     float64    `json:"start_offset"`
	DurationSeconds float64    `json:"duration_seconds"`
	TransitionIn    Transition `json:"transition_in"`
	TransitionOut   Transition `json:"transition_out"`
	Effects         []Effect   `json:"effects,omitempty"`
}

// End is the offset at which the clip stops.
func (c Clip) End() float64 { return c.StartOffset + c.DurationSeconds }

// KenBurns returns the clip's pan/zoom effect, if any.
func (c Clip) KenBurns() (KenBurns, bool) {
	for _, e := range c.Effects {
		if e.Kind == EffectKenBurns && e.KenBurns != nil {
			kb := *e.KenBurns
			if kb.Easing == "" {
				kb.Easing = defaultEasing
			}
			return kb, true
		}
	}
	return KenBurns{}, false
}

// VideoTrack is an ordered, non-overlapping sequence of clips.
type VideoTrack struct {
	Clips []Clip `json:"clips"`
}

// Append places clip at the end of the track.
func (t *VideoTrack) Append(clip Clip) {
	clip.StartOffset = t.Duration()
	t.Clips = append(t.Clips, clip)
}

// Duration is the maximum clip end on the track.
func (t VideoTrack) Duration() float64 {
	var end float64
	for _, c := range t.Clips {
		end = math.Max(end, c.End())
	}
	return end
}

// AudioClip is a gain-adjusted audio segment.
type AudioClip struct {
	SourceAssetURL  string  `json:"source_asset_url"`
	StartOffset     float64 `json:"start_offset"`
	DurationSeconds float64 `json:"duration_seconds"`
	GainDB          float64 `json:"gain_db"`
}

// End is the offset at which the clip stops.
func (c AudioClip) End() float64 { return c.StartOffset + c.DurationSeconds }

// AudioTrack is one named lane of audio, such as dialogue or score.
type AudioTrack struct {
	Name  string      `json:"name"`
	Clips []AudioClip `json:"clips"`
}

// Duration is the maximum clip end on the track.
func (t AudioTrack) Duration() float64 {
	var end float64
	for _, c := range t.Clips {
		end = math.Max(end, c.End())
	}
	return end
}

// Timeline is the whole episode.
type Timeline struct {
	VideoTracks []VideoTrack `json:"video_tracks"`
	AudioTracks []AudioTrack `json:"audio_tracks,omitempty"`
	ColorGrade  string       `json:"color_grade,omitempty"`
	Effects     []Effect     `json:"effects,omitempty"`
}

// LeadIn is the empty time before clip i: its start offset for the first
// clip, otherwise the gap after its predecessor ends. Rendering fills it with
// black.
func (t VideoTrack) LeadIn(i int) float64 {
	if i < 0 || i >= len(t.Clips) {
		return 0
	}
	gap := t.Clips[i].StartOffset
	if i > 0 {
		gap -= t.Clips[i-1].End()
	}
	if gap < epsilon {
		return 0
	}
	return gap
}

// Primary returns the first video track; composition renders only this one.
func (tl Timeline) Primary() VideoTrack {
	if len(tl.VideoTracks) == 0 {
		return VideoTrack{}
	}
	return tl.VideoTracks[0]
}

// Overlap is the blended time at the junction into clip from prev.
func Overlap(prev, clip Clip) float64 {
	if !clip.TransitionIn.Overlaps() {
		return 0
	}
	return math.Min(clip.TransitionIn.DurationSeconds, math.Min(prev.DurationSeconds, clip.DurationSeconds))
}

// TotalDurationSeconds is the rendered length: the primary track's span
// minus the overlap consumed by blending transitions.
func (tl Timeline) TotalDurationSeconds() float64 {
	track := tl.Primary()
	total := track.Duration()
	for i := 1; i < len(track.Clips); i++ {
		total -= Overlap(track.Clips[i-1], track.Clips[i])
	}
	return math.Max(total, 0)
}

// PlayheadStarts returns where each primary clip begins in the rendered
// output: gaps keep their length, blending transitions pull later clips
// earlier. Audio offsets are expressed on this playhead.
func (tl Timeline) PlayheadStarts() []float64 {
	track := tl.Primary()
	starts := make([]float64, len(track.Clips))
	var length float64
	for i, c := range track.Clips {
		starts[i] = length + track.LeadIn(i)
		if i > 0 {
			starts[i] -= Overlap(track.Clips[i-1], c)
		}
		length = starts[i] + c.DurationSeconds
	}
	return starts
}

// Validate checks structural invariants: positive durations, known kinds,
// sane Ken Burns rectangles, video clips listed in start order, no
// overlapping clips within a track, and no blending transition across a gap.
func (tl Timeline) Validate() error {
	if len(tl.VideoTracks) == 0 || len(tl.Primary().Clips) == 0 {
		return invalid("timeline has no video clips")
	}
	for ti, track := range tl.VideoTracks {
		for ci, c := range track.Clips {
			where := fmt.Sprintf("video track %d clip %d", ti, ci)
			if c.SourceAssetURL == "" {
				return invalid(where + ": source_asset_url is required")
			}
			if c.DurationSeconds <= 0 || c.StartOffset < 0 {
				return invalid(where + ": duration must be positive and start_offset non-negative")
			}
			for _, tr := range []Transition{c.TransitionIn, c.TransitionOut} {
				if tr.Kind != "" && !tr.Kind.Valid() {
					return invalid(fmt.Sprintf("%s: unknown transition %q", where, tr.Kind))
				}
				if tr.DurationSeconds < 0 {
					return invalid(where + ": transition duration must be >= 0")
				}
			}
			if err := validateEffects(where, c.Effects); err != nil {
				return err
			}
			if ci == 0 {
				continue
			}
			if c.StartOffset < track.Clips[ci-1].StartOffset {
				return invalid(where + ": clips must be listed in start_offset order")
			}
			if c.TransitionIn.Overlaps() && track.LeadIn(ci) > 0 {
				return invalid(fmt.Sprintf("%s: %s transition cannot span a %.3fs gap", where, c.TransitionIn.Kind, track.LeadIn(ci)))
			}
		}
		if err := checkOverlap(fmt.Sprintf("video track %d", ti), clipSpans(track.Clips)); err != nil {
			return err
		}
	}
	for ti, track := range tl.AudioTracks {
		for ci, c := range track.Clips {
			if c.SourceAssetURL == "" || c.DurationSeconds <= 0 || c.StartOffset < 0 {
				return invalid(fmt.Sprintf("audio track %q clip %d: needs a source, positive duration and non-negative offset", track.Name, ci))
			}
		}
		if err := checkOverlap(fmt.Sprintf("audio track %d", ti), audioSpans(track.Clips)); err != nil {
			return err
		}
	}
	return validateEffects("timeline", tl.Effects)
}

func validateEffects(where string, effects []Effect) error {
	for _, e := range effects {
		switch e.Kind {
		case EffectKenBurns:
			if e.KenBurns == nil || !e.KenBurns.Start.valid() || !e.KenBurns.End.valid() {
				return invalid(where + ": kenburns needs start and end rectangles inside the frame")
			}
			switch e.KenBurns.Easing {
			case "", EaseLinear, EaseIn, EaseOut, EaseInOut:
			default:
				return invalid(fmt.Sprintf("%s: unknown easing %q", where, e.KenBurns.Easing))
			}
		case EffectVignette, EffectGrain:
			if e.Strength < 0 || e.Strength > 1 {
				return invalid(fmt.Sprintf("%s: %s strength must be within 0..1", where, e.Kind))
			}
		default:
			return invalid(fmt.Sprintf("%s: unknown effect %q", where, e.Kind))
		}
	}
	return nil
}

type span struct{ start, end float64 }

func clipSpans(clips []Clip) []span {
	out := make([]span, len(clips))
	for i, c := range clips {
		out[i] = span{c.StartOffset, c.End()}
	}
	return out
}

func audioSpans(clips []AudioClip) []span {
	out := make([]span, len(clips))
	for i, c := range clips {
		out[i] = span{c.StartOffset, c.End()}
	}
	return out
}

// epsilon absorbs float noise from summed durations.
const epsilon = 1e-6

func checkOverlap(where string, spans []span) error {
	sorted := append([]span(nil), spans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].end > sorted[i].start+epsilon {
			return invalid(fmt.Sprintf("%s: clips overlap at %.3fs", where, sorted[i].start))
		}
	}
	return nil
}

func invalid(msg string) error {
	return services.Wrap(services.ErrValidation, "timeline", "validate", msg, nil)
}

// Load reads a timeline JSON document.
func Load(path string) (Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Timeline{}, services.Wrap(services.ErrValidation, "timeline", "load", path, err)
	}
	var tl Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return Timeline{}, services.Wrap(services.ErrValidation, "timeline", "decode", path, err)
	}
	return tl, tl.Validate()
}
