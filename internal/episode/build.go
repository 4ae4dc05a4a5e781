package episode

import (
	"fmt"
	"math"
	"sort"

	"reelsmith/internal/audio"
	"reelsmith/internal/timeline"
)

// dialogueTail keeps a beat of picture after the last spoken word.
const dialogueTail = 0.25

// TimelineOptions controls how shots become clips.
type TimelineOptions struct {
	DefaultTransition timeline.Transition
	ColorGrade        string
	DialogueGainDB    float64
	ScoreGainDB       float64
}

// BuildTimeline orders clips by narrative order, skips shots without video,
// stretches clips to cover their dialogue, and lays dialogue and score onto
// their own audio tracks.
func BuildTimeline(ep *Episode, clips map[string]ClipResult, dialogue, scores map[string]audio.Track, opts TimelineOptions) (timeline.Timeline, error) {
	var placed []Shot
	var raw []timeline.Clip
	for _, shot := range ep.Ordered() {
		result, ok := clips[shot.ID]
		if !ok || result.VideoURL == "" {
			continue
		}
		in := opts.DefaultTransition
		if shot.TransitionIn != nil {
			in = *shot.TransitionIn
		}
		if len(raw) == 0 {
			in = timeline.Cut()
		}
		raw = append(raw, timeline.Clip{
			ShotID:          shot.ID,
			SourceAssetURL:  result.VideoURL,
			DurationSeconds: shot.DurationSeconds,
			TransitionIn:    in,
			Effects:         shot.Effects,
		})
		placed = append(placed, shot)
	}
	if len(raw) == 0 {
		return timeline.Timeline{}, invalid(fmt.Sprintf("episode %s has no shots with video", ep.ID))
	}

	for i := range raw {
		track, ok := dialogue[raw[i].ShotID]
		if !ok {
			continue
		}
		need := track.SpeechEnd() + dialogueTail
		if i+1 < len(raw) && raw[i+1].TransitionIn.Overlaps() {
			need += raw[i+1].TransitionIn.DurationSeconds
		}
		raw[i].DurationSeconds = math.Max(raw[i].DurationSeconds, need)
	}

	var video timeline.VideoTrack
	for _, c := range raw {
		video.Append(c)
	}
	grade := ep.ColorGrade
	if grade == "" {
		grade = opts.ColorGrade
	}
	tl := timeline.Timeline{
		VideoTracks: []timeline.VideoTrack{video},
		ColorGrade:  grade,
		Effects:     ep.Effects,
	}
	starts := tl.PlayheadStarts()
	ends := make([]float64, len(raw))
	for i := range raw {
		ends[i] = starts[i] + video.Clips[i].DurationSeconds
	}

	if lane := dialogueLane(video, starts, ends, dialogue, opts.DialogueGainDB); len(lane.Clips) > 0 {
		tl.AudioTracks = append(tl.AudioTracks, lane)
	}
	if lane := scoreLane(placed, starts, ends, scores, opts.ScoreGainDB); len(lane.Clips) > 0 {
		tl.AudioTracks = append(tl.AudioTracks, lane)
	}
	if err := tl.Validate(); err != nil {
		return timeline.Timeline{}, err
	}
	return tl, nil
}

// dialogueLane starts each line with its shot and cuts it off where the next
// shot begins.
func dialogueLane(video timeline.VideoTrack, starts, ends []float64, lines map[string]audio.Track, gain float64) timeline.AudioTrack {
	lane := timeline.AudioTrack{Name: "dialogue"}
	for i, clip := range video.Clips {
		track, ok := lines[clip.ShotID]
		if !ok || track.URL == "" {
			continue
		}
		room := ends[i] - starts[i]
		if i+1 < len(starts) {
			room = starts[i+1] - starts[i]
		}
		length := track.DurationSeconds
		if length <= 0 {
			length = track.SpeechEnd()
		}
		length = math.Min(length, room)
		if length <= 0 {
			continue
		}
		lane.Clips = append(lane.Clips, timeline.AudioClip{
			SourceAssetURL:  track.URL,
			StartOffset:     starts[i],
			DurationSeconds: length,
			GainDB:          gain,
		})
	}
	return lane
}

// scoreLane spans each scored scene from its first to its last placed shot,
// clipped so consecutive scenes never overlap.
func scoreLane(placed []Shot, starts, ends []float64, scores map[string]audio.Track, gain float64) timeline.AudioTrack {
	type span struct {
		start, end float64
		track      audio.Track
	}
	spans := make(map[string]*span)
	for i, shot := range placed {
		track, ok := scores[shot.SceneID]
		if !ok || shot.SceneID == "" || track.URL == "" {
			continue
		}
		if s, ok := spans[shot.SceneID]; ok {
			s.start = math.Min(s.start, starts[i])
			s.end = math.Max(s.end, ends[i])
			continue
		}
		spans[shot.SceneID] = &span{start: starts[i], end: ends[i], track: track}
	}
	ordered := make([]*span, 0, len(spans))
	for _, s := range spans {
		ordered = append(ordered, s)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].start < ordered[j].start })

	lane := timeline.AudioTrack{Name: "score"}
	for i, s := range ordered {
		end := s.end
		if i+1 < len(ordered) {
			end = math.Min(end, ordered[i+1].start)
		}
		if s.track.DurationSeconds > 0 {
			end = math.Min(end, s.start+s.track.DurationSeconds)
		}
		if end <= s.start {
			continue
		}
		lane.Clips = append(lane.Clips, timeline.AudioClip{
			SourceAssetURL:  s.track.URL,
			StartOffset:     s.start,
			DurationSeconds: end - s.start,
			GainDB:          gain,
		})
	}
	return lane
}

// sceneDurations estimates how long each scene plays, for score requests.
func sceneDurations(ep *Episode, clips map[string]ClipResult) map[string]float64 {
	out := make(map[string]float64)
	for _, shot := range ep.Shots {
		if shot.SceneID == "" {
			continue
		}
		if _, ok := clips[shot.ID]; !ok {
			continue
		}
		out[shot.SceneID] += shot.DurationSeconds
	}
	return out
}
