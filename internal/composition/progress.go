package composition

import (
	"strconv"
	"strings"
)

// Stage names one ffmpeg pass.
type Stage string

const (
	StageConcat     Stage = "concat"
	StageAudioMix   Stage = "audio_mix"
	StageColorGrade Stage = "color_grade"
	StageEncode     Stage = "encode"
)

// stageWeights apportion overall progress; they sum to 100.
var stageWeights = []struct {
	stage  Stage
	weight float64
}{
	{StageConcat, 40},
	{StageAudioMix, 10},
	{StageColorGrade, 20},
	{StageEncode, 30},
}

// overallPercent folds the current stage's percent into the weighted total.
func overallPercent(current Stage, stagePercent float64) float64 {
	var total float64
	for _, sw := range stageWeights {
		if sw.stage == current {
			return total + sw.weight*clampPercent(stagePercent)/100
		}
		total += sw.weight
	}
	return total
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// progressParser consumes ffmpeg -progress key=value lines.
type progressParser struct {
	expected float64
	done     bool
}

// parse returns the stage percent when line carries a position update.
func (p *progressParser) parse(line string) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys are microseconds in current ffmpeg releases.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return p.percent(float64(us) / 1e6), true
	case "out_time":
		secs, ok := parseClock(value)
		if !ok {
			return 0, false
		}
		return p.percent(secs), true
	case "progress":
		if value == "end" {
			p.done = true
			return 100, true
		}
	}
	return 0, false
}

func (p *progressParser) percent(secs float64) float64 {
	if p.expected <= 0 {
		return 0
	}
	return clampPercent(secs / p.expected * 100)
}

// parseClock parses HH:MM:SS.micro.
func parseClock(value string) (float64, bool) {
	fields := strings.Split(value, ":")
	if len(fields) != 3 {
		return 0, false
	}
	var total float64
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}
