package episode

// Phase is one step of assembly. Phases run strictly in the order of Phases.
type Phase string

const (
	PhaseFetchShots      Phase = "fetch_shots"
	PhaseGenerateVideo   Phase = "generate_video"
	PhaseSynthesizeAudio Phase = "synthesize_audio"
	PhaseBuildTimeline   Phase = "build_timeline"
	PhaseRender          Phase = "render"
	PhasePersist         Phase = "persist"
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	PhaseFetchShots,
	PhaseGenerateVideo,
	PhaseSynthesizeAudio,
	PhaseBuildTimeline,
	PhaseRender,
	PhasePersist,
}

func (p Phase) index() int {
	for i, candidate := range Phases {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool { return p.index() >= 0 }
