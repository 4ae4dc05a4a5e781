package composition

import "testing"

func TestProgressParser(t *testing.T) {
	p := &progressParser{expected: 10}
	cases := []struct {
		line string
		want float64
		ok   bool
	}{
		{"frame=12", 0, false},
		{"out_time_us=2500000", 25, true},
		{"out_time_ms=5000000", 50, true},
		{"out_time=00:00:07.500000", 75, true},
		{"out_time=N/A", 0, false},
		{"out_time_us=99000000", 100, true},
		{"progress=continue", 0, false},
		{"progress=end", 100, true},
	}
	for _, tc := range cases {
		got, ok := p.parse(tc.line)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Errorf("%q: got %v,%v want %v,%v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
	if !p.done {
		t.Fatal("expected parser to record end")
	}
}

func TestOverallPercentWeights(t *testing.T) {
	cases := []struct {
		stage Stage
		pct   float64
		want  float64
	}{
		{StageConcat, 0, 0},
		{StageConcat, 50, 20},
		{StageAudioMix, 100, 50},
		{StageColorGrade, 50, 60},
		{StageEncode, 100, 100},
	}
	for _, tc := range cases {
		if got := overallPercent(tc.stage, tc.pct); got != tc.want {
			t.Errorf("%s@%v: got %v want %v", tc.stage, tc.pct, got, tc.want)
		}
	}
}
