package batch

import "reelsmith/internal/generation"

// admission tracks in-flight jobs per provider and globally. It is owned by
// the scheduler goroutine and never shared.
type admission struct {
	globalMax  int
	total      int
	byProvider map[string]int
}

func newAdmission(globalMax int) *admission {
	return &admission{globalMax: globalMax, byProvider: make(map[string]int)}
}

func (a *admission) tryAcquire(profile generation.Profile) bool {
	if a.globalMax > 0 && a.total >= a.globalMax {
		return false
	}
	if a.byProvider[profile.ID] >= max(profile.MaxConcurrentJobs, 1) {
		return false
	}
	a.total++
	a.byProvider[profile.ID]++
	return true
}

func (a *admission) release(providerID string) {
	if a.byProvider[providerID] > 0 {
		a.byProvider[providerID]--
		a.total--
	}
}

func (a *admission) full() bool {
	return a.globalMax > 0 && a.total >= a.globalMax
}
