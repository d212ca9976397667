package detect

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// DefaultDemoPoses are the poses the demo fallback cycles through
// when no dedicated detector exists for the requested pose.
func DefaultDemoPoses() []string {
	return []string{"downdog", "goddess", "plank", "tree", "warrior2"}
}

// demoSource fabricates plausible verdicts for poses without a
// trained model. Verdicts are explicitly marked with the demo mode so
// callers can tell them from model-backed results.
type demoSource struct {
	mu    sync.Mutex
	poses []string
	rnd   *rand.Rand
}

func newDemoSource(poses []string, rnd *rand.Rand) *demoSource {
	if len(poses) == 0 {
		poses = DefaultDemoPoses()
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &demoSource{poses: append([]string(nil), poses...), rnd: rnd}
}

func (d *demoSource) verdict(target string) Verdict {
	d.mu.Lock()
	poseName := d.poses[d.rnd.Intn(len(d.poses))]
	confidence := 0.6 + d.rnd.Float64()*0.35
	d.mu.Unlock()

	isCorrect := confidence > 0.7
	stage := StageUnknown
	if isCorrect {
		stage = StageCorrect
	}
	v := Verdict{
		Success:    true,
		Pose:       poseName,
		Stage:      stage,
		IsCorrect:  isCorrect,
		Confidence: confidence,
		Mode:       ModeDemo,
	}
	if target != "" {
		match := isCorrect && strings.EqualFold(poseName, target)
		v.MatchesTarget = &match
	}
	return v
}
