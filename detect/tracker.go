package detect

import "time"

// StageEvent records one transition into an error stage.
type StageEvent struct {
	Stage       string    `json:"stage"`
	Timestamp   time.Time `json:"timestamp"`
	Probability float64   `json:"probability"`
}

// StageTracker debounces stage changes for one detector instance.
// An event fires only on the transition into an error stage, so a
// held bad posture produces one event instead of one per frame. The
// error flag is level-readable: true exactly while the current stage
// is an error stage.
//
// The tracker is not safe for concurrent use; the pipeline serializes
// frames per session.
type StageTracker struct {
	prev     string
	events   []StageEvent
	hasError bool
}

func NewStageTracker() *StageTracker {
	return &StageTracker{prev: StageUnknown}
}

// Observe feeds one classified, post-threshold stage into the
// tracker. State changes only after the full decision is computed, so
// a failed frame upstream never leaves the tracker half-updated.
func (t *StageTracker) Observe(stage string, probability float64, at time.Time) {
	if IsErrorStage(stage) {
		if stage != t.prev {
			t.events = append(t.events, StageEvent{
				Stage:       stage,
				Timestamp:   at,
				Probability: probability,
			})
		}
		t.hasError = true
	} else {
		t.hasError = false
	}
	t.prev = stage
}

func (t *StageTracker) HasError() bool { return t.hasError }

func (t *StageTracker) Previous() string { return t.prev }

// Events returns a copy of the accumulated transition events.
func (t *StageTracker) Events() []StageEvent {
	out := make([]StageEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Reset returns the tracker to its initial state: previous stage
// "unknown", no events, no error flag. Called when a session ends or
// the target pose changes.
func (t *StageTracker) Reset() {
	t.prev = StageUnknown
	t.events = nil
	t.hasError = false
}
