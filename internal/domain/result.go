package domain

import "time"

// StreamResult holds the accepted defects of one stream.
type StreamResult struct {
	Stream  Stream
	Defects []DefectSummary
}

// BuildAction is the record attached to a build once all streams are processed.
type BuildAction struct {
	BuildID    string
	Streams    []StreamResult
	AttachedAt time.Time
}

// Total sums accepted defects across streams.
func (a BuildAction) Total() int {
	total := 0
	for _, s := range a.Streams {
		total += len(s.Defects)
	}
	return total
}

// Defects flattens the per-stream results in stream order.
func (a BuildAction) Defects() []DefectSummary {
	all := make([]DefectSummary, 0, a.Total())
	for _, s := range a.Streams {
		all = append(all, s.Defects...)
	}
	return all
}

// StreamState is the terminal state reached by one stream in a run.
type StreamState string

const (
	StreamPending StreamState = "pending"
	StreamFetched StreamState = "fetched"
	StreamFailed  StreamState = "failed"
	StreamInvalid StreamState = "invalid"
	StreamSkipped StreamState = "skipped"
)

// StreamOutcome tells the caller what happened to a stream.
type StreamOutcome struct {
	Stream   Stream
	State    StreamState
	Fetched  int
	Accepted int
	Err      error
}

// Phase enumerates the states of one build's defect read.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseFetching    Phase = "fetching"
	PhaseFiltering   Phase = "filtering"
	PhaseReconciling Phase = "reconciling"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// Report summarizes a run for the publisher.
type Report struct {
	BuildID   string
	Outcomes  []StreamOutcome
	Action    BuildAction
	Total     int
	Attached  bool
	Cancelled bool
}

// Success is true when the record was attached and, if any stream was
// fetched, at least one defect was accepted. A false value with no failed
// outcomes means there is nothing to report.
func (r Report) Success() bool {
	if !r.Attached {
		return false
	}
	fetched := 0
	for _, o := range r.Outcomes {
		if o.State == StreamFetched {
			fetched++
		}
	}
	return fetched == 0 || r.Total > 0
}

// Failed lists outcomes that ended in a fault.
func (r Report) Failed() []StreamOutcome {
	var failed []StreamOutcome
	for _, o := range r.Outcomes {
		if o.State == StreamFailed || o.State == StreamInvalid {
			failed = append(failed, o)
		}
	}
	return failed
}
