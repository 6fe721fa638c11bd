package result

import "time"

// RunResult is the ordered collection of Results for one run plus run-level
// metadata. The engine owns it while executing and hands it to reporting
// read-only afterwards.
type RunResult struct {
	SuiteName    string    `json:"suite_name"`
	RunStartedAt time.Time `json:"run_started_at"`
	RunEndedAt   time.Time `json:"run_ended_at"`
	Aborted      bool      `json:"aborted"`
	ArtifactsDir string    `json:"artifacts_dir"`
	Results      []*Result `json:"results"`
}

// Summary aggregates a RunResult for reporting and exit-code decisions.
type Summary struct {
	Total           int     `json:"total"`
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	Errors          int     `json:"errors"`
	TimedOut        int     `json:"timed_out"`
	Skipped         int     `json:"skipped"`
	PassRate        float64 `json:"pass_rate"`
	DurationSeconds float64 `json:"duration_seconds"`
	Aborted         bool    `json:"aborted"`
}

// Summary computes aggregate counts and the overall pass rate in percent.
func (rr *RunResult) Summary() Summary {
	s := Summary{
		Total:   len(rr.Results),
		Aborted: rr.Aborted,
	}
	for _, res := range rr.Results {
		switch res.State {
		case StatePassed:
			s.Passed++
		case StateFailed:
			s.Failed++
		case StateError:
			s.Errors++
		case StateTimedOut:
			s.TimedOut++
		case StateSkipped:
			s.Skipped++
		}
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total) * 100
	}
	if !rr.RunEndedAt.IsZero() {
		s.DurationSeconds = rr.RunEndedAt.Sub(rr.RunStartedAt).Seconds()
	}
	return s
}

// Clean reports whether the run finished with every attempted test passing
// and without an abort. An aborted run is never clean, even when everything
// attempted so far passed: an unattended pipeline must notice a truncated
// run.
func (s Summary) Clean() bool {
	return !s.Aborted && s.Failed == 0 && s.Errors == 0 && s.TimedOut == 0 && s.Skipped == 0
}
