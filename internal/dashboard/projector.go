package dashboard

import (
	"callhelm/internal/calls"
)

// ComputeStats builds the today rollup from scratch over a full day's rows.
// This is the batch counterpart of the Board's incremental path; the two must
// agree for the same input, which the tests pin down.
func ComputeStats(today []calls.Call) CallStats {
	var s CallStats
	ended := 0

	for _, c := range today {
		s.TotalToday++
		if c.EndedAt == nil {
			s.Active++
			continue
		}

		dur := c.DurationSeconds
		if dur == 0 {
			dur = int(c.EndedAt.Sub(c.StartedAt).Seconds())
		}
		if isFailedOutcome(c.Status) {
			s.Failed++
		} else {
			s.Completed++
		}
		s.TotalDurationSeconds += dur
		ended++
	}

	if ended > 0 {
		s.AvgDurationSeconds = float64(s.TotalDurationSeconds) / float64(ended)
	}
	if finished := s.Completed + s.Failed; finished > 0 {
		s.SuccessRate = float64(s.Completed) / float64(finished)
	}
	return s
}

// isFailedOutcome is the single outcome rule shared by the batch and
// incremental stats paths: only failed and abandoned count against the
// success rate. Every other ended call (completed, busy, no_answer) counts
// as a completed attempt.
func isFailedOutcome(s calls.CallStatus) bool {
	return s == calls.CallStatusFailed || s == calls.CallStatusAbandoned
}
