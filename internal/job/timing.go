package job

import "time"

// Duration returns how long the job has been alive, from creation to its
// last change. Dropped from spec.md's Job field list but present in the
// original (jobtiming.rs). Diagnostics job summaries do not use it; they
// report Age, measured from CreatedAt to the time of the report.
func (j Job) Duration() time.Duration {
	return j.ChangedAt.Sub(j.CreatedAt)
}

// TimeToExpiry returns how long remains before the job's TTL, or a negative
// duration if it has already expired.
func (j Job) TimeToExpiry(now time.Time) time.Duration {
	if j.ExpiresAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return j.ExpiresAt.Sub(now)
}
