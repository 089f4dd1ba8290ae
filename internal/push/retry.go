package push

import "time"

var DefaultRetrySchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
}

// NextRetryTime returns when the next attempt is due after attemptCount
// attempts, or nil when the schedule is exhausted.
func NextRetryTime(attemptCount int, schedule []time.Duration, now time.Time) *time.Time {
	// attempt 1 just happened, so index 0 is the delay before attempt 2
	idx := attemptCount - 1
	if idx < 0 || idx >= len(schedule) {
		return nil
	}
	t := now.UTC().Add(schedule[idx])
	return &t
}

func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
