package negotiation

import "time"

// threadResolution is the finest step both Postgres and sqlite store exactly.
const threadResolution = time.Microsecond

// nextCreatedAt returns the timestamp for a new message: the wall clock,
// unless that would not sort strictly after the thread's latest message.
func nextCreatedAt(now time.Time, latest *time.Time) time.Time {
	at := now.UTC().Truncate(threadResolution)
	if latest != nil && !at.After(*latest) {
		at = latest.UTC().Truncate(threadResolution).Add(threadResolution)
	}
	return at
}
