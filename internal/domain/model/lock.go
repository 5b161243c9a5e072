package model

import "time"

// ExecutionLock is an ephemeral, expiring claim on a job id. A lock whose
// ExpiresAt has passed is treated as absent and may be reclaimed even if it
// was never explicitly released; that is the crash-recovery path when a
// runner process dies mid-execution.
type ExecutionLock struct {
	JobID      string    `json:"job_id"      db:"job_id"`
	Holder     string    `json:"holder"      db:"holder"`
	AcquiredAt time.Time `json:"acquired_at" db:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"  db:"expires_at"`
}

// Expired reports whether the lock is reclaimable at the given instant.
func (l ExecutionLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Lease is the caller-side view of a successfully acquired lock. The holder
// token must be presented on release so a finished execution cannot clobber
// a fresh lock acquired by someone else after expiry reclaim.
type Lease struct {
	JobID     string
	Holder    string
	ExpiresAt time.Time
}
