// Package lock provides per-key mutual exclusion for index writers.
//
// At most one commit per signal type may be in flight. Inside one process
// a KeyedMutex is enough; FileLocker extends the guarantee to processes on
// the same host and postgres.AdvisoryLocker to every process sharing a
// database. The conditional swap in each checkpoint repository remains the
// final arbiter, so a lock only avoids wasted uploads.
package lock
