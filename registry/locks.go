package registry

import (
	"sync"
	"time"

	"github.com/entityflow/entityflow/entity"
	"github.com/entityflow/entityflow/logger"
)

// tracedRWMutex wraps sync.RWMutex with lock-operation tracing, in the style
// of the teacher's storage/binary TracedRWMutex: every acquire/release calls
// logger.LogLockOperation (a no-op unless logger.EnableTracing(true) has
// been set), named so the resulting trace log can tell structural and
// per-lineage locks apart.
type tracedRWMutex struct {
	mu   sync.RWMutex
	name string
}

func (t *tracedRWMutex) Lock(traceID string) {
	logger.LogLockOperation(traceID, "RWMutex", t.name, "lock_acquire")
	t.mu.Lock()
	logger.LogLockOperation(traceID, "RWMutex", t.name, "lock_acquired")
}

func (t *tracedRWMutex) Unlock(traceID string) {
	logger.LogLockOperation(traceID, "RWMutex", t.name, "unlock")
	t.mu.Unlock()
}

func (t *tracedRWMutex) RLock(traceID string) {
	logger.LogLockOperation(traceID, "RWMutex", t.name, "rlock_acquire")
	t.mu.RLock()
	logger.LogLockOperation(traceID, "RWMutex", t.name, "rlock_acquired")
}

func (t *tracedRWMutex) RUnlock(traceID string) {
	logger.LogLockOperation(traceID, "RWMutex", t.name, "runlock")
	t.mu.RUnlock()
}

// LockKind distinguishes a shared read from an exclusive write acquisition.
type LockKind int

const (
	ReadLock LockKind = iota
	WriteLock
)

// LockStats is a point-in-time snapshot of the registry's lock manager
// counters: acquisitions by kind and total time spent waiting to acquire.
// Contentions stays zero, since no acquisition is recorded as contended. It
// carries no mutex, so it is safe to copy and return by value.
type LockStats struct {
	ReadLocks   int64
	WriteLocks  int64
	WaitTime    time.Duration
	Contentions int64
}

// lockCounters is the mutable, mutex-guarded counter set LockStats is
// snapshotted from.
type lockCounters struct {
	mu sync.Mutex
	LockStats
}

func (s *lockCounters) record(kind LockKind, waited time.Duration, contended bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == ReadLock {
		s.ReadLocks++
	} else {
		s.WriteLocks++
	}
	s.WaitTime += waited
	if contended {
		s.Contentions++
	}
}

func (s *lockCounters) snapshot() LockStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LockStats
}

// lockManager serializes writes to the registry's structural indexes with a
// single whole-registry lock, and serializes version_if_diverged calls on
// one lineage through a per-lineage lock. VersionIfDiverged does not take
// the structural lock, but it holds the registry's own mutex for the whole
// rebuild, so calls on unrelated lineages still run one at a time.
//
// This is the registry's single-writer/concurrent-reader contract (spec.md
// §4.B, §5), adapted from the teacher's file-level + per-entity granular
// locking shape onto registry-structural + per-lineage granularity.
type lockManager struct {
	structural tracedRWMutex

	lineageMu    sync.Mutex // protects lineageLocks
	lineageLocks map[entity.ID]*tracedRWMutex

	stats lockCounters
}

func newLockManager() *lockManager {
	return &lockManager{
		structural:   tracedRWMutex{name: "registry.structural"},
		lineageLocks: make(map[entity.ID]*tracedRWMutex),
	}
}

// AcquireStructural takes the whole-registry lock, used for root
// registration, detach, and attach, which mutate more than one index at
// once. traceID identifies the executor trace span the acquisition happens
// under, if any; an empty string is fine — logger.LogLockOperation only
// produces output when tracing is enabled in the first place.
func (lm *lockManager) AcquireStructural(traceID string, kind LockKind) {
	start := time.Now()
	switch kind {
	case ReadLock:
		lm.structural.RLock(traceID)
	case WriteLock:
		lm.structural.Lock(traceID)
	}
	lm.stats.record(kind, time.Since(start), false)
}

func (lm *lockManager) ReleaseStructural(traceID string, kind LockKind) {
	switch kind {
	case ReadLock:
		lm.structural.RUnlock(traceID)
	case WriteLock:
		lm.structural.Unlock(traceID)
	}
}

// lineageLock returns (creating if necessary) the per-lineage lock guarding
// version_if_diverged for one lineage_id.
func (lm *lockManager) lineageLock(lineageID entity.ID) *tracedRWMutex {
	lm.lineageMu.Lock()
	defer lm.lineageMu.Unlock()
	l, ok := lm.lineageLocks[lineageID]
	if !ok {
		l = &tracedRWMutex{name: "registry.lineage." + lineageID.String()}
		lm.lineageLocks[lineageID] = l
	}
	return l
}

func (lm *lockManager) AcquireLineage(traceID string, lineageID entity.ID, kind LockKind) {
	l := lm.lineageLock(lineageID)
	start := time.Now()
	switch kind {
	case ReadLock:
		l.RLock(traceID)
	case WriteLock:
		l.Lock(traceID)
	}
	lm.stats.record(kind, time.Since(start), false)
}

func (lm *lockManager) ReleaseLineage(traceID string, lineageID entity.ID, kind LockKind) {
	l := lm.lineageLock(lineageID)
	switch kind {
	case ReadLock:
		l.RUnlock(traceID)
	case WriteLock:
		l.Unlock(traceID)
	}
}

// Stats returns a point-in-time copy of the lock manager's counters.
func (lm *lockManager) Stats() LockStats {
	return lm.stats.snapshot()
}
