// Package board implements the per-peer authoritative job store described
// in spec.md §4.3, grounded on the original's board.rs: version/merge-
// forward resolution, duplicate collapse, one-shot waiters, and the
// queued-command replay used across reconnects.
package board

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/job"
)

// Board is the authoritative per-peer store of jobs, waiters, duplicates,
// and queued commands. Ownership: the board exclusively owns its jobs;
// waiters hold only a one-shot sender and never keep a job alive;
// duplicates are an index, never an owner.
type Board struct {
	peer string

	mu         sync.RWMutex
	jobs       map[uuid.UUID]job.Job
	waiters    map[uuid.UUID][]chan job.Job
	duplicates map[uuid.UUID][]uuid.UUID
	queued     []command.Command
}

// New creates an empty board for the given peer name.
func New(peer string) *Board {
	return &Board{
		peer:       peer,
		jobs:       make(map[uuid.UUID]job.Job),
		waiters:    make(map[uuid.UUID][]chan job.Job),
		duplicates: make(map[uuid.UUID][]uuid.UUID),
	}
}

// Peer returns the name this board is authoritative for.
func (b *Board) Peer() string { return b.peer }

// fireWaiters sends j to every registered one-shot listener for j.ID and
// clears the registration. Must be called under the write lock. Sends are
// non-blocking: waiters are buffered, and a dropped receiver (soft-restart
// cancellation elsewhere) must not stall the board.
func (b *Board) fireWaiters(j job.Job) {
	for _, ch := range b.waiters[j.ID] {
		select {
		case ch <- j:
		default:
		}
		close(ch)
	}
	delete(b.waiters, j.ID)
}

// resolveDuplicates finishes every duplicates[leader.ID] follower by
// copying the leader's result, firing each follower's waiters in turn.
// Must be called under the write lock, only once leader has reached a
// finished state.
func (b *Board) resolveDuplicates(leader job.Job) {
	followers := b.duplicates[leader.ID]
	if len(followers) == 0 {
		return
	}
	delete(b.duplicates, leader.ID)
	for _, fid := range followers {
		f, ok := b.jobs[fid]
		if !ok {
			continue
		}
		f = f.CopyResultFrom(leader)
		b.jobs[fid] = f
		b.fireWaiters(f)
	}
}

// Add inserts or merges a job per spec.md §4.3's Add rules. The job's
// declared board must equal this board's peer or the call fails.
func (b *Board) Add(j job.Job) (job.Job, job.AddState, error) {
	if err := j.AssertIsForBoard(b.peer); err != nil {
		return job.Job{}, "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	local, exists := b.jobs[j.ID]

	if !exists && j.IsPending() {
		// Duplicate collapse: same (destination, instruction) as an
		// existing pending job collapses the new arrival onto it.
		for _, other := range b.jobs {
			if j.IsDuplicateOf(other) {
				dup := j.Duplicate(other)
				b.jobs[dup.ID] = dup
				b.duplicates[other.ID] = append(b.duplicates[other.ID], dup.ID)
				return dup, job.AddStateDuplicated, nil
			}
		}
	}

	if !exists {
		b.jobs[j.ID] = j
		if j.IsFinished() {
			b.fireWaiters(j)
			b.resolveDuplicates(j)
		}
		return j, job.AddStateAdded, nil
	}

	switch {
	case j.Version > local.Version:
		b.jobs[j.ID] = j
		if j.IsFinished() {
			b.fireWaiters(j)
			b.resolveDuplicates(j)
		}
		return j, job.AddStateUpdated, nil

	case j.ChangedAt.After(local.ChangedAt):
		// Merge-forward: the incoming write is causally later but its
		// version lags (e.g. it raced a local bump); push it strictly
		// ahead of the local version rather than rejecting it.
		merged := j
		for merged.Version <= local.Version {
			merged = merged.IncrementVersion()
		}
		b.jobs[merged.ID] = merged
		if merged.IsFinished() {
			b.fireWaiters(merged)
			b.resolveDuplicates(merged)
		}
		return merged, job.AddStateUpdated, nil

	default:
		return local, job.AddStateUnchanged, nil
	}
}

// GetWaiter returns a channel that receives j's resolved (Complete/Error)
// state exactly once. If the job already carries a real result the channel
// is pre-fired. A job merely tagged Duplicate does not pre-fire — its
// leader hasn't finished yet, so the waiter is registered and left for
// resolveDuplicates to fire once the leader's outcome is copied onto it
// (job.Job.IsResolved, not the broader IsFinished, is the right check
// here). If the job has not yet landed in jobs but is referenced by a
// queued command, a waiter is still registered so it fires once the
// command is eventually sent and its result lands.
func (b *Board) GetWaiter(id uuid.UUID) (<-chan job.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan job.Job, 1)

	if existing, ok := b.jobs[id]; ok {
		if existing.IsResolved() {
			ch <- existing
			close(ch)
			return ch, nil
		}
		b.waiters[id] = append(b.waiters[id], ch)
		return ch, nil
	}

	for _, cmd := range b.queued {
		if cmd.Job != nil && cmd.Job.ID == id {
			b.waiters[id] = append(b.waiters[id], ch)
			return ch, nil
		}
	}

	return nil, errNotFound(id)
}

// Remove deletes a job from the board, firing its waiters with an errored
// copy if it was not already finished, and resolving any duplicates that
// were following it the same way.
func (b *Board) Remove(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[id]
	if !ok {
		return false
	}

	if !j.IsFinished() {
		errored := j.Errored("job removed")
		b.fireWaiters(errored)
		b.resolveDuplicates(errored)
	} else {
		b.fireWaiters(j)
		b.resolveDuplicates(j)
	}

	delete(b.jobs, id)
	return true
}

// Get returns a copy of the job with the given id, searching queued
// commands if it is not yet in the jobs map.
func (b *Board) Get(id uuid.UUID) (job.Job, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if j, ok := b.jobs[id]; ok {
		return j, true
	}
	for _, cmd := range b.queued {
		if cmd.Job != nil && cmd.Job.ID == id {
			return *cmd.Job, true
		}
	}
	return job.Job{}, false
}

// Queue stashes a command that could not be sent because the link is
// down, and removes its job from jobs since it never actually made it
// onto the wire.
func (b *Board) Queue(cmd command.Command) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queued = append(b.queued, cmd)
	if cmd.Job != nil {
		delete(b.jobs, cmd.Job.ID)
	}
}

// TakeQueued drains every queued command, for replay after a reconnect.
func (b *Board) TakeQueued() []command.Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queued
	b.queued = nil
	return out
}

// WouldBeChangedBy reports whether applying j via Add would actually
// mutate this board: false if j is already expired, true if the id is
// absent or j carries a strictly newer version.
func (b *Board) WouldBeChangedBy(j job.Job, now time.Time) bool {
	if j.IsExpired(now) {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	local, ok := b.jobs[j.ID]
	return !ok || j.Version > local.Version
}

// RemoveExpiredJobs scans jobs and queued commands for anything past its
// expires_at, marks it Error("Job expired"), fires its waiters, and
// removes it. Returns the ids removed.
func (b *Board) RemoveExpiredJobs(now time.Time) []uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed []uuid.UUID
	for id, j := range b.jobs {
		if !j.IsExpired(now) {
			continue
		}
		if !j.IsFinished() {
			errored := j.Errored("Job expired")
			b.fireWaiters(errored)
			b.resolveDuplicates(errored)
		}
		removed = append(removed, id)
	}
	for _, id := range removed {
		delete(b.jobs, id)
	}

	kept := b.queued[:0]
	for _, cmd := range b.queued {
		if cmd.Job != nil && cmd.Job.IsExpired(now) {
			removed = append(removed, cmd.Job.ID)
			continue
		}
		kept = append(kept, cmd)
	}
	b.queued = kept

	return removed
}

// DrainErroring errors every non-terminal job with msg, fires all waiters
// and duplicate followers, then removes every job from the board. Used by
// a soft restart (spec.md §4.6): "drains its boards by erroring every
// non-terminal job, sends each error back to its sender, removes all
// jobs." Returns the final state of every job that was present, so the
// caller can notify each one's peer.
func (b *Board) DrainErroring(msg string) []job.Job {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]job.Job, 0, len(b.jobs))
	for id, j := range b.jobs {
		final := j
		if !j.IsFinished() {
			final = j.Errored(msg)
			b.fireWaiters(final)
			b.resolveDuplicates(final)
		}
		out = append(out, final)
		delete(b.jobs, id)
	}
	return out
}

// SyncState returns a plain list of every job on the board, for peer
// synchronisation.
func (b *Board) SyncState() command.SyncState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	jobs := make([]job.Job, 0, len(b.jobs))
	for _, j := range b.jobs {
		jobs = append(jobs, j)
	}
	return command.SyncState{Jobs: jobs}
}

// Stats aggregates job counts by state, used by the health cascade.
type Stats struct {
	Active, Pending, Running, Completed, Duplicates int
}

// Stats returns a point-in-time count of this board's jobs by state.
func (b *Board) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var s Stats
	for _, j := range b.jobs {
		if !j.IsFinished() {
			s.Active++
		}
		switch j.State {
		case job.StatePending:
			s.Pending++
		case job.StateRunning:
			s.Running++
		case job.StateComplete:
			s.Completed++
		case job.StateDuplicate:
			s.Duplicates++
		}
	}
	return s
}
