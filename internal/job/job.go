// Package job defines the Job type that flows through every board, command,
// and handler in the mesh: its lifecycle state machine, version/merge-forward
// rules, and the duplicate-collapse bookkeeping described in spec.md §3.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/openportal/mesh/internal/grammar"
)

// State is a job's position in its lifecycle. Complete, Error, and
// Duplicate are terminal: a job in one of these states never re-runs.
type State string

const (
	StateCreated  State = "Created"
	StatePending  State = "Pending"
	StateRunning  State = "Running"
	StateComplete State = "Complete"
	StateError    State = "Error"
	StateDuplicate State = "Duplicate"
)

// IsTerminal reports whether a job in this state will never transition again.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError || s == StateDuplicate
}

// Job is the unit of work routed across the mesh. Fields mirror spec.md
// §3's essential field list; method names mirror the call sites used by
// the original board implementation (is_finished, is_pending, is_expired,
// is_duplicate_of, duplicate, copy_result_from, errored, increment_version,
// assert_is_for_board) since the upstream job type itself was a stale stub
// by the time this was distilled.
type Job struct {
	ID          uuid.UUID            `json:"id"`
	Board       string                `json:"board"`
	Destination grammar.Destination   `json:"destination"`
	Instruction grammar.Instruction   `json:"instruction"`
	State       State                 `json:"state"`
	Version     uint64                `json:"version"`
	CreatedAt   time.Time             `json:"created_at"`
	ChangedAt   time.Time             `json:"changed_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
	Result      json.RawMessage       `json:"result,omitempty"`
	ErrorMsg    string                `json:"error,omitempty"`
	DuplicateOf *uuid.UUID            `json:"parent_duplicate_of,omitempty"`

	// SignalURL is the bridge's best-effort callback for this job. Folded
	// directly onto Job (see DESIGN.md) rather than a second board-side
	// cache keyed by job id: the board's single RWMutex already serialises
	// access to it, so a parallel cache buys no concurrency benefit.
	SignalURL string `json:"signal_url,omitempty"`
}

// New creates a job in the Created state for the given board/destination,
// with a TTL measured from now.
func New(board string, dest grammar.Destination, inst grammar.Instruction, ttl time.Duration) Job {
	now := time.Now()
	return Job{
		ID:          uuid.New(),
		Board:       board,
		Destination: dest,
		Instruction: inst,
		State:       StateCreated,
		Version:     1,
		CreatedAt:   now,
		ChangedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// AssertIsForBoard returns an error unless the job's declared board matches
// the peer name of the board it is being added to.
func (j Job) AssertIsForBoard(board string) error {
	if j.Board != board {
		return grammar.New(grammar.KindInvalidState, "job %s declares board %q, not %q", j.ID, j.Board, board)
	}
	return nil
}

func (j Job) IsFinished() bool { return j.State.IsTerminal() }
func (j Job) IsPending() bool  { return j.State == StatePending }
func (j Job) IsRunning() bool  { return j.State == StateRunning }

// IsResolved reports whether j carries a real, final outcome (Complete or
// Error). Unlike IsFinished, this excludes StateDuplicate: a duplicate
// follower is terminal in the sense that it will never itself run, but it
// has no Result/ErrorMsg of its own until its leader finishes and
// Board.resolveDuplicates copies the outcome onto it (at which point its
// State becomes Complete or Error too). Board.GetWaiter uses this instead
// of IsFinished so a caller waiting on a freshly-collapsed duplicate
// blocks for the real result rather than observing the placeholder
// Duplicate tag.
func (j Job) IsResolved() bool {
	return j.State == StateComplete || j.State == StateError
}

func (j Job) IsExpired(now time.Time) bool {
	return !j.ExpiresAt.IsZero() && now.After(j.ExpiresAt)
}

// IsDuplicateOf reports whether j and other are interchangeable pending
// work: same (destination, instruction), other not yet terminal.
func (j Job) IsDuplicateOf(other Job) bool {
	return !other.IsFinished() &&
		j.Destination.Equal(other.Destination) &&
		j.Instruction.String() == other.Instruction.String()
}

// Duplicate returns a copy of j marked Duplicate of original's id, with a
// bumped version/changed_at.
func (j Job) Duplicate(original Job) Job {
	d := j
	d.State = StateDuplicate
	id := original.ID
	d.DuplicateOf = &id
	d.ChangedAt = time.Now()
	d.Version++
	return d
}

// CopyResultFrom propagates a finished leader's outcome onto a duplicate
// follower, preserving the follower's own id/board/destination.
func (j Job) CopyResultFrom(leader Job) Job {
	f := j
	f.State = leader.State
	f.Result = leader.Result
	f.ErrorMsg = leader.ErrorMsg
	f.ChangedAt = time.Now()
	f.Version++
	return f
}

// Errored transitions j to a terminal Error state with the given message,
// the shape the handler uses when routing or a runner fails.
func (j Job) Errored(msg string) Job {
	e := j
	e.State = StateError
	e.ErrorMsg = msg
	e.ChangedAt = time.Now()
	e.Version++
	return e
}

// Completed transitions j to Complete carrying the given opaque result.
func (j Job) Completed(result json.RawMessage) Job {
	c := j
	c.State = StateComplete
	c.Result = result
	c.ErrorMsg = ""
	c.ChangedAt = time.Now()
	c.Version++
	return c
}

// IncrementVersion bumps the version by one, used by the board's
// merge-forward path to push a conflicting job strictly ahead of the local
// copy it is overwriting.
func (j Job) IncrementVersion() Job {
	n := j
	n.Version++
	return n
}

// AddState describes the outcome of Board.Add, spec.md §4.3.
type AddState string

const (
	AddStateAdded     AddState = "Added"
	AddStateUpdated   AddState = "Updated"
	AddStateDuplicated AddState = "Duplicated"
	AddStateUnchanged AddState = "Unchanged"
)

// Envelope is the runner's input: (recipient, sender, zone, job).
type Envelope struct {
	Recipient string
	Sender    string
	Zone      string
	Job       Job
}
