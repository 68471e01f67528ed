package job_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/job"
)

func newJob(t *testing.T, ttl time.Duration) job.Job {
	t.Helper()
	dest, err := grammar.NewDestination("peer1.peer2")
	require.NoError(t, err)
	inst := grammar.GetProject(grammar.ProjectIdentifier{Project: "proj1", Portal: "portal1"})
	return job.New("peer1", dest, inst, ttl)
}

func TestNewJobIsCreatedAtVersionOne(t *testing.T) {
	j := newJob(t, time.Hour)
	assert.Equal(t, job.StateCreated, j.State)
	assert.Equal(t, uint64(1), j.Version)
	assert.NotEqual(t, j.ID.String(), "")
}

func TestAssertIsForBoard(t *testing.T) {
	j := newJob(t, time.Hour)
	assert.NoError(t, j.AssertIsForBoard("peer1"))
	assert.Error(t, j.AssertIsForBoard("peer2"))
}

func TestIsExpired(t *testing.T) {
	j := newJob(t, time.Millisecond)
	assert.False(t, j.IsExpired(j.CreatedAt))
	assert.True(t, j.IsExpired(j.CreatedAt.Add(time.Second)))
}

func TestIsDuplicateOf(t *testing.T) {
	a := newJob(t, time.Hour)
	a.State = job.StatePending
	b := newJob(t, time.Hour)
	b.State = job.StatePending
	assert.True(t, b.IsDuplicateOf(a))

	finished := a.Completed(nil)
	assert.False(t, b.IsDuplicateOf(finished), "a finished job can't be duplicated onto")
}

func TestDuplicateMarksFollowerAndBumpsVersion(t *testing.T) {
	original := newJob(t, time.Hour)
	follower := newJob(t, time.Hour)

	marked := follower.Duplicate(original)
	assert.Equal(t, job.StateDuplicate, marked.State)
	require.NotNil(t, marked.DuplicateOf)
	assert.Equal(t, original.ID, *marked.DuplicateOf)
	assert.Greater(t, marked.Version, follower.Version)
}

func TestCopyResultFromPreservesFollowerIdentity(t *testing.T) {
	leader := newJob(t, time.Hour).Completed([]byte(`"ok"`))
	follower := newJob(t, time.Hour)

	copied := follower.CopyResultFrom(leader)
	assert.Equal(t, follower.ID, copied.ID)
	assert.Equal(t, follower.Board, copied.Board)
	assert.Equal(t, job.StateComplete, copied.State)
	assert.Equal(t, leader.Result, copied.Result)
}

func TestErroredAndCompletedAreTerminal(t *testing.T) {
	j := newJob(t, time.Hour)
	e := j.Errored("boom")
	assert.True(t, e.IsFinished())
	assert.Equal(t, "boom", e.ErrorMsg)

	c := j.Completed([]byte(`1`))
	assert.True(t, c.IsFinished())
	assert.Empty(t, c.ErrorMsg)
}

func TestIncrementVersionOnlyTouchesVersion(t *testing.T) {
	j := newJob(t, time.Hour)
	n := j.IncrementVersion()
	assert.Equal(t, j.Version+1, n.Version)
	assert.Equal(t, j.ChangedAt, n.ChangedAt)
}

func TestStateIsTerminal(t *testing.T) {
	assert.True(t, job.StateComplete.IsTerminal())
	assert.True(t, job.StateError.IsTerminal())
	assert.True(t, job.StateDuplicate.IsTerminal())
	assert.False(t, job.StatePending.IsTerminal())
	assert.False(t, job.StateRunning.IsTerminal())
	assert.False(t, job.StateCreated.IsTerminal())
}

func TestDurationAndTimeToExpiry(t *testing.T) {
	j := newJob(t, time.Hour)
	assert.Equal(t, time.Duration(0), j.Duration())

	future := j.CreatedAt.Add(time.Minute)
	assert.InDelta(t, time.Hour.Seconds()-time.Minute.Seconds(), j.TimeToExpiry(future).Seconds(), 1)
}
