package handler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/board"
	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/handler"
	"github.com/openportal/mesh/internal/job"
	"github.com/openportal/mesh/internal/registry"
)

// fakeSender records every frame handed to SendTo.
type fakeSender struct {
	mu   sync.Mutex
	sent []command.Frame
}

func newFakeSender() *fakeSender { return &fakeSender{} }

func (f *fakeSender) SendTo(peer, zone string, fr command.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, fr)
	return nil
}

func (f *fakeSender) framesTo(peer string) []command.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []command.Frame
	for _, fr := range f.sent {
		if fr.Recipient == peer {
			out = append(out, fr)
		}
	}
	return out
}

type runnerErr string

func (e runnerErr) Error() string { return string(e) }

// newPutJob builds a job whose destination is the dotted path `dest`,
// declared as belonging to board `onBoard` (the peer name whose board it
// will be Add()ed to — see Board.Add's AssertIsForBoard check).
func newPutJob(t *testing.T, dest, onBoard string) job.Job {
	t.Helper()
	d, err := grammar.NewDestination(dest)
	require.NoError(t, err)
	inst := grammar.GetProject(grammar.ProjectIdentifier{Project: "proj1", Portal: "portal1"})
	return job.New(onBoard, d, inst, time.Hour)
}

func newHarness(t *testing.T, selfName string, runner handler.Runner) (*handler.Handler, *fakeSender, *registry.Registry, *board.Set) {
	t.Helper()
	reg := registry.New()
	boards := board.NewSet()
	sender := newFakeSender()
	h := handler.New(selfName, reg, boards, sender, runner, zap.NewNop())
	return h, sender, reg, boards
}

func TestDispatchDropsFrameForOtherRecipient(t *testing.T) {
	h, _, _, boards := newHarness(t, "mid", handler.RunnerFunc(func(ctx context.Context, env job.Envelope) (job.Job, error) {
		return env.Job.Completed(nil), nil
	}))
	j := newPutJob(t, "someone-else", "sender1")
	frame := command.NewFrame("sender1", "someone-else", "zone1", command.Put(j))

	h.Dispatch(frame)

	_, found := boards.Get("sender1").Get(j.ID)
	assert.False(t, found, "frame addressed elsewhere must never touch a board")
}

func TestDispatchAcceptsVirtualRecipient(t *testing.T) {
	var ran bool
	h, _, reg, _ := newHarness(t, "mid", handler.RunnerFunc(func(ctx context.Context, env job.Envelope) (job.Job, error) {
		ran = true
		return env.Job.Completed(nil), nil
	}))
	reg.RegisterVirtual("virtual-agent")

	j := newPutJob(t, "virtual-agent", "sender1")
	frame := command.NewFrame("sender1", "virtual-agent", "zone1", command.Put(j))
	h.Dispatch(frame)

	require.Eventually(t, func() bool { return ran }, time.Second, time.Millisecond)
}

func TestDispatchControlRegistersPeer(t *testing.T) {
	h, _, reg, _ := newHarness(t, "mid", nil)
	frame := command.NewFrame("peer1", "mid", "zone1", command.Register(registry.TypeAccount, "engine1", "1.0"))
	h.Dispatch(frame)

	info, ok := reg.Get("peer1", "zone1")
	require.True(t, ok)
	assert.Equal(t, registry.TypeAccount, info.Type)
	assert.True(t, info.Connected)
}

func TestHandlePutAtDestinationInvokesRunnerAndRepliesUpdate(t *testing.T) {
	h, sender, _, boards := newHarness(t, "mid", handler.RunnerFunc(func(ctx context.Context, env job.Envelope) (job.Job, error) {
		return env.Job.Completed([]byte(`"done"`)), nil
	}))

	j := newPutJob(t, "mid", "sender1")
	frame := command.NewFrame("sender1", "mid", "zone1", command.Put(j))
	h.Dispatch(frame)

	require.Eventually(t, func() bool {
		got, found := boards.Get("sender1").Get(j.ID)
		return found && got.IsFinished()
	}, time.Second, time.Millisecond)

	frames := sender.framesTo("sender1")
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, command.KindUpdate, last.Payload.Kind)
	assert.Equal(t, job.StateComplete, last.Payload.Job.State)
}

func TestHandlePutAtDestinationSurfacesRunnerError(t *testing.T) {
	h, sender, _, boards := newHarness(t, "mid", handler.RunnerFunc(func(ctx context.Context, env job.Envelope) (job.Job, error) {
		return job.Job{}, runnerErr("boom")
	}))

	j := newPutJob(t, "mid", "sender1")
	frame := command.NewFrame("sender1", "mid", "zone1", command.Put(j))
	h.Dispatch(frame)

	require.Eventually(t, func() bool {
		got, found := boards.Get("sender1").Get(j.ID)
		return found && got.State == job.StateError
	}, time.Second, time.Millisecond)

	frames := sender.framesTo("sender1")
	require.NotEmpty(t, frames)
	assert.Contains(t, frames[len(frames)-1].Payload.Job.ErrorMsg, "boom")
}

func TestHandlePutForwardsDownstream(t *testing.T) {
	h, sender, reg, boards := newHarness(t, "mid", nil)
	reg.Register("downstream", "zone1", registry.TypeAccount, "e", "1")

	// mid sits between "origin" (the previous hop) and "downstream" (the
	// next hop) on this job's destination path.
	j := newPutJob(t, "origin.mid.downstream", "origin")
	frame := command.NewFrame("origin", "mid", "zone1", command.Put(j))
	h.Dispatch(frame)

	require.Eventually(t, func() bool {
		return len(sender.framesTo("downstream")) > 0
	}, time.Second, time.Millisecond)

	fwd := sender.framesTo("downstream")[0]
	assert.Equal(t, command.KindPut, fwd.Payload.Kind)

	_, found := boards.Get("downstream").Get(j.ID)
	assert.True(t, found, "mid keeps its own bookkeeping board for the downstream hop")
}

func TestHandlePutCollapsesDuplicateAndPropagatesResult(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	h, sender, _, boards := newHarness(t, "mid", handler.RunnerFunc(func(ctx context.Context, env job.Envelope) (job.Job, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return env.Job.Completed([]byte(`"ok"`)), nil
	}))

	original := newPutJob(t, "mid", "sender1")
	original.State = job.StatePending
	h.Dispatch(command.NewFrame("sender1", "mid", "zone1", command.Put(original)))

	time.Sleep(5 * time.Millisecond)

	duplicate := newPutJob(t, "mid", "sender1")
	duplicate.State = job.StatePending
	h.Dispatch(command.NewFrame("sender1", "mid", "zone1", command.Put(duplicate)))

	require.Eventually(t, func() bool {
		got, found := boards.Get("sender1").Get(duplicate.ID)
		return found && got.IsFinished()
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), calls, "only the leader should reach the runner")

	dupFrames := sender.framesTo("sender1")
	var sawComplete bool
	for _, fr := range dupFrames {
		if fr.Payload.Job != nil && fr.Payload.Job.ID == duplicate.ID && fr.Payload.Job.State == job.StateComplete {
			sawComplete = true
		}
	}
	assert.True(t, sawComplete, "duplicate follower must be updated with the leader's completed result")
}

func TestHandleUpdateForwardsUpstream(t *testing.T) {
	h, sender, _, _ := newHarness(t, "mid", nil)

	// mid received this Update from "dest" (its downstream neighbor); from
	// mid's perspective entered-from dest this is Upstream traffic, so it
	// must forward toward "origin" (its previous hop).
	j := newPutJob(t, "origin.mid.dest", "dest")
	frame := command.NewFrame("dest", "mid", "zone1", command.Update(j))
	h.Dispatch(frame)

	require.Eventually(t, func() bool {
		return len(sender.framesTo("origin")) > 0
	}, time.Second, time.Millisecond)
}

func TestHandleUpdateForwardsDownstream(t *testing.T) {
	h, sender, _, _ := newHarness(t, "mid", nil)

	// mid received this Update from "origin" (its upstream neighbor); from
	// mid's perspective entered-from origin this is Downstream traffic, so
	// it must forward toward "dest" (its next hop).
	j := newPutJob(t, "origin.mid.dest", "origin")
	frame := command.NewFrame("origin", "mid", "zone1", command.Update(j))
	h.Dispatch(frame)

	require.Eventually(t, func() bool {
		return len(sender.framesTo("dest")) > 0
	}, time.Second, time.Millisecond)
}

func TestHandleDeleteRemovesAndForwards(t *testing.T) {
	h, sender, reg, boards := newHarness(t, "mid", nil)
	reg.Register("downstream", "zone1", registry.TypeAccount, "e", "1")

	j := newPutJob(t, "origin.mid.downstream", "origin")
	b := boards.Get("origin")
	_, _, err := b.Add(j)
	require.NoError(t, err)

	frame := command.NewFrame("origin", "mid", "zone1", command.Delete(j))
	h.Dispatch(frame)

	_, found := b.Get(j.ID)
	assert.False(t, found, "delete must remove the job from the sender's board")

	require.Eventually(t, func() bool {
		return len(sender.framesTo("downstream")) > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, command.KindDelete, sender.framesTo("downstream")[0].Payload.Kind)
}

func TestSubmitRunsLocallyWhenSelfIsDestination(t *testing.T) {
	h, _, _, boards := newHarness(t, "mid", handler.RunnerFunc(func(ctx context.Context, env job.Envelope) (job.Job, error) {
		return env.Job.Completed([]byte(`"submitted"`)), nil
	}))

	d, err := grammar.NewDestination("mid")
	require.NoError(t, err)
	inst := grammar.GetProject(grammar.ProjectIdentifier{Project: "proj1", Portal: "portal1"})
	j := job.New("", d, inst, time.Hour) // Board is set by Submit itself

	waiter, err := h.Submit(j)
	require.NoError(t, err)

	select {
	case got := <-waiter:
		assert.Equal(t, job.StateComplete, got.State)
	case <-time.After(time.Second):
		t.Fatal("submit-local waiter never fired")
	}

	_, found := boards.Get("mid").Get(j.ID)
	assert.True(t, found)
}

// wiredSender delivers a SendTo call straight into the named peer's
// Handler.Dispatch, the way transport.Hub would after a real round trip
// over the wire. This is what exercises the board-stamping handoff between
// two independently-owned board.Sets that a single-handler test (sending
// into a fakeSender that just records frames) cannot catch.
type wiredSender struct {
	mu    sync.Mutex
	peers map[string]*handler.Handler
}

func newWiredSender() *wiredSender { return &wiredSender{peers: map[string]*handler.Handler{}} }

func (w *wiredSender) link(name string, h *handler.Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.peers[name] = h
}

func (w *wiredSender) SendTo(peer, zone string, fr command.Frame) error {
	w.mu.Lock()
	target, ok := w.peers[peer]
	w.mu.Unlock()
	if !ok {
		return runnerErr("no link to " + peer)
	}
	go target.Dispatch(fr)
	return nil
}

// TestEndToEndPutRoutesThroughIntermediateHopToDestination wires three
// independent handlers (origin, mid, dest), each with its own board.Set,
// through a real SendTo->Dispatch round trip — spec.md scenario A's
// "p1 -> aip2 -> cluster -> account" shape collapsed to three names. It is
// a regression guard for the bug where a received job was Add()ed to the
// receiver's board without first re-stamping Job.Board to the sender: the
// job arrived still declared for the *previous* hop's own board, so
// AssertIsForBoard rejected it on both the forward (Put) leg at mid and
// dest, and the reverse (Update) leg back through mid.
func TestEndToEndPutRoutesThroughIntermediateHopToDestination(t *testing.T) {
	wired := newWiredSender()

	originReg := registry.New()
	originBoards := board.NewSet()
	origin := handler.New("origin", originReg, originBoards, wired, nil, zap.NewNop())

	midReg := registry.New()
	midBoards := board.NewSet()
	mid := handler.New("mid", midReg, midBoards, wired, nil, zap.NewNop())

	destReg := registry.New()
	destBoards := board.NewSet()
	dest := handler.New("dest", destReg, destBoards, wired, handler.RunnerFunc(
		func(ctx context.Context, env job.Envelope) (job.Job, error) {
			return env.Job.Completed([]byte(`"arrived"`)), nil
		}), zap.NewNop())

	wired.link("origin", origin)
	wired.link("mid", mid)
	wired.link("dest", dest)
	originReg.Register("mid", "", registry.TypeAccount, "e", "1")
	midReg.Register("dest", "", registry.TypeAccount, "e", "1")

	d, err := grammar.NewDestination("origin.mid.dest")
	require.NoError(t, err)
	inst := grammar.GetProject(grammar.ProjectIdentifier{Project: "proj1", Portal: "portal1"})
	j := job.New("", d, inst, time.Hour)

	waiter, err := origin.Submit(j)
	require.NoError(t, err)

	select {
	case got := <-waiter:
		assert.Equal(t, job.StateComplete, got.State, "job must reach Complete, not be rejected mid-route")
		assert.Equal(t, []byte(`"arrived"`), got.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("end-to-end put never completed")
	}

	got, found := destBoards.Get("mid").Get(j.ID)
	require.True(t, found, "dest must have recorded the job under its board for mid")
	assert.Equal(t, "mid", got.Board, "dest's copy must be re-stamped to the sending peer, not left as the forwarder's own board name")
}

func TestSubmitCollapsesDuplicates(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	h, _, _, _ := newHarness(t, "mid", handler.RunnerFunc(func(ctx context.Context, env job.Envelope) (job.Job, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return env.Job.Completed([]byte(`"ok"`)), nil
	}))

	d, err := grammar.NewDestination("mid")
	require.NoError(t, err)
	inst := grammar.GetProject(grammar.ProjectIdentifier{Project: "proj1", Portal: "portal1"})

	j1 := job.New("", d, inst, time.Hour)
	j1.State = job.StatePending
	w1, err := h.Submit(j1)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	j2 := job.New("", d, inst, time.Hour)
	j2.State = job.StatePending
	w2, err := h.Submit(j2)
	require.NoError(t, err)

	var got1, got2 job.Job
	select {
	case got1 = <-w1:
	case <-time.After(2 * time.Second):
		t.Fatal("leader waiter never fired")
	}
	select {
	case got2 = <-w2:
	case <-time.After(2 * time.Second):
		t.Fatal("follower waiter never fired")
	}

	assert.Equal(t, job.StateComplete, got1.State)
	assert.Equal(t, job.StateComplete, got2.State)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "duplicate submissions must coalesce onto a single runner invocation")
}
