package handler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/board"
	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/job"
	"github.com/openportal/mesh/internal/registry"
)

// waitForPeerTimeout is spec.md §4.5's wait_for(peer, 30s).
const waitForPeerTimeout = 30 * time.Second

// Sender is the subset of internal/transport.Hub the handler needs: enough
// to push a frame to a named peer link. Declared locally to keep handler
// independent of transport's concrete type.
type Sender interface {
	SendTo(peer, zone string, f command.Frame) error
}

// Handler is the routing engine and handler state machine: given an
// arriving frame, it validates it, handles control traffic, and dispatches
// data commands by routing position (spec.md §4.5).
type Handler struct {
	selfName string
	reg      *registry.Registry
	boards   *board.Set
	sender   Sender
	runner   Runner
	cascade  CascadeHandler
	logger   *zap.Logger
}

// New builds a handler for the named agent.
func New(selfName string, reg *registry.Registry, boards *board.Set, sender Sender, runner Runner, logger *zap.Logger) *Handler {
	return &Handler{
		selfName: selfName,
		reg:      reg,
		boards:   boards,
		sender:   sender,
		runner:   runner,
		logger:   logger.Named("handler"),
	}
}

// SetCascade wires the health/diagnostics/restart subsystem in after
// construction, since it in turn needs a reference to this Handler's
// Sender to do its own fan-out.
func (h *Handler) SetCascade(c CascadeHandler) { h.cascade = c }

func (h *Handler) sendFrame(peer, zone string, cmd command.Command, onQueueFail func()) {
	frame := command.NewFrame(h.selfName, peer, zone, cmd)
	if err := h.sender.SendTo(peer, zone, frame); err != nil {
		h.logger.Debug("send failed, falling back to queue", zap.String("peer", peer), zap.Error(err))
		if onQueueFail != nil {
			onQueueFail()
		}
	}
}

func (h *Handler) sendUpdate(peer, zone string, j job.Job) {
	b := h.boards.Get(peer)
	h.sendFrame(peer, zone, command.Update(j), func() { b.Queue(command.Update(j)) })
}

// Dispatch is the single entry point every link's read loop calls for each
// decoded frame: reject-and-ignore, then control, then data (spec.md
// §4.5's three-stage pipeline).
func (h *Handler) Dispatch(frame command.Frame) {
	// 1. Reject-and-ignore.
	if frame.Recipient != h.selfName && !h.reg.IsVirtual(frame.Recipient) {
		h.logger.Warn("dropping frame addressed to someone else",
			zap.String("recipient", frame.Recipient), zap.String("self", h.selfName))
		return
	}

	// 2. Control.
	if frame.Kind == command.FrameControl {
		h.handleControl(frame)
		return
	}
	if frame.Kind == command.FrameKeepAlive {
		return // handled in the transport read loop before reaching here
	}

	// 3. Data.
	h.handleData(frame)
}

func (h *Handler) handleControl(frame command.Frame) {
	cmd := frame.Payload
	if cmd.Kind != command.KindRegister {
		return
	}
	h.reg.Register(frame.Sender, frame.Zone, cmd.AgentType, cmd.Engine, cmd.Version)
	h.logger.Info("peer registered", zap.String("peer", frame.Sender), zap.String("type", string(cmd.AgentType)))
}

func (h *Handler) handleData(frame command.Frame) {
	cmd := frame.Payload
	switch cmd.Kind {
	case command.KindPut:
		if cmd.Job != nil {
			h.handlePut(frame.Sender, frame.Zone, *cmd.Job)
		}
	case command.KindUpdate:
		if cmd.Job != nil {
			h.handleUpdate(frame.Sender, frame.Zone, *cmd.Job)
		}
	case command.KindDelete:
		if cmd.Job != nil {
			h.handleDelete(frame.Sender, frame.Zone, *cmd.Job)
		}
	case command.KindSync:
		if cmd.SyncState != nil {
			h.handleSync(frame.Sender, frame.Zone, cmd.SyncState.Jobs)
		}
	case command.KindHealthCheck:
		if h.cascade != nil {
			h.cascade.OnHealthCheck(frame.Sender, frame.Zone, cmd.Visited)
		}
	case command.KindHealthResponse:
		if h.cascade != nil && cmd.Health != nil {
			h.cascade.OnHealthResponse(frame.Sender, *cmd.Health)
		}
	case command.KindRestart:
		if h.cascade != nil {
			h.cascade.OnRestart(frame.Sender, frame.Zone, cmd.RestartType, cmd.Destination)
		}
	case command.KindDiagnosticsRequest:
		if h.cascade != nil {
			h.cascade.OnDiagnosticsRequest(frame.Sender, frame.Zone, cmd.Destination)
		}
	case command.KindDiagnosticsResponse:
		if h.cascade != nil && cmd.Report != nil {
			h.cascade.OnDiagnosticsResponse(frame.Sender, *cmd.Report)
		}
	case command.KindError:
		h.logger.Warn("received error command", zap.String("sender", frame.Sender), zap.String("message", cmd.ErrorMessage))
	}
}

func (h *Handler) handlePut(sender, zone string, j job.Job) {
	senderBoard := h.boards.Get(sender)
	j.Board = sender
	updated, state, err := senderBoard.Add(j)
	if err != nil {
		h.logger.Warn("rejecting put", zap.Error(err))
		return
	}
	h.sendUpdate(sender, zone, updated)

	if state == job.AddStateDuplicated {
		go h.awaitDuplicate(senderBoard, updated, sender, zone)
		return
	}

	pos := updated.Destination.Position(h.selfName, sender)
	switch pos {
	case grammar.PositionDownstream:
		go h.forwardPutDownstream(senderBoard, updated, sender, zone)
	case grammar.PositionDestination:
		if updated.IsFinished() {
			h.logger.Warn("dropping put for already-finished job", zap.String("job", updated.ID.String()))
			return
		}
		go h.runLocally(senderBoard, updated, sender, zone)
	default:
		errored := updated.Errored(fmt.Sprintf("invalid routing position %s", pos))
		senderBoard.Add(errored)
		h.sendUpdate(sender, zone, errored)
	}
}

func (h *Handler) awaitDuplicate(senderBoard *board.Board, dup job.Job, sender, zone string) {
	waiter, err := senderBoard.GetWaiter(dup.ID)
	if err != nil {
		return
	}
	finished := <-waiter
	h.sendUpdate(sender, zone, finished)
}

func (h *Handler) forwardPutDownstream(senderBoard *board.Board, j job.Job, originalSender, zone string) {
	next, ok := j.Destination.Next(h.selfName)
	if !ok {
		errored := j.Errored("no downstream hop found")
		senderBoard.Add(errored)
		h.sendUpdate(originalSender, zone, errored)
		return
	}

	if !h.reg.WaitFor(next, zone, waitForPeerTimeout) {
		errored := j.Errored(fmt.Sprintf("peer %s not reachable", next))
		senderBoard.Add(errored)
		h.sendUpdate(originalSender, zone, errored)
		return
	}

	fwd := j
	fwd.Board = next
	nextBoard := h.boards.Get(next)

	cmd := command.Put(fwd)
	frame := command.NewFrame(h.selfName, next, zone, cmd)
	if err := h.sender.SendTo(next, zone, frame); err != nil {
		nextBoard.Queue(cmd)
	}
	nextBoard.Add(fwd)

	waiter, err := nextBoard.GetWaiter(fwd.ID)
	if err != nil {
		return
	}
	completed := <-waiter
	completed.Board = originalSender
	senderBoard.Add(completed)
	h.sendUpdate(originalSender, zone, completed)
}

func (h *Handler) runLocally(senderBoard *board.Board, j job.Job, sender, zone string) {
	running := j
	running.State = job.StateRunning
	running, _, _ = senderBoard.Add(running.IncrementVersion())

	ctx, cancel := context.WithDeadline(context.Background(), j.ExpiresAt)
	defer cancel()

	env := job.Envelope{Recipient: h.selfName, Sender: sender, Zone: zone, Job: running}
	result, err := h.runner.Run(ctx, env)
	if err != nil {
		result = running.Errored(err.Error())
	} else if !result.IsFinished() {
		result = result.Errored("runner returned a non-terminal job")
	}

	senderBoard.Add(result)
	h.sendUpdate(sender, zone, result)
}

func (h *Handler) handleUpdate(sender, zone string, j job.Job) {
	senderBoard := h.boards.Get(sender)
	j.Board = sender
	updated, _, err := senderBoard.Add(j)
	if err != nil {
		h.logger.Warn("rejecting update", zap.Error(err))
		return
	}

	pos := updated.Destination.Position(h.selfName, sender)
	switch pos {
	case grammar.PositionUpstream:
		if prev, ok := updated.Destination.Previous(h.selfName); ok {
			h.sendUpdate(prev, zone, updated)
		}
	case grammar.PositionDownstream:
		if next, ok := updated.Destination.Next(h.selfName); ok {
			h.sendUpdate(next, zone, updated)
		}
	case grammar.PositionDestination:
		// No-op: this is the terminal hop for the job.
	}
}

func (h *Handler) handleDelete(sender, zone string, j job.Job) {
	senderBoard := h.boards.Get(sender)
	senderBoard.Remove(j.ID)

	pos := j.Destination.Position(h.selfName, sender)
	switch pos {
	case grammar.PositionUpstream:
		if prev, ok := j.Destination.Previous(h.selfName); ok {
			h.sendFrame(prev, zone, command.Delete(j), func() { h.boards.Get(prev).Queue(command.Delete(j)) })
		}
	case grammar.PositionDownstream:
		if next, ok := j.Destination.Next(h.selfName); ok {
			h.sendFrame(next, zone, command.Delete(j), func() { h.boards.Get(next).Queue(command.Delete(j)) })
		}
	}
}

func (h *Handler) handleSync(sender, zone string, jobs []job.Job) {
	senderBoard := h.boards.Get(sender)
	now := time.Now()
	for _, j := range jobs {
		if senderBoard.WouldBeChangedBy(j, now) {
			senderBoard.Add(j)
		}
	}
	for _, cmd := range senderBoard.TakeQueued() {
		frame := command.NewFrame(h.selfName, sender, zone, cmd)
		if err := h.sender.SendTo(sender, zone, frame); err != nil {
			senderBoard.Queue(cmd)
		}
	}
}

// Submit is how a local originator (the bridge HTTP surface, or a runner
// issuing a sub-job) introduces a brand-new job to the mesh: add it to the
// board for its first hop and send it on its way exactly like a received
// Put, without a remote sender to route back to.
func (h *Handler) Submit(j job.Job) (<-chan job.Job, error) {
	first := j.Destination.First()
	b := h.boards.Get(first)
	j.Board = first
	updated, state, err := b.Add(j)
	if err != nil {
		return nil, err
	}

	waiter, err := b.GetWaiter(updated.ID)
	if err != nil {
		return nil, err
	}

	if state == job.AddStateDuplicated {
		return waiter, nil
	}

	if first == h.selfName {
		pos := updated.Destination.Position(h.selfName, h.selfName)
		if pos == grammar.PositionDestination {
			go h.runLocally(b, updated, h.selfName, "")
		} else {
			go h.forwardPutDownstream(b, updated, h.selfName, "")
		}
		return waiter, nil
	}

	go func() {
		if !h.reg.WaitFor(first, "", waitForPeerTimeout) {
			errored := updated.Errored(fmt.Sprintf("peer %s not reachable", first))
			b.Add(errored)
			return
		}
		frame := command.NewFrame(h.selfName, first, "", command.Put(updated))
		if err := h.sender.SendTo(first, "", frame); err != nil {
			b.Queue(command.Put(updated))
		}
	}()

	return waiter, nil
}
