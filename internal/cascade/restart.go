package cascade

import (
	"os"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/command"
	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/registry"
)

// exitFunc is swappable so tests can observe a requested hard restart
// instead of actually terminating the process.
var exitFunc = os.Exit

// OnRestart handles an inbound Restart command (spec.md §4.6): fire-and-
// forget, no reply. Enforces the cross-zone portal firewall, then either
// performs the restart locally (this agent is the named destination) or
// forwards one hop further along the destination path.
func (c *Cascade) OnRestart(sender, zone string, restartType command.RestartType, destination string) {
	if c.selfType == registry.TypePortal {
		if info, ok := c.reg.Get(sender, zone); ok && info.Type == registry.TypePortal {
			c.logger.Warn("dropping restart cascade from another portal", zap.String("sender", sender))
			return
		}
	}

	dest, err := grammar.NewDestination(destination)
	if err != nil || dest.Last() == c.selfName {
		c.performRestart(restartType)
		return
	}

	next, ok := dest.Next(c.selfName)
	if !ok {
		c.logger.Warn("restart destination has no next hop from here", zap.String("destination", destination))
		return
	}
	frame := command.NewFrame(c.selfName, next, zone, command.Restart(restartType, destination))
	if err := c.hub.SendTo(next, zone, frame); err != nil {
		c.logger.Warn("failed to forward restart", zap.String("next", next), zap.Error(err))
	}
}

func (c *Cascade) performRestart(restartType command.RestartType) {
	switch restartType {
	case command.RestartSoft:
		if err := c.softRestart(); err != nil {
			c.logger.Error("soft restart failed, falling back to hard restart", zap.Error(err))
			exitFunc(1)
		}
	case command.RestartHard:
		exitFunc(0)
	}
}

// softRestart drains every board by erroring non-terminal jobs, notifies
// each job's peer, then disconnects every link — all while holding the
// soft-restart guard so no new inbound connection is admitted mid-drain.
func (c *Cascade) softRestart() error {
	release, ok := c.guard.Acquire()
	if !ok {
		return grammar.New(grammar.KindLocked, "a restart is already in progress")
	}
	defer release()

	for _, b := range c.boards.All() {
		errored := b.DrainErroring("Agent soft restart - job cancelled")
		for _, j := range errored {
			frame := command.NewFrame(c.selfName, b.Peer(), "", command.Update(j))
			_ = c.hub.SendTo(b.Peer(), "", frame)
		}
	}

	c.hub.CloseAll()
	return nil
}
