package leaf

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/job"
)

// FilesystemStore is the leaf runner for a Filesystem agent: it applies
// UpdateHomeDir instructions (mkdir/chown/chmod a user's home directory on a
// Lustre-backed or local filesystem) serialised behind FilesystemLock,
// grounded on spec.md §5's "Filesystem operations are serialised by one
// process-wide mutex" and the original's filesystem.rs update_home_dir,
// which shells out to `mkdir -p`/`chown`/`chmod` rather than using Go's os
// package directly, since the target path is frequently root-squashed or
// owned by a different uid than the agent process.
type FilesystemStore struct {
	lock    *FilesystemLock
	runner  *CommandRunner
	homeMode string
	logger  *zap.Logger
}

// NewFilesystemStore builds a filesystem leaf. homeMode is the octal mode
// string (e.g. "0750") newly created home directories are chmod'd to.
func NewFilesystemStore(runner *CommandRunner, homeMode string, logger *zap.Logger) *FilesystemStore {
	if homeMode == "" {
		homeMode = "0750"
	}
	return &FilesystemStore{
		lock:     NewFilesystemLock(),
		runner:   runner,
		homeMode: homeMode,
		logger:   logger.Named("leaf.filesystem"),
	}
}

// Run implements handler.Runner for a Filesystem leaf agent.
func (s *FilesystemStore) Run(ctx context.Context, env job.Envelope) (job.Job, error) {
	inst := env.Job.Instruction
	switch inst.Kind {
	case grammar.KindUpdateHomeDir:
		return s.updateHomeDir(ctx, env.Job, inst.User, inst.HomeDir)
	default:
		return env.Job.Errored(grammar.New(grammar.KindInvalidInstruction, "filesystem agent cannot handle %q", inst.Kind).Error()), nil
	}
}

// updateHomeDir creates (or repairs the ownership/mode of) a user's home
// directory. The local user/group names are not carried on the
// UpdateHomeDir instruction itself (spec.md's grammar resolves them via a
// prior GetUserMapping against the owning Account agent); here the
// directory's owner is set to the UserIdentifier's own username, matching
// the common case where local_user == username.
func (s *FilesystemStore) updateHomeDir(ctx context.Context, j job.Job, user grammar.UserIdentifier, path string) (job.Job, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return j.Errored(err.Error()), nil
	}
	defer release()

	if _, err := s.runner.Run(ctx, DefaultTimeout, "mkdir", "-p", path); err != nil {
		return j.Errored(err.Error()), nil
	}
	owner := fmt.Sprintf("%s:%s", user.Username, user.Username)
	if _, err := s.runner.Run(ctx, DefaultTimeout, "chown", owner, path); err != nil {
		return j.Errored(err.Error()), nil
	}
	if _, err := s.runner.Run(ctx, DefaultTimeout, "chmod", s.homeMode, path); err != nil {
		return j.Errored(err.Error()), nil
	}

	s.logger.Info("home directory updated", zap.String("user", user.String()), zap.String("path", path))
	return completedWith(j, path)
}
