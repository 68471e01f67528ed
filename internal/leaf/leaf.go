// Package leaf is the shared scaffolding a leaf runner (account store,
// scheduler, filesystem) builds its business logic on: a semaphore-capped
// external command runner with per-call timeouts, and a single process-wide
// lock for filesystem mutations — both described in spec.md §5. Grounded on
// arkeep's agent/internal/executor.Executor (sequential-queue shape, one
// command in flight per resource) and agent/internal/docker (optional
// container-backed command wrapping).
package leaf

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/grammar"
)

// maxConcurrentCommands is spec.md §5: "External command execution ... is
// capped by a semaphore of 10 concurrent invocations."
const maxConcurrentCommands = 10

// DefaultTimeout and LongTimeout are spec.md §5's "typically 30s; up to
// 120s for hourly usage queries."
const (
	DefaultTimeout = 30 * time.Second
	LongTimeout    = 120 * time.Second
)

// CommandRunner executes external commands (Lustre `lfs`, Slurm
// `sacctmgr`/`sacct`/`scontrol`, or an account store's HTTP calls expressed
// as a command line by a leaf runner) under a process-wide concurrency cap,
// optionally prefixed for container-exec wrapping (sudo, `docker exec`).
type CommandRunner struct {
	sem    chan struct{}
	prefix []string
	logger *zap.Logger
}

// NewCommandRunner builds a runner capped at the spec's concurrency limit.
// prefix, if non-empty, is prepended to every command line — this is how a
// leaf agent routes `lfs`/`sacctmgr` invocations through `sudo` or a
// container exec wrapper (see DockerExecPrefix in docker.go) without the call sites needing
// to know about it.
func NewCommandRunner(prefix []string, logger *zap.Logger) *CommandRunner {
	return &CommandRunner{
		sem:    make(chan struct{}, maxConcurrentCommands),
		prefix: prefix,
		logger: logger.Named("leaf.command"),
	}
}

// Run executes name(args...) with the configured prefix, enforcing both the
// concurrency semaphore and a per-call deadline. Returns stdout on success;
// a non-zero exit or timeout is reported as a KindCall error carrying
// stderr.
func (r *CommandRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, grammar.Wrap(grammar.KindCall, ctx.Err(), "command queue wait cancelled")
	}
	defer func() { <-r.sem }()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := append(append([]string{}, r.prefix...), name)
	full = append(full, args...)

	cmd := exec.CommandContext(callCtx, full[0], full[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("executing external command", zap.Strings("argv", full))
	if err := cmd.Run(); err != nil {
		return nil, grammar.Wrap(grammar.KindCall, err, "command %q failed: %s", name, stderr.String())
	}
	return stdout.Bytes(), nil
}

// FilesystemLock serialises mkdir/chown/chmod operations behind one
// process-wide mutex with a bounded acquisition wait, spec.md §5:
// "Filesystem operations (mkdir/chown/chmod) are serialised by one
// process-wide mutex with a 15-second acquisition timeout."
type FilesystemLock struct {
	ch chan struct{}
}

const filesystemLockTimeout = 15 * time.Second

// NewFilesystemLock builds a ready-to-acquire lock.
func NewFilesystemLock() *FilesystemLock {
	l := &FilesystemLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Acquire blocks until the lock is free or 15 seconds elapse, returning a
// release function on success.
func (l *FilesystemLock) Acquire(ctx context.Context) (release func(), err error) {
	deadline, cancel := context.WithTimeout(ctx, filesystemLockTimeout)
	defer cancel()

	select {
	case <-l.ch:
		return func() { l.ch <- struct{}{} }, nil
	case <-deadline.Done():
		return nil, grammar.New(grammar.KindLocked, "timed out acquiring filesystem lock")
	}
}
