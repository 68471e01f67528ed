package leaf

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/job"
)

// AccountStore is an in-memory stand-in for the FreeIPA-like account store
// spec.md §6 describes only at interface level ("HTTP/JSON RPC resembling
// FreeIPA session JSON ... user_find/user_add/..."). The real HTTP client
// (login, 401-triggered relogin, reconnect budget) is an external
// collaborator out of this module's scope; this type gives `cmd/account`
// something concrete to run against so the Runner contract is exercised
// end to end, while leaving the wire protocol to a real FreeIPA client
// behind the same CommandRunner this package already provides.
type AccountStore struct {
	mu        sync.RWMutex
	mappings  map[string]grammar.UserMapping // keyed by UserIdentifier.String()
	protected map[string]bool
	projects  map[string]string // ProjectIdentifier.String() -> details
	logger    *zap.Logger
}

// NewAccountStore builds an empty store. protectedUsers names accounts
// that must never be removed (service accounts, admins), mirroring the
// original's is_protected_user check.
func NewAccountStore(protectedUsers []string, logger *zap.Logger) *AccountStore {
	protected := make(map[string]bool, len(protectedUsers))
	for _, u := range protectedUsers {
		protected[u] = true
	}
	return &AccountStore{
		mappings:  make(map[string]grammar.UserMapping),
		protected: protected,
		projects:  make(map[string]string),
		logger:    logger.Named("leaf.account"),
	}
}

// Run implements handler.Runner for an Account leaf agent: it applies one
// instruction against the in-memory directory and returns the finished
// job. Every branch is synchronous and fast, so no external CommandRunner
// semaphore is needed here (that scaffolding exists for scheduler/
// filesystem leaves that shell out).
func (s *AccountStore) Run(ctx context.Context, env job.Envelope) (job.Job, error) {
	inst := env.Job.Instruction
	switch inst.Kind {
	case grammar.KindAddUser:
		return s.addUser(env.Job, inst.User)
	case grammar.KindRemoveUser:
		return s.removeUser(env.Job, inst.User)
	case grammar.KindAddLocalUser:
		return s.addLocalUser(env.Job, inst.Mapping)
	case grammar.KindRemoveLocalUser:
		return s.removeLocalUser(env.Job, inst.Mapping)
	case grammar.KindGetUserMapping:
		return s.getUserMapping(env.Job, inst.User)
	case grammar.KindIsProtectedUser:
		return s.isProtectedUser(env.Job, inst.User)
	case grammar.KindCreateProject:
		return s.createProject(env.Job, inst.Project, inst.Details)
	case grammar.KindRemoveProject:
		return s.removeProject(env.Job, inst.Project)
	case grammar.KindUpdateProject:
		return s.updateProject(env.Job, inst.Project, inst.Details)
	case grammar.KindGetProject:
		return s.getProject(env.Job, inst.Project)
	case grammar.KindGetProjectMapping, grammar.KindGetUsers:
		return s.getUsers(env.Job, inst.Project)
	default:
		return env.Job.Errored(grammar.New(grammar.KindInvalidInstruction, "account agent cannot handle %q", inst.Kind).Error()), nil
	}
}

func completedWith(j job.Job, v any) (job.Job, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return job.Job{}, err
	}
	return j.Completed(data), nil
}

func (s *AccountStore) addUser(j job.Job, u grammar.UserIdentifier) (job.Job, error) {
	m, err := grammar.NewUserMapping(u, u.Username, u.Project)
	if err != nil {
		return j.Errored(err.Error()), nil
	}
	s.mu.Lock()
	s.mappings[u.String()] = m
	s.mu.Unlock()
	return completedWith(j, m)
}

func (s *AccountStore) removeUser(j job.Job, u grammar.UserIdentifier) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.protected[u.String()] {
		return j.Errored(grammar.New(grammar.KindInvalidState, "refusing to remove protected user %s", u).Error()), nil
	}
	delete(s.mappings, u.String())
	return completedWith(j, true)
}

func (s *AccountStore) addLocalUser(j job.Job, m grammar.UserMapping) (job.Job, error) {
	s.mu.Lock()
	s.mappings[m.User.String()] = m
	s.mu.Unlock()
	return completedWith(j, m)
}

func (s *AccountStore) removeLocalUser(j job.Job, m grammar.UserMapping) (job.Job, error) {
	s.mu.Lock()
	delete(s.mappings, m.User.String())
	s.mu.Unlock()
	return completedWith(j, true)
}

// getUserMapping: per spec's Open Question resolution #2 (DESIGN.md), a
// user absent from the directory is a typed error, not a silent success.
func (s *AccountStore) getUserMapping(j job.Job, u grammar.UserIdentifier) (job.Job, error) {
	s.mu.RLock()
	m, ok := s.mappings[u.String()]
	s.mu.RUnlock()
	if !ok {
		return j.Errored(grammar.New(grammar.KindNotFound, "no local mapping for %s", u).Error()), nil
	}
	return completedWith(j, m)
}

func (s *AccountStore) isProtectedUser(j job.Job, u grammar.UserIdentifier) (job.Job, error) {
	s.mu.RLock()
	protected := s.protected[u.String()]
	s.mu.RUnlock()
	return completedWith(j, protected)
}

func (s *AccountStore) createProject(j job.Job, p grammar.ProjectIdentifier, details string) (job.Job, error) {
	s.mu.Lock()
	if _, exists := s.projects[p.String()]; exists {
		s.mu.Unlock()
		return j.Errored(grammar.New(grammar.KindDuplicate, "project %s already exists", p).Error()), nil
	}
	s.projects[p.String()] = details
	s.mu.Unlock()
	return completedWith(j, p)
}

func (s *AccountStore) removeProject(j job.Job, p grammar.ProjectIdentifier) (job.Job, error) {
	s.mu.Lock()
	delete(s.projects, p.String())
	s.mu.Unlock()
	return completedWith(j, true)
}

func (s *AccountStore) updateProject(j job.Job, p grammar.ProjectIdentifier, details string) (job.Job, error) {
	s.mu.Lock()
	if _, exists := s.projects[p.String()]; !exists {
		s.mu.Unlock()
		return j.Errored(grammar.New(grammar.KindNotFound, "project %s not found", p).Error()), nil
	}
	s.projects[p.String()] = details
	s.mu.Unlock()
	return completedWith(j, p)
}

func (s *AccountStore) getProject(j job.Job, p grammar.ProjectIdentifier) (job.Job, error) {
	s.mu.RLock()
	details, ok := s.projects[p.String()]
	s.mu.RUnlock()
	if !ok {
		return j.Errored(grammar.New(grammar.KindNotFound, "project %s not found", p).Error()), nil
	}
	return completedWith(j, details)
}

func (s *AccountStore) getUsers(j job.Job, p grammar.ProjectIdentifier) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []grammar.UserMapping
	for _, m := range s.mappings {
		if m.User.Project == p.Project && m.User.Portal == p.Portal {
			users = append(users, m)
		}
	}
	return completedWith(j, users)
}

// Timestamp is a helper for callers building Created/changed diagnostics
// summaries off this store, avoiding an import of time.Now() deep in test
// code (timing.go's helpers already cover job-level deltas).
var Timestamp = time.Now
