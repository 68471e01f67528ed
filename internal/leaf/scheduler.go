package leaf

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/grammar"
	"github.com/openportal/mesh/internal/job"
	"github.com/openportal/mesh/internal/usage"
)

// SchedulerStore is the leaf runner for a Scheduler agent: it accounts
// consumed node-seconds per (project, user, day) and answers
// GetUsageReport/GetUsageReports by rolling that ledger up over a date
// range. Grounded on templemeads/src/usagereport.rs's four-level
// DailyUsageReport/ProjectUsageReport rollup (internal/usage already ports
// the data shape); the Slurm `sacct`/`sacctmgr` calls a real deployment
// would shell out through are represented here by CommandRunner, wired but
// not parsed, since spec.md leaves the accounting-poll cadence and sacct
// field mapping unspecified.
type SchedulerStore struct {
	portal  grammar.PortalIdentifier
	runner  *CommandRunner
	logger  *zap.Logger
	ledger  *usageLedger
}

// NewSchedulerStore builds a scheduler leaf bound to one portal. runner is
// stored but not invoked: usage queries are answered only from what
// RecordUsage has already folded into the ledger, and no `sacct`/`sacctmgr`
// polling takes place.
func NewSchedulerStore(portal grammar.PortalIdentifier, runner *CommandRunner, logger *zap.Logger) *SchedulerStore {
	return &SchedulerStore{
		portal: portal,
		runner: runner,
		logger: logger.Named("leaf.scheduler"),
		ledger: newUsageLedger(),
	}
}

// RecordUsage folds newly observed node-seconds for (project, user, day)
// into the ledger — the hook a `sacct`-polling goroutine (or a test) calls
// as it discovers completed Slurm jobs.
func (s *SchedulerStore) RecordUsage(project grammar.ProjectIdentifier, user grammar.UserIdentifier, day time.Time, nodeSeconds uint64) {
	s.ledger.add(project, user, day, usage.Usage{NodeSeconds: nodeSeconds})
}

// Run implements handler.Runner for a Scheduler leaf agent.
func (s *SchedulerStore) Run(ctx context.Context, env job.Envelope) (job.Job, error) {
	inst := env.Job.Instruction
	switch inst.Kind {
	case grammar.KindGetUsageReport:
		return s.getUsageReport(env.Job, inst.Project, inst.Dates)
	case grammar.KindGetUsageReports:
		return s.getUsageReports(env.Job, inst.Portal, inst.Dates)
	default:
		return env.Job.Errored(grammar.New(grammar.KindInvalidInstruction, "scheduler agent cannot handle %q", inst.Kind).Error()), nil
	}
}

func (s *SchedulerStore) getUsageReport(j job.Job, project grammar.ProjectIdentifier, dates grammar.DateRange) (job.Job, error) {
	report := usage.NewUsageReport(s.portal, dates)
	s.ledger.fillProject(report, project, dates)
	return completedWith(j, report)
}

func (s *SchedulerStore) getUsageReports(j job.Job, portal grammar.PortalIdentifier, dates grammar.DateRange) (job.Job, error) {
	report := usage.NewUsageReport(portal, dates)
	for _, p := range s.ledger.projectsForPortal(portal) {
		s.ledger.fillProject(report, p, dates)
	}
	return completedWith(j, report)
}

// usageLedger is the in-memory accounting store usageReport rollups are
// read from: usage[project][user][day] = node-seconds.
type usageLedger struct {
	usage map[string]map[string]map[string]uint64 // project.portal -> user.project.portal -> "2006-01-02" -> seconds
}

func newUsageLedger() *usageLedger {
	return &usageLedger{usage: make(map[string]map[string]map[string]uint64)}
}

const ledgerDayLayout = "2006-01-02"

func (l *usageLedger) add(project grammar.ProjectIdentifier, user grammar.UserIdentifier, day time.Time, u usage.Usage) {
	projectKey := project.String()
	byUser, ok := l.usage[projectKey]
	if !ok {
		byUser = make(map[string]map[string]uint64)
		l.usage[projectKey] = byUser
	}
	byDay, ok := byUser[user.String()]
	if !ok {
		byDay = make(map[string]uint64)
		byUser[user.String()] = byDay
	}
	byDay[day.Format(ledgerDayLayout)] += u.NodeSeconds
}

// fillProject folds every recorded (user, day) entry for project that falls
// within dates into report.
func (l *usageLedger) fillProject(report usage.UsageReport, project grammar.ProjectIdentifier, dates grammar.DateRange) {
	byUser, ok := l.usage[project.String()]
	if !ok {
		return
	}
	for userKey, byDay := range byUser {
		user, err := grammar.ParseUserIdentifier(userKey)
		if err != nil {
			continue
		}
		for dayStr, seconds := range byDay {
			day, err := time.Parse(ledgerDayLayout, dayStr)
			if err != nil {
				continue
			}
			if day.Before(dates.Start) || day.After(dates.End) {
				continue
			}
			report.AddUsage(day, project, user, usage.Usage{NodeSeconds: seconds})
		}
	}
}

// projectsForPortal returns every project this ledger has usage for,
// restricted to the given portal, sorted for deterministic GetUsageReports
// fan-out order.
func (l *usageLedger) projectsForPortal(portal grammar.PortalIdentifier) []grammar.ProjectIdentifier {
	var out []grammar.ProjectIdentifier
	for key := range l.usage {
		p, err := grammar.ParseProjectIdentifier(key)
		if err != nil || p.Portal != portal.Portal {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
