// Package usage implements the usage-report grammar and aggregation
// helpers spec.md §3 references but leaves undetailed ("GetUsageReport",
// "GetUsageReports"), grounded on the original's
// templemeads/src/usagereport.rs: a four-level rollup from per-user
// node-seconds up to a portal-wide report spanning a date range.
package usage

import (
	"fmt"
	"sort"
	"time"

	"github.com/openportal/mesh/internal/grammar"
)

// Usage is a single accounted quantity: node-seconds of compute consumed.
type Usage struct {
	NodeSeconds uint64 `json:"node_seconds"`
}

// Add returns the sum of two usages, the Go equivalent of the original's
// AddAssign/Add operator overloads.
func (u Usage) Add(other Usage) Usage {
	return Usage{NodeSeconds: u.NodeSeconds + other.NodeSeconds}
}

func (u Usage) String() string {
	return fmt.Sprintf("%.4g node-hours", float64(u.NodeSeconds)/3600.0)
}

// UserUsageReport is one user's usage within a single project/day.
type UserUsageReport struct {
	Usage Usage `json:"usage"`
}

func (r UserUsageReport) TotalUsage() Usage { return r.Usage }

func (r UserUsageReport) String() string { return r.Usage.String() }

// ProjectUsageReport aggregates usage across every user of one project for
// a single day.
type ProjectUsageReport struct {
	Users map[string]UserUsageReport `json:"users"` // keyed by UserIdentifier.String()
}

// NewProjectUsageReport returns an empty report ready to accumulate into.
func NewProjectUsageReport() ProjectUsageReport {
	return ProjectUsageReport{Users: make(map[string]UserUsageReport)}
}

// Usage looks up one user's report, defaulting to zero if absent.
func (r ProjectUsageReport) Usage(user grammar.UserIdentifier) UserUsageReport {
	return r.Users[user.String()]
}

// AddUsage folds u into user's running total.
func (r ProjectUsageReport) AddUsage(user grammar.UserIdentifier, u Usage) {
	existing := r.Users[user.String()]
	existing.Usage = existing.Usage.Add(u)
	r.Users[user.String()] = existing
}

// UserIdentifiers returns every user with usage in this project, sorted for
// deterministic reports.
func (r ProjectUsageReport) UserIdentifiers() []string {
	out := make([]string, 0, len(r.Users))
	for k := range r.Users {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r ProjectUsageReport) TotalUsage() Usage {
	var total Usage
	for _, u := range r.Users {
		total = total.Add(u.TotalUsage())
	}
	return total
}

func (r ProjectUsageReport) String() string {
	s := ""
	for _, name := range r.UserIdentifiers() {
		s += fmt.Sprintf("%s: %s\n", name, r.Users[name])
	}
	s += fmt.Sprintf("Total: %s\n", r.TotalUsage())
	return s
}

// DailyUsageReport aggregates usage across every project on one calendar
// day.
type DailyUsageReport struct {
	Projects map[string]ProjectUsageReport `json:"projects"` // keyed by ProjectIdentifier.String()
}

func NewDailyUsageReport() DailyUsageReport {
	return DailyUsageReport{Projects: make(map[string]ProjectUsageReport)}
}

func (r DailyUsageReport) Usage(project grammar.ProjectIdentifier) ProjectUsageReport {
	p, ok := r.Projects[project.String()]
	if !ok {
		return NewProjectUsageReport()
	}
	return p
}

// AddUsage folds u into (project, user)'s running total for this day.
func (r DailyUsageReport) AddUsage(project grammar.ProjectIdentifier, user grammar.UserIdentifier, u Usage) {
	p, ok := r.Projects[project.String()]
	if !ok {
		p = NewProjectUsageReport()
		r.Projects[project.String()] = p
	}
	p.AddUsage(user, u)
}

func (r DailyUsageReport) ProjectIdentifiers() []string {
	out := make([]string, 0, len(r.Projects))
	for k := range r.Projects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r DailyUsageReport) TotalUsage() Usage {
	var total Usage
	for _, p := range r.Projects {
		total = total.Add(p.TotalUsage())
	}
	return total
}

func (r DailyUsageReport) String() string {
	s := ""
	for _, name := range r.ProjectIdentifiers() {
		s += fmt.Sprintf("%s\n%s", name, r.Projects[name])
	}
	s += fmt.Sprintf("Daily total: %s\n", r.TotalUsage())
	return s
}

const dayLayout = "2006-01-02"

// UsageReport is the top-level report a GetUsageReport/GetUsageReports
// instruction resolves to: a portal's usage across a date range, indexed
// by calendar day.
type UsageReport struct {
	Portal       grammar.PortalIdentifier    `json:"portal"`
	DateRange    grammar.DateRange           `json:"date_range"`
	DailyReports map[string]DailyUsageReport `json:"daily_reports"` // keyed by "2006-01-02"
}

// NewUsageReport returns an empty report spanning dateRange, ready to
// accumulate into.
func NewUsageReport(portal grammar.PortalIdentifier, dateRange grammar.DateRange) UsageReport {
	return UsageReport{Portal: portal, DateRange: dateRange, DailyReports: make(map[string]DailyUsageReport)}
}

// Usage returns the daily report for one date, defaulting to empty.
func (r UsageReport) Usage(date time.Time) DailyUsageReport {
	d, ok := r.DailyReports[date.Format(dayLayout)]
	if !ok {
		return NewDailyUsageReport()
	}
	return d
}

// AddUsage folds u into (date, project, user)'s running total.
func (r UsageReport) AddUsage(date time.Time, project grammar.ProjectIdentifier, user grammar.UserIdentifier, u Usage) {
	key := date.Format(dayLayout)
	d, ok := r.DailyReports[key]
	if !ok {
		d = NewDailyUsageReport()
		r.DailyReports[key] = d
	}
	d.AddUsage(project, user, u)
}

func (r UsageReport) TotalUsage() Usage {
	var total Usage
	for _, d := range r.DailyReports {
		total = total.Add(d.TotalUsage())
	}
	return total
}

// Merge folds other's per-day totals into r, combining reports for several
// projects/portals spanning the same date range into one. The scheduler
// leaf's GetUsageReports does not call it; it fills a single report
// directly.
func (r UsageReport) Merge(other UsageReport) {
	for date, otherDaily := range other.DailyReports {
		for projectKey, otherProject := range otherDaily.Projects {
			for userKey, otherUser := range otherProject.Users {
				daily, ok := r.DailyReports[date]
				if !ok {
					daily = NewDailyUsageReport()
					r.DailyReports[date] = daily
				}
				proj, ok := daily.Projects[projectKey]
				if !ok {
					proj = NewProjectUsageReport()
					daily.Projects[projectKey] = proj
				}
				existing := proj.Users[userKey]
				existing.Usage = existing.Usage.Add(otherUser.Usage)
				proj.Users[userKey] = existing
			}
		}
	}
}
