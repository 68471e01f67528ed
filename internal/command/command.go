// Package command implements the wire Command sum type and the outer frame
// envelope every WebSocket text frame carries, grounded on the original's
// command.rs and health.rs.
package command

import (
	"time"

	"github.com/google/uuid"
	"github.com/openportal/mesh/internal/job"
	"github.com/openportal/mesh/internal/registry"
)

// Kind tags which variant of Command is populated.
type Kind string

const (
	KindRegister            Kind = "Register"
	KindPut                 Kind = "Put"
	KindUpdate              Kind = "Update"
	KindDelete               Kind = "Delete"
	KindSync                Kind = "Sync"
	KindHealthCheck         Kind = "HealthCheck"
	KindHealthResponse      Kind = "HealthResponse"
	KindRestart             Kind = "Restart"
	KindDiagnosticsRequest  Kind = "DiagnosticsRequest"
	KindDiagnosticsResponse Kind = "DiagnosticsResponse"
	KindError               Kind = "Error"
)

// RestartType is the flavour of restart requested (spec.md §4.6).
type RestartType string

const (
	RestartSoft RestartType = "soft"
	RestartHard RestartType = "hard"
)

// SyncState is a plain list of every job on a board, used for peer-
// initiated bulk reconciliation (board.rs's sync_state()).
type SyncState struct {
	Jobs []job.Job `json:"jobs"`
}

// Command is every on-wire command described in spec.md §4.4. Only the
// fields relevant to Kind are populated — the same tagged-union-by-struct
// shape as grammar.Instruction, but JSON-native rather than single-line
// text since commands are control-plane frames, not audit-logged grammar.
type Command struct {
	Kind Kind `json:"kind"`

	// Register
	AgentType registry.AgentType `json:"agent_type,omitempty"`
	Engine    string             `json:"engine,omitempty"`
	Version   string             `json:"version,omitempty"`

	// Put / Update / Delete
	Job *job.Job `json:"job,omitempty"`

	// Sync
	SyncState *SyncState `json:"sync_state,omitempty"`

	// HealthCheck
	Visited []string `json:"visited,omitempty"`

	// HealthResponse
	Health *HealthInfo `json:"health,omitempty"`

	// Restart
	RestartType RestartType `json:"restart_type,omitempty"`
	Destination string      `json:"destination,omitempty"`

	// DiagnosticsResponse
	Report *DiagnosticsReport `json:"report,omitempty"`

	// Error
	ErrorMessage string `json:"error_message,omitempty"`
}

func Register(t registry.AgentType, engine, version string) Command {
	return Command{Kind: KindRegister, AgentType: t, Engine: engine, Version: version}
}

func Put(j job.Job) Command    { return Command{Kind: KindPut, Job: &j} }
func Update(j job.Job) Command { return Command{Kind: KindUpdate, Job: &j} }
func Delete(j job.Job) Command { return Command{Kind: KindDelete, Job: &j} }

func Sync(jobs []job.Job) Command {
	return Command{Kind: KindSync, SyncState: &SyncState{Jobs: jobs}}
}

func HealthCheck(visited []string) Command {
	return Command{Kind: KindHealthCheck, Visited: visited}
}

func HealthResponse(h HealthInfo) Command {
	return Command{Kind: KindHealthResponse, Health: &h}
}

func Restart(t RestartType, destination string) Command {
	return Command{Kind: KindRestart, RestartType: t, Destination: destination}
}

func DiagnosticsRequest(destination string) Command {
	return Command{Kind: KindDiagnosticsRequest, Destination: destination}
}

func DiagnosticsResponse(r DiagnosticsReport) Command {
	return Command{Kind: KindDiagnosticsResponse, Report: &r}
}

func Error(msg string) Command {
	return Command{Kind: KindError, ErrorMessage: msg}
}

func (c Command) String() string {
	switch c.Kind {
	case KindPut, KindUpdate, KindDelete:
		if c.Job != nil {
			return string(c.Kind) + "{" + c.Job.ID.String() + "}"
		}
	case KindRegister:
		return string(c.Kind) + "{" + string(c.AgentType) + "}"
	}
	return string(c.Kind)
}

// HealthInfo is a single agent's health snapshot, plus a tree of its
// downstream peers' snapshots once cascaded (health.rs's HealthInfo).
type HealthInfo struct {
	Name          string                 `json:"name"`
	Type          registry.AgentType     `json:"type"`
	Connected     bool                   `json:"connected"`
	StartTime     time.Time              `json:"start_time"`
	Engine        string                 `json:"engine"`
	Version       string                 `json:"version"`
	ActiveJobs    int                    `json:"active_jobs"`
	PendingJobs   int                    `json:"pending_jobs"`
	RunningJobs   int                    `json:"running_jobs"`
	CompletedJobs int                    `json:"completed_jobs"`
	DuplicateJobs int                    `json:"duplicate_jobs"`
	System        *SystemInfo            `json:"system,omitempty"`
	Peers         map[string]*HealthInfo `json:"peers,omitempty"`
	LastUpdated   time.Time              `json:"last_updated"`
}

// NewHealthInfo builds a fresh local HealthInfo, mirroring HealthInfo::new
// in health.rs.
func NewHealthInfo(name string, t registry.AgentType, connected bool, startTime time.Time, engine, version string) HealthInfo {
	return HealthInfo{
		Name:      name,
		Type:      t,
		Connected: connected,
		StartTime: startTime,
		Engine:    engine,
		Version:   version,
		Peers:     make(map[string]*HealthInfo),
	}
}

// SystemInfo carries host load/memory, the supplemented feature grounded on
// the original's systeminfo.rs (internal/cascade/systeminfo.go populates it
// via gopsutil).
type SystemInfo struct {
	LoadAverage1  float64 `json:"load_average_1"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	MemoryTotalMB uint64  `json:"memory_total_mb"`
	CPUCount      int     `json:"cpu_count"`
}

// JobSummary is one row of a diagnostics report's job listing.
type JobSummary struct {
	ID          uuid.UUID     `json:"id"`
	State       job.State     `json:"state"`
	Destination string        `json:"destination"`
	Instruction string        `json:"instruction"`
	Age         time.Duration `json:"age"`
}

// DiagnosticsReport mirrors restart/diagnostics routing's response tree:
// richer than HealthInfo (spec.md §4.6's "Diagnostics mirrors restart
// routing but expects a DiagnosticsResponse").
type DiagnosticsReport struct {
	Name    string                         `json:"name"`
	Type    registry.AgentType             `json:"type"`
	Uptime  time.Duration                  `json:"uptime"`
	Jobs    []JobSummary                   `json:"jobs"`
	System  *SystemInfo                    `json:"system,omitempty"`
	Peers   map[string]*DiagnosticsReport `json:"peers,omitempty"`
}
